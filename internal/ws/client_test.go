package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/dispatcher"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/alejoacosta74/skinport-go/internal/ws/mocks"
	"github.com/alejoacosta74/skinport-go/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

func fastBackoff() Backoff {
	return Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}
}

func newTestClient(server *mocks.MockSocketIOServer, opts ...Option) *Client {
	base := []Option{
		WithURL(server.URL()),
		WithConnectTimeout(2 * time.Second),
		WithJoinTimeout(2 * time.Second),
		WithBackoff(fastBackoff()),
	}
	return NewClient(append(base, opts...)...)
}

// startClient runs Connect in the background and returns a channel carrying
// its result.
func startClient(ctx context.Context, c *Client, joins ...JoinParams) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Connect(ctx, joins...)
	}()
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		t.Fatal("Connect did not return")
	}
	return nil
}

func waitState(t *testing.T, c *Client, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == s }, waitFor, tick, "state %s never reached, have %s", s, c.State())
}

func TestClient_ConnectJoinsDefaultFeed(t *testing.T) {
	server := mocks.NewMockSocketIOServer()
	defer server.Close()

	c := newTestClient(server)
	done := startClient(context.Background(), c)
	waitState(t, c, Live)

	assert.Equal(t, uint64(1), c.Epoch())
	require.Len(t, server.Joins(), 1)
	assert.Equal(t, map[string]any{"currency": "EUR", "locale": "en", "appid": int64(730)}, server.Joins()[0])

	require.NoError(t, c.Close())
	require.NoError(t, waitResult(t, done))
	assert.Equal(t, Closed, c.State())
}

func TestClient_MultipleJoins(t *testing.T) {
	server := mocks.NewMockSocketIOServer()
	defer server.Close()

	joins := []JoinParams{
		{AppID: 440, Currency: "EUR", Locale: "en"},
		{AppID: 730, Currency: "USD", Locale: "en"},
		{AppID: 730, Currency: "CNY", Locale: "zh"},
	}

	c := newTestClient(server)
	done := startClient(context.Background(), c, joins...)
	waitState(t, c, Live)

	got := server.Joins()
	require.Len(t, got, len(joins))
	for i, j := range joins {
		assert.Equal(t, map[string]any{"currency": j.Currency, "locale": j.Locale, "appid": int64(j.AppID)}, got[i])
	}

	events := server.PacketsOfType(packet.Event)
	require.Len(t, events, len(joins))
	for i, p := range events {
		require.NotNil(t, p.ID)
		assert.Equal(t, uint64(i), *p.ID)
	}

	require.NoError(t, c.Close())
	require.NoError(t, waitResult(t, done))
}

func TestClient_DispatchesEvents(t *testing.T) {
	tests := []struct {
		name     string
		args     []any
		expected any
	}{
		{name: "single argument", args: []any{map[string]any{"eventType": "listed", "sales": []any{}}}, expected: map[string]any{"eventType": "listed", "sales": []any{}}},
		{name: "no argument", args: nil, expected: nil},
		{name: "several arguments", args: []any{"a", int64(2)}, expected: []any{"a", int64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mocks.NewMockSocketIOServer()
			defer server.Close()

			received := make(chan any, 1)
			reg := dispatcher.NewRegistry()
			_, err := reg.Register("saleFeed", func(_ context.Context, payload any) error {
				received <- payload
				return nil
			})
			require.NoError(t, err)

			c := newTestClient(server, WithBinder(func() Dispatcher { return reg.Bind() }))
			done := startClient(context.Background(), c)
			waitState(t, c, Live)

			require.NoError(t, server.Emit("saleFeed", tt.args...))
			select {
			case payload := <-received:
				assert.Equal(t, tt.expected, payload)
			case <-time.After(waitFor):
				t.Fatal("handler not called")
			}

			require.NoError(t, c.Close())
			require.NoError(t, waitResult(t, done))
		})
	}
}

func TestClient_LiveOnFirstEvent(t *testing.T) {
	server := mocks.NewMockSocketIOServer(mocks.WithoutJoinAck())
	defer server.Close()
	server.QueueAfterJoin(packet.NewEvent("saleFeed", map[string]any{"eventType": "sold"}))

	received := make(chan any, 1)
	reg := dispatcher.NewRegistry()
	_, err := reg.Register("saleFeed", func(_ context.Context, payload any) error {
		received <- payload
		return nil
	})
	require.NoError(t, err)

	c := newTestClient(server, WithJoinTimeout(time.Minute), WithBinder(func() Dispatcher { return reg.Bind() }))
	done := startClient(context.Background(), c)
	waitState(t, c, Live)

	select {
	case payload := <-received:
		assert.Equal(t, map[string]any{"eventType": "sold"}, payload)
	case <-time.After(waitFor):
		t.Fatal("handler not called")
	}

	require.NoError(t, c.Close())
	require.NoError(t, waitResult(t, done))
}

func TestClient_LiveOnJoinTimeout(t *testing.T) {
	server := mocks.NewMockSocketIOServer(mocks.WithoutJoinAck())
	defer server.Close()

	c := newTestClient(server, WithJoinTimeout(100*time.Millisecond))
	done := startClient(context.Background(), c)

	waitState(t, c, Joining)
	waitState(t, c, Live)

	require.NoError(t, c.Close())
	require.NoError(t, waitResult(t, done))
}

func TestClient_AcknowledgesServerEvents(t *testing.T) {
	server := mocks.NewMockSocketIOServer()
	defer server.Close()

	c := newTestClient(server)
	done := startClient(context.Background(), c)
	waitState(t, c, Live)

	require.NoError(t, server.EmitWithID(7, "maintenanceUpdated", map[string]any{"active": true}))
	require.Eventually(t, func() bool { return len(server.PacketsOfType(packet.Ack)) == 1 }, waitFor, tick)

	ack := server.PacketsOfType(packet.Ack)[0]
	require.NotNil(t, ack.ID)
	assert.Equal(t, uint64(7), *ack.ID)
	assert.Equal(t, "/", ack.Namespace)
	assert.Equal(t, []any{}, ack.Data)

	require.NoError(t, c.Close())
	require.NoError(t, waitResult(t, done))
}

func TestClient_AnswersPing(t *testing.T) {
	server := mocks.NewMockSocketIOServer()
	defer server.Close()

	c := newTestClient(server)
	done := startClient(context.Background(), c)
	waitState(t, c, Live)

	require.NoError(t, server.SendPing())
	require.NoError(t, server.SendPing())
	require.Eventually(t, func() bool { return server.Pongs() == 2 }, waitFor, tick)

	require.NoError(t, c.Close())
	require.NoError(t, waitResult(t, done))
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	server := mocks.NewMockSocketIOServer()
	defer server.Close()

	bus := events.NewEventBus()
	defer bus.Shutdown()
	transitions := bus.Subscribe(common.TopicConnection)

	c := newTestClient(server, WithEventBus(bus))
	done := startClient(context.Background(), c)
	waitState(t, c, Live)
	require.Equal(t, uint64(1), c.Epoch())

	server.DropConnections()

	require.Eventually(t, func() bool { return c.Epoch() == 2 && c.State() == Live }, waitFor, tick)
	assert.Equal(t, 2, server.Accepted())
	assert.Len(t, server.Joins(), 2)

	require.NoError(t, c.Close())
	require.NoError(t, waitResult(t, done))

	var seen []string
	for {
		select {
		case ev := <-transitions:
			seen = append(seen, ev.(events.ConnectionEvent).To)
			continue
		default:
		}
		break
	}
	assert.Equal(t, []string{"connecting", "joining", "live", "connecting", "joining", "live", "closed"}, seen)
}

func TestClient_ReconnectAttemptsExhausted(t *testing.T) {
	server := mocks.NewMockSocketIOServer(mocks.WithConnectMode(mocks.ConnectReject))
	defer server.Close()

	b := fastBackoff()
	b.MaxAttempts = 2
	c := newTestClient(server, WithBackoff(b))

	err := waitResult(t, startClient(context.Background(), c))
	require.NoError(t, err)
	assert.Equal(t, 3, server.Connections())
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, uint64(0), c.Epoch())
}

func TestClient_ConnectTimeout(t *testing.T) {
	server := mocks.NewMockSocketIOServer(mocks.WithConnectMode(mocks.ConnectIgnore))
	defer server.Close()

	c := newTestClient(server, WithConnectTimeout(150*time.Millisecond))

	start := time.Now()
	err := waitResult(t, startClient(context.Background(), c))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, server.Connections())
}

func TestClient_DuplicateConnectIgnored(t *testing.T) {
	server := mocks.NewMockSocketIOServer(mocks.WithConnectMode(mocks.ConnectIgnore))
	defer server.Close()

	c := newTestClient(server, WithConnectTimeout(time.Minute))
	done := startClient(context.Background(), c)
	waitState(t, c, Connecting)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return server.Connections() == 1 }, waitFor, tick)

	require.NoError(t, c.Close())
	require.NoError(t, waitResult(t, done))
	assert.Equal(t, 1, server.Connections())
}

func TestClient_ConnectWhileLiveRestarts(t *testing.T) {
	server := mocks.NewMockSocketIOServer()
	defer server.Close()

	c := newTestClient(server)
	first := startClient(context.Background(), c)
	waitState(t, c, Live)

	second := startClient(context.Background(), c)
	require.NoError(t, waitResult(t, first))

	require.Eventually(t, func() bool { return c.Epoch() == 2 && c.State() == Live }, waitFor, tick)
	assert.Equal(t, 2, server.Connections())

	require.NoError(t, c.Close())
	require.NoError(t, waitResult(t, second))
}

func TestClient_Close(t *testing.T) {
	t.Run("idle client", func(t *testing.T) {
		c := NewClient()
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		assert.Equal(t, Idle, c.State())
	})

	t.Run("idempotent while live", func(t *testing.T) {
		server := mocks.NewMockSocketIOServer()
		defer server.Close()

		c := newTestClient(server)
		done := startClient(context.Background(), c)
		waitState(t, c, Live)

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, c.Close())
			}()
		}
		wg.Wait()

		require.NoError(t, waitResult(t, done))
		assert.Equal(t, Closed, c.State())
		require.Eventually(t, func() bool { return len(server.PacketsOfType(packet.Disconnect)) == 1 }, waitFor, tick)
	})

	t.Run("connect after close", func(t *testing.T) {
		server := mocks.NewMockSocketIOServer()
		defer server.Close()

		c := newTestClient(server)
		done := startClient(context.Background(), c)
		waitState(t, c, Live)
		require.NoError(t, c.Close())
		require.NoError(t, waitResult(t, done))

		err := c.Connect(context.Background())
		assert.True(t, errors.Is(err, ErrClosed))
	})
}

func TestClient_ContextCancel(t *testing.T) {
	server := mocks.NewMockSocketIOServer()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(server)
	done := startClient(ctx, c)
	waitState(t, c, Live)

	cancel()
	require.NoError(t, waitResult(t, done))
	assert.Equal(t, Idle, c.State())
	require.Eventually(t, func() bool { return len(server.PacketsOfType(packet.Disconnect)) == 1 }, waitFor, tick)

	// An idle client can connect again.
	again := startClient(context.Background(), c)
	waitState(t, c, Live)
	assert.Equal(t, uint64(2), c.Epoch())
	require.NoError(t, c.Close())
	require.NoError(t, waitResult(t, again))
}

func TestClient_CloseWithBlockedHandler(t *testing.T) {
	server := mocks.NewMockSocketIOServer()
	defer server.Close()

	started := make(chan struct{}, 1)
	reg := dispatcher.NewRegistry(dispatcher.WithQueueSize(1))
	_, err := reg.Register("saleFeed", func(ctx context.Context, _ any) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	c := newTestClient(server,
		WithBinder(func() Dispatcher { return reg.Bind() }),
		WithDrainTimeout(100*time.Millisecond),
	)
	done := startClient(context.Background(), c)
	waitState(t, c, Live)

	// One event is held by the handler, one fills the queue and the rest
	// leave the session loop waiting in Dispatch.
	for i := 0; i < 5; i++ {
		require.NoError(t, server.Emit("saleFeed", map[string]any{"n": i}))
	}
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("handler not called")
	}
	time.Sleep(100 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatalf("Close did not return, state %s", c.State())
	}
	require.NoError(t, waitResult(t, done))
	assert.Equal(t, Closed, c.State())
}

func TestSession_ConnectErr(t *testing.T) {
	s := &session{client: &Client{connectTimeout: time.Second}}
	plain := errors.New("unexpected EOF")

	tests := []struct {
		name        string
		err         error
		wantTimeout bool
	}{
		{name: "read deadline", err: fmt.Errorf("read: %w", os.ErrDeadlineExceeded), wantTimeout: true},
		{name: "net timeout", err: &net.OpError{Op: "read", Net: "tcp", Err: timeoutErr{}}, wantTimeout: true},
		{name: "other error", err: plain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.connectErr(context.Background(), context.Background(), tt.err)
			assert.Equal(t, tt.wantTimeout, errors.Is(err, errConnectTimeout), "got %v", err)
		})
	}

	expired, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-expired.Done()
	assert.ErrorIs(t, s.connectErr(context.Background(), expired, plain), errConnectTimeout)

	parent, cancelParent := context.WithCancel(context.Background())
	cancelParent()
	assert.ErrorIs(t, s.connectErr(parent, expired, plain), context.Canceled)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestEventPayload(t *testing.T) {
	tests := []struct {
		name     string
		args     []any
		expected any
	}{
		{name: "none", args: []any{}, expected: nil},
		{name: "one", args: []any{"x"}, expected: "x"},
		{name: "many", args: []any{"x", "y"}, expected: []any{"x", "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, eventPayload(tt.args))
		})
	}
}

func TestJoinParams_Payload(t *testing.T) {
	p := JoinParams{AppID: 252490, Currency: "USD", Locale: "de"}
	assert.Equal(t, map[string]any{"currency": "USD", "locale": "de", "appid": 252490}, p.Payload())
	assert.Equal(t, JoinParams{AppID: 730, Currency: "EUR", Locale: "en"}, DefaultJoinParams())
}
