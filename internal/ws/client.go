package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/alejoacosta74/skinport-go/internal/ws"

var (
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("ws: client closed")
	// ErrConnectRejected means the server answered CONNECT with CONNECT_ERROR.
	ErrConnectRejected = errors.New("ws: connect rejected by server")

	errConnectTimeout = errors.New("ws: connect timeout")
)

// Dispatcher receives the events of one connection.
type Dispatcher interface {
	Dispatch(channel string, payload any)
	// Errors reports handler failures that should end the session.
	Errors() <-chan error
	// Stop unblocks a Dispatch call waiting on a full handler queue.
	Stop()
	Close(ctx context.Context) error
}

// JoinParams selects one sale feed. They are sent as the saleFeedJoin payload.
type JoinParams struct {
	AppID    int
	Currency string
	Locale   string
}

// DefaultJoinParams is the CS2 feed priced in EUR with English texts.
func DefaultJoinParams() JoinParams {
	return JoinParams{AppID: 730, Currency: "EUR", Locale: "en"}
}

// Payload returns the wire form {currency, locale, appid}.
func (p JoinParams) Payload() map[string]any {
	return map[string]any{
		"currency": p.Currency,
		"locale":   p.Locale,
		"appid":    p.AppID,
	}
}

// Client maintains one logical Socket.IO connection to the feed endpoint.
// At most one session exists at a time; Connect blocks for the lifetime of
// the link and reconnects after drops according to the Backoff policy.
type Client struct {
	url            string
	header         http.Header
	dialer         *websocket.Dialer
	connectTimeout time.Duration
	joinTimeout    time.Duration
	writeTimeout   time.Duration
	drainTimeout   time.Duration
	backoff        Backoff
	bind           func() Dispatcher
	eventBus       events.Bus
	tracer         trace.Tracer
	logger         *logrus.Entry

	mu        sync.Mutex
	state     State
	epoch     uint64
	sessionID string
	closing   bool
	run       *runHandle
}

// Option defines a function type for configuring the Client.
type Option func(*Client)

// WithURL overrides the feed endpoint.
func WithURL(url string) Option {
	return func(c *Client) {
		c.url = url
	}
}

// WithHeader adds headers to the upgrade request.
func WithHeader(h http.Header) Option {
	return func(c *Client) {
		for k, v := range h {
			c.header[k] = v
		}
	}
}

// WithTLSConfig replaces the pinned TLS 1.3 configuration.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.dialer.TLSClientConfig = cfg
	}
}

// WithConnectTimeout bounds dial, Engine.IO open and Socket.IO CONNECT.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
			c.dialer.HandshakeTimeout = d
		}
	}
}

// WithJoinTimeout bounds how long the client waits for join acknowledgements
// before it considers the feed live anyway.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.joinTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithDrainTimeout bounds how long a closing session waits for handlers.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.drainTimeout = d
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(c *Client) {
		c.backoff = b
	}
}

// WithBinder sets the function called before every handshake to obtain the
// dispatcher for the new session.
func WithBinder(bind func() Dispatcher) Option {
	return func(c *Client) {
		if bind != nil {
			c.bind = bind
		}
	}
}

// WithEventBus publishes state transitions on common.TopicConnection.
func WithEventBus(bus events.Bus) Option {
	return func(c *Client) {
		c.eventBus = bus
	}
}

// NewClient creates a client. It does not connect.
func NewClient(opts ...Option) *Client {
	c := &Client{
		url:    DefaultURL,
		header: http.Header{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS13,
				MaxVersion: tls.VersionTLS13,
			},
		},
		connectTimeout: 10 * time.Second,
		joinTimeout:    10 * time.Second,
		writeTimeout:   10 * time.Second,
		drainTimeout:   5 * time.Second,
		backoff:        DefaultBackoff(),
		bind:           func() Dispatcher { return nopDispatcher{} },
		tracer:         otel.Tracer(tracerName),
		logger:         logrus.WithField("component", "ws_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch counts the sessions that completed the Socket.IO handshake.
func (c *Client) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Connect opens the connection and joins one sale feed per JoinParams (the
// default feed when none are given). It blocks until the link ends: ctx is
// cancelled, Close is called, the first handshake times out, or reconnect
// attempts are exhausted. None of these are errors.
//
// Calling Connect while another call is still connecting is a no-op. Calling
// it while live tears the current session down first and makes the earlier
// Connect call return.
func (c *Client) Connect(ctx context.Context, joins ...JoinParams) error {
	if len(joins) == 0 {
		joins = []JoinParams{DefaultJoinParams()}
	}

	c.mu.Lock()
	if c.closing || c.state == Closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case Connecting, Joining:
		c.mu.Unlock()
		c.logger.Debug("Already connecting, ignoring connect request")
		return nil
	case Live:
		prev := c.run
		c.mu.Unlock()
		c.logger.Debug("Connect requested while live, tearing down current session")
		prev.stop()

		c.mu.Lock()
		if c.closing || c.state == Closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if c.state != Idle {
			c.mu.Unlock()
			c.logger.Debug("Already connecting, ignoring connect request")
			return nil
		}
	}

	run := newRunHandle(ctx)
	c.run = run
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	defer c.finish(run)
	return c.loop(run.ctx, joins)
}

// Close tears down the current session and makes the client unusable. It is
// a no-op when idle or already closed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Idle || c.state == Closed || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	run := c.run
	c.mu.Unlock()

	c.logger.Debug("Closing client")
	if run != nil {
		run.stop()
	}

	c.mu.Lock()
	if c.state != Closed {
		c.setStateLocked(Closed)
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) finish(run *runHandle) {
	run.cancel()
	c.mu.Lock()
	if c.run == run {
		c.run = nil
		if c.closing {
			c.setStateLocked(Closed)
		} else if c.state != Closed {
			c.setStateLocked(Idle)
		}
	}
	c.mu.Unlock()
	close(run.done)
}

// loop runs sessions until the run ends. Only a timeout of the very first
// handshake ends it without retrying.
func (c *Client) loop(ctx context.Context, joins []JoinParams) error {
	attempt := 0
	first := true

	for {
		established, err := c.runSession(ctx, joins)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			attempt = 0
		}

		if first && !established && errors.Is(err, errConnectTimeout) {
			c.logger.WithField("url", c.url).Warn("Connect timed out")
			return nil
		}
		first = false

		delay, ok := c.backoff.Next(attempt)
		if !ok {
			c.logger.WithError(err).WithField("attempts", attempt).Warn("Reconnect attempts exhausted, giving up")
			return nil
		}
		attempt++

		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("Connection lost, reconnecting")

		c.setState(Connecting)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runSession binds a fresh dispatcher, runs one session and drains the
// dispatcher once the session is over.
func (c *Client) runSession(ctx context.Context, joins []JoinParams) (bool, error) {
	c.setState(Connecting)
	d := c.bind()
	stopDispatch := context.AfterFunc(ctx, d.Stop)
	defer stopDispatch()

	s := newSession(c, d, joins)
	established, err := s.run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), c.drainTimeout)
	defer cancel()
	if derr := d.Close(drainCtx); derr != nil {
		c.logger.WithError(derr).Warn("Handlers did not drain in time")
	}
	return established, err
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(s)
}

// setStateLocked records a transition. A closing client only moves to Closed.
func (c *Client) setStateLocked(s State) {
	if c.state == s || c.state == Closed {
		return
	}
	if c.closing && s != Closed {
		return
	}
	from := c.state
	c.state = s
	c.logger.WithFields(logrus.Fields{"from": from, "to": s, "epoch": c.epoch}).Debug("State transition")

	if c.eventBus != nil {
		c.eventBus.Publish(common.TopicConnection, events.ConnectionEvent{
			From:      from.String(),
			To:        s.String(),
			Epoch:     c.epoch,
			SessionID: c.sessionID,
			At:        time.Now(),
		})
	}
}

// established moves a session that finished the Socket.IO handshake to
// Joining and opens a new epoch.
func (c *Client) established(sessionID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.sessionID = sessionID
	c.setStateLocked(Joining)
	return c.epoch
}

// markLive moves Joining to Live and reports whether it did.
func (c *Client) markLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Joining {
		return false
	}
	c.setStateLocked(Live)
	return true
}

type runHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newRunHandle(parent context.Context) *runHandle {
	ctx, cancel := context.WithCancel(parent)
	return &runHandle{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// stop cancels the run and waits for its Connect call to return.
func (r *runHandle) stop() {
	r.cancel()
	<-r.done
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(string, any)        {}
func (nopDispatcher) Errors() <-chan error        { return nil }
func (nopDispatcher) Stop()                       {}
func (nopDispatcher) Close(context.Context) error { return nil }
