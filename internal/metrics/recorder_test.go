package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/dispatcher/mocks"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic common.Channel
	event interface{}
}

func saleFeedPayload(eventType string, n int) map[string]any {
	sales := make([]any, n)
	for i := range sales {
		sales[i] = map[string]any{
			"id":             int64(i + 1),
			"marketHashName": "AK-47 | Redline (Field-Tested)",
			"salePrice":      int64(1234),
		}
	}
	return map[string]any{"eventType": eventType, "sales": sales}
}

func TestRecordMetrics(t *testing.T) {
	tests := []struct {
		name   string
		events []published
		check  func(t *testing.T, r *MetricsRecorder)
	}{
		{
			name: "sale feed events are counted per channel and event type",
			events: []published{
				{common.ChannelSaleFeed, events.FeedEvent{Channel: common.ChannelSaleFeed, Payload: saleFeedPayload("listed", 2), ReceivedAt: time.Now()}},
				{common.ChannelSaleFeed, events.FeedEvent{Channel: common.ChannelSaleFeed, Payload: saleFeedPayload("sold", 1), ReceivedAt: time.Now()}},
				{common.ChannelMaintenanceUpdated, events.FeedEvent{Channel: common.ChannelMaintenanceUpdated, Payload: map[string]any{"status": false}}},
			},
			check: func(t *testing.T, r *MetricsRecorder) {
				assert.Equal(t, 2.0, testutil.ToFloat64(r.feedMetrics.eventsReceived.WithLabelValues("saleFeed")))
				assert.Equal(t, 1.0, testutil.ToFloat64(r.feedMetrics.eventsReceived.WithLabelValues("maintenanceUpdated")))
				assert.Equal(t, 2.0, testutil.ToFloat64(r.feedMetrics.salesReceived.WithLabelValues("listed")))
				assert.Equal(t, 1.0, testutil.ToFloat64(r.feedMetrics.salesReceived.WithLabelValues("sold")))
				assert.Equal(t, 0.0, testutil.ToFloat64(r.feedMetrics.decodeErrors))
			},
		},
		{
			name: "undecodable sale feed increments decode errors",
			events: []published{
				{common.ChannelSaleFeed, events.FeedEvent{Channel: common.ChannelSaleFeed, Payload: "not a map"}},
			},
			check: func(t *testing.T, r *MetricsRecorder) {
				assert.Equal(t, 1.0, testutil.ToFloat64(r.feedMetrics.eventsReceived.WithLabelValues("saleFeed")))
				assert.Equal(t, 1.0, testutil.ToFloat64(r.feedMetrics.decodeErrors))
			},
		},
		{
			name: "handler failures are split by kind",
			events: []published{
				{common.TopicHandlerErr, events.HandlerFailure{Channel: common.ChannelSaleFeed, Err: errors.New("boom")}},
				{common.TopicHandlerErr, events.HandlerFailure{Channel: common.ChannelSaleFeed, Err: errors.New("panic"), Panic: true}},
				{common.TopicHandlerErr, events.HandlerFailure{Channel: common.ChannelSaleFeed, Err: errors.New("boom")}},
			},
			check: func(t *testing.T, r *MetricsRecorder) {
				assert.Equal(t, 2.0, testutil.ToFloat64(r.feedMetrics.handlerFailures.WithLabelValues("saleFeed", "error")))
				assert.Equal(t, 1.0, testutil.ToFloat64(r.feedMetrics.handlerFailures.WithLabelValues("saleFeed", "panic")))
			},
		},
		{
			name: "connection transitions track state, epoch and reconnects",
			events: []published{
				{common.TopicConnection, events.ConnectionEvent{From: "idle", To: "connecting"}},
				{common.TopicConnection, events.ConnectionEvent{From: "connecting", To: "joining", Epoch: 1}},
				{common.TopicConnection, events.ConnectionEvent{From: "joining", To: "live", Epoch: 1}},
				{common.TopicConnection, events.ConnectionEvent{From: "live", To: "connecting", Epoch: 1}},
				{common.TopicConnection, events.ConnectionEvent{From: "connecting", To: "joining", Epoch: 2}},
			},
			check: func(t *testing.T, r *MetricsRecorder) {
				assert.Equal(t, 1.0, testutil.ToFloat64(r.connMetrics.reconnects))
				assert.Equal(t, 2.0, testutil.ToFloat64(r.connMetrics.epoch))
				assert.Equal(t, 2.0, testutil.ToFloat64(r.connMetrics.transitions.WithLabelValues("connecting")))
				assert.Equal(t, 1.0, testutil.ToFloat64(r.connMetrics.state.WithLabelValues("joining")))
				assert.Equal(t, 0.0, testutil.ToFloat64(r.connMetrics.state.WithLabelValues("live")))
				assert.Equal(t, 0.0, testutil.ToFloat64(r.connMetrics.state.WithLabelValues("idle")))
			},
		},
		{
			name: "rest requests and breaker transitions",
			events: []published{
				{common.TopicREST, events.RequestEvent{Route: "/v1/items", Status: 200, Duration: 20 * time.Millisecond}},
				{common.TopicREST, events.RequestEvent{Route: "/v1/items", Status: 503, Duration: 5 * time.Millisecond, Err: errors.New("unavailable")}},
				{common.TopicREST, events.RequestEvent{Route: "/v1/sales/history", Err: errors.New("dial tcp: refused")}},
				{common.TopicBreaker, events.BreakerEvent{From: "closed", To: "open"}},
			},
			check: func(t *testing.T, r *MetricsRecorder) {
				assert.Equal(t, 1.0, testutil.ToFloat64(r.restMetrics.requests.WithLabelValues("/v1/items", "200")))
				assert.Equal(t, 1.0, testutil.ToFloat64(r.restMetrics.requests.WithLabelValues("/v1/items", "503")))
				assert.Equal(t, 1.0, testutil.ToFloat64(r.restMetrics.requests.WithLabelValues("/v1/sales/history", "error")))
				assert.Equal(t, 1.0, testutil.ToFloat64(r.restMetrics.errors.WithLabelValues("/v1/items")))
				assert.Equal(t, 2.0, testutil.ToFloat64(r.restMetrics.breaker))
				assert.Equal(t, 1.0, testutil.ToFloat64(r.restMetrics.trips.WithLabelValues("open")))
			},
		},
		{
			name: "unexpected event types are ignored",
			events: []published{
				{common.ChannelSaleFeed, []byte("raw")},
				{common.TopicREST, 42},
			},
			check: func(t *testing.T, r *MetricsRecorder) {
				assert.Equal(t, 0.0, testutil.ToFloat64(r.feedMetrics.eventsReceived.WithLabelValues("saleFeed")))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockBus := mocks.NewMockBus(ctrl)
			registry := prometheus.NewRegistry()
			recorder := NewMetricsRecorder(mockBus, registry, WithSummaryInterval(0))

			channels := make(map[common.Channel]chan interface{})
			for _, topic := range recorder.topics() {
				ch := make(chan interface{}, 10)
				recv := (<-chan interface{})(ch)
				channels[topic] = ch
				mockBus.EXPECT().Subscribe(topic).Return(recv)
				mockBus.EXPECT().Unsubscribe(topic, recv).Times(1)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			require.NoError(t, recorder.Start(ctx))

			for _, p := range tt.events {
				channels[p.topic] <- p.event
			}

			// Every subscription buffer drained means every event was recorded.
			assert.Eventually(t, func() bool {
				for _, ch := range channels {
					if len(ch) > 0 {
						return false
					}
				}
				return true
			}, 2*time.Second, 10*time.Millisecond)
			time.Sleep(50 * time.Millisecond)

			cancel()
			select {
			case <-recorder.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("recorder did not stop")
			}

			tt.check(t, recorder)
		})
	}
}

func TestRecorderWithEventBus(t *testing.T) {
	bus := events.NewEventBus()
	registry := prometheus.NewRegistry()
	recorder := NewMetricsRecorder(bus, registry, WithSummaryInterval(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, recorder.Start(ctx))

	require.Eventually(t, func() bool {
		return bus.TopicSubscriberCount(common.TopicConnection) == 1
	}, time.Second, 10*time.Millisecond)

	bus.Publish(common.TopicConnection, events.ConnectionEvent{From: "idle", To: "connecting"})
	bus.Publish(common.ChannelSteamStatusUpdated, events.FeedEvent{Channel: common.ChannelSteamStatusUpdated, Payload: "normal"})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(recorder.connMetrics.state.WithLabelValues("connecting")) == 1 &&
			testutil.ToFloat64(recorder.feedMetrics.eventsReceived.WithLabelValues("steamStatusUpdated")) == 1
	}, time.Second, 10*time.Millisecond)

	count, err := testutil.GatherAndCount(registry, "skinport_connection_state")
	require.NoError(t, err)
	assert.Equal(t, len(connectionStates), count)

	cancel()
	<-recorder.Done()
	assert.Equal(t, 0, bus.TopicSubscriberCount(common.TopicConnection))
}

func TestRecorderStopsOnBusShutdown(t *testing.T) {
	bus := events.NewEventBus()
	recorder := NewMetricsRecorder(bus, prometheus.NewRegistry(), WithSummaryInterval(0))
	require.NoError(t, recorder.Start(context.Background()))

	require.Eventually(t, func() bool {
		return bus.TopicSubscriberCount(common.TopicBreaker) == 1
	}, time.Second, 10*time.Millisecond)
	bus.Shutdown()

	select {
	case <-recorder.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop after bus shutdown")
	}
}
