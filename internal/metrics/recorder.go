// Package metrics exposes the activity of the feed client as Prometheus
// metrics. The recorder learns everything it counts from the event bus, so it
// never sits on the hot path of the websocket session.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/alejoacosta74/skinport-go/pkg/skinport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
)

const namespace = "skinport"

var connectionStates = []string{"idle", "connecting", "joining", "live", "closed"}

// breakerLevel maps breaker states onto the value of the breaker gauge.
var breakerLevel = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// MetricsRecorder handles the collection and recording of metrics
type MetricsRecorder struct {
	feedMetrics struct {
		eventsReceived  *prometheus.CounterVec
		salesReceived   *prometheus.CounterVec
		deliveryLatency prometheus.Histogram
		decodeErrors    prometheus.Counter
		handlerFailures *prometheus.CounterVec
	}
	connMetrics struct {
		state       *prometheus.GaugeVec
		transitions *prometheus.CounterVec
		reconnects  prometheus.Counter
		epoch       prometheus.Gauge
	}
	restMetrics struct {
		requests *prometheus.CounterVec
		latency  *prometheus.HistogramVec
		errors   *prometheus.CounterVec
		breaker  prometheus.Gauge
		trips    *prometheus.CounterVec
	}

	eventBus        events.Bus
	summaryInterval time.Duration
	logger          *logrus.Entry
	done            chan struct{}
}

// RecorderOption configures a MetricsRecorder.
type RecorderOption func(*MetricsRecorder)

// WithSummaryInterval sets how often the recorder logs its counters. Zero
// disables the summary.
func WithSummaryInterval(d time.Duration) RecorderOption {
	return func(r *MetricsRecorder) {
		r.summaryInterval = d
	}
}

// NewMetricsRecorder registers all metrics with reg.
func NewMetricsRecorder(eventBus events.Bus, reg prometheus.Registerer, opts ...RecorderOption) *MetricsRecorder {
	r := &MetricsRecorder{
		eventBus:        eventBus,
		summaryInterval: time.Minute,
		logger:          logrus.WithField("component", "metrics_recorder"),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	factory := promauto.With(reg)

	r.feedMetrics.eventsReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "events_total",
		Help:      "Number of feed events received by channel",
	}, []string{"channel"})

	r.feedMetrics.salesReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "sales_total",
		Help:      "Number of sales carried by saleFeed events, by event type",
	}, []string{"event_type"})

	r.feedMetrics.deliveryLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "delivery_latency_seconds",
		Help:      "Time between receiving a feed event and recording it",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})

	r.feedMetrics.decodeErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "decode_errors_total",
		Help:      "Number of saleFeed payloads that could not be decoded",
	})

	r.feedMetrics.handlerFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "handler_failures_total",
		Help:      "Number of handler invocations that returned an error or panicked",
	}, []string{"channel", "kind"})

	r.connMetrics.state = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "state",
		Help:      "Current connection state, 1 for the active state",
	}, []string{"state"})

	r.connMetrics.transitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "transitions_total",
		Help:      "Number of connection state transitions by target state",
	}, []string{"to"})

	r.connMetrics.reconnects = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "reconnects_total",
		Help:      "Number of reconnect attempts after a lost session",
	})

	r.connMetrics.epoch = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "epoch",
		Help:      "Number of sessions that completed the Socket.IO handshake",
	})

	r.restMetrics.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rest",
		Name:      "requests_total",
		Help:      "Number of REST requests by route and status code",
	}, []string{"route", "status"})

	r.restMetrics.latency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rest",
		Name:      "request_duration_seconds",
		Help:      "Duration of REST requests by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	r.restMetrics.errors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rest",
		Name:      "request_errors_total",
		Help:      "Number of REST requests that failed by route",
	}, []string{"route"})

	r.restMetrics.breaker = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rest",
		Name:      "circuit_breaker_state",
		Help:      "REST circuit breaker state: 0 closed, 1 half-open, 2 open",
	})

	r.restMetrics.trips = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rest",
		Name:      "circuit_breaker_transitions_total",
		Help:      "Number of circuit breaker transitions by target state",
	}, []string{"to"})

	for _, s := range connectionStates {
		r.connMetrics.state.WithLabelValues(s).Set(0)
	}
	r.connMetrics.state.WithLabelValues("idle").Set(1)

	r.logger.Debug("Metrics recorder initialized")
	return r
}

// Start subscribes to the bus and records metrics until ctx is cancelled.
func (r *MetricsRecorder) Start(ctx context.Context) error {
	r.logger.Debug("Starting metrics recorder")

	if r.summaryInterval > 0 {
		go r.logSummary(ctx)
	}
	go r.recordMetrics(ctx)
	return nil
}

func (r *MetricsRecorder) topics() []common.Channel {
	topics := append([]common.Channel{}, common.KnownChannels...)
	return append(topics, common.TopicConnection, common.TopicHandlerErr, common.TopicREST, common.TopicBreaker)
}

// recordMetrics fans the subscriptions in and blocks until ctx is done.
func (r *MetricsRecorder) recordMetrics(ctx context.Context) {
	defer close(r.done)

	var wg sync.WaitGroup
	for _, topic := range r.topics() {
		ch := r.eventBus.Subscribe(topic)
		wg.Add(1)
		go func(topic common.Channel, ch <-chan interface{}) {
			defer wg.Done()
			defer r.eventBus.Unsubscribe(topic, ch)
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-ch:
					if !ok {
						r.logger.WithField("topic", topic).Debug("Subscription closed")
						return
					}
					r.record(topic, event)
				}
			}
		}(topic, ch)
	}
	r.logger.Debug("Subscribed to channels")

	wg.Wait()
	r.logger.Debug("Context cancelled, stopping metrics recorder")
}

func (r *MetricsRecorder) record(topic common.Channel, event interface{}) {
	switch e := event.(type) {
	case events.FeedEvent:
		r.recordFeed(e)
	case events.ConnectionEvent:
		r.recordConnection(e)
	case events.HandlerFailure:
		kind := "error"
		if e.Panic {
			kind = "panic"
		}
		r.feedMetrics.handlerFailures.WithLabelValues(e.Channel.String(), kind).Inc()
	case events.RequestEvent:
		r.recordRequest(e)
	case events.BreakerEvent:
		r.restMetrics.breaker.Set(breakerLevel[e.To])
		r.restMetrics.trips.WithLabelValues(e.To).Inc()
	default:
		r.logger.WithFields(logrus.Fields{
			"topic": topic,
			"type":  fmt.Sprintf("%T", event),
		}).Warn("Unexpected event type")
	}
}

func (r *MetricsRecorder) recordFeed(e events.FeedEvent) {
	r.feedMetrics.eventsReceived.WithLabelValues(e.Channel.String()).Inc()
	if !e.ReceivedAt.IsZero() {
		r.feedMetrics.deliveryLatency.Observe(time.Since(e.ReceivedAt).Seconds())
	}

	if e.Channel != common.ChannelSaleFeed {
		return
	}
	feed, err := skinport.DecodeSaleFeed(e.Payload)
	if err != nil {
		r.feedMetrics.decodeErrors.Inc()
		r.logger.WithError(err).Debug("Failed to decode sale feed")
		return
	}
	r.feedMetrics.salesReceived.WithLabelValues(string(feed.EventType)).Add(float64(len(feed.Sales)))
}

func (r *MetricsRecorder) recordConnection(e events.ConnectionEvent) {
	for _, s := range connectionStates {
		v := 0.0
		if s == e.To {
			v = 1
		}
		r.connMetrics.state.WithLabelValues(s).Set(v)
	}
	r.connMetrics.transitions.WithLabelValues(e.To).Inc()
	r.connMetrics.epoch.Set(float64(e.Epoch))

	// Idle to connecting is a fresh Connect; anything else is a retry.
	if e.To == "connecting" && e.From != "idle" {
		r.connMetrics.reconnects.Inc()
	}
}

func (r *MetricsRecorder) recordRequest(e events.RequestEvent) {
	status := "error"
	if e.Status > 0 {
		status = strconv.Itoa(e.Status)
	}
	r.restMetrics.requests.WithLabelValues(e.Route, status).Inc()
	r.restMetrics.latency.WithLabelValues(e.Route).Observe(e.Duration.Seconds())
	if e.Err != nil {
		r.restMetrics.errors.WithLabelValues(e.Route).Inc()
	}
}

// logSummary periodically logs the feed counters.
func (r *MetricsRecorder) logSummary(ctx context.Context) {
	ticker := time.NewTicker(r.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fields := logrus.Fields{}
			for _, ch := range common.KnownChannels {
				fields[ch.String()] = counterValue(r.feedMetrics.eventsReceived.WithLabelValues(ch.String()))
			}
			fields["reconnects"] = counterValue(r.connMetrics.reconnects)
			fields["decode_errors"] = counterValue(r.feedMetrics.decodeErrors)
			r.logger.WithFields(fields).Info("Feed summary")
		}
	}
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// Done is closed once the recorder has released its subscriptions.
func (r *MetricsRecorder) Done() <-chan struct{} {
	return r.done
}
