package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/alejoacosta74/skinport-go/internal/dispatcher"

type queuedEvent struct {
	payload    any
	receivedAt time.Time
}

// Dispatcher routes the events of one connection to the handlers captured by
// Registry.Bind. Every channel gets its own worker goroutine, so events of one
// channel are handled in arrival order while different channels proceed
// concurrently.
type Dispatcher struct {
	handlers map[common.Channel]Handler
	fallback Fallback
	eventBus events.Bus
	policy   ErrorPolicy

	queueSize int
	queues    map[common.Channel]chan queuedEvent
	mu        sync.Mutex
	closed    bool
	stopping  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// handler context, cancelled when Close gives up waiting
	ctx    context.Context
	cancel context.CancelFunc

	errChan chan error
	errOnce sync.Once

	tracer trace.Tracer
	logger *logrus.Entry
}

func newDispatcher(handlers map[common.Channel]Handler, fallback Fallback, bus events.Bus, policy ErrorPolicy, queueSize int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handlers:  handlers,
		fallback:  fallback,
		eventBus:  bus,
		policy:    policy,
		queueSize: queueSize,
		queues:    make(map[common.Channel]chan queuedEvent),
		stopping:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		errChan:   make(chan error, 1),
		tracer:    otel.Tracer(tracerName),
		logger:    logrus.WithField("component", "dispatcher"),
	}
}

// Dispatch hands one event to its channel's worker. It returns once the event
// is queued; if the queue is full it waits for room. Events arriving after
// Close are dropped.
func (d *Dispatcher) Dispatch(channel string, payload any) {
	ch := common.Channel(channel)
	now := time.Now()

	if d.eventBus != nil {
		d.eventBus.Publish(ch, events.FeedEvent{Channel: ch, Payload: payload, ReceivedAt: now})
	}

	handler, ok := d.handlers[ch]
	if !ok {
		d.fallback(d.ctx, channel, payload)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.WithField("channel", ch).Debug("Dispatcher closed, dropping event")
		return
	}
	q, exists := d.queues[ch]
	if !exists {
		q = make(chan queuedEvent, d.queueSize)
		d.queues[ch] = q
		d.wg.Add(1)
		go d.worker(ch, handler, q)
	}
	// Sending under the lock keeps Close from closing q mid-send.
	select {
	case q <- queuedEvent{payload: payload, receivedAt: now}:
	default:
		d.logger.WithField("channel", ch).Warn("Handler queue full, waiting")
		select {
		case q <- queuedEvent{payload: payload, receivedAt: now}:
		case <-d.stopping:
			d.logger.WithField("channel", ch).Debug("Dispatcher stopping, dropping event")
		}
	}
	d.mu.Unlock()
}

// Stop releases a Dispatch call waiting for queue room. Later events find
// the queue full and are dropped. Queued events are still handled by Close.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopping) })
}

// Has reports whether a handler was captured for the channel.
func (d *Dispatcher) Has(channel string) bool {
	_, ok := d.handlers[common.Channel(channel)]
	return ok
}

// Errors delivers the first handler failure when the policy is PropagateErrors.
func (d *Dispatcher) Errors() <-chan error {
	return d.errChan
}

// Close stops accepting events and waits for the queued ones to be handled.
// If ctx ends first, handlers see their context cancelled and Close returns
// ctx.Err().
func (d *Dispatcher) Close(ctx context.Context) error {
	d.Stop()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Debug("Dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("Dispatcher drain timed out")
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ch common.Channel, handler Handler, q <-chan queuedEvent) {
	defer d.wg.Done()
	log := d.logger.WithField("channel", ch)
	log.Trace("Worker started")

	for ev := range q {
		if d.ctx.Err() != nil {
			continue
		}
		d.invoke(ch, handler, ev, log)
	}
	log.Trace("Worker stopped")
}

func (d *Dispatcher) invoke(ch common.Channel, handler Handler, ev queuedEvent, log *logrus.Entry) {
	ctx, span := d.tracer.Start(d.ctx, "dispatcher.handle",
		trace.WithAttributes(attribute.String("skinport.channel", string(ch))))
	defer span.End()

	panicked, err := safeCall(ctx, handler, ev.payload)
	if err == nil {
		log.WithField("latency", time.Since(ev.receivedAt)).Trace("Event handled")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	herr := &HandlerError{Channel: string(ch), Err: err}
	if d.eventBus != nil {
		d.eventBus.Publish(common.TopicHandlerErr, events.HandlerFailure{Channel: ch, Err: err, Panic: panicked})
	}

	if d.policy == PropagateErrors {
		log.WithError(err).Error("Handler failed, propagating")
		d.errOnce.Do(func() {
			d.errChan <- herr
		})
		return
	}
	log.WithError(err).Error("Handler failed")
}

func safeCall(ctx context.Context, handler Handler, payload any) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			panicked = true
		}
	}()
	return false, handler(ctx, payload)
}
