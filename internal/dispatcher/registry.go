package dispatcher

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/dispatcher/handlers"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/sirupsen/logrus"
)

// Handler processes the decoded payload of one feed event. Handlers always run
// on a dispatcher worker goroutine, never on the connection's read loop.
type Handler func(ctx context.Context, payload any) error

// Fallback receives events for channels that have no registered handler.
type Fallback func(ctx context.Context, channel string, payload any)

// ErrorPolicy decides what happens when a handler fails.
type ErrorPolicy int

const (
	// IsolateErrors logs handler errors and panics and keeps the connection up.
	IsolateErrors ErrorPolicy = iota
	// PropagateErrors reports the first handler failure on Dispatcher.Errors,
	// which makes the connection tear down and reconnect.
	PropagateErrors
)

func (p ErrorPolicy) String() string {
	if p == PropagateErrors {
		return "propagate"
	}
	return "isolate"
}

const defaultQueueSize = 256

// Registry maps channel names to handlers. It may be written at any time;
// each connection works on the snapshot taken by Bind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[common.Channel]*Registration

	eventBus  events.Bus
	fallback  Fallback
	policy    ErrorPolicy
	queueSize int
	logger    *logrus.Entry
}

// Option configures a Registry and the dispatchers it binds.
type Option func(*Registry)

// WithEventBus publishes every dispatched event on bus, keyed by channel.
func WithEventBus(bus events.Bus) Option {
	return func(r *Registry) {
		r.eventBus = bus
	}
}

func WithErrorPolicy(policy ErrorPolicy) Option {
	return func(r *Registry) {
		r.policy = policy
	}
}

// WithFallback replaces the catch-all handler for unregistered channels.
func WithFallback(fb Fallback) Option {
	return func(r *Registry) {
		if fb != nil {
			r.fallback = fb
		}
	}
}

// WithQueueSize sets the per-channel queue length of bound dispatchers.
func WithQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handlers:  make(map[common.Channel]*Registration),
		queueSize: defaultQueueSize,
		logger:    logrus.WithField("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fallback == nil {
		r.fallback = handlers.NewCatchAllHandler().Handle
	}
	return r
}

// Registration is the handle returned by Register.
type Registration struct {
	registry *Registry
	channel  common.Channel
	handler  Handler
}

// Channel returns the channel the handler is registered for.
func (r *Registration) Channel() string {
	return string(r.channel)
}

// Unregister removes the handler if it is still the current one for its
// channel. Later registrations for the same channel are left alone.
func (r *Registration) Unregister() {
	reg := r.registry
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.handlers[r.channel] == r {
		delete(reg.handlers, r.channel)
		reg.logger.WithField("channel", r.channel).Debug("Handler unregistered")
	}
}

// Register installs h for the named channel, replacing any previous handler.
// Names are trimmed; blank names and nil handlers are rejected with a
// *ConfigError.
func (r *Registry) Register(name string, h Handler) (*Registration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ConfigError{Err: ErrEmptyChannel}
	}
	if h == nil {
		return nil, &ConfigError{Channel: name, Err: ErrNilHandler}
	}

	channel := common.Channel(name)
	reg := &Registration{registry: r, channel: channel, handler: h}

	r.mu.Lock()
	_, replaced := r.handlers[channel]
	r.handlers[channel] = reg
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"channel":  channel,
		"known":    channel.Known(),
		"replaced": replaced,
	}).Debug("Handler registered")
	return reg, nil
}

// Channels lists the registered channel names in sorted order.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for ch := range r.handlers {
		out = append(out, string(ch))
	}
	sort.Strings(out)
	return out
}

// Bind snapshots the registry into a fresh Dispatcher. Registrations made
// afterwards only take effect on the next Bind.
func (r *Registry) Bind() *Dispatcher {
	r.mu.RLock()
	snapshot := make(map[common.Channel]Handler, len(r.handlers))
	for ch, reg := range r.handlers {
		snapshot[ch] = reg.handler
	}
	r.mu.RUnlock()

	return newDispatcher(snapshot, r.fallback, r.eventBus, r.policy, r.queueSize)
}
