package events

import (
	"sync"

	"github.com/alejoacosta74/skinport-go/internal/common"
)

const defaultBufferSize = 100

// EventBus implements the Bus interface providing a concurrent-safe
// publish-subscribe message bus keyed by feed channel.
type EventBus struct {
	// subscribers maps topics to a set of subscriber channels
	subscribers   map[common.Channel]map[chan interface{}]struct{}
	subscribersMu sync.RWMutex

	// channelBufferSize determines the buffer size for new subscriber channels
	channelBufferSize int

	closed bool
}

// Option configures an EventBus
type Option func(*EventBus)

// WithBufferSize sets the buffer size of subscriber channels.
func WithBufferSize(size int) Option {
	return func(b *EventBus) {
		if size > 0 {
			b.channelBufferSize = size
		}
	}
}

// NewEventBus creates a new EventBus instance.
func NewEventBus(opts ...Option) *EventBus {
	b := &EventBus{
		subscribers:       make(map[common.Channel]map[chan interface{}]struct{}),
		channelBufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends an event to all subscribers of the specified topic.
// If a subscriber's channel is full, the event is dropped for that subscriber.
func (b *EventBus) Publish(topic common.Channel, event interface{}) {
	b.subscribersMu.RLock()
	defer b.subscribersMu.RUnlock()

	if b.closed {
		return
	}
	for subscriberCh := range b.subscribers[topic] {
		select {
		case subscriberCh <- event:
		default:
		}
	}
}

// Subscribe creates a new subscription to the specified topic.
// The subscriber should call Unsubscribe when done to release the channel.
// Subscribing after Shutdown returns an already closed channel.
func (b *EventBus) Subscribe(topic common.Channel) <-chan interface{} {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	ch := make(chan interface{}, b.channelBufferSize)
	if b.closed {
		close(ch)
		return ch
	}

	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[chan interface{}]struct{})
	}
	b.subscribers[topic][ch] = struct{}{}

	return ch
}

// Unsubscribe removes a subscriber from the specified topic and closes its
// channel. It is safe to call more than once.
//
//	ch := bus.Subscribe(common.ChannelSaleFeed)
//	defer bus.Unsubscribe(common.ChannelSaleFeed, ch)
func (b *EventBus) Unsubscribe(topic common.Channel, ch <-chan interface{}) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	subscribers, exists := b.subscribers[topic]
	if !exists {
		return
	}

	for subCh := range subscribers {
		if ch == subCh {
			delete(subscribers, subCh)
			close(subCh)
			break
		}
	}

	if len(subscribers) == 0 {
		delete(b.subscribers, topic)
	}
}

// Shutdown closes all subscriber channels. Publishing after Shutdown is a no-op.
func (b *EventBus) Shutdown() {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for topic, subscribers := range b.subscribers {
		for ch := range subscribers {
			close(ch)
		}
		delete(b.subscribers, topic)
	}
}

// TopicSubscriberCount returns the number of subscribers for a topic.
func (b *EventBus) TopicSubscriberCount(topic common.Channel) int {
	b.subscribersMu.RLock()
	defer b.subscribersMu.RUnlock()

	return len(b.subscribers[topic])
}
