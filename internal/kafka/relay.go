package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/alejoacosta74/skinport-go/pkg/skinport"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Record header keys set on every relayed message.
const (
	HeaderEventID     = "event_id"
	HeaderChannel     = "channel"
	HeaderContentType = "content_type"
)

// RelayConfig configures a Relay.
type RelayConfig struct {
	Topic     string           // Kafka topic receiving every feed event
	Channels  []common.Channel // Feed channels to relay, all known channels when empty
	Workers   int              // Concurrent senders, 1 when zero
	QueueSize int              // Buffered messages before events are dropped, 100 when zero
}

// Record is the JSON value of a relayed message. Payload holds the decoded
// saleFeed or steam status when the channel is known, the raw payload otherwise.
type Record struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	ReceivedAt time.Time `json:"receivedAt"`
	Payload    any       `json:"payload"`
}

// Relay copies feed events from the bus to a Kafka topic.
type Relay struct {
	bus     events.Bus
	sender  MessageSender
	config  RelayConfig
	msgChan chan Message
	errChan chan error
	dropped atomic.Uint64
	logger  *logrus.Entry
	done    chan struct{}
}

// NewRelay creates a relay. It does not subscribe until Start.
func NewRelay(bus events.Bus, sender MessageSender, config RelayConfig) (*Relay, error) {
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if len(config.Channels) == 0 {
		config.Channels = common.KnownChannels
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	return &Relay{
		bus:     bus,
		sender:  sender,
		config:  config,
		msgChan: make(chan Message, config.QueueSize),
		errChan: make(chan error, 10),
		logger:  logrus.WithFields(logrus.Fields{"component": "kafka_relay", "topic": config.Topic}),
		done:    make(chan struct{}),
	}, nil
}

// Start subscribes to the configured channels and relays events until ctx is
// cancelled. Queued messages are flushed before Done is closed.
func (r *Relay) Start(ctx context.Context) error {
	var workers sync.WaitGroup
	workers.Add(r.config.Workers)
	for i := 0; i < r.config.Workers; i++ {
		w := NewWorker(i, r.sender, r.msgChan, &workers, r.errChan)
		go w.Start(ctx)
	}

	var forwarders sync.WaitGroup
	for _, channel := range r.config.Channels {
		sub := r.bus.Subscribe(channel)
		forwarders.Add(1)
		go func(channel common.Channel, sub <-chan interface{}) {
			defer forwarders.Done()
			defer r.bus.Unsubscribe(channel, sub)
			r.forward(ctx, channel, sub)
		}(channel, sub)
	}
	r.logger.WithField("channels", r.config.Channels).Info("Kafka relay started")

	go func() {
		forwarders.Wait()
		close(r.msgChan)
		workers.Wait()
		r.logger.WithField("dropped", r.dropped.Load()).Info("Kafka relay stopped")
		close(r.done)
	}()
	return nil
}

func (r *Relay) forward(ctx context.Context, channel common.Channel, sub <-chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			fe, ok := event.(events.FeedEvent)
			if !ok {
				r.logger.WithField("channel", channel).Warnf("Unexpected event type %T", event)
				continue
			}
			msg, err := r.message(fe)
			if err != nil {
				r.logger.WithError(err).WithField("channel", channel).Warn("Failed to encode feed event")
				continue
			}
			select {
			case r.msgChan <- msg:
			default:
				r.dropped.Add(1)
				r.logger.WithField("channel", channel).Warn("Relay queue full, dropping event")
			}
		}
	}
}

// message builds the Kafka record of a feed event. The channel is the key, so
// events of one channel stay ordered within their partition.
func (r *Relay) message(e events.FeedEvent) (Message, error) {
	rec := Record{
		ID:         uuid.NewString(),
		Channel:    e.Channel.String(),
		ReceivedAt: e.ReceivedAt.UTC(),
		Payload:    e.Payload,
	}
	switch e.Channel {
	case common.ChannelSaleFeed:
		if feed, err := skinport.DecodeSaleFeed(e.Payload); err == nil {
			rec.Payload = feed
		}
	case common.ChannelSteamStatusUpdated:
		if status, err := skinport.DecodeSteamStatus(e.Payload); err == nil {
			rec.Payload = map[string]any{"status": status}
		}
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic:   r.config.Topic,
		Key:     rec.Channel,
		Payload: b,
		Headers: map[string]string{
			HeaderEventID:     rec.ID,
			HeaderChannel:     rec.Channel,
			HeaderContentType: "application/json",
		},
	}, nil
}

// Errors reports send failures. Failures are dropped when nobody reads.
func (r *Relay) Errors() <-chan error {
	return r.errChan
}

// Dropped counts events discarded because the queue was full.
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Relay) Done() <-chan struct{} {
	return r.done
}
