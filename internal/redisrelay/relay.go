// Package redisrelay republishes feed events on Redis pub/sub channels as
// binary Socket.IO packets, so other processes can consume the feed without
// opening their own connection upstream.
package redisrelay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/alejoacosta74/skinport-go/pkg/packet"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultPrefix starts every channel name.
const DefaultPrefix = "skinport"

// Publisher is the part of a go-redis client the relay uses.
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Config configures a Relay.
type Config struct {
	Prefix         string           // Channel prefix, DefaultPrefix when empty
	Namespace      string           // Socket.IO namespace of relayed packets, "/" when empty
	Channels       []common.Channel // Feed channels to relay, all known channels when empty
	PublishTimeout time.Duration    // Bounds one PUBLISH, 2s when zero
}

// Relay publishes every bus event of the configured channels on
// "<prefix>#<namespace>#<channel>".
type Relay struct {
	bus       events.Bus
	client    Publisher
	config    Config
	published atomic.Uint64
	failed    atomic.Uint64
	logger    *logrus.Entry
	done      chan struct{}
}

// NewRelay creates a relay. It does not subscribe until Start.
func NewRelay(bus events.Bus, client Publisher, config Config) (*Relay, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.Namespace == "" {
		config.Namespace = packet.DefaultNamespace
	}
	if len(config.Channels) == 0 {
		config.Channels = common.KnownChannels
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}
	return &Relay{
		bus:    bus,
		client: client,
		config: config,
		logger: logrus.WithField("component", "redis_relay"),
		done:   make(chan struct{}),
	}, nil
}

// ChannelName returns the Redis channel carrying a feed channel.
func (r *Relay) ChannelName(channel common.Channel) string {
	return fmt.Sprintf("%s#%s#%s", r.config.Prefix, r.config.Namespace, channel)
}

// Encode builds the packet published for a feed event: an EVENT named after
// the channel with the payload as its only argument.
func (r *Relay) Encode(e events.FeedEvent) ([]byte, error) {
	p := packet.NewEvent(e.Channel.String())
	if e.Payload != nil {
		p = packet.NewEvent(e.Channel.String(), e.Payload)
	}
	p.Namespace = r.config.Namespace
	return packet.Encode(p)
}

// Start subscribes to the bus and publishes until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, channel := range r.config.Channels {
		sub := r.bus.Subscribe(channel)
		wg.Add(1)
		go func(channel common.Channel, sub <-chan interface{}) {
			defer wg.Done()
			defer r.bus.Unsubscribe(channel, sub)
			r.forward(ctx, channel, sub)
		}(channel, sub)
	}
	r.logger.WithFields(logrus.Fields{
		"prefix":   r.config.Prefix,
		"channels": r.config.Channels,
	}).Info("Redis relay started")

	go func() {
		wg.Wait()
		r.logger.WithFields(logrus.Fields{
			"published": r.published.Load(),
			"failed":    r.failed.Load(),
		}).Info("Redis relay stopped")
		close(r.done)
	}()
	return nil
}

func (r *Relay) forward(ctx context.Context, channel common.Channel, sub <-chan interface{}) {
	name := r.ChannelName(channel)
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
			if err := r.publish(ctx, name, fe); err != nil {
				r.failed.Add(1)
				r.logger.WithError(err).WithField("redis_channel", name).Warn("Failed to publish feed event")
				continue
			}
			r.published.Add(1)
		}
	}
}

func (r *Relay) publish(ctx context.Context, name string, e events.FeedEvent) error {
	b, err := r.Encode(e)
	if err != nil {
		return fmt.Errorf("failed to encode packet: %w", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
	defer cancel()

	receivers, err := r.client.Publish(pubCtx, name, b).Result()
	if err != nil {
		return err
	}
	r.logger.WithFields(logrus.Fields{
		"redis_channel": name,
		"receivers":     receivers,
		"size":          len(b),
	}).Trace("Published feed event")
	return nil
}

// Published counts successful PUBLISH calls.
func (r *Relay) Published() uint64 {
	return r.published.Load()
}

// Failed counts events that could not be encoded or published.
func (r *Relay) Failed() uint64 {
	return r.failed.Load()
}

func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Decode reverses Encode for consumers of the Redis channels.
func Decode(b []byte) (common.Channel, any, error) {
	p, err := packet.Decode(b)
	if err != nil {
		return "", nil, err
	}
	name, args, ok := p.EventName()
	if !ok {
		return "", nil, fmt.Errorf("relayed packet is not an event: %s", p.Type)
	}
	channel, err := common.ParseChannel(name)
	if err != nil {
		return "", nil, err
	}
	if len(args) == 0 {
		return channel, nil, nil
	}
	return channel, args[0], nil
}
