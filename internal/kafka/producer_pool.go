package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrPoolNotStarted = errors.New("producer pool not started")
	ErrPoolStopped    = errors.New("producer pool is shutting down")
)

// Message represents a message to be sent to Kafka
type Message struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// ProducerConfig holds configuration for the producer pool
type ProducerConfig struct {
	BrokerList  []string // List of Kafka brokers (i.e. ["localhost:9092"])
	PoolSize    int      // Number of producers in the pool
	ClientID    string
	SendTimeout time.Duration // Bounds one Send, 5s when zero
	// NewProducer builds each pool member. Sarama sync producers by default.
	NewProducer func(ProducerConfig) (KafkaProducer, error)
}

// producerPool manages a pool of KafkaProducers
type producerPool struct {
	producers chan KafkaProducer
	config    ProducerConfig
	logger    *logrus.Entry
	wg        sync.WaitGroup // in-flight sends
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	mu        sync.RWMutex
}

// NewProducerPool creates a new pool of Kafka producers
func NewProducerPool(config ProducerConfig) (*producerPool, error) {
	if config.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be greater than 0")
	}
	if len(config.BrokerList) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 5 * time.Second
	}
	if config.NewProducer == nil {
		config.NewProducer = newSaramaProducer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &producerPool{
		producers: make(chan KafkaProducer, config.PoolSize),
		config:    config,
		logger:    logrus.WithField("component", "kafka_producer_pool"),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start initializes the producer pool and creates all producers
func (p *producerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("producer pool already started")
	}
	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}

	for i := 0; i < p.config.PoolSize; i++ {
		producer, err := p.config.NewProducer(p.config)
		if err != nil {
			p.closeIdle()
			return fmt.Errorf("failed to create producer %d: %w", i, err)
		}
		p.producers <- producer
	}

	p.started = true
	p.logger.WithFields(logrus.Fields{
		"brokers": p.config.BrokerList,
		"size":    p.config.PoolSize,
	}).Info("Producer pool started successfully")
	return nil
}

// Stop waits for in-flight sends and closes every producer.
func (p *producerPool) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	p.started = false
	p.mu.Unlock()

	p.logger.Info("Stopping producer pool...")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while stopping producer pool")
	}

	if err := p.closeIdle(); err != nil {
		p.logger.WithError(err).Error("Errors occurred while closing producers")
		return err
	}
	p.logger.Info("Producer pool stopped successfully")
	return nil
}

// closeIdle closes the producers sitting in the pool and returns the first
// close error.
func (p *producerPool) closeIdle() error {
	var closeErr error
	for {
		select {
		case producer := <-p.producers:
			if err := producer.Close(); err != nil {
				p.logger.WithError(err).Error("Failed to close producer")
				if closeErr == nil {
					closeErr = err
				}
			}
		default:
			return closeErr
		}
	}
}

// Send borrows a producer, sends msg within the configured timeout and returns
// the producer to the pool. It is safe for concurrent use.
func (p *producerPool) Send(ctx context.Context, msg Message) error {
	p.mu.RLock()
	if !p.started {
		p.mu.RUnlock()
		return ErrPoolNotStarted
	}
	p.wg.Add(1)
	p.mu.RUnlock()
	defer p.wg.Done()

	select {
	case producer := <-p.producers:
		defer func() { p.producers <- producer }()

		sendCtx, cancel := context.WithTimeout(ctx, p.config.SendTimeout)
		defer cancel()

		start := time.Now()
		if err := producer.Send(sendCtx, msg); err != nil {
			return fmt.Errorf("failed to send message to %s: %w", msg.Topic, err)
		}
		p.logger.WithFields(logrus.Fields{
			"topic":    msg.Topic,
			"key":      msg.Key,
			"duration": time.Since(start),
		}).Trace("Message sent")
		return nil

	case <-ctx.Done():
		return fmt.Errorf("operation cancelled by caller: %w", ctx.Err())

	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}
