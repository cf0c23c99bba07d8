package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaramaProducer_Send(t *testing.T) {
	t.Run("message carries key, value and headers", func(t *testing.T) {
		mock := mocks.NewSyncProducer(t, newSaramaConfig(ProducerConfig{}))
		mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != "skinport.feed" {
				return errors.New("unexpected topic " + msg.Topic)
			}
			key, err := msg.Key.Encode()
			if err != nil || string(key) != "saleFeed" {
				return errors.New("unexpected key")
			}
			value, err := msg.Value.Encode()
			if err != nil || string(value) != `{"ok":true}` {
				return errors.New("unexpected value")
			}
			if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderChannel {
				return errors.New("unexpected headers")
			}
			return nil
		})

		p := &saramaProducer{producer: mock}
		err := p.Send(context.Background(), Message{
			Topic:   "skinport.feed",
			Key:     "saleFeed",
			Payload: []byte(`{"ok":true}`),
			Headers: map[string]string{HeaderChannel: "saleFeed"},
		})
		require.NoError(t, err)
		require.NoError(t, p.Close())
	})

	t.Run("broker error is returned", func(t *testing.T) {
		mock := mocks.NewSyncProducer(t, newSaramaConfig(ProducerConfig{}))
		mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

		p := &saramaProducer{producer: mock}
		err := p.Send(context.Background(), Message{Topic: "skinport.feed", Payload: []byte("x")})
		assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
		require.NoError(t, p.Close())
	})
}

func TestNewSaramaConfig(t *testing.T) {
	cfg := newSaramaConfig(ProducerConfig{ClientID: "skinport-relay"})
	assert.Equal(t, "skinport-relay", cfg.ClientID)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.NoError(t, cfg.Validate())
}
