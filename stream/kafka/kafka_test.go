package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/broker"
	"github.com/drblury/eventscore/stream/streamtest"
)

func TestRegistered(t *testing.T) {
	assert.True(t, stream.DefaultRegistry.Has(BackendName))
	caps := stream.GetCapabilities(BackendName)
	assert.Equal(t, Capabilities(), caps)
	assert.True(t, caps.BrokerManagedOffsets)
}

func TestSubscriberConfigPerGroup(t *testing.T) {
	cfg := SubscriberConfig([]string{"k:9092"}, "billing")
	assert.Equal(t, "billing", cfg.ConsumerGroup)
	assert.Equal(t, []string{"k:9092"}, cfg.Brokers)
	require.NotNil(t, cfg.OverwriteSaramaConfig)
	assert.Equal(t, sarama.OffsetOldest, cfg.OverwriteSaramaConfig.Consumer.Offsets.Initial)
	assert.Equal(t, ClientID, cfg.OverwriteSaramaConfig.ClientID)
}

func TestPublisherConfigWaitsForAll(t *testing.T) {
	cfg := PublisherConfig([]string{"k:9092"})
	require.NotNil(t, cfg.OverwriteSaramaConfig)
	assert.Equal(t, sarama.WaitForAll, cfg.OverwriteSaramaConfig.Producer.RequiredAcks)
}

func TestBuild(t *testing.T) {
	t.Run("requires brokers", func(t *testing.T) {
		_, err := Build(context.Background(), &streamtest.Config{}, stream.Dependencies{Logger: watermill.NopLogger{}})
		assert.ErrorIs(t, err, ErrBrokersRequired)
	})

	t.Run("creates one subscriber per group", func(t *testing.T) {
		originalPub, originalSub := PublisherFactory, SubscriberFactory
		t.Cleanup(func() { PublisherFactory, SubscriberFactory = originalPub, originalSub })

		var groups []string
		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			return &mockPublisher{}, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			groups = append(groups, cfg.ConsumerGroup)
			return &mockSubscriber{}, nil
		}

		s, err := Build(context.Background(), &streamtest.Config{KafkaBrokers: []string{"localhost:9092"}}, stream.Dependencies{Logger: watermill.NopLogger{}})
		require.NoError(t, err)
		assert.IsType(t, &broker.Stream{}, s)

		for _, group := range []event.Group{"a", "b", "a"} {
			_, err := s.Pop(context.Background(), "orders", group, stream.WithBlock(false))
			assert.ErrorIs(t, err, stream.ErrEmptyStream)
		}
		assert.Equal(t, []string{"a", "b"}, groups)
	})

	t.Run("returns publisher factory error", func(t *testing.T) {
		originalPub := PublisherFactory
		t.Cleanup(func() { PublisherFactory = originalPub })
		PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}
		_, err := Build(context.Background(), &streamtest.Config{KafkaBrokers: []string{"x"}}, stream.Dependencies{Logger: watermill.NopLogger{}})
		assert.ErrorContains(t, err, "publisher error")
	})
}

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
