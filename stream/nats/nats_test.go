package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/streamtest"
)

func TestRegistered(t *testing.T) {
	assert.True(t, stream.DefaultRegistry.Has(BackendName))
	assert.Equal(t, Capabilities(), stream.GetCapabilities(BackendName))
}

func TestSubscriberConfigUsesGroupAsDurable(t *testing.T) {
	cfg := SubscriberConfig("nats://localhost:4222", "billing")
	assert.Equal(t, "billing", cfg.QueueGroupPrefix)
	assert.Equal(t, "billing", cfg.JetStream.DurablePrefix)
	assert.True(t, cfg.JetStream.AutoProvision)
	assert.False(t, cfg.JetStream.Disabled)
	assert.Len(t, cfg.JetStream.SubscribeOptions, 2)
	assert.NotEmpty(t, cfg.NatsOptions)
}

func TestPublisherConfigTracksMessageIDs(t *testing.T) {
	cfg := PublisherConfig("nats://localhost:4222")
	assert.True(t, cfg.JetStream.TrackMsgId)
	assert.Equal(t, "nats://localhost:4222", cfg.URL)
}

func TestBuild(t *testing.T) {
	t.Run("requires url", func(t *testing.T) {
		_, err := Build(context.Background(), &streamtest.Config{}, stream.Dependencies{Logger: watermill.NopLogger{}})
		assert.ErrorIs(t, err, ErrURLRequired)
	})

	t.Run("uses factories", func(t *testing.T) {
		originalPub, originalSub := PublisherFactory, SubscriberFactory
		t.Cleanup(func() { PublisherFactory, SubscriberFactory = originalPub, originalSub })

		var durable string
		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return &mockPublisher{}, nil
		}
		SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			durable = cfg.JetStream.DurablePrefix
			return &mockSubscriber{}, nil
		}

		s, err := Build(context.Background(), &streamtest.Config{NATSURL: "nats://localhost:4222"}, stream.Dependencies{Logger: watermill.NopLogger{}})
		require.NoError(t, err)
		_, err = s.Pop(context.Background(), "orders", "shipping", stream.WithBlock(false))
		assert.ErrorIs(t, err, stream.ErrEmptyStream)
		assert.Equal(t, "shipping", durable)
	})

	t.Run("returns publisher error", func(t *testing.T) {
		originalPub := PublisherFactory
		t.Cleanup(func() { PublisherFactory = originalPub })
		PublisherFactory = func(nats.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("no connection")
		}
		_, err := Build(context.Background(), &streamtest.Config{NATSURL: "nats://x"}, stream.Dependencies{Logger: watermill.NopLogger{}})
		assert.ErrorContains(t, err, "no connection")
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
