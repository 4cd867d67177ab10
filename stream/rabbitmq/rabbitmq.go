// Package rabbitmq provides a RabbitMQ stream. Each event type is a fanout
// exchange and each group binds its own durable queue to it.
package rabbitmq

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/broker"
)

// BackendName is the name used to register this backend.
const BackendName = "rabbitmq"

// ErrURLRequired is returned when no AMQP URL is configured.
var ErrURLRequired = errors.New("eventscore: rabbitmq url is required")

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	stream.RegisterWithCapabilities(BackendName, Build, stream.RabbitMQCapabilities)
}

// Build opens one connection shared by the publisher and every group
// subscriber.
func Build(_ context.Context, cfg stream.Config, deps stream.Dependencies) (stream.Stream, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return nil, ErrURLRequired
	}

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, deps.Logger)
	if err != nil {
		return nil, err
	}

	publisher, err := PublisherFactory(GroupConfig(url, ""), deps.Logger, conn)
	if err != nil {
		return nil, err
	}

	return broker.New(broker.Config{
		Name:      BackendName,
		Publisher: publisher,
		Subscribers: func(group event.Group) (message.Subscriber, error) {
			return SubscriberFactory(GroupConfig(url, group), deps.Logger, conn)
		},
		Serializer:   deps.Serializer,
		Logger:       deps.Logger,
		Capabilities: stream.RabbitMQCapabilities,
	})
}

// GroupConfig returns a durable pub/sub configuration whose queue name is
// "<topic>_<group>", giving every group an independent copy of the exchange.
func GroupConfig(url string, group event.Group) amqp.Config {
	return amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicNameWithSuffix(string(group)))
}

// Capabilities returns the capabilities of this backend.
func Capabilities() stream.Capabilities {
	return stream.RabbitMQCapabilities
}
