// Package nats provides a NATS JetStream stream. Every group gets a durable
// JetStream consumer, so the server remembers each group's position.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/broker"
)

// BackendName is the name used to register this backend.
const BackendName = "nats"

// ErrURLRequired is returned when no server URL is configured.
var ErrURLRequired = errors.New("eventscore: nats url is required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	stream.RegisterWithCapabilities(BackendName, Build, stream.NATSCapabilities)
}

// Build creates a JetStream-backed stream.
func Build(_ context.Context, cfg stream.Config, deps stream.Dependencies) (stream.Stream, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return nil, ErrURLRequired
	}

	publisher, err := PublisherFactory(PublisherConfig(url), deps.Logger)
	if err != nil {
		return nil, err
	}

	return broker.New(broker.Config{
		Name:      BackendName,
		Publisher: publisher,
		Subscribers: func(group event.Group) (message.Subscriber, error) {
			return SubscriberFactory(SubscriberConfig(url, group), deps.Logger)
		},
		Serializer:   deps.Serializer,
		Logger:       deps.Logger,
		Capabilities: stream.NATSCapabilities,
	})
}

func connectOptions() []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("eventscore"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
	}
}

// PublisherConfig publishes through JetStream with message-id tracking so
// retried puts are deduplicated by the server.
func PublisherConfig(url string) nats.PublisherConfig {
	return nats.PublisherConfig{
		URL:         url,
		NatsOptions: connectOptions(),
		Marshaler:   &nats.NATSMarshaler{},
		JetStream: nats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}
}

// SubscriberConfig binds group to a durable consumer and queue group that
// starts from the first stored message.
func SubscriberConfig(url string, group event.Group) nats.SubscriberConfig {
	return nats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: string(group),
		SubscribersCount: 1,
		NatsOptions:      connectOptions(),
		Unmarshaler:      &nats.NATSMarshaler{},
		JetStream: nats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: string(group),
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.DeliverAll(),
				natsgo.AckExplicit(),
			},
		},
	}
}

// Capabilities returns the capabilities of this backend.
func Capabilities() stream.Capabilities {
	return stream.NATSCapabilities
}
