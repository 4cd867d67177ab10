// Package kafka provides a Kafka-backed stream. Each event type is a topic
// and each eventscore group is a Kafka consumer group, so Kafka stores the
// cursor as committed offsets.
package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/broker"
)

// BackendName is the name used to register this backend.
const BackendName = "kafka"

// ClientID identifies eventscore connections on the brokers.
const ClientID = "eventscore"

// ErrBrokersRequired is returned when no broker address is configured.
var ErrBrokersRequired = errors.New("eventscore: kafka brokers are required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	stream.RegisterWithCapabilities(BackendName, Build, stream.KafkaCapabilities)
}

// Build creates a Kafka stream from cfg.
func Build(_ context.Context, cfg stream.Config, deps stream.Dependencies) (stream.Stream, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return nil, ErrBrokersRequired
	}

	publisher, err := PublisherFactory(PublisherConfig(brokers), deps.Logger)
	if err != nil {
		return nil, err
	}

	return broker.New(broker.Config{
		Name:      BackendName,
		Publisher: publisher,
		Subscribers: func(group event.Group) (message.Subscriber, error) {
			return SubscriberFactory(SubscriberConfig(brokers, group), deps.Logger)
		},
		Serializer:   deps.Serializer,
		Logger:       deps.Logger,
		Capabilities: stream.KafkaCapabilities,
	})
}

// PublisherConfig uses a synchronous producer so a blocking put returns only
// after the broker acknowledged the write.
func PublisherConfig(brokers []string) kafka.PublisherConfig {
	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	saramaCfg.ClientID = ClientID
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	return kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaCfg,
	}
}

// SubscriberConfig joins the consumer group named after group. A group with
// no committed offset starts from the oldest retained message so it sees
// the whole log.
func SubscriberConfig(brokers []string, group event.Group) kafka.SubscriberConfig {
	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	saramaCfg.ClientID = ClientID
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	return kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		ConsumerGroup:         string(group),
		OverwriteSaramaConfig: saramaCfg,
	}
}

// Capabilities returns the capabilities of this backend.
func Capabilities() stream.Capabilities {
	return stream.KafkaCapabilities
}
