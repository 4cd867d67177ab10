// Package channel provides a stream over Watermill's in-process Go channel
// pub/sub. Messages are persisted in memory so a group that subscribes late
// still receives everything published before it.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/broker"
)

// BackendName is the name used to register this backend.
const BackendName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	stream.RegisterWithCapabilities(BackendName, Build, stream.ChannelCapabilities)
}

// Build creates a channel stream. All groups share one pub/sub; each group
// gets its own subscription per topic, which gochannel fans out to.
func Build(_ context.Context, _ stream.Config, deps stream.Dependencies) (stream.Stream, error) {
	pub, sub := Factory(gochannel.Config{Persistent: true}, deps.Logger)
	return broker.New(broker.Config{
		Name:      BackendName,
		Publisher: pub,
		Subscribers: func(event.Group) (message.Subscriber, error) {
			return sub, nil
		},
		Serializer:   deps.Serializer,
		Logger:       deps.Logger,
		Capabilities: stream.ChannelCapabilities,
	})
}

// Capabilities returns the capabilities of this backend.
func Capabilities() stream.Capabilities {
	return stream.ChannelCapabilities
}
