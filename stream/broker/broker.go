// Package broker adapts Watermill publishers and subscribers into an
// eventscore stream. The event type is the topic and each consumer group gets
// its own subscriber, so the broker tracks the group's position.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventscore/codec"
	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
)

const (
	// MetadataEventType carries the event type on every published message.
	MetadataEventType = "eventscore_type"
	// MetadataCodec names the serializer that produced the payload.
	MetadataCodec = "eventscore_codec"
)

// ErrPublisherRequired and ErrSubscriberFactoryRequired are returned by New.
var (
	ErrPublisherRequired         = errors.New("eventscore: broker publisher is required")
	ErrSubscriberFactoryRequired = errors.New("eventscore: broker subscriber factory is required")
)

// SubscriberFactory returns the subscriber used by one consumer group.
type SubscriberFactory func(group event.Group) (message.Subscriber, error)

// Config wires a Stream.
type Config struct {
	Name         string
	Publisher    message.Publisher
	Subscribers  SubscriberFactory
	Serializer   codec.Serializer
	Logger       watermill.LoggerAdapter
	Capabilities stream.Capabilities

	// Topic maps an event type to a broker topic. Defaults to the type name.
	Topic func(event.Type) string

	// CloseTimeout bounds how long Close waits for in-flight async puts.
	CloseTimeout time.Duration
}

// Stream implements stream.Stream over Watermill.
type Stream struct {
	cfg   Config
	locks *stream.KeyedMutex

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	subscribers map[event.Group]message.Subscriber
	feeds       map[string]<-chan *message.Message
	closed      bool

	inflight sync.WaitGroup
}

// New validates cfg and returns a Stream. Subscriptions are opened lazily on
// the first pop of each (type, group).
func New(cfg Config) (*Stream, error) {
	if cfg.Publisher == nil {
		return nil, ErrPublisherRequired
	}
	if cfg.Subscribers == nil {
		return nil, ErrSubscriberFactoryRequired
	}
	if cfg.Serializer == nil {
		cfg.Serializer = codec.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = watermill.NopLogger{}
	}
	if cfg.Topic == nil {
		cfg.Topic = func(t event.Type) string { return string(t) }
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = stream.DefaultTimeout
	}
	if cfg.Capabilities.Name == "" {
		cfg.Capabilities.Name = cfg.Name
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		cfg:         cfg,
		locks:       stream.NewKeyedMutex(),
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[event.Group]message.Subscriber),
		feeds:       make(map[string]<-chan *message.Message),
	}, nil
}

// Put publishes evt on the topic of its type. A blocking put waits for the
// publisher to confirm; a non-blocking put returns once the publish is
// scheduled and logs failures.
func (s *Stream) Put(ctx context.Context, evt event.Event, opts ...stream.Option) error {
	if s.isClosed() {
		return stream.ErrStreamClosed
	}
	o := stream.NewOptions(opts...)

	payload, err := s.cfg.Serializer.Encode(evt)
	if err != nil {
		return fmt.Errorf("%w: %v", stream.ErrEventNotSent, err)
	}
	msg := message.NewMessage(evt.ID.String(), payload)
	msg.Metadata.Set(MetadataEventType, string(evt.Type))
	msg.Metadata.Set(MetadataCodec, s.cfg.Serializer.Name())
	msg.SetContext(ctx)
	topic := s.cfg.Topic(evt.Type)
	fields := watermill.LogFields{"topic": topic, "event_id": evt.ID.String(), "backend": s.cfg.Name}

	s.inflight.Add(1)
	done := make(chan error, 1)
	go func() {
		defer s.inflight.Done()
		err := s.cfg.Publisher.Publish(topic, msg)
		if err != nil && !o.Block {
			s.cfg.Logger.Error("Async publish failed", err, fields)
		}
		done <- err
	}()

	if !o.Block {
		return nil
	}

	timer := time.NewTimer(o.Timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			s.cfg.Logger.Error("Publish failed", err, fields)
			return fmt.Errorf("%w: %v", stream.ErrEventNotSent, err)
		}
		s.cfg.Logger.Trace("Event published", fields)
		return nil
	case <-timer.C:
		return stream.ErrEventNotSent
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop receives the next message for the group, decodes and acks it.
// Undecodable messages are nacked and reported.
func (s *Stream) Pop(ctx context.Context, eventType event.Type, group event.Group, opts ...stream.Option) (event.Event, error) {
	o := stream.NewOptions(opts...)
	key := stream.Key(eventType, group)

	waitCtx, cancel := context.WithTimeout(ctx, o.Wait())
	defer cancel()

	unlock, err := s.locks.Lock(waitCtx, key)
	if err != nil {
		return event.Event{}, timeoutOr(ctx)
	}
	defer unlock()

	feed, err := s.feed(eventType, group)
	if err != nil {
		return event.Event{}, err
	}

	select {
	case msg, ok := <-feed:
		return s.receive(msg, ok)
	default:
	}
	select {
	case msg, ok := <-feed:
		return s.receive(msg, ok)
	case <-waitCtx.Done():
		return event.Event{}, timeoutOr(ctx)
	}
}

func (s *Stream) receive(msg *message.Message, ok bool) (event.Event, error) {
	if !ok {
		return event.Event{}, stream.ErrStreamClosed
	}
	evt, err := s.cfg.Serializer.Decode(msg.Payload)
	if err != nil {
		msg.Nack()
		s.cfg.Logger.Error("Failed to decode message", err, watermill.LogFields{
			"message_uuid": msg.UUID,
			"backend":      s.cfg.Name,
		})
		return event.Event{}, err
	}
	msg.Ack()
	return evt, nil
}

func (s *Stream) feed(eventType event.Type, group event.Group) (<-chan *message.Message, error) {
	key := stream.Key(eventType, group)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, stream.ErrStreamClosed
	}
	if feed, ok := s.feeds[key]; ok {
		return feed, nil
	}

	sub, ok := s.subscribers[group]
	if !ok {
		var err error
		sub, err = s.cfg.Subscribers(group)
		if err != nil {
			return nil, fmt.Errorf("create subscriber for group %q: %w", group, err)
		}
		s.subscribers[group] = sub
	}

	topic := s.cfg.Topic(eventType)
	feed, err := sub.Subscribe(s.ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q for group %q: %w", topic, group, err)
	}
	s.cfg.Logger.Info("Subscribed", watermill.LogFields{
		"topic":   topic,
		"group":   string(group),
		"backend": s.cfg.Name,
	})
	s.feeds[key] = feed
	return feed, nil
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops subscriptions, waits briefly for async puts and closes the
// underlying publisher and subscribers.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subscribers := make([]message.Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subscribers = append(subscribers, sub)
	}
	s.mu.Unlock()

	s.cancel()

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.CloseTimeout):
		s.cfg.Logger.Info("Close timed out waiting for publishes", watermill.LogFields{"backend": s.cfg.Name})
	}

	var errs []error
	for _, sub := range subscribers {
		if any(sub) == any(s.cfg.Publisher) {
			continue
		}
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.cfg.Publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Capabilities reports what was configured for this broker.
func (s *Stream) Capabilities() stream.Capabilities {
	return s.cfg.Capabilities
}

func timeoutOr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return stream.ErrEmptyStream
}
