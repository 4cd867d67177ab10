package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventscore/codec"
	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/streamtest"
)

type blockingPublisher struct {
	release chan struct{}
	err     error
	closed  bool
	mu      sync.Mutex
	topics  []string
}

func (p *blockingPublisher) Publish(topic string, messages ...*message.Message) error {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	p.mu.Unlock()
	return p.err
}

func (p *blockingPublisher) Close() error {
	p.closed = true
	return nil
}

type feedSubscriber struct {
	feed   chan *message.Message
	groups *[]event.Group
	closed bool
}

func (s *feedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.feed, nil
}

func (s *feedSubscriber) Close() error {
	s.closed = true
	return nil
}

func newFeedStream(t *testing.T, pub message.Publisher, feed chan *message.Message) (*Stream, *[]event.Group) {
	t.Helper()
	groups := &[]event.Group{}
	s, err := New(Config{
		Name:      "test",
		Publisher: pub,
		Subscribers: func(group event.Group) (message.Subscriber, error) {
			*groups = append(*groups, group)
			return &feedSubscriber{feed: feed, groups: groups}, nil
		},
	})
	require.NoError(t, err)
	return s, groups
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrPublisherRequired)

	_, err = New(Config{Publisher: &blockingPublisher{}})
	assert.ErrorIs(t, err, ErrSubscriberFactoryRequired)
}

func TestGoChannelBehaviour(t *testing.T) {
	streamtest.Run(t, func(t *testing.T) stream.Stream {
		pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
		s, err := New(Config{
			Name:      "gochannel",
			Publisher: pubSub,
			Subscribers: func(event.Group) (message.Subscriber, error) {
				return pubSub, nil
			},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}, streamtest.Features{})
}

func TestPutBlockingTimesOut(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	s, _ := newFeedStream(t, pub, make(chan *message.Message))
	defer close(pub.release)

	err := s.Put(context.Background(), event.MustNew("t", nil), stream.WithTimeout(20*time.Millisecond))
	assert.ErrorIs(t, err, stream.ErrEventNotSent)
}

func TestPutWrapsPublishError(t *testing.T) {
	pub := &blockingPublisher{err: errors.New("broker down")}
	s, _ := newFeedStream(t, pub, make(chan *message.Message))

	err := s.Put(context.Background(), event.MustNew("t", nil))
	assert.ErrorIs(t, err, stream.ErrEventNotSent)
	assert.Contains(t, err.Error(), "broker down")
}

func TestPutNonBlockingReturnsImmediately(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	s, _ := newFeedStream(t, pub, make(chan *message.Message))

	start := time.Now()
	require.NoError(t, s.Put(context.Background(), event.MustNew("t", nil), stream.WithBlock(false)))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(pub.release)
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"t"}, pub.topics)
	assert.True(t, pub.closed)
}

func TestPopDecodesAndAcks(t *testing.T) {
	feed := make(chan *message.Message, 1)
	s, groups := newFeedStream(t, &blockingPublisher{}, feed)

	evt := event.MustNew("t", map[string]any{"k": "v"})
	payload, err := codec.Default.Encode(evt)
	require.NoError(t, err)
	msg := message.NewMessage("1", payload)
	feed <- msg

	got, err := s.Pop(context.Background(), "t", "g")
	require.NoError(t, err)
	assert.True(t, evt.Equal(got))

	select {
	case <-msg.Acked():
	default:
		t.Fatal("message was not acked")
	}
	assert.Equal(t, []event.Group{"g"}, *groups)

	_, err = s.Pop(context.Background(), "t", "g", stream.WithBlock(false))
	assert.ErrorIs(t, err, stream.ErrEmptyStream)
	assert.Len(t, *groups, 1, "subscriber is reused per group")
}

func TestPopNacksUndecodable(t *testing.T) {
	feed := make(chan *message.Message, 1)
	s, _ := newFeedStream(t, &blockingPublisher{}, feed)

	msg := message.NewMessage("1", []byte("garbage"))
	feed <- msg

	_, err := s.Pop(context.Background(), "t", "g")
	assert.ErrorIs(t, err, codec.ErrMalformed)
	select {
	case <-msg.Nacked():
	default:
		t.Fatal("message was not nacked")
	}
}

func TestPopOnClosedFeed(t *testing.T) {
	feed := make(chan *message.Message)
	close(feed)
	s, _ := newFeedStream(t, &blockingPublisher{}, feed)

	_, err := s.Pop(context.Background(), "t", "g")
	assert.ErrorIs(t, err, stream.ErrStreamClosed)
}

func TestSubscriberFactoryError(t *testing.T) {
	s, err := New(Config{
		Publisher: &blockingPublisher{},
		Subscribers: func(event.Group) (message.Subscriber, error) {
			return nil, errors.New("no sub")
		},
	})
	require.NoError(t, err)
	_, err = s.Pop(context.Background(), "t", "g")
	assert.ErrorContains(t, err, "no sub")
}

func TestClosedStreamRejectsCalls(t *testing.T) {
	s, _ := newFeedStream(t, &blockingPublisher{}, make(chan *message.Message))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Put(context.Background(), event.MustNew("t", nil)), stream.ErrStreamClosed)
	_, err := s.Pop(context.Background(), "t", "g")
	assert.ErrorIs(t, err, stream.ErrStreamClosed)
}

func TestCustomTopic(t *testing.T) {
	pub := &blockingPublisher{}
	s, err := New(Config{
		Publisher:   pub,
		Subscribers: func(event.Group) (message.Subscriber, error) { return &feedSubscriber{}, nil },
		Topic:       func(t event.Type) string { return "events." + string(t) },
	})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), event.MustNew("t", nil)))
	assert.Equal(t, []string{"events.t"}, pub.topics)
}
