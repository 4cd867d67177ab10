// Package memory provides an in-process stream. Events are kept in a slice
// per type and every (type, group) pair owns an integer cursor into it.
package memory

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
)

// BackendName is the name used to register this backend.
const BackendName = "memory"

func init() {
	stream.RegisterWithCapabilities(BackendName, Build, stream.MemoryCapabilities)
}

// Build creates an empty memory stream.
func Build(_ context.Context, _ stream.Config, deps stream.Dependencies) (stream.Stream, error) {
	return New(deps.Logger), nil
}

// Stream is safe for concurrent use.
type Stream struct {
	logger watermill.LoggerAdapter
	locks  *stream.KeyedMutex

	mu      sync.Mutex
	logs    map[event.Type][]event.Event
	cursors map[string]int
	notify  chan struct{}
	closed  bool
}

// New returns an empty stream. A nil logger discards output.
func New(logger watermill.LoggerAdapter) *Stream {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Stream{
		logger:  logger,
		locks:   stream.NewKeyedMutex(),
		logs:    make(map[event.Type][]event.Event),
		cursors: make(map[string]int),
		notify:  make(chan struct{}),
	}
}

// Put appends evt to the log of its type and wakes blocked pops. Appending
// in memory cannot time out, so blocking and non-blocking puts behave alike.
func (s *Stream) Put(ctx context.Context, evt event.Event, _ ...stream.Option) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stream.ErrStreamClosed
	}
	s.logs[evt.Type] = append(s.logs[evt.Type], evt.Clone())
	close(s.notify)
	s.notify = make(chan struct{})

	s.logger.Trace("Event appended", watermill.LogFields{
		"event_type": evt.Type,
		"event_id":   evt.ID.String(),
		"length":     len(s.logs[evt.Type]),
	})
	return nil
}

// Pop returns the event after the group's cursor and advances it.
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

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return event.Event{}, stream.ErrStreamClosed
		}
		log := s.logs[eventType]
		pos := s.cursors[key]
		if pos < len(log) {
			s.cursors[key] = pos + 1
			evt := log[pos].Clone()
			s.mu.Unlock()
			return evt, nil
		}
		wake := s.notify
		s.mu.Unlock()

		select {
		case <-wake:
		case <-waitCtx.Done():
			return event.Event{}, timeoutOr(ctx)
		}
	}
}

func timeoutOr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return stream.ErrEmptyStream
}

// Len reports how many events of eventType have been appended.
func (s *Stream) Len(eventType event.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs[eventType])
}

// Cursor reports the position of the next event a group will receive.
func (s *Stream) Cursor(eventType event.Type, group event.Group) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[stream.Key(eventType, group)]
}

// Close wakes all waiters; subsequent calls fail with ErrStreamClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.notify)
	return nil
}

// Capabilities describes the memory backend.
func (s *Stream) Capabilities() stream.Capabilities {
	return stream.MemoryCapabilities
}

var _ stream.CapabilitiesProvider = (*Stream)(nil)

