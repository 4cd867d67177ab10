// Package redis provides a stream on top of Redis streams. Every event type
// is one Redis stream; cursors are stream entry IDs kept per (type, group)
// and optionally mirrored into a hash so they survive restarts.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	goredis "github.com/redis/go-redis/v9"

	"github.com/drblury/eventscore/codec"
	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
)

// BackendName is the name used to register this backend.
const BackendName = "redis"

const (
	// CursorsKey is the hash holding persisted cursors.
	CursorsKey   = "eventscore:cursors"
	streamPrefix = "eventscore:stream:"
	valueField   = "value"
	startID      = "0"
)

// ErrAddrRequired is returned when no Redis address is configured.
var ErrAddrRequired = errors.New("eventscore: redis address is required")

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *goredis.Options) *goredis.Client {
	return goredis.NewClient(opts)
}

func init() {
	stream.RegisterWithCapabilities(BackendName, Build, stream.RedisCapabilities)
}

// Build connects to the configured Redis server and verifies it with PING.
func Build(ctx context.Context, cfg stream.Config, deps stream.Dependencies) (stream.Stream, error) {
	addr := cfg.GetRedisAddr()
	if addr == "" {
		return nil, ErrAddrRequired
	}
	client := ClientFactory(&goredis.Options{
		Addr:     addr,
		Password: cfg.GetRedisPassword(),
		DB:       cfg.GetRedisDB(),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	deps.Logger.Info("Connected to Redis", watermill.LogFields{
		"addr":            addr,
		"db":              cfg.GetRedisDB(),
		"persist_cursors": cfg.GetRedisPersistCursors(),
	})
	return New(client, Options{
		Serializer:     deps.Serializer,
		Logger:         deps.Logger,
		PersistCursors: cfg.GetRedisPersistCursors(),
	}), nil
}

// Options configures a Stream.
type Options struct {
	Serializer     codec.Serializer
	Logger         watermill.LoggerAdapter
	PersistCursors bool
}

// Stream is safe for concurrent use. Pops on the same cursor are serialised
// within this process only; two processes sharing a group need persisted
// cursors and still race.
type Stream struct {
	client     *goredis.Client
	serializer codec.Serializer
	logger     watermill.LoggerAdapter
	persist    bool
	locks      *stream.KeyedMutex

	mu      sync.Mutex
	cursors map[string]string
	closed  bool
}

// New wraps an existing client. The stream owns the client and closes it.
func New(client *goredis.Client, opts Options) *Stream {
	if opts.Serializer == nil {
		opts.Serializer = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = watermill.NopLogger{}
	}
	return &Stream{
		client:     client,
		serializer: opts.Serializer,
		logger:     opts.Logger,
		persist:    opts.PersistCursors,
		locks:      stream.NewKeyedMutex(),
		cursors:    make(map[string]string),
	}
}

// StreamKey is the Redis key holding the log of eventType.
func StreamKey(eventType event.Type) string {
	return streamPrefix + string(eventType)
}

// Put appends evt with XADD. A non-blocking put logs failures instead of
// returning them.
func (s *Stream) Put(ctx context.Context, evt event.Event, opts ...stream.Option) error {
	if s.isClosed() {
		return stream.ErrStreamClosed
	}
	o := stream.NewOptions(opts...)
	payload, err := s.serializer.Encode(evt)
	if err != nil {
		return err
	}

	putCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	id, err := s.client.XAdd(putCtx, &goredis.XAddArgs{
		Stream: StreamKey(evt.Type),
		Values: map[string]any{valueField: payload},
	}).Result()
	if err != nil {
		if !o.Block {
			s.logger.Error("Non-blocking put failed", err, watermill.LogFields{"event_type": evt.Type})
			return nil
		}
		return fmt.Errorf("%w: %w", stream.ErrEventNotSent, err)
	}
	s.logger.Trace("Event appended", watermill.LogFields{
		"event_type": evt.Type,
		"event_id":   evt.ID.String(),
		"entry_id":   id,
	})
	return nil
}

// Pop reads the entry after the group's cursor with XREAD and advances the
// cursor to it. The cursor moves, and is persisted, before decoding: an
// entry that fails to decode is reported once and never redelivered to
// the group, even after a restart.
func (s *Stream) Pop(ctx context.Context, eventType event.Type, group event.Group, opts ...stream.Option) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s.isClosed() {
		return event.Event{}, stream.ErrStreamClosed
	}
	o := stream.NewOptions(opts...)
	key := stream.Key(eventType, group)

	waitCtx, cancel := context.WithTimeout(ctx, o.Wait())
	defer cancel()
	unlock, err := s.locks.Lock(waitCtx, key)
	if err != nil {
		return event.Event{}, emptyOr(ctx)
	}
	defer unlock()

	cursor, err := s.cursor(ctx, key)
	if err != nil {
		return event.Event{}, err
	}

	args := &goredis.XReadArgs{
		Streams: []string{StreamKey(eventType), cursor},
		Count:   1,
		Block:   -1,
	}
	if o.Block {
		remaining := time.Millisecond
		if deadline, ok := waitCtx.Deadline(); ok {
			remaining = max(time.Until(deadline), time.Millisecond)
		}
		args.Block = remaining
	}

	res, err := s.client.XRead(ctx, args).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return event.Event{}, stream.ErrEmptyStream
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return event.Event{}, ctxErr
		}
		return event.Event{}, err
	}
	if len(res) != 1 || len(res[0].Messages) > 1 {
		return event.Event{}, stream.ErrTooManyData
	}
	if len(res[0].Messages) == 0 {
		return event.Event{}, stream.ErrEmptyStream
	}

	msg := res[0].Messages[0]
	if err := s.advance(ctx, key, msg.ID); err != nil {
		return event.Event{}, err
	}
	raw, ok := msg.Values[valueField].(string)
	if !ok {
		return event.Event{}, fmt.Errorf("%w: entry %s has no %q field", codec.ErrMalformed, msg.ID, valueField)
	}
	return s.serializer.Decode([]byte(raw))
}

func (s *Stream) cursor(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	id, ok := s.cursors[key]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	id = startID
	if s.persist {
		stored, err := s.client.HGet(ctx, CursorsKey, key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return "", fmt.Errorf("load cursor %s: %w", key, err)
		default:
			id = stored
		}
	}
	s.mu.Lock()
	s.cursors[key] = id
	s.mu.Unlock()
	return id, nil
}

func (s *Stream) advance(ctx context.Context, key, id string) error {
	if s.persist {
		if err := s.client.HSet(ctx, CursorsKey, key, id).Err(); err != nil {
			return fmt.Errorf("persist cursor %s: %w", key, err)
		}
	}
	s.mu.Lock()
	s.cursors[key] = id
	s.mu.Unlock()
	return nil
}

// Cursor reports the last entry ID delivered to group, "0" when none.
func (s *Stream) Cursor(eventType event.Type, group event.Group) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.cursors[stream.Key(eventType, group)]; ok {
		return id
	}
	return startID
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the underlying client.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.client.Close()
}

// Capabilities reports a durable cursor when cursors are persisted.
func (s *Stream) Capabilities() stream.Capabilities {
	caps := stream.RedisCapabilities
	caps.DurableCursor = s.persist
	return caps
}

func emptyOr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return stream.ErrEmptyStream
}

var _ stream.CapabilitiesProvider = (*Stream)(nil)
