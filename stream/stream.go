// Package stream defines the storage boundary of eventscore: an append-only
// log per event type with an independent read cursor per consumer group.
// Each backend (memory, redis, sql, kafka, ...) lives in its own sub-package
// and registers itself with the stream registry.
package stream

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/eventscore/codec"
	"github.com/drblury/eventscore/event"
)

var (
	// ErrEmptyStream means no event was available for the cursor within the
	// allotted time. Runners treat it as a normal idle poll.
	ErrEmptyStream = errors.New("eventscore: stream is empty")
	// ErrTooManyData means a single pop received more than one entry.
	ErrTooManyData = errors.New("eventscore: stream returned more than one event")
	// ErrEventNotSent means a blocking put was not confirmed in time.
	ErrEventNotSent = errors.New("eventscore: event was not sent")
	// ErrStreamClosed is returned by operations on a closed stream.
	ErrStreamClosed = errors.New("eventscore: stream is closed")
)

// DefaultTimeout bounds blocking puts and pops when no timeout is given.
const DefaultTimeout = 5 * time.Second

// Stream is the contract every backend implements. Pop must advance the
// cursor of (eventType, group) atomically with respect to other pops on the
// same key; different keys must not contend.
type Stream interface {
	Put(ctx context.Context, evt event.Event, opts ...Option) error
	Pop(ctx context.Context, eventType event.Type, group event.Group, opts ...Option) (event.Event, error)
	Close() error
}

// Options tunes a single Put or Pop call.
type Options struct {
	Block   bool
	Timeout time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithBlock selects whether the call waits up to the timeout.
func WithBlock(block bool) Option {
	return func(o *Options) { o.Block = block }
}

// WithTimeout sets how long a blocking call may wait.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// NewOptions applies opts over the defaults: blocking, DefaultTimeout.
func NewOptions(opts ...Option) Options {
	o := Options{Block: true, Timeout: DefaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Wait returns how long the call may wait; zero when not blocking.
func (o Options) Wait() time.Duration {
	if !o.Block {
		return 0
	}
	return o.Timeout
}

// Key identifies one cursor. The type is length-prefixed so that no two
// (type, group) pairs share a key, whatever characters they contain.
func Key(eventType event.Type, group event.Group) string {
	return strconv.Itoa(len(eventType)) + ":" + string(eventType) + ":" + string(group)
}

// Dependencies carries the shared collaborators handed to backend builders.
type Dependencies struct {
	Logger     watermill.LoggerAdapter
	Serializer codec.Serializer
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = watermill.NopLogger{}
	}
	if d.Serializer == nil {
		d.Serializer = codec.Default
	}
	return d
}

// Builder creates a stream from configuration.
type Builder func(ctx context.Context, cfg Config, deps Dependencies) (Stream, error)

// Config exposes the settings backends read. The runtime configuration
// implements it.
type Config interface {
	GetStreamBackend() string
	GetSerializer() string

	// Redis
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPersistCursors() bool

	// Kafka
	GetKafkaBrokers() []string

	// NATS
	GetNATSURL() string

	// RabbitMQ
	GetRabbitMQURL() string

	// SQL
	GetSQLiteFile() string
	GetPostgresURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by streams that can describe themselves.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
