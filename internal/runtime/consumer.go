package runtime

import (
	"context"
	"time"

	"github.com/drblury/eventscore/event"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
)

// ConsumerFunc handles one event. A returned error is logged and reported
// but never causes redelivery.
type ConsumerFunc func(ctx context.Context, evt event.Event) error

// Consumer binds a ConsumerFunc to its identity.
type Consumer struct {
	identity string
	fn       ConsumerFunc
	logger   loggingpkg.ServiceLogger
}

// NewConsumer returns a consumer logging through logger.
func NewConsumer(identity string, fn ConsumerFunc, logger loggingpkg.ServiceLogger) *Consumer {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	return &Consumer{
		identity: identity,
		fn:       fn,
		logger:   logger.With(loggingpkg.LogFields{"consumer": identity}),
	}
}

// Identity returns the name used for dedup and diagnostics.
func (c *Consumer) Identity() string { return c.identity }

// Consume calls the wrapped function. Panics propagate to the caller.
func (c *Consumer) Consume(ctx context.Context, evt event.Event) error {
	start := time.Now()
	c.logger.Debug("Consumer started", loggingpkg.LogFields{"event_id": evt.ID.String()})
	err := c.fn(ctx, evt)
	c.logger.Debug("Consumer finished", loggingpkg.LogFields{
		"event_id":    evt.ID.String(),
		"duration_ms": time.Since(start).Milliseconds(),
		"failed":      err != nil,
	})
	return err
}

// ConsumerBuilder turns a pipeline item into a ready consumer.
type ConsumerBuilder func(item PipelineItem) (*Consumer, error)

// NewConsumerBuilder wraps each item's function in the given middlewares
// (first registration outermost) before building the consumer.
func NewConsumerBuilder(logger loggingpkg.ServiceLogger, middlewares ...MiddlewareRegistration) ConsumerBuilder {
	return func(item PipelineItem) (*Consumer, error) {
		fn, err := applyMiddlewares(item, middlewares)
		if err != nil {
			return nil, err
		}
		return NewConsumer(item.Identity, fn, logger), nil
	}
}
