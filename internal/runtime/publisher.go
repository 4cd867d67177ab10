package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/eventscore/event"
	errspkg "github.com/drblury/eventscore/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
	"github.com/drblury/eventscore/stream"
)

// Producer puts events onto a stream.
type Producer struct {
	stream     stream.Stream
	putTimeout time.Duration
	logger     loggingpkg.ServiceLogger
	metrics    *Metrics
}

// NewProducer returns a producer writing to s. A non-positive putTimeout
// falls back to stream.DefaultTimeout.
func NewProducer(s stream.Stream, putTimeout time.Duration, logger loggingpkg.ServiceLogger, metrics *Metrics) (*Producer, error) {
	if s == nil {
		return nil, errspkg.ErrStreamRequired
	}
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	if putTimeout <= 0 {
		putTimeout = stream.DefaultTimeout
	}
	return &Producer{stream: s, putTimeout: putTimeout, logger: logger, metrics: metrics}, nil
}

// Produce stores evt. Caller options override the blocking default and the
// configured put timeout.
func (p *Producer) Produce(ctx context.Context, evt event.Event, opts ...stream.Option) error {
	if evt.Type == "" {
		return event.ErrTypeRequired
	}
	all := append([]stream.Option{stream.WithBlock(true), stream.WithTimeout(p.putTimeout)}, opts...)
	if err := p.stream.Put(ctx, evt, all...); err != nil {
		return fmt.Errorf("produce %s: %w", evt.Type, err)
	}
	p.metrics.observeProduced(evt.Type)
	p.logger.Trace("Event produced", loggingpkg.LogFields{
		"event_id":   evt.ID.String(),
		"event_type": string(evt.Type),
	})
	return nil
}
