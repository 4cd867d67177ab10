package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventscore/event"
	errspkg "github.com/drblury/eventscore/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
	"github.com/drblury/eventscore/stream"
)

// Unbounded lets a runner process events until its context ends.
const Unbounded = -1

// TracerName is the instrumentation name used for runner spans.
const TracerName = "github.com/drblury/eventscore"

// RunStats summarises one call to Run.
type RunStats struct {
	Processed        int `json:"processed"`
	EmptyPolls       int `json:"empty_polls"`
	ConsumerFailures int `json:"consumer_failures"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxEvents stops Run after n events; Unbounded disables the limit.
func WithMaxEvents(n int) RunnerOption {
	return func(r *Runner) { r.maxEvents = n }
}

// WithPopTimeout bounds each blocking pop.
func WithPopTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.popTimeout = d
		}
	}
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(logger loggingpkg.ServiceLogger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records runner metrics into m.
func WithMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithStats feeds per-worker statistics.
func WithStats(s *WorkerStats) RunnerOption {
	return func(r *Runner) { r.stats = s }
}

// Runner polls one (event type, group) cursor and fans every event out to
// all of its consumers concurrently. A Runner may be shared by several
// clones: all per-run state lives in Run.
type Runner struct {
	stream     stream.Stream
	eventType  event.Type
	group      event.Group
	consumers  []*Consumer
	maxEvents  int
	popTimeout time.Duration

	logger  loggingpkg.ServiceLogger
	metrics *Metrics
	tracer  trace.Tracer
	stats   *WorkerStats

	mu   sync.Mutex
	last RunStats
}

// NewRunner validates its arguments and returns a runner.
func NewRunner(s stream.Stream, eventType event.Type, group event.Group, consumers []*Consumer, opts ...RunnerOption) (*Runner, error) {
	if s == nil {
		return nil, errspkg.ErrStreamRequired
	}
	if len(consumers) == 0 {
		return nil, errspkg.ErrNoConsumers
	}
	r := &Runner{
		stream:     s,
		eventType:  eventType,
		group:      group,
		consumers:  append([]*Consumer(nil), consumers...),
		maxEvents:  Unbounded,
		popTimeout: stream.DefaultTimeout,
		logger:     loggingpkg.Nop(),
		tracer:     otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.maxEvents != Unbounded && r.maxEvents <= 0 {
		return nil, fmt.Errorf("%w: got %d", errspkg.ErrInvalidMaxEvents, r.maxEvents)
	}
	r.logger = r.logger.With(loggingpkg.LogFields{
		"event_type": string(eventType),
		"group":      string(group),
	})
	return r, nil
}

// Run pops and dispatches events until the max event count is reached
// (returns nil), ctx ends (returns ctx.Err()) or the stream fails.
// Empty polls do not count toward the max.
func (r *Runner) Run(ctx context.Context) error {
	var st RunStats
	defer r.setLast(&st)

	for {
		if r.maxEvents != Unbounded && st.Processed >= r.maxEvents {
			r.logger.Debug("Runner reached max events", loggingpkg.LogFields{"processed": st.Processed})
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		evt, err := r.stream.Pop(ctx, r.eventType, r.group, stream.WithBlock(true), stream.WithTimeout(r.popTimeout))
		if errors.Is(err, stream.ErrEmptyStream) {
			st.EmptyPolls++
			r.metrics.observeEmptyPoll(r.eventType, r.group)
			r.stats.recordEmptyPoll()
			r.logger.Trace("No event available", nil)
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.logger.Error("Pop failed", err, nil)
			return fmt.Errorf("pop %s/%s: %w", r.eventType, r.group, err)
		}

		st.Processed++
		r.metrics.observeEvent(r.eventType, r.group)
		st.ConsumerFailures += r.dispatch(ctx, evt)
	}
}

// dispatch runs every consumer on evt and waits for all of them. It returns
// the number of lanes that failed.
func (r *Runner) dispatch(ctx context.Context, evt event.Event) int {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "eventscore.round", trace.WithAttributes(
		attribute.String("eventscore.event_type", string(r.eventType)),
		attribute.String("eventscore.group", string(r.group)),
		attribute.String("eventscore.event_id", evt.ID.String()),
		attribute.Int("eventscore.consumers", len(r.consumers)),
	))
	defer span.End()

	errs := make([]error, len(r.consumers))
	var wg sync.WaitGroup
	for i, c := range r.consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.lane(ctx, c, evt.Clone())
		}()
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			span.RecordError(err)
		}
	}
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d consumers failed", failed, len(r.consumers)))
	}
	r.metrics.observeRound(r.eventType, r.group, time.Since(start))
	r.stats.recordEvent(time.Since(start), errors.Join(errs...))
	return failed
}

// lane runs one consumer. Errors and panics stay inside the lane.
func (r *Runner) lane(ctx context.Context, c *Consumer, evt event.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("consumer %s panicked: %v", c.Identity(), rec)
		}
		if err != nil {
			r.logger.Error("Consumer failed", err, loggingpkg.LogFields{
				"consumer": c.Identity(),
				"event_id": evt.ID.String(),
			})
		}
	}()
	return c.Consume(ctx, evt)
}

func (r *Runner) setLast(st *RunStats) {
	r.mu.Lock()
	r.last = *st
	r.mu.Unlock()
}

// LastStats returns the statistics of the most recently finished Run.
func (r *Runner) LastStats() RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// EventType returns the event type the runner polls.
func (r *Runner) EventType() event.Type { return r.eventType }

// Group returns the consumer group the runner polls for.
func (r *Runner) Group() event.Group { return r.group }

// MaxEvents returns the configured limit, or Unbounded.
func (r *Runner) MaxEvents() int { return r.maxEvents }
