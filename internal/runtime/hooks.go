package runtime

import (
	"context"
	"time"

	"github.com/drblury/eventscore/event"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
)

// JobContext describes one consumer invocation.
type JobContext struct {
	Consumer  string
	EventType event.Type
	Group     event.Group
	EventID   string
	Context   context.Context
	StartedAt time.Time
	// Duration is only set for OnJobDone and OnJobError.
	Duration time.Duration
}

// JobHooks are optional lifecycle callbacks run around every consumer
// invocation. Nil hooks are skipped.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	OnJobDone  func(ctx JobContext)
	OnJobError func(ctx JobContext, err error)
}

// Merge returns hooks calling h first and then other.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chain(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chain(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErr(h.OnJobError, other.OnJobError),
	}
}

func chain(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErr(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// JobHooksMiddleware invokes hooks around each consumer call.
func JobHooksMiddleware(hooks JobHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "job_hooks",
		Builder: func(item PipelineItem) (ConsumerMiddleware, error) {
			return func(next ConsumerFunc) ConsumerFunc {
				return func(ctx context.Context, evt event.Event) error {
					job := JobContext{
						Consumer:  item.Identity,
						EventType: evt.Type,
						Group:     item.Group,
						EventID:   evt.ID.String(),
						Context:   ctx,
						StartedAt: time.Now(),
					}
					if hooks.OnJobStart != nil {
						hooks.OnJobStart(job)
					}
					err := next(ctx, evt)
					job.Duration = time.Since(job.StartedAt)
					switch {
					case err != nil && hooks.OnJobError != nil:
						hooks.OnJobError(job, err)
					case err == nil && hooks.OnJobDone != nil:
						hooks.OnJobDone(job)
					}
					return err
				}
			}, nil
		},
	}
}

// LoggingHooks logs job lifecycle events at info level.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	fields := func(ctx JobContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"consumer":   ctx.Consumer,
			"event_type": string(ctx.EventType),
			"group":      string(ctx.Group),
			"event_id":   ctx.EventID,
		}
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Info("Job started", fields(ctx))
		},
		OnJobDone: func(ctx JobContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Info("Job completed", f)
		},
		OnJobError: func(ctx JobContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Job failed", err, f)
		},
	}
}

// MetricsHooks forwards lifecycle events to caller-supplied counters.
func MetricsHooks(onStart, onDone, onError func(consumer string, eventType event.Type)) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			if onStart != nil {
				onStart(ctx.Consumer, ctx.EventType)
			}
		},
		OnJobDone: func(ctx JobContext) {
			if onDone != nil {
				onDone(ctx.Consumer, ctx.EventType)
			}
		},
		OnJobError: func(ctx JobContext, _ error) {
			if onError != nil {
				onError(ctx.Consumer, ctx.EventType)
			}
		},
	}
}

// AlertingHooks calls alert whenever a job fails.
func AlertingHooks(alert func(ctx JobContext, err error)) JobHooks {
	return JobHooks{OnJobError: alert}
}
