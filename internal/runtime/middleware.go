package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventscore/event"
	idspkg "github.com/drblury/eventscore/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
)

// ConsumerMiddleware decorates a consumer function.
type ConsumerMiddleware func(ConsumerFunc) ConsumerFunc

// MiddlewareBuilder constructs a middleware for one pipeline item. A nil
// middleware with a nil error means "skip".
type MiddlewareBuilder func(item PipelineItem) (ConsumerMiddleware, error)

// MiddlewareRegistration captures how a middleware is attached to consumers.
type MiddlewareRegistration struct {
	Name       string
	Middleware ConsumerMiddleware
	Builder    MiddlewareBuilder
}

// applyMiddlewares wraps item.Func so the first registration runs outermost.
func applyMiddlewares(item PipelineItem, regs []MiddlewareRegistration) (ConsumerFunc, error) {
	fn := item.Func
	if fn == nil {
		return nil, fmt.Errorf("consumer %s has no function", item.Identity)
	}
	for i := len(regs) - 1; i >= 0; i-- {
		reg := regs[i]
		var mw ConsumerMiddleware
		switch {
		case reg.Middleware != nil:
			mw = reg.Middleware
		case reg.Builder != nil:
			var err error
			mw, err = reg.Builder(item)
			if err != nil {
				return nil, fmt.Errorf("middleware %s: %w", reg.Name, err)
			}
		default:
			return nil, fmt.Errorf("middleware %s: registration requires Middleware or Builder", reg.Name)
		}
		if mw == nil {
			continue
		}
		fn = mw(fn)
	}
	return fn, nil
}

// DefaultMiddlewares returns the chain used by Core when none is given.
// metrics may be nil.
func DefaultMiddlewares(logger loggingpkg.ServiceLogger, metrics *Metrics) []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LoggingMiddleware(logger),
		TracerMiddleware(nil),
		MetricsMiddleware(metrics),
		RecovererMiddleware(),
	}
}

type correlationIDKey struct{}

// CorrelationID returns the correlation identifier carried by ctx.
func CorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey{}).(string)
	return id, ok && id != ""
}

// WithCorrelationID stores id in ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDMiddleware gives every invocation a correlation ID unless
// the context already carries one.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(next ConsumerFunc) ConsumerFunc {
			return func(ctx context.Context, evt event.Event) error {
				if _, ok := CorrelationID(ctx); !ok {
					ctx = WithCorrelationID(ctx, idspkg.CreateULID())
				}
				return next(ctx, evt)
			}
		},
	}
}

// LoggingMiddleware logs each event a consumer receives, payload included.
func LoggingMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "logging",
		Builder: func(item PipelineItem) (ConsumerMiddleware, error) {
			if logger == nil {
				return nil, errors.New("logging middleware requires a logger")
			}
			l := logger.With(loggingpkg.LogFields{"consumer": item.Identity, "group": string(item.Group)})
			return func(next ConsumerFunc) ConsumerFunc {
				return func(ctx context.Context, evt event.Event) error {
					fields := loggingpkg.LogFields{
						"event_id":   evt.ID.String(),
						"event_type": string(evt.Type),
						"payload":    evt.Payload,
					}
					if id, ok := CorrelationID(ctx); ok {
						fields["correlation_id"] = id
					}
					l.Debug("Processing event", fields)
					return next(ctx, evt)
				}
			}, nil
		},
	}
}

// TracerMiddleware wraps each invocation in an "eventscore.consume" span.
// A nil tracer uses the global provider.
func TracerMiddleware(tracer trace.Tracer) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(item PipelineItem) (ConsumerMiddleware, error) {
			t := tracer
			if t == nil {
				t = otel.Tracer(TracerName)
			}
			return func(next ConsumerFunc) ConsumerFunc {
				return func(ctx context.Context, evt event.Event) error {
					ctx, span := t.Start(ctx, "eventscore.consume", trace.WithAttributes(
						attribute.String("eventscore.consumer", item.Identity),
						attribute.String("eventscore.group", string(item.Group)),
						attribute.String("eventscore.event_id", evt.ID.String()),
					))
					defer span.End()
					err := next(ctx, evt)
					if err != nil {
						span.RecordError(err)
						span.SetStatus(codes.Error, err.Error())
					}
					return err
				}
			}, nil
		},
	}
}

// MetricsMiddleware records invocation counts and durations. It is skipped
// when m is nil.
func MetricsMiddleware(m *Metrics) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(item PipelineItem) (ConsumerMiddleware, error) {
			if m == nil {
				return nil, nil
			}
			return func(next ConsumerFunc) ConsumerFunc {
				return func(ctx context.Context, evt event.Event) error {
					start := time.Now()
					err := next(ctx, evt)
					m.observeConsumer(item, time.Since(start), err)
					return err
				}
			}, nil
		},
	}
}

// TimeoutMiddleware bounds each invocation with d.
func TimeoutMiddleware(d time.Duration) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "timeout",
		Builder: func(PipelineItem) (ConsumerMiddleware, error) {
			if d <= 0 {
				return nil, fmt.Errorf("timeout must be positive, got %s", d)
			}
			return func(next ConsumerFunc) ConsumerFunc {
				return func(ctx context.Context, evt event.Event) error {
					ctx, cancel := context.WithTimeout(ctx, d)
					defer cancel()
					return next(ctx, evt)
				}
			}, nil
		},
	}
}

// PanicError is returned by RecovererMiddleware.
type PanicError struct {
	Consumer string
	Value    any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("consumer %s panicked: %v", e.Consumer, e.Value)
}

// RecovererMiddleware converts panics into *PanicError.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "recoverer",
		Builder: func(item PipelineItem) (ConsumerMiddleware, error) {
			return func(next ConsumerFunc) ConsumerFunc {
				return func(ctx context.Context, evt event.Event) (err error) {
					defer func() {
						if rec := recover(); rec != nil {
							err = &PanicError{Consumer: item.Identity, Value: rec}
						}
					}()
					return next(ctx, evt)
				}
			}, nil
		},
	}
}
