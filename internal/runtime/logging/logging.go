package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the logging contract every eventscore component takes in
// its constructor. It mirrors watermill's LoggerAdapter so stream backends
// and the runtime share one logger.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// Supported values for New.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatZap  = "zap"
)

// New builds a ServiceLogger writing to w in the given format. Level is one
// of trace, debug, info or error.
func New(format, level string, w io.Writer) (ServiceLogger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return NewSlogServiceLogger(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))), nil
	case FormatText:
		return NewSlogServiceLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))), nil
	case FormatZap:
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(w),
			zapLevel(lvl),
		)
		return NewZapServiceLogger(zap.New(core)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// LevelTrace sits below slog.LevelDebug, matching watermill's slog adapter.
const LevelTrace = slog.LevelDebug - 4

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level <= slog.LevelDebug:
		return zapcore.DebugLevel
	case level <= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.ErrorLevel
	}
}

// NewSlogServiceLogger wraps a slog.Logger through watermill's slog adapter.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("eventscore: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, map[slog.Level]slog.Level{
		LevelTrace: LevelTrace,
	}))
}

// NewWatermillServiceLogger wraps an existing watermill LoggerAdapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("eventscore: watermill logger cannot be nil")
	}
	return &watermillServiceLogger{inner: logger}
}

type watermillServiceLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillServiceLogger) With(fields LogFields) ServiceLogger {
	return &watermillServiceLogger{inner: w.inner.With(toWatermillFields(fields))}
}

func (w *watermillServiceLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

// NewZapServiceLogger wraps a zap logger. Trace is logged at debug level.
func NewZapServiceLogger(log *zap.Logger) ServiceLogger {
	if log == nil {
		panic("eventscore: zap logger cannot be nil")
	}
	return &zapServiceLogger{inner: log}
}

type zapServiceLogger struct {
	inner *zap.Logger
}

func (z *zapServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return z
	}
	return &zapServiceLogger{inner: z.inner.With(zapFields(fields)...)}
}

func (z *zapServiceLogger) Debug(msg string, fields LogFields) {
	z.inner.Debug(msg, zapFields(fields)...)
}

func (z *zapServiceLogger) Info(msg string, fields LogFields) {
	z.inner.Info(msg, zapFields(fields)...)
}

func (z *zapServiceLogger) Error(msg string, err error, fields LogFields) {
	zf := zapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	z.inner.Error(msg, zf...)
}

func (z *zapServiceLogger) Trace(msg string, fields LogFields) {
	z.inner.Debug(msg, append(zapFields(fields), zap.Bool("trace", true))...)
}

func zapFields(fields LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

type serviceLoggerAdapter struct {
	base ServiceLogger
}

// NewWatermillAdapter converts a ServiceLogger into a watermill LoggerAdapter
// for stream backends.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("eventscore: ServiceLogger cannot be nil")
	}
	return &serviceLoggerAdapter{base: log}
}

func (s *serviceLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	s.base.Error(msg, err, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	s.base.Info(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	s.base.Debug(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	s.base.Trace(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &serviceLoggerAdapter{base: s.base.With(fromWatermillFields(fields))}
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}

// Nop returns a ServiceLogger that discards everything.
func Nop() ServiceLogger {
	return NewWatermillServiceLogger(watermill.NopLogger{})
}
