package eventscore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/eventscore/codec"
	errspkg "github.com/drblury/eventscore/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
	"github.com/drblury/eventscore/stream"
	_ "github.com/drblury/eventscore/stream/streams"
)

// buildStream is swapped in tests.
var buildStream = stream.Build

// ServiceDependencies overrides what NewService would otherwise derive from
// the configuration.
type ServiceDependencies struct {
	Core CoreDependencies
	// Logger replaces the logger built from LogFormat and LogLevel.
	Logger ServiceLogger
	// Registerer receives the metrics when MetricsEnabled is set. Nil uses
	// the default Prometheus registry.
	Registerer prometheus.Registerer
}

// Service is a Core wired from configuration: stream backend, serializer,
// logger, metrics and the optional admin server.
type Service struct {
	*Core

	Config  *Config
	Logger  ServiceLogger
	Metrics *Metrics

	gatherer prometheus.Gatherer
}

// NewService validates cfg, builds the configured stream and returns a
// service ready for registrations.
func NewService(ctx context.Context, cfg *Config, deps ServiceDependencies) (*Service, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	logger := deps.Logger
	if logger == nil {
		var err error
		logger, err = loggingpkg.New(cfg.LogFormat, cfg.LogLevel, os.Stdout)
		if err != nil {
			return nil, errspkg.NewConfigValidationError(err)
		}
	}
	serializer, err := codec.ByName(cfg.Serializer)
	if err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	s, err := buildStream(ctx, cfg, stream.Dependencies{
		Logger:     loggingpkg.NewWatermillAdapter(logger),
		Serializer: serializer,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s stream: %w", cfg.StreamBackend, err)
	}

	svc := &Service{Config: cfg, Logger: logger, gatherer: prometheus.DefaultGatherer}
	coreDeps := deps.Core
	if cfg.MetricsEnabled && coreDeps.Metrics == nil {
		registerer := deps.Registerer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		if g, ok := registerer.(prometheus.Gatherer); ok {
			svc.gatherer = g
		}
		m := NewMetrics(registerer)
		if err := m.Register(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		coreDeps.Metrics = m
	}
	svc.Metrics = coreDeps.Metrics

	if coreDeps.PutTimeout == 0 {
		coreDeps.PutTimeout = cfg.PutTimeout
	}
	runnerOpts := []RunnerOption{WithMaxEvents(cfg.MaxEvents), WithPopTimeout(cfg.PopTimeout)}
	coreDeps.RunnerOptions = append(runnerOpts, coreDeps.RunnerOptions...)

	core, err := NewCore(s, logger, coreDeps)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	svc.Core = core

	logger.Info("Service configured", loggingpkg.LogFields{
		"stream_backend": cfg.StreamBackend,
		"serializer":     serializer.Name(),
		"metrics":        cfg.MetricsEnabled,
		"admin":          cfg.AdminEnabled,
	})
	return svc, nil
}

// Start spawns the workers, serves the admin API when enabled and blocks
// until every worker unit has returned. The stream is closed on return.
func (s *Service) Start(ctx context.Context) error {
	defer func() {
		if err := s.Close(); err != nil {
			s.Logger.Error("Failed to close stream", err, nil)
		}
	}()

	if err := s.SpawnWorkers(ctx); err != nil {
		return err
	}

	adminCtx, stopAdmin := context.WithCancel(ctx)
	defer stopAdmin()
	adminErr := make(chan error, 1)
	if s.Config.AdminEnabled {
		handler := NewAdminHandler(s.Core, AdminOptions{
			Logger:             s.Logger,
			CORSAllowedOrigins: s.Config.AdminCORSAllowedOrigins,
			Gatherer:           s.gatherer,
		})
		addr := fmt.Sprintf(":%d", s.Config.AdminPort)
		go func() { adminErr <- ServeAdmin(adminCtx, addr, handler, s.Logger) }()
	} else {
		adminErr <- nil
	}

	werr := s.Wait()
	stopAdmin()
	return errors.Join(werr, <-adminErr)
}
