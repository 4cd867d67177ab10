package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
)

// AdminSource is what the admin API reports on. *Core implements it.
type AdminSource interface {
	Workers() []*Worker
	Stats() *StatsRegistry
	Spawned() bool
}

// WorkerView is the JSON shape of one worker on /api/workers.
type WorkerView struct {
	UID       string              `json:"uid"`
	EventType event.Type          `json:"event_type"`
	Group     event.Group         `json:"group"`
	Clones    int                 `json:"clones"`
	Consumers []string            `json:"consumers"`
	Stats     WorkerStatsSnapshot `json:"stats"`
}

// AdminOptions configures NewAdminHandler.
type AdminOptions struct {
	Logger             loggingpkg.ServiceLogger
	CORSAllowedOrigins []string
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

type adminAPI struct {
	source  AdminSource
	logger  loggingpkg.ServiceLogger
	origins []string
}

// NewAdminHandler returns the router serving /api/workers, /healthz and
// /metrics.
func NewAdminHandler(source AdminSource, opts AdminOptions) http.Handler {
	api := &adminAPI{source: source, logger: opts.Logger, origins: opts.CORSAllowedOrigins}
	if api.logger == nil {
		api.logger = loggingpkg.Nop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(api.cors)

	r.Get("/healthz", api.handleHealth)
	r.Get("/api/workers", api.handleWorkers)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (a *adminAPI) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := a.allowedOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin,
// or "" when it is not allowed.
func (a *adminAPI) allowedOrigin(origin string) string {
	for _, allowed := range a.origins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

func (a *adminAPI) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, map[string]any{
		"status":  "ok",
		"spawned": a.source.Spawned(),
	})
}

func (a *adminAPI) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	stats := a.source.Stats()
	workers := a.source.Workers()
	views := make([]WorkerView, 0, len(workers))
	for _, wk := range workers {
		view := WorkerView{
			UID:       wk.UID,
			EventType: wk.EventType,
			Group:     wk.Group,
			Clones:    wk.Clones,
			Consumers: wk.Consumers,
		}
		if stats != nil {
			view.Stats = stats.For(wk.UID).Snapshot()
		}
		views = append(views, view)
	}
	a.writeJSON(w, views)
}

func (a *adminAPI) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Write(w, v); err != nil {
		a.logger.Error("Failed to encode admin response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// adminShutdownTimeout bounds graceful shutdown in ServeAdmin.
const adminShutdownTimeout = 5 * time.Second

// ServeAdmin serves handler on addr until ctx ends, then shuts down
// gracefully.
func ServeAdmin(ctx context.Context, addr string, handler http.Handler, logger loggingpkg.ServiceLogger) error {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting admin server", loggingpkg.LogFields{"address": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
