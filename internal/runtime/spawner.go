package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	idspkg "github.com/drblury/eventscore/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
)

// WorkerSpawner starts the concurrent units of a worker.
type WorkerSpawner interface {
	Spawn(ctx context.Context, w *Worker) ([]*Handle, error)
}

// Handle tracks one running clone of a worker.
type Handle struct {
	ID        ulid.ULID
	Worker    *Worker
	Clone     int
	StartedAt time.Time

	done chan struct{}
	err  error
}

func newHandle(w *Worker, clone int) *Handle {
	return &Handle{
		ID:        idspkg.New(),
		Worker:    w,
		Clone:     clone,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

// Done is closed when the unit returns.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the unit's result. Only valid after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// GoroutineSpawner runs every clone on its own goroutine bound to the
// context given to Spawn.
type GoroutineSpawner struct {
	logger loggingpkg.ServiceLogger

	mu      sync.Mutex
	handles []*Handle
}

// NewGoroutineSpawner returns a spawner logging unit lifecycles to logger.
func NewGoroutineSpawner(logger loggingpkg.ServiceLogger) *GoroutineSpawner {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	return &GoroutineSpawner{logger: logger}
}

// Spawn starts w.Clones goroutines, each calling w.Runner.Run(ctx).
func (s *GoroutineSpawner) Spawn(ctx context.Context, w *Worker) ([]*Handle, error) {
	if w == nil || w.Runner == nil {
		return nil, errors.New("spawn: worker has no runner")
	}
	if w.Clones < 1 {
		return nil, fmt.Errorf("spawn %s: clones must be at least 1, got %d", w.Name, w.Clones)
	}

	handles := make([]*Handle, 0, w.Clones)
	for i := 0; i < w.Clones; i++ {
		h := newHandle(w, i)
		handles = append(handles, h)
		fields := loggingpkg.LogFields{
			"worker":     w.Name,
			"unit":       h.ID.String(),
			"clone":      i,
			"event_type": string(w.EventType),
			"group":      string(w.Group),
		}
		s.logger.Info("Worker unit started", fields)
		go func() {
			err := w.Runner.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Worker unit stopped", err, fields)
			} else {
				s.logger.Info("Worker unit stopped", fields)
			}
			h.finish(err)
		}()
	}

	s.mu.Lock()
	s.handles = append(s.handles, handles...)
	s.mu.Unlock()
	return handles, nil
}

// Handles returns every handle started so far.
func (s *GoroutineSpawner) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// Wait blocks until every spawned unit has returned.
func (s *GoroutineSpawner) Wait() error {
	return waitHandles(s.Handles())
}

// waitHandles joins the errors of all handles. Cancellation is a normal
// shutdown and not reported.
func waitHandles(handles []*Handle) error {
	var errs []error
	for _, h := range handles {
		<-h.Done()
		if err := h.Err(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("worker %s clone %d: %w", h.Worker.Name, h.Clone, err))
		}
	}
	return errors.Join(errs...)
}
