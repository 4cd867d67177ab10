package runtime

import (
	"context"

	"github.com/drblury/eventscore/event"
)

// WorkerRunner is what a spawned unit executes. *Runner implements it.
type WorkerRunner interface {
	Run(ctx context.Context) error
}

// Worker is the compiled form of a pipeline: one runner shared by Clones
// concurrent units. It is read-only after compilation.
type Worker struct {
	UID       string
	Name      string
	Clones    int
	EventType event.Type
	Group     event.Group
	Consumers []string
	Runner    WorkerRunner
}
