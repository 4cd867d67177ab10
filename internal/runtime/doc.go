/*
Package runtime turns registered consumers into running workers.

# Flow

Consumers are registered on a Core, either directly or through the
discovery catalog. Registrations for one consumer group form a Pipeline;
an item is identified by (identity, event type, group) and re-registering
the same item is ignored.

SpawnWorkers compiles each pipeline with a PipelineProcessor. Compilation
checks, in order, that the pipeline is not empty, that every item asks for
the same number of clones and that every item listens to the same event
type. Only then are consumers and the runner built. The resulting Worker
is handed to a WorkerSpawner, which starts Clones units all sharing the
worker's Runner.

A Runner pops one event at a time for its (event type, group) cursor and
runs every consumer on its own goroutine with a private copy of the event.
The next pop waits until all consumers have returned. A failing or
panicking consumer is logged and does not affect the other consumers of
the round; events are never redelivered.

# Files

  - core.go: registration, discovery, spawn and produce
  - pipeline.go, processor.go, worker.go: compilation
  - runner.go, consumer.go, spawner.go: execution
  - middleware.go, hooks.go: consumer decoration
  - metrics.go, stats.go, resources.go, admin.go: observability
  - publisher.go: the producer

# Sub-packages

  - config/: configuration loading and validation
  - discovery/: registration records and the declaration catalog
  - errors/: sentinel errors
  - ids/: ULID generation
  - jsoncodec/: JSON encoding through sonic
  - logging/: the ServiceLogger interface and its adapters
*/
package runtime
