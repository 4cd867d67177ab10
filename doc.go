// Package eventscore dispatches events to consumer functions grouped by
// consumer group. Producers put events on a Stream; every consumer group
// keeps its own cursor per event type, and each group is served by one
// worker whose runner pops an event, hands a copy to every consumer of the
// group concurrently and waits for all of them before popping again.
//
// Consumers are plain functions registered on a Core:
//
//	core.RegisterConsumer(onOrder, "orders", "billing", eventscore.WithClones(2))
//
// or declared from init functions with Declare and picked up by
// Core.DiscoverConsumers. Registrations are deduplicated on
// (identity, event type, group) and rejected once SpawnWorkers has run.
// SpawnWorkers compiles each group's pipeline into a worker, checking that
// the group is not empty, that all its consumers agree on the clone count
// and that they listen to a single event type.
//
// # Streams
//
// Backends live under stream/ and register themselves by name:
//   - memory: in-process log, the reference implementation
//   - redis: lists with shared cursors, optionally persisted
//   - sqlite, postgres: append-only table plus a cursor table
//   - kafka, nats, rabbitmq, aws, channel: brokers behind Watermill
//
// Blank-importing stream/streams registers all of them.
//
// # Service
//
// NewService builds the configured stream, logger and metrics from a
// Config (YAML file and EVENTSCORE_* environment variables) and Start runs
// the workers, optionally next to the admin API serving /healthz,
// /api/workers and /metrics.
//
// # Middleware
//
// Consumer functions are wrapped by the default chain: correlation IDs,
// logging, OpenTelemetry tracing, Prometheus metrics and panic recovery.
// JobHooksMiddleware adds OnJobStart, OnJobDone and OnJobError callbacks.
// A failing or panicking consumer is logged; the event is not redelivered.
package eventscore
