package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/internal/runtime/discovery"
	errspkg "github.com/drblury/eventscore/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
	"github.com/drblury/eventscore/stream"
)

// Registration is the typed record of a registered consumer.
type Registration = discovery.Registration

// RegistrationOption customises a registration.
type RegistrationOption = discovery.Option

var (
	// WithClones sets how many concurrent units the consumer's worker runs.
	WithClones = discovery.WithClones
	// WithIdentity overrides the function-name identity used for dedup.
	WithIdentity = discovery.WithIdentity
)

// CoreDependencies holds optional collaborators. Zero values get defaults.
type CoreDependencies struct {
	Spawner   WorkerSpawner
	Processor *PipelineProcessor
	Catalog   *discovery.Catalog
	Metrics   *Metrics
	Stats     *StatsRegistry
	// RunnerOptions are forwarded to every runner built by the default
	// processor.
	RunnerOptions []RunnerOption
	// Middlewares are appended after the default chain.
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
	PutTimeout                time.Duration
}

// Core owns the registered pipelines and turns them into running workers.
// Its state moves once from NEW to SPAWNED; registrations are rejected
// afterwards.
type Core struct {
	stream    stream.Stream
	logger    loggingpkg.ServiceLogger
	producer  *Producer
	processor *PipelineProcessor
	spawner   WorkerSpawner
	catalog   *discovery.Catalog
	stats     *StatsRegistry
	metrics   *Metrics

	mu        sync.Mutex
	pipelines map[event.Group]*Pipeline
	regErrs   []error
	workers   []*Worker
	handles   []*Handle
	spawned   bool
}

// NewCore builds a core around s.
func NewCore(s stream.Stream, logger loggingpkg.ServiceLogger, deps CoreDependencies) (*Core, error) {
	if s == nil {
		return nil, errspkg.ErrStreamRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	producer, err := NewProducer(s, deps.PutTimeout, logger, deps.Metrics)
	if err != nil {
		return nil, err
	}
	c := &Core{
		stream:    s,
		logger:    logger,
		producer:  producer,
		processor: deps.Processor,
		spawner:   deps.Spawner,
		catalog:   deps.Catalog,
		stats:     deps.Stats,
		metrics:   deps.Metrics,
		pipelines: make(map[event.Group]*Pipeline),
	}
	if c.spawner == nil {
		c.spawner = NewGoroutineSpawner(logger)
	}
	if c.catalog == nil {
		c.catalog = discovery.DefaultCatalog
	}
	if c.stats == nil {
		c.stats = NewStatsRegistry()
	}
	if c.processor == nil {
		var middlewares []MiddlewareRegistration
		if !deps.DisableDefaultMiddlewares {
			middlewares = DefaultMiddlewares(logger, deps.Metrics)
		}
		middlewares = append(middlewares, deps.Middlewares...)

		opts := []RunnerOption{WithRunnerLogger(logger), WithMetrics(deps.Metrics)}
		opts = append(opts, deps.RunnerOptions...)
		c.processor = NewPipelineProcessor(NewConsumerBuilder(logger, middlewares...), opts...)
		c.processor.Stats = c.stats
	}
	return c, nil
}

// Stream returns the stream every worker polls.
func (c *Core) Stream() stream.Stream { return c.stream }

// Stats returns the per-worker statistics registry.
func (c *Core) Stats() *StatsRegistry { return c.stats }

// Register adds reg to the pipeline of its group. A registration with the
// same identity, event type and group as an existing one is ignored.
func (c *Core) Register(reg Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spawned {
		return fmt.Errorf("%w: cannot register %s", errspkg.ErrAlreadySpawned, reg.Identity)
	}
	p, ok := c.pipelines[reg.Group]
	if !ok {
		p = NewPipeline(reg.Group)
		c.pipelines[reg.Group] = p
	}
	fields := loggingpkg.LogFields{
		"consumer":   reg.Identity,
		"event_type": string(reg.Event),
		"group":      string(reg.Group),
		"clones":     reg.Clones,
	}
	if !p.Add(itemFromRegistration(reg)) {
		c.logger.Debug("Consumer already registered", fields)
		return nil
	}
	c.logger.Debug("Consumer registered", fields)
	return nil
}

// RegisterConsumer registers fn for (eventType, group).
func (c *Core) RegisterConsumer(fn ConsumerFunc, eventType event.Type, group event.Group, opts ...RegistrationOption) error {
	reg, err := discovery.NewRegistration(fn, eventType, group, opts...)
	if err != nil {
		return err
	}
	return c.Register(reg)
}

// Consumer returns a decorator registering the decorated function and
// returning it unchanged. Failures are reported by the next SpawnWorkers
// call, once.
func (c *Core) Consumer(eventType event.Type, group event.Group, opts ...RegistrationOption) func(ConsumerFunc) ConsumerFunc {
	return func(fn ConsumerFunc) ConsumerFunc {
		if err := c.RegisterConsumer(fn, eventType, group, opts...); err != nil {
			c.logger.Error("Consumer registration failed", err, loggingpkg.LogFields{
				"event_type": string(eventType),
				"group":      string(group),
			})
			c.mu.Lock()
			c.regErrs = append(c.regErrs, err)
			c.mu.Unlock()
		}
		return fn
	}
}

// DiscoverConsumers registers every catalog declaration living in a package
// under root and returns how many were accepted.
func (c *Core) DiscoverConsumers(root string) (int, error) {
	regs, err := discovery.Discover(root, c.catalog)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, reg := range regs {
		if err := c.Register(reg); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	c.logger.Info("Consumers discovered", loggingpkg.LogFields{"root": root, "count": n})
	return n, errors.Join(errs...)
}

// SpawnWorkers compiles every pipeline and starts its worker. It does
// nothing once spawned or when nothing is registered. Compilation happens
// once; a compilation error leaves the core in NEW without spawning.
// Pending decorator failures are returned and then forgotten, so a later
// call spawns whatever was registered successfully.
func (c *Core) SpawnWorkers(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spawned {
		return nil
	}
	if len(c.regErrs) > 0 {
		errs := c.regErrs
		c.regErrs = nil
		return errors.Join(errs...)
	}
	if len(c.pipelines) == 0 {
		c.logger.Info("No consumers registered; nothing to spawn", nil)
		return nil
	}
	if c.workers == nil {
		workers, err := c.compileLocked()
		if err != nil {
			return err
		}
		c.workers = workers
	}

	c.spawned = true
	for _, w := range c.workers {
		handles, err := c.spawner.Spawn(ctx, w)
		if err != nil {
			return fmt.Errorf("spawn worker for group %q: %w", w.Group, err)
		}
		c.handles = append(c.handles, handles...)
		c.logger.Info("Worker spawned", loggingpkg.LogFields{
			"worker":     w.UID,
			"event_type": string(w.EventType),
			"group":      string(w.Group),
			"clones":     w.Clones,
			"consumers":  w.Consumers,
		})
	}
	return nil
}

func (c *Core) compileLocked() ([]*Worker, error) {
	groups := make([]event.Group, 0, len(c.pipelines))
	for g := range c.pipelines {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	workers := make([]*Worker, 0, len(groups))
	for _, g := range groups {
		w, err := c.processor.Process(c.pipelines[g].clone(), c)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// Produce puts evt on the stream.
func (c *Core) Produce(ctx context.Context, evt event.Event, opts ...stream.Option) error {
	return c.producer.Produce(ctx, evt, opts...)
}

// Workers returns the compiled workers, nil before the first spawn.
func (c *Core) Workers() []*Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Worker(nil), c.workers...)
}

// Pipelines returns copies of the registered pipelines sorted by group.
func (c *Core) Pipelines() []*Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Pipeline, 0, len(c.pipelines))
	for _, p := range c.pipelines {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// Spawned reports whether SpawnWorkers has started the workers.
func (c *Core) Spawned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawned
}

// Handles returns the units started by SpawnWorkers.
func (c *Core) Handles() []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Handle(nil), c.handles...)
}

// Wait blocks until every spawned unit returns.
func (c *Core) Wait() error {
	return waitHandles(c.Handles())
}

// Close closes the stream. Cancel the spawn context first.
func (c *Core) Close() error {
	return c.stream.Close()
}
