package runtime

import (
	"fmt"
	"sort"

	"github.com/drblury/eventscore/event"
	errspkg "github.com/drblury/eventscore/internal/runtime/errors"
	"github.com/drblury/eventscore/stream"
)

// StreamProvider hands the processor the stream runners should poll.
type StreamProvider interface {
	Stream() stream.Stream
}

// RunnerBuilder creates the runner of a worker.
type RunnerBuilder func(s stream.Stream, eventType event.Type, group event.Group, consumers []*Consumer, opts ...RunnerOption) (WorkerRunner, error)

// DefaultRunnerBuilder builds a *Runner.
func DefaultRunnerBuilder(s stream.Stream, eventType event.Type, group event.Group, consumers []*Consumer, opts ...RunnerOption) (WorkerRunner, error) {
	return NewRunner(s, eventType, group, consumers, opts...)
}

// PipelineProcessor validates a pipeline and compiles it into a Worker.
type PipelineProcessor struct {
	ConsumerBuilder ConsumerBuilder
	RunnerBuilder   RunnerBuilder
	// RunnerOptions are forwarded to every runner.
	RunnerOptions []RunnerOption
	// Stats, when set, gives every worker its own WorkerStats.
	Stats *StatsRegistry
}

// NewPipelineProcessor returns a processor with the default builders.
func NewPipelineProcessor(consumers ConsumerBuilder, opts ...RunnerOption) *PipelineProcessor {
	return &PipelineProcessor{
		ConsumerBuilder: consumers,
		RunnerBuilder:   DefaultRunnerBuilder,
		RunnerOptions:   opts,
	}
}

// Process validates p completely before calling any builder: no items,
// then differing clone counts, then differing event types.
func (pp *PipelineProcessor) Process(p *Pipeline, streams StreamProvider) (*Worker, error) {
	items := p.Items()
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: group %q", errspkg.ErrEmptyPipeline, p.Group)
	}
	clones := distinct(items, func(i PipelineItem) int { return i.Clones })
	if len(clones) > 1 {
		return nil, fmt.Errorf("%w: group %q declares %v", errspkg.ErrClonesMismatch, p.Group, clones)
	}
	types := distinct(items, func(i PipelineItem) event.Type { return i.Event })
	if len(types) > 1 {
		return nil, fmt.Errorf("%w: group %q listens to %v", errspkg.ErrUnrelatedConsumers, p.Group, types)
	}

	consumers := make([]*Consumer, 0, len(items))
	identities := make([]string, 0, len(items))
	for _, item := range items {
		c, err := pp.ConsumerBuilder(item)
		if err != nil {
			return nil, fmt.Errorf("build consumer %s: %w", item.Identity, err)
		}
		consumers = append(consumers, c)
		identities = append(identities, item.Identity)
	}

	opts := append([]RunnerOption(nil), pp.RunnerOptions...)
	if pp.Stats != nil {
		opts = append(opts, WithStats(pp.Stats.For(p.UID)))
	}
	runner, err := pp.RunnerBuilder(streams.Stream(), types[0], p.Group, consumers, opts...)
	if err != nil {
		return nil, fmt.Errorf("build runner for group %q: %w", p.Group, err)
	}

	return &Worker{
		UID:       p.UID,
		Name:      p.UID,
		Clones:    clones[0],
		EventType: types[0],
		Group:     p.Group,
		Consumers: identities,
		Runner:    runner,
	}, nil
}

func distinct[T int | event.Type](items []PipelineItem, field func(PipelineItem) T) []T {
	seen := make(map[T]struct{})
	var out []T
	for _, item := range items {
		v := field(item)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
