package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventscore/event"
	errspkg "github.com/drblury/eventscore/internal/runtime/errors"
	"github.com/drblury/eventscore/stream"
)

type builderCalls struct {
	consumers int
	runners   int
}

func countingProcessor(calls *builderCalls) *PipelineProcessor {
	pp := NewPipelineProcessor(func(item PipelineItem) (*Consumer, error) {
		calls.consumers++
		return NewConsumer(item.Identity, item.Func, nil), nil
	})
	pp.RunnerBuilder = func(s stream.Stream, eventType event.Type, group event.Group, consumers []*Consumer, opts ...RunnerOption) (WorkerRunner, error) {
		calls.runners++
		return DefaultRunnerBuilder(s, eventType, group, consumers, opts...)
	}
	return pp
}

func pipelineOf(group event.Group, items ...PipelineItem) *Pipeline {
	p := NewPipeline(group)
	for _, item := range items {
		item.Group = group
		p.Add(item)
	}
	return p
}

func TestProcessBuildsWorker(t *testing.T) {
	calls := &builderCalls{}
	p := pipelineOf("billing",
		PipelineItem{Func: noopConsumer, Identity: "pkg.b", Event: "orders", Clones: 3},
		PipelineItem{Func: otherConsumer, Identity: "pkg.a", Event: "orders", Clones: 3},
	)

	w, err := countingProcessor(calls).Process(p, staticStreams{newMemoryStream(t)})
	require.NoError(t, err)

	assert.Equal(t, p.UID, w.UID)
	assert.Equal(t, p.UID, w.Name)
	assert.Equal(t, 3, w.Clones)
	assert.Equal(t, event.Type("orders"), w.EventType)
	assert.Equal(t, event.Group("billing"), w.Group)
	assert.Equal(t, []string{"pkg.a", "pkg.b"}, w.Consumers)
	assert.Equal(t, builderCalls{consumers: 2, runners: 1}, *calls)

	r, ok := w.Runner.(*Runner)
	require.True(t, ok)
	assert.Equal(t, event.Type("orders"), r.EventType())
	assert.Equal(t, event.Group("billing"), r.Group())
}

func TestProcessValidationCallsNoBuilder(t *testing.T) {
	tests := []struct {
		name    string
		items   []PipelineItem
		wantErr error
	}{
		{
			name:    "empty",
			wantErr: errspkg.ErrEmptyPipeline,
		},
		{
			name: "clones mismatch",
			items: []PipelineItem{
				{Func: noopConsumer, Identity: "a", Event: "t", Clones: 1},
				{Func: noopConsumer, Identity: "b", Event: "t", Clones: 2},
			},
			wantErr: errspkg.ErrClonesMismatch,
		},
		{
			name: "unrelated consumers",
			items: []PipelineItem{
				{Func: noopConsumer, Identity: "a", Event: "t1", Clones: 1},
				{Func: noopConsumer, Identity: "b", Event: "t2", Clones: 1},
			},
			wantErr: errspkg.ErrUnrelatedConsumers,
		},
		{
			name: "clones checked before event types",
			items: []PipelineItem{
				{Func: noopConsumer, Identity: "a", Event: "t1", Clones: 1},
				{Func: noopConsumer, Identity: "b", Event: "t2", Clones: 2},
			},
			wantErr: errspkg.ErrClonesMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := &builderCalls{}
			w, err := countingProcessor(calls).Process(pipelineOf("g", tt.items...), staticStreams{&scriptedStream{}})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, w)
			assert.Equal(t, builderCalls{}, *calls)
		})
	}
}

func TestProcessBuilderErrors(t *testing.T) {
	p := pipelineOf("g", PipelineItem{Func: noopConsumer, Identity: "a", Event: "t", Clones: 1})
	boom := errors.New("boom")

	pp := NewPipelineProcessor(func(PipelineItem) (*Consumer, error) { return nil, boom })
	_, err := pp.Process(p, staticStreams{&scriptedStream{}})
	assert.ErrorIs(t, err, boom)

	pp = NewPipelineProcessor(NewConsumerBuilder(nil))
	pp.RunnerBuilder = func(stream.Stream, event.Type, event.Group, []*Consumer, ...RunnerOption) (WorkerRunner, error) {
		return nil, boom
	}
	_, err = pp.Process(p, staticStreams{&scriptedStream{}})
	assert.ErrorIs(t, err, boom)

	pp = NewPipelineProcessor(NewConsumerBuilder(nil), WithMaxEvents(0))
	_, err = pp.Process(p, staticStreams{&scriptedStream{}})
	assert.ErrorIs(t, err, errspkg.ErrInvalidMaxEvents)
}

func TestProcessAttachesWorkerStats(t *testing.T) {
	p := pipelineOf("g", PipelineItem{Func: noopConsumer, Identity: "a", Event: "t", Clones: 1})
	pp := NewPipelineProcessor(NewConsumerBuilder(nil))
	pp.Stats = NewStatsRegistry()

	w, err := pp.Process(p, staticStreams{&scriptedStream{}})
	require.NoError(t, err)
	r := w.Runner.(*Runner)
	assert.Same(t, pp.Stats.For(p.UID), r.stats)
}
