package runtime

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drblury/eventscore/event"
	errspkg "github.com/drblury/eventscore/internal/runtime/errors"
	"github.com/drblury/eventscore/stream"
)

func TestNewRunnerBoundaries(t *testing.T) {
	s := &scriptedStream{}
	one := []*Consumer{NewConsumer("c", noopConsumer, nil)}

	tests := []struct {
		name      string
		consumers []*Consumer
		max       int
		wantErr   error
	}{
		{"no consumers unbounded", nil, Unbounded, errspkg.ErrNoConsumers},
		{"no consumers bounded", nil, 3, errspkg.ErrNoConsumers},
		{"no consumers zero max", nil, 0, errspkg.ErrNoConsumers},
		{"zero max", one, 0, errspkg.ErrInvalidMaxEvents},
		{"minus two", one, -2, errspkg.ErrInvalidMaxEvents},
		{"unbounded", one, -1, nil},
		{"one", one, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRunner(s, "t", "g", tt.consumers, WithMaxEvents(tt.max))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.max, r.MaxEvents())
		})
	}

	_, err := NewRunner(nil, "t", "g", one)
	assert.ErrorIs(t, err, errspkg.ErrStreamRequired)
}

func TestRunnerDefaults(t *testing.T) {
	r, err := NewRunner(&scriptedStream{}, "t", "g", []*Consumer{NewConsumer("c", noopConsumer, nil)})
	require.NoError(t, err)
	assert.Equal(t, Unbounded, r.MaxEvents())
	assert.Equal(t, event.Type("t"), r.EventType())
	assert.Equal(t, event.Group("g"), r.Group())
}

// Two events, two consumers: every consumer sees both events in order and
// both lanes of a round finish before the next pop.
func TestRunnerFanOutJoinsBeforeNextPop(t *testing.T) {
	e1 := newEvent(t, "t", "e1")
	e2 := newEvent(t, "t", "e2")

	var (
		mu       sync.Mutex
		trace    []string
		inFlight atomic.Int32
	)
	note := func(s string) {
		mu.Lock()
		trace = append(trace, s)
		mu.Unlock()
	}

	s := &scriptedStream{
		script: []popResult{{evt: e1}, {evt: e2}},
		beforePop: func(int) {
			assert.Zero(t, inFlight.Load(), "pop while consumers still running")
			note("pop")
		},
	}
	lane := func(name string) ConsumerFunc {
		return func(_ context.Context, evt event.Event) error {
			inFlight.Add(1)
			defer inFlight.Add(-1)
			time.Sleep(10 * time.Millisecond)
			note(name + ":" + eventLabel(evt))
			return nil
		}
	}

	r, err := NewRunner(s, "t", "g", []*Consumer{
		NewConsumer("a", lane("a"), nil),
		NewConsumer("b", lane("b"), nil),
	}, WithMaxEvents(2))
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, trace, 6)
	assert.Equal(t, "pop", trace[0])
	assert.ElementsMatch(t, []string{"a:e1", "b:e1"}, trace[1:3])
	assert.Equal(t, "pop", trace[3])
	assert.ElementsMatch(t, []string{"a:e2", "b:e2"}, trace[4:6])
	assert.Equal(t, 2, s.popCount())
	assert.Equal(t, RunStats{Processed: 2}, r.LastStats())
}

func TestRunnerIgnoresEmptyPolls(t *testing.T) {
	e1 := newEvent(t, "t", "e1")
	e2 := newEvent(t, "t", "e2")
	s := &scriptedStream{script: []popResult{
		{evt: e1},
		{err: stream.ErrEmptyStream},
		{evt: e2},
	}}

	var seen []string
	r, err := NewRunner(s, "t", "g", []*Consumer{
		NewConsumer("c", func(_ context.Context, evt event.Event) error {
			seen = append(seen, eventLabel(evt))
			return nil
		}, nil),
	}, WithMaxEvents(2))
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"e1", "e2"}, seen)
	assert.Equal(t, 3, s.popCount())
	assert.Equal(t, RunStats{Processed: 2, EmptyPolls: 1}, r.LastStats())
}

// Two runner instances on one cursor split the log between them without
// duplicates or gaps.
func TestRunnerClonesShareCursor(t *testing.T) {
	const n = 60
	s := newMemoryStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		evt := newEvent(t, "t", strconv.Itoa(i))
		want = append(want, eventLabel(evt))
		require.NoError(t, s.Put(ctx, evt))
	}

	var total atomic.Int32
	seen := make([][]string, 2)
	runners := make([]*Runner, 2)
	for i := range runners {
		r, err := NewRunner(s, "t", "g", []*Consumer{
			NewConsumer("c", func(_ context.Context, evt event.Event) error {
				seen[i] = append(seen[i], eventLabel(evt))
				if total.Add(1) == n {
					cancel()
				}
				return nil
			}, nil),
		}, WithPopTimeout(20*time.Millisecond))
		require.NoError(t, err)
		runners[i] = r
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.Run(ctx)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
	union := append(append([]string(nil), seen[0]...), seen[1]...)
	sort.Strings(union)
	sort.Strings(want)
	assert.Equal(t, want, union)
	assert.Equal(t, n, s.Cursor("t", "g"))
}

func TestRunnerIsolatesFailingLanes(t *testing.T) {
	s := &scriptedStream{script: []popResult{{evt: newEvent(t, "t", "e1")}}}
	logger := newTestLogger()

	var healthy atomic.Bool
	r, err := NewRunner(s, "t", "g", []*Consumer{
		NewConsumer("fails", func(context.Context, event.Event) error { return errors.New("boom") }, nil),
		NewConsumer("panics", func(context.Context, event.Event) error { panic("kaput") }, nil),
		NewConsumer("healthy", func(context.Context, event.Event) error {
			healthy.Store(true)
			return nil
		}, nil),
	}, WithMaxEvents(1), WithRunnerLogger(logger))
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	assert.True(t, healthy.Load())
	assert.Equal(t, RunStats{Processed: 1, ConsumerFailures: 2}, r.LastStats())

	failures := logger.find("Consumer failed")
	require.Len(t, failures, 2)
	consumers := []any{failures[0].fields["consumer"], failures[1].fields["consumer"]}
	assert.ElementsMatch(t, []any{"fails", "panics"}, consumers)
	for _, f := range failures {
		assert.Equal(t, "t", f.fields["event_type"])
		assert.Equal(t, "g", f.fields["group"])
	}
}

func TestRunnerPropagatesProtocolViolations(t *testing.T) {
	s := &scriptedStream{script: []popResult{{err: stream.ErrTooManyData}}}
	r, err := NewRunner(s, "t", "g", []*Consumer{NewConsumer("c", noopConsumer, nil)})
	require.NoError(t, err)

	err = r.Run(context.Background())
	assert.ErrorIs(t, err, stream.ErrTooManyData)
	assert.Equal(t, 1, s.popCount())
}

func TestRunnerStopsOnCancel(t *testing.T) {
	s := newMemoryStream(t)
	r, err := NewRunner(s, "t", "g", []*Consumer{NewConsumer("c", noopConsumer, nil)},
		WithPopTimeout(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, r.LastStats().EmptyPolls)
}

func TestRunnerPopsBlockingWithTimeout(t *testing.T) {
	s := &scriptedStream{script: []popResult{{evt: newEvent(t, "t", "e1")}}}
	r, err := NewRunner(s, "t", "g", []*Consumer{NewConsumer("c", noopConsumer, nil)},
		WithMaxEvents(1), WithPopTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, s.popOpts, 1)
	assert.True(t, s.popOpts[0].Block)
	assert.Equal(t, time.Second, s.popOpts[0].Timeout)
}

func TestRunnerRecordsRoundSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s := &scriptedStream{script: []popResult{{evt: newEvent(t, "t", "e1")}}}
	r, err := NewRunner(s, "t", "g", []*Consumer{
		NewConsumer("fails", func(context.Context, event.Event) error { return errors.New("boom") }, nil),
	}, WithMaxEvents(1), WithTracer(tp.Tracer("test")))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "eventscore.round", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestRunnerFeedsMetricsAndStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())
	stats := NewStatsRegistry()

	s := &scriptedStream{script: []popResult{
		{evt: newEvent(t, "t", "e1")},
		{err: stream.ErrEmptyStream},
		{evt: newEvent(t, "t", "e2")},
	}}
	r, err := NewRunner(s, "t", "g", []*Consumer{NewConsumer("c", noopConsumer, nil)},
		WithMaxEvents(2), WithMetrics(m), WithStats(stats.For("w1")))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("t", "g")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emptyPollsTotal.WithLabelValues("t", "g")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.roundDuration))

	snap := stats.For("w1").Snapshot()
	assert.Equal(t, uint64(2), snap.EventsProcessed)
	assert.Equal(t, uint64(1), snap.EmptyPolls)
	assert.Zero(t, snap.RoundsFailed)
	assert.Equal(t, 2, snap.Latency.SampleSize)
}
