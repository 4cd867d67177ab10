package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drblury/eventscore/event"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/memory"
)

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type logSink struct {
	mu      sync.Mutex
	entries []logEntry
}

// testLogger records every entry into a sink shared by all With children.
type testLogger struct {
	sink   *logSink
	fields loggingpkg.LogFields
}

func newTestLogger() *testLogger {
	return &testLogger{sink: &logSink{}}
}

func (l *testLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &testLogger{sink: l.sink, fields: merged}
}

func (l *testLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.sink.mu.Lock()
	l.sink.entries = append(l.sink.entries, logEntry{level: level, msg: msg, err: err, fields: merged})
	l.sink.mu.Unlock()
}

func (l *testLogger) Debug(msg string, fields loggingpkg.LogFields) { l.record("debug", msg, nil, fields) }
func (l *testLogger) Info(msg string, fields loggingpkg.LogFields)  { l.record("info", msg, nil, fields) }
func (l *testLogger) Trace(msg string, fields loggingpkg.LogFields) { l.record("trace", msg, nil, fields) }
func (l *testLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}

// find returns the entries with the given message.
func (l *testLogger) find(msg string) []logEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	var out []logEntry
	for _, e := range l.sink.entries {
		if e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

type popResult struct {
	evt event.Event
	err error
}

// scriptedStream answers pops from a fixed script. Once the script is
// exhausted it reports a closed stream, which ends any runner.
type scriptedStream struct {
	mu        sync.Mutex
	script    []popResult
	pops      int
	popOpts   []stream.Options
	puts      []event.Event
	putOpts   []stream.Options
	putErr    error
	beforePop func(n int)
}

func (s *scriptedStream) Put(_ context.Context, evt event.Event, opts ...stream.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putOpts = append(s.putOpts, stream.NewOptions(opts...))
	if s.putErr != nil {
		return s.putErr
	}
	s.puts = append(s.puts, evt)
	return nil
}

func (s *scriptedStream) Pop(_ context.Context, _ event.Type, _ event.Group, opts ...stream.Option) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.pops
	s.pops++
	s.popOpts = append(s.popOpts, stream.NewOptions(opts...))
	if s.beforePop != nil {
		s.beforePop(n)
	}
	if n >= len(s.script) {
		return event.Event{}, stream.ErrStreamClosed
	}
	return s.script[n].evt, s.script[n].err
}

func (s *scriptedStream) Close() error { return nil }

func (s *scriptedStream) popCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pops
}

type staticStreams struct{ s stream.Stream }

func (p staticStreams) Stream() stream.Stream { return p.s }

// countingSpawner records workers without running them.
type countingSpawner struct {
	mu      sync.Mutex
	calls   int
	workers []*Worker
	err     error
}

func (s *countingSpawner) Spawn(_ context.Context, w *Worker) ([]*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	s.workers = append(s.workers, w)
	return nil, nil
}

func (s *countingSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func newEvent(t *testing.T, eventType event.Type, id string) event.Event {
	t.Helper()
	evt, err := event.New(eventType, map[string]any{"id": id})
	require.NoError(t, err)
	return evt
}

func eventLabel(evt event.Event) string {
	id, _ := evt.StringValue("id")
	return id
}

func noopConsumer(context.Context, event.Event) error { return nil }

func otherConsumer(context.Context, event.Event) error { return nil }

func newMemoryStream(t *testing.T) *memory.Stream {
	t.Helper()
	s := memory.New(nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}
