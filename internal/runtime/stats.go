package runtime

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// LatencyMetrics describes recent round latencies.
type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

// ThroughputMetrics describes events handled in the last minute.
type ThroughputMetrics struct {
	CurrentRPS     float64 `json:"current_rps"`
	WindowSeconds  float64 `json:"window_seconds"`
	EventsInWindow uint64  `json:"events_in_window"`
}

// WorkerStatsSnapshot is a copy of a worker's counters, safe to encode.
type WorkerStatsSnapshot struct {
	UID             string            `json:"uid"`
	EventsProcessed uint64            `json:"events_processed"`
	RoundsFailed    uint64            `json:"rounds_failed"`
	EmptyPolls      uint64            `json:"empty_polls"`
	LastEventAt     time.Time         `json:"last_event_at,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	Latency         LatencyMetrics    `json:"latency"`
	Throughput      ThroughputMetrics `json:"throughput"`
	Resource        ResourceUsage     `json:"resource"`
}

// WorkerStats accumulates what a worker's runner observes. All clones of a
// worker feed the same instance. A nil *WorkerStats records nothing.
type WorkerStats struct {
	mu sync.Mutex

	uid        string
	processed  uint64
	failed     uint64
	emptyPolls uint64
	totalNs    int64
	lastAt     time.Time
	lastErr    string

	latency    *latencyWindow
	throughput *throughputWindow
	sampler    *resourceSampler
}

func newWorkerStats(uid string, sampler *resourceSampler) *WorkerStats {
	return &WorkerStats{
		uid:        uid,
		latency:    newLatencyWindow(latencySampleSize),
		throughput: newThroughputWindow(throughputWindowSize),
		sampler:    sampler,
	}
}

func (s *WorkerStats) recordEvent(d time.Duration, err error) {
	if s == nil {
		return
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++
	s.totalNs += int64(d)
	s.lastAt = now.UTC()
	if err != nil {
		s.failed++
		s.lastErr = err.Error()
	}
	s.latency.Add(d)
	s.throughput.Add(now)
}

func (s *WorkerStats) recordEmptyPoll() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.emptyPolls++
	s.mu.Unlock()
}

// Snapshot copies the current counters.
func (s *WorkerStats) Snapshot() WorkerStatsSnapshot {
	if s == nil {
		return WorkerStatsSnapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := WorkerStatsSnapshot{
		UID:             s.uid,
		EventsProcessed: s.processed,
		RoundsFailed:    s.failed,
		EmptyPolls:      s.emptyPolls,
		LastEventAt:     s.lastAt,
		LastError:       s.lastErr,
		Latency:         s.latency.Snapshot(),
		Throughput:      s.throughput.Snapshot(time.Now()),
		Resource:        s.sampler.Snapshot(),
	}
	if s.processed > 0 {
		snap.Latency.AverageNs = s.totalNs / int64(s.processed)
	}
	return snap
}

// StatsRegistry hands out one WorkerStats per worker UID.
type StatsRegistry struct {
	mu      sync.Mutex
	workers map[string]*WorkerStats
	sampler *resourceSampler
}

// NewStatsRegistry returns an empty registry.
func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{
		workers: make(map[string]*WorkerStats),
		sampler: newResourceSampler(),
	}
}

// For returns the stats of uid, creating them on first use.
func (r *StatsRegistry) For(uid string) *WorkerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.workers[uid]; ok {
		return s
	}
	s := newWorkerStats(uid, r.sampler)
	r.workers[uid] = s
	return s
}

// Snapshot returns every worker's stats sorted by UID.
func (r *StatsRegistry) Snapshot() []WorkerStatsSnapshot {
	r.mu.Lock()
	stats := make([]*WorkerStats, 0, len(r.workers))
	for _, s := range r.workers {
		stats = append(stats, s)
	}
	r.mu.Unlock()

	out := make([]WorkerStatsSnapshot, 0, len(stats))
	for _, s := range stats {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

// Snapshot reports percentiles over the retained samples. AverageNs is
// left for the caller, which knows the lifetime total.
func (lw *latencyWindow) Snapshot() LatencyMetrics {
	m := LatencyMetrics{LastNs: lw.last, SampleSize: lw.filled}
	if lw.filled == 0 {
		return m
	}
	sorted := make([]int64, lw.filled)
	if lw.filled < len(lw.samples) {
		copy(sorted, lw.samples[:lw.filled])
	} else {
		copy(sorted, lw.samples)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	m.P50Ns = percentile(sorted, 0.50)
	m.P95Ns = percentile(sorted, 0.95)
	m.P99Ns = percentile(sorted, 0.99)
	return m
}

// percentile interpolates linearly between the two closest ranks.
func percentile(sorted []int64, q float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + int64(float64(sorted[hi]-sorted[lo])*(pos-float64(lo)))
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, samples: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) Add(now time.Time) {
	tw.samples = append(tw.samples, now)
	tw.evict(now)
}

func (tw *throughputWindow) evict(now time.Time) {
	cutoff := now.Add(-tw.horizon)
	n := sort.Search(len(tw.samples), func(i int) bool { return !tw.samples[i].Before(cutoff) })
	if n > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[n:]...)
	}
}

func (tw *throughputWindow) Snapshot(now time.Time) ThroughputMetrics {
	tw.evict(now)
	if len(tw.samples) == 0 {
		return ThroughputMetrics{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return ThroughputMetrics{
		CurrentRPS:     float64(len(tw.samples)) / span.Seconds(),
		WindowSeconds:  span.Seconds(),
		EventsInWindow: uint64(len(tw.samples)),
	}
}
