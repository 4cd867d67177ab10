package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse view of the process the workers run in.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	HeapBytes   uint64  `json:"heap_bytes"`
	Goroutines  uint64  `json:"goroutines"`
	SampledAtMs int64   `json:"sampled_at_ms"`
}

const (
	metricCPUSeconds = "/sched/cpu:seconds"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
	metricGoroutines = "/sched/goroutines:goroutines"
)

// resourceSampler reads runtime/metrics. CPU usage is the delta since the
// previous sample, so the first snapshot reports zero.
type resourceSampler struct {
	mu      sync.Mutex
	samples []metrics.Sample
	prevCPU float64
	prevAt  time.Time
	numCPU  float64
}

func newResourceSampler() *resourceSampler {
	return &resourceSampler{
		samples: []metrics.Sample{
			{Name: metricCPUSeconds},
			{Name: metricHeapBytes},
			{Name: metricGoroutines},
		},
		numCPU: float64(runtime.NumCPU()),
	}
}

func (r *resourceSampler) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	now := time.Now()
	usage := ResourceUsage{SampledAtMs: now.UnixMilli()}

	if v := r.samples[0].Value; v.Kind() == metrics.KindFloat64 {
		cpu := v.Float64()
		if !r.prevAt.IsZero() {
			wall := now.Sub(r.prevAt).Seconds()
			if wall > 0 && r.numCPU > 0 {
				usage.CPUPercent = (cpu - r.prevCPU) / wall / r.numCPU * 100
			}
		}
		r.prevCPU = cpu
		r.prevAt = now
	}
	if v := r.samples[1].Value; v.Kind() == metrics.KindUint64 {
		usage.HeapBytes = v.Uint64()
	}
	if v := r.samples[2].Value; v.Kind() == metrics.KindUint64 {
		usage.Goroutines = v.Uint64()
	} else {
		usage.Goroutines = uint64(runtime.NumGoroutine())
	}
	return usage
}
