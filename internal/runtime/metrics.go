package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/eventscore/event"
)

const (
	metricsNamespace = "eventscore"
	metricsSubsystem = "runner"
)

// Metrics holds the Prometheus collectors fed by runners and the metrics
// middleware. A nil *Metrics records nothing.
type Metrics struct {
	mu sync.Mutex

	eventsTotal      *prometheus.CounterVec
	emptyPollsTotal  *prometheus.CounterVec
	invocationsTotal *prometheus.CounterVec
	consumerDuration *prometheus.HistogramVec
	roundDuration    *prometheus.HistogramVec
	producedTotal    *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		},
		labels,
	)
}

// NewMetrics creates the collectors. Nothing is registered until Register.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	streamLabels := []string{"event_type", "group"}
	consumerLabels := []string{"event_type", "group", "consumer"}
	return &Metrics{
		registerer:       registerer,
		eventsTotal:      newCounterVec("events_total", "Events popped and dispatched by runners", streamLabels),
		emptyPollsTotal:  newCounterVec("empty_polls_total", "Pops that timed out without an event", streamLabels),
		invocationsTotal: newCounterVec("consumer_invocations_total", "Consumer invocations by outcome", append(consumerLabels, "status")),
		consumerDuration: newHistogramVec("consumer_duration_seconds", "Time spent in a single consumer", consumerLabels),
		roundDuration:    newHistogramVec("round_duration_seconds", "Time from dispatch until every consumer finished", streamLabels),
		producedTotal:    newCounterVec("produced_total", "Events handed to the stream by producers", []string{"event_type"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.emptyPollsTotal,
		m.invocationsTotal,
		m.consumerDuration,
		m.roundDuration,
		m.producedTotal,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) observeEvent(t event.Type, g event.Group) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(t), string(g)).Inc()
}

func (m *Metrics) observeEmptyPoll(t event.Type, g event.Group) {
	if m == nil {
		return
	}
	m.emptyPollsTotal.WithLabelValues(string(t), string(g)).Inc()
}

func (m *Metrics) observeRound(t event.Type, g event.Group, d time.Duration) {
	if m == nil {
		return
	}
	m.roundDuration.WithLabelValues(string(t), string(g)).Observe(d.Seconds())
}

func (m *Metrics) observeConsumer(item PipelineItem, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.invocationsTotal.WithLabelValues(string(item.Event), string(item.Group), item.Identity, status).Inc()
	m.consumerDuration.WithLabelValues(string(item.Event), string(item.Group), item.Identity).Observe(d.Seconds())
}

func (m *Metrics) observeProduced(t event.Type) {
	if m == nil {
		return
	}
	m.producedTotal.WithLabelValues(string(t)).Inc()
}

// Reset clears every series.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.eventsTotal.Reset()
	m.emptyPollsTotal.Reset()
	m.invocationsTotal.Reset()
	m.consumerDuration.Reset()
	m.roundDuration.Reset()
	m.producedTotal.Reset()
}
