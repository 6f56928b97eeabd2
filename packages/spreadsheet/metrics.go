package spreadsheet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "sheetcalc"
	metricsSubsystem = "engine"
)

// Metrics holds prometheus metrics for the recalculation engine. a nil
// *Metrics records nothing.
type Metrics struct {
	evaluations     prometheus.Counter
	dirtyMarks      prometheus.Counter
	iterationRounds prometheus.Counter
	relinks         prometheus.Counter
	recalcDuration  *prometheus.HistogramVec
}

// NewMetrics creates unregistered engine metrics
func NewMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		evaluations:     counter("evaluations_total", "Dependents evaluated."),
		dirtyMarks:      counter("dirty_marks_total", "Dependents marked for recalculation by propagation."),
		iterationRounds: counter("iteration_rounds_total", "Rounds run while iterating circular references."),
		relinks:         counter("links_total", "Dependents linked into the dependency indices."),
		recalcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "recalc_duration_seconds",
				Help:      "Recalculation pass time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			},
			[]string{"kind"}, // "incremental" or "full"
		),
	}
}

// MustRegister registers the metrics with the given Prometheus registry.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(m.evaluations, m.dirtyMarks, m.iterationRounds, m.relinks, m.recalcDuration)
}

func (m *Metrics) evaluated() {
	if m != nil {
		m.evaluations.Inc()
	}
}

func (m *Metrics) markedDirty(n int) {
	if m != nil {
		m.dirtyMarks.Add(float64(n))
	}
}

func (m *Metrics) iterated() {
	if m != nil {
		m.iterationRounds.Inc()
	}
}

func (m *Metrics) relinked() {
	if m != nil {
		m.relinks.Inc()
	}
}

func (m *Metrics) observeRecalc(kind string, d time.Duration) {
	if m != nil {
		m.recalcDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}
