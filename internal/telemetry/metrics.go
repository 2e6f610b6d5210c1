package telemetry

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "perftop"

// Metrics holds the self-instrumentation of the sampling pipeline. It is
// kept in a private registry and only rendered in the stats panel.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	samples       *prometheus.CounterVec
	sampleErrors  *prometheus.CounterVec
	staleSamples  prometheus.Counter
	subscriptions *prometheus.GaugeVec
}

// New registers the pipeline metrics in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Counter values read and delivered to subscribers.",
		}, []string{"series"}),
		sampleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_errors_total",
			Help:      "Counter reads that failed.",
		}, []string{"series"}),
		staleSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_samples_total",
			Help:      "Samples dropped because their series is no longer charted.",
		}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Current subscribers per metric source.",
		}, []string{"series"}),
	}
	m.registry.MustRegister(m.samples, m.sampleErrors, m.staleSamples, m.subscriptions)
	return m
}

func (m *Metrics) SampleCollected(series string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(series).Inc()
}

func (m *Metrics) SampleFailed(series string) {
	if m == nil {
		return
	}
	m.sampleErrors.WithLabelValues(series).Inc()
}

func (m *Metrics) SampleStale() {
	if m == nil {
		return
	}
	m.staleSamples.Inc()
}

func (m *Metrics) SetSubscriptions(series string, n int) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(series).Set(float64(n))
}

// WriteText renders every metric family in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("encode %s: %w", family.GetName(), err)
		}
	}
	return nil
}
