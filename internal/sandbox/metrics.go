package sandbox

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the Prometheus collectors the runtime reports execution
// accounting through. A Runtime owns exactly one Metrics instance, shared
// across every module it executes.
type Metrics struct {
	registry *prometheus.Registry

	executions       *prometheus.CounterVec
	executionSeconds prometheus.Histogram
	fuelConsumed     prometheus.Counter
	memoryExceeded   prometheus.Counter
}

// NewMetrics registers a fresh set of collectors against a dedicated
// registry (never the global default registerer, so multiple Runtimes in
// the same process never collide).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpkit",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total WASM module executions, labeled by outcome.",
		}, []string{"outcome"}),
		executionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mcpkit",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of WASM module executions.",
			Buckets:   prometheus.DefBuckets,
		}),
		fuelConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpkit",
			Subsystem: "sandbox",
			Name:      "fuel_consumed_total",
			Help:      "Total fuel units consumed across all executions.",
		}),
		memoryExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpkit",
			Subsystem: "sandbox",
			Name:      "memory_ceiling_exceeded_total",
			Help:      "Total executions rejected for exceeding their memory ceiling.",
		}),
	}

	reg.MustRegister(m.executions, m.executionSeconds, m.fuelConsumed, m.memoryExceeded)
	return m
}

// observe records the outcome of one execution. outcome is a short label
// ("ok", "timeout", "fuel_exhausted", "memory_exceeded", "trap").
func (m *Metrics) observe(outcome string, seconds float64, fuelUsed uint64) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome).Inc()
	m.executionSeconds.Observe(seconds)
	m.fuelConsumed.Add(float64(fuelUsed))
	if outcome == "memory_exceeded" {
		m.memoryExceeded.Inc()
	}
}

// Handler returns an http.Handler serving these metrics in the Prometheus
// exposition format, for a caller to mount on its own server.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText renders the current metric values in the Prometheus text
// exposition format. Intended for one-shot CLI invocations that have no
// long-lived process to scrape from.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
