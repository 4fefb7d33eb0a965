package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineCalls tracks round trips to the model-serving process.
type EngineCalls struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
}

func NewEngineCalls(reg prometheus.Registerer) *EngineCalls {
	c := &EngineCalls{
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "forecastgate",
				Subsystem: "engine",
				Name:      "call_latency_seconds",
				Help:      "Latency of engine calls by endpoint",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "forecastgate",
				Subsystem: "engine",
				Name:      "call_errors_total",
				Help:      "Failed engine calls by endpoint",
			},
			[]string{"endpoint"},
		),
	}
	if reg != nil {
		reg.MustRegister(c.latency, c.errors)
	}
	return c
}

// Observe matches engine.CallObserver.
func (c *EngineCalls) Observe(endpoint string, elapsed time.Duration, err error) {
	c.latency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	if err != nil {
		c.errors.WithLabelValues(endpoint).Inc()
	}
}
