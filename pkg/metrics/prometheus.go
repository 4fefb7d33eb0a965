package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "forecastgate"

// Recorder implements the gateway's metrics contract on Prometheus collectors.
// Collectors are lock-free, so one Recorder is shared by every request goroutine.
type Recorder struct {
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	inFlight          *prometheus.GaugeVec
	securityEvents    *prometheus.CounterVec
	rateLimitHits     *prometheus.CounterVec
	rateLimitErrors   prometheus.Counter
	validationErrors  *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	inferenceTimeouts *prometheus.CounterVec
	inferenceInFlight prometheus.Gauge
	queueDepth        prometheus.Gauge
	modelLoaded       prometheus.Gauge
	auditDropped      prometheus.Counter
	errorsTotal       *prometheus.CounterVec
}

// New registers the collectors on reg. Passing a fresh prometheus.NewRegistry keeps tests isolated.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total HTTP requests by route template and status code",
			},
			[]string{"route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"route"},
		),
		inFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_in_flight_requests",
				Help:      "Requests currently being served",
			},
			[]string{"route"},
		),
		securityEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "security_events_total",
				Help:      "Access decisions by outcome and caller identity",
			},
			[]string{"event", "identity"},
		),
		rateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the admission limiter",
			},
			[]string{"identity"},
		),
		rateLimitErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_errors_total",
				Help:      "Limiter backend failures (request admitted)",
			},
		),
		validationErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Rejected payloads by route and error code",
			},
			[]string{"route", "code"},
		),
		inferenceDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inference_duration_seconds",
				Help:      "Engine call latency including queueing",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 240},
			},
			[]string{"kind", "outcome"},
		),
		inferenceTimeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inference_timeouts_total",
				Help:      "Inference calls abandoned at the deadline",
			},
			[]string{"kind"},
		),
		inferenceInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inference_in_flight",
				Help:      "Inference jobs currently executing on workers",
			},
		),
		queueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inference_queue_depth",
				Help:      "Inference jobs waiting for a worker",
			},
		),
		modelLoaded: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_loaded",
				Help:      "1 when the engine is loaded and ready",
			},
		),
		auditDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_dropped_total",
				Help:      "Audit events dropped because the dispatch buffer was full",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Internal errors by kind",
			},
			[]string{"kind"},
		),
	}
}

// ObserveRequest records one finished HTTP request.
func (r *Recorder) ObserveRequest(route, status string, elapsed time.Duration) {
	r.requests.WithLabelValues(route, status).Inc()
	r.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (r *Recorder) IncInFlight(route string) { r.inFlight.WithLabelValues(route).Inc() }

func (r *Recorder) DecInFlight(route string) { r.inFlight.WithLabelValues(route).Dec() }

// RecordSecurityEvent counts an access decision.
func (r *Recorder) RecordSecurityEvent(event, identity string) {
	r.securityEvents.WithLabelValues(event, identity).Inc()
}

// RecordRateLimitHit counts a rejected admission.
func (r *Recorder) RecordRateLimitHit(identity string) {
	r.rateLimitHits.WithLabelValues(identity).Inc()
}

func (r *Recorder) RecordRateLimitError() { r.rateLimitErrors.Inc() }

// RecordValidationFailure counts a rejected payload.
func (r *Recorder) RecordValidationFailure(route, code string) {
	r.validationErrors.WithLabelValues(route, code).Inc()
}

// RecordInference records an engine call. kind is single or batch.
func (r *Recorder) RecordInference(kind, outcome string, elapsed time.Duration) {
	r.inferenceDuration.WithLabelValues(kind, outcome).Observe(elapsed.Seconds())
	if outcome == "timeout" {
		r.inferenceTimeouts.WithLabelValues(kind).Inc()
	}
}

func (r *Recorder) IncInferenceInFlight() { r.inferenceInFlight.Inc() }

func (r *Recorder) DecInferenceInFlight() { r.inferenceInFlight.Dec() }

func (r *Recorder) SetQueueDepth(n int) { r.queueDepth.Set(float64(n)) }

// SetModelLoaded flips the readiness gauge.
func (r *Recorder) SetModelLoaded(loaded bool) {
	if loaded {
		r.modelLoaded.Set(1)
		return
	}
	r.modelLoaded.Set(0)
}

func (r *Recorder) RecordAuditDropped() { r.auditDropped.Inc() }

// RecordError records an internal error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
