package observability

import (
	"context"
	"time"

	"ForecastGate/internal/domain/models"
	domrepo "ForecastGate/internal/domain/repository"
	"ForecastGate/pkg/logger"
)

// Pipeline stages.
const (
	StageAccess     = "access"
	StageAdmission  = "admission"
	StageValidation = "validation"
	StageInference  = "inference"
)

// Outcome tags.
const (
	OutcomeOK       = "ok"
	OutcomeDenied   = "denied"
	OutcomeLimited  = "rate_limited"
	OutcomeInvalid  = "invalid"
	OutcomeTimeout  = "timeout"
	OutcomeFailure  = "failure"
	OutcomeNotReady = "not_ready"
)

// Event is one terminal stage outcome. RequestID and Identity are filled from the
// context when left empty.
type Event struct {
	Stage     string
	Outcome   string
	Route     string
	RequestID string
	Identity  string
	Status    int
	Elapsed   time.Duration
	Series    int
	// Code is the error code for rejections, e.g. a validation rule.
	Code string
	Err  error
}

// Sink fans events out to the log, the metric collectors and the optional audit dispatcher.
type Sink struct {
	log        *logger.Logger
	metrics    domrepo.Metrics
	dispatcher *Dispatcher
}

func NewSink(lgr *logger.Logger, m domrepo.Metrics, d *Dispatcher) *Sink {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	if m == nil {
		m = domrepo.NopMetrics{}
	}
	return &Sink{log: lgr, metrics: m, dispatcher: d}
}

func (s *Sink) Emit(ctx context.Context, e Event) {
	if e.RequestID == "" {
		e.RequestID = logger.RequestID(ctx)
	}
	if e.Identity == "" {
		e.Identity = logger.Identity(ctx)
	}

	switch {
	case e.Stage == StageValidation && e.Outcome == OutcomeInvalid:
		s.metrics.RecordValidationFailure(e.Route, e.Code)
	case e.Stage == StageAdmission && e.Outcome == OutcomeLimited:
		s.metrics.RecordRateLimitHit(e.Identity)
	}

	fields := []logger.Field{
		logger.String("stage", e.Stage),
		logger.String("outcome", e.Outcome),
		logger.String("route", e.Route),
		logger.String("request_id", e.RequestID),
		logger.String("identity", e.Identity),
		logger.Duration("elapsed_ms", e.Elapsed),
	}
	if e.Status != 0 {
		fields = append(fields, logger.Int("status", e.Status))
	}
	if e.Series > 0 {
		fields = append(fields, logger.Int("series", e.Series))
	}
	if e.Code != "" {
		fields = append(fields, logger.String("code", e.Code))
	}
	if e.Err != nil {
		fields = append(fields, logger.Error(e.Err))
	}
	switch e.Outcome {
	case OutcomeOK:
		s.log.Info("pipeline event", fields...)
	case OutcomeFailure:
		s.log.Error("pipeline event", fields...)
	default:
		s.log.Warn("pipeline event", fields...)
	}

	if s.dispatcher != nil {
		ev := models.AuditEvent{
			Time:      time.Now().UTC(),
			RequestID: e.RequestID,
			Identity:  e.Identity,
			Route:     e.Route,
			Stage:     e.Stage,
			Outcome:   e.Outcome,
			Status:    e.Status,
			ElapsedMS: e.Elapsed.Milliseconds(),
			Series:    e.Series,
			Detail:    e.Code,
		}
		s.dispatcher.Publish(ev)
	}
}
