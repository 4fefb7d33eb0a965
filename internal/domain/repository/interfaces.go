package repository

import (
	"context"
	"time"

	"ForecastGate/internal/domain/models"
)

// Engine is the forecasting backend. Implementations must honour ctx cancellation.
type Engine interface {
	Load(ctx context.Context) (models.EngineInfo, error)
	Predict(ctx context.Context, s models.NormalizedSeries) ([]models.PredictionPoint, error)
	// PredictBatch returns one prediction per input series, in input order.
	PredictBatch(ctx context.Context, series []models.NormalizedSeries, params models.Params) ([][]models.PredictionPoint, error)
	Close() error
}

// AuditWriter persists audit events in batches.
type AuditWriter interface {
	WriteBatch(ctx context.Context, events []models.AuditEvent) error
	Health(ctx context.Context) error
	Close() error
}

// AddrLookup resolves an IP address to host names. *net.Resolver satisfies it.
type AddrLookup interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

type Metrics interface {
	RecordSecurityEvent(event, identity string)
	RecordRateLimitHit(identity string)
	RecordRateLimitError()
	RecordValidationFailure(route, code string)
	RecordInference(kind, outcome string, elapsed time.Duration)
	IncInferenceInFlight()
	DecInferenceInFlight()
	SetQueueDepth(n int)
	SetModelLoaded(loaded bool)
	RecordAuditDropped()
	RecordError(kind string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordSecurityEvent(string, string) {}
func (NopMetrics) RecordRateLimitHit(string) {}
func (NopMetrics) RecordRateLimitError() {}
func (NopMetrics) RecordValidationFailure(string, string) {}
func (NopMetrics) RecordInference(string, string, time.Duration) {}
func (NopMetrics) IncInferenceInFlight() {}
func (NopMetrics) DecInferenceInFlight() {}
func (NopMetrics) SetQueueDepth(int) {}
func (NopMetrics) SetModelLoaded(bool) {}
func (NopMetrics) RecordAuditDropped() {}
func (NopMetrics) RecordError(string) {}
