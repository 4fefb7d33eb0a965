package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ForecastGate/internal/domain/models"
	"ForecastGate/internal/engine"
	"ForecastGate/internal/observability"
	"ForecastGate/internal/service/validation"
)

const (
	RouteSingle = "/v1/predict/single"
	RouteBatch  = "/v1/predict/batch"
)

// ForecastUseCase validates series and runs them through the active orchestrator.
type ForecastUseCase struct {
	validator *validation.Validator
	registry  *Registry
	settings  engine.Settings
	sink      *observability.Sink
}

func NewForecastUseCase(v *validation.Validator, r *Registry, s engine.Settings, sink *observability.Sink) *ForecastUseCase {
	if sink == nil {
		sink = observability.NewSink(nil, nil, nil)
	}
	return &ForecastUseCase{validator: v, registry: r, settings: s, sink: sink}
}

// Orchestrator returns the orchestrator for the configured engine settings.
func (uc *ForecastUseCase) Orchestrator() (*Orchestrator, error) {
	return uc.registry.Get(uc.settings)
}

// PredictSingle returns a *validation.ValidationError for bad input, or an error
// wrapping one of ErrNotReady, ErrTimeout, ErrPoolSaturated for inference problems.
func (uc *ForecastUseCase) PredictSingle(ctx context.Context, req models.SeriesRequest) (*models.PredictResponse, error) {
	start := time.Now()
	ns, verr := uc.validator.Validate(&req)
	if verr != nil {
		uc.emitInvalid(ctx, RouteSingle, verr, start)
		return nil, verr
	}
	orch, err := uc.Orchestrator()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	out := orch.Predict(ctx, ns)
	uc.emitOutcome(ctx, RouteSingle, out, 1)
	if out.Kind != Success {
		return nil, outcomeError(out)
	}
	resp := toResponse(req.SeriesID, out.Series[0], out.Info)
	return &resp, nil
}

// PredictBatch is all-or-nothing: one invalid item rejects the batch.
func (uc *ForecastUseCase) PredictBatch(ctx context.Context, reqs []models.SeriesRequest) ([]models.PredictResponse, error) {
	start := time.Now()
	items, verr := uc.validator.ValidateBatch(reqs)
	if verr != nil {
		uc.emitInvalid(ctx, RouteBatch, verr, start)
		return nil, verr
	}
	orch, err := uc.Orchestrator()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	out := orch.PredictBatch(ctx, items)
	if errors.Is(out.Err, ErrBatchParamsMismatch) {
		uc.sink.Emit(ctx, observability.Event{
			Stage:   observability.StageValidation,
			Outcome: observability.OutcomeInvalid,
			Route:   RouteBatch,
			Status:  http.StatusUnprocessableEntity,
			Elapsed: time.Since(start),
			Series:  len(reqs),
			Code:    "ERR_BATCH_SHAPE",
			Err:     out.Err,
		})
		return nil, out.Err
	}
	uc.emitOutcome(ctx, RouteBatch, out, len(items))
	if out.Kind != Success {
		return nil, outcomeError(out)
	}
	resp := make([]models.PredictResponse, len(items))
	for i := range items {
		resp[i] = toResponse(reqs[i].SeriesID, out.Series[i], out.Info)
	}
	return resp, nil
}

// Readiness reports the current orchestrator state.
func (uc *ForecastUseCase) Readiness() (models.ReadyResponse, bool) {
	orch := uc.registry.Current()
	if orch == nil {
		return models.ReadyResponse{Status: StateLoading.String()}, false
	}
	st := orch.State()
	if st != StateReady {
		status := "loading"
		if st == StateFailed {
			status = "failed"
		}
		return models.ReadyResponse{Status: status}, false
	}
	info, _ := orch.Info()
	return models.ReadyResponse{
		Status:        "ok",
		ModelLoaded:   true,
		Device:        info.Device,
		DeviceWarning: info.DeviceWarning,
	}, true
}

func (uc *ForecastUseCase) emitInvalid(ctx context.Context, route string, verr *validation.ValidationError, start time.Time) {
	uc.sink.Emit(ctx, observability.Event{
		Stage:   observability.StageValidation,
		Outcome: observability.OutcomeInvalid,
		Route:   route,
		Status:  http.StatusUnprocessableEntity,
		Elapsed: time.Since(start),
		Code:    verr.Code,
		Err:     verr,
	})
}

func (uc *ForecastUseCase) emitOutcome(ctx context.Context, route string, out Outcome, n int) {
	ev := observability.Event{
		Stage:   observability.StageInference,
		Route:   route,
		Elapsed: out.Elapsed,
		Series:  n,
		Err:     out.Err,
	}
	switch out.Kind {
	case Success:
		ev.Outcome, ev.Status = observability.OutcomeOK, http.StatusOK
	case Timeout:
		ev.Outcome, ev.Status = observability.OutcomeTimeout, http.StatusGatewayTimeout
	case NotReady:
		ev.Outcome, ev.Status = observability.OutcomeNotReady, http.StatusServiceUnavailable
	default:
		ev.Outcome, ev.Status = observability.OutcomeFailure, http.StatusInternalServerError
		if errors.Is(out.Err, ErrPoolSaturated) {
			ev.Status = http.StatusServiceUnavailable
		}
	}
	uc.sink.Emit(ctx, ev)
}

func outcomeError(out Outcome) error {
	switch out.Kind {
	case NotReady:
		return ErrNotReady
	case Timeout:
		return fmt.Errorf("%w after %s", ErrTimeout, out.Elapsed.Round(time.Millisecond))
	default:
		if out.Err == nil {
			return errors.New("inference failed")
		}
		return out.Err
	}
}

func toResponse(seriesID string, pts []models.PredictionPoint, info models.EngineInfo) models.PredictResponse {
	r := models.PredictResponse{
		Prediction:       pts,
		ModelVersion:     info.ModelVersion,
		TokenizerVersion: info.TokenizerVersion,
	}
	if seriesID != "" {
		id := seriesID
		r.SeriesID = &id
	}
	if r.Prediction == nil {
		r.Prediction = []models.PredictionPoint{}
	}
	return r
}
