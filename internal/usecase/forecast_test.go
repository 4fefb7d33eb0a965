package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ForecastGate/internal/domain/models"
	"ForecastGate/internal/engine"
	"ForecastGate/internal/service/validation"
)

func newForecast(t *testing.T, e *fakeEngine) *ForecastUseCase {
	t.Helper()
	reg := NewRegistry(func(s engine.Settings, fp string) (*Orchestrator, error) {
		return NewOrchestrator(e, OrchestratorConfig{Timeout: time.Second, Workers: 1, QueueSize: 2, Fingerprint: fp}, nil)
	}, nil)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	v := validation.New(validation.Limits{MaxInputLength: 100, MaxHorizon: 10, MaxBatchItems: 4},
		models.Params{Temperature: 1, TopP: 0.9, SampleCount: 1})
	return NewForecastUseCase(v, reg, engine.Settings{URL: "http://engine"}, nil)
}

func request(id string) models.SeriesRequest {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.SeriesRequest{
		SeriesID:             id,
		Candles:              []models.Candle{{Open: 10, High: 12, Low: 9, Close: 11}, {Open: 11, High: 13, Low: 10, Close: 12}},
		Timestamps:           []time.Time{base, base.Add(time.Minute)},
		PredictionTimestamps: []time.Time{base.Add(2 * time.Minute), base.Add(3 * time.Minute)},
	}
}

func TestForecast_ReadinessLifecycle(t *testing.T) {
	uc := newForecast(t, &fakeEngine{})

	r, ok := uc.Readiness()
	assert.False(t, ok)
	assert.Equal(t, "loading", r.Status)

	orch, err := uc.Orchestrator()
	require.NoError(t, err)
	_, err = uc.PredictSingle(context.Background(), request(""))
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, orch.Load(context.Background()))
	r, ok = uc.Readiness()
	assert.True(t, ok)
	assert.Equal(t, models.ReadyResponse{Status: "ok", ModelLoaded: true, Device: "cpu"}, r)
}

func TestForecast_PredictSingle(t *testing.T) {
	uc := newForecast(t, &fakeEngine{})
	orch, _ := uc.Orchestrator()
	require.NoError(t, orch.Load(context.Background()))

	resp, err := uc.PredictSingle(context.Background(), request(""))
	require.NoError(t, err)
	assert.Nil(t, resp.SeriesID)
	assert.Len(t, resp.Prediction, 2)
	assert.Equal(t, "kronos-small", resp.ModelVersion)

	bad := request("x")
	bad.Candles[0].Low = 50
	_, err = uc.PredictSingle(context.Background(), bad)
	var verr *validation.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validation.CodeOHLC, verr.Code)
}

func TestForecast_PredictBatch(t *testing.T) {
	uc := newForecast(t, &fakeEngine{})
	orch, _ := uc.Orchestrator()
	require.NoError(t, orch.Load(context.Background()))

	resp, err := uc.PredictBatch(context.Background(), []models.SeriesRequest{request("a"), request("b")})
	require.NoError(t, err)
	require.Len(t, resp, 2)
	assert.Equal(t, "a", *resp[0].SeriesID)
	assert.Equal(t, "b", *resp[1].SeriesID)

	b := request("b")
	temp := 0.3
	b.Overrides = &models.Overrides{Temperature: &temp}
	_, err = uc.PredictBatch(context.Background(), []models.SeriesRequest{request("a"), b})
	assert.ErrorIs(t, err, ErrBatchParamsMismatch)
}

func TestForecast_Timeout(t *testing.T) {
	uc := newForecast(t, &fakeEngine{delay: time.Second})
	orch, _ := uc.Orchestrator()
	require.NoError(t, orch.Load(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := uc.PredictSingle(ctx, request(""))
	assert.ErrorIs(t, err, ErrTimeout)
}
