package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ForecastGate/internal/domain/models"
	"ForecastGate/internal/engine"
	"ForecastGate/internal/middleware"
	"ForecastGate/internal/service/access"
	"ForecastGate/internal/service/identity"
	"ForecastGate/internal/service/ratelimit"
	"ForecastGate/internal/service/validation"
	"ForecastGate/internal/usecase"
	xhttp "ForecastGate/pkg/http"
	xlogger "ForecastGate/pkg/logger"
)

type stubEngine struct {
	delay      time.Duration
	slowSeries string // when set, only this series is delayed
	predErr    error
}

func (s *stubEngine) Load(context.Context) (models.EngineInfo, error) {
	return models.EngineInfo{ModelVersion: "kronos-small", TokenizerVersion: "tok-base", Device: "cpu"}, nil
}

func (s *stubEngine) Predict(ctx context.Context, n models.NormalizedSeries) ([]models.PredictionPoint, error) {
	if s.delay > 0 && (s.slowSeries == "" || s.slowSeries == n.SeriesID) {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.predErr != nil {
		return nil, s.predErr
	}
	out := make([]models.PredictionPoint, len(n.PredictionTimestamps))
	for i, ts := range n.PredictionTimestamps {
		out[i] = models.PredictionPoint{Timestamp: models.NewTimestamp(ts), Open: 1, High: 2, Low: 0.5, Close: 1.5}
	}
	return out, nil
}

func (s *stubEngine) PredictBatch(ctx context.Context, series []models.NormalizedSeries, _ models.Params) ([][]models.PredictionPoint, error) {
	out := make([][]models.PredictionPoint, len(series))
	for i := range series {
		pts, err := s.Predict(ctx, series[i])
		if err != nil {
			return nil, err
		}
		out[i] = pts
	}
	return out, nil
}

func (s *stubEngine) Close() error { return nil }

type fixture struct {
	server *xhttp.Server
	uc     *usecase.ForecastUseCase
}

func newFixture(t *testing.T, e *stubEngine, timeout time.Duration, load bool, opts ...xhttp.ServerOption) *fixture {
	t.Helper()
	reg := usecase.NewRegistry(func(s engine.Settings, fp string) (*usecase.Orchestrator, error) {
		return usecase.NewOrchestrator(e, usecase.OrchestratorConfig{Timeout: timeout, Workers: 2, QueueSize: 4, Fingerprint: fp}, nil)
	}, nil)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	v := validation.New(validation.Limits{MaxInputLength: 2048, MaxHorizon: 512, MaxBatchItems: 64},
		models.Params{Temperature: 1, TopP: 0.9, SampleCount: 1})
	uc := usecase.NewForecastUseCase(v, reg, engine.Settings{URL: "http://engine"}, nil)
	orch, err := uc.Orchestrator()
	require.NoError(t, err)
	if load {
		require.NoError(t, orch.Load(context.Background()))
	}
	lg := xlogger.NewNop()
	srv := xhttp.NewServer(lg, []xhttp.Handler{
		NewHealthHandler(lg, uc, ""),
		NewPredictHandler(lg, uc, nil),
	}, append([]xhttp.ServerOption{xhttp.WithBodyLimit("1K")}, opts...)...)
	return &fixture{server: srv, uc: uc}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	return f.doAs("", method, path, body)
}

func (f *fixture) doAs(caller, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != "" {
		req.Header.Set("X-Container-Name", caller)
	}
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)
	return rec
}

const singleBody = `{
  "series_id": "BTCUSDT",
  "candles": [
    {"open": 100, "high": 110, "low": 95, "close": 105, "volume": 3},
    {"open": 105, "high": 112, "low": 101, "close": 108}
  ],
  "timestamps": ["2025-01-01T00:00:00Z", "2025-01-01T00:01:00"],
  "prediction_timestamps": [1735689720, "2025-01-01T00:03:00Z"]
}`

func TestHealthz(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, false)
	rec := f.do(http.MethodGet, "/v1/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, false)
	rec := f.do(http.MethodGet, "/v1/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"loading","model_loaded":false}`, rec.Body.String())

	orch, _ := f.uc.Orchestrator()
	require.NoError(t, orch.Load(context.Background()))
	rec = f.do(http.MethodGet, "/v1/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","model_loaded":true,"device":"cpu"}`, rec.Body.String())
}

func TestHealthDetailed(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, true)
	rec := f.do(http.MethodGet, "/v1/healthz/detailed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.DetailedHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "ok", res.Status)
	assert.True(t, res.Checks.Model.Loaded)
	assert.Equal(t, "kronos-small", res.Checks.Model.Version)
	assert.Equal(t, "/", res.Checks.Disk.Path)
}

func TestPredictSingle_OK(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, true)
	rec := f.do(http.MethodPost, "/v1/predict/single", singleBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res models.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.SeriesID)
	assert.Equal(t, "BTCUSDT", *res.SeriesID)
	assert.Len(t, res.Prediction, 2)
	assert.Equal(t, "kronos-small", res.ModelVersion)
	assert.Equal(t, "2025-01-01T00:02:00Z", res.Prediction[0].Timestamp.Format(time.RFC3339))
}

func TestPredictSingle_NotReady(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, false)
	rec := f.do(http.MethodPost, "/v1/predict/single", singleBody)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_NOT_READY")
}

func TestPredictSingle_ValidationFailure(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, true)
	body := strings.Replace(singleBody, `"low": 101`, `"low": 109`, 1)
	rec := f.do(http.MethodPost, "/v1/predict/single", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"candles[1]"`)
	assert.Contains(t, rec.Body.String(), validation.CodeOHLC)
}

func TestPredictSingle_MalformedJSON(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, true)
	rec := f.do(http.MethodPost, "/v1/predict/single", `{"candles": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictSingle_BodyTooLarge(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, true)
	rec := f.do(http.MethodPost, "/v1/predict/single", `{"series_id":"`+strings.Repeat("x", 2048)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictSingle_Timeout(t *testing.T) {
	f := newFixture(t, &stubEngine{delay: time.Second}, 20*time.Millisecond, true)
	rec := f.do(http.MethodPost, "/v1/predict/single", singleBody)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_TIMEOUT")
}

func TestPredictSingle_TimeoutDoesNotBlockOtherCallers(t *testing.T) {
	gw := middleware.NewGateway(
		identity.NewResolver(nil),
		access.NewGate(access.NewPolicy(true, []string{"frontend-app", "worker-service"}), nil, nil),
		ratelimit.NewFixedWindow(100, time.Minute, 4, 0),
		nil,
		"X-Container-Name",
		nil,
	)
	f := newFixture(t, &stubEngine{delay: 2 * time.Second, slowSeries: "SLOW"}, 50*time.Millisecond, true,
		xhttp.WithMiddleware(gw.Middlewares()...))

	slow := strings.Replace(singleBody, `"BTCUSDT"`, `"SLOW"`, 1)
	rec := f.doAs("frontend-app", http.MethodPost, "/v1/predict/single", slow)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())

	start := time.Now()
	rec = f.doAs("worker-service", http.MethodPost, "/v1/predict/single", singleBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Less(t, time.Since(start), time.Second)

	var res models.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "BTCUSDT", *res.SeriesID)
}

func TestPredictSingle_LongSeries(t *testing.T) {
	const history, horizon = 400, 120
	f := newFixture(t, &stubEngine{}, time.Second, true, xhttp.WithBodyLimit("1M"))

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	candles := make([]models.Candle, history)
	timestamps := make([]int64, history)
	for i := range candles {
		open := 100 + float64(i)
		candles[i] = models.Candle{Open: open, High: open + 2, Low: open - 1, Close: open + 1, Volume: 10}
		timestamps[i] = base + int64(i)*60
	}
	future := make([]int64, horizon)
	for i := range future {
		future[i] = base + int64(history+i)*60
	}
	body, err := json.Marshal(map[string]any{
		"series_id":             "ETHUSDT",
		"candles":               candles,
		"timestamps":            timestamps,
		"prediction_timestamps": future,
	})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/v1/predict/single", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res models.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.SeriesID)
	assert.Equal(t, "ETHUSDT", *res.SeriesID)
	require.Len(t, res.Prediction, horizon)
	assert.Equal(t, future[0], res.Prediction[0].Timestamp.Unix())
	assert.Equal(t, future[horizon-1], res.Prediction[horizon-1].Timestamp.Unix())
}

func TestPredictSingle_EngineFailureHidesCause(t *testing.T) {
	f := newFixture(t, &stubEngine{predErr: errors.New("CUDA error: device-side assert")}, time.Second, true)
	rec := f.do(http.MethodPost, "/v1/predict/single", singleBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "CUDA")
}

func TestPredictBatch(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, true)
	item := func(id string) string {
		return strings.Replace(singleBody, `"BTCUSDT"`, `"`+id+`"`, 1)
	}
	rec := f.do(http.MethodPost, "/v1/predict/batch", `{"items":[`+item("a")+`,`+item("b")+`]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res []models.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res, 2)
	assert.Equal(t, "a", *res[0].SeriesID)
	assert.Equal(t, "b", *res[1].SeriesID)
}

func TestPredictBatch_MissingSeriesID(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, true)
	noID := strings.Replace(singleBody, `"series_id": "BTCUSDT",`, ``, 1)
	rec := f.do(http.MethodPost, "/v1/predict/batch", `{"items":[`+noID+`]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "items[0].series_id")
}

func TestPredictBatch_MismatchedOverrides(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, true)
	a := strings.Replace(singleBody, `"BTCUSDT"`, `"a"`, 1)
	b := strings.Replace(singleBody, `"series_id": "BTCUSDT",`, `"series_id": "b", "overrides": {"temperature": 0.4},`, 1)
	rec := f.do(http.MethodPost, "/v1/predict/batch", `{"items":[`+a+`,`+b+`]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_BATCH_SHAPE")
}

func TestPredictBatch_DifferentHorizonsNamedInError(t *testing.T) {
	f := newFixture(t, &stubEngine{}, time.Second, true)
	a := strings.Replace(singleBody, `"BTCUSDT"`, `"a"`, 1)
	b := strings.Replace(singleBody, `"BTCUSDT"`, `"b"`, 1)
	b = strings.Replace(b, `"prediction_timestamps": [1735689720, "2025-01-01T00:03:00Z"]`, `"prediction_timestamps": [1735689720]`, 1)

	rec := f.do(http.MethodPost, "/v1/predict/batch", `{"items":[`+a+`,`+b+`]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{
		"status": 422,
		"message": "Unprocessable Entity",
		"data": [{
			"code": "ERR_BATCH_SHAPE",
			"field": "items[1]",
			"message": "all batch items must share the same horizon length",
			"params": {"series_id": "b", "index": 1}
		}]
	}`, rec.Body.String())
}
