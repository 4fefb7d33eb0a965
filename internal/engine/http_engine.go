package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ForecastGate/internal/domain/models"
	domrepo "ForecastGate/internal/domain/repository"
)

// Settings identify one engine instance. Two equal Settings share an orchestrator.
type Settings struct {
	URL             string        `json:"url"`
	ModelSource     string        `json:"model_source"`
	TokenizerSource string        `json:"tokenizer_source"`
	Device          string        `json:"device"`
	MaxContext      int           `json:"max_context"`
	Clip            float64       `json:"clip"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	LoadAttempts    int           `json:"load_attempts"`
}

type loadRequest struct {
	ModelSource     string  `json:"model_source"`
	TokenizerSource string  `json:"tokenizer_source"`
	Device          string  `json:"device"`
	MaxContext      int     `json:"max_context"`
	Clip            float64 `json:"clip"`
}

type wireSeries struct {
	SeriesID             string             `json:"series_id,omitempty"`
	Candles              []models.Candle    `json:"candles"`
	Timestamps           []models.Timestamp `json:"timestamps"`
	PredictionTimestamps []models.Timestamp `json:"prediction_timestamps"`
}

type predictRequest struct {
	wireSeries
	Params models.Params `json:"params"`
}

type predictResponse struct {
	Prediction []models.PredictionPoint `json:"prediction"`
}

type batchRequest struct {
	Items  []wireSeries  `json:"items"`
	Params models.Params `json:"params"`
}

type batchResponse struct {
	Predictions [][]models.PredictionPoint `json:"predictions"`
}

// HTTPEngine talks JSON to a model-serving process that owns the weights.
type HTTPEngine struct {
	base     *httpBase
	settings Settings
}

type Option func(*engineOptions)

type engineOptions struct {
	transport http.RoundTripper
	observe   CallObserver
}

// CallObserver sees every engine round trip, keyed by endpoint path.
type CallObserver func(endpoint string, elapsed time.Duration, err error)

// WithTransport swaps the HTTP transport, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *engineOptions) { o.transport = rt }
}

func WithCallObserver(fn CallObserver) Option {
	return func(o *engineOptions) { o.observe = fn }
}

func NewHTTPEngine(s Settings, opts ...Option) *HTTPEngine {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &HTTPEngine{base: newHTTPBase(s.URL, s.RequestTimeout, o.transport, o.observe), settings: s}
}

func (e *HTTPEngine) Load(ctx context.Context) (models.EngineInfo, error) {
	var info models.EngineInfo
	req := loadRequest{
		ModelSource:     e.settings.ModelSource,
		TokenizerSource: e.settings.TokenizerSource,
		Device:          e.settings.Device,
		MaxContext:      e.settings.MaxContext,
		Clip:            e.settings.Clip,
	}
	if err := e.base.postJSONWithRetry(ctx, "/load", req, &info, e.settings.LoadAttempts); err != nil {
		return info, fmt.Errorf("load engine: %w", err)
	}
	if info.Device == "" {
		info.Device = e.settings.Device
	}
	return info, nil
}

func (e *HTTPEngine) Predict(ctx context.Context, s models.NormalizedSeries) ([]models.PredictionPoint, error) {
	var resp predictResponse
	if err := e.base.postJSON(ctx, "/predict", predictRequest{wireSeries: toWire(s), Params: s.Params}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Prediction) != len(s.PredictionTimestamps) {
		return nil, fmt.Errorf("engine returned %d points, want %d", len(resp.Prediction), len(s.PredictionTimestamps))
	}
	return resp.Prediction, nil
}

func (e *HTTPEngine) PredictBatch(ctx context.Context, series []models.NormalizedSeries, params models.Params) ([][]models.PredictionPoint, error) {
	req := batchRequest{Items: make([]wireSeries, len(series)), Params: params}
	for i := range series {
		req.Items[i] = toWire(series[i])
	}
	var resp batchResponse
	if err := e.base.postJSON(ctx, "/predict/batch", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) != len(series) {
		return nil, fmt.Errorf("engine returned %d series, want %d", len(resp.Predictions), len(series))
	}
	return resp.Predictions, nil
}

func (e *HTTPEngine) Close() error { return nil }

func toWire(s models.NormalizedSeries) wireSeries {
	w := wireSeries{
		SeriesID:             s.SeriesID,
		Candles:              s.Candles,
		Timestamps:           make([]models.Timestamp, len(s.Timestamps)),
		PredictionTimestamps: make([]models.Timestamp, len(s.PredictionTimestamps)),
	}
	for i, t := range s.Timestamps {
		w.Timestamps[i] = models.NewTimestamp(t)
	}
	for i, t := range s.PredictionTimestamps {
		w.PredictionTimestamps[i] = models.NewTimestamp(t)
	}
	return w
}

var _ domrepo.Engine = (*HTTPEngine)(nil)
