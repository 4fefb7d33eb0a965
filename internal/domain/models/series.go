package models

import "time"

// Candle is one OHLCV observation.
type Candle struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Amount float64 `json:"amount"`
}

// Overrides are per-request sampling parameters. A nil field means "use the configured default".
type Overrides struct {
	PredLen     *int     `json:"pred_len,omitempty" validate:"omitempty,min=1"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gt=0,lte=10"`
	TopK        *int     `json:"top_k,omitempty" validate:"omitempty,min=0,max=1000"`
	TopP        *float64 `json:"top_p,omitempty" validate:"omitempty,gt=0,lte=1"`
	SampleCount *int     `json:"sample_count,omitempty" validate:"omitempty,min=1,max=32"`
}

// Params is the fully resolved parameter set handed to the engine. It is comparable,
// so batch items can be checked for equality with ==.
type Params struct {
	PredLen     int     `json:"pred_len"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	SampleCount int     `json:"sample_count"`
}

// SeriesRequest is a decoded forecast request before validation.
type SeriesRequest struct {
	SeriesID             string
	Candles              []Candle
	Timestamps           []time.Time
	PredictionTimestamps []time.Time
	Overrides            *Overrides
}

// NormalizedSeries is a SeriesRequest that passed validation, with parameters resolved.
type NormalizedSeries struct {
	SeriesID             string
	Candles              []Candle
	Timestamps           []time.Time
	PredictionTimestamps []time.Time
	Params               Params
}

// PredictionPoint is one forecast step.
type PredictionPoint struct {
	Timestamp Timestamp `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount"`
}

// EngineInfo is what the engine reports after a successful load.
type EngineInfo struct {
	ModelVersion     string `json:"model_version"`
	TokenizerVersion string `json:"tokenizer_version"`
	Device           string `json:"device"`
	DeviceWarning    string `json:"device_warning,omitempty"`
}
