package models

// SeriesPayload is the wire shape shared by single and batch requests.
type SeriesPayload struct {
	Candles              []Candle    `json:"candles"`
	Timestamps           []Timestamp `json:"timestamps"`
	PredictionTimestamps []Timestamp `json:"prediction_timestamps"`
	// bounds are checked after the series itself, in the series validator
	Overrides *Overrides `json:"overrides,omitempty" validate:"-"`
}

func (p SeriesPayload) toSeries(id string) SeriesRequest {
	return SeriesRequest{
		SeriesID:             id,
		Candles:              p.Candles,
		Timestamps:           Times(p.Timestamps),
		PredictionTimestamps: Times(p.PredictionTimestamps),
		Overrides:            p.Overrides,
	}
}

type PredictSingleRequest struct {
	SeriesID string `json:"series_id" validate:"omitempty,max=256"`
	SeriesPayload
}

func (r *PredictSingleRequest) Series() SeriesRequest { return r.SeriesPayload.toSeries(r.SeriesID) }

type PredictBatchItem struct {
	SeriesID string `json:"series_id" validate:"required,max=256"`
	SeriesPayload
}

type PredictBatchRequest struct {
	Items []PredictBatchItem `json:"items" validate:"required,min=1,dive"`
}

func (r *PredictBatchRequest) Series() []SeriesRequest {
	out := make([]SeriesRequest, len(r.Items))
	for i := range r.Items {
		out[i] = r.Items[i].SeriesPayload.toSeries(r.Items[i].SeriesID)
	}
	return out
}

type PredictResponse struct {
	SeriesID         *string           `json:"series_id"`
	Prediction       []PredictionPoint `json:"prediction"`
	ModelVersion     string            `json:"model_version"`
	TokenizerVersion string            `json:"tokenizer_version"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Status        string `json:"status"`
	ModelLoaded   bool   `json:"model_loaded"`
	Device        string `json:"device,omitempty"`
	DeviceWarning string `json:"device_warning,omitempty"`
}

type DetailedHealthResponse struct {
	Status        string       `json:"status"`
	Timestamp     Timestamp    `json:"timestamp"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Checks        HealthChecks `json:"checks"`
}

type HealthChecks struct {
	Model  ModelCheck  `json:"model"`
	Memory MemoryCheck `json:"memory"`
	Disk   DiskCheck   `json:"disk"`
}

type ModelCheck struct {
	Loaded           bool   `json:"loaded"`
	State            string `json:"state"`
	Version          string `json:"version,omitempty"`
	TokenizerVersion string `json:"tokenizer_version,omitempty"`
	Device           string `json:"device,omitempty"`
}

type MemoryCheck struct {
	ProcessMB     float64 `json:"process_mb"`
	SystemPercent float64 `json:"system_percent"`
	Error         string  `json:"error,omitempty"`
}

type DiskCheck struct {
	Path        string  `json:"path"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
	Error       string  `json:"error,omitempty"`
}
