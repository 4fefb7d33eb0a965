package validation

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ForecastGate/internal/domain/models"
)

// Limits bounds series sizes.
type Limits struct {
	MaxInputLength int
	MaxHorizon     int
	MaxBatchItems  int
}

// Validator checks series requests and resolves their parameters. It is stateless
// and safe for concurrent use.
type Validator struct {
	limits   Limits
	defaults models.Params
	v        *validator.Validate
}

func New(limits Limits, defaults models.Params) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{limits: limits, defaults: defaults, v: v}
}

// Validate runs the checks in order and stops at the first violation.
func (v *Validator) Validate(req *models.SeriesRequest) (*models.NormalizedSeries, *ValidationError) {
	if err := checkCandles(req.Candles); err != nil {
		return nil, err
	}

	n := len(req.Candles)
	if n != len(req.Timestamps) {
		return nil, invalid(CodeLengthMismatch, "timestamps",
			"expected %d timestamps to match candles, got %d", n, len(req.Timestamps))
	}
	if n < 1 || n > v.limits.MaxInputLength {
		return nil, invalid(CodeInputLength, "candles",
			"input length must be between 1 and %d, got %d", v.limits.MaxInputLength, n)
	}

	h := len(req.PredictionTimestamps)
	if h < 1 || h > v.limits.MaxHorizon {
		return nil, invalid(CodeHorizonLength, "prediction_timestamps",
			"horizon must be between 1 and %d, got %d", v.limits.MaxHorizon, h)
	}

	if i := firstNonIncreasing(req.Timestamps); i >= 0 {
		return nil, invalidAt(CodeTimestampOrder, "timestamps", i, "timestamps must be strictly increasing")
	}
	if i := firstNonIncreasing(req.PredictionTimestamps); i >= 0 {
		return nil, invalidAt(CodeTimestampOrder, "prediction_timestamps", i, "prediction timestamps must be strictly increasing")
	}
	if !req.PredictionTimestamps[0].After(req.Timestamps[n-1]) {
		return nil, invalidAt(CodeHorizonStart, "prediction_timestamps", 0,
			"first prediction timestamp must be after the last input timestamp")
	}

	params, err := v.resolve(req.Overrides, h)
	if err != nil {
		return nil, err
	}
	return &models.NormalizedSeries{
		SeriesID:             req.SeriesID,
		Candles:              req.Candles,
		Timestamps:           req.Timestamps,
		PredictionTimestamps: req.PredictionTimestamps,
		Params:               params,
	}, nil
}

// ValidateBatch validates every item; the first failure rejects the whole batch.
func (v *Validator) ValidateBatch(items []models.SeriesRequest) ([]*models.NormalizedSeries, *ValidationError) {
	if len(items) == 0 || (v.limits.MaxBatchItems > 0 && len(items) > v.limits.MaxBatchItems) {
		return nil, invalid(CodeBatchSize, "items", "batch must hold between 1 and %d items, got %d",
			v.limits.MaxBatchItems, len(items))
	}
	out := make([]*models.NormalizedSeries, len(items))
	for i := range items {
		ns, err := v.Validate(&items[i])
		if err != nil {
			idx := i
			err.Item = &idx
			err.SeriesID = items[i].SeriesID
			return nil, err
		}
		out[i] = ns
	}
	return out, nil
}

func checkCandles(cs []models.Candle) *ValidationError {
	for i, c := range cs {
		switch {
		case !(c.Open > 0 && c.High > 0 && c.Low > 0 && c.Close > 0):
			return invalidAt(CodeOHLC, "candles", i, "open, high, low and close must be positive")
		case c.Volume < 0 || c.Amount < 0:
			return invalidAt(CodeOHLC, "candles", i, "volume and amount must not be negative")
		case c.Low > c.High:
			return invalidAt(CodeOHLC, "candles", i, "low %g exceeds high %g", c.Low, c.High)
		case c.Low > min(c.Open, c.Close):
			return invalidAt(CodeOHLC, "candles", i, "low %g exceeds min(open, close)", c.Low)
		case c.High < max(c.Open, c.Close):
			return invalidAt(CodeOHLC, "candles", i, "high %g is below max(open, close)", c.High)
		}
	}
	return nil
}

// firstNonIncreasing returns the index of the first element not after its predecessor, or -1.
func firstNonIncreasing(ts []time.Time) int {
	for i := 1; i < len(ts); i++ {
		if !ts[i].After(ts[i-1]) {
			return i
		}
	}
	return -1
}

func (v *Validator) resolve(o *models.Overrides, horizon int) (models.Params, *ValidationError) {
	p := v.defaults
	p.PredLen = horizon
	if o == nil {
		return p, nil
	}
	if err := v.v.Struct(o); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			fe := ves[0]
			return p, invalid(CodeOverrideRange, "overrides."+fe.Field(), "%s", overrideMessage(fe))
		}
		return p, invalid(CodeOverrideRange, "overrides", "%s", err.Error())
	}
	if o.PredLen != nil {
		if *o.PredLen > v.limits.MaxHorizon {
			return p, invalid(CodeOverrideRange, "overrides.pred_len", "must be at most %d", v.limits.MaxHorizon)
		}
		if *o.PredLen != horizon {
			return p, invalid(CodePredLenMismatch, "overrides.pred_len",
				"pred_len %d does not match %d prediction timestamps", *o.PredLen, horizon)
		}
	}
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	if o.TopK != nil {
		p.TopK = *o.TopK
	}
	if o.TopP != nil {
		p.TopP = *o.TopP
	}
	if o.SampleCount != nil {
		p.SampleCount = *o.SampleCount
	}
	return p, nil
}

func overrideMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "lt":
		return "must be less than " + fe.Param()
	default:
		return "is out of range"
	}
}
