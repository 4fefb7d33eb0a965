package validation

import (
	"fmt"
	"strconv"
)

const (
	CodeOHLC            = "ERR_OHLC_INVALID"
	CodeLengthMismatch  = "ERR_LENGTH_MISMATCH"
	CodeInputLength     = "ERR_INPUT_LENGTH"
	CodeHorizonLength   = "ERR_HORIZON_LENGTH"
	CodeTimestampOrder  = "ERR_TIMESTAMP_ORDER"
	CodeHorizonStart    = "ERR_HORIZON_START"
	CodeOverrideRange   = "ERR_OVERRIDE_RANGE"
	CodePredLenMismatch = "ERR_PRED_LEN_MISMATCH"
	CodeBatchSize       = "ERR_BATCH_SIZE"
)

// ValidationError names the first violated rule. Index points into the field's
// sequence when the rule is per element. Item and SeriesID are set for batch items.
type ValidationError struct {
	Code     string
	Field    string
	Index    *int
	Item     *int
	SeriesID string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.SeriesID != "" {
		return fmt.Sprintf("%s: %s (series %s)", e.Path(), e.Message, e.SeriesID)
	}
	return fmt.Sprintf("%s: %s", e.Path(), e.Message)
}

// Path renders the JSON location, e.g. items[2].candles[5].
func (e *ValidationError) Path() string {
	p := e.Field
	if e.Index != nil {
		p += "[" + strconv.Itoa(*e.Index) + "]"
	}
	if e.Item != nil {
		p = "items[" + strconv.Itoa(*e.Item) + "]." + p
	}
	return p
}

func invalid(code, field string, msg string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(msg, args...)}
}

func invalidAt(code, field string, idx int, msg string, args ...any) *ValidationError {
	e := invalid(code, field, msg, args...)
	e.Index = &idx
	return e
}
