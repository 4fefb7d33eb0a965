package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ForecastGate/pkg/util"
)

// Timestamp accepts RFC3339, naive ISO-8601 (read as UTC) or unix seconds on input
// and always renders RFC3339Nano in UTC.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t.UTC()} }

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return fmt.Errorf("timestamp cannot be null")
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, ok := util.ParseTime(s)
		if !ok {
			return fmt.Errorf("invalid timestamp %q", s)
		}
		t.Time = parsed.UTC()
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || f <= 0 {
		return fmt.Errorf("invalid timestamp %s", b)
	}
	sec := int64(f)
	t.Time = time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Times unwraps a slice of Timestamp.
func Times(ts []Timestamp) []time.Time {
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = t.Time
	}
	return out
}
