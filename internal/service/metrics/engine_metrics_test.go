package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEngineCallsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewEngineCalls(reg)

	c.Observe("/predict", 120*time.Millisecond, nil)
	c.Observe("/predict", 80*time.Millisecond, errors.New("boom"))
	c.Observe("/load", time.Second, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues("/predict")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.errors.WithLabelValues("/load")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.latency))
}
