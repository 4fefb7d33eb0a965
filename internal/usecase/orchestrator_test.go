package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ForecastGate/internal/domain/models"
	"ForecastGate/internal/engine"
)

type fakeEngine struct {
	loadErr   error
	loadDelay time.Duration
	loads     atomic.Int32
	delay     time.Duration
	predErr   error
	short     bool
	batchCall atomic.Int32
	block     chan struct{}
	running   atomic.Int32
}

func (f *fakeEngine) Load(ctx context.Context) (models.EngineInfo, error) {
	f.loads.Add(1)
	if f.loadDelay > 0 {
		time.Sleep(f.loadDelay)
	}
	if f.loadErr != nil {
		return models.EngineInfo{}, f.loadErr
	}
	return models.EngineInfo{ModelVersion: "kronos-small", TokenizerVersion: "tok-base", Device: "cpu"}, nil
}

func (f *fakeEngine) wait(ctx context.Context) error {
	f.running.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.predErr
}

func (f *fakeEngine) Predict(ctx context.Context, s models.NormalizedSeries) ([]models.PredictionPoint, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return make([]models.PredictionPoint, len(s.PredictionTimestamps)), nil
}

func (f *fakeEngine) PredictBatch(ctx context.Context, series []models.NormalizedSeries, _ models.Params) ([][]models.PredictionPoint, error) {
	f.batchCall.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	n := len(series)
	if f.short {
		n--
	}
	out := make([][]models.PredictionPoint, n)
	for i := range out {
		out[i] = make([]models.PredictionPoint, len(series[i].PredictionTimestamps))
	}
	return out, nil
}

func (f *fakeEngine) Close() error { return nil }

func newOrch(t *testing.T, e *fakeEngine, cfg OrchestratorConfig, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 4
	}
	o, err := NewOrchestrator(e, cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return o
}

func ns(id string, h int, p models.Params) *models.NormalizedSeries {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &models.NormalizedSeries{SeriesID: id, Timestamps: []time.Time{base}, Params: p}
	for i := 1; i <= h; i++ {
		s.PredictionTimestamps = append(s.PredictionTimestamps, base.Add(time.Duration(i)*time.Minute))
	}
	return s
}

var params = models.Params{PredLen: 2, Temperature: 1, TopP: 0.9, SampleCount: 1}

func TestOrchestrator_NotReadyBeforeLoad(t *testing.T) {
	e := &fakeEngine{}
	o := newOrch(t, e, OrchestratorConfig{})

	assert.Equal(t, StateUnloaded, o.State())
	out := o.Predict(context.Background(), ns("a", 2, params))
	assert.Equal(t, NotReady, out.Kind)
	assert.ErrorIs(t, out.Err, ErrNotReady)
}

func TestOrchestrator_LoadOnceUnderConcurrency(t *testing.T) {
	e := &fakeEngine{loadDelay: 50 * time.Millisecond}
	o := newOrch(t, e, OrchestratorConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Load(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), e.loads.Load())
	assert.Equal(t, StateReady, o.State())

	info, ok := o.Info()
	require.True(t, ok)
	assert.Equal(t, "kronos-small", info.ModelVersion)
}

func TestOrchestrator_LoadFailureIsTerminal(t *testing.T) {
	e := &fakeEngine{loadErr: errors.New("weights missing")}
	o := newOrch(t, e, OrchestratorConfig{})

	require.Error(t, o.Load(context.Background()))
	assert.Equal(t, StateFailed, o.State())
	require.Error(t, o.Load(context.Background()))
	assert.Equal(t, int32(1), e.loads.Load())
	assert.Equal(t, NotReady, o.Predict(context.Background(), ns("a", 2, params)).Kind)
}

func TestOrchestrator_Success(t *testing.T) {
	o := newOrch(t, &fakeEngine{}, OrchestratorConfig{})
	require.NoError(t, o.Load(context.Background()))

	out := o.Predict(context.Background(), ns("a", 3, params))
	require.Equal(t, Success, out.Kind, out.Err)
	require.Len(t, out.Series, 1)
	assert.Len(t, out.Series[0], 3)
	assert.Equal(t, "kronos-small", out.Info.ModelVersion)
}

func TestOrchestrator_TimeoutCancelsJob(t *testing.T) {
	e := &fakeEngine{delay: time.Second}
	o := newOrch(t, e, OrchestratorConfig{Timeout: 30 * time.Millisecond})
	require.NoError(t, o.Load(context.Background()))

	start := time.Now()
	out := o.Predict(context.Background(), ns("a", 2, params))
	assert.Equal(t, Timeout, out.Kind)
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestOrchestrator_PerCallDeadline(t *testing.T) {
	e := &fakeEngine{delay: 100 * time.Millisecond}
	o := newOrch(t, e, OrchestratorConfig{Timeout: time.Second})
	require.NoError(t, o.Load(context.Background()))

	out := o.Predict(context.Background(), ns("a", 2, params), WithDeadline(10*time.Millisecond))
	assert.Equal(t, Timeout, out.Kind)
}

func TestOrchestrator_EngineFailure(t *testing.T) {
	e := &fakeEngine{predErr: errors.New("cuda oom")}
	o := newOrch(t, e, OrchestratorConfig{})
	require.NoError(t, o.Load(context.Background()))

	out := o.Predict(context.Background(), ns("a", 2, params))
	assert.Equal(t, Failure, out.Kind)
	assert.EqualError(t, out.Err, "cuda oom")
}

func TestOrchestrator_Saturation(t *testing.T) {
	e := &fakeEngine{block: make(chan struct{})}
	o := newOrch(t, e, OrchestratorConfig{Workers: 1, QueueSize: 1, Timeout: 2 * time.Second})
	require.NoError(t, o.Load(context.Background()))
	defer close(e.block)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Predict(ctx, ns("a", 2, params))
	require.Eventually(t, func() bool { return e.running.Load() == 1 }, time.Second, 5*time.Millisecond)
	go o.Predict(ctx, ns("a", 2, params))
	require.Eventually(t, func() bool { return o.pool.Depth() == 1 }, time.Second, 5*time.Millisecond)

	out := o.Predict(context.Background(), ns("b", 2, params))
	assert.Equal(t, Failure, out.Kind)
	assert.ErrorIs(t, out.Err, ErrPoolSaturated)
}

func TestOrchestrator_SerializeForcesOneWorker(t *testing.T) {
	o := newOrch(t, &fakeEngine{}, OrchestratorConfig{Workers: 8, Serialize: true})
	assert.Equal(t, 1, o.pool.Workers())
}

func TestOrchestrator_Batch(t *testing.T) {
	e := &fakeEngine{}
	o := newOrch(t, e, OrchestratorConfig{})
	require.NoError(t, o.Load(context.Background()))

	out := o.PredictBatch(context.Background(), []*models.NormalizedSeries{ns("a", 2, params), ns("b", 2, params)})
	require.Equal(t, Success, out.Kind, out.Err)
	assert.Len(t, out.Series, 2)
	assert.Equal(t, int32(1), e.batchCall.Load())

	other := params
	other.Temperature = 0.5
	out = o.PredictBatch(context.Background(), []*models.NormalizedSeries{ns("a", 2, params), ns("b", 2, other)})
	assert.ErrorIs(t, out.Err, ErrBatchParamsMismatch)
	var bm *BatchMismatchError
	require.ErrorAs(t, out.Err, &bm)
	assert.Equal(t, "temperature", bm.Field)
	assert.Equal(t, int32(1), e.batchCall.Load())

	longer := params
	longer.PredLen = params.PredLen + 1
	out = o.PredictBatch(context.Background(), []*models.NormalizedSeries{ns("a", 2, params), ns("b", 2, longer)})
	require.ErrorAs(t, out.Err, &bm)
	assert.Equal(t, 1, bm.Index)
	assert.Equal(t, "b", bm.SeriesID)
	assert.EqualError(t, out.Err, "batch items must share identical parameters: item 1 (b) horizon length differs from item 0")
	assert.Equal(t, int32(1), e.batchCall.Load())

	e.short = true
	out = o.PredictBatch(context.Background(), []*models.NormalizedSeries{ns("a", 2, params), ns("b", 2, params)})
	assert.Equal(t, Failure, out.Kind)
}

func TestOrchestrator_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	o := newOrch(t, &fakeEngine{}, OrchestratorConfig{}, WithTracer(tp.Tracer("test")))
	require.NoError(t, o.Load(context.Background()))

	o.Predict(context.Background(), ns("a", 2, params))
	o.PredictBatch(context.Background(), []*models.NormalizedSeries{ns("a", 2, params)})

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "orchestrator.predict", spans[0].Name())
	assert.Equal(t, "orchestrator.predict_batch", spans[1].Name())
	found := false
	for _, kv := range spans[0].Attributes() {
		if string(kv.Key) == "outcome" {
			found = true
			assert.Equal(t, "success", kv.Value.AsString())
		}
	}
	assert.True(t, found)
}

func TestRegistry_SwapsOnFingerprintChange(t *testing.T) {
	built := 0
	r := NewRegistry(func(s engine.Settings, fp string) (*Orchestrator, error) {
		built++
		return NewOrchestrator(&fakeEngine{}, OrchestratorConfig{Fingerprint: fp}, nil)
	}, nil)
	defer r.Close(context.Background())

	s := engine.Settings{URL: "http://engine:9000", Device: "cpu"}
	a, err := r.Get(s)
	require.NoError(t, err)
	b, err := r.Get(s)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, built)

	s.Device = "cuda:0"
	c, err := r.Get(s)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Same(t, c, r.Current())
	assert.Equal(t, 2, built)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	// the old instance keeps its own state
	assert.Equal(t, StateUnloaded, a.State())
}

func TestRegistry_SwappedInstanceLoadsInBackground(t *testing.T) {
	engines := []*fakeEngine{{}, {}}
	built := 0
	r := NewRegistry(func(s engine.Settings, fp string) (*Orchestrator, error) {
		e := engines[built]
		built++
		return NewOrchestrator(e, OrchestratorConfig{Timeout: time.Second, Workers: 1, QueueSize: 1, Fingerprint: fp}, nil)
	}, nil, WithSwapLoadTimeout(time.Second))
	defer r.Close(context.Background())

	s := engine.Settings{URL: "http://engine:9000", Device: "cpu"}
	a, err := r.Get(s)
	require.NoError(t, err)
	require.NoError(t, a.Load(context.Background()))
	assert.Equal(t, int32(0), engines[1].loads.Load())

	s.Device = "cuda:0"
	c, err := r.Get(s)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return c.State() == StateReady }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), engines[1].loads.Load())

	out := c.Predict(context.Background(), ns("a", 2, params))
	assert.Equal(t, Success, out.Kind, out.Err)
}
