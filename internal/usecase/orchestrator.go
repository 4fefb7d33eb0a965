package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"ForecastGate/internal/domain/models"
	domrepo "ForecastGate/internal/domain/repository"
	"ForecastGate/pkg/logger"
	"ForecastGate/pkg/queue"
)

var (
	ErrNotReady            = errors.New("model not ready")
	ErrTimeout             = errors.New("inference timed out")
	ErrPoolSaturated       = errors.New("inference queue full")
	ErrBatchParamsMismatch = errors.New("batch items must share identical parameters")
)

// BatchMismatchError names the first batch item whose parameters differ from item 0.
type BatchMismatchError struct {
	Index    int
	SeriesID string
	Field    string
}

func (e *BatchMismatchError) Error() string {
	return fmt.Sprintf("%s: item %d (%s) %s differs from item 0", ErrBatchParamsMismatch, e.Index, e.SeriesID, e.Field)
}

func (e *BatchMismatchError) Unwrap() error { return ErrBatchParamsMismatch }

// paramDiff returns the first field that differs between a and b. pred_len is derived
// from the horizon when not overridden, so it is reported as the horizon length.
func paramDiff(a, b models.Params) string {
	switch {
	case a.PredLen != b.PredLen:
		return "horizon length"
	case a.Temperature != b.Temperature:
		return "temperature"
	case a.TopK != b.TopK:
		return "top_k"
	case a.TopP != b.TopP:
		return "top_p"
	default:
		return "sample_count"
	}
}

type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type OutcomeKind int

const (
	Success OutcomeKind = iota
	Timeout
	Failure
	NotReady
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case Failure:
		return "failure"
	case NotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

// Outcome is the result of one inference call. Series holds one prediction per
// input series, in input order.
type Outcome struct {
	Kind    OutcomeKind
	Series  [][]models.PredictionPoint
	Info    models.EngineInfo
	Elapsed time.Duration
	Err     error
}

type callConfig struct {
	deadline time.Duration
}

type CallOption func(*callConfig)

// WithDeadline overrides the configured deadline for one call. It is meant for
// server-side callers; request payloads never reach it.
func WithDeadline(d time.Duration) CallOption {
	return func(c *callConfig) {
		if d > 0 {
			c.deadline = d
		}
	}
}

// Orchestrator owns one engine handle: it loads it once, then runs predictions on
// a bounded worker pool under a deadline.
type Orchestrator struct {
	engine  domrepo.Engine
	pool    *queue.Pool
	metrics domrepo.Metrics
	log     *logger.Logger
	tracer  trace.Tracer
	timeout time.Duration
	fp      string

	state   atomic.Int32
	info    atomic.Pointer[models.EngineInfo]
	loadErr atomic.Pointer[error]
	load    singleflight.Group

	closeOnce sync.Once
}

type OrchestratorConfig struct {
	Timeout   time.Duration
	Workers   int
	QueueSize int
	// Serialize forces a single worker for engines that are not reentrant.
	Serialize   bool
	Fingerprint string
}

type OrchestratorOption func(*Orchestrator)

func WithTracer(t trace.Tracer) OrchestratorOption {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithMetrics(m domrepo.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

func NewOrchestrator(e domrepo.Engine, cfg OrchestratorConfig, lgr *logger.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	workers := cfg.Workers
	if cfg.Serialize {
		workers = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 240 * time.Second
	}
	o := &Orchestrator{
		engine:  e,
		metrics: domrepo.NopMetrics{},
		log:     lgr.With(logger.String("component", "orchestrator")),
		tracer:  noop.NewTracerProvider().Tracer(""),
		timeout: timeout,
		fp:      cfg.Fingerprint,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.pool = queue.NewPool(lgr, &queue.QueueConfig{Workers: workers, QueueSize: cfg.QueueSize}, queue.WithName("inference"))
	if err := o.pool.Start(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) State() State { return State(o.state.Load()) }

func (o *Orchestrator) Ready() bool { return o.State() == StateReady }

func (o *Orchestrator) Fingerprint() string { return o.fp }

// Info returns what the engine reported at load, or false before Ready.
func (o *Orchestrator) Info() (models.EngineInfo, bool) {
	if p := o.info.Load(); p != nil {
		return *p, true
	}
	return models.EngineInfo{}, false
}

// LoadError is the cause of a failed load, nil otherwise.
func (o *Orchestrator) LoadError() error {
	if p := o.loadErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Load moves the handle to Ready. It runs once; concurrent callers share the
// first attempt. A failed load is terminal.
func (o *Orchestrator) Load(ctx context.Context) error {
	switch o.State() {
	case StateReady:
		return nil
	case StateFailed:
		return o.LoadError()
	}
	_, err, _ := o.load.Do("load", func() (interface{}, error) {
		if !o.state.CompareAndSwap(int32(StateUnloaded), int32(StateLoading)) {
			if o.State() == StateReady {
				return nil, nil
			}
			return nil, o.LoadError()
		}
		start := time.Now()
		o.log.Info("loading engine", logger.String("fingerprint", o.fp))
		info, err := o.engine.Load(ctx)
		if err != nil {
			o.loadErr.Store(&err)
			o.state.Store(int32(StateFailed))
			o.metrics.SetModelLoaded(false)
			o.metrics.RecordError("engine_load")
			o.log.Error("engine load failed", logger.Error(err), logger.Duration("elapsed_ms", time.Since(start)))
			return nil, err
		}
		o.info.Store(&info)
		o.state.Store(int32(StateReady))
		o.metrics.SetModelLoaded(true)
		fields := []logger.Field{
			logger.String("model_version", info.ModelVersion),
			logger.String("tokenizer_version", info.TokenizerVersion),
			logger.String("device", info.Device),
			logger.Duration("elapsed_ms", time.Since(start)),
		}
		if info.DeviceWarning != "" {
			fields = append(fields, logger.String("device_warning", info.DeviceWarning))
		}
		o.log.Info("engine ready", fields...)
		return nil, nil
	})
	return err
}

// Predict runs one series.
func (o *Orchestrator) Predict(ctx context.Context, s *models.NormalizedSeries, opts ...CallOption) Outcome {
	ctx, span := o.tracer.Start(ctx, "orchestrator.predict")
	defer span.End()
	series := *s
	out := o.run(ctx, "single", opts, func(jctx context.Context) ([][]models.PredictionPoint, error) {
		pts, err := o.engine.Predict(jctx, series)
		if err != nil {
			return nil, err
		}
		return [][]models.PredictionPoint{pts}, nil
	})
	finishSpan(ctx, span, out, 1)
	return out
}

// PredictBatch runs every series in one engine call. All items must share Params.
func (o *Orchestrator) PredictBatch(ctx context.Context, items []*models.NormalizedSeries, opts ...CallOption) Outcome {
	ctx, span := o.tracer.Start(ctx, "orchestrator.predict_batch")
	defer span.End()
	if len(items) == 0 {
		out := Outcome{Kind: Failure, Err: fmt.Errorf("%w: empty batch", ErrBatchParamsMismatch)}
		finishSpan(ctx, span, out, 0)
		return out
	}
	params := items[0].Params
	series := make([]models.NormalizedSeries, len(items))
	for i, it := range items {
		if it.Params != params {
			out := Outcome{Kind: Failure, Err: &BatchMismatchError{Index: i, SeriesID: it.SeriesID, Field: paramDiff(params, it.Params)}}
			finishSpan(ctx, span, out, len(items))
			return out
		}
		series[i] = *it
	}
	out := o.run(ctx, "batch", opts, func(jctx context.Context) ([][]models.PredictionPoint, error) {
		res, err := o.engine.PredictBatch(jctx, series, params)
		if err != nil {
			return nil, err
		}
		if len(res) != len(series) {
			return nil, fmt.Errorf("engine returned %d series for a batch of %d", len(res), len(series))
		}
		return res, nil
	})
	finishSpan(ctx, span, out, len(items))
	return out
}

type result struct {
	series [][]models.PredictionPoint
	err    error
}

func (o *Orchestrator) run(ctx context.Context, kind string, opts []CallOption, call func(context.Context) ([][]models.PredictionPoint, error)) Outcome {
	if o.State() != StateReady {
		return Outcome{Kind: NotReady, Err: ErrNotReady}
	}
	info, _ := o.Info()
	cfg := callConfig{deadline: o.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	jctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so a worker finishing after the deadline never blocks
	resCh := make(chan result, 1)
	err := o.pool.Submit(jctx, func(jctx context.Context) {
		o.metrics.IncInferenceInFlight()
		defer o.metrics.DecInferenceInFlight()
		defer func() {
			if r := recover(); r != nil {
				resCh <- result{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		s, err := call(jctx)
		resCh <- result{series: s, err: err}
	})
	o.metrics.SetQueueDepth(o.pool.Depth())
	if err != nil {
		if errors.Is(err, queue.ErrSaturated) {
			err = ErrPoolSaturated
		}
		out := Outcome{Kind: Failure, Info: info, Elapsed: time.Since(start), Err: err}
		o.record(ctx, kind, out)
		return out
	}

	timer := time.NewTimer(cfg.deadline)
	defer timer.Stop()

	var out Outcome
	select {
	case r := <-resCh:
		out = Outcome{Kind: Success, Series: r.series, Info: info, Elapsed: time.Since(start)}
		if r.err != nil {
			out = Outcome{Kind: Failure, Info: info, Elapsed: out.Elapsed, Err: r.err}
		}
	case <-timer.C:
		out = Outcome{Kind: Timeout, Info: info, Elapsed: time.Since(start), Err: ErrTimeout}
	case <-ctx.Done():
		out = Outcome{Kind: Failure, Info: info, Elapsed: time.Since(start), Err: ctx.Err()}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.Kind, out.Err = Timeout, ErrTimeout
		}
	}
	o.record(ctx, kind, out)
	return out
}

func (o *Orchestrator) record(ctx context.Context, kind string, out Outcome) {
	o.metrics.RecordInference(kind, out.Kind.String(), out.Elapsed)
	fields := []logger.Field{
		logger.String("request_id", logger.RequestID(ctx)),
		logger.String("kind", kind),
		logger.String("outcome", out.Kind.String()),
		logger.Duration("elapsed_ms", out.Elapsed),
	}
	switch out.Kind {
	case Timeout:
		o.log.Warn("inference deadline exceeded", fields...)
	case Failure:
		o.log.Error("inference failed", append(fields, logger.Error(out.Err))...)
	default:
		o.log.Debug("inference finished", fields...)
	}
}

func finishSpan(ctx context.Context, span trace.Span, out Outcome, n int) {
	span.SetAttributes(
		attribute.String("request_id", logger.RequestID(ctx)),
		attribute.String("outcome", out.Kind.String()),
		attribute.Int("series", n),
		attribute.Int64("elapsed_ms", out.Elapsed.Milliseconds()),
	)
	if out.Kind == Success {
		span.SetStatus(codes.Ok, "")
		return
	}
	if out.Err != nil {
		span.RecordError(out.Err)
	}
	span.SetStatus(codes.Error, out.Kind.String())
}

// Close stops the worker pool. Used when the registry retires this instance.
func (o *Orchestrator) Close(ctx context.Context) error {
	var err error
	o.closeOnce.Do(func() {
		err = errors.Join(o.pool.Stop(ctx), o.engine.Close())
	})
	return err
}
