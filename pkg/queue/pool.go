package queue

import (
	"context"
	"fmt"
	"sync"

	"ForecastGate/pkg/logger"
)

type job struct {
	ctx context.Context
	fn  Task
}

// Pool runs tasks on a fixed set of goroutines fed by a bounded channel.
type Pool struct {
	logger *logger.Logger
	config QueueConfig
	name   string

	tasks  chan job
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	isRunning bool
}

type PoolOption func(*Pool)

// WithName labels log lines, useful when several pools run side by side.
func WithName(name string) PoolOption {
	return func(p *Pool) {
		if name != "" {
			p.name = name
		}
	}
}

func NewPool(lgr *logger.Logger, config *QueueConfig, opts ...PoolOption) *Pool {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	cfg := QueueConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.normalize()
	p := &Pool{
		logger: lgr,
		config: cfg,
		name:   "pool",
		tasks:  make(chan job, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return fmt.Errorf("queue already running")
	}
	p.isRunning = true
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		logger.String("pool", p.name),
		logger.Int("workers", p.config.Workers),
		logger.Int("queue_size", p.config.QueueSize))
	return nil
}

// Stop rejects new tasks and waits for running ones. Tasks still queued are dropped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	close(p.stopCh)
	p.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.StopTimeout)
		defer cancel()
	}

	doneCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		p.logger.Warn("timeout waiting for pool workers", logger.String("pool", p.name), logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		p.logger.Info("worker pool stopped", logger.String("pool", p.name))
		return nil
	}
}

// Submit enqueues fn without blocking. It fails with ErrSaturated when the queue is full.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.isRunning {
		return ErrStopped
	}
	select {
	case p.tasks <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		return ErrSaturated
	}
}

// Depth is the number of queued tasks not yet picked up.
func (p *Pool) Depth() int { return len(p.tasks) }

func (p *Pool) Workers() int { return p.config.Workers }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("pool worker started", logger.String("pool", p.name), logger.Int("worker_id", id))
	for {
		select {
		case <-p.stopCh:
			return
		case j := <-p.tasks:
			// abandoned before a worker got to it
			if j.ctx.Err() != nil {
				continue
			}
			p.run(id, j)
		}
	}
}

func (p *Pool) run(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked",
				logger.String("pool", p.name),
				logger.Int("worker_id", id),
				logger.Any("panic", r))
		}
	}()
	j.fn(j.ctx)
}
