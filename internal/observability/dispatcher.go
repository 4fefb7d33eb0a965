package observability

import (
	"context"
	"sync"
	"time"

	"ForecastGate/internal/domain/models"
	domrepo "ForecastGate/internal/domain/repository"
	"ForecastGate/pkg/logger"
)

// Dispatcher ships audit events to a writer off the request path. Publish never
// blocks: when the buffer is full the event is dropped and counted.
type Dispatcher struct {
	writer  domrepo.AuditWriter
	metrics domrepo.Metrics
	log     *logger.Logger

	bufSize   int
	batchSize int
	interval  time.Duration
	timeout   time.Duration

	ch     chan models.AuditEvent
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
}

type DispatcherOption func(*Dispatcher)

func WithBufferSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.bufSize = n
		}
	}
}

func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithFlushInterval(iv time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if iv > 0 {
			d.interval = iv
		}
	}
}

func NewDispatcher(w domrepo.AuditWriter, m domrepo.Metrics, lgr *logger.Logger, opts ...DispatcherOption) *Dispatcher {
	if m == nil {
		m = domrepo.NopMetrics{}
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	d := &Dispatcher{
		writer:    w,
		metrics:   m,
		log:       lgr,
		bufSize:   1024,
		batchSize: 100,
		interval:  2 * time.Second,
		timeout:   10 * time.Second,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ch = make(chan models.AuditEvent, d.bufSize)
	return d
}

// Publish enqueues ev without blocking. It reports whether the event was kept.
func (d *Dispatcher) Publish(ev models.AuditEvent) bool {
	select {
	case d.ch <- ev:
		return true
	default:
		d.metrics.RecordAuditDropped()
		return false
	}
}

// Start launches the background flusher.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	go d.loop()
}

// Stop flushes what is buffered and waits for the flusher, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	close(d.stopCh)
	d.mu.Unlock()

	select {
	case <-d.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	batch := make([]models.AuditEvent, 0, d.batchSize)
	for {
		select {
		case ev := <-d.ch:
			batch = append(batch, ev)
			if len(batch) >= d.batchSize {
				batch = d.flush(batch)
			}
		case <-ticker.C:
			batch = d.flush(batch)
		case <-d.stopCh:
			for {
				select {
				case ev := <-d.ch:
					batch = append(batch, ev)
					if len(batch) >= d.batchSize {
						batch = d.flush(batch)
					}
				default:
					d.flush(batch)
					return
				}
			}
		}
	}
}

func (d *Dispatcher) flush(batch []models.AuditEvent) []models.AuditEvent {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	start := time.Now()
	if err := d.writer.WriteBatch(ctx, batch); err != nil {
		d.metrics.RecordError("audit_write")
		d.log.Error("audit batch write failed",
			logger.Int("events", len(batch)),
			logger.Duration("elapsed_ms", time.Since(start)),
			logger.Error(err))
	}
	return batch[:0]
}
