package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ForecastGate/internal/engine"
	"ForecastGate/pkg/logger"
)

// Factory builds an orchestrator for one engine configuration.
type Factory func(s engine.Settings, fingerprint string) (*Orchestrator, error)

type registryEntry struct {
	fp   string
	orch *Orchestrator
}

// Registry keeps one orchestrator per configuration fingerprint. A new fingerprint
// builds a fresh instance and swaps it in; the previous one is left untouched for
// requests already holding it and is closed only on shutdown.
//
// The first instance is loaded by the caller at startup. Instances swapped in later
// load in the background, bounded by the swap load timeout.
type Registry struct {
	build       Factory
	log         *logger.Logger
	loadTimeout time.Duration
	current     atomic.Pointer[registryEntry]

	mu      sync.Mutex
	retired []*Orchestrator
	ctx     context.Context
	cancel  context.CancelFunc
	loads   sync.WaitGroup
}

type RegistryOption func(*Registry)

// WithSwapLoadTimeout bounds the background load of a swapped-in orchestrator.
func WithSwapLoadTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

func NewRegistry(build Factory, lgr *logger.Logger, opts ...RegistryOption) *Registry {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{build: build, log: lgr, loadTimeout: 5 * time.Minute, ctx: ctx, cancel: cancel}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Fingerprint hashes the canonical JSON form of s.
func Fingerprint(s engine.Settings) string {
	b, _ := json.Marshal(s)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Get returns the orchestrator for s, building it on first use or when s changed.
func (r *Registry) Get(s engine.Settings) (*Orchestrator, error) {
	fp := Fingerprint(s)
	if e := r.current.Load(); e != nil && e.fp == fp {
		return e.orch, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.current.Load()
	if prev != nil && prev.fp == fp {
		return prev.orch, nil
	}
	o, err := r.build(s, fp)
	if err != nil {
		return nil, err
	}
	r.current.Store(&registryEntry{fp: fp, orch: o})
	if prev != nil {
		r.retired = append(r.retired, prev.orch)
		r.log.Info("engine configuration changed, new orchestrator installed",
			logger.String("previous", prev.fp[:12]), logger.String("current", fp[:12]))
		if r.ctx.Err() == nil {
			r.loads.Add(1)
			go r.warm(o)
		}
	}
	return o, nil
}

func (r *Registry) warm(o *Orchestrator) {
	defer r.loads.Done()
	ctx, cancel := context.WithTimeout(r.ctx, r.loadTimeout)
	defer cancel()
	if err := o.Load(ctx); err != nil {
		r.log.Error("swapped orchestrator failed to load",
			logger.String("fingerprint", o.Fingerprint()), logger.Error(err))
	}
}

// Current is the most recently installed orchestrator, or nil.
func (r *Registry) Current() *Orchestrator {
	if e := r.current.Load(); e != nil {
		return e.orch
	}
	return nil
}

// Close cancels background loads and shuts down every orchestrator the registry has built.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.loads.Wait()

	r.mu.Lock()
	all := append([]*Orchestrator{}, r.retired...)
	if e := r.current.Load(); e != nil {
		all = append(all, e.orch)
	}
	r.mu.Unlock()

	var errs []error
	for _, o := range all {
		if err := o.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
