package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ForecastGate/internal/observability"
	"ForecastGate/internal/service/ratelimit"
	"ForecastGate/internal/usecase"
	"ForecastGate/pkg/config"
	xhttp "ForecastGate/pkg/http"
	applogger "ForecastGate/pkg/logger"
	"ForecastGate/pkg/telemetry"
)

// Resource is an infrastructure handle released after everything that uses it has stopped.
type Resource struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	forecast   *usecase.ForecastUseCase
	registry   *usecase.Registry
	dispatcher *observability.Dispatcher
	limiter    ratelimit.Limiter
	tracing    *telemetry.Provider
	resources  []Resource
}

// New creates a new App instance with all dependencies. dispatcher may be nil when
// auditing is off.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	httpServer *xhttp.Server,
	forecast *usecase.ForecastUseCase,
	registry *usecase.Registry,
	dispatcher *observability.Dispatcher,
	limiter ratelimit.Limiter,
	tracing *telemetry.Provider,
	resources ...Resource,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		httpServer: httpServer,
		forecast:   forecast,
		registry:   registry,
		dispatcher: dispatcher,
		limiter:    limiter,
		tracing:    tracing,
		resources:  resources,
	}
}

// Run serves HTTP and loads the model in the background. It blocks until ctx is done,
// SIGINT/SIGTERM arrives, or the listener fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.dispatcher != nil {
		a.dispatcher.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.httpServer.ListenAndServe)
	g.Go(func() error {
		a.warmup(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown signal received")
		return a.shutdown()
	})
	return g.Wait()
}

// warmup loads the engine while the listener already answers health checks. A failed load
// leaves the gateway alive and not ready.
func (a *App) warmup(ctx context.Context) {
	orch, err := a.forecast.Orchestrator()
	if err != nil {
		a.log.Error("orchestrator init failed", applogger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Inference.StartupTimeout)
	defer cancel()
	start := time.Now()
	if err := orch.Load(ctx); err != nil {
		a.log.Error("model not loaded, readiness stays false",
			applogger.Error(err),
			applogger.Duration("startup_timeout", a.cfg.Inference.StartupTimeout),
		)
		return
	}
	a.log.Info("model warm", applogger.Float64("load_seconds", time.Since(start).Seconds()))
}

// shutdown gracefully stops all services: listener first, then workers, then sinks.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	if err := a.registry.Close(ctx); err != nil {
		a.log.Warn("orchestrator stop error", applogger.Error(err))
	}

	if a.dispatcher != nil {
		if err := a.dispatcher.Stop(ctx); err != nil {
			a.log.Warn("audit flush incomplete", applogger.Error(err))
		}
	}

	if err := a.limiter.Close(); err != nil {
		a.log.Warn("rate limiter close error", applogger.Error(err))
	}

	for i := len(a.resources) - 1; i >= 0; i-- {
		r := a.resources[i]
		if err := r.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", r.Name), applogger.Error(err))
		}
	}

	tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer tcancel()
	if err := a.tracing.Shutdown(tctx); err != nil {
		a.log.Warn("tracing shutdown error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
