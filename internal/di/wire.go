//go:build wireinject
// +build wireinject

package di

import (
	"ForecastGate/internal/domain/repository"
	"ForecastGate/pkg/config"
	"ForecastGate/pkg/metrics"
	"ForecastGate/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideClickHouseClient,
		ProvideRedisCache,

		// Ambient
		ProvideLogger,
		ProvidePrometheusRegistry,
		ProvideMetrics,
		wire.Bind(new(repository.Metrics), new(*metrics.Recorder)),
		ProvideEngineCalls,
		ProvideTracing,

		// Gateway stages
		ProvideIdentityResolver,
		ProvideAccessGate,
		ProvideLimiter,

		// Audit
		ProvideAuditWriter,
		ProvideDispatcher,
		ProvideSink,

		// Inference
		ProvideValidator,
		ProvideEngineSettings,
		ProvideOrchestratorRegistry,
		ProvideForecastUseCase,

		// HTTP and application server
		ProvideGateway,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
