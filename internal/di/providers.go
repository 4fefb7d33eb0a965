package di

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ForecastGate/internal/domain/models"
	"ForecastGate/internal/domain/repository"
	"ForecastGate/internal/engine"
	"ForecastGate/internal/handler/api"
	mid "ForecastGate/internal/middleware"
	"ForecastGate/internal/observability"
	internalrepo "ForecastGate/internal/repository"
	"ForecastGate/internal/service/access"
	"ForecastGate/internal/service/identity"
	svcmetrics "ForecastGate/internal/service/metrics"
	"ForecastGate/internal/service/ratelimit"
	"ForecastGate/internal/service/validation"
	"ForecastGate/internal/usecase"
	"ForecastGate/pkg/cache"
	pkgch "ForecastGate/pkg/clickhouse"
	"ForecastGate/pkg/config"
	xhttp "ForecastGate/pkg/http"
	pkgkafka "ForecastGate/pkg/kafka"
	applogger "ForecastGate/pkg/logger"
	"ForecastGate/pkg/metrics"
	"ForecastGate/pkg/server"
	"ForecastGate/pkg/telemetry"
)

const initTimeout = 10 * time.Second

// needsKafka reports whether any component publishes to Kafka.
func needsKafka(cfg *config.Config) bool {
	if cfg.Logging.Collector.Enabled {
		return true
	}
	return cfg.Audit.Enabled && (cfg.Audit.Sink == config.AuditSinkKafka || cfg.Audit.Sink == config.AuditSinkBoth)
}

func needsClickHouse(cfg *config.Config) bool {
	return cfg.Audit.Enabled && (cfg.Audit.Sink == config.AuditSinkClickHouse || cfg.Audit.Sink == config.AuditSinkBoth)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when nothing publishes.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !needsKafka(cfg) {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the application logger. With the collector enabled, error
// entries are deduplicated and shipped to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.Threshold,
			Topic:          cfg.Logging.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l.With(applogger.String("service", cfg.Tracing.ServiceName), applogger.String("env", cfg.Environment)), nil
}

// ProvidePrometheusRegistry creates the registry for gateway collectors. The metrics
// endpoints serve it merged with the default registry, which carries the Go runtime,
// process and Kafka producer collectors.
func ProvidePrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

func ProvideEngineCalls(reg *prometheus.Registry) *svcmetrics.EngineCalls {
	return svcmetrics.NewEngineCalls(reg)
}

func ProvideTracing(cfg *config.Config) (*telemetry.Provider, error) {
	return telemetry.Setup(telemetry.Config{
		Exporter:    cfg.Tracing.Exporter,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
}

// ProvideRedisCache connects only for the shared rate limit policy.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Policy != config.PolicyRedis {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 0),
		cache.WithRedisPrefix(cfg.RateLimit.RedisPrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

func ProvideLimiter(cfg *config.Config, rc *cache.RedisCache, m repository.Metrics, l *applogger.Logger) (ratelimit.Limiter, error) {
	return ratelimit.New(cfg.RateLimit, rc, m, l)
}

// ProvideIdentityResolver uses the system resolver for reverse lookups when enabled.
func ProvideIdentityResolver(cfg *config.Config, l *applogger.Logger) *identity.Resolver {
	opts := []identity.Option{
		identity.WithCacheTTL(cfg.Auth.DNSCacheTTL),
		identity.WithLookupTimeout(cfg.Auth.DNSTimeout),
		identity.WithNegativeTTL(cfg.Auth.DNSNegativeTTL),
	}
	if cfg.Auth.ReverseDNS {
		opts = append(opts, identity.WithLookup(net.DefaultResolver))
	}
	l.Info("identity resolver ready",
		applogger.Bool("reverse_dns", cfg.Auth.ReverseDNS),
		applogger.Duration("dns_cache_ttl", cfg.Auth.DNSCacheTTL),
	)
	return identity.NewResolver(l, opts...)
}

func ProvideAccessGate(cfg *config.Config, m repository.Metrics, l *applogger.Logger) *access.Gate {
	return access.NewGate(access.NewPolicy(cfg.Auth.Enabled, cfg.Auth.Trusted), m, l)
}

func ProvideValidator(cfg *config.Config) *validation.Validator {
	return validation.New(
		validation.Limits{
			MaxInputLength: cfg.Validation.MaxInputLength,
			MaxHorizon:     cfg.Validation.MaxHorizon,
			MaxBatchItems:  cfg.Validation.MaxBatchItems,
		},
		models.Params{
			Temperature: cfg.Model.Temperature,
			TopK:        cfg.Model.TopK,
			TopP:        cfg.Model.TopP,
			SampleCount: cfg.Model.SampleCount,
		},
	)
}

func ProvideEngineSettings(cfg *config.Config) engine.Settings {
	model, tokenizer := cfg.Model.ResolveSources()
	return engine.Settings{
		URL:             cfg.Engine.URL,
		ModelSource:     model,
		TokenizerSource: tokenizer,
		Device:          cfg.Model.Device,
		MaxContext:      cfg.Model.MaxContext,
		Clip:            cfg.Model.Clip,
		RequestTimeout:  cfg.Engine.RequestTimeout,
		LoadAttempts:    cfg.Engine.LoadAttempts,
	}
}

// ProvideOrchestratorRegistry builds orchestrators over the HTTP engine on demand.
func ProvideOrchestratorRegistry(
	cfg *config.Config,
	l *applogger.Logger,
	m repository.Metrics,
	tp *telemetry.Provider,
	calls *svcmetrics.EngineCalls,
) *usecase.Registry {
	build := func(s engine.Settings, fp string) (*usecase.Orchestrator, error) {
		e := engine.NewHTTPEngine(s, engine.WithCallObserver(calls.Observe))
		return usecase.NewOrchestrator(e, usecase.OrchestratorConfig{
			Timeout:     cfg.Inference.Timeout,
			Workers:     cfg.Inference.Workers,
			QueueSize:   cfg.Inference.QueueSize,
			Serialize:   cfg.Inference.Serialize,
			Fingerprint: fp,
		}, l, usecase.WithTracer(tp.Tracer()), usecase.WithMetrics(m))
	}
	return usecase.NewRegistry(build, l, usecase.WithSwapLoadTimeout(cfg.Inference.StartupTimeout))
}

// ProvideClickHouseClient creates a ClickHouse client with the audit schema, or nil when
// ClickHouse is not an audit sink.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !needsClickHouse(cfg) {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if err := client.InitSchema(ctx, internalrepo.AuditSchema(cfg.ClickHouse.Database, cfg.Audit.Table)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideAuditWriter selects the audit backend. Nil when auditing is off.
func ProvideAuditWriter(cfg *config.Config, producer *pkgkafka.Producer, ch *pkgch.Client) repository.AuditWriter {
	if !cfg.Audit.Enabled {
		return nil
	}
	var writers []repository.AuditWriter
	if producer != nil && cfg.Audit.Sink != config.AuditSinkClickHouse {
		writers = append(writers, internalrepo.NewKafkaAuditWriter(producer, cfg.Audit.Topic))
	}
	if ch != nil {
		writers = append(writers, internalrepo.NewClickHouseAuditWriter(ch.DB(), ch.Database()+"."+cfg.Audit.Table))
	}
	switch len(writers) {
	case 0:
		return nil
	case 1:
		return writers[0]
	default:
		return internalrepo.NewMultiAuditWriter(writers...)
	}
}

func ProvideDispatcher(cfg *config.Config, w repository.AuditWriter, m repository.Metrics, l *applogger.Logger) *observability.Dispatcher {
	if w == nil {
		return nil
	}
	return observability.NewDispatcher(w, m, l,
		observability.WithBufferSize(cfg.Audit.BufferSize),
		observability.WithBatchSize(cfg.Audit.BatchSize),
		observability.WithFlushInterval(cfg.Audit.FlushInterval),
	)
}

func ProvideSink(l *applogger.Logger, m repository.Metrics, d *observability.Dispatcher) *observability.Sink {
	return observability.NewSink(l, m, d)
}

func ProvideForecastUseCase(v *validation.Validator, r *usecase.Registry, s engine.Settings, sink *observability.Sink) *usecase.ForecastUseCase {
	return usecase.NewForecastUseCase(v, r, s, sink)
}

func ProvideGateway(
	cfg *config.Config,
	resolver *identity.Resolver,
	gate *access.Gate,
	limiter ratelimit.Limiter,
	sink *observability.Sink,
	l *applogger.Logger,
) *mid.Gateway {
	return mid.NewGateway(resolver, gate, limiter, sink, cfg.Auth.IdentityHeader, l)
}

// ProvideHTTPServer assembles the echo server: gateway stages, handlers and metrics routes.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	rec *metrics.Recorder,
	reg *prometheus.Registry,
	gw *mid.Gateway,
	uc *usecase.ForecastUseCase,
	sink *observability.Sink,
) *xhttp.Server {
	handlers := []xhttp.Handler{
		api.NewHealthHandler(l, uc, ""),
		api.NewPredictHandler(l, uc, sink),
	}
	return xhttp.NewServer(l, handlers,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithBodyLimit(cfg.BodyLimit()),
		xhttp.WithRequestIDHeader(cfg.Server.RequestIDHeader),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithMetrics(rec, prometheus.Gatherers{reg, prometheus.DefaultGatherer}, "/v1/metrics", "/metrics"),
		xhttp.WithMiddleware(gw.Middlewares()...),
	)
}

// ProvideApp creates the application server. Infrastructure handles are closed in
// reverse order of this list.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	uc *usecase.ForecastUseCase,
	registry *usecase.Registry,
	d *observability.Dispatcher,
	limiter ratelimit.Limiter,
	resolver *identity.Resolver,
	tp *telemetry.Provider,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	rc *cache.RedisCache,
) *server.App {
	res := []server.Resource{{Name: "identity resolver", Close: resolver.Close}}
	if producer != nil {
		res = append(res, server.Resource{Name: "kafka producer", Close: producer.Close})
		if cfg.Logging.Collector.Enabled {
			res = append(res, server.Resource{Name: "log collector", Close: func() error {
				l.RemoveCollector()
				return nil
			}})
		}
	}
	if ch != nil {
		res = append(res, server.Resource{Name: "clickhouse", Close: ch.Close})
	}
	if rc != nil {
		res = append(res, server.Resource{Name: "redis", Close: rc.Close})
	}
	return server.New(cfg, l, srv, uc, registry, d, limiter, tp, res...)
}
