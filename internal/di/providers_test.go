package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ForecastGate/internal/service/ratelimit"
	"ForecastGate/pkg/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.ReverseDNS = false
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "error"
	return cfg
}

func TestInitializeApp_DefaultsNeedNoInfrastructure(t *testing.T) {
	cfg := testConfig()
	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, app)

	p, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, p)
	ch, err := ProvideClickHouseClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, ch)
	rc, err := ProvideRedisCache(cfg)
	require.NoError(t, err)
	assert.Nil(t, rc)
	assert.Nil(t, ProvideAuditWriter(cfg, nil, nil))
}

func TestProvideHTTPServer_Pipeline(t *testing.T) {
	cfg := testConfig()
	l, err := ProvideLogger(cfg, nil)
	require.NoError(t, err)
	reg := ProvidePrometheusRegistry()
	rec := ProvideMetrics(reg)
	tp, err := ProvideTracing(cfg)
	require.NoError(t, err)
	lim, err := ProvideLimiter(cfg, nil, rec, l)
	require.NoError(t, err)
	defer lim.Close()
	_, fixed := lim.(*ratelimit.FixedWindow)
	assert.True(t, fixed)

	sink := ProvideSink(l, rec, nil)
	registry := ProvideOrchestratorRegistry(cfg, l, rec, tp, ProvideEngineCalls(reg))
	uc := ProvideForecastUseCase(ProvideValidator(cfg), registry, ProvideEngineSettings(cfg), sink)
	gw := ProvideGateway(cfg, ProvideIdentityResolver(cfg, l), ProvideAccessGate(cfg, rec, l), lim, sink, l)
	srv := ProvideHTTPServer(cfg, l, rec, reg, gw, uc, sink)
	defer registry.Close(context.Background())

	do := func(method, path, identity, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if identity != "" {
			req.Header.Set(cfg.Auth.IdentityHeader, identity)
		}
		rr := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/v1/healthz", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(http.MethodGet, "/v1/readyz", "", "").Code)

	rr := do(http.MethodPost, "/v1/predict/single", "", "{}")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "caller is not permitted")

	rr = do(http.MethodPost, "/v1/predict/single", "frontend-app", `{"candles":[],"timestamps":[],"prediction_timestamps":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(http.MethodGet, "/v1/metrics", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "forecastgate_security_events_total")
}
