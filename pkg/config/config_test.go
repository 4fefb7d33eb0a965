package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, 8000, c.Server.Port)
	assert.Equal(t, "X-Container-Name", c.Auth.IdentityHeader)
	assert.Equal(t, []string{"localhost", "frontend-app", "worker-service", "scheduler"}, c.Auth.Trusted)
	assert.Equal(t, 30*time.Second, c.Auth.DNSNegativeTTL)
	assert.Equal(t, 100, c.RateLimit.PerMinute)
	assert.Equal(t, PolicyFixedWindow, c.RateLimit.Policy)
	assert.Equal(t, 240*time.Second, c.Inference.Timeout)
	assert.Equal(t, 300*time.Second, c.Inference.StartupTimeout)
	assert.Equal(t, 0.9, c.Model.TopP)
	assert.Equal(t, 2048, c.Validation.MaxInputLength)
	assert.Equal(t, "10M", c.BodyLimit())
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	p := writeConfig(t, `
environment: production
server:
  port: 9100
auth:
  trusted: [gateway-client]
rate_limit:
  policy: token_bucket
  per_minute: 5
inference:
  timeout: 2s
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, []string{"gateway-client"}, c.Auth.Trusted)
	assert.Equal(t, PolicyTokenBucket, c.RateLimit.Policy)
	assert.Equal(t, 5, c.RateLimit.PerMinute)
	assert.Equal(t, 2*time.Second, c.Inference.Timeout)
	// untouched sections keep their defaults
	assert.Equal(t, "cpu", c.Model.Device)
}

func TestLoadWithEnvAppliesOverrides(t *testing.T) {
	p := writeConfig(t, "environment: test\n")
	t.Setenv("FORECASTGATE_TRUSTED_IDENTITIES", "a, b")
	t.Setenv("FORECASTGATE_AUTH_ENABLED", "false")
	t.Setenv("FORECASTGATE_RATE_LIMIT_PER_MINUTE", "7")
	t.Setenv("FORECASTGATE_INFERENCE_TIMEOUT", "1.5")
	t.Setenv("FORECASTGATE_DEVICE", "cuda:0")

	c, err := LoadWithEnv(p)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, c.Auth.Trusted)
	assert.False(t, c.Auth.Enabled)
	assert.Equal(t, 7, c.RateLimit.PerMinute)
	assert.Equal(t, 1500*time.Millisecond, c.Inference.Timeout)
	assert.Equal(t, "cuda:0", c.Model.Device)
}

func TestLoadWithEnvRejectsNonNumericOverride(t *testing.T) {
	p := writeConfig(t, "environment: test\n")
	t.Setenv("FORECASTGATE_PORT", "eighty")

	_, err := LoadWithEnv(p)
	assert.ErrorContains(t, err, "FORECASTGATE_PORT")
}

func TestValidateRejectsBadPolicyAndEmptyTrustList(t *testing.T) {
	c := Default()
	c.RateLimit.Policy = "leaky"
	assert.Error(t, c.Validate())

	c = Default()
	c.Auth.Trusted = nil
	assert.Error(t, c.Validate())

	c.Auth.Enabled = false
	assert.NoError(t, c.Validate())
}

func TestValidateAuditSinkNeedsBackend(t *testing.T) {
	c := Default()
	c.Audit.Enabled = true
	c.Audit.Sink = AuditSinkClickHouse
	assert.Error(t, c.Validate())

	c.ClickHouse.Host = "clickhouse"
	assert.NoError(t, c.Validate())
}

func TestResolveSources(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "tokenizer"), 0o755))

	model, tok := ModelConfig{ModelPath: dir}.ResolveSources()
	assert.Equal(t, dir, model)
	assert.Equal(t, filepath.Join(dir, "tokenizer"), tok)

	model, tok = ModelConfig{ModelPath: filepath.Join(dir, "missing")}.ResolveSources()
	assert.Equal(t, DefaultModelID, model)
	assert.Equal(t, DefaultTokenizerID, tok)

	model, tok = ModelConfig{ModelID: "org/model", TokenizerID: "org/tok", ModelPath: dir}.ResolveSources()
	assert.Equal(t, "org/model", model)
	assert.Equal(t, "org/tok", tok)
}

func TestLoadShippedConfig(t *testing.T) {
	c, err := Load("../../config/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8000, c.Server.Port)
	assert.Equal(t, PolicyFixedWindow, c.RateLimit.Policy)
	assert.Equal(t, 240*time.Second, c.Inference.Timeout)
	assert.Equal(t, []string{"localhost", "frontend-app", "worker-service", "scheduler"}, c.Auth.Trusted)
	assert.False(t, c.Audit.Enabled)
}
