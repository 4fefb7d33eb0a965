package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ForecastGate/pkg/util"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FORECASTGATE_"

const (
	DefaultModelID     = "NeoQuasar/Kronos-small"
	DefaultTokenizerID = "NeoQuasar/Kronos-Tokenizer-base"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Server      ServerConfig     `yaml:"server"`
	Logging     LoggingConfig    `yaml:"logging"`
	Auth        AuthConfig       `yaml:"auth"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Validation  ValidationConfig `yaml:"validation"`
	Inference   InferenceConfig  `yaml:"inference"`
	Model       ModelConfig      `yaml:"model"`
	Engine      EngineConfig     `yaml:"engine"`
	Audit       AuditConfig      `yaml:"audit"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
	Tracing     TracingConfig    `yaml:"tracing"`
}

type ServerConfig struct {
	Host             string        `yaml:"host" default:"0.0.0.0"`
	Port             int           `yaml:"port" default:"8000"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"300s"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" default:"15s"`
	MaxRequestSizeMB int           `yaml:"max_request_size_mb" default:"10"`
	CORS             bool          `yaml:"cors" default:"true"`
	RequestIDHeader  string        `yaml:"request_id_header" default:"X-Request-ID"`
	SlowThreshold    time.Duration `yaml:"slow_threshold" default:"10s"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	Output     string `yaml:"output" default:"stdout"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" default:"14"`
	Compress   bool   `yaml:"compress"`
	Collector  struct {
		Enabled   bool          `yaml:"enabled"`
		Topic     string        `yaml:"topic" default:"forecastgate.logs"`
		Interval  time.Duration `yaml:"interval" default:"30s"`
		Threshold int           `yaml:"threshold" default:"100"`
	} `yaml:"collector"`
}

type AuthConfig struct {
	Enabled        bool          `yaml:"enabled" default:"true"`
	IdentityHeader string        `yaml:"identity_header" default:"X-Container-Name"`
	Trusted        []string      `yaml:"trusted" default:"[\"localhost\",\"frontend-app\",\"worker-service\",\"scheduler\"]"`
	ReverseDNS     bool          `yaml:"reverse_dns" default:"true"`
	DNSTimeout     time.Duration `yaml:"dns_timeout" default:"500ms"`
	DNSCacheTTL    time.Duration `yaml:"dns_cache_ttl" default:"5m"`
	DNSNegativeTTL time.Duration `yaml:"dns_negative_ttl" default:"30s"`
}

const (
	PolicyFixedWindow = "fixed_window"
	PolicyTokenBucket = "token_bucket"
	PolicyRedis       = "redis"
)

type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	PerMinute       int           `yaml:"per_minute" default:"100"`
	Policy          string        `yaml:"policy" default:"fixed_window"`
	Shards          int           `yaml:"shards" default:"64"`
	JanitorInterval time.Duration `yaml:"janitor_interval" default:"1m"`
	RedisPrefix     string        `yaml:"redis_prefix" default:"forecastgate"`
}

type ValidationConfig struct {
	MaxInputLength int `yaml:"max_input_length" default:"2048"`
	MaxHorizon     int `yaml:"max_horizon" default:"512"`
	MaxBatchItems  int `yaml:"max_batch_items" default:"64"`
}

type InferenceConfig struct {
	Timeout        time.Duration `yaml:"timeout" default:"240s"`
	StartupTimeout time.Duration `yaml:"startup_timeout" default:"300s"`
	Workers        int           `yaml:"workers" default:"2"`
	QueueSize      int           `yaml:"queue_size" default:"16"`
	Serialize      bool          `yaml:"serialize"`
}

type ModelConfig struct {
	ModelID     string  `yaml:"model_id"`
	TokenizerID string  `yaml:"tokenizer_id"`
	ModelPath   string  `yaml:"model_path" default:"/data/ws/kronos/models"`
	Device      string  `yaml:"device" default:"cpu"`
	MaxContext  int     `yaml:"max_context" default:"512"`
	Clip        float64 `yaml:"clip" default:"5.0"`
	Temperature float64 `yaml:"temperature" default:"1.0"`
	TopK        int     `yaml:"top_k" default:"0"`
	TopP        float64 `yaml:"top_p" default:"0.9"`
	SampleCount int     `yaml:"sample_count" default:"1"`
}

// ResolveSources picks the model and tokenizer sources: an explicit id wins, then a local
// directory under ModelPath, then the public hub defaults.
func (m ModelConfig) ResolveSources() (model, tokenizer string) {
	switch {
	case m.TokenizerID != "":
		tokenizer = m.TokenizerID
	case m.ModelPath != "" && dirExists(filepath.Join(m.ModelPath, "tokenizer")):
		tokenizer = filepath.Join(m.ModelPath, "tokenizer")
	default:
		tokenizer = DefaultTokenizerID
	}
	switch {
	case m.ModelID != "":
		model = m.ModelID
	case m.ModelPath != "" && dirExists(m.ModelPath):
		model = m.ModelPath
	default:
		model = DefaultModelID
	}
	return model, tokenizer
}

func dirExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

type EngineConfig struct {
	URL            string        `yaml:"url" default:"http://127.0.0.1:9000"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"300s"`
	LoadAttempts   int           `yaml:"load_attempts" default:"3"`
}

const (
	AuditSinkKafka      = "kafka"
	AuditSinkClickHouse = "clickhouse"
	AuditSinkBoth       = "both"
)

type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Sink          string        `yaml:"sink" default:"kafka"`
	BufferSize    int           `yaml:"buffer_size" default:"1024"`
	BatchSize     int           `yaml:"batch_size" default:"100"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"2s"`
	Topic         string        `yaml:"topic" default:"forecastgate.audit"`
	Table         string        `yaml:"table" default:"audit_events"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"500ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"forecastgate"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert" default:"true"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

type RedisConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
}

type TracingConfig struct {
	Exporter    string  `yaml:"exporter" default:"none"`
	ServiceName string  `yaml:"service_name" default:"forecastgate"`
	SampleRatio float64 `yaml:"sample_ratio" default:"1.0"`
}

// Default returns a config populated from `default` tags only.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		// tags are static; a failure here is a programming error
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads a YAML configuration file on top of the defaults and validates it.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (if present), then the YAML file, then FORECASTGATE_* overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = util.ParseBoolDefault(v, *dst)
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	seconds := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = time.Duration(f * float64(time.Second))
		}
	}

	str("ENV", &c.Environment)
	str("HOST", &c.Server.Host)
	integer("PORT", &c.Server.Port)
	integer("MAX_REQUEST_SIZE_MB", &c.Server.MaxRequestSizeMB)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_OUTPUT", &c.Logging.Output)

	boolean("AUTH_ENABLED", &c.Auth.Enabled)
	str("IDENTITY_HEADER", &c.Auth.IdentityHeader)
	if v, ok := os.LookupEnv(EnvPrefix + "TRUSTED_IDENTITIES"); ok {
		c.Auth.Trusted = util.SplitCSV(v)
	}

	boolean("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	integer("RATE_LIMIT_PER_MINUTE", &c.RateLimit.PerMinute)
	str("RATE_LIMIT_POLICY", &c.RateLimit.Policy)

	seconds("INFERENCE_TIMEOUT", &c.Inference.Timeout)
	seconds("STARTUP_TIMEOUT", &c.Inference.StartupTimeout)
	seconds("REQUEST_TIMEOUT", &c.Server.WriteTimeout)
	integer("INFERENCE_WORKERS", &c.Inference.Workers)
	boolean("INFERENCE_SERIALIZE", &c.Inference.Serialize)

	str("DEVICE", &c.Model.Device)
	str("MODEL_ID", &c.Model.ModelID)
	str("TOKENIZER_ID", &c.Model.TokenizerID)
	str("MODEL_PATH", &c.Model.ModelPath)
	str("ENGINE_URL", &c.Engine.URL)

	if v, ok := os.LookupEnv(EnvPrefix + "KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = util.SplitCSV(v)
	}
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("REDIS_HOST", &c.Redis.Host)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("TRACING_EXPORTER", &c.Tracing.Exporter)

	return errors.Join(errs...)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxRequestSizeMB <= 0 {
		return fmt.Errorf("server.max_request_size_mb must be positive")
	}
	if c.Auth.Enabled && len(c.Auth.Trusted) == 0 {
		return fmt.Errorf("auth.trusted cannot be empty when auth is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_minute must be positive")
	}
	switch c.RateLimit.Policy {
	case PolicyFixedWindow, PolicyTokenBucket, PolicyRedis:
	default:
		return fmt.Errorf("rate_limit.policy must be one of fixed_window, token_bucket, redis; got %q", c.RateLimit.Policy)
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("inference.timeout must be positive")
	}
	if c.Inference.Workers <= 0 || c.Inference.QueueSize < 0 {
		return fmt.Errorf("inference.workers must be positive and inference.queue_size non-negative")
	}
	if c.Validation.MaxInputLength <= 0 || c.Validation.MaxHorizon <= 0 {
		return fmt.Errorf("validation bounds must be positive")
	}
	if c.Engine.URL == "" {
		return fmt.Errorf("engine.url is required")
	}
	if c.Audit.Enabled {
		switch c.Audit.Sink {
		case AuditSinkKafka:
			if len(c.Kafka.Brokers) == 0 {
				return fmt.Errorf("kafka.brokers required for audit sink %q", c.Audit.Sink)
			}
		case AuditSinkClickHouse:
			if c.ClickHouse.Host == "" {
				return fmt.Errorf("clickhouse.host required for audit sink %q", c.Audit.Sink)
			}
		case AuditSinkBoth:
			if len(c.Kafka.Brokers) == 0 || c.ClickHouse.Host == "" {
				return fmt.Errorf("kafka.brokers and clickhouse.host required for audit sink %q", c.Audit.Sink)
			}
		default:
			return fmt.Errorf("audit.sink must be kafka, clickhouse or both; got %q", c.Audit.Sink)
		}
	}
	if c.Logging.Collector.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required for the log collector")
	}
	switch c.Tracing.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be none or stdout; got %q", c.Tracing.Exporter)
	}
	return nil
}

// BodyLimit renders max_request_size_mb in echo size notation.
func (c *Config) BodyLimit() string {
	return strconv.Itoa(c.Server.MaxRequestSizeMB) + "M"
}
