package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	MigrationsAuto     bool

	PortalTokenSecret string
	PortalTokenTTL    time.Duration
	PortalIssuer      string

	QuoteCacheTTL       time.Duration
	QuoteDefaultTaxRate decimal.Decimal
	QuoteValidity       time.Duration
	QuoteNumberPrefix   string
	QuoteDefaultLimit   int
	QuoteMaxLimit       int
	CompanyName         string
	CurrencyCode        string

	LockTTL          time.Duration
	LockRetryBackoff time.Duration
	LockMaxWait      time.Duration
	IdempotencyTTL   time.Duration

	RateLimitStrategy string
	RateLimitWindow   time.Duration
	RateLimitMax      int
	BodyLimitBytes    int64
	SecurityHeaders   bool

	WorkerConcurrency int
	QuoteExpiryCron   string

	WebhookURL         string
	WebhookSecret      string
	WebhookTopics      []string
	WebhookTimeout     time.Duration
	WebhookMaxAttempts int

	Obs Obs
}

// Obs configures logging, metrics, tracing and the ops endpoints.
type Obs struct {
	LogFormat string
	LogLevel  string

	MetricsEnabled   bool
	MetricsNamespace string
	// MetricsBucketsMS is a comma separated list of latency bucket bounds.
	MetricsBucketsMS string

	TracingEnabled  bool
	TracingExporter string
	OTLPEndpoint    string
	SamplingRatio   float64
	ServiceVersion  string

	PprofEnabled bool
	PprofUser    string
	PprofPass    string

	ReadyDBTimeout    time.Duration
	ReadyRedisTimeout time.Duration
	ShutdownTimeout   time.Duration
	// WorkerOpsAddr enables the worker's /metrics and /health listener.
	WorkerOpsAddr string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	taxRate, err := parseDecimal(k.String("QUOTE_DEFAULT_TAX_RATE"), "0")
	if err != nil {
		return nil, fmt.Errorf("QUOTE_DEFAULT_TAX_RATE: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrationsAuto:     parseBoolDefault(k.String("MIGRATIONS_AUTO"), true),

		PortalTokenSecret: k.String("PORTAL_TOKEN_SECRET"),
		PortalTokenTTL:    parseDuration(k.String("PORTAL_TOKEN_TTL"), "336h"),
		PortalIssuer:      valueOrDefault(k.String("PORTAL_ISSUER"), "backend-quotes"),

		QuoteCacheTTL:       parseDuration(k.String("QUOTE_CACHE_TTL"), "5m"),
		QuoteDefaultTaxRate: taxRate,
		QuoteValidity:       parseDuration(k.String("QUOTE_VALIDITY"), "720h"),
		QuoteNumberPrefix:   valueOrDefault(k.String("QUOTE_NUMBER_PREFIX"), "Q"),
		QuoteDefaultLimit:   parseInt(k.String("QUOTE_DEFAULT_LIMIT"), 20),
		QuoteMaxLimit:       parseInt(k.String("QUOTE_MAX_LIMIT"), 100),
		CompanyName:         valueOrDefault(k.String("COMPANY_NAME"), "Contractor"),
		CurrencyCode:        valueOrDefault(k.String("CURRENCY_CODE"), "USD"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		LockMaxWait:      parseDuration(k.String("LOCK_MAX_WAIT"), "5s"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		RateLimitStrategy: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), "sliding")),
		RateLimitWindow:   parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:      parseInt(k.String("RATE_LIMIT_MAX"), 120),
		BodyLimitBytes:    int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeaders:   parseBoolDefault(k.String("SECURITY_HEADERS"), true),

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 4),
		QuoteExpiryCron:   valueOrDefault(k.String("QUOTE_EXPIRY_CRON"), "@every 1h"),

		WebhookURL:         strings.TrimSpace(k.String("WEBHOOK_URL")),
		WebhookSecret:      k.String("WEBHOOK_SECRET"),
		WebhookTopics:      splitAndTrim(k.String("WEBHOOK_TOPICS")),
		WebhookTimeout:     parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
		WebhookMaxAttempts: parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 3),

		Obs: loadObs(k),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PortalTokenSecret == "" {
		return nil, errors.New("PORTAL_TOKEN_SECRET is required")
	}
	if cfg.QuoteDefaultTaxRate.IsNegative() || cfg.QuoteDefaultTaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.New("QUOTE_DEFAULT_TAX_RATE must be a fraction between 0 and 1")
	}
	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		return nil, errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	if cfg.QuoteMaxLimit < cfg.QuoteDefaultLimit {
		cfg.QuoteMaxLimit = cfg.QuoteDefaultLimit
	}

	return cfg, nil
}

func loadObs(k *koanf.Koanf) Obs {
	return Obs{
		LogFormat: strings.ToLower(valueOrDefault(k.String("OBS_LOG_FORMAT"), "json")),
		LogLevel:  strings.ToLower(valueOrDefault(k.String("OBS_LOG_LEVEL"), "info")),

		MetricsEnabled:   parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "quotes"),
		MetricsBucketsMS: k.String("OBS_METRICS_BUCKETS_MS"),

		TracingEnabled:  parseBoolDefault(k.String("OBS_ENABLE_TRACING"), true),
		TracingExporter: strings.ToLower(valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp")),
		OTLPEndpoint:    strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		SamplingRatio:   parseRatio(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		ServiceVersion:  valueOrDefault(k.String("APP_VERSION"), "dev"),

		PprofEnabled: parseBoolDefault(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:    strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:    strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),

		ReadyDBTimeout:    parseMillis(k.String("HEALTH_READY_DB_TIMEOUT_MS"), 500),
		ReadyRedisTimeout: parseMillis(k.String("HEALTH_READY_REDIS_TIMEOUT_MS"), 300),
		ShutdownTimeout:   parseMillis(k.String("SHUTDOWN_TIMEOUT_MS"), 15000),
		WorkerOpsAddr:     strings.TrimSpace(k.String("WORKER_METRICS_ADDR")),
	}
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseMillis(value string, fallback int) time.Duration {
	return time.Duration(parseInt(value, fallback)) * time.Millisecond
}

// parseRatio accepts values in (0, 1].
func parseRatio(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || parsed <= 0 || parsed > 1 {
		return fallback
	}
	return parsed
}

func parseDecimal(value, fallback string) (decimal.Decimal, error) {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	return decimal.NewFromString(base)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
