package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
)

// Config holds process configuration sourced from the environment.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string
	Telemetry    TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBMigrate         bool

	Redis RedisConfig

	// WebhookSecretKey encrypts merchant signing secrets at rest.
	WebhookSecretKey string

	Quote     QuoteConfig
	Delivery  DeliveryConfig
	Workers   WorkerConfig
	RateLimit RateLimitConfig

	// ChainRPCURLs maps a chain name to its JSON-RPC endpoint.
	ChainRPCURLs map[string]string

	Seed SeedConfig
}

// TelemetryConfig tunes logging and OpenTelemetry export.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type QuoteConfig struct {
	Source   string
	URL      string
	Timeout  time.Duration
	MaxAge   time.Duration
	CacheTTL time.Duration
	// StaticRates is "DOT/USD=7.25,ETH/USD=3100" for the static source.
	StaticRates string
}

type DeliveryConfig struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	Workers        int
	BatchSize      int
	ClaimTimeout   time.Duration
}

// RateLimitConfig bounds intent creation per merchant. Zero disables it.
type RateLimitConfig struct {
	IntentRate  float64
	IntentBurst int
}

// SeedConfig feeds apps/seed for local runs.
type SeedConfig struct {
	Chain         string
	Addresses     []string
	MerchantID    int64
	WebhookURL    string
	WebhookSecret string
}

type WorkerConfig struct {
	EnabledJobs       []string
	ReconcileInterval time.Duration
	ConfirmInterval   time.Duration
	ExpiryInterval    time.Duration
	DeliveryInterval  time.Duration
	RecoveryInterval  time.Duration
	ExpiryBatchSize   int
	ConfirmBatchSize  int
	JobTimeout        time.Duration
	ReconcileLockTTL  time.Duration
	MaxRetryBackoff   time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "settlement"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("NODE_ID", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "settlement"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),
		DBMigrate:         getenvBool("DATABASE_MIGRATE", true),
		Telemetry: TelemetryConfig{
			LogLevel:      getenv("LOG_LEVEL", "info"),
			LogFormat:     getenv("LOG_FORMAT", "json"),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OtelProtocol:  getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		WebhookSecretKey: strings.TrimSpace(getenv("WEBHOOK_SECRET_KEY", "")),
		Quote: QuoteConfig{
			Source:      strings.ToLower(getenv("QUOTE_SOURCE", "static")),
			URL:         strings.TrimSpace(getenv("QUOTE_URL", "")),
			Timeout:     getenvDuration("QUOTE_TIMEOUT", 3*time.Second),
			MaxAge:      getenvDuration("QUOTE_MAX_AGE", 2*time.Minute),
			CacheTTL:    getenvDuration("QUOTE_CACHE_TTL", 30*time.Second),
			StaticRates: getenv("QUOTE_STATIC_RATES", ""),
		},
		Delivery: DeliveryConfig{
			MaxAttempts:    int(getenvInt64("DELIVERY_MAX_ATTEMPTS", 5)),
			BaseBackoff:    getenvDuration("DELIVERY_BASE_BACKOFF", 30*time.Second),
			MaxBackoff:     getenvDuration("DELIVERY_MAX_BACKOFF", time.Hour),
			RequestTimeout: getenvDuration("DELIVERY_REQUEST_TIMEOUT", 10*time.Second),
			Workers:        int(getenvInt64("DELIVERY_WORKERS", 4)),
			BatchSize:      int(getenvInt64("DELIVERY_BATCH_SIZE", 100)),
			ClaimTimeout:   getenvDuration("DELIVERY_CLAIM_TIMEOUT", 5*time.Minute),
		},
		Workers: WorkerConfig{
			EnabledJobs:       parseList(getenv("WORKER_JOBS", "")),
			ReconcileInterval: getenvDuration("RECONCILE_INTERVAL", 5*time.Second),
			ConfirmInterval:   getenvDuration("CONFIRM_INTERVAL", 10*time.Second),
			ExpiryInterval:    getenvDuration("EXPIRY_INTERVAL", 15*time.Second),
			DeliveryInterval:  getenvDuration("DELIVERY_INTERVAL", 2*time.Second),
			RecoveryInterval:  getenvDuration("RECOVERY_INTERVAL", time.Minute),
			ExpiryBatchSize:   int(getenvInt64("EXPIRY_BATCH_SIZE", 200)),
			ConfirmBatchSize:  int(getenvInt64("CONFIRM_BATCH_SIZE", 100)),
			JobTimeout:        getenvDuration("JOB_TIMEOUT", 30*time.Second),
			ReconcileLockTTL:  getenvDuration("RECONCILE_LOCK_TTL", time.Minute),
			MaxRetryBackoff:   getenvDuration("WORKER_MAX_RETRY_BACKOFF", 2*time.Minute),
		},
		RateLimit: RateLimitConfig{
			IntentRate:  getenvFloat("INTENT_RATE_LIMIT", 0),
			IntentBurst: int(getenvInt64("INTENT_RATE_BURST", 20)),
		},
		ChainRPCURLs: parsePairs(getenv("CHAIN_RPC_URLS", "")),
		Seed: SeedConfig{
			Chain:         strings.ToLower(strings.TrimSpace(getenv("SEED_CHAIN", ""))),
			Addresses:     parseList(getenv("SEED_ADDRESSES", "")),
			MerchantID:    getenvInt64("SEED_MERCHANT_ID", 0),
			WebhookURL:    strings.TrimSpace(getenv("SEED_WEBHOOK_URL", "")),
			WebhookSecret: getenv("SEED_WEBHOOK_SECRET", ""),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// parsePairs reads "a=x,b=y" into a map.
func parsePairs(raw string) map[string]string {
	out := map[string]string{}
	for _, item := range parseList(raw) {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
