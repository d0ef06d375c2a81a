package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module supplies an already loaded Config so commands can adjust it before the app
// starts.
func Module(cfg Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
		fx.Provide(NewFeatureCatalog),
	)
}

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI      string
	MongoDatabase string

	// InternalToken guards the /internal routes. Empty disables them.
	InternalToken string
	SnowflakeNode int64

	// FeatureRateLimit is paid feature invocations per second per user and feature.
	// Zero disables limiting.
	FeatureRateLimit float64
	FeatureRateBurst int

	Ledger    LedgerConfig
	Reconcile ReconcileConfig
}

const DefaultReservationTTL = 15 * time.Minute

// ReconcileConfig drives the batch drift check over every account.
type ReconcileConfig struct {
	BatchSize int
	// ReservationTTL is how long a pending reservation may stay open before a run
	// releases it.
	ReservationTTL time.Duration
	// PushExporter is "pushgateway", "remote_write" or empty to keep results local.
	PushExporter  string
	PushEndpoint  string
	PushAuthToken string
}

type LedgerConfig struct {
	// Store selects the ledger backend: "sql" or "mongo".
	Store        string
	DefaultGrant int64
	HistoryLimit int
	LockBackend  string
	LockWait     time.Duration
	LockTTL      time.Duration
	CacheTTL     time.Duration
	MaxRetries   int
}

const (
	StoreSQL   = "sql"
	StoreMongo = "mongo"

	LockLocal = "local"
	LockRedis = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "wowcoin"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "wowcoin"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "wowcoin.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		MongoURI:          strings.TrimSpace(getenv("MONGO_URI", "")),
		MongoDatabase:     getenv("MONGO_DATABASE", "wowcoin"),
		InternalToken:     strings.TrimSpace(getenv("INTERNAL_TOKEN", "")),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		FeatureRateLimit:  getenvFloat("FEATURE_RATE_LIMIT", 0),
		FeatureRateBurst:  getenvInt("FEATURE_RATE_BURST", 5),
		Ledger: LedgerConfig{
			Store:        normalizeChoice(getenv("LEDGER_STORE", StoreSQL), StoreSQL, StoreMongo),
			DefaultGrant: getenvInt64("LEDGER_DEFAULT_GRANT", 10),
			HistoryLimit: getenvInt("LEDGER_HISTORY_LIMIT", 20),
			LockBackend:  normalizeChoice(getenv("LEDGER_LOCK_BACKEND", LockLocal), LockLocal, LockRedis),
			LockWait:     getenvDuration("LEDGER_LOCK_WAIT", 5*time.Second),
			LockTTL:      getenvDuration("LEDGER_LOCK_TTL", 10*time.Second),
			CacheTTL:     getenvDuration("LEDGER_CACHE_TTL", 5*time.Minute),
			MaxRetries:   getenvInt("LEDGER_MAX_RETRIES", 3),
		},
		Reconcile: ReconcileConfig{
			BatchSize:      getenvInt("RECONCILE_BATCH_SIZE", 200),
			ReservationTTL: getenvDuration("RECONCILE_RESERVATION_TTL", DefaultReservationTTL),
			PushExporter:   strings.ToLower(strings.TrimSpace(getenv("RECONCILE_PUSH_EXPORTER", ""))),
			PushEndpoint:   strings.TrimSpace(getenv("RECONCILE_PUSH_ENDPOINT", "")),
			PushAuthToken:  strings.TrimSpace(getenv("RECONCILE_PUSH_TOKEN", "")),
		},
	}

	return cfg
}

// Defaults returns the configuration used when no environment is present.
func Defaults() Config {
	return Config{
		AppName:     "wowcoin",
		Environment: "test",
		Ledger: LedgerConfig{
			Store:        StoreSQL,
			DefaultGrant: 10,
			HistoryLimit: 20,
			LockBackend:  LockLocal,
			LockWait:     5 * time.Second,
			LockTTL:      10 * time.Second,
			CacheTTL:     5 * time.Minute,
			MaxRetries:   3,
		},
		Reconcile: ReconcileConfig{BatchSize: 200, ReservationTTL: DefaultReservationTTL},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// normalizeChoice returns raw lowercased when it is one of allowed, otherwise allowed[0].
func normalizeChoice(raw string, allowed ...string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	for _, candidate := range allowed {
		if value == candidate {
			return value
		}
	}
	return allowed[0]
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
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
	if err != nil || parsed < 0 {
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
