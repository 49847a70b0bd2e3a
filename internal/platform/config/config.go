package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	platformstrings "vaxledger/pkg/platform/strings"
)

// Config is the full process configuration, read once at startup.
type Config struct {
	Server       Server
	Postgres     PostgresConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Ledger       LedgerConfig
	ContentStore ContentStoreConfig
	Schedule     ScheduleConfig
	Reward       RewardConfig
	RateLimit    RateLimitConfig
	Timeouts     Timeouts
	Log          LogConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
	// JWTSigningKey enables bearer-token auth on the API when set.
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ProgressTTL  time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Ledger modes.
const (
	LedgerModeDisabled = "disabled"
	LedgerModeRPC      = "rpc"
	LedgerModeEmbedded = "embedded"
)

type LedgerConfig struct {
	Mode      string
	RPCURL    string
	APIKey    string
	DataDir   string
	NodeID    string
	Threshold int
	Cooldown  time.Duration
}

// Content store backends.
const (
	ContentStoreMemory = "memory"
	ContentStoreGCS    = "gcs"
)

type ContentStoreConfig struct {
	Backend         string
	Bucket          string
	CredentialsFile string
	PublicBaseURL   string
}

type ScheduleConfig struct {
	// Path to a CSV or YAML schedule; empty uses the embedded reference schedule.
	Path string
}

type RewardConfig struct {
	Amount decimal.Decimal
	Unit   string
}

// RateLimitConfig sets per-caller sliding-window budgets. Zero requests
// disables a class.
type RateLimitConfig struct {
	Enabled       bool
	ReadRequests  int
	WriteRequests int
	Window        time.Duration
}

type Timeouts struct {
	ScheduleLookup time.Duration
	Store          time.Duration
	Ledger         time.Duration
	Upload         time.Duration
	Render         time.Duration
	Request        time.Duration
	Shutdown       time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. A .env file in the working
// directory, if present, is loaded first without overriding real variables.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	amount, err := decimal.NewFromString(getEnv("REWARD_AMOUNT", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("parse REWARD_AMOUNT: %w", err)
	}
	if !amount.IsPositive() {
		return Config{}, fmt.Errorf("REWARD_AMOUNT must be positive, got %s", amount)
	}

	cfg := Config{
		Server: Server{
			Addr:          getEnv("VAXLEDGER_ADDR", ":8080"),
			JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
			JWTIssuer:     getEnv("JWT_ISSUER", "vaxledger-auth"),
			JWTAudience:   getEnv("JWT_AUDIENCE", "vaxledger"),
		},
		Postgres: PostgresConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			ProgressTTL:  getDuration("PROGRESS_CERTIFICATE_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_AUDIT_TOPIC", "vaxledger.audit"),
		},
		Ledger: LedgerConfig{
			Mode:      strings.ToLower(getEnv("LEDGER_MODE", LedgerModeEmbedded)),
			RPCURL:    os.Getenv("LEDGER_RPC_URL"),
			APIKey:    os.Getenv("LEDGER_API_KEY"),
			DataDir:   getEnv("LEDGER_DATA_DIR", "./data/ledger"),
			NodeID:    getEnv("LEDGER_NODE_ID", "node-1"),
			Threshold: getInt("LEDGER_BREAKER_THRESHOLD", 5),
			Cooldown:  getDuration("LEDGER_BREAKER_COOLDOWN", 30*time.Second),
		},
		ContentStore: ContentStoreConfig{
			Backend:         strings.ToLower(getEnv("CONTENT_STORE", ContentStoreMemory)),
			Bucket:          os.Getenv("GCS_BUCKET"),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			PublicBaseURL:   os.Getenv("CONTENT_PUBLIC_BASE_URL"),
		},
		Schedule: ScheduleConfig{
			Path: os.Getenv("SCHEDULE_PATH"),
		},
		Reward: RewardConfig{
			Amount: amount,
			Unit:   getEnv("REWARD_UNIT", "VAX"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getBool("RATE_LIMIT_ENABLED", true),
			ReadRequests:  getInt("RATE_LIMIT_READ_REQUESTS", 300),
			WriteRequests: getInt("RATE_LIMIT_WRITE_REQUESTS", 60),
			Window:        getDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Timeouts: Timeouts{
			ScheduleLookup: getDuration("TIMEOUT_SCHEDULE_LOOKUP", 2*time.Second),
			Store:          getDuration("TIMEOUT_STORE", 5*time.Second),
			Ledger:         getDuration("TIMEOUT_LEDGER", 5*time.Second),
			Upload:         getDuration("TIMEOUT_UPLOAD", 10*time.Second),
			Render:         getDuration("TIMEOUT_RENDER", 5*time.Second),
			Request:        getDuration("TIMEOUT_REQUEST", 30*time.Second),
			Shutdown:       getDuration("TIMEOUT_SHUTDOWN", 15*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	switch cfg.Ledger.Mode {
	case LedgerModeDisabled, LedgerModeEmbedded:
	case LedgerModeRPC:
		if cfg.Ledger.RPCURL == "" {
			return Config{}, fmt.Errorf("LEDGER_RPC_URL is required when LEDGER_MODE=rpc")
		}
	default:
		return Config{}, fmt.Errorf("unknown LEDGER_MODE %q", cfg.Ledger.Mode)
	}
	switch cfg.ContentStore.Backend {
	case ContentStoreMemory:
	case ContentStoreGCS:
		if cfg.ContentStore.Bucket == "" {
			return Config{}, fmt.Errorf("GCS_BUCKET is required when CONTENT_STORE=gcs")
		}
	default:
		return Config{}, fmt.Errorf("unknown CONTENT_STORE %q", cfg.ContentStore.Backend)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return platformstrings.DedupeAndTrim(strings.Split(raw, ","))
}
