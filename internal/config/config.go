package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultEnv               = "development"
	defaultHTTPHost          = "0.0.0.0"
	defaultHTTPPort          = 8080
	defaultStoreDriver       = StorePostgres
	defaultRedisDB           = 0
	defaultAssetCacheTTL     = 30 * time.Second
	defaultKafkaTopic        = "exchange.events"
	defaultEventBuffer       = 1024
	defaultSettlementTimeout = 10 * time.Second
	defaultPendingInterval   = 5 * time.Second
	defaultRestingInterval   = 30 * time.Second
	defaultExpiryInterval    = 30 * time.Second
	defaultTokenTTL          = 24 * time.Hour
	defaultFeeRate           = "0.001"
	defaultLogLevel          = "info"
)

// Store drivers
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config keeps the runtime configuration for the service.
type Config struct {
	Env        string
	LogLevel   string
	HTTP       HTTPConfig
	Store      StoreConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Settlement SettlementConfig
	Scheduler  SchedulerConfig
	Auth       AuthConfig
	Fees       FeeConfig
}

// HTTPConfig holds HTTP server related settings.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr renders the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string
	DSN    string
}

// RedisConfig stores Redis connection parameters. An empty Addr keeps the
// asset cache in process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	AssetTTL time.Duration
}

// KafkaConfig stores event producer settings. No brokers disables the sink.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	EventBuffer int
}

// SettlementConfig points at the external settlement service. An empty URL
// uses the in-process simulator.
type SettlementConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// SchedulerConfig holds the scan intervals.
type SchedulerConfig struct {
	PendingInterval time.Duration
	RestingInterval time.Duration
	ExpiryInterval  time.Duration
}

// AuthConfig holds token and operator credentials.
type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	OperatorToken string
}

// FeeConfig holds the platform fee.
type FeeConfig struct {
	Rate decimal.Decimal
}

// Load reads an optional .env file and builds Config from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getInt("HTTP_PORT", defaultHTTPPort)
	if err != nil {
		return nil, fmt.Errorf("parse HTTP_PORT: %w", err)
	}

	driver := getString("STORE_DRIVER", defaultStoreDriver)
	dsn := os.Getenv("DATABASE_DSN")
	switch driver {
	case StorePostgres:
		if dsn == "" {
			return nil, errors.New("DATABASE_DSN is required for the postgres store")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}

	redisDB, err := getInt("REDIS_DB", defaultRedisDB)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_DB: %w", err)
	}
	assetTTL, err := getDuration("ASSET_CACHE_TTL", defaultAssetCacheTTL)
	if err != nil {
		return nil, err
	}

	buffer, err := getInt("EVENT_BUFFER", defaultEventBuffer)
	if err != nil {
		return nil, fmt.Errorf("parse EVENT_BUFFER: %w", err)
	}

	settlementTimeout, err := getDuration("SETTLEMENT_TIMEOUT", defaultSettlementTimeout)
	if err != nil {
		return nil, err
	}

	pending, err := getDuration("SCHEDULER_PENDING_INTERVAL", defaultPendingInterval)
	if err != nil {
		return nil, err
	}
	resting, err := getDuration("SCHEDULER_RESTING_INTERVAL", defaultRestingInterval)
	if err != nil {
		return nil, err
	}
	expiry, err := getDuration("SCHEDULER_EXPIRY_INTERVAL", defaultExpiryInterval)
	if err != nil {
		return nil, err
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	tokenTTL, err := getDuration("JWT_TTL", defaultTokenTTL)
	if err != nil {
		return nil, err
	}

	fee, err := decimal.NewFromString(getString("FEE_RATE", defaultFeeRate))
	if err != nil {
		return nil, fmt.Errorf("parse FEE_RATE: %w", err)
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("FEE_RATE %s must be in [0, 1)", fee)
	}

	return &Config{
		Env:      getString("APP_ENV", defaultEnv),
		LogLevel: getString("LOG_LEVEL", defaultLogLevel),
		HTTP:     HTTPConfig{Host: getString("HTTP_HOST", defaultHTTPHost), Port: port},
		Store:    StoreConfig{Driver: driver, DSN: dsn},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			AssetTTL: assetTTL,
		},
		Kafka: KafkaConfig{
			Brokers:     getList("KAFKA_BROKERS"),
			Topic:       getString("KAFKA_TOPIC", defaultKafkaTopic),
			EventBuffer: buffer,
		},
		Settlement: SettlementConfig{
			URL:     os.Getenv("SETTLEMENT_URL"),
			APIKey:  os.Getenv("SETTLEMENT_API_KEY"),
			Timeout: settlementTimeout,
		},
		Scheduler: SchedulerConfig{
			PendingInterval: pending,
			RestingInterval: resting,
			ExpiryInterval:  expiry,
		},
		Auth: AuthConfig{
			JWTSecret:     secret,
			TokenTTL:      tokenTTL,
			OperatorToken: os.Getenv("OPERATOR_TOKEN"),
		},
		Fees: FeeConfig{Rate: fee},
	}, nil
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s value %q as duration: %w", key, value, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, value)
	}
	return parsed, nil
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
