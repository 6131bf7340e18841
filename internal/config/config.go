package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Auth     AuthConfig
	Paystack PaystackConfig
	Log      LogConfig
	Economy  EconomyConfig
}

type ServerConfig struct {
	Port string
	// StorageDriver selects the Store implementation: "postgres" or "memory".
	StorageDriver string
	LockTimeout   time.Duration
	RateLimit     float64
	RateBurst     int
}

type PostgresConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers    []string
	Topic      string
	Partitions int
	// Sarama-specific
	Version       string
	ConsumerGroup string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type WorkerConfig struct {
	ProcessingInterval time.Duration
	// PendingOrderTTL enables auto-cancel of unpaid orders when non-zero.
	PendingOrderTTL time.Duration
	SweepInterval   time.Duration
	// WithdrawalSettleAfter is how long a payout may stay PENDING before the provider
	// is asked for its outcome. Zero disables settlement.
	WithdrawalSettleAfter time.Duration
	SettleInterval        time.Duration
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	// TrustHeaders accepts X-User-ID and X-User-Role when JWTSecret is empty.
	TrustHeaders bool
}

type PaystackConfig struct {
	BaseURL    string
	SecretKey  string
	Timeout    time.Duration
	MaxRetries uint64
}

type LogConfig struct {
	Level string
	File  string
}

func New() (*Config, error) {
	economy, err := LoadEconomy(os.Getenv("ECONOMY_CONFIG_FILE"))
	if err != nil {
		return nil, fmt.Errorf("economy config: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          normalizePort(getEnvDefault("SERVER_PORT", "8080")),
			StorageDriver: strings.ToLower(getEnvDefault("STORAGE_DRIVER", "postgres")),
			LockTimeout:   parseDurationEnv("LOCK_TIMEOUT", 2*time.Second),
			RateLimit:     parseFloatEnv("RATE_LIMIT_RPS", 20),
			RateBurst:     parseIntEnv("RATE_LIMIT_BURST", 40),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("POSTGRES_URL"),
		},
		Kafka: KafkaConfig{
			Brokers:       parseCSVEnv("KAFKA_BROKERS"),
			Topic:         getEnvDefault("KAFKA_TOPIC", "wallet-events"),
			Partitions:    parseIntEnv("KAFKA_PARTITIONS", 1),
			Version:       os.Getenv("KAFKA_VERSION"),
			ConsumerGroup: getEnvDefault("KAFKA_CONSUMER_GROUP", "event-worker"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseIntEnv("REDIS_DB", 0),
			PoolSize: parseIntEnv("REDIS_POOL_SIZE", 10),
		},
		Worker: WorkerConfig{
			ProcessingInterval: time.Duration(parseIntEnv("WORKER_PROCESSING_INTERVAL", 1)) * time.Second,
			PendingOrderTTL:    parseDurationEnv("PENDING_ORDER_TTL", 0),
			SweepInterval:      parseDurationEnv("PENDING_ORDER_SWEEP_INTERVAL", time.Minute),

			WithdrawalSettleAfter: parseDurationEnv("WITHDRAWAL_SETTLE_AFTER", 10*time.Minute),
			SettleInterval:        parseDurationEnv("WITHDRAWAL_SETTLE_INTERVAL", time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:    os.Getenv("AUTH_JWT_SECRET"),
			JWTIssuer:    os.Getenv("AUTH_JWT_ISSUER"),
			TrustHeaders: parseBoolEnv("AUTH_TRUST_HEADERS", false),
		},
		Paystack: PaystackConfig{
			BaseURL:    getEnvDefault("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			SecretKey:  os.Getenv("PAYSTACK_SECRET"),
			Timeout:    parseDurationEnv("PAYSTACK_TIMEOUT", 10*time.Second),
			MaxRetries: uint64(parseIntEnv("PAYSTACK_MAX_RETRIES", 3)),
		},
		Log: LogConfig{
			Level: getEnvDefault("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
		Economy: economy,
	}

	if cfg.Server.StorageDriver != "postgres" && cfg.Server.StorageDriver != "memory" {
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.Server.StorageDriver)
	}
	if cfg.Server.StorageDriver == "postgres" && cfg.Postgres.URL == "" {
		return nil, fmt.Errorf("POSTGRES_URL is required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" && !cfg.Auth.TrustHeaders {
		// Local in-memory runs fall back to header identity.
		if cfg.Server.StorageDriver != "memory" {
			return nil, fmt.Errorf("AUTH_JWT_SECRET is required unless AUTH_TRUST_HEADERS=true")
		}
		cfg.Auth.TrustHeaders = true
	}

	return cfg, nil
}

func (k *KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

func (k *KafkaConfig) GetSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()

	if k.Version != "" {
		version, err := sarama.ParseKafkaVersion(k.Version)
		if err == nil {
			config.Version = version
		}
	}

	// Consumer settings
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = 5 * time.Second
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}

	// Settings for batch processing
	config.Consumer.Fetch.Min = 1
	config.Consumer.Fetch.Default = 1024 * 1024 // 1MB
	config.Consumer.MaxWaitTime = 100 * time.Millisecond

	config.Net.MaxOpenRequests = 5
	config.Net.DialTimeout = 30 * time.Second
	config.Net.ReadTimeout = 30 * time.Second
	config.Net.WriteTimeout = 30 * time.Second

	return config
}

func getEnvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func normalizePort(port string) string {
	// Allow values like "8080" as well as ":8080".
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloatEnv(key string, def float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseCSVEnv(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
}
