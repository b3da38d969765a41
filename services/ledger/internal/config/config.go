package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/VictorAbrao/swap-fintech-core-sub000/libs/config"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	CacheRedis  = "redis"
	CacheMemory = "memory"
	CacheNone   = "none"
)

type StorageConfig struct {
	Driver         string
	MigrateOnStart bool
}

type KafkaTopics struct {
	Operations  string
	Balances    string
	Settlements string
	DeadLetter  string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RatesConfig struct {
	Cache           string
	CacheTTL        time.Duration
	ProviderURL     string
	ProviderAPIKey  string
	ProviderTimeout time.Duration
	ProviderRPS     float64
}

type LedgerConfig struct {
	HomeCurrency       operation.Currency
	DefaultAnnualLimit decimal.Decimal
}

type UsageConfig struct {
	RolloverSchedule string
}

type AuthConfig struct {
	JWTSecret string
}

type TracingConfig struct {
	Endpoint    string
	SampleRatio float64
}

type Config struct {
	App     base.AppConfig
	DB      base.PostgresConfig
	Storage StorageConfig
	Kafka   KafkaConfig
	Redis   RedisConfig
	Rates   RatesConfig
	Ledger  LedgerConfig
	Usage   UsageConfig
	Auth    AuthConfig
	Tracing TracingConfig
}

func Load() (*Config, error) {
	path := base.ConfigPath()
	appCfg, err := base.Load(path)
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	setDefaults(v)

	homeCurrency, err := operation.ParseCurrency(envString("LEDGER_HOME_CURRENCY", v.GetString("ledger.home_currency")))
	if err != nil {
		return nil, fmt.Errorf("ledger.home_currency: %w", err)
	}
	defaultLimit, err := envDecimal("LEDGER_DEFAULT_ANNUAL_LIMIT", v.GetString("ledger.default_annual_limit"))
	if err != nil {
		return nil, fmt.Errorf("ledger.default_annual_limit: %w", err)
	}

	cfg := &Config{
		App: *appCfg,
		DB: base.PostgresConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "swap_ledger"),
			User:     envString("POSTGRES_USER", "swap"),
			Password: envString("POSTGRES_PASSWORD", "swap"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
			MaxConns: envInt("POSTGRES_MAX_CONNS", 10),
		},
		Storage: StorageConfig{
			Driver:         strings.ToLower(v.GetString("storage.driver")),
			MigrateOnStart: v.GetBool("migrate_on_start"),
		},
		Kafka: KafkaConfig{
			Enabled:       v.GetBool("kafka.enabled"),
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: v.GetString("kafka.consumer_group"),
			Topics: KafkaTopics{
				Operations:  v.GetString("kafka.topics.operations"),
				Balances:    v.GetString("kafka.topics.balances"),
				Settlements: v.GetString("kafka.topics.settlements"),
				DeadLetter:  v.GetString("kafka.topics.dead_letter"),
			},
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       v.GetInt("redis.db"),
		},
		Rates: RatesConfig{
			Cache:           strings.ToLower(v.GetString("rates.cache")),
			CacheTTL:        v.GetDuration("rates.cache_ttl"),
			ProviderURL:     v.GetString("rates.provider_url"),
			ProviderAPIKey:  v.GetString("rates.provider_api_key"),
			ProviderTimeout: envDuration("RATES_PROVIDER_TIMEOUT", v.GetDuration("rates.provider_timeout")),
			ProviderRPS:     v.GetFloat64("rates.provider_rps"),
		},
		Ledger: LedgerConfig{
			HomeCurrency:       homeCurrency,
			DefaultAnnualLimit: defaultLimit,
		},
		Usage: UsageConfig{
			RolloverSchedule: v.GetString("usage.rollover_schedule"),
		},
		Auth: AuthConfig{
			JWTSecret: envString("JWT_SECRET", v.GetString("auth.jwt_secret")),
		},
		Tracing: TracingConfig{
			Endpoint:    envString("OTEL_EXPORTER_OTLP_ENDPOINT", v.GetString("tracing.endpoint")),
			SampleRatio: v.GetFloat64("tracing.sample_ratio"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	switch c.Rates.Cache {
	case CacheRedis, CacheMemory, CacheNone:
	default:
		return fmt.Errorf("rates.cache must be redis, memory or none, got %q", c.Rates.Cache)
	}
	if c.Rates.Cache == CacheRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required when rates.cache is redis")
	}
	if c.Rates.ProviderURL == "" {
		return fmt.Errorf("rates.provider_url required")
	}
	if c.Ledger.DefaultAnnualLimit.IsNegative() {
		return fmt.Errorf("ledger.default_annual_limit must not be negative")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret required")
	}
	if c.Usage.RolloverSchedule == "" {
		return fmt.Errorf("usage.rollover_schedule required")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers required")
		}
		if c.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka consumer group required")
		}
		if c.Kafka.Topics.Operations == "" || c.Kafka.Topics.Balances == "" || c.Kafka.Topics.Settlements == "" {
			return fmt.Errorf("kafka topics required")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", StoragePostgres)
	v.SetDefault("migrate_on_start", false)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "ledger-service")
	v.SetDefault("kafka.topics.operations", "operations.events")
	v.SetDefault("kafka.topics.balances", "balances.updated")
	v.SetDefault("kafka.topics.settlements", "provider.settlements")
	v.SetDefault("kafka.topics.dead_letter", "ledger.dead_letter")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rates.cache", CacheMemory)
	v.SetDefault("rates.cache_ttl", "5m")
	v.SetDefault("rates.provider_url", "http://localhost:8090")
	v.SetDefault("rates.provider_timeout", "10s")
	v.SetDefault("rates.provider_rps", 20)
	v.SetDefault("ledger.home_currency", string(operation.BRL))
	v.SetDefault("ledger.default_annual_limit", "0")
	v.SetDefault("usage.rollover_schedule", "0 0 0 1 1 *")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envDecimal(key, def string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(def)
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		raw = v
	}
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
