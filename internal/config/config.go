// Package config loads service settings from an optional YAML file and
// MARKET_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"marketplace/internal/models/domainErrors"

	"github.com/spf13/viper"
)

const EnvPrefix = "MARKET"

type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	GRPC      GRPC      `mapstructure:"grpc"`
	Postgres  Postgres  `mapstructure:"postgres"`
	Redis     Redis     `mapstructure:"redis"`
	Cipher    Cipher    `mapstructure:"cipher"`
	Gateway   Gateway   `mapstructure:"gateway"`
	Saga      Saga      `mapstructure:"saga"`
	Reconcile Reconcile `mapstructure:"reconcile"`
	Auth      Auth      `mapstructure:"auth"`
	Log       Log       `mapstructure:"log"`
	Cache     Cache     `mapstructure:"cache"`
	RateLimit string    `mapstructure:"rate_limit"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type GRPC struct {
	Addr string `mapstructure:"addr"`
}

// Postgres with an empty DSN means in-memory storage.
type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

// Redis with an empty Addr means the in-memory saga log and no cache.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Cipher struct {
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
	IV         string `mapstructure:"iv"`
}

// Gateway with an empty Endpoint means the in-process sandbox.
type Gateway struct {
	Endpoint      string        `mapstructure:"endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

type Saga struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	Partitions    int           `mapstructure:"partitions"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	StreamPrefix  string        `mapstructure:"stream_prefix"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
	Consumer      string        `mapstructure:"consumer"`
}

type Reconcile struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Cache struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "localhost:7001")
	v.SetDefault("grpc.addr", "localhost:50051")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cipher.passphrase", "")
	v.SetDefault("cipher.salt", "")
	v.SetDefault("cipher.iv", "")
	v.SetDefault("gateway.endpoint", "")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.rate_per_second", 0)
	v.SetDefault("saga.max_retries", 3)
	v.SetDefault("saga.partitions", 8)
	v.SetDefault("saga.retry_delay", time.Second)
	v.SetDefault("saga.stream_prefix", "saga")
	v.SetDefault("saga.consumer_group", "saga-executor")
	v.SetDefault("saga.consumer", "executor-1")
	v.SetDefault("reconcile.interval", time.Minute)
	v.SetDefault("reconcile.stale_after", 10*time.Minute)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("rate_limit", "100-S")
}

// Load reads path (may be empty) and the environment on top of defaults.
// Environment keys replace dots with underscores: MARKET_SAGA_MAX_RETRIES.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var problems []string
	if c.Cipher.Passphrase == "" {
		problems = append(problems, "cipher.passphrase is required")
	}
	if c.Cipher.Salt == "" {
		problems = append(problems, "cipher.salt is required")
	}
	if len(c.Cipher.IV) != 16 {
		problems = append(problems, "cipher.iv must be 16 bytes")
	}
	if c.Auth.JWTSecret == "" {
		problems = append(problems, "auth.jwt_secret is required")
	}
	if c.Saga.Partitions < 1 {
		problems = append(problems, "saga.partitions must be at least 1")
	}
	if c.Saga.MaxRetries < 1 {
		problems = append(problems, "saga.max_retries must be at least 1")
	}
	if c.Reconcile.Interval <= 0 {
		problems = append(problems, "reconcile.interval must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domainErrors.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}
