package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. FromEnv fills it from defaults,
// an optional YAML overlay file and environment variables, in that order.
type Config struct {
	Server   Server         `yaml:"server"`
	Auth     Auth           `yaml:"auth"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Risk     RiskConfig     `yaml:"risk"`
	Logging  Logging        `yaml:"logging"`
	Sentry   SentryConfig   `yaml:"sentry"`
	// Profiles seeds the in-memory identity store when Postgres is not configured.
	Profiles []ProfileSeed `yaml:"profiles"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr      string `yaml:"addr"`
	LoginPath string `yaml:"login_path"`
}

// Auth configures bearer token verification.
type Auth struct {
	JWTSigningKey string `yaml:"jwt_signing_key"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

// PostgresConfig selects the Postgres report and profile stores when DSN is set.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig enables the profile cache when URL is set.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ProfileTTL   time.Duration `yaml:"profile_ttl"`
}

// KafkaConfig enables the Kafka event bus when Brokers is non-empty.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	Group        string        `yaml:"group"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// RiskConfig tunes the initial-risk trigger delivery.
type RiskConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	GracePeriod   time.Duration `yaml:"grace_period"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// Logging selects slog level and handler format ("json" or "text").
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN              string  `yaml:"dsn"`
	Environment      string  `yaml:"environment"`
	TracesSampleRate float64 `yaml:"traces_sample_rate"`
}

// ProfileSeed is a provisioned profile record.
type ProfileSeed struct {
	UID   string `yaml:"uid"`
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Server: Server{
			Addr:      ":8080",
			LoginPath: "/login",
		},
		Auth: Auth{
			// Use a default for development - should be overridden in production
			JWTSigningKey: "dev-secret-key-change-in-production",
			Issuer:        "aeroinsight-idp",
			Audience:      "aeroinsight",
		},
		Postgres: PostgresConfig{MaxOpenConns: 10},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			ProfileTTL:   5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Topic:        "reports.created",
			Group:        "aeroinsight-risk",
			RetryBackoff: 2 * time.Second,
		},
		Risk: RiskConfig{
			SweepInterval: time.Minute,
			GracePeriod:   30 * time.Second,
			MaxAttempts:   5,
		},
		Logging: Logging{Level: "info", Format: "json"},
		Sentry:  SentryConfig{Environment: "development", TracesSampleRate: 0.2},
	}
}

// FromEnv builds the configuration so main stays lean. The YAML file named by
// AEROINSIGHT_CONFIG, when present, is applied before environment overrides.
func FromEnv() (Config, error) {
	cfg := Default()

	if path := os.Getenv("AEROINSIGHT_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := Apply(&cfg, raw); err != nil {
			return Config{}, err
		}
	}

	setString(&cfg.Server.Addr, "AEROINSIGHT_ADDR")
	setString(&cfg.Server.LoginPath, "AEROINSIGHT_LOGIN_PATH")
	setString(&cfg.Auth.JWTSigningKey, "JWT_SIGNING_KEY")
	setString(&cfg.Auth.Issuer, "JWT_ISSUER")
	setString(&cfg.Auth.Audience, "JWT_AUDIENCE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	setString(&cfg.Kafka.Group, "KAFKA_GROUP")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Sentry.DSN, "SENTRY_DSN")
	setString(&cfg.Sentry.Environment, "APP_ENV")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	if err := setDuration(&cfg.Redis.ProfileTTL, "PROFILE_CACHE_TTL"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.Risk.SweepInterval, "RISK_SWEEP_INTERVAL"); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("RISK_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse RISK_MAX_ATTEMPTS: %w", err)
		}
		cfg.Risk.MaxAttempts = n
	}

	return cfg, cfg.Validate()
}

// Apply overlays YAML document raw onto cfg. Keys absent from raw keep their
// current values.
func Apply(cfg *Config, raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Auth.JWTSigningKey == "" {
		return fmt.Errorf("auth.jwt_signing_key is required")
	}
	if c.Server.LoginPath == "" || !strings.HasPrefix(c.Server.LoginPath, "/") {
		return fmt.Errorf("server.login_path must be an absolute path")
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.Topic == "" || c.Kafka.Group == "") {
		return fmt.Errorf("kafka.topic and kafka.group are required when brokers are set")
	}
	if c.Sentry.TracesSampleRate < 0 || c.Sentry.TracesSampleRate > 1 {
		return fmt.Errorf("sentry.traces_sample_rate must be between 0 and 1")
	}
	if c.Risk.MaxAttempts < 1 {
		return fmt.Errorf("risk.max_attempts must be at least 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
