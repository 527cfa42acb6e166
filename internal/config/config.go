// Package config provides configuration management for Muse Hub.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	River     RiverConfig     `mapstructure:"river"`
	Security  SecurityConfig  `mapstructure:"security"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Variation VariationConfig `mapstructure:"variation"`
	Assets    AssetsConfig    `mapstructure:"assets"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// ValidateResponses turns on OpenAPI response validation. Request
	// validation is always on; response validation buffers bodies and is
	// meant for development only.
	ValidateResponses bool `mapstructure:"validate_responses"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One shared pool serves the hub store and River.
type DatabaseConfig struct {
	// Backend picks the hub persistence layer: "postgres" or "memory".
	// The memory backend is for development and tests; River is disabled there.
	Backend string `mapstructure:"backend"`

	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	// Pool configuration (shared by the store and River)
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
	VariationSweepInterval      time.Duration `mapstructure:"variation_sweep_interval"`
	ActivityRetention           time.Duration `mapstructure:"activity_retention"`
}

// SecurityConfig contains security-related settings.
// Missing secrets are auto-generated on first boot.
type SecurityConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize    int `mapstructure:"general_pool_size"`
	GenerationPoolSize int `mapstructure:"generation_pool_size"`
}

// VariationConfig tunes the variation pipeline and its streams.
type VariationConfig struct {
	// TTL is how long a non-terminal variation may live before the
	// sweeper expires it.
	TTL time.Duration `mapstructure:"ttl"`

	// HeartbeatInterval is the idle-stream keepalive period.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// SubscriberBuffer bounds each SSE subscriber queue. Slow consumers
	// past this bound have envelopes dropped (polling recovers them).
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`

	// ToolCallTimeout bounds a single tool call during generation.
	ToolCallTimeout time.Duration `mapstructure:"tool_call_timeout"`

	// BudgetAllowance caps generation units per user. Zero or negative
	// disables metering.
	BudgetAllowance int `mapstructure:"budget_allowance"`
}

// AssetsConfig configures presigned object delivery via S3.
type AssetsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Region     string        `mapstructure:"region"`
	Bucket     string        `mapstructure:"bucket"`
	Endpoint   string        `mapstructure:"endpoint"`
	AccessKey  string        `mapstructure:"access_key"`
	SecretKey  string        `mapstructure:"secret_key"`
	PresignTTL time.Duration `mapstructure:"presign_ttl"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// Standard environment variables without prefix (DATABASE_URL, SERVER_PORT, etc.).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/musehub")

	// Environment variable override.
	// No prefix: uses standard names like DATABASE_URL, SERVER_PORT, LOG_LEVEL
	// Maps nested config: database.max_conns → DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Auto-generate secrets on first boot if missing.
	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Database.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.backend must be postgres or memory, got %q", c.Database.Backend)
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret must not be empty")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.Variation.TTL <= 0 {
		return fmt.Errorf("variation.ttl must be positive")
	}
	if c.Variation.SubscriberBuffer < 1 {
		return fmt.Errorf("variation.subscriber_buffer must be at least 1")
	}
	if c.Worker.GeneralPoolSize < 1 || c.Worker.GenerationPoolSize < 1 {
		return fmt.Errorf("worker pool sizes must be at least 1")
	}
	if c.Assets.Enabled && c.Assets.Bucket == "" {
		return fmt.Errorf("assets.bucket required when assets.enabled")
	}
	return nil
}

// ensureSecrets auto-generates missing secrets.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt secret: %w", err)
		}
		c.Security.JWTSecret = secret
		logBootstrapWarn(
			"auto-generated jwt_secret; set SECURITY_JWT_SECRET env var for persistence across restarts",
			zap.Int("length", len(secret)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.read_timeout", "30s")
	// Write timeout must outlive long SSE streams.
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.validate_responses", false)

	// Database (shared pool)
	v.SetDefault("database.backend", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "musehub")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "musehub")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")
	v.SetDefault("river.variation_sweep_interval", "1m")
	v.SetDefault("river.activity_retention", "720h")

	// Security
	v.SetDefault("security.token_ttl", "24h")

	// Worker Pool
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.generation_pool_size", 4)

	// Variation pipeline
	v.SetDefault("variation.ttl", "1h")
	v.SetDefault("variation.heartbeat_interval", "30s")
	v.SetDefault("variation.subscriber_buffer", 256)
	v.SetDefault("variation.tool_call_timeout", "30s")
	v.SetDefault("variation.budget_allowance", 0)

	// Assets
	v.SetDefault("assets.enabled", false)
	v.SetDefault("assets.region", "us-east-1")
	v.SetDefault("assets.presign_ttl", "15m")
}
