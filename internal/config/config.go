package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported storage backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

// Config holds all application-level settings.
type Config struct {
	// Server
	ServerAddr string `yaml:"server_addr"`

	// Storage
	StoreBackend string `yaml:"store_backend"`

	// Redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// SQLite
	SQLitePath string `yaml:"sqlite_path"`

	// PostgreSQL
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`

	// Ledger
	SessionTTL       time.Duration `yaml:"session_ttl"`       // bearer token lifetime
	CancelWindow     time.Duration `yaml:"cancel_window"`     // grace period for cancelling a payment
	PaymentRetention time.Duration `yaml:"payment_retention"` // how long payment records are kept
	SweepInterval    time.Duration `yaml:"sweep_interval"`    // session/payment cleanup period

	BalanceDefaultClient string `yaml:"balance_default_client"` // /saldo client when codigo has no ci
	SeedDemo             bool   `yaml:"seed_demo"`

	// Admin Authentication
	AdminToken     string `yaml:"admin_token"`      // plain bearer token for admin API access
	AdminTokenHash string `yaml:"admin_token_hash"` // bcrypt hash, takes precedence over AdminToken

	Log LogConfig `yaml:"log"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		ServerAddr:           ":5000",
		StoreBackend:         BackendMemory,
		RedisAddr:            "localhost:6379",
		SQLitePath:           "./data/billpay.db",
		DBHost:               "localhost",
		DBPort:               "5432",
		DBUser:               "postgres",
		DBPassword:           "postgres",
		DBName:               "billpay",
		DBSSLMode:            "disable",
		SessionTTL:           30 * time.Minute,
		CancelWindow:         5 * time.Minute,
		PaymentRetention:     24 * time.Hour,
		SweepInterval:        time.Minute,
		BalanceDefaultClient: "12345",
		SeedDemo:             true,
		Log:                  LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerAddr = envOr("SERVER_ADDR", c.ServerAddr)
	c.StoreBackend = envOr("STORE_BACKEND", c.StoreBackend)
	c.RedisAddr = envOr("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = envOr("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envIntOr("REDIS_DB", c.RedisDB)
	c.SQLitePath = envOr("SQLITE_PATH", c.SQLitePath)
	c.DBHost = envOr("DB_HOST", c.DBHost)
	c.DBPort = envOr("DB_PORT", c.DBPort)
	c.DBUser = envOr("DB_USER", c.DBUser)
	c.DBPassword = envOr("DB_PASSWORD", c.DBPassword)
	c.DBName = envOr("DB_NAME", c.DBName)
	c.DBSSLMode = envOr("DB_SSLMODE", c.DBSSLMode)
	c.SessionTTL = envDurationOr("SESSION_TTL", c.SessionTTL)
	c.CancelWindow = envDurationOr("CANCEL_WINDOW", c.CancelWindow)
	c.PaymentRetention = envDurationOr("PAYMENT_RETENTION", c.PaymentRetention)
	c.SweepInterval = envDurationOr("SWEEP_INTERVAL", c.SweepInterval)
	c.BalanceDefaultClient = envOr("BALANCE_DEFAULT_CLIENT", c.BalanceDefaultClient)
	c.SeedDemo = envBoolOr("SEED_DEMO", c.SeedDemo)
	c.AdminToken = envOr("ADMIN_TOKEN", c.AdminToken)
	c.AdminTokenHash = envOr("ADMIN_TOKEN_HASH", c.AdminTokenHash)
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("LOG_FORMAT", c.Log.Format)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"session_ttl", c.SessionTTL},
		{"cancel_window", c.CancelWindow},
		{"payment_retention", c.PaymentRetention},
		{"sweep_interval", c.SweepInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.d)
		}
	}

	if c.PaymentRetention < c.CancelWindow {
		return errors.New("payment_retention must not be shorter than cancel_window")
	}
	if c.BalanceDefaultClient == "" {
		return errors.New("balance_default_client is required")
	}
	if c.StoreBackend == BackendSQLite && c.SQLitePath == "" {
		return errors.New("sqlite_path is required for the sqlite backend")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// PostgresDSN returns the libpq connection string for the postgres backend.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// ─── helpers ───

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
