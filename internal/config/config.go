package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/locale"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	OpenAI         OpenAIConfig         `mapstructure:"openai"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Upload         UploadConfig         `mapstructure:"upload"`
	Session        SessionConfig        `mapstructure:"session"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Export         ExportConfig         `mapstructure:"export"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Logger         LoggerConfig         `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"` // empty runs the built-in schema
}

// OpenAIConfig holds the OCR supplier configuration
type OpenAIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	PromptsPath       string        `mapstructure:"prompts_path"`
	MinConfidence     float64       `mapstructure:"min_confidence"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// ReconciliationConfig holds the number conventions and the VAT rate
type ReconciliationConfig struct {
	VatRate       string `mapstructure:"vat_rate"`
	Locale        string `mapstructure:"locale"`
	DisplayLocale string `mapstructure:"display_locale"`
}

// UploadConfig bounds upload processing
type UploadConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxFileSize   int64         `mapstructure:"max_file_size"`
	MaxPages      int           `mapstructure:"max_pages"`
	DPI           float64       `mapstructure:"dpi"`
	JPEGQuality   int           `mapstructure:"jpeg_quality"`
}

// SessionConfig controls in-progress receipts
type SessionConfig struct {
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	MaxSessions     int           `mapstructure:"max_sessions"`
}

// StorageConfig holds where uploaded originals are kept
type StorageConfig struct {
	UploadDir   string `mapstructure:"upload_dir"`
	KeepUploads bool   `mapstructure:"keep_uploads"`
}

// ExportConfig holds spreadsheet export settings
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// RateLimitConfig limits HTTP requests per client IP
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads an optional .env file, the YAML config at configPath and the
// environment. An empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/bewirtung.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_dir", "")

	// OpenAI defaults
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.min_confidence", 0.6)
	v.SetDefault("openai.requests_per_minute", 60)
	v.SetDefault("openai.burst", 3)
	v.SetDefault("openai.breaker_failures", 5)
	v.SetDefault("openai.breaker_cooldown", 30*time.Second)

	// Reconciliation defaults
	v.SetDefault("reconciliation.vat_rate", "0.19")
	v.SetDefault("reconciliation.locale", locale.DefaultCode)
	v.SetDefault("reconciliation.display_locale", locale.DefaultCode)

	// Upload defaults
	v.SetDefault("upload.max_concurrent", 3)
	v.SetDefault("upload.timeout", 2*time.Minute)
	v.SetDefault("upload.max_file_size", 10<<20)
	v.SetDefault("upload.max_pages", 5)
	v.SetDefault("upload.dpi", 150)
	v.SetDefault("upload.jpeg_quality", 85)

	// Session defaults
	v.SetDefault("session.idle_timeout", 30*time.Minute)
	v.SetDefault("session.janitor_interval", time.Minute)
	v.SetDefault("session.max_sessions", 1000)

	// Storage and export defaults
	v.SetDefault("storage.upload_dir", "data/uploads")
	v.SetDefault("storage.keep_uploads", false)
	v.SetDefault("export.dir", "data/exports")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 5)
	v.SetDefault("rate_limit.burst", 10)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"openai.api_key":          "OPENAI_API_KEY",
		"openai.base_url":         "OPENAI_BASE_URL",
		"openai.model":            "OPENAI_MODEL",
		"reconciliation.vat_rate": "VAT_RATE",
		"reconciliation.locale":   "RECEIPT_LOCALE",
		"database.path":           "DATABASE_PATH",
		"server.port":             "PORT",
		"logger.level":            "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.OpenAI.MinConfidence < 0 || c.OpenAI.MinConfidence > 1 {
		return fmt.Errorf("openai.min_confidence must be between 0 and 1")
	}

	rate, err := decimal.NewFromString(c.Reconciliation.VatRate)
	if err != nil {
		return fmt.Errorf("reconciliation.vat_rate is not a number: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("reconciliation.vat_rate must be in [0, 1)")
	}
	if _, err := locale.Lookup(c.Reconciliation.Locale); err != nil {
		return fmt.Errorf("reconciliation.locale: %w", err)
	}
	if _, err := locale.Lookup(c.Reconciliation.DisplayLocale); err != nil {
		return fmt.Errorf("reconciliation.display_locale: %w", err)
	}

	if c.Upload.MaxConcurrent <= 0 {
		return fmt.Errorf("upload.max_concurrent must be positive")
	}
	if c.Upload.Timeout <= 0 {
		return fmt.Errorf("upload.timeout must be positive")
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive")
	}

	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage.upload_dir is required")
	}
	if c.Export.Dir == "" {
		return fmt.Errorf("export.dir is required")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}

	return nil
}

// VatRate returns the validated VAT rate
func (c *Config) VatRate() decimal.Decimal {
	return decimal.RequireFromString(c.Reconciliation.VatRate)
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
