package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Registry RegistryConfig `mapstructure:"registry"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Health   HealthConfig   `mapstructure:"health"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig holds deployment record database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RegistryConfig holds platform registry configuration.
type RegistryConfig struct {
	// Dir is the config directory holding platforms/<name>.yaml documents.
	Dir string `mapstructure:"dir"`

	// DefaultTargets limits target resolution when a deploy names none.
	// Empty means all configured platforms.
	DefaultTargets []string `mapstructure:"default_targets"`
}

// DeployConfig holds deployment scheduling defaults.
type DeployConfig struct {
	MaxParallel      int           `mapstructure:"max_parallel"`
	PerTargetTimeout time.Duration `mapstructure:"per_target_timeout"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`

	// RecoveryLimit bounds automatic recovery attempts per run.
	RecoveryLimit int `mapstructure:"recovery_limit"`
}

// HealthConfig holds health gate configuration.
type HealthConfig struct {
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// NotifyConfig holds webhook notifier configuration.
type NotifyConfig struct {
	// URL is the webhook sink for high-severity events. Empty disables
	// notification.
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("database.dsn", defaultDSN())
	v.SetDefault("registry.dir", defaultConfigDir())
	v.SetDefault("registry.default_targets", []string{})
	v.SetDefault("deploy.max_parallel", 4)
	v.SetDefault("deploy.per_target_timeout", "10m")
	v.SetDefault("deploy.run_timeout", "0")
	v.SetDefault("deploy.recovery_limit", 3)
	v.SetDefault("health.probe_timeout", "10s")
	v.SetDefault("notify.url", "")
	v.SetDefault("notify.secret", "")
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if the file exists but is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("PAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// defaultConfigDir is ~/.pak, falling back to the working directory.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pak"
	}
	return home + "/.pak"
}

func defaultDSN() string {
	return defaultConfigDir() + "/deployments.db"
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
