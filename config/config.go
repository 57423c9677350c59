package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config represents the complete application configuration
type Config struct {
	API       APIConfig       `yaml:"api"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	State     StateConfig     `yaml:"state"`
	DevServer DevServerConfig `yaml:"dev_server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig contains chat service client configuration
type APIConfig struct {
	BaseURL string `yaml:"base_url" env:"PARLA_API_URL" env-default:"http://localhost:3000"`
	Timeout int    `yaml:"timeout" env:"PARLA_API_TIMEOUT" env-default:"30"` // seconds
}

// RecorderConfig contains audio capture configuration
type RecorderConfig struct {
	Dir        string `yaml:"dir" env:"PARLA_RECORDINGS_DIR" env-default:"recordings"`
	TickMillis int    `yaml:"tick_millis" env:"PARLA_TICK_MILLIS" env-default:"1000"`
	SweepGrace int    `yaml:"sweep_grace" env:"PARLA_SWEEP_GRACE" env-default:"60"` // seconds
	DeviceID   int    `yaml:"device_id" env:"PARLA_DEVICE_ID" env-default:"0"`
}

// StateConfig contains persisted app state configuration
type StateConfig struct {
	Path string `yaml:"path" env:"PARLA_STATE_FILE" env-default:"parla-state.json"`
}

// DevServerConfig contains local dev server configuration
type DevServerConfig struct {
	Addr string `yaml:"addr" env:"PARLA_DEV_ADDR" env-default:":3000"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" env:"PARLA_LOG_LEVEL" env-default:"debug"`
}

// Load reads configuration from the given YAML file plus environment
// overrides. An empty path loads from environment and defaults only.
func Load(path string) (*Config, error) {
	var config Config

	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&config)
	} else {
		err = cleanenv.ReadConfig(path, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}

	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if c.State.Path == "" {
		return fmt.Errorf("state config: path cannot be empty")
	}

	if c.DevServer.Addr == "" {
		return fmt.Errorf("dev_server config: addr cannot be empty")
	}

	return nil
}

// Validate validates API client configuration
func (a *APIConfig) Validate() error {
	if a.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	return nil
}

// Validate validates recorder configuration
func (r *RecorderConfig) Validate() error {
	if r.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if r.TickMillis < 1 || r.TickMillis > 1000 {
		return fmt.Errorf("tick_millis must be between 1 and 1000, got %d", r.TickMillis)
	}

	if r.SweepGrace < 1 {
		return fmt.Errorf("sweep_grace must be at least 1 second, got %d", r.SweepGrace)
	}

	if r.DeviceID < 0 {
		return fmt.Errorf("device_id cannot be negative, got %d", r.DeviceID)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	return nil
}

// GetTimeoutDuration returns the API request timeout as a time.Duration
func (a *APIConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetTickDuration returns the elapsed-time tick period as a time.Duration
func (r *RecorderConfig) GetTickDuration() time.Duration {
	return time.Duration(r.TickMillis) * time.Millisecond
}

// GetSweepGraceDuration returns the sweeper grace period as a time.Duration
func (r *RecorderConfig) GetSweepGraceDuration() time.Duration {
	return time.Duration(r.SweepGrace) * time.Second
}

// SlogLevel maps the configured level onto slog's levels
func (l *LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
