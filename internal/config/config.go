// Package config loads agent settings in three layers: built-in
// defaults, an optional YAML file, then environment variables.  Later
// layers win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the agent.
type Config struct {
	App    AppConfig    `yaml:"app"`
	Device DeviceConfig `yaml:"device"`
	API    APIConfig    `yaml:"api"`
	Sweep  SweepConfig  `yaml:"sweep"`
	Logger LoggerConfig `yaml:"logger"`
}

// AppConfig controls agent-level behavior.
type AppConfig struct {
	Env    string `yaml:"env"` // "dev" | "prod"
	DBPath string `yaml:"db_path"`
}

// DeviceConfig holds terminal connection values.
type DeviceConfig struct {
	Addr                string `yaml:"addr"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	RetryBackoffSeconds int    `yaml:"retry_backoff_seconds"`

	// Simulate swaps the vendor terminal for the in-memory simulator.
	Simulate bool `yaml:"simulate"`
}

// APIConfig holds remote authorization service credentials.
type APIConfig struct {
	BaseURL               string `yaml:"base_url"`
	Email                 string `yaml:"email"`
	Password              string `yaml:"password"`
	BranchID              int    `yaml:"branch_id"`
	Workers               int    `yaml:"workers"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int    `yaml:"read_timeout_seconds"`
}

// SweepConfig controls the periodic expiry reconciliation.
type SweepConfig struct {
	// IntervalHours between sweeps.  0 disables sweeping.
	IntervalHours int `yaml:"interval_hours"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		App: AppConfig{
			Env:    "dev",
			DBPath: "./data/gymgate.db",
		},
		Device: DeviceConfig{
			Addr:                "192.168.1.201:4370",
			PollIntervalSeconds: 5,
			RetryBackoffSeconds: 5,
		},
		API: APIConfig{
			BaseURL:               "https://api.gymforce.example.com",
			Workers:               3,
			ConnectTimeoutSeconds: 5,
			ReadTimeoutSeconds:    10,
		},
		Sweep: SweepConfig{
			IntervalHours: 24,
		},
		Logger: LoggerConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration.  path names an optional YAML
// file; empty means env-and-defaults only.  A .env file in the working
// directory is honored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path == "" {
		path = os.Getenv("GYMGATE_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Device.PollIntervalSeconds <= 0 {
		return nil, fmt.Errorf("device poll interval must be positive, got %d", cfg.Device.PollIntervalSeconds)
	}
	if cfg.Sweep.IntervalHours < 0 {
		return nil, fmt.Errorf("sweep interval must not be negative, got %d", cfg.Sweep.IntervalHours)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.App.Env = getEnv("GYMGATE_ENV", cfg.App.Env)
	cfg.App.DBPath = getEnv("GYMGATE_DB_PATH", cfg.App.DBPath)

	cfg.Device.Addr = getEnv("GYMGATE_DEVICE_ADDR", cfg.Device.Addr)
	cfg.Device.PollIntervalSeconds = getEnvAsInt("GYMGATE_DEVICE_POLL_INTERVAL_SECONDS", cfg.Device.PollIntervalSeconds)
	cfg.Device.RetryBackoffSeconds = getEnvAsInt("GYMGATE_DEVICE_RETRY_BACKOFF_SECONDS", cfg.Device.RetryBackoffSeconds)
	cfg.Device.Simulate = getEnvAsBool("GYMGATE_DEVICE_SIMULATE", cfg.Device.Simulate)

	cfg.API.BaseURL = getEnv("GYMGATE_API_BASE_URL", cfg.API.BaseURL)
	cfg.API.Email = getEnv("GYMGATE_API_EMAIL", cfg.API.Email)
	cfg.API.Password = getEnv("GYMGATE_API_PASSWORD", cfg.API.Password)
	cfg.API.BranchID = getEnvAsInt("GYMGATE_API_BRANCH_ID", cfg.API.BranchID)
	cfg.API.Workers = getEnvAsInt("GYMGATE_API_WORKERS", cfg.API.Workers)
	cfg.API.ConnectTimeoutSeconds = getEnvAsInt("GYMGATE_API_CONNECT_TIMEOUT_SECONDS", cfg.API.ConnectTimeoutSeconds)
	cfg.API.ReadTimeoutSeconds = getEnvAsInt("GYMGATE_API_READ_TIMEOUT_SECONDS", cfg.API.ReadTimeoutSeconds)

	cfg.Sweep.IntervalHours = getEnvAsInt("GYMGATE_SWEEP_INTERVAL_HOURS", cfg.Sweep.IntervalHours)

	cfg.Logger.Level = getEnv("GYMGATE_LOG_LEVEL", cfg.Logger.Level)
}

// PollInterval returns the configured device poll cadence.
func (d DeviceConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// RetryBackoff returns the wait between device connection attempts.
func (d DeviceConfig) RetryBackoff() time.Duration {
	return time.Duration(d.RetryBackoffSeconds) * time.Second
}

// ConnectTimeout returns the API dial timeout.
func (a APIConfig) ConnectTimeout() time.Duration {
	return time.Duration(a.ConnectTimeoutSeconds) * time.Second
}

// ReadTimeout returns the API request timeout.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.ReadTimeoutSeconds) * time.Second
}

// Interval returns the sweep cadence; 0 disables sweeping.
func (s SweepConfig) Interval() time.Duration {
	return time.Duration(s.IntervalHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
