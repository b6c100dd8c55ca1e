// Package config handles TOML configuration for nimbus.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/yairfalse/nimbus/internal/waiter"
)

// Config is the root configuration structure.
type Config struct {
	AWS     AWSConfig     `toml:"aws"`
	Wait    WaitConfig    `toml:"wait"`
	Batch   BatchConfig   `toml:"batch"`
	Logs    LogsConfig    `toml:"logs"`
	Cost    CostConfig    `toml:"cost"`
	Policy  PolicyConfig  `toml:"policy"`
	OTEL    OTELConfig    `toml:"otel"`
	Metrics MetricsServer `toml:"metrics"`
	Log     LogConfig     `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Region  string `toml:"region"`
	Profile string `toml:"profile"`
}

// WaitConfig bounds instance state waits.
type WaitConfig struct {
	PollIntervalStr string `toml:"poll_interval"`
	PollInterval    time.Duration
	MaxAttempts     int    `toml:"max_attempts"`
	MaxElapsedStr   string `toml:"max_elapsed"`
	MaxElapsed      time.Duration
}

// BatchConfig holds batch dispatch settings. Concurrency 0 or 1 is sequential.
type BatchConfig struct {
	Concurrency int `toml:"concurrency"`
}

// LogsConfig holds log retrieval settings.
type LogsConfig struct {
	DefaultLimit int `toml:"default_limit"`
	PageSize     int `toml:"page_size"`
}

// CostConfig holds cost query defaults.
type CostConfig struct {
	Granularity string `toml:"granularity"`
	GroupBy     string `toml:"group_by"`
	Metric      string `toml:"metric"`
}

// PolicyConfig points at an optional Rego guard policy.
type PolicyConfig struct {
	File string `toml:"file"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds OTLP metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// MetricsServer configures the Prometheus scrape endpoint. Empty Addr disables it.
type MetricsServer struct {
	Addr string `toml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	// Defaults always parse.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads and parses a TOML config file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// applyEnv fills unset values from the environment.
func applyEnv(cfg *Config) {
	setFromEnv(&cfg.AWS.Region, "AWS_REGION", "AWS_DEFAULT_REGION")
	setFromEnv(&cfg.AWS.Profile, "AWS_PROFILE")
	setFromEnv(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setFromEnv(&cfg.Metrics.Addr, "NIMBUS_METRICS_ADDR")
	setFromEnv(&cfg.Policy.File, "NIMBUS_POLICY_FILE")
	setFromEnv(&cfg.Log.Level, "NIMBUS_LOG_LEVEL")
}

func setFromEnv(dst *string, keys ...string) {
	if *dst != "" {
		return
	}
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Wait.PollIntervalStr == "" {
		cfg.Wait.PollIntervalStr = "5s"
	}
	if cfg.Wait.MaxAttempts == 0 && cfg.Wait.MaxElapsedStr == "" {
		cfg.Wait.MaxAttempts = 40
	}
	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = 1
	}
	if cfg.Logs.DefaultLimit == 0 {
		cfg.Logs.DefaultLimit = 100
	}
	if cfg.Cost.Granularity == "" {
		cfg.Cost.Granularity = "MONTHLY"
	}
	if cfg.Cost.GroupBy == "" {
		cfg.Cost.GroupBy = "SERVICE"
	}
	if cfg.Cost.Metric == "" {
		cfg.Cost.Metric = "UnblendedCost"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "nimbus"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Wait.PollIntervalStr)
	if err != nil {
		return fmt.Errorf("parse wait.poll_interval %q: %w", cfg.Wait.PollIntervalStr, err)
	}
	cfg.Wait.PollInterval = d

	if cfg.Wait.MaxElapsedStr != "" {
		d, err := time.ParseDuration(cfg.Wait.MaxElapsedStr)
		if err != nil {
			return fmt.Errorf("parse wait.max_elapsed %q: %w", cfg.Wait.MaxElapsedStr, err)
		}
		cfg.Wait.MaxElapsed = d
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if err := c.WaitSpec().WithTarget("running").Validate(); err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	if c.Batch.Concurrency < 0 {
		return fmt.Errorf("batch: concurrency must not be negative (got %d)", c.Batch.Concurrency)
	}
	if c.Logs.DefaultLimit < 0 || c.Logs.PageSize < 0 {
		return fmt.Errorf("logs: limits must not be negative")
	}
	switch strings.ToUpper(c.Cost.Granularity) {
	case "DAILY", "MONTHLY":
	default:
		return fmt.Errorf("cost: granularity must be DAILY or MONTHLY (got %q)", c.Cost.Granularity)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// WaitSpec returns the configured wait budget without a target state.
func (c *Config) WaitSpec() waiter.Spec {
	return waiter.Spec{
		PollInterval: c.Wait.PollInterval,
		MaxAttempts:  c.Wait.MaxAttempts,
		MaxElapsed:   c.Wait.MaxElapsed,
	}
}
