// Package config loads runtime configuration from YAML. Absent values take
// the documented defaults so an empty file is a valid configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultMaxIterations    = 20
	DefaultRetryMaxAttempts = 5
	DefaultRetryBackoff     = 10 * time.Second
	DefaultRetryMultiplier  = 5.0
	DefaultRetryBackoffMax  = 60 * time.Second
)

type (
	// Config is the root runtime configuration.
	Config struct {
		// Model selects default and per-role model names.
		Model ModelConfig `yaml:"model"`
		// Loop bounds the tool-calling loop.
		Loop LoopConfig `yaml:"loop"`
		// Action configures action execution.
		Action ActionConfig `yaml:"action"`
		// Stream configures event streaming.
		Stream StreamConfig `yaml:"stream"`
		// Store configures persistence.
		Store StoreConfig `yaml:"store"`
	}

	// ModelConfig selects models.
	ModelConfig struct {
		// Default is the model used when no selection criteria are given.
		Default string `yaml:"default"`
		// Roles maps logical roles to model names.
		Roles map[string]string `yaml:"roles"`
	}

	// LoopConfig bounds the tool loop.
	LoopConfig struct {
		// MaxIterations caps model inferences per loop run.
		MaxIterations int `yaml:"max_iterations"`
	}

	// ActionConfig configures action execution.
	ActionConfig struct {
		// Retry is the default action retry policy.
		Retry RetryConfig `yaml:"retry"`
	}

	// RetryConfig mirrors the action retry policy.
	RetryConfig struct {
		// MaxAttempts includes the initial attempt.
		MaxAttempts int `yaml:"max_attempts"`
		// Backoff is the initial delay before the first retry.
		Backoff time.Duration `yaml:"backoff"`
		// BackoffMultiplier scales the delay after each retry.
		BackoffMultiplier float64 `yaml:"backoff_multiplier"`
		// BackoffMax caps the delay between retries.
		BackoffMax time.Duration `yaml:"backoff_max"`
		// Idempotent marks actions retryable by default.
		Idempotent bool `yaml:"idempotent"`
	}

	// StreamConfig configures event streaming.
	StreamConfig struct {
		// RedisURL is the Redis connection URL for the Pulse stream sink.
		RedisURL string `yaml:"redis_url"`
	}

	// StoreConfig configures persistence.
	StoreConfig struct {
		// MongoURI is the MongoDB connection string for blackboard and
		// awaitable persistence.
		MongoURI string `yaml:"mongo_uri"`
	}
)

// Default returns the configuration with every default applied.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads and parses the YAML file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse parses YAML configuration bytes and applies defaults.
func Parse(b []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Loop.MaxIterations == 0 {
		c.Loop.MaxIterations = DefaultMaxIterations
	}
	if c.Action.Retry.MaxAttempts == 0 {
		c.Action.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if c.Action.Retry.Backoff == 0 {
		c.Action.Retry.Backoff = DefaultRetryBackoff
	}
	if c.Action.Retry.BackoffMultiplier == 0 {
		c.Action.Retry.BackoffMultiplier = DefaultRetryMultiplier
	}
	if c.Action.Retry.BackoffMax == 0 {
		c.Action.Retry.BackoffMax = DefaultRetryBackoffMax
	}
}

func (c *Config) validate() error {
	if c.Loop.MaxIterations < 0 {
		return fmt.Errorf("config: loop.max_iterations must not be negative")
	}
	if c.Action.Retry.MaxAttempts < 0 {
		return fmt.Errorf("config: action.retry.max_attempts must not be negative")
	}
	return nil
}
