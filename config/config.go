// Package config loads eventgate settings from defaults, an optional YAML
// file and EVENTGATE_-prefixed environment variables, in that order of
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level eventgate configuration.
type Config struct {
	Module    string          `koanf:"module"`
	Broker    BrokerConfig    `koanf:"broker"`
	Registry  RegistryConfig  `koanf:"registry"`
	Cache     CacheConfig     `koanf:"cache"`
	Retry     RetryConfig     `koanf:"retry"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Dlq       DlqConfig       `koanf:"dlq"`
	Reprocess ReprocessConfig `koanf:"reprocess"`
}

// BrokerConfig holds the message broker connection settings.
type BrokerConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
}

// RegistryConfig holds the schema registry client settings.
type RegistryConfig struct {
	Endpoint      string `koanf:"endpoint"`
	TimeoutMs     int    `koanf:"timeout_ms"`
	FetchAttempts int    `koanf:"fetch_attempts"`
}

// CacheConfig holds the schema cache settings.
type CacheConfig struct {
	TTL        string `koanf:"ttl"`
	MaxEntries int    `koanf:"max_entries"`
}

// RetryConfig holds the publish retry policy.
type RetryConfig struct {
	MaxAttempts  int     `koanf:"max_attempts"`
	InitialDelay string  `koanf:"initial_delay"`
	Multiplier   float64 `koanf:"multiplier"`
	MaxDelay     string  `koanf:"max_delay"`
}

// BreakerConfig holds the circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int    `koanf:"failure_threshold"`
	FailureWindow    string `koanf:"failure_window"`
	Cooldown         string `koanf:"cooldown"`
	HalfOpenRequests int    `koanf:"half_open_requests"`
	PerEventType     bool   `koanf:"per_event_type"`
}

// DlqConfig holds dead-letter routing settings.
type DlqConfig struct {
	TopicPattern        string   `koanf:"topic_pattern"`
	HighPriorityModules []string `koanf:"high_priority_modules"`
}

// ReprocessConfig holds reprocessing settings.
type ReprocessConfig struct {
	ManualIntervention bool   `koanf:"manual_intervention"`
	Queue              string `koanf:"queue"`
}

// Load builds the configuration. configPath may be empty to run on defaults
// and environment variables only. EVENTGATE_RETRY__MAX_ATTEMPTS=5 overrides
// retry.max_attempts.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"module":                        "",
		"broker.url":                    "amqp://localhost:5672",
		"broker.exchange":               "events",
		"registry.endpoint":             "http://localhost:8081",
		"registry.timeout_ms":           5000,
		"registry.fetch_attempts":       3,
		"cache.ttl":                     "30m",
		"cache.max_entries":             1000,
		"retry.max_attempts":            3,
		"retry.initial_delay":           "1s",
		"retry.multiplier":              2.0,
		"retry.max_delay":               "5m",
		"breaker.failure_threshold":     5,
		"breaker.failure_window":        "1m",
		"breaker.cooldown":              "30s",
		"breaker.half_open_requests":    3,
		"breaker.per_event_type":        false,
		"dlq.topic_pattern":             "events.{module}.dlq",
		"reprocess.manual_intervention": false,
		"reprocess.queue":               "eventgate.dlq.reprocess",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: failed to load file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("EVENTGATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "EVENTGATE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("config: breaker.failure_threshold must be at least 1")
	}
	for _, key := range []struct {
		name  string
		value string
	}{
		{"cache.ttl", c.Cache.TTL},
		{"retry.initial_delay", c.Retry.InitialDelay},
		{"retry.max_delay", c.Retry.MaxDelay},
		{"breaker.failure_window", c.Breaker.FailureWindow},
		{"breaker.cooldown", c.Breaker.Cooldown},
	} {
		if _, err := time.ParseDuration(key.value); err != nil {
			return fmt.Errorf("config: %s is not a duration: %w", key.name, err)
		}
	}
	return nil
}

// Duration parses a duration key validated at load time.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
