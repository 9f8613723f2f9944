package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New(ctx))
//  2. file (YAML) if DRIFTWATCH_CONFIG is set
//  3. env (prefix DRIFTWATCH_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New(ctx)

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("DRIFTWATCH_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: DRIFTWATCH_ADDR, DRIFTWATCH_BROKER_URL, ...
	// Map env keys like DRIFTWATCH_BROKER_URL -> broker_url (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("DRIFTWATCH_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "driftwatch_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.BrokerProvider {
	case BrokerMemory, BrokerNATS:
	default:
		return fmt.Errorf("%w: unknown broker provider %q", ErrInvalidConfig, c.BrokerProvider)
	}
	if c.BrokerProvider == BrokerNATS && c.BrokerURL == "" {
		return fmt.Errorf("%w: broker_url required for nats", ErrInvalidConfig)
	}
	for name, q := range map[string]string{
		"features_queue":     c.FeaturesQueue,
		"ground_truth_queue": c.GroundTruthQueue,
		"predictions_queue":  c.PredictionsQueue,
	} {
		if q == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, name)
		}
	}
	if c.CorrelationCapacity <= 0 {
		return fmt.Errorf("%w: correlation_capacity must be positive", ErrInvalidConfig)
	}
	if c.CorrelationTimeoutMS <= 0 {
		return fmt.Errorf("%w: correlation_timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.MetricLogPath == "" {
		return fmt.Errorf("%w: metric_log_path must not be empty", ErrInvalidConfig)
	}
	return nil
}
