// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Layer file and environment overrides on top via Load.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"time"
)

// Broker provider names.
const (
	BrokerMemory = "memory"
	BrokerNATS   = "nats"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address for health, stats, and
	// metrics endpoints, e.g. ":9090".
	Addr string `koanf:"addr"`

	// BrokerProvider selects the queue binding: memory or nats.
	BrokerProvider string `koanf:"broker_provider"`

	// BrokerURL is the NATS server URL. Ignored by the memory broker.
	BrokerURL string `koanf:"broker_url"`

	// Queue names.
	FeaturesQueue    string `koanf:"features_queue"`
	GroundTruthQueue string `koanf:"ground_truth_queue"`
	PredictionsQueue string `koanf:"predictions_queue"`
	DeadLetterQueue  string `koanf:"dead_letter_queue"`

	// ProduceIntervalMS is the producer's emission cadence.
	ProduceIntervalMS int `koanf:"produce_interval_ms"`

	// DatasetSeed seeds the synthetic dataset; producer and scorer must
	// agree on it so the model matches the generator.
	DatasetSeed  int64   `koanf:"dataset_seed"`
	DatasetRows  int     `koanf:"dataset_rows"`
	DatasetDims  int     `koanf:"dataset_dims"`
	DatasetNoise float64 `koanf:"dataset_noise"`

	// CorrelationTimeoutMS bounds how long an unmatched half-record waits
	// for its partner before being orphaned.
	CorrelationTimeoutMS int `koanf:"correlation_timeout_ms"`

	// CorrelationCapacity bounds the number of pending correlations.
	CorrelationCapacity int `koanf:"correlation_capacity"`

	// DedupeSize sets the completed-id window guarding against
	// double-counted redeliveries.
	DedupeSize int `koanf:"dedupe_size"`

	// SweepIntervalMS sets the expiry janitor cadence.
	SweepIntervalMS int `koanf:"sweep_interval_ms"`

	// ErrorFunction selects the recorded metric: absolute or squared.
	ErrorFunction string `koanf:"error_function"`

	// MetricLogPath is the append-only metric log file.
	MetricLogPath string `koanf:"metric_log_path"`

	// Prefetch caps unacknowledged deliveries per consumer.
	Prefetch int `koanf:"prefetch"`

	// MaxDeliveries is the redelivery budget before dead-lettering.
	MaxDeliveries int `koanf:"max_deliveries"`

	// PublishRetryAttempts bounds publish retries per message.
	PublishRetryAttempts int `koanf:"publish_retry_attempts"`

	// ShutdownTimeoutMS bounds graceful shutdown.
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use and currently
// unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9090",
		BrokerProvider:       BrokerMemory,
		BrokerURL:            "nats://127.0.0.1:4222",
		FeaturesQueue:        "features",
		GroundTruthQueue:     "ground_truth",
		PredictionsQueue:     "predictions",
		DeadLetterQueue:      "dead_letter",
		ProduceIntervalMS:    500,
		DatasetSeed:          42,
		DatasetRows:          442,
		DatasetDims:          10,
		DatasetNoise:         0.5,
		CorrelationTimeoutMS: 60_000,
		CorrelationCapacity:  10_000,
		DedupeSize:           50_000,
		SweepIntervalMS:      5_000,
		ErrorFunction:        "absolute",
		MetricLogPath:        "metric_log.csv",
		Prefetch:             16,
		MaxDeliveries:        5,
		PublishRetryAttempts: 3,
		ShutdownTimeoutMS:    10_000,
	}
}

// ProduceInterval returns the emission cadence as a duration.
func (c *Config) ProduceInterval() time.Duration {
	return time.Duration(c.ProduceIntervalMS) * time.Millisecond
}

// CorrelationTimeout returns the orphan timeout as a duration.
func (c *Config) CorrelationTimeout() time.Duration {
	return time.Duration(c.CorrelationTimeoutMS) * time.Millisecond
}

// SweepInterval returns the janitor cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown bound as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}
