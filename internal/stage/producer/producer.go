// Package producer emits paired feature and ground-truth messages, each pair
// sharing a freshly minted correlation id.
package producer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/okian/driftwatch/internal/adapters/mq"
	"github.com/okian/driftwatch/internal/domain/codec"
	"github.com/okian/driftwatch/internal/domain/model"
	"github.com/okian/driftwatch/pkg/logger"
	"github.com/okian/driftwatch/pkg/metrics"
	"github.com/okian/driftwatch/pkg/retry"
)

// Default producer configuration constants.
const (
	defaultInterval         = 500 * time.Millisecond
	defaultFeaturesQueue    = "features"
	defaultGroundTruthQueue = "ground_truth"
)

// Source supplies observations to emit.
type Source interface {
	Sample() (features []float64, target float64)
}

// Producer samples observations on a fixed cadence and publishes each as a
// feature message and a ground-truth message. The two publishes are
// independent: each gets its own retry budget, and a pair where only one
// half made it out is left for the correlation store's orphan expiry rather
// than rolled back.
type Producer struct {
	source Source
	pub    mq.Publisher

	interval         time.Duration
	featuresQueue    string
	groundTruthQueue string
	retryCfg         retry.Config

	logger logger.Logger
}

// Option applies a configuration option to the Producer.
type Option func(*Producer)

// WithInterval sets the emission cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Producer) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithQueues sets the target queue names.
func WithQueues(features, groundTruth string) Option {
	return func(p *Producer) {
		if features != "" {
			p.featuresQueue = features
		}
		if groundTruth != "" {
			p.groundTruthQueue = groundTruth
		}
	}
}

// WithRetryConfig sets the per-publish retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Producer) {
		p.retryCfg = cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Producer) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a producer with configuration options.
func New(source Source, pub mq.Publisher, opts ...Option) *Producer {
	p := &Producer{
		source:           source,
		pub:              pub,
		interval:         defaultInterval,
		featuresQueue:    defaultFeaturesQueue,
		groundTruthQueue: defaultGroundTruthQueue,
		retryCfg:         retry.DefaultConfig(),
		logger:           logger.Get().Named("producer"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run emits observation pairs until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info(ctx, "producer started",
		logger.Duration("interval", p.interval),
		logger.String("features_queue", p.featuresQueue),
		logger.String("ground_truth_queue", p.groundTruthQueue),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info(ctx, "producer stopped")
			return ctx.Err()
		case <-ticker.C:
			p.emit(ctx)
		}
	}
}

// EmitOnce publishes a single observation pair. Exposed so callers can
// drive emission manually (tests, backfills).
func (p *Producer) EmitOnce(ctx context.Context) (string, error) {
	return p.emit(ctx)
}

func (p *Producer) emit(ctx context.Context) (string, error) {
	features, target := p.source.Sample()
	id := uuid.NewString()
	now := time.Now()

	featureMsg, err := codec.EncodeFeature(model.Feature{ID: id, Features: features, EmitTime: now})
	if err != nil {
		p.logger.Error(ctx, "encode feature failed", logger.String("id", id), logger.Error(err))
		return id, err
	}
	truthMsg, err := codec.EncodeGroundTruth(model.GroundTruth{ID: id, Value: target, EmitTime: now})
	if err != nil {
		p.logger.Error(ctx, "encode ground truth failed", logger.String("id", id), logger.Error(err))
		return id, err
	}

	// Publish the halves independently. A half that exhausts its retries is
	// logged and abandoned; its partner becomes an orphan downstream.
	var firstErr error
	if err := p.publish(ctx, p.featuresQueue, featureMsg); err != nil {
		p.logger.Error(ctx, "feature publish failed",
			logger.String("id", id),
			logger.String("queue", p.featuresQueue),
			logger.Error(err),
		)
		firstErr = err
	}
	if err := p.publish(ctx, p.groundTruthQueue, truthMsg); err != nil {
		p.logger.Error(ctx, "ground truth publish failed",
			logger.String("id", id),
			logger.String("queue", p.groundTruthQueue),
			logger.Error(err),
		)
		if firstErr == nil {
			firstErr = err
		}
	}

	return id, firstErr
}

func (p *Producer) publish(ctx context.Context, queue string, data []byte) error {
	err := retry.DoNotify(ctx, p.retryCfg, func() error {
		return p.pub.Publish(ctx, queue, data)
	}, func(attempt int, err error) {
		metrics.RecordPublishRetry()
		p.logger.Warn(ctx, "publish retry",
			logger.String("queue", queue),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
	})
	if err != nil {
		return err
	}
	metrics.RecordMessagePublished(queue)
	return nil
}
