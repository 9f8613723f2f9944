// Package scorer consumes feature messages, runs the model over them, and
// publishes predictions carrying the same correlation id.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/driftwatch/internal/adapters/mq"
	"github.com/okian/driftwatch/internal/domain/codec"
	"github.com/okian/driftwatch/internal/domain/model"
	"github.com/okian/driftwatch/internal/domain/scoring"
	"github.com/okian/driftwatch/pkg/logger"
	"github.com/okian/driftwatch/pkg/metrics"
	"github.com/okian/driftwatch/pkg/retry"
)

// Default scorer configuration constants.
const (
	defaultFeaturesQueue    = "features"
	defaultPredictionsQueue = "predictions"
)

// Scorer is the pipeline's scoring stage. A feature message is acknowledged
// only after its prediction has been durably published; malformed or
// unscorable input is dropped as poison so one bad message cannot stall the
// queue.
type Scorer struct {
	consumer   mq.Consumer
	pub        mq.Publisher
	model      scoring.Model
	controller *mq.Controller

	featuresQueue    string
	predictionsQueue string
	retryCfg         retry.Config

	logger logger.Logger
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithQueues sets the input and output queue names.
func WithQueues(features, predictions string) Option {
	return func(s *Scorer) {
		if features != "" {
			s.featuresQueue = features
		}
		if predictions != "" {
			s.predictionsQueue = predictions
		}
	}
}

// WithRetryConfig sets the prediction publish retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *Scorer) {
		s.retryCfg = cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scorer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a scorer with configuration options.
func New(consumer mq.Consumer, pub mq.Publisher, m scoring.Model, controller *mq.Controller, opts ...Option) *Scorer {
	s := &Scorer{
		consumer:         consumer,
		pub:              pub,
		model:            m,
		controller:       controller,
		featuresQueue:    defaultFeaturesQueue,
		predictionsQueue: defaultPredictionsQueue,
		retryCfg:         retry.DefaultConfig(),
		logger:           logger.Get().Named("scorer"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run subscribes to the features queue. It returns once the subscription is
// established; deliveries continue until ctx is cancelled.
func (s *Scorer) Run(ctx context.Context) error {
	handler := s.controller.Wrap("scorer", s.process)
	if err := s.consumer.Consume(ctx, s.featuresQueue, handler); err != nil {
		return fmt.Errorf("consume %s: %w", s.featuresQueue, err)
	}

	s.logger.Info(ctx, "scorer started",
		logger.String("features_queue", s.featuresQueue),
		logger.String("predictions_queue", s.predictionsQueue),
	)
	return nil
}

func (s *Scorer) process(ctx context.Context, d *mq.Delivery) error {
	feature, err := codec.DecodeFeature(d.Data)
	if err != nil {
		metrics.RecordDecodeFailure(d.Queue)
		return mq.Drop(err)
	}

	start := time.Now()
	value, err := s.model.Predict(ctx, feature.Features)
	if err != nil {
		if errors.Is(err, scoring.ErrBadInput) {
			metrics.RecordScoringFailure()
			return mq.Drop(fmt.Errorf("score %s: %w", feature.ID, err))
		}
		return fmt.Errorf("score %s: %w", feature.ID, err)
	}
	metrics.RecordScoringLatency(float64(time.Since(start).Milliseconds()))

	msg, err := codec.EncodePrediction(model.Prediction{
		ID:        feature.ID,
		Value:     value,
		ScoreTime: time.Now(),
	})
	if err != nil {
		return mq.Drop(fmt.Errorf("encode prediction %s: %w", feature.ID, err))
	}

	// The ack for the feature message rides on this publish succeeding: if
	// the prediction cannot be handed off, the feature is redelivered.
	err = retry.DoNotify(ctx, s.retryCfg, func() error {
		return s.pub.Publish(ctx, s.predictionsQueue, msg)
	}, func(attempt int, err error) {
		metrics.RecordPublishRetry()
		s.logger.Warn(ctx, "prediction publish retry",
			logger.String("id", feature.ID),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
	})
	if err != nil {
		return fmt.Errorf("publish prediction %s: %w", feature.ID, err)
	}

	metrics.RecordMessagePublished(s.predictionsQueue)
	return nil
}
