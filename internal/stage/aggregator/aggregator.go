// Package aggregator consumes predictions and ground truth, joins them by
// correlation id, and records the resulting error metric.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/driftwatch/internal/adapters/mq"
	"github.com/okian/driftwatch/internal/domain/codec"
	"github.com/okian/driftwatch/internal/domain/correlate"
	"github.com/okian/driftwatch/internal/domain/metric"
	"github.com/okian/driftwatch/pkg/logger"
	"github.com/okian/driftwatch/pkg/metrics"
)

// Default aggregator configuration constants.
const (
	defaultPredictionsQueue = "predictions"
	defaultGroundTruthQueue = "ground_truth"
)

// Aggregator is the pipeline's joining stage. Each incoming half-record is
// observed into the correlation store; the half that completes a pair also
// drives the metric append, and is acknowledged only once the append is
// durable.
type Aggregator struct {
	consumer   mq.Consumer
	store      *correlate.Store
	engine     *metric.Engine
	controller *mq.Controller

	predictionsQueue string
	groundTruthQueue string

	logger logger.Logger
}

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithQueues sets the input queue names.
func WithQueues(predictions, groundTruth string) Option {
	return func(a *Aggregator) {
		if predictions != "" {
			a.predictionsQueue = predictions
		}
		if groundTruth != "" {
			a.groundTruthQueue = groundTruth
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an aggregator with configuration options.
func New(consumer mq.Consumer, store *correlate.Store, engine *metric.Engine, controller *mq.Controller, opts ...Option) *Aggregator {
	a := &Aggregator{
		consumer:         consumer,
		store:            store,
		engine:           engine,
		controller:       controller,
		predictionsQueue: defaultPredictionsQueue,
		groundTruthQueue: defaultGroundTruthQueue,
		logger:           logger.Get().Named("aggregator"),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Run subscribes to both input queues and starts the store's expiry
// janitor. It blocks until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	predictions := a.controller.Wrap("aggregator", a.processPrediction)
	if err := a.consumer.Consume(ctx, a.predictionsQueue, predictions); err != nil {
		return fmt.Errorf("consume %s: %w", a.predictionsQueue, err)
	}

	truths := a.controller.Wrap("aggregator", a.processGroundTruth)
	if err := a.consumer.Consume(ctx, a.groundTruthQueue, truths); err != nil {
		return fmt.Errorf("consume %s: %w", a.groundTruthQueue, err)
	}

	a.logger.Info(ctx, "aggregator started",
		logger.String("predictions_queue", a.predictionsQueue),
		logger.String("ground_truth_queue", a.groundTruthQueue),
	)

	a.store.Run(ctx)
	return ctx.Err()
}

func (a *Aggregator) processPrediction(ctx context.Context, d *mq.Delivery) error {
	pred, err := codec.DecodePrediction(d.Data)
	if err != nil {
		metrics.RecordDecodeFailure(d.Queue)
		return mq.Drop(err)
	}
	return a.observe(ctx, pred.ID, correlate.SlotPrediction, pred.Value, pred.ScoreTime)
}

func (a *Aggregator) processGroundTruth(ctx context.Context, d *mq.Delivery) error {
	truth, err := codec.DecodeGroundTruth(d.Data)
	if err != nil {
		metrics.RecordDecodeFailure(d.Queue)
		return mq.Drop(err)
	}
	return a.observe(ctx, truth.ID, correlate.SlotTruth, truth.Value, truth.EmitTime)
}

// observe feeds one half-record into the store and, on completion, records
// the metric. A failed append forgets the completion before requesting
// redelivery so the redelivered half can complete the pair again.
func (a *Aggregator) observe(ctx context.Context, id string, slot correlate.Slot, value float64, emitted time.Time) error {
	arrival := time.Now()
	res, err := a.store.Observe(ctx, id, slot, value, arrival)
	if err != nil {
		if errors.Is(err, correlate.ErrAlreadyCompleted) {
			// Redelivery of a half whose pair already produced a metric.
			// Acknowledge without recording a second one.
			a.logger.Debug(ctx, "duplicate completion",
				logger.String("id", id),
				logger.String("slot", slot.String()),
			)
			return nil
		}
		return mq.Drop(fmt.Errorf("observe %s: %w", id, err))
	}

	if !res.Completed {
		return nil
	}

	rec, err := a.engine.Record(ctx, id, res.TrueValue, res.PredictedValue)
	if err != nil {
		// Completion removed the pair from the store and its partner half
		// was acknowledged long ago. Undo the completion and put the
		// partner value back so the redelivered half can complete again.
		a.store.Forget(ctx, id)
		partnerSlot, partnerValue := correlate.SlotTruth, res.TrueValue
		if slot == correlate.SlotTruth {
			partnerSlot, partnerValue = correlate.SlotPrediction, res.PredictedValue
		}
		if _, obsErr := a.store.Observe(ctx, id, partnerSlot, partnerValue, res.FirstSeen); obsErr != nil {
			a.logger.Error(ctx, "restore partner half failed", logger.String("id", id), logger.Error(obsErr))
		}
		return err
	}

	a.logger.Debug(ctx, "metric recorded",
		logger.String("id", id),
		logger.Float64("error_value", rec.ErrorValue),
		logger.Duration("correlation_lag", arrival.Sub(emitted)),
	)
	return nil
}

// Stats exposes the correlation store's counters.
func (a *Aggregator) Stats() correlate.Stats {
	return a.store.Stats()
}
