// Package service assembles the pipeline stages around a shared broker and
// runs them for the configured roles.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/driftwatch/internal/adapters/metriclog"
	"github.com/okian/driftwatch/internal/adapters/mq"
	"github.com/okian/driftwatch/internal/config"
	"github.com/okian/driftwatch/internal/domain/correlate"
	"github.com/okian/driftwatch/internal/domain/dataset"
	"github.com/okian/driftwatch/internal/domain/dedupe"
	"github.com/okian/driftwatch/internal/domain/metric"
	"github.com/okian/driftwatch/internal/domain/scoring"
	"github.com/okian/driftwatch/internal/stage/aggregator"
	"github.com/okian/driftwatch/internal/stage/producer"
	"github.com/okian/driftwatch/internal/stage/scorer"
	"github.com/okian/driftwatch/pkg/logger"
	"github.com/okian/driftwatch/pkg/retry"
)

// Roles selects which stages this process runs. A single process may run
// any subset; the run command enables all three.
type Roles struct {
	Produce   bool
	Score     bool
	Aggregate bool
}

// Any reports whether at least one role is enabled.
func (r Roles) Any() bool {
	return r.Produce || r.Score || r.Aggregate
}

// Service owns the broker connection and the stages running in this
// process.
type Service struct {
	mu sync.Mutex

	cfg   *config.Config
	roles Roles

	broker    mq.Broker
	metricLog *metriclog.Log
	agg       *aggregator.Aggregator

	cancel context.CancelFunc
	group  *errgroup.Group

	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithRoles selects the stages to run.
func WithRoles(r Roles) Option {
	return func(s *Service) {
		s.roles = r
	}
}

// WithBroker injects a broker, bypassing the provider selection in config.
// Used by tests and embedded runs.
func WithBroker(b mq.Broker) Option {
	return func(s *Service) {
		if b != nil {
			s.broker = b
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service for cfg. Nothing connects or runs until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:   cfg,
		roles: Roles{Produce: true, Score: true, Aggregate: true},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start connects the broker, builds the enabled stages, and launches them.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if !s.roles.Any() {
		return fmt.Errorf("%w: no roles enabled", ErrStart)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	group, runCtx := errgroup.WithContext(runCtx)
	s.group = group

	if s.broker == nil {
		broker, err := s.connectBroker(ctx)
		if err != nil {
			cancel()
			return err
		}
		s.broker = broker
	}

	// Producer and scorer must agree on the dataset seed so the model's
	// weights match the generator's.
	source := dataset.New(s.cfg.DatasetSeed,
		dataset.WithRows(s.cfg.DatasetRows),
		dataset.WithDims(s.cfg.DatasetDims),
		dataset.WithNoise(s.cfg.DatasetNoise),
	)

	publishRetry := retry.DefaultConfig()
	if s.cfg.PublishRetryAttempts > 0 {
		publishRetry.MaxAttempts = s.cfg.PublishRetryAttempts
	}

	if s.roles.Produce {
		prod := producer.New(source, s.broker,
			producer.WithInterval(s.cfg.ProduceInterval()),
			producer.WithQueues(s.cfg.FeaturesQueue, s.cfg.GroundTruthQueue),
			producer.WithRetryConfig(publishRetry),
		)
		group.Go(func() error {
			if err := prod.Run(runCtx); err != nil && runCtx.Err() == nil {
				return fmt.Errorf("producer: %w", err)
			}
			return nil
		})
	}

	if s.roles.Score {
		model := scoring.NewLinearModel(source.Weights(), source.Intercept())
		ctrl := mq.NewController(s.broker,
			mq.WithDeadLetterQueue(s.cfg.DeadLetterQueue),
			mq.WithMaxDeliveries(s.cfg.MaxDeliveries),
		)
		sc := scorer.New(s.broker, s.broker, model, ctrl,
			scorer.WithQueues(s.cfg.FeaturesQueue, s.cfg.PredictionsQueue),
			scorer.WithRetryConfig(publishRetry),
		)
		if err := sc.Run(runCtx); err != nil {
			cancel()
			return fmt.Errorf("%w: %v", ErrStart, err)
		}
	}

	if s.roles.Aggregate {
		metricLog, err := metriclog.Open(s.cfg.MetricLogPath)
		if err != nil {
			cancel()
			return fmt.Errorf("%w: %v", ErrStart, err)
		}
		s.metricLog = metricLog

		errFn, err := metric.FuncByName(s.cfg.ErrorFunction)
		if err != nil {
			cancel()
			return fmt.Errorf("%w: %v", ErrStart, err)
		}

		store := correlate.NewStore(
			correlate.WithCapacity(s.cfg.CorrelationCapacity),
			correlate.WithTimeout(s.cfg.CorrelationTimeout()),
			correlate.WithSweepInterval(s.cfg.SweepInterval()),
			correlate.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))),
		)
		ctrl := mq.NewController(s.broker,
			mq.WithDeadLetterQueue(s.cfg.DeadLetterQueue),
			mq.WithMaxDeliveries(s.cfg.MaxDeliveries),
		)
		agg := aggregator.New(s.broker, store, metric.NewEngine(errFn, metricLog), ctrl,
			aggregator.WithQueues(s.cfg.PredictionsQueue, s.cfg.GroundTruthQueue),
		)
		s.agg = agg
		group.Go(func() error {
			if err := agg.Run(runCtx); err != nil && runCtx.Err() == nil {
				return fmt.Errorf("aggregator: %w", err)
			}
			return nil
		})
	}

	s.started = true
	s.logger.Info(ctx, "pipeline service started",
		logger.String("broker", s.cfg.BrokerProvider),
		logger.String("roles", fmt.Sprintf("produce=%t score=%t aggregate=%t",
			s.roles.Produce, s.roles.Score, s.roles.Aggregate)),
	)

	return nil
}

// connectBroker builds the broker named by the configuration, provisioning
// the pipeline's queues on JetStream.
func (s *Service) connectBroker(ctx context.Context) (mq.Broker, error) {
	switch s.cfg.BrokerProvider {
	case config.BrokerMemory:
		return mq.NewMemory(), nil

	case config.BrokerNATS:
		client, err := mq.Connect(ctx, s.cfg.BrokerURL, mq.WithPrefetch(s.cfg.Prefetch))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStart, err)
		}
		for _, queue := range []string{
			s.cfg.FeaturesQueue,
			s.cfg.GroundTruthQueue,
			s.cfg.PredictionsQueue,
			s.cfg.DeadLetterQueue,
		} {
			if err := client.EnsureQueue(ctx, queue); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("%w: %v", ErrStart, err)
			}
		}
		return client, nil

	default:
		return nil, fmt.Errorf("%w: unknown broker provider %q", ErrStart, s.cfg.BrokerProvider)
	}
}

// Stop cancels the stages and waits for them within the configured
// shutdown timeout, then releases the broker and the metric log.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping pipeline service...")

	s.cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.group.Wait()
	}()
	select {
	case err := <-done:
		if err != nil {
			s.logger.Error(ctx, "stage exited with error", logger.Error(err))
		}
	case <-time.After(s.cfg.ShutdownTimeout()):
		s.logger.Warn(ctx, "shutdown timeout exceeded; abandoning stages")
	}

	if s.metricLog != nil {
		if err := s.metricLog.Close(); err != nil {
			s.logger.Error(ctx, "metric log close failed", logger.Error(err))
		}
	}
	if err := s.broker.Close(); err != nil {
		s.logger.Error(ctx, "broker close failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "pipeline service stopped")
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]interface{}{
		"started":   s.started,
		"produce":   s.roles.Produce,
		"score":     s.roles.Score,
		"aggregate": s.roles.Aggregate,
	}

	if s.started && s.agg != nil {
		cs := s.agg.Stats()
		stats["pending_correlations"] = cs.Pending
		stats["completed"] = cs.Completed
		stats["orphaned"] = cs.Orphaned
		stats["duplicates"] = cs.Duplicates
	}

	if s.started {
		ctx := context.Background()
		depths := map[string]int{}
		for _, queue := range []string{s.cfg.FeaturesQueue, s.cfg.GroundTruthQueue, s.cfg.PredictionsQueue} {
			if d, err := s.broker.Depth(ctx, queue); err == nil {
				depths[queue] = d
			}
		}
		stats["queue_depths"] = depths
	}

	return stats
}
