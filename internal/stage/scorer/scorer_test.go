package scorer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/okian/driftwatch/internal/adapters/mq"
	"github.com/okian/driftwatch/internal/domain/codec"
	"github.com/okian/driftwatch/internal/domain/model"
	"github.com/okian/driftwatch/internal/domain/scoring"
	"github.com/okian/driftwatch/internal/stage/scorer"
	logging "github.com/okian/driftwatch/pkg/logger"
	"github.com/okian/driftwatch/pkg/retry"
)

// predictionSink collects decoded predictions off the output queue.
type predictionSink struct {
	mu    sync.Mutex
	preds []model.Prediction
}

func (s *predictionSink) consume(t *testing.T, ctx context.Context, b *mq.Memory, queue string) {
	t.Helper()
	err := b.Consume(ctx, queue, func(_ context.Context, d *mq.Delivery) {
		pred, err := codec.DecodePrediction(d.Data)
		if err != nil {
			t.Errorf("invalid prediction on wire: %v", err)
			_ = d.Ack()
			return
		}
		s.mu.Lock()
		s.preds = append(s.preds, pred)
		s.mu.Unlock()
		_ = d.Ack()
	})
	if err != nil {
		t.Fatalf("consume %s: %v", queue, err)
	}
}

func (s *predictionSink) snapshot() []model.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Prediction, len(s.preds))
	copy(out, s.preds)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met before timeout")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestScorer(b *mq.Memory, m scoring.Model) *scorer.Scorer {
	ctrl := mq.NewController(b,
		mq.WithDeadLetterQueue("dead_letter"),
		mq.WithMaxDeliveries(3),
	)
	return scorer.New(b, b, m, ctrl,
		scorer.WithRetryConfig(retry.Config{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		}),
	)
}

func TestScorer_PublishesPredictionForFeature(t *testing.T) {
	_ = logging.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := mq.NewMemory(mq.WithRedeliveryDelay(0))
	defer b.Close()

	m := scoring.NewLinearModel([]float64{1, 2}, 0.5)
	s := newTestScorer(b, m)
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	sink := &predictionSink{}
	sink.consume(t, ctx, b, "predictions")

	msg, err := codec.EncodeFeature(model.Feature{ID: "obs-1", Features: []float64{3, 4}, EmitTime: time.Now()})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := b.Publish(ctx, "features", msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(sink.snapshot()) == 1 })

	pred := sink.snapshot()[0]
	if pred.ID != "obs-1" {
		t.Errorf("expected id obs-1, got %q", pred.ID)
	}
	// 0.5 + 1*3 + 2*4
	if pred.Value != 11.5 {
		t.Errorf("expected prediction 11.5, got %v", pred.Value)
	}
	if pred.ScoreTime.IsZero() {
		t.Error("expected score time to be set")
	}
}

func TestScorer_MalformedMessageDoesNotBlockQueue(t *testing.T) {
	_ = logging.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := mq.NewMemory(mq.WithRedeliveryDelay(0))
	defer b.Close()

	s := newTestScorer(b, scoring.NewLinearModel([]float64{1}, 0))
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	sink := &predictionSink{}
	sink.consume(t, ctx, b, "predictions")

	if err := b.Publish(ctx, "features", []byte("not json at all")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	valid, err := codec.EncodeFeature(model.Feature{ID: "obs-2", Features: []float64{2}, EmitTime: time.Now()})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := b.Publish(ctx, "features", valid); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// The poison message is dropped; the valid one behind it still scores.
	waitFor(t, 2*time.Second, func() bool { return len(sink.snapshot()) == 1 })
	if got := sink.snapshot()[0].ID; got != "obs-2" {
		t.Errorf("expected obs-2, got %q", got)
	}

	time.Sleep(100 * time.Millisecond)
	if n := len(sink.snapshot()); n != 1 {
		t.Errorf("expected exactly 1 prediction, got %d", n)
	}
}

func TestScorer_DimensionMismatchIsDropped(t *testing.T) {
	_ = logging.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := mq.NewMemory(mq.WithRedeliveryDelay(0))
	defer b.Close()

	// Model expects 2 features.
	s := newTestScorer(b, scoring.NewLinearModel([]float64{1, 1}, 0))
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	sink := &predictionSink{}
	sink.consume(t, ctx, b, "predictions")

	bad, err := codec.EncodeFeature(model.Feature{ID: "bad-dims", Features: []float64{1, 2, 3}, EmitTime: time.Now()})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	good, err := codec.EncodeFeature(model.Feature{ID: "good-dims", Features: []float64{1, 2}, EmitTime: time.Now()})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := b.Publish(ctx, "features", bad); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := b.Publish(ctx, "features", good); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(sink.snapshot()) == 1 })
	if got := sink.snapshot()[0].ID; got != "good-dims" {
		t.Errorf("expected good-dims, got %q", got)
	}
}
