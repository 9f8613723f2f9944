// Package metric computes per-record error values from correlated pairs and
// appends them to the durable metric log.
package metric

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/driftwatch/internal/domain/model"
	"github.com/okian/driftwatch/pkg/metrics"
)

// ErrorFunc computes an error value from a true/predicted pair.
type ErrorFunc func(trueValue, predictedValue float64) float64

// Absolute returns |true - predicted|.
func Absolute(trueValue, predictedValue float64) float64 {
	return math.Abs(trueValue - predictedValue)
}

// Squared returns (true - predicted)^2.
func Squared(trueValue, predictedValue float64) float64 {
	d := trueValue - predictedValue
	return d * d
}

// FuncByName resolves a configured error function name.
func FuncByName(name string) (ErrorFunc, error) {
	switch name {
	case "", "absolute":
		return Absolute, nil
	case "squared":
		return Squared, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunc, name)
	}
}

// Appender persists metric records in arrival order.
type Appender interface {
	Append(ctx context.Context, rec model.MetricRecord) error
}

// Engine ties the configured error function to the metric log.
type Engine struct {
	errFn ErrorFunc
	log   Appender
}

// NewEngine creates a metric engine. A nil error function defaults to
// Absolute.
func NewEngine(errFn ErrorFunc, log Appender) *Engine {
	if errFn == nil {
		errFn = Absolute
	}
	return &Engine{errFn: errFn, log: log}
}

// Compute returns the configured error value for a pair.
func (e *Engine) Compute(trueValue, predictedValue float64) float64 {
	return e.errFn(trueValue, predictedValue)
}

// Record computes the error for a completed correlation, stamps the record,
// and appends it to the log. An append failure is returned so the caller
// can refuse to acknowledge the triggering message; the computed metric must
// not be silently lost.
func (e *Engine) Record(ctx context.Context, id string, trueValue, predictedValue float64) (model.MetricRecord, error) {
	rec := model.MetricRecord{
		ID:             id,
		TrueValue:      trueValue,
		PredictedValue: predictedValue,
		ErrorValue:     e.errFn(trueValue, predictedValue),
		ComputedTime:   time.Now(),
	}

	start := time.Now()
	if err := e.log.Append(ctx, rec); err != nil {
		metrics.RecordAppendFailure()
		return model.MetricRecord{}, fmt.Errorf("append metric for %s: %w", id, err)
	}
	metrics.RecordAppendLatency(float64(time.Since(start).Milliseconds()))

	return rec, nil
}
