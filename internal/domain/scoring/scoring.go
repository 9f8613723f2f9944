// Package scoring defines the contract for producing predictions from
// feature vectors.
package scoring

import (
	"context"
	"fmt"
)

// Model computes a prediction from a feature vector. Any concrete model
// implementing this capability is substitutable; the scorer stage receives
// one at construction and never depends on the implementation.
type Model interface {
	// Predict scores one feature vector, honoring ctx for cancellation.
	Predict(ctx context.Context, features []float64) (float64, error)
}

// LinearModel implements Model as a fixed-weight linear regression:
// prediction = intercept + weights · features.
type LinearModel struct {
	weights   []float64
	intercept float64
}

// NewLinearModel creates a linear model from its weights and intercept.
func NewLinearModel(weights []float64, intercept float64) *LinearModel {
	w := make([]float64, len(weights))
	copy(w, weights)
	return &LinearModel{weights: w, intercept: intercept}
}

// Predict computes the linear prediction. A feature vector whose dimension
// does not match the weights wraps ErrBadInput; the caller drops the
// message rather than retrying it.
func (m *LinearModel) Predict(ctx context.Context, features []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("predict cancelled: %w", err)
	}
	if len(features) != len(m.weights) {
		return 0, fmt.Errorf("%w: got %d features, model has %d weights",
			ErrBadInput, len(features), len(m.weights))
	}

	sum := m.intercept
	for i, f := range features {
		sum += m.weights[i] * f
	}
	return sum, nil
}
