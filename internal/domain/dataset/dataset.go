// Package dataset provides a deterministic synthetic regression source for
// the producer to replay.
//
// Rows and targets come from a seeded generator with known weights:
// target = intercept + weights · features + noise. The scorer's linear
// model can be built from the same weights, so prediction errors reflect
// the configured noise level and stay in a plausible range.
package dataset

import (
	"math/rand"
	"sync"
)

// Default generation constants.
const (
	defaultRows  = 442
	defaultDims  = 10
	defaultNoise = 0.5
)

// Source is a replayable dataset of observations. Sample picks a random row
// each call, mirroring a producer replaying a fixed corpus.
type Source struct {
	mu      sync.Mutex
	rng     *rand.Rand
	rows    [][]float64
	targets []float64

	weights   []float64
	intercept float64
}

// Option applies a configuration option to the Source.
type Option func(*config)

type config struct {
	rows  int
	dims  int
	noise float64
}

// WithRows sets the number of generated observations.
func WithRows(rows int) Option {
	return func(c *config) {
		if rows > 0 {
			c.rows = rows
		}
	}
}

// WithDims sets the feature vector dimension.
func WithDims(dims int) Option {
	return func(c *config) {
		if dims > 0 {
			c.dims = dims
		}
	}
}

// WithNoise sets the standard deviation of the target noise.
func WithNoise(noise float64) Option {
	return func(c *config) {
		if noise >= 0 {
			c.noise = noise
		}
	}
}

// New generates a dataset from the seed. The same seed always yields the
// same rows, targets, and weights.
func New(seed int64, opts ...Option) *Source {
	cfg := config{rows: defaultRows, dims: defaultDims, noise: defaultNoise}
	for _, opt := range opts {
		opt(&cfg)
	}

	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic replay source

	weights := make([]float64, cfg.dims)
	for i := range weights {
		weights[i] = rng.NormFloat64() * 10
	}
	intercept := rng.NormFloat64() * 50

	rows := make([][]float64, cfg.rows)
	targets := make([]float64, cfg.rows)
	for i := range rows {
		row := make([]float64, cfg.dims)
		target := intercept
		for j := range row {
			row[j] = rng.NormFloat64()
			target += weights[j] * row[j]
		}
		rows[i] = row
		targets[i] = target + rng.NormFloat64()*cfg.noise
	}

	return &Source{
		rng:       rng,
		rows:      rows,
		targets:   targets,
		weights:   weights,
		intercept: intercept,
	}
}

// Sample returns a random observation's feature vector and true target.
// The returned slice is shared; callers must not mutate it.
func (s *Source) Sample() ([]float64, float64) {
	s.mu.Lock()
	idx := s.rng.Intn(len(s.rows))
	s.mu.Unlock()
	return s.rows[idx], s.targets[idx]
}

// Len returns the number of observations.
func (s *Source) Len() int {
	return len(s.rows)
}

// Weights returns a copy of the generating weights.
func (s *Source) Weights() []float64 {
	w := make([]float64, len(s.weights))
	copy(w, s.weights)
	return w
}

// Intercept returns the generating intercept.
func (s *Source) Intercept() float64 {
	return s.intercept
}
