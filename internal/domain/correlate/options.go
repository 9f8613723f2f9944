package correlate

import (
	"time"

	"github.com/okian/driftwatch/internal/domain/dedupe"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithCapacity caps the number of pending entries. When the cap is reached
// the oldest pending entry is forcibly expired.
func WithCapacity(capacity int) Option {
	return func(s *Store) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// WithTimeout sets how long an entry may wait for its other half.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithSweepInterval sets how often the janitor sweeps expired entries.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.sweepInterval = interval
		}
	}
}

// WithDeduper sets the completion window used to reject re-observation of
// already-completed ids.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Store) {
		if d != nil {
			s.completed = d
		}
	}
}
