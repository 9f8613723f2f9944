// Package correlate joins independently-arriving prediction and ground-truth
// halves by their shared identifier within a bounded time window.
package correlate

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/driftwatch/internal/domain/dedupe"
	"github.com/okian/driftwatch/pkg/metrics"
)

// Default store configuration constants.
const (
	defaultTimeout       = 60 * time.Second
	defaultCapacity      = 10000
	defaultDedupeWindow  = 50000
	defaultSweepInterval = 5 * time.Second
)

// Slot names the half-record being observed.
type Slot int

// Observable slots.
const (
	SlotTruth Slot = iota
	SlotPrediction
)

// String returns the string representation of Slot.
func (s Slot) String() string {
	switch s {
	case SlotTruth:
		return "true_value"
	case SlotPrediction:
		return "predicted_value"
	default:
		return "unknown"
	}
}

// Result reports the outcome of an Observe call. When Completed is true both
// values are set and the entry has been removed from the store.
type Result struct {
	Completed      bool
	TrueValue      float64
	PredictedValue float64
	FirstSeen      time.Time
}

// Stats is a snapshot of store counters for monitoring.
type Stats struct {
	Pending    int
	Completed  uint64
	Orphaned   uint64
	Duplicates uint64
}

// entry is one pending correlation. Owned exclusively by the store; mutated
// under the store lock as halves arrive.
type entry struct {
	id        string
	hasTruth  bool
	truth     float64
	hasPred   bool
	pred      float64
	firstSeen time.Time
	elem      *list.Element
}

// Store is a bounded, time-aware join buffer. A single mutex serializes all
// same-id mutation, so two halves arriving simultaneously cannot lose an
// update. Eviction is oldest-first, both on expiry and at capacity.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // *entry, oldest at front

	capacity      int
	timeout       time.Duration
	sweepInterval time.Duration
	completed     dedupe.Deduper

	completedCount atomic.Uint64
	orphanedCount  atomic.Uint64
	duplicateCount atomic.Uint64
}

// NewStore creates a correlation store with configuration options.
func NewStore(opts ...Option) *Store {
	s := &Store{
		capacity:      defaultCapacity,
		timeout:       defaultTimeout,
		sweepInterval: defaultSweepInterval,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.completed == nil {
		s.completed = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(defaultDedupeWindow))
	}
	s.entries = make(map[string]*entry)
	s.order = list.New()

	return s
}

// Observe records value into the named slot of the entry for id, creating the
// entry if absent. Arrival order of the two slots does not matter. When the
// entry now has both slots filled it is removed and the completed pair is
// returned. An id that already completed within the dedupe window yields
// ErrAlreadyCompleted so redeliveries cannot double-count.
func (s *Store) Observe(ctx context.Context, id string, slot Slot, value float64, arrival time.Time) (Result, error) {
	if id == "" {
		return Result{}, ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(time.Now())

	e, ok := s.entries[id]
	if !ok {
		if s.completed.Seen(ctx, id) {
			s.duplicateCount.Add(1)
			metrics.RecordDuplicateCompletion()
			return Result{}, ErrAlreadyCompleted
		}
		if len(s.entries) >= s.capacity {
			// Forced eviction of the oldest pending entry keeps memory
			// bounded under sustained producer/consumer skew.
			s.evictLocked(s.order.Front().Value.(*entry))
		}
		e = &entry{id: id, firstSeen: arrival}
		e.elem = s.order.PushBack(e)
		s.entries[id] = e
	}

	switch slot {
	case SlotTruth:
		e.truth = value
		e.hasTruth = true
	case SlotPrediction:
		e.pred = value
		e.hasPred = true
	default:
		return Result{}, ErrUnknownSlot
	}

	if !(e.hasTruth && e.hasPred) {
		metrics.UpdatePendingCorrelations(len(s.entries))
		return Result{FirstSeen: e.firstSeen}, nil
	}

	delete(s.entries, id)
	s.order.Remove(e.elem)
	s.completed.SeenAndRecord(ctx, id)
	s.completedCount.Add(1)
	metrics.RecordCorrelationCompleted()
	metrics.UpdatePendingCorrelations(len(s.entries))

	return Result{
		Completed:      true,
		TrueValue:      e.truth,
		PredictedValue: e.pred,
		FirstSeen:      e.firstSeen,
	}, nil
}

// Forget removes id from the completion window so a redelivered half can
// complete again. Used when the work that followed completion failed and the
// triggering message will be redelivered.
func (s *Store) Forget(ctx context.Context, id string) {
	s.completed.Unrecord(ctx, id)
}

// Run sweeps expired entries until ctx is cancelled. Expiry also happens
// lazily on Observe; the janitor only matters for idle streams.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.sweepLocked(time.Now())
			metrics.UpdatePendingCorrelations(len(s.entries))
			s.mu.Unlock()
		}
	}
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	pending := len(s.entries)
	s.mu.Unlock()

	return Stats{
		Pending:    pending,
		Completed:  s.completedCount.Load(),
		Orphaned:   s.orphanedCount.Load(),
		Duplicates: s.duplicateCount.Load(),
	}
}

// sweepLocked evicts entries older than the timeout. Must be called with
// s.mu held.
func (s *Store) sweepLocked(now time.Time) {
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.firstSeen) <= s.timeout {
			break
		}
		s.evictLocked(e)
	}
}

// evictLocked removes a pending entry without completion. Must be called
// with s.mu held.
func (s *Store) evictLocked(e *entry) {
	delete(s.entries, e.id)
	s.order.Remove(e.elem)
	s.orphanedCount.Add(1)
	metrics.RecordCorrelationOrphaned()
}
