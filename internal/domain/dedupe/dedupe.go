// Package dedupe provides a bounded seen-id window for idempotency tracking.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 50000

// Deduper records seen ids so redelivered messages are not processed twice.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Seen reports whether id is in the window without recording it.
	Seen(ctx context.Context, id string) bool

	// Unrecord removes an id from the seen window, allowing it to be
	// observed again. Used when recording succeeded but the work that
	// depended on it failed and will be redelivered.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper implements Deduper with a map plus a FIFO ring of ids.
// When the window is full the oldest recorded id is forgotten, which keeps
// memory bounded: a message redelivered after its id aged out of the window
// is indistinguishable from a new one, so the window must be sized well
// above the broker's redelivery horizon.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	ring    []string
	head    int
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]struct{}, d.maxSize)
	d.ring = make([]string, 0, d.maxSize)

	return d
}

// SeenAndRecord atomically checks if id was seen and records it if not.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	if len(d.ring) < d.maxSize {
		d.ring = append(d.ring, id)
	} else {
		// Window full: overwrite the oldest slot.
		old := d.ring[d.head]
		if old != "" {
			delete(d.seen, old)
			d.size.Add(-1)
		}
		d.ring[d.head] = id
		d.head = (d.head + 1) % d.maxSize
	}
	d.seen[id] = struct{}{}
	d.size.Add(1)
	return false
}

// Seen reports whether id is in the window without recording it.
func (d *inMemoryDeduper) Seen(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// Unrecord removes an id from the seen window.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; !ok {
		return
	}
	delete(d.seen, id)
	d.size.Add(-1)
	// The ring slot keeps the stale id until it is overwritten; lookups go
	// through the map so this is safe, the slot just expires one id early.
	for i := range d.ring {
		if d.ring[i] == id {
			d.ring[i] = ""
			break
		}
	}
}

// Size returns the current number of ids in the window.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
