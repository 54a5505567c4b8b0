// Package window implements the per-aggregator fan-in arena (C4, spec
// §4.4): it absorbs packets belonging to the same window, tracks which
// partitions have arrived via a bitmap, and reports when a window is
// Ready to execute. Its mutex-guarded single-owned map shape is ported
// from this repository's checkpoint store (internal/checkpoint, now
// retired), generalized from a TTL-evicted request cache into a
// count-complete rendezvous arena.
package window

import (
	"sync"
	"time"

	"github.com/flocksql/flock/internal/domain"
	"github.com/flocksql/flock/internal/metrics"
)

// entry holds one in-flight window's absorbed state.
type entry struct {
	bitmap     *domain.Bitmap
	partitions [][]domain.Batch
	createdAt  time.Time
}

// Arena collects packets addressed to the same WindowID until every
// expected partition has arrived (spec §4.4 steps 1-6). One Arena is
// owned by exactly one aggregator stage's running instance; it holds no
// cross-stage state.
//
// # Concurrency
//
// Arena is safe for concurrent use. Multiple invocations of the same
// aggregator may race to Collect into the same window; the mutex
// serializes bitmap updates so no arrival is lost, matching spec §4.4's
// requirement that concurrent deliveries to the same window are safe.
//
// # Idempotency
//
// processed remembers every WindowID this arena has ever completed, so a
// retried delivery after a window has already fired is a no-op rather
// than a duplicate execution (spec §4.4 step 7, §7 idempotent delivery).
type Arena struct {
	mu        sync.Mutex
	windows   map[domain.WindowID]*entry
	processed map[domain.WindowID]struct{}
	ttl       time.Duration
}

// NewArena constructs an empty arena. ttl bounds how long an incomplete
// window is retained before GC considers it abandoned (spec §4.4 "a
// window that never completes is abandoned after its TTL").
func NewArena(ttl time.Duration) *Arena {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Arena{
		windows:   make(map[domain.WindowID]*entry),
		processed: make(map[domain.WindowID]struct{}),
		ttl:       ttl,
	}
}

// Collect absorbs one packet's batches into its window, returning the
// window's bitmap after the absorption. If the window has already been
// Take-n (completed and removed) or appears in processed, Collect reports
// ok=false and does no work — the idempotency guard for a retried or
// duplicate invocation (spec §4.4 step 7).
func (a *Arena) Collect(id domain.WindowID, u domain.UUID, batches []domain.Batch) (bitmap *domain.Bitmap, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.processed[id]; done {
		return nil, false
	}

	e, exists := a.windows[id]
	if !exists {
		e = &entry{
			bitmap:     domain.NewBitmap(u.SeqLen),
			partitions: make([][]domain.Batch, u.SeqLen),
			createdAt:  time.Now(),
		}
		a.windows[id] = e
	}

	bit := domain.BitIndexForSeqNum(u.SeqNum)
	if e.bitmap.Test(bit) {
		// Already absorbed this partition; treat as a duplicate delivery.
		return e.bitmap.Clone(), true
	}
	e.bitmap.Set(bit)
	if bit >= 0 && bit < len(e.partitions) {
		e.partitions[bit] = batches
	}
	return e.bitmap.Clone(), true
}

// IsComplete reports whether id's bitmap has every expected bit set.
func (a *Arena) IsComplete(id domain.WindowID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.windows[id]
	if !ok {
		return false
	}
	return e.bitmap.All()
}

// Take removes a completed window from the arena and returns its
// partitions in seq_num order, marking the window processed so any later
// duplicate delivery is rejected by Collect. Take must only be called
// once a caller has observed IsComplete(id) == true.
func (a *Arena) Take(id domain.WindowID) ([][]domain.Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.windows[id]
	if !ok || !e.bitmap.All() {
		return nil, false
	}
	delete(a.windows, id)
	a.processed[id] = struct{}{}
	metrics.Global().RecordWindowCompleted()
	return e.partitions, true
}

// GetBitmap returns a snapshot of id's current bitmap, or nil if no
// packet for that window has arrived yet. Used by the dispatcher to
// compute the Gaps() mask for the state backend's object-store fallback
// query (spec §4.5, §4.6 step 1).
func (a *Arena) GetBitmap(id domain.WindowID) *domain.Bitmap {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.windows[id]
	if !ok {
		return nil
	}
	return e.bitmap.Clone()
}

// Abandoned returns every window id older than the arena's ttl that has
// not completed, for the caller to log or alert on (spec §4.4: an
// abandoned window is a stuck query, not a correctness violation).
func (a *Arena) Abandoned() []domain.WindowID {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-a.ttl)
	var out []domain.WindowID
	for id, e := range a.windows {
		if e.createdAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Evict removes an abandoned window without marking it processed, so a
// very late arrival is still absorbed into a fresh window rather than
// silently dropped.
func (a *Arena) Evict(id domain.WindowID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.windows, id)
	metrics.Global().RecordWindowAbandoned()
}
