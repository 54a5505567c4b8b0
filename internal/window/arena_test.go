package window

import (
	"testing"
	"time"

	"github.com/flocksql/flock/internal/domain"
)

func TestWindowCompletesWhenAllPartitionsArrive(t *testing.T) {
	a := NewArena(time.Minute)
	id := domain.WindowID{QID: "q1", ShuffleID: 0}

	for i := 0; i < 3; i++ {
		u := domain.UUID{QID: "q1", SeqNum: i, SeqLen: 3}
		if a.IsComplete(id) {
			t.Fatalf("window reported complete before all 3 partitions arrived (i=%d)", i)
		}
		if _, ok := a.Collect(id, u, nil); !ok {
			t.Fatalf("Collect rejected a fresh delivery at seq_num=%d", i)
		}
	}

	if !a.IsComplete(id) {
		t.Fatal("expected window to be complete after 3/3 partitions arrived")
	}

	parts, ok := a.Take(id)
	if !ok {
		t.Fatal("Take failed on a complete window")
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(parts))
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	a := NewArena(time.Minute)
	id := domain.WindowID{QID: "q2", ShuffleID: 0}
	u := domain.UUID{QID: "q2", SeqNum: 0, SeqLen: 1}

	if _, ok := a.Collect(id, u, nil); !ok {
		t.Fatal("first Collect should succeed")
	}
	if !a.IsComplete(id) {
		t.Fatal("window of length 1 should complete on its single arrival")
	}
	if _, ok := a.Take(id); !ok {
		t.Fatal("Take should succeed once")
	}

	// A retried delivery for an already-processed window must be a no-op.
	if _, ok := a.Collect(id, u, nil); ok {
		t.Fatal("expected Collect to reject delivery to an already-processed window")
	}
}

func TestCollectToSameBitTwiceIsNotDoubleCounted(t *testing.T) {
	a := NewArena(time.Minute)
	id := domain.WindowID{QID: "q3", ShuffleID: 0}
	u := domain.UUID{QID: "q3", SeqNum: 0, SeqLen: 2}

	if _, ok := a.Collect(id, u, nil); !ok {
		t.Fatal("first Collect should succeed")
	}
	if a.IsComplete(id) {
		t.Fatal("window of length 2 should not be complete after 1 arrival")
	}
	// Redeliver the same seq_num (e.g. an at-least-once retry upstream).
	bm, ok := a.Collect(id, u, nil)
	if !ok {
		t.Fatal("redelivery of an in-flight window's partition should not be rejected")
	}
	if bm.All() {
		t.Fatal("redelivering the same partition must not complete a 2-partition window")
	}
}

func TestDistinctShuffleIDsAreDistinctWindows(t *testing.T) {
	a := NewArena(time.Minute)
	idA := domain.WindowID{QID: "q4", ShuffleID: 1}
	idB := domain.WindowID{QID: "q4", ShuffleID: 2}
	u := domain.UUID{QID: "q4", SeqNum: 0, SeqLen: 1}

	a.Collect(idA, u, nil)
	if !a.IsComplete(idA) {
		t.Fatal("window A should be complete")
	}
	if a.IsComplete(idB) {
		t.Fatal("window B must not be affected by deliveries to window A")
	}
}

func TestNegativeSeqNumPlaceholderFillsItsOwnBit(t *testing.T) {
	a := NewArena(time.Minute)
	id := domain.WindowID{QID: "q5", ShuffleID: 0}

	a.Collect(id, domain.UUID{QID: "q5", SeqNum: 0, SeqLen: 2}, nil)
	a.Collect(id, domain.UUID{QID: "q5", SeqNum: -2, SeqLen: 2}, nil) // placeholder for index 1

	if !a.IsComplete(id) {
		t.Fatal("expected placeholder seq_num to fill the missing partition's bit")
	}
}

func TestAbandonedReportsStaleIncompleteWindows(t *testing.T) {
	a := NewArena(time.Millisecond)
	id := domain.WindowID{QID: "q6", ShuffleID: 0}
	a.Collect(id, domain.UUID{QID: "q6", SeqNum: 0, SeqLen: 2}, nil)

	time.Sleep(5 * time.Millisecond)

	stale := a.Abandoned()
	if len(stale) != 1 || stale[0] != id {
		t.Fatalf("expected [%v] to be reported abandoned, got %v", id, stale)
	}
}
