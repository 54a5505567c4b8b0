package statebackend

import (
	"context"
	"testing"
)

func TestMemoryBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory()
	key := Key{QID: "q1", PlanIndex: 0, ShuffleID: 2, SeqNum: 5}

	if err := b.Write(ctx, key, []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := b.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}
}

func TestMemoryBackendReadMissingKey(t *testing.T) {
	b := NewInMemory()
	if _, err := b.Read(context.Background(), Key{QID: "q1"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryBackendReadAllScopesByQID(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory()
	k1 := Key{QID: "q1", PlanIndex: 0, ShuffleID: 0, SeqNum: 0}
	k2 := Key{QID: "q1", PlanIndex: 0, ShuffleID: 0, SeqNum: 1}
	k3 := Key{QID: "q2", PlanIndex: 0, ShuffleID: 0, SeqNum: 0}

	b.Write(ctx, k1, []byte("a"))
	b.Write(ctx, k2, []byte("b"))
	b.Write(ctx, k3, []byte("c"))

	all, err := b.ReadAll(ctx, "q1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 keys under q1, got %d", len(all))
	}
	if _, ok := all[k3]; ok {
		t.Fatal("ReadAll(q1) must not return keys from q2")
	}
}

func TestObjectKeyLayout(t *testing.T) {
	k := Key{QID: "ignored", PlanIndex: 3, ShuffleID: 7, SeqNum: 42}
	if got, want := objectKey(k), "03/07/42"; got != want {
		t.Fatalf("objectKey = %q, want %q", got, want)
	}
}

func TestParseObjectKeyRoundTrip(t *testing.T) {
	k := Key{QID: "q1", PlanIndex: 3, ShuffleID: 7, SeqNum: 42}
	parsed, ok := parseObjectKey("q1", objectKey(k))
	if !ok {
		t.Fatal("expected parseObjectKey to succeed")
	}
	if parsed != k {
		t.Fatalf("parseObjectKey round trip: got %+v, want %+v", parsed, k)
	}
}
