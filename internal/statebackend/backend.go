// Package statebackend implements the two durable-state variants a stage
// can be deployed with (C5, spec §4.5): an in-process memory backend for
// single-invocation testing and low-latency demos, and an object-store
// backend (S3) that survives past a single function's lifetime so a
// fan-in aggregator can recover partitions written by sibling invocations
// it never shared memory with.
//
// The interface and namespacing style is ported from this repository's
// per-function state store (internal/statefn, now retired): a narrow
// verb set (Get/Put/Delete scoped by an isolation key) generalized here
// to the key layout a windowed aggregator actually needs.
package statebackend

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested key has no stored value.
var ErrNotFound = errors.New("statebackend: key not found")

// Backend is the closed set of durable-state variants a stage may be
// deployed with (spec §9). There are exactly two concrete
// implementations, constructed by NewInMemory and NewObjectStore; callers
// must not define additional ones.
type Backend interface {
	// Write persists raw at key. Flock's state backend is write-once per
	// key (a given (plan-index, shuffle-id, seq_num) triple is written by
	// exactly one invocation), so Write does not need to express
	// overwrite semantics.
	Write(ctx context.Context, key Key, raw []byte) error

	// Read retrieves the value written at key, or ErrNotFound.
	Read(ctx context.Context, key Key) ([]byte, error)

	// ReadAll retrieves every key currently stored under qid, keyed by
	// their Key — the bulk read an aggregator issues when recovering a
	// window it did not fully collect in memory (spec §4.6 step 1).
	ReadAll(ctx context.Context, qid string) (map[Key][]byte, error)

	isBackend() // closed sum type marker
}

// Key identifies one persisted partition within a query instance (spec
// §4.5): PlanIndex and ShuffleID name the stage and shuffle destination,
// SeqNum is the partition's position in its window.
type Key struct {
	QID       string
	PlanIndex int
	ShuffleID int
	SeqNum    int
}

// objectKey renders a Key in the "<plan-index:02>/<shuffle-id:02>/<seq_num>"
// layout spec §4.5 specifies, with the qid as the enclosing bucket/prefix.
func objectKey(k Key) string {
	return fmt.Sprintf("%02d/%02d/%d", k.PlanIndex, k.ShuffleID, k.SeqNum)
}
