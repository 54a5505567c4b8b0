// Package hashring implements the consistent hash ring that routes a
// shuffled packet to one of a fixed set of destination partitions (spec
// §4.6 "Group routing"). It uses rendezvous (highest random weight)
// hashing rather than a virtual-node ring: group membership in Flock is
// fixed at partition time (spec §7 CONCURRENCY_8), so there is no need to
// pay a virtual-node ring's rebalancing cost for a set of nodes that never
// changes after a stage is deployed.
package hashring

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Ring assigns one of N equally-weighted destinations to each key with
// practically even distribution (HRW hashing). It is safe for concurrent
// use: the underlying rendezvous.State never mutates after construction.
type Ring struct {
	state *rendezvous.State
	names []string
}

func hashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// New builds a ring over names, in the order the caller provides them. The
// order matters only in that Index(key) returns a position into this same
// slice — callers that need GetByIndex semantics should keep names stable
// across calls.
func New(names []string) *Ring {
	cp := make([]string, len(names))
	copy(cp, names)
	return &Ring{
		state: rendezvous.New(cp, hashString),
		names: cp,
	}
}

// Get returns the destination name key hashes to.
func (r *Ring) Get(key string) string {
	return r.state.Get(key)
}

// Index returns the position of key's destination within the slice New
// was built from. Used by the dispatcher to pick the one destination
// instance for a non-shuffling Group delivery from its qid (spec §4.6).
func (r *Ring) Index(key string) int {
	dest := r.state.Get(key)
	for i, n := range r.names {
		if n == dest {
			return i
		}
	}
	return -1
}

// GetByIndex returns the destination at position i mod N in the ring's
// construction order — the inverse of Index (spec §4.2 `get_by_index`).
// Used for shuffle routing: partition i of a shuffling stage's output is
// dispatched to GetByIndex(base+i), where base is shared by every sibling
// via Base.
func (r *Ring) GetByIndex(i int) string {
	n := len(r.names)
	if n == 0 {
		return ""
	}
	idx := ((i % n) + n) % n
	return r.names[idx]
}

// Base derives the deterministic shuffle base index spec §4.2 requires:
// "derived from a deterministic, seeded random draw (seed fixed across a
// deployment so all siblings target the same base)". Every sibling
// invocation of a shuffling stage computes the same base because seed
// (the destination group's own prefix, identical for every sibling) and
// the ring's destination set are identical across the deployment.
func (r *Ring) Base(seed string) int {
	n := len(r.names)
	if n == 0 {
		return 0
	}
	return int(hashString(seed) % uint64(n))
}

// Size returns the number of destinations in the ring.
func (r *Ring) Size() int {
	return len(r.names)
}

// Names returns a copy of the ring's destination set, in construction order.
func (r *Ring) Names() []string {
	cp := make([]string, len(r.names))
	copy(cp, r.names)
	return cp
}
