package domain

// ExecutionContext is a stage's immutable deployment state (spec §3): its
// subplan, its deployed name, its successor descriptor, and the state
// backend it uses for fan-in recovery. Nothing in this repository
// serializes an ExecutionContext; the CLI builds each one in-process.
//
// ExecutionContext is immutable once constructed: the partitioner (C7)
// builds one per stage and never mutates it afterward.
type ExecutionContext struct {
	Subplan      Subplan
	Name         string
	Successor    Successor
	StateBackend StateBackendKind

	// PlanIndex is this stage's position in its query's stage list,
	// assigned by the partitioner (C7). It names the state backend's key
	// prefix for this stage's persisted partitions (spec §4.5).
	PlanIndex int

	// GroupIndex and GroupSize describe this stage's own position within
	// its sibling group, when it was deployed as one of several parallel
	// instances (spec §4.6 "Group routing"): GroupIndex is this
	// instance's position in [0, GroupSize), and GroupSize is the number
	// of sibling instances a downstream aggregator must wait for before
	// a window it feeds is complete. A singleton (non-grouped) stage has
	// GroupIndex 0 and GroupSize 1.
	GroupIndex int
	GroupSize  int
}

// StateBackendKind names which of the two closed state-backend variants
// (spec §9) a stage was deployed with. The concrete backend.Backend value
// is constructed from this kind at boot time, not carried in the
// serialized ExecutionContext itself.
type StateBackendKind string

const (
	StateBackendInMemory    StateBackendKind = "memory"
	StateBackendObjectStore StateBackendKind = "object_store"
)

// IsAggregator reports whether this stage must rendezvous all shards of an
// upstream window before producing output (spec §3: a name with two
// dashes designates an aggregator).
func (ec ExecutionContext) IsAggregator() bool {
	return IsAggregatorName(ec.Name)
}
