package domain

import "context"

// Subplan is the materialized physical subplan a stage executes (spec §3
// "CloudExecutionPlan"). The physical planner itself is out of core scope
// (spec §1); Subplan is the abstract contract the core depends on instead.
//
// A Subplan may be held inline (carried in the function's boot environment)
// or fetched lazily from object storage on cold start — PlanLoader models
// the latter.
type Subplan interface {
	// Leaves returns this subplan's data-source leaves in a stable,
	// deterministic order (spec §4.3 "breadth-first" traversal starts here).
	Leaves() []Leaf

	// Roots returns this subplan's root operators; each is executed
	// independently and its output partitioned (spec §4.3 "execute()
	// runs each root plan").
	Roots() []Root

	// IsShuffling reports whether this subplan's output must preserve
	// partition boundaries because its top operator is a coalesce-batches
	// operator over repartitioning children (spec §4.3).
	IsShuffling() bool
}

// Leaf is one data-source leaf of a subplan: a point where an incoming
// partition set is attached before execution (spec §4.3).
type Leaf interface {
	// Schema is this leaf's declared schema, used for the order-insensitive
	// field-name subset match against incoming partitions.
	Schema() Schema

	// Bind attaches the given batches as this leaf's input for the next
	// Execute call.
	Bind(batches []Batch)

	// Clear resets this leaf to an empty batch of its declared schema
	// (spec §4.3 "clean_data_sources").
	Clear()
}

// Root is one root operator of a subplan, executable to a partitioned
// output (spec §4.3).
type Root interface {
	// Execute runs this root to completion and returns its output,
	// partitioned by whatever repartitioning operators it contains.
	Execute(ctx context.Context) ([][]Batch, error)

	// Schema is this root's declared output schema.
	Schema() Schema
}

// PlanLoader fetches a Subplan from object storage on cold start when it
// was not carried inline in the function's boot environment (spec §3
// "CloudExecutionPlan may be ... fetched lazily").
type PlanLoader interface {
	LoadSubplan(ctx context.Context, ref string) (Subplan, error)
}
