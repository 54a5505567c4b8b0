// Package execctx implements C3, the per-stage runner: the thin wrapper
// around a deployed Subplan that binds inbound batches to its leaves,
// executes it, and clears its state afterward so the next invocation
// starts clean (spec §4.3 feed_data_sources / execute /
// execute_partitioned / clean_data_sources).
package execctx

import (
	"context"
	"fmt"

	"github.com/flocksql/flock/internal/domain"
)

// Runner executes one stage's subplan for one invocation. A Runner is not
// reused across invocations: the dispatcher (C6) constructs one per call
// and discards it once CleanDataSources has run.
type Runner struct {
	ec domain.ExecutionContext
}

// New constructs a Runner bound to ec's subplan.
func New(ec domain.ExecutionContext) *Runner {
	return &Runner{ec: ec}
}

// FeedDataSources binds batchSets positionally to the subplan's leaves
// (spec §4.3 step 1). A subplan with a single leaf — the common case — is
// fed with a single-element batchSets.
func (r *Runner) FeedDataSources(batchSets [][]domain.Batch) error {
	leaves := r.ec.Subplan.Leaves()
	if len(batchSets) != len(leaves) {
		return fmt.Errorf("execctx: subplan %s has %d leaves, got %d batch sets", r.ec.Name, len(leaves), len(batchSets))
	}
	for i, leaf := range leaves {
		if !domain.SchemaIsSubset(leaf.Schema(), leaf.Schema()) {
			// A leaf's own schema is always a subset of itself; this is a
			// cheap sanity check that Schema() returns something usable
			// before Bind does real work.
			return fmt.Errorf("execctx: subplan %s leaf %d has an unusable schema", r.ec.Name, i)
		}
		leaf.Bind(batchSets[i])
	}
	return nil
}

// Execute runs every root of the subplan and returns each root's output
// batches, one slice per root (spec §4.3 step 2).
func (r *Runner) Execute(ctx context.Context) ([][]domain.Batch, error) {
	roots := r.ec.Subplan.Roots()
	out := make([][]domain.Batch, len(roots))
	for i, root := range roots {
		batches, err := root.Execute(ctx)
		if err != nil {
			return nil, fmt.Errorf("execctx: execute subplan %s root %d: %w", r.ec.Name, i, err)
		}
		out[i] = flatten(batches)
	}
	return out, nil
}

// ExecutePartitioned runs every root like Execute, but preserves each
// root's partition boundaries instead of collapsing them (spec §4.3:
// "execute_partitioned() preserves partition boundaries; used when the
// stage ends with a repartitioning operator"). The subplan's own top
// coalesce-batches operator already did the repartitioning — this method
// just keeps that structure instead of flattening it, so partition i of
// the returned map is exactly the i-th destination's share of the output
// for the dispatcher's Group routing (spec §4.6).
func (r *Runner) ExecutePartitioned(ctx context.Context) (map[int][]domain.Batch, error) {
	roots := r.ec.Subplan.Roots()
	out := make(map[int][]domain.Batch)
	idx := 0
	for i, root := range roots {
		partitions, err := root.Execute(ctx)
		if err != nil {
			return nil, fmt.Errorf("execctx: execute_partitioned subplan %s root %d: %w", r.ec.Name, i, err)
		}
		for _, p := range partitions {
			out[idx] = p
			idx++
		}
	}
	return out, nil
}

// CleanDataSources releases every leaf's bound batches so the subplan's
// state does not leak into the next invocation that reuses this process
// (spec §4.3 step 3, §7 "a warm container must not retain state across
// unrelated invocations").
func (r *Runner) CleanDataSources() {
	for _, leaf := range r.ec.Subplan.Leaves() {
		leaf.Clear()
	}
}

func flatten(groups [][]domain.Batch) []domain.Batch {
	var out []domain.Batch
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
