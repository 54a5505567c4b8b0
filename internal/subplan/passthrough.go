// Package subplan supplies the one concrete domain.Subplan this
// repository ships: a single-leaf, single-root identity subplan that
// hands its bound input straight to its output unchanged. Real query
// planning is out of scope; this exists so the CLI's demo pipelines and
// the dispatcher's unit tests have a Subplan to execute without needing
// a planner.
package subplan

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/flocksql/flock/internal/domain"
)

type leaf struct {
	schema  domain.Schema
	batches []domain.Batch
}

func (l *leaf) Schema() domain.Schema     { return l.schema }
func (l *leaf) Bind(batches []domain.Batch) { l.batches = batches }
func (l *leaf) Clear() {
	l.batches = []domain.Batch{domain.EmptyBatch(memory.NewGoAllocator(), l.schema)}
}

type root struct {
	leaf *leaf
}

func (r *root) Execute(_ context.Context) ([][]domain.Batch, error) {
	return [][]domain.Batch{r.leaf.batches}, nil
}

func (r *root) Schema() domain.Schema { return r.leaf.schema }

// Passthrough is a domain.Subplan with exactly one leaf feeding exactly
// one root, which returns its bound input as a single partition.
type Passthrough struct {
	leaf *leaf
	root *root
}

// New constructs a Passthrough declared over schema.
func New(schema domain.Schema) *Passthrough {
	l := &leaf{schema: schema}
	return &Passthrough{leaf: l, root: &root{leaf: l}}
}

func (p *Passthrough) Leaves() []domain.Leaf { return []domain.Leaf{p.leaf} }
func (p *Passthrough) Roots() []domain.Root  { return []domain.Root{p.root} }
func (p *Passthrough) IsShuffling() bool     { return false }
