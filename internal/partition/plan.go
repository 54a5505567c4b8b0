// Package partition implements C7, the stage partitioner (spec §4.6
// "naming and wiring"): it walks an already-planned, already-optimized
// query pipeline, cuts it into deployable stages at shuffle boundaries,
// assigns every stage its deployed name, and computes the Successor each
// stage must route its output to. Query planning and optimization
// themselves are out of scope; this package consumes a pipeline that has
// already decided where its shuffles sit.
//
// The dependency graph this package validates is checked with the same
// Kahn's-algorithm shape this repository already uses to validate
// workflow graphs (internal/workflow, now retired), generalized from an
// arbitrary node/edge workflow definition to a linear stage pipeline.
package partition

import (
	"fmt"

	"github.com/flocksql/flock/internal/domain"
)

// PlanNode is one operator in a planned pipeline, linked from the query's
// final output (root) down to its source. Exchange marks the operator
// where a shuffle occurs: everything from the root down to and including
// an Exchange node is deployed as Fanout parallel aggregator instances,
// each waiting on one shuffle partition's worth of fan-in (spec §4.4);
// everything below it, down to the next Exchange or the source, is
// deployed as a single producer stage that routes into that group by
// hash (spec §4.6 "Group routing").
type PlanNode struct {
	ID       string
	Exchange bool
	Fanout   int // group size; only meaningful when Exchange is true
	Child    *PlanNode
}

// Stage is one deployable unit of the pipeline.
type Stage struct {
	Index      int
	GroupIndex int // -1 unless this stage is one of a shuffled group's aggregator instances
	Name       string
	Segment    *PlanNode // the top-most operator this stage owns; walk .Child for the rest
	Successor  domain.Successor
}

// segment is a maximal run of consecutive, non-shuffle-split operators
// that deploy as one stage (or, if grouped, as Size identical copies of
// one stage).
type segment struct {
	top      *PlanNode
	grouped  bool
	size     int
	consumer *segment // the segment this one's output feeds; nil means Sink
}

// Partition cuts root's pipeline into stages and wires their successors.
// queryCode names the query instance these stages belong to (spec §3:
// stage names are "<query-code>-<plan-index>[-<group-index>]"). sink is
// the successor assigned to the stage that owns the pipeline's root (the
// query's final output).
func Partition(queryCode string, root *PlanNode, sink domain.SinkKind) ([]Stage, error) {
	if root == nil {
		return nil, fmt.Errorf("partition: nil plan root")
	}

	segments, err := cutSegments(root)
	if err != nil {
		return nil, err
	}
	if err := validateAcyclic(segments); err != nil {
		return nil, err
	}

	// Source-first plan index order: a segment's own producer segments
	// (if any, reached only indirectly here since the pipeline is linear)
	// are later in cutSegments' source-to-sink build order, so reversing
	// that order gives source-first numbering.
	ordered := make([]*segment, len(segments))
	for i, s := range segments {
		ordered[len(segments)-1-i] = s
	}

	nameOf := make(map[*segment]string, len(ordered))
	planIndexOf := make(map[*segment]int, len(ordered))
	for i, s := range ordered {
		planIndexOf[s] = i
		groupIndex := -1
		if s.grouped {
			groupIndex = 0 // stem index; per-instance names are rendered below
		}
		nameOf[s] = domain.StageName(queryCode, i, groupIndex)
	}

	var stages []Stage
	for _, s := range ordered {
		if !s.grouped {
			stages = append(stages, Stage{
				Index:      planIndexOf[s],
				GroupIndex: -1,
				Name:       nameOf[s],
				Segment:    s.top,
				Successor:  successorFor(s, queryCode, planIndexOf, nameOf, sink),
			})
			continue
		}
		for g := 0; g < s.size; g++ {
			stages = append(stages, Stage{
				Index:      planIndexOf[s],
				GroupIndex: g,
				Name:       domain.StageName(queryCode, planIndexOf[s], g),
				Segment:    s.top,
				Successor:  successorFor(s, queryCode, planIndexOf, nameOf, sink),
			})
		}
	}

	return stages, nil
}

// successorFor computes the Successor a segment's stage(s) must route
// their output to (spec §3: Sink | Point | Group). Every instance of a
// grouped segment shares the same successor: the group exists to
// parallelize fan-in, not to diverge downstream.
func successorFor(s *segment, queryCode string, planIndexOf map[*segment]int, nameOf map[*segment]string, sink domain.SinkKind) domain.Successor {
	if s.consumer == nil {
		return domain.SinkSuccessor{Kind: sink}
	}
	if !s.consumer.grouped {
		return domain.PointSuccessor{Name: nameOf[s.consumer]}
	}
	return domain.GroupSuccessor{
		Prefix: fmt.Sprintf("%s-%02d", queryCode, planIndexOf[s.consumer]),
		Size:   s.consumer.size,
	}
}

// cutSegments walks root toward the source, splitting the chain at every
// Exchange node. It returns segments in sink-to-source order.
func cutSegments(root *PlanNode) ([]*segment, error) {
	var segments []*segment
	var cur *segment
	var consumerOfNext *segment // the segment the next (lower) segment must route into

	node := root
	for node != nil {
		if cur == nil {
			cur = &segment{top: node, consumer: consumerOfNext}
			consumerOfNext = nil
		}
		if node.Exchange {
			if node.Fanout < 1 {
				return nil, fmt.Errorf("partition: exchange node %q has non-positive fanout %d", node.ID, node.Fanout)
			}
			cur.grouped = true
			cur.size = node.Fanout
			segments = append(segments, cur)
			consumerOfNext = cur
			cur = nil
		}
		node = node.Child
	}
	if cur != nil {
		segments = append(segments, cur)
	}
	return segments, nil
}

// validateAcyclic confirms the segment consumer graph has no cycle, using
// the same Kahn's-algorithm shape as the rest of this repository's graph
// validation. A chain built by cutSegments cannot actually contain a
// cycle; this is the safety net for a future planner that builds segment
// graphs some other way.
func validateAcyclic(segments []*segment) error {
	inDegree := make(map[*segment]int, len(segments))
	producers := make(map[*segment][]*segment, len(segments))
	for _, s := range segments {
		inDegree[s] = 0
	}
	for _, s := range segments {
		if s.consumer != nil {
			inDegree[s.consumer]++
			producers[s.consumer] = append(producers[s.consumer], s)
		}
	}

	var queue []*segment
	for _, s := range segments {
		if inDegree[s] == 0 {
			queue = append(queue, s)
		}
	}

	visited := 0
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		visited++
		for _, p := range producers[curr] {
			inDegree[p]--
			if inDegree[p] == 0 {
				queue = append(queue, p)
			}
		}
	}

	if visited != len(segments) {
		return fmt.Errorf("partition: plan graph contains a cycle")
	}
	return nil
}
