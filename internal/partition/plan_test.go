package partition

import (
	"testing"

	"github.com/flocksql/flock/internal/domain"
)

// chain: source -> exchange(fanout=3) -> sink
func TestPartitionNamesGroupedAggregatorsWithTwoDashes(t *testing.T) {
	sink := &PlanNode{ID: "sink"}
	exchange := &PlanNode{ID: "exchange", Exchange: true, Fanout: 3, Child: nil}
	sink.Child = exchange
	source := &PlanNode{ID: "source"}
	exchange.Child = source

	stages, err := Partition("abcd1234abcd1234", sink, domain.SinkStdout)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}

	// Expect: 1 source stage (plan index 0, unpartitioned) + 3 aggregator
	// instances (plan index 1, group indices 0..2).
	if len(stages) != 4 {
		t.Fatalf("expected 4 stages, got %d: %+v", len(stages), stages)
	}

	var sourceStage *Stage
	aggregators := map[int]Stage{}
	for i := range stages {
		s := stages[i]
		if s.GroupIndex == -1 {
			sourceStage = &stages[i]
		} else {
			aggregators[s.GroupIndex] = s
		}
	}

	if sourceStage == nil {
		t.Fatal("expected exactly one unpartitioned source stage")
	}
	if domain.IsAggregatorName(sourceStage.Name) {
		t.Fatalf("source stage %q should not be classified as an aggregator", sourceStage.Name)
	}
	g, ok := sourceStage.Successor.(domain.GroupSuccessor)
	if !ok {
		t.Fatalf("expected source stage's successor to be a GroupSuccessor, got %T", sourceStage.Successor)
	}
	if g.Size != 3 {
		t.Fatalf("expected group size 3, got %d", g.Size)
	}

	if len(aggregators) != 3 {
		t.Fatalf("expected 3 aggregator instances, got %d", len(aggregators))
	}
	for idx, agg := range aggregators {
		if !domain.IsAggregatorName(agg.Name) {
			t.Errorf("aggregator instance %d (%q) should be classified as an aggregator", idx, agg.Name)
		}
		if !domain.NameRegexp.MatchString(agg.Name) {
			t.Errorf("aggregator instance name %q does not match the stage name grammar", agg.Name)
		}
		if _, ok := agg.Successor.(domain.SinkSuccessor); !ok {
			t.Errorf("aggregator instance %d's successor should be the sink, got %T", idx, agg.Successor)
		}
	}
}

func TestPartitionUngroupedPipelineIsSingleSinkStage(t *testing.T) {
	sink := &PlanNode{ID: "sink"}
	middle := &PlanNode{ID: "middle"}
	source := &PlanNode{ID: "source"}
	sink.Child = middle
	middle.Child = source

	stages, err := Partition("deadbeefdeadbeef", sink, domain.SinkBlackhole)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(stages) != 1 {
		t.Fatalf("an ungrouped pipeline with no exchange should deploy as a single stage, got %d", len(stages))
	}
	if _, ok := stages[0].Successor.(domain.SinkSuccessor); !ok {
		t.Fatalf("expected sink successor, got %T", stages[0].Successor)
	}
}
