package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/flocksql/flock/internal/codec"
	"github.com/flocksql/flock/internal/domain"
	"github.com/flocksql/flock/internal/invoke"
	"github.com/flocksql/flock/internal/statebackend"
	"github.com/flocksql/flock/internal/window"
)

func schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{{Name: "n", Type: arrow.PrimitiveTypes.Int64}}, nil)
}

func batch(t *testing.T, rows int) domain.Batch {
	t.Helper()
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, schema())
	defer b.Release()
	for i := 0; i < rows; i++ {
		b.Field(0).(*array.Int64Builder).Append(int64(i))
	}
	return b.NewRecord()
}

// passthroughLeaf/Root implement domain.Subplan trivially: whatever is
// bound is what gets returned by Execute.
type passthroughLeaf struct {
	bound []domain.Batch
}

func (l *passthroughLeaf) Schema() domain.Schema   { return schema() }
func (l *passthroughLeaf) Bind(b []domain.Batch)   { l.bound = b }
func (l *passthroughLeaf) Clear()                  { l.bound = nil }

type passthroughRoot struct {
	leaf *passthroughLeaf
}

func (r *passthroughRoot) Schema() domain.Schema { return schema() }
func (r *passthroughRoot) Execute(_ context.Context) ([][]domain.Batch, error) {
	return [][]domain.Batch{r.leaf.bound}, nil
}

type passthroughSubplan struct {
	leaf *passthroughLeaf
	root *passthroughRoot
}

func newPassthroughSubplan() *passthroughSubplan {
	leaf := &passthroughLeaf{}
	return &passthroughSubplan{leaf: leaf, root: &passthroughRoot{leaf: leaf}}
}

func (s *passthroughSubplan) Leaves() []domain.Leaf { return []domain.Leaf{s.leaf} }
func (s *passthroughSubplan) Roots() []domain.Root  { return []domain.Root{s.root} }
func (s *passthroughSubplan) IsShuffling() bool     { return false }

// shufflingLeaf/Root/Subplan model a stage whose top operator already
// repartitioned its output into fixed partitions (IsShuffling() == true),
// exercising Runner.ExecutePartitioned instead of the passthrough
// subplan's single-partition Execute.
type shufflingLeaf struct {
	bound []domain.Batch
}

func (l *shufflingLeaf) Schema() domain.Schema { return schema() }
func (l *shufflingLeaf) Bind(b []domain.Batch) { l.bound = b }
func (l *shufflingLeaf) Clear()                { l.bound = nil }

type shufflingRoot struct {
	partitions [][]domain.Batch
}

func (r *shufflingRoot) Schema() domain.Schema { return schema() }
func (r *shufflingRoot) Execute(context.Context) ([][]domain.Batch, error) {
	return r.partitions, nil
}

type shufflingSubplan struct {
	leaf *shufflingLeaf
	root *shufflingRoot
}

func (s *shufflingSubplan) Leaves() []domain.Leaf { return []domain.Leaf{s.leaf} }
func (s *shufflingSubplan) Roots() []domain.Root  { return []domain.Root{s.root} }
func (s *shufflingSubplan) IsShuffling() bool     { return true }

func newShufflingSubplan(t *testing.T, partitionCount int) *shufflingSubplan {
	t.Helper()
	parts := make([][]domain.Batch, partitionCount)
	for i := 0; i < partitionCount; i++ {
		parts[i] = []domain.Batch{batch(t, i+1)}
	}
	return &shufflingSubplan{leaf: &shufflingLeaf{}, root: &shufflingRoot{partitions: parts}}
}

type recordingInvoker struct {
	mu       sync.Mutex
	calls    []string
	payloads []domain.Payload
}

func (r *recordingInvoker) Invoke(_ context.Context, stageName string, p domain.Payload, _ bool) (domain.Payload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, stageName)
	r.payloads = append(r.payloads, p)
	return domain.Payload{}, nil
}

func payloadFor(t *testing.T, u domain.UUID, shuffleID int, rows int) domain.Payload {
	t.Helper()
	b := batch(t, rows)
	defer b.Release()
	p, err := codec.Encode(b, nil, schema(), u, shuffleID, domain.DataSourceGenerator, domain.EncodingZSTD, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return p
}

func TestDispatchPointSuccessorInvokesNamedStage(t *testing.T) {
	ctx := context.Background()
	subplan := newPassthroughSubplan()
	ec := domain.ExecutionContext{
		Subplan:   subplan,
		Name:      "abcd1234abcd1234-00",
		Successor: domain.PointSuccessor{Name: "abcd1234abcd1234-01"},
	}
	inv := &recordingInvoker{}
	d := New(window.NewArena(time.Minute), statebackend.NewInMemory(), inv, nil, 4)

	u := domain.UUID{QID: "q", SeqNum: 0, SeqLen: 1}
	p := payloadFor(t, u, 0, 3)

	if err := d.Dispatch(ctx, ec, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(inv.calls) != 1 || inv.calls[0] != "abcd1234abcd1234-01" {
		t.Fatalf("expected exactly one invoke to the point successor, got %v", inv.calls)
	}
}

func TestDispatchSinkSuccessorCallsSinkFunc(t *testing.T) {
	ctx := context.Background()
	subplan := newPassthroughSubplan()
	var gotRows int64
	sink := func(_ context.Context, kind domain.SinkKind, batches []domain.Batch) error {
		if kind != domain.SinkStdout {
			t.Fatalf("expected stdout sink, got %v", kind)
		}
		for _, b := range batches {
			gotRows += b.NumRows()
		}
		return nil
	}
	ec := domain.ExecutionContext{
		Subplan:   subplan,
		Name:      "abcd1234abcd1234-00",
		Successor: domain.SinkSuccessor{Kind: domain.SinkStdout},
	}
	d := New(window.NewArena(time.Minute), statebackend.NewInMemory(), &recordingInvoker{}, sink, 4)

	u := domain.UUID{QID: "q", SeqNum: 0, SeqLen: 1}
	p := payloadFor(t, u, 0, 5)

	if err := d.Dispatch(ctx, ec, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotRows != 5 {
		t.Fatalf("expected sink to observe 5 rows, got %d", gotRows)
	}
}

func TestDispatchAggregatorWaitsForFullWindow(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvoker{}
	arena := window.NewArena(time.Minute)
	d := New(arena, statebackend.NewInMemory(), inv, nil, 4)

	makeEC := func() domain.ExecutionContext {
		return domain.ExecutionContext{
			Subplan:   newPassthroughSubplan(),
			Name:      "abcd1234abcd1234-00-00",
			Successor: domain.SinkSuccessor{Kind: domain.SinkBlackhole},
		}
	}

	for i := 0; i < 2; i++ {
		u := domain.UUID{QID: "q-agg", SeqNum: i, SeqLen: 3}
		p := payloadFor(t, u, 0, 1)
		if err := d.Dispatch(ctx, makeEC(), p); err != nil {
			t.Fatalf("Dispatch partition %d: %v", i, err)
		}
		if len(inv.calls) != 0 {
			t.Fatalf("aggregator fired before its window was complete (after %d/3 partitions)", i+1)
		}
	}

	u := domain.UUID{QID: "q-agg", SeqNum: 2, SeqLen: 3}
	p := payloadFor(t, u, 0, 1)
	if err := d.Dispatch(ctx, makeEC(), p); err != nil {
		t.Fatalf("Dispatch final partition: %v", err)
	}
}

func TestDispatchDuplicateDeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvoker{}
	arena := window.NewArena(time.Minute)
	d := New(arena, statebackend.NewInMemory(), inv, nil, 4)
	ec := domain.ExecutionContext{
		Subplan:   newPassthroughSubplan(),
		Name:      "abcd1234abcd1234-00-00",
		Successor: domain.PointSuccessor{Name: "abcd1234abcd1234-01"},
	}

	u := domain.UUID{QID: "q-dup", SeqNum: 0, SeqLen: 1}
	p := payloadFor(t, u, 0, 1)

	if err := d.Dispatch(ctx, ec, p); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	if err := d.Dispatch(ctx, ec, p); err != nil {
		t.Fatalf("retried Dispatch: %v", err)
	}
	if len(inv.calls) != 1 {
		t.Fatalf("expected the retried delivery to be absorbed (1 invocation total), got %d", len(inv.calls))
	}
}

func TestDispatchPointSuccessorNonAggregatorPreservesIncomingUUID(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvoker{}
	d := New(window.NewArena(time.Minute), statebackend.NewInMemory(), inv, nil, 4)
	ec := domain.ExecutionContext{
		Subplan:   newPassthroughSubplan(),
		Name:      "abcd1234abcd1234-00",
		Successor: domain.PointSuccessor{Name: "abcd1234abcd1234-01"},
	}

	u := domain.UUID{QID: "q-preserve", SeqNum: 7, SeqLen: 12}
	p := payloadFor(t, u, 3, 1)

	if err := d.Dispatch(ctx, ec, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(inv.calls) != 1 {
		t.Fatalf("expected exactly one invoke, got %v", inv.calls)
	}
	got := inv.payloads[0]
	if got.UUID != u {
		t.Fatalf("expected the forwarded uuid to equal the incoming uuid %v verbatim, got %v", u, got.UUID)
	}
	if got.ShuffleID != 3 {
		t.Fatalf("expected the forwarded shuffle_id to be preserved as 3, got %d", got.ShuffleID)
	}
}

func TestDispatchPointSuccessorAggregatorFansOutPerPartition(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvoker{}
	d := New(window.NewArena(time.Minute), statebackend.NewInMemory(), inv, nil, 4)

	const partitionCount = 3
	ec := domain.ExecutionContext{
		Subplan:   newShufflingSubplan(t, partitionCount),
		Name:      "abcd1234abcd1234-00-00",
		Successor: domain.PointSuccessor{Name: "abcd1234abcd1234-01"},
	}

	u := domain.UUID{QID: "q-fanout", SeqNum: 0, SeqLen: 1}
	p := payloadFor(t, u, 0, 1)

	if err := d.Dispatch(ctx, ec, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(inv.calls) != partitionCount {
		t.Fatalf("expected one invoke per output partition (%d), got %d: %v", partitionCount, len(inv.calls), inv.calls)
	}
	for _, c := range inv.calls {
		if c != "abcd1234abcd1234-01" {
			t.Fatalf("expected every fan-out call to target the point successor, got %q", c)
		}
	}
	seen := map[int]bool{}
	for _, p := range inv.payloads {
		if p.UUID.SeqLen != partitionCount {
			t.Fatalf("expected every fresh uuid's seq_len to equal the partition count %d, got %d", partitionCount, p.UUID.SeqLen)
		}
		if seen[p.UUID.SeqNum] {
			t.Fatalf("duplicate seq_num %d among fanned-out uuids", p.UUID.SeqNum)
		}
		seen[p.UUID.SeqNum] = true
	}
}

func TestDispatchGroupSuccessorShufflingSetsShuffleIDAndPersists(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvoker{}
	backend := statebackend.NewInMemory()
	d := New(window.NewArena(time.Minute), backend, inv, nil, 8)

	const groupSize = 4
	subplan := newShufflingSubplan(t, groupSize)
	ec := domain.ExecutionContext{
		Subplan:      subplan,
		Name:         "abcd1234abcd1234-00",
		Successor:    domain.GroupSuccessor{Prefix: "abcd1234abcd1234-01", Size: groupSize},
		StateBackend: domain.StateBackendObjectStore,
		PlanIndex:    2,
		GroupIndex:   0,
		GroupSize:    1,
	}

	qid := "q-shuffle"
	u := domain.UUID{QID: qid, SeqNum: 0, SeqLen: 1}
	p := payloadFor(t, u, 0, 1)

	if err := d.Dispatch(ctx, ec, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(inv.calls) != groupSize {
		t.Fatalf("expected %d invocations, one per shuffle partition, got %d: %v", groupSize, len(inv.calls), inv.calls)
	}
	memberNames := make(map[string]bool, groupSize)
	for i := 0; i < groupSize; i++ {
		memberNames[fmt.Sprintf("abcd1234abcd1234-01-%02d", i)] = true
	}
	for _, c := range inv.calls {
		if !memberNames[c] {
			t.Fatalf("invoked %q, which is not a member of the destination group", c)
		}
	}
	seenShuffleIDs := map[int]bool{}
	for _, p := range inv.payloads {
		if p.ShuffleID < 1 || p.ShuffleID > groupSize {
			t.Fatalf("shuffle_id %d out of range [1,%d]", p.ShuffleID, groupSize)
		}
		if seenShuffleIDs[p.ShuffleID] {
			t.Fatalf("duplicate shuffle_id %d among shuffled partitions", p.ShuffleID)
		}
		seenShuffleIDs[p.ShuffleID] = true
	}

	stored, err := backend.ReadAll(ctx, qid)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(stored) != groupSize {
		t.Fatalf("expected %d persisted partitions, got %d", groupSize, len(stored))
	}
	for shuffleID := 1; shuffleID <= groupSize; shuffleID++ {
		key := statebackend.Key{QID: qid, PlanIndex: ec.PlanIndex + 1, ShuffleID: shuffleID, SeqNum: ec.GroupIndex}
		if _, ok := stored[key]; !ok {
			t.Fatalf("missing persisted partition for shuffle_id %d at key %+v", shuffleID, key)
		}
	}
}

func TestDispatchGroupSuccessorNonShufflingPersistsFixedShuffleID(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvoker{}
	backend := statebackend.NewInMemory()
	d := New(window.NewArena(time.Minute), backend, inv, nil, 4)

	ec := domain.ExecutionContext{
		Subplan:      newPassthroughSubplan(),
		Name:         "abcd1234abcd1234-00",
		Successor:    domain.GroupSuccessor{Prefix: "abcd1234abcd1234-01", Size: 4},
		StateBackend: domain.StateBackendObjectStore,
		PlanIndex:    2,
		GroupIndex:   1,
		GroupSize:    3,
	}

	qid := "q-nonshuffle"
	u := domain.UUID{QID: qid, SeqNum: 0, SeqLen: 1}
	p := payloadFor(t, u, 0, 1)

	if err := d.Dispatch(ctx, ec, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(inv.calls) != 1 {
		t.Fatalf("expected exactly one invocation, got %d: %v", len(inv.calls), inv.calls)
	}

	stored, err := backend.ReadAll(ctx, qid)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	key := statebackend.Key{QID: qid, PlanIndex: 3, ShuffleID: 1, SeqNum: 1}
	if _, ok := stored[key]; !ok {
		t.Fatalf("expected persisted key %+v, got %+v", key, stored)
	}
}

func TestDispatchAggregatorRecoversFromStateBackend(t *testing.T) {
	ctx := context.Background()
	backend := statebackend.NewInMemory()
	arena := window.NewArena(time.Minute)

	var sinkCalls int
	var gotRows int64
	sink := func(_ context.Context, kind domain.SinkKind, batches []domain.Batch) error {
		sinkCalls++
		for _, b := range batches {
			gotRows += b.NumRows()
		}
		return nil
	}
	d := New(arena, backend, &recordingInvoker{}, sink, 4)

	ec := domain.ExecutionContext{
		Subplan:   newPassthroughSubplan(),
		Name:      "abcd1234abcd1234-00-00",
		Successor: domain.SinkSuccessor{Kind: domain.SinkBlackhole},
		PlanIndex: 1,
	}

	qid := "q-recover"
	preBatch := batch(t, 7)
	defer preBatch.Release()
	raw, err := codec.EncodeBatch(preBatch, domain.EncodingZSTD)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	// Simulates a sibling invocation, running in a different container,
	// that persisted its partition straight to the state backend without
	// this process ever observing it in memory.
	if err := backend.Write(ctx, statebackend.Key{QID: qid, PlanIndex: 1, ShuffleID: 0, SeqNum: 0}, raw); err != nil {
		t.Fatalf("Write: %v", err)
	}

	u := domain.UUID{QID: qid, SeqNum: 1, SeqLen: 2}
	p := payloadFor(t, u, 0, 1)
	if err := d.Dispatch(ctx, ec, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if sinkCalls != 1 {
		t.Fatalf("expected the window to complete via state-backend recovery, got %d sink calls", sinkCalls)
	}
	if gotRows != 8 {
		t.Fatalf("expected 7 recovered rows + 1 live row = 8, got %d", gotRows)
	}
}

func TestDispatchAggregatorStaysOpenWhenBackendAlsoIncomplete(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvoker{}
	backend := statebackend.NewInMemory()
	arena := window.NewArena(time.Minute)
	d := New(arena, backend, inv, nil, 4)

	ec := domain.ExecutionContext{
		Subplan:   newPassthroughSubplan(),
		Name:      "abcd1234abcd1234-00-00",
		Successor: domain.SinkSuccessor{Kind: domain.SinkBlackhole},
		PlanIndex: 1,
	}

	u := domain.UUID{QID: "q-nocomplete", SeqNum: 1, SeqLen: 2}
	p := payloadFor(t, u, 0, 1)
	if err := d.Dispatch(ctx, ec, p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(inv.calls) != 0 {
		t.Fatalf("expected no invocation since partition 0 is missing from both arena and state backend")
	}
}
