// Package dispatch implements C6, the per-invocation dispatcher: the
// numbered pipeline every deployed stage's handler runs (spec §4.6). It
// materializes a payload's input, absorbs it into the stage's window
// arena when the stage is an aggregator, executes the stage's subplan,
// and routes the result to whatever the stage's Successor names.
//
// Outbound invocations run in parallel under a bounded errgroup
// (FanoutLimit); state-backend persists for Group routing run one by one
// before that fan-out starts.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flocksql/flock/internal/codec"
	"github.com/flocksql/flock/internal/domain"
	"github.com/flocksql/flock/internal/execctx"
	"github.com/flocksql/flock/internal/hashring"
	"github.com/flocksql/flock/internal/invoke"
	"github.com/flocksql/flock/internal/logging"
	"github.com/flocksql/flock/internal/metrics"
	"github.com/flocksql/flock/internal/observability"
	"github.com/flocksql/flock/internal/statebackend"
	"github.com/flocksql/flock/internal/window"
)

// SinkFunc receives a stage's final output when its successor is a Sink
// (spec §4.6 "a Sink successor ends the pipeline"). The three concrete
// sink kinds (stdout, blackhole, collector) each get their own SinkFunc;
// the source coordinator (C8) supplies the collector variant.
type SinkFunc func(ctx context.Context, kind domain.SinkKind, batches []domain.Batch) error

// Dispatcher runs the C6 pipeline for one deployed stage across however
// many invocations that stage's function instance serves.
//
// # Concurrency
//
// A Dispatcher is safe for concurrent use: Arena is itself safe for
// concurrent use (internal/window), and GroupSuccessor fan-out uses a
// bounded errgroup rather than shared mutable state.
//
// # Failure behaviour
//
// A non-nil error from Dispatch means the invocation should be retried by
// its caller (cloud function platform or test harness) — the window
// arena's idempotency guard (internal/window) makes a retried delivery to
// an already-completed window a safe no-op rather than a double
// execution.
type Dispatcher struct {
	Arena       *window.Arena
	Backend     statebackend.Backend
	Invoker     invoke.Invoker
	Sink        SinkFunc
	Encoding    domain.Encoding
	FanoutLimit int
}

// New constructs a Dispatcher. fanoutLimit bounds how many destination
// invocations a single GroupSuccessor delivery issues concurrently; 0
// selects a sane default.
func New(arena *window.Arena, backend statebackend.Backend, invoker invoke.Invoker, sink SinkFunc, fanoutLimit int) *Dispatcher {
	if fanoutLimit <= 0 {
		fanoutLimit = 8
	}
	return &Dispatcher{
		Arena:       arena,
		Backend:     backend,
		Invoker:     invoker,
		Sink:        sink,
		Encoding:    domain.DefaultEncoding,
		FanoutLimit: fanoutLimit,
	}
}

// Dispatch runs the full pipeline for one inbound payload against ec
// (spec §4.6 steps 1-3).
func (d *Dispatcher) Dispatch(ctx context.Context, ec domain.ExecutionContext, payload domain.Payload) (err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "dispatch.Dispatch",
		observability.AttrStageName.String(ec.Name),
		observability.AttrQID.String(payload.UUID.QID),
		observability.AttrShuffleID.Int(payload.ShuffleID),
		observability.AttrAggregator.Bool(ec.IsAggregator()),
	)
	defer span.End()

	var outputRows int64
	defer func() {
		durationMs := time.Since(start).Milliseconds()
		success := err == nil
		if success {
			observability.SetSpanOK(span)
		} else {
			observability.SetSpanError(span, err)
		}
		metrics.Global().RecordInvocationWithDetails(ec.Name, durationMs, success, ec.IsAggregator())
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		logging.Default().Log(&logging.InvocationLog{
			QID:        payload.UUID.QID,
			Stage:      ec.Name,
			SeqNum:     payload.UUID.SeqNum,
			ShuffleID:  payload.ShuffleID,
			TraceID:    observability.GetTraceID(ctx),
			SpanID:     observability.GetSpanID(ctx),
			DurationMs: durationMs,
			Aggregator: ec.IsAggregator(),
			Success:    success,
			Error:      errMsg,
			InputBytes: len(payload.Data) + len(payload.Data2),
			OutputRows: outputRows,
		})
	}()

	batches, err := d.materialize(ctx, ec, payload)
	if err != nil {
		return fmt.Errorf("dispatch %s: materialize input: %w", ec.Name, err)
	}
	if batches == nil {
		// Window not yet complete, or a duplicate delivery was absorbed
		// and discarded — neither is an error (spec §4.4 step 7).
		return nil
	}

	runner := execctx.New(ec)
	if err := runner.FeedDataSources([][]domain.Batch{batches}); err != nil {
		return fmt.Errorf("dispatch %s: feed data sources: %w", ec.Name, err)
	}

	// Step 2: execute() or execute_partitioned() depending on is_shuffling
	// (spec §4.3, §4.6 step 2). Only a shuffling stage's execute_partitioned
	// output carries the partition boundaries Group routing needs.
	var flat []domain.Batch
	var partitioned map[int][]domain.Batch
	if ec.Subplan.IsShuffling() {
		partitioned, err = runner.ExecutePartitioned(ctx)
		if err != nil {
			return fmt.Errorf("dispatch %s: execute_partitioned: %w", ec.Name, err)
		}
		for _, p := range partitioned {
			flat = append(flat, p...)
		}
	} else {
		outputs, err := runner.Execute(ctx)
		if err != nil {
			return fmt.Errorf("dispatch %s: execute: %w", ec.Name, err)
		}
		flat = flatten(outputs)
	}
	runner.CleanDataSources()

	for _, b := range flat {
		outputRows += b.NumRows()
	}
	return d.route(ctx, ec, payload, flat, partitioned)
}

// materialize decodes payload's input and, for an aggregator stage,
// absorbs it into the window arena, returning the window's combined
// batches once complete (spec §4.4, §4.6 step 1). For a non-aggregator
// stage it simply decodes and returns the payload's own batches.
func (d *Dispatcher) materialize(ctx context.Context, ec domain.ExecutionContext, payload domain.Payload) ([]domain.Batch, error) {
	decoded, err := codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	batches := []domain.Batch{decoded.Batch}
	if decoded.Batch2 != nil {
		batches = append(batches, decoded.Batch2)
	}

	if !ec.IsAggregator() {
		return batches, nil
	}

	windowID := domain.WindowIDOf(payload)
	_, ok := d.Arena.Collect(windowID, payload.UUID, batches)
	if !ok {
		return nil, nil // already processed: idempotent no-op
	}

	if d.Backend != nil {
		key := statebackend.Key{QID: payload.UUID.QID, PlanIndex: ec.PlanIndex, ShuffleID: payload.ShuffleID, SeqNum: payload.UUID.SeqNum}
		raw, err := encodeBatchForState(batches[0], d.Encoding)
		if err != nil {
			return nil, fmt.Errorf("encode partition for state backend: %w", err)
		}
		if err := d.Backend.Write(ctx, key, raw); err != nil {
			return nil, fmt.Errorf("persist partition: %w", err)
		}
	}

	if d.Arena.IsComplete(windowID) {
		return d.take(windowID)
	}

	// The arena hasn't seen every partition, but a sibling invocation
	// running on a different container may have written straight to the
	// state backend without this process ever observing it in memory
	// (spec §4.6 step 1: "consult the state backend for partials ...
	// attempt to complete the window via a batched read"). This is the
	// "Lost-packet recovery" path (spec §8).
	if d.Backend != nil {
		combined, err := d.recoverFromBackend(ctx, windowID, payload, ec)
		if err != nil {
			return nil, err
		}
		if combined != nil {
			return combined, nil
		}
	}

	return nil, nil
}

// recoverFromBackend fills in the gaps the in-memory arena hasn't seen for
// windowID using a batched read of the state backend, absorbing any
// recovered partitions into the arena itself so the ordinary Collect/Take
// idempotency bookkeeping still applies. It returns nil, nil when the
// backend does not (yet) hold every missing partition either — the window
// stays open for a later sibling delivery to complete.
func (d *Dispatcher) recoverFromBackend(ctx context.Context, windowID domain.WindowID, payload domain.Payload, ec domain.ExecutionContext) ([]domain.Batch, error) {
	bitmap := d.Arena.GetBitmap(windowID)
	if bitmap == nil {
		return nil, nil
	}
	gaps := bitmap.Gaps()
	if len(gaps) == 0 {
		return nil, nil
	}

	stored, err := d.Backend.ReadAll(ctx, payload.UUID.QID)
	if err != nil {
		return nil, fmt.Errorf("recover window %+v from state backend: %w", windowID, err)
	}

	for _, gap := range gaps {
		key := statebackend.Key{QID: payload.UUID.QID, PlanIndex: ec.PlanIndex, ShuffleID: payload.ShuffleID, SeqNum: gap}
		raw, ok := stored[key]
		if !ok {
			// Still missing at least one partition; a sibling invocation
			// will drive completion later (spec §4.6 step 1 "If still
			// incomplete, return Null").
			return nil, nil
		}
		batch, err := codec.DecodeBatch(raw, d.Encoding)
		if err != nil {
			return nil, fmt.Errorf("decode recovered partition %d: %w", gap, err)
		}
		u := domain.UUID{QID: payload.UUID.QID, SeqNum: gap, SeqLen: bitmap.Len()}
		if _, ok := d.Arena.Collect(windowID, u, []domain.Batch{batch}); !ok {
			return nil, nil
		}
	}

	if !d.Arena.IsComplete(windowID) {
		return nil, nil
	}
	return d.take(windowID)
}

// take removes windowID's accumulated partitions from the arena, in
// seq_num order (spec §4.4 "take(wid) → partitions").
func (d *Dispatcher) take(windowID domain.WindowID) ([]domain.Batch, error) {
	parts, ok := d.Arena.Take(windowID)
	if !ok {
		return nil, nil
	}
	var combined []domain.Batch
	for _, p := range parts {
		combined = append(combined, p...)
	}
	return combined, nil
}

// routeTarget is one outbound invocation route delivers to: a destination
// stage name, the uuid/shuffle_id the outgoing packet must carry, and the
// batch it carries.
type routeTarget struct {
	name      string
	uuid      domain.UUID
	shuffleID int
	batch     domain.Batch
	batch2    domain.Batch
}

// route delivers a stage's output to whatever its Successor names (spec
// §4.6 step 3). partitioned is non-nil only when ec.Subplan.IsShuffling();
// it carries out's partition boundaries, keyed by partition index, for
// Group routing's shuffling case.
func (d *Dispatcher) route(ctx context.Context, ec domain.ExecutionContext, in domain.Payload, out []domain.Batch, partitioned map[int][]domain.Batch) error {
	switch succ := ec.Successor.(type) {
	case domain.SinkSuccessor:
		if d.Sink == nil {
			return nil
		}
		return d.Sink(ctx, succ.Kind, out)

	case domain.PointSuccessor:
		return d.routePoint(ctx, ec, in, out, succ)

	case domain.GroupSuccessor:
		return d.routeGroup(ctx, ec, in, out, partitioned, succ)

	default:
		return fmt.Errorf("dispatch %s: unknown successor type %T", ec.Name, ec.Successor)
	}
}

// routePoint implements the two Point rows of the §4.6 routing table. An
// aggregator's output fans out to one fresh packet per output partition,
// each with a newly minted uuid from a UuidBuilder seeded with
// (name, now, seq_len=partition_count); a non-aggregator's output is
// flattened into a single packet that reuses the incoming uuid verbatim,
// preserving seq_num/seq_len so the downstream aggregator counts packets
// correctly (spec §4.6 "Rationale for uuid handling").
func (d *Dispatcher) routePoint(ctx context.Context, ec domain.ExecutionContext, in domain.Payload, out []domain.Batch, succ domain.PointSuccessor) error {
	if len(out) == 0 {
		return nil
	}

	if ec.IsAggregator() {
		builder := domain.NewUUIDBuilder(succ.Name, time.Now(), len(out))
		targets := make([]routeTarget, len(out))
		for i, b := range out {
			targets[i] = routeTarget{name: succ.Name, uuid: builder.Next(), batch: b}
		}
		return d.invokeEach(ctx, targets, in.Metadata)
	}

	batch, batch2 := out[0], domain.Batch(nil)
	if len(out) > 1 {
		batch2 = out[1]
	}
	target := routeTarget{name: succ.Name, uuid: in.UUID, shuffleID: in.ShuffleID, batch: batch, batch2: batch2}
	return d.invokeEach(ctx, []routeTarget{target}, in.Metadata)
}

// routeGroup implements the two Group rows of the §4.6 routing table.
func (d *Dispatcher) routeGroup(ctx context.Context, ec domain.ExecutionContext, in domain.Payload, out []domain.Batch, partitioned map[int][]domain.Batch, succ domain.GroupSuccessor) error {
	names := make([]string, succ.Size)
	for i := range names {
		names[i] = fmt.Sprintf("%s-%02d", succ.Prefix, i)
	}
	ring := hashring.New(names)
	seqLen := maxInt(ec.GroupSize, 1)

	if !ec.Subplan.IsShuffling() {
		if len(out) == 0 {
			return nil
		}
		dest := ring.Index(in.UUID.QID)
		if dest < 0 {
			return fmt.Errorf("dispatch %s: no ring destination for qid %s", ec.Name, in.UUID.QID)
		}
		batch, batch2 := out[0], domain.Batch(nil)
		if len(out) > 1 {
			batch2 = out[1]
		}
		u := domain.UUID{QID: in.UUID.QID, SeqNum: ec.GroupIndex, SeqLen: seqLen}
		const shuffleID = 1 // fixed: the whole unsplit output lands in one shuffle partition
		// A failed persist does not stop the invocation; it is reported
		// once the invocation has been made.
		persistErr := d.persistGroupPacket(ctx, ec, u, shuffleID, batch)
		target := routeTarget{name: names[dest], uuid: u, shuffleID: shuffleID, batch: batch, batch2: batch2}
		if err := d.invokeEach(ctx, []routeTarget{target}, in.Metadata); err != nil {
			return err
		}
		return persistErr
	}

	if len(partitioned) == 0 {
		return nil
	}
	base := ring.Base(succ.Prefix)
	targets := make([]routeTarget, 0, len(partitioned))
	var persistErr error
	for i, parts := range partitioned {
		if len(parts) == 0 {
			continue
		}
		dest := ring.GetByIndex(base + i)
		shuffleID := i + 1
		u := domain.UUID{QID: in.UUID.QID, SeqNum: ec.GroupIndex, SeqLen: seqLen}
		batch, batch2 := parts[0], domain.Batch(nil)
		if len(parts) > 1 {
			batch2 = parts[1]
		}
		if err := d.persistGroupPacket(ctx, ec, u, shuffleID, batch); err != nil && persistErr == nil {
			persistErr = err
		}
		targets = append(targets, routeTarget{name: dest, uuid: u, shuffleID: shuffleID, batch: batch, batch2: batch2})
	}
	if err := d.invokeEach(ctx, targets, in.Metadata); err != nil {
		return err
	}
	return persistErr
}

// persistGroupPacket writes a Group-routed partition to the state backend
// under the successor's own plan index (spec §4.6: "persist under
// <plan+1>/<shuffle>/<seq>"), so the successor aggregator can recover it
// via recoverFromBackend if the in-memory delivery is ever lost. A no-op
// unless ec was deployed with the object-store backend, matching the
// routing table's "if object-store backend" condition verbatim.
func (d *Dispatcher) persistGroupPacket(ctx context.Context, ec domain.ExecutionContext, u domain.UUID, shuffleID int, batch domain.Batch) error {
	if d.Backend == nil || ec.StateBackend != domain.StateBackendObjectStore {
		return nil
	}
	raw, err := encodeBatchForState(batch, d.Encoding)
	if err != nil {
		return fmt.Errorf("encode group partition for state backend: %w", err)
	}
	key := statebackend.Key{QID: u.QID, PlanIndex: ec.PlanIndex + 1, ShuffleID: shuffleID, SeqNum: u.SeqNum}
	if err := d.Backend.Write(ctx, key, raw); err != nil {
		return fmt.Errorf("persist group partition: %w", err)
	}
	return nil
}

// invokeEach encodes each target's batch and invokes its destination with
// bounded concurrency (spec §4.6 step 3). A failed invocation does not
// cancel its siblings; every one runs and the first error is returned.
func (d *Dispatcher) invokeEach(ctx context.Context, targets []routeTarget, meta map[string]string) error {
	if len(targets) == 0 {
		return nil
	}
	var g errgroup.Group
	g.SetLimit(d.FanoutLimit)
	for _, t := range targets {
		t := t
		if t.batch == nil {
			continue
		}
		g.Go(func() error {
			payload, err := codec.Encode(t.batch, t.batch2, t.batch.Schema(), t.uuid, t.shuffleID, domain.DataSourcePreviousPacket, d.Encoding, meta)
			if err != nil {
				return fmt.Errorf("encode for %s: %w", t.name, err)
			}
			if _, err := d.Invoker.Invoke(ctx, t.name, payload, meta[domain.MetaInvocationType] == domain.InvocationSync); err != nil {
				return fmt.Errorf("invoke %s: %w", t.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func flatten(groups [][]domain.Batch) []domain.Batch {
	var out []domain.Batch
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// encodeBatchForState serializes batch for the state backend using the
// codec's per-frame encoder directly (spec §4.5: persisted state uses the
// same compressed Arrow IPC framing as the wire payload).
func encodeBatchForState(batch domain.Batch, enc domain.Encoding) ([]byte, error) {
	if batch == nil {
		return nil, nil
	}
	return codec.EncodeBatch(batch, enc)
}
