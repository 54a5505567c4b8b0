// Package codec implements the self-describing, compressed record-batch
// envelope that crosses every function boundary (spec §4.1, "Payload
// codec"). Columnar framing is delegated to Arrow IPC; this package only
// owns compression selection and the envelope's schema/uuid/metadata
// bookkeeping.
package codec

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/flocksql/flock/internal/domain"
	"github.com/flocksql/flock/internal/metrics"
)

// WireCeiling is the per-invocation payload size ceiling of the target
// cloud function platform (spec §4.1). The dispatcher does not compare
// payloads against it: every payload is sent inline, whatever its size.
// 256KiB matches AWS Lambda's synchronous response-payload limit, the
// concrete platform this repository targets (see internal/invoke).
const WireCeiling = 256 * 1024

var defaultAllocator = memory.NewGoAllocator()

// EncodeBatch serializes one batch to a compressed Arrow IPC stream using
// enc. It is the per-frame half of spec §4.1's encode contract; Encode
// (below) assembles a full Payload from up to two of these frames.
func EncodeBatch(batch domain.Batch, enc domain.Encoding) ([]byte, error) {
	var raw bytes.Buffer
	w := ipc.NewWriter(&raw, ipc.WithSchema(batch.Schema()), ipc.WithAllocator(defaultAllocator))
	if err := w.Write(batch); err != nil {
		return nil, fmt.Errorf("write arrow ipc frame: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close arrow ipc writer: %w", err)
	}
	out, err := compress(enc, raw.Bytes())
	if err != nil {
		return nil, err
	}
	metrics.Global().RecordBytesEncoded(len(out))
	return out, nil
}

// DecodeBatch reverses EncodeBatch, returning the single record the frame
// carries. The caller is responsible for releasing the returned batch.
func DecodeBatch(data []byte, enc domain.Encoding) (domain.Batch, error) {
	metrics.Global().RecordBytesDecoded(len(data))
	raw, err := decompress(enc, data)
	if err != nil {
		return nil, err
	}
	r, err := ipc.NewReader(bytes.NewReader(raw), ipc.WithAllocator(defaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("open arrow ipc frame: %w", err)
	}
	defer r.Release()
	if !r.Next() {
		return nil, fmt.Errorf("arrow ipc frame carries no record batch")
	}
	rec := r.Record()
	rec.Retain()
	return rec, nil
}

// EncodeSchema serializes schema alone, as a zero-row Arrow IPC stream, so
// it can travel in Payload.SchemaBytes independent of the data frames
// (spec §3: "schema: bytes encoding the output schema").
func EncodeSchema(schema domain.Schema) ([]byte, error) {
	empty := domain.EmptyBatch(defaultAllocator, schema)
	defer empty.Release()
	var raw bytes.Buffer
	w := ipc.NewWriter(&raw, ipc.WithSchema(schema), ipc.WithAllocator(defaultAllocator))
	if err := w.Write(empty); err != nil {
		return nil, fmt.Errorf("write arrow ipc schema frame: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close arrow ipc schema writer: %w", err)
	}
	return raw.Bytes(), nil
}

// DecodeSchema reverses EncodeSchema.
func DecodeSchema(data []byte) (domain.Schema, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(defaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("open arrow ipc schema frame: %w", err)
	}
	defer r.Release()
	return r.Schema(), nil
}

// Encode builds a full Payload envelope from up to two batches sharing
// schema, per spec §4.1: "fails if the batch is empty and seq_num is
// non-negative." data2/batch2 may be nil (binary-join stages are the only
// caller that populates it, spec §3).
func Encode(batch, batch2 domain.Batch, schema domain.Schema, uuid domain.UUID, shuffleID int, ds domain.DataSource, enc domain.Encoding, meta map[string]string) (domain.Payload, error) {
	if enc == "" {
		enc = domain.DefaultEncoding
	}
	if domain.IsEmptyBatch(batch) && uuid.SeqNum >= 0 {
		return domain.Payload{}, fmt.Errorf("encode: empty batch with non-negative seq_num %d", uuid.SeqNum)
	}
	if int(schema.NumFields()) != int(batch.NumCols()) {
		return domain.Payload{}, fmt.Errorf("encode: schema has %d fields but batch has %d columns", schema.NumFields(), batch.NumCols())
	}

	schemaBytes, err := EncodeSchema(schema)
	if err != nil {
		return domain.Payload{}, err
	}
	data, err := EncodeBatch(batch, enc)
	if err != nil {
		return domain.Payload{}, fmt.Errorf("encode data: %w", err)
	}

	p := domain.Payload{
		UUID:        uuid,
		DataSource:  ds,
		Encoding:    enc,
		SchemaBytes: schemaBytes,
		Data:        data,
		Metadata:    meta,
		ShuffleID:   shuffleID,
	}
	if batch2 != nil {
		data2, err := EncodeBatch(batch2, enc)
		if err != nil {
			return domain.Payload{}, fmt.Errorf("encode data2: %w", err)
		}
		p.Data2 = data2
	}
	return p, nil
}

// Decoded holds the result of decoding a Payload envelope.
type Decoded struct {
	Batch     domain.Batch
	Batch2    domain.Batch // nil unless the payload carries a binary-join second frame
	Schema    domain.Schema
	UUID      domain.UUID
	ShuffleID int
	Metadata  map[string]string
}

// Decode reverses Encode (spec §4.1 decode contract): it is a round-trip
// identity on batch values and schema for the lossless compressors, and
// validates that the declared encoding matches the algorithm used (a
// mismatch surfaces as a decompression error from DecodeBatch).
func Decode(p domain.Payload) (Decoded, error) {
	schema, err := DecodeSchema(p.SchemaBytes)
	if err != nil {
		return Decoded{}, fmt.Errorf("decode schema: %w", err)
	}

	out := Decoded{Schema: schema, UUID: p.UUID, ShuffleID: p.ShuffleID, Metadata: p.Metadata}

	if len(p.Data) > 0 {
		batch, err := DecodeBatch(p.Data, p.Encoding)
		if err != nil {
			return Decoded{}, fmt.Errorf("decode data: %w", err)
		}
		out.Batch = batch
	} else {
		out.Batch = domain.EmptyBatch(defaultAllocator, schema)
	}

	if len(p.Data2) > 0 {
		batch2, err := DecodeBatch(p.Data2, p.Encoding)
		if err != nil {
			return Decoded{}, fmt.Errorf("decode data2: %w", err)
		}
		out.Batch2 = batch2
	}

	if int(schema.NumFields()) != int(out.Batch.NumCols()) {
		return Decoded{}, fmt.Errorf("decode: schema field count %d does not match batch column count %d", schema.NumFields(), out.Batch.NumCols())
	}

	return out, nil
}

// IsEmptyData reports whether every batch embedded in p has zero rows
// (spec §4.1 "is_empty_data").
func IsEmptyData(p domain.Payload) (bool, error) {
	d, err := Decode(p)
	if err != nil {
		return false, err
	}
	if !domain.IsEmptyBatch(d.Batch) {
		return false, nil
	}
	if d.Batch2 != nil && !domain.IsEmptyBatch(d.Batch2) {
		return false, nil
	}
	return true, nil
}

// EnvelopeSize estimates the wire size of p's compressed frames. The
// dispatcher does not call it; no object-store path for oversized
// payloads exists.
func EnvelopeSize(p domain.Payload) int {
	return len(p.Data) + len(p.Data2) + len(p.SchemaBytes)
}

var _ = array.NewBuilder // referenced indirectly via domain.EmptyBatch; keeps import intent explicit for readers of this package
var _ arrow.Allocator = defaultAllocator
