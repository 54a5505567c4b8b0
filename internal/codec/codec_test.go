package codec

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/flocksql/flock/internal/domain"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "b", Type: arrow.BinaryTypes.String},
	}, nil)
}

func testBatch(t *testing.T, schema *arrow.Schema, rows int) domain.Batch {
	t.Helper()
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for i := 0; i < rows; i++ {
		b.Field(0).(*array.Int64Builder).Append(int64(i))
		b.Field(1).(*array.StringBuilder).Append("row")
	}
	return b.NewRecord()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	schema := testSchema()
	batch := testBatch(t, schema, 3)
	defer batch.Release()

	for _, enc := range []domain.Encoding{domain.EncodingNone, domain.EncodingSnappy, domain.EncodingLZ4, domain.EncodingZSTD} {
		t.Run(string(enc), func(t *testing.T) {
			builder := domain.NewUUIDBuilder("t", time.Unix(0, 0), 1)
			uuid := builder.Next()

			p, err := Encode(batch, nil, schema, uuid, 0, domain.DataSourceGenerator, enc, map[string]string{"k": "v"})
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if p.Encoding != enc {
				t.Fatalf("expected encoding %q, got %q", enc, p.Encoding)
			}

			d, err := Decode(p)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			defer d.Batch.Release()

			if d.Batch.NumRows() != batch.NumRows() {
				t.Fatalf("expected %d rows, got %d", batch.NumRows(), d.Batch.NumRows())
			}
			if d.UUID != uuid {
				t.Fatalf("uuid not preserved: got %+v, want %+v", d.UUID, uuid)
			}
			if d.Metadata["k"] != "v" {
				t.Fatalf("metadata not preserved: %+v", d.Metadata)
			}

			empty, err := IsEmptyData(p)
			if err != nil {
				t.Fatalf("IsEmptyData: %v", err)
			}
			if empty {
				t.Fatal("expected non-empty payload")
			}
		})
	}
}

func TestEncodeRejectsEmptyBatchWithRealSeqNum(t *testing.T) {
	schema := testSchema()
	empty := testBatch(t, schema, 0)
	defer empty.Release()

	uuid := domain.UUID{QID: "q", SeqNum: 0, SeqLen: 1}
	if _, err := Encode(empty, nil, schema, uuid, 0, domain.DataSourceStream, domain.EncodingZSTD, nil); err == nil {
		t.Fatal("expected error encoding an empty batch with non-negative seq_num")
	}

	placeholder := domain.UUID{QID: "q", SeqNum: -1, SeqLen: 1}
	if _, err := Encode(empty, nil, schema, placeholder, 0, domain.DataSourceStream, domain.EncodingZSTD, nil); err != nil {
		t.Fatalf("expected placeholder (negative seq_num) empty batch to encode, got %v", err)
	}
}

func TestDecodeRejectsMismatchedEncoding(t *testing.T) {
	schema := testSchema()
	batch := testBatch(t, schema, 2)
	defer batch.Release()

	uuid := domain.UUID{QID: "q", SeqNum: 0, SeqLen: 1}
	p, err := Encode(batch, nil, schema, uuid, 0, domain.DataSourceGenerator, domain.EncodingZSTD, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	p.Encoding = domain.EncodingSnappy // lie about the algorithm used

	if _, err := Decode(p); err == nil {
		t.Fatal("expected Decode to fail on a declared encoding that does not match the payload")
	}
}

func TestEncodeDecodeBinaryJoinFrame(t *testing.T) {
	schema := testSchema()
	left := testBatch(t, schema, 2)
	right := testBatch(t, schema, 4)
	defer left.Release()
	defer right.Release()

	uuid := domain.UUID{QID: "q", SeqNum: 0, SeqLen: 1}
	p, err := Encode(left, right, schema, uuid, 0, domain.DataSourcePreviousPacket, domain.EncodingLZ4, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(p.Data2) == 0 {
		t.Fatal("expected Data2 to be populated for a binary-join frame")
	}

	d, err := Decode(p)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer d.Batch.Release()
	defer d.Batch2.Release()

	if d.Batch.NumRows() != left.NumRows() {
		t.Fatalf("left batch: got %d rows, want %d", d.Batch.NumRows(), left.NumRows())
	}
	if d.Batch2 == nil || d.Batch2.NumRows() != right.NumRows() {
		t.Fatalf("right batch: got %v, want %d rows", d.Batch2, right.NumRows())
	}
}
