package source

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/flocksql/flock/internal/domain"
)

type fixedSource struct {
	schema *arrow.Schema
}

func (f fixedSource) Next(_ context.Context) (domain.Batch, domain.Schema, error) {
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, f.schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(1)
	return b.NewRecord(), f.schema, nil
}

type capturingInvoker struct {
	gotStage string
	gotSync  bool
}

func (c *capturingInvoker) Invoke(_ context.Context, stageName string, payload domain.Payload, sync bool) (domain.Payload, error) {
	c.gotStage = stageName
	c.gotSync = sync
	return domain.Payload{UUID: payload.UUID}, nil
}

func TestCoordinatorRunSeedsAndInvokesFirstStage(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "n", Type: arrow.PrimitiveTypes.Int64}}, nil)
	inv := &capturingInvoker{}
	c := New(inv, domain.EncodingZSTD)

	resp, err := c.Run(context.Background(), "query1234query1234-00", "query1234query1234", fixedSource{schema: schema}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if inv.gotStage != "query1234query1234-00" {
		t.Fatalf("expected invoke to target the first stage, got %q", inv.gotStage)
	}
	if !inv.gotSync {
		t.Fatal("expected a synchronous invocation")
	}
	if resp.UUID.SeqLen != 1 {
		t.Fatalf("expected the seeded uuid to have seq_len 1, got %d", resp.UUID.SeqLen)
	}
}
