package gen

import (
	"context"
	"testing"
)

func TestNexmarkSourceProducesRequestedRowCount(t *testing.T) {
	src := NewNexmarkSource(1, 50)
	b, schema, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	defer b.Release()
	if b.NumRows() != 50 {
		t.Fatalf("expected 50 rows, got %d", b.NumRows())
	}
	if int(schema.NumFields()) != 4 {
		t.Fatalf("expected 4 fields, got %d", schema.NumFields())
	}
}

func TestNexmarkSourceBidIDsAreMonotonic(t *testing.T) {
	src := NewNexmarkSource(1, 10)
	b1, _, _ := src.Next(context.Background())
	defer b1.Release()
	b2, _, _ := src.Next(context.Background())
	defer b2.Release()

	lastOfFirst := b1.Column(0).(interface{ Value(int) int64 }).Value(9)
	firstOfSecond := b2.Column(0).(interface{ Value(int) int64 }).Value(0)
	if firstOfSecond != lastOfFirst+1 {
		t.Fatalf("expected bid_id to continue monotonically across batches: %d then %d", lastOfFirst, firstOfSecond)
	}
}

func TestYSBSourceCampaignsWithinBound(t *testing.T) {
	src := NewYSBSource(2, 200, 5)
	b, _, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	defer b.Release()
	if b.NumRows() != 200 {
		t.Fatalf("expected 200 rows, got %d", b.NumRows())
	}
	campaigns := b.Column(1).(interface{ Value(int) int64 })
	for i := 0; i < int(b.NumRows()); i++ {
		if c := campaigns.Value(i); c < 0 || c >= 5 {
			t.Fatalf("row %d: campaign_id %d outside [0, 5)", i, c)
		}
	}
}
