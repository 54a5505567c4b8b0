// Package gen implements the two synthetic event generators this
// repository ships behind source.EventSource: NEXMark (bid events
// only) and YSB (ad-impression clicks). Both are intentionally thin —
// full NEXMark query coverage is out of scope (spec §1 Non-goals);
// these exist to drive and benchmark the dispatch pipeline end to end.
package gen

import (
	"context"
	"math/rand"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var nexmarkSchema = arrow.NewSchema([]arrow.Field{
	{Name: "bid_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "auction", Type: arrow.PrimitiveTypes.Int64},
	{Name: "bidder", Type: arrow.PrimitiveTypes.Int64},
	{Name: "price", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// NexmarkSource generates synthetic NEXMark bid events.
type NexmarkSource struct {
	mem        memory.Allocator
	rng        *rand.Rand
	batchRows  int
	nextBidID  int64
}

// NewNexmarkSource constructs a generator seeded deterministically from
// seed, producing batchRows rows per call to Next.
func NewNexmarkSource(seed int64, batchRows int) *NexmarkSource {
	if batchRows <= 0 {
		batchRows = 100
	}
	return &NexmarkSource{
		mem:       memory.NewGoAllocator(),
		rng:       rand.New(rand.NewSource(seed)),
		batchRows: batchRows,
	}
}

// Schema returns the fixed schema this source's batches conform to,
// without consuming an event.
func (s *NexmarkSource) Schema() *arrow.Schema { return nexmarkSchema }

// Next produces one batch of synthetic bid events and the schema they
// conform to.
func (s *NexmarkSource) Next(_ context.Context) (arrow.Record, *arrow.Schema, error) {
	b := array.NewRecordBuilder(s.mem, nexmarkSchema)
	defer b.Release()

	bidID := b.Field(0).(*array.Int64Builder)
	auction := b.Field(1).(*array.Int64Builder)
	bidder := b.Field(2).(*array.Int64Builder)
	price := b.Field(3).(*array.Int64Builder)

	for i := 0; i < s.batchRows; i++ {
		bidID.Append(s.nextBidID)
		s.nextBidID++
		auction.Append(s.rng.Int63n(10000))
		bidder.Append(s.rng.Int63n(1000))
		price.Append(s.rng.Int63n(100000))
	}

	return b.NewRecord(), nexmarkSchema, nil
}
