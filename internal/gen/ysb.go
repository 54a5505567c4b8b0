package gen

import (
	"context"
	"math/rand"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var ysbSchema = arrow.NewSchema([]arrow.Field{
	{Name: "user_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "campaign_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "ad_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "event_type", Type: arrow.BinaryTypes.String},
}, nil)

var ysbEventTypes = []string{"view", "click", "purchase"}

// YSBSource generates synthetic Yahoo Streaming Benchmark ad-impression
// events across a fixed number of campaigns.
type YSBSource struct {
	mem       memory.Allocator
	rng       *rand.Rand
	batchRows int
	campaigns int
}

// NewYSBSource constructs a generator seeded deterministically from seed,
// spreading events across campaigns distinct campaign ids.
func NewYSBSource(seed int64, batchRows, campaigns int) *YSBSource {
	if batchRows <= 0 {
		batchRows = 100
	}
	if campaigns <= 0 {
		campaigns = 10
	}
	return &YSBSource{
		mem:       memory.NewGoAllocator(),
		rng:       rand.New(rand.NewSource(seed)),
		batchRows: batchRows,
		campaigns: campaigns,
	}
}

// Schema returns the fixed schema this source's batches conform to,
// without consuming an event.
func (s *YSBSource) Schema() *arrow.Schema { return ysbSchema }

// Next produces one batch of synthetic ad-impression events.
func (s *YSBSource) Next(_ context.Context) (arrow.Record, *arrow.Schema, error) {
	b := array.NewRecordBuilder(s.mem, ysbSchema)
	defer b.Release()

	userID := b.Field(0).(*array.Int64Builder)
	campaignID := b.Field(1).(*array.Int64Builder)
	adID := b.Field(2).(*array.Int64Builder)
	eventType := b.Field(3).(*array.StringBuilder)

	for i := 0; i < s.batchRows; i++ {
		userID.Append(s.rng.Int63n(1_000_000))
		campaign := s.rng.Int63n(int64(s.campaigns))
		campaignID.Append(campaign)
		adID.Append(campaign*100 + s.rng.Int63n(100))
		eventType.Append(ysbEventTypes[s.rng.Intn(len(ysbEventTypes))])
	}

	return b.NewRecord(), ysbSchema, nil
}
