package domain

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// UUID identifies one packet inside one logical query instance (spec §3).
// QID identifies the query instance, SeqNum identifies this packet within
// a window, and SeqLen is the expected packet count for that window. A
// negative SeqNum on persisted state marks an empty-partition placeholder.
type UUID struct {
	QID    string `json:"qid"`
	SeqNum int    `json:"seq_num"`
	SeqLen int    `json:"seq_len"`
}

// IsPlaceholder reports whether this uuid marks an empty-data placeholder
// persisted to complete a window (spec §3).
func (u UUID) IsPlaceholder() bool {
	return u.SeqNum < 0
}

// String renders the uuid as "<qid>#<seq_num>/<seq_len>", used in log lines.
func (u UUID) String() string {
	return fmt.Sprintf("%s#%d/%d", u.QID, u.SeqNum, u.SeqLen)
}

// UUIDBuilder mints fresh UUIDs for one logical group of sibling packets,
// all sharing the same QID and SeqLen but incrementing SeqNum — the
// mechanism spec §4.6 requires when an aggregator fans its output back out
// into a fresh window ("seeded with (name, now, seq_len=partition_count)").
type UUIDBuilder struct {
	qid    string
	seqLen int
	next   atomic.Int64
}

// NewUUIDBuilder seeds a builder from a stage name, a timestamp, and the
// number of packets the resulting window will contain.
func NewUUIDBuilder(name string, now time.Time, seqLen int) *UUIDBuilder {
	return &UUIDBuilder{
		qid:    NewQID(name, now),
		seqLen: seqLen,
	}
}

// NewUUIDBuilderForQID seeds a builder that reuses an existing qid — used
// by the source coordinator (C8) to seed the very first window.
func NewUUIDBuilderForQID(qid string, seqLen int) *UUIDBuilder {
	return &UUIDBuilder{qid: qid, seqLen: seqLen}
}

// Next returns the next UUID in sequence, starting at seq_num 0.
func (b *UUIDBuilder) Next() UUID {
	n := b.next.Add(1) - 1
	return UUID{QID: b.qid, SeqNum: int(n), SeqLen: b.seqLen}
}

// QID returns the query-instance id this builder mints packets for.
func (b *UUIDBuilder) QID() string { return b.qid }

// SeqLen returns the expected packet count for the window this builder
// mints packets for.
func (b *UUIDBuilder) SeqLen() int { return b.seqLen }

// NewQID constructs a query-instance id in the "<query-code>-<timestamp>-
// <nonce>" format spec §3 requires, used both as the logical query id and
// as the state backend's object-store bucket name (spec §6).
func NewQID(queryCode string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", queryCode, now.UnixNano(), uuid.NewString()[:8])
}
