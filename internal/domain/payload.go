package domain

// DataSource tags the upstream origin of a payload (spec §3).
type DataSource string

const (
	DataSourceGenerator      DataSource = "generator"
	DataSourceStream         DataSource = "stream"
	DataSourceObject         DataSource = "object"
	DataSourcePreviousPacket DataSource = "previous_payload"
)

// Encoding names a compression algorithm applied to Data/Data2 (spec §4.1).
type Encoding string

const (
	EncodingSnappy Encoding = "snappy"
	EncodingLZ4    Encoding = "lz4"
	EncodingZSTD   Encoding = "zstd"
	EncodingNone   Encoding = "none"
)

// DefaultEncoding is used whenever a caller does not specify a compressor
// (spec §4.1: "zstd (default)").
const DefaultEncoding = EncodingZSTD

// Metadata hint keys carried in Payload.Metadata (spec §3).
const (
	MetaInvocationType   = "invocation_type"    // "sync" | "async"
	MetaS3Bucket         = "s3_bucket"          // large-payload fallback
	MetaS3Key            = "s3_key"             // large-payload fallback
	MetaSideInputS3Key   = "side_input_s3_key"  // optional side input
	MetaSideInputSchema  = "side_input_schema"  // side input's schema, base64
	MetaSideInputFormat  = "side_input_format"  // "csv"
	MetaSessionKey       = "session_key"        // stage-specific hint
	MetaQueryFragment    = "query_fragment"     // process-time synthesis hint
)

// InvocationType values for MetaInvocationType.
const (
	InvocationSync  = "sync"
	InvocationAsync = "async"
)

// Payload is the unit of inter-function transport (spec §3). Data/Data2
// hold two columnar batch frames (binary, post-compression); SchemaBytes holds
// the bytes that decode to the schema those frames share.
type Payload struct {
	UUID          UUID
	QueryNumber   *int64
	DataSource    DataSource
	Encoding      Encoding
	SchemaBytes   []byte
	Data          []byte
	Data2         []byte
	Metadata      map[string]string
	ShuffleID     int // 0 means "not shuffled"; >=1 names a destination partition
}

// HasShuffleID reports whether this payload belongs to a specific shuffle
// partition rather than the aggregator's sole (unshuffled) window.
func (p Payload) HasShuffleID() bool {
	return p.ShuffleID >= 1
}

// WindowID is the equality key for fan-in rendezvous at one aggregator
// (spec §3 "WindowId"): payloads with the same QID and ShuffleID belong to
// the same window, so different shuffle partitions at the same aggregator
// are distinct windows.
type WindowID struct {
	QID       string
	ShuffleID int
}

// WindowIDOf derives a payload's window id (spec §4.4 step 1).
func WindowIDOf(p Payload) WindowID {
	return WindowID{QID: p.UUID.QID, ShuffleID: p.ShuffleID}
}

// MetaOrEmpty returns p.Metadata[key], or "" if Metadata is nil or the key
// is absent.
func (p Payload) MetaOrEmpty(key string) string {
	if p.Metadata == nil {
		return ""
	}
	return p.Metadata[key]
}
