// Package domain holds the data-model types shared by every Flock package:
// payloads, uuids, schemas, execution contexts, and successor descriptors.
// Nothing in domain imports another Flock package, mirroring the teacher's
// dependency-free internal/domain convention.
package domain

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Batch is an ordered sequence of columnar records sharing a schema. The
// core treats it as opaque except for row count and schema (spec §3); the
// concrete representation is Arrow's in-memory record type, supplied by
// the (out-of-core) physical plan executor.
type Batch = arrow.Record

// Schema is an ordered list of named, typed fields plus free-form metadata.
type Schema = *arrow.Schema

// EmptyBatch returns a zero-row batch conforming to schema, used to
// populate unbound leaves (spec §4.3) and to satisfy the codec's "non-empty
// unless seq_num is negative" contract for placeholder payloads.
func EmptyBatch(mem arrow.Allocator, schema Schema) Batch {
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		b := array.NewBuilder(mem, f.Type)
		cols[i] = b.NewArray()
		b.Release()
	}
	rec := array.NewRecord(schema, cols, 0)
	for _, c := range cols {
		c.Release()
	}
	return rec
}

// SchemaFieldNames returns the set of field names in schema, used
// by the leaf-matching order-insensitive subset check in spec §4.3.
func SchemaFieldNames(schema Schema) map[string]struct{} {
	names := make(map[string]struct{}, schema.NumFields())
	for _, f := range schema.Fields() {
		names[f.Name] = struct{}{}
	}
	return names
}

// SchemaIsSubset reports whether every field name in candidate also
// appears in target, independent of order — the leaf-matching rule in
// spec §4.3.
func SchemaIsSubset(candidate, target Schema) bool {
	targetNames := SchemaFieldNames(target)
	for _, f := range candidate.Fields() {
		if _, ok := targetNames[f.Name]; !ok {
			return false
		}
	}
	return true
}

// IsEmptyBatch reports whether b has zero rows.
func IsEmptyBatch(b Batch) bool {
	return b == nil || b.NumRows() == 0
}
