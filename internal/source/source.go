// Package source implements C8, the source coordinator: the entry point
// that seeds a fresh query instance's uuid, issues the first invocation,
// and — for local and test runs — blocks on the terminal sink's response
// (spec §4.2 "a query instance begins when the source coordinator mints
// a qid and invokes plan index 0").
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/flocksql/flock/internal/codec"
	"github.com/flocksql/flock/internal/domain"
	"github.com/flocksql/flock/internal/invoke"
	"github.com/flocksql/flock/internal/logging"
	"github.com/flocksql/flock/internal/observability"
)

// EventSource produces the batches a query instance is seeded with, one
// call per window (spec §9 "generators" — NEXMark and YSB are the two
// concrete sources this repository ships, internal/gen).
type EventSource interface {
	Next(ctx context.Context) (domain.Batch, domain.Schema, error)
}

// Coordinator drives one query instance's source-side invocation loop.
type Coordinator struct {
	Invoker  invoke.Invoker
	Encoding domain.Encoding
}

// New constructs a Coordinator.
func New(invoker invoke.Invoker, enc domain.Encoding) *Coordinator {
	if enc == "" {
		enc = domain.DefaultEncoding
	}
	return &Coordinator{Invoker: invoker, Encoding: enc}
}

// Run mints a fresh qid from queryCode, sends one window's worth of
// batches from src to firstStage, and — when sync is true — returns
// whatever that stage's invocation chain ultimately produces (spec §4.6
// "a synchronous invocation_type blocks the caller on the full pipeline's
// completion", the mode the CLI's query-execution commands use).
func (c *Coordinator) Run(ctx context.Context, firstStage, queryCode string, src EventSource, sync bool) (domain.Payload, error) {
	ctx, span := observability.StartServerSpan(ctx, "source.Run",
		observability.AttrStageName.String(firstStage),
		observability.AttrQID.String(queryCode),
	)
	defer span.End()

	batch, schema, err := src.Next(ctx)
	if err != nil {
		observability.SetSpanError(span, err)
		return domain.Payload{}, fmt.Errorf("source: read next window: %w", err)
	}

	builder := domain.NewUUIDBuilder(queryCode, time.Now(), 1)
	u := builder.Next()

	meta := map[string]string{domain.MetaInvocationType: domain.InvocationAsync}
	if sync {
		meta[domain.MetaInvocationType] = domain.InvocationSync
	}

	payload, err := codec.Encode(batch, nil, schema, u, 0, domain.DataSourceGenerator, c.Encoding, meta)
	if err != nil {
		observability.SetSpanError(span, err)
		return domain.Payload{}, fmt.Errorf("source: encode seed payload: %w", err)
	}

	logging.Op().Info("source run started", "stage", firstStage, "qid", u.QID, "sync", sync)
	resp, err := c.Invoker.Invoke(ctx, firstStage, payload, sync)
	if err != nil {
		observability.SetSpanError(span, err)
		return resp, err
	}
	observability.SetSpanOK(span)
	return resp, nil
}
