// Package invoke abstracts "call the next stage" (spec §4.6 step 3) so
// the dispatcher does not need to know whether its successor runs as a
// deployed cloud function or as a goroutine in the same process. Its one
// concern is to deliver one Payload to one named stage and, for
// synchronous callers, wait for its response.
package invoke

import (
	"context"

	"github.com/flocksql/flock/internal/domain"
)

// Invoker abstracts stage-to-stage invocation.
//
// # Contract
//
// Implementations must be safe for concurrent use: the dispatcher's
// bounded fan-out (spec §4.6 step 3) calls Invoke from multiple
// goroutines for the same stage concurrently.
//
// # Idempotency
//
// Not guaranteed by the interface. At-least-once delivery is expected;
// the window arena's processed set (internal/window) is what makes a
// duplicate delivery safe, not the invoker.
type Invoker interface {
	// Invoke delivers payload to the named stage. sync controls whether
	// the call blocks for the stage's response (the source coordinator
	// passes its caller's choice; the dispatcher forwards the incoming
	// invocation_type metadata, spec §4.6 step 3, §6 invocation_type).
	Invoke(ctx context.Context, stageName string, payload domain.Payload, sync bool) (domain.Payload, error)
}

// Handler is the shape a stage's execution entry point presents to a
// LocalInvoker (spec §4.3's execute/execute_partitioned operations,
// wrapped by the dispatcher).
type Handler func(ctx context.Context, payload domain.Payload) (domain.Payload, error)
