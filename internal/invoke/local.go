package invoke

import (
	"context"
	"fmt"
	"sync"

	"github.com/flocksql/flock/internal/domain"
)

// LocalInvoker dispatches directly to in-process handlers: instead of
// running a function binary, it calls a registered Go function — the shape a single-process NEXMark or
// YSB demo run needs (spec §9 "local development and testing").
type LocalInvoker struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocalInvoker constructs an empty local invoker. Stages register
// with Register once a plan is partitioned and deployed in-process (the
// CLI's demo driver in cmd/flock does this).
func NewLocalInvoker() *LocalInvoker {
	return &LocalInvoker{handlers: make(map[string]Handler)}
}

// Register binds a stage name to the handler that executes it.
func (l *LocalInvoker) Register(stageName string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[stageName] = h
}

// Invoke runs the named stage's handler on the caller's goroutine when
// sync is true. Async invocations run on a detached goroutine with errors discarded
// beyond logging's reach of the caller, matching what an async Lambda
// invocation looks like from the caller's perspective (spec §6
// invocation_type: "async").
func (l *LocalInvoker) Invoke(ctx context.Context, stageName string, payload domain.Payload, sync bool) (domain.Payload, error) {
	l.mu.RLock()
	h, ok := l.handlers[stageName]
	l.mu.RUnlock()
	if !ok {
		return domain.Payload{}, fmt.Errorf("invoke: no local handler registered for stage %q", stageName)
	}

	if sync {
		return h(ctx, payload)
	}

	go func() {
		// Detached from ctx's caller but not from ctx's cancellation: an
		// async fan-out that outlives its parent invocation is expected
		// (spec §4.6 step 3, cloud functions do not block their caller
		// on downstream completion).
		_, _ = h(ctx, payload)
	}()
	return domain.Payload{}, nil
}
