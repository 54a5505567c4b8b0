package invoke

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flocksql/flock/internal/domain"
)

func TestLocalInvokerSyncReturnsHandlerResult(t *testing.T) {
	l := NewLocalInvoker()
	l.Register("stage-a", func(_ context.Context, p domain.Payload) (domain.Payload, error) {
		p.ShuffleID = 9
		return p, nil
	})

	out, err := l.Invoke(context.Background(), "stage-a", domain.Payload{ShuffleID: 1}, true)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.ShuffleID != 9 {
		t.Fatalf("expected handler's mutation to be returned, got %+v", out)
	}
}

func TestLocalInvokerMissingStage(t *testing.T) {
	l := NewLocalInvoker()
	if _, err := l.Invoke(context.Background(), "missing", domain.Payload{}, true); err == nil {
		t.Fatal("expected error invoking an unregistered stage")
	}
}

func TestLocalInvokerAsyncDoesNotBlock(t *testing.T) {
	l := NewLocalInvoker()
	done := make(chan struct{})
	l.Register("stage-b", func(_ context.Context, p domain.Payload) (domain.Payload, error) {
		close(done)
		return domain.Payload{}, errors.New("irrelevant")
	})

	out, err := l.Invoke(context.Background(), "stage-b", domain.Payload{}, false)
	if err != nil {
		t.Fatalf("async Invoke should not surface the handler's error: %v", err)
	}
	if out.UUID != (domain.UUID{}) || out.Data != nil {
		t.Fatalf("expected zero-value payload from async invoke, got %+v", out)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}
