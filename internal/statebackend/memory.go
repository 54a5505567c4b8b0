package statebackend

import (
	"context"
	"sync"
)

// memoryBackend keeps state in a single process's memory. It exists for
// tests and for single-invocation local runs (internal/invoke.LocalInvoker)
// where every partition of a window is produced and consumed inside one
// process and there is no need to pay for an S3 round trip.
type memoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[Key][]byte // qid -> key -> raw
}

// NewInMemory constructs the in-memory state backend variant.
func NewInMemory() Backend {
	return &memoryBackend{data: make(map[string]map[Key][]byte)}
}

func (m *memoryBackend) Write(_ context.Context, key Key, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[key.QID]
	if !ok {
		bucket = make(map[Key][]byte)
		m.data[key.QID] = bucket
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	bucket[key] = cp
	return nil
}

func (m *memoryBackend) Read(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket, ok := m.data[key.QID]
	if !ok {
		return nil, ErrNotFound
	}
	raw, ok := bucket[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, nil
}

func (m *memoryBackend) ReadAll(_ context.Context, qid string) (map[Key][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket, ok := m.data[qid]
	if !ok {
		return map[Key][]byte{}, nil
	}
	out := make(map[Key][]byte, len(bucket))
	for k, v := range bucket {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out, nil
}

func (m *memoryBackend) isBackend() {}
