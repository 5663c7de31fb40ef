package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is a process-local Store. Documents are kept as encoded JSON so
// callers never share mutable state with the store.
type Memory struct {
	mu       sync.Mutex
	docs     map[string][]byte
	failSave error
}

func NewMemory() *Memory {
	return &Memory{docs: map[string][]byte{}}
}

func (m *Memory) Load(ctx context.Context, name string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, loadErr(name, err)
	}
	m.mu.Lock()
	b, ok := m.docs[name]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, loadErr(name, err)
	}
	return true, nil
}

func (m *Memory) Save(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return saveErr(name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return saveErr(name, m.failSave)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return saveErr(name, err)
	}
	m.docs[name] = b
	return nil
}

// SetFailSave makes every following Save fail with err (nil restores saves).
func (m *Memory) SetFailSave(err error) {
	m.mu.Lock()
	m.failSave = err
	m.mu.Unlock()
}

// Raw returns the encoded document, for assertions.
func (m *Memory) Raw(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.docs[name]
	return append([]byte(nil), b...), ok
}

func (m *Memory) Close() error { return nil }
