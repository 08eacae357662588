// Package runlock guards against overlapping synchronization runs.
package runlock

import (
	"context"
	"sync"
)

// Locker hands out exclusive, named locks
// This allows for both in-memory (single instance) and distributed (Redis) implementations
type Locker interface {
	// Acquire takes the lock for key. It returns false without blocking when
	// the lock is already held.
	Acquire(ctx context.Context, key string) (bool, error)
	// Release frees a lock taken by this locker.
	Release(ctx context.Context, key string) error
}

// Memory is a process-local Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory creates an in-memory locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// Acquire takes the lock for key if it is free.
func (m *Memory) Acquire(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = struct{}{}
	return true, nil
}

// Release frees the lock for key.
func (m *Memory) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

// Ensure Memory implements Locker interface
var _ Locker = (*Memory)(nil)
