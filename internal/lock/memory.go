// Package lock provides LockManager implementations: an in-process one
// for tests and single-node deployments, and a Redis-backed one for
// distributed use. Every read-modify-write cycle against the blob
// store must run under one of these leases.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/averros/signflow/pkg/api"
)

// handle is the LockHandle implementation shared by both managers.
type handle struct {
	key   string
	token string
}

func (h *handle) Key() string   { return h.key }
func (h *handle) Token() string { return h.token }

// MemoryManager is an in-process api.LockManager with lease expiry.
type MemoryManager struct {
	mu     sync.Mutex
	clock  api.Clock
	leases map[string]memoryLease
}

type memoryLease struct {
	token   string
	expires time.Time
}

var _ api.LockManager = (*MemoryManager)(nil)

// NewMemoryManager returns a MemoryManager using the given clock.
// A nil clock means the system clock.
func NewMemoryManager(clock api.Clock) *MemoryManager {
	if clock == nil {
		clock = api.SystemClock{}
	}
	return &MemoryManager{
		clock:  clock,
		leases: make(map[string]memoryLease),
	}
}

func (m *MemoryManager) Acquire(ctx context.Context, key string, ttl time.Duration) (api.LockHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if lease, ok := m.leases[key]; ok && lease.expires.After(now) {
		return nil, api.ErrLockUnavailable
	}

	token := uuid.NewString()
	m.leases[key] = memoryLease{token: token, expires: now.Add(ttl)}
	return &handle{key: key, token: token}, nil
}

func (m *MemoryManager) Release(ctx context.Context, h api.LockHandle) error {
	if h == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Only the current holder may release; a stale handle whose lease
	// already expired and was re-acquired must not evict the new holder.
	if lease, ok := m.leases[h.Key()]; ok && lease.token == h.Token() {
		delete(m.leases, h.Key())
	}
	return nil
}
