// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/buildvault/escrow-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[ledger.ProjectID][]ledger.Entry
	byID        map[ledger.EntryID]ledger.Entry
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[ledger.ProjectID][]ledger.Entry),
		byID:        make(map[ledger.EntryID]ledger.Entry),
		idempotency: make(map[string]bool),
	}
}

// AppendEntries appends atomically at the expected version. Append-only.
func (m *Memory) AppendEntries(_ context.Context, projectID ledger.ProjectID, fromVersion uint64, entries []ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.entries[projectID]
	if uint64(len(current)) != fromVersion {
		return ledger.ErrConcurrentModification
	}

	// Check all idempotency keys before writing anything.
	for _, e := range entries {
		if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}

	for _, e := range entries {
		m.entries[projectID] = append(m.entries[projectID], e)
		m.byID[e.ID] = e
		if e.IdempotencyKey != "" {
			m.idempotency[e.IdempotencyKey] = true
		}
	}
	return nil
}

func (m *Memory) LoadEntries(_ context.Context, projectID ledger.ProjectID) ([]ledger.Entry, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.entries[projectID]
	result := make([]ledger.Entry, len(src))
	copy(result, src)
	return result, uint64(len(src)), nil
}

func (m *Memory) GetEntry(_ context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	return &e, nil
}

func (m *Memory) KeyExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}
