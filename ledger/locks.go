/*
locks.go - Per-project mutual exclusion

PURPOSE:
  Ledger mutations for one project serialize; different projects never
  contend. The lock guards only the read-check-append critical section,
  which is in-memory and fast. External calls (inspection services, payment
  rails) happen outside it.

  Bare sync, the same way the stores guard their maps; a keyed-mutex
  dependency would buy nothing over a map of mutexes.
*/
package ledger

import "sync"

type lockTable struct {
	mu    sync.Mutex
	locks map[ProjectID]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[ProjectID]*sync.Mutex)}
}

// forProject returns the mutex for a project, creating it on first use.
// Locks are never removed: the per-project footprint is one mutex, and
// financial history outlives any archival anyway.
func (t *lockTable) forProject(id ProjectID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}
