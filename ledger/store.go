/*
store.go - Persistence interface for the entry log

PURPOSE:
  The interface between ledger logic and the database. Append-only: no
  Update, no Delete, ever. Corrections are reversal entries.

OPTIMISTIC VERSIONING:
  Each project has a head version equal to the count of its entries.
  AppendEntries carries the version the caller read; if the store's head
  moved in between, the append fails with ErrConcurrentModification and
  nothing is written. Combined with the in-process per-project lock this
  gives spec'd serialization even across processes sharing one database.

IMPLEMENTATIONS:
  - store/sqlite: durable, WAL mode, unique indexes back the idempotency
    and one-release-per-milestone guards
  - ledger/store (memory.go): in-memory, for tests and dev
*/
package ledger

import "context"

// Store persists ledger entries. APPEND-ONLY: no Update, no Delete.
type Store interface {
	// AppendEntries atomically appends entries for one project. The caller
	// passes the head version it read; a mismatch returns
	// ErrConcurrentModification with nothing written. Either all entries
	// are written or none.
	AppendEntries(ctx context.Context, projectID ProjectID, fromVersion uint64, entries []Entry) error

	// LoadEntries returns all entries for a project in append order, plus
	// the head version (== entry count).
	LoadEntries(ctx context.Context, projectID ProjectID) ([]Entry, uint64, error)

	// GetEntry returns one entry by id, or ErrEntryNotFound.
	GetEntry(ctx context.Context, id EntryID) (*Entry, error)

	// KeyExists checks whether an idempotency key was already used.
	KeyExists(ctx context.Context, idempotencyKey string) (bool, error)
}
