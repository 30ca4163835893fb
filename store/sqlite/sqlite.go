/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store (the append-only entry log) and escrow.Store
  (projects, milestones, disputes) in one database. The same patterns apply
  to PostgreSQL; only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE ever touches the entries table. Corrections are
  reversal entries. Milestone and dispute rows are mutable lifecycle state;
  the money history is not.

KEY INDEXES:
  idx_entries_project_seq     unique, backs the per-project total order
  idx_entries_one_release     unique, at most one account-level release per
                              milestone - the double-payout guard holds even
                              if two processes race past the in-memory lock
  idx_entries_one_settlement  unique, one settlement per authorization entry
  idx_entries_idempotency     unique, retry rejection

OPTIMISTIC VERSIONING:
  project_heads carries one version per project, equal to its entry count.
  AppendEntries bumps it with a compare-and-set UPDATE; zero rows affected
  means a concurrent writer won and the caller gets
  ledger.ErrConcurrentModification with nothing written.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer, better crash recovery.

SEE ALSO:
  - ledger/store.go, escrow/store.go: interface definitions
  - ledger/store/memory.go, escrow/memory.go: in-memory counterparts
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/buildvault/escrow-engine/escrow"
	"github.com/buildvault/escrow-engine/gate"
	"github.com/buildvault/escrow-engine/ledger"
)

// Store implements ledger.Store and escrow.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ ledger.Store = (*Store)(nil)
	_ escrow.Store = (*Store)(nil)
)

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The sqlite driver serializes writes; a second writer connection only
	// buys "database is locked" errors.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Entries (append-only ledger; no UPDATE, no DELETE, ever)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		milestone_id TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		amount INTEGER NOT NULL,
		payee_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		ref_entry_id TEXT NOT NULL DEFAULT '',
		ref_direction TEXT NOT NULL DEFAULT '',
		ref_source TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		rail_ref TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		seq INTEGER NOT NULL,
		snap_deposited INTEGER NOT NULL,
		snap_held INTEGER NOT NULL,
		snap_released INTEGER NOT NULL,
		snap_refunded INTEGER NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Per-project total order
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_project_seq
		ON entries(project_id, seq);

	-- CRITICAL: at most one account-level release entry per milestone.
	-- The database-level double-payout guard.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_one_release
		ON entries(milestone_id)
		WHERE direction = 'release' AND payee_id = '';

	-- One settlement confirmation per authorization entry
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_one_settlement
		ON entries(ref_entry_id)
		WHERE direction = 'settlement';

	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_idempotency
		ON entries(idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_entries_milestone
		ON entries(milestone_id) WHERE milestone_id != '';

	-- Optimistic heads: version == entry count per project
	CREATE TABLE IF NOT EXISTS project_heads (
		project_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL
	);

	-- Projects
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		client_id TEXT NOT NULL,
		gc_id TEXT NOT NULL,
		contract_value INTEGER NOT NULL,
		milestone_ids_json TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Milestones (mutable lifecycle rows; tombstoned as voided, never deleted)
	CREATE TABLE IF NOT EXISTS milestones (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		amount INTEGER NOT NULL,
		shares_json TEXT NOT NULL DEFAULT '[]',
		payer_id TEXT NOT NULL,
		gate_config TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		proof_refs_json TEXT NOT NULL DEFAULT '[]',
		submitted_at TEXT NOT NULL DEFAULT '',
		approval_json TEXT NOT NULL DEFAULT '',
		inspection_json TEXT NOT NULL DEFAULT '',
		due_at TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_milestones_project
		ON milestones(project_id);
	CREATE INDEX IF NOT EXISTS idx_milestones_state
		ON milestones(state);

	-- Disputes
	CREATE TABLE IF NOT EXISTS disputes (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		milestone_id TEXT NOT NULL,
		opened_by TEXT NOT NULL,
		claim INTEGER NOT NULL,
		claim_note TEXT NOT NULL DEFAULT '',
		counter_claim INTEGER NOT NULL DEFAULT 0,
		counter_note TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		escalated INTEGER NOT NULL DEFAULT 0,
		resolution TEXT NOT NULL DEFAULT '',
		partial_paid INTEGER NOT NULL DEFAULT 0,
		refund_amount INTEGER NOT NULL DEFAULT 0,
		opened_at TEXT NOT NULL,
		resolved_at TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_disputes_project
		ON disputes(project_id);
	CREATE INDEX IF NOT EXISTS idx_disputes_milestone
		ON disputes(milestone_id);
	CREATE INDEX IF NOT EXISTS idx_disputes_status
		ON disputes(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (ledger.Store interface)
// =============================================================================

// AppendEntries atomically appends entries at the expected head version.
func (s *Store) AppendEntries(ctx context.Context, projectID ledger.ProjectID, fromVersion uint64, entries []ledger.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO project_heads (project_id, version) VALUES (?, 0)`, projectID); err != nil {
		return fmt.Errorf("failed to ensure project head: %w", err)
	}

	// Compare-and-set: zero rows means a concurrent writer moved the head.
	res, err := tx.ExecContext(ctx,
		`UPDATE project_heads SET version = ? WHERE project_id = ? AND version = ?`,
		fromVersion+uint64(len(entries)), projectID, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to advance project head: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrConcurrentModification
	}

	for _, e := range entries {
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertEntry(ctx context.Context, tx *sql.Tx, e ledger.Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entries
		(id, project_id, milestone_id, direction, amount, payee_id, source,
		 ref_entry_id, ref_direction, ref_source, reason, rail_ref,
		 idempotency_key, seq, snap_deposited, snap_held, snap_released,
		 snap_refunded, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.MilestoneID, e.Direction, int64(e.Amount),
		e.PayeeID, e.Source, e.RefEntryID, e.RefDirection, e.RefSource,
		e.Reason, e.RailRef, nullString(e.IdempotencyKey), e.Seq,
		int64(e.Snapshot.Deposited), int64(e.Snapshot.Held),
		int64(e.Snapshot.Released), int64(e.Snapshot.Refunded),
		e.CreatedBy, e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// SQLite names the constrained columns, not the index:
			// "UNIQUE constraint failed: entries.milestone_id".
			switch {
			case strings.Contains(err.Error(), "entries.milestone_id"):
				return ledger.ErrAlreadyReleased
			case strings.Contains(err.Error(), "entries.ref_entry_id"):
				return ledger.ErrAlreadySettled
			case strings.Contains(err.Error(), "entries.seq"):
				return ledger.ErrConcurrentModification
			default:
				return ledger.ErrDuplicateIdempotencyKey
			}
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// LoadEntries returns all entries for a project in append order with the
// head version.
func (s *Store) LoadEntries(ctx context.Context, projectID ledger.ProjectID) ([]ledger.Entry, uint64, error) {
	rows, err := s.db.QueryContext(ctx, entrySelect+`
		WHERE project_id = ?
		ORDER BY seq ASC`, projectID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var version uint64
	err = s.db.QueryRowContext(ctx,
		`SELECT version FROM project_heads WHERE project_id = ?`, projectID).Scan(&version)
	if err == sql.ErrNoRows {
		return entries, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load project head: %w", err)
	}
	return entries, version, nil
}

// GetEntry returns one entry by id.
func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, entrySelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ledger.ErrEntryNotFound
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// KeyExists checks whether an idempotency key was already used.
func (s *Store) KeyExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM entries WHERE idempotency_key = ?`, idempotencyKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return n > 0, nil
}

const entrySelect = `
	SELECT id, project_id, milestone_id, direction, amount, payee_id, source,
	       ref_entry_id, ref_direction, ref_source, reason, rail_ref,
	       idempotency_key, seq, snap_deposited, snap_held, snap_released,
	       snap_refunded, created_by, created_at
	FROM entries`

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e         ledger.Entry
		amount    int64
		idemKey   sql.NullString
		snapDep   int64
		snapHeld  int64
		snapRel   int64
		snapRef   int64
		createdAt string
	)
	err := rows.Scan(&e.ID, &e.ProjectID, &e.MilestoneID, &e.Direction, &amount,
		&e.PayeeID, &e.Source, &e.RefEntryID, &e.RefDirection, &e.RefSource,
		&e.Reason, &e.RailRef, &idemKey, &e.Seq, &snapDep, &snapHeld, &snapRel,
		&snapRef, &e.CreatedBy, &createdAt)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.Amount = ledger.Amount(amount)
	e.IdempotencyKey = idemKey.String
	e.Snapshot = ledger.AccountSnapshot{
		ProjectID: e.ProjectID,
		Deposited: ledger.Amount(snapDep),
		Held:      ledger.Amount(snapHeld),
		Released:  ledger.Amount(snapRel),
		Refunded:  ledger.Amount(snapRef),
		Seq:       e.Seq,
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

// =============================================================================
// PROJECT STORE (escrow.Store interface)
// =============================================================================

func (s *Store) CreateProject(ctx context.Context, p *escrow.Project) error {
	idsJSON, _ := json.Marshal(p.MilestoneIDs)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects
		(id, name, client_id, gc_id, contract_value, milestone_ids_json, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.ClientID, p.GCID, int64(p.ContractValue),
		string(idsJSON), p.Status,
		p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*escrow.Project, error) {
	rows, err := s.db.QueryContext(ctx, projectSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ledger.ErrProjectNotFound
	}
	return scanProject(rows)
}

func (s *Store) ListProjects(ctx context.Context) ([]*escrow.Project, error) {
	rows, err := s.db.QueryContext(ctx, projectSelect+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*escrow.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProject(ctx context.Context, p *escrow.Project) error {
	idsJSON, _ := json.Marshal(p.MilestoneIDs)
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET name = ?, contract_value = ?, milestone_ids_json = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, int64(p.ContractValue), string(idsJSON), p.Status,
		p.UpdatedAt.Format(time.RFC3339Nano), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrProjectNotFound
	}
	return nil
}

const projectSelect = `
	SELECT id, name, client_id, gc_id, contract_value, milestone_ids_json, status, created_at, updated_at
	FROM projects`

func scanProject(rows *sql.Rows) (*escrow.Project, error) {
	var (
		p         escrow.Project
		value     int64
		idsJSON   string
		createdAt string
		updatedAt string
	)
	if err := rows.Scan(&p.ID, &p.Name, &p.ClientID, &p.GCID, &value, &idsJSON,
		&p.Status, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.ContractValue = ledger.Amount(value)
	json.Unmarshal([]byte(idsJSON), &p.MilestoneIDs)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}

// =============================================================================
// MILESTONE STORE
// =============================================================================

func (s *Store) CreateMilestone(ctx context.Context, m *escrow.Milestone) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milestones
		(id, project_id, seq, name, amount, shares_json, payer_id, gate_config,
		 state, attempts, proof_refs_json, submitted_at, approval_json,
		 inspection_json, due_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		milestoneArgs(m)...)
	if err != nil {
		return fmt.Errorf("failed to create milestone: %w", err)
	}
	return nil
}

func (s *Store) GetMilestone(ctx context.Context, id string) (*escrow.Milestone, error) {
	rows, err := s.db.QueryContext(ctx, milestoneSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get milestone: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, escrow.ErrMilestoneNotFound
	}
	return scanMilestone(rows)
}

func (s *Store) ListMilestones(ctx context.Context, projectID string) ([]*escrow.Milestone, error) {
	rows, err := s.db.QueryContext(ctx, milestoneSelect+`
		WHERE project_id = ? ORDER BY seq ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	defer rows.Close()

	var out []*escrow.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateMilestone(ctx context.Context, m *escrow.Milestone) error {
	args := milestoneArgs(m)
	// Shift id to the WHERE position.
	args = append(args[1:], args[0])
	res, err := s.db.ExecContext(ctx, `
		UPDATE milestones
		SET project_id = ?, seq = ?, name = ?, amount = ?, shares_json = ?,
		    payer_id = ?, gate_config = ?, state = ?, attempts = ?,
		    proof_refs_json = ?, submitted_at = ?, approval_json = ?,
		    inspection_json = ?, due_at = ?, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update milestone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return escrow.ErrMilestoneNotFound
	}
	return nil
}

const milestoneSelect = `
	SELECT id, project_id, seq, name, amount, shares_json, payer_id, gate_config,
	       state, attempts, proof_refs_json, submitted_at, approval_json,
	       inspection_json, due_at, updated_at
	FROM milestones`

func milestoneArgs(m *escrow.Milestone) []any {
	sharesJSON, _ := json.Marshal(m.Shares)
	proofsJSON, _ := json.Marshal(m.ProofRefs)
	approvalJSON := ""
	if m.Approval != nil {
		b, _ := json.Marshal(m.Approval)
		approvalJSON = string(b)
	}
	inspectionJSON := ""
	if m.Inspection != nil {
		b, _ := json.Marshal(m.Inspection)
		inspectionJSON = string(b)
	}
	return []any{
		m.ID, m.ProjectID, m.Seq, m.Name, int64(m.Amount), string(sharesJSON),
		m.PayerID, m.GateConfig, m.State, m.Attempts, string(proofsJSON),
		timeOrEmpty(m.SubmittedAt), approvalJSON, inspectionJSON,
		timeOrEmpty(m.DueAt), m.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func scanMilestone(rows *sql.Rows) (*escrow.Milestone, error) {
	var (
		m              escrow.Milestone
		amount         int64
		sharesJSON     string
		proofsJSON     string
		submittedAt    string
		approvalJSON   string
		inspectionJSON string
		dueAt          string
		updatedAt      string
	)
	if err := rows.Scan(&m.ID, &m.ProjectID, &m.Seq, &m.Name, &amount,
		&sharesJSON, &m.PayerID, &m.GateConfig, &m.State, &m.Attempts,
		&proofsJSON, &submittedAt, &approvalJSON, &inspectionJSON,
		&dueAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan milestone: %w", err)
	}
	m.Amount = ledger.Amount(amount)
	json.Unmarshal([]byte(sharesJSON), &m.Shares)
	json.Unmarshal([]byte(proofsJSON), &m.ProofRefs)
	if approvalJSON != "" {
		var a gate.Approval
		if json.Unmarshal([]byte(approvalJSON), &a) == nil {
			m.Approval = &a
		}
	}
	if inspectionJSON != "" {
		var i gate.InspectionResult
		if json.Unmarshal([]byte(inspectionJSON), &i) == nil {
			m.Inspection = &i
		}
	}
	m.SubmittedAt = parseTimeOrZero(submittedAt)
	m.DueAt = parseTimeOrZero(dueAt)
	m.UpdatedAt = parseTimeOrZero(updatedAt)
	return &m, nil
}

// =============================================================================
// DISPUTE STORE
// =============================================================================

func (s *Store) CreateDispute(ctx context.Context, d *escrow.Dispute) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disputes
		(id, project_id, milestone_id, opened_by, claim, claim_note,
		 counter_claim, counter_note, status, escalated, resolution,
		 partial_paid, refund_amount, opened_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.MilestoneID, d.OpenedBy, int64(d.Claim),
		d.ClaimNote, int64(d.CounterClaim), d.CounterNote, d.Status,
		boolToInt(d.Escalated), d.Resolution, int64(d.PartialPaid),
		int64(d.RefundAmount), d.OpenedAt.Format(time.RFC3339Nano),
		timeOrEmpty(d.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

func (s *Store) GetDispute(ctx context.Context, id string) (*escrow.Dispute, error) {
	rows, err := s.db.QueryContext(ctx, disputeSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, escrow.ErrDisputeNotFound
	}
	return scanDispute(rows)
}

func (s *Store) ListDisputes(ctx context.Context, projectID string) ([]*escrow.Dispute, error) {
	rows, err := s.db.QueryContext(ctx, disputeSelect+`
		WHERE project_id = ? ORDER BY opened_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	var out []*escrow.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) OpenDisputeForMilestone(ctx context.Context, milestoneID string) (*escrow.Dispute, error) {
	rows, err := s.db.QueryContext(ctx, disputeSelect+`
		WHERE milestone_id = ? AND status = ? LIMIT 1`, milestoneID, escrow.DisputeOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open dispute: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	return scanDispute(rows)
}

func (s *Store) UpdateDispute(ctx context.Context, d *escrow.Dispute) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE disputes
		SET counter_claim = ?, counter_note = ?, status = ?, escalated = ?,
		    resolution = ?, partial_paid = ?, refund_amount = ?, resolved_at = ?
		WHERE id = ?`,
		int64(d.CounterClaim), d.CounterNote, d.Status, boolToInt(d.Escalated),
		d.Resolution, int64(d.PartialPaid), int64(d.RefundAmount),
		timeOrEmpty(d.ResolvedAt), d.ID)
	if err != nil {
		return fmt.Errorf("failed to update dispute: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return escrow.ErrDisputeNotFound
	}
	return nil
}

const disputeSelect = `
	SELECT id, project_id, milestone_id, opened_by, claim, claim_note,
	       counter_claim, counter_note, status, escalated, resolution,
	       partial_paid, refund_amount, opened_at, resolved_at
	FROM disputes`

func scanDispute(rows *sql.Rows) (*escrow.Dispute, error) {
	var (
		d            escrow.Dispute
		claim        int64
		counterClaim int64
		escalated    int
		partialPaid  int64
		refundAmount int64
		openedAt     string
		resolvedAt   string
	)
	if err := rows.Scan(&d.ID, &d.ProjectID, &d.MilestoneID, &d.OpenedBy,
		&claim, &d.ClaimNote, &counterClaim, &d.CounterNote, &d.Status,
		&escalated, &d.Resolution, &partialPaid, &refundAmount,
		&openedAt, &resolvedAt); err != nil {
		return nil, fmt.Errorf("failed to scan dispute: %w", err)
	}
	d.Claim = ledger.Amount(claim)
	d.CounterClaim = ledger.Amount(counterClaim)
	d.Escalated = escalated != 0
	d.PartialPaid = ledger.Amount(partialPaid)
	d.RefundAmount = ledger.Amount(refundAmount)
	d.OpenedAt = parseTimeOrZero(openedAt)
	d.ResolvedAt = parseTimeOrZero(resolvedAt)
	return &d, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func timeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
