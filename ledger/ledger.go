/*
ledger.go - The only component permitted to mutate balances

PURPOSE:
  Every fund movement in the engine goes through a Ledger operation. Each
  operation re-reads current state under the project lock, runs the proposed
  entries through the account fold (account.go), and either commits an
  atomic append or fails with no partial effect.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no Update, no Delete. Ever.
  2. ATOMIC: an operation's entries all commit or none do.
  3. SERIALIZED: per-project lock plus optimistic store version. Two
     concurrent releases on one project cannot both read the same available
     balance and both succeed.
  4. IDEMPOTENT: retried releases and settlements are rejected as
     already-done, never double-applied.

LOCK DISCIPLINE:
  The project lock is held only for the in-memory read-check-append step.
  Nothing in this file performs external calls; rail settlement and
  inspection lookups happen in collaborators before or after, with the
  entry recording only the authorization.

SEE ALSO:
  - account.go: the invariant fold every entry passes through
  - store.go: persistence contract
  - escrow/engine.go: the domain layer that drives these operations
*/
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger appends entries for all fund movements. All other components are
// readers or submit mutation requests through it.
type Ledger struct {
	store    Store
	locks    *lockTable
	log      *zap.Logger
	now      func() time.Time
	observer func(Entry)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source. Tests pin this.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithObserver registers a callback invoked once per committed entry, after
// the append succeeds and outside the project lock. The event stream hangs
// off this.
func WithObserver(fn func(Entry)) Option {
	return func(l *Ledger) { l.observer = fn }
}

// New creates a Ledger over the given store.
func New(store Store, log *zap.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{
		store: store,
		locks: newLockTable(),
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// =============================================================================
// OPERATIONS
// =============================================================================

// RecordDeposit appends a deposit entry, increasing deposited.
func (l *Ledger) RecordDeposit(ctx context.Context, projectID ProjectID, amount Amount, by PartyID, idemKey string) (*Entry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	entries, err := l.commit(ctx, projectID, idemKey, func(state []Entry, snap AccountSnapshot) ([]Entry, error) {
		return []Entry{{
			ProjectID:      projectID,
			Direction:      DirDeposit,
			Amount:         amount,
			CreatedBy:      by,
			IdempotencyKey: idemKey,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

// Reserve moves amount from available to held for a milestone. Fails with
// ErrInsufficientFunds when the project has not been funded far enough; this
// is the mechanism that stops a project promising payouts it cannot cover.
func (l *Ledger) Reserve(ctx context.Context, projectID ProjectID, milestoneID MilestoneID, amount Amount, idemKey string) (*Entry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	entries, err := l.commit(ctx, projectID, idemKey, func(state []Entry, snap AccountSnapshot) ([]Entry, error) {
		if snap.Available() < amount {
			// Expected business condition, logged at info, never error.
			l.log.Info("reserve short of funds",
				zap.String("project", string(projectID)),
				zap.String("milestone", string(milestoneID)),
				zap.Int64("available", int64(snap.Available())),
				zap.Int64("requested", int64(amount)))
			return nil, &InsufficientFundsError{ProjectID: projectID, Available: snap.Available(), Requested: amount}
		}
		return []Entry{{
			ProjectID:      projectID,
			MilestoneID:    milestoneID,
			Direction:      DirHold,
			Amount:         amount,
			IdempotencyKey: idemKey,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

// Release moves a milestone's full held amount to released, crediting each
// payout. Emits one payout entry per share plus one account-level entry.
// Retried releases fail with ErrAlreadyReleased and change nothing.
func (l *Ledger) Release(ctx context.Context, projectID ProjectID, milestoneID MilestoneID, payouts []Payout, by PartyID, idemKey string) ([]Entry, error) {
	if len(payouts) == 0 {
		return nil, ErrShareMismatch
	}
	for _, p := range payouts {
		if !p.Amount.IsPositive() {
			return nil, ErrInvalidAmount
		}
	}
	return l.commit(ctx, projectID, idemKey, func(state []Entry, snap AccountSnapshot) ([]Entry, error) {
		if HasRelease(state, milestoneID) {
			return nil, ErrAlreadyReleased
		}
		held := HeldForMilestone(state, milestoneID)
		if held.IsZero() {
			return nil, ErrNotReserved
		}
		if total := SumPayouts(payouts); total != held {
			return nil, &ShareMismatchError{MilestoneID: milestoneID, Expected: held, Got: total}
		}
		out := make([]Entry, 0, len(payouts)+1)
		for _, p := range payouts {
			out = append(out, Entry{
				ProjectID:   projectID,
				MilestoneID: milestoneID,
				Direction:   DirRelease,
				Amount:      p.Amount,
				PayeeID:     p.PayeeID,
				CreatedBy:   by,
			})
		}
		out = append(out, Entry{
			ProjectID:      projectID,
			MilestoneID:    milestoneID,
			Direction:      DirRelease,
			Amount:         held,
			CreatedBy:      by,
			IdempotencyKey: idemKey,
		})
		return out, nil
	})
}

// Refund moves amount back toward the client, from held (dispute outcomes,
// post-reserve cancellation) or from available (pre-work cancellation).
func (l *Ledger) Refund(ctx context.Context, projectID ProjectID, milestoneID MilestoneID, amount Amount, source FundSource, by PartyID, idemKey string) (*Entry, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	entries, err := l.commit(ctx, projectID, idemKey, func(state []Entry, snap AccountSnapshot) ([]Entry, error) {
		switch source {
		case SourceHeld:
			if HeldForMilestone(state, milestoneID) < amount {
				return nil, ErrNotReserved
			}
		case SourceAvailable:
			if snap.Available() < amount {
				return nil, &InsufficientFundsError{ProjectID: projectID, Available: snap.Available(), Requested: amount}
			}
		default:
			return nil, ErrInvalidAmount
		}
		return []Entry{{
			ProjectID:      projectID,
			MilestoneID:    milestoneID,
			Direction:      DirRefund,
			Amount:         amount,
			Source:         source,
			CreatedBy:      by,
			IdempotencyKey: idemKey,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

// Reverse appends compensating entries for an operator-corrected error.
// The original entry is never edited or deleted. Reversing an account-level
// release also reverses its payout entries so payee projections stay honest.
func (l *Ledger) Reverse(ctx context.Context, projectID ProjectID, entryID EntryID, reason string, by PartyID) ([]Entry, error) {
	orig, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if orig.ProjectID != projectID {
		return nil, ErrEntryNotFound
	}
	switch orig.Direction {
	case DirDeposit, DirHold, DirRefund:
	case DirRelease:
		if orig.PayeeID != "" {
			// Reverse the account-level entry; payouts follow it.
			return nil, ErrNotReversible
		}
	default:
		return nil, ErrNotReversible
	}

	return l.commit(ctx, projectID, "", func(state []Entry, snap AccountSnapshot) ([]Entry, error) {
		for _, e := range state {
			if e.Direction == DirReversal && e.RefEntryID == entryID {
				return nil, ErrAlreadyReversed
			}
		}
		out := []Entry{{
			ProjectID:    projectID,
			MilestoneID:  orig.MilestoneID,
			Direction:    DirReversal,
			Amount:       orig.Amount,
			RefEntryID:   orig.ID,
			RefDirection: orig.Direction,
			RefSource:    orig.Source,
			Reason:       reason,
			CreatedBy:    by,
		}}
		if orig.Direction == DirRelease {
			for _, e := range state {
				if e.Direction == DirRelease && e.MilestoneID == orig.MilestoneID && e.PayeeID != "" {
					out = append(out, Entry{
						ProjectID:    projectID,
						MilestoneID:  orig.MilestoneID,
						Direction:    DirReversal,
						Amount:       e.Amount,
						PayeeID:      e.PayeeID,
						RefEntryID:   e.ID,
						RefDirection: DirRelease,
						Reason:       reason,
						CreatedBy:    by,
					})
				}
			}
		}
		return out, nil
	})
}

// RecordSettlement records the payment rail's confirmation for a release or
// refund authorization as a linked follow-up entry. Idempotent per
// referenced entry.
func (l *Ledger) RecordSettlement(ctx context.Context, projectID ProjectID, entryID EntryID, railRef string, idemKey string) (*Entry, error) {
	orig, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if orig.ProjectID != projectID {
		return nil, ErrEntryNotFound
	}
	if orig.Direction != DirRelease && orig.Direction != DirRefund {
		return nil, ErrNotReversible
	}
	entries, err := l.commit(ctx, projectID, idemKey, func(state []Entry, snap AccountSnapshot) ([]Entry, error) {
		for _, e := range state {
			if e.Direction == DirSettlement && e.RefEntryID == entryID {
				return nil, ErrAlreadySettled
			}
		}
		return []Entry{{
			ProjectID:      projectID,
			MilestoneID:    orig.MilestoneID,
			Direction:      DirSettlement,
			Amount:         orig.Amount,
			RefEntryID:     orig.ID,
			RailRef:        railRef,
			IdempotencyKey: idemKey,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Balance returns the project's current account snapshot, folded from its
// entries. Never cached across an operation boundary.
func (l *Ledger) Balance(ctx context.Context, projectID ProjectID) (AccountSnapshot, error) {
	entries, _, err := l.store.LoadEntries(ctx, projectID)
	if err != nil {
		return AccountSnapshot{}, err
	}
	return Replay(projectID, entries)
}

// Entries returns the project's full entry history in append order.
func (l *Ledger) Entries(ctx context.Context, projectID ProjectID) ([]Entry, error) {
	entries, _, err := l.store.LoadEntries(ctx, projectID)
	return entries, err
}

// Payees returns per-payee credited totals for a project.
func (l *Ledger) Payees(ctx context.Context, projectID ProjectID) (map[PartyID]Amount, error) {
	entries, _, err := l.store.LoadEntries(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return PayeeBalances(entries), nil
}

// HeldFor returns the amount currently reserved against one milestone.
func (l *Ledger) HeldFor(ctx context.Context, projectID ProjectID, milestoneID MilestoneID) (Amount, error) {
	entries, _, err := l.store.LoadEntries(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return HeldForMilestone(entries, milestoneID), nil
}

// =============================================================================
// COMMIT - The locked read-check-append step
// =============================================================================

// commit serializes on the project lock, re-reads state, asks build for the
// proposed entries, folds each through the account invariants, and appends
// atomically at the version it read. No partial writes: any failure leaves
// the ledger untouched.
func (l *Ledger) commit(ctx context.Context, projectID ProjectID, idemKey string, build func(state []Entry, snap AccountSnapshot) ([]Entry, error)) ([]Entry, error) {
	committed, err := l.commitLocked(ctx, projectID, idemKey, build)
	if err != nil {
		return nil, err
	}
	// Observers run outside the lock so a slow subscriber cannot stall the
	// project's ledger.
	if l.observer != nil {
		for _, e := range committed {
			l.observer(e)
		}
	}
	return committed, nil
}

func (l *Ledger) commitLocked(ctx context.Context, projectID ProjectID, idemKey string, build func(state []Entry, snap AccountSnapshot) ([]Entry, error)) ([]Entry, error) {
	mu := l.locks.forProject(projectID)
	mu.Lock()
	defer mu.Unlock()

	if idemKey != "" {
		exists, err := l.store.KeyExists(ctx, idemKey)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicateIdempotencyKey
		}
	}

	state, version, err := l.store.LoadEntries(ctx, projectID)
	if err != nil {
		return nil, err
	}
	snap, err := Replay(projectID, state)
	if err != nil {
		return nil, err
	}

	proposed, err := build(state, snap)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	for i := range proposed {
		proposed[i].ID = NewEntryID()
		proposed[i].Seq = version + uint64(i) + 1
		proposed[i].CreatedAt = now
		snap, err = Apply(snap, proposed[i])
		if err != nil {
			return nil, err
		}
		proposed[i].Snapshot = snap
	}

	if err := l.store.AppendEntries(ctx, projectID, version, proposed); err != nil {
		return nil, err
	}

	l.log.Debug("ledger entries committed",
		zap.String("project", string(projectID)),
		zap.Int("entries", len(proposed)),
		zap.Uint64("head", snap.Seq))

	return proposed, nil
}
