/*
account.go - Pure invariant fold over ledger entries

PURPOSE:
  The escrow account model: given a snapshot and a proposed entry, compute
  the next snapshot or reject with no mutation. The Ledger runs every entry
  through Apply before committing, so invariant logic lives here, unit-
  testable with no storage in sight.

INVARIANTS (checked after every single entry, not just at the end):
  1. available >= 0
  2. deposited >= released + held
  3. no bucket ever goes negative
  4. conservation: deposited == released + held + refunded + available
     (holds by construction: Available() is defined as the difference)

REPLAY:
  Replay folds a project's entries from the empty snapshot. Because Apply is
  pure and entries are totally ordered, replay from entry zero always
  reproduces the live balances. That is the crash-recovery and audit story.
*/
package ledger

// =============================================================================
// APPLY - One entry, one new snapshot, or a rejection
// =============================================================================

// Apply computes the snapshot after entry e, or returns an error and leaves
// the input untouched. Pure: no I/O, no mutation.
func Apply(s AccountSnapshot, e Entry) (AccountSnapshot, error) {
	next := s

	switch e.Direction {
	case DirDeposit:
		next.Deposited += e.Amount

	case DirHold:
		next.Held += e.Amount

	case DirRelease:
		if e.PayeeID != "" {
			// Payout entries credit a payee; the account-level release
			// entry moves the balance. Applying both would double-count.
			break
		}
		next.Held -= e.Amount
		next.Released += e.Amount

	case DirRefund:
		next.Refunded += e.Amount
		if e.Source == SourceHeld {
			next.Held -= e.Amount
		}

	case DirReversal:
		var err error
		next, err = applyReversal(next, e)
		if err != nil {
			return s, err
		}

	case DirSettlement:
		// Rail confirmation. The authorization entry moved the funds.

	default:
		return s, ErrInvalidAmount
	}

	next.Seq = e.Seq
	return next, checkInvariants(next)
}

// applyReversal undoes the effect of the referenced entry, using the
// direction/source copied onto the reversal at append time.
func applyReversal(s AccountSnapshot, e Entry) (AccountSnapshot, error) {
	next := s
	if e.PayeeID != "" {
		// Payee-level reversal: debits the payee projection only.
		return next, nil
	}
	switch e.RefDirection {
	case DirDeposit:
		next.Deposited -= e.Amount
	case DirHold:
		next.Held -= e.Amount
	case DirRelease:
		next.Released -= e.Amount
		next.Held += e.Amount
	case DirRefund:
		next.Refunded -= e.Amount
		if e.RefSource == SourceHeld {
			next.Held += e.Amount
		}
	default:
		return s, ErrNotReversible
	}
	return next, nil
}

func checkInvariants(s AccountSnapshot) error {
	switch {
	case s.Deposited.IsNegative():
		return &InvariantError{ProjectID: s.ProjectID, Invariant: "deposited_negative", Would: s}
	case s.Held.IsNegative():
		return &InvariantError{ProjectID: s.ProjectID, Invariant: "held_negative", Would: s}
	case s.Released.IsNegative():
		return &InvariantError{ProjectID: s.ProjectID, Invariant: "released_negative", Would: s}
	case s.Refunded.IsNegative():
		return &InvariantError{ProjectID: s.ProjectID, Invariant: "refunded_negative", Would: s}
	case s.Available().IsNegative():
		return &InvariantError{ProjectID: s.ProjectID, Invariant: "available_negative", Would: s}
	case s.Deposited < s.Released+s.Held:
		return &InvariantError{ProjectID: s.ProjectID, Invariant: "deposited_coverage", Would: s}
	}
	return nil
}

// =============================================================================
// REPLAY - Fold from empty
// =============================================================================

// Replay folds entries (already in project order) from the empty snapshot.
// Entries must all belong to the same project.
func Replay(projectID ProjectID, entries []Entry) (AccountSnapshot, error) {
	s := AccountSnapshot{ProjectID: projectID}
	for _, e := range entries {
		var err error
		s, err = Apply(s, e)
		if err != nil {
			return s, err
		}
	}
	return s, nil
}

// =============================================================================
// DERIVED PROJECTIONS
// =============================================================================

// HeldForMilestone returns how much of the project's held bucket is currently
// reserved against one milestone: holds in, releases and held-source refunds
// and reversals out.
func HeldForMilestone(entries []Entry, id MilestoneID) Amount {
	var held Amount
	for _, e := range entries {
		if e.MilestoneID != id {
			continue
		}
		switch e.Direction {
		case DirHold:
			held += e.Amount
		case DirRelease:
			if e.PayeeID == "" {
				held -= e.Amount
			}
		case DirRefund:
			if e.Source == SourceHeld {
				held -= e.Amount
			}
		case DirReversal:
			if e.PayeeID != "" {
				continue
			}
			switch e.RefDirection {
			case DirHold:
				held -= e.Amount
			case DirRelease:
				held += e.Amount
			case DirRefund:
				if e.RefSource == SourceHeld {
					held += e.Amount
				}
			}
		}
	}
	return held
}

// PayeeBalances folds payout entries into per-payee credited totals. This is
// the projection behind the GC wallet and sub-trade payout views.
func PayeeBalances(entries []Entry) map[PartyID]Amount {
	balances := make(map[PartyID]Amount)
	for _, e := range entries {
		if e.Direction == DirRelease && e.PayeeID != "" {
			balances[e.PayeeID] += e.Amount
		}
		if e.Direction == DirReversal && e.RefDirection == DirRelease && e.PayeeID != "" {
			balances[e.PayeeID] -= e.Amount
		}
	}
	return balances
}

// HasRelease reports whether an account-level release entry exists for the
// milestone. The idempotency guard for retried releases.
func HasRelease(entries []Entry, id MilestoneID) bool {
	for _, e := range entries {
		if e.Direction == DirRelease && e.MilestoneID == id && e.PayeeID == "" {
			return true
		}
	}
	return false
}
