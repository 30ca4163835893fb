/*
Package ledger provides the core escrow money machinery.

PURPOSE:
  This package contains the domain-agnostic types and algorithms for holding
  and moving escrowed funds: the append-only entry log, the account fold that
  derives balances from it, and the Ledger that is the only writer of balances.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: a money quantity in minor currency units (cents). Never a float.
  - Entry: an immutable ledger record of one fund movement
  - AccountSnapshot: the deposited/held/released/refunded triple-plus-one
    derived by folding entries in order
  - Payout: one payee's slice of a release

DESIGN PRINCIPLES:
  1. Immutability: entries are never modified, only reversed
  2. Fixed-point: amounts are int64 minor units; no floating point anywhere
  3. Derivation: balances are a fold over entries, never stored as the truth
  4. Auditability: every entry carries its resulting account snapshot

SEE ALSO:
  - account.go: the pure invariant fold
  - ledger.go: the operations that append entries
  - store.go: persistence interface
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AMOUNT - Money in minor currency units
// =============================================================================

// Amount is a quantity of money in minor currency units (e.g. cents).
// Fixed-point integers only: rounding a float into a ledger is how funds
// leak, so no constructor accepts one.
type Amount int64

func (a Amount) IsPositive() bool { return a > 0 }
func (a Amount) IsNegative() bool { return a < 0 }
func (a Amount) IsZero() bool     { return a == 0 }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProjectID string
type MilestoneID string
type PartyID string
type EntryID string

// NewEntryID mints a unique entry identifier.
func NewEntryID() EntryID { return EntryID(uuid.NewString()) }

// =============================================================================
// ENTRY - One immutable fund movement
// =============================================================================

// Direction classifies what an entry does to the account.
type Direction string

const (
	// DirDeposit records client funds arriving into the pool.
	DirDeposit Direction = "deposit"

	// DirHold reserves funds from available against a milestone.
	DirHold Direction = "hold"

	// DirRelease moves a milestone's held amount out to payees.
	// One account-level release entry (empty PayeeID) moves the balance;
	// one payout entry per payee share (PayeeID set) credits the payee.
	DirRelease Direction = "release"

	// DirRefund returns funds toward the client, from held or from available.
	DirRefund Direction = "refund"

	// DirReversal is a compensating entry for an operator-corrected error.
	// The original entry is never edited; the reversal undoes its effect.
	DirReversal Direction = "reversal"

	// DirSettlement is the rail-confirmation follow-up for a release or
	// refund entry. It links via RefEntryID and moves no balances: the
	// authorization entry already did.
	DirSettlement Direction = "settlement"
)

// FundSource says which bucket a refund draws from.
type FundSource string

const (
	SourceHeld      FundSource = "held"      // funds reserved for a milestone
	SourceAvailable FundSource = "available" // pre-work cancellation, never reserved
)

// Entry is one immutable record of a fund movement. Append-only: corrections
// are reversal entries, never edits.
type Entry struct {
	ID          EntryID
	ProjectID   ProjectID
	MilestoneID MilestoneID // empty for deposits and available-source refunds
	Direction   Direction
	Amount      Amount
	PayeeID     PartyID    // set only on payout entries (DirRelease per share)
	Source      FundSource // set only on refunds
	RefEntryID  EntryID    // reversal/settlement: the entry this refers to

	// Reversal entries copy the referenced entry's direction and source so
	// the fold stays a pure function of the entry alone.
	RefDirection Direction
	RefSource    FundSource

	Reason         string
	RailRef        string // settlement: payment-rail confirmation reference
	IdempotencyKey string

	// Seq is the entry's position in the project's total order, assigned at
	// append time starting from 1.
	Seq uint64

	// Snapshot is the account state after applying this entry.
	Snapshot AccountSnapshot

	CreatedBy PartyID
	CreatedAt time.Time
}

// Payout is one payee's slice of a release. The ledger validates that payout
// amounts sum exactly to the milestone's held amount before committing.
type Payout struct {
	PayeeID PartyID
	Amount  Amount
}

// SumPayouts returns the total across payouts.
func SumPayouts(payouts []Payout) Amount {
	var total Amount
	for _, p := range payouts {
		total += p.Amount
	}
	return total
}

// =============================================================================
// ACCOUNT SNAPSHOT - Derived balance state
// =============================================================================

// AccountSnapshot is the escrow account state for one project at a point in
// its entry sequence. It is always derived by folding entries; it is never
// the source of truth.
type AccountSnapshot struct {
	ProjectID ProjectID
	Deposited Amount // cumulative client funds received
	Held      Amount // reserved for pending/disputed milestones
	Released  Amount // cumulative funds paid out
	Refunded  Amount // cumulative funds returned toward the client
	Seq       uint64 // sequence number of the last applied entry
}

// Available is the uncommitted balance: deposited minus everything that has
// left or is spoken for.
func (s AccountSnapshot) Available() Amount {
	return s.Deposited - s.Held - s.Released - s.Refunded
}
