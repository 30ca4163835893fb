/*
shares.go - Payee share arithmetic

PURPOSE:
  Fan-out math for milestone payments: validating that shares sum exactly
  to the milestone amount, building shares from basis-point splits, and
  prorating shares for partial releases.

PRECISION:
  Intermediate arithmetic uses decimal.Decimal so 30% of 10,001 cents is
  exact before rounding. Results are always int64 minor units, and any
  rounding remainder lands on the first share so the sum invariant holds
  to the cent. Money is conserved by construction, not by hoping the
  fractions divide evenly.
*/
package escrow

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/buildvault/escrow-engine/ledger"
)

// =============================================================================
// VALIDATION
// =============================================================================

// SumShares returns the total across shares.
func SumShares(shares []PayeeShare) ledger.Amount {
	var total ledger.Amount
	for _, s := range shares {
		total += s.Amount
	}
	return total
}

// ValidateShares enforces the share-sum invariant: non-empty, every share
// positive, and the total exactly the milestone amount.
func ValidateShares(milestoneID ledger.MilestoneID, amount ledger.Amount, shares []PayeeShare) error {
	if len(shares) == 0 {
		return &ledger.ShareMismatchError{MilestoneID: milestoneID, Expected: amount, Got: 0}
	}
	for _, s := range shares {
		if !s.Amount.IsPositive() {
			return ledger.ErrInvalidAmount
		}
		if s.PayeeID == "" {
			return fmt.Errorf("share with empty payee id: %w", ledger.ErrShareMismatch)
		}
	}
	if got := SumShares(shares); got != amount {
		return &ledger.ShareMismatchError{MilestoneID: milestoneID, Expected: amount, Got: got}
	}
	return nil
}

// =============================================================================
// BASIS-POINT SPLITS
// =============================================================================

// SplitSpec is a payee's slice expressed in basis points (1/100 of a
// percent). Scheduling collaborators send splits this way; amounts are
// derived here.
type SplitSpec struct {
	PayeeID     ledger.PartyID
	BasisPoints int64
}

// SplitByBasisPoints turns basis-point specs into exact shares of amount.
// Specs must sum to 10000. Each share is floor(amount * bp / 10000) with
// the remainder cents assigned to the first share.
func SplitByBasisPoints(amount ledger.Amount, specs []SplitSpec) ([]PayeeShare, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	var bpTotal int64
	for _, spec := range specs {
		if spec.BasisPoints <= 0 {
			return nil, fmt.Errorf("basis points must be positive: %w", ledger.ErrShareMismatch)
		}
		bpTotal += spec.BasisPoints
	}
	if bpTotal != 10000 {
		return nil, fmt.Errorf("basis points sum to %d, expected 10000: %w", bpTotal, ledger.ErrShareMismatch)
	}

	total := decimal.NewFromInt(int64(amount))
	shares := make([]PayeeShare, len(specs))
	var assigned ledger.Amount
	for i, spec := range specs {
		slice := total.Mul(decimal.NewFromInt(spec.BasisPoints)).Div(decimal.NewFromInt(10000))
		cents := ledger.Amount(slice.Floor().IntPart())
		shares[i] = PayeeShare{PayeeID: spec.PayeeID, Amount: cents}
		assigned += cents
	}
	// Remainder to the first share; sums must be exact.
	shares[0].Amount += amount - assigned
	return shares, nil
}

// =============================================================================
// PARTIAL-RELEASE PRORATION
// =============================================================================

// ProrateShares scales shares down to a partial amount, preserving each
// payee's proportion. Floor-then-remainder keeps sum(result) == partial
// exactly; the remainder cents go to the first share. Partial releases
// never exceed what was held, so amounts above the total are rejected.
func ProrateShares(shares []PayeeShare, partial ledger.Amount) ([]PayeeShare, error) {
	if partial > SumShares(shares) {
		return nil, ledger.ErrInvalidAmount
	}
	return ScaleShares(shares, partial)
}

// ScaleShares re-derives shares against a new total, preserving each payee's
// proportion. Scales in both directions; re-pricing a milestone before funds
// are held may grow it as well as shrink it.
func ScaleShares(shares []PayeeShare, newTotal ledger.Amount) ([]PayeeShare, error) {
	total := SumShares(shares)
	if !newTotal.IsPositive() || !total.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if newTotal == total {
		out := make([]PayeeShare, len(shares))
		copy(out, shares)
		return out, nil
	}

	ratio := decimal.NewFromInt(int64(newTotal)).Div(decimal.NewFromInt(int64(total)))
	out := make([]PayeeShare, 0, len(shares))
	var assigned ledger.Amount
	for _, s := range shares {
		cents := ledger.Amount(decimal.NewFromInt(int64(s.Amount)).Mul(ratio).Floor().IntPart())
		out = append(out, PayeeShare{PayeeID: s.PayeeID, Amount: cents})
		assigned += cents
	}
	out[0].Amount += newTotal - assigned

	// A scaled share can floor to zero on tiny totals; drop zero shares
	// after remainder assignment so the ledger never sees a zero payout.
	filtered := out[:0]
	for _, s := range out {
		if s.Amount.IsPositive() {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}
