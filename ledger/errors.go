/*
errors.go - Centralized error types for the escrow engine

PURPOSE:
  All engine error types in one place for consistency and discoverability.
  Domain packages wrap these with additional context.

ERROR CATEGORIES:
  1. Validation errors  - caller mistakes, no state change, fix and retry
  2. Business conditions - expected states like insufficient funding
  3. Idempotency conflicts - the effect already happened
  4. Concurrency conflicts - retry the whole operation against fresh state

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, ledger.ErrInsufficientFunds) {
        // show "awaiting additional client funding", not an error toast
    }

SEE ALSO:
  - ledger.go: returns these errors
  - account.go: invariant violations surface as InvariantError
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when a reserve exceeds the available
	// balance. This is an expected business condition (client has not funded
	// enough yet), not a fault.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotReserved is returned when releasing or refunding a milestone
	// whose amount was never moved to held.
	ErrNotReserved = errors.New("milestone funds not reserved")

	// ErrAlreadyReleased is returned when a release entry already exists for
	// the milestone. A retried release must be a no-op, never a double payout.
	ErrAlreadyReleased = errors.New("milestone already released")

	// ErrAlreadySettled is returned when a settlement entry already exists
	// for the referenced authorization entry.
	ErrAlreadySettled = errors.New("entry already settled")

	// ErrAlreadyResolved is returned when resolving a dispute that has a
	// terminal resolution recorded.
	ErrAlreadyResolved = errors.New("dispute already resolved")

	// ErrTerminalState is returned on transitions out of released or voided.
	ErrTerminalState = errors.New("milestone in terminal state")

	// ErrConcurrentModification is returned when the per-project version
	// check detects a conflicting in-flight operation. Retry the whole
	// operation against fresh state.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrShareMismatch is returned when payee shares do not sum exactly to
	// the milestone amount.
	ErrShareMismatch = errors.New("payee shares do not sum to milestone amount")

	// ErrNotReversible is returned when the referenced entry cannot be
	// compensated (settlements and reversals are not reversible).
	ErrNotReversible = errors.New("entry is not reversible")

	// ErrAlreadyReversed is returned when a compensating entry already
	// exists for the referenced entry.
	ErrAlreadyReversed = errors.New("entry already reversed")

	// ErrEntryNotFound is returned when a referenced entry does not exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrProjectNotFound is returned when a referenced project does not exist.
	ErrProjectNotFound = errors.New("project not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports how short the available balance is.
type InsufficientFundsError struct {
	ProjectID ProjectID
	Available Amount
	Requested Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %d, requested %d, short %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InvariantError reports which account invariant a proposed entry would
// violate. The entry is rejected before any write.
type InvariantError struct {
	ProjectID ProjectID
	Invariant string // e.g. "available_negative", "held_negative"
	Would     AccountSnapshot
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("account invariant %q violated: deposited=%d held=%d released=%d refunded=%d",
		e.Invariant, e.Would.Deposited, e.Would.Held, e.Would.Released, e.Would.Refunded)
}

// ShareMismatchError reports the exact sums when shares don't add up.
type ShareMismatchError struct {
	MilestoneID MilestoneID
	Expected    Amount
	Got         Amount
}

func (e *ShareMismatchError) Error() string {
	return fmt.Sprintf("shares for milestone %s sum to %d, expected %d",
		e.MilestoneID, e.Got, e.Expected)
}

func (e *ShareMismatchError) Unwrap() error { return ErrShareMismatch }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if retrying against fresh state might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNotReserved) ||
		errors.Is(err, ErrTerminalState) ||
		errors.Is(err, ErrShareMismatch) ||
		errors.Is(err, ErrNotReversible)
}

// IsIdempotentNoop returns true if the operation's effect already happened.
// At the API boundary these are treated as satisfied intent, not failures.
func IsIdempotentNoop(err error) bool {
	return errors.Is(err, ErrAlreadyReleased) ||
		errors.Is(err, ErrAlreadyResolved) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsFundingCondition returns true for the expected not-enough-money state.
// Surfaced as "awaiting additional client funding", never logged at error level.
func IsFundingCondition(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}
