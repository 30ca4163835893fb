// errors.go - Domain-level errors. The ledger package owns the money-level
// taxonomy; these cover project/milestone/dispute lifecycle mistakes.
package escrow

import (
	"errors"
	"fmt"

	"github.com/buildvault/escrow-engine/ledger"
)

var (
	// ErrMilestoneNotFound is returned when a referenced milestone doesn't exist.
	ErrMilestoneNotFound = errors.New("milestone not found")

	// ErrDisputeNotFound is returned when a referenced dispute doesn't exist.
	ErrDisputeNotFound = errors.New("dispute not found")

	// ErrInvalidTransition is returned for a transition the state machine
	// does not allow from the current state.
	ErrInvalidTransition = errors.New("invalid milestone transition")

	// ErrMilestoneFrozen is returned when acting on a disputed milestone
	// with anything other than a dispute resolution.
	ErrMilestoneFrozen = errors.New("milestone frozen by open dispute")

	// ErrNotAuthorized is returned when a party attempts an action reserved
	// for another role (e.g. a sub-trade approving its own release).
	ErrNotAuthorized = errors.New("party not authorized for this action")

	// ErrContractSumMismatch is returned when milestone amounts do not sum
	// to the project's contract value.
	ErrContractSumMismatch = errors.New("milestone amounts do not sum to contract value")

	// ErrProjectNotActive is returned for fund movements on a completed or
	// cancelled project.
	ErrProjectNotActive = errors.New("project is not active")

	// ErrDisputeAlreadyOpen is returned when opening a second dispute on a
	// milestone that already has one pending.
	ErrDisputeAlreadyOpen = errors.New("milestone already has an open dispute")
)

// TransitionError reports the exact illegal move for logs and API payloads.
type TransitionError struct {
	MilestoneID ledger.MilestoneID
	From        State
	To          State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("milestone %s: cannot transition %s -> %s", e.MilestoneID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	if e.From.Terminal() {
		return ledger.ErrTerminalState
	}
	if e.From == StateDisputed {
		return ErrMilestoneFrozen
	}
	return ErrInvalidTransition
}

// ContractSumError carries both sums for the mismatch message.
type ContractSumError struct {
	ProjectID ledger.ProjectID
	Contract  ledger.Amount
	Sum       ledger.Amount
}

func (e *ContractSumError) Error() string {
	return fmt.Sprintf("project %s: milestone amounts sum to %d, contract value is %d",
		e.ProjectID, e.Sum, e.Contract)
}

func (e *ContractSumError) Unwrap() error { return ErrContractSumMismatch }
