/*
state.go - The milestone lifecycle state machine

PURPOSE:
  One table of allowed transitions, one function that applies them. All
  lifecycle rules live here so nothing else in the engine needs to reason
  about what a state permits.

LIFECYCLE:
  scheduled -> reserved -> submitted -> verified -> released
                               ^  |
                               |  v
                            rejected        (rework loop, attempt-capped)

  Any pre-released state may branch to voided (terminal cancellation
  tombstone). Any funded pre-released state (reserved onward) may branch to
  disputed (frozen until resolution); a scheduled milestone holds nothing to
  contest, so it cannot dispute. Disputed exits only to released or voided,
  and only via the dispute resolver.

TERMINAL STATES:
  released, voided. Transitions out fail with ledger.ErrTerminalState.
*/
package escrow

import "time"

// =============================================================================
// STATES
// =============================================================================

type State string

const (
	StateScheduled State = "scheduled"
	StateReserved  State = "reserved"
	StateSubmitted State = "submitted"
	StateVerified  State = "verified"
	StateRejected  State = "rejected"
	StateDisputed  State = "disputed"
	StateReleased  State = "released"
	StateVoided    State = "voided"
)

// Terminal reports whether a milestone in this state accepts no further
// transitions.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateVoided
}

// =============================================================================
// TRANSITION TABLE
// =============================================================================

var transitions = map[State][]State{
	// Scheduled cannot dispute: no funds are held yet, so a resolver
	// would have no movement to make and no way out of the freeze.
	StateScheduled: {StateReserved, StateVoided},
	StateReserved:  {StateSubmitted, StateDisputed, StateVoided},
	StateSubmitted: {StateVerified, StateRejected, StateDisputed, StateVoided},
	StateRejected:  {StateSubmitted, StateDisputed, StateVoided},
	StateVerified:  {StateReleased, StateDisputed, StateVoided},
	// Disputed exits only through resolver outcomes.
	StateDisputed: {StateReleased, StateVoided},
	StateReleased: {},
	StateVoided:   {},
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition applies from -> to on the milestone or fails with a
// TransitionError that unwraps to the right sentinel (terminal, frozen,
// or plain invalid).
func transition(m *Milestone, to State, now time.Time) error {
	if !CanTransition(m.State, to) {
		return &TransitionError{MilestoneID: m.ID, From: m.State, To: to}
	}
	m.State = to
	m.UpdatedAt = now
	return nil
}
