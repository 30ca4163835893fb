/*
Package gate implements milestone verification policies.

PURPOSE:
  Answers one question: is this milestone's submitted proof sufficient to
  authorize fund release? Different milestones demand different evidence, so
  gates are a small strategy abstraction selected per milestone at
  configuration time, keeping the state machine free of proof-specific
  branching.

VERDICTS:
  Pass    - proof is sufficient; drives submitted -> verified
  Fail    - proof is insufficient; drives submitted -> rejected
  Pending - awaiting external input; the milestone does not move

MONEY NEVER MOVES BY DEFAULT:
  A client-approval gate whose window has lapsed returns Pending with a
  follow-up reason, never Pass. The absence of action is not consent.
  Likewise an inspection gate with no result yet is Pending, not Fail.

GATES:
  SelfAttestation  - the performer's submission is itself sufficient
  ClientApproval   - explicit approve/decline from the paying party
  Inspection       - linked third-party inspection verdict
  Composite        - all of a configured set must pass

SEE ALSO:
  - factory/gate.go: JSON configuration -> Gate values
  - escrow/engine.go: evaluates gates on submit and on new evidence
*/
package gate

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// VERDICT
// =============================================================================

type Verdict string

const (
	Pass    Verdict = "pass"
	Fail    Verdict = "fail"
	Pending Verdict = "pending"
)

// Result is a verdict with the reason behind it. Pending reasons surface in
// the UI as "awaiting inspection" / "awaiting client approval" badges.
type Result struct {
	Verdict Verdict
	Reason  string
}

func pass(reason string) Result    { return Result{Verdict: Pass, Reason: reason} }
func fail(reason string) Result    { return Result{Verdict: Fail, Reason: reason} }
func pending(reason string) Result { return Result{Verdict: Pending, Reason: reason} }

// =============================================================================
// EVIDENCE - Everything a gate may consider
// =============================================================================

// Approval is the paying party's explicit verification action.
type Approval struct {
	PartyID  string
	Approved bool
	At       time.Time
}

// InspectionResult is a third-party inspection verdict supplied by the
// inspection collaborator. The engine stores only the verdict and an opaque
// reference, never the report itself.
type InspectionResult struct {
	Ref    string
	Passed bool
	At     time.Time
}

// Evidence carries the current proof state for one milestone. Gates are pure
// functions of it.
type Evidence struct {
	SubmittedAt time.Time
	ProofRefs   []string
	Approval    *Approval
	Inspection  *InspectionResult
	Now         time.Time
}

// =============================================================================
// GATE INTERFACE
// =============================================================================

type Gate interface {
	// Evaluate returns the gate's verdict for the given evidence.
	// Pure: no I/O, no side effects.
	Evaluate(ev Evidence) Result

	// Kind names the strategy, for configs and logs.
	Kind() string
}

// =============================================================================
// SELF-ATTESTATION - Submission is itself sufficient
// =============================================================================

// SelfAttestation passes as soon as the performer has submitted.
// For low-trust-required work.
type SelfAttestation struct{}

func (SelfAttestation) Kind() string { return "self_attestation" }

func (SelfAttestation) Evaluate(ev Evidence) Result {
	if ev.SubmittedAt.IsZero() {
		return pending("awaiting submission")
	}
	return pass("self-attested")
}

// =============================================================================
// CLIENT APPROVAL - Explicit action from the paying party
// =============================================================================

// ClientApproval requires an explicit approve action within Window of
// submission. Silence past the window is a soft-reject needing manual
// follow-up; it is never treated as approval.
type ClientApproval struct {
	Window time.Duration
}

func (ClientApproval) Kind() string { return "client_approval" }

func (g ClientApproval) Evaluate(ev Evidence) Result {
	if ev.Approval != nil {
		if ev.Approval.Approved {
			return pass("client approved")
		}
		return fail("client declined")
	}
	if ev.SubmittedAt.IsZero() {
		return pending("awaiting submission")
	}
	if g.Window > 0 && ev.Now.After(ev.SubmittedAt.Add(g.Window)) {
		return pending("approval window lapsed; manual follow-up required")
	}
	return pending("awaiting client approval")
}

// =============================================================================
// INSPECTION - Third-party verdict
// =============================================================================

// Inspection requires a linked external inspection result. No result yet
// means Pending, not a rejection.
type Inspection struct{}

func (Inspection) Kind() string { return "inspection" }

func (Inspection) Evaluate(ev Evidence) Result {
	if ev.Inspection == nil {
		return pending("awaiting inspection result")
	}
	if ev.Inspection.Passed {
		return pass(fmt.Sprintf("inspection %s passed", ev.Inspection.Ref))
	}
	return fail(fmt.Sprintf("inspection %s failed", ev.Inspection.Ref))
}

// =============================================================================
// COMPOSITE - All configured gates must pass
// =============================================================================

// Composite passes only when every child passes. Any Fail fails the whole
// gate; otherwise an incomplete set is Pending.
type Composite struct {
	Gates []Gate
}

func (Composite) Kind() string { return "composite" }

func (g Composite) Evaluate(ev Evidence) Result {
	var waiting []string
	for _, child := range g.Gates {
		r := child.Evaluate(ev)
		switch r.Verdict {
		case Fail:
			return fail(r.Reason)
		case Pending:
			waiting = append(waiting, r.Reason)
		}
	}
	if len(waiting) > 0 {
		return pending(strings.Join(waiting, "; "))
	}
	return pass("all gates passed")
}
