/*
Package escrow implements the renovation-project escrow domain on top of the
ledger engine: projects, milestones, payee shares, and disputes.

The ledger package knows money; this package knows construction projects.
A Project owns one escrow account (its ledger entries) and an ordered set of
Milestones. Milestones move through the state machine in state.go; every
transition that moves money goes through ledger.Ledger and nothing else.
*/
package escrow

import (
	"time"

	"github.com/buildvault/escrow-engine/gate"
	"github.com/buildvault/escrow-engine/ledger"
)

// =============================================================================
// PROJECT - One renovation engagement
// =============================================================================

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// Project is one awarded renovation job. Projects are archived, never
// deleted: the financial history must persist.
type Project struct {
	ID            ledger.ProjectID
	Name          string
	ClientID      ledger.PartyID // the paying party
	GCID          ledger.PartyID // general contractor
	ContractValue ledger.Amount  // sum of milestone amounts, always
	MilestoneIDs  []ledger.MilestoneID
	Status        ProjectStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// MILESTONE - A unit of work with payment tied to it
// =============================================================================

// PayeeShare is one party's slice of a milestone payment (e.g. GC 70%,
// sub-trade 30%). Shares for a milestone sum exactly to its amount.
type PayeeShare struct {
	PayeeID ledger.PartyID
	Amount  ledger.Amount
}

// Milestone is a unit of contracted work with a fixed payment amount and a
// lifecycle state. Never deleted; cancellation tombstones it as voided.
type Milestone struct {
	ID        ledger.MilestoneID
	ProjectID ledger.ProjectID
	Seq       int
	Name      string
	Amount    ledger.Amount
	Shares    []PayeeShare

	// PayerID is who may approve the release: the client, or the GC for
	// sub-trade payout milestones. Defaults to the project's client.
	PayerID ledger.PartyID

	// GateConfig is the JSON verification-gate definition (factory package).
	GateConfig string

	State    State
	Attempts int // rejection count; past the cap the milestone auto-disputes

	// Evidence, opaque to this engine beyond pass/fail.
	ProofRefs   []string
	SubmittedAt time.Time
	Approval    *gate.Approval
	Inspection  *gate.InspectionResult

	DueAt     time.Time
	UpdatedAt time.Time
}

// Evidence assembles the milestone's proof state for gate evaluation.
func (m *Milestone) Evidence(now time.Time) gate.Evidence {
	return gate.Evidence{
		SubmittedAt: m.SubmittedAt,
		ProofRefs:   m.ProofRefs,
		Approval:    m.Approval,
		Inspection:  m.Inspection,
		Now:         now,
	}
}

// Payouts converts the milestone's shares into ledger payouts.
func (m *Milestone) Payouts() []ledger.Payout {
	payouts := make([]ledger.Payout, len(m.Shares))
	for i, s := range m.Shares {
		payouts[i] = ledger.Payout{PayeeID: s.PayeeID, Amount: s.Amount}
	}
	return payouts
}

// =============================================================================
// DISPUTE - A frozen, contested milestone awaiting resolution
// =============================================================================

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// ResolutionKind is the terminal outcome of a dispute.
type ResolutionKind string

const (
	ResolveReleaseFull    ResolutionKind = "release_full"
	ResolveReleasePartial ResolutionKind = "release_partial"
	ResolveRefund         ResolutionKind = "refund"
	// ResolveEscalate routes to out-of-band arbitration. It moves no funds
	// and keeps the milestone frozen until a later final resolution.
	ResolveEscalate ResolutionKind = "escalate"
)

// Outcome is a resolver decision. PartialAmount applies only to
// release_partial; the complementary refund is computed, never supplied.
type Outcome struct {
	Kind          ResolutionKind
	PartialAmount ledger.Amount
	Note          string
}

// Dispute records the contest over one milestone's funds.
type Dispute struct {
	ID           string
	ProjectID    ledger.ProjectID
	MilestoneID  ledger.MilestoneID
	OpenedBy     ledger.PartyID
	Claim        ledger.Amount
	ClaimNote    string
	CounterClaim ledger.Amount
	CounterNote  string
	Status       DisputeStatus
	Escalated    bool

	// Set at resolution.
	Resolution   ResolutionKind
	PartialPaid  ledger.Amount
	RefundAmount ledger.Amount

	OpenedAt   time.Time
	ResolvedAt time.Time
}
