/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts travel as integer minor units ("cents") plus a pre-rendered
  display string ("1250.00") so clients never do float math on money.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/gate.go: GateJSON type
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/buildvault/escrow-engine/escrow"
	"github.com/buildvault/escrow-engine/gate"
	"github.com/buildvault/escrow-engine/ledger"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyDTO carries an amount as minor units plus a display string.
type MoneyDTO struct {
	Cents   int64  `json:"cents"`
	Display string `json:"display"`
}

func money(a ledger.Amount) MoneyDTO {
	return MoneyDTO{
		Cents:   int64(a),
		Display: decimal.New(int64(a), -2).StringFixed(2),
	}
}

// =============================================================================
// PROJECT TYPES
// =============================================================================

// ProjectDTO represents a project in API responses.
type ProjectDTO struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	ClientID      string   `json:"client_id"`
	GCID          string   `json:"gc_id"`
	ContractValue MoneyDTO `json:"contract_value"`
	Status        string   `json:"status"`
	MilestoneIDs  []string `json:"milestone_ids"`
	CreatedAt     string   `json:"created_at,omitempty"`
}

// AccountDTO is the project's escrow account balance view.
type AccountDTO struct {
	Deposited MoneyDTO `json:"deposited"`
	Held      MoneyDTO `json:"held"`
	Released  MoneyDTO `json:"released"`
	Refunded  MoneyDTO `json:"refunded"`
	Available MoneyDTO `json:"available"`
}

// ProjectSnapshotDTO is the full project view: account, milestones, disputes
// and per-payee totals.
type ProjectSnapshotDTO struct {
	Project    ProjectDTO          `json:"project"`
	Account    AccountDTO          `json:"account"`
	Milestones []MilestoneDTO      `json:"milestones"`
	Disputes   []DisputeDTO        `json:"disputes"`
	Payees     map[string]MoneyDTO `json:"payees"`
}

// CreateProjectRequest sets up an awarded job with its milestone schedule.
type CreateProjectRequest struct {
	ID            string             `json:"id,omitempty"`
	Name          string             `json:"name"`
	ClientID      string             `json:"client_id"`
	GCID          string             `json:"gc_id"`
	ContractValue int64              `json:"contract_value_cents"`
	Milestones    []MilestoneSpecDTO `json:"milestones"`
}

// MilestoneSpecDTO is one milestone definition in a project or change order.
type MilestoneSpecDTO struct {
	Name       string          `json:"name"`
	Amount     int64           `json:"amount_cents"`
	Shares     []ShareDTO      `json:"shares,omitempty"`
	Splits     []SplitSpecDTO  `json:"splits,omitempty"`
	PayerID    string          `json:"payer_id,omitempty"`
	GateConfig json.RawMessage `json:"gate,omitempty"`
	DueAt      string          `json:"due_at,omitempty"`
}

// ShareDTO is an exact-amount payee share.
type ShareDTO struct {
	PayeeID string `json:"payee_id"`
	Amount  int64  `json:"amount_cents"`
}

// SplitSpecDTO is a basis-point payee split (sums to 10000).
type SplitSpecDTO struct {
	PayeeID     string `json:"payee_id"`
	BasisPoints int64  `json:"basis_points"`
}

// DepositRequest funds the project escrow account.
type DepositRequest struct {
	Amount         int64  `json:"amount_cents"`
	By             string `json:"by"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ChangeOrderRequest amends the milestone schedule mid-project.
type ChangeOrderRequest struct {
	AddMilestone *MilestoneSpecDTO `json:"add_milestone,omitempty"`
	AmendID      string            `json:"amend_id,omitempty"`
	NewAmount    int64             `json:"new_amount_cents,omitempty"`
	NewShares    []ShareDTO        `json:"new_shares,omitempty"`
	ApprovedBy   string            `json:"approved_by"`
}

// PartyActionRequest is the generic "who did this and why" body.
type PartyActionRequest struct {
	By     string `json:"by"`
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// MILESTONE TYPES
// =============================================================================

// MilestoneDTO represents a milestone in API responses.
type MilestoneDTO struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Seq         int        `json:"seq"`
	Name        string     `json:"name"`
	Amount      MoneyDTO   `json:"amount"`
	Shares      []ShareDTO `json:"shares"`
	PayerID     string     `json:"payer_id"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	ProofRefs   []string   `json:"proof_refs,omitempty"`
	SubmittedAt string     `json:"submitted_at,omitempty"`
	DueAt       string     `json:"due_at,omitempty"`
}

// SubmitRequest marks a milestone's work as done with proof attached.
type SubmitRequest struct {
	By        string   `json:"by"`
	ProofRefs []string `json:"proof_refs"`
}

// ApprovalRequest records the payer's approve/reject decision.
type ApprovalRequest struct {
	Party    string `json:"party"`
	Approved bool   `json:"approved"`
}

// InspectionRequest records a third-party inspection result.
type InspectionRequest struct {
	Ref    string `json:"ref"`
	Passed bool   `json:"passed"`
}

// GateResultDTO is the verification verdict after evidence lands.
type GateResultDTO struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason,omitempty"`
}

// =============================================================================
// DISPUTE TYPES
// =============================================================================

// DisputeDTO represents a dispute in API responses.
type DisputeDTO struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	MilestoneID  string   `json:"milestone_id"`
	OpenedBy     string   `json:"opened_by"`
	Claim        MoneyDTO `json:"claim"`
	ClaimNote    string   `json:"claim_note,omitempty"`
	CounterClaim MoneyDTO `json:"counter_claim"`
	CounterNote  string   `json:"counter_note,omitempty"`
	Status       string   `json:"status"`
	Escalated    bool     `json:"escalated"`
	Resolution   string   `json:"resolution,omitempty"`
	PartialPaid  MoneyDTO `json:"partial_paid"`
	RefundAmount MoneyDTO `json:"refund_amount"`
	OpenedAt     string   `json:"opened_at,omitempty"`
	ResolvedAt   string   `json:"resolved_at,omitempty"`
}

// OpenDisputeRequest freezes a milestone's funds pending resolution.
type OpenDisputeRequest struct {
	By    string `json:"by"`
	Claim int64  `json:"claim_cents"`
	Note  string `json:"note,omitempty"`
}

// CounterClaimRequest is the other party's response to an open dispute.
type CounterClaimRequest struct {
	By     string `json:"by"`
	Amount int64  `json:"amount_cents"`
	Note   string `json:"note,omitempty"`
}

// ResolveDisputeRequest is the resolver's decision.
type ResolveDisputeRequest struct {
	Kind          string `json:"kind"` // release_full | release_partial | refund | escalate
	PartialAmount int64  `json:"partial_amount_cents,omitempty"`
	Note          string `json:"note,omitempty"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// EntryDTO represents one immutable ledger entry.
type EntryDTO struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	MilestoneID string   `json:"milestone_id,omitempty"`
	Direction   string   `json:"direction"`
	Amount      MoneyDTO `json:"amount"`
	PayeeID     string   `json:"payee_id,omitempty"`
	Source      string   `json:"source,omitempty"`
	RefEntryID  string   `json:"ref_entry_id,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	RailRef     string   `json:"rail_ref,omitempty"`
	Seq         uint64   `json:"seq"`
	CreatedBy   string   `json:"created_by,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

// SettlementRequest confirms a payment-rail transfer for a prior entry.
type SettlementRequest struct {
	ProjectID      string `json:"project_id"`
	RailRef        string `json:"rail_ref"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ReverseRequest backs out an erroneous entry with a compensating one.
type ReverseRequest struct {
	ProjectID string `json:"project_id"`
	By        string `json:"by"`
	Reason    string `json:"reason"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ID string `json:"id"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toProjectDTO(p *escrow.Project) ProjectDTO {
	ids := make([]string, len(p.MilestoneIDs))
	for i, id := range p.MilestoneIDs {
		ids[i] = string(id)
	}
	return ProjectDTO{
		ID:            string(p.ID),
		Name:          p.Name,
		ClientID:      string(p.ClientID),
		GCID:          string(p.GCID),
		ContractValue: money(p.ContractValue),
		Status:        string(p.Status),
		MilestoneIDs:  ids,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
}

func toAccountDTO(s ledger.AccountSnapshot) AccountDTO {
	return AccountDTO{
		Deposited: money(s.Deposited),
		Held:      money(s.Held),
		Released:  money(s.Released),
		Refunded:  money(s.Refunded),
		Available: money(s.Available()),
	}
}

func toMilestoneDTO(m *escrow.Milestone) MilestoneDTO {
	shares := make([]ShareDTO, len(m.Shares))
	for i, s := range m.Shares {
		shares[i] = ShareDTO{PayeeID: string(s.PayeeID), Amount: int64(s.Amount)}
	}
	dto := MilestoneDTO{
		ID:        string(m.ID),
		ProjectID: string(m.ProjectID),
		Seq:       m.Seq,
		Name:      m.Name,
		Amount:    money(m.Amount),
		Shares:    shares,
		PayerID:   string(m.PayerID),
		State:     string(m.State),
		Attempts:  m.Attempts,
		ProofRefs: m.ProofRefs,
	}
	if !m.SubmittedAt.IsZero() {
		dto.SubmittedAt = m.SubmittedAt.Format(time.RFC3339)
	}
	if !m.DueAt.IsZero() {
		dto.DueAt = m.DueAt.Format(time.RFC3339)
	}
	return dto
}

func toDisputeDTO(d *escrow.Dispute) DisputeDTO {
	dto := DisputeDTO{
		ID:           d.ID,
		ProjectID:    string(d.ProjectID),
		MilestoneID:  string(d.MilestoneID),
		OpenedBy:     string(d.OpenedBy),
		Claim:        money(d.Claim),
		ClaimNote:    d.ClaimNote,
		CounterClaim: money(d.CounterClaim),
		CounterNote:  d.CounterNote,
		Status:       string(d.Status),
		Escalated:    d.Escalated,
		Resolution:   string(d.Resolution),
		PartialPaid:  money(d.PartialPaid),
		RefundAmount: money(d.RefundAmount),
		OpenedAt:     d.OpenedAt.Format(time.RFC3339),
	}
	if !d.ResolvedAt.IsZero() {
		dto.ResolvedAt = d.ResolvedAt.Format(time.RFC3339)
	}
	return dto
}

func toGateResultDTO(r gate.Result) GateResultDTO {
	return GateResultDTO{Verdict: string(r.Verdict), Reason: r.Reason}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:          string(e.ID),
		ProjectID:   string(e.ProjectID),
		MilestoneID: string(e.MilestoneID),
		Direction:   string(e.Direction),
		Amount:      money(e.Amount),
		PayeeID:     string(e.PayeeID),
		Source:      string(e.Source),
		RefEntryID:  string(e.RefEntryID),
		Reason:      e.Reason,
		RailRef:     e.RailRef,
		Seq:         e.Seq,
		CreatedBy:   string(e.CreatedBy),
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}
