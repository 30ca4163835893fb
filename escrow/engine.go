/*
engine.go - The escrow engine: milestone lifecycle wired to the ledger

PURPOSE:
  Orchestrates the domain flows: project setup, funding, reserving,
  submission, verification, release, voiding, change orders. Every fund
  movement goes through ledger.Ledger; this layer owns the state machine
  and the authorization rules around it.

AUTHORIZATION (paying-party rule):
  A milestone's PayerID is who may approve its release: the client for
  GC-facing milestones, the GC for sub-trade payout milestones. Verification
  approvals (the client-approval gate) use the same party. Anyone else gets
  ErrNotAuthorized.

FAILURE DISCIPLINE:
  Insufficient funds on reserve is a normal, retryable condition - the
  milestone stays scheduled and the client is asked to fund. Gate Pending
  leaves the milestone exactly where it was. Only invariant violations and
  idempotency conflicts indicate caller bugs.

SEE ALSO:
  - ledger/ledger.go: the money operations this engine drives
  - state.go: the transition table
  - dispute.go: the frozen branch
*/
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buildvault/escrow-engine/factory"
	"github.com/buildvault/escrow-engine/gate"
	"github.com/buildvault/escrow-engine/ledger"
)

// SystemParty is the actor recorded for engine-initiated actions, like the
// auto-dispute after the rejection cap.
const SystemParty ledger.PartyID = "system"

// DefaultMaxRejections caps the rework loop before a milestone
// auto-escalates to disputed.
const DefaultMaxRejections = 3

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	ledger *ledger.Ledger
	store  Store
	gates  *factory.GateFactory
	log    *zap.Logger
	now    func() time.Time

	maxRejections int
}

type EngineOption func(*Engine)

// WithMaxRejections overrides the rejection cap.
func WithMaxRejections(n int) EngineOption {
	return func(e *Engine) { e.maxRejections = n }
}

// WithEngineClock pins the time source for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(l *ledger.Ledger, store Store, gates *factory.GateFactory, log *zap.Logger, opts ...EngineOption) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		ledger:        l,
		store:         store,
		gates:         gates,
		log:           log,
		now:           time.Now,
		maxRejections: DefaultMaxRejections,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// PROJECT SETUP
// =============================================================================

// MilestoneSpec is a milestone definition from the scheduling collaborator.
// Shares may be given as exact amounts or as basis-point splits.
type MilestoneSpec struct {
	Name       string
	Amount     ledger.Amount
	Shares     []PayeeShare
	Splits     []SplitSpec
	PayerID    ledger.PartyID // defaults to the project client
	GateConfig string
	DueAt      time.Time
}

// ProjectSpec is everything needed to set up an awarded job.
type ProjectSpec struct {
	ID            string // optional, minted when empty
	Name          string
	ClientID      ledger.PartyID
	GCID          ledger.PartyID
	ContractValue ledger.Amount
	Milestones    []MilestoneSpec
}

// CreateProject validates the contract-sum and share-sum invariants and
// creates the project with its milestones, all scheduled.
func (e *Engine) CreateProject(ctx context.Context, spec ProjectSpec) (*Project, []*Milestone, error) {
	if !spec.ContractValue.IsPositive() {
		return nil, nil, ledger.ErrInvalidAmount
	}
	if spec.ClientID == "" || spec.GCID == "" {
		return nil, nil, fmt.Errorf("project requires client and GC parties: %w", ErrNotAuthorized)
	}

	projectID := ledger.ProjectID(spec.ID)
	if projectID == "" {
		projectID = ledger.ProjectID(uuid.NewString())
	}
	now := e.now().UTC()

	var sum ledger.Amount
	milestones := make([]*Milestone, 0, len(spec.Milestones))
	for i, ms := range spec.Milestones {
		if !ms.Amount.IsPositive() {
			return nil, nil, ledger.ErrInvalidAmount
		}
		sum += ms.Amount

		m := &Milestone{
			ID:         ledger.MilestoneID(uuid.NewString()),
			ProjectID:  projectID,
			Seq:        i + 1,
			Name:       ms.Name,
			Amount:     ms.Amount,
			PayerID:    ms.PayerID,
			GateConfig: ms.GateConfig,
			State:      StateScheduled,
			DueAt:      ms.DueAt,
			UpdatedAt:  now,
		}
		if m.PayerID == "" {
			m.PayerID = spec.ClientID
		}

		switch {
		case len(ms.Shares) > 0:
			m.Shares = ms.Shares
		case len(ms.Splits) > 0:
			shares, err := SplitByBasisPoints(ms.Amount, ms.Splits)
			if err != nil {
				return nil, nil, err
			}
			m.Shares = shares
		default:
			// No fan-out specified: the GC takes the whole milestone.
			m.Shares = []PayeeShare{{PayeeID: spec.GCID, Amount: ms.Amount}}
		}
		if err := ValidateShares(m.ID, m.Amount, m.Shares); err != nil {
			return nil, nil, err
		}
		// Gate configs are validated at setup so a bad config fails the
		// project, not a release months later.
		if _, err := e.gates.ParseGate(ms.GateConfig); err != nil {
			return nil, nil, err
		}
		milestones = append(milestones, m)
	}

	if sum != spec.ContractValue {
		return nil, nil, &ContractSumError{ProjectID: projectID, Contract: spec.ContractValue, Sum: sum}
	}

	p := &Project{
		ID:            projectID,
		Name:          spec.Name,
		ClientID:      spec.ClientID,
		GCID:          spec.GCID,
		ContractValue: spec.ContractValue,
		Status:        ProjectActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, m := range milestones {
		p.MilestoneIDs = append(p.MilestoneIDs, m.ID)
	}

	if err := e.store.CreateProject(ctx, p); err != nil {
		return nil, nil, err
	}
	for _, m := range milestones {
		if err := e.store.CreateMilestone(ctx, m); err != nil {
			return nil, nil, err
		}
	}

	e.log.Info("project created",
		zap.String("project", string(p.ID)),
		zap.Int64("contract_value", int64(p.ContractValue)),
		zap.Int("milestones", len(milestones)))
	return p, milestones, nil
}

// =============================================================================
// FUNDING AND RESERVATION
// =============================================================================

// Fund records a client deposit into the project's escrow pool.
func (e *Engine) Fund(ctx context.Context, projectID string, amount ledger.Amount, idemKey string) (*ledger.Entry, error) {
	p, err := e.activeProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.ledger.RecordDeposit(ctx, p.ID, amount, p.ClientID, idemKey)
}

// ReserveMilestone moves the milestone's amount from available to held and
// advances scheduled -> reserved. Insufficient funds leaves the milestone
// scheduled; the caller retries after the client funds further.
func (e *Engine) ReserveMilestone(ctx context.Context, milestoneID string) (*Milestone, error) {
	m, err := e.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if _, err := e.activeProject(ctx, string(m.ProjectID)); err != nil {
		return nil, err
	}
	if !CanTransition(m.State, StateReserved) {
		return nil, &TransitionError{MilestoneID: m.ID, From: m.State, To: StateReserved}
	}

	_, err = e.ledger.Reserve(ctx, m.ProjectID, m.ID, m.Amount, reserveKey(m.ID))
	if err != nil && !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		// Duplicate key means the hold already exists from an interrupted
		// earlier attempt; finishing the transition is the repair.
		return nil, err
	}

	if err := transition(m, StateReserved, e.now().UTC()); err != nil {
		return nil, err
	}
	if err := e.store.UpdateMilestone(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// =============================================================================
// SUBMISSION AND VERIFICATION
// =============================================================================

// SubmitMilestone records the performer's proof and advances to submitted,
// then evaluates the verification gate. Resubmission after a rejection
// clears stale evidence first.
func (e *Engine) SubmitMilestone(ctx context.Context, milestoneID string, by ledger.PartyID, proofRefs []string) (*Milestone, gate.Result, error) {
	m, err := e.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, gate.Result{}, err
	}
	now := e.now().UTC()
	if err := transition(m, StateSubmitted, now); err != nil {
		return nil, gate.Result{}, err
	}

	m.SubmittedAt = now
	m.ProofRefs = proofRefs
	m.Approval = nil
	m.Inspection = nil

	result, err := e.evaluate(ctx, m)
	if err != nil {
		return nil, gate.Result{}, err
	}
	if err := e.store.UpdateMilestone(ctx, m); err != nil {
		return nil, gate.Result{}, err
	}
	return m, result, nil
}

// RecordApproval stores the paying party's verification verdict (the
// client-approval gate's input) and re-evaluates the gate.
func (e *Engine) RecordApproval(ctx context.Context, milestoneID string, party ledger.PartyID, approved bool) (*Milestone, gate.Result, error) {
	m, err := e.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, gate.Result{}, err
	}
	if party != m.PayerID {
		return nil, gate.Result{}, ErrNotAuthorized
	}
	if m.State != StateSubmitted {
		return nil, gate.Result{}, &TransitionError{MilestoneID: m.ID, From: m.State, To: StateVerified}
	}

	m.Approval = &gate.Approval{PartyID: string(party), Approved: approved, At: e.now().UTC()}
	result, err := e.evaluate(ctx, m)
	if err != nil {
		return nil, gate.Result{}, err
	}
	if err := e.store.UpdateMilestone(ctx, m); err != nil {
		return nil, gate.Result{}, err
	}
	return m, result, nil
}

// RecordInspection stores a third-party inspection verdict supplied by the
// inspection collaborator and re-evaluates the gate. The engine keeps only
// the verdict and an opaque reference.
func (e *Engine) RecordInspection(ctx context.Context, milestoneID string, ref string, passed bool) (*Milestone, gate.Result, error) {
	m, err := e.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, gate.Result{}, err
	}
	if m.State != StateSubmitted {
		return nil, gate.Result{}, &TransitionError{MilestoneID: m.ID, From: m.State, To: StateVerified}
	}

	m.Inspection = &gate.InspectionResult{Ref: ref, Passed: passed, At: e.now().UTC()}
	result, err := e.evaluate(ctx, m)
	if err != nil {
		return nil, gate.Result{}, err
	}
	if err := e.store.UpdateMilestone(ctx, m); err != nil {
		return nil, gate.Result{}, err
	}
	return m, result, nil
}

// evaluate runs the milestone's gate over its current evidence and applies
// the verdict: Pass verifies, Fail rejects (attempt-capped into an
// auto-dispute), Pending moves nothing. Mutates m; callers persist.
func (e *Engine) evaluate(ctx context.Context, m *Milestone) (gate.Result, error) {
	g, err := e.gates.ParseGate(m.GateConfig)
	if err != nil {
		return gate.Result{}, err
	}
	now := e.now().UTC()
	result := g.Evaluate(m.Evidence(now))

	switch result.Verdict {
	case gate.Pass:
		if err := transition(m, StateVerified, now); err != nil {
			return gate.Result{}, err
		}
	case gate.Fail:
		m.Attempts++
		if m.Attempts >= e.maxRejections {
			// Past the cap the rework loop stops stalling funds: freeze and
			// route to the resolver.
			if err := e.autoDispute(ctx, m, result.Reason); err != nil {
				return gate.Result{}, err
			}
			e.log.Warn("milestone auto-disputed after repeated rejection",
				zap.String("milestone", string(m.ID)),
				zap.Int("attempts", m.Attempts))
		} else if err := transition(m, StateRejected, now); err != nil {
			return gate.Result{}, err
		}
	case gate.Pending:
		// Awaiting external input; no forced state exists for this.
	}
	return result, nil
}

// =============================================================================
// RELEASE
// =============================================================================

// ApproveMilestone is the paying party's release action: verified ->
// released, moving the held amount out to the payee shares. This is the only
// path that moves money out of held on the happy path.
func (e *Engine) ApproveMilestone(ctx context.Context, milestoneID string, approver ledger.PartyID) (*Milestone, []ledger.Entry, error) {
	m, err := e.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, nil, err
	}
	if approver != m.PayerID {
		return nil, nil, ErrNotAuthorized
	}
	if !CanTransition(m.State, StateReleased) || m.State == StateDisputed {
		return nil, nil, &TransitionError{MilestoneID: m.ID, From: m.State, To: StateReleased}
	}

	entries, err := e.ledger.Release(ctx, m.ProjectID, m.ID, m.Payouts(), approver, "")
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyReleased) && m.State != StateReleased {
			// Entries committed but an earlier state update was lost;
			// finish the transition rather than strand the milestone.
			if terr := transition(m, StateReleased, e.now().UTC()); terr == nil {
				_ = e.store.UpdateMilestone(ctx, m)
			}
		}
		return nil, nil, err
	}

	if err := transition(m, StateReleased, e.now().UTC()); err != nil {
		return nil, nil, err
	}
	if err := e.store.UpdateMilestone(ctx, m); err != nil {
		return nil, nil, err
	}

	e.log.Info("milestone released",
		zap.String("project", string(m.ProjectID)),
		zap.String("milestone", string(m.ID)),
		zap.Int64("amount", int64(m.Amount)),
		zap.Int("payees", len(m.Shares)))
	return m, entries, nil
}

// =============================================================================
// VOID AND CANCELLATION
// =============================================================================

// VoidMilestone tombstones a pre-released milestone. Held funds flow back
// to the client as a refund; milestones never reach the held bucket before
// reserved, so scheduled voids move no money.
func (e *Engine) VoidMilestone(ctx context.Context, milestoneID string, by ledger.PartyID, reason string) (*Milestone, error) {
	m, err := e.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if m.State == StateDisputed {
		return nil, ErrMilestoneFrozen
	}
	if !CanTransition(m.State, StateVoided) {
		return nil, &TransitionError{MilestoneID: m.ID, From: m.State, To: StateVoided}
	}

	held, err := e.ledger.HeldFor(ctx, m.ProjectID, m.ID)
	if err != nil {
		return nil, err
	}
	if held.IsPositive() {
		if _, err := e.ledger.Refund(ctx, m.ProjectID, m.ID, held, ledger.SourceHeld, by, voidKey(m.ID)); err != nil &&
			!errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			return nil, err
		}
	}

	if err := transition(m, StateVoided, e.now().UTC()); err != nil {
		return nil, err
	}
	if err := e.store.UpdateMilestone(ctx, m); err != nil {
		return nil, err
	}
	e.log.Info("milestone voided",
		zap.String("milestone", string(m.ID)),
		zap.String("reason", reason))
	return m, nil
}

// CancelProject voids every pre-released milestone and marks the project
// cancelled. Remaining funds sit in available for the payment rail to
// return; the refund entries here record the held-bucket unwinds.
func (e *Engine) CancelProject(ctx context.Context, projectID string, by ledger.PartyID, reason string) (*Project, error) {
	p, err := e.activeProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	milestones, err := e.store.ListMilestones(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, m := range milestones {
		if m.State.Terminal() || m.State == StateDisputed {
			// Disputed milestones stay frozen; cancellation does not
			// adjudicate them.
			continue
		}
		if _, err := e.VoidMilestone(ctx, string(m.ID), by, reason); err != nil {
			return nil, err
		}
	}

	p.Status = ProjectCancelled
	p.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CompleteProject archives a project once every milestone is terminal.
func (e *Engine) CompleteProject(ctx context.Context, projectID string) (*Project, error) {
	p, err := e.activeProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	milestones, err := e.store.ListMilestones(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, m := range milestones {
		if !m.State.Terminal() {
			return nil, &TransitionError{MilestoneID: m.ID, From: m.State, To: StateReleased}
		}
	}
	p.Status = ProjectCompleted
	p.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// =============================================================================
// CHANGE ORDERS
// =============================================================================

// ChangeOrder amends the contract: add a milestone, or re-price a milestone
// that has not yet reserved funds. The contract value moves with it so the
// sum invariant re-validates by construction.
type ChangeOrder struct {
	AddMilestone *MilestoneSpec
	AmendID      string
	NewAmount    ledger.Amount
	NewShares    []PayeeShare
	ApprovedBy   ledger.PartyID
}

// ApplyChangeOrder mutates milestone amounts under re-validation of the
// contract-sum invariant. Only the client may approve a change order.
func (e *Engine) ApplyChangeOrder(ctx context.Context, projectID string, co ChangeOrder) (*Project, error) {
	p, err := e.activeProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if co.ApprovedBy != p.ClientID {
		return nil, ErrNotAuthorized
	}
	now := e.now().UTC()

	switch {
	case co.AddMilestone != nil:
		ms := *co.AddMilestone
		if !ms.Amount.IsPositive() {
			return nil, ledger.ErrInvalidAmount
		}
		m := &Milestone{
			ID:         ledger.MilestoneID(uuid.NewString()),
			ProjectID:  p.ID,
			Seq:        len(p.MilestoneIDs) + 1,
			Name:       ms.Name,
			Amount:     ms.Amount,
			PayerID:    ms.PayerID,
			GateConfig: ms.GateConfig,
			State:      StateScheduled,
			DueAt:      ms.DueAt,
			UpdatedAt:  now,
		}
		if m.PayerID == "" {
			m.PayerID = p.ClientID
		}
		switch {
		case len(ms.Shares) > 0:
			m.Shares = ms.Shares
		case len(ms.Splits) > 0:
			shares, err := SplitByBasisPoints(ms.Amount, ms.Splits)
			if err != nil {
				return nil, err
			}
			m.Shares = shares
		default:
			m.Shares = []PayeeShare{{PayeeID: p.GCID, Amount: ms.Amount}}
		}
		if err := ValidateShares(m.ID, m.Amount, m.Shares); err != nil {
			return nil, err
		}
		if _, err := e.gates.ParseGate(m.GateConfig); err != nil {
			return nil, err
		}
		if err := e.store.CreateMilestone(ctx, m); err != nil {
			return nil, err
		}
		p.MilestoneIDs = append(p.MilestoneIDs, m.ID)
		p.ContractValue += m.Amount

	case co.AmendID != "":
		m, err := e.store.GetMilestone(ctx, co.AmendID)
		if err != nil {
			return nil, err
		}
		if m.ProjectID != p.ID {
			return nil, ErrMilestoneNotFound
		}
		if m.State != StateScheduled {
			// Re-pricing after funds are held would desync the hold.
			return nil, &TransitionError{MilestoneID: m.ID, From: m.State, To: StateScheduled}
		}
		if !co.NewAmount.IsPositive() {
			return nil, ledger.ErrInvalidAmount
		}
		shares := co.NewShares
		if len(shares) == 0 {
			// Keep proportions, re-derive against the new amount. Works in
			// both directions: a change order may grow the milestone.
			shares, err = ScaleShares(m.Shares, co.NewAmount)
			if err != nil {
				return nil, err
			}
		}
		if err := ValidateShares(m.ID, co.NewAmount, shares); err != nil {
			return nil, err
		}
		p.ContractValue += co.NewAmount - m.Amount
		m.Amount = co.NewAmount
		m.Shares = shares
		m.UpdatedAt = now
		if err := e.store.UpdateMilestone(ctx, m); err != nil {
			return nil, err
		}

	default:
		return nil, ledger.ErrInvalidAmount
	}

	// Reconcile the contract-sum invariant before committing the project.
	milestones, err := e.store.ListMilestones(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var sum ledger.Amount
	for _, m := range milestones {
		if m.State == StateVoided {
			continue
		}
		sum += m.Amount
	}
	if sum != p.ContractValue {
		return nil, &ContractSumError{ProjectID: p.ID, Contract: p.ContractValue, Sum: sum}
	}

	p.UpdatedAt = now
	if err := e.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ProjectSnapshot is the dashboard view: balances plus full milestone and
// dispute state.
type ProjectSnapshot struct {
	Project    *Project
	Account    ledger.AccountSnapshot
	Milestones []*Milestone
	Disputes   []*Dispute
	Payees     map[ledger.PartyID]ledger.Amount
}

// Snapshot assembles the current project view. Balances are folded fresh
// from the ledger on every call.
func (e *Engine) Snapshot(ctx context.Context, projectID string) (*ProjectSnapshot, error) {
	p, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	account, err := e.ledger.Balance(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	account.ProjectID = p.ID
	milestones, err := e.store.ListMilestones(ctx, projectID)
	if err != nil {
		return nil, err
	}
	disputes, err := e.store.ListDisputes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	payees, err := e.ledger.Payees(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &ProjectSnapshot{
		Project:    p,
		Account:    account,
		Milestones: milestones,
		Disputes:   disputes,
		Payees:     payees,
	}, nil
}

// Ledger exposes the underlying ledger for query surfaces (entries,
// settlement, reversal). Mutations still serialize inside it.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Store exposes the domain store for read-side handlers.
func (e *Engine) Store() Store { return e.store }

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) activeProject(ctx context.Context, projectID string) (*Project, error) {
	p, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.Status != ProjectActive {
		return nil, ErrProjectNotActive
	}
	return p, nil
}

func reserveKey(id ledger.MilestoneID) string { return "reserve-" + string(id) }
func voidKey(id ledger.MilestoneID) string    { return "void-" + string(id) }
