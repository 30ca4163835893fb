/*
handlers.go - HTTP API handlers for the escrow milestone ledger

PURPOSE:
  Exposes the escrow engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to the domain packages.

ENDPOINTS:
  Projects:
    GET    /api/projects                 List all projects
    POST   /api/projects                 Create project with milestone schedule
    GET    /api/projects/{id}            Full project snapshot
    GET    /api/projects/{id}/entries    Ledger history
    GET    /api/projects/{id}/events     Live entry stream (SSE)
    POST   /api/projects/{id}/deposits   Fund the escrow account
    POST   /api/projects/{id}/change-orders
    POST   /api/projects/{id}/cancel
    POST   /api/projects/{id}/complete

  Milestones:
    GET    /api/milestones/{id}
    POST   /api/milestones/{id}/reserve     Earmark funds
    POST   /api/milestones/{id}/submit      Work done, proof attached
    POST   /api/milestones/{id}/approval    Payer approve/reject
    POST   /api/milestones/{id}/inspection  Third-party inspection result
    POST   /api/milestones/{id}/release     Pay out held funds
    POST   /api/milestones/{id}/void        Tombstone, refund held
    POST   /api/milestones/{id}/disputes    Freeze and contest

  Disputes:
    GET    /api/disputes/{id}
    POST   /api/disputes/{id}/counter
    POST   /api/disputes/{id}/resolve

  Entries:
    POST   /api/entries/{id}/settlement     Rail confirmation
    POST   /api/entries/{id}/reverse        Compensating correction

  Scenarios:
    GET    /api/scenarios                List demo scenarios
    POST   /api/scenarios/load           Load a demo scenario

ERROR HANDLING:
  Domain errors map to HTTP status via writeDomainError:
  - 400: invalid input (amounts, shares, contract sums)
  - 403: wrong party acting
  - 404: unknown project/milestone/dispute/entry
  - 409: state conflicts (frozen, terminal, already released, concurrent
         modification, awaiting funding)
  - 500: everything else

SECURITY NOTE:
  Party identity comes from the request body, unauthenticated. An API
  gateway in front is assumed to have established who the caller is.

SEE ALSO:
  - dto.go: Request/response data structures
  - events.go: SSE entry stream
  - scenarios.go: Demo scenario loaders
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/buildvault/escrow-engine/escrow"
	"github.com/buildvault/escrow-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *escrow.Engine
	Events *Broadcaster

	log *zap.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *escrow.Engine, events *Broadcaster, log *zap.Logger) *Handler {
	return &Handler{Engine: engine, Events: events, log: log}
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// ListProjects returns all projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Engine.Store().ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}

	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProject sets up an awarded job with its milestone schedule.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	spec := escrow.ProjectSpec{
		ID:            req.ID,
		Name:          req.Name,
		ClientID:      ledger.PartyID(req.ClientID),
		GCID:          ledger.PartyID(req.GCID),
		ContractValue: ledger.Amount(req.ContractValue),
	}
	for _, ms := range req.Milestones {
		msSpec, err := toMilestoneSpec(ms)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid milestone", err)
			return
		}
		spec.Milestones = append(spec.Milestones, msSpec)
	}

	p, milestones, err := h.Engine.CreateProject(r.Context(), spec)
	if err != nil {
		writeDomainError(w, "Failed to create project", err)
		return
	}

	msDTOs := make([]MilestoneDTO, len(milestones))
	for i, m := range milestones {
		msDTOs[i] = toMilestoneDTO(m)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"project":    toProjectDTO(p),
		"milestones": msDTOs,
	})
}

// GetProject returns the full project snapshot: account balances folded
// fresh from the ledger, all milestones, all disputes, per-payee totals.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.Engine.Snapshot(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load project", err)
		return
	}

	dto := ProjectSnapshotDTO{
		Project:    toProjectDTO(snap.Project),
		Account:    toAccountDTO(snap.Account),
		Milestones: make([]MilestoneDTO, len(snap.Milestones)),
		Disputes:   make([]DisputeDTO, len(snap.Disputes)),
		Payees:     make(map[string]MoneyDTO, len(snap.Payees)),
	}
	for i, m := range snap.Milestones {
		dto.Milestones[i] = toMilestoneDTO(m)
	}
	for i, d := range snap.Disputes {
		dto.Disputes[i] = toDisputeDTO(d)
	}
	for payee, amt := range snap.Payees {
		dto.Payees[string(payee)] = money(amt)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetEntries returns the project's full append-only ledger history.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.Engine.Ledger().Entries(r.Context(), ledger.ProjectID(id))
	if err != nil {
		writeDomainError(w, "Failed to load entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// Deposit funds the project escrow account.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "idempotency_key is required", nil)
		return
	}

	entry, err := h.Engine.Fund(r.Context(), id, ledger.Amount(req.Amount), req.IdempotencyKey)
	if err != nil {
		// A replayed deposit already landed: report success, not conflict.
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "already_recorded"})
			return
		}
		writeDomainError(w, "Failed to record deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// ApplyChangeOrder amends the milestone schedule mid-project.
func (h *Handler) ApplyChangeOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ChangeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	co := escrow.ChangeOrder{
		AmendID:    req.AmendID,
		NewAmount:  ledger.Amount(req.NewAmount),
		ApprovedBy: ledger.PartyID(req.ApprovedBy),
	}
	for _, s := range req.NewShares {
		co.NewShares = append(co.NewShares, escrow.PayeeShare{
			PayeeID: ledger.PartyID(s.PayeeID),
			Amount:  ledger.Amount(s.Amount),
		})
	}
	if req.AddMilestone != nil {
		spec, err := toMilestoneSpec(*req.AddMilestone)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid milestone", err)
			return
		}
		co.AddMilestone = &spec
	}

	p, err := h.Engine.ApplyChangeOrder(r.Context(), id, co)
	if err != nil {
		writeDomainError(w, "Failed to apply change order", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

// CancelProject voids all non-terminal milestones and refunds their holds.
func (h *Handler) CancelProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PartyActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Engine.CancelProject(r.Context(), id, ledger.PartyID(req.By), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to cancel project", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

// CompleteProject archives a project whose milestones are all terminal.
func (h *Handler) CompleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Engine.CompleteProject(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to complete project", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

// =============================================================================
// MILESTONE HANDLERS
// =============================================================================

// GetMilestone returns a single milestone.
func (h *Handler) GetMilestone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.Engine.Store().GetMilestone(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get milestone", err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneDTO(m))
}

// ReserveMilestone earmarks the milestone's amount from available funds.
func (h *Handler) ReserveMilestone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.Engine.ReserveMilestone(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to reserve milestone", err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneDTO(m))
}

// SubmitMilestone records completed work with proof references and runs the
// verification gate.
func (h *Handler) SubmitMilestone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, result, err := h.Engine.SubmitMilestone(r.Context(), id, ledger.PartyID(req.By), req.ProofRefs)
	if err != nil {
		writeDomainError(w, "Failed to submit milestone", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"milestone": toMilestoneDTO(m),
		"gate":      toGateResultDTO(result),
	})
}

// RecordApproval records the payer's approve/reject decision and re-runs
// the gate.
func (h *Handler) RecordApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, result, err := h.Engine.RecordApproval(r.Context(), id, ledger.PartyID(req.Party), req.Approved)
	if err != nil {
		writeDomainError(w, "Failed to record approval", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"milestone": toMilestoneDTO(m),
		"gate":      toGateResultDTO(result),
	})
}

// RecordInspection records a third-party inspection result and re-runs
// the gate.
func (h *Handler) RecordInspection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req InspectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, result, err := h.Engine.RecordInspection(r.Context(), id, req.Ref, req.Passed)
	if err != nil {
		writeDomainError(w, "Failed to record inspection", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"milestone": toMilestoneDTO(m),
		"gate":      toGateResultDTO(result),
	})
}

// ReleaseMilestone pays out a verified milestone's held funds to its payees.
func (h *Handler) ReleaseMilestone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PartyActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, entries, err := h.Engine.ApproveMilestone(r.Context(), id, ledger.PartyID(req.By))
	if err != nil {
		writeDomainError(w, "Failed to release milestone", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"milestone": toMilestoneDTO(m),
		"entries":   toEntryDTOs(entries),
	})
}

// VoidMilestone tombstones a milestone and refunds any held funds.
func (h *Handler) VoidMilestone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PartyActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, err := h.Engine.VoidMilestone(r.Context(), id, ledger.PartyID(req.By), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to void milestone", err)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneDTO(m))
}

// =============================================================================
// DISPUTE HANDLERS
// =============================================================================

// OpenDispute freezes a milestone's funds pending resolution.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req OpenDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	d, err := h.Engine.OpenDispute(r.Context(), id, ledger.PartyID(req.By), ledger.Amount(req.Claim), req.Note)
	if err != nil {
		writeDomainError(w, "Failed to open dispute", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeDTO(d))
}

// GetDispute returns a single dispute.
func (h *Handler) GetDispute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := h.Engine.Store().GetDispute(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeDTO(d))
}

// RecordCounterClaim records the other party's response to an open dispute.
func (h *Handler) RecordCounterClaim(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CounterClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	d, err := h.Engine.RecordCounterClaim(r.Context(), id, ledger.PartyID(req.By), ledger.Amount(req.Amount), req.Note)
	if err != nil {
		writeDomainError(w, "Failed to record counter-claim", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeDTO(d))
}

// ResolveDispute applies the resolver's decision and moves money exactly
// once, conserving the disputed hold to the cent.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	outcome := escrow.Outcome{
		Kind:          escrow.ResolutionKind(req.Kind),
		PartialAmount: ledger.Amount(req.PartialAmount),
		Note:          req.Note,
	}
	d, err := h.Engine.ResolveDispute(r.Context(), id, outcome)
	if err != nil {
		writeDomainError(w, "Failed to resolve dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeDTO(d))
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// RecordSettlement confirms a payment-rail transfer for a prior entry.
func (h *Handler) RecordSettlement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Engine.Ledger().RecordSettlement(r.Context(),
		ledger.ProjectID(req.ProjectID), ledger.EntryID(id), req.RailRef, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadySettled) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "already_settled"})
			return
		}
		writeDomainError(w, "Failed to record settlement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// ReverseEntry backs out an erroneous entry with a compensating one.
func (h *Handler) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entries, err := h.Engine.Ledger().Reverse(r.Context(),
		ledger.ProjectID(req.ProjectID), ledger.EntryID(id), req.Reason, ledger.PartyID(req.By))
	if err != nil {
		writeDomainError(w, "Failed to reverse entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTOs(entries))
}

// =============================================================================
// HELPERS
// =============================================================================

func toMilestoneSpec(dto MilestoneSpecDTO) (escrow.MilestoneSpec, error) {
	spec := escrow.MilestoneSpec{
		Name:       dto.Name,
		Amount:     ledger.Amount(dto.Amount),
		PayerID:    ledger.PartyID(dto.PayerID),
		GateConfig: string(dto.GateConfig),
	}
	for _, s := range dto.Shares {
		spec.Shares = append(spec.Shares, escrow.PayeeShare{
			PayeeID: ledger.PartyID(s.PayeeID),
			Amount:  ledger.Amount(s.Amount),
		})
	}
	for _, s := range dto.Splits {
		spec.Splits = append(spec.Splits, escrow.SplitSpec{
			PayeeID:     ledger.PartyID(s.PayeeID),
			BasisPoints: s.BasisPoints,
		})
	}
	if dto.DueAt != "" {
		due, err := time.Parse(time.RFC3339, dto.DueAt)
		if err != nil {
			return spec, err
		}
		spec.DueAt = due
	}
	return spec, nil
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrProjectNotFound),
		errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, escrow.ErrMilestoneNotFound),
		errors.Is(err, escrow.ErrDisputeNotFound):
		writeError(w, http.StatusNotFound, message, err)

	case errors.Is(err, escrow.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, message, err)

	case errors.Is(err, ledger.ErrInsufficientFunds):
		// Expected whenever the client hasn't wired money yet.
		writeError(w, http.StatusConflict, "Awaiting funding", err)

	case ledger.IsRetryable(err),
		ledger.IsIdempotentNoop(err),
		errors.Is(err, ledger.ErrNotReserved),
		errors.Is(err, escrow.ErrInvalidTransition),
		errors.Is(err, escrow.ErrMilestoneFrozen),
		errors.Is(err, ledger.ErrTerminalState),
		errors.Is(err, escrow.ErrProjectNotActive),
		errors.Is(err, escrow.ErrDisputeAlreadyOpen):
		writeError(w, http.StatusConflict, message, err)

	case ledger.IsClientError(err),
		errors.Is(err, escrow.ErrContractSumMismatch):
		writeError(w, http.StatusBadRequest, message, err)

	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
