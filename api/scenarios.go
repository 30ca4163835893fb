/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the engine with realistic
	data for testing and demos. Each scenario creates a project, funds it,
	and walks milestones through part of the lifecycle.

AVAILABLE SCENARIOS:

	kitchen-remodel:   Funded three-milestone job, first milestone released
	rejected-work:     Submission rejected twice, one attempt from auto-dispute
	split-payout:      Milestone split between GC and sub-trades by basis points
	open-dispute:      Contested milestone with claim and counter-claim on file

HOW SCENARIOS WORK:
 1. Create a project with its milestone schedule
 2. Fund the escrow account
 3. Drive milestones through reserve/submit/approve as the scenario needs
 4. Leave the state mid-flight so the lifecycle can be explored live

USAGE VIA API:

	POST /api/scenarios/load
	{"id": "kitchen-remodel"}

NOTE:

	Scenarios create fresh projects each load; they never touch existing
	ones. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: shared helpers
  - server.go: route wiring
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/buildvault/escrow-engine/escrow"
	"github.com/buildvault/escrow-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "kitchen-remodel",
		Name:        "Kitchen Remodel",
		Description: "Funded three-milestone job with the first milestone paid out",
	},
	{
		ID:          "rejected-work",
		Name:        "Rejected Work",
		Description: "Submission rejected twice, one more rejection auto-disputes",
	},
	{
		ID:          "split-payout",
		Name:        "Split Payout",
		Description: "Milestone payment split between GC and sub-trades by basis points",
	},
	{
		ID:          "open-dispute",
		Name:        "Open Dispute",
		Description: "Contested milestone frozen with claim and counter-claim on file",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario builds the requested scenario's project.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	var (
		projectID string
		err       error
	)
	switch req.ID {
	case "kitchen-remodel":
		projectID, err = h.loadKitchenRemodel(ctx)
	case "rejected-work":
		projectID, err = h.loadRejectedWork(ctx)
	case "split-payout":
		projectID, err = h.loadSplitPayout(ctx)
	case "open-dispute":
		projectID, err = h.loadOpenDispute(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ID
	writeJSON(w, http.StatusOK, map[string]string{
		"scenario":   req.ID,
		"project_id": projectID,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadKitchenRemodel: a funded job in the middle of normal life. Demolition
// is already paid, cabinets are awaiting client approval.
func (h *Handler) loadKitchenRemodel(ctx context.Context) (string, error) {
	p, ms, err := h.Engine.CreateProject(ctx, escrow.ProjectSpec{
		Name:          "Maple St Kitchen Remodel",
		ClientID:      "client-harmon",
		GCID:          "gc-castle-builders",
		ContractValue: 48_000_00,
		Milestones: []escrow.MilestoneSpec{
			{Name: "Demolition", Amount: 8_000_00},
			{Name: "Cabinets & counters", Amount: 25_000_00},
			{Name: "Finish & punch list", Amount: 15_000_00},
		},
	})
	if err != nil {
		return "", err
	}

	if _, err := h.Engine.Fund(ctx, string(p.ID), 48_000_00, "seed-"+string(p.ID)); err != nil {
		return "", err
	}

	// Demolition: full cycle through payout.
	demo := string(ms[0].ID)
	if _, err := h.Engine.ReserveMilestone(ctx, demo); err != nil {
		return "", err
	}
	if _, _, err := h.Engine.SubmitMilestone(ctx, demo, p.GCID, []string{"photo://demo-before-after"}); err != nil {
		return "", err
	}
	if _, _, err := h.Engine.RecordApproval(ctx, demo, p.ClientID, true); err != nil {
		return "", err
	}
	if _, _, err := h.Engine.ApproveMilestone(ctx, demo, p.ClientID); err != nil {
		return "", err
	}

	// Cabinets: submitted, waiting on the client.
	cab := string(ms[1].ID)
	if _, err := h.Engine.ReserveMilestone(ctx, cab); err != nil {
		return "", err
	}
	if _, _, err := h.Engine.SubmitMilestone(ctx, cab, p.GCID, []string{"photo://cabinets-installed"}); err != nil {
		return "", err
	}

	return string(p.ID), nil
}

// loadRejectedWork: a milestone sitting at the edge of the rejection cap.
func (h *Handler) loadRejectedWork(ctx context.Context) (string, error) {
	p, ms, err := h.Engine.CreateProject(ctx, escrow.ProjectSpec{
		Name:          "Birch Ave Bathroom",
		ClientID:      "client-okafor",
		GCID:          "gc-true-north",
		ContractValue: 12_000_00,
		Milestones: []escrow.MilestoneSpec{
			{Name: "Tile & waterproofing", Amount: 12_000_00},
		},
	})
	if err != nil {
		return "", err
	}

	if _, err := h.Engine.Fund(ctx, string(p.ID), 12_000_00, "seed-"+string(p.ID)); err != nil {
		return "", err
	}

	tile := string(ms[0].ID)
	if _, err := h.Engine.ReserveMilestone(ctx, tile); err != nil {
		return "", err
	}

	// Two rejections on the books: one more auto-disputes.
	for i := 0; i < 2; i++ {
		if _, _, err := h.Engine.SubmitMilestone(ctx, tile, p.GCID, []string{"photo://tile-attempt"}); err != nil {
			return "", err
		}
		if _, _, err := h.Engine.RecordApproval(ctx, tile, p.ClientID, false); err != nil {
			return "", err
		}
	}
	if _, _, err := h.Engine.SubmitMilestone(ctx, tile, p.GCID, []string{"photo://tile-regrouted"}); err != nil {
		return "", err
	}

	return string(p.ID), nil
}

// loadSplitPayout: basis-point shares across GC, electrician and plumber.
func (h *Handler) loadSplitPayout(ctx context.Context) (string, error) {
	p, ms, err := h.Engine.CreateProject(ctx, escrow.ProjectSpec{
		Name:          "Cedar Ct Basement Buildout",
		ClientID:      "client-lindqvist",
		GCID:          "gc-foundry",
		ContractValue: 30_000_00,
		Milestones: []escrow.MilestoneSpec{
			{
				Name:   "Rough-in",
				Amount: 30_000_00,
				Splits: []escrow.SplitSpec{
					{PayeeID: "gc-foundry", BasisPoints: 5000},
					{PayeeID: "sub-electric-ray", BasisPoints: 3000},
					{PayeeID: "sub-plumb-rite", BasisPoints: 2000},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	if _, err := h.Engine.Fund(ctx, string(p.ID), 30_000_00, "seed-"+string(p.ID)); err != nil {
		return "", err
	}
	if _, err := h.Engine.ReserveMilestone(ctx, string(ms[0].ID)); err != nil {
		return "", err
	}

	return string(p.ID), nil
}

// loadOpenDispute: held funds frozen under an active dispute.
func (h *Handler) loadOpenDispute(ctx context.Context) (string, error) {
	p, ms, err := h.Engine.CreateProject(ctx, escrow.ProjectSpec{
		Name:          "Elm Rd Deck Replacement",
		ClientID:      "client-tanaka",
		GCID:          "gc-heartwood",
		ContractValue: 18_000_00,
		Milestones: []escrow.MilestoneSpec{
			{Name: "Framing & decking", Amount: 18_000_00},
		},
	})
	if err != nil {
		return "", err
	}

	if _, err := h.Engine.Fund(ctx, string(p.ID), 18_000_00, "seed-"+string(p.ID)); err != nil {
		return "", err
	}

	deck := string(ms[0].ID)
	if _, err := h.Engine.ReserveMilestone(ctx, deck); err != nil {
		return "", err
	}
	if _, _, err := h.Engine.SubmitMilestone(ctx, deck, p.GCID, []string{"photo://deck-complete"}); err != nil {
		return "", err
	}

	d, err := h.Engine.OpenDispute(ctx, deck, p.ClientID, 6_000_00, "railing out of plumb, boards cupping")
	if err != nil {
		return "", err
	}
	if _, err := h.Engine.RecordCounterClaim(ctx, d.ID, p.GCID, ledger.Amount(18_000_00), "work to drawing, lumber within spec"); err != nil {
		return "", err
	}

	return string(p.ID), nil
}
