/*
dispute.go - Freeze, adjudicate, resolve

PURPOSE:
  A dispute freezes a milestone's funds and records both sides' claims.
  Resolution produces exactly one ledger-safe outcome: release in full,
  partial release with the complementary refund, full refund, or escalation
  to out-of-band arbitration.

CONSERVATION:
  For a partial release the resolver computes the refund as
  held - partial, so partial + refund == held exactly. No resolution can
  create or destroy money. Escalation moves nothing; the milestone stays
  frozen until a later resolve supplies a final outcome.

IDEMPOTENCY:
  Resolving an already-resolved dispute fails with ErrAlreadyResolved - a
  loud rejection, not a silent no-op, so operators notice duplicate
  resolution attempts.
*/
package escrow

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buildvault/escrow-engine/ledger"
)

// =============================================================================
// OPEN
// =============================================================================

// OpenDispute contests a milestone before its release completes. The
// milestone freezes: no transitions except resolution.
func (e *Engine) OpenDispute(ctx context.Context, milestoneID string, by ledger.PartyID, claim ledger.Amount, note string) (*Dispute, error) {
	m, err := e.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if existing, err := e.store.OpenDisputeForMilestone(ctx, milestoneID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrDisputeAlreadyOpen
	}
	if err := transition(m, StateDisputed, e.now().UTC()); err != nil {
		return nil, err
	}

	d := e.newDispute(m, by, claim, note)
	if err := e.store.CreateDispute(ctx, d); err != nil {
		return nil, err
	}
	if err := e.store.UpdateMilestone(ctx, m); err != nil {
		return nil, err
	}

	e.log.Info("dispute opened",
		zap.String("dispute", d.ID),
		zap.String("milestone", string(m.ID)),
		zap.String("opened_by", string(by)),
		zap.Int64("claim", int64(claim)))
	return d, nil
}

// autoDispute is the rejection-cap escalation path. The milestone is
// already loaded and mutated by the caller, which persists it.
func (e *Engine) autoDispute(ctx context.Context, m *Milestone, reason string) error {
	if err := transition(m, StateDisputed, e.now().UTC()); err != nil {
		return err
	}
	d := e.newDispute(m, SystemParty, m.Amount, "rejection cap reached: "+reason)
	return e.store.CreateDispute(ctx, d)
}

func (e *Engine) newDispute(m *Milestone, by ledger.PartyID, claim ledger.Amount, note string) *Dispute {
	return &Dispute{
		ID:          uuid.NewString(),
		ProjectID:   m.ProjectID,
		MilestoneID: m.ID,
		OpenedBy:    by,
		Claim:       claim,
		ClaimNote:   note,
		Status:      DisputeOpen,
		OpenedAt:    e.now().UTC(),
	}
}

// RecordCounterClaim attaches the other side's position to an open dispute.
func (e *Engine) RecordCounterClaim(ctx context.Context, disputeID string, by ledger.PartyID, amount ledger.Amount, note string) (*Dispute, error) {
	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != DisputeOpen {
		return nil, ledger.ErrAlreadyResolved
	}
	d.CounterClaim = amount
	d.CounterNote = note
	if err := e.store.UpdateDispute(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// =============================================================================
// RESOLVE
// =============================================================================

// ResolveDispute applies the arbitrator's outcome and writes the terminal
// ledger movement. Escalation keeps the dispute open and the milestone
// frozen, waiting indefinitely for an explicit final outcome.
func (e *Engine) ResolveDispute(ctx context.Context, disputeID string, outcome Outcome) (*Dispute, error) {
	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != DisputeOpen {
		return nil, ledger.ErrAlreadyResolved
	}
	m, err := e.store.GetMilestone(ctx, string(d.MilestoneID))
	if err != nil {
		return nil, err
	}

	held, err := e.ledger.HeldFor(ctx, d.ProjectID, d.MilestoneID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()

	switch outcome.Kind {
	case ResolveEscalate:
		// Out-of-band arbitration. No ledger movement, milestone stays
		// frozen, dispute stays open for the eventual final resolve.
		d.Escalated = true
		if err := e.store.UpdateDispute(ctx, d); err != nil {
			return nil, err
		}
		e.log.Info("dispute escalated", zap.String("dispute", d.ID))
		return d, nil

	case ResolveReleaseFull:
		if held.IsZero() {
			return nil, ledger.ErrNotReserved
		}
		if _, err := e.ledger.Release(ctx, d.ProjectID, d.MilestoneID, m.Payouts(), SystemParty, ""); err != nil {
			return nil, err
		}
		d.PartialPaid = held
		if err := transition(m, StateReleased, now); err != nil {
			return nil, err
		}

	case ResolveReleasePartial:
		if held.IsZero() {
			return nil, ledger.ErrNotReserved
		}
		partial := outcome.PartialAmount
		if !partial.IsPositive() || partial >= held {
			return nil, ledger.ErrInvalidAmount
		}
		// Complementary refund first, so partial + refund == held exactly
		// and the subsequent release moves precisely what remains held.
		refund := held - partial
		if _, err := e.ledger.Refund(ctx, d.ProjectID, d.MilestoneID, refund, ledger.SourceHeld, SystemParty, ""); err != nil {
			return nil, err
		}
		payouts, err := ProrateShares(m.Shares, partial)
		if err != nil {
			return nil, err
		}
		prorated := make([]ledger.Payout, len(payouts))
		for i, s := range payouts {
			prorated[i] = ledger.Payout{PayeeID: s.PayeeID, Amount: s.Amount}
		}
		if _, err := e.ledger.Release(ctx, d.ProjectID, d.MilestoneID, prorated, SystemParty, ""); err != nil {
			return nil, err
		}
		d.PartialPaid = partial
		d.RefundAmount = refund
		if err := transition(m, StateReleased, now); err != nil {
			return nil, err
		}

	case ResolveRefund:
		if held.IsZero() {
			return nil, ledger.ErrNotReserved
		}
		if _, err := e.ledger.Refund(ctx, d.ProjectID, d.MilestoneID, held, ledger.SourceHeld, SystemParty, ""); err != nil {
			return nil, err
		}
		d.RefundAmount = held
		if err := transition(m, StateVoided, now); err != nil {
			return nil, err
		}

	default:
		return nil, ledger.ErrInvalidAmount
	}

	d.Status = DisputeResolved
	d.Resolution = outcome.Kind
	d.ResolvedAt = now
	if err := e.store.UpdateDispute(ctx, d); err != nil {
		return nil, err
	}
	if err := e.store.UpdateMilestone(ctx, m); err != nil {
		return nil, err
	}

	e.log.Info("dispute resolved",
		zap.String("dispute", d.ID),
		zap.String("resolution", string(outcome.Kind)),
		zap.Int64("paid", int64(d.PartialPaid)),
		zap.Int64("refunded", int64(d.RefundAmount)))
	return d, nil
}
