package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildvault/escrow-engine/ledger"
)

// disputedMilestone funds a project, reserves its milestone, and opens a
// client dispute against it.
func disputedMilestone(t *testing.T, e *Engine) (*Project, *Milestone, *Dispute) {
	t.Helper()
	ctx := context.Background()
	p, m := oneMilestoneProject(t, e, 30_000, 100_000, selfAttest)

	_, err := e.ReserveMilestone(ctx, string(m.ID))
	require.NoError(t, err)
	_, _, err = e.SubmitMilestone(ctx, string(m.ID), "gc-1", []string{"photo://work"})
	require.NoError(t, err)

	d, err := e.OpenDispute(ctx, string(m.ID), "client-1", 30_000, "tile is cracked")
	require.NoError(t, err)
	return p, m, d
}

// =============================================================================
// OPEN AND FREEZE
// =============================================================================

func TestOpenDispute_FreezesMilestone(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	_, m, d := disputedMilestone(t, e)

	assert.Equal(t, DisputeOpen, d.Status)
	assert.Equal(t, ledger.PartyID("client-1"), d.OpenedBy)

	frozen, err := e.store.GetMilestone(ctx, string(m.ID))
	require.NoError(t, err)
	assert.Equal(t, StateDisputed, frozen.State)

	// Every milestone action bounces off the frozen state.
	_, _, err = e.ApproveMilestone(ctx, string(m.ID), "client-1")
	assert.Error(t, err)
	_, err = e.VoidMilestone(ctx, string(m.ID), "client-1", "give up")
	assert.ErrorIs(t, err, ErrMilestoneFrozen)
	_, _, err = e.SubmitMilestone(ctx, string(m.ID), "gc-1", nil)
	assert.Error(t, err)
}

func TestOpenDispute_SecondOpenRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	_, m, _ := disputedMilestone(t, e)

	_, err := e.OpenDispute(ctx, string(m.ID), "gc-1", 30_000, "no it isn't")
	assert.ErrorIs(t, err, ErrDisputeAlreadyOpen)
}

func TestRecordCounterClaim_AttachesOtherSide(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	_, _, d := disputedMilestone(t, e)

	updated, err := e.RecordCounterClaim(ctx, d.ID, "gc-1", 30_000, "installed per drawings")
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(30_000), updated.CounterClaim)
	assert.Equal(t, "installed per drawings", updated.CounterNote)
}

// =============================================================================
// RESOLUTION OUTCOMES
// =============================================================================

func TestResolveDispute_ReleaseFull_PaysThePerformer(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	p, m, d := disputedMilestone(t, e)

	resolved, err := e.ResolveDispute(ctx, d.ID, Outcome{Kind: ResolveReleaseFull})
	require.NoError(t, err)
	assert.Equal(t, DisputeResolved, resolved.Status)
	assert.Equal(t, ResolveReleaseFull, resolved.Resolution)
	assert.Equal(t, ledger.Amount(30_000), resolved.PartialPaid)

	after, err := e.store.GetMilestone(ctx, string(m.ID))
	require.NoError(t, err)
	assert.Equal(t, StateReleased, after.State)

	snap, err := e.ledger.Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(0), snap.Held)
	assert.Equal(t, ledger.Amount(30_000), snap.Released)
}

func TestResolveDispute_ReleasePartial_ConservesHeld(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	p, m, d := disputedMilestone(t, e)

	resolved, err := e.ResolveDispute(ctx, d.ID, Outcome{Kind: ResolveReleasePartial, PartialAmount: 18_000})
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(18_000), resolved.PartialPaid)
	assert.Equal(t, ledger.Amount(12_000), resolved.RefundAmount)
	assert.Equal(t, ledger.Amount(30_000), resolved.PartialPaid+resolved.RefundAmount,
		"paid plus refunded covers the hold exactly")

	snap, err := e.ledger.Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(0), snap.Held)
	assert.Equal(t, ledger.Amount(18_000), snap.Released)
	assert.Equal(t, ledger.Amount(12_000), snap.Refunded)
	assert.Equal(t, snap.Deposited, snap.Held+snap.Released+snap.Refunded+snap.Available())

	after, err := e.store.GetMilestone(ctx, string(m.ID))
	require.NoError(t, err)
	assert.Equal(t, StateReleased, after.State)
}

func TestResolveDispute_ReleasePartial_BoundsEnforced(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	_, _, d := disputedMilestone(t, e)

	_, err := e.ResolveDispute(ctx, d.ID, Outcome{Kind: ResolveReleasePartial, PartialAmount: 0})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = e.ResolveDispute(ctx, d.ID, Outcome{Kind: ResolveReleasePartial, PartialAmount: 30_000})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "a full payout must use the full-release outcome")
}

func TestResolveDispute_Refund_VoidsMilestone(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	p, m, d := disputedMilestone(t, e)

	resolved, err := e.ResolveDispute(ctx, d.ID, Outcome{Kind: ResolveRefund})
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(30_000), resolved.RefundAmount)

	after, err := e.store.GetMilestone(ctx, string(m.ID))
	require.NoError(t, err)
	assert.Equal(t, StateVoided, after.State)

	snap, err := e.ledger.Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(0), snap.Held)
	assert.Equal(t, ledger.Amount(30_000), snap.Refunded, "the hold went back to the client, not the pool")
	assert.Equal(t, ledger.Amount(70_000), snap.Available())
}

func TestOpenDispute_ScheduledMilestoneRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	_, m := oneMilestoneProject(t, e, 30_000, 100_000, selfAttest)

	// Nothing is held yet, so there is nothing a resolver could move.
	_, err := e.OpenDispute(ctx, string(m.ID), "client-1", 30_000, "premature")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The milestone is untouched and still cancellable.
	after, err := e.store.GetMilestone(ctx, string(m.ID))
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, after.State)
	_, err = e.VoidMilestone(ctx, string(m.ID), "client-1", "descoped")
	assert.NoError(t, err)
}

func TestResolveDispute_Escalate_KeepsEverythingFrozen(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	p, m, d := disputedMilestone(t, e)

	escalated, err := e.ResolveDispute(ctx, d.ID, Outcome{Kind: ResolveEscalate})
	require.NoError(t, err)
	assert.Equal(t, DisputeOpen, escalated.Status, "escalation is not a resolution")
	assert.True(t, escalated.Escalated)

	after, err := e.store.GetMilestone(ctx, string(m.ID))
	require.NoError(t, err)
	assert.Equal(t, StateDisputed, after.State)

	snap, err := e.ledger.Balance(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(30_000), snap.Held, "no money moves on escalation")

	// A later final outcome still lands.
	resolved, err := e.ResolveDispute(ctx, d.ID, Outcome{Kind: ResolveReleaseFull})
	require.NoError(t, err)
	assert.Equal(t, DisputeResolved, resolved.Status)
}

func TestResolveDispute_Twice_Rejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	_, _, d := disputedMilestone(t, e)

	_, err := e.ResolveDispute(ctx, d.ID, Outcome{Kind: ResolveReleaseFull})
	require.NoError(t, err)

	_, err = e.ResolveDispute(ctx, d.ID, Outcome{Kind: ResolveRefund})
	assert.ErrorIs(t, err, ledger.ErrAlreadyResolved)
}

func TestResolveDispute_SplitShares_ProratedPartial(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	p, ms, err := e.CreateProject(ctx, ProjectSpec{
		Name:          "Split Dispute",
		ClientID:      "client-1",
		GCID:          "gc-1",
		ContractValue: 30_000,
		Milestones: []MilestoneSpec{{
			Name:   "Rough-in",
			Amount: 30_000,
			Shares: []PayeeShare{
				{PayeeID: "gc-1", Amount: 20_000},
				{PayeeID: "sub-1", Amount: 10_000},
			},
			GateConfig: selfAttest,
		}},
	})
	require.NoError(t, err)
	_, err = e.Fund(ctx, string(p.ID), 30_000, "seed-wire")
	require.NoError(t, err)

	m := ms[0]
	_, err = e.ReserveMilestone(ctx, string(m.ID))
	require.NoError(t, err)
	_, _, err = e.SubmitMilestone(ctx, string(m.ID), "gc-1", nil)
	require.NoError(t, err)
	d, err := e.OpenDispute(ctx, string(m.ID), "client-1", 30_000, "half the run leaks")
	require.NoError(t, err)

	resolved, err := e.ResolveDispute(ctx, d.ID, Outcome{Kind: ResolveReleasePartial, PartialAmount: 15_000})
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(15_000), resolved.PartialPaid)

	payees, err := e.ledger.Payees(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(10_000), payees["gc-1"], "shares keep their 2:1 proportion")
	assert.Equal(t, ledger.Amount(5_000), payees["sub-1"])
	assert.Equal(t, ledger.Amount(15_000), payees["gc-1"]+payees["sub-1"])
}
