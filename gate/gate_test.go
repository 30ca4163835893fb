package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	submitted = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	soonAfter = submitted.Add(2 * time.Hour)
)

func evidence(mutate ...func(*Evidence)) Evidence {
	ev := Evidence{
		SubmittedAt: submitted,
		ProofRefs:   []string{"photo://proof"},
		Now:         soonAfter,
	}
	for _, m := range mutate {
		m(&ev)
	}
	return ev
}

// =============================================================================
// SELF-ATTESTATION
// =============================================================================

func TestSelfAttestation_PassesOnSubmission(t *testing.T) {
	r := SelfAttestation{}.Evaluate(evidence())
	assert.Equal(t, Pass, r.Verdict)
}

func TestSelfAttestation_PendingBeforeSubmission(t *testing.T) {
	r := SelfAttestation{}.Evaluate(evidence(func(ev *Evidence) {
		ev.SubmittedAt = time.Time{}
	}))
	assert.Equal(t, Pending, r.Verdict)
}

// =============================================================================
// CLIENT APPROVAL
// =============================================================================

func TestClientApproval_ExplicitApprovalPasses(t *testing.T) {
	g := ClientApproval{Window: 72 * time.Hour}
	r := g.Evaluate(evidence(func(ev *Evidence) {
		ev.Approval = &Approval{PartyID: "client-1", Approved: true, At: soonAfter}
	}))
	assert.Equal(t, Pass, r.Verdict)
}

func TestClientApproval_DeclineFails(t *testing.T) {
	g := ClientApproval{Window: 72 * time.Hour}
	r := g.Evaluate(evidence(func(ev *Evidence) {
		ev.Approval = &Approval{PartyID: "client-1", Approved: false, At: soonAfter}
	}))
	assert.Equal(t, Fail, r.Verdict)
}

func TestClientApproval_SilenceWithinWindowIsPending(t *testing.T) {
	g := ClientApproval{Window: 72 * time.Hour}
	r := g.Evaluate(evidence())
	assert.Equal(t, Pending, r.Verdict)
	assert.Contains(t, r.Reason, "awaiting client approval")
}

func TestClientApproval_LapsedWindowIsNeverConsent(t *testing.T) {
	// Silence past the window must not release money. The verdict stays
	// Pending with a follow-up reason, not Pass and not Fail.
	g := ClientApproval{Window: 72 * time.Hour}
	r := g.Evaluate(evidence(func(ev *Evidence) {
		ev.Now = submitted.Add(100 * time.Hour)
	}))
	assert.Equal(t, Pending, r.Verdict)
	assert.Contains(t, r.Reason, "manual follow-up")
}

func TestClientApproval_LateApprovalStillCounts(t *testing.T) {
	// An explicit action beats the lapsed window.
	g := ClientApproval{Window: 72 * time.Hour}
	r := g.Evaluate(evidence(func(ev *Evidence) {
		ev.Now = submitted.Add(100 * time.Hour)
		ev.Approval = &Approval{PartyID: "client-1", Approved: true, At: ev.Now}
	}))
	assert.Equal(t, Pass, r.Verdict)
}

func TestClientApproval_ZeroWindowNeverLapses(t *testing.T) {
	g := ClientApproval{}
	r := g.Evaluate(evidence(func(ev *Evidence) {
		ev.Now = submitted.Add(10_000 * time.Hour)
	}))
	assert.Equal(t, Pending, r.Verdict)
	assert.Contains(t, r.Reason, "awaiting client approval")
}

// =============================================================================
// INSPECTION
// =============================================================================

func TestInspection_NoResultIsPendingNotFail(t *testing.T) {
	r := Inspection{}.Evaluate(evidence())
	assert.Equal(t, Pending, r.Verdict)
}

func TestInspection_PassAndFailFollowTheVerdict(t *testing.T) {
	passed := evidence(func(ev *Evidence) {
		ev.Inspection = &InspectionResult{Ref: "rpt-4471", Passed: true, At: soonAfter}
	})
	r := Inspection{}.Evaluate(passed)
	assert.Equal(t, Pass, r.Verdict)
	assert.Contains(t, r.Reason, "rpt-4471")

	failed := evidence(func(ev *Evidence) {
		ev.Inspection = &InspectionResult{Ref: "rpt-4472", Passed: false, At: soonAfter}
	})
	r = Inspection{}.Evaluate(failed)
	assert.Equal(t, Fail, r.Verdict)
}

// =============================================================================
// COMPOSITE
// =============================================================================

func TestComposite_AllPassIsPass(t *testing.T) {
	g := Composite{Gates: []Gate{SelfAttestation{}, Inspection{}}}
	r := g.Evaluate(evidence(func(ev *Evidence) {
		ev.Inspection = &InspectionResult{Ref: "rpt-1", Passed: true, At: soonAfter}
	}))
	assert.Equal(t, Pass, r.Verdict)
}

func TestComposite_AnyFailDominates(t *testing.T) {
	// Fail beats Pending: a failed inspection rejects even while the client
	// approval is still outstanding.
	g := Composite{Gates: []Gate{ClientApproval{Window: 72 * time.Hour}, Inspection{}}}
	r := g.Evaluate(evidence(func(ev *Evidence) {
		ev.Inspection = &InspectionResult{Ref: "rpt-2", Passed: false, At: soonAfter}
	}))
	assert.Equal(t, Fail, r.Verdict)
}

func TestComposite_AnyPendingBlocksPass(t *testing.T) {
	g := Composite{Gates: []Gate{SelfAttestation{}, Inspection{}}}
	r := g.Evaluate(evidence())
	assert.Equal(t, Pending, r.Verdict)
	assert.Contains(t, r.Reason, "awaiting inspection")
}

func TestComposite_EmptyIsVacuouslyPass(t *testing.T) {
	r := Composite{}.Evaluate(evidence())
	assert.Equal(t, Pass, r.Verdict)
}
