/*
handlers_test.go - HTTP surface tests over in-memory stores

Exercises the full request path: router, handlers, engine, ledger. Every
test drives real JSON bodies through httptest and asserts on status codes
and decoded responses, the same contract the dashboard depends on.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/buildvault/escrow-engine/escrow"
	"github.com/buildvault/escrow-engine/factory"
	"github.com/buildvault/escrow-engine/ledger"
	"github.com/buildvault/escrow-engine/ledger/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zap.NewNop()
	events := NewBroadcaster(log)
	led := ledger.New(store.NewMemory(), log, ledger.WithObserver(events.Observer()))
	gates := factory.NewGateFactory(72 * time.Hour)
	engine := escrow.NewEngine(led, escrow.NewMemoryStore(), gates, log)

	srv := httptest.NewServer(NewRouter(NewHandler(engine, events, log)))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// createProject posts a single-milestone project and returns its project and
// milestone ids.
func createProject(t *testing.T, srv *httptest.Server, gateConfig string) (string, string) {
	t.Helper()
	ms := map[string]any{"name": "Demolition", "amount_cents": 12_000_00}
	if gateConfig != "" {
		ms["gate"] = json.RawMessage(gateConfig)
	}
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/projects", map[string]any{
		"name":                 "Kitchen Remodel",
		"client_id":            "client-1",
		"gc_id":                "gc-1",
		"contract_value_cents": 12_000_00,
		"milestones":           []any{ms},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	project := body["project"].(map[string]any)
	milestones := body["milestones"].([]any)
	require.Len(t, milestones, 1)
	return project["id"].(string), milestones[0].(map[string]any)["id"].(string)
}

func deposit(t *testing.T, srv *httptest.Server, projectID string, cents int64, key string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/projects/%s/deposits", srv.URL, projectID), map[string]any{
		"amount_cents":    cents,
		"by":              "client-1",
		"idempotency_key": key,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// PROJECTS
// =============================================================================

func TestCreateProject_ReturnsScheduleAndRendersMoney(t *testing.T) {
	srv := newTestServer(t)
	projectID, _ := createProject(t, srv, "")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/projects/"+projectID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	project := body["project"].(map[string]any)
	cv := project["contract_value"].(map[string]any)
	assert.Equal(t, float64(12_000_00), cv["cents"])
	assert.Equal(t, "12000.00", cv["display"], "clients get a pre-rendered display string")

	account := body["account"].(map[string]any)
	assert.Equal(t, float64(0), account["deposited"].(map[string]any)["cents"])
}

func TestCreateProject_ContractSumMismatchIs400(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/projects", map[string]any{
		"name":                 "Bad Sums",
		"client_id":            "client-1",
		"gc_id":                "gc-1",
		"contract_value_cents": 10_000_00,
		"milestones": []any{
			map[string]any{"name": "Only", "amount_cents": 9_000_00},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestGetProject_UnknownIs404(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/projects/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// DEPOSITS
// =============================================================================

func TestDeposit_RequiresIdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	projectID, _ := createProject(t, srv, "")

	resp, _ := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/projects/%s/deposits", srv.URL, projectID), map[string]any{
		"amount_cents": 12_000_00,
		"by":           "client-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeposit_ReplayedKeyReportsSuccessNotConflict(t *testing.T) {
	srv := newTestServer(t)
	projectID, _ := createProject(t, srv, "")
	deposit(t, srv, projectID, 12_000_00, "wire-001")

	// The bank's webhook retries; the account must not double-count.
	resp, body := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/projects/%s/deposits", srv.URL, projectID), map[string]any{
		"amount_cents":    12_000_00,
		"by":              "client-1",
		"idempotency_key": "wire-001",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "already_recorded", body["status"])

	_, snap := doJSON(t, http.MethodGet, srv.URL+"/api/projects/"+projectID, nil)
	account := snap["account"].(map[string]any)
	assert.Equal(t, float64(12_000_00), account["deposited"].(map[string]any)["cents"])
}

// =============================================================================
// MILESTONE LIFECYCLE
// =============================================================================

func TestMilestoneLifecycle_EndToEnd(t *testing.T) {
	srv := newTestServer(t)
	projectID, milestoneID := createProject(t, srv, `{"type":"self_attestation"}`)
	deposit(t, srv, projectID, 12_000_00, "wire-001")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/reserve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reserved", body["state"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/submit", map[string]any{
		"by":         "gc-1",
		"proof_refs": []string{"photo://demo-done"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pass", body["gate"].(map[string]any)["verdict"])
	assert.Equal(t, "verified", body["milestone"].(map[string]any)["state"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/release", map[string]any{
		"by": "client-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "released", body["milestone"].(map[string]any)["state"])

	_, snap := doJSON(t, http.MethodGet, srv.URL+"/api/projects/"+projectID, nil)
	account := snap["account"].(map[string]any)
	assert.Equal(t, float64(0), account["held"].(map[string]any)["cents"])
	assert.Equal(t, float64(12_000_00), account["released"].(map[string]any)["cents"])
	payees := snap["payees"].(map[string]any)
	assert.Equal(t, float64(12_000_00), payees["gc-1"].(map[string]any)["cents"])
}

func TestReserve_BeforeFundingIs409(t *testing.T) {
	srv := newTestServer(t)
	_, milestoneID := createProject(t, srv, "")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/reserve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Awaiting funding", body["error"])
}

func TestRelease_WrongPartyIs403(t *testing.T) {
	srv := newTestServer(t)
	projectID, milestoneID := createProject(t, srv, `{"type":"self_attestation"}`)
	deposit(t, srv, projectID, 12_000_00, "wire-001")
	doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/reserve", nil)
	doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/submit", map[string]any{"by": "gc-1"})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/release", map[string]any{
		"by": "gc-1",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestApprovalFlow_ClientGateOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	projectID, milestoneID := createProject(t, srv, "")
	deposit(t, srv, projectID, 12_000_00, "wire-001")
	doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/reserve", nil)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/submit", map[string]any{
		"by": "gc-1", "proof_refs": []string{"photo://work"},
	})
	assert.Equal(t, "pending", body["gate"].(map[string]any)["verdict"])
	assert.Equal(t, "submitted", body["milestone"].(map[string]any)["state"])

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/approval", map[string]any{
		"party": "client-1", "approved": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "verified", body["milestone"].(map[string]any)["state"])
}

// =============================================================================
// DISPUTES
// =============================================================================

func TestDisputeFlow_OverHTTP(t *testing.T) {
	srv := newTestServer(t)
	projectID, milestoneID := createProject(t, srv, "")
	deposit(t, srv, projectID, 12_000_00, "wire-001")
	doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/reserve", nil)
	doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/submit", map[string]any{"by": "gc-1"})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/disputes", map[string]any{
		"by": "client-1", "claim_cents": 12_000_00, "note": "tile is cracked",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	disputeID := body["id"].(string)

	// Frozen: the release path conflicts.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/release", map[string]any{"by": "client-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/disputes/"+disputeID+"/counter", map[string]any{
		"by": "gc-1", "amount_cents": 12_000_00, "note": "installed per drawings",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "installed per drawings", body["counter_note"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/disputes/"+disputeID+"/resolve", map[string]any{
		"kind": "release_partial", "partial_amount_cents": 7_000_00,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "resolved", body["status"])
	assert.Equal(t, float64(7_000_00), body["partial_paid"].(map[string]any)["cents"])
	assert.Equal(t, float64(5_000_00), body["refund_amount"].(map[string]any)["cents"])

	// Resolving again is a conflict, loudly.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/disputes/"+disputeID+"/resolve", map[string]any{
		"kind": "refund",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// =============================================================================
// ENTRIES
// =============================================================================

func entryID(t *testing.T, srv *httptest.Server, projectID, direction, payeeID string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/projects/"+projectID+"/entries", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var entries []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	for _, e := range entries {
		if e["direction"] == direction && e["payee_id"] == payeeID {
			return e["id"].(string)
		}
		if e["direction"] == direction && payeeID == "" && e["payee_id"] == nil {
			return e["id"].(string)
		}
	}
	t.Fatalf("no %s entry found", direction)
	return ""
}

func TestSettlement_OnceThenIdempotentOK(t *testing.T) {
	srv := newTestServer(t)
	projectID, milestoneID := createProject(t, srv, `{"type":"self_attestation"}`)
	deposit(t, srv, projectID, 12_000_00, "wire-001")
	doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/reserve", nil)
	doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/submit", map[string]any{"by": "gc-1"})
	doJSON(t, http.MethodPost, srv.URL+"/api/milestones/"+milestoneID+"/release", map[string]any{"by": "client-1"})

	releaseID := entryID(t, srv, projectID, "release", "")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/entries/"+releaseID+"/settlement", map[string]any{
		"project_id": projectID,
		"rail_ref":   "ach-778812",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "settlement", body["direction"])
	assert.Equal(t, "ach-778812", body["rail_ref"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/entries/"+releaseID+"/settlement", map[string]any{
		"project_id": projectID,
		"rail_ref":   "ach-778812",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "already_settled", body["status"])
}

func TestReverseEntry_RestoresBalances(t *testing.T) {
	srv := newTestServer(t)
	projectID, _ := createProject(t, srv, "")
	deposit(t, srv, projectID, 12_000_00, "wire-001")

	depositID := entryID(t, srv, projectID, "deposit", "")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/entries/"+depositID+"/reverse", map[string]any{
		"project_id": projectID,
		"by":         "ops-1",
		"reason":     "duplicate wire keyed by hand",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, snap := doJSON(t, http.MethodGet, srv.URL+"/api/projects/"+projectID, nil)
	account := snap["account"].(map[string]any)
	assert.Equal(t, float64(0), account["deposited"].(map[string]any)["cents"])

	// Same entry again: the correction already happened.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/entries/"+depositID+"/reverse", map[string]any{
		"project_id": projectID,
		"by":         "ops-1",
		"reason":     "double click",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_ListAndLoad(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/scenarios", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var scenarios []ScenarioDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scenarios))
	require.NotEmpty(t, scenarios)

	loadResp, loaded := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load", map[string]any{
		"id": scenarios[0].ID,
	})
	require.Equal(t, http.StatusOK, loadResp.StatusCode)
	assert.Equal(t, scenarios[0].ID, loaded["scenario"])
	assert.NotEmpty(t, loaded["project_id"])

	_, current := doJSON(t, http.MethodGet, srv.URL+"/api/scenarios/current", nil)
	assert.Equal(t, scenarios[0].ID, current["id"])

	resp2, _ := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load", map[string]any{
		"id": "no-such-scenario",
	})
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}
