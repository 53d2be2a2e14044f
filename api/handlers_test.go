/*
handlers_test.go - HTTP-level tests for the API surface

Tests for:
- Gateway identity enforcement (401/403)
- Append, replay, and balance round trips
- Badge catalog administration
- Leaderboard and rank reads
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/chips-engine/ledger"
	"github.com/gameforge/chips-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testAPI struct {
	server *httptest.Server
	store  *store.Memory
	lb     *ledger.Leaderboard
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	lb := ledger.NewLeaderboard(mem)
	handler := NewHandler(engine, mem, lb)

	srv := httptest.NewServer(NewRouter(handler, nil))
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, store: mem, lb: lb}
}

type callOpt func(*http.Request)

func asUser(id string) callOpt {
	return func(r *http.Request) {
		r.Header.Set(headerActorID, id)
		r.Header.Set(headerActorRole, "user")
	}
}

func asAdmin(id string) callOpt {
	return func(r *http.Request) {
		r.Header.Set(headerActorID, id)
		r.Header.Set(headerActorRole, roleAdmin)
	}
}

func (a *testAPI) call(t *testing.T, method, path string, body any, opts ...callOpt) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testAPI) createUser(t *testing.T, id string) {
	t.Helper()
	resp := a.call(t, http.MethodPost, "/users", CreateUserRequest{ID: id, Name: id}, asAdmin("admin-1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// IDENTITY ENFORCEMENT
// =============================================================================

func TestAPI_MissingActor_Unauthorized(t *testing.T) {
	api := newTestAPI(t)

	resp := api.call(t, http.MethodGet, "/leaderboard", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_NonAdmin_ForbiddenOnAdminRoutes(t *testing.T) {
	api := newTestAPI(t)

	for _, route := range []struct {
		method, path string
	}{
		{http.MethodPost, "/badges/catalog"},
		{http.MethodDelete, "/badges/catalog/x"},
		{http.MethodPost, "/admin/users/alice/close"},
		{http.MethodGet, "/stats"},
		{http.MethodGet, "/users"},
	} {
		resp := api.call(t, route.method, route.path, nil, asUser("alice"))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "%s %s", route.method, route.path)
	}
}

func TestAPI_Healthz_Open(t *testing.T) {
	api := newTestAPI(t)

	resp := api.call(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// LEDGER FLOW
// =============================================================================

func TestAPI_AppendAndBalance(t *testing.T) {
	// GIVEN: A registered user
	// WHEN: An admin appends a prompt credit, twice with the same sourceRef
	// THEN: The first append credits, the second replays at the same balance

	api := newTestAPI(t)
	api.createUser(t, "alice")

	req := AppendEntryRequest{
		UserID: "alice", Amount: 25,
		Reason: string(ledger.ReasonPromptApproved), SourceRef: "prompt-1",
	}

	resp := api.call(t, http.MethodPost, "/ledger/entries", req, asAdmin("admin-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[AppendEntryResponse](t, resp)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(25), first.Balance)

	resp = api.call(t, http.MethodPost, "/ledger/entries", req, asAdmin("admin-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[AppendEntryResponse](t, resp)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.Equal(t, int64(25), second.Balance)

	resp = api.call(t, http.MethodGet, "/users/alice/balance", nil, asUser("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[BalanceDTO](t, resp)
	assert.Equal(t, int64(25), balance.Balance)
	assert.Equal(t, string(ledger.TierNone), balance.Tier)
}

func TestAPI_Append_UnknownUser_NotFound(t *testing.T) {
	api := newTestAPI(t)

	resp := api.call(t, http.MethodPost, "/ledger/entries", AppendEntryRequest{
		UserID: "ghost", Amount: 25,
		Reason: string(ledger.ReasonPromptApproved), SourceRef: "prompt-1",
	}, asAdmin("admin-1"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Append_InvalidAmount_BadRequest(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "alice")

	resp := api.call(t, http.MethodPost, "/ledger/entries", AppendEntryRequest{
		UserID: "alice", Amount: 0,
		Reason: string(ledger.ReasonPromptApproved), SourceRef: "prompt-1",
	}, asAdmin("admin-1"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// BADGE CATALOG
// =============================================================================

func TestAPI_BadgeCatalog_AdminCRUD(t *testing.T) {
	api := newTestAPI(t)

	badge := ledger.BadgeJSON{
		ID: "first-hundred", Name: "First Hundred", ChipsReward: 50,
		UnlockRule: ledger.UnlockRuleJSON{Metric: "balance", Threshold: 100},
	}

	resp := api.call(t, http.MethodPost, "/badges/catalog", badge, asAdmin("admin-1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Any authenticated actor can read the catalog.
	resp = api.call(t, http.MethodGet, "/badges/catalog", nil, asUser("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	catalog := decode[[]BadgeDTO](t, resp)
	require.Len(t, catalog, 1)
	assert.Equal(t, "first-hundred", catalog[0].ID)

	badge.ChipsReward = 75
	resp = api.call(t, http.MethodPut, "/badges/catalog/first-hundred", badge, asAdmin("admin-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[BadgeDTO](t, resp)
	assert.Equal(t, int64(75), updated.ChipsReward)

	resp = api.call(t, http.MethodDelete, "/badges/catalog/first-hundred", nil, asAdmin("admin-1"))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPI_BadgeCatalog_RejectsInvalidRule(t *testing.T) {
	api := newTestAPI(t)

	resp := api.call(t, http.MethodPost, "/badges/catalog", ledger.BadgeJSON{
		ID: "bad", Name: "Bad",
		UnlockRule: ledger.UnlockRuleJSON{Metric: "karma", Threshold: 1},
	}, asAdmin("admin-1"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_BadgeUnlock_SurfacedInAppendResponse(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "alice")

	resp := api.call(t, http.MethodPost, "/badges/catalog", ledger.BadgeJSON{
		ID: "first-hundred", Name: "First Hundred", ChipsReward: 50,
		UnlockRule: ledger.UnlockRuleJSON{Metric: "balance", Threshold: 100},
	}, asAdmin("admin-1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = api.call(t, http.MethodPost, "/ledger/entries", AppendEntryRequest{
		UserID: "alice", Amount: 100,
		Reason: string(ledger.ReasonPromptApproved), SourceRef: "prompt-1",
	}, asAdmin("admin-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[AppendEntryResponse](t, resp)
	require.Len(t, result.NewlyUnlockedBadges, 1)
	assert.Equal(t, "first-hundred", result.NewlyUnlockedBadges[0].ID)
	assert.Equal(t, int64(150), result.Balance)

	resp = api.call(t, http.MethodGet, "/users/alice/badges", nil, asUser("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	earned := decode[[]UserBadgeDTO](t, resp)
	assert.Len(t, earned, 1)
}

// =============================================================================
// LEADERBOARD
// =============================================================================

func TestAPI_LeaderboardAndRank(t *testing.T) {
	api := newTestAPI(t)
	for i, id := range []string{"alice", "bob", "carol"} {
		api.createUser(t, id)
		resp := api.call(t, http.MethodPost, "/ledger/entries", AppendEntryRequest{
			UserID: id, Amount: int64(100 * (i + 1)),
			Reason: string(ledger.ReasonPromptApproved), SourceRef: fmt.Sprintf("prompt-%s", id),
		}, asAdmin("admin-1"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.NoError(t, api.lb.Refresh(context.Background()))

	resp := api.call(t, http.MethodGet, "/leaderboard?limit=2", nil, asUser("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[LeaderboardDTO](t, resp)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "carol", page.Entries[0].UserID)
	assert.Equal(t, 1, page.Entries[0].Rank)
	assert.False(t, page.AsOf.IsZero())

	resp = api.call(t, http.MethodGet, "/users/alice/rank", nil, asUser("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rank := decode[RankDTO](t, resp)
	assert.Equal(t, 3, rank.Rank)

	resp = api.call(t, http.MethodGet, "/users/nobody/rank", nil, asUser("alice"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// REFERRALS AND ACCOUNT LIFECYCLE
// =============================================================================

func TestAPI_ReferralFlow(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "alice")
	api.createUser(t, "bob")
	api.createUser(t, "carol")

	resp := api.call(t, http.MethodPost, "/referrals", CreateReferralRequest{
		ReferrerID: "alice", RefereeID: "bob",
	}, asUser("bob"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	edge := decode[ReferralDTO](t, resp)

	// A second attribution for the same referee conflicts.
	resp = api.call(t, http.MethodPost, "/referrals", CreateReferralRequest{
		ReferrerID: "carol", RefereeID: "bob",
	}, asUser("bob"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = api.call(t, http.MethodPost, "/referrals/"+edge.ID+"/credit", nil, asAdmin("admin-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	credited := decode[AppendEntryResponse](t, resp)
	assert.Equal(t, ledger.DefaultReferralCreditChips, credited.Balance)
	assert.Equal(t, string(ledger.TierBronze), credited.Tier)
}

func TestAPI_CloseAccount(t *testing.T) {
	api := newTestAPI(t)
	api.createUser(t, "alice")

	resp := api.call(t, http.MethodPost, "/ledger/entries", AppendEntryRequest{
		UserID: "alice", Amount: 40,
		Reason: string(ledger.ReasonPromptApproved), SourceRef: "prompt-1",
	}, asAdmin("admin-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.call(t, http.MethodPost, "/admin/users/alice/close", nil, asAdmin("admin-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	closed := decode[BalanceDTO](t, resp)
	assert.Equal(t, int64(0), closed.Balance)

	resp = api.call(t, http.MethodPost, "/ledger/entries", AppendEntryRequest{
		UserID: "alice", Amount: 10,
		Reason: string(ledger.ReasonPromptApproved), SourceRef: "prompt-2",
	}, asAdmin("admin-1"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
