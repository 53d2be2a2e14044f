package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/chips-engine/ledger"
	"github.com/gameforge/chips-engine/ledger/store"
)

func proj(userID string, balance, lastSeq int64) ledger.BalanceProjection {
	return ledger.BalanceProjection{
		UserID:       ledger.UserID(userID),
		Balance:      balance,
		LastEntrySeq: lastSeq,
		Tier:         ledger.TierNone,
	}
}

// =============================================================================
// SNAPSHOT RANKING
// =============================================================================

func TestBuildSnapshot_OrdersByBalanceThenWatermark(t *testing.T) {
	// GIVEN: Carol and alice tie at 100, carol reached it first (lower seq)
	// WHEN: The snapshot is built
	// THEN: Carol ranks ahead of alice; bob leads outright

	snap := ledger.BuildSnapshot([]ledger.BalanceProjection{
		proj("alice", 100, 9),
		proj("bob", 250, 4),
		proj("carol", 100, 3),
	}, time.Now())

	require.Len(t, snap.Entries, 3)
	assert.Equal(t, ledger.UserID("bob"), snap.Entries[0].UserID)
	assert.Equal(t, ledger.UserID("carol"), snap.Entries[1].UserID)
	assert.Equal(t, ledger.UserID("alice"), snap.Entries[2].UserID)
}

func TestBuildSnapshot_DenseRanks(t *testing.T) {
	// Two users tied for 2nd both show rank 2; the next shows 3, not 4.
	snap := ledger.BuildSnapshot([]ledger.BalanceProjection{
		proj("a", 300, 1),
		proj("b", 200, 2),
		proj("c", 200, 3),
		proj("d", 50, 4),
	}, time.Now())

	ranks := make([]int, len(snap.Entries))
	for i, e := range snap.Entries {
		ranks[i] = e.Rank
	}
	assert.Equal(t, []int{1, 2, 2, 3}, ranks)

	r, ok := snap.Rank("d")
	require.True(t, ok)
	assert.Equal(t, 3, r)
}

func TestSnapshot_Page_Clamped(t *testing.T) {
	snap := ledger.BuildSnapshot([]ledger.BalanceProjection{
		proj("a", 300, 1),
		proj("b", 200, 2),
		proj("c", 100, 3),
	}, time.Now())

	assert.Len(t, snap.Page(0, 2), 2)
	assert.Len(t, snap.Page(2, 10), 1)
	assert.Empty(t, snap.Page(5, 10))
	assert.Empty(t, snap.Page(0, 0))
	assert.Len(t, snap.Page(-1, 3), 3)
}

func TestSnapshot_RankAndPageAgree(t *testing.T) {
	// A rank served from a snapshot matches the same snapshot's page view.
	snap := ledger.BuildSnapshot([]ledger.BalanceProjection{
		proj("a", 300, 1),
		proj("b", 200, 2),
		proj("c", 100, 3),
	}, time.Now())

	for _, e := range snap.Page(0, 10) {
		r, ok := snap.Rank(e.UserID)
		require.True(t, ok)
		assert.Equal(t, e.Rank, r)
	}
}

// =============================================================================
// REFRESH AND STALENESS
// =============================================================================

func TestLeaderboard_Refresh_SwapsSnapshot(t *testing.T) {
	// GIVEN: A leaderboard built before bob overtook alice
	// WHEN: Reads happen before and after a refresh
	// THEN: Pre-refresh reads serve the old ordering; the refresh swaps in
	//       the new one atomically

	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveProjection(ctx, proj("alice", 100, 1)))
	require.NoError(t, mem.SaveProjection(ctx, proj("bob", 50, 2)))

	lb := ledger.NewLeaderboard(mem)
	require.NoError(t, lb.Refresh(ctx))

	r, _, ok := lb.Rank("alice")
	require.True(t, ok)
	assert.Equal(t, 1, r)

	// Bob overtakes; the served view lags until the next refresh.
	require.NoError(t, mem.SaveProjection(ctx, proj("bob", 500, 3)))
	r, _, ok = lb.Rank("bob")
	require.True(t, ok)
	assert.Equal(t, 2, r, "stale snapshot still serves the old rank")

	require.NoError(t, lb.Refresh(ctx))
	r, _, ok = lb.Rank("bob")
	require.True(t, ok)
	assert.Equal(t, 1, r)
}

func TestLeaderboard_UnrankedUser(t *testing.T) {
	lb := ledger.NewLeaderboard(store.NewMemory())
	require.NoError(t, lb.Refresh(context.Background()))

	_, _, ok := lb.Rank("nobody")
	assert.False(t, ok)
}
