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

func newTestBadgeEngine(t *testing.T) (*ledger.BadgeEngine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.NewBadgeEngine(mem, mem), mem
}

// =============================================================================
// RULE EVALUATION
// =============================================================================

func TestUnlockRule_Satisfied_PerMetric(t *testing.T) {
	p := ledger.BalanceProjection{
		Balance:         150,
		PromptsApproved: 3,
		ReferralCount:   7,
		EntryCount:      12,
	}

	cases := []struct {
		rule ledger.UnlockRule
		want bool
	}{
		{ledger.UnlockRule{Metric: ledger.MetricBalance, Threshold: 100}, true},
		{ledger.UnlockRule{Metric: ledger.MetricBalance, Threshold: 150}, true},
		{ledger.UnlockRule{Metric: ledger.MetricBalance, Threshold: 151}, false},
		{ledger.UnlockRule{Metric: ledger.MetricPromptsApproved, Threshold: 3}, true},
		{ledger.UnlockRule{Metric: ledger.MetricPromptsApproved, Threshold: 4}, false},
		{ledger.UnlockRule{Metric: ledger.MetricReferralCount, Threshold: 7}, true},
		{ledger.UnlockRule{Metric: ledger.MetricEntryCount, Threshold: 13}, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.rule.Satisfied(p), "%s >= %d", c.rule.Metric, c.rule.Threshold)
	}
}

func TestBadgeEngine_Evaluate_SkipsEarnedAndUnsatisfied(t *testing.T) {
	// GIVEN: Three badges - one earned, one satisfied, one out of reach
	// WHEN: The catalog is evaluated against the projection
	// THEN: Only the satisfied, unearned badge comes back

	be, mem := newTestBadgeEngine(t)
	ctx := context.Background()

	saveBadge(t, mem, "earned", 0, ledger.MetricBalance, 10)
	saveBadge(t, mem, "reachable", 0, ledger.MetricBalance, 50)
	saveBadge(t, mem, "distant", 0, ledger.MetricBalance, 1000)

	require.NoError(t, mem.WithTx(ctx, func(tx ledger.AwardTx) error {
		return tx.InsertUserBadge(ctx, ledger.UserBadge{
			UserID: "alice", BadgeID: "earned", EarnedAt: time.Now().UTC(),
		})
	}))

	unlocked, err := be.Evaluate(ctx, ledger.BalanceProjection{UserID: "alice", Balance: 100})
	require.NoError(t, err)

	require.Len(t, unlocked, 1)
	assert.Equal(t, ledger.BadgeID("reachable"), unlocked[0].ID)
}

func TestBadgeEngine_Evaluate_DeterministicOrder(t *testing.T) {
	be, mem := newTestBadgeEngine(t)
	ctx := context.Background()

	saveBadge(t, mem, "zeta", 0, ledger.MetricBalance, 1)
	saveBadge(t, mem, "alpha", 0, ledger.MetricBalance, 1)
	saveBadge(t, mem, "mid", 0, ledger.MetricBalance, 1)

	unlocked, err := be.Evaluate(ctx, ledger.BalanceProjection{UserID: "alice", Balance: 10})
	require.NoError(t, err)

	require.Len(t, unlocked, 3)
	assert.Equal(t, ledger.BadgeID("alpha"), unlocked[0].ID)
	assert.Equal(t, ledger.BadgeID("mid"), unlocked[1].ID)
	assert.Equal(t, ledger.BadgeID("zeta"), unlocked[2].ID)
}

// =============================================================================
// ATOMIC AWARD
// =============================================================================

func TestBadgeEngine_Award_WritesBadgeAndRewardTogether(t *testing.T) {
	be, mem := newTestBadgeEngine(t)
	ctx := context.Background()

	def := ledger.BadgeDefinition{
		ID: "gold", Name: "Gold", ChipsReward: 50,
		Rule: ledger.UnlockRule{Metric: ledger.MetricBalance, Threshold: 1},
	}
	require.NoError(t, mem.SaveBadge(ctx, def))

	entry, err := be.Award(ctx, "alice", def)
	require.NoError(t, err)

	require.NotNil(t, entry)
	assert.Equal(t, int64(50), entry.Amount)
	assert.Equal(t, ledger.ReasonBadgeReward, entry.Reason)
	assert.Equal(t, "gold", entry.SourceRef)

	badges, err := mem.UserBadges(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, badges, 1)
}

func TestBadgeEngine_Award_RollsBackOnFailedReward(t *testing.T) {
	// GIVEN: A badge_reward entry for this badge somehow already exists, so
	//        the reward append will hit the unique index
	// WHEN: Award runs
	// THEN: The whole unit rolls back; the user does not hold the badge

	be, mem := newTestBadgeEngine(t)
	ctx := context.Background()

	def := ledger.BadgeDefinition{
		ID: "gold", Name: "Gold", ChipsReward: 50,
		Rule: ledger.UnlockRule{Metric: ledger.MetricBalance, Threshold: 1},
	}
	require.NoError(t, mem.SaveBadge(ctx, def))

	_, err := mem.AppendEntry(ctx, ledger.Entry{
		ID: "pre", UserID: "alice", Amount: 50,
		Reason: ledger.ReasonBadgeReward, SourceRef: "gold",
		CreatedBy: "engine", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = be.Award(ctx, "alice", def)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrDuplicateSourceRef)

	badges, err := mem.UserBadges(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, badges, "failed reward must not leave the badge recorded")
}

func TestBadgeEngine_Award_ZeroRewardAppendsNothing(t *testing.T) {
	be, mem := newTestBadgeEngine(t)
	ctx := context.Background()

	def := ledger.BadgeDefinition{
		ID: "cosmetic", Name: "Cosmetic",
		Rule: ledger.UnlockRule{Metric: ledger.MetricEntryCount, Threshold: 1},
	}
	require.NoError(t, mem.SaveBadge(ctx, def))

	entry, err := be.Award(ctx, "alice", def)
	require.NoError(t, err)

	assert.Nil(t, entry)
	all, err := mem.AllEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
