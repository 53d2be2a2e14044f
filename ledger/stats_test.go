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

func TestComputeStats_Aggregates(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	appendRaw(t, mem, "alice", 100, ledger.ReasonPromptApproved, "p1")
	appendRaw(t, mem, "alice", -30, ledger.ReasonAdminAdjustment, "adj1")
	appendRaw(t, mem, "bob", 50, ledger.ReasonPromptApproved, "p2")

	require.NoError(t, mem.SaveProjection(ctx, proj("alice", 70, 2)))
	require.NoError(t, mem.SaveProjection(ctx, proj("bob", 50, 3)))

	now := time.Now().UTC()
	credited := now
	require.NoError(t, mem.SaveReferral(ctx, ledger.ReferralEdge{
		ID: "r1", ReferrerID: "alice", RefereeID: "bob", CreatedAt: now, CreditedAt: &credited,
	}))
	require.NoError(t, mem.SaveReferral(ctx, ledger.ReferralEdge{
		ID: "r2", ReferrerID: "alice", RefereeID: "carol", CreatedAt: now,
	}))

	s, err := ledger.ComputeStats(ctx, mem, mem, mem)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Users)
	assert.Equal(t, 3, s.Entries)
	assert.Equal(t, int64(150), s.ChipsCredited)
	assert.Equal(t, int64(30), s.ChipsDebited)
	assert.Equal(t, int64(120), s.TotalBalance)
	assert.Equal(t, "60.00", s.AverageBalance.StringFixed(2))
	assert.Equal(t, 2, s.Referrals)
	assert.Equal(t, 1, s.Credited)
	assert.Equal(t, "0.5000", s.ConversionRate.StringFixed(4))
}

func TestComputeStats_EmptyLedger(t *testing.T) {
	s, err := ledger.ComputeStats(context.Background(), store.NewMemory(), store.NewMemory(), store.NewMemory())
	require.NoError(t, err)

	assert.Zero(t, s.Users)
	assert.Equal(t, "0.00", s.AverageBalance.StringFixed(2))
	assert.Equal(t, "0.0000", s.ConversionRate.StringFixed(4))
}
