/*
badges.go - Badge unlock rule engine

PURPOSE:
  Evaluates unlock predicates against a projection snapshot after each
  ledger change, and awards badges exactly once. Badge chip rewards go
  through the ledger itself (reason badge_reward, sourceRef = badge id),
  never through a side-channel balance write.

TERMINATION:
  A badge_reward entry re-triggers projection and evaluation, so cascades
  are possible (a reward crosses another balance threshold). Two things keep
  this bounded:
  1. UserBadge uniqueness: a badge can never re-trigger itself
  2. The engine caps evaluation at one re-evaluation pass per original
     append (see engine.go); would-be unlocks beyond that are logged and
     truncated, never looped

ATOMICITY:
  Award writes the UserBadge and the badge_reward entry in one storage
  transaction. If the entry append fails, the badge is not recorded as
  earned; state is exactly as before evaluation.

SEE ALSO:
  - engine.go: Pass scheduling and cascade cap
  - rules.go: JSON unlock-rule parsing for the admin catalog
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RULE EVALUATION
// =============================================================================

// metricValue extracts the quantity an unlock rule tests from a projection.
func metricValue(p BalanceProjection, m UnlockMetric) int64 {
	switch m {
	case MetricBalance:
		return p.Balance
	case MetricReferralCount:
		return int64(p.ReferralCount)
	case MetricPromptsApproved:
		return int64(p.PromptsApproved)
	case MetricEntryCount:
		return int64(p.EntryCount)
	default:
		return 0
	}
}

// Satisfied reports whether the rule passes against the projection snapshot.
func (r UnlockRule) Satisfied(p BalanceProjection) bool {
	return metricValue(p, r.Metric) >= r.Threshold
}

// =============================================================================
// BADGE ENGINE
// =============================================================================

// BadgeEngine evaluates the catalog against projections and awards badges.
type BadgeEngine struct {
	badges BadgeStore
	tx     TxStore
	now    func() time.Time
}

// NewBadgeEngine creates a badge engine over the given stores.
func NewBadgeEngine(badges BadgeStore, tx TxStore) *BadgeEngine {
	return &BadgeEngine{badges: badges, tx: tx, now: time.Now}
}

// Evaluate returns the catalog definitions that the projection snapshot
// newly satisfies: rule passes and the user has not already earned them.
// The snapshot is read once; a badge unlocked mid-evaluation does not
// change what this pass sees.
func (b *BadgeEngine) Evaluate(ctx context.Context, p BalanceProjection) ([]BadgeDefinition, error) {
	catalog, err := b.badges.ListBadges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}

	earned, err := b.badges.UserBadges(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user badges: %w", err)
	}
	have := make(map[BadgeID]bool, len(earned))
	for _, ub := range earned {
		have[ub.BadgeID] = true
	}

	var unlocked []BadgeDefinition
	for _, def := range catalog {
		if have[def.ID] {
			continue
		}
		if def.Rule.Satisfied(p) {
			unlocked = append(unlocked, def)
		}
	}

	// Deterministic award order keeps reward entry sequences stable.
	sort.Slice(unlocked, func(i, j int) bool { return unlocked[i].ID < unlocked[j].ID })
	return unlocked, nil
}

// Award records the badge and credits its chip reward as one atomic unit.
// Returns the badge_reward entry, or nil when ChipsReward is zero.
func (b *BadgeEngine) Award(ctx context.Context, userID UserID, def BadgeDefinition) (*Entry, error) {
	var rewardEntry *Entry

	err := b.tx.WithTx(ctx, func(tx AwardTx) error {
		if err := tx.InsertUserBadge(ctx, UserBadge{
			UserID:   userID,
			BadgeID:  def.ID,
			EarnedAt: b.now().UTC(),
		}); err != nil {
			return fmt.Errorf("insert user badge: %w", err)
		}

		if def.ChipsReward <= 0 {
			return nil
		}

		stored, err := tx.AppendEntry(ctx, Entry{
			ID:        EntryID(uuid.NewString()),
			UserID:    userID,
			Amount:    def.ChipsReward,
			Reason:    ReasonBadgeReward,
			SourceRef: string(def.ID),
			CreatedBy: "engine",
			CreatedAt: b.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("append badge reward: %w", err)
		}
		rewardEntry = &stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rewardEntry, nil
}
