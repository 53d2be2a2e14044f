/*
projector.go - Balance projection as a fold over the ledger

PURPOSE:
  Maintains each user's BalanceProjection: balance, derived counters, tier,
  and the watermark of the last entry folded in. The projection is the only
  mutable balance state in the system, and it is always rebuildable from the
  entry log.

CORE CORRECTNESS PROPERTY:
  For any ledger contents, Rebuild(userID) and incremental Apply calls
  produce identical projections. The fold is a pure function of the entry
  sequence; the watermark makes re-applying an already-folded entry a no-op,
  so at-least-once delivery of entries cannot double-count.

TIER:
  Tier is derived from the credited referral count, not from balance, and is
  recomputed on every projection update.

SEE ALSO:
  - ledger.go: Produces the entries this folds
  - engine.go: Calls the projector under per-user exclusion
*/
package ledger

import (
	"context"
	"fmt"
)

// =============================================================================
// FOLD - Pure projection step
// =============================================================================

// fold applies one entry to a projection. Entries at or below the watermark
// are skipped; that is what makes incremental application idempotent.
func fold(p BalanceProjection, e Entry) BalanceProjection {
	if e.Seq <= p.LastEntrySeq {
		return p
	}
	p.Balance += e.Amount
	p.LastEntrySeq = e.Seq
	p.EntryCount++
	if e.Reason == ReasonPromptApproved {
		p.PromptsApproved++
	}
	return p
}

// =============================================================================
// PROJECTOR
// =============================================================================

// Projector owns BalanceProjection state. Nothing else writes projections.
type Projector struct {
	entries     EntryStore
	projections ProjectionStore
	referrals   ReferralStore
}

// NewProjector creates a projector over the given stores.
func NewProjector(entries EntryStore, projections ProjectionStore, referrals ReferralStore) *Projector {
	return &Projector{entries: entries, projections: projections, referrals: referrals}
}

// Load returns the current projection for a user, creating a zero-valued
// one in memory (not persisted) if the user has no entries yet.
func (pr *Projector) Load(ctx context.Context, userID UserID) (BalanceProjection, error) {
	p, err := pr.projections.GetProjection(ctx, userID)
	if err != nil {
		return BalanceProjection{}, fmt.Errorf("load projection: %w", err)
	}
	if p == nil {
		return BalanceProjection{UserID: userID, Tier: TierNone}, nil
	}
	return *p, nil
}

// Apply folds entries into a user's projection, recomputes the tier, and
// persists the result. Safe to call with entries the projection has already
// seen: the watermark skips them.
func (pr *Projector) Apply(ctx context.Context, userID UserID, entries ...Entry) (BalanceProjection, error) {
	p, err := pr.Load(ctx, userID)
	if err != nil {
		return BalanceProjection{}, err
	}

	for _, e := range entries {
		if e.UserID != userID {
			return BalanceProjection{}, fmt.Errorf("entry %s belongs to %s, not %s", e.ID, e.UserID, userID)
		}
		p = fold(p, e)
	}

	if err := pr.refreshTier(ctx, &p); err != nil {
		return BalanceProjection{}, err
	}

	if err := pr.projections.SaveProjection(ctx, p); err != nil {
		return BalanceProjection{}, fmt.Errorf("save projection: %w", err)
	}
	return p, nil
}

// Rebuild replays the full ledger for a user and persists the result.
// Used for recovery and drift detection; must equal the incremental result.
func (pr *Projector) Rebuild(ctx context.Context, userID UserID) (BalanceProjection, error) {
	entries, err := pr.entries.EntriesByUser(ctx, userID, 0)
	if err != nil {
		return BalanceProjection{}, fmt.Errorf("load entries: %w", err)
	}

	p := BalanceProjection{UserID: userID, Tier: TierNone}
	for _, e := range entries {
		p = fold(p, e)
	}

	if err := pr.refreshTier(ctx, &p); err != nil {
		return BalanceProjection{}, err
	}

	if err := pr.projections.SaveProjection(ctx, p); err != nil {
		return BalanceProjection{}, fmt.Errorf("save projection: %w", err)
	}
	return p, nil
}

// RefreshTier recomputes and persists a user's tier after a referral-count
// change that did not touch the ledger (edge credited for the referrer is a
// ledger event; edge creation is not).
func (pr *Projector) RefreshTier(ctx context.Context, userID UserID) (BalanceProjection, error) {
	return pr.Apply(ctx, userID) // Apply with no entries still refreshes tier
}

func (pr *Projector) refreshTier(ctx context.Context, p *BalanceProjection) error {
	count, err := pr.referrals.CountCredited(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("count referrals: %w", err)
	}
	p.ReferralCount = count
	p.Tier = TierFor(count)
	return nil
}
