/*
engine.go - Append orchestration: ledger + projection + badges

PURPOSE:
  The Engine is the single entry point for every chip-affecting operation.
  It serializes work per user, appends through the ledger, folds the entry
  into the user's projection, and runs badge evaluation with a bounded
  cascade, all inside one per-user exclusion scope.

CONCURRENCY:
  - Per-user mutex held for the full append+project+evaluate flow,
    including the badge-reward re-evaluation pass. A second append for the
    same user cannot interleave between a triggering entry and its badge
    follow-ups. Different users proceed fully in parallel.
  - A storage-level unique index on (user, reason, sourceRef) backstops
    idempotency; on a lost race the existing entry is returned.
  - Once the store acknowledges an entry, derived effects run to completion
    on a detached context: caller cancellation cannot leave a durable entry
    without its projection update.

CASCADE CAP:
  Badge rewards are ledger entries and re-trigger evaluation. Each original
  append gets the initial pass plus exactly one re-evaluation pass. Unlocks
  that would only fire in a third pass are logged and counted, never
  awarded in this flow; they unlock on the user's next append.

SEE ALSO:
  - ledger.go: Idempotent append semantics
  - projector.go: Fold and rebuild
  - badges.go: Rule evaluation and atomic award
*/
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// DefaultReferralCreditChips is the credit the referrer receives when a
// referral qualifies.
const DefaultReferralCreditChips int64 = 100

// badgePasses is the evaluation budget per original append: the initial
// pass plus one re-evaluation pass for badge-reward entries.
const badgePasses = 2

// =============================================================================
// OBSERVER - Instrumentation hook
// =============================================================================

// Observer receives engine events. The API layer wires this to Prometheus;
// the zero value of the engine uses a no-op.
type Observer interface {
	EntryAppended(reason Reason)
	EntryReplayed(reason Reason)
	BadgeUnlocked(id BadgeID)
	CascadeTruncated(userID UserID)
}

type nopObserver struct{}

func (nopObserver) EntryAppended(Reason)    {}
func (nopObserver) EntryReplayed(Reason)    {}
func (nopObserver) BadgeUnlocked(BadgeID)   {}
func (nopObserver) CascadeTruncated(UserID) {}

// =============================================================================
// ENGINE
// =============================================================================

// AppendResult is the outcome of an append: the entry (existing one on a
// replay), the user's post-append state, and any newly unlocked badges.
type AppendResult struct {
	Entry     Entry
	Replayed  bool
	Balance   int64
	Tier      Tier
	NewBadges []BadgeDefinition
}

// Engine coordinates the ledger, projector, and badge engine.
type Engine struct {
	store     Store
	ledger    *Ledger
	projector *Projector
	badges    *BadgeEngine
	locks     *userLocks
	obs       Observer

	// ReferralCredit is the chips credited to a referrer per qualified
	// referral.
	ReferralCredit int64
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:          store,
		ledger:         NewLedger(store),
		projector:      NewProjector(store, store, store),
		badges:         NewBadgeEngine(store, store),
		locks:          newUserLocks(),
		obs:            nopObserver{},
		ReferralCredit: DefaultReferralCreditChips,
	}
}

// SetObserver installs an instrumentation hook. Call before serving traffic.
func (e *Engine) SetObserver(obs Observer) {
	if obs != nil {
		e.obs = obs
	}
}

// =============================================================================
// APPEND
// =============================================================================

// Append validates, persists, projects, and evaluates one chip event.
// Idempotent on (userID, reason, sourceRef): a replay returns the existing
// entry, the current balance, and no badge unlocks.
func (e *Engine) Append(ctx context.Context, req EntryRequest) (*AppendResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(req.UserID)
	defer unlock()

	return e.appendLocked(ctx, req)
}

// appendLocked runs the append flow. Caller holds the user's lock.
func (e *Engine) appendLocked(ctx context.Context, req EntryRequest) (*AppendResult, error) {
	user, err := e.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", req.UserID, ErrUnknownUser)
	}
	if user.Closed() && req.Reason != ReasonAdminAdjustment {
		return nil, fmt.Errorf("user %s: %w", req.UserID, ErrAccountClosed)
	}

	entry, replayed, err := e.ledger.Append(ctx, req)
	if err != nil {
		return nil, err
	}

	if replayed {
		// Replay: the original append already projected and evaluated.
		e.obs.EntryReplayed(req.Reason)
		p, err := e.projector.Load(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		return &AppendResult{Entry: entry, Replayed: true, Balance: p.Balance, Tier: p.Tier}, nil
	}
	e.obs.EntryAppended(req.Reason)

	// The entry is durable: derived effects must run to completion even if
	// the caller goes away.
	dctx := context.WithoutCancel(ctx)

	p, err := e.projector.Apply(dctx, req.UserID, entry)
	if err != nil {
		return nil, err
	}

	p, newBadges, err := e.evaluateBadges(dctx, p)
	if err != nil {
		return nil, err
	}

	return &AppendResult{
		Entry:     entry,
		Balance:   p.Balance,
		Tier:      p.Tier,
		NewBadges: newBadges,
	}, nil
}

// evaluateBadges runs the bounded badge cascade: initial pass plus one
// re-evaluation pass. Returns the final projection and all badges unlocked
// under this append.
func (e *Engine) evaluateBadges(ctx context.Context, p BalanceProjection) (BalanceProjection, []BadgeDefinition, error) {
	var all []BadgeDefinition

	for pass := 0; pass < badgePasses; pass++ {
		unlocked, err := e.badges.Evaluate(ctx, p)
		if err != nil {
			return p, nil, err
		}
		if len(unlocked) == 0 {
			return p, all, nil
		}

		var rewards []Entry
		for _, def := range unlocked {
			rewardEntry, err := e.badges.Award(ctx, p.UserID, def)
			if err != nil {
				// UserBadge uniqueness means a concurrent award of the same
				// badge is impossible under the user lock; any error here is
				// storage trouble. The award rolled back: no partial credit.
				return p, all, fmt.Errorf("award badge %s: %w", def.ID, err)
			}
			e.obs.BadgeUnlocked(def.ID)
			all = append(all, def)
			if rewardEntry != nil {
				rewards = append(rewards, *rewardEntry)
			}
		}

		if len(rewards) == 0 {
			return p, all, nil
		}
		p, err = e.projector.Apply(ctx, p.UserID, rewards...)
		if err != nil {
			return p, all, err
		}
	}

	// The re-evaluation pass itself appended rewards. Anything they would
	// unlock is deferred to the next append: truncated, never looped.
	remaining, err := e.badges.Evaluate(ctx, p)
	if err != nil {
		return p, all, err
	}
	if len(remaining) > 0 {
		log.Printf("[Engine] badge cascade truncated for user %s: %d unlock(s) deferred", p.UserID, len(remaining))
		e.obs.CascadeTruncated(p.UserID)
	}
	return p, all, nil
}

// =============================================================================
// READS
// =============================================================================

// Balance returns a user's projected balance and tier.
func (e *Engine) Balance(ctx context.Context, userID UserID) (BalanceProjection, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return BalanceProjection{}, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return BalanceProjection{}, fmt.Errorf("user %s: %w", userID, ErrUnknownUser)
	}
	return e.projector.Load(ctx, userID)
}

// Entries returns a user's ledger history ascending by sequence.
func (e *Engine) Entries(ctx context.Context, userID UserID, sinceSeq int64) ([]Entry, error) {
	return e.ledger.EntriesByUser(ctx, userID, sinceSeq)
}

// Rebuild replays a user's full ledger under the user lock. The result must
// equal the incrementally maintained projection for the same entries.
func (e *Engine) Rebuild(ctx context.Context, userID UserID) (BalanceProjection, error) {
	unlock := e.locks.lock(userID)
	defer unlock()
	return e.projector.Rebuild(ctx, userID)
}

// =============================================================================
// REFERRALS
// =============================================================================

// RecordReferral creates a referral edge. First attribution wins: if the
// referee already has a referrer, ErrAlreadyAttributed is returned.
func (e *Engine) RecordReferral(ctx context.Context, referrerID, refereeID UserID) (ReferralEdge, error) {
	if referrerID == refereeID {
		return ReferralEdge{}, fmt.Errorf("user %s: %w", referrerID, ErrSelfReferral)
	}
	for _, id := range []UserID{referrerID, refereeID} {
		u, err := e.store.GetUser(ctx, id)
		if err != nil {
			return ReferralEdge{}, fmt.Errorf("load user: %w", err)
		}
		if u == nil {
			return ReferralEdge{}, fmt.Errorf("user %s: %w", id, ErrUnknownUser)
		}
	}

	edge := ReferralEdge{
		ID:         ReferralID(uuid.NewString()),
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.SaveReferral(ctx, edge); err != nil {
		return ReferralEdge{}, err
	}
	return edge, nil
}

// CreditReferral marks an edge credited and credits the referrer through
// the ledger. Idempotent: the referral_credit entry keys on the edge id, so
// re-crediting returns the original entry and moves no chips.
func (e *Engine) CreditReferral(ctx context.Context, id ReferralID, actor string) (*AppendResult, error) {
	edge, err := e.store.GetReferral(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load referral: %w", err)
	}
	if edge == nil {
		return nil, fmt.Errorf("referral %s: %w", id, ErrUnknownReferral)
	}

	unlock := e.locks.lock(edge.ReferrerID)
	defer unlock()

	if err := e.store.MarkCredited(ctx, id); err != nil {
		return nil, fmt.Errorf("mark credited: %w", err)
	}

	// Projection tier picks up the new credited count inside appendLocked.
	return e.appendLocked(ctx, EntryRequest{
		UserID:    edge.ReferrerID,
		Amount:    e.ReferralCredit,
		Reason:    ReasonReferralCredit,
		SourceRef: string(id),
		CreatedBy: actor,
	})
}

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

// CloseAccount soft-closes a user: a final offsetting admin_adjustment
// zeroes the balance, the projection and history remain, and further
// non-admin appends are rejected. Idempotent.
func (e *Engine) CloseAccount(ctx context.Context, userID UserID, actor string) (BalanceProjection, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return BalanceProjection{}, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return BalanceProjection{}, fmt.Errorf("user %s: %w", userID, ErrUnknownUser)
	}

	p, err := e.projector.Load(ctx, userID)
	if err != nil {
		return BalanceProjection{}, err
	}

	if p.Balance != 0 {
		// Key on the watermark: a retried close at the same state replays,
		// a close after further entries issues a fresh offset.
		ref := fmt.Sprintf("close:%s:%d", userID, p.LastEntrySeq)
		_, err := e.appendLocked(ctx, EntryRequest{
			UserID:    userID,
			Amount:    -p.Balance,
			Reason:    ReasonAdminAdjustment,
			SourceRef: ref,
			CreatedBy: actor,
		})
		if err != nil {
			return BalanceProjection{}, err
		}
		p, err = e.projector.Load(ctx, userID)
		if err != nil {
			return BalanceProjection{}, err
		}
	}

	if err := e.store.CloseUser(ctx, userID); err != nil {
		return BalanceProjection{}, fmt.Errorf("close user: %w", err)
	}
	return p, nil
}
