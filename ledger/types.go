/*
Package ledger provides the core chips rewards engine.

PURPOSE:
  This package contains the ledger, projection, badge, and ranking logic for
  the platform's chip currency. Every chip-affecting event (profile
  completion, prompt approval, referral credit, badge reward, admin
  adjustment) is an immutable Entry in an append-only log; a user's balance
  is always a fold over their entries, never a free-standing counter that
  concurrent writers can clobber.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable ledger record with a global append sequence
  - Reason: The enumerated business cause of an entry
  - BalanceProjection: Derived per-user state (balance, watermark, tier)
  - BadgeDefinition / UserBadge: Badge catalog and awarded facts
  - ReferralEdge: Referrer-to-referee attribution fact

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only offset by new entries
  2. Idempotency: (userID, reason, sourceRef) is unique; replays return
     the existing entry instead of double-crediting
  3. Derivation: Balance, tier, and rank are all rebuildable from the log
  4. Auditability: Every entry carries its trigger reference and actor

SEE ALSO:
  - ledger.go: Append path with idempotent replay semantics
  - projector.go: Balance fold and rebuild
  - badges.go: Unlock rule evaluation
  - leaderboard.go: Snapshot-based ranked view
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EntryID string
type BadgeID string
type ReferralID string

// =============================================================================
// REASON - Enumerated business cause of a ledger entry
// =============================================================================

type Reason string

const (
	ReasonProfileCompletion Reason = "profile_completion"
	ReasonPromptApproved    Reason = "prompt_approved"
	ReasonReferralCredit    Reason = "referral_credit"
	ReasonBadgeReward       Reason = "badge_reward"
	ReasonAdminAdjustment   Reason = "admin_adjustment"
	ReasonEventReward       Reason = "event_reward"
)

// ValidReason reports whether r is one of the enumerated reasons.
func ValidReason(r Reason) bool {
	switch r {
	case ReasonProfileCompletion, ReasonPromptApproved, ReasonReferralCredit,
		ReasonBadgeReward, ReasonAdminAdjustment, ReasonEventReward:
		return true
	}
	return false
}

// RequiresSourceRef reports whether entries with this reason must carry a
// source reference. Admin adjustments are the only free-form entries; every
// other reason is tied to a concrete triggering object.
func (r Reason) RequiresSourceRef() bool {
	return r != ReasonAdminAdjustment
}

// =============================================================================
// ENTRY - Immutable ledger record
// =============================================================================

// Entry is a single immutable fact in the chip ledger.
//
// INVARIANTS:
//   - Amount is never zero; positive = credit, negative = debit
//   - (UserID, Reason, SourceRef) is unique across the ledger
//   - Seq is assigned by the store at append time and is globally monotone
//   - Entries are never updated or deleted; corrections are offsetting entries
type Entry struct {
	ID        EntryID
	Seq       int64 // store-assigned global append sequence
	UserID    UserID
	Amount    int64 // signed chips delta
	Reason    Reason
	SourceRef string // id of the triggering object (prompt, referral, badge)
	CreatedBy string // actor id (user, admin, or "engine" for badge rewards)
	CreatedAt time.Time
}

// IsCredit reports whether the entry adds chips.
func (e Entry) IsCredit() bool { return e.Amount > 0 }

// =============================================================================
// BALANCE PROJECTION - Derived per-user state
// =============================================================================

// Tier is the referral-count-derived classification of a user.
type Tier string

const (
	TierNone     Tier = "none"
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// TierFor maps a credited referral count to a tier.
// Bounds are closed, non-overlapping, and ascending: 1-5, 6-15, 16-50, 51+.
func TierFor(referrals int) Tier {
	switch {
	case referrals >= 51:
		return TierPlatinum
	case referrals >= 16:
		return TierGold
	case referrals >= 6:
		return TierSilver
	case referrals >= 1:
		return TierBronze
	default:
		return TierNone
	}
}

// BalanceProjection is the derived state for one user. It is owned
// exclusively by the Projector; nothing else writes it.
type BalanceProjection struct {
	UserID       UserID
	Balance      int64
	LastEntrySeq int64 // watermark: highest Seq folded in
	Tier         Tier

	// Derived counters used by badge unlock rules.
	PromptsApproved int
	ReferralCount   int
	EntryCount      int
}

// =============================================================================
// BADGES
// =============================================================================

// UnlockMetric names the projected quantity an unlock rule tests.
type UnlockMetric string

const (
	MetricBalance         UnlockMetric = "balance"
	MetricReferralCount   UnlockMetric = "referral_count"
	MetricPromptsApproved UnlockMetric = "prompts_approved"
	MetricEntryCount      UnlockMetric = "entry_count"
)

// UnlockRule is a threshold predicate over a projection.
// Stored as JSON in the badge catalog, e.g. {"metric":"balance","threshold":100}.
type UnlockRule struct {
	Metric    UnlockMetric `json:"metric"`
	Threshold int64        `json:"threshold"`
}

// BadgeDefinition is a static catalog entry managed by admins.
type BadgeDefinition struct {
	ID          BadgeID
	Name        string
	Description string
	Icon        string
	ChipsReward int64 // >= 0; credited via a badge_reward ledger entry
	Rule        UnlockRule
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserBadge records that a user earned a badge. At most one per
// (UserID, BadgeID); unlock evaluation must be idempotent.
type UserBadge struct {
	UserID   UserID
	BadgeID  BadgeID
	EarnedAt time.Time
}

// =============================================================================
// REFERRALS
// =============================================================================

// ReferralEdge attributes a referee to a referrer.
//
// INVARIANTS:
//   - A user cannot refer themselves
//   - One referee maps to at most one referrer (first attribution wins)
//   - CreditedAt is nil until the referee completes the qualifying action
type ReferralEdge struct {
	ID         ReferralID
	ReferrerID UserID
	RefereeID  UserID
	CreatedAt  time.Time
	CreditedAt *time.Time
}

// Credited reports whether the edge has produced a referral_credit entry.
func (r ReferralEdge) Credited() bool { return r.CreditedAt != nil }

// =============================================================================
// USERS
// =============================================================================

// User is the minimal registry record the engine needs: enough to reject
// appends for unknown accounts and to represent account closure.
type User struct {
	ID        UserID
	Name      string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// Closed reports whether the account has been closed (soft, never deleted).
func (u User) Closed() bool { return u.ClosedAt != nil }

// =============================================================================
// LEADERBOARD
// =============================================================================

// LeaderboardEntry is a view-only row: never authoritative, always
// rebuildable from projections.
type LeaderboardEntry struct {
	UserID       UserID
	Balance      int64
	LastEntrySeq int64
	Rank         int // dense rank: ties share, next distinct value continues
}
