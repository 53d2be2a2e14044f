/*
store.go - Persistence interfaces for the chips engine

PURPOSE:
  Defines the interface between the engine and the database. The entry store
  enforces append-only semantics; projections, badges, referrals, and users
  have their own narrow interfaces so tests can fake exactly what they need.

APPEND-ONLY CONTRACT:
  EntryStore has Append and reads. No Update() or Delete() methods exist for
  entries. Corrections are offsetting entries.

IDEMPOTENCY:
  Append must fail with ErrDuplicateSourceRef when (userID, reason,
  sourceRef) already exists. The engine resolves the conflict by fetching
  and returning the existing entry, so a retried request is a no-op.

ATOMIC UNITS:
  WithTx ensures the badge award pair (UserBadge insert + badge_reward entry)
  is all-or-nothing. If the entry append fails, the badge is not recorded.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - ledger/store: In-memory store for tests

SEE ALSO:
  - ledger.go: Higher-level append path using EntryStore
  - engine.go: Orchestrates the stores under per-user exclusion
*/
package ledger

import "context"

// =============================================================================
// ENTRY STORE - Append-only ledger persistence
// =============================================================================

// EntryStore persists ledger entries.
// IMPORTANT: entries are APPEND-ONLY. No Update, No Delete. Ever.
type EntryStore interface {
	// AppendEntry persists an entry, assigns its global Seq, and returns the
	// stored entry. Returns ErrDuplicateSourceRef if (userID, reason,
	// sourceRef) already exists.
	AppendEntry(ctx context.Context, e Entry) (Entry, error)

	// FindBySourceRef returns the entry for (userID, reason, sourceRef),
	// or nil if none exists.
	FindBySourceRef(ctx context.Context, userID UserID, reason Reason, sourceRef string) (*Entry, error)

	// EntriesByUser returns a user's entries with Seq > sinceSeq, ascending
	// by Seq. Pass 0 for the full history.
	EntriesByUser(ctx context.Context, userID UserID, sinceSeq int64) ([]Entry, error)

	// AllEntries returns every entry ascending by Seq. Used by stats.
	AllEntries(ctx context.Context) ([]Entry, error)
}

// =============================================================================
// PROJECTION STORE
// =============================================================================

// ProjectionStore persists per-user balance projections.
// Only the Projector writes through this interface.
type ProjectionStore interface {
	// GetProjection returns the projection for a user, or nil if the user
	// has no entries yet.
	GetProjection(ctx context.Context, userID UserID) (*BalanceProjection, error)

	// SaveProjection upserts a projection.
	SaveProjection(ctx context.Context, p BalanceProjection) error

	// ListProjections returns all projections. Used by the leaderboard
	// snapshot builder and by stats.
	ListProjections(ctx context.Context) ([]BalanceProjection, error)
}

// =============================================================================
// BADGE STORE
// =============================================================================

// BadgeStore persists the badge catalog and awarded badges.
type BadgeStore interface {
	// SaveBadge upserts a catalog definition.
	SaveBadge(ctx context.Context, b BadgeDefinition) error

	// GetBadge returns a definition, or nil if absent.
	GetBadge(ctx context.Context, id BadgeID) (*BadgeDefinition, error)

	// ListBadges returns the full catalog.
	ListBadges(ctx context.Context) ([]BadgeDefinition, error)

	// DeleteBadge removes a catalog definition. Already-earned UserBadges
	// and their reward entries are facts and remain.
	DeleteBadge(ctx context.Context, id BadgeID) error

	// UserBadges returns the badges a user has earned.
	UserBadges(ctx context.Context, userID UserID) ([]UserBadge, error)
}

// =============================================================================
// REFERRAL STORE
// =============================================================================

// ReferralStore persists referral attribution edges.
type ReferralStore interface {
	// SaveReferral inserts an edge. Returns ErrAlreadyAttributed if the
	// referee already has a referrer (first attribution wins).
	SaveReferral(ctx context.Context, r ReferralEdge) error

	// GetReferral returns an edge by id, or nil if absent.
	GetReferral(ctx context.Context, id ReferralID) (*ReferralEdge, error)

	// MarkCredited sets CreditedAt on an edge. Idempotent.
	MarkCredited(ctx context.Context, id ReferralID) error

	// CountCredited returns the number of credited edges for a referrer.
	// This is the input to tier derivation.
	CountCredited(ctx context.Context, referrerID UserID) (int, error)

	// ListReferrals returns all edges. Used by stats.
	ListReferrals(ctx context.Context) ([]ReferralEdge, error)
}

// =============================================================================
// USER STORE
// =============================================================================

// UserStore persists the minimal user registry.
type UserStore interface {
	SaveUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// CloseUser marks an account closed. Soft: the row and its ledger
	// history remain.
	CloseUser(ctx context.Context, id UserID) error
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic badge award unit
// =============================================================================

// AwardTx is the write surface available inside a badge award transaction.
type AwardTx interface {
	AppendEntry(ctx context.Context, e Entry) (Entry, error)
	InsertUserBadge(ctx context.Context, ub UserBadge) error
}

// TxStore executes a badge award as one atomic unit: the UserBadge insert
// and the badge_reward entry either both commit or neither does.
type TxStore interface {
	WithTx(ctx context.Context, fn func(tx AwardTx) error) error
}

// Store aggregates everything the engine needs from persistence.
type Store interface {
	EntryStore
	ProjectionStore
	BadgeStore
	ReferralStore
	UserStore
	TxStore
}
