/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  JSON shapes exchanged with clients, kept separate from domain types so
  the wire format can evolve without touching the engine.
*/
package api

import (
	"time"

	"github.com/gameforge/chips-engine/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// AppendEntryRequest is the body of POST /ledger/entries.
type AppendEntryRequest struct {
	UserID    string `json:"userId"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	SourceRef string `json:"sourceRef,omitempty"`
}

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateReferralRequest is the body of POST /referrals.
type CreateReferralRequest struct {
	ReferrerID string `json:"referrerId"`
	RefereeID  string `json:"refereeId"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// AppendEntryResponse is the result of an append: the entry id, the user's
// post-append balance, and any newly unlocked badges. On a replay the
// original entry id comes back and newlyUnlockedBadges is empty.
type AppendEntryResponse struct {
	EntryID             string     `json:"entryId"`
	Replayed            bool       `json:"replayed,omitempty"`
	Balance             int64      `json:"balance"`
	Tier                string     `json:"tier"`
	NewlyUnlockedBadges []BadgeDTO `json:"newlyUnlockedBadges"`
}

// BalanceDTO is the body of GET /users/{id}/balance.
type BalanceDTO struct {
	UserID        string `json:"userId"`
	Balance       int64  `json:"balance"`
	Tier          string `json:"tier"`
	ReferralCount int    `json:"referralCount"`
}

// RankDTO is the body of GET /users/{id}/rank.
type RankDTO struct {
	UserID string    `json:"userId"`
	Rank   int       `json:"rank"`
	AsOf   time.Time `json:"asOf"`
}

// EntryDTO is one ledger entry in an audit listing.
type EntryDTO struct {
	EntryID   string    `json:"entryId"`
	Seq       int64     `json:"seq"`
	UserID    string    `json:"userId"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	SourceRef string    `json:"sourceRef,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// BadgeDTO mirrors ledger.BadgeJSON for responses.
type BadgeDTO = ledger.BadgeJSON

// UserBadgeDTO is one earned badge.
type UserBadgeDTO struct {
	BadgeID  string    `json:"badgeId"`
	EarnedAt time.Time `json:"earnedAt"`
}

// LeaderboardRowDTO is one row of GET /leaderboard.
type LeaderboardRowDTO struct {
	Rank    int    `json:"rank"`
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// LeaderboardDTO is the body of GET /leaderboard. AsOf is the snapshot
// build time: the view's staleness is observable, never hidden.
type LeaderboardDTO struct {
	Offset  int                 `json:"offset"`
	Limit   int                 `json:"limit"`
	AsOf    time.Time           `json:"asOf"`
	Entries []LeaderboardRowDTO `json:"entries"`
}

// UserDTO is a registry record.
type UserDTO struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// ReferralDTO is a referral edge.
type ReferralDTO struct {
	ID         string     `json:"id"`
	ReferrerID string     `json:"referrerId"`
	RefereeID  string     `json:"refereeId"`
	CreatedAt  time.Time  `json:"createdAt"`
	CreditedAt *time.Time `json:"creditedAt,omitempty"`
}

// StatsDTO is the body of GET /stats.
type StatsDTO struct {
	Users          int    `json:"users"`
	Entries        int    `json:"entries"`
	ChipsCredited  int64  `json:"chipsCredited"`
	ChipsDebited   int64  `json:"chipsDebited"`
	TotalBalance   int64  `json:"totalBalance"`
	AverageBalance string `json:"averageBalance"`
	Referrals      int    `json:"referrals"`
	Credited       int    `json:"creditedReferrals"`
	ConversionRate string `json:"conversionRate"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		EntryID:   string(e.ID),
		Seq:       e.Seq,
		UserID:    string(e.UserID),
		Amount:    e.Amount,
		Reason:    string(e.Reason),
		SourceRef: e.SourceRef,
		CreatedBy: e.CreatedBy,
		CreatedAt: e.CreatedAt,
	}
}

func toBadgeDTOs(defs []ledger.BadgeDefinition) []BadgeDTO {
	dtos := make([]BadgeDTO, len(defs))
	for i, d := range defs {
		dtos[i] = ledger.BadgeToJSON(d)
	}
	return dtos
}

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{ID: string(u.ID), Name: u.Name, CreatedAt: u.CreatedAt, ClosedAt: u.ClosedAt}
}

func toReferralDTO(r ledger.ReferralEdge) ReferralDTO {
	return ReferralDTO{
		ID:         string(r.ID),
		ReferrerID: string(r.ReferrerID),
		RefereeID:  string(r.RefereeID),
		CreatedAt:  r.CreatedAt,
		CreditedAt: r.CreditedAt,
	}
}
