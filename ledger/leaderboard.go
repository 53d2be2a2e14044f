/*
leaderboard.go - Snapshot-based ranked view over projections

PURPOSE:
  Serves a ranked, paginated read of all users by balance. The view is
  eventually consistent: it lags the projector by a bounded, observable
  staleness window (the refresh interval), but it never shows a rank
  inconsistent with its own snapshot.

ORDERING:
  Balance descending; ties broken by ascending watermark, so earlier
  accumulation ranks higher than a later burst to the same balance. Ranks
  are dense: two users tied for 2nd both show rank 2, the next distinct
  balance shows rank 3.

SNAPSHOT SWAP:
  Refresh builds a complete new snapshot and swaps it in atomically under a
  write lock. Readers always see either the old snapshot or the new one,
  never a half-recomputed ordering.

SEE ALSO:
  - projector.go: The state this view is derived from
  - api/refresher.go: Background refresh scheduling
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is one immutable, fully-ranked view of all projections.
type Snapshot struct {
	Entries []LeaderboardEntry
	BuiltAt time.Time

	rankByUser map[UserID]int
}

// BuildSnapshot ranks projections: balance desc, ties by ascending
// watermark, dense ranks. Closed accounts with zero balance still appear;
// the view reflects the ledger, not account status.
func BuildSnapshot(projections []BalanceProjection, builtAt time.Time) *Snapshot {
	entries := make([]LeaderboardEntry, 0, len(projections))
	for _, p := range projections {
		entries = append(entries, LeaderboardEntry{
			UserID:       p.UserID,
			Balance:      p.Balance,
			LastEntrySeq: p.LastEntrySeq,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Balance != entries[j].Balance {
			return entries[i].Balance > entries[j].Balance
		}
		if entries[i].LastEntrySeq != entries[j].LastEntrySeq {
			return entries[i].LastEntrySeq < entries[j].LastEntrySeq
		}
		return entries[i].UserID < entries[j].UserID
	})

	// Dense rank: ties share a rank, the next distinct balance continues
	// immediately (2, 2, 3 - never 2, 2, 4).
	rankByUser := make(map[UserID]int, len(entries))
	rank := 0
	var prevBalance int64
	for i := range entries {
		if i == 0 || entries[i].Balance != prevBalance {
			rank++
			prevBalance = entries[i].Balance
		}
		entries[i].Rank = rank
		rankByUser[entries[i].UserID] = rank
	}

	return &Snapshot{Entries: entries, BuiltAt: builtAt, rankByUser: rankByUser}
}

// Rank returns a user's dense rank within this snapshot.
func (s *Snapshot) Rank(userID UserID) (int, bool) {
	r, ok := s.rankByUser[userID]
	return r, ok
}

// Page returns entries [offset, offset+limit), clamped to the snapshot.
func (s *Snapshot) Page(offset, limit int) []LeaderboardEntry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.Entries) || limit <= 0 {
		return []LeaderboardEntry{}
	}
	end := offset + limit
	if end > len(s.Entries) {
		end = len(s.Entries)
	}
	page := make([]LeaderboardEntry, end-offset)
	copy(page, s.Entries[offset:end])
	return page
}

// =============================================================================
// LEADERBOARD
// =============================================================================

// Leaderboard holds the current snapshot and refreshes it from projections.
type Leaderboard struct {
	projections ProjectionStore
	now         func() time.Time

	mu   sync.RWMutex
	snap *Snapshot
}

// NewLeaderboard creates an empty leaderboard. Call Refresh before serving.
func NewLeaderboard(projections ProjectionStore) *Leaderboard {
	return &Leaderboard{
		projections: projections,
		now:         time.Now,
		snap:        BuildSnapshot(nil, time.Time{}),
	}
}

// Refresh rebuilds the snapshot from current projections and swaps it in
// atomically.
func (l *Leaderboard) Refresh(ctx context.Context) error {
	projections, err := l.projections.ListProjections(ctx)
	if err != nil {
		return fmt.Errorf("list projections: %w", err)
	}
	snap := BuildSnapshot(projections, l.now().UTC())

	l.mu.Lock()
	l.snap = snap
	l.mu.Unlock()
	return nil
}

// Current returns the active snapshot. Page and Rank calls against the same
// returned snapshot are mutually consistent.
func (l *Leaderboard) Current() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// Page serves a page from the current snapshot.
func (l *Leaderboard) Page(offset, limit int) ([]LeaderboardEntry, time.Time) {
	snap := l.Current()
	return snap.Page(offset, limit), snap.BuiltAt
}

// Rank serves a user's rank from the current snapshot.
func (l *Leaderboard) Rank(userID UserID) (int, time.Time, bool) {
	snap := l.Current()
	r, ok := snap.Rank(userID)
	return r, snap.BuiltAt, ok
}
