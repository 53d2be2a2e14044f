// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/gameforge/chips-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store entirely in memory.
type Memory struct {
	mu sync.RWMutex

	nextSeq     int64
	entries     []ledger.Entry
	bySourceRef map[refKey]int // index into entries

	projections map[ledger.UserID]ledger.BalanceProjection

	badges     map[ledger.BadgeID]ledger.BadgeDefinition
	userBadges map[ledger.UserID]map[ledger.BadgeID]ledger.UserBadge

	referrals map[ledger.ReferralID]ledger.ReferralEdge
	byReferee map[ledger.UserID]ledger.ReferralID

	users map[ledger.UserID]ledger.User
}

type refKey struct {
	UserID    ledger.UserID
	Reason    ledger.Reason
	SourceRef string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		bySourceRef: make(map[refKey]int),
		projections: make(map[ledger.UserID]ledger.BalanceProjection),
		badges:      make(map[ledger.BadgeID]ledger.BadgeDefinition),
		userBadges:  make(map[ledger.UserID]map[ledger.BadgeID]ledger.UserBadge),
		referrals:   make(map[ledger.ReferralID]ledger.ReferralEdge),
		byReferee:   make(map[ledger.UserID]ledger.ReferralID),
		users:       make(map[ledger.UserID]ledger.User),
	}
}

var _ ledger.Store = (*Memory)(nil)

// =============================================================================
// ENTRY STORE
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e ledger.Entry) (ledger.Entry, error) {
	if e.SourceRef != "" {
		k := refKey{UserID: e.UserID, Reason: e.Reason, SourceRef: e.SourceRef}
		if _, exists := m.bySourceRef[k]; exists {
			return ledger.Entry{}, ledger.ErrDuplicateSourceRef
		}
		m.bySourceRef[k] = len(m.entries)
	}

	m.nextSeq++
	e.Seq = m.nextSeq
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *Memory) FindBySourceRef(_ context.Context, userID ledger.UserID, reason ledger.Reason, sourceRef string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.bySourceRef[refKey{UserID: userID, Reason: reason, SourceRef: sourceRef}]
	if !ok {
		return nil, nil
	}
	e := m.entries[idx]
	return &e, nil
}

func (m *Memory) EntriesByUser(_ context.Context, userID ledger.UserID, sinceSeq int64) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range m.entries {
		if e.UserID == userID && e.Seq > sinceSeq {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) AllEntries(_ context.Context) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Entry, len(m.entries))
	copy(result, m.entries)
	return result, nil
}

// =============================================================================
// PROJECTION STORE
// =============================================================================

func (m *Memory) GetProjection(_ context.Context, userID ledger.UserID) (*ledger.BalanceProjection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projections[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) SaveProjection(_ context.Context, p ledger.BalanceProjection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.projections[p.UserID] = p
	return nil
}

func (m *Memory) ListProjections(_ context.Context) ([]ledger.BalanceProjection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.BalanceProjection, 0, len(m.projections))
	for _, p := range m.projections {
		result = append(result, p)
	}
	return result, nil
}

// =============================================================================
// BADGE STORE
// =============================================================================

func (m *Memory) SaveBadge(_ context.Context, b ledger.BadgeDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.badges[b.ID] = b
	return nil
}

func (m *Memory) GetBadge(_ context.Context, id ledger.BadgeID) (*ledger.BadgeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.badges[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) ListBadges(_ context.Context) ([]ledger.BadgeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.BadgeDefinition, 0, len(m.badges))
	for _, b := range m.badges {
		result = append(result, b)
	}
	return result, nil
}

func (m *Memory) DeleteBadge(_ context.Context, id ledger.BadgeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.badges, id)
	return nil
}

func (m *Memory) UserBadges(_ context.Context, userID ledger.UserID) ([]ledger.UserBadge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.UserBadge
	for _, ub := range m.userBadges[userID] {
		result = append(result, ub)
	}
	return result, nil
}

func (m *Memory) insertUserBadgeLocked(ub ledger.UserBadge) error {
	if m.userBadges[ub.UserID] == nil {
		m.userBadges[ub.UserID] = make(map[ledger.BadgeID]ledger.UserBadge)
	}
	m.userBadges[ub.UserID][ub.BadgeID] = ub
	return nil
}

// =============================================================================
// REFERRAL STORE
// =============================================================================

func (m *Memory) SaveReferral(_ context.Context, r ledger.ReferralEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byReferee[r.RefereeID]; exists {
		return ledger.ErrAlreadyAttributed
	}
	m.referrals[r.ID] = r
	m.byReferee[r.RefereeID] = r.ID
	return nil
}

func (m *Memory) GetReferral(_ context.Context, id ledger.ReferralID) (*ledger.ReferralEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.referrals[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) MarkCredited(_ context.Context, id ledger.ReferralID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.referrals[id]
	if !ok {
		return ledger.ErrUnknownReferral
	}
	if r.CreditedAt == nil {
		now := time.Now().UTC()
		r.CreditedAt = &now
		m.referrals[id] = r
	}
	return nil
}

func (m *Memory) CountCredited(_ context.Context, referrerID ledger.UserID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.referrals {
		if r.ReferrerID == referrerID && r.CreditedAt != nil {
			count++
		}
	}
	return count, nil
}

func (m *Memory) ListReferrals(_ context.Context) ([]ledger.ReferralEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.ReferralEdge, 0, len(m.referrals))
	for _, r := range m.referrals {
		result = append(result, r)
	}
	return result, nil
}

// =============================================================================
// USER STORE
// =============================================================================

func (m *Memory) SaveUser(_ context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	return result, nil
}

func (m *Memory) CloseUser(_ context.Context, id ledger.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ledger.ErrUnknownUser
	}
	if u.ClosedAt == nil {
		now := time.Now().UTC()
		u.ClosedAt = &now
		m.users[id] = u
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE - Badge award atomicity
// =============================================================================

// WithTx executes fn as one atomic unit. For the memory store this is a
// snapshot of the mutable sections plus rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(tx ledger.AwardTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked()
	if err := fn(&txView{parent: m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	nextSeq     int64
	entries     []ledger.Entry
	bySourceRef map[refKey]int
	userBadges  map[ledger.UserID]map[ledger.BadgeID]ledger.UserBadge
}

func (m *Memory) snapshotLocked() memorySnapshot {
	entries := make([]ledger.Entry, len(m.entries))
	copy(entries, m.entries)

	refs := make(map[refKey]int, len(m.bySourceRef))
	for k, v := range m.bySourceRef {
		refs[k] = v
	}

	badges := make(map[ledger.UserID]map[ledger.BadgeID]ledger.UserBadge, len(m.userBadges))
	for uid, byBadge := range m.userBadges {
		inner := make(map[ledger.BadgeID]ledger.UserBadge, len(byBadge))
		for bid, ub := range byBadge {
			inner[bid] = ub
		}
		badges[uid] = inner
	}

	return memorySnapshot{nextSeq: m.nextSeq, entries: entries, bySourceRef: refs, userBadges: badges}
}

func (m *Memory) restoreLocked(s memorySnapshot) {
	m.nextSeq = s.nextSeq
	m.entries = s.entries
	m.bySourceRef = s.bySourceRef
	m.userBadges = s.userBadges
}

type txView struct {
	parent *Memory
}

func (tv *txView) AppendEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	return tv.parent.appendLocked(e)
}

func (tv *txView) InsertUserBadge(_ context.Context, ub ledger.UserBadge) error {
	return tv.parent.insertUserBadgeLocked(ub)
}
