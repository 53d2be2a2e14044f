/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store (entries, projections, badges, referrals, users,
  and the badge-award transaction) using SQLite. The same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for the entries table. Corrections
  are offsetting entries.

IDEMPOTENCY:
  A partial unique index on (user_id, reason, source_ref) rejects duplicate
  triggers at the storage level. The engine resolves the rejection by
  returning the pre-existing entry, so retries are safe even when two
  writers race past the engine's pre-check.

SEQUENCE:
  entries.seq is INTEGER PRIMARY KEY AUTOINCREMENT: the global, monotone
  append order the projector's watermark is defined over.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/chips.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := ledger.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gameforge/chips-engine/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.Store = (*Store)(nil)

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite serializes writers anyway, and a pooled second
	// connection to ":memory:" would see a separate empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		reason TEXT NOT NULL,
		source_ref TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one entry per (user, reason, trigger). Re-processing the
	-- same trigger must not double-credit.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_dedupe
		ON entries(user_id, reason, source_ref)
		WHERE source_ref IS NOT NULL;

	-- Incremental projection reads (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_user_seq
		ON entries(user_id, seq);

	-- Projections (derived, one per user)
	CREATE TABLE IF NOT EXISTS projections (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL,
		last_entry_seq INTEGER NOT NULL,
		tier TEXT NOT NULL,
		prompts_approved INTEGER NOT NULL DEFAULT 0,
		referral_count INTEGER NOT NULL DEFAULT 0,
		entry_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_projections_balance
		ON projections(balance DESC, last_entry_seq ASC);

	-- Badge catalog
	CREATE TABLE IF NOT EXISTS badges (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		icon TEXT,
		chips_reward INTEGER NOT NULL DEFAULT 0,
		rule_metric TEXT NOT NULL,
		rule_threshold INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Awarded badges: at most one per (user, badge)
	CREATE TABLE IF NOT EXISTS user_badges (
		user_id TEXT NOT NULL,
		badge_id TEXT NOT NULL,
		earned_at TEXT NOT NULL,
		PRIMARY KEY (user_id, badge_id)
	);

	-- Referral edges: one referrer per referee, first attribution wins
	CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL,
		referee_id TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		credited_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_referrals_referrer
		ON referrals(referrer_id);

	-- Users (minimal registry)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		closed_at TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (ledger.EntryStore interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppendEntry adds an entry to the ledger and assigns its sequence.
func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendEntry(ctx, s.db, e)
}

func (s *Store) appendEntry(ctx context.Context, db execer, e ledger.Entry) (ledger.Entry, error) {
	query := `
		INSERT INTO entries (id, user_id, amount, reason, source_ref, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := db.ExecContext(ctx, query,
		string(e.ID),
		string(e.UserID),
		e.Amount,
		string(e.Reason),
		nullString(e.SourceRef),
		e.CreatedBy,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Entry{}, ledger.ErrDuplicateSourceRef
		}
		return ledger.Entry{}, fmt.Errorf("failed to append entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("failed to read entry seq: %w", err)
	}
	e.Seq = seq
	return e, nil
}

const entryColumns = "seq, id, user_id, amount, reason, source_ref, created_by, created_at"

// FindBySourceRef returns the entry for (user, reason, sourceRef), or nil.
func (s *Store) FindBySourceRef(ctx context.Context, userID ledger.UserID, reason ledger.Reason, sourceRef string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE user_id = ? AND reason = ? AND source_ref = ?",
		string(userID), string(reason), sourceRef,
	)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EntriesByUser returns a user's entries with seq > sinceSeq, ascending.
func (s *Store) EntriesByUser(ctx context.Context, userID ledger.UserID, sinceSeq int64) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + entryColumns + " FROM entries WHERE user_id = ? AND seq > ? ORDER BY seq ASC"
	return s.queryEntries(ctx, query, string(userID), sinceSeq)
}

// AllEntries returns every entry ascending by seq.
func (s *Store) AllEntries(ctx context.Context) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntries(ctx, "SELECT "+entryColumns+" FROM entries ORDER BY seq ASC")
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e         ledger.Entry
		sourceRef sql.NullString
		createdBy sql.NullString
		createdAt string
	)

	err := row.Scan(&e.Seq, &e.ID, &e.UserID, &e.Amount, &e.Reason, &sourceRef, &createdBy, &createdAt)
	if err != nil {
		return e, err
	}

	e.SourceRef = sourceRef.String
	e.CreatedBy = createdBy.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

// =============================================================================
// PROJECTION STORE
// =============================================================================

// GetProjection returns the projection for a user, or nil.
func (s *Store) GetProjection(ctx context.Context, userID ledger.UserID) (*ledger.BalanceProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p ledger.BalanceProjection
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, balance, last_entry_seq, tier, prompts_approved, referral_count, entry_count
		 FROM projections WHERE user_id = ?`,
		string(userID),
	).Scan(&p.UserID, &p.Balance, &p.LastEntrySeq, &p.Tier, &p.PromptsApproved, &p.ReferralCount, &p.EntryCount)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProjection upserts a projection.
func (s *Store) SaveProjection(ctx context.Context, p ledger.BalanceProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO projections (user_id, balance, last_entry_seq, tier, prompts_approved, referral_count, entry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			balance = excluded.balance,
			last_entry_seq = excluded.last_entry_seq,
			tier = excluded.tier,
			prompts_approved = excluded.prompts_approved,
			referral_count = excluded.referral_count,
			entry_count = excluded.entry_count
	`

	_, err := s.db.ExecContext(ctx, query,
		string(p.UserID), p.Balance, p.LastEntrySeq, string(p.Tier),
		p.PromptsApproved, p.ReferralCount, p.EntryCount,
	)
	return err
}

// ListProjections returns all projections.
func (s *Store) ListProjections(ctx context.Context) ([]ledger.BalanceProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, balance, last_entry_seq, tier, prompts_approved, referral_count, entry_count
		 FROM projections`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projections []ledger.BalanceProjection
	for rows.Next() {
		var p ledger.BalanceProjection
		if err := rows.Scan(&p.UserID, &p.Balance, &p.LastEntrySeq, &p.Tier,
			&p.PromptsApproved, &p.ReferralCount, &p.EntryCount); err != nil {
			return nil, err
		}
		projections = append(projections, p)
	}
	return projections, rows.Err()
}

// =============================================================================
// BADGE STORE
// =============================================================================

// SaveBadge upserts a badge definition.
func (s *Store) SaveBadge(ctx context.Context, b ledger.BadgeDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO badges (id, name, description, icon, chips_reward, rule_metric, rule_threshold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			icon = excluded.icon,
			chips_reward = excluded.chips_reward,
			rule_metric = excluded.rule_metric,
			rule_threshold = excluded.rule_threshold,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(b.ID), b.Name, b.Description, b.Icon, b.ChipsReward,
		string(b.Rule.Metric), b.Rule.Threshold,
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
		b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

const badgeColumns = "id, name, description, icon, chips_reward, rule_metric, rule_threshold, created_at, updated_at"

// GetBadge returns a badge definition, or nil.
func (s *Store) GetBadge(ctx context.Context, id ledger.BadgeID) (*ledger.BadgeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+badgeColumns+" FROM badges WHERE id = ?", string(id))
	b, err := scanBadge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBadges returns the full catalog.
func (s *Store) ListBadges(ctx context.Context) ([]ledger.BadgeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+badgeColumns+" FROM badges ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var badges []ledger.BadgeDefinition
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, err
		}
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

func scanBadge(row rowScanner) (ledger.BadgeDefinition, error) {
	var (
		b                    ledger.BadgeDefinition
		description, icon    sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(&b.ID, &b.Name, &description, &icon, &b.ChipsReward,
		&b.Rule.Metric, &b.Rule.Threshold, &createdAt, &updatedAt)
	if err != nil {
		return b, err
	}

	b.Description = description.String
	b.Icon = icon.String
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return b, nil
}

// DeleteBadge removes a catalog definition. Earned user_badges remain.
func (s *Store) DeleteBadge(ctx context.Context, id ledger.BadgeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM badges WHERE id = ?", string(id))
	return err
}

// UserBadges returns a user's earned badges.
func (s *Store) UserBadges(ctx context.Context, userID ledger.UserID) ([]ledger.UserBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, badge_id, earned_at FROM user_badges WHERE user_id = ? ORDER BY earned_at",
		string(userID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var badges []ledger.UserBadge
	for rows.Next() {
		var ub ledger.UserBadge
		var earnedAt string
		if err := rows.Scan(&ub.UserID, &ub.BadgeID, &earnedAt); err != nil {
			return nil, err
		}
		ub.EarnedAt, _ = time.Parse(time.RFC3339Nano, earnedAt)
		badges = append(badges, ub)
	}
	return badges, rows.Err()
}

func (s *Store) insertUserBadge(ctx context.Context, db execer, ub ledger.UserBadge) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO user_badges (user_id, badge_id, earned_at) VALUES (?, ?, ?)",
		string(ub.UserID), string(ub.BadgeID), ub.EarnedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil && isUniqueConstraintError(err) {
		return fmt.Errorf("badge %s already earned by %s: %w", ub.BadgeID, ub.UserID, err)
	}
	return err
}

// =============================================================================
// REFERRAL STORE
// =============================================================================

// SaveReferral inserts an edge; the referee's unique index enforces
// first-attribution-wins.
func (s *Store) SaveReferral(ctx context.Context, r ledger.ReferralEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO referrals (id, referrer_id, referee_id, created_at, credited_at) VALUES (?, ?, ?, ?, ?)",
		string(r.ID), string(r.ReferrerID), string(r.RefereeID),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(r.CreditedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAlreadyAttributed
		}
		return fmt.Errorf("failed to save referral: %w", err)
	}
	return nil
}

// GetReferral returns an edge by id, or nil.
func (s *Store) GetReferral(ctx context.Context, id ledger.ReferralID) (*ledger.ReferralEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r          ledger.ReferralEdge
		createdAt  string
		creditedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, referrer_id, referee_id, created_at, credited_at FROM referrals WHERE id = ?",
		string(id),
	).Scan(&r.ID, &r.ReferrerID, &r.RefereeID, &createdAt, &creditedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if creditedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, creditedAt.String)
		r.CreditedAt = &t
	}
	return &r, nil
}

// MarkCredited sets credited_at if not already set. Idempotent.
func (s *Store) MarkCredited(ctx context.Context, id ledger.ReferralID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE referrals SET credited_at = ? WHERE id = ? AND credited_at IS NULL",
		time.Now().UTC().Format(time.RFC3339Nano), string(id),
	)
	if err != nil {
		return err
	}

	// Zero rows means either already credited (fine) or unknown edge.
	if n, _ := res.RowsAffected(); n == 0 {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM referrals WHERE id = ?", string(id),
		).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return ledger.ErrUnknownReferral
		}
	}
	return nil
}

// CountCredited returns the credited edge count for a referrer.
func (s *Store) CountCredited(ctx context.Context, referrerID ledger.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM referrals WHERE referrer_id = ? AND credited_at IS NOT NULL",
		string(referrerID),
	).Scan(&count)
	return count, err
}

// ListReferrals returns all edges.
func (s *Store) ListReferrals(ctx context.Context) ([]ledger.ReferralEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, referrer_id, referee_id, created_at, credited_at FROM referrals",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []ledger.ReferralEdge
	for rows.Next() {
		var (
			r          ledger.ReferralEdge
			createdAt  string
			creditedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ReferrerID, &r.RefereeID, &createdAt, &creditedAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if creditedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, creditedAt.String)
			r.CreditedAt = &t
		}
		edges = append(edges, r)
	}
	return edges, rows.Err()
}

// =============================================================================
// USER STORE
// =============================================================================

// SaveUser upserts a user record.
func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, name, created_at, closed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`
	_, err := s.db.ExecContext(ctx, query,
		string(u.ID), u.Name,
		u.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(u.ClosedAt),
	)
	return err
}

// GetUser returns a user, or nil.
func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		u         ledger.User
		createdAt string
		closedAt  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, closed_at FROM users WHERE id = ?", string(id),
	).Scan(&u.ID, &u.Name, &createdAt, &closedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if closedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, closedAt.String)
		u.ClosedAt = &t
	}
	return &u, nil
}

// ListUsers returns all users.
func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, closed_at FROM users ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		var (
			u         ledger.User
			createdAt string
			closedAt  sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Name, &createdAt, &closedAt); err != nil {
			return nil, err
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if closedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, closedAt.String)
			u.ClosedAt = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CloseUser soft-closes an account.
func (s *Store) CloseUser(ctx context.Context, id ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET closed_at = ? WHERE id = ? AND closed_at IS NULL",
		time.Now().UTC().Format(time.RFC3339Nano), string(id),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM users WHERE id = ?", string(id),
		).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return ledger.ErrUnknownUser
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction: the badge insert and
// its reward entry either both commit or neither does.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.AwardTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txView struct {
	tx     *sql.Tx
	parent *Store
}

func (tv *txView) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	return tv.parent.appendEntry(ctx, tv.tx, e)
}

func (tv *txView) InsertUserBadge(ctx context.Context, ub ledger.UserBadge) error {
	return tv.parent.insertUserBadge(ctx, tv.tx, ub)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
