/*
ledger.go - Append-only chip ledger

PURPOSE:
  The Ledger is the immutable source of truth for all chip changes. Every
  credit and debit is recorded here; balance is always computed by folding
  entries, never stored as a free-standing counter.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. AUDITABLE: Every balance change carries its trigger and actor
  4. IDEMPOTENT: Same (user, reason, sourceRef) = same entry, no duplicates

IDEMPOTENT REPLAY:
  Unlike a plain uniqueness rejection, Append treats a duplicate as a
  replay: it fetches and returns the pre-existing entry. A caller that
  retries after a network timeout gets the original entry back and the
  balance moves exactly once.

CORRECTIONS:
  Mistakes are never edited. An admin issues an offsetting
  admin_adjustment entry; both remain in the ledger and the audit trail
  explains the correction.

SEE ALSO:
  - store.go: Persistence interface
  - engine.go: Append orchestration with projection and badge evaluation
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENTRY REQUEST - Validated input to an append
// =============================================================================

// EntryRequest is a caller's request to append a ledger entry.
type EntryRequest struct {
	UserID    UserID
	Amount    int64
	Reason    Reason
	SourceRef string
	CreatedBy string
}

// Validate checks the request against the ledger's input constraints.
// These are synchronous rejections; the system never retries them.
func (r EntryRequest) Validate() error {
	if r.UserID == "" {
		return newValidationError("userId", "required", ErrUnknownUser)
	}
	if r.Amount == 0 {
		return newValidationError("amount", "must be non-zero", ErrInvalidAmount)
	}
	if !ValidReason(r.Reason) {
		return newValidationError("reason", fmt.Sprintf("unknown reason %q", r.Reason), ErrInvalidReason)
	}
	if r.Reason.RequiresSourceRef() && r.SourceRef == "" {
		return newValidationError("sourceRef", fmt.Sprintf("required for reason %q", r.Reason), ErrMissingSourceRef)
	}
	return nil
}

// =============================================================================
// LEDGER - Append path with replay semantics
// =============================================================================

// Ledger wraps an EntryStore with validation and idempotent replay.
type Ledger struct {
	store EntryStore
	now   func() time.Time
}

// NewLedger creates a ledger over the given store.
func NewLedger(store EntryStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Append validates and persists an entry.
//
// Returns (entry, replayed, err). When (userID, reason, sourceRef) already
// exists, Append returns the EXISTING entry with replayed=true and no error:
// retry-after-timeout must not double-credit and must not fail the caller.
func (l *Ledger) Append(ctx context.Context, req EntryRequest) (Entry, bool, error) {
	if err := req.Validate(); err != nil {
		return Entry{}, false, err
	}

	// Fast path: a replay we can detect before writing.
	if req.SourceRef != "" {
		existing, err := l.store.FindBySourceRef(ctx, req.UserID, req.Reason, req.SourceRef)
		if err != nil {
			return Entry{}, false, fmt.Errorf("idempotency lookup: %w", err)
		}
		if existing != nil {
			return *existing, true, nil
		}
	}

	entry := Entry{
		ID:        EntryID(uuid.NewString()),
		UserID:    req.UserID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		SourceRef: req.SourceRef,
		CreatedBy: req.CreatedBy,
		CreatedAt: l.now().UTC(),
	}

	stored, err := l.store.AppendEntry(ctx, entry)
	if err == nil {
		return stored, false, nil
	}

	// A concurrent writer beat us to the unique index between the lookup and
	// the insert. Resolve by returning the winner's entry.
	if errors.Is(err, ErrDuplicateSourceRef) && req.SourceRef != "" {
		existing, lookupErr := l.store.FindBySourceRef(ctx, req.UserID, req.Reason, req.SourceRef)
		if lookupErr != nil {
			return Entry{}, false, fmt.Errorf("duplicate resolution: %w", lookupErr)
		}
		if existing != nil {
			return *existing, true, nil
		}
	}

	return Entry{}, false, fmt.Errorf("append entry: %w", err)
}

// EntriesByUser returns a user's entries with Seq > sinceSeq, ascending.
func (l *Ledger) EntriesByUser(ctx context.Context, userID UserID, sinceSeq int64) ([]Entry, error) {
	return l.store.EntriesByUser(ctx, userID, sinceSeq)
}
