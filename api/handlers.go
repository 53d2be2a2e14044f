/*
handlers.go - HTTP API handlers for the chips engine

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates to the engine; no business logic lives here.

ENDPOINTS:
  Ledger:
    POST   /ledger/entries           Append a chip event (idempotent)

  Users:
    POST   /users                    Register a user
    GET    /users                    List users (admin)
    GET    /users/{id}/balance       Projected balance and tier
    GET    /users/{id}/rank          Dense rank from the current snapshot
    GET    /users/{id}/entries       Ledger history (audit)
    GET    /users/{id}/badges        Earned badges

  Leaderboard:
    GET    /leaderboard              Ranked page, with snapshot timestamp

  Badges:
    GET    /badges/catalog           Full catalog
    POST   /badges/catalog           Create definition (admin)
    PUT    /badges/catalog/{id}      Update definition (admin)
    DELETE /badges/catalog/{id}      Delete definition (admin)

  Referrals:
    POST   /referrals                Record an attribution edge
    POST   /referrals/{id}/credit    Qualify the edge and credit the referrer

  Admin:
    POST   /admin/users/{id}/close   Soft-close an account
    POST   /admin/rebuild/{id}       Replay a user's ledger
    GET    /stats                    Aggregate ledger statistics

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown user, badge, or referral
  - 409: Self-referral, repeat attribution, closed account
  - 500: Internal errors
  A duplicate sourceRef is NOT an error: the original entry is returned
  with 200 and the balance is unchanged.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gameforge/chips-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine      *ledger.Engine
	Store       ledger.Store
	Leaderboard *ledger.Leaderboard
}

// NewHandler creates a handler around an engine and its store.
func NewHandler(engine *ledger.Engine, store ledger.Store, lb *ledger.Leaderboard) *Handler {
	return &Handler{Engine: engine, Store: store, Leaderboard: lb}
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// AppendEntry handles POST /ledger/entries.
func (h *Handler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	var req AppendEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Engine.Append(r.Context(), ledger.EntryRequest{
		UserID:    ledger.UserID(req.UserID),
		Amount:    req.Amount,
		Reason:    ledger.Reason(req.Reason),
		SourceRef: req.SourceRef,
		CreatedBy: ActorFrom(r.Context()).ID,
	})
	if err != nil {
		writeEngineError(w, "Failed to append entry", err)
		return
	}

	badges := toBadgeDTOs(result.NewBadges)
	if badges == nil {
		badges = []BadgeDTO{}
	}
	writeJSON(w, http.StatusOK, AppendEntryResponse{
		EntryID:             string(result.Entry.ID),
		Replayed:            result.Replayed,
		Balance:             result.Balance,
		Tier:                string(result.Tier),
		NewlyUnlockedBadges: badges,
	})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// CreateUser handles POST /users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	u := ledger.User{ID: ledger.UserID(req.ID), Name: req.Name, CreatedAt: time.Now().UTC()}
	if err := h.Store.SaveUser(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// ListUsers handles GET /users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalance handles GET /users/{id}/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	p, err := h.Engine.Balance(r.Context(), userID)
	if err != nil {
		writeEngineError(w, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:        string(p.UserID),
		Balance:       p.Balance,
		Tier:          string(p.Tier),
		ReferralCount: p.ReferralCount,
	})
}

// GetRank handles GET /users/{id}/rank.
func (h *Handler) GetRank(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	rank, asOf, ok := h.Leaderboard.Rank(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "User not ranked", nil)
		return
	}
	writeJSON(w, http.StatusOK, RankDTO{UserID: string(userID), Rank: rank, AsOf: asOf})
}

// GetEntries handles GET /users/{id}/entries.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	sinceSeq := int64(0)
	if s := r.URL.Query().Get("sinceSeq"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid sinceSeq", err)
			return
		}
		sinceSeq = v
	}

	entries, err := h.Engine.Entries(r.Context(), userID, sinceSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUserBadges handles GET /users/{id}/badges.
func (h *Handler) GetUserBadges(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	badges, err := h.Store.UserBadges(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list badges", err)
		return
	}

	dtos := make([]UserBadgeDTO, len(badges))
	for i, ub := range badges {
		dtos[i] = UserBadgeDTO{BadgeID: string(ub.BadgeID), EarnedAt: ub.EarnedAt}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEADERBOARD HANDLERS
// =============================================================================

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// GetLeaderboard handles GET /leaderboard.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	entries, asOf := h.Leaderboard.Page(offset, limit)
	rows := make([]LeaderboardRowDTO, len(entries))
	for i, e := range entries {
		rows[i] = LeaderboardRowDTO{Rank: e.Rank, UserID: string(e.UserID), Balance: e.Balance}
	}

	writeJSON(w, http.StatusOK, LeaderboardDTO{
		Offset:  offset,
		Limit:   limit,
		AsOf:    asOf,
		Entries: rows,
	})
}

// =============================================================================
// BADGE CATALOG HANDLERS
// =============================================================================

// ListBadgeCatalog handles GET /badges/catalog.
func (h *Handler) ListBadgeCatalog(w http.ResponseWriter, r *http.Request) {
	badges, err := h.Store.ListBadges(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, toBadgeDTOs(badges))
}

// CreateBadge handles POST /badges/catalog.
func (h *Handler) CreateBadge(w http.ResponseWriter, r *http.Request) {
	var bj ledger.BadgeJSON
	if err := json.NewDecoder(r.Body).Decode(&bj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	def, err := ledger.BadgeFromJSON(bj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid badge definition", err)
		return
	}

	if err := h.Store.SaveBadge(r.Context(), def); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save badge", err)
		return
	}
	writeJSON(w, http.StatusCreated, ledger.BadgeToJSON(def))
}

// UpdateBadge handles PUT /badges/catalog/{id}.
func (h *Handler) UpdateBadge(w http.ResponseWriter, r *http.Request) {
	id := ledger.BadgeID(chi.URLParam(r, "id"))

	existing, err := h.Store.GetBadge(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load badge", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Badge not found", nil)
		return
	}

	var bj ledger.BadgeJSON
	if err := json.NewDecoder(r.Body).Decode(&bj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	bj.ID = string(id) // path wins over body

	def, err := ledger.BadgeFromJSON(bj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid badge definition", err)
		return
	}
	def.CreatedAt = existing.CreatedAt

	if err := h.Store.SaveBadge(r.Context(), def); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save badge", err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.BadgeToJSON(def))
}

// DeleteBadge handles DELETE /badges/catalog/{id}.
func (h *Handler) DeleteBadge(w http.ResponseWriter, r *http.Request) {
	id := ledger.BadgeID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteBadge(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete badge", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REFERRAL HANDLERS
// =============================================================================

// CreateReferral handles POST /referrals.
func (h *Handler) CreateReferral(w http.ResponseWriter, r *http.Request) {
	var req CreateReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	edge, err := h.Engine.RecordReferral(r.Context(),
		ledger.UserID(req.ReferrerID), ledger.UserID(req.RefereeID))
	if err != nil {
		writeEngineError(w, "Failed to record referral", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReferralDTO(edge))
}

// CreditReferral handles POST /referrals/{id}/credit.
func (h *Handler) CreditReferral(w http.ResponseWriter, r *http.Request) {
	id := ledger.ReferralID(chi.URLParam(r, "id"))

	result, err := h.Engine.CreditReferral(r.Context(), id, ActorFrom(r.Context()).ID)
	if err != nil {
		writeEngineError(w, "Failed to credit referral", err)
		return
	}

	badges := toBadgeDTOs(result.NewBadges)
	if badges == nil {
		badges = []BadgeDTO{}
	}
	writeJSON(w, http.StatusOK, AppendEntryResponse{
		EntryID:             string(result.Entry.ID),
		Replayed:            result.Replayed,
		Balance:             result.Balance,
		Tier:                string(result.Tier),
		NewlyUnlockedBadges: badges,
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CloseAccount handles POST /admin/users/{id}/close.
func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	p, err := h.Engine.CloseAccount(r.Context(), userID, ActorFrom(r.Context()).ID)
	if err != nil {
		writeEngineError(w, "Failed to close account", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:        string(p.UserID),
		Balance:       p.Balance,
		Tier:          string(p.Tier),
		ReferralCount: p.ReferralCount,
	})
}

// RebuildProjection handles POST /admin/rebuild/{id}: full ledger replay
// for drift detection or recovery.
func (h *Handler) RebuildProjection(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	p, err := h.Engine.Rebuild(r.Context(), userID)
	if err != nil {
		writeEngineError(w, "Failed to rebuild projection", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:        string(p.UserID),
		Balance:       p.Balance,
		Tier:          string(p.Tier),
		ReferralCount: p.ReferralCount,
	})
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	s, err := ledger.ComputeStats(r.Context(), h.Store, h.Store, h.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", err)
		return
	}

	writeJSON(w, http.StatusOK, StatsDTO{
		Users:          s.Users,
		Entries:        s.Entries,
		ChipsCredited:  s.ChipsCredited,
		ChipsDebited:   s.ChipsDebited,
		TotalBalance:   s.TotalBalance,
		AverageBalance: s.AverageBalance.StringFixed(2),
		Referrals:      s.Referrals,
		Credited:       s.Credited,
		ConversionRate: s.ConversionRate.StringFixed(4),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func queryInt(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
