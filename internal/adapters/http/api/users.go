package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/domain/model"
)

// UserDependencies defines the interface for user profile and reward reads.
type UserDependencies interface {
	User(ctx context.Context, id string) (model.User, error)
	UpsertUser(ctx context.Context, p repository.Profile) (model.User, error)
	Ledger(ctx context.Context, userID string) ([]model.LedgerEntry, error)
	Achievements(ctx context.Context, userID string) ([]model.AchievementRecord, error)
	Grant(ctx context.Context, userID string, amount int64, reason, actor string) (model.User, error)
}

// UsersHandler handles user requests.
type UsersHandler struct {
	deps UserDependencies
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(deps UserDependencies) *UsersHandler {
	return &UsersHandler{deps: deps}
}

// profileRequest replaces the display name. A missing teamId keeps the
// current team; an empty one leaves it.
type profileRequest struct {
	DisplayName string  `json:"displayName"`
	TeamID      *string `json:"teamId"`
}

func (p profileRequest) profile(id string) repository.Profile {
	out := repository.Profile{ID: id, DisplayName: p.DisplayName, KeepTeam: p.TeamID == nil}
	if p.TeamID != nil {
		out.TeamID = strings.TrimSpace(*p.TeamID)
	}
	return out
}

type grantRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// HandlePutUser handles PUT /users/{id} requests.
func (h *UsersHandler) HandlePutUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_user"
	var req profileRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	u, err := h.deps.UpsertUser(r.Context(), req.profile(r.PathValue("id")))
	if errors.Is(err, repository.ErrTeamNotFound) {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleGetUser handles GET /users/{id} requests.
func (h *UsersHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.User(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, Wrap("api.get_user", err))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleGetLedger handles GET /users/{id}/ledger requests.
func (h *UsersHandler) HandleGetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Ledger(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, Wrap("api.get_ledger", err))
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleGetAchievements handles GET /users/{id}/achievements requests.
func (h *UsersHandler) HandleGetAchievements(w http.ResponseWriter, r *http.Request) {
	recs, err := h.deps.Achievements(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, Wrap("api.get_achievements", err))
		return
	}
	if recs == nil {
		recs = []model.AchievementRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandlePostGrant handles POST /users/{id}/grants requests.
func (h *UsersHandler) HandlePostGrant(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_grant"
	var req grantRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.Actor) == "" {
		writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("missing actor")))
		return
	}
	u, err := h.deps.Grant(r.Context(), r.PathValue("id"), req.Amount, req.Reason, req.Actor)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, u)
}
