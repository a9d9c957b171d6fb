package api

import (
	"context"
	"net/http"

	"github.com/okian/kudos/internal/domain/model"
)

// TeamDependencies defines the interface for team operations.
type TeamDependencies interface {
	Team(ctx context.Context, id string) (model.Team, error)
	UpsertTeam(ctx context.Context, id, name string) (model.Team, error)
}

// TeamsHandler handles team requests.
type TeamsHandler struct {
	deps TeamDependencies
}

// NewTeamsHandler creates a new teams handler.
func NewTeamsHandler(deps TeamDependencies) *TeamsHandler {
	return &TeamsHandler{deps: deps}
}

type teamRequest struct {
	Name string `json:"name"`
}

// HandlePutTeam handles PUT /teams/{id} requests. Aggregates are owned by
// team sync and cannot be set here.
func (h *TeamsHandler) HandlePutTeam(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_team"
	var req teamRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	t, err := h.deps.UpsertTeam(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleGetTeam handles GET /teams/{id} requests.
func (h *TeamsHandler) HandleGetTeam(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Team(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, Wrap("api.get_team", err))
		return
	}
	writeJSON(w, http.StatusOK, t)
}
