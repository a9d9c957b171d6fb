// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/okian/kudos/internal/adapters/leaderboard"
	"github.com/okian/kudos/internal/adapters/mq/queue"
	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/domain/engine"
	"github.com/okian/kudos/pkg/logger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EventDependencies
	UserDependencies
	TeamDependencies
	LeaderboardDependencies
	CatalogDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	usersHandler       *UsersHandler
	teamsHandler       *TeamsHandler
	leaderboardHandler *LeaderboardHandler
	catalogHandler     *CatalogHandler
}

// NewServer creates a new API server with all handlers. maxLimit caps
// GET /leaderboard?limit.
func NewServer(deps Dependencies, stats StatsFunc, maxLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(stats),
		eventsHandler:      NewEventsHandler(deps),
		usersHandler:       NewUsersHandler(deps),
		teamsHandler:       NewTeamsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		catalogHandler:     NewCatalogHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, MetricsMiddleware(h, endpoint))
	}

	route("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	route("GET /stats", "stats", s.statsHandler.HandleStats)

	route("POST /events", "events", s.eventsHandler.HandlePostEvent)
	route("GET /events", "events", s.eventsHandler.HandleListEvents)
	route("GET /events/{id}", "event", s.eventsHandler.HandleGetEvent)
	route("POST /events/{id}/reprocess", "event_reprocess", s.eventsHandler.HandleReprocess)

	route("PUT /users/{id}", "user", s.usersHandler.HandlePutUser)
	route("GET /users/{id}", "user", s.usersHandler.HandleGetUser)
	route("GET /users/{id}/ledger", "user_ledger", s.usersHandler.HandleGetLedger)
	route("GET /users/{id}/achievements", "user_achievements", s.usersHandler.HandleGetAchievements)
	route("POST /users/{id}/grants", "user_grants", s.usersHandler.HandlePostGrant)

	route("PUT /teams/{id}", "team", s.teamsHandler.HandlePutTeam)
	route("GET /teams/{id}", "team", s.teamsHandler.HandleGetTeam)

	route("GET /leaderboard", "leaderboard", s.leaderboardHandler.HandleGetLeaderboard)
	route("GET /rank/{id}", "rank", s.leaderboardHandler.HandleGetRank)

	route("GET /rules", "rules", s.catalogHandler.HandleGetRules)
	route("GET /levels", "levels", s.catalogHandler.HandleGetLevels)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(v)
}

// readJSON decodes a bounded request body into v.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return sonic.ConfigStd.Unmarshal(body, v)
}

// writeError picks the status code from err's kind. Unclassified errors
// are logged and reported as 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	noteErrorCode(w, code)
	if status == http.StatusInternalServerError {
		logger.Named("api").Error(r.Context(), "request failed",
			logger.String("request_id", RequestID(r.Context())),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err))
	}
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, engine.ErrInvalidGrant),
		errors.Is(err, repository.ErrInvalidID),
		errors.Is(err, leaderboard.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, repository.ErrEventNotFound),
		errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrTeamNotFound),
		errors.Is(err, engine.ErrUserNotFound),
		errors.Is(err, leaderboard.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict),
		errors.Is(err, repository.ErrEventProcessed),
		errors.Is(err, repository.ErrEventExists),
		errors.Is(err, repository.ErrTxConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrBackpressure),
		errors.Is(err, queue.ErrFull):
		return http.StatusTooManyRequests, "backpressure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// queryLimit parses ?limit; a missing value yields def.
func queryLimit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}
