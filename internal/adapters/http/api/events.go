package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/kudos/internal/domain/model"
)

// EventDependencies defines the interface for event intake and inspection.
type EventDependencies interface {
	// Submit stores a producer event. duplicate reports a repeated id.
	Submit(ctx context.Context, sub model.Submission) (ev model.Event, duplicate bool, err error)
	Event(ctx context.Context, id string) (model.Event, error)
	Reprocess(ctx context.Context, id string) error
	PendingEvents(ctx context.Context, limit int) ([]model.Event, error)
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// eventRequest is the body of POST /events.
type eventRequest struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp string         `json:"timestamp"`
}

func (e eventRequest) submission() (model.Submission, error) {
	switch {
	case strings.TrimSpace(e.UserID) == "":
		return model.Submission{}, errors.New("missing userId")
	case strings.TrimSpace(e.Name) == "":
		return model.Submission{}, errors.New("missing name")
	}
	sub := model.Submission{
		ID:       strings.TrimSpace(e.ID),
		UserID:   e.UserID,
		Name:     e.Name,
		Metadata: e.Metadata,
	}
	if e.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			return model.Submission{}, errors.New("invalid timestamp; must be RFC3339")
		}
		sub.Timestamp = ts.UTC()
	}
	return sub, nil
}

type ackResponse struct {
	Status  string `json:"status"`
	EventID string `json:"eventId,omitempty"`
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var req eventRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	sub, err := req.submission()
	if err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}

	ev, duplicate, err := h.deps.Submit(r.Context(), sub)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	if duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", EventID: sub.ID})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: ev.ID})
}

// HandleGetEvent handles GET /events/{id} requests.
func (h *EventsHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.deps.Event(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, Wrap("api.get_event", err))
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// HandleReprocess handles POST /events/{id}/reprocess requests.
func (h *EventsHandler) HandleReprocess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.Reprocess(r.Context(), id); err != nil {
		writeError(w, r, Wrap("api.reprocess_event", err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: id})
}

// HandleListEvents handles GET /events?pending=true&limit=N requests. Only
// pending listings are supported.
func (h *EventsHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_events"
	pending, err := strconv.ParseBool(r.URL.Query().Get("pending"))
	if err != nil || !pending {
		writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("pending=true is required")))
		return
	}
	limit, err := queryLimit(r, 0)
	if err != nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	events, err := h.deps.PendingEvents(r.Context(), limit)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}
