// internal/handler/broadcast_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/service"
)

// BroadcastOps is the part of service.BroadcastService the handlers use.
type BroadcastOps interface {
	GetDetailsWithStats(ctx context.Context, id int) (*service.BroadcastDetails, error)
	Pause(ctx context.Context, id int) (*model.Broadcast, error)
	Resume(ctx context.Context, id int) (*model.Broadcast, error)
	Cancel(ctx context.Context, id int) (*model.Broadcast, error)
	Preview(ctx context.Context, id, contactID int) (*service.Preview, error)
}

// BroadcastHandler holds the dependencies for broadcast HTTP handlers
type BroadcastHandler struct {
	Service BroadcastOps
	Log     zerolog.Logger
}

func NewBroadcastHandler(svc BroadcastOps, log zerolog.Logger) *BroadcastHandler {
	return &BroadcastHandler{Service: svc, Log: log}
}

// Routes mounts the broadcast endpoints on r.
func (h *BroadcastHandler) Routes(r chi.Router) {
	r.Get("/broadcasts/{id}", h.GetBroadcastWithStats)
	r.Post("/broadcasts/{id}/pause", h.Pause)
	r.Post("/broadcasts/{id}/resume", h.Resume)
	r.Post("/broadcasts/{id}/cancel", h.Cancel)
	r.Post("/broadcasts/{id}/preview", h.Preview)
}

func (h *BroadcastHandler) GetBroadcastWithStats(w http.ResponseWriter, r *http.Request) {
	id, ok := broadcastID(w, r)
	if !ok {
		return
	}
	details, err := h.Service.GetDetailsWithStats(r.Context(), id)
	if err != nil {
		h.fail(w, "failed to fetch broadcast", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *BroadcastHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.Service.Pause)
}

func (h *BroadcastHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.Service.Resume)
}

func (h *BroadcastHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.Service.Cancel)
}

func (h *BroadcastHandler) statusChange(w http.ResponseWriter, r *http.Request, op func(context.Context, int) (*model.Broadcast, error)) {
	id, ok := broadcastID(w, r)
	if !ok {
		return
	}
	b, err := op(r.Context(), id)
	if err != nil {
		h.fail(w, "failed to change broadcast status", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BroadcastHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := broadcastID(w, r)
	if !ok {
		return
	}
	var body struct {
		ContactID int `json:"contact_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ContactID <= 0 {
		http.Error(w, "invalid body: contact_id is required", http.StatusBadRequest)
		return
	}

	p, err := h.Service.Preview(r.Context(), id, body.ContactID)
	if err != nil {
		h.fail(w, "failed to render preview", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *BroadcastHandler) fail(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case appErrors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, appErrors.ErrInvalidTransition):
		status = http.StatusConflict
	default:
		h.Log.Error().Err(err).Msg("❌ " + msg)
	}
	http.Error(w, msg+": "+err.Error(), status)
}

func broadcastID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		http.Error(w, "invalid broadcast id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
