package catalog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/attnx/tournament-engine/internal/httpx"
	"github.com/attnx/tournament-engine/internal/model"
	"github.com/attnx/tournament-engine/internal/score"
)

// Handler serves the target catalog and read-only score endpoints.
type Handler struct {
	catalog *Catalog
	scores  *score.Fetcher
	history score.History // nil disables /history
}

// NewHandler creates catalog HTTP handlers.
func NewHandler(c *Catalog, scores *score.Fetcher, history score.History) *Handler {
	return &Handler{catalog: c, scores: scores, history: history}
}

// Routes mounts the handlers under /targets.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/targets", h.CreateTarget)
	r.Get("/targets", h.ListTargets)
	r.Get("/targets/{targetID}", h.GetTarget)
	r.Put("/targets/{targetID}/active", h.SetActive)
	r.Get("/targets/{targetID}/score", h.GetScore)
	r.Get("/targets/{targetID}/history", h.GetHistory)
}

// CreateTargetRequest is the JSON body for target registration.
type CreateTargetRequest struct {
	ID     string `json:"id"` // optional; derived from name
	Name   string `json:"name"`
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

// CreateTarget handles POST /api/v1/targets
func (h *Handler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var req CreateTargetRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t, err := h.catalog.CreateTarget(r.Context(), req.ID, req.Name, req.Type, req.Active)
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, t)
}

// ListTargets handles GET /api/v1/targets?type=
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.catalog.ListTargets(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, targets)
}

// GetTarget handles GET /api/v1/targets/{targetID}
func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	t, err := h.catalog.GetTarget(r.Context(), chi.URLParam(r, "targetID"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

// SetActive handles PUT /api/v1/targets/{targetID}/active with {"active": bool}.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := httpx.Decode(r, &req); err != nil || req.Active == nil {
		httpx.WriteError(w, "body must be {\"active\": true|false}", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "targetID")
	if err := h.catalog.SetActive(r.Context(), id, *req.Active); err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "active": *req.Active})
}

// GetScore handles GET /api/v1/targets/{targetID}/score
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "targetID")
	if _, err := h.catalog.GetTarget(r.Context(), id); err != nil {
		httpx.WriteErr(w, err)
		return
	}
	v, err := h.scores.Current(r.Context(), id)
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"target": id, "score": v})
}

// GetHistory handles GET /api/v1/targets/{targetID}/history?from=&to=
// Times are RFC 3339; the default window is the last 24 hours.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		httpx.WriteError(w, "score history is not configured", http.StatusNotImplemented)
		return
	}
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.WriteError(w, "from must be RFC 3339", http.StatusBadRequest)
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.WriteError(w, "to must be RFC 3339", http.StatusBadRequest)
			return
		}
		to = t
	}
	if !from.Before(to) {
		httpx.WriteErr(w, model.ErrInvalidRequest)
		return
	}

	points, err := h.history.Series(r.Context(), chi.URLParam(r, "targetID"), from, to)
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, points)
}
