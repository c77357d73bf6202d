package tournament

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/attnx/tournament-engine/internal/httpx"
)

// Routes mounts the tournament handlers.
func (m *Manager) Routes(r chi.Router) {
	r.Post("/tournaments", m.HandleCreate)
	r.Get("/tournaments", m.HandleList)
	r.Get("/tournaments/{tournamentID}", m.HandleGet)
	r.Post("/tournaments/{tournamentID}/activate", m.HandleActivate)
}

// HandleCreate handles POST /api/v1/tournaments
func (m *Manager) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t, err := m.Create(r.Context(), req)
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, t)
}

// HandleList handles GET /api/v1/tournaments?status=
func (m *Manager) HandleList(w http.ResponseWriter, r *http.Request) {
	ts, err := m.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ts)
}

// HandleGet handles GET /api/v1/tournaments/{tournamentID}
func (m *Manager) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := m.Get(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

// HandleActivate handles POST /api/v1/tournaments/{tournamentID}/activate
func (m *Manager) HandleActivate(w http.ResponseWriter, r *http.Request) {
	t, err := m.Activate(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}
