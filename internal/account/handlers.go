package account

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/attnx/tournament-engine/internal/httpx"
)

// Routes mounts the entry handlers.
func (m *Manager) Routes(r chi.Router) {
	r.Post("/tournaments/{tournamentID}/join", m.HandleJoin)
	r.Get("/tournaments/{tournamentID}/entries", m.HandleListEntries)
	r.Get("/tournaments/{tournamentID}/entries/{userID}", m.HandleGetEntry)
}

// HandleJoin handles POST /api/v1/tournaments/{tournamentID}/join
func (m *Manager) HandleJoin(w http.ResponseWriter, r *http.Request) {
	userID := httpx.UserID(r)
	if userID == "" {
		httpx.WriteError(w, httpx.UserHeader+" header is required", http.StatusUnauthorized)
		return
	}
	entry, err := m.Join(r.Context(), userID, chi.URLParam(r, "tournamentID"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, entry)
}

// HandleGetEntry handles GET /api/v1/tournaments/{tournamentID}/entries/{userID}
func (m *Manager) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := m.GetEntry(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "tournamentID"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entry)
}

// HandleListEntries handles GET /api/v1/tournaments/{tournamentID}/entries
func (m *Manager) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := m.ListEntries(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}
