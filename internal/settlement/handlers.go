package settlement

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/attnx/tournament-engine/internal/httpx"
)

// Routes mounts the settlement handlers.
func (e *Engine) Routes(r chi.Router) {
	r.Post("/tournaments/{tournamentID}/settle", e.HandleSettle)
	r.Get("/tournaments/{tournamentID}/results", e.HandleResults)
	r.Get("/payout-faults", e.HandlePayoutFaults)
}

// HandleSettle handles POST /api/v1/tournaments/{tournamentID}/settle
func (e *Engine) HandleSettle(w http.ResponseWriter, r *http.Request) {
	results, err := e.Settle(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, results)
}

// HandleResults handles GET /api/v1/tournaments/{tournamentID}/results
func (e *Engine) HandleResults(w http.ResponseWriter, r *http.Request) {
	results, err := e.Results(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, results)
}

// HandlePayoutFaults handles GET /api/v1/payout-faults?tournament_id=
func (e *Engine) HandlePayoutFaults(w http.ResponseWriter, r *http.Request) {
	faults, err := e.PayoutFaults(r.Context(), r.URL.Query().Get("tournament_id"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, faults)
}
