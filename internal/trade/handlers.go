package trade

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/httpx"
	"github.com/attnx/tournament-engine/internal/model"
)

// OpenRequest is the JSON body for POST .../positions.
type OpenRequest struct {
	TargetID     string             `json:"target_id"`
	PositionType model.PositionType `json:"position_type"` // "long" or "short"; empty means long
	Amount       decimal.Decimal    `json:"amount"`
}

// ReduceRequest is the JSON body for POST .../positions/{targetID}/reduce.
type ReduceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Routes mounts the trading, portfolio and WebSocket handlers.
func (s *Service) Routes(r chi.Router) {
	r.Post("/tournaments/{tournamentID}/positions", s.HandleOpen)
	r.Post("/tournaments/{tournamentID}/positions/{targetID}/reduce", s.HandleReduce)
	r.Post("/tournaments/{tournamentID}/positions/{targetID}/flatten", s.HandleFlatten)
	r.Get("/tournaments/{tournamentID}/trades", s.HandleListTrades)
	r.Get("/portfolio/{userID}", s.HandlePortfolio)
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// HandleOpen handles POST /api/v1/tournaments/{tournamentID}/positions
func (s *Service) HandleOpen(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req OpenRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.OpenPosition(r.Context(), userID, chi.URLParam(r, "tournamentID"), req.TargetID, req.PositionType, req.Amount)
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleReduce handles POST /api/v1/tournaments/{tournamentID}/positions/{targetID}/reduce
func (s *Service) HandleReduce(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req ReduceRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.ReducePosition(r.Context(), userID, chi.URLParam(r, "tournamentID"), chi.URLParam(r, "targetID"), req.Amount)
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleFlatten handles POST /api/v1/tournaments/{tournamentID}/positions/{targetID}/flatten
func (s *Service) HandleFlatten(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	res, err := s.FlattenPosition(r.Context(), userID, chi.URLParam(r, "tournamentID"), chi.URLParam(r, "targetID"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandlePortfolio handles GET /api/v1/portfolio/{userID}?tournament_id=
// Without tournament_id every joined tournament is returned.
func (s *Service) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	tournamentID := r.URL.Query().Get("tournament_id")

	portfolios, err := s.GetPortfolio(r.Context(), userID, tournamentID)
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	if tournamentID != "" {
		httpx.WriteJSON(w, http.StatusOK, portfolios[0])
		return
	}
	httpx.WriteJSON(w, http.StatusOK, portfolios)
}

// HandleListTrades handles GET /api/v1/tournaments/{tournamentID}/trades?user_id=
// user_id defaults to the caller.
func (s *Service) HandleListTrades(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = httpx.UserID(r)
	}
	if userID == "" {
		httpx.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	trades, err := s.ListTrades(r.Context(), userID, chi.URLParam(r, "tournamentID"))
	if err != nil {
		httpx.WriteErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, trades)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := httpx.UserID(r)
	if userID == "" {
		httpx.WriteError(w, httpx.UserHeader+" header is required", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}
