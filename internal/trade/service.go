// Package trade applies buy, sell and flatten requests to tournament entries
// and serves the portfolio and trade history views.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/account"
	"github.com/attnx/tournament-engine/internal/catalog"
	"github.com/attnx/tournament-engine/internal/ledger"
	"github.com/attnx/tournament-engine/internal/metrics"
	"github.com/attnx/tournament-engine/internal/model"
	"github.com/attnx/tournament-engine/internal/score"
	"github.com/attnx/tournament-engine/internal/store"
	"github.com/attnx/tournament-engine/internal/valuation"
)

// Catalog is what the executor needs to know about targets.
type Catalog interface {
	catalog.Tradability
	GetTarget(ctx context.Context, id string) (*model.Target, error)
}

// Request is a decoded trade request.
type Request struct {
	UserID       string
	TournamentID string
	TargetID     string
	Type         model.TradeType
	Side         model.PositionType // buy only; defaults to long
	Amount       decimal.Decimal    // ignored for flatten
}

// Result is the outcome of an applied trade.
type Result struct {
	Trade    model.Trade     `json:"trade"`
	Position *model.Position `json:"position"` // nil when the trade closed it
	Balance  decimal.Decimal `json:"balance"`
}

// rule is one row of the trade transition table.
type rule struct {
	needsAmount bool
	// opens reports whether the trade adds exposure and so needs an active
	// target. Reductions only need the target to exist.
	opens bool
	apply func(ctx context.Context, l *ledger.Ledger, tx store.EntryTx, key ledger.Key, req Request, score decimal.Decimal) (ledger.Change, error)
}

var transitions = map[model.TradeType]rule{
	model.Buy: {
		needsAmount: true,
		opens:       true,
		apply: func(ctx context.Context, l *ledger.Ledger, tx store.EntryTx, key ledger.Key, req Request, score decimal.Decimal) (ledger.Change, error) {
			return l.OpenOrIncrease(ctx, tx, key, req.Side, req.Amount, score)
		},
	},
	model.Sell: {
		needsAmount: true,
		apply: func(ctx context.Context, l *ledger.Ledger, tx store.EntryTx, key ledger.Key, req Request, score decimal.Decimal) (ledger.Change, error) {
			return l.ReduceOrClose(ctx, tx, key, req.Amount, score)
		},
	},
	model.Flatten: {
		apply: func(ctx context.Context, l *ledger.Ledger, tx store.EntryTx, key ledger.Key, _ Request, score decimal.Decimal) (ledger.Change, error) {
			return l.Flatten(ctx, tx, key, score)
		},
	},
}

// Service executes trades. Exclusivity per entry comes from the store's
// WithinEntry unit, so any number of instances can share one database.
type Service struct {
	store   store.Store
	catalog Catalog
	scores  *score.Fetcher
	ledger  *ledger.Ledger
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
	now     func() time.Time
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, cat Catalog, scores *score.Fetcher, hub *WSHub, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:   st,
		catalog: cat,
		scores:  scores,
		ledger:  ledger.New(now),
		wsHub:   hub,
		now:     now,
	}
}

// OpenPosition buys amount of stake on side. Buying against an open
// opposite position reduces that position instead.
func (s *Service) OpenPosition(ctx context.Context, userID, tournamentID, targetID string, side model.PositionType, amount decimal.Decimal) (*Result, error) {
	return s.Execute(ctx, Request{
		UserID: userID, TournamentID: tournamentID, TargetID: targetID,
		Type: model.Buy, Side: side, Amount: amount,
	})
}

// ReducePosition sells amount of stake from the open position on targetID.
func (s *Service) ReducePosition(ctx context.Context, userID, tournamentID, targetID string, amount decimal.Decimal) (*Result, error) {
	return s.Execute(ctx, Request{
		UserID: userID, TournamentID: tournamentID, TargetID: targetID,
		Type: model.Sell, Amount: amount,
	})
}

// FlattenPosition closes the whole position on targetID.
func (s *Service) FlattenPosition(ctx context.Context, userID, tournamentID, targetID string) (*Result, error) {
	return s.Execute(ctx, Request{
		UserID: userID, TournamentID: tournamentID, TargetID: targetID,
		Type: model.Flatten,
	})
}

// Execute applies one trade request. A rejected request changes nothing.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.execute(ctx, req)
	if err != nil {
		code := "internal"
		if e := model.AsError(err); e != nil {
			code = e.Code
		}
		metrics.TradeRejections.WithLabelValues(code).Inc()
		slog.Warn("trade rejected",
			"user", req.UserID,
			"tournament", req.TournamentID,
			"target", req.TargetID,
			"trade_type", string(req.Type),
			"err", err,
		)
		return nil, err
	}
	metrics.TradeLatency.WithLabelValues(string(req.Type)).Observe(time.Since(start).Seconds())
	return res, nil
}

func (s *Service) execute(ctx context.Context, req Request) (*Result, error) {
	r, ok := transitions[req.Type]
	if !ok {
		return nil, fmt.Errorf("%w: trade type %q", model.ErrInvalidRequest, req.Type)
	}
	if req.UserID == "" || req.TournamentID == "" || req.TargetID == "" {
		return nil, fmt.Errorf("%w: user, tournament and target are required", model.ErrInvalidRequest)
	}
	if r.needsAmount && !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidAmount, req.Amount)
	}
	if req.Type == model.Buy {
		if req.Side == "" {
			req.Side = model.Long
		}
		if !req.Side.Valid() {
			return nil, fmt.Errorf("%w: position type %q", model.ErrInvalidRequest, req.Side)
		}
	}

	if err := s.checkTarget(ctx, req.TargetID, r.opens); err != nil {
		return nil, err
	}

	// The score is fetched before the entry is locked so a slow provider
	// never holds the lock.
	current, err := s.scores.Current(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}

	key := ledger.Key{UserID: req.UserID, TournamentID: req.TournamentID, TargetID: req.TargetID}
	var res Result
	err = s.store.WithinEntry(ctx, req.UserID, req.TournamentID, func(tx store.EntryTx) error {
		t, err := tx.Tournament(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		if !t.TradingOpen(now) {
			return fmt.Errorf("%w: %s is %s", model.ErrTournamentNotActive, t.ID, t.Status)
		}

		change, err := r.apply(ctx, s.ledger, tx, key, req, current)
		if err != nil {
			return err
		}

		delta := change.Amount.Neg()
		if change.Reduced {
			delta = change.Proceeds()
		}
		balance, err := account.ApplyDelta(ctx, tx, delta)
		if err != nil {
			return err
		}

		tr := model.Trade{
			ID:               uuid.New().String(),
			UserID:           req.UserID,
			TournamentID:     req.TournamentID,
			TargetID:         req.TargetID,
			TradeType:        req.Type,
			PositionType:     change.Side,
			StakeAmount:      change.Amount,
			ScoreAtExecution: current,
			BalanceAfter:     balance,
			Timestamp:        now,
		}
		if change.Reduced {
			pnl := change.RealizedPnL
			tr.PnL = &pnl
		}
		if err := tx.InsertTrade(ctx, &tr); err != nil {
			return fmt.Errorf("record trade: %w", err)
		}

		res = Result{Trade: tr, Position: change.Position, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tr := res.Trade
	metrics.TradesTotal.WithLabelValues(string(tr.TradeType), string(tr.PositionType)).Inc()
	metrics.StakeVolume.WithLabelValues(string(tr.TradeType)).Add(tr.StakeAmount.InexactFloat64())

	pnl := ""
	if tr.PnL != nil {
		pnl = tr.PnL.String()
	}
	slog.Info("trade executed",
		"trade_id", tr.ID,
		"user", tr.UserID,
		"tournament", tr.TournamentID,
		"target", tr.TargetID,
		"trade_type", string(tr.TradeType),
		"side", string(tr.PositionType),
		"amount", tr.StakeAmount.String(),
		"score", tr.ScoreAtExecution.String(),
		"pnl", pnl,
		"balance", tr.BalanceAfter.String(),
	)

	// Broadcast the trade via WebSocket.
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         EventTradeApplied,
			TournamentID: tr.TournamentID,
			UserID:       tr.UserID,
			TargetID:     tr.TargetID,
			TradeType:    string(tr.TradeType),
			PositionType: string(tr.PositionType),
			Amount:       tr.StakeAmount.String(),
			Score:        tr.ScoreAtExecution.String(),
			PnL:          pnl,
			Balance:      tr.BalanceAfter.String(),
		})
	}
	return &res, nil
}

func (s *Service) checkTarget(ctx context.Context, targetID string, opens bool) error {
	if opens {
		ok, err := s.catalog.IsTradable(ctx, targetID)
		if err != nil {
			return fmt.Errorf("check target: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrTargetNotTradable, targetID)
		}
		return nil
	}
	if _, err := s.catalog.GetTarget(ctx, targetID); err != nil {
		if errors.Is(err, model.ErrTargetNotFound) {
			return fmt.Errorf("%w: %s", model.ErrTargetNotTradable, targetID)
		}
		return fmt.Errorf("check target: %w", err)
	}
	return nil
}

// GetPortfolio marks userID's entries to market at current scores. An empty
// tournamentID returns one portfolio per tournament the user has joined.
// Reads run against committed state without taking the entry lock.
func (s *Service) GetPortfolio(ctx context.Context, userID, tournamentID string) ([]model.Portfolio, error) {
	var entries []*model.TournamentEntry
	if tournamentID != "" {
		e, err := s.store.GetEntry(ctx, userID, tournamentID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	} else {
		tournaments, err := s.store.ListTournaments(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("list tournaments: %w", err)
		}
		for _, t := range tournaments {
			e, err := s.store.GetEntry(ctx, userID, t.ID)
			if errors.Is(err, model.ErrEntryNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
	}

	portfolios := make([]model.Portfolio, 0, len(entries))
	for _, e := range entries {
		pf, err := s.mark(ctx, e)
		if err != nil {
			return nil, err
		}
		portfolios = append(portfolios, *pf)
	}
	return portfolios, nil
}

func (s *Service) mark(ctx context.Context, e *model.TournamentEntry) (*model.Portfolio, error) {
	positions, err := s.store.ListPositions(ctx, e.UserID, e.TournamentID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.TargetID)
	}
	scores, err := s.scores.CurrentMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	return valuation.Mark(e, positions, scores)
}

// ListTrades returns userID's trades in a tournament, oldest first.
func (s *Service) ListTrades(ctx context.Context, userID, tournamentID string) ([]model.Trade, error) {
	if _, err := s.store.GetEntry(ctx, userID, tournamentID); err != nil {
		return nil, err
	}
	trades, err := s.store.ListTrades(ctx, userID, tournamentID)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	return trades, nil
}
