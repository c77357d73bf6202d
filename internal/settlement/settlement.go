// Package settlement closes a tournament: it values every entry, ranks the
// entries, splits the prize pool and pays the winners through the wallet.
// A tournament is settled at most once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/metrics"
	"github.com/attnx/tournament-engine/internal/model"
	"github.com/attnx/tournament-engine/internal/score"
	"github.com/attnx/tournament-engine/internal/store"
	"github.com/attnx/tournament-engine/internal/trade"
	"github.com/attnx/tournament-engine/internal/valuation"
	"github.com/attnx/tournament-engine/internal/wallet"
)

// Snapshot is one entry and its open positions as of the settlement cut.
type Snapshot struct {
	Entry     model.TournamentEntry
	Positions []model.Position
}

// Report is the archived record of a settlement.
type Report struct {
	Tournament model.Tournament         `json:"tournament"`
	PrizePool  decimal.Decimal          `json:"prize_pool"`
	Scores     map[string]string        `json:"scores"` // target -> score used
	Results    []model.SettlementResult `json:"results"`
	SettledAt  time.Time                `json:"settled_at"`
}

// Archiver stores settlement reports.
type Archiver interface {
	Archive(ctx context.Context, r *Report) error
}

// Engine settles tournaments.
type Engine struct {
	store    store.Store
	scores   *score.Fetcher
	wallet   wallet.Wallet
	archiver Archiver     // optional
	wsHub    *trade.WSHub // optional
	now      func() time.Time
}

// NewEngine creates an Engine. archiver and hub may be nil.
func NewEngine(st store.Store, scores *score.Fetcher, w wallet.Wallet, archiver Archiver, hub *trade.WSHub, now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{store: st, scores: scores, wallet: w, archiver: archiver, wsHub: hub, now: now}
}

// Settle ranks and pays out an active tournament and marks it finished.
// If valuation cannot complete the tournament goes back to active and
// nothing is kept.
func (e *Engine) Settle(ctx context.Context, tournamentID string) ([]model.SettlementResult, error) {
	start := time.Now()
	if err := e.begin(ctx, tournamentID); err != nil {
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	t, results, pool, scores, err := e.compute(ctx, tournamentID)
	if err != nil {
		e.revert(ctx, tournamentID, err)
		return nil, err
	}

	settledAt := e.now()
	if err := e.store.FinalizeSettlement(ctx, tournamentID, results, settledAt); err != nil {
		e.revert(ctx, tournamentID, err)
		return nil, fmt.Errorf("finalize settlement: %w", err)
	}

	// The tournament is finished; payouts and reporting must run to the end
	// even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	e.payout(ctx, tournamentID, results)

	metrics.SettlementsTotal.WithLabelValues("ok").Inc()
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	slog.Info("tournament settled",
		"id", tournamentID,
		"entries", len(results),
		"prize_pool", pool.String(),
		"duration", time.Since(start),
	)

	if e.archiver != nil {
		t.Status = model.StatusFinished
		t.SettledAt = &settledAt
		report := &Report{Tournament: *t, PrizePool: pool, Scores: scores, Results: results, SettledAt: settledAt}
		if err := e.archiver.Archive(ctx, report); err != nil {
			slog.Error("settlement archive failed", "id", tournamentID, "err", err)
		}
	}
	if e.wsHub != nil {
		e.wsHub.Broadcast(trade.WSMessage{Type: trade.EventTournamentSettled, TournamentID: tournamentID})
	}
	return results, nil
}

// begin moves the tournament to settling. From here on trades are refused.
func (e *Engine) begin(ctx context.Context, id string) error {
	current, err := e.store.CompareAndSetStatus(ctx, id, model.StatusActive, model.StatusSettling)
	if err == nil {
		metrics.ActiveTournaments.Dec()
		return nil
	}
	if !errors.Is(err, model.ErrStatusConflict) {
		return err
	}
	switch current {
	case model.StatusFinished:
		return fmt.Errorf("%w: %s", model.ErrAlreadySettled, id)
	case model.StatusSettling:
		return fmt.Errorf("%w: %s", model.ErrSettlementInProgress, id)
	default:
		return fmt.Errorf("%w: %s is %s", model.ErrTournamentNotActive, id, current)
	}
}

func (e *Engine) revert(ctx context.Context, id string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.store.CompareAndSetStatus(ctx, id, model.StatusSettling, model.StatusActive); err != nil {
		slog.Error("settlement revert failed", "id", id, "cause", cause, "err", err)
	} else {
		metrics.ActiveTournaments.Inc()
	}
	metrics.SettlementsTotal.WithLabelValues("reverted").Inc()
	slog.Warn("settlement reverted", "id", id, "err", cause)
}

func (e *Engine) compute(ctx context.Context, id string) (*model.Tournament, []model.SettlementResult, decimal.Decimal, map[string]string, error) {
	t, err := e.store.GetTournament(ctx, id)
	if err != nil {
		return nil, nil, decimal.Zero, nil, err
	}
	snaps, err := e.snapshot(ctx, id)
	if err != nil {
		return nil, nil, decimal.Zero, nil, err
	}

	var ids []string
	for _, s := range snaps {
		for _, p := range s.Positions {
			ids = append(ids, p.TargetID)
		}
	}
	scores, err := e.scores.CurrentMany(ctx, ids)
	if err != nil {
		return nil, nil, decimal.Zero, nil, err
	}

	results, err := Rank(snaps, scores)
	if err != nil {
		return nil, nil, decimal.Zero, nil, err
	}
	entries := make([]model.TournamentEntry, len(snaps))
	for i, s := range snaps {
		entries[i] = s.Entry
	}
	pool := PrizePool(entries, t.PlatformFeeRate)
	SplitPrizes(results, pool, t.PayoutTable)

	used := make(map[string]string, len(scores))
	for target, v := range scores {
		used[target] = v.String()
	}
	return t, results, pool, used, nil
}

// snapshot reads every entry under its entry lock, so a trade that was in
// flight when the status flipped has either fully landed or not at all.
func (e *Engine) snapshot(ctx context.Context, id string) ([]Snapshot, error) {
	entries, err := e.store.ListEntries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	snaps := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		var snap Snapshot
		err := e.store.WithinEntry(ctx, entry.UserID, id, func(tx store.EntryTx) error {
			snap.Entry = *tx.Entry()
			positions, err := tx.ListPositions(ctx)
			if err != nil {
				return err
			}
			snap.Positions = positions
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", entry.UserID, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (e *Engine) payout(ctx context.Context, tournamentID string, results []model.SettlementResult) {
	for i := range results {
		r := &results[i]
		if !r.Payout.IsPositive() {
			continue
		}
		err := e.wallet.Credit(ctx, r.UserID, r.Payout, wallet.PayoutRef(tournamentID, r.UserID))
		if err == nil {
			r.PayoutStatus = model.PayoutPaid
			metrics.PayoutsTotal.WithLabelValues(string(model.PayoutPaid)).Inc()
			slog.Info("payout credited", "tournament", tournamentID, "user", r.UserID, "amount", r.Payout.String())
		} else {
			r.PayoutStatus = model.PayoutFailed
			metrics.PayoutsTotal.WithLabelValues(string(model.PayoutFailed)).Inc()
			slog.Error("payout failed", "tournament", tournamentID, "user", r.UserID, "amount", r.Payout.String(), "err", err)

			fault := &model.PayoutFault{
				ID:           uuid.New().String(),
				TournamentID: tournamentID,
				UserID:       r.UserID,
				Amount:       r.Payout,
				Reason:       err.Error(),
				CreatedAt:    e.now(),
			}
			if ferr := e.store.InsertPayoutFault(ctx, fault); ferr != nil {
				slog.Error("record payout fault failed", "tournament", tournamentID, "user", r.UserID, "err", ferr)
			}
		}
		if err := e.store.SetPayoutStatus(ctx, r.UserID, tournamentID, r.PayoutStatus); err != nil {
			slog.Error("update payout status failed", "tournament", tournamentID, "user", r.UserID, "err", err)
		}
	}
}

// Rank values every snapshot at scores and orders them by final value,
// highest first. Ties go to the earlier joiner, then the lower user id.
// Ranks start at 1. Payouts are left at zero.
func Rank(snaps []Snapshot, scores map[string]decimal.Decimal) ([]model.SettlementResult, error) {
	type valued struct {
		entry model.TournamentEntry
		value decimal.Decimal
	}
	rows := make([]valued, 0, len(snaps))
	for _, s := range snaps {
		v, err := valuation.PortfolioValue(s.Entry.CurrentBalance, s.Positions, scores)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", s.Entry.UserID, err)
		}
		rows = append(rows, valued{entry: s.Entry, value: v})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if c := a.value.Cmp(b.value); c != 0 {
			return c > 0
		}
		if !a.entry.JoinedAt.Equal(b.entry.JoinedAt) {
			return a.entry.JoinedAt.Before(b.entry.JoinedAt)
		}
		return a.entry.UserID < b.entry.UserID
	})

	results := make([]model.SettlementResult, len(rows))
	for i, row := range rows {
		results[i] = model.SettlementResult{
			UserID:       row.entry.UserID,
			Rank:         i + 1,
			FinalValue:   row.value,
			FinalPnL:     row.value.Sub(row.entry.StartingBalance),
			Payout:       decimal.Zero,
			PayoutStatus: model.PayoutNone,
		}
	}
	return results, nil
}

// PrizePool is the sum of entry fees less the platform's share.
func PrizePool(entries []model.TournamentEntry, platformFeeRate decimal.Decimal) decimal.Decimal {
	gross := decimal.Zero
	for _, e := range entries {
		gross = gross.Add(e.EntryFee)
	}
	return gross.Mul(decimal.NewFromInt(1).Sub(platformFeeRate))
}

// SplitPrizes assigns pool × table[rank-1], rounded down to the cent, to
// each ranked result. Ranks beyond the table get nothing. Results with a
// payout are marked pending.
func SplitPrizes(results []model.SettlementResult, pool decimal.Decimal, table []decimal.Decimal) {
	for i := range results {
		r := &results[i]
		idx := r.Rank - 1
		if idx < 0 || idx >= len(table) {
			r.Payout = decimal.Zero
			r.PayoutStatus = model.PayoutNone
			continue
		}
		r.Payout = pool.Mul(table[idx]).RoundFloor(2)
		if r.Payout.IsPositive() {
			r.PayoutStatus = model.PayoutPending
		} else {
			r.PayoutStatus = model.PayoutNone
		}
	}
}

// Results returns the ranked results of a finished tournament.
func (e *Engine) Results(ctx context.Context, tournamentID string) ([]model.SettlementResult, error) {
	t, err := e.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.StatusFinished {
		return nil, fmt.Errorf("%w: %s is %s, not finished", model.ErrStatusConflict, tournamentID, t.Status)
	}
	entries, err := e.store.ListEntries(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	results := make([]model.SettlementResult, 0, len(entries))
	for _, en := range entries {
		if en.Rank == nil {
			continue
		}
		r := model.SettlementResult{UserID: en.UserID, Rank: *en.Rank, PayoutStatus: en.PayoutStatus}
		if en.FinalValue != nil {
			r.FinalValue = *en.FinalValue
		}
		if en.FinalPnL != nil {
			r.FinalPnL = *en.FinalPnL
		}
		if en.PayoutAmount != nil {
			r.Payout = *en.PayoutAmount
		}
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Rank < results[j].Rank })
	return results, nil
}

// PayoutFaults lists recorded payout failures, optionally for one tournament.
func (e *Engine) PayoutFaults(ctx context.Context, tournamentID string) ([]model.PayoutFault, error) {
	faults, err := e.store.ListPayoutFaults(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if faults == nil {
		faults = []model.PayoutFault{}
	}
	return faults, nil
}
