// Package ledger maintains positions: opening, increasing, reducing and
// closing directional stakes on a target. It never touches balances; the
// trade executor turns a Change into a balance delta.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/model"
	"github.com/attnx/tournament-engine/internal/valuation"
)

// PositionRepo reads and writes positions inside one entry's atomic unit.
// GetPosition returns (nil, nil) when no position is open.
type PositionRepo interface {
	GetPosition(ctx context.Context, targetID string) (*model.Position, error)
	PutPosition(ctx context.Context, p *model.Position) error
	DeletePosition(ctx context.Context, targetID string) error
}

// Key identifies a position.
type Key struct {
	UserID       string
	TournamentID string
	TargetID     string
}

// Change describes the effect of a ledger operation.
type Change struct {
	Position    *model.Position // after the change; nil when closed
	Side        model.PositionType
	Amount      decimal.Decimal // stake moved
	RealizedPnL decimal.Decimal // zero for opens and increases
	Remaining   decimal.Decimal
	Reduced     bool
	Closed      bool
}

// Proceeds is the amount a reduction returns to the balance.
func (c Change) Proceeds() decimal.Decimal {
	return c.Amount.Add(c.RealizedPnL)
}

// Ledger applies position changes. now stamps OpenedAt/UpdatedAt.
type Ledger struct {
	now func() time.Time
}

// New creates a Ledger. A nil clock uses time.Now in UTC.
func New(now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{now: now}
}

// OpenOrIncrease adds amount on side at score. An existing position on the
// same side gets a stake-weighted average entry score. An existing position
// on the opposite side is reduced instead (Change.Reduced is set).
func (l *Ledger) OpenOrIncrease(ctx context.Context, repo PositionRepo, key Key, side model.PositionType, amount, score decimal.Decimal) (Change, error) {
	if !amount.IsPositive() {
		return Change{}, model.ErrInvalidAmount
	}
	if !side.Valid() {
		return Change{}, fmt.Errorf("%w: position type %q", model.ErrInvalidRequest, side)
	}
	if score.IsZero() {
		return Change{}, model.ErrInvalidEntryScore
	}

	pos, err := repo.GetPosition(ctx, key.TargetID)
	if err != nil {
		return Change{}, fmt.Errorf("load position: %w", err)
	}
	now := l.now()

	if pos == nil {
		pos = &model.Position{
			UserID:            key.UserID,
			TournamentID:      key.TournamentID,
			TargetID:          key.TargetID,
			Type:              side,
			Stake:             amount,
			AverageEntryScore: score,
			RealizedPnL:       decimal.Zero,
			OpenedAt:          now,
			UpdatedAt:         now,
		}
		if err := repo.PutPosition(ctx, pos); err != nil {
			return Change{}, fmt.Errorf("save position: %w", err)
		}
		return Change{Position: pos, Side: side, Amount: amount, Remaining: amount}, nil
	}

	if pos.Type != side {
		return l.ReduceOrClose(ctx, repo, key, amount, score)
	}

	total := pos.Stake.Add(amount)
	pos.AverageEntryScore = pos.Stake.Mul(pos.AverageEntryScore).
		Add(amount.Mul(score)).
		DivRound(total, valuation.Scale)
	pos.Stake = total
	pos.UpdatedAt = now
	if err := repo.PutPosition(ctx, pos); err != nil {
		return Change{}, fmt.Errorf("save position: %w", err)
	}
	return Change{Position: pos, Side: side, Amount: amount, Remaining: total}, nil
}

// ReduceOrClose removes amount of stake at score, realizing P&L on the
// removed portion. Reducing to zero deletes the position.
func (l *Ledger) ReduceOrClose(ctx context.Context, repo PositionRepo, key Key, amount, score decimal.Decimal) (Change, error) {
	if !amount.IsPositive() {
		return Change{}, model.ErrInvalidAmount
	}
	pos, err := repo.GetPosition(ctx, key.TargetID)
	if err != nil {
		return Change{}, fmt.Errorf("load position: %w", err)
	}
	if pos == nil {
		return Change{}, fmt.Errorf("%w: no open position on %s", model.ErrInsufficientPosition, key.TargetID)
	}
	if amount.GreaterThan(pos.Stake) {
		return Change{}, fmt.Errorf("%w: stake %s, requested %s", model.ErrInsufficientPosition, pos.Stake, amount)
	}

	pnl, err := valuation.RealizedPnL(pos.Type, pos.AverageEntryScore, score, amount)
	if err != nil {
		return Change{}, err
	}

	change := Change{
		Side:        pos.Type,
		Amount:      amount,
		RealizedPnL: pnl,
		Remaining:   pos.Stake.Sub(amount),
		Reduced:     true,
	}

	if change.Remaining.IsZero() {
		if err := repo.DeletePosition(ctx, key.TargetID); err != nil {
			return Change{}, fmt.Errorf("delete position: %w", err)
		}
		change.Closed = true
		return change, nil
	}

	pos.Stake = change.Remaining
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.UpdatedAt = l.now()
	if err := repo.PutPosition(ctx, pos); err != nil {
		return Change{}, fmt.Errorf("save position: %w", err)
	}
	change.Position = pos
	return change, nil
}

// Flatten closes the whole position at score.
func (l *Ledger) Flatten(ctx context.Context, repo PositionRepo, key Key, score decimal.Decimal) (Change, error) {
	pos, err := repo.GetPosition(ctx, key.TargetID)
	if err != nil {
		return Change{}, fmt.Errorf("load position: %w", err)
	}
	if pos == nil {
		return Change{}, fmt.Errorf("%w: no open position on %s", model.ErrInsufficientPosition, key.TargetID)
	}
	return l.ReduceOrClose(ctx, repo, key, pos.Stake, score)
}
