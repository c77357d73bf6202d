// Package valuation holds the profit-and-loss math for attention positions.
//
// Positions are unleveraged: P&L is proportional to the relative move of the
// attention score since entry, and a position can never be worth less than
// zero. Losses are therefore floored at -stake: a short whose score more than
// doubles is valued at zero (UnrealizedValue, PortfolioValue, Mark) rather
// than at the negative value ProportionalPnL alone would give. Every function
// here is pure and safe to call without locks.
//
// All monetary values use shopspring/decimal, never float64 for money.
package valuation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/model"
)

// Scale is the number of decimal places P&L and values are rounded to.
var Scale int32 = 8

// ProportionalPnL returns the raw P&L of stake committed at entry and marked
// at current:
//
//	long:  stake * (current - entry) / entry
//	short: stake * (entry - current) / entry
func ProportionalPnL(side model.PositionType, entry, current, stake decimal.Decimal) (decimal.Decimal, error) {
	if entry.IsZero() {
		return decimal.Zero, model.ErrInvalidEntryScore
	}
	var move decimal.Decimal
	switch side {
	case model.Long:
		move = current.Sub(entry)
	case model.Short:
		move = entry.Sub(current)
	default:
		return decimal.Zero, fmt.Errorf("%w: position type %q", model.ErrInvalidRequest, side)
	}
	return stake.Mul(move).DivRound(entry, Scale+8).Round(Scale), nil
}

// RealizedPnL is ProportionalPnL floored at -stake, the most an unleveraged
// position can lose.
func RealizedPnL(side model.PositionType, entry, current, stake decimal.Decimal) (decimal.Decimal, error) {
	pnl, err := ProportionalPnL(side, entry, current, stake)
	if err != nil {
		return decimal.Zero, err
	}
	if floor := stake.Neg(); pnl.LessThan(floor) {
		return floor, nil
	}
	return pnl, nil
}

// UnrealizedPnL marks an open position at score.
func UnrealizedPnL(p *model.Position, score decimal.Decimal) (decimal.Decimal, error) {
	return RealizedPnL(p.Type, p.AverageEntryScore, score, p.Stake)
}

// UnrealizedValue is what closing p at score would return to the balance:
// stake plus P&L floored at -stake, so never below zero.
func UnrealizedValue(p *model.Position, score decimal.Decimal) (decimal.Decimal, error) {
	pnl, err := UnrealizedPnL(p, score)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Stake.Add(pnl), nil
}

// PortfolioValue returns balance plus the unrealized value of every position.
// scores must hold a value for every position's target.
func PortfolioValue(balance decimal.Decimal, positions []model.Position, scores map[string]decimal.Decimal) (decimal.Decimal, error) {
	total := balance
	for i := range positions {
		p := &positions[i]
		score, ok := scores[p.TargetID]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: no score for target %s", model.ErrScoreUnavailable, p.TargetID)
		}
		v, err := UnrealizedValue(p, score)
		if err != nil {
			return decimal.Zero, fmt.Errorf("value position %s: %w", p.TargetID, err)
		}
		total = total.Add(v)
	}
	return total.Round(Scale), nil
}

// Mark builds the portfolio view of one entry's positions at the given scores.
func Mark(entry *model.TournamentEntry, positions []model.Position, scores map[string]decimal.Decimal) (*model.Portfolio, error) {
	pf := &model.Portfolio{
		UserID:         entry.UserID,
		TournamentID:   entry.TournamentID,
		CurrentBalance: entry.CurrentBalance,
		Lines:          make([]model.PortfolioLine, 0, len(positions)),
	}
	for i := range positions {
		p := &positions[i]
		score, ok := scores[p.TargetID]
		if !ok {
			return nil, fmt.Errorf("%w: no score for target %s", model.ErrScoreUnavailable, p.TargetID)
		}
		pnl, err := UnrealizedPnL(p, score)
		if err != nil {
			return nil, fmt.Errorf("value position %s: %w", p.TargetID, err)
		}
		pf.Lines = append(pf.Lines, model.PortfolioLine{
			TargetID:      p.TargetID,
			PositionType:  p.Type,
			Stake:         p.Stake,
			EntryScore:    p.AverageEntryScore,
			CurrentScore:  score,
			UnrealizedPnL: pnl,
			CurrentValue:  p.Stake.Add(pnl),
		})
	}
	total, err := PortfolioValue(entry.CurrentBalance, positions, scores)
	if err != nil {
		return nil, err
	}
	pf.TotalValue = total
	pf.TotalPnL = total.Sub(entry.StartingBalance)
	return pf, nil
}
