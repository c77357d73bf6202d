// Package model defines the core domain types shared across the tournament engine.
// All monetary values and attention scores use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TargetType classifies what an attention score is measured on.
type TargetType string

const (
	TargetPolitician TargetType = "politician"
	TargetCelebrity  TargetType = "celebrity"
	TargetCountry    TargetType = "country"
	TargetGame       TargetType = "game"
	TargetStock      TargetType = "stock"
	TargetCrypto     TargetType = "crypto"
)

// PositionType is the direction of a position.
type PositionType string

const (
	Long  PositionType = "long"
	Short PositionType = "short"
)

// Opposite returns the other side.
func (p PositionType) Opposite() PositionType {
	if p == Long {
		return Short
	}
	return Long
}

// Valid reports whether p is long or short.
func (p PositionType) Valid() bool {
	return p == Long || p == Short
}

// TradeType is the kind of trade request.
type TradeType string

const (
	Buy     TradeType = "buy"
	Sell    TradeType = "sell"
	Flatten TradeType = "flatten"
)

// TournamentStatus tracks the tournament lifecycle:
// upcoming -> active -> settling -> finished.
type TournamentStatus string

const (
	StatusUpcoming TournamentStatus = "upcoming"
	StatusActive   TournamentStatus = "active"
	StatusSettling TournamentStatus = "settling"
	StatusFinished TournamentStatus = "finished"
)

// PayoutStatus tracks the real-money payout of a settled entry.
type PayoutStatus string

const (
	PayoutNone    PayoutStatus = "none"
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
	PayoutFailed  PayoutStatus = "failed"
)

// Target is something users can trade attention on. The score itself lives
// with the external score provider; the engine only reads it.
type Target struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Type      TargetType `json:"type" db:"type"`
	Active    bool       `json:"active" db:"active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Tournament is an isolated trading competition with its own virtual balances.
type Tournament struct {
	ID              string            `json:"id" db:"id"`
	Name            string            `json:"name" db:"name"`
	EntryFee        decimal.Decimal   `json:"entry_fee" db:"entry_fee"`               // real money
	StartingBalance decimal.Decimal   `json:"starting_balance" db:"starting_balance"` // virtual
	PlatformFeeRate decimal.Decimal   `json:"platform_fee_rate" db:"platform_fee_rate"`
	PayoutTable     []decimal.Decimal `json:"payout_table" db:"payout_table"` // share of prize pool by rank
	AllowLateJoin   bool              `json:"allow_late_join" db:"allow_late_join"`
	StartDate       time.Time         `json:"start_date" db:"start_date"`
	EndDate         time.Time         `json:"end_date" db:"end_date"`
	Status          TournamentStatus  `json:"status" db:"status"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	SettledAt       *time.Time        `json:"settled_at,omitempty" db:"settled_at"`
}

// AcceptsEntries reports whether new users may join.
func (t *Tournament) AcceptsEntries() bool {
	switch t.Status {
	case StatusUpcoming:
		return true
	case StatusActive:
		return t.AllowLateJoin
	}
	return false
}

// TradingOpen reports whether trades may be applied at time now.
func (t *Tournament) TradingOpen(now time.Time) bool {
	return t.Status == StatusActive && now.Before(t.EndDate)
}

// TournamentEntry is one user's participation in one tournament. The
// settlement fields are written exactly once when the tournament finishes.
type TournamentEntry struct {
	UserID          string          `json:"user_id" db:"user_id"`
	TournamentID    string          `json:"tournament_id" db:"tournament_id"`
	EntryFee        decimal.Decimal `json:"entry_fee" db:"entry_fee"`
	StartingBalance decimal.Decimal `json:"starting_balance" db:"starting_balance"`
	CurrentBalance  decimal.Decimal `json:"current_balance" db:"current_balance"`
	JoinedAt        time.Time       `json:"joined_at" db:"joined_at"`

	FinalValue   *decimal.Decimal `json:"final_value,omitempty" db:"final_value"`
	FinalPnL     *decimal.Decimal `json:"final_pnl,omitempty" db:"final_pnl"`
	Rank         *int             `json:"rank,omitempty" db:"rank"`
	PayoutAmount *decimal.Decimal `json:"payout_amount,omitempty" db:"payout_amount"`
	PayoutStatus PayoutStatus     `json:"payout_status" db:"payout_status"`
}

// Position is a user's open directional stake on one target within one
// tournament. A position with zero stake does not exist.
type Position struct {
	UserID            string          `json:"user_id" db:"user_id"`
	TournamentID      string          `json:"tournament_id" db:"tournament_id"`
	TargetID          string          `json:"target_id" db:"target_id"`
	Type              PositionType    `json:"position_type" db:"position_type"`
	Stake             decimal.Decimal `json:"attention_stakes" db:"stake"`
	AverageEntryScore decimal.Decimal `json:"average_entry_score" db:"average_entry_score"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // accumulated over reductions
	OpenedAt          time.Time       `json:"opened_at" db:"opened_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Trade is an immutable record of an applied trade.
// Once created, these are never modified or deleted.
type Trade struct {
	ID               string           `json:"id" db:"id"`
	UserID           string           `json:"user_id" db:"user_id"`
	TournamentID     string           `json:"tournament_id" db:"tournament_id"`
	TargetID         string           `json:"target_id" db:"target_id"`
	TradeType        TradeType        `json:"trade_type" db:"trade_type"`
	PositionType     PositionType     `json:"position_type" db:"position_type"`
	StakeAmount      decimal.Decimal  `json:"stake_amount" db:"stake_amount"`
	ScoreAtExecution decimal.Decimal  `json:"attention_score_at_entry" db:"score"`
	PnL              *decimal.Decimal `json:"pnl" db:"pnl"` // nil unless the trade reduced a position
	BalanceAfter     decimal.Decimal  `json:"balance_after" db:"balance_after"`
	Timestamp        time.Time        `json:"timestamp" db:"timestamp"`
}

// PayoutFault records a payout the wallet refused during settlement. Faults
// are resolved manually; the engine never retries them on its own.
type PayoutFault struct {
	ID           string          `json:"id" db:"id"`
	TournamentID string          `json:"tournament_id" db:"tournament_id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Reason       string          `json:"reason" db:"reason"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// PortfolioLine is the mark-to-market view of one open position.
type PortfolioLine struct {
	TargetID      string          `json:"target"`
	PositionType  PositionType    `json:"position_type"`
	Stake         decimal.Decimal `json:"stake"`
	EntryScore    decimal.Decimal `json:"entry_score"`
	CurrentScore  decimal.Decimal `json:"current_score"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	CurrentValue  decimal.Decimal `json:"current_value"`
}

// Portfolio aggregates one entry's balance and open positions.
type Portfolio struct {
	UserID         string          `json:"user_id"`
	TournamentID   string          `json:"tournament_id"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Lines          []PortfolioLine `json:"positions"`
	TotalValue     decimal.Decimal `json:"total_value"`
	TotalPnL       decimal.Decimal `json:"total_pnl"` // TotalValue - starting balance
}

// SettlementResult is one ranked row of a settled tournament.
type SettlementResult struct {
	UserID       string          `json:"user"`
	Rank         int             `json:"rank"`
	FinalValue   decimal.Decimal `json:"final_value"`
	FinalPnL     decimal.Decimal `json:"final_pnl"`
	Payout       decimal.Decimal `json:"payout"`
	PayoutStatus PayoutStatus    `json:"payout_status"`
}
