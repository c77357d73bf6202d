// Package tournament manages the tournament lifecycle up to settlement:
// creation, activation and lookups.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/metrics"
	"github.com/attnx/tournament-engine/internal/model"
	"github.com/attnx/tournament-engine/internal/store"
	"github.com/attnx/tournament-engine/internal/trade"
)

// Defaults fill in tournament parameters a creator leaves out.
type Defaults struct {
	StartingBalance decimal.Decimal
	PlatformFeeRate decimal.Decimal
	PayoutTable     []decimal.Decimal
}

// Planner arranges the time-driven transitions of a tournament.
type Planner interface {
	Plan(t *model.Tournament) error
}

// CreateRequest is the JSON body for tournament creation. Nil or empty
// fields take the configured defaults.
type CreateRequest struct {
	ID              string            `json:"id,omitempty"`
	Name            string            `json:"name"`
	EntryFee        decimal.Decimal   `json:"entry_fee"`
	StartingBalance *decimal.Decimal  `json:"starting_balance,omitempty"`
	PlatformFeeRate *decimal.Decimal  `json:"platform_fee_rate,omitempty"`
	PayoutTable     []decimal.Decimal `json:"payout_table,omitempty"`
	AllowLateJoin   bool              `json:"allow_late_join"`
	StartDate       time.Time         `json:"start_date"`
	EndDate         time.Time         `json:"end_date"`
}

// Manager creates and activates tournaments.
type Manager struct {
	store    store.Store
	defaults Defaults
	planner  Planner     // optional
	wsHub    *trade.WSHub // optional
	now      func() time.Time
}

// NewManager creates a Manager. planner and hub may be nil.
func NewManager(st store.Store, defaults Defaults, planner Planner, hub *trade.WSHub, now func() time.Time) *Manager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{store: st, defaults: defaults, planner: planner, wsHub: hub, now: now}
}

// SetPlanner attaches the scheduler once it exists; the scheduler itself
// needs the Manager to activate tournaments.
func (m *Manager) SetPlanner(p Planner) {
	m.planner = p
}

// Create validates and stores a tournament. It starts active when its start
// date has already passed.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*model.Tournament, error) {
	now := m.now()
	t := &model.Tournament{
		ID:              strings.TrimSpace(req.ID),
		Name:            strings.TrimSpace(req.Name),
		EntryFee:        req.EntryFee,
		StartingBalance: m.defaults.StartingBalance,
		PlatformFeeRate: m.defaults.PlatformFeeRate,
		PayoutTable:     m.defaults.PayoutTable,
		AllowLateJoin:   req.AllowLateJoin,
		StartDate:       req.StartDate.UTC(),
		EndDate:         req.EndDate.UTC(),
		Status:          model.StatusUpcoming,
		CreatedAt:       now,
	}
	if req.StartingBalance != nil {
		t.StartingBalance = *req.StartingBalance
	}
	if req.PlatformFeeRate != nil {
		t.PlatformFeeRate = *req.PlatformFeeRate
	}
	if len(req.PayoutTable) > 0 {
		t.PayoutTable = req.PayoutTable
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if err := validate(t, now); err != nil {
		return nil, err
	}
	if !t.StartDate.After(now) {
		t.Status = model.StatusActive
	}

	if err := m.store.CreateTournament(ctx, t); err != nil {
		return nil, err
	}
	if t.Status == model.StatusActive {
		metrics.ActiveTournaments.Inc()
	}

	slog.Info("tournament created",
		"id", t.ID,
		"name", t.Name,
		"status", string(t.Status),
		"entry_fee", t.EntryFee.String(),
		"start", t.StartDate,
		"end", t.EndDate,
	)

	if m.planner != nil {
		if err := m.planner.Plan(t); err != nil {
			slog.Error("tournament scheduling failed", "id", t.ID, "err", err)
		}
	}
	return t, nil
}

func validate(t *model.Tournament, now time.Time) error {
	switch {
	case t.Name == "":
		return fmt.Errorf("%w: name is required", model.ErrInvalidRequest)
	case t.StartDate.IsZero() || t.EndDate.IsZero():
		return fmt.Errorf("%w: start_date and end_date are required", model.ErrInvalidRequest)
	case !t.EndDate.After(t.StartDate):
		return fmt.Errorf("%w: end_date must be after start_date", model.ErrInvalidRequest)
	case !t.EndDate.After(now):
		return fmt.Errorf("%w: end_date is in the past", model.ErrInvalidRequest)
	case t.EntryFee.IsNegative():
		return fmt.Errorf("%w: entry_fee must not be negative", model.ErrInvalidAmount)
	case !t.StartingBalance.IsPositive():
		return fmt.Errorf("%w: starting_balance must be positive", model.ErrInvalidAmount)
	case t.PlatformFeeRate.IsNegative() || t.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: platform_fee_rate must be in [0, 1)", model.ErrInvalidRequest)
	}
	return ValidatePayoutTable(t.PayoutTable)
}

// ValidatePayoutTable checks that every share is non-negative and that the
// shares add up to at most the whole pool.
func ValidatePayoutTable(table []decimal.Decimal) error {
	sum := decimal.Zero
	for i, share := range table {
		if share.IsNegative() {
			return fmt.Errorf("%w: payout_table[%d] is negative", model.ErrInvalidRequest, i)
		}
		sum = sum.Add(share)
	}
	if sum.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: payout_table sums to %s, more than 1", model.ErrInvalidRequest, sum)
	}
	return nil
}

// Activate opens an upcoming tournament for trading. Activating a tournament
// that is already active is a no-op.
func (m *Manager) Activate(ctx context.Context, id string) (*model.Tournament, error) {
	current, err := m.store.CompareAndSetStatus(ctx, id, model.StatusUpcoming, model.StatusActive)
	if err != nil {
		if errors.Is(err, model.ErrStatusConflict) && current == model.StatusActive {
			return m.store.GetTournament(ctx, id)
		}
		return nil, err
	}
	metrics.ActiveTournaments.Inc()
	slog.Info("tournament activated", "id", id)

	if m.wsHub != nil {
		m.wsHub.Broadcast(trade.WSMessage{Type: trade.EventTournamentActivated, TournamentID: id})
	}
	return m.store.GetTournament(ctx, id)
}

// Get returns a tournament.
func (m *Manager) Get(ctx context.Context, id string) (*model.Tournament, error) {
	return m.store.GetTournament(ctx, id)
}

// List returns tournaments, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status string) ([]model.Tournament, error) {
	st := model.TournamentStatus(strings.ToLower(status))
	switch st {
	case "", model.StatusUpcoming, model.StatusActive, model.StatusSettling, model.StatusFinished:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidRequest, status)
	}
	ts, err := m.store.ListTournaments(ctx, st)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		ts = []model.Tournament{}
	}
	return ts, nil
}
