// Package account manages tournament entries: joining (which charges the
// real-money entry fee) and every change to an entry's virtual balance.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/metrics"
	"github.com/attnx/tournament-engine/internal/model"
	"github.com/attnx/tournament-engine/internal/store"
	"github.com/attnx/tournament-engine/internal/wallet"
)

// BalanceTx is the part of an entry unit that holds the balance.
type BalanceTx interface {
	Entry() *model.TournamentEntry
	SetBalance(ctx context.Context, balance decimal.Decimal) error
}

// ApplyDelta adds delta to the entry's balance and returns the new balance.
// It is the only way trading changes a balance, and it refuses to go below
// zero.
func ApplyDelta(ctx context.Context, tx BalanceTx, delta decimal.Decimal) (decimal.Decimal, error) {
	e := tx.Entry()
	next := e.CurrentBalance.Add(delta)
	if next.IsNegative() {
		return e.CurrentBalance, fmt.Errorf("%w: balance %s, delta %s", model.ErrInsufficientBalance, e.CurrentBalance, delta)
	}
	if err := tx.SetBalance(ctx, next); err != nil {
		return e.CurrentBalance, err
	}
	return next, nil
}

// Manager handles entries.
type Manager struct {
	store  store.Store
	wallet wallet.Wallet
	now    func() time.Time
}

// NewManager creates a Manager. A nil clock uses time.Now in UTC.
func NewManager(st store.Store, w wallet.Wallet, now func() time.Time) *Manager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{store: st, wallet: w, now: now}
}

// Join enters userID into a tournament: the entry fee is debited from the
// user's wallet and the entry starts with the tournament's starting balance.
// The store re-checks that the tournament accepts entries when the entry is
// written; if the entry cannot be created after the debit, the fee is
// credited back.
func (m *Manager) Join(ctx context.Context, userID, tournamentID string) (*model.TournamentEntry, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidRequest)
	}
	t, err := m.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	if _, err := m.store.GetEntry(ctx, userID, tournamentID); err == nil {
		return nil, fmt.Errorf("%w: %s in %s", model.ErrAlreadyJoined, userID, tournamentID)
	} else if !errors.Is(err, model.ErrEntryNotFound) {
		return nil, err
	}

	if !t.AcceptsEntries() {
		return nil, fmt.Errorf("%w: %s is %s", model.ErrTournamentClosed, tournamentID, t.Status)
	}

	attempt := uuid.NewString()
	charged := t.EntryFee.IsPositive()
	if charged {
		if err := m.wallet.Debit(ctx, userID, t.EntryFee, wallet.EntryFeeRef(tournamentID, userID, attempt)); err != nil {
			return nil, err
		}
	}

	entry := &model.TournamentEntry{
		UserID:          userID,
		TournamentID:    tournamentID,
		EntryFee:        t.EntryFee,
		StartingBalance: t.StartingBalance,
		CurrentBalance:  t.StartingBalance,
		JoinedAt:        m.now(),
		PayoutStatus:    model.PayoutNone,
	}
	if err := m.store.CreateEntry(ctx, entry); err != nil {
		if charged {
			m.refund(ctx, userID, t, attempt)
		}
		switch {
		case errors.Is(err, model.ErrDuplicate):
			return nil, fmt.Errorf("%w: %s in %s", model.ErrAlreadyJoined, userID, tournamentID)
		case errors.Is(err, model.ErrTournamentClosed):
			return nil, err
		}
		return nil, fmt.Errorf("create entry: %w", err)
	}

	metrics.EntriesTotal.Inc()
	slog.Info("tournament joined",
		"user", userID,
		"tournament", tournamentID,
		"entry_fee", t.EntryFee.String(),
		"starting_balance", t.StartingBalance.String(),
		"attempt", attempt,
	)
	return entry, nil
}

func (m *Manager) refund(ctx context.Context, userID string, t *model.Tournament, attempt string) {
	// The request context may already be done; the refund must still go out.
	ctx = context.WithoutCancel(ctx)
	if err := m.wallet.Credit(ctx, userID, t.EntryFee, wallet.RefundRef(t.ID, userID, attempt)); err != nil {
		slog.Error("entry fee refund failed",
			"user", userID,
			"tournament", t.ID,
			"amount", t.EntryFee.String(),
			"attempt", attempt,
			"err", err,
		)
		return
	}
	slog.Warn("entry fee refunded", "user", userID, "tournament", t.ID, "amount", t.EntryFee.String(), "attempt", attempt)
}

// GetEntry returns one entry.
func (m *Manager) GetEntry(ctx context.Context, userID, tournamentID string) (*model.TournamentEntry, error) {
	return m.store.GetEntry(ctx, userID, tournamentID)
}

// ListEntries returns a tournament's entries in join order.
func (m *Manager) ListEntries(ctx context.Context, tournamentID string) ([]model.TournamentEntry, error) {
	if _, err := m.store.GetTournament(ctx, tournamentID); err != nil {
		return nil, err
	}
	entries, err := m.store.ListEntries(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.TournamentEntry{}
	}
	return entries, nil
}
