// Package wallet talks to the real-money wallet service. Entry fees are
// debited on join and prizes credited on settlement. Every call carries a
// reference so the wallet can deduplicate; the engine itself never retries.
package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/model"
)

// Wallet moves real money for a user.
type Wallet interface {
	// Debit fails with model.ErrInsufficientFunds when the user cannot pay.
	Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error
	Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error
}

// EntryFeeRef is the reference of one join attempt's entry fee debit. Every
// attempt gets its own id, so a retry after a refund is charged again.
func EntryFeeRef(tournamentID, userID, attemptID string) string {
	return fmt.Sprintf("entry:%s:%s:%s", tournamentID, userID, attemptID)
}

// RefundRef is the reference of the refund of the attempt's debit.
func RefundRef(tournamentID, userID, attemptID string) string {
	return fmt.Sprintf("refund:%s:%s:%s", tournamentID, userID, attemptID)
}

// PayoutRef is the reference of a prize payout credit.
func PayoutRef(tournamentID, userID string) string {
	return fmt.Sprintf("payout:%s:%s", tournamentID, userID)
}

// MemoryWallet is an in-memory Wallet for tests and local runs. Repeating a
// reference is a no-op.
type MemoryWallet struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	applied  map[string]bool
	failing  map[string]error // userID -> error for the next calls
}

// NewMemoryWallet creates an empty wallet.
func NewMemoryWallet() *MemoryWallet {
	return &MemoryWallet{
		balances: make(map[string]decimal.Decimal),
		applied:  make(map[string]bool),
		failing:  make(map[string]error),
	}
}

// Fund sets a user's balance.
func (w *MemoryWallet) Fund(userID string, amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[userID] = amount
}

// FailFor makes every call for userID return err; nil clears it.
func (w *MemoryWallet) FailFor(userID string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.failing, userID)
		return
	}
	w.failing[userID] = err
}

// Balance returns a user's balance.
func (w *MemoryWallet) Balance(userID string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID]
}

func (w *MemoryWallet) Debit(_ context.Context, userID string, amount decimal.Decimal, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.failing[userID]; err != nil {
		return err
	}
	if w.applied[ref] {
		return nil
	}
	if w.balances[userID].LessThan(amount) {
		return fmt.Errorf("%w: balance %s, need %s", model.ErrInsufficientFunds, w.balances[userID], amount)
	}
	w.balances[userID] = w.balances[userID].Sub(amount)
	w.applied[ref] = true
	return nil
}

func (w *MemoryWallet) Credit(_ context.Context, userID string, amount decimal.Decimal, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.failing[userID]; err != nil {
		return err
	}
	if w.applied[ref] {
		return nil
	}
	w.balances[userID] = w.balances[userID].Add(amount)
	w.applied[ref] = true
	return nil
}
