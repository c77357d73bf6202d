package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attnx/tournament-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestMemoryWallet_DebitCredit(t *testing.T) {
	w := NewMemoryWallet()
	w.Fund("alice", d(25))
	ctx := context.Background()

	require.NoError(t, w.Debit(ctx, "alice", d(10), EntryFeeRef("t1", "alice", "a1")))
	assert.True(t, w.Balance("alice").Equal(d(15)))

	// Same reference is applied once.
	require.NoError(t, w.Debit(ctx, "alice", d(10), EntryFeeRef("t1", "alice", "a1")))
	assert.True(t, w.Balance("alice").Equal(d(15)))

	err := w.Debit(ctx, "alice", d(100), EntryFeeRef("t2", "alice", "a1"))
	assert.True(t, errors.Is(err, model.ErrInsufficientFunds))

	require.NoError(t, w.Credit(ctx, "alice", d(16.2), PayoutRef("t1", "alice")))
	assert.True(t, w.Balance("alice").Equal(d(31.2)))
}

func TestMemoryWallet_FailFor(t *testing.T) {
	w := NewMemoryWallet()
	w.FailFor("bob", model.ErrWalletUnavailable)
	err := w.Credit(context.Background(), "bob", d(1), "x")
	assert.True(t, errors.Is(err, model.ErrWalletUnavailable))

	w.FailFor("bob", nil)
	assert.NoError(t, w.Credit(context.Background(), "bob", d(1), "x"))
}

func TestHTTPWallet(t *testing.T) {
	var got movement
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Service-Token"))
		switch r.URL.Path {
		case "/api/v1/wallets/alice/debit":
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusOK)
		case "/api/v1/wallets/broke/debit":
			w.WriteHeader(http.StatusPaymentRequired)
		case "/api/v1/wallets/alice/credit":
			w.WriteHeader(http.StatusConflict)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	w := NewHTTPWallet(srv.URL, "secret")
	ctx := context.Background()

	require.NoError(t, w.Debit(ctx, "alice", d(10), "entry:t1:alice"))
	assert.True(t, got.Amount.Equal(d(10)))
	assert.Equal(t, "entry:t1:alice", got.Reference)

	err := w.Debit(ctx, "broke", d(10), "entry:t1:broke")
	assert.True(t, errors.Is(err, model.ErrInsufficientFunds))

	assert.NoError(t, w.Credit(ctx, "alice", d(5), "payout:t1:alice"), "409 means already applied")

	err = w.Credit(ctx, "bob", d(5), "payout:t1:bob")
	assert.True(t, errors.Is(err, model.ErrWalletUnavailable))
}
