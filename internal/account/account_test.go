package account

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attnx/tournament-engine/internal/model"
	"github.com/attnx/tournament-engine/internal/store"
	"github.com/attnx/tournament-engine/internal/wallet"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T, status model.TournamentStatus, lateJoin bool) (*Manager, store.Store, *wallet.MemoryWallet) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateTournament(context.Background(), &model.Tournament{
		ID: "t1", Name: "Spring Cup", EntryFee: d(10), StartingBalance: d(10000),
		PlatformFeeRate: d(0.1), PayoutTable: []decimal.Decimal{d(1)},
		StartDate: t0, EndDate: t0.Add(72 * time.Hour), Status: status,
		AllowLateJoin: lateJoin, CreatedAt: t0,
	}))
	w := wallet.NewMemoryWallet()
	w.Fund("alice", d(100))
	return NewManager(st, w, func() time.Time { return t0 }), st, w
}

func TestJoin_DebitsFeeAndSeedsBalance(t *testing.T) {
	m, _, w := setup(t, model.StatusUpcoming, false)

	e, err := m.Join(context.Background(), "alice", "t1")
	require.NoError(t, err)
	assert.True(t, e.CurrentBalance.Equal(d(10000)))
	assert.True(t, e.StartingBalance.Equal(d(10000)))
	assert.Equal(t, model.PayoutNone, e.PayoutStatus)
	assert.True(t, w.Balance("alice").Equal(d(90)))
}

func TestJoin_Twice(t *testing.T) {
	m, _, w := setup(t, model.StatusUpcoming, false)
	ctx := context.Background()

	_, err := m.Join(ctx, "alice", "t1")
	require.NoError(t, err)
	_, err = m.Join(ctx, "alice", "t1")
	assert.True(t, errors.Is(err, model.ErrAlreadyJoined))
	assert.True(t, w.Balance("alice").Equal(d(90)), "fee charged once")
}

func TestJoin_LateJoin(t *testing.T) {
	tests := []struct {
		name     string
		status   model.TournamentStatus
		lateJoin bool
		wantErr  error
	}{
		{"upcoming", model.StatusUpcoming, false, nil},
		{"active with late join", model.StatusActive, true, nil},
		{"active without late join", model.StatusActive, false, model.ErrTournamentClosed},
		{"settling", model.StatusSettling, true, model.ErrTournamentClosed},
		{"finished", model.StatusFinished, true, model.ErrTournamentClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, w := setup(t, tt.status, tt.lateJoin)
			_, err := m.Join(context.Background(), "alice", "t1")
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.True(t, w.Balance("alice").Equal(d(100)), "no fee on refusal")
		})
	}
}

func TestJoin_InsufficientFunds(t *testing.T) {
	m, st, w := setup(t, model.StatusUpcoming, false)
	w.Fund("alice", d(5))

	_, err := m.Join(context.Background(), "alice", "t1")
	assert.True(t, errors.Is(err, model.ErrInsufficientFunds))

	_, err = st.GetEntry(context.Background(), "alice", "t1")
	assert.True(t, errors.Is(err, model.ErrEntryNotFound), "no entry without a fee")
}

func TestJoin_UnknownTournament(t *testing.T) {
	m, _, _ := setup(t, model.StatusUpcoming, false)
	_, err := m.Join(context.Background(), "alice", "nope")
	assert.True(t, errors.Is(err, model.ErrTournamentNotFound))
}

// failingStore makes entry creation fail after the fee has been taken.
type failingStore struct {
	store.Store
}

func (failingStore) CreateEntry(context.Context, *model.TournamentEntry) error {
	return errors.New("disk full")
}

func TestJoin_RefundsWhenEntryNotCreated(t *testing.T) {
	_, st, w := setup(t, model.StatusUpcoming, false)
	m := NewManager(failingStore{st}, w, func() time.Time { return t0 })

	_, err := m.Join(context.Background(), "alice", "t1")
	require.Error(t, err)
	assert.True(t, w.Balance("alice").Equal(d(100)), "fee refunded")
}

// closingWallet flips the tournament out of the accepting state right after
// the fee is taken, the way a settlement starting mid-join would.
type closingWallet struct {
	*wallet.MemoryWallet
	st store.Store
}

func (w closingWallet) Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	if err := w.MemoryWallet.Debit(ctx, userID, amount, ref); err != nil {
		return err
	}
	_, err := w.st.CompareAndSetStatus(ctx, "t1", model.StatusActive, model.StatusSettling)
	return err
}

func TestJoin_TournamentClosesAfterDebit(t *testing.T) {
	_, st, w := setup(t, model.StatusActive, true)
	m := NewManager(st, closingWallet{MemoryWallet: w, st: st}, func() time.Time { return t0 })
	ctx := context.Background()

	_, err := m.Join(ctx, "alice", "t1")
	assert.True(t, errors.Is(err, model.ErrTournamentClosed), "got %v", err)

	_, err = st.GetEntry(ctx, "alice", "t1")
	assert.True(t, errors.Is(err, model.ErrEntryNotFound), "no entry in a settling tournament")
	assert.True(t, w.Balance("alice").Equal(d(100)), "fee refunded")
}

// flakyStore fails entry creation a fixed number of times.
type flakyStore struct {
	store.Store
	failures int
}

func (f *flakyStore) CreateEntry(ctx context.Context, e *model.TournamentEntry) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.Store.CreateEntry(ctx, e)
}

func TestJoin_RetryAfterRefundChargesAgain(t *testing.T) {
	_, st, w := setup(t, model.StatusUpcoming, false)
	m := NewManager(&flakyStore{Store: st, failures: 1}, w, func() time.Time { return t0 })
	ctx := context.Background()

	_, err := m.Join(ctx, "alice", "t1")
	require.Error(t, err)
	assert.True(t, w.Balance("alice").Equal(d(100)), "first attempt refunded")

	_, err = m.Join(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.True(t, w.Balance("alice").Equal(d(90)), "second attempt pays the fee")
}

// duplicateStore reports that a concurrent join won the race.
type duplicateStore struct {
	store.Store
}

func (duplicateStore) CreateEntry(context.Context, *model.TournamentEntry) error {
	return model.ErrDuplicate
}

func TestJoin_LosingConcurrentJoinIsRefunded(t *testing.T) {
	_, st, w := setup(t, model.StatusUpcoming, false)
	m := NewManager(duplicateStore{st}, w, func() time.Time { return t0 })

	_, err := m.Join(context.Background(), "alice", "t1")
	assert.True(t, errors.Is(err, model.ErrAlreadyJoined))
	assert.True(t, w.Balance("alice").Equal(d(100)), "losing attempt refunded")
}

type fakeTx struct {
	entry *model.TournamentEntry
}

func (f *fakeTx) Entry() *model.TournamentEntry { return f.entry }

func (f *fakeTx) SetBalance(_ context.Context, b decimal.Decimal) error {
	f.entry.CurrentBalance = b
	return nil
}

func TestApplyDelta(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{entry: &model.TournamentEntry{CurrentBalance: d(1000)}}

	bal, err := ApplyDelta(ctx, tx, d(-400))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(600)))

	bal, err = ApplyDelta(ctx, tx, d(-600))
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "draining to exactly zero is allowed")

	_, err = ApplyDelta(ctx, tx, d(-0.01))
	assert.True(t, errors.Is(err, model.ErrInsufficientBalance))
	assert.True(t, tx.entry.CurrentBalance.IsZero(), "balance unchanged on refusal")
}

func TestHandleJoin(t *testing.T) {
	m, _, _ := setup(t, model.StatusUpcoming, false)
	r := chi.NewRouter()
	r.Route("/api/v1", m.Routes)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tournaments/t1/join", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tournaments/t1/join", nil)
	req.Header.Set("X-User-ID", "alice")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tournaments/t1/join", nil)
	req.Header.Set("X-User-ID", "alice")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tournaments/t1/entries/alice", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tournaments/t1/entries/bob", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
