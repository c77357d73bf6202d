package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attnx/tournament-engine/internal/model"
	"github.com/attnx/tournament-engine/internal/score"
	"github.com/attnx/tournament-engine/internal/store"
	"github.com/attnx/tournament-engine/internal/wallet"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type recordingArchiver struct {
	mu      sync.Mutex
	reports []*Report
}

func (a *recordingArchiver) Archive(_ context.Context, r *Report) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, r)
	return nil
}

type env struct {
	engine   *Engine
	store    *store.MemoryStore
	scores   *score.MemoryProvider
	wallet   *wallet.MemoryWallet
	archiver *recordingArchiver
}

// newEnv seeds tournament t1 with one entry per balance; user i joins
// i minutes after t0. Every entry paid fee.
func newEnv(t *testing.T, fee float64, balances ...float64) *env {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.CreateTournament(ctx, &model.Tournament{
		ID: "t1", Name: "Spring Cup", EntryFee: d(fee), StartingBalance: d(10000),
		PlatformFeeRate: d(0.1), PayoutTable: []decimal.Decimal{d(0.5), d(0.3), d(0.2)},
		StartDate: t0, EndDate: t0.Add(72 * time.Hour), AllowLateJoin: true, Status: model.StatusActive, CreatedAt: t0,
	}))
	users := []string{"ann", "bob", "cat", "dan", "eve", "fay"}
	for i, b := range balances {
		require.NoError(t, ms.CreateEntry(ctx, &model.TournamentEntry{
			UserID: users[i], TournamentID: "t1", EntryFee: d(fee), StartingBalance: d(10000),
			CurrentBalance: d(b), JoinedAt: t0.Add(time.Duration(i) * time.Minute),
			PayoutStatus: model.PayoutNone,
		}))
	}

	mp := score.NewMemoryProvider()
	w := wallet.NewMemoryWallet()
	a := &recordingArchiver{}
	e := NewEngine(ms, score.NewFetcher(mp, time.Second, 1), w, a, nil, func() time.Time { return t0.Add(72 * time.Hour) })
	return &env{engine: e, store: ms, scores: mp, wallet: w, archiver: a}
}

func TestSettle_RanksAndSplitsPool(t *testing.T) {
	// 4 entries at 9 each: gross 36, pool 36 x 0.9 = 32.4.
	env := newEnv(t, 9, 10500, 12000, 9000, 11000)
	ctx := context.Background()

	results, err := env.engine.Settle(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, results, 4)

	wantUsers := []string{"bob", "dan", "ann", "cat"}
	wantValues := []decimal.Decimal{d(12000), d(11000), d(10500), d(9000)}
	wantPayouts := []decimal.Decimal{d(16.2), d(9.72), d(6.48), decimal.Zero}
	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, wantUsers[i], r.UserID)
		assert.True(t, r.FinalValue.Equal(wantValues[i]), "rank %d value %s", i+1, r.FinalValue)
		assert.True(t, r.Payout.Equal(wantPayouts[i]), "rank %d payout %s", i+1, r.Payout)
	}
	assert.True(t, results[0].FinalPnL.Equal(d(2000)))
	assert.True(t, results[3].FinalPnL.Equal(d(-1000)))
	assert.Equal(t, model.PayoutPaid, results[0].PayoutStatus)
	assert.Equal(t, model.PayoutNone, results[3].PayoutStatus)

	assert.True(t, env.wallet.Balance("bob").Equal(d(16.2)))
	assert.True(t, env.wallet.Balance("dan").Equal(d(9.72)))
	assert.True(t, env.wallet.Balance("ann").Equal(d(6.48)))
	assert.True(t, env.wallet.Balance("cat").IsZero())

	tr, err := env.store.GetTournament(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, tr.Status)
	require.NotNil(t, tr.SettledAt)

	bob, err := env.store.GetEntry(ctx, "bob", "t1")
	require.NoError(t, err)
	require.NotNil(t, bob.Rank)
	assert.Equal(t, 1, *bob.Rank)
	assert.Equal(t, model.PayoutPaid, bob.PayoutStatus)

	require.Len(t, env.archiver.reports, 1)
	assert.True(t, env.archiver.reports[0].PrizePool.Equal(d(32.4)))
}

func TestSettle_SecondCallAlreadySettled(t *testing.T) {
	env := newEnv(t, 9, 10500, 12000, 9000, 11000)
	ctx := context.Background()

	_, err := env.engine.Settle(ctx, "t1")
	require.NoError(t, err)

	_, err = env.engine.Settle(ctx, "t1")
	assert.True(t, errors.Is(err, model.ErrAlreadySettled), "got %v", err)
	assert.True(t, env.wallet.Balance("bob").Equal(d(16.2)), "no second payout")
	assert.Len(t, env.archiver.reports, 1)
}

func TestSettle_StatusGuards(t *testing.T) {
	tests := []struct {
		status model.TournamentStatus
		want   error
	}{
		{model.StatusUpcoming, model.ErrTournamentNotActive},
		{model.StatusSettling, model.ErrSettlementInProgress},
		{model.StatusFinished, model.ErrAlreadySettled},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			env := newEnv(t, 10, 10000)
			env.store.CompareAndSetStatus(context.Background(), "t1", model.StatusActive, tt.status)

			_, err := env.engine.Settle(context.Background(), "t1")
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	env := newEnv(t, 10)
	_, err := env.engine.Settle(context.Background(), "missing")
	assert.True(t, errors.Is(err, model.ErrTournamentNotFound))
}

func TestSettle_ScoreFailureReverts(t *testing.T) {
	env := newEnv(t, 10, 9000, 10000)
	ctx := context.Background()
	require.NoError(t, env.store.WithinEntry(ctx, "ann", "t1", func(tx store.EntryTx) error {
		return tx.PutPosition(ctx, &model.Position{
			UserID: "ann", TournamentID: "t1", TargetID: "taylor", Type: model.Long,
			Stake: d(1000), AverageEntryScore: d(100), OpenedAt: t0, UpdatedAt: t0,
		})
	}))

	_, err := env.engine.Settle(ctx, "t1")
	assert.True(t, errors.Is(err, model.ErrScoreUnavailable), "got %v", err)

	tr, _ := env.store.GetTournament(ctx, "t1")
	assert.Equal(t, model.StatusActive, tr.Status, "tournament reverted")
	ann, _ := env.store.GetEntry(ctx, "ann", "t1")
	assert.Nil(t, ann.Rank)
	assert.Empty(t, env.archiver.reports)

	// Once scores are back the same tournament settles normally.
	env.scores.Set("taylor", d(150))
	results, err := env.engine.Settle(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "ann", results[0].UserID)
	assert.True(t, results[0].FinalValue.Equal(d(10500)), "open position valued in place, got %s", results[0].FinalValue)
}

func TestSettle_PayoutFailureRecordsFault(t *testing.T) {
	env := newEnv(t, 10, 12000, 11000)
	ctx := context.Background()
	env.wallet.FailFor("ann", model.ErrWalletUnavailable)

	results, err := env.engine.Settle(ctx, "t1")
	require.NoError(t, err, "settlement continues past a failed payout")

	assert.Equal(t, model.PayoutFailed, results[0].PayoutStatus)
	assert.Equal(t, model.PayoutPaid, results[1].PayoutStatus)

	ann, _ := env.store.GetEntry(ctx, "ann", "t1")
	assert.Equal(t, model.PayoutFailed, ann.PayoutStatus)

	faults, err := env.engine.PayoutFaults(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, faults, 1)
	assert.Equal(t, "ann", faults[0].UserID)
	assert.True(t, faults[0].Amount.Equal(results[0].Payout))

	tr, _ := env.store.GetTournament(ctx, "t1")
	assert.Equal(t, model.StatusFinished, tr.Status)
}

func TestSettle_NoEntries(t *testing.T) {
	env := newEnv(t, 10)
	results, err := env.engine.Settle(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRank_TieBreaks(t *testing.T) {
	snaps := []Snapshot{
		{Entry: model.TournamentEntry{UserID: "zed", CurrentBalance: d(100), JoinedAt: t0}},
		{Entry: model.TournamentEntry{UserID: "amy", CurrentBalance: d(100), JoinedAt: t0}},
		{Entry: model.TournamentEntry{UserID: "early", CurrentBalance: d(100), JoinedAt: t0.Add(-time.Hour)}},
		{Entry: model.TournamentEntry{UserID: "rich", CurrentBalance: d(101), JoinedAt: t0.Add(time.Hour)}},
	}
	results, err := Rank(snaps, nil)
	require.NoError(t, err)

	var order []string
	for _, r := range results {
		order = append(order, r.UserID)
	}
	assert.Equal(t, []string{"rich", "early", "amy", "zed"}, order)
}

func TestRank_MissingScore(t *testing.T) {
	snaps := []Snapshot{{
		Entry:     model.TournamentEntry{UserID: "a", CurrentBalance: d(1)},
		Positions: []model.Position{{TargetID: "x", Type: model.Long, Stake: d(1), AverageEntryScore: d(1)}},
	}}
	_, err := Rank(snaps, map[string]decimal.Decimal{})
	assert.True(t, errors.Is(err, model.ErrScoreUnavailable))
}

func TestPrizePool(t *testing.T) {
	entries := make([]model.TournamentEntry, 4)
	for i := range entries {
		entries[i].EntryFee = d(10)
	}
	assert.True(t, PrizePool(entries, d(0.1)).Equal(d(36)))
	assert.True(t, PrizePool(entries, decimal.Zero).Equal(d(40)))
	assert.True(t, PrizePool(nil, d(0.1)).IsZero())
}

func TestSplitPrizes_RoundsDownToCents(t *testing.T) {
	results := []model.SettlementResult{{Rank: 1}, {Rank: 2}, {Rank: 3}, {Rank: 4}}
	SplitPrizes(results, d(10), []decimal.Decimal{d(0.333), d(0.333), d(0.334)})

	assert.True(t, results[0].Payout.Equal(d(3.33)))
	assert.True(t, results[1].Payout.Equal(d(3.33)))
	assert.True(t, results[2].Payout.Equal(d(3.34)))
	assert.True(t, results[3].Payout.IsZero())
	assert.Equal(t, model.PayoutPending, results[0].PayoutStatus)
	assert.Equal(t, model.PayoutNone, results[3].PayoutStatus)

	total := decimal.Zero
	for _, r := range results {
		total = total.Add(r.Payout)
	}
	assert.True(t, total.LessThanOrEqual(d(10)), "never pays out more than the pool")
}

func TestHandlers(t *testing.T) {
	env := newEnv(t, 9, 10500, 12000, 9000, 11000)
	r := chi.NewRouter()
	r.Route("/api/v1", env.engine.Routes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tournaments/t1/results", nil))
	assert.Equal(t, http.StatusConflict, rec.Code, "no results before settlement")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tournaments/t1/settle", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tournaments/t1/settle", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tournaments/t1/results", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var results []model.SettlementResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&results))
	require.Len(t, results, 4)
	assert.Equal(t, "bob", results[0].UserID)
	assert.True(t, results[0].Payout.Equal(d(16.2)))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payout-faults", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
