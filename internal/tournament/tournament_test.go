package tournament

import (
	"bytes"
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
	"github.com/attnx/tournament-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type recordingPlanner struct {
	mu      sync.Mutex
	planned []string
}

func (p *recordingPlanner) Plan(t *model.Tournament) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.planned = append(p.planned, t.ID)
	return nil
}

func newManager(t *testing.T) (*Manager, *recordingPlanner) {
	t.Helper()
	p := &recordingPlanner{}
	defaults := Defaults{
		StartingBalance: d(10000),
		PlatformFeeRate: d(0.1),
		PayoutTable:     []decimal.Decimal{d(0.5), d(0.3), d(0.2)},
	}
	return NewManager(store.NewMemoryStore(), defaults, p, nil, func() time.Time { return now }), p
}

func validRequest() CreateRequest {
	return CreateRequest{
		Name:      "Election Week",
		EntryFee:  d(10),
		StartDate: now.Add(time.Hour),
		EndDate:   now.Add(7 * 24 * time.Hour),
	}
}

func TestCreate_AppliesDefaults(t *testing.T) {
	m, p := newManager(t)

	tr, err := m.Create(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, tr.ID)
	assert.Equal(t, model.StatusUpcoming, tr.Status)
	assert.True(t, tr.StartingBalance.Equal(d(10000)))
	assert.True(t, tr.PlatformFeeRate.Equal(d(0.1)))
	assert.Len(t, tr.PayoutTable, 3)
	assert.Equal(t, []string{tr.ID}, p.planned)
}

func TestCreate_Overrides(t *testing.T) {
	m, _ := newManager(t)
	req := validRequest()
	bal, rate := d(500), d(0)
	req.StartingBalance = &bal
	req.PlatformFeeRate = &rate
	req.PayoutTable = []decimal.Decimal{d(1)}

	tr, err := m.Create(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, tr.StartingBalance.Equal(d(500)))
	assert.True(t, tr.PlatformFeeRate.IsZero())
	assert.Len(t, tr.PayoutTable, 1)
}

func TestCreate_StartedIsActive(t *testing.T) {
	m, _ := newManager(t)
	req := validRequest()
	req.StartDate = now.Add(-time.Minute)

	tr, err := m.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, tr.Status)
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		want   error
	}{
		{"no name", func(r *CreateRequest) { r.Name = " " }, model.ErrInvalidRequest},
		{"end before start", func(r *CreateRequest) { r.EndDate = r.StartDate.Add(-time.Hour) }, model.ErrInvalidRequest},
		{"end equals start", func(r *CreateRequest) { r.EndDate = r.StartDate }, model.ErrInvalidRequest},
		{"already over", func(r *CreateRequest) {
			r.StartDate = now.Add(-48 * time.Hour)
			r.EndDate = now.Add(-time.Hour)
		}, model.ErrInvalidRequest},
		{"negative fee", func(r *CreateRequest) { r.EntryFee = d(-1) }, model.ErrInvalidAmount},
		{"zero balance", func(r *CreateRequest) { z := decimal.Zero; r.StartingBalance = &z }, model.ErrInvalidAmount},
		{"fee rate of one", func(r *CreateRequest) { one := d(1); r.PlatformFeeRate = &one }, model.ErrInvalidRequest},
		{"payout over one", func(r *CreateRequest) { r.PayoutTable = []decimal.Decimal{d(0.6), d(0.5)} }, model.ErrInvalidRequest},
		{"negative share", func(r *CreateRequest) { r.PayoutTable = []decimal.Decimal{d(0.6), d(-0.1)} }, model.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, p := newManager(t)
			req := validRequest()
			tt.mutate(&req)
			_, err := m.Create(context.Background(), req)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Empty(t, p.planned)
		})
	}
}

func TestCreate_FreeTournament(t *testing.T) {
	m, _ := newManager(t)
	req := validRequest()
	req.EntryFee = decimal.Zero
	_, err := m.Create(context.Background(), req)
	assert.NoError(t, err)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	tr, err := m.Create(ctx, validRequest())
	require.NoError(t, err)

	got, err := m.Activate(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)

	got, err = m.Activate(ctx, tr.ID)
	require.NoError(t, err, "activating twice is a no-op")
	assert.Equal(t, model.StatusActive, got.Status)

	_, err = m.store.CompareAndSetStatus(ctx, tr.ID, model.StatusActive, model.StatusFinished)
	require.NoError(t, err)
	_, err = m.Activate(ctx, tr.ID)
	assert.True(t, errors.Is(err, model.ErrStatusConflict))

	_, err = m.Activate(ctx, "missing")
	assert.True(t, errors.Is(err, model.ErrTournamentNotFound))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	_, err := m.Create(ctx, validRequest())
	require.NoError(t, err)
	started := validRequest()
	started.StartDate = now.Add(-time.Hour)
	_, err = m.Create(ctx, started)
	require.NoError(t, err)

	all, err := m.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := m.List(ctx, "active")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = m.List(ctx, "paused")
	assert.True(t, errors.Is(err, model.ErrInvalidRequest))
}

func TestHandlers(t *testing.T) {
	m, _ := newManager(t)
	r := chi.NewRouter()
	r.Route("/api/v1", m.Routes)

	body, _ := json.Marshal(validRequest())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tournaments", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.Tournament
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tournaments/"+created.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tournaments/"+created.ID+"/activate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tournaments/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tournaments", bytes.NewReader([]byte(`{"name":`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
