package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/attnx/tournament-engine/internal/model"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrInvalidAmount, http.StatusBadRequest},
		{fmt.Errorf("%w: t1", model.ErrTournamentNotFound), http.StatusNotFound},
		{fmt.Errorf("wrapped twice: %w", fmt.Errorf("%w: x", model.ErrInsufficientBalance)), http.StatusConflict},
		{model.ErrScoreUnavailable, http.StatusServiceUnavailable},
		{model.ErrInsufficientFunds, http.StatusPaymentRequired},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteErr_IncludesCode(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErr(rec, fmt.Errorf("%w: stake 10, requested 20", model.ErrInsufficientPosition))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "InsufficientPosition" {
		t.Errorf("expected code InsufficientPosition, got %q", body["code"])
	}
}

func TestWriteErr_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErr(rec, errors.New("pq: connection refused"))

	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "internal error" {
		t.Errorf("internal details leaked: %q", body["error"])
	}
}

func TestUserID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(UserHeader, "  alice ")
	if got := UserID(r); got != "alice" {
		t.Errorf("expected alice, got %q", got)
	}
}
