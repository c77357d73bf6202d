// Package httpx holds the JSON response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/attnx/tournament-engine/internal/model"
)

// UserHeader carries the caller identity set by the authenticating gateway.
const UserHeader = "X-User-ID"

// UserID returns the authenticated caller, or "" when the header is missing.
func UserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

// Decode reads a JSON request body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, message string, status int) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteErr maps an engine error to its status code and writes it with the
// error code. Unclassified errors are logged and reported as 500.
func WriteErr(w http.ResponseWriter, err error) {
	e := model.AsError(err)
	if e == nil {
		slog.Error("unhandled error", "err", err)
		WriteError(w, "internal error", http.StatusInternalServerError)
		return
	}
	WriteJSON(w, StatusOf(err), map[string]string{
		"error": err.Error(),
		"code":  e.Code,
	})
}

// StatusOf returns the HTTP status for err's kind.
func StatusOf(err error) int {
	switch model.KindOf(err) {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindExternal:
		if errors.Is(err, model.ErrInsufficientFunds) {
			return http.StatusPaymentRequired
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
