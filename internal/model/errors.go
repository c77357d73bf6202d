package model

import (
	"errors"
	"fmt"
)

// ErrorKind groups engine errors by how a caller should react to them.
type ErrorKind int

const (
	// KindValidation: the request is malformed; rejected before any mutation.
	KindValidation ErrorKind = iota + 1
	// KindNotFound: a referenced tournament, entry or target does not exist.
	KindNotFound
	// KindConflict: the request is well formed but the current state forbids it.
	KindConflict
	// KindExternal: a collaborator (score feed, wallet) failed.
	KindExternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "state_conflict"
	case KindExternal:
		return "external_dependency"
	}
	return "unknown"
}

// Error is a classified engine error. Sentinels below are compared with
// errors.Is; call sites add context with fmt.Errorf("%w: ...").
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Validation errors.
var (
	ErrInvalidAmount     = newError(KindValidation, "InvalidAmount", "amount must be positive")
	ErrInvalidRequest    = newError(KindValidation, "InvalidRequest", "malformed request")
	ErrInvalidTargetType = newError(KindValidation, "InvalidTargetType", "unsupported target type")
	ErrTargetNotTradable = newError(KindValidation, "TargetNotTradable", "target is not in the active catalog")
	ErrInvalidEntryScore = newError(KindValidation, "InvalidEntryScore", "entry score must be non-zero")
)

// Not-found errors.
var (
	ErrTournamentNotFound = newError(KindNotFound, "TournamentNotFound", "tournament not found")
	ErrEntryNotFound      = newError(KindNotFound, "EntryNotFound", "tournament entry not found")
	ErrTargetNotFound     = newError(KindNotFound, "TargetNotFound", "target not found")
)

// State conflict errors.
var (
	ErrInsufficientBalance  = newError(KindConflict, "InsufficientBalance", "tournament balance too low")
	ErrInsufficientPosition = newError(KindConflict, "InsufficientPosition", "position stake too low")
	ErrTournamentNotActive  = newError(KindConflict, "TournamentNotActive", "tournament is not active")
	ErrTournamentClosed     = newError(KindConflict, "TournamentClosed", "tournament is not accepting entries")
	ErrAlreadyJoined        = newError(KindConflict, "AlreadyJoined", "user already joined this tournament")
	ErrAlreadySettled       = newError(KindConflict, "AlreadySettled", "tournament already settled")
	ErrSettlementInProgress = newError(KindConflict, "SettlementInProgress", "tournament is being settled")
	ErrDuplicate            = newError(KindConflict, "Duplicate", "record already exists")
	ErrStatusConflict       = newError(KindConflict, "StatusConflict", "tournament status changed concurrently")
)

// External dependency errors.
var (
	ErrScoreUnavailable  = newError(KindExternal, "ScoreUnavailable", "attention score unavailable")
	ErrInsufficientFunds = newError(KindExternal, "InsufficientFunds", "wallet has insufficient funds")
	ErrWalletUnavailable = newError(KindExternal, "WalletUnavailable", "wallet service unavailable")
	ErrPayoutFailed      = newError(KindExternal, "PayoutFailed", "payout credit failed")
)

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	if e := AsError(err); e != nil {
		return e.Kind
	}
	return 0
}

// AsError returns the first *Error in err's tree.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
