// Package store defines the persistence interface for the tournament engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer for catalog and tournament reads.
//
// Lookups of missing records return errors wrapping the model NotFound
// sentinels; unique-key violations wrap model.ErrDuplicate.
type Store interface {
	// --- Targets ---

	CreateTarget(ctx context.Context, t *model.Target) error
	GetTarget(ctx context.Context, id string) (*model.Target, error)
	// ListTargets returns all targets, or only those of typ when non-empty.
	ListTargets(ctx context.Context, typ model.TargetType) ([]model.Target, error)
	SetTargetActive(ctx context.Context, id string, active bool) error

	// --- Tournaments ---

	CreateTournament(ctx context.Context, t *model.Tournament) error
	GetTournament(ctx context.Context, id string) (*model.Tournament, error)
	// ListTournaments returns all tournaments, or only those in status when non-empty.
	ListTournaments(ctx context.Context, status model.TournamentStatus) ([]model.Tournament, error)
	// CompareAndSetStatus moves a tournament from one status to another.
	// It returns the current status and an error wrapping ErrStatusConflict
	// when the tournament is not in from.
	CompareAndSetStatus(ctx context.Context, id string, from, to model.TournamentStatus) (model.TournamentStatus, error)

	// --- Entries ---

	CreateEntry(ctx context.Context, e *model.TournamentEntry) error
	GetEntry(ctx context.Context, userID, tournamentID string) (*model.TournamentEntry, error)
	ListEntries(ctx context.Context, tournamentID string) ([]model.TournamentEntry, error)

	// --- Positions and trades (committed state) ---

	ListPositions(ctx context.Context, userID, tournamentID string) ([]model.Position, error)
	// ListTrades returns trades oldest first. An empty tournamentID lists
	// the user's trades across tournaments.
	ListTrades(ctx context.Context, userID, tournamentID string) ([]model.Trade, error)

	// WithinEntry runs fn as the atomic unit for one tournament entry.
	// Calls for the same (user, tournament) are serialized. Writes made
	// through the EntryTx become visible only if fn returns nil.
	WithinEntry(ctx context.Context, userID, tournamentID string, fn func(tx EntryTx) error) error

	// --- Settlement ---

	// FinalizeSettlement writes every result onto its entry and moves the
	// tournament from settling to finished in one step.
	FinalizeSettlement(ctx context.Context, tournamentID string, results []model.SettlementResult, settledAt time.Time) error
	SetPayoutStatus(ctx context.Context, userID, tournamentID string, status model.PayoutStatus) error
	InsertPayoutFault(ctx context.Context, f *model.PayoutFault) error
	// ListPayoutFaults returns faults, or only those of tournamentID when non-empty.
	ListPayoutFaults(ctx context.Context, tournamentID string) ([]model.PayoutFault, error)
}

// EntryTx is the view of one entry inside WithinEntry. The entry row is
// locked for the lifetime of the transaction.
type EntryTx interface {
	// Entry returns the locked entry as loaded at the start of the unit,
	// with any balance change made through SetBalance applied.
	Entry() *model.TournamentEntry
	// Tournament reads the tournament fresh. A settlement that starts
	// after this read snapshots the entry only once the unit has finished.
	Tournament(ctx context.Context) (*model.Tournament, error)
	SetBalance(ctx context.Context, balance decimal.Decimal) error

	GetPosition(ctx context.Context, targetID string) (*model.Position, error)
	PutPosition(ctx context.Context, p *model.Position) error
	DeletePosition(ctx context.Context, targetID string) error
	ListPositions(ctx context.Context) ([]model.Position, error)

	InsertTrade(ctx context.Context, t *model.Trade) error
}
