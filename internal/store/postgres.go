package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/model"
)

// PostgreSQL error codes.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// entryTxAttempts bounds how often a unit is re-run after a serialization failure.
const entryTxAttempts = 5

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision
// and read back through ::TEXT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Targets ---

const targetColumns = `id, name, type, active, created_at`

func (s *PostgresStore) CreateTarget(ctx context.Context, t *model.Target) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO targets (id, name, type, active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Name, t.Type, t.Active, t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: target %s", model.ErrDuplicate, t.ID)
	}
	return err
}

func (s *PostgresStore) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	var t model.Target
	err := s.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Type, &t.Active, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrTargetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get target %s: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTargets(ctx context.Context, typ model.TargetType) ([]model.Target, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+targetColumns+` FROM targets
		 WHERE ($1 = '' OR type = $1) ORDER BY name`, string(typ))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	targets := []model.Target{}
	for rows.Next() {
		var t model.Target
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *PostgresStore) SetTargetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE targets SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrTargetNotFound, id)
	}
	return nil
}

// --- Tournaments ---

const tournamentColumns = `id, name, entry_fee::TEXT, starting_balance::TEXT, platform_fee_rate::TEXT,
	payout_table::TEXT[], allow_late_join, start_date, end_date, status, created_at, settled_at`

func (s *PostgresStore) CreateTournament(ctx context.Context, t *model.Tournament) error {
	table := make([]string, len(t.PayoutTable))
	for i, share := range t.PayoutTable {
		table[i] = share.String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tournaments (id, name, entry_fee, starting_balance, platform_fee_rate, payout_table,
		                          allow_late_join, start_date, end_date, status, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC[], $7, $8, $9, $10, $11)`,
		t.ID, t.Name, t.EntryFee.String(), t.StartingBalance.String(), t.PlatformFeeRate.String(), table,
		t.AllowLateJoin, t.StartDate, t.EndDate, t.Status, t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: tournament %s", model.ErrDuplicate, t.ID)
	}
	return err
}

func (s *PostgresStore) GetTournament(ctx context.Context, id string) (*model.Tournament, error) {
	return getTournament(ctx, s.pool, id, "")
}

func getTournament(ctx context.Context, q querier, id, lock string) (*model.Tournament, error) {
	t, err := scanTournament(q.QueryRow(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1 `+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrTournamentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tournament %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTournaments(ctx context.Context, status model.TournamentStatus) ([]model.Tournament, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tournamentColumns+` FROM tournaments
		 WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tournaments := []model.Tournament{}
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, err
		}
		tournaments = append(tournaments, *t)
	}
	return tournaments, rows.Err()
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, id string, from, to model.TournamentStatus) (model.TournamentStatus, error) {
	var current model.TournamentStatus
	err := s.pool.QueryRow(ctx,
		`UPDATE tournaments SET status = $3 WHERE id = $1 AND status = $2 RETURNING status`,
		id, from, to).Scan(&current)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("update tournament %s status: %w", id, err)
	}

	err = s.pool.QueryRow(ctx, `SELECT status FROM tournaments WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", model.ErrTournamentNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("get tournament %s status: %w", id, err)
	}
	return current, fmt.Errorf("%w: %s is %s, not %s", model.ErrStatusConflict, id, current, from)
}

// --- Entries ---

const entryColumns = `user_id, tournament_id, entry_fee::TEXT, starting_balance::TEXT, current_balance::TEXT,
	joined_at, final_value::TEXT, final_pnl::TEXT, rank, payout_amount::TEXT, payout_status`

// CreateEntry inserts e while holding a share lock on the tournament row, so
// a concurrent status change waits until the entry is committed and a
// tournament that stopped accepting entries rejects it.
func (s *PostgresStore) CreateEntry(ctx context.Context, e *model.TournamentEntry) error {
	status := e.PayoutStatus
	if status == "" {
		status = model.PayoutNone
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin create entry: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	t := model.Tournament{ID: e.TournamentID}
	err = tx.QueryRow(ctx,
		`SELECT status, allow_late_join FROM tournaments WHERE id = $1 FOR SHARE`,
		e.TournamentID).Scan(&t.Status, &t.AllowLateJoin)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", model.ErrTournamentNotFound, e.TournamentID)
	}
	if err != nil {
		return fmt.Errorf("lock tournament %s: %w", e.TournamentID, err)
	}
	if !t.AcceptsEntries() {
		return fmt.Errorf("%w: %s is %s", model.ErrTournamentClosed, e.TournamentID, t.Status)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO tournament_entries (user_id, tournament_id, entry_fee, starting_balance, current_balance,
		                                 joined_at, payout_status)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		e.UserID, e.TournamentID, e.EntryFee.String(), e.StartingBalance.String(), e.CurrentBalance.String(),
		e.JoinedAt, status,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: entry %s/%s", model.ErrDuplicate, e.TournamentID, e.UserID)
	}
	if err != nil {
		return fmt.Errorf("insert entry %s/%s: %w", e.TournamentID, e.UserID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetEntry(ctx context.Context, userID, tournamentID string) (*model.TournamentEntry, error) {
	return getEntry(ctx, s.pool, userID, tournamentID, "")
}

func getEntry(ctx context.Context, q querier, userID, tournamentID, lock string) (*model.TournamentEntry, error) {
	e, err := scanEntry(q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM tournament_entries
		 WHERE user_id = $1 AND tournament_id = $2 `+lock, userID, tournamentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s in %s", model.ErrEntryNotFound, userID, tournamentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s/%s: %w", tournamentID, userID, err)
	}
	return e, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, tournamentID string) ([]model.TournamentEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM tournament_entries
		 WHERE tournament_id = $1 ORDER BY joined_at, user_id`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.TournamentEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// --- Positions and trades ---

const positionColumns = `user_id, tournament_id, target_id, position_type, stake::TEXT,
	average_entry_score::TEXT, realized_pnl::TEXT, opened_at, updated_at`

func (s *PostgresStore) ListPositions(ctx context.Context, userID, tournamentID string) ([]model.Position, error) {
	return listPositions(ctx, s.pool, userID, tournamentID)
}

func listPositions(ctx context.Context, q querier, userID, tournamentID string) ([]model.Position, error) {
	rows, err := q.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND tournament_id = $2 ORDER BY target_id`, userID, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []model.Position{}
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

const tradeColumns = `id, user_id, tournament_id, target_id, trade_type, position_type,
	stake_amount::TEXT, score::TEXT, pnl::TEXT, balance_after::TEXT, timestamp`

func (s *PostgresStore) ListTrades(ctx context.Context, userID, tournamentID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE user_id = $1 AND ($2 = '' OR tournament_id = $2)
		 ORDER BY timestamp, id`, userID, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// WithinEntry runs fn in a serializable transaction holding the entry row
// FOR UPDATE. Serialization failures re-run the whole unit with backoff, so
// fn must not have side effects outside the EntryTx.
func (s *PostgresStore) WithinEntry(ctx context.Context, userID, tournamentID string, fn func(tx EntryTx) error) error {
	op := func() error {
		err := s.withinEntryOnce(ctx, userID, tournamentID, fn)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, entryTxAttempts-1), ctx))
}

func (s *PostgresStore) withinEntryOnce(ctx context.Context, userID, tournamentID string, fn func(tx EntryTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin entry tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	entry, err := getEntry(ctx, tx, userID, tournamentID, "FOR UPDATE")
	if err != nil {
		return err
	}
	if err := fn(&pgEntryTx{tx: tx, entry: entry}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit entry tx: %w", err)
	}
	return nil
}

// --- Settlement ---

func (s *PostgresStore) FinalizeSettlement(ctx context.Context, tournamentID string, results []model.SettlementResult, settledAt time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE tournaments SET status = $2, settled_at = $3 WHERE id = $1 AND status = $4`,
		tournamentID, model.StatusFinished, settledAt, model.StatusSettling)
	if err != nil {
		return fmt.Errorf("finish tournament %s: %w", tournamentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is not settling", model.ErrStatusConflict, tournamentID)
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(
			`UPDATE tournament_entries
			 SET final_value = $3::NUMERIC, final_pnl = $4::NUMERIC, rank = $5,
			     payout_amount = $6::NUMERIC, payout_status = $7
			 WHERE user_id = $1 AND tournament_id = $2`,
			r.UserID, tournamentID, r.FinalValue.String(), r.FinalPnL.String(), r.Rank,
			r.Payout.String(), r.PayoutStatus,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for _, r := range results {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return fmt.Errorf("record result for %s: %w", r.UserID, err)
		}
		if tag.RowsAffected() == 0 {
			br.Close()
			return fmt.Errorf("%w: user %s in %s", model.ErrEntryNotFound, r.UserID, tournamentID)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("record results: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SetPayoutStatus(ctx context.Context, userID, tournamentID string, status model.PayoutStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tournament_entries SET payout_status = $3 WHERE user_id = $1 AND tournament_id = $2`,
		userID, tournamentID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s in %s", model.ErrEntryNotFound, userID, tournamentID)
	}
	return nil
}

func (s *PostgresStore) InsertPayoutFault(ctx context.Context, f *model.PayoutFault) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payout_faults (id, tournament_id, user_id, amount, reason, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		f.ID, f.TournamentID, f.UserID, f.Amount.String(), f.Reason, f.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListPayoutFaults(ctx context.Context, tournamentID string) ([]model.PayoutFault, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tournament_id, user_id, amount::TEXT, reason, created_at, resolved_at
		 FROM payout_faults WHERE ($1 = '' OR tournament_id = $1) ORDER BY created_at`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	faults := []model.PayoutFault{}
	for rows.Next() {
		var f model.PayoutFault
		var amount string
		if err := rows.Scan(&f.ID, &f.TournamentID, &f.UserID, &amount, &f.Reason, &f.CreatedAt, &f.ResolvedAt); err != nil {
			return nil, err
		}
		f.Amount, _ = decimal.NewFromString(amount)
		faults = append(faults, f)
	}
	return faults, rows.Err()
}

// pgEntryTx is the EntryTx of one serializable transaction.
type pgEntryTx struct {
	tx    pgx.Tx
	entry *model.TournamentEntry
}

func (t *pgEntryTx) Entry() *model.TournamentEntry {
	cp := *t.entry
	return &cp
}

// Tournament takes FOR SHARE on the tournament row; a concurrent status
// change waits for this transaction to end.
func (t *pgEntryTx) Tournament(ctx context.Context) (*model.Tournament, error) {
	return getTournament(ctx, t.tx, t.entry.TournamentID, "FOR SHARE")
}

func (t *pgEntryTx) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE tournament_entries SET current_balance = $3::NUMERIC WHERE user_id = $1 AND tournament_id = $2`,
		t.entry.UserID, t.entry.TournamentID, balance.String())
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	t.entry.CurrentBalance = balance
	return nil
}

func (t *pgEntryTx) GetPosition(ctx context.Context, targetID string) (*model.Position, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND tournament_id = $2 AND target_id = $3`,
		t.entry.UserID, t.entry.TournamentID, targetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (t *pgEntryTx) PutPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, tournament_id, target_id, position_type, stake,
		                        average_entry_score, realized_pnl, opened_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)
		 ON CONFLICT (user_id, tournament_id, target_id) DO UPDATE
		 SET position_type = EXCLUDED.position_type,
		     stake = EXCLUDED.stake,
		     average_entry_score = EXCLUDED.average_entry_score,
		     realized_pnl = EXCLUDED.realized_pnl,
		     updated_at = EXCLUDED.updated_at`,
		t.entry.UserID, t.entry.TournamentID, p.TargetID, p.Type, p.Stake.String(),
		p.AverageEntryScore.String(), p.RealizedPnL.String(), p.OpenedAt, p.UpdatedAt,
	)
	return err
}

func (t *pgEntryTx) DeletePosition(ctx context.Context, targetID string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND tournament_id = $2 AND target_id = $3`,
		t.entry.UserID, t.entry.TournamentID, targetID)
	return err
}

func (t *pgEntryTx) ListPositions(ctx context.Context) ([]model.Position, error) {
	return listPositions(ctx, t.tx, t.entry.UserID, t.entry.TournamentID)
}

func (t *pgEntryTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	var pnl *string
	if tr.PnL != nil {
		v := tr.PnL.String()
		pnl = &v
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, tournament_id, target_id, trade_type, position_type,
		                     stake_amount, score, pnl, balance_after, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
		tr.ID, tr.UserID, tr.TournamentID, tr.TargetID, tr.TradeType, tr.PositionType,
		tr.StakeAmount.String(), tr.ScoreAtExecution.String(), pnl, tr.BalanceAfter.String(), tr.Timestamp,
	)
	return err
}

// --- Scanning ---

func scanTournament(row pgx.Row) (*model.Tournament, error) {
	var t model.Tournament
	var fee, balance, rate string
	var table []string
	if err := row.Scan(&t.ID, &t.Name, &fee, &balance, &rate, &table,
		&t.AllowLateJoin, &t.StartDate, &t.EndDate, &t.Status, &t.CreatedAt, &t.SettledAt); err != nil {
		return nil, err
	}
	t.EntryFee, _ = decimal.NewFromString(fee)
	t.StartingBalance, _ = decimal.NewFromString(balance)
	t.PlatformFeeRate, _ = decimal.NewFromString(rate)
	t.PayoutTable = make([]decimal.Decimal, len(table))
	for i, share := range table {
		t.PayoutTable[i], _ = decimal.NewFromString(share)
	}
	return &t, nil
}

func scanEntry(row pgx.Row) (*model.TournamentEntry, error) {
	var e model.TournamentEntry
	var fee, start, current string
	var finalValue, finalPnL, payout *string
	if err := row.Scan(&e.UserID, &e.TournamentID, &fee, &start, &current,
		&e.JoinedAt, &finalValue, &finalPnL, &e.Rank, &payout, &e.PayoutStatus); err != nil {
		return nil, err
	}
	e.EntryFee, _ = decimal.NewFromString(fee)
	e.StartingBalance, _ = decimal.NewFromString(start)
	e.CurrentBalance, _ = decimal.NewFromString(current)
	e.FinalValue = optionalDecimal(finalValue)
	e.FinalPnL = optionalDecimal(finalPnL)
	e.PayoutAmount = optionalDecimal(payout)
	return &e, nil
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var stake, avg, realized string
	if err := row.Scan(&p.UserID, &p.TournamentID, &p.TargetID, &p.Type, &stake,
		&avg, &realized, &p.OpenedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Stake, _ = decimal.NewFromString(stake)
	p.AverageEntryScore, _ = decimal.NewFromString(avg)
	p.RealizedPnL, _ = decimal.NewFromString(realized)
	return &p, nil
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var stake, score, balance string
		var pnl *string
		if err := rows.Scan(&t.ID, &t.UserID, &t.TournamentID, &t.TargetID, &t.TradeType, &t.PositionType,
			&stake, &score, &pnl, &balance, &t.Timestamp); err != nil {
			return nil, err
		}
		t.StakeAmount, _ = decimal.NewFromString(stake)
		t.ScoreAtExecution, _ = decimal.NewFromString(score)
		t.BalanceAfter, _ = decimal.NewFromString(balance)
		t.PnL = optionalDecimal(pnl)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func optionalDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}
