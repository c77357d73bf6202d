package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/model"
)

type entryKey struct {
	userID       string
	tournamentID string
}

func (k entryKey) String() string { return k.tournamentID + "/" + k.userID }

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	targets     map[string]*model.Target
	tournaments map[string]*model.Tournament
	entries     map[entryKey]*model.TournamentEntry
	positions   map[entryKey]map[string]*model.Position
	trades      []model.Trade
	faults      []model.PayoutFault

	entryLocks *keyedMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		targets:     make(map[string]*model.Target),
		tournaments: make(map[string]*model.Tournament),
		entries:     make(map[entryKey]*model.TournamentEntry),
		positions:   make(map[entryKey]map[string]*model.Position),
		entryLocks:  newKeyedMutex(),
	}
}

// --- Targets ---

func (s *MemoryStore) CreateTarget(_ context.Context, t *model.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.targets[t.ID]; ok {
		return fmt.Errorf("%w: target %s", model.ErrDuplicate, t.ID)
	}
	cp := *t
	s.targets[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTarget(_ context.Context, id string) (*model.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.targets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrTargetNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTargets(_ context.Context, typ model.TargetType) ([]model.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Target, 0, len(s.targets))
	for _, t := range s.targets {
		if typ != "" && t.Type != typ {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) SetTargetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrTargetNotFound, id)
	}
	t.Active = active
	return nil
}

// --- Tournaments ---

func (s *MemoryStore) CreateTournament(_ context.Context, t *model.Tournament) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tournaments[t.ID]; ok {
		return fmt.Errorf("%w: tournament %s", model.ErrDuplicate, t.ID)
	}
	s.tournaments[t.ID] = copyTournament(t)
	return nil
}

func (s *MemoryStore) GetTournament(_ context.Context, id string) (*model.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tournamentLocked(id)
}

func (s *MemoryStore) tournamentLocked(id string) (*model.Tournament, error) {
	t, ok := s.tournaments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrTournamentNotFound, id)
	}
	return copyTournament(t), nil
}

func (s *MemoryStore) ListTournaments(_ context.Context, status model.TournamentStatus) ([]model.Tournament, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Tournament, 0, len(s.tournaments))
	for _, t := range s.tournaments {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, *copyTournament(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CompareAndSetStatus(_ context.Context, id string, from, to model.TournamentStatus) (model.TournamentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tournaments[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrTournamentNotFound, id)
	}
	if t.Status != from {
		return t.Status, fmt.Errorf("%w: %s is %s, not %s", model.ErrStatusConflict, id, t.Status, from)
	}
	t.Status = to
	return to, nil
}

// --- Entries ---

func (s *MemoryStore) CreateEntry(_ context.Context, e *model.TournamentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tournaments[e.TournamentID]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrTournamentNotFound, e.TournamentID)
	}
	if !t.AcceptsEntries() {
		return fmt.Errorf("%w: %s is %s", model.ErrTournamentClosed, e.TournamentID, t.Status)
	}
	k := entryKey{e.UserID, e.TournamentID}
	if _, ok := s.entries[k]; ok {
		return fmt.Errorf("%w: entry %s", model.ErrDuplicate, k)
	}
	cp := *e
	s.entries[k] = &cp
	return nil
}

func (s *MemoryStore) GetEntry(_ context.Context, userID, tournamentID string) (*model.TournamentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryKey{userID, tournamentID}]
	if !ok {
		return nil, fmt.Errorf("%w: user %s in %s", model.ErrEntryNotFound, userID, tournamentID)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, tournamentID string) ([]model.TournamentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TournamentEntry
	for k, e := range s.entries {
		if k.tournamentID == tournamentID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// --- Positions and trades ---

func (s *MemoryStore) ListPositions(_ context.Context, userID, tournamentID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positionsLocked(entryKey{userID, tournamentID}), nil
}

func (s *MemoryStore) positionsLocked(k entryKey) []model.Position {
	out := make([]model.Position, 0, len(s.positions[k]))
	for _, p := range s.positions[k] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

func (s *MemoryStore) ListTrades(_ context.Context, userID, tournamentID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.UserID != userID {
			continue
		}
		if tournamentID != "" && t.TournamentID != tournamentID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// WithinEntry serializes units per entry with a keyed mutex. Writes are
// staged on the tx and applied under the store lock only when fn succeeds.
func (s *MemoryStore) WithinEntry(ctx context.Context, userID, tournamentID string, fn func(tx EntryTx) error) error {
	k := entryKey{userID, tournamentID}
	unlock := s.entryLocks.Lock(k.String())
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	e, ok := s.entries[k]
	var entry model.TournamentEntry
	if ok {
		entry = *e
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: user %s in %s", model.ErrEntryNotFound, userID, tournamentID)
	}

	tx := &memTx{
		s:      s,
		key:    k,
		entry:  entry,
		staged: make(map[string]*model.Position),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// --- Settlement ---

func (s *MemoryStore) FinalizeSettlement(_ context.Context, tournamentID string, results []model.SettlementResult, settledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tournaments[tournamentID]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrTournamentNotFound, tournamentID)
	}
	if t.Status != model.StatusSettling {
		return fmt.Errorf("%w: %s is %s, not settling", model.ErrStatusConflict, tournamentID, t.Status)
	}
	for _, r := range results {
		if _, ok := s.entries[entryKey{r.UserID, tournamentID}]; !ok {
			return fmt.Errorf("%w: user %s in %s", model.ErrEntryNotFound, r.UserID, tournamentID)
		}
	}

	for _, r := range results {
		e := s.entries[entryKey{r.UserID, tournamentID}]
		value, pnl, payout, rank := r.FinalValue, r.FinalPnL, r.Payout, r.Rank
		e.FinalValue = &value
		e.FinalPnL = &pnl
		e.PayoutAmount = &payout
		e.Rank = &rank
		e.PayoutStatus = r.PayoutStatus
	}
	at := settledAt
	t.SettledAt = &at
	t.Status = model.StatusFinished
	return nil
}

func (s *MemoryStore) SetPayoutStatus(_ context.Context, userID, tournamentID string, status model.PayoutStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryKey{userID, tournamentID}]
	if !ok {
		return fmt.Errorf("%w: user %s in %s", model.ErrEntryNotFound, userID, tournamentID)
	}
	e.PayoutStatus = status
	return nil
}

func (s *MemoryStore) InsertPayoutFault(_ context.Context, f *model.PayoutFault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faults = append(s.faults, *f)
	return nil
}

func (s *MemoryStore) ListPayoutFaults(_ context.Context, tournamentID string) ([]model.PayoutFault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PayoutFault
	for _, f := range s.faults {
		if tournamentID == "" || f.TournamentID == tournamentID {
			out = append(out, f)
		}
	}
	return out, nil
}

// memTx stages one unit's writes. A nil staged position marks a delete.
type memTx struct {
	s      *MemoryStore
	key    entryKey
	entry  model.TournamentEntry
	staged map[string]*model.Position
	trades []model.Trade
}

func (tx *memTx) Entry() *model.TournamentEntry {
	cp := tx.entry
	return &cp
}

func (tx *memTx) Tournament(_ context.Context) (*model.Tournament, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.tournamentLocked(tx.key.tournamentID)
}

func (tx *memTx) SetBalance(_ context.Context, balance decimal.Decimal) error {
	tx.entry.CurrentBalance = balance
	return nil
}

func (tx *memTx) GetPosition(_ context.Context, targetID string) (*model.Position, error) {
	if p, ok := tx.staged[targetID]; ok {
		if p == nil {
			return nil, nil
		}
		cp := *p
		return &cp, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	p, ok := tx.s.positions[tx.key][targetID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (tx *memTx) PutPosition(_ context.Context, p *model.Position) error {
	cp := *p
	tx.staged[p.TargetID] = &cp
	return nil
}

func (tx *memTx) DeletePosition(_ context.Context, targetID string) error {
	tx.staged[targetID] = nil
	return nil
}

func (tx *memTx) ListPositions(_ context.Context) ([]model.Position, error) {
	tx.s.mu.RLock()
	merged := make(map[string]model.Position, len(tx.s.positions[tx.key]))
	for id, p := range tx.s.positions[tx.key] {
		merged[id] = *p
	}
	tx.s.mu.RUnlock()

	for id, p := range tx.staged {
		if p == nil {
			delete(merged, id)
			continue
		}
		merged[id] = *p
	}
	out := make([]model.Position, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out, nil
}

func (tx *memTx) InsertTrade(_ context.Context, t *model.Trade) error {
	tx.trades = append(tx.trades, *t)
	return nil
}

func (tx *memTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tx.key]
	if !ok {
		return fmt.Errorf("%w: user %s in %s", model.ErrEntryNotFound, tx.key.userID, tx.key.tournamentID)
	}
	e.CurrentBalance = tx.entry.CurrentBalance

	if len(tx.staged) > 0 && s.positions[tx.key] == nil {
		s.positions[tx.key] = make(map[string]*model.Position)
	}
	for id, p := range tx.staged {
		if p == nil {
			delete(s.positions[tx.key], id)
			continue
		}
		s.positions[tx.key][id] = p
	}
	if len(s.positions[tx.key]) == 0 {
		delete(s.positions, tx.key)
	}
	s.trades = append(s.trades, tx.trades...)
	return nil
}

func copyTournament(t *model.Tournament) *model.Tournament {
	cp := *t
	cp.PayoutTable = append([]decimal.Decimal(nil), t.PayoutTable...)
	if t.SettledAt != nil {
		at := *t.SettledAt
		cp.SettledAt = &at
	}
	return &cp
}
