package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/attnx/tournament-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for targets and tournaments. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the primary.
//
// Entries, positions and trades are never cached: the atomic unit and the
// settlement snapshot always read the primary.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateTarget(ctx context.Context, t *model.Target) error {
	if err := s.Store.CreateTarget(ctx, t); err != nil {
		return err
	}
	s.invalidate(ctx, targetKey(t.ID))
	return nil
}

func (s *CachedStore) SetTargetActive(ctx context.Context, id string, active bool) error {
	if err := s.Store.SetTargetActive(ctx, id, active); err != nil {
		return err
	}
	s.invalidate(ctx, targetKey(id))
	return nil
}

func (s *CachedStore) CreateTournament(ctx context.Context, t *model.Tournament) error {
	if err := s.Store.CreateTournament(ctx, t); err != nil {
		return err
	}
	s.invalidate(ctx, tournamentKey(t.ID))
	return nil
}

func (s *CachedStore) CompareAndSetStatus(ctx context.Context, id string, from, to model.TournamentStatus) (model.TournamentStatus, error) {
	status, err := s.Store.CompareAndSetStatus(ctx, id, from, to)
	s.invalidate(ctx, tournamentKey(id))
	return status, err
}

func (s *CachedStore) FinalizeSettlement(ctx context.Context, tournamentID string, results []model.SettlementResult, settledAt time.Time) error {
	err := s.Store.FinalizeSettlement(ctx, tournamentID, results, settledAt)
	s.invalidate(ctx, tournamentKey(tournamentID))
	return err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	key := targetKey(id)
	var t model.Target
	if s.get(ctx, key, &t) {
		return &t, nil
	}

	// Cache miss: read from primary. The generation is taken first so a
	// write that lands during the read keeps the result out of the cache.
	gen := s.generation(ctx, key)
	target, err := s.Store.GetTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, gen, target)
	return target, nil
}

func (s *CachedStore) GetTournament(ctx context.Context, id string) (*model.Tournament, error) {
	key := tournamentKey(id)
	var t model.Tournament
	if s.get(ctx, key, &t) {
		return &t, nil
	}

	gen := s.generation(ctx, key)
	tour, err := s.Store.GetTournament(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, gen, tour)
	return tour, nil
}

// --- Cache helpers ---
//
// Every cached key has a generation counter under genKey(key). Writers bump
// it before deleting the key; readers only fill the cache if the counter
// still has the value they saw before reading the primary.

func (s *CachedStore) get(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// generation returns the key's current generation, or "" when Redis cannot
// be read (the result is then not cached).
func (s *CachedStore) generation(ctx context.Context, key string) string {
	gen, err := s.rdb.Get(ctx, genKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "0"
	}
	if err != nil {
		return ""
	}
	return gen
}

func (s *CachedStore) fill(ctx context.Context, key, gen string, v any) {
	if gen == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey(key)).Result()
		if errors.Is(err, redis.Nil) {
			cur = "0"
		} else if err != nil {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, genKey(key))
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		slog.Warn("cache fill failed", "key", key, "err", err)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Incr(ctx, genKey(key)).Err(); err != nil {
		slog.Warn("cache generation bump failed", "key", key, "err", err)
	}
	s.rdb.Del(ctx, key)
}

func targetKey(id string) string     { return fmt.Sprintf("target:%s", id) }
func tournamentKey(id string) string { return fmt.Sprintf("tournament:%s", id) }
func genKey(key string) string       { return key + ":gen" }
