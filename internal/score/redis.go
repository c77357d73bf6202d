package score

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/model"
)

// RedisProvider reads the live score feed the ingestion pipeline keeps in
// Redis, one hash per target:
//
//	HSET score:<target> value 123.45 as_of 2026-05-01T09:00:00Z
type RedisProvider struct {
	rdb *redis.Client
}

// NewRedisProvider creates a provider over rdb.
func NewRedisProvider(rdb *redis.Client) *RedisProvider {
	return &RedisProvider{rdb: rdb}
}

func (p *RedisProvider) CurrentScore(ctx context.Context, targetID string) (Score, error) {
	fields, err := p.rdb.HGetAll(ctx, scoreKey(targetID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Score{}, fmt.Errorf("%w: %v", model.ErrScoreUnavailable, err)
	}
	raw, ok := fields["value"]
	if !ok {
		return Score{}, fmt.Errorf("%w: no score for %s", model.ErrScoreUnavailable, targetID)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return Score{}, fmt.Errorf("%w: bad score %q for %s", model.ErrScoreUnavailable, raw, targetID)
	}

	s := Score{TargetID: targetID, Value: value}
	if asOf, err := time.Parse(time.RFC3339Nano, fields["as_of"]); err == nil {
		s.AsOf = asOf
	}
	return s, nil
}

// Publish writes a score the same way the ingestion pipeline does.
func (p *RedisProvider) Publish(ctx context.Context, s Score) error {
	return p.rdb.HSet(ctx, scoreKey(s.TargetID),
		"value", s.Value.String(),
		"as_of", s.AsOf.UTC().Format(time.RFC3339Nano),
	).Err()
}

func scoreKey(targetID string) string { return "score:" + targetID }
