package score

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/attnx/tournament-engine/internal/metrics"
	"github.com/attnx/tournament-engine/internal/model"
)

const (
	DefaultTimeout  = 2 * time.Second
	DefaultAttempts = 3

	// fetchConcurrency caps parallel lookups in CurrentMany.
	fetchConcurrency = 8
)

// Fetcher wraps a Provider with a per-attempt timeout and a bounded number
// of attempts. Every failure it returns wraps model.ErrScoreUnavailable.
type Fetcher struct {
	provider Provider
	timeout  time.Duration
	attempts int
}

// NewFetcher creates a Fetcher. Non-positive values fall back to the defaults.
func NewFetcher(p Provider, timeout time.Duration, attempts int) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	return &Fetcher{provider: p, timeout: timeout, attempts: attempts}
}

// Current returns the current score of targetID.
func (f *Fetcher) Current(ctx context.Context, targetID string) (decimal.Decimal, error) {
	var value decimal.Decimal
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		s, err := f.provider.CurrentScore(attemptCtx, targetID)
		if err != nil {
			return err
		}
		if s.Value.IsNegative() {
			return backoff.Permanent(fmt.Errorf("negative score %s for %s", s.Value, targetID))
		}
		value = s.Value
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.attempts-1)), ctx))
	if err != nil {
		metrics.ScoreLookups.WithLabelValues("error").Inc()
		if errors.Is(err, model.ErrScoreUnavailable) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %s: %v", model.ErrScoreUnavailable, targetID, err)
	}
	metrics.ScoreLookups.WithLabelValues("ok").Inc()
	return value, nil
}

// CurrentMany looks up every distinct target in ids. It fails as a whole
// if any single lookup fails.
func (f *Fetcher) CurrentMany(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	distinct := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		distinct[id] = struct{}{}
	}
	targets := make([]string, 0, len(distinct))
	for id := range distinct {
		targets = append(targets, id)
	}
	sort.Strings(targets)

	var mu sync.Mutex
	scores := make(map[string]decimal.Decimal, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, id := range targets {
		g.Go(func() error {
			v, err := f.Current(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			scores[id] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}
