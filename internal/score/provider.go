// Package score reads attention scores from the ingestion side. The engine
// never computes scores; it trusts whatever the provider returns.
package score

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/model"
)

// Score is the latest attention score of a target.
type Score struct {
	TargetID string          `json:"target"`
	Value    decimal.Decimal `json:"score"`
	AsOf     time.Time       `json:"as_of"`
}

// Provider returns the current score of a target.
type Provider interface {
	CurrentScore(ctx context.Context, targetID string) (Score, error)
}

// MemoryProvider is a Provider backed by a map. Used for tests and local runs.
type MemoryProvider struct {
	mu     sync.RWMutex
	scores map[string]Score
	err    error
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{scores: make(map[string]Score)}
}

// Set records value as the current score of targetID.
func (p *MemoryProvider) Set(targetID string, value decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scores[targetID] = Score{TargetID: targetID, Value: value, AsOf: time.Now().UTC()}
}

// Fail makes every lookup return err until called again with nil.
func (p *MemoryProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *MemoryProvider) CurrentScore(_ context.Context, targetID string) (Score, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.err != nil {
		return Score{}, p.err
	}
	s, ok := p.scores[targetID]
	if !ok {
		return Score{}, fmt.Errorf("%w: no score for %s", model.ErrScoreUnavailable, targetID)
	}
	return s, nil
}
