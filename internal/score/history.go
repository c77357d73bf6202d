package score

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Point is one historical observation of a target's score.
type Point struct {
	At    time.Time       `json:"at"`
	Value decimal.Decimal `json:"score"`
}

// History returns a target's score series for charts. It is read-only and
// plays no part in trade pricing.
type History interface {
	Series(ctx context.Context, targetID string, from, to time.Time) ([]Point, error)
}

// MemoryHistory is a History backed by a map.
type MemoryHistory struct {
	mu     sync.RWMutex
	points map[string][]Point
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{points: make(map[string][]Point)}
}

// Record appends an observation.
func (h *MemoryHistory) Record(targetID string, at time.Time, value decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pts := append(h.points[targetID], Point{At: at, Value: value})
	sort.Slice(pts, func(i, j int) bool { return pts[i].At.Before(pts[j].At) })
	h.points[targetID] = pts
}

// Series returns points with from <= At < to, oldest first.
func (h *MemoryHistory) Series(_ context.Context, targetID string, from, to time.Time) ([]Point, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := []Point{}
	for _, p := range h.points[targetID] {
		if !p.At.Before(from) && p.At.Before(to) {
			out = append(out, p)
		}
	}
	return out, nil
}
