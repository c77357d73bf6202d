// Package catalog is the registry of tradable targets. Curation happens
// elsewhere; the engine only needs to know whether a target exists and is
// approved for trading.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/attnx/tournament-engine/internal/model"
	"github.com/attnx/tournament-engine/internal/store"
)

var validTypes = map[model.TargetType]bool{
	model.TargetPolitician: true,
	model.TargetCelebrity:  true,
	model.TargetCountry:    true,
	model.TargetGame:       true,
	model.TargetStock:      true,
	model.TargetCrypto:     true,
}

// ParseTargetType validates a target type name, case-insensitively.
func ParseTargetType(s string) (model.TargetType, error) {
	t := model.TargetType(strings.ToLower(strings.TrimSpace(s)))
	if !validTypes[t] {
		return "", fmt.Errorf("%w: %q", model.ErrInvalidTargetType, s)
	}
	return t, nil
}

// Tradability answers whether a target may be traded right now.
type Tradability interface {
	IsTradable(ctx context.Context, targetID string) (bool, error)
}

// Catalog manages targets on top of the store.
type Catalog struct {
	store store.Store
	now   func() time.Time
}

// New creates a Catalog.
func New(st store.Store) *Catalog {
	return &Catalog{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// CreateTarget registers a target. An empty ID is derived from the name,
// e.g. "Donald Trump" -> "donald-trump". New targets start inactive unless
// active is set.
func (c *Catalog) CreateTarget(ctx context.Context, id, name, typ string, active bool) (*model.Target, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: target name is required", model.ErrInvalidRequest)
	}
	tt, err := ParseTargetType(typ)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = slug.Make(name)
	}
	if !slug.IsSlug(id) {
		return nil, fmt.Errorf("%w: target id %q must be a lowercase slug", model.ErrInvalidRequest, id)
	}

	t := &model.Target{
		ID:        id,
		Name:      name,
		Type:      tt,
		Active:    active,
		CreatedAt: c.now(),
	}
	if err := c.store.CreateTarget(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTarget returns a target by ID.
func (c *Catalog) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	return c.store.GetTarget(ctx, id)
}

// ListTargets returns all targets, optionally filtered by type.
func (c *Catalog) ListTargets(ctx context.Context, typ string) ([]model.Target, error) {
	var tt model.TargetType
	if typ != "" {
		var err error
		if tt, err = ParseTargetType(typ); err != nil {
			return nil, err
		}
	}
	return c.store.ListTargets(ctx, tt)
}

// SetActive approves or withdraws a target. Positions on a withdrawn target
// can still be reduced and flattened; only buys are refused.
func (c *Catalog) SetActive(ctx context.Context, id string, active bool) error {
	return c.store.SetTargetActive(ctx, id, active)
}

// IsTradable reports whether id exists and is active.
func (c *Catalog) IsTradable(ctx context.Context, id string) (bool, error) {
	t, err := c.store.GetTarget(ctx, id)
	if errors.Is(err, model.ErrTargetNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.Active, nil
}
