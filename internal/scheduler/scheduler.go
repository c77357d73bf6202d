// Package scheduler drives the time-based tournament transitions: activation
// at the start date and settlement at the end date.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/attnx/tournament-engine/internal/metrics"
	"github.com/attnx/tournament-engine/internal/model"
	"github.com/attnx/tournament-engine/internal/store"
)

// Activator opens a tournament for trading.
type Activator interface {
	Activate(ctx context.Context, id string) (*model.Tournament, error)
}

// Settler settles a tournament.
type Settler interface {
	Settle(ctx context.Context, id string) ([]model.SettlementResult, error)
}

// jobTimeout bounds one activation or settlement run.
const jobTimeout = 5 * time.Minute

// Scheduler plans one-time jobs per tournament and runs a periodic sweep
// that catches transitions missed while the process was down.
type Scheduler struct {
	cron      gocron.Scheduler
	store     store.Store
	activator Activator
	settler   Settler
	sweep     time.Duration
	now       func() time.Time
}

// New creates a Scheduler. A non-positive sweep interval disables the sweep.
func New(st store.Store, a Activator, s Settler, sweep time.Duration, now func() time.Time) (*Scheduler, error) {
	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{cron: cron, store: st, activator: a, settler: s, sweep: sweep, now: now}, nil
}

// Start plans every open tournament and starts running jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Restore(ctx); err != nil {
		return err
	}
	if s.sweep > 0 {
		_, err := s.cron.NewJob(
			gocron.DurationJob(s.sweep),
			gocron.NewTask(func() { s.Sweep(context.Background()) }),
			gocron.WithName("tournament-sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
	}
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Jobs()), "sweep", s.sweep)
	return nil
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.cron.Shutdown()
}

// Restore plans jobs for every upcoming and active tournament.
func (s *Scheduler) Restore(ctx context.Context) error {
	for _, status := range []model.TournamentStatus{model.StatusUpcoming, model.StatusActive} {
		ts, err := s.store.ListTournaments(ctx, status)
		if err != nil {
			return fmt.Errorf("list %s tournaments: %w", status, err)
		}
		if status == model.StatusActive {
			metrics.ActiveTournaments.Set(float64(len(ts)))
		}
		for i := range ts {
			if err := s.Plan(&ts[i]); err != nil {
				return err
			}
		}
	}
	stuck, err := s.store.ListTournaments(ctx, model.StatusSettling)
	if err != nil {
		return fmt.Errorf("list settling tournaments: %w", err)
	}
	for _, t := range stuck {
		slog.Warn("tournament left in settling", "id", t.ID)
	}
	return nil
}

// Plan schedules activation (for upcoming tournaments) and settlement.
// Planning a tournament again replaces its jobs.
func (s *Scheduler) Plan(t *model.Tournament) error {
	id := t.ID
	s.cron.RemoveByTags(id)

	if t.Status == model.StatusUpcoming {
		if err := s.once(id, "activate", t.StartDate, func(ctx context.Context) error {
			_, err := s.activator.Activate(ctx, id)
			return err
		}); err != nil {
			return err
		}
	}
	if t.Status == model.StatusUpcoming || t.Status == model.StatusActive {
		if err := s.once(id, "settle", t.EndDate, func(ctx context.Context) error {
			_, err := s.settler.Settle(ctx, id)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) once(id, action string, at time.Time, fn func(ctx context.Context) error) error {
	start := gocron.OneTimeJobStartImmediately()
	if at.After(s.now()) {
		start = gocron.OneTimeJobStartDateTime(at)
	}
	_, err := s.cron.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() { s.run(id, action, fn) }),
		gocron.WithName(action+":"+id),
		gocron.WithTags(id),
	)
	if err != nil {
		return fmt.Errorf("schedule %s of %s: %w", action, id, err)
	}
	return nil
}

func (s *Scheduler) run(id, action string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	err := fn(ctx)
	switch {
	case err == nil:
		slog.Info("scheduled job done", "action", action, "tournament", id)
	case errors.Is(err, model.ErrAlreadySettled), errors.Is(err, model.ErrSettlementInProgress):
		slog.Debug("scheduled job skipped", "action", action, "tournament", id, "err", err)
	default:
		slog.Error("scheduled job failed", "action", action, "tournament", id, "err", err)
	}
}

// Sweep activates upcoming tournaments whose start has passed and settles
// active ones whose end has passed.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.now()
	upcoming, err := s.store.ListTournaments(ctx, model.StatusUpcoming)
	if err != nil {
		slog.Error("sweep: list upcoming", "err", err)
		return
	}
	for _, t := range upcoming {
		if !t.StartDate.After(now) {
			s.run(t.ID, "activate", func(ctx context.Context) error {
				_, err := s.activator.Activate(ctx, t.ID)
				return err
			})
		}
	}

	active, err := s.store.ListTournaments(ctx, model.StatusActive)
	if err != nil {
		slog.Error("sweep: list active", "err", err)
		return
	}
	for _, t := range active {
		if !t.EndDate.After(now) {
			s.run(t.ID, "settle", func(ctx context.Context) error {
				_, err := s.settler.Settle(ctx, t.ID)
				return err
			})
		}
	}
}
