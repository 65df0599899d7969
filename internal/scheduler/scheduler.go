// Package scheduler fires the reconciliation pass once per day at a fixed
// local wall-clock time.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler triggers run daily at hour:minute in loc. Runs happen on the
// scheduler's own goroutine, one at a time: a pass that overruns its interval
// delays the next tick, it never overlaps it.
type Scheduler struct {
	hour   int
	minute int
	loc    *time.Location
	run    func(ctx context.Context)
	log    *slog.Logger

	now func() time.Time // injectable for tests
}

// New creates a Scheduler. run is invoked with the Start context.
func New(hour, minute int, loc *time.Location, run func(ctx context.Context), log *slog.Logger) *Scheduler {
	return &Scheduler{
		hour:   hour,
		minute: minute,
		loc:    loc,
		run:    run,
		log:    log.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Start blocks, firing run at each daily tick, until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		next := NextFire(s.now(), s.hour, s.minute, s.loc)
		s.log.Info("next reconciliation scheduled", "at", next)

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return
		case <-timer.C:
		}

		// Synchronous: the next tick cannot fire until this run returns.
		s.run(ctx)
	}
}

// NextFire returns the first instant at hour:minute in loc strictly after
// now.
func NextFire(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
