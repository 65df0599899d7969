package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func taipei(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		t.Fatalf("loading timezone: %v", err)
	}
	return loc
}

func TestNextFireLaterToday(t *testing.T) {
	loc := taipei(t)
	now := time.Date(2026, 8, 31, 6, 0, 0, 0, loc)

	next := NextFire(now, 8, 30, loc)

	want := time.Date(2026, 8, 31, 8, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("NextFire = %v, want %v", next, want)
	}
}

func TestNextFireRollsToTomorrow(t *testing.T) {
	loc := taipei(t)
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, loc)

	next := NextFire(now, 8, 30, loc)

	want := time.Date(2026, 9, 1, 8, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("NextFire = %v, want %v", next, want)
	}
}

func TestNextFireExactlyAtFireTimeRolls(t *testing.T) {
	loc := taipei(t)
	now := time.Date(2026, 8, 31, 8, 30, 0, 0, loc)

	next := NextFire(now, 8, 30, loc)

	want := time.Date(2026, 9, 1, 8, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("NextFire at the fire instant = %v, want next day %v", next, want)
	}
}

func TestNextFireConvertsTimezone(t *testing.T) {
	loc := taipei(t)
	// 01:00 UTC is 09:00 in Taipei, already past an 08:30 fire time.
	now := time.Date(2026, 8, 31, 1, 0, 0, 0, time.UTC)

	next := NextFire(now, 8, 30, loc)

	want := time.Date(2026, 9, 1, 8, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("NextFire = %v, want %v", next, want)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	loc := taipei(t)
	s := New(8, 30, loc, func(context.Context) {
		t.Error("run fired; fire time is far away")
	}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

func TestStartFiresRun(t *testing.T) {
	loc := taipei(t)
	fired := make(chan struct{}, 1)

	s := New(8, 30, loc, func(context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, slog.New(slog.DiscardHandler))

	// Freeze "now" just before the fire time so the first tick is imminent.
	base := time.Date(2026, 8, 31, 8, 29, 59, 950_000_000, loc)
	s.now = func() time.Time { return base }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Start(ctx)

	select {
	case <-fired:
	case <-ctx.Done():
		t.Fatal("run did not fire before timeout")
	}
}
