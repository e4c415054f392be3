package domain

import (
	"testing"
	"time"
)

func TestComputeTimerNotStarted(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	state := ComputeTimer(nil, nil, 0, 25, now)
	if state.RemainingMs != 25000 || state.Paused {
		t.Fatalf("expected full duration unpaused, got %+v", state)
	}
}

func TestComputeTimerCountsDown(t *testing.T) {
	started := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

	prev := int64(25000)
	for _, elapsed := range []time.Duration{0, time.Second, 10 * time.Second, 24 * time.Second, 25 * time.Second, time.Minute} {
		state := ComputeTimer(&started, nil, 0, 25, started.Add(elapsed))
		if state.RemainingMs < 0 || state.RemainingMs > 25000 {
			t.Fatalf("remaining out of bounds at %v: %d", elapsed, state.RemainingMs)
		}
		if state.RemainingMs > prev {
			t.Fatalf("remaining increased at %v: %d > %d", elapsed, state.RemainingMs, prev)
		}
		if state.Paused {
			t.Fatalf("unexpected paused state at %v", elapsed)
		}
		prev = state.RemainingMs
	}

	if state := ComputeTimer(&started, nil, 0, 25, started.Add(30*time.Second)); state.RemainingMs != 0 {
		t.Fatalf("expected clamp to zero after expiry, got %d", state.RemainingMs)
	}
}

func TestComputeTimerFrozenWhilePaused(t *testing.T) {
	started := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	paused := started.Add(15 * time.Second)

	// Wall time keeps moving, the countdown does not.
	for _, wall := range []time.Duration{15 * time.Second, 20 * time.Second, 45 * time.Second} {
		state := ComputeTimer(&started, &paused, 0, 25, started.Add(wall))
		if !state.Paused {
			t.Fatalf("expected paused at %v", wall)
		}
		if state.RemainingMs != 10000 {
			t.Fatalf("expected 10s frozen, got %dms at %v", state.RemainingMs, wall)
		}
	}
}

func TestComputeTimerResumeRestoresRemaining(t *testing.T) {
	started := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	pausedAt := started.Add(15 * time.Second)
	resumedAt := pausedAt.Add(30 * time.Second)

	// After resuming, the 30s pause interval is folded into the
	// accumulated paused duration.
	pausedMs := resumedAt.Sub(pausedAt).Milliseconds()
	state := ComputeTimer(&started, nil, pausedMs, 25, resumedAt)
	if state.Paused {
		t.Fatalf("expected running after resume")
	}
	if state.RemainingMs != 10000 {
		t.Fatalf("expected 10s remaining immediately after resume, got %dms", state.RemainingMs)
	}

	// And the countdown continues from there.
	state = ComputeTimer(&started, nil, pausedMs, 25, resumedAt.Add(4*time.Second))
	if state.RemainingMs != 6000 {
		t.Fatalf("expected 6s remaining, got %dms", state.RemainingMs)
	}
}

func TestElapsedActiveMs(t *testing.T) {
	started := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	if got := ElapsedActiveMs(nil, nil, 0, started); got != 0 {
		t.Fatalf("expected 0 before start, got %d", got)
	}
	if got := ElapsedActiveMs(&started, nil, 2000, started.Add(7*time.Second)); got != 5000 {
		t.Fatalf("expected 5000ms active elapsed, got %d", got)
	}
	paused := started.Add(5 * time.Second)
	if got := ElapsedActiveMs(&started, &paused, 0, started.Add(time.Minute)); got != 5000 {
		t.Fatalf("expected paused elapsed frozen at 5000ms, got %d", got)
	}
}
