package domain

import "time"

// ComputeTimer derives the current item's countdown from the party's
// authoritative timestamps and the observer's clock. While paused the
// result is frozen at the moment the pause started; otherwise it counts
// down from the configured duration minus active (non-paused) elapsed
// time. The result is always within [0, duration].
func ComputeTimer(startedAt, pausedAt *time.Time, accumulatedPausedMs int64, durationSec int, now time.Time) TimerState {
	total := int64(durationSec) * 1000
	if startedAt == nil {
		return TimerState{RemainingMs: total}
	}

	var elapsed int64
	if pausedAt != nil {
		elapsed = pausedAt.Sub(*startedAt).Milliseconds() - accumulatedPausedMs
	} else {
		elapsed = now.Sub(*startedAt).Milliseconds() - accumulatedPausedMs
	}

	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	if remaining > total {
		remaining = total
	}
	return TimerState{RemainingMs: remaining, Paused: pausedAt != nil}
}

// ElapsedActiveMs is the item's wall time spent unpaused, used as the
// response latency for submissions.
func ElapsedActiveMs(startedAt, pausedAt *time.Time, accumulatedPausedMs int64, now time.Time) int64 {
	if startedAt == nil {
		return 0
	}
	ref := now
	if pausedAt != nil {
		ref = *pausedAt
	}
	elapsed := ref.Sub(*startedAt).Milliseconds() - accumulatedPausedMs
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}
