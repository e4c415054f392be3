package domain

import (
	"testing"
	"time"
)

func participantAt(id string, joined, seen time.Time) Participant {
	return Participant{ID: id, Name: id, JoinedAt: joined, LastSeenAt: seen}
}

func TestActiveAt(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	threshold := 30 * time.Second

	fresh := participantAt("p1", now.Add(-time.Minute), now.Add(-5*time.Second))
	if !ActiveAt(fresh, now, threshold) {
		t.Fatalf("recently seen participant should be active")
	}

	stale := participantAt("p2", now.Add(-time.Minute), now.Add(-31*time.Second))
	if ActiveAt(stale, now, threshold) {
		t.Fatalf("stale participant should be inactive")
	}

	kicked := fresh
	kickedAt := now.Add(-time.Second)
	kicked.KickedAt = &kickedAt
	if ActiveAt(kicked, now, threshold) {
		t.Fatalf("kicked participant should never be active")
	}
}

func TestElectHostEarliestJoiner(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	threshold := 30 * time.Second

	ps := []Participant{
		participantAt("p-b", now.Add(-3*time.Minute), now),
		participantAt("p-a", now.Add(-5*time.Minute), now),
		participantAt("p-c", now.Add(-time.Minute), now),
	}
	if got := ElectHost(ps, now, threshold); got != "p-a" {
		t.Fatalf("expected earliest joiner p-a, got %q", got)
	}

	// The earliest joiner going stale passes the role down the join order.
	ps[1].LastSeenAt = now.Add(-time.Minute)
	if got := ElectHost(ps, now, threshold); got != "p-b" {
		t.Fatalf("expected p-b after p-a went stale, got %q", got)
	}
}

func TestElectHostTieBreaksOnID(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	joined := now.Add(-time.Minute)

	ps := []Participant{
		participantAt("p-z", joined, now),
		participantAt("p-a", joined, now),
	}
	if got := ElectHost(ps, now, 30*time.Second); got != "p-a" {
		t.Fatalf("expected id tiebreak to pick p-a, got %q", got)
	}
}

func TestElectHostNobodyActive(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	ps := []Participant{
		participantAt("p1", now.Add(-time.Hour), now.Add(-time.Hour)),
	}
	if got := ElectHost(ps, now, 30*time.Second); got != "" {
		t.Fatalf("expected no host, got %q", got)
	}
}

func TestHostValid(t *testing.T) {
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	threshold := 30 * time.Second
	ps := []Participant{
		participantAt("p1", now.Add(-time.Minute), now),
		participantAt("p2", now.Add(-time.Minute), now.Add(-time.Minute)),
	}

	if !HostValid("p1", ps, now, threshold) {
		t.Fatalf("active host should be valid")
	}
	if HostValid("p2", ps, now, threshold) {
		t.Fatalf("stale host should be invalid")
	}
	if HostValid("p3", ps, now, threshold) {
		t.Fatalf("unknown host should be invalid")
	}
	if HostValid("", ps, now, threshold) {
		t.Fatalf("empty host should be invalid")
	}
}
