package domain

import "time"

// ActiveAt reports whether the participant counts as present: not kicked,
// not left, and seen within the inactivity threshold.
func ActiveAt(p Participant, now time.Time, threshold time.Duration) bool {
	if p.Gone() {
		return false
	}
	return now.Sub(p.LastSeenAt) < threshold
}

// ElectHost picks the active participant with the earliest join time, or
// "" when nobody qualifies. Ties break on participant id so every
// concurrent elector computes the same answer from the same rows.
func ElectHost(participants []Participant, now time.Time, threshold time.Duration) string {
	elected := ""
	var electedJoin time.Time
	for _, p := range participants {
		if !ActiveAt(p, now, threshold) {
			continue
		}
		if elected == "" || p.JoinedAt.Before(electedJoin) ||
			(p.JoinedAt.Equal(electedJoin) && p.ID < elected) {
			elected = p.ID
			electedJoin = p.JoinedAt
		}
	}
	return elected
}

// HostValid reports whether the current host assignment still stands:
// the host must exist, not be gone, and be active.
func HostValid(hostID string, participants []Participant, now time.Time, threshold time.Duration) bool {
	if hostID == "" {
		return false
	}
	for _, p := range participants {
		if p.ID == hostID {
			return ActiveAt(p, now, threshold)
		}
	}
	return false
}
