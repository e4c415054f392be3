package app

import (
	"context"
	"sort"
	"time"

	"party-session-service/internal/domain"
)

// Snapshot is the read endpoint behind every poll and push. A cached
// snapshot is served as long as its event counter still matches the
// party's; any committed mutation bumps the counter and so invalidates
// every cached snapshot for the party on its next read. Between
// mutations, concurrent pollers cost one recomputation per TTL window.
func (s *PartyService) Snapshot(ctx context.Context, partyID, token string) (domain.Snapshot, error) {
	seq, err := s.store.EventSeq(ctx, partyID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	key := snapshotKey(partyID, token)
	if snap, ok := s.cache.get(key, seq, s.now()); ok {
		return snap, nil
	}

	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		snap, err := s.computeSnapshot(ctx, partyID, token)
		if err != nil {
			return nil, err
		}
		s.cache.put(key, snap.EventSeq, snap, s.now())
		return snap, nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return v.(domain.Snapshot), nil
}

// computeSnapshot builds a fresh read model: it refreshes the caller's
// presence, runs host failover, evaluates the reveal trigger, and then
// assembles the caller-scoped view.
func (s *PartyService) computeSnapshot(ctx context.Context, partyID, token string) (domain.Snapshot, error) {
	party, err := s.store.Party(ctx, partyID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	participants, err := s.store.Participants(ctx, party.ID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	var caller *domain.Participant
	if token != "" {
		if p, err := s.store.ParticipantByToken(ctx, party.ID, token); err == nil && !p.Gone() {
			now := s.now()
			if now.Sub(p.LastSeenAt) >= s.settings.TouchThrottle {
				if err := s.store.TouchParticipant(ctx, p.ID, now); err != nil {
					return domain.Snapshot{}, err
				}
				p.LastSeenAt = now
				for i := range participants {
					if participants[i].ID == p.ID {
						participants[i].LastSeenAt = now
					}
				}
			}
			caller = &p
		}
	}

	if err := s.ensureHost(ctx, &party, participants); err != nil {
		return domain.Snapshot{}, err
	}

	var set domain.ItemSet
	haveSet := false
	if party.Status != domain.StatusLobby {
		set, err = s.items.GetItemSet(ctx, party.ItemSetID)
		if err != nil {
			return domain.Snapshot{}, err
		}
		haveSet = true
	}

	if party.Status == domain.StatusActive && party.RevealedAt == nil &&
		haveSet && party.CurrentItem < len(set.Items) {
		if err := s.maybeReveal(ctx, party, participants, set.Items[party.CurrentItem].ID); err != nil {
			return domain.Snapshot{}, err
		}
		// Reload party and participants to observe a reveal this very
		// read may have applied, including the fastest-correct bonus.
		party, err = s.store.Party(ctx, party.ID)
		if err != nil {
			return domain.Snapshot{}, err
		}
		participants, err = s.store.Participants(ctx, party.ID)
		if err != nil {
			return domain.Snapshot{}, err
		}
	}

	// Label the snapshot with the counter as of now. A mutation landing
	// during view assembly below is missed for at most one TTL window;
	// that is what the TTL backstop is for.
	seq, err := s.store.EventSeq(ctx, party.ID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	now := s.now()
	isHost := caller != nil && caller.ID == party.HostID
	snap := domain.Snapshot{
		PartyID:     party.ID,
		JoinCode:    party.JoinCode,
		Status:      party.Status,
		Mode:        party.Mode,
		JoinLocked:  party.JoinLocked,
		Revealed:    party.RevealedAt != nil,
		Timer:       domain.ComputeTimer(party.ItemStartedAt, party.PauseStartedAt, party.AccumulatedPausedMs, party.ItemDurationSec, now),
		EventSeq:    seq,
		GeneratedAt: now,
	}

	snap.Participants = scoreboard(party, participants, now, s.settings.InactivityThreshold)
	if caller != nil {
		for i := range snap.Participants {
			if snap.Participants[i].ID == caller.ID {
				you := snap.Participants[i]
				snap.You = &you
			}
		}
	}

	if party.Status == domain.StatusActive && haveSet && party.CurrentItem < len(set.Items) {
		item := set.Items[party.CurrentItem]
		snap.Item = itemView(party, item, len(set.Items), snap.Revealed || isHost)
		if caller != nil {
			own, err := s.ownSubmission(ctx, party, caller.ID, item.ID)
			if err != nil {
				return domain.Snapshot{}, err
			}
			snap.YourAnswer = own
		}
	}

	if party.Status == domain.StatusComplete && haveSet {
		results, err := s.loadResults(ctx, party, set, participants)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.Results = results
	}
	return snap, nil
}

// Results recomputes the aggregation payload for a complete party. It is
// read-only and exposed separately so clients can fetch results without
// the full snapshot.
func (s *PartyService) Results(ctx context.Context, partyID string) (domain.Results, error) {
	party, err := s.store.Party(ctx, partyID)
	if err != nil {
		return domain.Results{}, err
	}
	if party.Status != domain.StatusComplete {
		return domain.Results{}, domain.ErrInvalidTransition
	}
	set, err := s.items.GetItemSet(ctx, party.ItemSetID)
	if err != nil {
		return domain.Results{}, err
	}
	participants, err := s.store.Participants(ctx, party.ID)
	if err != nil {
		return domain.Results{}, err
	}
	results, err := s.loadResults(ctx, party, set, participants)
	if err != nil {
		return domain.Results{}, err
	}
	return *results, nil
}

func (s *PartyService) loadResults(ctx context.Context, party domain.Party, set domain.ItemSet, participants []domain.Participant) (*domain.Results, error) {
	var answers []domain.Answer
	var assessments []domain.Assessment
	var err error
	if party.Mode == domain.ModeQuiz {
		answers, err = s.store.Answers(ctx, party.ID)
	} else {
		assessments, err = s.store.Assessments(ctx, party.ID)
	}
	if err != nil {
		return nil, err
	}
	results := domain.AggregateResults(set, participants, answers, assessments)
	return &results, nil
}

func (s *PartyService) ownSubmission(ctx context.Context, party domain.Party, participantID, itemID string) (*domain.OwnSubmission, error) {
	if party.Mode == domain.ModeQuiz {
		answers, err := s.store.AnswersForItem(ctx, party.ID, itemID)
		if err != nil {
			return nil, err
		}
		for _, a := range answers {
			if a.ParticipantID == participantID {
				choice, correct := a.Choice, a.Correct
				return &domain.OwnSubmission{ItemID: itemID, Choice: &choice, Correct: &correct, LatencyMs: a.LatencyMs}, nil
			}
		}
		return nil, nil
	}
	assessments, err := s.store.AssessmentsForItem(ctx, party.ID, itemID)
	if err != nil {
		return nil, err
	}
	for _, a := range assessments {
		if a.ParticipantID == participantID {
			knew := a.KnewIt
			return &domain.OwnSubmission{ItemID: itemID, KnewIt: &knew, LatencyMs: a.LatencyMs}, nil
		}
	}
	return nil, nil
}

// scoreboard projects the live participant list: gone participants are
// excluded, the rest ordered by total points, then join time, then name.
func scoreboard(party domain.Party, participants []domain.Participant, now time.Time, threshold time.Duration) []domain.ParticipantView {
	views := make([]domain.ParticipantView, 0, len(participants))
	joined := make(map[string]time.Time, len(participants))
	for _, p := range participants {
		if p.Gone() {
			continue
		}
		joined[p.ID] = p.JoinedAt
		views = append(views, domain.ParticipantView{
			ID:     p.ID,
			Name:   p.Name,
			Avatar: p.Avatar,
			Score:  p.Score,
			Bonus:  p.Bonus,
			Active: domain.ActiveAt(p, now, threshold),
			Host:   p.ID == party.HostID,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		vi, vj := views[i], views[j]
		if vi.Score+vi.Bonus != vj.Score+vj.Bonus {
			return vi.Score+vi.Bonus > vj.Score+vj.Bonus
		}
		if !joined[vi.ID].Equal(joined[vj.ID]) {
			return joined[vi.ID].Before(joined[vj.ID])
		}
		return vi.Name < vj.Name
	})
	return views
}

func snapshotKey(partyID, token string) string {
	if token == "" {
		return partyID + "|anon"
	}
	return partyID + "|" + token
}

func itemView(party domain.Party, item domain.Item, total int, revealed bool) *domain.ItemView {
	view := &domain.ItemView{
		ID:    item.ID,
		Index: party.CurrentItem,
		Total: total,
	}
	if party.Mode == domain.ModeQuiz {
		view.Prompt = item.Prompt
		view.Choices = item.Choices
		if revealed {
			correct := item.CorrectIndex
			view.CorrectIndex = &correct
		}
	} else {
		view.Front = item.Front
		if revealed {
			view.Back = item.Back
		}
	}
	return view
}
