package memory

import (
	"context"
	"sync"
	"time"

	"party-session-service/internal/domain"
)

// PartyStore is an in-memory implementation of app.PartyStore. All
// conditional mutations run under one lock, which gives them the same
// atomic check-then-write semantics the Postgres store gets from
// row-level transactions.
type PartyStore struct {
	mu sync.RWMutex

	parties      map[string]*domain.Party
	byCode       map[string]string
	participants map[string][]*domain.Participant // party id -> join order
	byToken      map[string]*domain.Participant   // party id + token
	answers      map[string]*domain.Answer        // party|participant|item
	assessments  map[string]*domain.Assessment
}

func NewPartyStore() *PartyStore {
	return &PartyStore{
		parties:      make(map[string]*domain.Party),
		byCode:       make(map[string]string),
		participants: make(map[string][]*domain.Participant),
		byToken:      make(map[string]*domain.Participant),
		answers:      make(map[string]*domain.Answer),
		assessments:  make(map[string]*domain.Assessment),
	}
}

func submissionKey(partyID, participantID, itemID string) string {
	return partyID + "|" + participantID + "|" + itemID
}

func tokenKey(partyID, token string) string {
	return partyID + "|" + token
}

func (s *PartyStore) CreateParty(_ context.Context, party *domain.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byCode[party.JoinCode]; taken {
		return domain.ErrCodeTaken
	}
	cp := *party
	s.parties[party.ID] = &cp
	s.byCode[party.JoinCode] = party.ID
	return nil
}

func (s *PartyStore) Party(_ context.Context, partyID string) (domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	party, ok := s.parties[partyID]
	if !ok {
		return domain.Party{}, domain.ErrPartyNotFound
	}
	return *party, nil
}

func (s *PartyStore) PartyByCode(_ context.Context, code string) (domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return domain.Party{}, domain.ErrPartyNotFound
	}
	return *s.parties[id], nil
}

func (s *PartyStore) EventSeq(_ context.Context, partyID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	party, ok := s.parties[partyID]
	if !ok {
		return 0, domain.ErrPartyNotFound
	}
	return party.EventSeq, nil
}

func (s *PartyStore) BumpEvent(_ context.Context, partyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return 0, domain.ErrPartyNotFound
	}
	party.EventSeq++
	return party.EventSeq, nil
}

func (s *PartyStore) AddParticipant(_ context.Context, p *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parties[p.PartyID]; !ok {
		return domain.ErrPartyNotFound
	}
	cp := *p
	s.participants[p.PartyID] = append(s.participants[p.PartyID], &cp)
	s.byToken[tokenKey(p.PartyID, p.Token)] = &cp
	return nil
}

func (s *PartyStore) ParticipantByToken(_ context.Context, partyID, token string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byToken[tokenKey(partyID, token)]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return *p, nil
}

func (s *PartyStore) Participants(_ context.Context, partyID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.parties[partyID]; !ok {
		return nil, domain.ErrPartyNotFound
	}
	out := make([]domain.Participant, 0, len(s.participants[partyID]))
	for _, p := range s.participants[partyID] {
		out = append(out, *p)
	}
	return out, nil
}

func (s *PartyStore) TouchParticipant(_ context.Context, participantID string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findParticipant(participantID)
	if p == nil {
		return domain.ErrParticipantNotFound
	}
	if seenAt.After(p.LastSeenAt) {
		p.LastSeenAt = seenAt
	}
	return nil
}

func (s *PartyStore) ClaimHost(_ context.Context, partyID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return false, domain.ErrPartyNotFound
	}
	if party.HostID != "" {
		return false, nil
	}
	party.HostID = participantID
	return true, nil
}

func (s *PartyStore) SetHost(_ context.Context, partyID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return domain.ErrPartyNotFound
	}
	party.HostID = participantID
	return nil
}

func (s *PartyStore) MarkKicked(_ context.Context, partyID, participantID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findIn(partyID, participantID)
	if p == nil {
		return false, domain.ErrParticipantNotFound
	}
	if p.Gone() {
		return false, nil
	}
	kicked := at
	p.KickedAt = &kicked
	return true, nil
}

func (s *PartyStore) MarkLeft(_ context.Context, partyID, participantID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findIn(partyID, participantID)
	if p == nil {
		return false, domain.ErrParticipantNotFound
	}
	if p.Gone() {
		return false, nil
	}
	left := at
	p.LeftAt = &left
	return true, nil
}

func (s *PartyStore) AddScore(_ context.Context, participantID string, base, bonus int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findParticipant(participantID)
	if p == nil {
		return domain.ErrParticipantNotFound
	}
	p.Score += base
	p.Bonus += bonus
	return nil
}

func (s *PartyStore) StartParty(_ context.Context, partyID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return false, domain.ErrPartyNotFound
	}
	if party.Status != domain.StatusLobby {
		return false, nil
	}
	started := at
	party.Status = domain.StatusActive
	party.CurrentItem = 0
	party.ItemStartedAt = &started
	party.PauseStartedAt = nil
	party.AccumulatedPausedMs = 0
	party.RevealedAt = nil
	return true, nil
}

func (s *PartyStore) AdvanceParty(_ context.Context, partyID string, fromIndex int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return false, domain.ErrPartyNotFound
	}
	if party.Status != domain.StatusActive || party.CurrentItem != fromIndex {
		return false, nil
	}
	started := at
	party.CurrentItem++
	party.ItemStartedAt = &started
	party.PauseStartedAt = nil
	party.AccumulatedPausedMs = 0
	party.RevealedAt = nil
	return true, nil
}

func (s *PartyStore) CompleteParty(_ context.Context, partyID string, fromIndex int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return false, domain.ErrPartyNotFound
	}
	if party.Status != domain.StatusActive || party.CurrentItem != fromIndex {
		return false, nil
	}
	party.Status = domain.StatusComplete
	return true, nil
}

func (s *PartyStore) RevealParty(_ context.Context, partyID string, itemIndex int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return false, domain.ErrPartyNotFound
	}
	if party.Status != domain.StatusActive || party.CurrentItem != itemIndex || party.RevealedAt != nil {
		return false, nil
	}
	revealed := at
	party.RevealedAt = &revealed
	return true, nil
}

func (s *PartyStore) PauseParty(_ context.Context, partyID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return false, domain.ErrPartyNotFound
	}
	if party.Status != domain.StatusActive || party.PauseStartedAt != nil {
		return false, nil
	}
	paused := at
	party.PauseStartedAt = &paused
	return true, nil
}

func (s *PartyStore) ResumeParty(_ context.Context, partyID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return false, domain.ErrPartyNotFound
	}
	if party.Status != domain.StatusActive || party.PauseStartedAt == nil {
		return false, nil
	}
	party.AccumulatedPausedMs += at.Sub(*party.PauseStartedAt).Milliseconds()
	party.PauseStartedAt = nil
	return true, nil
}

func (s *PartyStore) SetItemDuration(_ context.Context, partyID string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return domain.ErrPartyNotFound
	}
	party.ItemDurationSec = seconds
	return nil
}

func (s *PartyStore) SetJoinLocked(_ context.Context, partyID string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return domain.ErrPartyNotFound
	}
	party.JoinLocked = locked
	return nil
}

func (s *PartyStore) InsertAnswer(_ context.Context, a *domain.Answer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := submissionKey(a.PartyID, a.ParticipantID, a.ItemID)
	if _, exists := s.answers[key]; exists {
		return false, nil
	}
	cp := *a
	s.answers[key] = &cp
	return true, nil
}

func (s *PartyStore) InsertAssessment(_ context.Context, a *domain.Assessment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := submissionKey(a.PartyID, a.ParticipantID, a.ItemID)
	if _, exists := s.assessments[key]; exists {
		return false, nil
	}
	cp := *a
	s.assessments[key] = &cp
	return true, nil
}

func (s *PartyStore) AnswersForItem(_ context.Context, partyID, itemID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for _, a := range s.answers {
		if a.PartyID == partyID && a.ItemID == itemID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *PartyStore) AssessmentsForItem(_ context.Context, partyID, itemID string) ([]domain.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Assessment
	for _, a := range s.assessments {
		if a.PartyID == partyID && a.ItemID == itemID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *PartyStore) Answers(_ context.Context, partyID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for _, a := range s.answers {
		if a.PartyID == partyID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *PartyStore) Assessments(_ context.Context, partyID string) ([]domain.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Assessment
	for _, a := range s.assessments {
		if a.PartyID == partyID {
			out = append(out, *a)
		}
	}
	return out, nil
}

// findParticipant scans all parties; participant ids are globally unique.
func (s *PartyStore) findParticipant(participantID string) *domain.Participant {
	for _, list := range s.participants {
		for _, p := range list {
			if p.ID == participantID {
				return p
			}
		}
	}
	return nil
}

func (s *PartyStore) findIn(partyID, participantID string) *domain.Participant {
	for _, p := range s.participants[partyID] {
		if p.ID == participantID {
			return p
		}
	}
	return nil
}
