package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"party-session-service/internal/domain"
)

// PartyStore abstracts the durable party state (in-memory, Postgres, etc).
// Conditional mutations return whether they took effect; the store must
// apply them atomically so concurrent callers serialize on the row.
type PartyStore interface {
	CreateParty(ctx context.Context, party *domain.Party) error
	Party(ctx context.Context, partyID string) (domain.Party, error)
	PartyByCode(ctx context.Context, code string) (domain.Party, error)
	EventSeq(ctx context.Context, partyID string) (int64, error)
	BumpEvent(ctx context.Context, partyID string) (int64, error)

	AddParticipant(ctx context.Context, p *domain.Participant) error
	ParticipantByToken(ctx context.Context, partyID, token string) (domain.Participant, error)
	Participants(ctx context.Context, partyID string) ([]domain.Participant, error)
	TouchParticipant(ctx context.Context, participantID string, seenAt time.Time) error
	ClaimHost(ctx context.Context, partyID, participantID string) (bool, error)
	SetHost(ctx context.Context, partyID, participantID string) error
	MarkKicked(ctx context.Context, partyID, participantID string, at time.Time) (bool, error)
	MarkLeft(ctx context.Context, partyID, participantID string, at time.Time) (bool, error)
	AddScore(ctx context.Context, participantID string, base, bonus int) error

	StartParty(ctx context.Context, partyID string, at time.Time) (bool, error)
	AdvanceParty(ctx context.Context, partyID string, fromIndex int, at time.Time) (bool, error)
	CompleteParty(ctx context.Context, partyID string, fromIndex int) (bool, error)
	RevealParty(ctx context.Context, partyID string, itemIndex int, at time.Time) (bool, error)
	PauseParty(ctx context.Context, partyID string, at time.Time) (bool, error)
	ResumeParty(ctx context.Context, partyID string, at time.Time) (bool, error)
	SetItemDuration(ctx context.Context, partyID string, seconds int) error
	SetJoinLocked(ctx context.Context, partyID string, locked bool) error

	InsertAnswer(ctx context.Context, a *domain.Answer) (bool, error)
	InsertAssessment(ctx context.Context, a *domain.Assessment) (bool, error)
	AnswersForItem(ctx context.Context, partyID, itemID string) ([]domain.Answer, error)
	AssessmentsForItem(ctx context.Context, partyID, itemID string) ([]domain.Assessment, error)
	Answers(ctx context.Context, partyID string) ([]domain.Answer, error)
	Assessments(ctx context.Context, partyID string) ([]domain.Assessment, error)
}

// ItemRepository loads item sets (from cache/backing store).
type ItemRepository interface {
	GetItemSet(ctx context.Context, setID string) (domain.ItemSet, error)
}

// Scoring constants. The bonus goes to the single fastest correct
// respondent per item and is applied exactly once, by whichever caller
// wins the reveal compare-and-set.
const (
	basePoints   = 100
	fastestBonus = 100
)

// Settings tunes the time-dependent behavior of the engine.
type Settings struct {
	InactivityThreshold time.Duration
	SnapshotTTL         time.Duration
	TouchThrottle       time.Duration
	DefaultDurationSec  int
	JoinCodeLength      int
}

func (s Settings) withDefaults() Settings {
	if s.InactivityThreshold <= 0 {
		s.InactivityThreshold = 30 * time.Second
	}
	if s.SnapshotTTL <= 0 {
		s.SnapshotTTL = time.Second
	}
	if s.TouchThrottle <= 0 {
		s.TouchThrottle = 5 * time.Second
	}
	if s.DefaultDurationSec <= 0 {
		s.DefaultDurationSec = 30
	}
	if s.JoinCodeLength <= 0 {
		s.JoinCodeLength = 6
	}
	return s
}

// PartyService contains the party use cases: the session state machine,
// the lazy reveal/failover evaluation, and the cached read path.
type PartyService struct {
	store    PartyStore
	items    ItemRepository
	settings Settings
	cache    *snapshotCache
	notify   *notifier
	sf       singleflight.Group
	now      func() time.Time
}

// Option customizes a PartyService.
type Option func(*PartyService)

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *PartyService) { s.now = now }
}

func NewPartyService(store PartyStore, items ItemRepository, settings Settings, opts ...Option) *PartyService {
	settings = settings.withDefaults()
	s := &PartyService{
		store:    store,
		items:    items,
		settings: settings,
		cache:    newSnapshotCache(settings.SnapshotTTL),
		notify:   newNotifier(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParty creates a lobby for the given item set. The creator is not a
// participant yet; the first joiner becomes host.
func (s *PartyService) CreateParty(ctx context.Context, mode domain.PartyMode, itemSetID string) (domain.Party, error) {
	set, err := s.items.GetItemSet(ctx, itemSetID)
	if err != nil {
		return domain.Party{}, err
	}
	if set.Mode != mode || len(set.Items) == 0 {
		return domain.Party{}, domain.ErrItemSetNotFound
	}

	now := s.now()
	party := domain.Party{
		ID:              uuid.NewString(),
		ItemSetID:       itemSetID,
		Status:          domain.StatusLobby,
		Mode:            mode,
		ItemDurationSec: s.settings.DefaultDurationSec,
		CreatedAt:       now,
	}
	// Short human-entered codes can collide; regenerate and retry.
	for attempt := 0; attempt < 5; attempt++ {
		party.JoinCode = newJoinCode(s.settings.JoinCodeLength)
		err = s.store.CreateParty(ctx, &party)
		if err == nil {
			return party, nil
		}
		if !errors.Is(err, domain.ErrCodeTaken) {
			return domain.Party{}, err
		}
	}
	return domain.Party{}, err
}

// Join registers a participant via the party's join code. A rejoin token
// from a previous join lets a disconnected participant resume their seat;
// kicked participants are rejected permanently.
func (s *PartyService) Join(ctx context.Context, code, name, avatar, rejoinToken string) (domain.Participant, domain.Snapshot, error) {
	party, err := s.store.PartyByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return domain.Participant{}, domain.Snapshot{}, err
	}

	if rejoinToken != "" {
		existing, err := s.store.ParticipantByToken(ctx, party.ID, rejoinToken)
		if err == nil {
			if existing.KickedAt != nil {
				return domain.Participant{}, domain.Snapshot{}, domain.ErrKicked
			}
			if existing.LeftAt == nil {
				if err := s.store.TouchParticipant(ctx, existing.ID, s.now()); err != nil {
					return domain.Participant{}, domain.Snapshot{}, err
				}
				snap, err := s.Snapshot(ctx, party.ID, existing.Token)
				return existing, snap, err
			}
		}
	}

	if party.JoinLocked {
		return domain.Participant{}, domain.Snapshot{}, domain.ErrJoinLocked
	}

	now := s.now()
	participant := domain.Participant{
		ID:         uuid.NewString(),
		PartyID:    party.ID,
		Name:       strings.TrimSpace(name),
		Avatar:     avatar,
		Token:      newToken(),
		JoinedAt:   now,
		LastSeenAt: now,
	}
	if err := s.store.AddParticipant(ctx, &participant); err != nil {
		return domain.Participant{}, domain.Snapshot{}, err
	}
	if party.HostID == "" {
		// First joiner becomes host; losing this race to another joiner is fine.
		if _, err := s.store.ClaimHost(ctx, party.ID, participant.ID); err != nil {
			return domain.Participant{}, domain.Snapshot{}, err
		}
	}
	s.bump(ctx, party.ID)

	snap, err := s.Snapshot(ctx, party.ID, participant.Token)
	return participant, snap, err
}

// Leave marks the caller as having left. If they were host, the next read
// reassigns the role.
func (s *PartyService) Leave(ctx context.Context, partyID, token string) error {
	party, caller, _, err := s.resolve(ctx, partyID, token)
	if err != nil {
		return err
	}
	changed, err := s.store.MarkLeft(ctx, party.ID, caller.ID, s.now())
	if err != nil {
		return err
	}
	if changed {
		s.bump(ctx, party.ID)
	}
	return nil
}

// Start moves the party from lobby to active and begins the first item.
func (s *PartyService) Start(ctx context.Context, partyID, token string) (domain.Snapshot, error) {
	party, _, err := s.authorizeHost(ctx, partyID, token)
	if err != nil {
		return domain.Snapshot{}, err
	}
	ok, err := s.store.StartParty(ctx, party.ID, s.now())
	if err != nil {
		return domain.Snapshot{}, err
	}
	if !ok {
		// Already started or complete; only the lobby transition is legal.
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}
	s.bump(ctx, party.ID)
	return s.Snapshot(ctx, partyID, token)
}

// Advance moves to the next item, or completes the party past the last
// one. The host may advance even if not everyone answered.
func (s *PartyService) Advance(ctx context.Context, partyID, token string) (domain.Snapshot, error) {
	party, _, err := s.authorizeHost(ctx, partyID, token)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if party.Status != domain.StatusActive {
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}
	set, err := s.items.GetItemSet(ctx, party.ItemSetID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	from := party.CurrentItem
	var ok bool
	if from+1 >= len(set.Items) {
		ok, err = s.store.CompleteParty(ctx, party.ID, from)
	} else {
		ok, err = s.store.AdvanceParty(ctx, party.ID, from, s.now())
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	if ok {
		s.bump(ctx, party.ID)
	} else {
		// Lost a race with a concurrent advance: fine if the party moved on,
		// an error if it is somehow still where we left it.
		cur, err := s.store.Party(ctx, party.ID)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if cur.Status != domain.StatusComplete && cur.CurrentItem <= from {
			return domain.Snapshot{}, domain.ErrInvalidTransition
		}
	}
	return s.Snapshot(ctx, partyID, token)
}

// Reveal exposes the current item's answer ahead of the automatic
// triggers. Losing the compare-and-set to a concurrent reveal is success:
// the end state is identical.
func (s *PartyService) Reveal(ctx context.Context, partyID, token string) (domain.Snapshot, error) {
	party, _, err := s.authorizeHost(ctx, partyID, token)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if party.Status != domain.StatusActive {
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}
	if _, err := s.tryReveal(ctx, party); err != nil {
		return domain.Snapshot{}, err
	}
	return s.Snapshot(ctx, partyID, token)
}

// Pause freezes the current item's countdown. Pausing an already paused
// party is a no-op.
func (s *PartyService) Pause(ctx context.Context, partyID, token string) (domain.Snapshot, error) {
	party, _, err := s.authorizeHost(ctx, partyID, token)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if party.Status != domain.StatusActive {
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}
	ok, err := s.store.PauseParty(ctx, party.ID, s.now())
	if err != nil {
		return domain.Snapshot{}, err
	}
	if ok {
		s.bump(ctx, party.ID)
	}
	return s.Snapshot(ctx, partyID, token)
}

// Resume folds the pause interval into the accumulated paused duration so
// the countdown continues where it stopped.
func (s *PartyService) Resume(ctx context.Context, partyID, token string) (domain.Snapshot, error) {
	party, _, err := s.authorizeHost(ctx, partyID, token)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if party.Status != domain.StatusActive {
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}
	ok, err := s.store.ResumeParty(ctx, party.ID, s.now())
	if err != nil {
		return domain.Snapshot{}, err
	}
	if ok {
		s.bump(ctx, party.ID)
	}
	return s.Snapshot(ctx, partyID, token)
}

// SetItemDuration changes the per-item countdown for subsequent timing.
func (s *PartyService) SetItemDuration(ctx context.Context, partyID, token string, seconds int) (domain.Snapshot, error) {
	party, _, err := s.authorizeHost(ctx, partyID, token)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if seconds <= 0 {
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}
	if err := s.store.SetItemDuration(ctx, party.ID, seconds); err != nil {
		return domain.Snapshot{}, err
	}
	s.bump(ctx, party.ID)
	return s.Snapshot(ctx, partyID, token)
}

// SetJoinLocked locks or unlocks joining.
func (s *PartyService) SetJoinLocked(ctx context.Context, partyID, token string, locked bool) (domain.Snapshot, error) {
	party, _, err := s.authorizeHost(ctx, partyID, token)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := s.store.SetJoinLocked(ctx, party.ID, locked); err != nil {
		return domain.Snapshot{}, err
	}
	s.bump(ctx, party.ID)
	return s.Snapshot(ctx, partyID, token)
}

// Kick removes a non-host participant. Their submissions remain for
// aggregation but they are excluded from presence and scoreboards.
func (s *PartyService) Kick(ctx context.Context, partyID, token, participantID string) (domain.Snapshot, error) {
	party, _, err := s.authorizeHost(ctx, partyID, token)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if participantID == party.HostID {
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}
	changed, err := s.store.MarkKicked(ctx, party.ID, participantID, s.now())
	if err != nil {
		return domain.Snapshot{}, err
	}
	if changed {
		s.bump(ctx, party.ID)
	}
	return s.Snapshot(ctx, partyID, token)
}

// Submit records the caller's answer (quiz) or self-assessment
// (flashcards) for the current item. Duplicates for the same item are
// rejected; the first row always wins. When the last active participant
// submits, the reveal fires immediately.
func (s *PartyService) Submit(ctx context.Context, partyID, token, itemID string, choice *int, knewIt *bool) (domain.Snapshot, error) {
	party, caller, participants, err := s.resolve(ctx, partyID, token)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if party.Status != domain.StatusActive || party.RevealedAt != nil {
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}
	set, err := s.items.GetItemSet(ctx, party.ItemSetID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if party.CurrentItem >= len(set.Items) {
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}
	item := set.Items[party.CurrentItem]
	if itemID != item.ID {
		// Stale submit for an item the party already moved past.
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}

	now := s.now()
	latency := domain.ElapsedActiveMs(party.ItemStartedAt, party.PauseStartedAt, party.AccumulatedPausedMs, now)

	switch party.Mode {
	case domain.ModeQuiz:
		if choice == nil || *choice < 0 || *choice >= len(item.Choices) {
			return domain.Snapshot{}, domain.ErrInvalidTransition
		}
		answer := domain.Answer{
			PartyID:       party.ID,
			ParticipantID: caller.ID,
			ItemID:        item.ID,
			Choice:        *choice,
			Correct:       *choice == item.CorrectIndex,
			LatencyMs:     latency,
			CreatedAt:     now,
		}
		inserted, err := s.store.InsertAnswer(ctx, &answer)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if !inserted {
			return domain.Snapshot{}, domain.ErrAlreadySubmitted
		}
		if answer.Correct {
			if err := s.store.AddScore(ctx, caller.ID, basePoints, 0); err != nil {
				return domain.Snapshot{}, err
			}
		}
	case domain.ModeFlashcards:
		if knewIt == nil {
			return domain.Snapshot{}, domain.ErrInvalidTransition
		}
		assessment := domain.Assessment{
			PartyID:       party.ID,
			ParticipantID: caller.ID,
			ItemID:        item.ID,
			KnewIt:        *knewIt,
			LatencyMs:     latency,
			CreatedAt:     now,
		}
		inserted, err := s.store.InsertAssessment(ctx, &assessment)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if !inserted {
			return domain.Snapshot{}, domain.ErrAlreadySubmitted
		}
		if assessment.KnewIt {
			if err := s.store.AddScore(ctx, caller.ID, basePoints, 0); err != nil {
				return domain.Snapshot{}, err
			}
		}
	default:
		return domain.Snapshot{}, domain.ErrInvalidTransition
	}
	s.bump(ctx, party.ID)

	if err := s.maybeReveal(ctx, party, participants, item.ID); err != nil {
		return domain.Snapshot{}, err
	}
	return s.Snapshot(ctx, partyID, token)
}

// Subscribe returns a channel signalled whenever the party's state
// changes. The caller must invoke cancel to avoid leaks.
func (s *PartyService) Subscribe(partyID string) (<-chan struct{}, func()) {
	return s.notify.Subscribe(partyID)
}

// resolve loads the party, its participants, and the caller, refreshes
// the caller's presence, and runs host failover so stale host references
// cannot act after the role moved.
func (s *PartyService) resolve(ctx context.Context, partyID, token string) (domain.Party, domain.Participant, []domain.Participant, error) {
	party, err := s.store.Party(ctx, partyID)
	if err != nil {
		return domain.Party{}, domain.Participant{}, nil, err
	}
	participants, err := s.store.Participants(ctx, party.ID)
	if err != nil {
		return domain.Party{}, domain.Participant{}, nil, err
	}

	caller, err := s.store.ParticipantByToken(ctx, party.ID, token)
	if err != nil {
		return domain.Party{}, domain.Participant{}, nil, err
	}
	if caller.Gone() {
		return domain.Party{}, domain.Participant{}, nil, domain.ErrParticipantNotFound
	}

	now := s.now()
	if now.Sub(caller.LastSeenAt) >= s.settings.TouchThrottle {
		if err := s.store.TouchParticipant(ctx, caller.ID, now); err != nil {
			return domain.Party{}, domain.Participant{}, nil, err
		}
		caller.LastSeenAt = now
		for i := range participants {
			if participants[i].ID == caller.ID {
				participants[i].LastSeenAt = now
			}
		}
	}

	if err := s.ensureHost(ctx, &party, participants); err != nil {
		return domain.Party{}, domain.Participant{}, nil, err
	}
	return party, caller, participants, nil
}

func (s *PartyService) authorizeHost(ctx context.Context, partyID, token string) (domain.Party, domain.Participant, error) {
	party, caller, _, err := s.resolve(ctx, partyID, token)
	if err != nil {
		return domain.Party{}, domain.Participant{}, err
	}
	if caller.ID != party.HostID {
		return domain.Party{}, domain.Participant{}, domain.ErrNotHost
	}
	return party, caller, nil
}

// ensureHost reassigns the host role when the current host is missing,
// gone, or inactive. Every concurrent elector computes the same winner
// from the same durable rows, so last-writer-wins converges.
func (s *PartyService) ensureHost(ctx context.Context, party *domain.Party, participants []domain.Participant) error {
	now := s.now()
	if domain.HostValid(party.HostID, participants, now, s.settings.InactivityThreshold) {
		return nil
	}
	elected := domain.ElectHost(participants, now, s.settings.InactivityThreshold)
	if elected == "" || elected == party.HostID {
		return nil
	}
	if err := s.store.SetHost(ctx, party.ID, elected); err != nil {
		return err
	}
	party.HostID = elected
	s.bump(ctx, party.ID)
	return nil
}

// maybeReveal applies the automatic reveal triggers for the current item:
// the countdown reached zero, or every currently active participant has
// submitted. Participants that went inactive mid-item drop out of the
// denominator so a lost connection cannot block the reveal forever.
func (s *PartyService) maybeReveal(ctx context.Context, party domain.Party, participants []domain.Participant, itemID string) error {
	if party.Status != domain.StatusActive || party.RevealedAt != nil || party.ItemStartedAt == nil {
		return nil
	}
	now := s.now()
	timer := domain.ComputeTimer(party.ItemStartedAt, party.PauseStartedAt, party.AccumulatedPausedMs, party.ItemDurationSec, now)
	trigger := timer.RemainingMs == 0

	if !trigger {
		submitted, err := s.submittedIDs(ctx, party, itemID)
		if err != nil {
			return err
		}
		activeCount, answeredCount := 0, 0
		for _, p := range participants {
			if !domain.ActiveAt(p, now, s.settings.InactivityThreshold) {
				continue
			}
			activeCount++
			if submitted[p.ID] {
				answeredCount++
			}
		}
		trigger = activeCount > 0 && answeredCount == activeCount
	}
	if !trigger {
		return nil
	}
	_, err := s.tryReveal(ctx, party)
	return err
}

// tryReveal performs the one-time reveal transition. The compare-and-set
// guarantees a single winner even under concurrent triggers; only the
// winner applies the fastest-correct bonus and bumps the event counter.
func (s *PartyService) tryReveal(ctx context.Context, party domain.Party) (bool, error) {
	won, err := s.store.RevealParty(ctx, party.ID, party.CurrentItem, s.now())
	if err != nil || !won {
		return false, err
	}
	if party.Mode == domain.ModeQuiz {
		set, err := s.items.GetItemSet(ctx, party.ItemSetID)
		if err == nil && party.CurrentItem < len(set.Items) {
			answers, err := s.store.AnswersForItem(ctx, party.ID, set.Items[party.CurrentItem].ID)
			if err != nil {
				return true, err
			}
			if winner, ok := domain.FastestCorrect(answers); ok {
				if err := s.store.AddScore(ctx, winner.ParticipantID, 0, fastestBonus); err != nil {
					return true, err
				}
			}
		}
	}
	s.bump(ctx, party.ID)
	return true, nil
}

func (s *PartyService) submittedIDs(ctx context.Context, party domain.Party, itemID string) (map[string]bool, error) {
	ids := make(map[string]bool)
	if party.Mode == domain.ModeQuiz {
		answers, err := s.store.AnswersForItem(ctx, party.ID, itemID)
		if err != nil {
			return nil, err
		}
		for _, a := range answers {
			ids[a.ParticipantID] = true
		}
		return ids, nil
	}
	assessments, err := s.store.AssessmentsForItem(ctx, party.ID, itemID)
	if err != nil {
		return nil, err
	}
	for _, a := range assessments {
		ids[a.ParticipantID] = true
	}
	return ids, nil
}

// bump advances the party's event counter after a committed mutation and
// wakes push-stream subscribers. A failed bump only delays visibility
// until the cache TTL expires, so it is logged rather than propagated.
func (s *PartyService) bump(ctx context.Context, partyID string) {
	if _, err := s.store.BumpEvent(ctx, partyID); err != nil {
		log.Printf("bump event counter for party %s: %v", partyID, err)
	}
	s.notify.Notify(partyID)
}

const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func newJoinCode(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
