package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"party-session-service/internal/domain"
)

// PartyStore is the bun-backed implementation of app.PartyStore. Every
// conditional state transition is a single UPDATE with the expected state
// in its WHERE clause; whether it took effect is read off RowsAffected,
// which gives concurrent callers row-level serialization without any
// in-process lock held across the call.
type PartyStore struct {
	db    *bun.DB
	codes CodeCache
}

// CodeCache is an optional read-through cache for join-code lookup
// (implemented by the redis code index). Misses fall back to the table.
type CodeCache interface {
	GetCode(ctx context.Context, code string) (string, bool)
	SetCode(ctx context.Context, code, partyID string)
}

// StoreOption customizes a PartyStore.
type StoreOption func(*PartyStore)

func WithCodeCache(cache CodeCache) StoreOption {
	return func(s *PartyStore) { s.codes = cache }
}

func NewPartyStore(db *bun.DB, opts ...StoreOption) *PartyStore {
	s := &PartyStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type partyRow struct {
	bun.BaseModel `bun:"table:parties,alias:p"`

	ID                  string     `bun:"id,pk"`
	JoinCode            string     `bun:"join_code"`
	ItemSetID           string     `bun:"item_set_id"`
	Status              string     `bun:"status"`
	Mode                string     `bun:"mode"`
	HostID              string     `bun:"host_id,nullzero"`
	CurrentItem         int        `bun:"current_item"`
	ItemStartedAt       *time.Time `bun:"item_started_at"`
	PauseStartedAt      *time.Time `bun:"pause_started_at"`
	AccumulatedPausedMs int64      `bun:"accumulated_paused_ms"`
	ItemDurationSec     int        `bun:"item_duration_sec"`
	JoinLocked          bool       `bun:"join_locked"`
	RevealedAt          *time.Time `bun:"revealed_at"`
	EventSeq            int64      `bun:"event_seq"`
	CreatedAt           time.Time  `bun:"created_at"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:participants,alias:pt"`

	ID         string     `bun:"id,pk"`
	PartyID    string     `bun:"party_id"`
	Name       string     `bun:"name"`
	Avatar     string     `bun:"avatar"`
	Score      int        `bun:"score"`
	Bonus      int        `bun:"bonus"`
	Token      string     `bun:"token"`
	JoinedAt   time.Time  `bun:"joined_at"`
	LastSeenAt time.Time  `bun:"last_seen_at"`
	KickedAt   *time.Time `bun:"kicked_at"`
	LeftAt     *time.Time `bun:"left_at"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	PartyID       string    `bun:"party_id,pk"`
	ParticipantID string    `bun:"participant_id,pk"`
	ItemID        string    `bun:"item_id,pk"`
	Choice        int       `bun:"choice"`
	Correct       bool      `bun:"correct"`
	LatencyMs     int64     `bun:"latency_ms"`
	CreatedAt     time.Time `bun:"created_at"`
}

type assessmentRow struct {
	bun.BaseModel `bun:"table:assessments,alias:sa"`

	PartyID       string    `bun:"party_id,pk"`
	ParticipantID string    `bun:"participant_id,pk"`
	ItemID        string    `bun:"item_id,pk"`
	KnewIt        bool      `bun:"knew_it"`
	LatencyMs     int64     `bun:"latency_ms"`
	CreatedAt     time.Time `bun:"created_at"`
}

func (s *PartyStore) CreateParty(ctx context.Context, party *domain.Party) error {
	row := toPartyRow(*party)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCodeTaken
		}
		return err
	}
	if s.codes != nil {
		s.codes.SetCode(ctx, party.JoinCode, party.ID)
	}
	return nil
}

func (s *PartyStore) Party(ctx context.Context, partyID string) (domain.Party, error) {
	var row partyRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", partyID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Party{}, domain.ErrPartyNotFound
	}
	if err != nil {
		return domain.Party{}, err
	}
	return fromPartyRow(row), nil
}

func (s *PartyStore) PartyByCode(ctx context.Context, code string) (domain.Party, error) {
	if s.codes != nil {
		if id, ok := s.codes.GetCode(ctx, code); ok {
			return s.Party(ctx, id)
		}
	}
	var row partyRow
	err := s.db.NewSelect().Model(&row).Where("join_code = ?", code).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Party{}, domain.ErrPartyNotFound
	}
	if err != nil {
		return domain.Party{}, err
	}
	if s.codes != nil {
		s.codes.SetCode(ctx, code, row.ID)
	}
	return fromPartyRow(row), nil
}

func (s *PartyStore) EventSeq(ctx context.Context, partyID string) (int64, error) {
	var seq int64
	err := s.db.NewSelect().Model((*partyRow)(nil)).
		Column("event_seq").
		Where("id = ?", partyID).
		Scan(ctx, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrPartyNotFound
	}
	return seq, err
}

func (s *PartyStore) BumpEvent(ctx context.Context, partyID string) (int64, error) {
	var seq int64
	err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("event_seq = event_seq + 1").
		Where("id = ?", partyID).
		Returning("event_seq").
		Scan(ctx, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrPartyNotFound
	}
	return seq, err
}

func (s *PartyStore) AddParticipant(ctx context.Context, p *domain.Participant) error {
	row := toParticipantRow(*p)
	_, err := s.db.NewInsert().Model(&row).Exec(ctx)
	return err
}

func (s *PartyStore) ParticipantByToken(ctx context.Context, partyID, token string) (domain.Participant, error) {
	var row participantRow
	err := s.db.NewSelect().Model(&row).
		Where("party_id = ?", partyID).
		Where("token = ?", token).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, err
	}
	return fromParticipantRow(row), nil
}

func (s *PartyStore) Participants(ctx context.Context, partyID string) ([]domain.Participant, error) {
	var rows []participantRow
	err := s.db.NewSelect().Model(&rows).
		Where("party_id = ?", partyID).
		Order("joined_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Participant, len(rows))
	for i, row := range rows {
		out[i] = fromParticipantRow(row)
	}
	return out, nil
}

func (s *PartyStore) TouchParticipant(ctx context.Context, participantID string, seenAt time.Time) error {
	_, err := s.db.NewUpdate().Model((*participantRow)(nil)).
		Set("last_seen_at = GREATEST(last_seen_at, ?)", seenAt).
		Where("id = ?", participantID).
		Exec(ctx)
	return err
}

func (s *PartyStore) ClaimHost(ctx context.Context, partyID, participantID string) (bool, error) {
	res, err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("host_id = ?", participantID).
		Where("id = ?", partyID).
		Where("host_id IS NULL").
		Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) SetHost(ctx context.Context, partyID, participantID string) error {
	_, err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("host_id = ?", participantID).
		Where("id = ?", partyID).
		Exec(ctx)
	return err
}

func (s *PartyStore) MarkKicked(ctx context.Context, partyID, participantID string, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*participantRow)(nil)).
		Set("kicked_at = ?", at).
		Where("id = ?", participantID).
		Where("party_id = ?", partyID).
		Where("kicked_at IS NULL").
		Where("left_at IS NULL").
		Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) MarkLeft(ctx context.Context, partyID, participantID string, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*participantRow)(nil)).
		Set("left_at = ?", at).
		Where("id = ?", participantID).
		Where("party_id = ?", partyID).
		Where("kicked_at IS NULL").
		Where("left_at IS NULL").
		Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) AddScore(ctx context.Context, participantID string, base, bonus int) error {
	_, err := s.db.NewUpdate().Model((*participantRow)(nil)).
		Set("score = score + ?", base).
		Set("bonus = bonus + ?", bonus).
		Where("id = ?", participantID).
		Exec(ctx)
	return err
}

func (s *PartyStore) StartParty(ctx context.Context, partyID string, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("status = ?", string(domain.StatusActive)).
		Set("current_item = 0").
		Set("item_started_at = ?", at).
		Set("pause_started_at = NULL").
		Set("accumulated_paused_ms = 0").
		Set("revealed_at = NULL").
		Where("id = ?", partyID).
		Where("status = ?", string(domain.StatusLobby)).
		Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) AdvanceParty(ctx context.Context, partyID string, fromIndex int, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("current_item = current_item + 1").
		Set("item_started_at = ?", at).
		Set("pause_started_at = NULL").
		Set("accumulated_paused_ms = 0").
		Set("revealed_at = NULL").
		Where("id = ?", partyID).
		Where("status = ?", string(domain.StatusActive)).
		Where("current_item = ?", fromIndex).
		Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) CompleteParty(ctx context.Context, partyID string, fromIndex int) (bool, error) {
	res, err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("status = ?", string(domain.StatusComplete)).
		Where("id = ?", partyID).
		Where("status = ?", string(domain.StatusActive)).
		Where("current_item = ?", fromIndex).
		Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) RevealParty(ctx context.Context, partyID string, itemIndex int, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("revealed_at = ?", at).
		Where("id = ?", partyID).
		Where("status = ?", string(domain.StatusActive)).
		Where("current_item = ?", itemIndex).
		Where("revealed_at IS NULL").
		Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) PauseParty(ctx context.Context, partyID string, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("pause_started_at = ?", at).
		Where("id = ?", partyID).
		Where("status = ?", string(domain.StatusActive)).
		Where("pause_started_at IS NULL").
		Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) ResumeParty(ctx context.Context, partyID string, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("accumulated_paused_ms = accumulated_paused_ms + (EXTRACT(EPOCH FROM (?::timestamptz - pause_started_at)) * 1000)::bigint", at).
		Set("pause_started_at = NULL").
		Where("id = ?", partyID).
		Where("status = ?", string(domain.StatusActive)).
		Where("pause_started_at IS NOT NULL").
		Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) SetItemDuration(ctx context.Context, partyID string, seconds int) error {
	_, err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("item_duration_sec = ?", seconds).
		Where("id = ?", partyID).
		Exec(ctx)
	return err
}

func (s *PartyStore) SetJoinLocked(ctx context.Context, partyID string, locked bool) error {
	_, err := s.db.NewUpdate().Model((*partyRow)(nil)).
		Set("join_locked = ?", locked).
		Where("id = ?", partyID).
		Exec(ctx)
	return err
}

func (s *PartyStore) InsertAnswer(ctx context.Context, a *domain.Answer) (bool, error) {
	row := answerRow{
		PartyID:       a.PartyID,
		ParticipantID: a.ParticipantID,
		ItemID:        a.ItemID,
		Choice:        a.Choice,
		Correct:       a.Correct,
		LatencyMs:     a.LatencyMs,
		CreatedAt:     a.CreatedAt,
	}
	res, err := s.db.NewInsert().Model(&row).On("CONFLICT DO NOTHING").Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) InsertAssessment(ctx context.Context, a *domain.Assessment) (bool, error) {
	row := assessmentRow{
		PartyID:       a.PartyID,
		ParticipantID: a.ParticipantID,
		ItemID:        a.ItemID,
		KnewIt:        a.KnewIt,
		LatencyMs:     a.LatencyMs,
		CreatedAt:     a.CreatedAt,
	}
	res, err := s.db.NewInsert().Model(&row).On("CONFLICT DO NOTHING").Exec(ctx)
	return took(res, err)
}

func (s *PartyStore) AnswersForItem(ctx context.Context, partyID, itemID string) ([]domain.Answer, error) {
	var rows []answerRow
	err := s.db.NewSelect().Model(&rows).
		Where("party_id = ?", partyID).
		Where("item_id = ?", itemID).
		Scan(ctx)
	return fromAnswerRows(rows), err
}

func (s *PartyStore) AssessmentsForItem(ctx context.Context, partyID, itemID string) ([]domain.Assessment, error) {
	var rows []assessmentRow
	err := s.db.NewSelect().Model(&rows).
		Where("party_id = ?", partyID).
		Where("item_id = ?", itemID).
		Scan(ctx)
	return fromAssessmentRows(rows), err
}

func (s *PartyStore) Answers(ctx context.Context, partyID string) ([]domain.Answer, error) {
	var rows []answerRow
	err := s.db.NewSelect().Model(&rows).Where("party_id = ?", partyID).Scan(ctx)
	return fromAnswerRows(rows), err
}

func (s *PartyStore) Assessments(ctx context.Context, partyID string) ([]domain.Assessment, error) {
	var rows []assessmentRow
	err := s.db.NewSelect().Model(&rows).Where("party_id = ?", partyID).Scan(ctx)
	return fromAssessmentRows(rows), err
}

func took(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

func toPartyRow(p domain.Party) partyRow {
	return partyRow{
		ID:                  p.ID,
		JoinCode:            p.JoinCode,
		ItemSetID:           p.ItemSetID,
		Status:              string(p.Status),
		Mode:                string(p.Mode),
		HostID:              p.HostID,
		CurrentItem:         p.CurrentItem,
		ItemStartedAt:       p.ItemStartedAt,
		PauseStartedAt:      p.PauseStartedAt,
		AccumulatedPausedMs: p.AccumulatedPausedMs,
		ItemDurationSec:     p.ItemDurationSec,
		JoinLocked:          p.JoinLocked,
		RevealedAt:          p.RevealedAt,
		EventSeq:            p.EventSeq,
		CreatedAt:           p.CreatedAt,
	}
}

func fromPartyRow(r partyRow) domain.Party {
	return domain.Party{
		ID:                  r.ID,
		JoinCode:            r.JoinCode,
		ItemSetID:           r.ItemSetID,
		Status:              domain.PartyStatus(r.Status),
		Mode:                domain.PartyMode(r.Mode),
		HostID:              r.HostID,
		CurrentItem:         r.CurrentItem,
		ItemStartedAt:       r.ItemStartedAt,
		PauseStartedAt:      r.PauseStartedAt,
		AccumulatedPausedMs: r.AccumulatedPausedMs,
		ItemDurationSec:     r.ItemDurationSec,
		JoinLocked:          r.JoinLocked,
		RevealedAt:          r.RevealedAt,
		EventSeq:            r.EventSeq,
		CreatedAt:           r.CreatedAt,
	}
}

func toParticipantRow(p domain.Participant) participantRow {
	return participantRow{
		ID:         p.ID,
		PartyID:    p.PartyID,
		Name:       p.Name,
		Avatar:     p.Avatar,
		Score:      p.Score,
		Bonus:      p.Bonus,
		Token:      p.Token,
		JoinedAt:   p.JoinedAt,
		LastSeenAt: p.LastSeenAt,
		KickedAt:   p.KickedAt,
		LeftAt:     p.LeftAt,
	}
}

func fromParticipantRow(r participantRow) domain.Participant {
	return domain.Participant{
		ID:         r.ID,
		PartyID:    r.PartyID,
		Name:       r.Name,
		Avatar:     r.Avatar,
		Score:      r.Score,
		Bonus:      r.Bonus,
		Token:      r.Token,
		JoinedAt:   r.JoinedAt,
		LastSeenAt: r.LastSeenAt,
		KickedAt:   r.KickedAt,
		LeftAt:     r.LeftAt,
	}
}

func fromAnswerRows(rows []answerRow) []domain.Answer {
	out := make([]domain.Answer, len(rows))
	for i, r := range rows {
		out[i] = domain.Answer{
			PartyID:       r.PartyID,
			ParticipantID: r.ParticipantID,
			ItemID:        r.ItemID,
			Choice:        r.Choice,
			Correct:       r.Correct,
			LatencyMs:     r.LatencyMs,
			CreatedAt:     r.CreatedAt,
		}
	}
	return out
}

func fromAssessmentRows(rows []assessmentRow) []domain.Assessment {
	out := make([]domain.Assessment, len(rows))
	for i, r := range rows {
		out[i] = domain.Assessment{
			PartyID:       r.PartyID,
			ParticipantID: r.ParticipantID,
			ItemID:        r.ItemID,
			KnewIt:        r.KnewIt,
			LatencyMs:     r.LatencyMs,
			CreatedAt:     r.CreatedAt,
		}
	}
	return out
}
