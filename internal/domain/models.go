package domain

import "time"

// PartyStatus is the lifecycle state of a party.
type PartyStatus string

const (
	StatusLobby    PartyStatus = "lobby"
	StatusActive   PartyStatus = "active"
	StatusComplete PartyStatus = "complete"
)

// PartyMode selects what kind of items the party runs through.
type PartyMode string

const (
	ModeQuiz       PartyMode = "quiz"
	ModeFlashcards PartyMode = "flashcards"
)

// Party is one live run of an item set shared by a group of participants.
// The timer fields together describe the current item's countdown: any
// observer can derive the remaining time from these timestamps and its own
// clock, so the server never pushes ticks.
type Party struct {
	ID                  string      `json:"id"`
	JoinCode            string      `json:"joinCode"`
	ItemSetID           string      `json:"itemSetId"`
	Status              PartyStatus `json:"status"`
	Mode                PartyMode   `json:"mode"`
	HostID              string      `json:"hostId,omitempty"`
	CurrentItem         int         `json:"currentItem"`
	ItemStartedAt       *time.Time  `json:"itemStartedAt,omitempty"`
	PauseStartedAt      *time.Time  `json:"pauseStartedAt,omitempty"`
	AccumulatedPausedMs int64       `json:"accumulatedPausedMs"`
	ItemDurationSec     int         `json:"itemDurationSec"`
	JoinLocked          bool        `json:"joinLocked"`
	RevealedAt          *time.Time  `json:"revealedAt,omitempty"`
	EventSeq            int64       `json:"eventSeq"`
	CreatedAt           time.Time   `json:"createdAt"`
}

// Participant is one member of a party. Token is the participant's secret
// credential and must never appear in shared snapshots.
type Participant struct {
	ID         string     `json:"id"`
	PartyID    string     `json:"partyId"`
	Name       string     `json:"name"`
	Avatar     string     `json:"avatar,omitempty"`
	Score      int        `json:"score"`
	Bonus      int        `json:"bonus"`
	Token      string     `json:"-"`
	JoinedAt   time.Time  `json:"joinedAt"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
	KickedAt   *time.Time `json:"kickedAt,omitempty"`
	LeftAt     *time.Time `json:"leftAt,omitempty"`
}

// Gone reports whether the participant has permanently left the party.
// Gone participants keep their historical submissions but are excluded
// from presence, host eligibility, and live scoreboards.
func (p Participant) Gone() bool {
	return p.KickedAt != nil || p.LeftAt != nil
}

// Answer is one quiz submission. At most one row exists per
// (party, participant, item); the row is never updated after insert.
type Answer struct {
	PartyID       string    `json:"partyId"`
	ParticipantID string    `json:"participantId"`
	ItemID        string    `json:"itemId"`
	Choice        int       `json:"choice"`
	Correct       bool      `json:"correct"`
	LatencyMs     int64     `json:"latencyMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Assessment is one flashcard self-assessment, with the same uniqueness
// and immutability rules as Answer.
type Assessment struct {
	PartyID       string    `json:"partyId"`
	ParticipantID string    `json:"participantId"`
	ItemID        string    `json:"itemId"`
	KnewIt        bool      `json:"knewIt"`
	LatencyMs     int64     `json:"latencyMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Item is one entry of an item set. Quiz items use Prompt/Choices/
// CorrectIndex, flashcards use Front/Back.
type Item struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt,omitempty"`
	Choices      []string `json:"choices,omitempty"`
	CorrectIndex int      `json:"correctIndex,omitempty"`
	Front        string   `json:"front,omitempty"`
	Back         string   `json:"back,omitempty"`
}

// ItemSet is the ordered, immutable sequence a party runs through. It is
// authored elsewhere; this service only reads it.
type ItemSet struct {
	ID    string    `json:"id"`
	Mode  PartyMode `json:"mode"`
	Items []Item    `json:"items"`
}

// TimerState is the derived countdown for the current item.
type TimerState struct {
	RemainingMs int64 `json:"remainingMs"`
	Paused      bool  `json:"paused"`
}

// ItemView is the caller-facing projection of the current item. The
// correct answer and card back are withheld until revealed, unless the
// caller is host.
type ItemView struct {
	ID           string   `json:"id"`
	Index        int      `json:"index"`
	Total        int      `json:"total"`
	Prompt       string   `json:"prompt,omitempty"`
	Choices      []string `json:"choices,omitempty"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`
	Front        string   `json:"front,omitempty"`
	Back         string   `json:"back,omitempty"`
}

// ParticipantView is the scoreboard entry for one participant.
type ParticipantView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Score  int    `json:"score"`
	Bonus  int    `json:"bonus"`
	Active bool   `json:"active"`
	Host   bool   `json:"host"`
}

// OwnSubmission echoes the caller's own submission for the current item.
type OwnSubmission struct {
	ItemID    string `json:"itemId"`
	Choice    *int   `json:"choice,omitempty"`
	Correct   *bool  `json:"correct,omitempty"`
	KnewIt    *bool  `json:"knewIt,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// Snapshot is the full read model for one caller at one point in time.
type Snapshot struct {
	PartyID      string            `json:"partyId"`
	JoinCode     string            `json:"joinCode"`
	Status       PartyStatus       `json:"status"`
	Mode         PartyMode         `json:"mode"`
	JoinLocked   bool              `json:"joinLocked"`
	Timer        TimerState        `json:"timer"`
	Revealed     bool              `json:"revealed"`
	Item         *ItemView         `json:"item,omitempty"`
	You          *ParticipantView  `json:"you,omitempty"`
	YourAnswer   *OwnSubmission    `json:"yourAnswer,omitempty"`
	Participants []ParticipantView `json:"participants"`
	Results      *Results          `json:"results,omitempty"`
	EventSeq     int64             `json:"eventSeq"`
	GeneratedAt  time.Time         `json:"generatedAt"`
}
