package domain

import "errors"

var (
	// ErrPartyNotFound is returned when no party matches the given id or join code.
	ErrPartyNotFound = errors.New("party not found")
	// ErrParticipantNotFound is returned when a token does not resolve to a participant of the party.
	ErrParticipantNotFound = errors.New("participant not found in party")
	// ErrNotHost is returned when a host-only operation is attempted by a non-host.
	ErrNotHost = errors.New("caller is not the party host")
	// ErrJoinLocked is returned when joining a party whose host locked joining.
	ErrJoinLocked = errors.New("party is locked for joining")
	// ErrKicked is returned when a previously kicked participant tries to rejoin.
	ErrKicked = errors.New("participant was removed from the party")
	// ErrInvalidTransition is returned for operations that make no sense in the party's current state.
	ErrInvalidTransition = errors.New("invalid party state transition")
	// ErrAlreadySubmitted is returned on a duplicate submission for the same item.
	ErrAlreadySubmitted = errors.New("already submitted for this item")
	// ErrItemSetNotFound indicates the item content could not be loaded.
	ErrItemSetNotFound = errors.New("item set not found")
	// ErrCodeTaken indicates a join-code collision on party creation.
	ErrCodeTaken = errors.New("join code already in use")
)
