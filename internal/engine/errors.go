package engine

import "errors"

// Errors callers branch on. Handlers map these onto HTTP statuses.
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrWrongPhase            = errors.New("operation not valid in current phase")
	ErrSessionFull           = errors.New("session is at capacity")
	ErrAlreadyJoined         = errors.New("participant already joined")
	ErrNotEnrolled           = errors.New("participant not enrolled in session")
	ErrNotEligible           = errors.New("participant not eligible for session")
	ErrNotEnoughParticipants = errors.New("not enough participants to start")
	ErrAlreadyAnswered       = errors.New("question already answered")
	ErrTooLate               = errors.New("phase deadline has passed")
	ErrInvalidAnswer         = errors.New("answer index out of range")
	ErrInvalidQuestion       = errors.New("question index out of range")
	ErrInvalidConfig         = errors.New("invalid session configuration")
	ErrNotAuthorized         = errors.New("caller may not perform this operation")
)
