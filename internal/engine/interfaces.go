package engine

import (
	"context"
	"encoding/json"
	"time"

	"game-session-engine/internal/model"
)

// SessionStore persists sessions. UpdatePhase must be compare-and-set and
// IncrementParticipantCount must enforce max capacity atomically.
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) (*model.Session, error)
	GetByID(ctx context.Context, id string) (*model.Session, error)
	UpdatePhase(ctx context.Context, id string, from, to model.SessionPhase, deadline *time.Time) (bool, error)
	SetResolved(ctx context.Context, id string, at time.Time) error
	IncrementParticipantCount(ctx context.Context, id string) (bool, error)
	DecrementParticipantCount(ctx context.Context, id string) error
	ListOpenByScope(ctx context.Context, scope string) ([]*model.Session, error)
	ListExpired(ctx context.Context, now time.Time) ([]*model.Session, error)
}

// ParticipantStore persists durable player identities.
type ParticipantStore interface {
	GetOrCreate(ctx context.Context, externalID, displayName string) (*model.Participant, bool, error)
	GetByID(ctx context.Context, id string) (*model.Participant, error)
	IncrementPlayed(ctx context.Context, id string) error
	IncrementWon(ctx context.Context, id string) error
}

// EnrollmentStore persists session membership. Create must be a conditional
// insert returning false on duplicates.
type EnrollmentStore interface {
	Create(ctx context.Context, sessionID, participantID string) (bool, error)
	Get(ctx context.Context, sessionID, participantID string) (*model.Enrollment, error)
	ListBySession(ctx context.Context, sessionID string) ([]*model.Enrollment, error)
	SetClaim(ctx context.Context, sessionID, participantID string, number int) error
	AddScore(ctx context.Context, sessionID, participantID string, points int, answeredAt time.Time) error
	MarkWinner(ctx context.Context, sessionID, participantID string, prizeShare float64) error
}

// NumberAllocator hands out numbers for number-pick sessions.
type NumberAllocator interface {
	Reserve(ctx context.Context, sessionID string, rangeMin, rangeMax int, allowDuplicates bool, participantID string, number int) error
	Available(ctx context.Context, sessionID string, rangeMin, rangeMax int) ([]int, error)
}

// ClaimLister reads back a session's claims for resolution.
type ClaimLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]*model.Claim, error)
}

// QuizStore persists per-session question lists and answers. RecordAnswer
// must be a conditional insert returning false on duplicates.
type QuizStore interface {
	SaveQuestions(ctx context.Context, sessionID string, questions []model.Question) error
	GetQuestion(ctx context.Context, sessionID string, index int) (*model.Question, error)
	ListQuestions(ctx context.Context, sessionID string) ([]model.Question, error)
	RecordAnswer(ctx context.Context, answer *model.QuizAnswer) (bool, error)
	CountAnswers(ctx context.Context, sessionID string) (int, error)
}

// EventStore appends to the outcome event log.
type EventStore interface {
	Append(ctx context.Context, sessionID, eventType string, payload json.RawMessage) (*model.OutcomeEvent, error)
	ListBySession(ctx context.Context, sessionID string) ([]*model.OutcomeEvent, error)
}

// Notifier fans lifecycle events out to external receivers. Implementations
// must not block on network I/O.
type Notifier interface {
	Emit(ctx context.Context, eventID, eventType string, data json.RawMessage)
}

// EligibilityProvider gates enrollment into sessions that require it.
type EligibilityProvider interface {
	IsEligible(ctx context.Context, participant *model.Participant) (bool, error)
}

// TicketSource supplies ticket counts for weighted draws. When nil, every
// claimant holds one ticket.
type TicketSource interface {
	Tickets(ctx context.Context, sessionID, participantID string) (int, error)
}

// SessionCache is an optional read-through cache for session snapshots.
type SessionCache interface {
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	SetSession(ctx context.Context, session *model.Session) error
	InvalidateAll(ctx context.Context, sessionID string) error
}
