// Package model defines the data models for the session game engine.
package model

import (
	"encoding/json"
	"time"
)

// SessionKind identifies the type of game a session runs.
type SessionKind string

const (
	// KindNumberPick is a round where players claim exclusive numbers from a range.
	KindNumberPick SessionKind = "number_pick"

	// KindQuiz is a round where players answer a fixed sequence of questions.
	KindQuiz SessionKind = "quiz"
)

// SessionPhase is the lifecycle phase of a session. Phases are monotonic:
// once a phase is left it is never re-entered.
type SessionPhase string

const (
	// PhaseLobby accepts enrollments until capacity or an explicit start.
	PhaseLobby SessionPhase = "lobby"

	// PhaseActive accepts claims (number pick) or answers (quiz).
	PhaseActive SessionPhase = "active"

	// PhaseResolving runs winner selection and prize calculation.
	PhaseResolving SessionPhase = "resolving"

	// PhaseCompleted is terminal: winners persisted and announced.
	PhaseCompleted SessionPhase = "completed"

	// PhaseCancelled is terminal: no valid outcome or explicit cancellation.
	PhaseCancelled SessionPhase = "cancelled"
)

// IsTerminal reports whether the phase is an end state.
func (p SessionPhase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// Session represents one run of a game round.
type Session struct {
	ID               string        `db:"id" json:"id"`
	Kind             SessionKind   `db:"kind" json:"kind"`
	Phase            SessionPhase  `db:"phase" json:"phase"`
	CreatedBy        string        `db:"created_by" json:"created_by"`
	Scope            string        `db:"scope" json:"scope"`
	Config           SessionConfig `db:"config" json:"config"`
	ParticipantCount int           `db:"participant_count" json:"participant_count"`
	MinCapacity      int           `db:"min_capacity" json:"min_capacity"`
	MaxCapacity      int           `db:"max_capacity" json:"max_capacity"`
	PhaseDeadline    *time.Time    `db:"phase_deadline" json:"phase_deadline,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	ResolvedAt       *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}

// JoinPhaseSeconds returns the configured lobby duration, regardless of kind.
func (s *Session) JoinPhaseSeconds() int {
	switch {
	case s.Config.NumberPick != nil:
		return s.Config.NumberPick.JoinPhaseSeconds
	case s.Config.Quiz != nil:
		return s.Config.Quiz.JoinPhaseSeconds
	}
	return 0
}

// SessionConfig holds kind-specific settings. Exactly one of NumberPick or
// Quiz is set, matching Session.Kind. Stored as JSONB.
type SessionConfig struct {
	NumberPick *NumberPickConfig `json:"number_pick,omitempty"`
	Quiz       *QuizConfig       `json:"quiz,omitempty"`
	Prize      *PrizeConfig      `json:"prize,omitempty"`
}

// NumberPickConfig configures a number-pick round.
type NumberPickConfig struct {
	RangeMin              int  `json:"range_min"`
	RangeMax              int  `json:"range_max"`
	AllowDuplicateClaims  bool `json:"allow_duplicate_claims"`
	WinnerCount           int  `json:"winner_count"`
	ReverseMode           bool `json:"reverse_mode"`
	WeightedDraw          bool `json:"weighted_draw"`
	SelectionPhaseSeconds int  `json:"selection_phase_seconds"`
	JoinPhaseSeconds      int  `json:"join_phase_seconds"`
	AutoStart             bool `json:"auto_start"`
}

// QuizConfig configures a quiz round.
type QuizConfig struct {
	QuestionCount      int      `json:"question_count"`
	SecondsPerQuestion int      `json:"seconds_per_question"`
	Difficulty         string   `json:"difficulty"`
	Categories         []string `json:"categories,omitempty"`
	RequireEligibility bool     `json:"require_eligibility"`
	WinnerCount        int      `json:"winner_count"`
	JoinPhaseSeconds   int      `json:"join_phase_seconds"`
	AutoStart          bool     `json:"auto_start"`
}

// PrizeConfig describes how the prize pool splits across winner positions.
// Either Schedule maps position (1-based) to percentage, or AutoCalculate
// generates a decaying schedule with HeadSharePercent for position 1.
type PrizeConfig struct {
	Pool             float64         `json:"pool"`
	AutoCalculate    bool            `json:"auto_calculate"`
	HeadSharePercent float64         `json:"head_share_percent,omitempty"`
	Schedule         map[int]float64 `json:"schedule,omitempty"`
}

// Participant is a durable player identity, shared across sessions and
// never deleted.
type Participant struct {
	ID             string    `db:"id" json:"id"`
	ExternalID     string    `db:"external_id" json:"external_id"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	SessionsPlayed int       `db:"sessions_played" json:"sessions_played"`
	SessionsWon    int       `db:"sessions_won" json:"sessions_won"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Enrollment links a participant to a session they joined. At most one per
// (session, participant).
type Enrollment struct {
	SessionID     string     `db:"session_id" json:"session_id"`
	ParticipantID string     `db:"participant_id" json:"participant_id"`
	JoinedAt      time.Time  `db:"joined_at" json:"joined_at"`
	Claim         *int       `db:"claim" json:"claim,omitempty"`
	Score         int        `db:"score" json:"score"`
	LastAnswerAt  *time.Time `db:"last_answer_at" json:"last_answer_at,omitempty"`
	IsWinner      bool       `db:"is_winner" json:"is_winner"`
	PrizeShare    *float64   `db:"prize_share" json:"prize_share,omitempty"`
}

// Claim is a number taken by a participant in a number-pick session.
type Claim struct {
	SessionID     string    `db:"session_id" json:"session_id"`
	Number        int       `db:"number" json:"number"`
	ParticipantID string    `db:"participant_id" json:"participant_id"`
	ClaimedAt     time.Time `db:"claimed_at" json:"claimed_at"`
}

// Question is one quiz question with exactly four options.
type Question struct {
	Prompt       string    `json:"prompt"`
	Options      [4]string `json:"options"`
	CorrectIndex int       `json:"correct_index"`
}

// QuizAnswer records one participant's answer to one question.
type QuizAnswer struct {
	SessionID     string    `db:"session_id" json:"session_id"`
	ParticipantID string    `db:"participant_id" json:"participant_id"`
	QuestionIndex int       `db:"question_index" json:"question_index"`
	AnswerIndex   int       `db:"answer_index" json:"answer_index"`
	Correct       bool      `db:"correct" json:"correct"`
	AnsweredAt    time.Time `db:"answered_at" json:"answered_at"`
}

// Outcome event types appended on every lifecycle transition.
const (
	EventSessionCreated    = "session.created"
	EventParticipantJoined = "session.joined"
	EventNumberClaimed     = "session.claimed"
	EventSessionStarted    = "session.started"
	EventSessionResolved   = "session.resolved"
	EventSessionCancelled  = "session.cancelled"
)

// OutcomeEvent is an immutable, append-only record of a lifecycle transition.
type OutcomeEvent struct {
	ID        string          `db:"id" json:"id"`
	SessionID string          `db:"session_id" json:"session_id"`
	EventType string          `db:"event_type" json:"event_type"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// DeliveryStatus is the state of a webhook delivery record.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
)

// WebhookDelivery tracks the attempt history of one outbound notification.
type WebhookDelivery struct {
	ID             string          `db:"id" json:"id"`
	EventID        string          `db:"event_id" json:"event_id"`
	EventType      string          `db:"event_type" json:"event_type"`
	TargetURL      string          `db:"target_url" json:"target_url"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	Status         DeliveryStatus  `db:"status" json:"status"`
	Attempts       int             `db:"attempts" json:"attempts"`
	LastAttemptAt  *time.Time      `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	ResponseStatus *int            `db:"response_status" json:"response_status,omitempty"`
	ResponseBody   *string         `db:"response_body" json:"response_body,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
