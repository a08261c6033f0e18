// Package engine orchestrates the session lifecycle: creation, enrollment,
// play, deadline handling, and resolution. All phase transitions go through
// the store's compare-and-set so every transition happens exactly once no
// matter how many triggers race.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"game-session-engine/internal/config"
	"game-session-engine/internal/draw"
	"game-session-engine/internal/model"
	"game-session-engine/internal/pkg/clock"
	"game-session-engine/internal/pkg/lock"
	"game-session-engine/internal/prize"
	"game-session-engine/internal/quiz"
	"game-session-engine/internal/repository"
	"game-session-engine/internal/rng"
)

// Deps carries the engine's collaborators.
type Deps struct {
	Sessions     SessionStore
	Participants ParticipantStore
	Enrollments  EnrollmentStore
	Allocator    NumberAllocator
	Claims       ClaimLister
	Quizzes      QuizStore
	Events       EventStore
	Notifier     Notifier            // optional
	Eligibility  EligibilityProvider // optional
	Tickets      TicketSource        // optional
	Cache        SessionCache        // optional
	QuizProvider quiz.Provider
	Seeds        rng.SeedProvider
	Clock        clock.Clock // optional, defaults to wall clock
}

// joinLockTimeout bounds how long a join waits on the per-session lock.
const joinLockTimeout = 5 * time.Second

// Service is the session game engine.
type Service struct {
	cfg    *config.Config
	deps   Deps
	locks  *lock.KeyLock
	logger zerolog.Logger

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// NewService creates the engine service.
func NewService(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	if deps.Clock == nil {
		deps.Clock = &clock.DefaultClock{}
	}
	if deps.Seeds == nil {
		deps.Seeds = rng.NewSystemProvider()
	}
	return &Service{
		cfg:    cfg,
		deps:   deps,
		locks:  lock.NewKeyLock(),
		logger: logger.With().Str("component", "engine").Logger(),
		timers: make(map[string]*time.Timer),
	}
}

// CreateSessionRequest describes a session to create.
type CreateSessionRequest struct {
	Kind        model.SessionKind
	CreatedBy   string
	Scope       string
	MinCapacity int
	MaxCapacity int
	NumberPick  *model.NumberPickConfig
	Quiz        *model.QuizConfig
	Prize       *model.PrizeConfig
}

// SessionState is the full view of one session.
type SessionState struct {
	Session     *model.Session      `json:"session"`
	Enrollments []*model.Enrollment `json:"enrollments"`
}

// CreateSession validates the request, persists the session in the lobby
// phase, and for quiz sessions freezes the question list up front.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*model.Session, error) {
	session, err := s.buildSession(req)
	if err != nil {
		return nil, err
	}

	var questions []model.Question
	if session.Kind == model.KindQuiz {
		qc := session.Config.Quiz
		questions, err = s.deps.QuizProvider.Generate(ctx, qc.QuestionCount, qc.Difficulty, qc.Categories)
		if err != nil {
			return nil, fmt.Errorf("failed to generate questions: %w", err)
		}
	}

	created, err := s.deps.Sessions.Create(ctx, session)
	if err != nil {
		return nil, err
	}
	if questions != nil {
		if err := s.deps.Quizzes.SaveQuestions(ctx, created.ID, questions); err != nil {
			return nil, err
		}
	}

	s.appendAndNotify(ctx, created.ID, model.EventSessionCreated, map[string]any{
		"session": created,
	})

	if created.PhaseDeadline != nil {
		s.scheduleDeadline(created.ID, *created.PhaseDeadline)
	}

	s.logger.Info().
		Str("session_id", created.ID).
		Str("kind", string(created.Kind)).
		Str("scope", created.Scope).
		Msg("session created")
	return created, nil
}

// buildSession applies configured defaults and validates the request.
func (s *Service) buildSession(req CreateSessionRequest) (*model.Session, error) {
	session := &model.Session{
		Kind:        req.Kind,
		CreatedBy:   req.CreatedBy,
		Scope:       req.Scope,
		MinCapacity: req.MinCapacity,
		MaxCapacity: req.MaxCapacity,
		Config: model.SessionConfig{
			Prize: req.Prize,
		},
	}

	switch req.Kind {
	case model.KindNumberPick:
		defaults := s.cfg.Games.NumberPick
		np := req.NumberPick
		if np == nil {
			np = &model.NumberPickConfig{}
		}
		if np.RangeMin == 0 && np.RangeMax == 0 {
			np.RangeMin = defaults.RangeMin
			np.RangeMax = defaults.RangeMax
		}
		if np.WinnerCount == 0 {
			np.WinnerCount = 1
		}
		if np.SelectionPhaseSeconds == 0 {
			np.SelectionPhaseSeconds = defaults.SelectionPhaseSeconds
		}
		if np.JoinPhaseSeconds == 0 {
			np.JoinPhaseSeconds = defaults.JoinPhaseSeconds
		}
		if session.MinCapacity == 0 {
			session.MinCapacity = defaults.MinCapacity
		}
		if session.MaxCapacity == 0 {
			session.MaxCapacity = defaults.MaxCapacity
		}
		if np.RangeMin >= np.RangeMax {
			return nil, fmt.Errorf("%w: range [%d, %d] is empty", ErrInvalidConfig, np.RangeMin, np.RangeMax)
		}
		if np.WinnerCount < 1 {
			return nil, fmt.Errorf("%w: winner count must be at least 1", ErrInvalidConfig)
		}
		if np.ReverseMode && np.WeightedDraw {
			return nil, fmt.Errorf("%w: reverse mode and weighted draw are mutually exclusive", ErrInvalidConfig)
		}
		session.Config.NumberPick = np

	case model.KindQuiz:
		defaults := s.cfg.Games.Quiz
		qc := req.Quiz
		if qc == nil {
			qc = &model.QuizConfig{}
		}
		if qc.QuestionCount == 0 {
			qc.QuestionCount = defaults.QuestionCount
		}
		if qc.SecondsPerQuestion == 0 {
			qc.SecondsPerQuestion = defaults.SecondsPerQuestion
		}
		if qc.JoinPhaseSeconds == 0 {
			qc.JoinPhaseSeconds = defaults.JoinPhaseSeconds
		}
		if qc.WinnerCount == 0 {
			qc.WinnerCount = 1
		}
		if session.MinCapacity == 0 {
			session.MinCapacity = defaults.MinCapacity
		}
		if session.MaxCapacity == 0 {
			session.MaxCapacity = defaults.MaxCapacity
		}
		if qc.QuestionCount < 1 {
			return nil, fmt.Errorf("%w: question count must be at least 1", ErrInvalidConfig)
		}
		session.Config.Quiz = qc

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, req.Kind)
	}

	if session.MinCapacity < 1 || session.MaxCapacity < session.MinCapacity {
		return nil, fmt.Errorf("%w: capacity [%d, %d]", ErrInvalidConfig, session.MinCapacity, session.MaxCapacity)
	}
	if session.Config.Prize != nil && session.Config.Prize.Pool < 0 {
		return nil, fmt.Errorf("%w: prize pool must not be negative", ErrInvalidConfig)
	}

	if secs := session.JoinPhaseSeconds(); secs > 0 && s.autoStart(session) {
		deadline := s.deps.Clock.Now().Add(time.Duration(secs) * time.Second)
		session.PhaseDeadline = &deadline
	}
	return session, nil
}

func (s *Service) autoStart(session *model.Session) bool {
	switch {
	case session.Config.NumberPick != nil:
		return session.Config.NumberPick.AutoStart
	case session.Config.Quiz != nil:
		return session.Config.Quiz.AutoStart
	}
	return false
}

// Join enrolls a caller into a lobby-phase session. The per-session lock
// serializes join attempts so the capacity check and the enrollment insert
// cannot interleave.
func (s *Service) Join(ctx context.Context, sessionID, externalID, displayName string) (*model.Participant, error) {
	var participant *model.Participant

	err := s.locks.WithLockContext(ctx, sessionID, joinLockTimeout, func() error {
		session, err := s.getSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Phase != model.PhaseLobby {
			return fmt.Errorf("%w: session is %s", ErrWrongPhase, session.Phase)
		}

		participant, _, err = s.deps.Participants.GetOrCreate(ctx, externalID, displayName)
		if err != nil {
			return err
		}

		if session.Kind == model.KindQuiz && session.Config.Quiz.RequireEligibility && s.deps.Eligibility != nil {
			eligible, err := s.deps.Eligibility.IsEligible(ctx, participant)
			if err != nil {
				return err
			}
			if !eligible {
				return ErrNotEligible
			}
		}

		// The capacity slot is taken before the enrollment is written, so a
		// joiner turned away at max capacity never ends up enrolled. A
		// duplicate join gives its slot back.
		hasRoom, err := s.deps.Sessions.IncrementParticipantCount(ctx, sessionID)
		if err != nil {
			return err
		}
		if !hasRoom {
			return ErrSessionFull
		}

		joined, err := s.deps.Enrollments.Create(ctx, sessionID, participant.ID)
		if err != nil || !joined {
			if dErr := s.deps.Sessions.DecrementParticipantCount(ctx, sessionID); dErr != nil {
				s.logger.Error().Err(dErr).Str("session_id", sessionID).Msg("failed to return participant slot")
			}
			s.invalidateCache(ctx, sessionID)
			if err != nil {
				return err
			}
			return ErrAlreadyJoined
		}
		session.ParticipantCount++

		if err := s.deps.Participants.IncrementPlayed(ctx, participant.ID); err != nil {
			s.logger.Warn().Err(err).Str("participant_id", participant.ID).Msg("failed to bump played counter")
		}

		s.invalidateCache(ctx, sessionID)
		s.appendAndNotify(ctx, sessionID, model.EventParticipantJoined, map[string]any{
			"participant_id": participant.ID,
			"external_id":    participant.ExternalID,
			"display_name":   participant.DisplayName,
		})

		// A full lobby with auto-start begins immediately.
		if s.autoStart(session) && session.ParticipantCount >= session.MaxCapacity {
			if err := s.activate(ctx, session); err != nil && !errors.Is(err, ErrWrongPhase) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return participant, nil
}

// StartSession moves a lobby session to active. Only the creator or an
// admin may start explicitly.
func (s *Service) StartSession(ctx context.Context, sessionID, callerID string) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if callerID != session.CreatedBy && !s.cfg.IsAdmin(callerID) {
		return ErrNotAuthorized
	}
	if session.ParticipantCount < session.MinCapacity {
		return fmt.Errorf("%w: %d of %d", ErrNotEnoughParticipants, session.ParticipantCount, session.MinCapacity)
	}
	return s.activate(ctx, session)
}

// activate performs the lobby -> active transition and arms the play-phase
// deadline.
func (s *Service) activate(ctx context.Context, session *model.Session) error {
	deadline := s.deps.Clock.Now().Add(s.playDuration(session))

	ok, err := s.deps.Sessions.UpdatePhase(ctx, session.ID, model.PhaseLobby, model.PhaseActive, &deadline)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: session left lobby", ErrWrongPhase)
	}

	s.invalidateCache(ctx, session.ID)
	s.scheduleDeadline(session.ID, deadline)
	s.appendAndNotify(ctx, session.ID, model.EventSessionStarted, map[string]any{
		"phase_deadline": deadline,
	})

	s.logger.Info().
		Str("session_id", session.ID).
		Time("deadline", deadline).
		Msg("session started")
	return nil
}

func (s *Service) playDuration(session *model.Session) time.Duration {
	switch {
	case session.Config.NumberPick != nil:
		return time.Duration(session.Config.NumberPick.SelectionPhaseSeconds) * time.Second
	case session.Config.Quiz != nil:
		qc := session.Config.Quiz
		return time.Duration(qc.QuestionCount*qc.SecondsPerQuestion) * time.Second
	}
	return time.Minute
}

// SubmitClaim reserves a number for an enrolled participant of an active
// number-pick session.
func (s *Service) SubmitClaim(ctx context.Context, sessionID, externalID string, number int) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Kind != model.KindNumberPick {
		return fmt.Errorf("%w: session is not a number-pick round", ErrWrongPhase)
	}
	if session.Phase != model.PhaseActive {
		return fmt.Errorf("%w: session is %s", ErrWrongPhase, session.Phase)
	}
	if session.PhaseDeadline != nil && s.deps.Clock.Now().After(*session.PhaseDeadline) {
		return ErrTooLate
	}

	participant, _, err := s.deps.Participants.GetOrCreate(ctx, externalID, "")
	if err != nil {
		return err
	}
	if _, err := s.deps.Enrollments.Get(ctx, sessionID, participant.ID); err != nil {
		return ErrNotEnrolled
	}

	np := session.Config.NumberPick
	if err := s.deps.Allocator.Reserve(ctx, sessionID, np.RangeMin, np.RangeMax, np.AllowDuplicateClaims, participant.ID, number); err != nil {
		return err
	}
	if err := s.deps.Enrollments.SetClaim(ctx, sessionID, participant.ID, number); err != nil {
		return err
	}

	s.appendAndNotify(ctx, sessionID, model.EventNumberClaimed, map[string]any{
		"participant_id": participant.ID,
		"number":         number,
	})

	s.maybeResolveEarly(ctx, session)
	return nil
}

// AvailableNumbers returns the unclaimed numbers of an active number-pick
// session.
func (s *Service) AvailableNumbers(ctx context.Context, sessionID string) ([]int, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Kind != model.KindNumberPick {
		return nil, fmt.Errorf("%w: session is not a number-pick round", ErrWrongPhase)
	}
	np := session.Config.NumberPick
	return s.deps.Allocator.Available(ctx, sessionID, np.RangeMin, np.RangeMax)
}

// SubmitAnswer records an answer for an active quiz session. The first
// answer per question is binding; correct answers score one point.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID, externalID string, questionIndex, answerIndex int) (bool, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.Kind != model.KindQuiz {
		return false, fmt.Errorf("%w: session is not a quiz round", ErrWrongPhase)
	}
	if session.Phase != model.PhaseActive {
		return false, fmt.Errorf("%w: session is %s", ErrWrongPhase, session.Phase)
	}
	if answerIndex < 0 || answerIndex > 3 {
		return false, ErrInvalidAnswer
	}
	qc := session.Config.Quiz
	if questionIndex < 0 || questionIndex >= qc.QuestionCount {
		return false, ErrInvalidQuestion
	}
	now := s.deps.Clock.Now()
	if session.PhaseDeadline != nil {
		// Question windows run back to back from activation; the last one
		// closes at the phase deadline.
		remaining := time.Duration((qc.QuestionCount-1-questionIndex)*qc.SecondsPerQuestion) * time.Second
		if now.After(session.PhaseDeadline.Add(-remaining)) {
			return false, ErrTooLate
		}
	}

	participant, _, err := s.deps.Participants.GetOrCreate(ctx, externalID, "")
	if err != nil {
		return false, err
	}
	if _, err := s.deps.Enrollments.Get(ctx, sessionID, participant.ID); err != nil {
		return false, ErrNotEnrolled
	}

	question, err := s.deps.Quizzes.GetQuestion(ctx, sessionID, questionIndex)
	if err != nil {
		return false, ErrInvalidQuestion
	}
	correct := question.CorrectIndex == answerIndex

	recorded, err := s.deps.Quizzes.RecordAnswer(ctx, &model.QuizAnswer{
		SessionID:     sessionID,
		ParticipantID: participant.ID,
		QuestionIndex: questionIndex,
		AnswerIndex:   answerIndex,
		Correct:       correct,
		AnsweredAt:    now,
	})
	if err != nil {
		return false, err
	}
	if !recorded {
		return false, ErrAlreadyAnswered
	}

	if correct {
		if err := s.deps.Enrollments.AddScore(ctx, sessionID, participant.ID, 1, now); err != nil {
			return false, err
		}
	}

	s.maybeResolveEarly(ctx, session)
	return correct, nil
}

// maybeResolveEarly resolves an active session as soon as every enrolled
// participant has submitted, instead of sitting out the rest of the play
// window. The phase CAS inside Resolve keeps this race-safe against the
// deadline timer.
func (s *Service) maybeResolveEarly(ctx context.Context, session *model.Session) {
	done, err := s.allSubmitted(ctx, session)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to check submission progress")
		return
	}
	if !done {
		return
	}
	if err := s.Resolve(ctx, session.ID); err != nil && !errors.Is(err, ErrWrongPhase) {
		s.logger.Error().Err(err).Str("session_id", session.ID).Msg("failed to resolve early")
	}
}

func (s *Service) allSubmitted(ctx context.Context, session *model.Session) (bool, error) {
	switch session.Kind {
	case model.KindNumberPick:
		enrollments, err := s.deps.Enrollments.ListBySession(ctx, session.ID)
		if err != nil {
			return false, err
		}
		if len(enrollments) == 0 {
			return false, nil
		}
		for _, e := range enrollments {
			if e.Claim == nil {
				return false, nil
			}
		}
		return true, nil
	case model.KindQuiz:
		answered, err := s.deps.Quizzes.CountAnswers(ctx, session.ID)
		if err != nil {
			return false, err
		}
		return session.ParticipantCount > 0 &&
			answered >= session.ParticipantCount*session.Config.Quiz.QuestionCount, nil
	}
	return false, nil
}

// CancelSession aborts a non-terminal session. Only the creator or an admin
// may cancel.
func (s *Service) CancelSession(ctx context.Context, sessionID, callerID string) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if callerID != session.CreatedBy && !s.cfg.IsAdmin(callerID) {
		return ErrNotAuthorized
	}
	return s.cancel(ctx, sessionID, "cancelled by "+callerID)
}

// cancel tries the transition from every non-terminal phase; exactly one
// CAS can win, and none wins if the session already reached a terminal
// phase.
func (s *Service) cancel(ctx context.Context, sessionID, reason string) error {
	for _, from := range []model.SessionPhase{model.PhaseLobby, model.PhaseActive, model.PhaseResolving} {
		ok, err := s.deps.Sessions.UpdatePhase(ctx, sessionID, from, model.PhaseCancelled, nil)
		if err != nil {
			return err
		}
		if ok {
			s.cancelTimer(sessionID)
			s.invalidateCache(ctx, sessionID)
			s.appendAndNotify(ctx, sessionID, model.EventSessionCancelled, map[string]any{
				"reason": reason,
			})
			s.logger.Info().Str("session_id", sessionID).Str("reason", reason).Msg("session cancelled")
			return nil
		}
	}
	return fmt.Errorf("%w: session already terminal", ErrWrongPhase)
}

// GetSessionState returns the session and its enrollments, serving the
// session snapshot from cache when warm.
func (s *Service) GetSessionState(ctx context.Context, sessionID string) (*SessionState, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	enrollments, err := s.deps.Enrollments.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionState{Session: session, Enrollments: enrollments}, nil
}

// ListOpenSessions returns the non-terminal sessions of a scope.
func (s *Service) ListOpenSessions(ctx context.Context, scope string) ([]*model.Session, error) {
	return s.deps.Sessions.ListOpenByScope(ctx, scope)
}

// SessionEvents returns the append-only event log of a session.
func (s *Service) SessionEvents(ctx context.Context, sessionID string) ([]*model.OutcomeEvent, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.deps.Events.ListBySession(ctx, sessionID)
}

// SweepExpired fires the deadline handler for every session whose deadline
// passed while no in-process timer was armed, e.g. after a restart.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	sessions, err := s.deps.Sessions.ListExpired(ctx, s.deps.Clock.Now())
	if err != nil {
		return 0, err
	}
	for _, session := range sessions {
		s.handleDeadline(ctx, session.ID)
	}
	return len(sessions), nil
}

// handleDeadline reacts to an expired phase deadline. A lobby deadline
// starts or cancels depending on turnout; an active deadline resolves.
func (s *Service) handleDeadline(ctx context.Context, sessionID string) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("deadline fired for unknown session")
		return
	}

	switch session.Phase {
	case model.PhaseLobby:
		if session.ParticipantCount >= session.MinCapacity {
			if err := s.activate(ctx, session); err != nil {
				s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to auto-start")
			}
		} else {
			if err := s.cancel(ctx, sessionID, "join deadline passed without enough participants"); err != nil {
				s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to cancel")
			}
		}
	case model.PhaseActive:
		if err := s.Resolve(ctx, sessionID); err != nil && !errors.Is(err, ErrWrongPhase) {
			s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to resolve")
		}
	default:
		// Terminal or already resolving; nothing to do.
	}
}

// Resolve runs winner selection and prize distribution for an active
// session. The active -> resolving CAS guarantees a single resolution even
// when the timer and the sweep race.
func (s *Service) Resolve(ctx context.Context, sessionID string) error {
	ok, err := s.deps.Sessions.UpdatePhase(ctx, sessionID, model.PhaseActive, model.PhaseResolving, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: session is not active", ErrWrongPhase)
	}
	s.cancelTimer(sessionID)
	s.invalidateCache(ctx, sessionID)

	if err := s.runResolution(ctx, sessionID); err != nil {
		// Resolving is never a resting state: a failed resolution cancels
		// the session instead of parking it with no deadline left to sweep.
		if cErr := s.cancel(ctx, sessionID, "resolution failed"); cErr != nil && !errors.Is(cErr, ErrWrongPhase) {
			s.logger.Error().Err(cErr).Str("session_id", sessionID).Msg("failed to cancel after resolution failure")
		}
		return err
	}
	return nil
}

func (s *Service) runResolution(ctx context.Context, sessionID string) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	var result draw.Result
	switch session.Kind {
	case model.KindNumberPick:
		result, err = s.resolveNumberPick(ctx, session)
	case model.KindQuiz:
		result, err = s.resolveQuiz(ctx, session)
	}
	if err != nil {
		return err
	}

	if len(result.Winners) == 0 {
		return s.cancel(ctx, sessionID, "no valid outcome")
	}
	return s.complete(ctx, session, result)
}

func (s *Service) resolveNumberPick(ctx context.Context, session *model.Session) (draw.Result, error) {
	claims, err := s.deps.Claims.ListBySession(ctx, session.ID)
	if err != nil {
		return draw.Result{}, err
	}
	if len(claims) == 0 {
		return draw.Result{}, nil
	}

	np := session.Config.NumberPick
	src := s.deps.Seeds.Next()

	if np.WeightedDraw {
		holders, err := s.ticketHolders(ctx, session.ID, claims)
		if err != nil {
			return draw.Result{}, err
		}
		return draw.WeightedTickets(src, np.WinnerCount, holders), nil
	}

	claimants := make([]draw.Claimant, len(claims))
	for i, c := range claims {
		claimants[i] = draw.Claimant{
			ParticipantID: c.ParticipantID,
			Number:        c.Number,
			ClaimedAt:     c.ClaimedAt,
		}
	}

	if np.ReverseMode {
		return draw.ReverseElimination(src, np.RangeMin, np.RangeMax, np.WinnerCount, claimants), nil
	}
	return draw.Direct(src, np.RangeMin, np.RangeMax, np.WinnerCount, claimants), nil
}

func (s *Service) ticketHolders(ctx context.Context, sessionID string, claims []*model.Claim) ([]draw.TicketHolder, error) {
	seen := make(map[string]bool, len(claims))
	holders := make([]draw.TicketHolder, 0, len(claims))
	for _, c := range claims {
		if seen[c.ParticipantID] {
			continue
		}
		seen[c.ParticipantID] = true

		tickets := 1
		if s.deps.Tickets != nil {
			var err error
			tickets, err = s.deps.Tickets.Tickets(ctx, sessionID, c.ParticipantID)
			if err != nil {
				return nil, err
			}
		}
		holders = append(holders, draw.TicketHolder{ParticipantID: c.ParticipantID, Tickets: tickets})
	}
	return holders, nil
}

// resolveQuiz ranks scorers by score descending, earliest last answer
// breaking ties. Participants without a correct answer never win.
func (s *Service) resolveQuiz(ctx context.Context, session *model.Session) (draw.Result, error) {
	enrollments, err := s.deps.Enrollments.ListBySession(ctx, session.ID)
	if err != nil {
		return draw.Result{}, err
	}

	scorers := make([]*model.Enrollment, 0, len(enrollments))
	for _, e := range enrollments {
		if e.Score > 0 {
			scorers = append(scorers, e)
		}
	}
	sort.SliceStable(scorers, func(i, j int) bool {
		if scorers[i].Score != scorers[j].Score {
			return scorers[i].Score > scorers[j].Score
		}
		// Equal scores: the one who got there first ranks higher.
		switch {
		case scorers[i].LastAnswerAt == nil:
			return false
		case scorers[j].LastAnswerAt == nil:
			return true
		default:
			return scorers[i].LastAnswerAt.Before(*scorers[j].LastAnswerAt)
		}
	})

	winnerCount := session.Config.Quiz.WinnerCount
	if len(scorers) < winnerCount {
		winnerCount = len(scorers)
	}

	var result draw.Result
	for _, e := range scorers[:winnerCount] {
		result.Winners = append(result.Winners, e.ParticipantID)
	}
	return result, nil
}

// complete distributes prizes, persists the outcome, and announces it.
func (s *Service) complete(ctx context.Context, session *model.Session, result draw.Result) error {
	payouts, err := s.payouts(session, len(result.Winners))
	if err != nil {
		return err
	}

	for i, participantID := range result.Winners {
		if err := s.deps.Enrollments.MarkWinner(ctx, session.ID, participantID, payouts[i]); err != nil {
			return err
		}
		if err := s.deps.Participants.IncrementWon(ctx, participantID); err != nil {
			s.logger.Warn().Err(err).Str("participant_id", participantID).Msg("failed to bump won counter")
		}
	}

	now := s.deps.Clock.Now()
	ok, err := s.deps.Sessions.UpdatePhase(ctx, session.ID, model.PhaseResolving, model.PhaseCompleted, nil)
	if err != nil {
		return err
	}
	if !ok {
		// Cancelled under us mid-resolution; the outcome stands unrecorded.
		return fmt.Errorf("%w: session left resolving", ErrWrongPhase)
	}
	if err := s.deps.Sessions.SetResolved(ctx, session.ID, now); err != nil {
		return err
	}
	s.invalidateCache(ctx, session.ID)

	s.appendAndNotify(ctx, session.ID, model.EventSessionResolved, map[string]any{
		"winners": result.Winners,
		"drawn":   result.Drawn,
		"payouts": payouts,
	})

	s.logger.Info().
		Str("session_id", session.ID).
		Strs("winners", result.Winners).
		Msg("session resolved")
	return nil
}

// payouts computes the amount (or share, without a pool) each winner
// position receives.
func (s *Service) payouts(session *model.Session, winnerCount int) ([]float64, error) {
	pc := session.Config.Prize
	if pc == nil {
		return make([]float64, winnerCount), nil
	}

	var schedule []float64
	var err error
	if len(pc.Schedule) > 0 && !pc.AutoCalculate {
		schedule, err = prize.FromExplicit(pc.Schedule, winnerCount)
	} else {
		schedule, err = prize.AutoSchedule(winnerCount, pc.HeadSharePercent)
	}
	if err != nil {
		return nil, err
	}

	if pc.Pool > 0 {
		return prize.Payouts(pc.Pool, schedule), nil
	}
	return schedule, nil
}

// appendAndNotify writes the event log entry and hands the same payload to
// the notifier. Failures are logged, not returned: the state transition
// already happened and must not unwind.
func (s *Service) appendAndNotify(ctx context.Context, sessionID, eventType string, fields map[string]any) {
	fields["event_type"] = eventType
	fields["session_id"] = sessionID

	payload, err := json.Marshal(fields)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to marshal event payload")
		return
	}

	event, err := s.deps.Events.Append(ctx, sessionID, eventType, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Str("event_type", eventType).Msg("failed to append event")
		return
	}

	if s.deps.Notifier != nil {
		s.deps.Notifier.Emit(ctx, event.ID, eventType, payload)
	}
}

func (s *Service) getSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if s.deps.Cache != nil {
		if session, err := s.deps.Cache.GetSession(ctx, sessionID); err == nil {
			return session, nil
		}
	}

	session, err := s.deps.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		// Only a confirmed miss maps to not-found; store outages surface as
		// infrastructure errors so callers can tell them apart.
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetSession(ctx, session); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to cache session")
		}
	}
	return session, nil
}

func (s *Service) invalidateCache(ctx context.Context, sessionID string) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.InvalidateAll(ctx, sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to invalidate cache")
	}
}

// scheduleDeadline arms (or re-arms) the in-process timer for a session.
func (s *Service) scheduleDeadline(sessionID string, at time.Time) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if timer, ok := s.timers[sessionID]; ok {
		timer.Stop()
	}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[sessionID] = time.AfterFunc(delay, func() {
		s.handleDeadline(context.Background(), sessionID)
	})
}

func (s *Service) cancelTimer(sessionID string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if timer, ok := s.timers[sessionID]; ok {
		timer.Stop()
		delete(s.timers, sessionID)
	}
}

// Shutdown stops every armed timer. In-flight deadline handlers finish on
// their own.
func (s *Service) Shutdown() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
