// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"game-session-engine/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = Migrate(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

func newNumberPickSession(maxCapacity int) *model.Session {
	return &model.Session{
		Kind:        model.KindNumberPick,
		CreatedBy:   "admin-1",
		Scope:       "room-1",
		MinCapacity: 1,
		MaxCapacity: maxCapacity,
		Config: model.SessionConfig{
			NumberPick: &model.NumberPickConfig{
				RangeMin:    1,
				RangeMax:    100,
				WinnerCount: 1,
			},
		},
	}
}

// ============================================================================
// SessionRepository Tests
// ============================================================================

func TestSessionRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	session, err := repo.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, model.PhaseLobby, session.Phase)
	assert.Equal(t, 0, session.ParticipantCount)
	require.NotNil(t, session.Config.NumberPick)
	assert.Equal(t, 100, session.Config.NumberPick.RangeMax)

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, model.KindNumberPick, got.Kind)

	_, err = repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionRepository_UpdatePhaseCAS(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	session, err := repo.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)

	deadline := time.Now().Add(time.Minute)
	ok, err := repo.UpdatePhase(ctx, session.ID, model.PhaseLobby, model.PhaseActive, &deadline)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second transition from lobby must lose: the session is active now.
	ok, err = repo.UpdatePhase(ctx, session.ID, model.PhaseLobby, model.PhaseCancelled, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseActive, got.Phase)
	require.NotNil(t, got.PhaseDeadline)
}

func TestSessionRepository_UpdatePhaseConcurrent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	session, err := repo.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)

	// Many goroutines race the same transition; exactly one may win.
	const attempts = 10
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.UpdatePhase(ctx, session.ID, model.PhaseLobby, model.PhaseActive, nil)
			if err == nil && ok {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestSessionRepository_IncrementParticipantCount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	session, err := repo.Create(ctx, newNumberPickSession(2))
	require.NoError(t, err)

	ok, err := repo.IncrementParticipantCount(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IncrementParticipantCount(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Session is full now.
	ok, err = repo.IncrementParticipantCount(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ParticipantCount)
}

func TestSessionRepository_DecrementParticipantCount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	session, err := repo.Create(ctx, newNumberPickSession(2))
	require.NoError(t, err)

	ok, err := repo.IncrementParticipantCount(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.DecrementParticipantCount(ctx, session.ID))

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ParticipantCount)

	// The count never goes negative.
	require.NoError(t, repo.DecrementParticipantCount(ctx, session.ID))
	got, err = repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ParticipantCount)
}

func TestSessionRepository_ListOpenByScope(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	open, err := repo.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)

	other := newNumberPickSession(10)
	other.Scope = "room-2"
	_, err = repo.Create(ctx, other)
	require.NoError(t, err)

	closed, err := repo.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)
	ok, err := repo.UpdatePhase(ctx, closed.ID, model.PhaseLobby, model.PhaseCancelled, nil)
	require.NoError(t, err)
	require.True(t, ok)

	sessions, err := repo.ListOpenByScope(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, open.ID, sessions[0].ID)
}

func TestSessionRepository_ListExpired(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	expired := newNumberPickSession(10)
	expired.PhaseDeadline = &past
	created, err := repo.Create(ctx, expired)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	fresh := newNumberPickSession(10)
	fresh.PhaseDeadline = &future
	_, err = repo.Create(ctx, fresh)
	require.NoError(t, err)

	sessions, err := repo.ListExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, created.ID, sessions[0].ID)
}

// ============================================================================
// ParticipantRepository Tests
// ============================================================================

func TestParticipantRepository_GetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewParticipantRepository(pool)
	ctx := context.Background()

	participant, created, err := repo.GetOrCreate(ctx, "ext-1", "Alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ext-1", participant.ExternalID)
	assert.Equal(t, 0, participant.SessionsPlayed)

	same, created, err := repo.GetOrCreate(ctx, "ext-1", "Alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, participant.ID, same.ID)
}

func TestParticipantRepository_Counters(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewParticipantRepository(pool)
	ctx := context.Background()

	participant, _, err := repo.GetOrCreate(ctx, "ext-2", "Bob")
	require.NoError(t, err)

	require.NoError(t, repo.IncrementPlayed(ctx, participant.ID))
	require.NoError(t, repo.IncrementPlayed(ctx, participant.ID))
	require.NoError(t, repo.IncrementWon(ctx, participant.ID))

	got, err := repo.GetByID(ctx, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SessionsPlayed)
	assert.Equal(t, 1, got.SessionsWon)
}

// ============================================================================
// EnrollmentRepository Tests
// ============================================================================

func TestEnrollmentRepository_CreateIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	sessions := NewSessionRepository(pool)
	participants := NewParticipantRepository(pool)
	enrollments := NewEnrollmentRepository(pool)

	session, err := sessions.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)
	participant, _, err := participants.GetOrCreate(ctx, "ext-3", "Carol")
	require.NoError(t, err)

	inserted, err := enrollments.Create(ctx, session.ID, participant.ID)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = enrollments.Create(ctx, session.ID, participant.ID)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestEnrollmentRepository_ScoreAndWinner(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	sessions := NewSessionRepository(pool)
	participants := NewParticipantRepository(pool)
	enrollments := NewEnrollmentRepository(pool)

	session, err := sessions.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)
	participant, _, err := participants.GetOrCreate(ctx, "ext-4", "Dave")
	require.NoError(t, err)
	_, err = enrollments.Create(ctx, session.ID, participant.ID)
	require.NoError(t, err)

	answeredAt := time.Now()
	require.NoError(t, enrollments.AddScore(ctx, session.ID, participant.ID, 1, answeredAt))
	require.NoError(t, enrollments.AddScore(ctx, session.ID, participant.ID, 1, answeredAt))
	require.NoError(t, enrollments.MarkWinner(ctx, session.ID, participant.ID, 62.5))

	enrollment, err := enrollments.Get(ctx, session.ID, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, enrollment.Score)
	assert.True(t, enrollment.IsWinner)
	require.NotNil(t, enrollment.PrizeShare)
	assert.InDelta(t, 62.5, *enrollment.PrizeShare, 0.001)
}

// ============================================================================
// ClaimRepository Tests
// ============================================================================

func TestClaimRepository_ReserveConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	sessions := NewSessionRepository(pool)
	participants := NewParticipantRepository(pool)
	claims := NewClaimRepository(pool)

	session, err := sessions.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)
	alice, _, err := participants.GetOrCreate(ctx, "ext-5", "Alice")
	require.NoError(t, err)
	bob, _, err := participants.GetOrCreate(ctx, "ext-6", "Bob")
	require.NoError(t, err)

	taken, err := claims.Reserve(ctx, session.ID, 7, alice.ID)
	require.NoError(t, err)
	assert.True(t, taken)

	// Same number, different participant: loses.
	taken, err = claims.Reserve(ctx, session.ID, 7, bob.ID)
	require.NoError(t, err)
	assert.False(t, taken)

	numbers, err := claims.Numbers(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, numbers)
}

func TestClaimRepository_ConcurrentReserveSameNumber(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	sessions := NewSessionRepository(pool)
	participants := NewParticipantRepository(pool)
	claims := NewClaimRepository(pool)

	session, err := sessions.Create(ctx, newNumberPickSession(50))
	require.NoError(t, err)

	const contenders = 10
	ids := make([]string, contenders)
	for i := 0; i < contenders; i++ {
		p, _, err := participants.GetOrCreate(ctx, "race-"+string(rune('a'+i)), "racer")
		require.NoError(t, err)
		ids[i] = p.ID
	}

	var wg sync.WaitGroup
	wins := make(chan string, contenders)
	for _, id := range ids {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			ok, err := claims.Reserve(ctx, session.ID, 13, pid)
			if err == nil && ok {
				wins <- pid
			}
		}(id)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one contender may hold the number")
}

func TestClaimRepository_Release(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	sessions := NewSessionRepository(pool)
	participants := NewParticipantRepository(pool)
	claims := NewClaimRepository(pool)

	session, err := sessions.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)
	alice, _, err := participants.GetOrCreate(ctx, "ext-7", "Alice")
	require.NoError(t, err)
	bob, _, err := participants.GetOrCreate(ctx, "ext-8", "Bob")
	require.NoError(t, err)

	_, err = claims.Reserve(ctx, session.ID, 4, alice.ID)
	require.NoError(t, err)

	// Only the holder can release.
	released, err := claims.Release(ctx, session.ID, 4, bob.ID)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = claims.Release(ctx, session.ID, 4, alice.ID)
	require.NoError(t, err)
	assert.True(t, released)

	taken, err := claims.Reserve(ctx, session.ID, 4, bob.ID)
	require.NoError(t, err)
	assert.True(t, taken)
}

// ============================================================================
// QuizRepository Tests
// ============================================================================

func TestQuizRepository_QuestionsRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	sessions := NewSessionRepository(pool)
	quiz := NewQuizRepository(pool)

	session, err := sessions.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)

	questions := []model.Question{
		{Prompt: "q0", Options: [4]string{"a", "b", "c", "d"}, CorrectIndex: 2},
		{Prompt: "q1", Options: [4]string{"e", "f", "g", "h"}, CorrectIndex: 0},
	}
	require.NoError(t, quiz.SaveQuestions(ctx, session.ID, questions))

	got, err := quiz.GetQuestion(ctx, session.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "q1", got.Prompt)
	assert.Equal(t, 0, got.CorrectIndex)

	all, err := quiz.ListQuestions(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, questions, all)

	_, err = quiz.GetQuestion(ctx, session.ID, 5)
	assert.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestQuizRepository_RecordAnswerFirstWins(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	sessions := NewSessionRepository(pool)
	participants := NewParticipantRepository(pool)
	quiz := NewQuizRepository(pool)

	session, err := sessions.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)
	participant, _, err := participants.GetOrCreate(ctx, "ext-9", "Eve")
	require.NoError(t, err)

	answer := &model.QuizAnswer{
		SessionID:     session.ID,
		ParticipantID: participant.ID,
		QuestionIndex: 0,
		AnswerIndex:   2,
		Correct:       true,
		AnsweredAt:    time.Now(),
	}
	recorded, err := quiz.RecordAnswer(ctx, answer)
	require.NoError(t, err)
	assert.True(t, recorded)

	// Second answer to the same question is rejected.
	answer.AnswerIndex = 3
	recorded, err = quiz.RecordAnswer(ctx, answer)
	require.NoError(t, err)
	assert.False(t, recorded)

	answers, err := quiz.ListAnswers(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, 2, answers[0].AnswerIndex)

	count, err := quiz.CountAnswers(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// ============================================================================
// EventRepository Tests
// ============================================================================

func TestEventRepository_AppendAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	sessions := NewSessionRepository(pool)
	events := NewEventRepository(pool)

	session, err := sessions.Create(ctx, newNumberPickSession(10))
	require.NoError(t, err)

	_, err = events.Append(ctx, session.ID, model.EventSessionCreated, json.RawMessage(`{"kind":"number_pick"}`))
	require.NoError(t, err)
	_, err = events.Append(ctx, session.ID, model.EventSessionStarted, nil)
	require.NoError(t, err)

	list, err := events.ListBySession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.EventSessionCreated, list[0].EventType)
	assert.Equal(t, model.EventSessionStarted, list[1].EventType)
	assert.NotEmpty(t, list[0].ID)
}

// ============================================================================
// DeliveryRepository Tests
// ============================================================================

func TestDeliveryRepository_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewDeliveryRepository(pool)

	delivery, err := repo.Create(ctx, "11111111-1111-1111-1111-111111111111",
		model.EventSessionResolved, "https://example.com/hook", json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryPending, delivery.Status)
	assert.Equal(t, 0, delivery.Attempts)

	status := 500
	body := "upstream error"
	require.NoError(t, repo.RecordAttempt(ctx, delivery.ID, model.DeliveryRetrying, &status, &body, time.Now()))

	retryable, err := repo.ListRetryable(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, 1, retryable[0].Attempts)
	assert.Equal(t, model.DeliveryRetrying, retryable[0].Status)

	ok := 200
	require.NoError(t, repo.RecordAttempt(ctx, delivery.ID, model.DeliverySuccess, &ok, nil, time.Now()))

	retryable, err = repo.ListRetryable(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, retryable)
}

func TestDeliveryRepository_ExhaustedNotRetryable(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewDeliveryRepository(pool)

	delivery, err := repo.Create(ctx, "22222222-2222-2222-2222-222222222222",
		model.EventSessionResolved, "https://example.com/hook", json.RawMessage(`{}`))
	require.NoError(t, err)

	status := 503
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordAttempt(ctx, delivery.ID, model.DeliveryRetrying, &status, nil, time.Now()))
	}

	retryable, err := repo.ListRetryable(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, retryable, "attempt budget exhausted")
}

func TestDeliveryRepository_Purge(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewDeliveryRepository(pool)

	delivery, err := repo.Create(ctx, "33333333-3333-3333-3333-333333333333",
		model.EventSessionResolved, "https://example.com/hook", json.RawMessage(`{}`))
	require.NoError(t, err)

	ok := 200
	require.NoError(t, repo.RecordAttempt(ctx, delivery.ID, model.DeliverySuccess, &ok, nil, time.Now()))

	// Cutoff in the future: the record qualifies.
	purged, err := repo.PurgeOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = repo.GetByID(ctx, delivery.ID)
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
}
