// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-engine/internal/model"
)

// Common errors for repository operations.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
)

const sessionColumns = `id, kind, phase, created_by, scope, config, participant_count,
	min_capacity, max_capacity, phase_deadline, created_at, resolved_at`

// SessionRepository handles session persistence.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.Kind,
		&s.Phase,
		&s.CreatedBy,
		&s.Scope,
		&s.Config,
		&s.ParticipantCount,
		&s.MinCapacity,
		&s.MaxCapacity,
		&s.PhaseDeadline,
		&s.CreatedAt,
		&s.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new session in the lobby phase and returns it.
func (r *SessionRepository) Create(ctx context.Context, session *model.Session) (*model.Session, error) {
	const query = `
		INSERT INTO sessions (id, kind, phase, created_by, scope, config,
			participant_count, min_capacity, max_capacity, phase_deadline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, NOW())
		RETURNING ` + sessionColumns

	id := session.ID
	if id == "" {
		id = uuid.NewString()
	}

	created, err := scanSession(r.pool.QueryRow(ctx, query,
		id,
		session.Kind,
		model.PhaseLobby,
		session.CreatedBy,
		session.Scope,
		session.Config,
		session.MinCapacity,
		session.MaxCapacity,
		session.PhaseDeadline,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

// GetByID retrieves a session by ID.
// Returns ErrSessionNotFound if the session does not exist.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// UpdatePhase moves a session from one phase to another with a compare-and-set
// guard. Returns false when the session was not in the expected phase, which
// makes concurrent transition attempts (deadline timer vs. explicit call)
// resolve to exactly one winner.
func (r *SessionRepository) UpdatePhase(ctx context.Context, id string, from, to model.SessionPhase, deadline *time.Time) (bool, error) {
	const query = `
		UPDATE sessions
		SET phase = $3, phase_deadline = $4
		WHERE id = $1 AND phase = $2
	`

	result, err := r.pool.Exec(ctx, query, id, from, to, deadline)
	if err != nil {
		return false, fmt.Errorf("failed to update session phase: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// SetResolved stamps the resolution time on a session.
func (r *SessionRepository) SetResolved(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE sessions SET resolved_at = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to set resolved time: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// IncrementParticipantCount bumps the participant count if the session still
// has room. Returns false when the session is already at max capacity; the
// capacity check and the increment are a single atomic statement.
func (r *SessionRepository) IncrementParticipantCount(ctx context.Context, id string) (bool, error) {
	const query = `
		UPDATE sessions
		SET participant_count = participant_count + 1
		WHERE id = $1 AND participant_count < max_capacity
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to increment participant count: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// DecrementParticipantCount returns a capacity slot taken by a join that did
// not stick, e.g. a duplicate enrollment.
func (r *SessionRepository) DecrementParticipantCount(ctx context.Context, id string) error {
	const query = `
		UPDATE sessions
		SET participant_count = participant_count - 1
		WHERE id = $1 AND participant_count > 0
	`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to decrement participant count: %w", err)
	}
	return nil
}

// ListOpenByScope returns non-terminal sessions in a scope, newest first.
func (r *SessionRepository) ListOpenByScope(ctx context.Context, scope string) ([]*model.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE scope = $1 AND phase NOT IN ($2, $3)
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, scope, model.PhaseCompleted, model.PhaseCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// ListExpired returns non-terminal sessions whose phase deadline has passed.
// Used by the sweep job to recover sessions whose in-process timer was lost
// to a restart.
func (r *SessionRepository) ListExpired(ctx context.Context, now time.Time) ([]*model.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE phase_deadline IS NOT NULL
		  AND phase_deadline <= $1
		  AND phase NOT IN ($2, $3)
		ORDER BY phase_deadline ASC
	`

	rows, err := r.pool.Query(ctx, query, now, model.PhaseCompleted, model.PhaseCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}
