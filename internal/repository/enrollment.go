package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-engine/internal/model"
)

// ErrEnrollmentNotFound is returned when a participant has no enrollment in
// the session.
var ErrEnrollmentNotFound = errors.New("enrollment not found")

const enrollmentColumns = `session_id, participant_id, joined_at, claim, score,
	last_answer_at, is_winner, prize_share`

// EnrollmentRepository handles session membership rows.
type EnrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository creates a new EnrollmentRepository instance.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

func scanEnrollment(row pgx.Row) (*model.Enrollment, error) {
	var e model.Enrollment
	err := row.Scan(
		&e.SessionID,
		&e.ParticipantID,
		&e.JoinedAt,
		&e.Claim,
		&e.Score,
		&e.LastAnswerAt,
		&e.IsWinner,
		&e.PrizeShare,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create enrolls a participant in a session. Returns false if the
// participant is already enrolled; the conditional insert makes double-join
// attempts race-safe without a lock.
func (r *EnrollmentRepository) Create(ctx context.Context, sessionID, participantID string) (bool, error) {
	const query = `
		INSERT INTO enrollments (session_id, participant_id, joined_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id, participant_id) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query, sessionID, participantID)
	if err != nil {
		return false, fmt.Errorf("failed to create enrollment: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Get retrieves one enrollment.
func (r *EnrollmentRepository) Get(ctx context.Context, sessionID, participantID string) (*model.Enrollment, error) {
	const query = `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE session_id = $1 AND participant_id = $2
	`

	enrollment, err := scanEnrollment(r.pool.QueryRow(ctx, query, sessionID, participantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return enrollment, nil
}

// ListBySession returns all enrollments of a session, join order first.
func (r *EnrollmentRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.Enrollment, error) {
	const query = `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE session_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []*model.Enrollment
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, enrollment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}
	return enrollments, nil
}

// SetClaim records the number a participant holds.
func (r *EnrollmentRepository) SetClaim(ctx context.Context, sessionID, participantID string, number int) error {
	const query = `
		UPDATE enrollments
		SET claim = $3
		WHERE session_id = $1 AND participant_id = $2
	`

	result, err := r.pool.Exec(ctx, query, sessionID, participantID, number)
	if err != nil {
		return fmt.Errorf("failed to set claim: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrEnrollmentNotFound
	}
	return nil
}

// AddScore increments a participant's quiz score and stamps the answer time.
func (r *EnrollmentRepository) AddScore(ctx context.Context, sessionID, participantID string, points int, answeredAt time.Time) error {
	const query = `
		UPDATE enrollments
		SET score = score + $3, last_answer_at = $4
		WHERE session_id = $1 AND participant_id = $2
	`

	result, err := r.pool.Exec(ctx, query, sessionID, participantID, points, answeredAt)
	if err != nil {
		return fmt.Errorf("failed to add score: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrEnrollmentNotFound
	}
	return nil
}

// MarkWinner flags an enrollment as winning and records its prize share.
func (r *EnrollmentRepository) MarkWinner(ctx context.Context, sessionID, participantID string, prizeShare float64) error {
	const query = `
		UPDATE enrollments
		SET is_winner = TRUE, prize_share = $3
		WHERE session_id = $1 AND participant_id = $2
	`

	result, err := r.pool.Exec(ctx, query, sessionID, participantID, prizeShare)
	if err != nil {
		return fmt.Errorf("failed to mark winner: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrEnrollmentNotFound
	}
	return nil
}
