package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-engine/internal/model"
)

// ClaimRepository handles number claims for number-pick sessions. Uniqueness
// lives in the primary key (session_id, number): two racing claims for the
// same number resolve at the store, not in application code.
type ClaimRepository struct {
	pool *pgxpool.Pool
}

// NewClaimRepository creates a new ClaimRepository instance.
func NewClaimRepository(pool *pgxpool.Pool) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

// Reserve attempts to take a number for a participant. Returns false if the
// number is already held by someone else.
func (r *ClaimRepository) Reserve(ctx context.Context, sessionID string, number int, participantID string) (bool, error) {
	const query = `
		INSERT INTO claims (session_id, number, participant_id, claimed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, number) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query, sessionID, number, participantID)
	if err != nil {
		return false, fmt.Errorf("failed to reserve number: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Release frees a number so it can be claimed again. Only the holder's
// release takes effect.
func (r *ClaimRepository) Release(ctx context.Context, sessionID string, number int, participantID string) (bool, error) {
	const query = `
		DELETE FROM claims
		WHERE session_id = $1 AND number = $2 AND participant_id = $3
	`

	result, err := r.pool.Exec(ctx, query, sessionID, number, participantID)
	if err != nil {
		return false, fmt.Errorf("failed to release number: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Numbers returns all claimed numbers of a session in ascending order.
func (r *ClaimRepository) Numbers(ctx context.Context, sessionID string) ([]int, error) {
	const query = `SELECT number FROM claims WHERE session_id = $1 ORDER BY number ASC`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimed numbers: %w", err)
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating numbers: %w", err)
	}
	return numbers, nil
}

// ListBySession returns all claims of a session ordered by claim time.
func (r *ClaimRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.Claim, error) {
	const query = `
		SELECT session_id, number, participant_id, claimed_at
		FROM claims
		WHERE session_id = $1
		ORDER BY claimed_at ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []*model.Claim
	for rows.Next() {
		var c model.Claim
		if err := rows.Scan(&c.SessionID, &c.Number, &c.ParticipantID, &c.ClaimedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claims: %w", err)
	}
	return claims, nil
}

// CountByParticipant returns how many numbers a participant holds in a
// session. Used to enforce the one-claim rule when duplicates are off.
func (r *ClaimRepository) CountByParticipant(ctx context.Context, sessionID, participantID string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM claims
		WHERE session_id = $1 AND participant_id = $2
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, sessionID, participantID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}
	return count, nil
}
