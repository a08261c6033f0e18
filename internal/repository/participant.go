package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-engine/internal/model"
)

const participantColumns = `id, external_id, display_name, sessions_played, sessions_won, created_at`

// ParticipantRepository handles durable player identities.
type ParticipantRepository struct {
	pool *pgxpool.Pool
}

// NewParticipantRepository creates a new ParticipantRepository instance.
func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	err := row.Scan(
		&p.ID,
		&p.ExternalID,
		&p.DisplayName,
		&p.SessionsPlayed,
		&p.SessionsWon,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new participant.
func (r *ParticipantRepository) Create(ctx context.Context, externalID, displayName string) (*model.Participant, error) {
	const query = `
		INSERT INTO participants (id, external_id, display_name, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING ` + participantColumns

	participant, err := scanParticipant(r.pool.QueryRow(ctx, query, uuid.NewString(), externalID, displayName))
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return participant, nil
}

// GetByID retrieves a participant by internal ID.
func (r *ParticipantRepository) GetByID(ctx context.Context, id string) (*model.Participant, error) {
	const query = `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`

	participant, err := scanParticipant(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return participant, nil
}

// GetByExternalID retrieves a participant by the caller-supplied identity.
func (r *ParticipantRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Participant, error) {
	const query = `SELECT ` + participantColumns + ` FROM participants WHERE external_id = $1`

	participant, err := scanParticipant(r.pool.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return participant, nil
}

// GetOrCreate retrieves a participant by external ID, creating one if it
// doesn't exist. The second return reports whether a row was created.
func (r *ParticipantRepository) GetOrCreate(ctx context.Context, externalID, displayName string) (*model.Participant, bool, error) {
	participant, err := r.GetByExternalID(ctx, externalID)
	if err == nil {
		return participant, false, nil
	}
	if !errors.Is(err, ErrParticipantNotFound) {
		return nil, false, err
	}

	participant, err = r.Create(ctx, externalID, displayName)
	if err != nil {
		// Handle race condition: another request might have created the row
		participant, err = r.GetByExternalID(ctx, externalID)
		if err != nil {
			return nil, false, err
		}
		return participant, false, nil
	}

	return participant, true, nil
}

// UpdateDisplayName refreshes the display name supplied on join.
func (r *ParticipantRepository) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	const query = `UPDATE participants SET display_name = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, displayName)
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// IncrementPlayed bumps the lifetime played counter.
func (r *ParticipantRepository) IncrementPlayed(ctx context.Context, id string) error {
	const query = `UPDATE participants SET sessions_played = sessions_played + 1 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment sessions played: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// IncrementWon bumps the lifetime won counter.
func (r *ParticipantRepository) IncrementWon(ctx context.Context, id string) error {
	const query = `UPDATE participants SET sessions_won = sessions_won + 1 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment sessions won: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}
