package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-engine/internal/model"
)

// EventRepository handles the append-only outcome event log.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository instance.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// Append records a lifecycle event. Events are never updated or deleted.
func (r *EventRepository) Append(ctx context.Context, sessionID, eventType string, payload json.RawMessage) (*model.OutcomeEvent, error) {
	const query = `
		INSERT INTO outcome_events (id, session_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, session_id, event_type, payload, created_at
	`

	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	var event model.OutcomeEvent
	err := r.pool.QueryRow(ctx, query, uuid.NewString(), sessionID, eventType, payload).Scan(
		&event.ID,
		&event.SessionID,
		&event.EventType,
		&event.Payload,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	return &event, nil
}

// ListBySession returns a session's events in append order.
func (r *EventRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.OutcomeEvent, error) {
	const query = `
		SELECT id, session_id, event_type, payload, created_at
		FROM outcome_events
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*model.OutcomeEvent
	for rows.Next() {
		var event model.OutcomeEvent
		if err := rows.Scan(&event.ID, &event.SessionID, &event.EventType, &event.Payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
