package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-engine/internal/model"
)

// ErrDeliveryNotFound is returned when a delivery record does not exist.
var ErrDeliveryNotFound = errors.New("delivery not found")

const deliveryColumns = `id, event_id, event_type, target_url, payload, status,
	attempts, last_attempt_at, response_status, response_body, created_at`

// DeliveryRepository tracks webhook delivery attempts. Every outbound
// notification gets a row before the first attempt, so the audit trail
// survives a crash mid-delivery.
type DeliveryRepository struct {
	pool *pgxpool.Pool
}

// NewDeliveryRepository creates a new DeliveryRepository instance.
func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

func scanDelivery(row pgx.Row) (*model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	err := row.Scan(
		&d.ID,
		&d.EventID,
		&d.EventType,
		&d.TargetURL,
		&d.Payload,
		&d.Status,
		&d.Attempts,
		&d.LastAttemptAt,
		&d.ResponseStatus,
		&d.ResponseBody,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create records a pending delivery before the first attempt.
func (r *DeliveryRepository) Create(ctx context.Context, eventID, eventType, targetURL string, payload json.RawMessage) (*model.WebhookDelivery, error) {
	const query = `
		INSERT INTO webhook_deliveries (id, event_id, event_type, target_url, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW())
		RETURNING ` + deliveryColumns

	delivery, err := scanDelivery(r.pool.QueryRow(ctx, query,
		uuid.NewString(), eventID, eventType, targetURL, payload, model.DeliveryPending))
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}
	return delivery, nil
}

// GetByID retrieves a delivery record.
func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	const query = `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`

	delivery, err := scanDelivery(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return delivery, nil
}

// RecordAttempt appends one attempt's result to a delivery record and moves
// it to the given status.
func (r *DeliveryRepository) RecordAttempt(ctx context.Context, id string, status model.DeliveryStatus, responseStatus *int, responseBody *string, at time.Time) error {
	const query = `
		UPDATE webhook_deliveries
		SET status = $2, attempts = attempts + 1, last_attempt_at = $3,
			response_status = $4, response_body = $5
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, status, at, responseStatus, responseBody)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// ListRetryable returns deliveries still owed an attempt: pending rows never
// picked up and retrying rows below the attempt budget. The sweep job feeds
// these back into the dispatcher after a restart.
func (r *DeliveryRepository) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*model.WebhookDelivery, error) {
	const query = `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE status IN ($1, $2) AND attempts < $3
		ORDER BY created_at ASC
		LIMIT $4
	`

	rows, err := r.pool.Query(ctx, query, model.DeliveryPending, model.DeliveryRetrying, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*model.WebhookDelivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deliveries: %w", err)
	}
	return deliveries, nil
}

// PurgeOlderThan removes terminal delivery records created before the cutoff
// and returns how many rows were removed.
func (r *DeliveryRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM webhook_deliveries
		WHERE status IN ($1, $2) AND created_at < $3
	`

	result, err := r.pool.Exec(ctx, query, model.DeliverySuccess, model.DeliveryFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deliveries: %w", err)
	}
	return result.RowsAffected(), nil
}
