package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"game-session-engine/internal/model"
	"game-session-engine/internal/pkg/clock"
)

// DeliveryStore is the durable attempt ledger the dispatcher writes.
type DeliveryStore interface {
	Create(ctx context.Context, eventID, eventType, targetURL string, payload json.RawMessage) (*model.WebhookDelivery, error)
	RecordAttempt(ctx context.Context, id string, status model.DeliveryStatus, responseStatus *int, responseBody *string, at time.Time) error
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*model.WebhookDelivery, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds dispatcher settings.
type Config struct {
	Targets     []string
	Secret      string
	MaxAttempts int
	BackoffStep time.Duration
	Timeout     time.Duration
}

const responseBodyLimit = 1024

// Dispatcher fans one event out to every configured target and retries
// each delivery on its own goroutine. Emit never blocks the caller on
// network I/O, so the engine can fire notifications while still holding
// no session state.
type Dispatcher struct {
	store  DeliveryStore
	client *http.Client
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. clk may be nil for wall-clock time.
func NewDispatcher(store DeliveryStore, cfg Config, clk clock.Clock, logger zerolog.Logger) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if clk == nil {
		clk = &clock.DefaultClock{}
	}
	return &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		clock:  clk,
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

// Emit records one pending delivery per target and starts delivering in the
// background. The delivery row is written before the first attempt so a
// crash mid-flight leaves a retryable record, not a lost event.
func (d *Dispatcher) Emit(ctx context.Context, eventID, eventType string, data json.RawMessage) {
	for _, target := range d.cfg.Targets {
		delivery, err := d.store.Create(ctx, eventID, eventType, target, data)
		if err != nil {
			d.logger.Error().Err(err).
				Str("event_id", eventID).
				Str("target", target).
				Msg("failed to record delivery")
			continue
		}

		d.wg.Add(1)
		go func(delivery *model.WebhookDelivery) {
			defer d.wg.Done()
			d.deliver(context.Background(), delivery)
		}(delivery)
	}
}

// Resume re-queues deliveries still owed attempts, e.g. after a restart.
// Returns how many were picked up.
func (d *Dispatcher) Resume(ctx context.Context, limit int) (int, error) {
	deliveries, err := d.store.ListRetryable(ctx, d.cfg.MaxAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable deliveries: %w", err)
	}

	for _, delivery := range deliveries {
		d.wg.Add(1)
		go func(delivery *model.WebhookDelivery) {
			defer d.wg.Done()
			d.deliver(context.Background(), delivery)
		}(delivery)
	}
	return len(deliveries), nil
}

// Purge removes terminal delivery records older than the retention window.
func (d *Dispatcher) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return d.store.PurgeOlderThan(ctx, d.clock.Now().Add(-retention))
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// deliver runs the attempt loop for a single delivery record. Attempt n
// waits (n-1) x BackoffStep after the previous failure.
func (d *Dispatcher) deliver(ctx context.Context, delivery *model.WebhookDelivery) {
	envelope := Envelope{
		EventID:   delivery.EventID,
		Timestamp: d.clock.Now().UTC(),
		Signature: Sign(d.cfg.Secret, delivery.Payload),
		Data:      delivery.Payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		d.logger.Error().Err(err).Str("delivery_id", delivery.ID).Msg("failed to marshal envelope")
		return
	}

	for attempt := delivery.Attempts + 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > delivery.Attempts+1 {
			select {
			case <-time.After(time.Duration(attempt-1) * d.cfg.BackoffStep):
			case <-ctx.Done():
				return
			}
		}

		status, respBody, err := d.attempt(ctx, delivery.TargetURL, body, envelope.Signature)
		success := err == nil && status >= 200 && status < 300

		recordStatus := model.DeliveryRetrying
		if success {
			recordStatus = model.DeliverySuccess
		} else if attempt == d.cfg.MaxAttempts {
			recordStatus = model.DeliveryFailed
		}

		var statusPtr *int
		if status != 0 {
			statusPtr = &status
		}
		var bodyPtr *string
		if respBody != "" {
			bodyPtr = &respBody
		}
		if recordErr := d.store.RecordAttempt(ctx, delivery.ID, recordStatus, statusPtr, bodyPtr, d.clock.Now()); recordErr != nil {
			d.logger.Error().Err(recordErr).Str("delivery_id", delivery.ID).Msg("failed to record attempt")
		}

		if success {
			d.logger.Info().
				Str("delivery_id", delivery.ID).
				Str("event_type", delivery.EventType).
				Int("attempt", attempt).
				Msg("delivery succeeded")
			return
		}

		d.logger.Warn().
			Err(err).
			Str("delivery_id", delivery.ID).
			Str("target", delivery.TargetURL).
			Int("attempt", attempt).
			Int("status", status).
			Msg("delivery attempt failed")
	}

	d.logger.Error().
		Str("delivery_id", delivery.ID).
		Str("event_type", delivery.EventType).
		Str("target", delivery.TargetURL).
		Int("max_attempts", d.cfg.MaxAttempts).
		Msg("delivery abandoned")
}

func (d *Dispatcher) attempt(ctx context.Context, target string, body []byte, signature string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	return resp.StatusCode, string(respBody), nil
}
