package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the database schema. Statements are idempotent so the
// server and the integration tests share this single entry point.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			kind VARCHAR(32) NOT NULL,
			phase VARCHAR(32) NOT NULL,
			created_by VARCHAR(255) NOT NULL,
			scope VARCHAR(255) NOT NULL,
			config JSONB NOT NULL,
			participant_count INT NOT NULL DEFAULT 0,
			min_capacity INT NOT NULL,
			max_capacity INT NOT NULL,
			phase_deadline TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_scope_phase ON sessions (scope, phase)`,

		`CREATE TABLE IF NOT EXISTS participants (
			id UUID PRIMARY KEY,
			external_id VARCHAR(255) NOT NULL UNIQUE,
			display_name VARCHAR(255) NOT NULL,
			sessions_played INT NOT NULL DEFAULT 0,
			sessions_won INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS enrollments (
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			participant_id UUID NOT NULL REFERENCES participants(id),
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			claim INT,
			score INT NOT NULL DEFAULT 0,
			last_answer_at TIMESTAMPTZ,
			is_winner BOOLEAN NOT NULL DEFAULT FALSE,
			prize_share NUMERIC(12,2),
			PRIMARY KEY (session_id, participant_id)
		)`,

		`CREATE TABLE IF NOT EXISTS claims (
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			number INT NOT NULL,
			participant_id UUID NOT NULL REFERENCES participants(id),
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (session_id, number)
		)`,

		`CREATE TABLE IF NOT EXISTS quiz_questions (
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			question_index INT NOT NULL,
			prompt TEXT NOT NULL,
			options JSONB NOT NULL,
			correct_index INT NOT NULL,
			PRIMARY KEY (session_id, question_index)
		)`,

		`CREATE TABLE IF NOT EXISTS quiz_answers (
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			participant_id UUID NOT NULL REFERENCES participants(id),
			question_index INT NOT NULL,
			answer_index INT NOT NULL,
			correct BOOLEAN NOT NULL,
			answered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (session_id, participant_id, question_index)
		)`,

		`CREATE TABLE IF NOT EXISTS outcome_events (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			event_type VARCHAR(64) NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcome_events_session ON outcome_events (session_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id UUID PRIMARY KEY,
			event_id UUID NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			target_url TEXT NOT NULL,
			payload JSONB NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			last_attempt_at TIMESTAMPTZ,
			response_status INT,
			response_body TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_status ON webhook_deliveries (status, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	return nil
}
