package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-engine/internal/model"
)

// ErrQuestionNotFound is returned when a question index is outside the
// session's question list.
var ErrQuestionNotFound = errors.New("question not found")

// QuizRepository handles per-session question lists and answer records.
type QuizRepository struct {
	pool *pgxpool.Pool
}

// NewQuizRepository creates a new QuizRepository instance.
func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

// SaveQuestions stores the ordered question list generated at session
// creation. Written once per session.
func (r *QuizRepository) SaveQuestions(ctx context.Context, sessionID string, questions []model.Question) error {
	const query = `
		INSERT INTO quiz_questions (session_id, question_index, prompt, options, correct_index)
		VALUES ($1, $2, $3, $4, $5)
	`

	for i, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("failed to marshal options: %w", err)
		}
		if _, err := r.pool.Exec(ctx, query, sessionID, i, q.Prompt, options, q.CorrectIndex); err != nil {
			return fmt.Errorf("failed to save question %d: %w", i, err)
		}
	}
	return nil
}

// GetQuestion retrieves one question by index.
func (r *QuizRepository) GetQuestion(ctx context.Context, sessionID string, index int) (*model.Question, error) {
	const query = `
		SELECT prompt, options, correct_index
		FROM quiz_questions
		WHERE session_id = $1 AND question_index = $2
	`

	var q model.Question
	var options []byte
	err := r.pool.QueryRow(ctx, query, sessionID, index).Scan(&q.Prompt, &options, &q.CorrectIndex)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return &q, nil
}

// ListQuestions returns the session's full question list in order.
func (r *QuizRepository) ListQuestions(ctx context.Context, sessionID string) ([]model.Question, error) {
	const query = `
		SELECT prompt, options, correct_index
		FROM quiz_questions
		WHERE session_id = $1
		ORDER BY question_index ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var options []byte
		if err := rows.Scan(&q.Prompt, &options, &q.CorrectIndex); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return questions, nil
}

// RecordAnswer stores one participant's answer to one question. Returns
// false if the participant already answered that question; first answer
// wins, enforced by the primary key.
func (r *QuizRepository) RecordAnswer(ctx context.Context, answer *model.QuizAnswer) (bool, error) {
	const query = `
		INSERT INTO quiz_answers (session_id, participant_id, question_index, answer_index, correct, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, participant_id, question_index) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query,
		answer.SessionID,
		answer.ParticipantID,
		answer.QuestionIndex,
		answer.AnswerIndex,
		answer.Correct,
		answer.AnsweredAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record answer: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// CountAnswers returns how many answers a session has recorded in total.
func (r *QuizRepository) CountAnswers(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM quiz_answers WHERE session_id = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count answers: %w", err)
	}
	return count, nil
}

// ListAnswers returns all answers of a session in answer order.
func (r *QuizRepository) ListAnswers(ctx context.Context, sessionID string) ([]*model.QuizAnswer, error) {
	const query = `
		SELECT session_id, participant_id, question_index, answer_index, correct, answered_at
		FROM quiz_answers
		WHERE session_id = $1
		ORDER BY answered_at ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	var answers []*model.QuizAnswer
	for rows.Next() {
		var a model.QuizAnswer
		if err := rows.Scan(&a.SessionID, &a.ParticipantID, &a.QuestionIndex, &a.AnswerIndex, &a.Correct, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers = append(answers, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating answers: %w", err)
	}
	return answers, nil
}
