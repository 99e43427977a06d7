// Package quiz reads quizzes from Postgres. Authoring lives elsewhere; a quiz is immutable here.
package quiz

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Schema of the table read by Repository. Questions are stored as a JSON array.
const Schema = `
CREATE TABLE IF NOT EXISTS quizzes (
	quiz_id     TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	questions   JSONB NOT NULL,
	created_by  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS quizzes_created_by_idx ON quizzes (created_by, updated_at DESC);`

const columns = `quiz_id, title, description, questions, created_by, created_at, updated_at`

type Config struct {
	DB *pgxpool.Pool
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(c Config) *Repository {
	return &Repository{
		db: c.DB,
	}
}

// GetQuiz reads one quiz by id.
func (r *Repository) GetQuiz(ctx context.Context, id string) (*domain.Quiz, error) {
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM quizzes WHERE quiz_id = $1;`, id)
	if err != nil {
		return nil, fmt.Errorf("query quiz %s: %w", id, err)
	}

	q, err := pgx.CollectExactlyOneRow(rows, scanQuiz)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("scan quiz %s: %w", id, err)
	}

	return &q, nil
}

type ListByOwnerRequest struct {
	OwnerID string
}

// ListByOwner returns the quizzes a user created, most recently updated first.
func (r *Repository) ListByOwner(ctx context.Context, req ListByOwnerRequest) ([]domain.Quiz, error) {
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM quizzes WHERE created_by = $1 ORDER BY updated_at DESC;`, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("query quizzes of %s: %w", req.OwnerID, err)
	}

	quizzes, err := pgx.CollectRows(rows, scanQuiz)
	if err != nil {
		return nil, fmt.Errorf("scan quizzes of %s: %w", req.OwnerID, err)
	}

	return quizzes, nil
}

// Save inserts or replaces a quiz. It is used to seed games.
func (r *Repository) Save(ctx context.Context, q domain.Quiz) error {
	questions, err := encodeQuestions(q.Questions)
	if err != nil {
		return err
	}

	const stmt = `
INSERT INTO quizzes (quiz_id, title, description, questions, created_by)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (quiz_id) DO UPDATE
SET title = EXCLUDED.title, description = EXCLUDED.description, questions = EXCLUDED.questions,
    created_by = EXCLUDED.created_by, updated_at = now();`

	if _, err := r.db.Exec(ctx, stmt, q.QuizID, q.Title, q.Description, questions, q.CreatedBy); err != nil {
		return fmt.Errorf("save quiz %s: %w", q.QuizID, err)
	}

	return nil
}

func scanQuiz(row pgx.CollectableRow) (domain.Quiz, error) {
	var (
		q         domain.Quiz
		questions []byte
	)

	if err := row.Scan(&q.QuizID, &q.Title, &q.Description, &questions, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return domain.Quiz{}, err
	}

	if err := json.Unmarshal(questions, &q.Questions); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal questions of %s: %w", q.QuizID, err)
	}

	return q, nil
}

// encodeQuestions renders the questions column.
func encodeQuestions(qs []domain.Question) ([]byte, error) {
	b, err := json.Marshal(qs)
	if err != nil {
		return nil, fmt.Errorf("marshal questions: %w", err)
	}
	return b, nil
}
