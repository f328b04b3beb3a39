package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/sebgate/internal/model"
)

// QuizRepository handles quiz data access.
type QuizRepository struct {
	pool *pgxpool.Pool
}

// NewQuizRepository creates a new QuizRepository.
func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

// GetByID retrieves a quiz by id. Returns (nil, nil) when absent.
func (r *QuizRepository) GetByID(ctx context.Context, id int64) (*model.Quiz, error) {
	q := &model.Quiz{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, author_id, created_at, updated_at FROM quizzes WHERE id = $1`, id,
	).Scan(&q.ID, &q.Title, &q.AuthorID, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// List retrieves all quizzes ordered by id.
func (r *QuizRepository) List(ctx context.Context) ([]model.Quiz, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, author_id, created_at, updated_at FROM quizzes ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quizzes []model.Quiz
	for rows.Next() {
		var q model.Quiz
		if err := rows.Scan(&q.ID, &q.Title, &q.AuthorID, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

// Create inserts a new quiz.
func (r *QuizRepository) Create(ctx context.Context, q *model.Quiz) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO quizzes (title, author_id) VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		q.Title, q.AuthorID,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
}

// Delete removes a quiz.
func (r *QuizRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM quizzes WHERE id = $1`, id)
	return err
}
