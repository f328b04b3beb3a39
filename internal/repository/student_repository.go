package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/sebgate/internal/model"
)

var ErrDuplicateNISN = errors.New("student with this NISN already exists")

// StudentRepository handles student data access.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// GetByID retrieves a student by ID.
func (r *StudentRepository) GetByID(ctx context.Context, id int) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, nisn, name, password_hash, created_at, updated_at
		 FROM students WHERE id = $1`, id,
	).Scan(&s.ID, &s.NISN, &s.Name, &s.PasswordHash, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByNISN retrieves a student by their unique NISN.
func (r *StudentRepository) GetByNISN(ctx context.Context, nisn string) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, nisn, name, password_hash, created_at, updated_at
		 FROM students WHERE nisn = $1`, nisn,
	).Scan(&s.ID, &s.NISN, &s.Name, &s.PasswordHash, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}
