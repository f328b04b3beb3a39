package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/sebgate/internal/model"
)

// TemplateRepository handles SEB template data access.
type TemplateRepository struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// GetByID retrieves a template by id. Returns (nil, nil) when absent.
func (r *TemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SebTemplate, error) {
	t := &model.SebTemplate{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, content, enabled, created_at, updated_at
		 FROM seb_templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.Content, &t.Enabled, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List retrieves all templates ordered by name.
func (r *TemplateRepository) List(ctx context.Context) ([]model.SebTemplate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, content, enabled, created_at, updated_at
		 FROM seb_templates ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []model.SebTemplate
	for rows.Next() {
		var t model.SebTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Content, &t.Enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Create inserts a new template.
func (r *TemplateRepository) Create(ctx context.Context, t *model.SebTemplate) error {
	t.ID = uuid.New()
	return r.pool.QueryRow(ctx,
		`INSERT INTO seb_templates (id, name, description, content, enabled)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Description, t.Content, t.Enabled,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// Update replaces a template's mutable fields.
func (r *TemplateRepository) Update(ctx context.Context, t *model.SebTemplate) error {
	return r.pool.QueryRow(ctx,
		`UPDATE seb_templates
		 SET name = $2, description = $3, content = $4, enabled = $5, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		t.ID, t.Name, t.Description, t.Content, t.Enabled,
	).Scan(&t.UpdatedAt)
}

// Delete removes a template.
func (r *TemplateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM seb_templates WHERE id = $1`, id)
	return err
}
