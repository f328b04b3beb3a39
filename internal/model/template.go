package model

import (
	"time"

	"github.com/google/uuid"
)

// SebTemplate is a named, reusable SEB configuration overlay. The content is
// a raw property-list document; quiz settings referencing the template apply
// their explicitly changed fields on top of it at compile time.
type SebTemplate struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateSebTemplateRequest is the payload for creating a template.
type CreateSebTemplateRequest struct {
	Name        string `json:"name" binding:"required,min=3,max=255"`
	Description string `json:"description" binding:"omitempty,max=1024"`
	Content     string `json:"content" binding:"required"`
	Enabled     *bool  `json:"enabled" binding:"omitempty"`
}

// UpdateSebTemplateRequest is the payload for updating a template. Editing a
// referenced template rebuilds the cached artifacts of every dependent quiz.
type UpdateSebTemplateRequest struct {
	Name        string `json:"name" binding:"omitempty,min=3,max=255"`
	Description string `json:"description" binding:"omitempty,max=1024"`
	Content     string `json:"content" binding:"omitempty"`
	Enabled     *bool  `json:"enabled" binding:"omitempty"`
}
