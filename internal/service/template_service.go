package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/sebgate/internal/model"
	"github.com/stemsi/sebgate/internal/repository"
	"github.com/stemsi/sebgate/internal/seb"
)

// Template service errors.
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateInUse    = errors.New("template is referenced by quiz settings")
	ErrTemplateInvalid  = errors.New("template content is not a valid SEB configuration")
)

// TemplateService manages reusable SEB configuration templates. Edits ripple
// into the settings cache: every quiz referencing an updated template gets
// its configuration recompiled immediately.
type TemplateService struct {
	templateRepo *repository.TemplateRepository
	settingsRepo *repository.SebSettingsRepository
	settings     *SebSettingsService
	log          zerolog.Logger
}

// NewTemplateService creates a new TemplateService.
func NewTemplateService(
	templateRepo *repository.TemplateRepository,
	settingsRepo *repository.SebSettingsRepository,
	settings *SebSettingsService,
	log zerolog.Logger,
) *TemplateService {
	return &TemplateService{
		templateRepo: templateRepo,
		settingsRepo: settingsRepo,
		settings:     settings,
		log:          log.With().Str("component", "template_service").Logger(),
	}
}

// List returns all templates.
func (s *TemplateService) List(ctx context.Context) ([]model.SebTemplate, error) {
	return s.templateRepo.List(ctx)
}

// GetByID returns one template, or ErrTemplateNotFound.
func (s *TemplateService) GetByID(ctx context.Context, id uuid.UUID) (*model.SebTemplate, error) {
	template, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, ErrTemplateNotFound
	}
	return template, nil
}

// Create stores a new template after checking the content parses as a SEB
// configuration document.
func (s *TemplateService) Create(ctx context.Context, req *model.CreateSebTemplateRequest) (*model.SebTemplate, error) {
	if _, err := seb.UnmarshalDocument([]byte(req.Content)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateInvalid, err)
	}

	template := &model.SebTemplate{
		Name:        req.Name,
		Description: req.Description,
		Content:     req.Content,
		Enabled:     true,
	}
	if req.Enabled != nil {
		template.Enabled = *req.Enabled
	}
	if err := s.templateRepo.Create(ctx, template); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}

	s.log.Info().Str("template_id", template.ID.String()).Str("name", template.Name).Msg("SEB template created")
	return template, nil
}

// Update modifies a template and recompiles every quiz configuration built
// from it so stale template content never stays cached.
func (s *TemplateService) Update(ctx context.Context, id uuid.UUID, req *model.UpdateSebTemplateRequest) (*model.SebTemplate, error) {
	template, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	contentChanged := req.Content != "" && req.Content != template.Content
	if contentChanged {
		if _, err := seb.UnmarshalDocument([]byte(req.Content)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTemplateInvalid, err)
		}
		template.Content = req.Content
	}
	if req.Name != "" {
		template.Name = req.Name
	}
	if req.Description != "" {
		template.Description = req.Description
	}
	if req.Enabled != nil {
		template.Enabled = *req.Enabled
	}
	if err := s.templateRepo.Update(ctx, template); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}

	if contentChanged {
		if err := s.settings.RebuildForTemplate(ctx, id); err != nil {
			return nil, fmt.Errorf("rebuild dependent settings: %w", err)
		}
	}

	s.log.Info().Str("template_id", id.String()).Msg("SEB template updated")
	return template, nil
}

// Delete removes a template. Refused while any quiz settings still
// reference it.
func (s *TemplateService) Delete(ctx context.Context, id uuid.UUID) error {
	template, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if template == nil {
		return ErrTemplateNotFound
	}

	count, err := s.settingsRepo.CountByTemplate(ctx, id)
	if err != nil {
		return fmt.Errorf("count template references: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %d quizzes", ErrTemplateInUse, count)
	}

	if err := s.templateRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}

	s.log.Info().Str("template_id", id.String()).Msg("SEB template deleted")
	return nil
}
