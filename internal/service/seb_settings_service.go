package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/sebgate/internal/model"
	"github.com/stemsi/sebgate/internal/seb"
)

// SebSettingsStore is the persistence contract the settings service needs.
// Satisfied by repository.SebSettingsRepository; tests substitute fakes.
type SebSettingsStore interface {
	GetByQuizID(ctx context.Context, quizID int64) (*model.SebSettings, error)
	Upsert(ctx context.Context, s *model.SebSettings) error
	Delete(ctx context.Context, quizID int64) error
	ListQuizIDs(ctx context.Context) ([]int64, error)
	ListQuizIDsByTemplate(ctx context.Context, templateID uuid.UUID) ([]int64, error)
}

// SebTemplateStore resolves template content for the compile pipeline.
type SebTemplateStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.SebTemplate, error)
}

// ConfigUploadStore resolves uploaded .seb documents for the compile
// pipeline. Satisfied by SebConfigStore.
type ConfigUploadStore interface {
	Load(quizID int64) ([]byte, error)
	HasUploadedConfig(quizID int64) bool
}

// ValidationError carries field-level messages for a rejected settings save.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("seb settings validation failed: %v", e.Fields)
}

// cachedArtifact is the immutable triple the cache holds per quiz. Save
// swaps the whole value; readers always see settings, document, and config
// key from the same compile.
type cachedArtifact struct {
	settings  *model.SebSettings
	document  []byte
	configKey string
}

// SebSettingsService is the settings cache layer: it owns persistence of
// SEB settings records plus a per-process cache of the compiled
// configuration and config key, kept coherent by recompiling on every save
// and purging on delete.
//
// The cache is process-local by design; multi-node deployments converge via
// database read-through, not distributed invalidation.
type SebSettingsService struct {
	settingsRepo SebSettingsStore
	templateRepo SebTemplateStore
	uploads      ConfigUploadStore
	baseURL      string
	log          zerolog.Logger

	mu    sync.RWMutex
	cache map[int64]*cachedArtifact
}

// NewSebSettingsService creates a new SebSettingsService.
func NewSebSettingsService(
	settingsRepo SebSettingsStore,
	templateRepo SebTemplateStore,
	uploads ConfigUploadStore,
	baseURL string,
	log zerolog.Logger,
) *SebSettingsService {
	return &SebSettingsService{
		settingsRepo: settingsRepo,
		templateRepo: templateRepo,
		uploads:      uploads,
		baseURL:      baseURL,
		log:          log.With().Str("component", "seb_settings_service").Logger(),
		cache:        make(map[int64]*cachedArtifact),
	}
}

// QuizStartURL returns the launch URL embedded into compiled configurations
// and shown to the SEB client as its start page.
func (s *SebSettingsService) QuizStartURL(quizID int64) string {
	return s.baseURL + "/quizzes/" + strconv.FormatInt(quizID, 10)
}

// Save validates, persists, and recompiles a settings record, then replaces
// the cache entry so no reader ever observes new settings with a stale
// config key. Validation failures return *ValidationError.
func (s *SebSettingsService) Save(ctx context.Context, record *model.SebSettings) error {
	if err := s.validate(record); err != nil {
		return err
	}

	artifact, err := s.compile(ctx, record, false)
	if err != nil {
		return err
	}

	// The quit URL is discovered inside the overlay source, not configured.
	record.LinkQuitURL = ""
	if artifact != nil {
		record.LinkQuitURL = artifact.quitURL
	}

	if err := s.settingsRepo.Upsert(ctx, record); err != nil {
		return fmt.Errorf("persist seb settings: %w", err)
	}

	entry := &cachedArtifact{settings: record.Clone()}
	if artifact != nil {
		entry.document = artifact.document
		entry.configKey = artifact.configKey
	}

	s.mu.Lock()
	s.cache[record.QuizID] = entry
	s.mu.Unlock()

	s.log.Info().
		Int64("quiz_id", record.QuizID).
		Str("usage_mode", string(record.UsageMode)).
		Bool("compiled", artifact != nil).
		Msg("SEB settings saved")
	return nil
}

// Delete removes the persisted record and purges all cached artifacts.
func (s *SebSettingsService) Delete(ctx context.Context, quizID int64) error {
	if err := s.settingsRepo.Delete(ctx, quizID); err != nil {
		return fmt.Errorf("delete seb settings: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, quizID)
	s.mu.Unlock()

	s.log.Info().Int64("quiz_id", quizID).Msg("SEB settings deleted")
	return nil
}

// GetByQuizID returns the settings record, read-through. Returns (nil, nil)
// when no record exists.
func (s *SebSettingsService) GetByQuizID(ctx context.Context, quizID int64) (*model.SebSettings, error) {
	entry, err := s.artifact(ctx, quizID)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.settings.Clone(), nil
}

// GetConfigByQuizID returns the compiled configuration document,
// read-through. Returns (nil, nil) when no record exists or the usage mode
// compiles nothing.
func (s *SebSettingsService) GetConfigByQuizID(ctx context.Context, quizID int64) ([]byte, error) {
	entry, err := s.artifact(ctx, quizID)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.document, nil
}

// GetConfigKeyByQuizID returns the derived config key, read-through.
// Returns ("", nil) when no record exists or the usage mode compiles
// nothing.
func (s *SebSettingsService) GetConfigKeyByQuizID(ctx context.Context, quizID int64) (string, error) {
	entry, err := s.artifact(ctx, quizID)
	if err != nil || entry == nil {
		return "", err
	}
	return entry.configKey, nil
}

// SettingsByQuizID satisfies seb.SettingsSource.
func (s *SebSettingsService) SettingsByQuizID(ctx context.Context, quizID int64) (*model.SebSettings, error) {
	return s.GetByQuizID(ctx, quizID)
}

// ConfigKeyByQuizID satisfies seb.SettingsSource.
func (s *SebSettingsService) ConfigKeyByQuizID(ctx context.Context, quizID int64) (string, error) {
	return s.GetConfigKeyByQuizID(ctx, quizID)
}

// RebuildForTemplate recompiles and re-caches every settings record that
// references the template. Invoked after a template edit so dependents
// never serve configurations built from stale template content.
func (s *SebSettingsService) RebuildForTemplate(ctx context.Context, templateID uuid.UUID) error {
	ids, err := s.settingsRepo.ListQuizIDsByTemplate(ctx, templateID)
	if err != nil {
		return fmt.Errorf("list template dependents: %w", err)
	}
	for _, quizID := range ids {
		if err := s.rebuild(ctx, quizID); err != nil {
			return fmt.Errorf("rebuild quiz %d: %w", quizID, err)
		}
	}
	if len(ids) > 0 {
		s.log.Info().
			Str("template_id", templateID.String()).
			Int("dependents", len(ids)).
			Msg("rebuilt SEB caches for template dependents")
	}
	return nil
}

// RebuildForUpload recompiles the cached artifacts after an uploaded .seb
// document is stored or removed for a quiz.
func (s *SebSettingsService) RebuildForUpload(ctx context.Context, quizID int64) error {
	return s.rebuild(ctx, quizID)
}

// PrewarmAll loads and compiles every persisted settings record. Called at
// startup so the first request after boot does not pay the compile cost.
func (s *SebSettingsService) PrewarmAll(ctx context.Context) error {
	ids, err := s.settingsRepo.ListQuizIDs(ctx)
	if err != nil {
		return fmt.Errorf("list seb settings: %w", err)
	}
	for _, quizID := range ids {
		if _, err := s.artifact(ctx, quizID); err != nil {
			s.log.Warn().Err(err).Int64("quiz_id", quizID).Msg("SEB cache prewarm failed for quiz")
		}
	}
	s.log.Info().Int("count", len(ids)).Msg("SEB settings cache prewarmed")
	return nil
}

// ─── Internal ───────────────────────────────────────────────────────────────

// artifact returns the cached triple for a quiz, loading and compiling from
// the persistent store on miss. Returns (nil, nil) when no record exists.
func (s *SebSettingsService) artifact(ctx context.Context, quizID int64) (*cachedArtifact, error) {
	s.mu.RLock()
	entry, ok := s.cache[quizID]
	s.mu.RUnlock()
	if ok {
		return entry, nil
	}

	record, err := s.settingsRepo.GetByQuizID(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("load seb settings: %w", err)
	}
	if record == nil {
		return nil, nil
	}

	artifact, err := s.compile(ctx, record, true)
	if err != nil {
		return nil, fmt.Errorf("compile seb settings: %w", err)
	}

	entry = &cachedArtifact{settings: record}
	if artifact != nil {
		entry.document = artifact.document
		entry.configKey = artifact.configKey
	}

	s.mu.Lock()
	// A concurrent save may have populated a fresher entry; keep it.
	if current, ok := s.cache[quizID]; ok {
		entry = current
	} else {
		s.cache[quizID] = entry
	}
	s.mu.Unlock()
	return entry, nil
}

// rebuild forces a fresh load-and-compile for one quiz, replacing whatever
// the cache held.
func (s *SebSettingsService) rebuild(ctx context.Context, quizID int64) error {
	record, err := s.settingsRepo.GetByQuizID(ctx, quizID)
	if err != nil {
		return fmt.Errorf("load seb settings: %w", err)
	}
	if record == nil {
		s.mu.Lock()
		delete(s.cache, quizID)
		s.mu.Unlock()
		return nil
	}

	artifact, err := s.compile(ctx, record, true)
	if err != nil {
		return err
	}

	entry := &cachedArtifact{settings: record}
	if artifact != nil {
		entry.document = artifact.document
		entry.configKey = artifact.configKey
	}

	s.mu.Lock()
	s.cache[quizID] = entry
	s.mu.Unlock()
	return nil
}

type compiledArtifact struct {
	document  []byte
	configKey string
	quitURL   string
}

// compile resolves overlay sources and runs the configuration compiler.
// Returns (nil, nil) for usage modes that compile nothing. Compile-time
// failures are translated into field-level validation errors.
//
// With degrade set, an UPLOADED_CONFIG record whose stored upload has since
// been removed compiles as MANUAL instead of failing. Save leaves degrade
// off so the operator learns about the missing upload immediately;
// read-through leaves existing records serving a usable configuration.
func (s *SebSettingsService) compile(ctx context.Context, record *model.SebSettings, degrade bool) (*compiledArtifact, error) {
	switch record.UsageMode {
	case model.UsageModeNone, model.UsageModeClientConfig:
		return nil, nil
	}

	in := seb.CompileInput{
		Settings: record,
		StartURL: s.QuizStartURL(record.QuizID),
	}

	// TemplateID can be nil here despite Save's validation when the row was
	// edited outside the service; Compile then fails with ErrInvalidTemplate.
	if record.UsageMode == model.UsageModeTemplate && record.TemplateID != nil {
		template, err := s.templateRepo.GetByID(ctx, *record.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		if template != nil {
			in.TemplateContent = []byte(template.Content)
		}
	}

	if record.UsageMode == model.UsageModeUploadedConfig {
		data, err := s.uploads.Load(record.QuizID)
		if err != nil && !errors.Is(err, ErrUploadNotFound) {
			return nil, fmt.Errorf("load uploaded config: %w", err)
		}
		in.UploadedConfig = data
		if data == nil && degrade {
			downgraded := record.Clone()
			downgraded.UsageMode = model.UsageModeManual
			in.Settings = downgraded
			in.UploadedConfig = nil
		}
	}

	result, err := seb.Compile(in)
	switch {
	case errors.Is(err, seb.ErrInvalidTemplate):
		return nil, &ValidationError{Fields: map[string]string{
			"template_id": "The selected SEB template could not be used.",
		}}
	case errors.Is(err, seb.ErrMissingUploadedConfig):
		return nil, &ValidationError{Fields: map[string]string{
			"usage_mode": "Upload a SEB configuration file before selecting this mode.",
		}}
	case err != nil:
		return nil, fmt.Errorf("compile config: %w", err)
	}

	return &compiledArtifact{
		document:  result.Document,
		configKey: result.ConfigKey,
		quitURL:   result.QuitURL,
	}, nil
}

// validate enforces the settings invariants: a known usage mode, the
// template reference set exactly for TEMPLATE mode, and well-formed browser
// exam keys. Violations are reported per field, never silently dropped.
func (s *SebSettingsService) validate(record *model.SebSettings) error {
	fields := make(map[string]string)

	if !record.UsageMode.Valid() {
		fields["usage_mode"] = "Unknown SEB usage mode."
	}
	if record.UsageMode == model.UsageModeTemplate && record.TemplateID == nil {
		fields["template_id"] = "A template must be selected for TEMPLATE mode."
	}
	if record.UsageMode != model.UsageModeTemplate && record.TemplateID != nil {
		fields["template_id"] = "A template may only be set for TEMPLATE mode."
	}
	if _, err := seb.NormalizeBrowserExamKeys(record.AllowedBrowserExamKeys); err != nil {
		fields["allowed_browser_exam_keys"] = err.Error()
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
