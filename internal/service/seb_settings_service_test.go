package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/sebgate/internal/model"
	"github.com/stemsi/sebgate/internal/seb"
)

type fakeSettingsRepo struct {
	records map[int64]*model.SebSettings
	loads   int
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{records: make(map[int64]*model.SebSettings)}
}

func (f *fakeSettingsRepo) GetByQuizID(_ context.Context, quizID int64) (*model.SebSettings, error) {
	f.loads++
	record, ok := f.records[quizID]
	if !ok {
		return nil, nil
	}
	return record.Clone(), nil
}

func (f *fakeSettingsRepo) Upsert(_ context.Context, s *model.SebSettings) error {
	f.records[s.QuizID] = s.Clone()
	return nil
}

func (f *fakeSettingsRepo) Delete(_ context.Context, quizID int64) error {
	delete(f.records, quizID)
	return nil
}

func (f *fakeSettingsRepo) ListQuizIDs(_ context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSettingsRepo) ListQuizIDsByTemplate(_ context.Context, templateID uuid.UUID) ([]int64, error) {
	var ids []int64
	for id, record := range f.records {
		if record.TemplateID != nil && *record.TemplateID == templateID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeTemplateRepo struct {
	templates map[uuid.UUID]*model.SebTemplate
}

func (f *fakeTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*model.SebTemplate, error) {
	if f.templates == nil {
		return nil, nil
	}
	template, ok := f.templates[id]
	if !ok {
		return nil, nil
	}
	return template, nil
}

type fakeUploadStore struct {
	documents map[int64][]byte
}

func (f *fakeUploadStore) Load(quizID int64) ([]byte, error) {
	data, ok := f.documents[quizID]
	if !ok {
		return nil, ErrUploadNotFound
	}
	return data, nil
}

func (f *fakeUploadStore) HasUploadedConfig(quizID int64) bool {
	_, ok := f.documents[quizID]
	return ok
}

func newTestSettingsService() (*SebSettingsService, *fakeSettingsRepo, *fakeTemplateRepo, *fakeUploadStore) {
	settingsRepo := newFakeSettingsRepo()
	templateRepo := &fakeTemplateRepo{templates: make(map[uuid.UUID]*model.SebTemplate)}
	uploads := &fakeUploadStore{documents: make(map[int64][]byte)}
	svc := NewSebSettingsService(settingsRepo, templateRepo, uploads, "https://exam.example.com", zerolog.Nop())
	return svc, settingsRepo, templateRepo, uploads
}

func manualRecord(quizID int64) *model.SebSettings {
	s := model.DefaultSebSettings(quizID)
	s.UsageMode = model.UsageModeManual
	return s
}

func TestSaveCompilesAndCaches(t *testing.T) {
	svc, repo, _, _ := newTestSettingsService()
	ctx := context.Background()

	if err := svc.Save(ctx, manualRecord(7)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	doc, err := svc.GetConfigByQuizID(ctx, 7)
	if err != nil {
		t.Fatalf("GetConfigByQuizID() error = %v", err)
	}
	if len(doc) == 0 {
		t.Fatal("expected a compiled document after save")
	}

	key, err := svc.GetConfigKeyByQuizID(ctx, 7)
	if err != nil {
		t.Fatalf("GetConfigKeyByQuizID() error = %v", err)
	}
	if want := seb.ConfigKey(doc); key != want {
		t.Errorf("config key = %q, want digest of cached document %q", key, want)
	}

	// The reads above must come from the cache, not the repository.
	if repo.loads != 0 {
		t.Errorf("repository loads = %d, want 0 after save", repo.loads)
	}
}

func TestSaveReplacesCachedKeyImmediately(t *testing.T) {
	svc, _, _, _ := newTestSettingsService()
	ctx := context.Background()

	first := manualRecord(7)
	if err := svc.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	firstKey, _ := svc.GetConfigKeyByQuizID(ctx, 7)

	second := manualRecord(7)
	second.MuteOnStartup = true
	if err := svc.Save(ctx, second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	secondKey, _ := svc.GetConfigKeyByQuizID(ctx, 7)
	if secondKey == firstKey {
		t.Error("config key unchanged after a settings change")
	}
}

func TestReadThroughOnColdCache(t *testing.T) {
	svc, repo, _, _ := newTestSettingsService()
	ctx := context.Background()

	repo.records[9] = manualRecord(9)

	key, err := svc.GetConfigKeyByQuizID(ctx, 9)
	if err != nil {
		t.Fatalf("GetConfigKeyByQuizID() error = %v", err)
	}
	if key == "" {
		t.Fatal("expected a config key from read-through compile")
	}

	// Second read is served from the cache.
	if _, err := svc.GetConfigKeyByQuizID(ctx, 9); err != nil {
		t.Fatalf("GetConfigKeyByQuizID() error = %v", err)
	}
	if repo.loads != 1 {
		t.Errorf("repository loads = %d, want 1", repo.loads)
	}
}

func TestAbsentRecordReturnsNil(t *testing.T) {
	svc, _, _, _ := newTestSettingsService()
	ctx := context.Background()

	settings, err := svc.GetByQuizID(ctx, 404)
	if err != nil {
		t.Fatalf("GetByQuizID() error = %v", err)
	}
	if settings != nil {
		t.Errorf("GetByQuizID() = %+v, want nil", settings)
	}

	key, err := svc.GetConfigKeyByQuizID(ctx, 404)
	if err != nil || key != "" {
		t.Errorf("GetConfigKeyByQuizID() = (%q, %v), want empty", key, err)
	}
}

func TestDeletePurgesCache(t *testing.T) {
	svc, repo, _, _ := newTestSettingsService()
	ctx := context.Background()

	if err := svc.Save(ctx, manualRecord(7)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := svc.Delete(ctx, 7); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	key, err := svc.GetConfigKeyByQuizID(ctx, 7)
	if err != nil || key != "" {
		t.Errorf("GetConfigKeyByQuizID() after delete = (%q, %v), want empty", key, err)
	}
	if _, ok := repo.records[7]; ok {
		t.Error("record still persisted after delete")
	}
}

func TestNonCompilingModesCacheNoArtifacts(t *testing.T) {
	svc, _, _, _ := newTestSettingsService()
	ctx := context.Background()

	record := model.DefaultSebSettings(3)
	record.UsageMode = model.UsageModeClientConfig
	if err := svc.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	doc, err := svc.GetConfigByQuizID(ctx, 3)
	if err != nil {
		t.Fatalf("GetConfigByQuizID() error = %v", err)
	}
	if doc != nil {
		t.Error("CLIENT_CONFIG mode should not produce a document")
	}
	key, _ := svc.GetConfigKeyByQuizID(ctx, 3)
	if key != "" {
		t.Errorf("config key = %q, want empty for CLIENT_CONFIG", key)
	}

	settings, err := svc.GetByQuizID(ctx, 3)
	if err != nil || settings == nil {
		t.Fatalf("GetByQuizID() = (%v, %v), want stored settings", settings, err)
	}
}

func TestSaveValidation(t *testing.T) {
	svc, _, _, _ := newTestSettingsService()
	ctx := context.Background()

	t.Run("unknown usage mode", func(t *testing.T) {
		record := model.DefaultSebSettings(1)
		record.UsageMode = model.UsageMode("KIOSK")
		assertFieldError(t, svc.Save(ctx, record), "usage_mode")
	})

	t.Run("template mode without template", func(t *testing.T) {
		record := model.DefaultSebSettings(1)
		record.UsageMode = model.UsageModeTemplate
		assertFieldError(t, svc.Save(ctx, record), "template_id")
	})

	t.Run("template ref outside template mode", func(t *testing.T) {
		record := manualRecord(1)
		id := uuid.New()
		record.TemplateID = &id
		assertFieldError(t, svc.Save(ctx, record), "template_id")
	})

	t.Run("malformed browser exam key", func(t *testing.T) {
		record := manualRecord(1)
		record.AllowedBrowserExamKeys = "fdsf434r"
		err := svc.Save(ctx, record)
		assertFieldError(t, err, "allowed_browser_exam_keys")
		var vErr *ValidationError
		errors.As(err, &vErr)
		if got := vErr.Fields["allowed_browser_exam_keys"]; got != "A key should be a 64-character hex string." {
			t.Errorf("message = %q", got)
		}
	})

	t.Run("uploaded mode without stored upload", func(t *testing.T) {
		record := model.DefaultSebSettings(1)
		record.UsageMode = model.UsageModeUploadedConfig
		assertFieldError(t, svc.Save(ctx, record), "usage_mode")
	})

	t.Run("template mode with unknown template", func(t *testing.T) {
		record := model.DefaultSebSettings(1)
		record.UsageMode = model.UsageModeTemplate
		id := uuid.New()
		record.TemplateID = &id
		assertFieldError(t, svc.Save(ctx, record), "template_id")
	})
}

func assertFieldError(t *testing.T, err error, field string) {
	t.Helper()
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if _, ok := vErr.Fields[field]; !ok {
		t.Errorf("validation fields = %v, want entry for %q", vErr.Fields, field)
	}
}

func TestTemplateModeWithoutReferenceFailsReadThrough(t *testing.T) {
	svc, repo, _, _ := newTestSettingsService()
	ctx := context.Background()

	// A row edited outside the service: TEMPLATE mode with no template set.
	stored := model.DefaultSebSettings(4)
	stored.UsageMode = model.UsageModeTemplate
	repo.records[4] = stored

	var vErr *ValidationError
	if _, err := svc.GetConfigKeyByQuizID(ctx, 4); !errors.As(err, &vErr) {
		t.Fatalf("GetConfigKeyByQuizID() error = %v, want validation error", err)
	}
	if _, ok := vErr.Fields["template_id"]; !ok {
		t.Errorf("expected a template_id field error, got %v", vErr.Fields)
	}
}

func TestTemplateModeCompilesTemplateContent(t *testing.T) {
	svc, _, templates, _ := newTestSettingsService()
	ctx := context.Background()

	id := uuid.New()
	templates.templates[id] = &model.SebTemplate{
		ID:      id,
		Name:    "strict",
		Content: templateDocument(t, map[string]any{"audioMute": true}),
		Enabled: true,
	}

	record := model.DefaultSebSettings(5)
	record.UsageMode = model.UsageModeTemplate
	record.TemplateID = &id
	if err := svc.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	doc, err := svc.GetConfigByQuizID(ctx, 5)
	if err != nil {
		t.Fatalf("GetConfigByQuizID() error = %v", err)
	}
	parsed, err := seb.UnmarshalDocument(doc)
	if err != nil {
		t.Fatalf("UnmarshalDocument() error = %v", err)
	}
	if muted, _ := parsed["audioMute"].(bool); !muted {
		t.Error("template value audioMute=true missing from compiled document")
	}
}

func TestRebuildForTemplateRefreshesDependents(t *testing.T) {
	svc, _, templates, _ := newTestSettingsService()
	ctx := context.Background()

	id := uuid.New()
	templates.templates[id] = &model.SebTemplate{
		ID:      id,
		Content: templateDocument(t, map[string]any{"audioMute": false}),
		Enabled: true,
	}

	record := model.DefaultSebSettings(5)
	record.UsageMode = model.UsageModeTemplate
	record.TemplateID = &id
	if err := svc.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	before, _ := svc.GetConfigKeyByQuizID(ctx, 5)

	templates.templates[id].Content = templateDocument(t, map[string]any{"audioMute": true})
	if err := svc.RebuildForTemplate(ctx, id); err != nil {
		t.Fatalf("RebuildForTemplate() error = %v", err)
	}

	after, _ := svc.GetConfigKeyByQuizID(ctx, 5)
	if after == before {
		t.Error("config key unchanged after template content changed")
	}
}

func TestUploadedModeDegradesOnReadThrough(t *testing.T) {
	svc, repo, _, uploads := newTestSettingsService()
	ctx := context.Background()

	uploads.documents[8] = []byte(templateDocument(t, map[string]any{"startURL": "https://old.example.com"}))

	record := model.DefaultSebSettings(8)
	record.UsageMode = model.UsageModeUploadedConfig
	if err := svc.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Simulate a restart after the upload disappeared: cold cache, no file.
	delete(uploads.documents, 8)
	svc2 := NewSebSettingsService(repo, &fakeTemplateRepo{}, uploads, "https://exam.example.com", zerolog.Nop())

	key, err := svc2.GetConfigKeyByQuizID(ctx, 8)
	if err != nil {
		t.Fatalf("GetConfigKeyByQuizID() error = %v", err)
	}
	if key == "" {
		t.Fatal("expected a config key compiled from settings when upload is gone")
	}
}

func TestQuitURLDiscoveredFromUpload(t *testing.T) {
	svc, repo, _, uploads := newTestSettingsService()
	ctx := context.Background()

	uploads.documents[8] = []byte(templateDocument(t, map[string]any{
		"quitURL": "https://quit.example.com/done",
	}))

	record := model.DefaultSebSettings(8)
	record.UsageMode = model.UsageModeUploadedConfig
	if err := svc.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if got := repo.records[8].LinkQuitURL; got != "https://quit.example.com/done" {
		t.Errorf("persisted LinkQuitURL = %q, want discovered quit URL", got)
	}
}

func TestPrewarmAllFillsCache(t *testing.T) {
	svc, repo, _, _ := newTestSettingsService()
	ctx := context.Background()

	repo.records[1] = manualRecord(1)
	repo.records[2] = manualRecord(2)

	if err := svc.PrewarmAll(ctx); err != nil {
		t.Fatalf("PrewarmAll() error = %v", err)
	}

	loadsAfterPrewarm := repo.loads
	if _, err := svc.GetConfigKeyByQuizID(ctx, 1); err != nil {
		t.Fatalf("GetConfigKeyByQuizID() error = %v", err)
	}
	if _, err := svc.GetConfigKeyByQuizID(ctx, 2); err != nil {
		t.Fatalf("GetConfigKeyByQuizID() error = %v", err)
	}
	if repo.loads != loadsAfterPrewarm {
		t.Errorf("repository loads grew from %d to %d after prewarm", loadsAfterPrewarm, repo.loads)
	}
}

// templateDocument builds a minimal plist document for overlay tests.
func templateDocument(t *testing.T, entries map[string]any) string {
	t.Helper()
	doc, err := seb.MarshalDocument(seb.Dict(entries))
	if err != nil {
		t.Fatalf("MarshalDocument() error = %v", err)
	}
	return string(doc)
}
