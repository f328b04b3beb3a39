package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/sebgate/internal/model"
)

// SebSettingsRepository handles persistence of per-quiz SEB settings records.
// It is the backing store of the settings cache layer; callers go through
// service.SebSettingsService, never here directly.
type SebSettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSebSettingsRepository creates a new SebSettingsRepository.
func NewSebSettingsRepository(pool *pgxpool.Pool) *SebSettingsRepository {
	return &SebSettingsRepository{pool: pool}
}

const sebSettingsColumns = `quiz_id, usage_mode, template_id,
	show_taskbar, show_wifi_control, show_reload_button, show_time, show_keyboard_layout,
	allow_user_quit_seb, quit_password, user_confirm_quit, link_quit_url,
	enable_audio_control, mute_on_startup, allow_spell_checking, allow_reload_in_exam,
	activate_url_filtering, filter_embedded_content,
	expressions_allowed, regex_allowed, expressions_blocked, regex_blocked,
	allowed_browser_exam_keys, show_seb_download_link, created_at, updated_at`

func scanSebSettings(row pgx.Row) (*model.SebSettings, error) {
	s := &model.SebSettings{}
	err := row.Scan(
		&s.QuizID, &s.UsageMode, &s.TemplateID,
		&s.ShowTaskbar, &s.ShowWifiControl, &s.ShowReloadButton, &s.ShowTime, &s.ShowKeyboardLayout,
		&s.AllowUserQuitSeb, &s.QuitPassword, &s.UserConfirmQuit, &s.LinkQuitURL,
		&s.EnableAudioControl, &s.MuteOnStartup, &s.AllowSpellChecking, &s.AllowReloadInExam,
		&s.ActivateURLFiltering, &s.FilterEmbeddedContent,
		&s.ExpressionsAllowed, &s.RegexAllowed, &s.ExpressionsBlocked, &s.RegexBlocked,
		&s.AllowedBrowserExamKeys, &s.ShowSebDownloadLink, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByQuizID retrieves the settings record for a quiz.
// Returns (nil, nil) when no record exists.
func (r *SebSettingsRepository) GetByQuizID(ctx context.Context, quizID int64) (*model.SebSettings, error) {
	s, err := scanSebSettings(r.pool.QueryRow(ctx,
		`SELECT `+sebSettingsColumns+` FROM seb_settings WHERE quiz_id = $1`, quizID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Upsert inserts or replaces the settings record for a quiz.
func (r *SebSettingsRepository) Upsert(ctx context.Context, s *model.SebSettings) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO seb_settings (
			quiz_id, usage_mode, template_id,
			show_taskbar, show_wifi_control, show_reload_button, show_time, show_keyboard_layout,
			allow_user_quit_seb, quit_password, user_confirm_quit, link_quit_url,
			enable_audio_control, mute_on_startup, allow_spell_checking, allow_reload_in_exam,
			activate_url_filtering, filter_embedded_content,
			expressions_allowed, regex_allowed, expressions_blocked, regex_blocked,
			allowed_browser_exam_keys, show_seb_download_link
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		ON CONFLICT (quiz_id) DO UPDATE SET
			usage_mode = EXCLUDED.usage_mode,
			template_id = EXCLUDED.template_id,
			show_taskbar = EXCLUDED.show_taskbar,
			show_wifi_control = EXCLUDED.show_wifi_control,
			show_reload_button = EXCLUDED.show_reload_button,
			show_time = EXCLUDED.show_time,
			show_keyboard_layout = EXCLUDED.show_keyboard_layout,
			allow_user_quit_seb = EXCLUDED.allow_user_quit_seb,
			quit_password = EXCLUDED.quit_password,
			user_confirm_quit = EXCLUDED.user_confirm_quit,
			link_quit_url = EXCLUDED.link_quit_url,
			enable_audio_control = EXCLUDED.enable_audio_control,
			mute_on_startup = EXCLUDED.mute_on_startup,
			allow_spell_checking = EXCLUDED.allow_spell_checking,
			allow_reload_in_exam = EXCLUDED.allow_reload_in_exam,
			activate_url_filtering = EXCLUDED.activate_url_filtering,
			filter_embedded_content = EXCLUDED.filter_embedded_content,
			expressions_allowed = EXCLUDED.expressions_allowed,
			regex_allowed = EXCLUDED.regex_allowed,
			expressions_blocked = EXCLUDED.expressions_blocked,
			regex_blocked = EXCLUDED.regex_blocked,
			allowed_browser_exam_keys = EXCLUDED.allowed_browser_exam_keys,
			show_seb_download_link = EXCLUDED.show_seb_download_link,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		s.QuizID, s.UsageMode, s.TemplateID,
		s.ShowTaskbar, s.ShowWifiControl, s.ShowReloadButton, s.ShowTime, s.ShowKeyboardLayout,
		s.AllowUserQuitSeb, s.QuitPassword, s.UserConfirmQuit, s.LinkQuitURL,
		s.EnableAudioControl, s.MuteOnStartup, s.AllowSpellChecking, s.AllowReloadInExam,
		s.ActivateURLFiltering, s.FilterEmbeddedContent,
		s.ExpressionsAllowed, s.RegexAllowed, s.ExpressionsBlocked, s.RegexBlocked,
		s.AllowedBrowserExamKeys, s.ShowSebDownloadLink,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

// Delete removes the settings record for a quiz. Deleting a non-existent
// record is not an error.
func (r *SebSettingsRepository) Delete(ctx context.Context, quizID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM seb_settings WHERE quiz_id = $1`, quizID)
	return err
}

// ListQuizIDs returns every quiz id that has a settings record. Used for
// cache prewarm at startup.
func (r *SebSettingsRepository) ListQuizIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT quiz_id FROM seb_settings ORDER BY quiz_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListQuizIDsByTemplate returns every quiz id whose settings reference the
// template. Used to rebuild dependents when a template is edited.
func (r *SebSettingsRepository) ListQuizIDsByTemplate(ctx context.Context, templateID uuid.UUID) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT quiz_id FROM seb_settings WHERE template_id = $1 ORDER BY quiz_id ASC`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByTemplate returns how many settings records reference a template.
func (r *SebSettingsRepository) CountByTemplate(ctx context.Context, templateID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM seb_settings WHERE template_id = $1`, templateID).Scan(&count)
	return count, err
}
