package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageMode determines how Safe Exam Browser is enforced for a quiz and
// which validation checks apply to inbound requests.
type UsageMode string

const (
	// UsageModeNone disables SEB enforcement entirely.
	UsageModeNone UsageMode = "NONE"
	// UsageModeManual builds the SEB configuration from the settings record alone.
	UsageModeManual UsageMode = "MANUAL"
	// UsageModeTemplate builds the configuration from a named template with
	// explicitly changed settings applied on top.
	UsageModeTemplate UsageMode = "TEMPLATE"
	// UsageModeUploadedConfig uses an admin-uploaded .seb document as the
	// configuration source.
	UsageModeUploadedConfig UsageMode = "UPLOADED_CONFIG"
	// UsageModeClientConfig trusts the client's own configuration; the server
	// never compiles one and validates browser exam keys instead.
	UsageModeClientConfig UsageMode = "CLIENT_CONFIG"
)

// Valid reports whether m is one of the known usage modes.
func (m UsageMode) Valid() bool {
	switch m {
	case UsageModeNone, UsageModeManual, UsageModeTemplate, UsageModeUploadedConfig, UsageModeClientConfig:
		return true
	}
	return false
}

// SebSettings is the per-quiz Safe Exam Browser lockdown settings record.
//
// AllowUserQuitSeb and QuitPassword are pointers because the compiler must
// distinguish "explicitly set" from "not provided": the quit keys are omitted
// from the compiled configuration unless the admin actually set them.
type SebSettings struct {
	QuizID     int64      `json:"quiz_id"`
	UsageMode  UsageMode  `json:"usage_mode"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`

	ShowTaskbar        bool `json:"show_taskbar"`
	ShowWifiControl    bool `json:"show_wifi_control"`
	ShowReloadButton   bool `json:"show_reload_button"`
	ShowTime           bool `json:"show_time"`
	ShowKeyboardLayout bool `json:"show_keyboard_layout"`

	AllowUserQuitSeb *bool   `json:"allow_user_quit_seb,omitempty"`
	QuitPassword     *string `json:"-"`
	UserConfirmQuit  bool    `json:"user_confirm_quit"`
	// LinkQuitURL is derived, not configured: it is populated during save from
	// a quitURL key discovered inside a template or uploaded configuration.
	LinkQuitURL string `json:"link_quit_url,omitempty"`

	EnableAudioControl bool `json:"enable_audio_control"`
	MuteOnStartup      bool `json:"mute_on_startup"`
	AllowSpellChecking bool `json:"allow_spell_checking"`
	AllowReloadInExam  bool `json:"allow_reload_in_exam"`

	ActivateURLFiltering  bool   `json:"activate_url_filtering"`
	FilterEmbeddedContent bool   `json:"filter_embedded_content"`
	ExpressionsAllowed    string `json:"expressions_allowed"`
	RegexAllowed          string `json:"regex_allowed"`
	ExpressionsBlocked    string `json:"expressions_blocked"`
	RegexBlocked          string `json:"regex_blocked"`

	// AllowedBrowserExamKeys is the raw newline/comma/space-delimited list as
	// entered by the admin. It is normalized and validated at save time.
	AllowedBrowserExamKeys string `json:"allowed_browser_exam_keys"`

	ShowSebDownloadLink bool `json:"show_seb_download_link"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultSebSettings returns a settings record carrying the system defaults.
// The compiler also uses these defaults to decide which fields were
// explicitly changed and therefore override a template value.
func DefaultSebSettings(quizID int64) *SebSettings {
	return &SebSettings{
		QuizID:              quizID,
		UsageMode:           UsageModeNone,
		ShowTaskbar:         true,
		ShowReloadButton:    true,
		ShowTime:            true,
		ShowKeyboardLayout:  true,
		UserConfirmQuit:     true,
		AllowReloadInExam:   true,
		ShowSebDownloadLink: true,
	}
}

// Clone returns a deep copy, so cached records can be handed out without
// aliasing the pointer fields.
func (s *SebSettings) Clone() *SebSettings {
	if s == nil {
		return nil
	}
	cp := *s
	if s.TemplateID != nil {
		id := *s.TemplateID
		cp.TemplateID = &id
	}
	if s.AllowUserQuitSeb != nil {
		v := *s.AllowUserQuitSeb
		cp.AllowUserQuitSeb = &v
	}
	if s.QuitPassword != nil {
		v := *s.QuitPassword
		cp.QuitPassword = &v
	}
	return &cp
}

// SaveSebSettingsRequest is the payload for creating or replacing a quiz's
// SEB settings.
type SaveSebSettingsRequest struct {
	UsageMode  UsageMode  `json:"usage_mode" binding:"required,oneof=NONE MANUAL TEMPLATE UPLOADED_CONFIG CLIENT_CONFIG"`
	TemplateID *uuid.UUID `json:"template_id" binding:"omitempty"`

	ShowTaskbar        *bool `json:"show_taskbar" binding:"omitempty"`
	ShowWifiControl    *bool `json:"show_wifi_control" binding:"omitempty"`
	ShowReloadButton   *bool `json:"show_reload_button" binding:"omitempty"`
	ShowTime           *bool `json:"show_time" binding:"omitempty"`
	ShowKeyboardLayout *bool `json:"show_keyboard_layout" binding:"omitempty"`

	AllowUserQuitSeb *bool   `json:"allow_user_quit_seb" binding:"omitempty"`
	QuitPassword     *string `json:"quit_password" binding:"omitempty,max=128"`
	UserConfirmQuit  *bool   `json:"user_confirm_quit" binding:"omitempty"`

	EnableAudioControl *bool `json:"enable_audio_control" binding:"omitempty"`
	MuteOnStartup      *bool `json:"mute_on_startup" binding:"omitempty"`
	AllowSpellChecking *bool `json:"allow_spell_checking" binding:"omitempty"`
	AllowReloadInExam  *bool `json:"allow_reload_in_exam" binding:"omitempty"`

	ActivateURLFiltering  *bool  `json:"activate_url_filtering" binding:"omitempty"`
	FilterEmbeddedContent *bool  `json:"filter_embedded_content" binding:"omitempty"`
	ExpressionsAllowed    string `json:"expressions_allowed" binding:"omitempty,max=4096"`
	RegexAllowed          string `json:"regex_allowed" binding:"omitempty,max=4096"`
	ExpressionsBlocked    string `json:"expressions_blocked" binding:"omitempty,max=4096"`
	RegexBlocked          string `json:"regex_blocked" binding:"omitempty,max=4096"`

	AllowedBrowserExamKeys string `json:"allowed_browser_exam_keys" binding:"omitempty,max=8192"`

	ShowSebDownloadLink *bool `json:"show_seb_download_link" binding:"omitempty"`
}

// ToSettings merges the request onto the system defaults for the quiz.
// Absent optional booleans keep their default values.
func (r *SaveSebSettingsRequest) ToSettings(quizID int64) *SebSettings {
	s := DefaultSebSettings(quizID)
	s.UsageMode = r.UsageMode
	s.TemplateID = r.TemplateID
	applyBool(&s.ShowTaskbar, r.ShowTaskbar)
	applyBool(&s.ShowWifiControl, r.ShowWifiControl)
	applyBool(&s.ShowReloadButton, r.ShowReloadButton)
	applyBool(&s.ShowTime, r.ShowTime)
	applyBool(&s.ShowKeyboardLayout, r.ShowKeyboardLayout)
	s.AllowUserQuitSeb = r.AllowUserQuitSeb
	s.QuitPassword = r.QuitPassword
	applyBool(&s.UserConfirmQuit, r.UserConfirmQuit)
	applyBool(&s.EnableAudioControl, r.EnableAudioControl)
	applyBool(&s.MuteOnStartup, r.MuteOnStartup)
	applyBool(&s.AllowSpellChecking, r.AllowSpellChecking)
	applyBool(&s.AllowReloadInExam, r.AllowReloadInExam)
	applyBool(&s.ActivateURLFiltering, r.ActivateURLFiltering)
	applyBool(&s.FilterEmbeddedContent, r.FilterEmbeddedContent)
	s.ExpressionsAllowed = r.ExpressionsAllowed
	s.RegexAllowed = r.RegexAllowed
	s.ExpressionsBlocked = r.ExpressionsBlocked
	s.RegexBlocked = r.RegexBlocked
	s.AllowedBrowserExamKeys = r.AllowedBrowserExamKeys
	applyBool(&s.ShowSebDownloadLink, r.ShowSebDownloadLink)
	return s
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
