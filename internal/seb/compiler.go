package seb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stemsi/sebgate/internal/model"
)

// Compile-time failures, surfaced to the settings-save caller as form
// validation errors.
var (
	// ErrMissingUploadedConfig means UPLOADED_CONFIG mode was requested but no
	// .seb file has been stored for the quiz.
	ErrMissingUploadedConfig = errors.New("no uploaded SEB configuration found for this quiz")
	// ErrInvalidTemplate means TEMPLATE mode was requested but the template
	// reference could not be resolved.
	ErrInvalidTemplate = errors.New("SEB template could not be resolved")
)

// Configuration keys emitted into the compiled document.
const (
	keyShowTaskBar          = "showTaskBar"
	keyAllowWLAN            = "allowWlan"
	keyShowReloadButton     = "showReloadButton"
	keyShowTime             = "showTime"
	keyShowInputLanguage    = "showInputLanguage"
	keyAllowQuit            = "allowQuit"
	keyQuitURLConfirm       = "quitURLConfirm"
	keyHashedQuitPassword   = "hashedQuitPassword"
	keyQuitURL              = "quitURL"
	keyAudioControlEnabled  = "audioControlEnabled"
	keyAudioMute            = "audioMute"
	keyAllowSpellCheck      = "allowSpellCheck"
	keyBrowserWindowReload  = "browserWindowAllowReload"
	keyURLFilterEnable      = "URLFilterEnable"
	keyURLFilterContent     = "URLFilterEnableContentFilter"
	keyURLFilterRules       = "URLFilterRules"
	keyStartURL             = "startURL"
	keySendBrowserExamKey   = "sendBrowserExamKey"
	keyAllowPreferences     = "allowPreferencesWindow"
	keyClearCookiesOnStart  = "examSessionClearCookiesOnStart"
	keyFilterRuleAction     = "action"
	keyFilterRuleActive     = "active"
	keyFilterRuleExpression = "expression"
	keyFilterRuleRegex      = "regex"
	filterActionBlock       = 0
	filterActionAllow       = 1
)

// CompileInput carries a settings record plus the overlay sources the usage
// mode requires. The caller (settings service) resolves template content and
// uploaded bytes; the compiler itself performs no I/O.
type CompileInput struct {
	Settings *model.SebSettings
	// StartURL is the quiz launch URL embedded into the configuration.
	StartURL string
	// TemplateContent is the raw template document. Must be non-nil for
	// TEMPLATE mode.
	TemplateContent []byte
	// UploadedConfig is the raw uploaded .seb document. Must be non-nil for
	// UPLOADED_CONFIG mode.
	UploadedConfig []byte
}

// CompileResult is the canonical document plus its derived artifacts.
type CompileResult struct {
	Document  []byte
	ConfigKey string
	// QuitURL is a quit link discovered inside a template or uploaded
	// configuration; empty when the source carries none.
	QuitURL string
}

// Compile turns a settings record into the canonical configuration document
// and its config key. Compilation is deterministic: byte-identical output
// for logically equal input. NONE and CLIENT_CONFIG modes never compile and
// are rejected as programmer error.
func Compile(in CompileInput) (*CompileResult, error) {
	s := in.Settings

	var (
		root    Dict
		quitURL string
		err     error
	)

	switch s.UsageMode {
	case model.UsageModeManual:
		root = Dict{}
		applySettings(root, s, true)
	case model.UsageModeTemplate:
		if in.TemplateContent == nil {
			return nil, ErrInvalidTemplate
		}
		root, err = UnmarshalDocument(in.TemplateContent)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
		applySettings(root, s, false)
		quitURL, _ = root[keyQuitURL].(string)
	case model.UsageModeUploadedConfig:
		if in.UploadedConfig == nil {
			return nil, ErrMissingUploadedConfig
		}
		root, err = UnmarshalDocument(in.UploadedConfig)
		if err != nil {
			return nil, fmt.Errorf("parse uploaded config: %w", err)
		}
		// An uploaded document already fully specifies a configuration; only
		// the quit pair is overridden.
		applyQuitSettings(root, s)
		quitURL, _ = root[keyQuitURL].(string)
	default:
		return nil, fmt.Errorf("usage mode %s does not compile a configuration", s.UsageMode)
	}

	root[keyStartURL] = in.StartURL
	root[keySendBrowserExamKey] = true

	document, err := MarshalDocument(root)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}

	return &CompileResult{
		Document:  document,
		ConfigKey: ConfigKey(document),
		QuitURL:   quitURL,
	}, nil
}

// applySettings writes the record's lockdown fields into the dictionary.
// With full=true (MANUAL mode) every field is written; with full=false
// (TEMPLATE overlay) a field is written only when it differs from the
// system default, so untouched fields keep the template's values.
func applySettings(root Dict, s *model.SebSettings, full bool) {
	defaults := model.DefaultSebSettings(s.QuizID)

	set := func(key string, value, defaultValue bool) {
		if full || value != defaultValue {
			root[key] = value
		}
	}

	set(keyShowTaskBar, s.ShowTaskbar, defaults.ShowTaskbar)
	set(keyAllowWLAN, s.ShowWifiControl, defaults.ShowWifiControl)
	set(keyShowReloadButton, s.ShowReloadButton, defaults.ShowReloadButton)
	set(keyShowTime, s.ShowTime, defaults.ShowTime)
	set(keyShowInputLanguage, s.ShowKeyboardLayout, defaults.ShowKeyboardLayout)
	set(keyQuitURLConfirm, s.UserConfirmQuit, defaults.UserConfirmQuit)
	set(keyAudioControlEnabled, s.EnableAudioControl, defaults.EnableAudioControl)
	set(keyAudioMute, s.MuteOnStartup, defaults.MuteOnStartup)
	set(keyAllowSpellCheck, s.AllowSpellChecking, defaults.AllowSpellChecking)
	set(keyBrowserWindowReload, s.AllowReloadInExam, defaults.AllowReloadInExam)

	if full {
		root[keyAllowPreferences] = false
		root[keyClearCookiesOnStart] = false
	}

	if full || s.ActivateURLFiltering != defaults.ActivateURLFiltering {
		root[keyURLFilterEnable] = s.ActivateURLFiltering
		root[keyURLFilterContent] = s.FilterEmbeddedContent
		if s.ActivateURLFiltering {
			root[keyURLFilterRules] = filterRules(s)
		} else {
			delete(root, keyURLFilterRules)
		}
	}

	applyQuitSettings(root, s)
}

// applyQuitSettings handles the quit special-case: allowQuit and
// hashedQuitPassword are emitted only when explicitly set on the record,
// the password is stored one-way hashed, and an explicitly empty password
// removes the key instead of emitting an empty string.
func applyQuitSettings(root Dict, s *model.SebSettings) {
	if s.AllowUserQuitSeb != nil {
		root[keyAllowQuit] = *s.AllowUserQuitSeb
	}
	if s.QuitPassword != nil {
		if *s.QuitPassword == "" {
			delete(root, keyHashedQuitPassword)
		} else {
			root[keyHashedQuitPassword] = HashQuitPassword(*s.QuitPassword)
		}
	}
}

// filterRules compiles the four expression lists into URLFilterRules entries.
// The order is fixed and load-bearing for determinism: allowed-simple,
// blocked-simple, allowed-regex, blocked-regex.
func filterRules(s *model.SebSettings) []any {
	var rules []any
	appendRules := func(raw string, action int, regex bool) {
		for _, expr := range splitExpressions(raw) {
			rules = append(rules, Dict{
				keyFilterRuleAction:     action,
				keyFilterRuleActive:     true,
				keyFilterRuleExpression: expr,
				keyFilterRuleRegex:      regex,
			})
		}
	}
	appendRules(s.ExpressionsAllowed, filterActionAllow, false)
	appendRules(s.ExpressionsBlocked, filterActionBlock, false)
	appendRules(s.RegexAllowed, filterActionAllow, true)
	appendRules(s.RegexBlocked, filterActionBlock, true)
	if rules == nil {
		return []any{}
	}
	return rules
}

func splitExpressions(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if expr := strings.TrimSpace(line); expr != "" {
			out = append(out, expr)
		}
	}
	return out
}
