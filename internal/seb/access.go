package seb

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/sebgate/internal/model"
)

// Request headers sent by the Safe Exam Browser client.
const (
	HeaderConfigKeyHash = "X-SafeExamBrowser-ConfigKeyHash"
	HeaderRequestHash   = "X-SafeExamBrowser-RequestHash"
)

// CapabilitySebBypass is the authorization capability that exempts a caller
// from all SEB checks.
const CapabilitySebBypass = string(model.PermissionSebBypass)

// sebUserAgentPrefix is the literal token a SEB client's User-Agent starts
// with. The match is case-sensitive.
const sebUserAgentPrefix = "SEB"

// DenyReason identifies which check a rejected request failed. The reason
// code drives which help links the caller renders.
type DenyReason string

const (
	DenyNoSebBrowserUsed  DenyReason = "NoSebBrowserUsed"
	DenyInvalidConfigKey  DenyReason = "InvalidConfigKey"
	DenyInvalidBrowserKey DenyReason = "InvalidBrowserKey"
)

// Decision is the structured outcome of Validate. Rejections are values,
// not errors: a malformed or absent header is a failed check, never a panic.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

var allow = Decision{Allowed: true}

func deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Request carries the inbound request attributes the checks consume. The
// manager never reads ambient request state; callers construct this
// explicitly (usually via FromHTTPRequest).
type Request struct {
	// URL is the full request URL exactly as the client addressed it. The
	// URL-bound proof hashes are computed over this string.
	URL           string
	UserAgent     string
	ConfigKeyHash string
	RequestHash   string
}

// FromHTTPRequest extracts a Request from an inbound HTTP request,
// reconstructing the full URL the client addressed (honoring
// X-Forwarded-Proto behind a TLS-terminating proxy).
func FromHTTPRequest(r *http.Request) Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return Request{
		URL:           scheme + "://" + r.Host + r.URL.RequestURI(),
		UserAgent:     r.Header.Get("User-Agent"),
		ConfigKeyHash: r.Header.Get(HeaderConfigKeyHash),
		RequestHash:   r.Header.Get(HeaderRequestHash),
	}
}

// SettingsSource resolves the current SEB settings and derived config key
// for a quiz. Absent records resolve to nil/"" without error.
type SettingsSource interface {
	SettingsByQuizID(ctx context.Context, quizID int64) (*model.SebSettings, error)
	ConfigKeyByQuizID(ctx context.Context, quizID int64) (string, error)
}

// UploadChecker reports whether an uploaded .seb configuration is stored
// for a quiz. It decides whether UPLOADED_CONFIG mode is effective or
// degrades to MANUAL.
type UploadChecker interface {
	HasUploadedConfig(quizID int64) bool
}

// AccessStore records the per-(session, quiz) "already validated" flag.
type AccessStore interface {
	IsValidated(ctx context.Context, sessionID string, quizID int64) (bool, error)
	MarkValidated(ctx context.Context, sessionID string, quizID int64) error
}

// CapabilityChecker answers authorization queries for the current caller.
type CapabilityChecker interface {
	HasCapability(capability string) bool
}

// ManagerConfig collects the collaborators of a Manager. All sources are
// injected so tests can substitute fixed providers.
type ManagerConfig struct {
	QuizID    int64
	SessionID string
	Request   Request

	Settings     SettingsSource
	Uploads      UploadChecker
	Access       AccessStore
	Capabilities CapabilityChecker

	// ExpectedUserAgent is a site-configured token accepted as an exact
	// User-Agent match in addition to the SEB prefix. Empty disables it.
	ExpectedUserAgent string

	Logger zerolog.Logger
}

// Manager makes the SEB access decision for exactly one request. It memoizes
// the settings record and config key it resolves, so a concurrent settings
// save cannot change what this request validates against; the next request
// constructs a fresh manager and sees the updated values.
type Manager struct {
	cfg ManagerConfig
	log zerolog.Logger

	settingsFetched bool
	settings        *model.SebSettings

	keyFetched bool
	cachedKey  string
}

// NewManager constructs a per-request access manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg: cfg,
		log: cfg.Logger.With().
			Str("component", "seb_access").
			Int64("quiz_id", cfg.QuizID).
			Logger(),
	}
}

// currentSettings resolves and memoizes the settings record. A missing
// record memoizes as nil.
func (m *Manager) currentSettings(ctx context.Context) (*model.SebSettings, error) {
	if m.settingsFetched {
		return m.settings, nil
	}
	s, err := m.cfg.Settings.SettingsByQuizID(ctx, m.cfg.QuizID)
	if err != nil {
		return nil, err
	}
	m.settings = s
	m.settingsFetched = true
	return s, nil
}

// ValidConfigKey resolves and memoizes the quiz's current config key.
// Returns "" when no settings record exists.
func (m *Manager) ValidConfigKey(ctx context.Context) (string, error) {
	if m.keyFetched {
		return m.cachedKey, nil
	}
	key, err := m.cfg.Settings.ConfigKeyByQuizID(ctx, m.cfg.QuizID)
	if err != nil {
		return "", err
	}
	m.cachedKey = key
	m.keyFetched = true
	return key, nil
}

// EffectiveUseType returns the usage mode governing header checks.
// UPLOADED_CONFIG only takes effect when an uploaded file is actually
// stored; otherwise the quiz behaves as MANUAL. A missing settings record
// behaves as NONE.
func (m *Manager) EffectiveUseType(ctx context.Context) (model.UsageMode, error) {
	s, err := m.currentSettings(ctx)
	if err != nil {
		return model.UsageModeNone, err
	}
	if s == nil {
		return model.UsageModeNone, nil
	}
	if s.UsageMode == model.UsageModeUploadedConfig && !m.cfg.Uploads.HasUploadedConfig(m.cfg.QuizID) {
		return model.UsageModeManual, nil
	}
	return s.UsageMode, nil
}

// RequiresUserAgentCheck reports whether the basic User-Agent check applies.
func (m *Manager) RequiresUserAgentCheck(ctx context.Context) (bool, error) {
	mode, err := m.EffectiveUseType(ctx)
	if err != nil {
		return false, err
	}
	return mode == model.UsageModeClientConfig, nil
}

// RequiresConfigKeyCheck reports whether the config-key hash check applies.
func (m *Manager) RequiresConfigKeyCheck(ctx context.Context) (bool, error) {
	mode, err := m.EffectiveUseType(ctx)
	if err != nil {
		return false, err
	}
	switch mode {
	case model.UsageModeManual, model.UsageModeTemplate, model.UsageModeUploadedConfig:
		return true, nil
	}
	return false, nil
}

// RequiresBrowserExamKeyCheck reports whether the browser-exam-key hash
// check applies.
func (m *Manager) RequiresBrowserExamKeyCheck(ctx context.Context) (bool, error) {
	mode, err := m.EffectiveUseType(ctx)
	if err != nil {
		return false, err
	}
	switch mode {
	case model.UsageModeUploadedConfig, model.UsageModeClientConfig:
		return true, nil
	}
	return false, nil
}

// Validate executes the full check sequence and returns a structured
// decision. On success it records the session access flag so subsequent
// requests within the same session skip validation.
func (m *Manager) Validate(ctx context.Context) (Decision, error) {
	// 1. Bypass capability skips everything.
	if m.cfg.Capabilities != nil && m.cfg.Capabilities.HasCapability(CapabilitySebBypass) {
		return allow, nil
	}

	// 2. A previously validated session skips everything until cleared.
	validated, err := m.cfg.Access.IsValidated(ctx, m.cfg.SessionID, m.cfg.QuizID)
	if err != nil {
		return Decision{}, err
	}
	if validated {
		return allow, nil
	}

	needUA, err := m.RequiresUserAgentCheck(ctx)
	if err != nil {
		return Decision{}, err
	}
	needConfigKey, err := m.RequiresConfigKeyCheck(ctx)
	if err != nil {
		return Decision{}, err
	}
	needBrowserKey, err := m.RequiresBrowserExamKeyCheck(ctx)
	if err != nil {
		return Decision{}, err
	}

	// 3. No checks configured: allow without touching the session flag.
	if !needUA && !needConfigKey && !needBrowserKey {
		return allow, nil
	}

	// 4. Basic User-Agent check.
	if needUA && !m.userAgentAccepted() {
		m.log.Debug().Str("user_agent", m.cfg.Request.UserAgent).Msg("SEB user agent check failed")
		return deny(DenyNoSebBrowserUsed), nil
	}

	// 5. Config-key hash check.
	if needConfigKey {
		ok, err := m.configKeyAccepted(ctx)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			return deny(DenyInvalidConfigKey), nil
		}
	}

	// 6. Browser-exam-key hash check.
	if needBrowserKey {
		ok, err := m.browserExamKeyAccepted(ctx)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			return deny(DenyInvalidBrowserKey), nil
		}
	}

	// 7. All required checks passed.
	if err := m.cfg.Access.MarkValidated(ctx, m.cfg.SessionID, m.cfg.QuizID); err != nil {
		return Decision{}, err
	}
	return allow, nil
}

// userAgentAccepted checks the User-Agent against the SEB prefix or the
// site-configured expected token.
func (m *Manager) userAgentAccepted() bool {
	ua := m.cfg.Request.UserAgent
	if strings.HasPrefix(ua, sebUserAgentPrefix) {
		return true
	}
	return m.cfg.ExpectedUserAgent != "" && ua == m.cfg.ExpectedUserAgent
}

// configKeyAccepted recomputes Hash(url + configKey) with the memoized key
// and compares it against the claimed header in constant time. An absent
// header or absent config key fails the check.
func (m *Manager) configKeyAccepted(ctx context.Context) (bool, error) {
	key, err := m.ValidConfigKey(ctx)
	if err != nil {
		return false, err
	}
	if key == "" || m.cfg.Request.ConfigKeyHash == "" {
		return false, nil
	}
	return HashEqual(URLKeyHash(m.cfg.Request.URL, key), m.cfg.Request.ConfigKeyHash), nil
}

// browserExamKeyAccepted tries Hash(url + bek) for every allowed key. An
// empty allow-list means "don't restrict by BEK" and passes trivially.
func (m *Manager) browserExamKeyAccepted(ctx context.Context) (bool, error) {
	s, err := m.currentSettings(ctx)
	if err != nil {
		return false, err
	}
	if s == nil {
		return true, nil
	}

	keys, err := NormalizeBrowserExamKeys(s.AllowedBrowserExamKeys)
	if err != nil {
		// Stored keys are validated at save time; a malformed stored list is
		// treated as empty rather than locking students out.
		m.log.Warn().Err(err).Msg("stored browser exam keys failed to normalize")
		keys = nil
	}
	if len(keys) == 0 {
		return true, nil
	}
	if m.cfg.Request.RequestHash == "" {
		return false, nil
	}
	for _, bek := range keys {
		if HashEqual(URLKeyHash(m.cfg.Request.URL, bek), m.cfg.Request.RequestHash) {
			return true, nil
		}
	}
	return false, nil
}
