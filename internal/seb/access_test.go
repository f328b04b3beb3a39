package seb

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/sebgate/internal/model"
)

const testRequestURL = "https://exams.example.com/quizzes/7/paper?page=1"

// ─── Test doubles ───────────────────────────────────────────────────────────

type fakeSettingsSource struct {
	settings *model.SebSettings
	key      string
	keyCalls int
}

func (f *fakeSettingsSource) SettingsByQuizID(_ context.Context, _ int64) (*model.SebSettings, error) {
	return f.settings, nil
}

func (f *fakeSettingsSource) ConfigKeyByQuizID(_ context.Context, _ int64) (string, error) {
	f.keyCalls++
	return f.key, nil
}

type fakeUploads bool

func (f fakeUploads) HasUploadedConfig(int64) bool { return bool(f) }

type fakeAccessStore struct {
	flags map[string]bool
}

func newFakeAccessStore() *fakeAccessStore {
	return &fakeAccessStore{flags: make(map[string]bool)}
}

func (f *fakeAccessStore) flagKey(sessionID string, quizID int64) string {
	return fmt.Sprintf("%s|%d", sessionID, quizID)
}

func (f *fakeAccessStore) IsValidated(_ context.Context, sessionID string, quizID int64) (bool, error) {
	return f.flags[f.flagKey(sessionID, quizID)], nil
}

func (f *fakeAccessStore) MarkValidated(_ context.Context, sessionID string, quizID int64) error {
	f.flags[f.flagKey(sessionID, quizID)] = true
	return nil
}

type fakeCapabilities bool

func (f fakeCapabilities) HasCapability(string) bool { return bool(f) }

type managerOptions struct {
	mode      model.UsageMode
	noRecord  bool
	beks      string
	upload    bool
	bypass    bool
	configKey string
	request   Request
	access    *fakeAccessStore
	expected  string
}

func newTestManager(opts managerOptions) (*Manager, *fakeSettingsSource, *fakeAccessStore) {
	var settings *model.SebSettings
	if !opts.noRecord {
		settings = model.DefaultSebSettings(7)
		settings.UsageMode = opts.mode
		settings.AllowedBrowserExamKeys = opts.beks
	}
	source := &fakeSettingsSource{settings: settings, key: opts.configKey}
	access := opts.access
	if access == nil {
		access = newFakeAccessStore()
	}
	m := NewManager(ManagerConfig{
		QuizID:            7,
		SessionID:         "session-1",
		Request:           opts.request,
		Settings:          source,
		Uploads:           fakeUploads(opts.upload),
		Access:            access,
		Capabilities:      fakeCapabilities(opts.bypass),
		ExpectedUserAgent: opts.expected,
		Logger:            zerolog.Nop(),
	})
	return m, source, access
}

// ─── Mode matrix ────────────────────────────────────────────────────────────

func TestCheckRequirementMatrix(t *testing.T) {
	cases := []struct {
		mode       model.UsageMode
		upload     bool
		userAgent  bool
		configKey  bool
		browserKey bool
	}{
		{model.UsageModeNone, false, false, false, false},
		{model.UsageModeManual, false, false, true, false},
		{model.UsageModeTemplate, false, false, true, false},
		{model.UsageModeUploadedConfig, true, false, true, true},
		{model.UsageModeClientConfig, false, true, false, true},
	}

	ctx := context.Background()
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			m, _, _ := newTestManager(managerOptions{mode: tc.mode, upload: tc.upload})

			gotUA, err := m.RequiresUserAgentCheck(ctx)
			if err != nil {
				t.Fatalf("RequiresUserAgentCheck: %v", err)
			}
			gotCK, err := m.RequiresConfigKeyCheck(ctx)
			if err != nil {
				t.Fatalf("RequiresConfigKeyCheck: %v", err)
			}
			gotBEK, err := m.RequiresBrowserExamKeyCheck(ctx)
			if err != nil {
				t.Fatalf("RequiresBrowserExamKeyCheck: %v", err)
			}

			if gotUA != tc.userAgent || gotCK != tc.configKey || gotBEK != tc.browserKey {
				t.Errorf("mode %s: got (ua=%v ck=%v bek=%v), want (ua=%v ck=%v bek=%v)",
					tc.mode, gotUA, gotCK, gotBEK, tc.userAgent, tc.configKey, tc.browserKey)
			}
		})
	}
}

func TestUploadedConfigDegradesToManualWithoutUpload(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(managerOptions{mode: model.UsageModeUploadedConfig, upload: false})

	mode, err := m.EffectiveUseType(ctx)
	if err != nil {
		t.Fatalf("EffectiveUseType: %v", err)
	}
	if mode != model.UsageModeManual {
		t.Errorf("EffectiveUseType = %s, want MANUAL", mode)
	}
	if bek, _ := m.RequiresBrowserExamKeyCheck(ctx); bek {
		t.Error("degraded mode must not require the browser exam key check")
	}
}

// ─── Decision sequence ──────────────────────────────────────────────────────

func TestValidateAllowsWhenNoChecksConfigured(t *testing.T) {
	ctx := context.Background()
	for _, opts := range []managerOptions{
		{mode: model.UsageModeNone},
		{noRecord: true},
	} {
		m, _, access := newTestManager(opts)
		decision, err := m.Validate(ctx)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if !decision.Allowed {
			t.Errorf("expected allow, got reason %s", decision.Reason)
		}
		if len(access.flags) != 0 {
			t.Error("no-check allow must not set the session flag")
		}
	}
}

func TestValidateConfigKeyRoundTrip(t *testing.T) {
	ctx := context.Background()
	const configKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	m, _, access := newTestManager(managerOptions{
		mode:      model.UsageModeManual,
		configKey: configKey,
		request: Request{
			URL:           testRequestURL,
			ConfigKeyHash: URLKeyHash(testRequestURL, configKey),
		},
	})

	decision, err := m.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allow, got reason %s", decision.Reason)
	}
	if validated, _ := access.IsValidated(ctx, "session-1", 7); !validated {
		t.Error("successful validation should set the session flag")
	}
}

func TestValidateRejectsWrongOrMissingConfigKey(t *testing.T) {
	ctx := context.Background()
	const configKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	for name, header := range map[string]string{
		"wrong secret": URLKeyHash(testRequestURL, "wrong"),
		"wrong URL":    URLKeyHash("https://exams.example.com/other", configKey),
		"absent":       "",
	} {
		t.Run(name, func(t *testing.T) {
			m, _, access := newTestManager(managerOptions{
				mode:      model.UsageModeManual,
				configKey: configKey,
				request:   Request{URL: testRequestURL, ConfigKeyHash: header},
			})
			decision, err := m.Validate(ctx)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if decision.Allowed || decision.Reason != DenyInvalidConfigKey {
				t.Errorf("got %+v, want deny InvalidConfigKey", decision)
			}
			if len(access.flags) != 0 {
				t.Error("rejected request must not set the session flag")
			}
		})
	}
}

func TestValidateUserAgent(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name      string
		userAgent string
		expected  string
		allowed   bool
	}{
		{"seb prefix", "SEB/3.4 (Windows)", "", true},
		{"case-sensitive prefix", "seb/3.4", "", false},
		{"configured token", "CustomExamBrowser/1.0", "CustomExamBrowser/1.0", true},
		{"configured token partial", "CustomExamBrowser/1.0 extra", "CustomExamBrowser/1.0", false},
		{"ordinary browser", "Mozilla/5.0", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// CLIENT_CONFIG with no BEKs: the user-agent check decides alone.
			m, _, _ := newTestManager(managerOptions{
				mode:     model.UsageModeClientConfig,
				expected: tc.expected,
				request:  Request{URL: testRequestURL, UserAgent: tc.userAgent},
			})
			decision, err := m.Validate(ctx)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if decision.Allowed != tc.allowed {
				t.Errorf("allowed = %v, want %v (reason %s)", decision.Allowed, tc.allowed, decision.Reason)
			}
			if !tc.allowed && decision.Reason != DenyNoSebBrowserUsed {
				t.Errorf("reason = %s, want NoSebBrowserUsed", decision.Reason)
			}
		})
	}
}

func TestValidateBrowserExamKeys(t *testing.T) {
	ctx := context.Background()
	bek := strings.Repeat("a", 64)

	t.Run("empty allow-list passes unconditionally", func(t *testing.T) {
		const configKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
		m, _, _ := newTestManager(managerOptions{
			mode:      model.UsageModeUploadedConfig,
			upload:    true,
			configKey: configKey,
			request: Request{
				URL:           testRequestURL,
				ConfigKeyHash: URLKeyHash(testRequestURL, configKey),
			},
		})
		decision, err := m.Validate(ctx)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if !decision.Allowed {
			t.Errorf("empty BEK list should pass, got reason %s", decision.Reason)
		}
	})

	t.Run("matching key accepted", func(t *testing.T) {
		m, _, _ := newTestManager(managerOptions{
			mode: model.UsageModeClientConfig,
			beks: strings.Repeat("b", 64) + "\n" + bek,
			request: Request{
				URL:         testRequestURL,
				UserAgent:   "SEB/3.4",
				RequestHash: URLKeyHash(testRequestURL, bek),
			},
		})
		decision, err := m.Validate(ctx)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if !decision.Allowed {
			t.Errorf("expected allow, got reason %s", decision.Reason)
		}
	})

	t.Run("no key matches", func(t *testing.T) {
		m, _, _ := newTestManager(managerOptions{
			mode: model.UsageModeClientConfig,
			beks: bek,
			request: Request{
				URL:         testRequestURL,
				UserAgent:   "SEB/3.4",
				RequestHash: URLKeyHash(testRequestURL, strings.Repeat("c", 64)),
			},
		})
		decision, err := m.Validate(ctx)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if decision.Allowed || decision.Reason != DenyInvalidBrowserKey {
			t.Errorf("got %+v, want deny InvalidBrowserKey", decision)
		}
	})
}

func TestValidateSessionShortcut(t *testing.T) {
	ctx := context.Background()
	access := newFakeAccessStore()
	_ = access.MarkValidated(ctx, "session-1", 7)

	m, _, _ := newTestManager(managerOptions{
		mode:    model.UsageModeManual,
		access:  access,
		request: Request{URL: testRequestURL, ConfigKeyHash: "garbage"},
	})
	decision, err := m.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("validated session should skip all checks, got reason %s", decision.Reason)
	}
}

func TestValidateBypassCapability(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(managerOptions{
		mode:    model.UsageModeClientConfig,
		bypass:  true,
		request: Request{URL: testRequestURL, UserAgent: "Mozilla/5.0"},
	})
	decision, err := m.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("bypass capability should allow, got reason %s", decision.Reason)
	}
}

// ─── Memoization ────────────────────────────────────────────────────────────

func TestValidConfigKeyMemoized(t *testing.T) {
	ctx := context.Background()
	m, source, _ := newTestManager(managerOptions{
		mode:      model.UsageModeManual,
		configKey: "first-key",
	})

	key, err := m.ValidConfigKey(ctx)
	if err != nil {
		t.Fatalf("ValidConfigKey: %v", err)
	}
	if key != "first-key" {
		t.Fatalf("key = %q", key)
	}

	// A concurrent settings save changes the resolved value; the in-flight
	// manager must keep validating against what it first fetched.
	source.key = "second-key"

	key, err = m.ValidConfigKey(ctx)
	if err != nil {
		t.Fatalf("ValidConfigKey: %v", err)
	}
	if key != "first-key" {
		t.Errorf("memoized key = %q, want first-key", key)
	}
	if source.keyCalls != 1 {
		t.Errorf("source queried %d times, want 1", source.keyCalls)
	}
}

func TestExampleScenario(t *testing.T) {
	// Settings: MANUAL with quit password "test"; the expected config key is
	// the digest of the compiled document, and the header proof binds it to
	// one exact URL.
	s := manualSettings()
	s.QuitPassword = strPtr("test")
	compiled := mustCompile(t, CompileInput{Settings: s, StartURL: "https://example.com/x?id=1"})

	const requestURL = "https://example.com/x?id=1"
	ctx := context.Background()

	run := func(header string) Decision {
		source := &fakeSettingsSource{settings: s, key: compiled.ConfigKey}
		m := NewManager(ManagerConfig{
			QuizID:    1,
			SessionID: "session-x",
			Request:   Request{URL: requestURL, ConfigKeyHash: header},
			Settings:  source,
			Uploads:   fakeUploads(false),
			Access:    newFakeAccessStore(),
			Logger:    zerolog.Nop(),
		})
		decision, err := m.Validate(ctx)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		return decision
	}

	if d := run(URLKeyHash(requestURL, compiled.ConfigKey)); !d.Allowed {
		t.Errorf("correct proof should allow, got reason %s", d.Reason)
	}
	if d := run(URLKeyHash(requestURL, "wrong")); d.Allowed || d.Reason != DenyInvalidConfigKey {
		t.Errorf("wrong proof should deny with InvalidConfigKey, got %+v", d)
	}
}
