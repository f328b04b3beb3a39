package seb

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stemsi/sebgate/internal/model"
)

const testStartURL = "https://exams.example.com/quizzes/1"

func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func manualSettings() *model.SebSettings {
	s := model.DefaultSebSettings(1)
	s.UsageMode = model.UsageModeManual
	return s
}

func mustCompile(t *testing.T, in CompileInput) *CompileResult {
	t.Helper()
	res, err := Compile(in)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return res
}

func TestCompileManualDeterministic(t *testing.T) {
	s := manualSettings()
	s.QuitPassword = strPtr("test")
	s.AllowUserQuitSeb = boolPtr(true)
	s.ActivateURLFiltering = true
	s.ExpressionsAllowed = "example.com\ncdn.example.com"

	first := mustCompile(t, CompileInput{Settings: s, StartURL: testStartURL})
	for i := 0; i < 10; i++ {
		again := mustCompile(t, CompileInput{Settings: s, StartURL: testStartURL})
		if !bytes.Equal(first.Document, again.Document) {
			t.Fatalf("compile %d produced different bytes", i)
		}
		if first.ConfigKey != again.ConfigKey {
			t.Fatalf("compile %d produced different config key", i)
		}
	}
}

func TestCompileManualBaseKeys(t *testing.T) {
	res := mustCompile(t, CompileInput{Settings: manualSettings(), StartURL: testStartURL})

	doc, err := UnmarshalDocument(res.Document)
	if err != nil {
		t.Fatalf("parse compiled document: %v", err)
	}

	checks := map[string]bool{
		keyShowTaskBar:         true,
		keyAllowWLAN:           false,
		keyShowReloadButton:    true,
		keyShowTime:            true,
		keyShowInputLanguage:   true,
		keyQuitURLConfirm:      true,
		keyAudioControlEnabled: false,
		keyAudioMute:           false,
		keyAllowSpellCheck:     false,
		keyBrowserWindowReload: true,
		keyURLFilterEnable:     false,
		keyURLFilterContent:    false,
		keySendBrowserExamKey:  true,
		keyAllowPreferences:    false,
		keyClearCookiesOnStart: false,
	}
	for key, want := range checks {
		got, ok := doc[key].(bool)
		if !ok || got != want {
			t.Errorf("%s = %v (present=%v), want %v", key, got, ok, want)
		}
	}
	if got, _ := doc[keyStartURL].(string); got != testStartURL {
		t.Errorf("startURL = %q, want %q", got, testStartURL)
	}
	if res.ConfigKey != ConfigKey(res.Document) {
		t.Errorf("config key does not match document digest")
	}
}

func TestCompileQuitKeysOmittedUnlessSet(t *testing.T) {
	res := mustCompile(t, CompileInput{Settings: manualSettings(), StartURL: testStartURL})
	text := string(res.Document)
	if strings.Contains(text, "<key>"+keyAllowQuit+"</key>") || strings.Contains(text, keyHashedQuitPassword) {
		t.Errorf("quit keys should be omitted when not explicitly set:\n%s", text)
	}
}

func TestCompileQuitPasswordHashed(t *testing.T) {
	s := manualSettings()
	s.AllowUserQuitSeb = boolPtr(true)
	s.QuitPassword = strPtr("test")

	res := mustCompile(t, CompileInput{Settings: s, StartURL: testStartURL})
	doc, err := UnmarshalDocument(res.Document)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got, _ := doc[keyAllowQuit].(bool); !got {
		t.Error("allowQuit should be true")
	}
	if got, _ := doc[keyHashedQuitPassword].(string); got != HashQuitPassword("test") {
		t.Errorf("hashedQuitPassword = %q, want SHA-256 of plaintext", got)
	}
	if strings.Contains(string(res.Document), ">test<") {
		t.Error("plaintext quit password leaked into the document")
	}
}

func TestCompileEmptyQuitPasswordClearsKey(t *testing.T) {
	template, err := MarshalDocument(Dict{
		keyHashedQuitPassword: HashQuitPassword("old"),
	})
	if err != nil {
		t.Fatalf("build template: %v", err)
	}

	s := model.DefaultSebSettings(1)
	s.UsageMode = model.UsageModeTemplate
	s.QuitPassword = strPtr("")

	res := mustCompile(t, CompileInput{Settings: s, StartURL: testStartURL, TemplateContent: template})
	if strings.Contains(string(res.Document), keyHashedQuitPassword) {
		t.Error("explicit empty quit password should remove hashedQuitPassword")
	}
}

func TestCompileFilterRuleOrdering(t *testing.T) {
	s := manualSettings()
	s.ActivateURLFiltering = true
	s.FilterEmbeddedContent = true
	s.ExpressionsAllowed = "allowed.example.com\n  \nsecond.example.com"
	s.ExpressionsBlocked = "blocked.example.com"
	s.RegexAllowed = `^https://.*\.allowed\.org/`
	s.RegexBlocked = `^https://.*\.blocked\.org/`

	res := mustCompile(t, CompileInput{Settings: s, StartURL: testStartURL})
	doc, err := UnmarshalDocument(res.Document)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	rules, ok := doc[keyURLFilterRules].([]any)
	if !ok {
		t.Fatalf("URLFilterRules missing or wrong type: %T", doc[keyURLFilterRules])
	}

	type rule struct {
		expression string
		action     int
		regex      bool
	}
	want := []rule{
		{"allowed.example.com", filterActionAllow, false},
		{"second.example.com", filterActionAllow, false},
		{"blocked.example.com", filterActionBlock, false},
		{`^https://.*\.allowed\.org/`, filterActionAllow, true},
		{`^https://.*\.blocked\.org/`, filterActionBlock, true},
	}
	if len(rules) != len(want) {
		t.Fatalf("got %d rules, want %d", len(rules), len(want))
	}
	for i, raw := range rules {
		entry, ok := raw.(Dict)
		if !ok {
			t.Fatalf("rule %d is %T, want Dict", i, raw)
		}
		expr, _ := entry[keyFilterRuleExpression].(string)
		active, _ := entry[keyFilterRuleActive].(bool)
		regex, _ := entry[keyFilterRuleRegex].(bool)
		action := asInt(entry[keyFilterRuleAction])
		if expr != want[i].expression || action != want[i].action || regex != want[i].regex || !active {
			t.Errorf("rule %d = {expr=%q action=%d regex=%v active=%v}, want {expr=%q action=%d regex=%v active=true}",
				i, expr, action, regex, active, want[i].expression, want[i].action, want[i].regex)
		}
	}
}

func TestCompileTemplateOverrides(t *testing.T) {
	template, err := MarshalDocument(Dict{
		keyShowTaskBar: true,
		keyAudioMute:   true,
		keyQuitURL:     "https://quit.example.com/done",
		"customKey":    "kept",
	})
	if err != nil {
		t.Fatalf("build template: %v", err)
	}

	s := model.DefaultSebSettings(1)
	s.UsageMode = model.UsageModeTemplate
	s.ShowTaskbar = false // changed from default true: overrides template

	res := mustCompile(t, CompileInput{Settings: s, StartURL: testStartURL, TemplateContent: template})
	doc, err := UnmarshalDocument(res.Document)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got, _ := doc[keyShowTaskBar].(bool); got {
		t.Error("explicitly changed showTaskBar should override the template")
	}
	if got, _ := doc[keyAudioMute].(bool); !got {
		t.Error("untouched audioMute should keep the template value")
	}
	if got, _ := doc["customKey"].(string); got != "kept" {
		t.Error("unknown template keys should pass through")
	}
	if got, _ := doc[keyStartURL].(string); got != testStartURL {
		t.Error("startURL should always be set")
	}
	if res.QuitURL != "https://quit.example.com/done" {
		t.Errorf("QuitURL = %q, want discovered quit URL", res.QuitURL)
	}
}

func TestCompileUploadedConfigPassthrough(t *testing.T) {
	uploaded, err := MarshalDocument(Dict{
		keyShowTaskBar: false,
		keyQuitURL:     "https://quit.example.com/uploaded",
		"examKeySalt":  []byte{0xde, 0xad, 0xbe, 0xef},
		"monitorProcesses": []any{
			Dict{"executable": "zoom", keyFilterRuleActive: true},
		},
	})
	if err != nil {
		t.Fatalf("build upload: %v", err)
	}

	s := model.DefaultSebSettings(1)
	s.UsageMode = model.UsageModeUploadedConfig
	s.QuitPassword = strPtr("secret")
	s.ShowTaskbar = true // not applied in uploaded mode

	res := mustCompile(t, CompileInput{Settings: s, StartURL: testStartURL, UploadedConfig: uploaded})
	doc, err := UnmarshalDocument(res.Document)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got, _ := doc[keyShowTaskBar].(bool); got {
		t.Error("uploaded documents keep their own lockdown values")
	}
	if salt, _ := doc["examKeySalt"].([]byte); !bytes.Equal(salt, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("binary salt should pass through untouched, got %#v", doc["examKeySalt"])
	}
	if got, _ := doc[keyHashedQuitPassword].(string); got != HashQuitPassword("secret") {
		t.Error("quit password override should apply to uploaded configs")
	}
	if res.QuitURL != "https://quit.example.com/uploaded" {
		t.Errorf("QuitURL = %q", res.QuitURL)
	}
}

func TestCompileMissingOverlaySources(t *testing.T) {
	s := model.DefaultSebSettings(1)
	s.UsageMode = model.UsageModeTemplate
	if _, err := Compile(CompileInput{Settings: s, StartURL: testStartURL}); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate, got %v", err)
	}

	s.UsageMode = model.UsageModeUploadedConfig
	if _, err := Compile(CompileInput{Settings: s, StartURL: testStartURL}); !errors.Is(err, ErrMissingUploadedConfig) {
		t.Errorf("expected ErrMissingUploadedConfig, got %v", err)
	}
}

func TestCompileRejectsNonCompilingModes(t *testing.T) {
	for _, mode := range []model.UsageMode{model.UsageModeNone, model.UsageModeClientConfig} {
		s := model.DefaultSebSettings(1)
		s.UsageMode = mode
		if _, err := Compile(CompileInput{Settings: s, StartURL: testStartURL}); err == nil {
			t.Errorf("mode %s should not compile", mode)
		}
	}
}

func TestConfigKeyChangesWithSettings(t *testing.T) {
	base := mustCompile(t, CompileInput{Settings: manualSettings(), StartURL: testStartURL})

	changed := manualSettings()
	changed.ShowTime = false
	other := mustCompile(t, CompileInput{Settings: changed, StartURL: testStartURL})

	if base.ConfigKey == other.ConfigKey {
		t.Error("config key should change when any field changes")
	}
}

// asInt widens the integer types the plist decoder may produce.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	}
	return -1
}
