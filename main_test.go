package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hark/history"
	"hark/settings"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

func TestParseFlagsDefaults(t *testing.T) {
	o, err := parseFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !o.tui || !o.beep || o.notify || o.keepAudio || o.listen != "" {
		t.Errorf("unexpected defaults: %+v", o)
	}
	if o.debounce != 15*time.Millisecond {
		t.Errorf("debounce = %v", o.debounce)
	}
}

func TestOverride(t *testing.T) {
	o, err := parseFlags([]string{"-hotkey", "ScrollLock", "-endpoint", "http://flag", "-timeout", "12s"})
	if err != nil {
		t.Fatal(err)
	}
	s := settings.Default()
	s.APIKey = "from-file"
	o.override(&s)
	if s.Hotkey != "ScrollLock" || s.APIURL != "http://flag" || s.Timeout() != 12*time.Second {
		t.Errorf("got %+v", s)
	}
	if s.APIKey != "from-file" {
		t.Error("unset flag must not clear the file value")
	}
}

func TestOverrideTimeout(t *testing.T) {
	tests := []struct {
		name string
		args []string
		file int
		want time.Duration
	}{
		{"sub-second flag", []string{"-timeout", "400ms"}, 5, 400 * time.Millisecond},
		{"fractional flag", []string{"-timeout", "1500ms"}, 5, 1500 * time.Millisecond},
		{"no flag keeps file", nil, 5, 5 * time.Second},
		{"no flag no file", nil, 0, settings.DefaultTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			s := settings.Default()
			s.TimeoutSeconds = tt.file
			o.override(&s)
			if got := s.Timeout(); got != tt.want {
				t.Errorf("Timeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSettingsSubcommand(t *testing.T) {
	t.Setenv(settings.EnvAPIKey, "")
	t.Setenv(settings.EnvAPIURL, "")
	path := filepath.Join(t.TempDir(), "settings.json")
	out := captureStdout(t)

	if code := runSettings([]string{"-settings", path, "set", "api_key", "sk-abcdef1234"}); code != 0 {
		t.Fatalf("set exit = %d", code)
	}
	if code := runSettings([]string{"-settings", path, "set", "hotkey", "Ctrl+Bogus"}); code != 1 {
		t.Errorf("invalid hotkey exit = %d", code)
	}
	if code := runSettings([]string{"-settings", path, "frobnicate"}); code != 2 {
		t.Errorf("usage exit = %d", code)
	}

	out.Reset()
	if code := runSettings([]string{"-settings", path}); code != 0 {
		t.Fatalf("show exit = %d", code)
	}
	if strings.Contains(out.String(), "sk-abcdef1234") {
		t.Error("API key printed unmasked")
	}
	if !strings.Contains(out.String(), "*********1234") || !strings.Contains(out.String(), path) {
		t.Errorf("output = %s", out.String())
	}

	s, err := settings.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.APIKey != "sk-abcdef1234" || s.Hotkey != settings.Default().Hotkey {
		t.Errorf("saved = %+v", s)
	}
}

func TestHistorySubcommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, history.FileName)
	h, err := history.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 5, 6, 7, 8, 9, 0, time.Local)
	h.Add(history.Entry{ID: "1", CreatedAt: base, RawText: "um first", ProcessedText: "First.", AudioSeconds: 1})
	h.Add(history.Entry{ID: "2", CreatedAt: base.Add(time.Minute), RawText: "Second.", ProcessedText: "Second.", AudioSeconds: 2})
	h.Close()

	out := captureStdout(t)
	if code := runHistory([]string{"-history", dbPath, "1"}); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out.String(), "Second.") || strings.Contains(out.String(), "First.") {
		t.Errorf("history 1 = %q", out.String())
	}

	out.Reset()
	runHistory([]string{"-history", dbPath})
	if !strings.Contains(out.String(), "raw: um first") {
		t.Errorf("expected raw text for edited entry: %q", out.String())
	}
	if strings.Contains(out.String(), "raw: Second.") {
		t.Error("raw text shown for unedited entry")
	}

	if code := runHistory([]string{"-history", dbPath, "clear"}); code != 0 {
		t.Fatalf("clear exit = %d", code)
	}
	out.Reset()
	runHistory([]string{"-history", dbPath})
	if !strings.Contains(out.String(), "No transcriptions yet.") {
		t.Errorf("after clear = %q", out.String())
	}

	if code := runHistory([]string{"-history", dbPath, "-3"}); code != 2 {
		t.Errorf("negative count exit = %d", code)
	}
}
