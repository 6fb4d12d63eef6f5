// Package settings persists user configuration in settings.json and layers
// environment overrides on top.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"hark/hotkey"
	"hark/postprocess"
)

const (
	EnvAPIURL = "HARK_API_URL"
	EnvAPIKey = "HARK_API_KEY"
	EnvHotkey = "HARK_HOTKEY"

	DefaultTimeout = 30 * time.Second

	appDir   = "hark"
	fileName = "settings.json"
)

type Settings struct {
	Hotkey         string `json:"hotkey"`
	APIURL         string `json:"api_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	// RequestTimeout comes from the command line only and wins over
	// TimeoutSeconds, keeping sub-second precision.
	RequestTimeout time.Duration `json:"-"`
	// InjectMode is "auto" (type when possible) or "paste".
	InjectMode string `json:"inject_mode,omitempty"`

	postprocess.Options
}

func Default() Settings {
	return Settings{
		Hotkey:         hotkey.DefaultBinding,
		TimeoutSeconds: int(DefaultTimeout / time.Second),
		InjectMode:     "auto",
	}
}

func (s Settings) Timeout() time.Duration {
	if s.RequestTimeout > 0 {
		return s.RequestTimeout
	}
	if s.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s Settings) Configured() bool {
	return s.APIURL != "" && s.APIKey != ""
}

// Dir returns the per-user configuration directory for hark.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDir), nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// Load reads path. A missing file yields defaults without error; a malformed
// one yields defaults and the parse error.
func Load(path string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	// The file holds the API key.
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overlays the HARK_* environment variables.
func ApplyEnv(s Settings) Settings {
	if v := os.Getenv(EnvAPIURL); v != "" {
		s.APIURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		s.APIKey = v
	}
	if v := os.Getenv(EnvHotkey); v != "" {
		s.Hotkey = v
	}
	return s
}

// MaskKey hides all but the last four characters of an API key.
func MaskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// Set assigns one field by its JSON name, for the settings subcommand.
func (s *Settings) Set(field, value string) error {
	switch field {
	case "hotkey":
		if _, err := hotkey.ParseBinding(value); err != nil {
			return err
		}
		s.Hotkey = value
	case "api_url":
		s.APIURL = value
	case "api_key":
		s.APIKey = value
	case "inject_mode":
		if value != "auto" && value != "paste" {
			return fmt.Errorf("inject_mode must be auto or paste, got %q", value)
		}
		s.InjectMode = value
	case "timeout_seconds":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n <= 0 {
			return fmt.Errorf("timeout_seconds must be a positive integer, got %q", value)
		}
		s.TimeoutSeconds = n
	case "remove_filler_words":
		return setBool(&s.RemoveFillerWords, value)
	case "remove_punctuation":
		return setBool(&s.RemovePunctuation, value)
	case "dedupe_repeated_phrases":
		return setBool(&s.DedupeRepeatedPhrases, value)
	case "auto_capitalize":
		return setBool(&s.AutoCapitalize, value)
	default:
		return fmt.Errorf("unknown setting %q", field)
	}
	return nil
}

func setBool(dst *bool, value string) error {
	switch strings.ToLower(value) {
	case "true", "on", "yes", "1":
		*dst = true
	case "false", "off", "no", "0":
		*dst = false
	default:
		return fmt.Errorf("expected true or false, got %q", value)
	}
	return nil
}

// Store serves the current settings, re-reading the file when it changes on
// disk so edits apply to the next session without a restart.
type Store struct {
	path     string
	override func(*Settings)

	mu      sync.Mutex
	cur     Settings
	modTime time.Time
	size    int64
}

// Open loads path. override, if set, runs after file and environment values
// and is how command-line flags win.
func Open(path string, override func(*Settings)) (*Store, error) {
	st := &Store{path: path, override: override, cur: Default()}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st, st.reload()
}

func (st *Store) Path() string { return st.path }

// Get returns a snapshot. A file that became unreadable keeps the last good
// values.
func (st *Store) Get() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	if info, err := os.Stat(st.path); err == nil {
		if !info.ModTime().Equal(st.modTime) || info.Size() != st.size {
			_ = st.reload()
		}
	}
	return st.resolved()
}

// Update applies fn to the file values and saves them.
func (st *Store) Update(fn func(*Settings)) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.cur
	fn(&s)
	if err := Save(st.path, s); err != nil {
		return err
	}
	return st.reload()
}

func (st *Store) reload() error {
	s, err := Load(st.path)
	if err != nil {
		return err
	}
	st.cur = s
	if info, err := os.Stat(st.path); err == nil {
		st.modTime, st.size = info.ModTime(), info.Size()
	}
	return nil
}

func (st *Store) resolved() Settings {
	s := ApplyEnv(st.cur)
	if st.override != nil {
		st.override(&s)
	}
	return s
}
