package display

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"hark/session"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	updated, _ := m.Update(msg)
	model, ok := updated.(Model)
	if !ok {
		t.Fatalf("Update returned %T", updated)
	}
	return model
}

func TestModelFollowsStates(t *testing.T) {
	m := NewModel(Info{Hotkey: "Ctrl+Shift+Space"})
	at := time.Now()

	m = update(t, m, session.Event{Name: session.EventRecording, At: at})
	if m.state != session.Recording || !m.recStart.Equal(at) {
		t.Fatalf("state = %s recStart = %v", m.state, m.recStart)
	}

	m = update(t, m, session.Event{Name: session.EventProcessing})
	m = update(t, m, session.Event{Name: session.EventSuccess, Text: "hello"})
	if m.state != session.Success || m.lastText != "hello" || m.count != 1 {
		t.Errorf("after success: %+v", m)
	}

	m = update(t, m, session.Event{Name: session.EventIdle})
	if m.state != session.Idle || m.lastText != "hello" {
		t.Errorf("idle should keep the last text: %+v", m)
	}
}

func TestModelError(t *testing.T) {
	m := NewModel(Info{})
	m = update(t, m, session.Event{Name: session.EventRecording})
	m = update(t, m, session.Event{Name: session.EventError, Message: "No audio captured"})
	if m.state != session.Error || m.lastErr != "No audio captured" {
		t.Fatalf("got %+v", m)
	}
	m = update(t, m, session.Event{Name: session.EventRecording})
	if m.lastErr != "" {
		t.Error("new recording should clear the last error")
	}
}

func TestModelLevelSmoothing(t *testing.T) {
	m := NewModel(Info{})
	m = update(t, m, session.Event{Name: session.EventLevel, Amplitude: 1})
	if m.level != 0 {
		t.Fatalf("level outside recording = %v", m.level)
	}

	m = update(t, m, session.Event{Name: session.EventRecording})
	m = update(t, m, session.Event{Name: session.EventLevel, Amplitude: 1})
	if m.level < 0.399 || m.level > 0.401 {
		t.Errorf("level = %v, want 0.4", m.level)
	}
	m = update(t, m, session.Event{Name: session.EventLevel, Amplitude: 1})
	if m.level < 0.639 || m.level > 0.641 {
		t.Errorf("level = %v, want 0.64", m.level)
	}
	if m.peak != 1 {
		t.Errorf("peak = %v", m.peak)
	}

	m = update(t, m, session.Event{Name: session.EventProcessing})
	if m.level != 0 {
		t.Errorf("level after recording = %v", m.level)
	}
}

func TestModelQuitKeys(t *testing.T) {
	m := NewModel(Info{})
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
	} {
		_, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("%q: expected quit command", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%q: expected QuitMsg", key.String())
		}
	}
}

func TestModelTickAdvancesFrame(t *testing.T) {
	m := NewModel(Info{})
	now := time.Now()
	updated, cmd := m.Update(tickMsg(now))
	m = updated.(Model)
	if m.frame != 1 || !m.now.Equal(now) {
		t.Errorf("frame = %d now = %v", m.frame, m.now)
	}
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
}

func TestViewShowsStatus(t *testing.T) {
	m := NewModel(Info{Hotkey: "ScrollLock", Device: "Built-in Mic", Version: "dev"})
	if got := m.View(); got != "Loading..." {
		t.Fatalf("view before size = %q", got)
	}
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 24})

	tests := []struct {
		ev   session.Event
		want string
	}{
		{session.Event{Name: session.EventIdle}, "STANDBY"},
		{session.Event{Name: session.EventRecording, At: time.Now()}, "REC"},
		{session.Event{Name: session.EventProcessing}, "TRANSCRIBING"},
		{session.Event{Name: session.EventSuccess, Text: "typed it"}, "typed it"},
		{session.Event{Name: session.EventError, Message: "Unauthorized"}, "Unauthorized"},
	}
	for _, tt := range tests {
		m = update(t, m, tt.ev)
		view := m.View()
		if !strings.Contains(view, tt.want) {
			t.Errorf("%s: view missing %q", tt.ev.Name, tt.want)
		}
		if !strings.Contains(view, "ScrollLock") || !strings.Contains(view, "Built-in Mic") {
			t.Errorf("%s: view missing info", tt.ev.Name)
		}
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"short", 10, []string{"short"}},
		{"hello there world", 11, []string{"hello there", "world"}},
		{"hello there world", 8, []string{"hello", "there", "world"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		got := wrapText(tt.text, tt.width)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}

func TestRenderOrbSwellsWithLevel(t *testing.T) {
	count := func(s string) int { return strings.Count(s, "█") }
	quiet := renderOrb(0, 0, session.Recording)
	loud := renderOrb(0, 1, session.Recording)
	if count(loud) <= count(quiet) {
		t.Errorf("loud orb (%d) not larger than quiet orb (%d)", count(loud), count(quiet))
	}
	if lines := strings.Count(quiet, "\n") + 1; lines != 10 {
		t.Errorf("orb height = %d", lines)
	}
}
