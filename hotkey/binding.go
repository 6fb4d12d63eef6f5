package hotkey

import (
	"fmt"
	"strconv"
	"strings"
)

type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModShift
	ModAlt
	ModSuper
)

// Binding is a key chord such as Ctrl+Shift+Space.
type Binding struct {
	Mods Modifier
	Key  string // canonical key name, e.g. "Space", "A", "F9"
}

const DefaultBinding = "Ctrl+Shift+Space"

var modifierNames = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"option":  ModAlt,
	"win":     ModSuper,
	"super":   ModSuper,
	"meta":    ModSuper,
	"cmd":     ModSuper,
	"command": ModSuper,
}

var namedKeys = map[string]string{
	"space":       "Space",
	"enter":       "Enter",
	"return":      "Enter",
	"tab":         "Tab",
	"escape":      "Escape",
	"esc":         "Escape",
	"scrolllock":  "ScrollLock",
	"printscreen": "PrintScreen",
	"pause":       "Pause",
	"insert":      "Insert",
	"delete":      "Delete",
	"del":         "Delete",
	"home":        "Home",
	"end":         "End",
	"pageup":      "PageUp",
	"pagedown":    "PageDown",
	"up":          "Up",
	"down":        "Down",
	"left":        "Left",
	"right":       "Right",
}

// ParseBinding parses strings like "Ctrl+Shift+Space" or "ScrollLock".
// Names are case-insensitive; exactly one non-modifier key is required.
func ParseBinding(s string) (Binding, error) {
	var b Binding
	parts := strings.Split(s, "+")
	for _, raw := range parts {
		part := strings.TrimSpace(raw)
		if part == "" {
			return Binding{}, fmt.Errorf("invalid hotkey %q: empty key", s)
		}
		lower := strings.ToLower(part)
		if m, ok := modifierNames[lower]; ok {
			b.Mods |= m
			continue
		}
		key, ok := canonicalKey(lower)
		if !ok {
			return Binding{}, fmt.Errorf("invalid hotkey %q: unknown key %q", s, part)
		}
		if b.Key != "" {
			return Binding{}, fmt.Errorf("invalid hotkey %q: more than one key", s)
		}
		b.Key = key
	}
	if b.Key == "" {
		return Binding{}, fmt.Errorf("invalid hotkey %q: no key", s)
	}
	return b, nil
}

func canonicalKey(lower string) (string, bool) {
	if k, ok := namedKeys[lower]; ok {
		return k, true
	}
	if len(lower) == 1 {
		c := lower[0]
		switch {
		case c >= 'a' && c <= 'z':
			return strings.ToUpper(lower), true
		case c >= '0' && c <= '9':
			return lower, true
		}
	}
	if len(lower) >= 2 && lower[0] == 'f' {
		if n, err := strconv.Atoi(lower[1:]); err == nil && n >= 1 && n <= 12 && strconv.Itoa(n) == lower[1:] {
			return "F" + strconv.Itoa(n), true
		}
	}
	return "", false
}

func (b Binding) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{{ModCtrl, "Ctrl"}, {ModShift, "Shift"}, {ModAlt, "Alt"}, {ModSuper, "Super"}} {
		if b.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, b.Key), "+")
}
