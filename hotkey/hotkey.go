package hotkey

import (
	"errors"
	"time"
)

// ErrHookUnavailable means the system-wide key hook could not be installed.
var ErrHookUnavailable = errors.New("hotkey hook unavailable")

// RawEvent is one key transition for the registered binding as reported by
// the OS. Auto-repeat arrives as further Pressed events.
type RawEvent struct {
	Pressed bool
	At      time.Time
}

// Source delivers raw events for a single binding.
type Source interface {
	Register() error
	Unregister()
	Events() <-chan RawEvent
}

// eventBuffer is sized so a burst of auto-repeat never blocks the OS reader.
const eventBuffer = 64

func send(ch chan RawEvent, ev RawEvent) {
	select {
	case ch <- ev:
	default:
	}
}
