//go:build darwin || windows

package hotkey

import (
	"fmt"
	"sync"
	"time"

	"golang.design/x/hotkey"
)

var xKeys = map[string]hotkey.Key{
	"Space": hotkey.KeySpace, "Enter": hotkey.KeyReturn, "Tab": hotkey.KeyTab, "Escape": hotkey.KeyEscape,
	"Up": hotkey.KeyUp, "Down": hotkey.KeyDown, "Left": hotkey.KeyLeft, "Right": hotkey.KeyRight,
	"F1": hotkey.KeyF1, "F2": hotkey.KeyF2, "F3": hotkey.KeyF3, "F4": hotkey.KeyF4,
	"F5": hotkey.KeyF5, "F6": hotkey.KeyF6, "F7": hotkey.KeyF7, "F8": hotkey.KeyF8,
	"F9": hotkey.KeyF9, "F10": hotkey.KeyF10, "F11": hotkey.KeyF11, "F12": hotkey.KeyF12,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3, "4": hotkey.Key4,
	"5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7, "8": hotkey.Key8, "9": hotkey.Key9,
	"A": hotkey.KeyA, "B": hotkey.KeyB, "C": hotkey.KeyC, "D": hotkey.KeyD, "E": hotkey.KeyE,
	"F": hotkey.KeyF, "G": hotkey.KeyG, "H": hotkey.KeyH, "I": hotkey.KeyI, "J": hotkey.KeyJ,
	"K": hotkey.KeyK, "L": hotkey.KeyL, "M": hotkey.KeyM, "N": hotkey.KeyN, "O": hotkey.KeyO,
	"P": hotkey.KeyP, "Q": hotkey.KeyQ, "R": hotkey.KeyR, "S": hotkey.KeyS, "T": hotkey.KeyT,
	"U": hotkey.KeyU, "V": hotkey.KeyV, "W": hotkey.KeyW, "X": hotkey.KeyX, "Y": hotkey.KeyY,
	"Z": hotkey.KeyZ,
}

type xSource struct {
	binding Binding
	hk      *hotkey.Hotkey
	events  chan RawEvent
	stop    chan struct{}
	once    sync.Once
}

// New returns a source backed by the OS global hotkey API. On macOS it must
// be registered from the main thread (see mainthread.Init).
func New(b Binding) Source {
	return &xSource{
		binding: b,
		events:  make(chan RawEvent, eventBuffer),
	}
}

func (h *xSource) Register() error {
	key, ok := xKeys[h.binding.Key]
	if !ok {
		return fmt.Errorf("%w: key %s not supported on this platform", ErrHookUnavailable, h.binding.Key)
	}
	h.hk = hotkey.New(xModifiers(h.binding.Mods), key)
	if err := h.hk.Register(); err != nil {
		return fmt.Errorf("%w: %v", ErrHookUnavailable, err)
	}
	h.stop = make(chan struct{})
	go func() {
		for {
			select {
			case <-h.stop:
				return
			case <-h.hk.Keydown():
				send(h.events, RawEvent{Pressed: true, At: time.Now()})
			case <-h.hk.Keyup():
				send(h.events, RawEvent{Pressed: false, At: time.Now()})
			}
		}
	}()
	return nil
}

func (h *xSource) Unregister() {
	h.once.Do(func() {
		if h.stop != nil {
			close(h.stop)
		}
		if h.hk != nil {
			h.hk.Unregister()
		}
	})
}

func (h *xSource) Events() <-chan RawEvent {
	return h.events
}

func Diagnose(b Binding) (string, error) {
	if _, ok := xKeys[b.Key]; !ok {
		return "", fmt.Errorf("key %s is not supported on this platform", b.Key)
	}
	return fmt.Sprintf("hotkey support available (%s)", b), nil
}
