//go:build linux

package hotkey

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	evKey      = 1
	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

const inputEventSize = 24

// evdev modifier codes, left and right
var modifierCodes = map[uint16]Modifier{
	29: ModCtrl, 97: ModCtrl,
	42: ModShift, 54: ModShift,
	56: ModAlt, 100: ModAlt,
	125: ModSuper, 126: ModSuper,
}

var keyCodes = map[string]uint16{
	"Space": 57, "Enter": 28, "Tab": 15, "Escape": 1,
	"ScrollLock": 70, "PrintScreen": 99, "Pause": 119,
	"Insert": 110, "Delete": 111, "Home": 102, "End": 107,
	"PageUp": 104, "PageDown": 109,
	"Up": 103, "Down": 108, "Left": 105, "Right": 106,
	"F1": 59, "F2": 60, "F3": 61, "F4": 62, "F5": 63, "F6": 64,
	"F7": 65, "F8": 66, "F9": 67, "F10": 68, "F11": 87, "F12": 88,
	"1": 2, "2": 3, "3": 4, "4": 5, "5": 6, "6": 7, "7": 8, "8": 9, "9": 10, "0": 11,
	"Q": 16, "W": 17, "E": 18, "R": 19, "T": 20, "Y": 21, "U": 22, "I": 23, "O": 24, "P": 25,
	"A": 30, "S": 31, "D": 32, "F": 33, "G": 34, "H": 35, "J": 36, "K": 37, "L": 38,
	"Z": 44, "X": 45, "C": 46, "V": 47, "B": 48, "N": 49, "M": 50,
}

type linuxSource struct {
	binding Binding
	code    uint16
	events  chan RawEvent
	files   []*os.File
	stop    chan struct{}
	once    sync.Once
}

// New returns the evdev-backed source for b. Reading /dev/input requires
// membership in the input group.
func New(b Binding) Source {
	return &linuxSource{
		binding: b,
		events:  make(chan RawEvent, eventBuffer),
	}
}

func (h *linuxSource) Register() error {
	code, ok := keyCodes[h.binding.Key]
	if !ok {
		return fmt.Errorf("%w: key %s not supported", ErrHookUnavailable, h.binding.Key)
	}
	h.code = code

	keyboards, err := findKeyboards()
	if err != nil {
		return fmt.Errorf("%w: finding keyboards: %v", ErrHookUnavailable, err)
	}
	if len(keyboards) == 0 {
		return fmt.Errorf("%w: no keyboard devices found (is user in 'input' group?)", ErrHookUnavailable)
	}

	h.stop = make(chan struct{})

	for _, path := range keyboards {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		h.files = append(h.files, f)
		go h.readEvents(f)
	}

	if len(h.files) == 0 {
		return fmt.Errorf("%w: could not open any keyboard device (run: sudo usermod -aG input $USER, then re-login)", ErrHookUnavailable)
	}

	return nil
}

// readEvents tracks modifier state per device. The chord only fires when
// all bound modifiers are held; once down, the key's release always fires
// regardless of modifiers so a session can never be left recording.
func (h *linuxSource) readEvents(f *os.File) {
	buf := make([]byte, inputEventSize*16)
	var held Modifier
	var down bool

	for {
		select {
		case <-h.stop:
			return
		default:
		}

		n, err := f.Read(buf)
		if err != nil {
			return
		}

		for i := 0; i+inputEventSize <= n; i += inputEventSize {
			sec := int64(binary.LittleEndian.Uint64(buf[i:]))
			usec := int64(binary.LittleEndian.Uint64(buf[i+8:]))
			evType := binary.LittleEndian.Uint16(buf[i+16:])
			evCode := binary.LittleEndian.Uint16(buf[i+18:])
			evValue := int32(binary.LittleEndian.Uint32(buf[i+20:]))

			if evType != evKey {
				continue
			}
			at := time.Unix(sec, usec*1000)

			if m, ok := modifierCodes[evCode]; ok {
				switch evValue {
				case keyPress:
					held |= m
				case keyRelease:
					held &^= m
				}
				continue
			}
			if evCode != h.code {
				continue
			}

			switch evValue {
			case keyPress, keyRepeat:
				if down || held&h.binding.Mods == h.binding.Mods {
					down = true
					send(h.events, RawEvent{Pressed: true, At: at})
				}
			case keyRelease:
				if down {
					down = false
					send(h.events, RawEvent{Pressed: false, At: at})
				}
			}
		}
	}
}

func (h *linuxSource) Unregister() {
	h.once.Do(func() {
		if h.stop != nil {
			close(h.stop)
		}
		for _, f := range h.files {
			f.Close()
		}
	})
}

func (h *linuxSource) Events() <-chan RawEvent {
	return h.events
}

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}

	var keyboards []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		if isKeyboard(e.Name()) {
			keyboards = append(keyboards, filepath.Join("/dev/input", e.Name()))
		}
	}
	return keyboards, nil
}

func isKeyboard(eventName string) bool {
	capsPath := filepath.Join("/sys/class/input", eventName, "device", "capabilities", "key")
	data, err := os.ReadFile(capsPath)
	if err != nil {
		return false
	}
	caps := strings.TrimSpace(string(data))
	return len(caps) > 10
}

func Diagnose(b Binding) (string, error) {
	if _, ok := keyCodes[b.Key]; !ok {
		return "", fmt.Errorf("key %s is not supported by the evdev backend", b.Key)
	}
	keyboards, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(keyboards) == 0 {
		return "", fmt.Errorf("no keyboard devices found (is user in 'input' group?)")
	}

	var opened string
	for _, path := range keyboards {
		f, err := os.Open(path)
		if err == nil {
			f.Close()
			opened = path
			break
		}
	}
	if opened == "" {
		return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", len(keyboards))
	}

	return fmt.Sprintf("%d keyboard(s) found, opened %s, listening for %s", len(keyboards), opened, b), nil
}
