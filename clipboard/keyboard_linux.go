//go:build linux

package clipboard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ioctl constants from linux/uinput.h
const (
	uiSetEvbit  = 0x40045564 // UI_SET_EVBIT
	uiSetKeybit = 0x40045565 // UI_SET_KEYBIT
	uiDevCreate = 0x5501     // UI_DEV_CREATE
)

// input event types from linux/input-event-codes.h
const (
	evSyn = 0x00
	evKey = 0x01
)

const (
	busUSB     = 0x03
	deviceName = "hark-keys"

	keyLeftCtrl  = 29
	keyLeftShift = 42
	keyV         = 47
)

type inputEvent struct {
	Time  syscall.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type uinputUserDev struct {
	Name         [80]byte
	ID           inputID
	FfEffectsMax uint32
	Absmax       [64]int32
	Absmin       [64]int32
	Absfuzz      [64]int32
	Absflat      [64]int32
}

// a=30, b=48, c=46, ... in alphabetical order
var letterCodes = [26]int{
	30, 48, 46, 32, 18, 33, 34, 35, 23, 36,
	37, 38, 50, 49, 24, 25, 16, 19, 31, 20,
	22, 47, 17, 45, 21, 44,
}

// 0=11, 1=2, ..., 9=10
var digitCodes = [10]int{11, 2, 3, 4, 5, 6, 7, 8, 9, 10}

var punctCodes = map[rune]key{
	' ': {57, false}, '\n': {28, false}, '\t': {15, false},
	'.': {52, false}, ',': {51, false}, '/': {53, false},
	';': {39, false}, '\'': {40, false}, '[': {26, false},
	']': {27, false}, '-': {12, false}, '=': {13, false},
	'\\': {43, false}, '`': {41, false},
	'!': {2, true}, '@': {3, true}, '#': {4, true},
	'$': {5, true}, '%': {6, true}, '^': {7, true},
	'&': {8, true}, '*': {9, true}, '(': {10, true},
	')': {11, true}, '_': {12, true}, '+': {13, true},
	'{': {26, true}, '}': {27, true}, '|': {43, true},
	':': {39, true}, '"': {40, true}, '<': {51, true},
	'>': {52, true}, '?': {53, true}, '~': {41, true},
}

// uinputKeyboard is a virtual keyboard device. It assumes a US layout.
type uinputKeyboard struct {
	mu sync.Mutex
	f  *os.File
}

var (
	sharedKeyboard *uinputKeyboard
	keyboardOnce   sync.Once
	keyboardErr    error
)

func openKeyboard() (keyboard, error) {
	keyboardOnce.Do(func() {
		f, err := createUinput()
		if err != nil {
			keyboardErr = fmt.Errorf("%w: %v", ErrInjectUnavailable, err)
			return
		}
		sharedKeyboard = &uinputKeyboard{f: f}
		// Give the compositor time to recognize the new input device
		time.Sleep(200 * time.Millisecond)
	})
	if keyboardErr != nil {
		return nil, keyboardErr
	}
	return sharedKeyboard, nil
}

func createUinput() (*os.File, error) {
	path := "/dev/uinput"
	if _, err := os.Stat(path); err != nil {
		path = "/dev/input/uinput"
		if _, err := os.Stat(path); err != nil {
			return nil, errors.New("uinput device not found, try: sudo modprobe uinput")
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, os.ModeDevice)
	if err != nil {
		return nil, err
	}
	ioctl := func(req, arg uintptr) error {
		if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), req, arg); errno != 0 {
			return errno
		}
		return nil
	}
	fail := func(err error) (*os.File, error) {
		f.Close()
		return nil, err
	}

	if err := ioctl(uiSetEvbit, evKey); err != nil {
		return fail(err)
	}
	if err := ioctl(uiSetEvbit, evSyn); err != nil {
		return fail(err)
	}
	// Register all standard keys so udev classifies this as a keyboard
	for i := uintptr(0); i < 256; i++ {
		if err := ioctl(uiSetKeybit, i); err != nil {
			return fail(err)
		}
	}

	dev := uinputUserDev{}
	copy(dev.Name[:], deviceName)
	dev.ID = inputID{Bustype: busUSB, Vendor: 0x1234, Product: 0x5679, Version: 1}
	if err := binary.Write(f, binary.LittleEndian, &dev); err != nil {
		return fail(err)
	}
	if err := ioctl(uiDevCreate, 0); err != nil {
		return fail(err)
	}
	return f, nil
}

func (k *uinputKeyboard) lookup(r rune) (key, bool) {
	switch {
	case r >= 'a' && r <= 'z':
		return key{letterCodes[r-'a'], false}, true
	case r >= 'A' && r <= 'Z':
		return key{letterCodes[r-'A'], true}, true
	case r >= '0' && r <= '9':
		return key{digitCodes[r-'0'], false}, true
	}
	kc, ok := punctCodes[r]
	return kc, ok
}

func (k *uinputKeyboard) write(code uint16, value int32) error {
	if err := binary.Write(k.f, binary.LittleEndian, &inputEvent{Type: evKey, Code: code, Value: value}); err != nil {
		return err
	}
	return binary.Write(k.f, binary.LittleEndian, &inputEvent{Type: evSyn})
}

// chord presses mods in order, taps code, then releases mods in reverse.
func (k *uinputKeyboard) chord(code uint16, mods ...uint16) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, m := range mods {
		if err := k.write(m, 1); err != nil {
			return err
		}
		// Let the compositor register modifier state
		time.Sleep(5 * time.Millisecond)
	}
	if err := k.write(code, 1); err != nil {
		return err
	}
	if err := k.write(code, 0); err != nil {
		return err
	}
	for i := len(mods) - 1; i >= 0; i-- {
		if err := k.write(mods[i], 0); err != nil {
			return err
		}
	}
	return nil
}

func (k *uinputKeyboard) tap(kc key) error {
	if kc.shift {
		return k.chord(uint16(kc.code), keyLeftShift)
	}
	return k.chord(uint16(kc.code))
}

func (k *uinputKeyboard) paste() error {
	return k.chord(keyV, keyLeftCtrl)
}

// Verify sends a Ctrl+V through the virtual keyboard and reads it back from
// the kernel input layer to confirm delivery.
func Verify() (string, error) {
	kb, err := openKeyboard()
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir("/sys/class/input")
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	var evdevPath string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		data, err := os.ReadFile(filepath.Join("/sys/class/input", e.Name(), "device", "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == deviceName {
			evdevPath = filepath.Join("/dev/input", e.Name())
			break
		}
	}
	if evdevPath == "" {
		return "", fmt.Errorf("%s evdev device not found", deviceName)
	}

	evdev, err := os.Open(evdevPath)
	if err != nil {
		return "", fmt.Errorf("cannot open %s: %w", evdevPath, err)
	}
	defer evdev.Close()

	if err := kb.paste(); err != nil {
		return "", fmt.Errorf("paste send: %w", err)
	}

	type result struct {
		ctrl, v bool
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 24*32)
		var r result
		n, err := evdev.Read(buf)
		if err != nil {
			r.err = err
			ch <- r
			return
		}
		for i := 0; i+24 <= n; i += 24 {
			if binary.LittleEndian.Uint16(buf[i+16:]) != evKey {
				continue
			}
			switch binary.LittleEndian.Uint16(buf[i+18:]) {
			case keyLeftCtrl:
				r.ctrl = true
			case keyV:
				r.v = true
			}
		}
		ch <- r
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("reading events: %w", r.err)
		}
		if !r.ctrl || !r.v {
			return "", fmt.Errorf("missing events (ctrl=%v, v=%v)", r.ctrl, r.v)
		}
		return fmt.Sprintf("Ctrl+V keystroke verified via %s", evdevPath), nil
	case <-time.After(500 * time.Millisecond):
		return "", errors.New("timed out waiting for keystroke events")
	}
}
