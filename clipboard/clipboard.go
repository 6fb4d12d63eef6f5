package clipboard

import (
	"errors"
	"time"

	cb "github.com/atotto/clipboard"
)

// ErrInjectUnavailable is returned when no virtual keyboard can be opened.
var ErrInjectUnavailable = errors.New("keystroke injection unavailable")

// Writer is the clipboard output sink.
type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

func (*Writer) WriteClipboard(text string) error {
	return cb.WriteAll(text)
}

func Read() (string, error) {
	return cb.ReadAll()
}

type Mode int

const (
	// ModeAuto types the text when every character has a key, else pastes.
	ModeAuto Mode = iota
	// ModePaste always sends the paste chord.
	ModePaste
)

// DefaultPasteDelay gives the clipboard owner time to publish the new
// selection before the paste chord arrives.
const DefaultPasteDelay = 50 * time.Millisecond

type key struct {
	code  int
	shift bool
}

type keyboard interface {
	lookup(r rune) (key, bool)
	tap(k key) error
	paste() error
}

// Injector is the keystroke output sink. Paste relies on the clipboard
// sink having already written the same text.
type Injector struct {
	Mode       Mode
	PasteDelay time.Duration

	open func() (keyboard, error)
}

func NewInjector(mode Mode) *Injector {
	return &Injector{Mode: mode, PasteDelay: DefaultPasteDelay, open: openKeyboard}
}

// Init opens the virtual keyboard ahead of the first session; some
// compositors need a moment to pick up a new input device.
func (in *Injector) Init() error {
	_, err := in.open()
	return err
}

func (in *Injector) InjectKeystrokes(text string) error {
	if text == "" {
		return nil
	}
	kb, err := in.open()
	if err != nil {
		return err
	}
	keys, ok := plan(text, kb.lookup)
	if !ok || in.Mode == ModePaste {
		time.Sleep(in.PasteDelay)
		return kb.paste()
	}
	for _, k := range keys {
		if err := kb.tap(k); err != nil {
			return err
		}
	}
	return nil
}

// plan maps text to key taps. It reports false if any rune has no key.
func plan(text string, lookup func(rune) (key, bool)) ([]key, bool) {
	keys := make([]key, 0, len(text))
	for _, r := range text {
		k, ok := lookup(r)
		if !ok {
			return nil, false
		}
		keys = append(keys, k)
	}
	return keys, true
}
