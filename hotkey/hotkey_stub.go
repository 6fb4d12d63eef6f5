//go:build !linux && !darwin && !windows

package hotkey

import "fmt"

type stubSource struct {
	events chan RawEvent
}

func New(Binding) Source {
	return &stubSource{events: make(chan RawEvent)}
}

func (s *stubSource) Register() error {
	return fmt.Errorf("%w: no global hotkey backend for this platform", ErrHookUnavailable)
}

func (s *stubSource) Unregister() {}

func (s *stubSource) Events() <-chan RawEvent { return s.events }

func Diagnose(Binding) (string, error) {
	return "", fmt.Errorf("no global hotkey backend for this platform")
}
