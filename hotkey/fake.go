package hotkey

import "time"

// FakeSource is a Source driven by tests and the headless test mode.
type FakeSource struct {
	// RegisterErr, when set, is returned by Register.
	RegisterErr error

	events chan RawEvent
}

func NewFake() *FakeSource {
	return &FakeSource{events: make(chan RawEvent, eventBuffer)}
}

func (f *FakeSource) Register() error         { return f.RegisterErr }
func (f *FakeSource) Unregister()             {}
func (f *FakeSource) Events() <-chan RawEvent { return f.events }

func (f *FakeSource) Emit(ev RawEvent) { f.events <- ev }

func (f *FakeSource) SimKeydown() { f.Emit(RawEvent{Pressed: true, At: time.Now()}) }
func (f *FakeSource) SimKeyup()   { f.Emit(RawEvent{Pressed: false, At: time.Now()}) }
