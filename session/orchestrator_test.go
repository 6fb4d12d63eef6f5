package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"hark/audio"
	"hark/transcriber"
)

type recordingSink struct {
	err error

	mu    sync.Mutex
	texts []string
}

func (s *recordingSink) WriteClipboard(text string) error   { return s.record(text) }
func (s *recordingSink) InjectKeystrokes(text string) error { return s.record(text) }

func (s *recordingSink) record(text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSink) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type harness struct {
	o      *Orchestrator
	dev    *audio.FakeCapture
	engine *audio.Engine
	tr     *transcriber.FakeTranscriber
	clip   *recordingSink
	inject *recordingSink
	events <-chan Event
	done   chan Completed
	stop   func()
}

var testConfig = Config{Endpoint: "http://stt.test", APIKey: "secret", Timeout: time.Second}

func newHarness(t *testing.T, tr *transcriber.FakeTranscriber, cfg Config) *harness {
	t.Helper()
	h := &harness{
		dev:    audio.NewFakeCapture(),
		tr:     tr,
		clip:   &recordingSink{},
		inject: &recordingSink{},
		done:   make(chan Completed, 4),
	}
	h.engine = audio.NewEngine(h.dev, audio.EngineConfig{SampleRate: 16000})
	h.o = New(Options{
		Capture:     h.engine,
		Transcriber: tr,
		Settings:    func() Config { return cfg },
		Clipboard:   h.clip,
		Injector:    h.inject,
		OnSuccess:   func(c Completed) { h.done <- c },
		SuccessHold: 30 * time.Millisecond,
		ErrorHold:   30 * time.Millisecond,
	})
	events, unsubscribe := h.o.Bus().Subscribe()
	h.events = events

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		h.o.Run(ctx)
		close(exited)
	}()
	h.stop = func() {
		cancel()
		<-exited
		unsubscribe()
	}
	t.Cleanup(h.stop)
	return h
}

// next returns the next state event, skipping audio levels.
func (h *harness) next(t *testing.T) Event {
	t.Helper()
	for {
		select {
		case ev := <-h.events:
			if ev.Name == EventLevel {
				continue
			}
			return ev
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func (h *harness) expect(t *testing.T, names ...string) []Event {
	t.Helper()
	var got []Event
	for _, want := range names {
		ev := h.next(t)
		if ev.Name != want {
			t.Fatalf("got %s, want %s", ev.Name, want)
		}
		got = append(got, ev)
	}
	return got
}

func tone(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = 4000
		} else {
			s[i] = -4000
		}
	}
	return s
}

func TestSuccessfulSession(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("hello", nil), testConfig)

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.dev.Push(tone(16000))
	h.o.ReleaseEdge()

	evs := h.expect(t, EventProcessing, EventSuccess, EventIdle)
	if evs[1].Text != "hello" {
		t.Errorf("success text = %q", evs[1].Text)
	}

	select {
	case c := <-h.done:
		if c.Text != "hello" || c.Clip.Len() != 16000 {
			t.Errorf("completed = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("OnSuccess not called")
	}
	if got := h.clip.Texts(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("clipboard = %q", got)
	}
	if got := h.inject.Texts(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("injected = %q", got)
	}

	calls := h.tr.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Samples != 16000 || calls[0].APIKey != "secret" || calls[0].Endpoint != testConfig.Endpoint {
		t.Errorf("call = %+v", calls[0])
	}
	if h.o.State() != Idle {
		t.Errorf("state = %s", h.o.State())
	}
}

func TestLevelsOnlyWhileRecording(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("x", nil).WithDelay(50*time.Millisecond), testConfig)

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.dev.Push(tone(3200))

	var sawLevel bool
	deadline := time.After(time.Second)
	for !sawLevel {
		select {
		case ev := <-h.events:
			if ev.Name == EventLevel {
				sawLevel = true
				if ev.Amplitude <= 0 || ev.Amplitude > 1 {
					t.Errorf("amplitude out of range: %v", ev.Amplitude)
				}
			}
		case <-deadline:
			t.Fatal("no audio-level while recording")
		}
	}

	h.o.ReleaseEdge()
	waitFor(t, h.events, EventProcessing)
	for {
		select {
		case ev := <-h.events:
			if ev.Name == EventLevel {
				t.Fatal("audio-level after recording ended")
			}
			if ev.Name == EventIdle {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
}

func TestLevelBeforeReleaseIsPublished(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, transcriber.NewFake("x", nil), testConfig)
		h.o.PressEdge()
		h.expect(t, EventRecording)
		h.dev.Push(tone(audio.DefaultFrameSize * 3))
		h.o.ReleaseEdge()

		var sawLevel bool
		for done := false; !done; {
			select {
			case ev := <-h.events:
				switch ev.Name {
				case EventLevel:
					sawLevel = true
				case EventProcessing:
					done = true
				}
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for processing")
			}
		}
		if !sawLevel {
			t.Fatalf("run %d: level captured before release was dropped", i)
		}
		h.stop()
	}
}

func TestShortPressNoAudio(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("hello", nil), testConfig)

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.dev.Push(tone(160)) // 10ms
	h.o.ReleaseEdge()

	evs := h.expect(t, EventError, EventIdle)
	if evs[0].Message != "No audio captured" {
		t.Errorf("message = %q", evs[0].Message)
	}
	if n := len(h.tr.Calls()); n != 0 {
		t.Errorf("expected no transcription, got %d", n)
	}
	if len(h.clip.Texts()) != 0 {
		t.Error("clipboard written on failure")
	}
}

func TestUnauthorized(t *testing.T) {
	err := &transcriber.Error{Kind: transcriber.KindUnauthorized, Status: http.StatusUnauthorized}
	h := newHarness(t, transcriber.NewFake("", err), testConfig)

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.dev.Push(tone(16000))
	h.o.ReleaseEdge()

	evs := h.expect(t, EventProcessing, EventError, EventIdle)
	if evs[1].Message != "Unauthorized" {
		t.Errorf("message = %q", evs[1].Message)
	}
	if len(h.clip.Texts()) != 0 || len(h.inject.Texts()) != 0 {
		t.Error("sinks called on failure")
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&transcriber.Error{Kind: transcriber.KindService, Status: 500}, "Service error"},
		{&transcriber.Error{Kind: transcriber.KindNetwork}, "Network error"},
		{&transcriber.Error{Kind: transcriber.KindTimeout}, "Request timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			h := newHarness(t, transcriber.NewFake("", tt.err), testConfig)
			h.o.PressEdge()
			h.expect(t, EventRecording)
			h.dev.Push(tone(16000))
			h.o.ReleaseEdge()
			evs := h.expect(t, EventProcessing, EventError)
			if evs[1].Message != tt.want {
				t.Errorf("message = %q, want %q", evs[1].Message, tt.want)
			}
		})
	}
}

func TestDeviceLostWhileRecording(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("hello", nil), testConfig)

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.dev.Push(tone(3200))
	h.dev.Disconnect()

	evs := h.expect(t, EventError)
	if evs[0].Message != "Device unavailable" {
		t.Errorf("message = %q", evs[0].Message)
	}
	if h.engine.Active() {
		t.Error("capture still active after device loss")
	}
	if _, stops := h.dev.Counts(); stops != 1 {
		t.Errorf("device stopped %d times", stops)
	}

	// Release after the failure is ignored.
	h.o.ReleaseEdge()
	h.expect(t, EventIdle)
	if n := len(h.tr.Calls()); n != 0 {
		t.Errorf("expected no transcription, got %d", n)
	}
}

func TestStartFailure(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("hello", nil), testConfig)
	h.dev.StartErr = errors.New("busy")

	h.o.PressEdge()
	evs := h.expect(t, EventError, EventIdle)
	if evs[0].Message != "Device unavailable" {
		t.Errorf("message = %q", evs[0].Message)
	}

	// The next press works.
	h.o.PressEdge()
	h.expect(t, EventRecording)
}

func TestPressIgnoredWhenNotIdle(t *testing.T) {
	tr := transcriber.NewFake("hello", nil).WithDelay(100 * time.Millisecond)
	h := newHarness(t, tr, testConfig)

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.o.PressEdge() // auto-repeat that slipped through
	h.dev.Push(tone(16000))
	h.o.ReleaseEdge()
	h.expect(t, EventProcessing)

	h.o.PressEdge()
	h.o.ReleaseEdge()
	h.expect(t, EventSuccess)
	h.o.PressEdge()
	h.expect(t, EventIdle)

	if starts, _ := h.dev.Counts(); starts != 1 {
		t.Errorf("capture started %d times", starts)
	}
	if n := len(h.tr.Calls()); n != 1 {
		t.Errorf("expected 1 transcription, got %d", n)
	}
}

func TestReleaseWhileIdleIgnored(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("hello", nil), testConfig)
	h.o.ReleaseEdge()
	h.o.PressEdge()
	h.expect(t, EventRecording)
}

func TestSinkFailureStillSuccess(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("hello", nil), testConfig)
	h.clip.err = errors.New("no clipboard")

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.dev.Push(tone(16000))
	h.o.ReleaseEdge()
	h.expect(t, EventProcessing, EventSuccess, EventIdle)

	<-h.done
	if got := h.inject.Texts(); len(got) != 1 {
		t.Errorf("injector calls = %d, want 1", len(got))
	}
	if got := h.clip.Texts(); len(got) != 1 {
		t.Errorf("clipboard calls = %d, want 1", len(got))
	}
}

func TestEmptyTextIsSuccess(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("", nil), testConfig)

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.dev.Push(tone(16000))
	h.o.ReleaseEdge()
	evs := h.expect(t, EventProcessing, EventSuccess)
	if evs[1].Text != "" {
		t.Errorf("text = %q", evs[1].Text)
	}
	<-h.done
	if got := h.clip.Texts(); len(got) != 1 || got[0] != "" {
		t.Errorf("clipboard = %q", got)
	}
}

func TestNotConfigured(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("hello", nil), Config{Endpoint: "http://stt.test"})

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.dev.Push(tone(16000))
	h.o.ReleaseEdge()

	evs := h.expect(t, EventError)
	if evs[0].Message != "API not configured" {
		t.Errorf("message = %q", evs[0].Message)
	}
	if n := len(h.tr.Calls()); n != 0 {
		t.Errorf("expected no transcription, got %d", n)
	}
}

func TestPostProcessAppliedBeforeSinks(t *testing.T) {
	dev := audio.NewFakeCapture()
	sink := &recordingSink{}
	done := make(chan Completed, 1)
	o := New(Options{
		Capture:     audio.NewEngine(dev, audio.EngineConfig{SampleRate: 16000}),
		Transcriber: transcriber.NewFake("um hello", nil),
		Settings:    func() Config { return testConfig },
		Clipboard:   sink,
		PostProcess: func(string) string { return "Hello." },
		OnSuccess:   func(c Completed) { done <- c },
		SuccessHold: 10 * time.Millisecond,
	})
	events, unsubscribe := o.Bus().Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.PressEdge()
	waitFor(t, events, EventRecording)
	dev.Push(tone(16000))
	o.ReleaseEdge()
	ev := waitFor(t, events, EventSuccess)
	if ev.Text != "Hello." {
		t.Errorf("success text = %q", ev.Text)
	}
	c := <-done
	if c.RawText != "um hello" || c.Text != "Hello." {
		t.Errorf("completed = %+v", c)
	}
	if got := sink.Texts(); len(got) != 1 || got[0] != "Hello." {
		t.Errorf("clipboard = %q", got)
	}
}

func TestShutdownCancelsInflight(t *testing.T) {
	tr := transcriber.NewFake("hello", nil).WithDelay(10 * time.Second)
	h := newHarness(t, tr, testConfig)

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.dev.Push(tone(16000))
	h.o.ReleaseEdge()
	h.expect(t, EventProcessing)

	stopped := make(chan struct{})
	go func() {
		h.stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not cancel the in-flight request")
	}
	if len(h.clip.Texts()) != 0 {
		t.Error("sinks called after cancel")
	}
}

func TestShutdownAbortsRecording(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("hello", nil), testConfig)

	h.o.PressEdge()
	h.expect(t, EventRecording)
	h.stop()

	if h.engine.Active() || h.dev.Running() {
		t.Error("capture left running after shutdown")
	}
}

func TestStaleResultIgnored(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("hello", nil), testConfig)
	h.o.events <- event{kind: evResult, sessionID: "old", result: &transcriber.Result{Text: "late"}}
	h.o.events <- event{kind: evReset, sessionID: "old"}

	h.o.PressEdge()
	h.expect(t, EventRecording)
	if len(h.clip.Texts()) != 0 {
		t.Error("stale result reached the clipboard")
	}
}

func TestConsecutiveSessions(t *testing.T) {
	h := newHarness(t, transcriber.NewFake("again", nil), testConfig)
	for i := 0; i < 3; i++ {
		h.o.PressEdge()
		h.expect(t, EventRecording)
		h.dev.Push(tone(8000))
		h.o.ReleaseEdge()
		h.expect(t, EventProcessing, EventSuccess, EventIdle)
	}
	if n := len(h.tr.Calls()); n != 3 {
		t.Errorf("calls = %d", n)
	}
}

func waitFor(t *testing.T, ch <-chan Event, name string) Event {
	t.Helper()
	for {
		select {
		case ev := <-ch:
			if ev.Name == name {
				return ev
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", name)
		}
	}
}
