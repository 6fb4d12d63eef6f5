// Package doctor runs interactive checks of every piece a session touches:
// the hotkey hook, the microphone, the endpoint and the output sinks.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"hark/audio"
	"hark/clipboard"
	"hark/hotkey"
	"hark/transcriber"
)

const (
	DefaultRecordFor  = time.Second
	DefaultHotkeyWait = 10 * time.Second

	quietPeak = 0.02
)

// Recorder is the capture side; *audio.Engine satisfies it.
type Recorder interface {
	Start() error
	Stop() (*audio.Clip, error)
}

type Endpoint interface {
	Preflight(ctx context.Context, endpoint string) (int, error)
	Transcribe(ctx context.Context, clip *audio.Clip, endpoint, apiKey string, timeout time.Duration) (*transcriber.Result, error)
}

type Config struct {
	Binding  hotkey.Binding
	Source   hotkey.Source
	Debounce time.Duration
	Recorder Recorder
	Client   Endpoint
	Endpoint string
	APIKey   string
	Timeout  time.Duration

	RecordFor  time.Duration
	HotkeyWait time.Duration

	// ClipboardRoundTrip writes s and reads the clipboard back.
	ClipboardRoundTrip func(s string) (string, error)
	// Keystrokes prepares the keystroke sink and describes it.
	Keystrokes func() (string, error)

	Out io.Writer
}

type doctor struct {
	Config
	step, steps int
	clip        *audio.Clip
}

// Run executes the checks and returns an exit code (0 all pass, 1 any fail).
func Run(ctx context.Context, cfg Config) int {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.RecordFor <= 0 {
		cfg.RecordFor = DefaultRecordFor
	}
	if cfg.HotkeyWait <= 0 {
		cfg.HotkeyWait = DefaultHotkeyWait
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = hotkey.DefaultDebounce
	}
	if cfg.ClipboardRoundTrip == nil {
		cfg.ClipboardRoundTrip = clipboardRoundTrip
	}
	if cfg.Keystrokes == nil {
		cfg.Keystrokes = clipboard.Verify
	}

	resetTerminal()
	d := &doctor{Config: cfg, steps: 6}
	d.printf("hark doctor - interactive system diagnostics\n")
	d.printf("============================================\n")

	checks := []func(context.Context) bool{
		d.checkHotkey,
		d.checkMicrophone,
		d.checkPreflight,
		d.checkTranscription,
		d.checkClipboard,
		d.checkKeystrokes,
	}
	allPass := true
	for _, check := range checks {
		if ctx.Err() != nil {
			d.printf("\nInterrupted\n")
			return 1
		}
		if !check(ctx) {
			allPass = false
		}
	}

	d.printf("\n")
	if allPass {
		d.printf("All checks passed!\n")
		return 0
	}
	d.printf("Some checks failed. See details above.\n")
	return 1
}

func (d *doctor) printf(format string, args ...any) {
	fmt.Fprintf(d.Out, format, args...)
}

func (d *doctor) header(name string) {
	d.step++
	d.printf("\n[%d/%d] %s\n", d.step, d.steps, name)
}

func (d *doctor) pass(format string, args ...any) bool {
	d.printf("  PASS: "+format+"\n", args...)
	return true
}

func (d *doctor) fail(format string, args ...any) bool {
	d.printf("  FAIL: "+format+"\n", args...)
	return false
}

func (d *doctor) checkHotkey(ctx context.Context) bool {
	d.header("Hotkey detection")
	if d.Source == nil {
		return d.fail("no hotkey source")
	}
	if err := d.Source.Register(); err != nil {
		return d.fail("could not register %s: %v", d.Binding, err)
	}
	defer d.Source.Unregister()
	d.printf("Press and release %s...\n", d.Binding)

	waitCtx, cancel := context.WithTimeout(ctx, d.HotkeyWait)
	defer cancel()
	edges := make(chan hotkey.Edge, 4)
	go hotkey.NewDetector(d.Debounce).Listen(waitCtx, d.Source.Events(), func(e hotkey.Edge) {
		select {
		case edges <- e:
		default:
		}
	})

	pressed := false
	for {
		select {
		case e := <-edges:
			if e == hotkey.Press {
				pressed = true
				continue
			}
			if pressed {
				// The hook may leave the terminal in raw mode.
				resetTerminal()
				return d.pass("press and release detected")
			}
		case <-waitCtx.Done():
			if pressed {
				return d.fail("press detected but no release")
			}
			return d.fail("timeout waiting for hotkey")
		}
	}
}

func (d *doctor) checkMicrophone(ctx context.Context) bool {
	d.header("Microphone")
	if d.Recorder == nil {
		return d.fail("no capture device")
	}
	d.printf("Speak for %s...\n", d.RecordFor)
	if err := d.Recorder.Start(); err != nil {
		return d.fail("%v", err)
	}
	select {
	case <-time.After(d.RecordFor):
	case <-ctx.Done():
	}
	clip, err := d.Recorder.Stop()
	if err != nil {
		return d.fail("%v", err)
	}
	d.clip = clip

	peak := PeakAmplitude(clip.Samples(), audio.DefaultFrameSize)
	d.printf("  Captured %.1fs, peak level %.2f\n", clip.Duration().Seconds(), peak)
	if peak < quietPeak {
		d.printf("  Warning: input is nearly silent. Check the selected device and its gain.\n")
	}
	return d.pass("microphone delivers audio")
}

// PeakAmplitude is the loudest frame of samples on the display scale.
func PeakAmplitude(samples []int16, frameSize int) float64 {
	if frameSize <= 0 {
		frameSize = len(samples)
	}
	var peak float64
	for start := 0; start < len(samples); start += frameSize {
		end := min(start+frameSize, len(samples))
		peak = max(peak, audio.Amplitude(samples[start:end]))
	}
	return peak
}

func (d *doctor) configured() bool {
	return d.Endpoint != "" && d.APIKey != ""
}

func (d *doctor) checkPreflight(ctx context.Context) bool {
	d.header("Endpoint reachability")
	if !d.configured() {
		return d.fail("API not configured (set api_url and api_key, or HARK_API_URL and HARK_API_KEY)")
	}
	status, err := d.Client.Preflight(ctx, d.Endpoint)
	if err != nil {
		return d.fail("OPTIONS %s: %v", transcriber.URL(d.Endpoint), err)
	}
	if status >= http.StatusBadRequest {
		return d.fail("OPTIONS %s returned %d", transcriber.URL(d.Endpoint), status)
	}
	return d.pass("OPTIONS %s returned %d", transcriber.URL(d.Endpoint), status)
}

func (d *doctor) checkTranscription(ctx context.Context) bool {
	d.header("Transcription")
	if !d.configured() {
		return d.fail("API not configured")
	}
	if d.clip == nil {
		return d.fail("no recording to send (microphone check failed)")
	}
	d.printf("  Sending %.1fs of audio...\n", d.clip.Duration().Seconds())
	res, err := d.Client.Transcribe(ctx, d.clip, d.Endpoint, d.APIKey, d.Timeout)
	if err != nil {
		return d.fail("%v", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		text = "(no speech detected)"
	}
	d.printf("  Transcribed text: %s\n", text)
	if m := res.Metrics; m != nil {
		d.printf("  Round trip %s (ttfb %s)\n", m.Total.Round(time.Millisecond), m.TTFB.Round(time.Millisecond))
	}
	return d.pass("endpoint accepted the key and returned text")
}

func (d *doctor) checkClipboard(ctx context.Context) bool {
	d.header("Clipboard")
	want := fmt.Sprintf("hark-doctor-%d", time.Now().UnixNano())

	type result struct {
		got string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		got, err := d.ClipboardRoundTrip(want)
		ch <- result{got, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return d.fail("%v", res.err)
		}
		if res.got != want {
			return d.fail("clipboard mismatch: wrote %q, got %q", want, res.got)
		}
		return d.pass("clipboard write/read verified")
	case <-time.After(3 * time.Second):
		return d.fail("clipboard timed out (clipboard tool hung, compositor not accessible?)")
	case <-ctx.Done():
		return d.fail("interrupted")
	}
}

func (d *doctor) checkKeystrokes(_ context.Context) bool {
	d.header("Keystroke output")
	msg, err := d.Keystrokes()
	if err != nil {
		d.fail("%v", err)
		if strings.Contains(err.Error(), "uinput") {
			d.printf("  Fix with: sudo chmod 660 /dev/uinput && sudo chgrp input /dev/uinput\n")
		}
		return false
	}
	return d.pass("%s", msg)
}

func clipboardRoundTrip(s string) (string, error) {
	if err := clipboard.NewWriter().WriteClipboard(s); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	got, err := clipboard.Read()
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return got, nil
}
