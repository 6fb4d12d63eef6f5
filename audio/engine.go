package audio

import (
	"fmt"
	"sync"
)

const (
	// DefaultFrameSize is 40ms at 16kHz, giving 25 level updates per second.
	DefaultFrameSize = 640
	// DefaultMinSamples is the shortest clip worth sending (100ms at 16kHz).
	DefaultMinSamples = 1600
)

// Frame is one fixed-size chunk of captured audio.
type Frame struct {
	Seq       uint64
	Samples   []int16
	Amplitude float64
}

type EngineConfig struct {
	SampleRate int
	FrameSize  int
	MinSamples int
}

// Engine owns the capture device for the lifetime of one recording. Every
// sample delivered between Start and Stop ends up in the clip; the Frames
// channel only carries the most recent frame for display.
type Engine struct {
	dev CaptureDevice
	cfg EngineConfig

	frames chan Frame
	lost   chan error

	mu      sync.Mutex
	active  bool
	lostErr error
	samples []int16
	pending []int16
	seq     uint64
}

func NewEngine(dev CaptureDevice, cfg EngineConfig) *Engine {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	return &Engine{
		dev:    dev,
		cfg:    cfg,
		frames: make(chan Frame, 1),
		lost:   make(chan error, 1),
	}
}

// Frames delivers completed frames, latest wins.
func (e *Engine) Frames() <-chan Frame { return e.frames }

// Lost fires when the device fails during an active recording.
func (e *Engine) Lost() <-chan error { return e.lost }

func (e *Engine) DeviceName() string { return e.dev.DeviceName() }

func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Start opens the device. Calling Start while a capture is active panics.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		panic("audio: Start called while capture is active")
	}
	e.active = true
	e.lostErr = nil
	e.samples = nil
	e.pending = nil
	e.seq = 0
	e.mu.Unlock()

	drain(e.frames)
	drain(e.lost)

	e.dev.SetLostCallback(e.onLost)
	e.dev.SetCallback(e.onData)
	if err := e.dev.Start(); err != nil {
		e.dev.ClearCallback()
		e.mu.Lock()
		e.active = false
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

// Stop halts capture and returns everything recorded since Start. A second
// Stop without an intervening Start returns ErrNotRecording.
func (e *Engine) Stop() (*Clip, error) {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return nil, ErrNotRecording
	}
	e.mu.Unlock()

	e.dev.Stop()
	e.dev.ClearCallback()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	samples := e.samples
	e.samples = nil
	e.pending = nil
	drain(e.frames)

	if e.lostErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, e.lostErr)
	}
	if len(samples) < e.cfg.MinSamples {
		return nil, ErrNoAudioCaptured
	}
	return NewClip(samples, e.cfg.SampleRate), nil
}

// Abort stops capture and discards the buffer. It is a no-op when idle.
func (e *Engine) Abort() {
	_, _ = e.Stop()
}

func (e *Engine) onData(data []byte, _ uint32) {
	in := Samples(data)

	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.samples = append(e.samples, in...)
	e.pending = append(e.pending, in...)
	var ready []Frame
	for len(e.pending) >= e.cfg.FrameSize {
		chunk := make([]int16, e.cfg.FrameSize)
		copy(chunk, e.pending)
		e.pending = e.pending[e.cfg.FrameSize:]
		e.seq++
		ready = append(ready, Frame{Seq: e.seq, Samples: chunk, Amplitude: Amplitude(chunk)})
	}
	e.mu.Unlock()

	for _, f := range ready {
		publishLatest(e.frames, f)
	}
}

func (e *Engine) onLost(err error) {
	if err == nil {
		err = ErrDeviceUnavailable
	}
	e.mu.Lock()
	if !e.active || e.lostErr != nil {
		e.mu.Unlock()
		return
	}
	e.lostErr = err
	e.mu.Unlock()

	select {
	case e.lost <- err:
	default:
	}
}

// publishLatest replaces any unread frame so the reader sees the newest one.
func publishLatest(ch chan Frame, f Frame) {
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
