package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const fakeChunkSize = 1024

// FakeContext serves captures that replay a WAV file, followed by silence.
type FakeContext struct {
	pcm        []int16
	sampleRate int
	realtime   bool
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	clip, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wavPath, err)
	}
	return &FakeContext{pcm: clip.Samples(), sampleRate: clip.SampleRate, realtime: realtime}, nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	fc := NewFakeCapture()
	fc.script = f.pcm
	fc.interval = time.Duration(fakeChunkSize) * time.Second / time.Duration(f.sampleRate)
	if !f.realtime {
		fc.interval = time.Millisecond
	}
	return fc, nil
}

// FakeCapture is a CaptureDevice driven by tests. Samples arrive either
// through Push or from a replay script started by Start.
type FakeCapture struct {
	// StartErr, when set, makes the next Start fail.
	StartErr error

	script   []int16
	interval time.Duration

	mu        sync.Mutex
	cb        DataCallback
	lostCb    LostCallback
	running   bool
	starts    int
	stops     int
	stopCh    chan struct{}
	feedDone  chan struct{}
	audioDone chan struct{}
}

func NewFakeCapture() *FakeCapture {
	return &FakeCapture{audioDone: make(chan struct{})}
}

// AudioDone is closed once the replay script has been fully delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioDone
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) SetLostCallback(cb LostCallback) {
	f.mu.Lock()
	f.lostCb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		err := f.StartErr
		f.StartErr = nil
		return err
	}
	f.running = true
	f.starts++
	if f.script != nil {
		f.stopCh = make(chan struct{})
		f.feedDone = make(chan struct{})
		go f.replay(f.stopCh, f.feedDone, f.audioDone)
	}
	return nil
}

func (f *FakeCapture) replay(stop, done, audioDone chan struct{}) {
	defer close(done)
	pos := 0
	finished := false
	silence := make([]int16, fakeChunkSize)
	for {
		select {
		case <-stop:
			return
		case <-time.After(f.interval):
		}
		if pos < len(f.script) {
			end := min(pos+fakeChunkSize, len(f.script))
			f.Push(f.script[pos:end])
			pos = end
			continue
		}
		if !finished {
			finished = true
			close(audioDone)
		}
		f.Push(silence)
	}
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	f.running = false
	f.stops++
	stop, done := f.stopCh, f.feedDone
	f.stopCh, f.feedDone = nil, nil
	f.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
		f.mu.Lock()
		select {
		case <-f.audioDone:
			f.audioDone = make(chan struct{}) // reset for replay
		default:
		}
		f.mu.Unlock()
	}
}

func (f *FakeCapture) Close() {}

// Push delivers samples as one device callback. It is dropped when the
// capture is not running.
func (f *FakeCapture) Push(samples []int16) {
	f.mu.Lock()
	cb, running := f.cb, f.running
	f.mu.Unlock()
	if !running || cb == nil {
		return
	}
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	cb(data, uint32(len(samples)))
}

// Disconnect simulates the device vanishing mid-recording.
func (f *FakeCapture) Disconnect() {
	f.mu.Lock()
	cb := f.lostCb
	f.running = false
	f.mu.Unlock()
	if cb != nil {
		cb(errors.New("fake device disconnected"))
	}
}

func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Counts reports how many times Start succeeded and Stop was called.
func (f *FakeCapture) Counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}
