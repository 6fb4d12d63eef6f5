//go:build !linux

package beep

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"hark/log"
)

type malgoPlayer struct {
	once   sync.Once
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	cues   map[Cue][]byte

	// Playback state, read from the device callback.
	samples atomic.Pointer[[]byte]
	pos     atomic.Uint32
	mu      sync.Mutex
}

// NewPlayer returns a Player on the default miniaudio output device.
func NewPlayer() Player {
	return &malgoPlayer{}
}

func (p *malgoPlayer) init() {
	p.cues = make(map[Cue][]byte, 3)
	for _, c := range []Cue{CueStart, CueEnd, CueError} {
		p.cues[c] = pcmBytes(Tone(c, 0.05))
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Warnf("beep: init audio context: %v", err)
		return
	}
	p.ctx = ctx
	if err := p.initDevice(); err != nil {
		log.Warnf("beep: init playback device: %v", err)
		ctx.Uninit()
		p.ctx = nil
	}
}

func (p *malgoPlayer) initDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	device, err := malgo.InitDevice(p.ctx.Context, config, malgo.DeviceCallbacks{Data: p.data})
	if err != nil {
		return err
	}
	p.device = device
	return nil
}

func (p *malgoPlayer) data(out, _ []byte, frameCount uint32) {
	clear(out)
	samples := p.samples.Load()
	if samples == nil {
		return
	}
	pos := p.pos.Load()
	remaining := uint32(len(*samples)) - pos
	if remaining == 0 {
		p.samples.Store(nil)
		return
	}
	n := min(frameCount*2, remaining)
	copy(out[:n], (*samples)[pos:pos+n])
	p.pos.Store(pos + n)
}

func (p *malgoPlayer) Play(c Cue) {
	p.once.Do(p.init)
	if p.ctx == nil {
		return
	}
	samples := p.cues[c]

	p.mu.Lock()
	defer p.mu.Unlock()

	// Stopping first gives a clean start; it is a no-op when idle.
	p.device.Stop()
	p.pos.Store(0)
	p.samples.Store(&samples)

	if err := p.device.Start(); err != nil {
		// The device goes stale across sleep/wake on macOS.
		p.device.Uninit()
		if err := p.initDevice(); err != nil {
			p.samples.Store(nil)
			return
		}
		if err := p.device.Start(); err != nil {
			p.samples.Store(nil)
		}
	}
}

func pcmBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}
