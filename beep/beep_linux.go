//go:build linux

package beep

import (
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"hark/log"
)

type pulsePlayer struct {
	once sync.Once
	cues map[Cue][]int16
	mu   sync.Mutex // one cue at a time
}

// NewPlayer returns a Player on the PulseAudio (or PipeWire-pulse) server.
func NewPlayer() Player {
	return &pulsePlayer{}
}

func (p *pulsePlayer) init() {
	p.cues = make(map[Cue][]int16, 3)
	for _, c := range []Cue{CueStart, CueEnd, CueError} {
		// 200 ms tails give the server time to fill its buffer.
		p.cues[c] = stereo(Tone(c, 0.2))
	}
}

func (p *pulsePlayer) Play(c Cue) {
	p.once.Do(p.init)
	go p.play(p.cues[c])
}

func stereo(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

func (p *pulsePlayer) play(samples []int16) {
	if len(samples) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := pulse.NewClient()
	if err != nil {
		log.Warnf("pulse playback: %v", err)
		return
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		log.Warnf("pulse playback: %v", err)
		return
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
}
