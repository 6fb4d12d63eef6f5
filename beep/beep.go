// Package beep plays short audible cues as a session moves through its
// states.
package beep

import (
	"context"
	"math"

	"hark/session"
)

type Cue int

const (
	CueStart Cue = iota + 1
	CueEnd
	CueError
)

const (
	sampleRate = 44100

	// Start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error: low pitch double beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

// Player renders a cue. Play must not block the caller for the length of
// the sound.
type Player interface {
	Play(Cue)
}

// CueFor maps a bus event to the cue it triggers.
func CueFor(ev session.Event) (Cue, bool) {
	switch ev.Name {
	case session.EventRecording:
		return CueStart, true
	case session.EventProcessing:
		return CueEnd, true
	case session.EventError:
		return CueError, true
	}
	return 0, false
}

// Follow plays cues for bus events until ctx is done or the bus closes.
func Follow(ctx context.Context, bus *session.Bus, p Player) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if c, ok := CueFor(ev); ok {
				p.Play(c)
			}
		}
	}
}

// Tone returns mono 16-bit samples for c. tail pads ticks so short sounds
// survive output buffering on servers with large fragments.
func Tone(c Cue, tail float64) []int16 {
	switch c {
	case CueStart:
		return tick(startFreq, tail, startVolume, startDecay)
	case CueEnd:
		return tick(endFreq, tail, endVolume, endDecay)
	case CueError:
		return doubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay)
	}
	return nil
}

func tick(freq, duration, volume, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	b := tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	out := make([]int16, 0, len(b)*2+len(gap))
	out = append(out, b...)
	out = append(out, gap...)
	out = append(out, b...)
	return out
}

type nopPlayer struct{}

func (nopPlayer) Play(Cue) {}

// Nop is a Player that stays silent.
var Nop Player = nopPlayer{}
