package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const WAVHeaderSize = 44

// Clip is a finalized mono 16-bit recording. It is immutable once built.
type Clip struct {
	SampleRate int
	samples    []int16
}

func NewClip(samples []int16, sampleRate int) *Clip {
	return &Clip{SampleRate: sampleRate, samples: samples}
}

func (c *Clip) Samples() []int16 { return c.samples }

func (c *Clip) Len() int { return len(c.samples) }

func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.samples)) * time.Second / time.Duration(c.SampleRate)
}

// WAV returns the clip as a RIFF/WAVE PCM file.
func (c *Clip) WAV() ([]byte, error) {
	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, c.SampleRate, 16, 1, 1)

	data := make([]int, len(c.samples))
	for i, s := range c.samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: c.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav close: %w", err)
	}
	return ws.buf, nil
}

// Base64 is the clip's WAV bytes in standard base64, the endpoint's wire form.
func (c *Clip) Base64() (string, error) {
	b, err := c.WAV()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeWAV reads a 16-bit WAV file. Multi-channel input is mixed down to mono.
func DecodeWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav decode: %w", err)
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", dec.BitDepth)
	}
	channels := max(int(dec.NumChans), 1)
	samples := make([]int16, len(buf.Data)/channels)
	for i := range samples {
		var sum int
		for ch := 0; ch < channels; ch++ {
			sum += buf.Data[i*channels+ch]
		}
		samples[i] = int16(sum / channels)
	}
	return NewClip(samples, int(dec.SampleRate)), nil
}

// memWriteSeeker lets the wav encoder patch its header in memory.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.buf) {
		m.buf = append(m.buf, make([]byte, need-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(abs)
	return abs, nil
}
