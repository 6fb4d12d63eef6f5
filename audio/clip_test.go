package audio

import (
	"bytes"
	"encoding/base64"
	"math/rand"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

func TestClipWAVRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	samples := make([]int16, 16000+123)
	for i := range samples {
		samples[i] = int16(rng.Intn(65536) - 32768)
	}
	samples[0], samples[1] = -32768, 32767

	data, err := NewClip(samples, 16000).WAV()
	if err != nil {
		t.Fatalf("WAV: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}
	if len(data) != WAVHeaderSize+len(samples)*2 {
		t.Errorf("len = %d, want %d", len(data), WAVHeaderSize+len(samples)*2)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Fatalf("format = %d Hz %d ch %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], s)
		}
	}
}

func TestDecodeWAVMatchesClip(t *testing.T) {
	samples := []int16{0, 100, -100, 2000, -2000, 32767, -32768}
	data, err := NewClip(samples, 16000).WAV()
	if err != nil {
		t.Fatal(err)
	}
	clip, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if clip.SampleRate != 16000 || clip.Len() != len(samples) {
		t.Fatalf("got %d Hz, %d samples", clip.SampleRate, clip.Len())
	}
	for i, s := range samples {
		if clip.Samples()[i] != s {
			t.Errorf("sample %d = %d, want %d", i, clip.Samples()[i], s)
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV([]byte("definitely not a wav file at all")); err == nil {
		t.Error("expected error")
	}
}

func TestClipBase64(t *testing.T) {
	clip := NewClip([]int16{1, 2, 3}, 16000)
	s, err := clip.Base64()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("not standard base64: %v", err)
	}
	wavBytes, _ := clip.WAV()
	if !bytes.Equal(raw, wavBytes) {
		t.Error("base64 payload does not match WAV bytes")
	}
}

func TestClipDuration(t *testing.T) {
	if got := NewClip(make([]int16, 8000), 16000).Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", got)
	}
}
