package audio

import (
	"errors"
	"strings"
)

var (
	// ErrDeviceUnavailable is returned when the input device cannot be opened
	// or disappears while recording.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrNoAudioCaptured is returned by Stop when the recording is too short.
	ErrNoAudioCaptured = errors.New("no audio captured")
	// ErrNotRecording is returned by Stop when no capture is active.
	ErrNotRecording = errors.New("capture not active")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives interleaved little-endian int16 PCM.
type DataCallback func(data []byte, frameCount uint32)

// LostCallback is invoked at most once per Start when the device stops
// delivering audio on its own.
type LostCallback func(err error)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	SetLostCallback(cb LostCallback)
	DeviceName() string
}
