package session

import (
	"errors"
	"time"

	"hark/audio"
	"hark/transcriber"
)

type State string

const (
	Idle       State = "idle"
	Recording  State = "recording"
	Processing State = "processing"
	Success    State = "success"
	Error      State = "error"
)

// ErrorKind is the per-session failure taxonomy shown to the user.
type ErrorKind int

const (
	KindDeviceUnavailable ErrorKind = iota + 1
	KindNoAudioCaptured
	KindUnauthorized
	KindServiceError
	KindNetworkError
	KindTimeout
	KindNotConfigured
)

func (k ErrorKind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindNoAudioCaptured:
		return "no_audio_captured"
	case KindUnauthorized:
		return "unauthorized"
	case KindServiceError:
		return "service_error"
	case KindNetworkError:
		return "network_error"
	case KindTimeout:
		return "timeout"
	case KindNotConfigured:
		return "not_configured"
	}
	return "unknown"
}

// Message is the short text shown in the error state.
func (k ErrorKind) Message() string {
	switch k {
	case KindDeviceUnavailable:
		return "Device unavailable"
	case KindNoAudioCaptured:
		return "No audio captured"
	case KindUnauthorized:
		return "Unauthorized"
	case KindServiceError:
		return "Service error"
	case KindNetworkError:
		return "Network error"
	case KindTimeout:
		return "Request timed out"
	case KindNotConfigured:
		return "API not configured"
	}
	return "Unknown error"
}

// KindOf maps capture and transcription errors onto the taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, audio.ErrNoAudioCaptured), errors.Is(err, audio.ErrNotRecording):
		return KindNoAudioCaptured
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return KindDeviceUnavailable
	}
	switch transcriber.KindOf(err) {
	case transcriber.KindUnauthorized:
		return KindUnauthorized
	case transcriber.KindTimeout:
		return KindTimeout
	case transcriber.KindNetwork:
		return KindNetworkError
	}
	return KindServiceError
}

// Session is the single in-flight push-to-talk interaction.
type Session struct {
	ID        string
	StartedAt time.Time
	State     State
	Err       ErrorKind
	config    Config
}

// Config is the snapshot of user settings a session runs with.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

func (c Config) Configured() bool {
	return c.Endpoint != "" && c.APIKey != ""
}

// Completed describes a successful session for history and logging.
type Completed struct {
	SessionID string
	StartedAt time.Time
	RawText   string
	Text      string
	Clip      *audio.Clip
	Metrics   *transcriber.NetworkMetrics
}

// Snapshot is a read-only view of the orchestrator for status surfaces.
type Snapshot struct {
	State     State
	SessionID string
	StartedAt time.Time
	Err       ErrorKind
}
