package transcriber

import (
	"context"
	"sync"
	"time"

	"hark/audio"
)

// FakeTranscriber returns a canned result after an optional delay and records
// every call.
type FakeTranscriber struct {
	text  string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls []FakeCall
}

type FakeCall struct {
	Samples  int
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{text: text, err: err}
}

// WithDelay makes each call block for d or until its context ends.
func (f *FakeTranscriber) WithDelay(d time.Duration) *FakeTranscriber {
	f.delay = d
	return f
}

func (f *FakeTranscriber) Transcribe(ctx context.Context, clip *audio.Clip, endpoint, apiKey string, timeout time.Duration) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Samples: clip.Len(), Endpoint: endpoint, APIKey: apiKey, Timeout: timeout})
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ErrCanceled
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Result{Text: f.text, Metrics: &NetworkMetrics{Total: 10 * time.Millisecond}}, nil
}

func (f *FakeTranscriber) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}
