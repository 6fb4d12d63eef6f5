package transcriber

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hark/audio"
)

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
		Download:   25 * time.Millisecond,
	}
	got := m.Sum()
	want := 195 * time.Millisecond
	if got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
}

func testClip() *audio.Clip {
	samples := make([]int16, 3200)
	for i := range samples {
		samples[i] = int16(i)
	}
	return audio.NewClip(samples, 16000)
}

func TestURL(t *testing.T) {
	for _, tt := range []struct{ in, want string }{
		{"https://api.example.com", "https://api.example.com/transcribe"},
		{"https://api.example.com/", "https://api.example.com/transcribe"},
		{"http://localhost:8080/v1", "http://localhost:8080/v1/transcribe"},
	} {
		if got := URL(tt.in); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTranscribeWireFormat(t *testing.T) {
	clip := testClip()
	wantWAV, err := clip.WAV()
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transcribe" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "secret" {
			t.Errorf("X-API-Key = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("body not JSON: %v", err)
		}
		if len(req) != 1 {
			t.Errorf("body has fields %v, want only audio", req)
		}
		raw, err := base64.StdEncoding.DecodeString(req["audio"])
		if err != nil {
			t.Errorf("audio not base64: %v", err)
		}
		if string(raw) != string(wantWAV) {
			t.Error("audio payload is not the clip's WAV")
		}
		w.Write([]byte(`{"success":true,"text":"hello"}`))
	}))
	defer srv.Close()

	res, err := NewClient().Transcribe(context.Background(), clip, srv.URL, "secret", 5*time.Second)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Metrics == nil || res.Metrics.Total <= 0 {
		t.Error("missing network metrics")
	}
	if res.WAVSize != len(wantWAV) {
		t.Errorf("WAVSize = %d, want %d", res.WAVSize, len(wantWAV))
	}
}

func TestTranscribeOutcomes(t *testing.T) {
	for _, tt := range []struct {
		name     string
		status   int
		body     string
		wantText string
		wantKind Kind
	}{
		{"success", 200, `{"success":true,"text":"hello world"}`, "hello world", 0},
		{"empty text is success", 200, `{"success":true,"text":""}`, "", 0},
		{"unauthorized", 401, `{"success":false,"error":"Invalid API key"}`, "", KindUnauthorized},
		{"forbidden", 403, `nope`, "", KindUnauthorized},
		{"bad request", 400, `{"success":false,"error":"No audio"}`, "", KindService},
		{"not found", 404, `{"success":false,"error":"Not found"}`, "", KindService},
		{"server error", 500, `{"success":false,"error":"boom"}`, "", KindService},
		{"html error page", 502, `<html>bad gateway</html>`, "", KindService},
		{"malformed json", 200, `{"success":tru`, "", KindService},
		{"success false on 200", 200, `{"success":false,"error":"quota"}`, "", KindService},
		{"missing text", 200, `{"success":true}`, "", KindService},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res, err := NewClient().Transcribe(context.Background(), testClip(), srv.URL, "k", 5*time.Second)
			if tt.wantKind == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if res.Text != tt.wantText {
					t.Errorf("Text = %q, want %q", res.Text, tt.wantText)
				}
				return
			}
			if got := KindOf(err); got != tt.wantKind {
				t.Errorf("kind = %v (%v), want %v", got, err, tt.wantKind)
			}
			var te *Error
			if errors.As(err, &te) && te.Status != tt.status {
				t.Errorf("Status = %d, want %d", te.Status, tt.status)
			}
		})
	}
}

func TestTranscribeErrorMessageFromBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte(`{"success":false,"error":"model overloaded"}`))
	}))
	defer srv.Close()

	_, err := NewClient().Transcribe(context.Background(), testClip(), srv.URL, "k", time.Second)
	var te *Error
	if !errors.As(err, &te) || te.Message != "model overloaded" {
		t.Errorf("err = %v", err)
	}
}

func TestTranscribeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewClient().Transcribe(context.Background(), testClip(), srv.URL, "k", 50*time.Millisecond)
	if KindOf(err) != KindTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not enforced")
	}
}

func TestTranscribeNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listening any more

	_, err := NewClient().Transcribe(context.Background(), testClip(), url, "k", time.Second)
	if KindOf(err) != KindNetwork {
		t.Errorf("err = %v, want network error", err)
	}
}

func TestTranscribeCanceled(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := NewClient().Transcribe(ctx, testClip(), srv.URL, "k", 5*time.Second)
	if !errors.Is(err, ErrCanceled) {
		t.Errorf("err = %v, want ErrCanceled", err)
	}
	if KindOf(err) != 0 {
		t.Error("cancellation must not carry a failure kind")
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want exactly 1 (no retries)", hits.Load())
	}
}

func TestTranscribeNoRetryOnFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(500)
	}))
	defer srv.Close()

	NewClient().Transcribe(context.Background(), testClip(), srv.URL, "k", time.Second)
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestFakeTranscriberHonoursCancel(t *testing.T) {
	f := NewFake("hi", nil).WithDelay(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Transcribe(ctx, testClip(), "e", "k", 0); !errors.Is(err, ErrCanceled) {
		t.Errorf("err = %v", err)
	}
	if n := len(f.Calls()); n != 1 {
		t.Errorf("calls = %d", n)
	}
}

func TestPreflight(t *testing.T) {
	var method, path, reqMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		reqMethod = r.Header.Get("Access-Control-Request-Method")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	status, err := NewClient().Preflight(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusNoContent {
		t.Errorf("status = %d", status)
	}
	if method != http.MethodOptions || path != "/transcribe" || reqMethod != http.MethodPost {
		t.Errorf("got %s %s (request method %q)", method, path, reqMethod)
	}
}

func TestPreflightNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient().Preflight(context.Background(), url)
	if KindOf(err) != KindNetwork {
		t.Errorf("kind = %v, err = %v", KindOf(err), err)
	}
}
