package transcriber

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"hark/audio"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

type Kind int

const (
	KindUnauthorized Kind = iota + 1
	KindService
	KindNetwork
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindService:
		return "service_error"
	case KindNetwork:
		return "network_error"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

// Error is a failed transcription. Status is the HTTP status, or 0 when no
// response arrived.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// ErrCanceled is returned when the caller's context ends before a response.
// It carries no outcome and must not be reported as a failure.
var ErrCanceled = errors.New("transcription canceled")

type Result struct {
	Text    string
	Metrics *NetworkMetrics
	WAVSize int
}

type request struct {
	Audio string `json:"audio"`
}

type response struct {
	Success bool    `json:"success"`
	Text    *string `json:"text"`
	Error   string  `json:"error"`
}

// Client performs one POST {endpoint}/transcribe exchange per call. It never
// retries.
type Client struct {
	traced *TracedClient
}

func NewClient() *Client {
	return &Client{traced: NewTracedClient()}
}

func URL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + "/transcribe"
}

func (c *Client) Transcribe(ctx context.Context, clip *audio.Clip, endpoint, apiKey string, timeout time.Duration) (*Result, error) {
	wav, err := clip.WAV()
	if err != nil {
		return nil, &Error{Kind: KindService, Message: "encoding audio", Err: err}
	}
	body, err := json.Marshal(request{Audio: base64.StdEncoding.EncodeToString(wav)})
	if err != nil {
		return nil, &Error{Kind: KindService, Message: "encoding request", Err: err}
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, URL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "building request", Err: err}
	}
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.traced.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, reqCtx, err)
	}

	result, err := parseResponse(resp)
	if err != nil {
		return nil, err
	}
	result.WAVSize = len(wav)
	return result, nil
}

// Preflight sends the CORS OPTIONS request a browser would send before
// Transcribe and returns the status code.
func (c *Client) Preflight(ctx context.Context, endpoint string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, URL(endpoint), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Origin", "null")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type, x-api-key")
	status, err := c.traced.Preflight(req)
	if err != nil {
		return 0, classifyTransportError(ctx, ctx, err)
	}
	return status, nil
}

func classifyTransportError(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return ErrCanceled
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

func parseResponse(resp *TracedResponse) (*Result, error) {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &Error{Kind: KindUnauthorized, Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var r response
	jsonErr := json.Unmarshal(resp.Body, &r)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(resp.Body)
		return nil, &Error{Kind: KindService, Status: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil {
		return nil, &Error{Kind: KindService, Status: resp.StatusCode, Message: "malformed response", Err: jsonErr}
	}
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &Error{Kind: KindService, Status: resp.StatusCode, Message: msg}
	}
	if r.Text == nil {
		return nil, &Error{Kind: KindService, Status: resp.StatusCode, Message: "no text in response"}
	}
	return &Result{Text: *r.Text, Metrics: resp.Metrics}, nil
}

// errorMessage extracts the "error" field of a failure body, falling back to
// a truncated raw body.
func errorMessage(body []byte) string {
	var r response
	if err := json.Unmarshal(body, &r); err == nil && r.Error != "" {
		return r.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
