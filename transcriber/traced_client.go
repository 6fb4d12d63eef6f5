package transcriber

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

type TracedClient struct {
	client *http.Client
}

func NewTracedClient() *TracedClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	// ConfigureTransport only fails if the transport was already set up.
	_ = http2.ConfigureTransport(transport)
	return &TracedClient{client: &http.Client{Transport: transport}}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	// Trace hooks fire from the transport's read and write loops.
	var mu sync.Mutex
	metrics := &NetworkMetrics{}
	var getConnStart, dnsStart, tcpStart, tlsStart time.Time
	var gotConn, wroteHeaders, wroteRequest, firstByte time.Time

	locked := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	trace := &httptrace.ClientTrace{
		GetConn: func(_ string) { locked(func() { getConnStart = time.Now() }) },
		GotConn: func(info httptrace.GotConnInfo) {
			locked(func() {
				gotConn = time.Now()
				metrics.ConnWait = gotConn.Sub(getConnStart)
				metrics.ConnReused = info.Reused
			})
		},
		DNSStart: func(_ httptrace.DNSStartInfo) { locked(func() { dnsStart = time.Now() }) },
		DNSDone:  func(_ httptrace.DNSDoneInfo) { locked(func() { metrics.DNS = time.Since(dnsStart) }) },
		ConnectStart: func(_, _ string) {
			locked(func() { tcpStart = time.Now() })
		},
		ConnectDone: func(_, _ string, _ error) {
			locked(func() { metrics.TCP = time.Since(tcpStart) })
		},
		TLSHandshakeStart: func() { locked(func() { tlsStart = time.Now() }) },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			locked(func() {
				metrics.TLS = time.Since(tlsStart)
				metrics.TLSProtocol = cs.NegotiatedProtocol
			})
		},
		WroteHeaders: func() {
			locked(func() {
				wroteHeaders = time.Now()
				metrics.ReqHeaders = wroteHeaders.Sub(gotConn)
			})
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			locked(func() {
				wroteRequest = time.Now()
				metrics.ReqBody = wroteRequest.Sub(wroteHeaders)
			})
		},
		GotFirstResponseByte: func() {
			locked(func() {
				firstByte = time.Now()
				metrics.TTFB = firstByte.Sub(wroteRequest)
			})
		},
	}

	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	reqStart := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// The write loop may still be reporting after the body is read, so the
	// caller gets a copy taken under the lock.
	mu.Lock()
	metrics.Download = time.Since(firstByte)
	metrics.Total = time.Since(reqStart)
	snapshot := *metrics
	mu.Unlock()

	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    &snapshot,
	}, nil
}

// Preflight sends an OPTIONS request without tracing and returns the status.
func (c *TracedClient) Preflight(req *http.Request) (int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}
