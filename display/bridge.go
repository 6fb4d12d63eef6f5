package display

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"hark/history"
	"hark/log"
	"hark/session"
)

// Message is the wire form of a bus event on the bridge.
type Message struct {
	Event     string   `json:"event"`
	SessionID string   `json:"session_id,omitempty"`
	Text      *string  `json:"text,omitempty"`
	Message   string   `json:"message,omitempty"`
	Amplitude *float64 `json:"amplitude,omitempty"`
}

// NewMessage converts ev. Success always carries text and levels always
// carry an amplitude, even when zero.
func NewMessage(ev session.Event) Message {
	m := Message{Event: ev.Name, SessionID: ev.SessionID, Message: ev.Message}
	switch ev.Name {
	case session.EventSuccess:
		text := ev.Text
		m.Text = &text
	case session.EventLevel:
		amp := ev.Amplitude
		m.Amplitude = &amp
	}
	return m
}

type StatusSource interface {
	Snapshot() session.Snapshot
}

type HistorySource interface {
	Recent(n int) ([]history.Entry, error)
}

type statusResponse struct {
	State     string     `json:"state"`
	SessionID string     `json:"session_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type historyEntry struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	RawText       string    `json:"raw_text"`
	ProcessedText string    `json:"processed_text"`
	AudioSeconds  float64   `json:"audio_seconds"`
	HasAudio      bool      `json:"has_audio"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: sameOrigin,
}

// sameOrigin admits clients that send no Origin (non-browser) and pages
// served from the bridge's own host. Any other page could read dictated text.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

const writeWait = 2 * time.Second

// Bridge exposes the bus to out-of-process display surfaces over HTTP.
type Bridge struct {
	bus     *session.Bus
	status  StatusSource
	history HistorySource
	router  *mux.Router
}

// NewBridge builds the router. history may be nil.
func NewBridge(bus *session.Bus, status StatusSource, hist HistorySource) *Bridge {
	b := &Bridge{bus: bus, status: status, history: hist}
	r := mux.NewRouter()
	r.HandleFunc("/events", b.handleEvents).Methods("GET")
	r.HandleFunc("/status", b.handleStatus).Methods("GET")
	r.HandleFunc("/history", b.handleHistory).Methods("GET")
	b.router = r
	return b
}

func (b *Bridge) Handler() http.Handler { return b.router }

// Serve listens on addr until ctx is done.
func (b *Bridge) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           b.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Infof("display bridge listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (b *Bridge) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := b.bus.Subscribe()
	defer unsubscribe()

	// The read side only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(NewMessage(ev)); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := b.status.Snapshot()
	resp := statusResponse{State: string(snap.State), SessionID: snap.SessionID}
	if !snap.StartedAt.IsZero() {
		resp.StartedAt = &snap.StartedAt
	}
	if snap.State == session.Error && snap.Err != 0 {
		resp.Error = snap.Err.Message()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Bridge) handleHistory(w http.ResponseWriter, r *http.Request) {
	if b.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be a non-negative integer"})
			return
		}
		n = parsed
	}
	entries, err := b.history.Recent(n)
	if err != nil {
		log.Warnf("history query failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			ID:            e.ID,
			CreatedAt:     e.CreatedAt,
			RawText:       e.RawText,
			ProcessedText: e.ProcessedText,
			AudioSeconds:  e.AudioSeconds,
			HasAudio:      e.HasAudio,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
