package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"hark/audio"
	"hark/hotkey"
	"hark/log"
	"hark/transcriber"
)

const (
	DefaultSuccessHold = 1500 * time.Millisecond
	DefaultErrorHold   = 2 * time.Second
	DefaultTimeout     = 30 * time.Second

	eventQueueSize = 256
)

// Capture is the recording side of a session.
type Capture interface {
	Start() error
	Stop() (*audio.Clip, error)
	Abort()
	Frames() <-chan audio.Frame
	Lost() <-chan error
}

type Transcriber interface {
	Transcribe(ctx context.Context, clip *audio.Clip, endpoint, apiKey string, timeout time.Duration) (*transcriber.Result, error)
}

// ClipboardWriter and Injector are the output sinks. Both are best effort.
type ClipboardWriter interface {
	WriteClipboard(text string) error
}

type Injector interface {
	InjectKeystrokes(text string) error
}

type Options struct {
	Capture     Capture
	Transcriber Transcriber
	// Settings is read once at the start of every session.
	Settings  func() Config
	Clipboard ClipboardWriter
	Injector  Injector
	// PostProcess rewrites successful text before it reaches the sinks.
	PostProcess func(string) string
	// OnSuccess runs after the sinks, off the event loop.
	OnSuccess func(Completed)
	Bus       *Bus

	SuccessHold time.Duration
	ErrorHold   time.Duration
}

type evKind int

const (
	evPress evKind = iota + 1
	evRelease
	evResult
	evReset
)

type event struct {
	kind      evKind
	sessionID string
	clip      *audio.Clip
	result    *transcriber.Result
	err       error
}

// Orchestrator owns the session state machine. All transitions happen on
// the goroutine running Run; everything else talks to it through its queue.
type Orchestrator struct {
	opts   Options
	events chan event

	mu      sync.Mutex
	current *Session
	state   State

	cancel   context.CancelFunc // in-flight transcription
	timer    *time.Timer        // auto-reset
	sinkMu   sync.Mutex
	inflight sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	if opts.SuccessHold <= 0 {
		opts.SuccessHold = DefaultSuccessHold
	}
	if opts.ErrorHold <= 0 {
		opts.ErrorHold = DefaultErrorHold
	}
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}
	if opts.Settings == nil {
		opts.Settings = func() Config { return Config{} }
	}
	return &Orchestrator{
		opts:   opts,
		events: make(chan event, eventQueueSize),
		state:  Idle,
	}
}

func (o *Orchestrator) Bus() *Bus { return o.opts.Bus }

// PressEdge and ReleaseEdge enqueue an edge without blocking; they are safe
// to call from the hotkey listener.
func (o *Orchestrator) PressEdge()   { o.enqueueEdge(event{kind: evPress}) }
func (o *Orchestrator) ReleaseEdge() { o.enqueueEdge(event{kind: evRelease}) }

func (o *Orchestrator) HandleEdge(e hotkey.Edge) {
	switch e {
	case hotkey.Press:
		o.PressEdge()
	case hotkey.Release:
		o.ReleaseEdge()
	}
}

func (o *Orchestrator) enqueueEdge(ev event) {
	select {
	case o.events <- ev:
	default:
		log.Warn("event queue full, dropping hotkey edge")
	}
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := Snapshot{State: o.state}
	if o.current != nil {
		snap.SessionID = o.current.ID
		snap.StartedAt = o.current.StartedAt
		snap.Err = o.current.Err
	}
	return snap
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run processes events until ctx is done. On return any recording has been
// aborted and any in-flight request canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.shutdown()
	frames := o.opts.Capture.Frames()
	lost := o.opts.Capture.Lost()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-o.events:
			if ev.kind == evRelease {
				// Frames captured before the release still belong to the
				// recording even when select picked the edge first.
				o.flushFrames(frames)
			}
			o.handle(ctx, ev)
		case f := <-frames:
			o.level(f)
		case err := <-lost:
			if o.State() == Recording {
				log.Warnf("capture device lost: %v", err)
				o.opts.Capture.Abort()
				o.fail(KindDeviceUnavailable, err)
			}
		}
	}
}

func (o *Orchestrator) level(f audio.Frame) {
	if o.State() == Recording {
		o.publish(Event{Name: EventLevel, SessionID: o.current.ID, Amplitude: f.Amplitude})
	}
}

func (o *Orchestrator) flushFrames(frames <-chan audio.Frame) {
	for {
		select {
		case f := <-frames:
			o.level(f)
		default:
			return
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evPress:
		o.onPress()
	case evRelease:
		o.onRelease(ctx)
	case evResult:
		o.onResult(ev)
	case evReset:
		o.onReset(ev.sessionID)
	}
}

func (o *Orchestrator) onPress() {
	if st := o.State(); st != Idle {
		log.Infof("press ignored in state %s", st)
		return
	}

	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		State:     Idle,
		config:    o.opts.Settings(),
	}
	o.mu.Lock()
	o.current = s
	o.mu.Unlock()

	if err := o.opts.Capture.Start(); err != nil {
		log.Errorf("capture start: %v", err)
		o.fail(KindDeviceUnavailable, err)
		return
	}
	o.transition(Recording, "")
	o.publish(Event{Name: EventRecording, SessionID: s.ID})
}

func (o *Orchestrator) onRelease(ctx context.Context) {
	if st := o.State(); st != Recording {
		log.Infof("release ignored in state %s", st)
		return
	}
	s := o.current

	clip, err := o.opts.Capture.Stop()
	if err != nil {
		o.fail(KindOf(err), err)
		return
	}
	if !s.config.Configured() {
		o.fail(KindNotConfigured, nil)
		return
	}

	o.transition(Processing, "")
	o.publish(Event{Name: EventProcessing, SessionID: s.ID})

	reqCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	cfg := s.config
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		res, err := o.opts.Transcriber.Transcribe(reqCtx, clip, cfg.Endpoint, cfg.APIKey, cfg.Timeout)
		select {
		case o.events <- event{kind: evResult, sessionID: s.ID, clip: clip, result: res, err: err}:
		case <-reqCtx.Done():
		}
	}()
}

func (o *Orchestrator) onResult(ev event) {
	s := o.current
	if s == nil || s.ID != ev.sessionID || o.State() != Processing {
		return
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}

	if errors.Is(ev.err, transcriber.ErrCanceled) {
		return
	}
	if ev.err != nil {
		log.Errorf("transcription: %v", ev.err)
		o.fail(KindOf(ev.err), ev.err)
		return
	}

	text := ev.result.Text
	if o.opts.PostProcess != nil {
		text = o.opts.PostProcess(text)
	}

	o.transition(Success, "")
	o.publish(Event{Name: EventSuccess, SessionID: s.ID, Text: text})
	o.scheduleReset(s.ID, o.opts.SuccessHold)

	logMetrics(ev.clip, ev.result)
	log.TranscriptionText(text)

	done := Completed{
		SessionID: s.ID,
		StartedAt: s.StartedAt,
		RawText:   ev.result.Text,
		Text:      text,
		Clip:      ev.clip,
		Metrics:   ev.result.Metrics,
	}
	o.inflight.Add(1)
	go o.deliver(done)
}

// deliver writes to each sink exactly once. Deliveries are serialized so
// a slow paste cannot interleave with the next session's clipboard write.
func (o *Orchestrator) deliver(c Completed) {
	defer o.inflight.Done()
	o.sinkMu.Lock()
	defer o.sinkMu.Unlock()

	if o.opts.Clipboard != nil {
		if err := o.opts.Clipboard.WriteClipboard(c.Text); err != nil {
			log.Warnf("clipboard write failed: %v", err)
		}
	}
	if o.opts.Injector != nil {
		if err := o.opts.Injector.InjectKeystrokes(c.Text); err != nil {
			log.Warnf("keystroke injection failed: %v", err)
		}
	}
	if o.opts.OnSuccess != nil {
		o.opts.OnSuccess(c)
	}
}

func (o *Orchestrator) onReset(id string) {
	s := o.current
	if s == nil || s.ID != id {
		return
	}
	if st := o.State(); st != Success && st != Error {
		return
	}
	o.timer = nil
	o.transition(Idle, "")
	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()
	o.publish(Event{Name: EventIdle, SessionID: id})
}

func (o *Orchestrator) fail(kind ErrorKind, cause error) {
	s := o.current
	reason := kind.String()
	if cause != nil {
		reason += ": " + cause.Error()
	}
	o.mu.Lock()
	s.Err = kind
	o.mu.Unlock()
	o.transition(Error, reason)
	o.publish(Event{Name: EventError, SessionID: s.ID, Message: kind.Message()})
	o.scheduleReset(s.ID, o.opts.ErrorHold)
}

func (o *Orchestrator) scheduleReset(id string, after time.Duration) {
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(after, func() {
		// Dropping a reset would strand the session, so wait for room.
		o.events <- event{kind: evReset, sessionID: id}
	})
}

func (o *Orchestrator) transition(to State, reason string) {
	o.mu.Lock()
	from := o.state
	o.state = to
	s := o.current
	if s != nil {
		s.State = to
	}
	o.mu.Unlock()
	id := ""
	if s != nil {
		id = s.ID
	}
	log.StateChange(id, string(from), string(to), reason)
}

func (o *Orchestrator) publish(ev Event) {
	o.opts.Bus.Publish(ev)
}

func (o *Orchestrator) shutdown() {
	if o.timer != nil {
		o.timer.Stop()
	}
	switch o.State() {
	case Recording:
		o.opts.Capture.Abort()
	case Processing:
		if o.cancel != nil {
			o.cancel()
		}
	}
	o.inflight.Wait()
}

func logMetrics(clip *audio.Clip, res *transcriber.Result) {
	m := log.Metrics{WAVSizeKB: float64(res.WAVSize) / 1024}
	if clip != nil {
		m.AudioLengthS = clip.Duration().Seconds()
	}
	if nm := res.Metrics; nm != nil {
		m.DNSTimeMs = ms(nm.DNS)
		m.TCPTimeMs = ms(nm.TCP)
		m.TLSTimeMs = ms(nm.TLS)
		m.TTFBMs = ms(nm.TTFB)
		m.TotalTimeMs = ms(nm.Total)
		m.ConnReused = nm.ConnReused
		m.TLSProtocol = nm.TLSProtocol
	}
	log.TranscriptionMetrics(m)
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
