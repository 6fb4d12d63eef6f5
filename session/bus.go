package session

import (
	"sync"
	"time"
)

// Display event names.
const (
	EventIdle       = "show-idle"
	EventRecording  = "show-recording"
	EventProcessing = "show-processing"
	EventSuccess    = "show-success"
	EventError      = "show-error"
	EventLevel      = "audio-level"
)

type Event struct {
	Name      string
	SessionID string
	Text      string  // show-success
	Message   string  // show-error
	Amplitude float64 // audio-level
	At        time.Time
}

func (e Event) State() (State, bool) {
	switch e.Name {
	case EventIdle:
		return Idle, true
	case EventRecording:
		return Recording, true
	case EventProcessing:
		return Processing, true
	case EventSuccess:
		return Success, true
	case EventError:
		return Error, true
	}
	return "", false
}

// Bus fans display events out to any number of subscribers. Publish never
// blocks. Each subscriber gets every state event in order; consecutive
// audio-level events collapse to the latest one if the subscriber lags.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

type subscriber struct {
	out    chan Event
	signal chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	queue []Event
	level *Event

	stopOnce sync.Once
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		out:    make(chan Event),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()

	return s.out, func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		s.stop()
	}
}

// Subscribers reports how many subscriptions are live.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.push(ev)
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*subscriber]struct{})
	b.closed = true
	b.mu.Unlock()
	for s := range subs {
		s.stop()
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if ev.Name == EventLevel {
		s.level = &ev
	} else {
		if s.level != nil {
			s.queue = append(s.queue, *s.level)
			s.level = nil
		}
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		return ev, true
	}
	if s.level != nil {
		ev := *s.level
		s.level = nil
		return ev, true
	}
	return Event{}, false
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		ev, ok := s.next()
		if !ok {
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
