package hotkey

import (
	"context"
	"time"
)

type Edge int

const (
	Press Edge = iota + 1
	Release
)

func (e Edge) String() string {
	switch e {
	case Press:
		return "press"
	case Release:
		return "release"
	}
	return "none"
}

const DefaultDebounce = 15 * time.Millisecond

// Detector turns raw key events into strictly alternating Press/Release
// edges. Repeats are dropped, and a transition arriving within the debounce
// window of the previous edge is held back. If the key is still in that
// state when the window closes, Settle emits it, so a genuine short tap
// still produces both edges.
type Detector struct {
	debounce time.Duration
	pressed  bool
	raw      bool
	lastEdge time.Time
}

func NewDetector(debounce time.Duration) *Detector {
	if debounce < 0 {
		debounce = 0
	}
	return &Detector{debounce: debounce}
}

func (d *Detector) Pressed() bool { return d.pressed }

// Feed consumes one raw event and reports an edge if one fires.
func (d *Detector) Feed(ev RawEvent) (Edge, bool) {
	d.raw = ev.Pressed
	if ev.Pressed == d.pressed {
		return 0, false
	}
	if !d.lastEdge.IsZero() && ev.At.Sub(d.lastEdge) < d.debounce {
		return 0, false
	}
	return d.emit(ev.At), true
}

// Deadline reports when a held-back transition becomes eligible.
func (d *Detector) Deadline() (time.Time, bool) {
	if d.raw == d.pressed {
		return time.Time{}, false
	}
	return d.lastEdge.Add(d.debounce), true
}

// Settle emits a held-back transition once the debounce window has passed.
func (d *Detector) Settle(now time.Time) (Edge, bool) {
	deadline, ok := d.Deadline()
	if !ok || now.Before(deadline) {
		return 0, false
	}
	return d.emit(deadline), true
}

func (d *Detector) emit(at time.Time) Edge {
	d.pressed = !d.pressed
	d.lastEdge = at
	if d.pressed {
		return Press
	}
	return Release
}

// Listen drives d from events until ctx is done or events is closed. onEdge
// runs on the listener goroutine and must not block.
func (d *Detector) Listen(ctx context.Context, events <-chan RawEvent, onEdge func(Edge)) {
	var timer *time.Timer
	var timerC <-chan time.Time
	rearm := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if deadline, ok := d.Deadline(); ok {
			timer = time.NewTimer(max(time.Until(deadline), 0))
			timerC = timer.C
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if edge, fired := d.Feed(ev); fired {
				onEdge(edge)
			}
		case now := <-timerC:
			timer, timerC = nil, nil
			if edge, fired := d.Settle(now); fired {
				onEdge(edge)
			}
		}
		rearm()
	}
}
