package hotkey

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func TestDetectorSuppressesAutoRepeat(t *testing.T) {
	d := NewDetector(DefaultDebounce)
	var edges []Edge
	for _, ev := range []RawEvent{
		{true, at(0)}, {true, at(30)}, {true, at(60)}, {true, at(90)}, {false, at(200)},
	} {
		if e, ok := d.Feed(ev); ok {
			edges = append(edges, e)
		}
	}
	if len(edges) != 2 || edges[0] != Press || edges[1] != Release {
		t.Errorf("edges = %v, want [press release]", edges)
	}
}

func TestDetectorDebouncesBounce(t *testing.T) {
	d := NewDetector(15 * time.Millisecond)
	if e, ok := d.Feed(RawEvent{true, at(0)}); !ok || e != Press {
		t.Fatal("expected press")
	}
	// contact bounce: up and down again within the window
	if _, ok := d.Feed(RawEvent{false, at(3)}); ok {
		t.Error("bounce release should be suppressed")
	}
	if _, ok := d.Feed(RawEvent{true, at(6)}); ok {
		t.Error("bounce press should be suppressed")
	}
	if _, ok := d.Settle(at(50)); ok {
		t.Error("nothing should settle, key is still down")
	}
	if e, ok := d.Feed(RawEvent{false, at(500)}); !ok || e != Release {
		t.Error("expected release")
	}
}

func TestDetectorSettlesShortTap(t *testing.T) {
	d := NewDetector(15 * time.Millisecond)
	d.Feed(RawEvent{true, at(0)})
	if _, ok := d.Feed(RawEvent{false, at(8)}); ok {
		t.Fatal("release inside window should be held back")
	}
	deadline, ok := d.Deadline()
	if !ok || !deadline.Equal(at(15)) {
		t.Fatalf("Deadline = %v, %v", deadline, ok)
	}
	if _, ok := d.Settle(at(10)); ok {
		t.Error("settled before deadline")
	}
	if e, ok := d.Settle(at(16)); !ok || e != Release {
		t.Errorf("Settle = %v, %v, want release", e, ok)
	}
	if d.Pressed() {
		t.Error("detector still pressed")
	}
}

func TestDetectorIgnoresLeadingRelease(t *testing.T) {
	d := NewDetector(DefaultDebounce)
	if _, ok := d.Feed(RawEvent{false, at(0)}); ok {
		t.Error("release without press should not fire")
	}
}

// Whatever the noise, the output must alternate starting with Press, and
// must end in the raw state once everything settles.
func TestDetectorAlternatesUnderNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		d := NewDetector(time.Duration(rng.Intn(30)) * time.Millisecond)
		now := t0
		want := Press
		raw := false
		check := func(e Edge, ok bool) {
			if !ok {
				return
			}
			if e != want {
				t.Fatalf("trial %d: got %v, want %v", trial, e, want)
			}
			if want == Press {
				want = Release
			} else {
				want = Press
			}
		}
		for i := 0; i < 100; i++ {
			now = now.Add(time.Duration(rng.Intn(40)) * time.Millisecond)
			raw = rng.Intn(3) != 0 || !raw // bias toward pressed, lots of repeats
			check(d.Feed(RawEvent{raw, now}))
			if rng.Intn(4) == 0 {
				check(d.Settle(now))
			}
		}
		check(d.Settle(now.Add(time.Second)))
		if d.Pressed() != raw {
			t.Fatalf("trial %d: settled pressed=%v, raw=%v", trial, d.Pressed(), raw)
		}
	}
}

func waitEdge(t *testing.T, ch <-chan Edge, want Edge) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %v", want)
	}
}

func TestListenDeliversSettledRelease(t *testing.T) {
	fk := NewFake()
	d := NewDetector(20 * time.Millisecond)
	edges := make(chan Edge, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Listen(ctx, fk.Events(), func(e Edge) { edges <- e })

	now := time.Now()
	fk.Emit(RawEvent{true, now})
	fk.Emit(RawEvent{true, now.Add(time.Millisecond)})
	fk.Emit(RawEvent{false, now.Add(2 * time.Millisecond)})

	waitEdge(t, edges, Press)
	waitEdge(t, edges, Release)

	select {
	case e := <-edges:
		t.Fatalf("unexpected edge %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenStopsOnCancel(t *testing.T) {
	fk := NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewDetector(DefaultDebounce).Listen(ctx, fk.Events(), func(Edge) {})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Listen did not return")
	}
}
