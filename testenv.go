package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"hark/audio"
	"hark/clipboard"
	"hark/encoder"
	"hark/history"
	"hark/hotkey"
	"hark/log"
	"hark/session"
	"hark/settings"
	"hark/transcriber"
)

// runTestMode runs the real orchestrator and client headless, with the
// microphone replaced by a WAV file and the hotkey by stdin commands:
//
//	KEYDOWN, KEYUP     raw key events
//	WAIT               block until the current session is back to idle
//	WAIT_AUDIO_DONE    block until the WAV has been fully replayed
//	SLEEP <ms>
//	QUIT
func runTestMode(ctx context.Context, o *options, store *settings.Store) int {
	fakeCtx, err := audio.NewFakeContext(o.test, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}
	capture, err := fakeCtx.NewCapture(nil, audio.CaptureConfig{
		SampleRate: encoder.SampleRate, Channels: encoder.Channels,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating capture: %v\n", err)
		return 1
	}
	defer capture.Close()
	fakeCapture := capture.(*audio.FakeCapture)
	engine := audio.NewEngine(capture, audio.EngineConfig{SampleRate: encoder.SampleRate})

	// History only when asked for, so test runs never touch the user's.
	var hist *history.Store
	if o.historyPath != "" {
		if hist = openHistory(o, store.Path()); hist != nil {
			defer hist.Close()
		}
	}

	var count atomic.Int64
	bus := session.NewBus()
	orch := session.New(session.Options{
		Capture:     engine,
		Transcriber: transcriber.NewClient(),
		Settings:    sessionConfig(store),
		// No Injector: typing into whatever has focus would be wrong here.
		Clipboard:   clipboard.NewWriter(),
		PostProcess: postProcessor(store),
		OnSuccess: func(c session.Completed) {
			count.Add(1)
			if hist == nil {
				return
			}
			if e, err := history.FromCompleted(c, o.keepAudio); err == nil {
				if err := hist.Add(e); err != nil {
					log.Warnf("history: %v", err)
				}
			}
		},
		Bus: bus,
	})

	cfg := store.Get()
	log.SessionStart("test", cfg.APIURL)

	idle := make(chan struct{}, 16)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range events {
			if _, ok := ev.State(); ok {
				fmt.Println(strings.TrimSpace(ev.Name + " " + ev.Text + ev.Message))
			}
			if ev.Name == session.EventIdle {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Run(ctx)
	}()

	src := hotkey.NewFake()
	go hotkey.NewDetector(o.debounce).Listen(ctx, src.Events(), orch.HandleEdge)

	driveStdin(ctx, os.Stdin, src, idle, fakeCapture.AudioDone)

	cancel()
	<-done
	log.SessionEnd(int(count.Load()))
	return 0
}

func driveStdin(ctx context.Context, r io.Reader, src *hotkey.FakeSource, idle <-chan struct{}, audioDone func() <-chan struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "KEYDOWN":
			src.SimKeydown()
		case "KEYUP":
			src.SimKeyup()
		case "WAIT":
			select {
			case <-idle:
			case <-ctx.Done():
				return
			}
		case "WAIT_AUDIO_DONE":
			select {
			case <-audioDone():
			case <-ctx.Done():
				return
			}
		case "QUIT":
			return
		default:
			if ms, ok := strings.CutPrefix(cmd, "SLEEP "); ok {
				if n, err := strconv.Atoi(ms); err == nil {
					time.Sleep(time.Duration(n) * time.Millisecond)
				}
			}
		}
	}
}
