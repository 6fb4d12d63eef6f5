package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"hark/audio"
	"hark/beep"
	"hark/clipboard"
	"hark/display"
	"hark/doctor"
	"hark/encoder"
	"hark/history"
	"hark/hotkey"
	"hark/log"
	"hark/postprocess"
	"hark/session"
	"hark/settings"
	"hark/shutdown"
	"hark/transcriber"
)

var version = "dev"

type options struct {
	hotkey       string
	endpoint     string
	apiKey       string
	settingsPath string
	device       string
	setup        bool
	timeout      time.Duration
	debounce     time.Duration
	tui          bool
	listen       string
	notify       bool
	beep         bool
	keepAudio    bool
	historyPath  string
	logPath      string
	test         string
	doctor       bool
	version      bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("hark", flag.ContinueOnError)
	fs.StringVar(&o.hotkey, "hotkey", "", "Hotkey binding, e.g. Ctrl+Shift+Space or ScrollLock (overrides settings)")
	fs.StringVar(&o.endpoint, "endpoint", "", "Transcription API base URL (overrides settings)")
	fs.StringVar(&o.apiKey, "apikey", "", "Transcription API key (overrides settings)")
	fs.StringVar(&o.settingsPath, "settings", "", "Settings file path (default: user config dir)")
	fs.StringVar(&o.device, "device", "", "Use named microphone device")
	fs.BoolVar(&o.setup, "setup", false, "Select microphone device interactively")
	fs.DurationVar(&o.timeout, "timeout", 0, "Transcription request timeout (overrides settings)")
	fs.DurationVar(&o.debounce, "debounce", hotkey.DefaultDebounce, "Hotkey debounce window")
	fs.BoolVar(&o.tui, "tui", true, "Run with terminal UI")
	fs.StringVar(&o.listen, "listen", "", "Serve the display bridge on this address (e.g. localhost:7345)")
	fs.BoolVar(&o.notify, "notify", false, "Show desktop notifications on success and error")
	fs.BoolVar(&o.beep, "beep", true, "Play audible cues on record start, stop and error")
	fs.BoolVar(&o.keepAudio, "keep-audio", false, "Store the recording (FLAC) with each history entry")
	fs.StringVar(&o.historyPath, "history", "", "History database path (default: next to settings)")
	fs.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&o.test, "test", "", "Test mode: replay this WAV file, driven by stdin")
	fs.BoolVar(&o.doctor, "doctor", false, "Run system diagnostics and exit")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

// override applies command-line values on top of file and environment
// settings.
func (o *options) override(s *settings.Settings) {
	if o.hotkey != "" {
		s.Hotkey = o.hotkey
	}
	if o.endpoint != "" {
		s.APIURL = o.endpoint
	}
	if o.apiKey != "" {
		s.APIKey = o.apiKey
	}
	if o.timeout > 0 {
		s.RequestTimeout = o.timeout
	}
}

func sessionConfig(st *settings.Store) func() session.Config {
	return func() session.Config {
		s := st.Get()
		return session.Config{Endpoint: s.APIURL, APIKey: s.APIKey, Timeout: s.Timeout()}
	}
}

func postProcessor(st *settings.Store) func(string) string {
	return func(text string) string {
		return postprocess.Apply(text, st.Get().Options)
	}
}

// initCrashLog sends runtime crash output, including panics in cgo
// callbacks, to crash_log.txt in the log directory.
func initCrashLog() {
	f, err := os.OpenFile(filepath.Join(log.Dir(), "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(f, debug.CrashOptions{})
}

func run() {
	os.Exit(runMain(os.Args[1:]))
}

func runMain(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "history":
			return runHistory(args[1:])
		case "settings":
			return runSettings(args[1:])
		}
	}

	o, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if o.version {
		fmt.Printf("hark %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(o.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if err := settings.LoadDotEnv(".env"); err != nil {
		log.Warnf("load .env: %v", err)
	}
	settingsPath := o.settingsPath
	if settingsPath == "" {
		if settingsPath, err = settings.DefaultPath(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	store, err := settings.Open(settingsPath, o.override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if o.test != "" {
		return runTestMode(ctx, o, store)
	}

	if o.doctor {
		return runDoctor(ctx, o, store)
	}

	return runDaemon(ctx, stop, o, store)
}

func openCapture(o *options) (audio.Context, *audio.Engine, error) {
	actx, err := audio.NewContext()
	if err != nil {
		return nil, nil, fmt.Errorf("initializing audio: %w", err)
	}
	var dev *audio.DeviceInfo
	if o.setup && o.device == "" {
		dev, err = audio.SelectDevice(actx, "")
		if err != nil {
			fmt.Printf("Warning: device selection failed: %v\nFalling back to default device\n", err)
			dev = nil
		}
	} else if dev, err = audio.ResolveDevice(actx, o.device); err != nil {
		actx.Close()
		return nil, nil, err
	}

	capture, err := actx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		actx.Close()
		return nil, nil, fmt.Errorf("initializing capture device: %w", err)
	}
	return actx, audio.NewEngine(capture, audio.EngineConfig{SampleRate: encoder.SampleRate}), nil
}

func openHistory(o *options, settingsPath string) *history.Store {
	path := o.historyPath
	if path == "" {
		path = filepath.Join(filepath.Dir(settingsPath), history.FileName)
	}
	h, err := history.Open(path)
	if err != nil {
		log.Warnf("history disabled: %v", err)
		return nil
	}
	return h
}

func injectMode(s settings.Settings) clipboard.Mode {
	if s.InjectMode == "paste" {
		return clipboard.ModePaste
	}
	return clipboard.ModeAuto
}

func runDaemon(ctx context.Context, stop context.CancelFunc, o *options, store *settings.Store) int {
	cfg := store.Get()
	binding, err := hotkey.ParseBinding(cfg.Hotkey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	actx, engine, err := openCapture(o)
	if err != nil {
		log.Errorf("capture init: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer actx.Close()

	src := hotkey.New(binding)
	if err := src.Register(); err != nil {
		log.Errorf("hotkey register: %v", err)
		fmt.Fprintf(os.Stderr, "Error registering hotkey %s: %v\n", binding, err)
		if hint, derr := hotkey.Diagnose(binding); derr == nil && hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		return 1
	}
	defer src.Unregister()

	injector := clipboard.NewInjector(injectMode(cfg))
	if err := injector.Init(); err != nil {
		fmt.Printf("Warning: keystroke injection unavailable: %v\n", err)
		fmt.Println("Fix with: sudo chmod 660 /dev/uinput && sudo chgrp input /dev/uinput")
	}

	hist := openHistory(o, store.Path())
	if hist != nil {
		defer hist.Close()
	}

	var count atomic.Int64
	bus := session.NewBus()
	orch := session.New(session.Options{
		Capture:     engine,
		Transcriber: transcriber.NewClient(),
		Settings:    sessionConfig(store),
		Clipboard:   clipboard.NewWriter(),
		Injector:    injector,
		PostProcess: postProcessor(store),
		OnSuccess: func(c session.Completed) {
			count.Add(1)
			if hist == nil {
				return
			}
			e, err := history.FromCompleted(c, o.keepAudio)
			if err != nil {
				log.Warnf("history: %v", err)
			}
			if err := hist.Add(e); err != nil {
				log.Warnf("history: %v", err)
			}
		},
		Bus: bus,
	})

	log.SessionStart(binding.String(), cfg.APIURL)
	log.Infof("recording_device: %s", engine.DeviceName())
	if !cfg.Configured() {
		fmt.Fprintln(os.Stderr, "Warning: API not configured; set api_url and api_key with `hark settings set`")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Run(ctx)
	}()
	go hotkey.NewDetector(o.debounce).Listen(ctx, src.Events(), orch.HandleEdge)

	if o.beep {
		go beep.Follow(ctx, bus, beep.NewPlayer())
	}
	if o.notify {
		go display.NewNotifier().Run(ctx, bus)
	}
	if o.listen != "" {
		var hs display.HistorySource
		if hist != nil {
			hs = hist
		}
		bridge := display.NewBridge(bus, orch, hs)
		go func() {
			if err := bridge.Serve(ctx, o.listen); err != nil {
				log.Errorf("display bridge: %v", err)
				fmt.Fprintf(os.Stderr, "Error: display bridge: %v\n", err)
			}
		}()
	}

	if o.tui && term.IsTerminal(int(os.Stdout.Fd())) {
		info := display.Info{
			Hotkey:   binding.String(),
			Device:   engine.DeviceName(),
			Endpoint: cfg.APIURL,
			Version:  version,
		}
		if err := display.RunTUI(ctx, bus, info); err != nil && !errors.Is(err, display.ErrQuit) {
			log.Errorf("TUI error: %v", err)
		}
		stop()
	} else {
		fmt.Printf("hark %s: hold %s to record (Ctrl+C to quit)\n", version, binding)
		<-ctx.Done()
	}

	<-done
	bus.Close()
	log.SessionEnd(int(count.Load()))
	return 0
}

func runDoctor(ctx context.Context, o *options, store *settings.Store) int {
	cfg := store.Get()
	binding, err := hotkey.ParseBinding(cfg.Hotkey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	dcfg := doctor.Config{
		Binding:  binding,
		Source:   hotkey.New(binding),
		Debounce: o.debounce,
		Client:   transcriber.NewClient(),
		Endpoint: cfg.APIURL,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.Timeout(),
	}
	actx, engine, err := openCapture(o)
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
	} else {
		defer actx.Close()
		dcfg.Recorder = engine
	}
	return doctor.Run(ctx, dcfg)
}
