package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hark/history"
	"hark/settings"
)

var stdout io.Writer = os.Stdout

func subcommandFlags(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet("hark "+name, flag.ContinueOnError)
	settingsPath := fs.String("settings", "", "Settings file path (default: user config dir)")
	historyPath := fs.String("history", "", "History database path (default: next to settings)")
	return fs, settingsPath, historyPath
}

func resolveSettingsPath(p string) (string, error) {
	if p != "" {
		return p, nil
	}
	return settings.DefaultPath()
}

// runHistory implements `hark history [n]` and `hark history clear`.
func runHistory(args []string) int {
	fs, settingsFlag, historyFlag := subcommandFlags("history")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	settingsPath, err := resolveSettingsPath(*settingsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	path := *historyFlag
	if path == "" {
		path = filepath.Join(filepath.Dir(settingsPath), history.FileName)
	}
	h, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer h.Close()

	rest := fs.Args()
	if len(rest) > 0 && rest[0] == "clear" {
		if err := h.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "History cleared.")
		return 0
	}

	n := 10
	if len(rest) > 0 {
		if n, err = strconv.Atoi(rest[0]); err != nil || n < 0 {
			fmt.Fprintf(os.Stderr, "Usage: hark history [n | clear]\n")
			return 2
		}
	}
	entries, err := h.Recent(n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printHistory(stdout, entries)
	return 0
}

func printHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No transcriptions yet.")
		return
	}
	for _, e := range entries {
		audioTag := ""
		if e.HasAudio {
			audioTag = " [audio]"
		}
		fmt.Fprintf(w, "%s  %4.1fs%s  %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.AudioSeconds, audioTag, e.ProcessedText)
		if e.RawText != e.ProcessedText {
			fmt.Fprintf(w, "%23s raw: %s\n", "", e.RawText)
		}
	}
}

// runSettings implements `hark settings` and `hark settings set <field> <value>`.
func runSettings(args []string) int {
	fs, settingsFlag, _ := subcommandFlags("settings")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path, err := resolveSettingsPath(*settingsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := settings.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: .env: %v\n", err)
	}
	store, err := settings.Open(path, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}

	rest := fs.Args()
	switch {
	case len(rest) == 0:
		return printSettings(stdout, store)
	case rest[0] == "set" && len(rest) == 3:
		var setErr error
		err := store.Update(func(s *settings.Settings) {
			setErr = s.Set(rest[1], rest[2])
		})
		if setErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", setErr)
			return 1
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "%s updated.\n", rest[1])
		return 0
	}
	fmt.Fprintln(os.Stderr, "Usage: hark settings [set <field> <value>]")
	return 2
}

func printSettings(w io.Writer, store *settings.Store) int {
	s := store.Get()
	s.APIKey = settings.MaskKey(s.APIKey)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(w, "# %s\n%s\n", store.Path(), strings.TrimSpace(string(data)))
	return 0
}
