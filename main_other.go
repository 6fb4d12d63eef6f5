//go:build !linux

package main

import (
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// The hotkey hook on macOS must be installed from the main thread.
func main() {
	mainthread.Init(run)
}
