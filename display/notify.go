package display

import (
	"context"

	"github.com/gen2brain/beeep"

	"hark/log"
	"hark/session"
)

const notifyTitle = "hark"

// Notifier raises a desktop notification when a session succeeds or fails.
type Notifier struct {
	send func(title, message string) error
}

func NewNotifier() *Notifier {
	beeep.AppName = notifyTitle
	return &Notifier{send: func(title, message string) error {
		return beeep.Notify(title, message, "")
	}}
}

// notification returns the body for ev, or false when ev is not shown.
func notification(ev session.Event) (string, bool) {
	switch ev.Name {
	case session.EventSuccess:
		if ev.Text == "" {
			return "Transcribed (no speech)", true
		}
		return ev.Text, true
	case session.EventError:
		return "Error: " + ev.Message, true
	}
	return "", false
}

// Run forwards bus events until ctx is done or the bus closes.
func (n *Notifier) Run(ctx context.Context, bus *session.Bus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			body, show := notification(ev)
			if !show {
				continue
			}
			if err := n.send(notifyTitle, body); err != nil {
				log.Warnf("notification failed: %v", err)
			}
		}
	}
}
