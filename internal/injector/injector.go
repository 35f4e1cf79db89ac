// Package injector sends a rewritten frame back out the interface it
// was captured on, tolerating the transient send-buffer-full condition
// a broadcast storm can produce under load.
package injector

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Sender is the raw capability an Injector needs: a socket bound to
// one interface that can transmit a raw Ethernet frame. *capture.Capture
// satisfies this.
type Sender interface {
	Write(buf []byte) error
}

// Injector wraps a Sender, classifying EAGAIN/ENOBUFS as a silent,
// non-fatal drop per spec.md's error taxonomy ("recoverable runtime").
type Injector struct {
	sender Sender
	dryRun bool
}

// New wraps sender. When dryRun is true, Send never touches sender —
// the Pipeline still runs parsing and rate-limiting, it just never
// transmits.
func New(sender Sender, dryRun bool) *Injector {
	return &Injector{sender: sender, dryRun: dryRun}
}

// Send transmits frame. A transient buffer-full condition is reported
// as (false, nil): not an error, just "didn't send this one". Any
// other error is fatal and returned.
func (i *Injector) Send(frame []byte) (sent bool, err error) {
	if i.dryRun {
		return false, nil
	}
	if err := i.sender.Write(frame); err != nil {
		if isTransient(err) {
			return false, nil
		}
		return false, fmt.Errorf("inject frame: %w", err)
	}
	return true, nil
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.ENOBUFS)
}
