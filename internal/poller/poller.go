// Package poller wraps the OS readiness notification facility so a single
// goroutine can wait on many descriptors at once.
package poller

import (
	"errors"
	"strings"
	"time"
)

var ErrClosed = errors.New("poller: closed")

// Flags describes interest on registration and readiness on events
type Flags uint32

const (
	Readable Flags = 1 << iota
	Error
	Hangup
	EdgeTriggered
)

func (f Flags) String() string {
	var parts []string
	if f&Readable != 0 {
		parts = append(parts, "readable")
	}
	if f&Error != 0 {
		parts = append(parts, "error")
	}
	if f&Hangup != 0 {
		parts = append(parts, "hangup")
	}
	if f&EdgeTriggered != 0 {
		parts = append(parts, "edge")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event reports readiness of one descriptor
type Event struct {
	FD    int
	Flags Flags
}

func (e Event) Readable() bool { return e.Flags&Readable != 0 }

// Failed reports an error or hangup condition
func (e Event) Failed() bool { return e.Flags&(Error|Hangup) != 0 }

// Poller is a readiness multiplexer
type Poller interface {
	Add(fd int, interest Flags) error
	Modify(fd int, interest Flags) error
	Remove(fd int) error
	// Wait blocks until at least one descriptor is ready or timeout elapses.
	// A negative timeout blocks indefinitely.
	Wait(timeout time.Duration) ([]Event, error)
	Close() error
}
