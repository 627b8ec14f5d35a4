//go:build linux

package poller

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultMaxEvents is the size of the event array handed to epoll_wait
const DefaultMaxEvents = 1024

// Epoll is a Poller backed by epoll(7)
type Epoll struct {
	fd     int
	events []unix.EpollEvent
	closed bool
}

var _ Poller = (*Epoll)(nil)

// NewEpoll creates an epoll instance returning at most maxEvents per Wait
func NewEpoll(maxEvents int) (*Epoll, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Epoll{
		fd:     fd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func toEpoll(f Flags) uint32 {
	var ev uint32
	if f&Readable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if f&Error != 0 {
		ev |= unix.EPOLLERR
	}
	if f&Hangup != 0 {
		ev |= unix.EPOLLHUP
	}
	if f&EdgeTriggered != 0 {
		ev |= unix.EPOLLET
	}
	return ev
}

func fromEpoll(ev uint32) Flags {
	var f Flags
	// RDHUP still leaves buffered data to read, so it maps to readable
	if ev&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		f |= Readable
	}
	if ev&unix.EPOLLERR != 0 {
		f |= Error
	}
	if ev&unix.EPOLLHUP != 0 {
		f |= Hangup
	}
	return f
}

func (p *Epoll) ctl(op int, fd int, interest Flags) error {
	if p.closed {
		return ErrClosed
	}
	ev := &unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if op == unix.EPOLL_CTL_DEL {
		ev = nil
	}
	return unix.EpollCtl(p.fd, op, fd, ev)
}

func (p *Epoll) Add(fd int, interest Flags) error {
	if err := p.ctl(unix.EPOLL_CTL_ADD, fd, interest); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", fd, err)
	}
	return nil
}

func (p *Epoll) Modify(fd int, interest Flags) error {
	if err := p.ctl(unix.EPOLL_CTL_MOD, fd, interest); err != nil {
		return fmt.Errorf("epoll modify fd %d: %w", fd, err)
	}
	return nil
}

func (p *Epoll) Remove(fd int) error {
	if err := p.ctl(unix.EPOLL_CTL_DEL, fd, 0); err != nil {
		return fmt.Errorf("epoll remove fd %d: %w", fd, err)
	}
	return nil
}

func (p *Epoll) Wait(timeout time.Duration) ([]Event, error) {
	if p.closed {
		return nil, ErrClosed
	}
	n, err := unix.EpollWait(p.fd, p.events, waitMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Event{
			FD:    int(p.events[i].Fd),
			Flags: fromEpoll(p.events[i].Events),
		})
	}
	return out, nil
}

// waitMillis converts a Wait timeout to epoll_wait milliseconds. Positive
// timeouts round up so they never turn into a busy poll.
func waitMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}

func (p *Epoll) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.fd)
}
