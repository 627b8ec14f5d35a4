package poller

import (
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Poller for tests. Events are injected with Push and
// handed out by Wait.
type Fake struct {
	mu         sync.Mutex
	registered map[int]Flags
	queue      []Event
	notify     chan struct{}
	closed     bool

	// FailOps makes the named operation ("add", "modify", "remove") fail
	FailOps map[string]bool
}

var _ Poller = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		registered: make(map[int]Flags),
		notify:     make(chan struct{}, 1),
		FailOps:    make(map[string]bool),
	}
}

func (f *Fake) Add(fd int, interest Flags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailOps["add"] {
		return fmt.Errorf("fake add fd %d: refused", fd)
	}
	if _, ok := f.registered[fd]; ok {
		return fmt.Errorf("fake add fd %d: already registered", fd)
	}
	f.registered[fd] = interest
	return nil
}

func (f *Fake) Modify(fd int, interest Flags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailOps["modify"] {
		return fmt.Errorf("fake modify fd %d: refused", fd)
	}
	if _, ok := f.registered[fd]; !ok {
		return fmt.Errorf("fake modify fd %d: not registered", fd)
	}
	f.registered[fd] = interest
	return nil
}

func (f *Fake) Remove(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailOps["remove"] {
		return fmt.Errorf("fake remove fd %d: refused", fd)
	}
	if _, ok := f.registered[fd]; !ok {
		return fmt.Errorf("fake remove fd %d: not registered", fd)
	}
	delete(f.registered, fd)
	return nil
}

// Registered returns the interest for fd and whether it is registered
func (f *Fake) Registered(fd int) (Flags, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	flags, ok := f.registered[fd]
	return flags, ok
}

// Push queues events for the next Wait
func (f *Fake) Push(events ...Event) {
	f.mu.Lock()
	f.queue = append(f.queue, events...)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *Fake) Wait(timeout time.Duration) ([]Event, error) {
	var expire <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return nil, ErrClosed
		}
		if len(f.queue) > 0 {
			out := f.queue
			f.queue = nil
			f.mu.Unlock()
			return out, nil
		}
		f.mu.Unlock()

		select {
		case <-f.notify:
		case <-expire:
			return nil, nil
		}
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}
