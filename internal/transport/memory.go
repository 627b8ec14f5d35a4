package transport

import (
	"sync"
	"sync/atomic"
)

// memory descriptors start high so they never look like real ones in logs
var nextMemoryFD atomic.Int64

func init() {
	nextMemoryFD.Store(1 << 20)
}

func allocFD() int {
	return int(nextMemoryFD.Add(1))
}

// pipeBuffer carries bytes in one direction
type pipeBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
}

func newPipeBuffer() *pipeBuffer {
	b := &pipeBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *pipeBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// MemoryStream is one end of an in-memory connection
type MemoryStream struct {
	fd          int
	rx          *pipeBuffer
	tx          *pipeBuffer
	nonBlocking atomic.Bool
	closed      atomic.Bool
}

var _ Stream = (*MemoryStream)(nil)

// NewPipe returns two connected in-memory streams
func NewPipe() (*MemoryStream, *MemoryStream) {
	ab := newPipeBuffer()
	ba := newPipeBuffer()
	a := &MemoryStream{fd: allocFD(), rx: ba, tx: ab}
	b := &MemoryStream{fd: allocFD(), rx: ab, tx: ba}
	return a, b
}

func (m *MemoryStream) FD() int {
	return m.fd
}

func (m *MemoryStream) SetNonBlocking(nonBlocking bool) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.nonBlocking.Store(nonBlocking)
	return nil
}

func (m *MemoryStream) Send(p []byte) Result {
	if m.closed.Load() {
		return Result{Status: StatusClosed}
	}
	m.tx.mu.Lock()
	defer m.tx.mu.Unlock()
	if m.tx.closed {
		return Result{Status: StatusClosed}
	}
	m.tx.data = append(m.tx.data, p...)
	m.tx.cond.Broadcast()
	return Result{Status: StatusOK, N: len(p)}
}

func (m *MemoryStream) Receive(p []byte) Result {
	if m.closed.Load() {
		return Result{Status: StatusClosed}
	}
	m.rx.mu.Lock()
	defer m.rx.mu.Unlock()
	for len(m.rx.data) == 0 {
		if m.rx.closed {
			return Result{Status: StatusClosed}
		}
		if m.nonBlocking.Load() {
			return Result{Status: StatusWouldBlock}
		}
		m.rx.cond.Wait()
	}
	n := copy(p, m.rx.data)
	m.rx.data = m.rx.data[n:]
	return Result{Status: StatusOK, N: n}
}

// Pending returns the number of unread bytes waiting for this end
func (m *MemoryStream) Pending() int {
	m.rx.mu.Lock()
	defer m.rx.mu.Unlock()
	return len(m.rx.data)
}

func (m *MemoryStream) Shutdown() error {
	m.rx.close()
	m.tx.close()
	return nil
}

func (m *MemoryStream) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.Shutdown()
}

// IsClosed reports whether Close has been called on this end
func (m *MemoryStream) IsClosed() bool {
	return m.closed.Load()
}

// MemoryListener hands out the server ends of in-memory pipes
type MemoryListener struct {
	fd          int
	mu          sync.Mutex
	pending     []*MemoryStream
	closed      bool
	nonBlocking bool
}

var _ Listener = (*MemoryListener)(nil)

func NewMemoryListener() *MemoryListener {
	return &MemoryListener{fd: allocFD()}
}

// Connect queues a new connection and returns its client end
func (l *MemoryListener) Connect() (*MemoryStream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	client, server := NewPipe()
	l.pending = append(l.pending, server)
	return client, nil
}

// Accept never blocks; it returns StatusWouldBlock when nothing is queued
func (l *MemoryListener) Accept() (Stream, Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, Result{Status: StatusClosed}
	}
	if len(l.pending) == 0 {
		return nil, Result{Status: StatusWouldBlock}
	}
	s := l.pending[0]
	l.pending = l.pending[1:]
	return s, Result{Status: StatusOK}
}

func (l *MemoryListener) SetNonBlocking(nonBlocking bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nonBlocking = nonBlocking
	return nil
}

func (l *MemoryListener) Addr() string {
	return "memory"
}

func (l *MemoryListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for _, s := range l.pending {
		s.Close()
	}
	l.pending = nil
	return nil
}

func (l *MemoryListener) FD() int {
	return l.fd
}
