//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// sendWait bounds how long Send on a blocking socket waits for buffer space
// once part of a frame is out.
const sendWait = time.Second

// Socket is a raw POSIX TCP socket
type Socket struct {
	fd          int
	nonBlocking bool
	closed      bool
}

var (
	_ Stream   = (*Socket)(nil)
	_ Listener = (*Socket)(nil)
)

func newSocket() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	return &Socket{fd: fd}, nil
}

// Listen binds host:port and starts listening. An empty host binds every
// interface; port 0 picks an ephemeral port.
func Listen(host string, port, backlog int) (*Socket, error) {
	if err := validatePort(port); err != nil {
		return nil, err
	}
	addr, err := sockaddr(host, port)
	if err != nil {
		return nil, err
	}

	s, err := newSocket()
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		s.Close()
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(s.fd, addr); err != nil {
		s.Close()
		return nil, fmt.Errorf("bind %s: %w", net.JoinHostPort(host, strconv.Itoa(port)), err)
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		s.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}
	return s, nil
}

// Dial opens a blocking connection to host:port
func Dial(host string, port int) (*Socket, error) {
	if err := validatePort(port); err != nil {
		return nil, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	addr, err := sockaddr(host, port)
	if err != nil {
		return nil, err
	}

	s, err := newSocket()
	if err != nil {
		return nil, err
	}
	for {
		err = unix.Connect(s.fd, addr)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect %s: %w", net.JoinHostPort(host, strconv.Itoa(port)), err)
	}
	return s, nil
}

func sockaddr(host string, port int) (*unix.SockaddrInet4, error) {
	addr := &unix.SockaddrInet4{Port: port}
	if host == "" {
		return addr, nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHost, host, err)
		}
		for _, candidate := range ips {
			if candidate.To4() != nil {
				ip = candidate
				break
			}
		}
	}
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%w: %s has no IPv4 address", ErrInvalidHost, host)
	}
	copy(addr.Addr[:], ip.To4())
	return addr, nil
}

func (s *Socket) FD() int {
	return s.fd
}

func (s *Socket) SetNonBlocking(nonBlocking bool) error {
	if s.closed {
		return ErrClosed
	}
	if err := unix.SetNonblock(s.fd, nonBlocking); err != nil {
		return fmt.Errorf("set nonblock fd %d: %w", s.fd, err)
	}
	s.nonBlocking = nonBlocking
	return nil
}

// Addr returns the local address the socket is bound to
func (s *Socket) Addr() string {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return ""
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return net.JoinHostPort(net.IP(in4.Addr[:]).String(), strconv.Itoa(in4.Port))
	}
	return ""
}

// Port returns the bound local port, or 0 if unknown
func (s *Socket) Port() int {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return 0
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return in4.Port
	}
	return 0
}

func (s *Socket) Accept() (Stream, Result) {
	if s.closed {
		return nil, Result{Status: StatusClosed}
	}
	for {
		nfd, _, err := unix.Accept4(s.fd, unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return &Socket{fd: nfd}, Result{Status: StatusOK}
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil, Result{Status: StatusWouldBlock}
		default:
			return nil, Result{Status: StatusError, Err: fmt.Errorf("accept fd %d: %w", s.fd, err)}
		}
	}
}

func (s *Socket) Send(p []byte) Result {
	if s.closed {
		return Result{Status: StatusClosed}
	}

	sent := 0
	for sent < len(p) {
		n, err := unix.SendmsgN(s.fd, p[sent:], nil, nil, unix.MSG_NOSIGNAL)
		if n > 0 {
			sent += n
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			// a non-blocking socket never stalls the caller, even mid-frame
			if sent == 0 || s.nonBlocking {
				return Result{Status: StatusWouldBlock, N: sent}
			}
			if !s.waitWritable(sendWait) {
				return Result{Status: StatusWouldBlock, N: sent}
			}
		case errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNRESET):
			return Result{Status: StatusClosed, N: sent}
		default:
			return Result{Status: StatusError, N: sent, Err: fmt.Errorf("send fd %d: %w", s.fd, err)}
		}
	}
	return Result{Status: StatusOK, N: sent}
}

func (s *Socket) waitWritable(timeout time.Duration) bool {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err == nil && n > 0 && fds[0].Revents&unix.POLLOUT != 0
	}
}

func (s *Socket) Receive(p []byte) Result {
	if s.closed {
		return Result{Status: StatusClosed}
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil && n == 0 && len(p) > 0:
			return Result{Status: StatusClosed}
		case err == nil:
			return Result{Status: StatusOK, N: n}
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return Result{Status: StatusWouldBlock}
		case errors.Is(err, unix.ECONNRESET):
			return Result{Status: StatusClosed}
		default:
			return Result{Status: StatusError, Err: fmt.Errorf("recv fd %d: %w", s.fd, err)}
		}
	}
}

func (s *Socket) Shutdown() error {
	if s.closed {
		return ErrClosed
	}
	if err := unix.Shutdown(s.fd, unix.SHUT_RDWR); err != nil && !errors.Is(err, unix.ENOTCONN) {
		return fmt.Errorf("shutdown fd %d: %w", s.fd, err)
	}
	return nil
}

func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := unix.Close(s.fd); err != nil {
		return fmt.Errorf("close fd %d: %w", s.fd, err)
	}
	return nil
}
