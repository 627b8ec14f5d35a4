// Package server implements the chat server engine: a single goroutine
// multiplexes every client socket through a readiness poller, frames the
// incoming bytes and routes messages between sessions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tcpchat/internal/config"
	"tcpchat/internal/logger"
	"tcpchat/internal/poller"
	"tcpchat/internal/protocol"
	"tcpchat/internal/transport"
)

var (
	ErrServerClosed   = errors.New("server: closed")
	ErrAlreadyStarted = errors.New("server: already started")
)

const sessionInterest = poller.Readable | poller.Error | poller.Hangup | poller.EdgeTriggered

// Option customizes a Server
type Option func(*Server)

// WithListener serves on l instead of binding a TCP socket in Start
func WithListener(l transport.Listener) Option {
	return func(s *Server) {
		s.listener = l
	}
}

// WithPoller replaces the epoll poller
func WithPoller(p poller.Poller) Option {
	return func(s *Server) {
		s.poller = p
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server is the chat engine. Start, Run and every handler execute on the
// goroutine that calls Run; Stop may be called from anywhere.
type Server struct {
	cfg      config.ServerConfig
	log      zerolog.Logger
	listener transport.Listener
	poller   poller.Poller
	registry *Registry
	metrics  *Metrics
	handlers map[protocol.MessageType]handlerFunc

	scratch []byte
	doomed  []*Session
	// descriptors closed while handling the current poller batch
	released map[int]struct{}

	started  atomic.Bool
	serving  atomic.Bool
	running  atomic.Bool
	closed   atomic.Bool
	ready    chan struct{}
	addr     string
	wakeHost string
	wakePort int
}

func New(cfg config.ServerConfig, log zerolog.Logger, opts ...Option) *Server {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = protocol.DefaultMaxPayloadSize
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 1024
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = poller.DefaultMaxEvents
	}

	s := &Server{
		cfg:      cfg,
		log:      logger.Component(log, "server"),
		scratch:  make([]byte, cfg.ReadBufferSize),
		released: make(map[int]struct{}),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.registry = NewRegistry(logger.Component(log, "registry"))
	s.registerHandlers()
	return s
}

// Start binds the listener and registers it with the poller
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if s.listener == nil {
		sock, err := transport.Listen(s.cfg.Host, s.cfg.Port, s.cfg.Backlog)
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		s.listener = sock
	}
	if err := s.listener.SetNonBlocking(true); err != nil {
		s.listener.Close()
		return fmt.Errorf("listener nonblocking: %w", err)
	}

	if s.poller == nil {
		ep, err := poller.NewEpoll(s.cfg.MaxEvents)
		if err != nil {
			s.listener.Close()
			return fmt.Errorf("create poller: %w", err)
		}
		s.poller = ep
	}
	if err := s.poller.Add(s.listener.FD(), poller.Readable|poller.EdgeTriggered); err != nil {
		s.metrics.pollerErrors.WithLabelValues("add").Inc()
		s.listener.Close()
		s.poller.Close()
		return fmt.Errorf("register listener: %w", err)
	}

	s.addr = s.listener.Addr()
	s.wakeHost, s.wakePort = wakeTarget(s.addr)
	s.running.Store(true)
	close(s.ready)

	s.log.Info().Str("addr", s.addr).Int("max_clients", s.cfg.MaxClients).Msg("listening")
	return nil
}

// wakeTarget turns the bound address into something Stop can dial
func wakeTarget(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	return host, port
}

// Addr returns the bound listener address, or "" before Start
func (s *Server) Addr() string {
	select {
	case <-s.ready:
		return s.addr
	default:
		return ""
	}
}

// Ready is closed once the server is listening
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Running reports whether the event loop is accepting work
func (s *Server) Running() bool {
	return s.running.Load()
}

// Registry exposes the session registry. Only the engine goroutine may use
// it while Run is active.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Run starts the server if needed and processes events until Stop is
// called or ctx is cancelled. All sessions are notified and closed before
// it returns. Run may only be called once.
func (s *Server) Run(ctx context.Context) error {
	if !s.started.Load() {
		if err := s.Start(); err != nil {
			return err
		}
	}
	if !s.serving.CompareAndSwap(false, true) {
		return ErrServerClosed
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-watchDone:
		}
	}()

	var runErr error
	for s.running.Load() {
		events, err := s.poller.Wait(s.cfg.PollTimeout)
		if err != nil {
			if !errors.Is(err, poller.ErrClosed) {
				s.metrics.pollerErrors.WithLabelValues("wait").Inc()
				runErr = fmt.Errorf("poller wait: %w", err)
			}
			s.running.Store(false)
			s.closed.Store(true)
			break
		}
		s.handleBatch(events)
	}

	s.shutdown()
	return runErr
}

// Stop asks the event loop to exit. It returns immediately; Run performs
// the shutdown.
func (s *Server) Stop() {
	s.closed.Store(true)
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.log.Info().Msg("stop requested")
	s.wake()
}

// wake unblocks Poller.Wait by connecting to our own listener
func (s *Server) wake() {
	if s.wakePort == 0 {
		return
	}
	conn, err := transport.Dial(s.wakeHost, s.wakePort)
	if err != nil {
		s.log.Debug().Err(err).Msg("wake-up dial failed")
		return
	}
	conn.Close()
}

// handleBatch processes the events of one Wait. A descriptor closed earlier
// in the batch may already belong to a connection accepted since, so its
// remaining events are dropped.
func (s *Server) handleBatch(events []poller.Event) {
	clear(s.released)
	for _, ev := range events {
		if !s.running.Load() {
			return
		}
		if _, stale := s.released[ev.FD]; stale {
			s.log.Debug().Int("fd", ev.FD).Stringer("flags", ev.Flags).Msg("dropping stale event")
			continue
		}
		s.handleEvent(ev)
	}
}

func (s *Server) handleEvent(ev poller.Event) {
	if ev.FD == s.listener.FD() {
		s.acceptAll()
		return
	}

	sess := s.registry.FindByFD(ev.FD)
	if sess == nil {
		s.log.Debug().Int("fd", ev.FD).Stringer("flags", ev.Flags).Msg("event for unknown descriptor")
		return
	}
	if ev.Readable() {
		s.readAll(sess)
	}
	if ev.Failed() && s.registry.FindByFD(ev.FD) == sess {
		s.disconnect(sess, "socket error or hangup")
	}
	s.reap()
}

func (s *Server) acceptAll() {
	for {
		stream, res := s.listener.Accept()
		switch res.Status {
		case transport.StatusOK:
		case transport.StatusWouldBlock, transport.StatusClosed:
			return
		default:
			s.log.Error().Err(res.Err).Msg("accept failed")
			return
		}

		if s.cfg.MaxClients > 0 && s.registry.Len() >= s.cfg.MaxClients {
			s.log.Warn().Int("fd", stream.FD()).Int("max_clients", s.cfg.MaxClients).Msg("server full, rejecting connection")
			s.metrics.connectionsRejected.Inc()
			stream.Close()
			continue
		}
		if err := stream.SetNonBlocking(true); err != nil {
			s.log.Error().Err(err).Int("fd", stream.FD()).Msg("set nonblocking")
			s.metrics.connectionsRejected.Inc()
			stream.Close()
			continue
		}
		if err := s.poller.Add(stream.FD(), sessionInterest); err != nil {
			s.log.Error().Err(err).Int("fd", stream.FD()).Msg("register connection")
			s.metrics.pollerErrors.WithLabelValues("add").Inc()
			s.metrics.connectionsRejected.Inc()
			stream.Close()
			continue
		}

		sess := s.registry.Add(stream)
		s.metrics.connectionsAccepted.Inc()
		s.metrics.sessions(s.registry)
		s.log.Info().Int("fd", sess.FD()).Uint32("id", sess.id).Msg("client connected")
	}
}

// readAll drains the socket, dispatching frames as they complete
func (s *Server) readAll(sess *Session) {
	for {
		res := sess.stream.Receive(s.scratch)
		switch res.Status {
		case transport.StatusOK:
			sess.readBuffer = append(sess.readBuffer, s.scratch[:res.N]...)
			if !s.processFrames(sess) {
				return
			}
		case transport.StatusWouldBlock:
			return
		case transport.StatusClosed:
			s.disconnect(sess, "peer closed")
			return
		default:
			s.log.Warn().Err(res.Err).Int("fd", sess.FD()).Uint32("id", sess.id).Msg("receive failed")
			s.disconnect(sess, "receive error")
			return
		}
	}
}

// processFrames dispatches every complete frame in the session buffer. It
// returns false once the session is gone or about to be.
func (s *Server) processFrames(sess *Session) bool {
	fd := sess.FD()
	for {
		size, ok := protocol.PeekPayloadSize(sess.readBuffer)
		if !ok {
			return true
		}
		if uint64(size) > uint64(s.cfg.MaxPayloadSize) {
			s.metrics.framesRejected.Inc()
			s.log.Warn().
				Int("fd", fd).
				Uint32("id", sess.id).
				Uint32("size", size).
				Int("max", s.cfg.MaxPayloadSize).
				Msg("frame exceeds payload limit")
			s.disconnect(sess, "oversized frame")
			return false
		}

		msg, ok := sess.nextFrame()
		if !ok {
			return true
		}
		s.dispatch(sess, msg)
		if sess.doomed || s.registry.FindByFD(fd) != sess {
			return false
		}
	}
}

// sendTo writes msg to one session, scheduling a disconnect on failure
func (s *Server) sendTo(sess *Session, msg *protocol.Message) {
	res := sess.send(protocol.Serialize(msg))
	if res.OK() {
		s.metrics.sent(msg.Type, 1)
		return
	}
	s.log.Warn().
		Err(res.Err).
		Int("fd", sess.FD()).
		Uint32("id", sess.id).
		Str("status", res.Status.String()).
		Stringer("type", msg.Type).
		Msg("send failed")
	s.markFailed(sess)
}

func (s *Server) broadcast(msg *protocol.Message, excludeID uint32) {
	delivered, failed := s.registry.Broadcast(msg, excludeID)
	s.metrics.sent(msg.Type, delivered)
	for _, sess := range failed {
		s.markFailed(sess)
	}
}

func (s *Server) markFailed(sess *Session) {
	if sess.doomed {
		return
	}
	sess.doomed = true
	s.doomed = append(s.doomed, sess)
}

// reap disconnects sessions whose writes failed. Disconnecting may fail
// further writes, so it loops until nothing is left.
func (s *Server) reap() {
	for len(s.doomed) > 0 {
		sess := s.doomed[0]
		s.doomed = s.doomed[1:]
		s.disconnect(sess, "send failed")
	}
	s.doomed = nil
}

// disconnect announces the departure of an authenticated session, then
// unregisters and closes it. Sessions already removed are ignored.
func (s *Server) disconnect(sess *Session, reason string) {
	fd := sess.FD()
	if fd < 0 || s.registry.FindByFD(fd) != sess {
		return
	}

	if sess.authenticated {
		s.broadcast(protocol.NewMessage(protocol.TypeUserLeft, sess.id, protocol.BroadcastID, sess.username), sess.id)
	}
	if err := s.poller.Remove(fd); err != nil {
		s.metrics.pollerErrors.WithLabelValues("remove").Inc()
		s.log.Warn().Err(err).Int("fd", fd).Msg("unregister connection")
	}
	s.registry.Remove(fd)
	s.released[fd] = struct{}{}

	s.metrics.sessionDuration.Observe(time.Since(sess.ConnectedAt()).Seconds())
	s.metrics.sessions(s.registry)
	s.log.Info().
		Int("fd", fd).
		Uint32("id", sess.id).
		Str("username", sess.username).
		Str("reason", reason).
		Msg("client disconnected")
}

func (s *Server) shutdown() {
	s.log.Info().Int("sessions", s.registry.Len()).Msg("shutting down")

	if err := s.poller.Remove(s.listener.FD()); err != nil && !errors.Is(err, poller.ErrClosed) {
		s.log.Debug().Err(err).Msg("unregister listener")
	}
	if err := s.listener.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close listener")
	}

	notice := protocol.NewMessage(protocol.TypeServerShutdown, protocol.ServerID, protocol.BroadcastID, shutdownText)
	delivered, _ := s.registry.Broadcast(notice, protocol.ServerID)
	s.metrics.sent(notice.Type, delivered)

	for _, sess := range s.registry.All() {
		fd := sess.FD()
		if err := s.poller.Remove(fd); err != nil && !errors.Is(err, poller.ErrClosed) {
			s.log.Debug().Err(err).Int("fd", fd).Msg("unregister connection")
		}
		s.registry.Remove(fd)
	}
	s.doomed = nil
	s.metrics.sessions(s.registry)

	if err := s.poller.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close poller")
	}
	s.log.Info().Msg("server stopped")
}
