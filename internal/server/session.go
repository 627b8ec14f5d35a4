package server

import (
	"time"

	"tcpchat/internal/protocol"
	"tcpchat/internal/transport"
)

// Session is one connected client
type Session struct {
	id            uint32
	stream        transport.Stream
	username      string
	authenticated bool
	readBuffer    []byte
	connectedAt   time.Time

	// doomed marks a session whose socket failed during a send; the engine
	// disconnects it once the current event is handled
	doomed bool
}

func (s *Session) ID() uint32 {
	return s.id
}

// FD returns the descriptor of the session socket, or -1 once released
func (s *Session) FD() int {
	if s.stream == nil {
		return -1
	}
	return s.stream.FD()
}

func (s *Session) Username() string {
	return s.username
}

func (s *Session) Authenticated() bool {
	return s.authenticated
}

func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// authenticate records the username; it only ever happens once
func (s *Session) authenticate(name string) {
	s.username = name
	s.authenticated = true
}

// send writes one already serialized frame
func (s *Session) send(frame []byte) transport.Result {
	if s.stream == nil {
		return transport.Result{Status: transport.StatusClosed}
	}
	return s.stream.Send(frame)
}

// nextFrame pops the next complete frame from the read buffer
func (s *Session) nextFrame() (*protocol.Message, bool) {
	msg, n := protocol.Deserialize(s.readBuffer)
	if n == 0 {
		return nil, false
	}
	s.readBuffer = s.readBuffer[n:]
	if len(s.readBuffer) == 0 {
		s.readBuffer = nil
	}
	return msg, true
}

func (s *Session) close() error {
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}
