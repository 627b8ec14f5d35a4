// Package client is the chat client library: it joins a server, keeps a
// directory of known users and turns incoming frames into Events.
package client

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tcpchat/internal/logger"
	"tcpchat/internal/protocol"
	"tcpchat/internal/transport"
)

var (
	ErrJoinRejected = errors.New("client: join rejected")
	ErrUnknownUser  = errors.New("client: unknown user")
	ErrNotConnected = errors.New("client: not connected")
)

const (
	eventBuffer    = 64
	readBufferSize = 4096
)

// EventKind classifies what the server told us
type EventKind int

const (
	EventJoined EventKind = iota
	EventJoinFailed
	EventUserJoined
	EventUserLeft
	EventBroadcast
	EventPrivate
	EventUserList
	EventError
	EventShutdown
	// EventClosed is generated locally when the connection ends
	EventClosed
)

var eventKindNames = [...]string{
	EventJoined:     "joined",
	EventJoinFailed: "join_failed",
	EventUserJoined: "user_joined",
	EventUserLeft:   "user_left",
	EventBroadcast:  "broadcast",
	EventPrivate:    "private",
	EventUserList:   "user_list",
	EventError:      "error",
	EventShutdown:   "shutdown",
	EventClosed:     "closed",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one thing that happened on the connection
type Event struct {
	Kind EventKind
	// From is the sender's name when known
	From       string
	SenderID   uint32
	ReceiverID uint32
	Text       string
	Users      []protocol.UserEntry
	Time       time.Time
}

// Client is a connection to a chat server. Sending is safe from any
// goroutine; events are delivered on the Events channel.
type Client struct {
	stream   transport.Stream
	username string
	log      zerolog.Logger

	mu    sync.RWMutex
	id    uint32
	users map[uint32]string

	events    chan Event
	connected atomic.Bool
	started   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	sendMu    sync.Mutex
	closeOnce sync.Once
	now       func() time.Time
}

// Dial connects to host:port and joins as username
func Dial(host string, port int, username string, log zerolog.Logger) (*Client, error) {
	sock, err := transport.Dial(host, port)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	c := New(sock, username, log)
	if err := c.Start(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an already connected stream. Call Start to join.
func New(stream transport.Stream, username string, log zerolog.Logger) *Client {
	c := &Client{
		stream:   stream,
		username: username,
		log:      logger.Component(log, "client"),
		users:    make(map[uint32]string),
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	c.connected.Store(true)
	return c
}

// Start sends JOIN and begins receiving
func (c *Client) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.send(protocol.NewMessage(protocol.TypeJoin, protocol.InvalidID, protocol.ServerID, c.username)); err != nil {
		close(c.events)
		return err
	}
	c.wg.Add(1)
	go c.receiveLoop()
	return nil
}

// Events delivers server events. It is closed after EventClosed.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Username() string {
	return c.username
}

// ID returns the id assigned by the server, 0 until joined
func (c *Client) ID() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Connected reports whether the connection is still usable
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Users returns every known user ordered by id, including ourselves
func (c *Client) Users() []protocol.UserEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.UserEntry, 0, len(c.users))
	for id, name := range c.users {
		out = append(out, protocol.UserEntry{Name: name, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupID finds a user's id by name
func (c *Client) LookupID(name string) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, n := range c.users {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

func (c *Client) nameOf(id uint32) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name, ok := c.users[id]; ok {
		return name
	}
	return "Unknown"
}

func (c *Client) Broadcast(text string) error {
	return c.send(protocol.NewMessage(protocol.TypeBroadcast, c.ID(), protocol.BroadcastID, text))
}

// SendPrivate messages one user by name
func (c *Client) SendPrivate(name, text string) error {
	id, ok := c.LookupID(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	return c.send(protocol.NewMessage(protocol.TypePrivate, c.ID(), id, text))
}

// RequestUsers asks the server for the current user list
func (c *Client) RequestUsers() error {
	return c.send(protocol.NewMessage(protocol.TypeUserListRequest, c.ID(), protocol.ServerID, ""))
}

// Leave tells the server we are going and closes the connection
func (c *Client) Leave() error {
	err := c.send(protocol.NewMessage(protocol.TypeLeave, c.ID(), protocol.ServerID, ""))
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (c *Client) send(msg *protocol.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.connected.Load() {
		return ErrNotConnected
	}
	res := c.stream.Send(protocol.Serialize(msg))
	if !res.OK() {
		c.log.Error().Err(res.Err).Str("status", res.Status.String()).Stringer("type", msg.Type).Msg("send failed, disconnecting")
		c.connected.Store(false)
		c.stream.Shutdown()
		return fmt.Errorf("send %s: %w", msg.Type, ErrNotConnected)
	}
	return nil
}

// Close stops the receiver and releases the socket. Safe to call twice.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)
		if shutdownErr := c.stream.Shutdown(); shutdownErr != nil {
			c.log.Debug().Err(shutdownErr).Msg("shutdown")
		}
		c.wg.Wait()

		c.sendMu.Lock()
		err = c.stream.Close()
		c.sendMu.Unlock()
	})
	return err
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()
	defer close(c.events)

	c.log.Debug().Msg("receiver started")
	scratch := make([]byte, readBufferSize)
	var buf []byte
	for {
		res := c.stream.Receive(scratch)
		if !res.OK() {
			if res.Status == transport.StatusError {
				c.log.Warn().Err(res.Err).Msg("receive failed")
			}
			break
		}
		buf = append(buf, scratch[:res.N]...)
		for {
			msg, n := protocol.Deserialize(buf)
			if n == 0 {
				break
			}
			buf = buf[n:]
			if ev, ok := c.handle(msg); ok && !c.emit(ev) {
				return
			}
		}
	}

	c.connected.Store(false)
	c.log.Info().Msg("connection closed")
	c.emit(Event{Kind: EventClosed, Text: "Connection closed", Time: c.now()})
}

// emit hands ev to the consumer. Buffered events are kept even while
// closing; it only gives up when the buffer is full and Close was called.
func (c *Client) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// handle updates local state for msg and converts it to an Event
func (c *Client) handle(msg *protocol.Message) (Event, bool) {
	ev := Event{SenderID: msg.SenderID, ReceiverID: msg.ReceiverID, Text: msg.Text(), Time: c.now()}

	switch msg.Type {
	case protocol.TypeJoinSuccess:
		c.mu.Lock()
		c.id = msg.ReceiverID
		c.users[c.id] = c.username
		c.mu.Unlock()
		ev.Kind = EventJoined
		c.log.Info().Uint32("id", msg.ReceiverID).Msg("joined")
		// fill the directory with whoever is already here
		if err := c.RequestUsers(); err != nil {
			c.log.Warn().Err(err).Msg("request user list")
		}

	case protocol.TypeJoinFailure:
		ev.Kind = EventJoinFailed
		c.connected.Store(false)
		c.log.Warn().Str("reason", ev.Text).Msg("join rejected")

	case protocol.TypeUserJoined:
		c.mu.Lock()
		c.users[msg.SenderID] = ev.Text
		c.mu.Unlock()
		ev.Kind = EventUserJoined
		ev.From = ev.Text

	case protocol.TypeUserLeft:
		c.mu.Lock()
		delete(c.users, msg.SenderID)
		c.mu.Unlock()
		ev.Kind = EventUserLeft
		ev.From = ev.Text

	case protocol.TypeServerBroadcast:
		ev.Kind = EventBroadcast
		ev.From = c.nameOf(msg.SenderID)

	case protocol.TypeServerPrivate:
		ev.Kind = EventPrivate
		ev.From = c.nameOf(msg.SenderID)

	case protocol.TypeUserList:
		ev.Kind = EventUserList
		ev.Users = protocol.DecodeUserList(ev.Text)
		c.mu.Lock()
		for _, u := range ev.Users {
			c.users[u.ID] = u.Name
		}
		c.mu.Unlock()

	case protocol.TypeError:
		ev.Kind = EventError

	case protocol.TypeServerShutdown:
		ev.Kind = EventShutdown

	default:
		c.log.Warn().Stringer("type", msg.Type).Msg("unexpected message type")
		return Event{}, false
	}
	return ev, true
}
