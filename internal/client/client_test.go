package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcpchat/internal/logger"
	"tcpchat/internal/protocol"
	"tcpchat/internal/transport"
)

// fakeServer plays the server side of an in-memory connection
type fakeServer struct {
	conn *transport.MemoryStream
	buf  []byte
}

func (f *fakeServer) expect(t *testing.T) *protocol.Message {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msg, n := protocol.Deserialize(f.buf); n > 0 {
			f.buf = f.buf[n:]
			return msg
		}
		if pending := f.conn.Pending(); pending > 0 {
			chunk := make([]byte, pending)
			res := f.conn.Receive(chunk)
			require.True(t, res.OK())
			f.buf = append(f.buf, chunk[:res.N]...)
			continue
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a frame from the client")
	return nil
}

func (f *fakeServer) send(t *testing.T, msg *protocol.Message) {
	t.Helper()
	require.True(t, f.conn.Send(protocol.Serialize(msg)).OK())
}

func nextEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func waitClosed(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-c.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel not closed")
		}
	}
}

// joined returns a client that has completed JOIN with id 7 and knows bob
// and carol
func joined(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	clientEnd, serverEnd := transport.NewPipe()
	c := New(clientEnd, "alice", logger.Nop())
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Start())

	srv := &fakeServer{conn: serverEnd}
	join := srv.expect(t)
	require.Equal(t, protocol.TypeJoin, join.Type)

	srv.send(t, protocol.NewMessage(protocol.TypeJoinSuccess, protocol.ServerID, 7, "Welcome to the chat, alice!"))
	require.Equal(t, EventJoined, nextEvent(t, c).Kind)

	req := srv.expect(t)
	require.Equal(t, protocol.TypeUserListRequest, req.Type)
	srv.send(t, protocol.NewMessage(protocol.TypeUserList, protocol.ServerID, 7, "bob:3,carol:5"))
	require.Equal(t, EventUserList, nextEvent(t, c).Kind)
	return c, srv
}

func TestJoinFlow(t *testing.T) {
	clientEnd, serverEnd := transport.NewPipe()
	c := New(clientEnd, "alice", logger.Nop())
	defer c.Close()
	require.NoError(t, c.Start())

	srv := &fakeServer{conn: serverEnd}
	join := srv.expect(t)
	assert.Equal(t, protocol.TypeJoin, join.Type)
	assert.Equal(t, protocol.InvalidID, join.SenderID)
	assert.Equal(t, protocol.ServerID, join.ReceiverID)
	assert.Equal(t, "alice", join.Text())

	srv.send(t, protocol.NewMessage(protocol.TypeJoinSuccess, protocol.ServerID, 7, "Welcome to the chat, alice!"))
	ev := nextEvent(t, c)
	assert.Equal(t, EventJoined, ev.Kind)
	assert.Equal(t, uint32(7), ev.ReceiverID)
	assert.Equal(t, "Welcome to the chat, alice!", ev.Text)
	assert.Equal(t, uint32(7), c.ID())

	req := srv.expect(t)
	assert.Equal(t, protocol.TypeUserListRequest, req.Type)
	assert.Equal(t, uint32(7), req.SenderID)

	srv.send(t, protocol.NewMessage(protocol.TypeUserList, protocol.ServerID, 7, "bob:3,carol:5"))
	ev = nextEvent(t, c)
	assert.Equal(t, EventUserList, ev.Kind)
	assert.Len(t, ev.Users, 2)

	assert.Equal(t, []protocol.UserEntry{
		{Name: "bob", ID: 3},
		{Name: "carol", ID: 5},
		{Name: "alice", ID: 7},
	}, c.Users())
}

func TestSendMessages(t *testing.T) {
	c, srv := joined(t)

	require.NoError(t, c.Broadcast("hello"))
	msg := srv.expect(t)
	assert.Equal(t, protocol.TypeBroadcast, msg.Type)
	assert.Equal(t, uint32(7), msg.SenderID)
	assert.Equal(t, protocol.BroadcastID, msg.ReceiverID)
	assert.Equal(t, "hello", msg.Text())

	require.NoError(t, c.SendPrivate("bob", "psst"))
	msg = srv.expect(t)
	assert.Equal(t, protocol.TypePrivate, msg.Type)
	assert.Equal(t, uint32(3), msg.ReceiverID)
	assert.Equal(t, "psst", msg.Text())

	err := c.SendPrivate("zed", "hi")
	assert.ErrorIs(t, err, ErrUnknownUser)

	require.NoError(t, c.RequestUsers())
	assert.Equal(t, protocol.TypeUserListRequest, srv.expect(t).Type)
}

func TestIncomingEvents(t *testing.T) {
	c, srv := joined(t)

	srv.send(t, protocol.NewMessage(protocol.TypeUserJoined, 9, protocol.BroadcastID, "dave"))
	ev := nextEvent(t, c)
	assert.Equal(t, EventUserJoined, ev.Kind)
	assert.Equal(t, "dave", ev.From)

	srv.send(t, protocol.NewMessage(protocol.TypeServerBroadcast, 9, protocol.BroadcastID, "hi all"))
	ev = nextEvent(t, c)
	assert.Equal(t, EventBroadcast, ev.Kind)
	assert.Equal(t, "dave", ev.From)
	assert.Equal(t, "hi all", ev.Text)

	srv.send(t, protocol.NewMessage(protocol.TypeServerPrivate, 42, 7, "who am i"))
	ev = nextEvent(t, c)
	assert.Equal(t, EventPrivate, ev.Kind)
	assert.Equal(t, "Unknown", ev.From)

	srv.send(t, protocol.NewMessage(protocol.TypeUserLeft, 9, protocol.BroadcastID, "dave"))
	ev = nextEvent(t, c)
	assert.Equal(t, EventUserLeft, ev.Kind)
	_, known := c.LookupID("dave")
	assert.False(t, known)

	srv.send(t, protocol.NewMessage(protocol.TypeError, protocol.ServerID, 7, "Receiver not found or not connected."))
	ev = nextEvent(t, c)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "Receiver not found or not connected.", ev.Text)

	// unknown types are skipped
	srv.send(t, protocol.NewMessage(protocol.TypeJoin, 0, 0, "?"))
	srv.send(t, protocol.NewMessage(protocol.TypeServerShutdown, protocol.ServerID, protocol.BroadcastID, "Server is shutting down."))
	ev = nextEvent(t, c)
	assert.Equal(t, EventShutdown, ev.Kind)

	require.NoError(t, srv.conn.Close())
	ev = nextEvent(t, c)
	assert.Equal(t, EventClosed, ev.Kind)
	waitClosed(t, c)
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Broadcast("anyone?"), ErrNotConnected)
}

func TestJoinFailure(t *testing.T) {
	clientEnd, serverEnd := transport.NewPipe()
	c := New(clientEnd, "alice", logger.Nop())
	defer c.Close()
	require.NoError(t, c.Start())

	srv := &fakeServer{conn: serverEnd}
	srv.expect(t)
	srv.send(t, protocol.NewMessage(protocol.TypeJoinFailure, protocol.ServerID, protocol.InvalidID, "Username already exists"))
	require.NoError(t, serverEnd.Close())

	ev := nextEvent(t, c)
	assert.Equal(t, EventJoinFailed, ev.Kind)
	assert.Equal(t, "Username already exists", ev.Text)

	assert.Equal(t, EventClosed, nextEvent(t, c).Kind)
	waitClosed(t, c)
	assert.False(t, c.Connected())
}

func TestLeave(t *testing.T) {
	c, srv := joined(t)

	stop, err := c.Execute(Command{Kind: CommandExit})
	require.NoError(t, err)
	assert.True(t, stop)

	msg := srv.expect(t)
	assert.Equal(t, protocol.TypeLeave, msg.Type)
	assert.Equal(t, uint32(7), msg.SenderID)

	waitClosed(t, c)
	assert.ErrorIs(t, c.Broadcast("late"), ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestCloseUnblocksReceiver(t *testing.T) {
	clientEnd, _ := transport.NewPipe()
	c := New(clientEnd, "alice", logger.Nop())
	require.NoError(t, c.Start())

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked")
	}
	assert.True(t, clientEnd.IsClosed())
}

func TestStartOnDeadConnection(t *testing.T) {
	clientEnd, serverEnd := transport.NewPipe()
	require.NoError(t, serverEnd.Close())

	c := New(clientEnd, "alice", logger.Nop())
	err := c.Start()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Close())
}
