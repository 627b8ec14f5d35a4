package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcpchat/internal/logger"
	"tcpchat/internal/protocol"
	"tcpchat/internal/transport"
)

func readFrame(t *testing.T, s *transport.MemoryStream) *protocol.Message {
	t.Helper()
	buf := make([]byte, s.Pending())
	if len(buf) == 0 {
		return nil
	}
	res := s.Receive(buf)
	require.True(t, res.OK())
	msg, n := protocol.Deserialize(buf[:res.N])
	require.NotNil(t, msg)
	require.Equal(t, res.N, n, "expected exactly one frame")
	return msg
}

func TestRegistryAddFindRemove(t *testing.T) {
	r := NewRegistry(logger.Nop())

	_, serverEnd := transport.NewPipe()
	sess := r.Add(serverEnd)

	assert.NotEqual(t, protocol.ServerID, sess.ID())
	assert.Same(t, sess, r.FindByFD(serverEnd.FD()))
	assert.Same(t, sess, r.FindByID(sess.ID()))
	assert.Equal(t, 1, r.Len())
	assert.False(t, sess.Authenticated())

	require.True(t, r.ClaimUsername("alice"))
	sess.authenticate("alice")
	assert.True(t, r.IsUsernameTaken("alice"))
	assert.False(t, r.ClaimUsername("alice"))

	removed := r.Remove(serverEnd.FD())
	assert.Same(t, sess, removed)
	assert.Nil(t, r.FindByFD(serverEnd.FD()))
	assert.Nil(t, r.FindByID(sess.ID()))
	assert.False(t, r.IsUsernameTaken("alice"))
	assert.Equal(t, 0, r.Len())
	assert.True(t, serverEnd.IsClosed())

	// unknown descriptor is a no-op
	assert.Nil(t, r.Remove(serverEnd.FD()))
}

func TestRegistryIDsAreUniqueAndIncreasing(t *testing.T) {
	r := NewRegistry(logger.Nop())

	var last uint32
	for i := 0; i < 5; i++ {
		_, s := transport.NewPipe()
		sess := r.Add(s)
		assert.Greater(t, sess.ID(), last)
		assert.NotEqual(t, protocol.InvalidID, sess.ID())
		last = sess.ID()
		r.Remove(s.FD())
	}

	// ids are not reused after removal
	_, s := transport.NewPipe()
	assert.Greater(t, r.Add(s).ID(), last)
}

func TestRegistryAllSortedByID(t *testing.T) {
	r := NewRegistry(logger.Nop())
	for i := 0; i < 4; i++ {
		_, s := transport.NewPipe()
		r.Add(s)
	}

	all := r.All()
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID(), all[i].ID())
	}
}

func TestRegistryBroadcast(t *testing.T) {
	r := NewRegistry(logger.Nop())

	aClient, aServer := transport.NewPipe()
	bClient, bServer := transport.NewPipe()
	cClient, cServer := transport.NewPipe()

	a := r.Add(aServer)
	b := r.Add(bServer)
	r.Add(cServer) // never joins

	a.authenticate("alice")
	b.authenticate("bob")

	msg := protocol.NewMessage(protocol.TypeServerBroadcast, a.ID(), protocol.BroadcastID, "hi")
	delivered, failed := r.Broadcast(msg, a.ID())

	assert.Equal(t, 1, delivered)
	assert.Empty(t, failed)
	assert.Equal(t, 0, aClient.Pending())
	assert.Equal(t, 0, cClient.Pending())

	got := readFrame(t, bClient)
	require.NotNil(t, got)
	assert.Equal(t, protocol.TypeServerBroadcast, got.Type)
	assert.Equal(t, a.ID(), got.SenderID)
	assert.Equal(t, "hi", got.Text())
}

func TestRegistryBroadcastReportsFailures(t *testing.T) {
	r := NewRegistry(logger.Nop())

	_, aServer := transport.NewPipe()
	bClient, bServer := transport.NewPipe()

	a := r.Add(aServer)
	b := r.Add(bServer)
	a.authenticate("alice")
	b.authenticate("bob")

	require.NoError(t, bClient.Close())

	delivered, failed := r.Broadcast(protocol.NewMessage(protocol.TypeUserJoined, 9, 0, "carol"), 0)
	assert.Equal(t, 1, delivered)
	require.Len(t, failed, 1)
	assert.Same(t, b, failed[0])
}
