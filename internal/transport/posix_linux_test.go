//go:build linux

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func listenLoopback(t *testing.T) *Socket {
	t.Helper()
	l, err := Listen("127.0.0.1", 0, 16)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func acceptWithin(t *testing.T, l *Socket, d time.Duration) Stream {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		s, res := l.Accept()
		if res.OK() {
			return s
		}
		require.Equal(t, StatusWouldBlock, res.Status)
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no connection accepted")
	return nil
}

func TestListenRejectsBadPort(t *testing.T) {
	_, err := Listen("", 70000, 1)
	assert.ErrorIs(t, err, ErrInvalidPort)

	_, err = Dial("127.0.0.1", -1)
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestListenBindConflict(t *testing.T) {
	l := listenLoopback(t)

	_, err := Listen("127.0.0.1", l.Port(), 1)
	assert.Error(t, err)
}

func TestAcceptWouldBlock(t *testing.T) {
	l := listenLoopback(t)
	require.NoError(t, l.SetNonBlocking(true))

	_, res := l.Accept()
	assert.Equal(t, StatusWouldBlock, res.Status)
}

func TestDialSendReceive(t *testing.T) {
	l := listenLoopback(t)
	require.NoError(t, l.SetNonBlocking(true))
	assert.Contains(t, l.Addr(), "127.0.0.1:")

	client, err := Dial("127.0.0.1", l.Port())
	require.NoError(t, err)
	defer client.Close()

	server := acceptWithin(t, l, time.Second)
	defer server.Close()
	require.NoError(t, server.SetNonBlocking(true))

	buf := make([]byte, 64)
	res := server.Receive(buf)
	assert.Equal(t, StatusWouldBlock, res.Status)

	res = client.Send([]byte("hello"))
	require.True(t, res.OK())
	assert.Equal(t, 5, res.N)

	var got []byte
	deadline := time.Now().Add(time.Second)
	for len(got) < 5 && time.Now().Before(deadline) {
		res = server.Receive(buf)
		if res.OK() {
			got = append(got, buf[:res.N]...)
			continue
		}
		require.Equal(t, StatusWouldBlock, res.Status)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, "hello", string(got))
}

func TestReceiveReportsPeerClose(t *testing.T) {
	l := listenLoopback(t)

	client, err := Dial("127.0.0.1", l.Port())
	require.NoError(t, err)

	server, res := l.Accept()
	require.True(t, res.OK())
	defer server.Close()

	require.NoError(t, client.Close())

	res = server.Receive(make([]byte, 8))
	assert.Equal(t, StatusClosed, res.Status)

	// closing twice is harmless
	assert.NoError(t, client.Close())
	assert.Equal(t, StatusClosed, client.Send([]byte("x")).Status)
}

func TestShutdownWakesBlockedReceive(t *testing.T) {
	l := listenLoopback(t)

	client, err := Dial("127.0.0.1", l.Port())
	require.NoError(t, err)
	defer client.Close()

	server, res := l.Accept()
	require.True(t, res.OK())
	defer server.Close()

	done := make(chan Status, 1)
	go func() {
		done <- client.Receive(make([]byte, 8)).Status
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, client.Shutdown())

	select {
	case status := <-done:
		assert.Equal(t, StatusClosed, status)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked receive was not woken by shutdown")
	}
}

func TestNonBlockingSendDoesNotWaitForSlowPeer(t *testing.T) {
	l := listenLoopback(t)

	client, err := Dial("127.0.0.1", l.Port())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, unix.SetsockoptInt(client.FD(), unix.SOL_SOCKET, unix.SO_RCVBUF, 4096))

	stream, res := l.Accept()
	require.True(t, res.OK())
	defer stream.Close()
	server := stream.(*Socket)
	require.NoError(t, unix.SetsockoptInt(server.FD(), unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))
	require.NoError(t, server.SetNonBlocking(true))

	// the client never reads, so a large frame cannot fit
	frame := make([]byte, 4<<20)
	start := time.Now()
	res = server.Send(frame)
	elapsed := time.Since(start)

	assert.Equal(t, StatusWouldBlock, res.Status)
	assert.Less(t, res.N, len(frame))
	assert.Less(t, elapsed, sendWait/2)
}
