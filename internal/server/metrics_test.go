package server

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcpchat/internal/protocol"
)

func TestMetricsTrackSessionsAndTraffic(t *testing.T) {
	h := newHarness(t, nil)
	m := h.srv.metrics

	alice := h.join("alice")
	h.join("bob")
	stranger := h.connect()
	require.NotEqual(t, -1, stranger.fd)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsAuthenticated))

	h.send(alice, protocol.NewMessage(protocol.TypeBroadcast, alice.id, protocol.BroadcastID, "hi"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues(protocol.TypeJoin.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues(protocol.TypeBroadcast.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesSent.WithLabelValues(protocol.TypeServerBroadcast.String())))

	dup := h.connect()
	h.send(dup, protocol.NewMessage(protocol.TypeJoin, 0, 0, "alice"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.joinFailures.WithLabelValues("taken")))

	h.send(alice, protocol.NewMessage(protocol.TypeLeave, alice.id, protocol.ServerID, ""))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsAuthenticated))

	var duration dto.Metric
	require.NoError(t, m.sessionDuration.Write(&duration))
	assert.Equal(t, uint64(2), duration.GetHistogram().GetSampleCount())
}
