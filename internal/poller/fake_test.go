package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRegistration(t *testing.T) {
	f := NewFake()

	require.NoError(t, f.Add(3, Readable|Error))
	assert.Error(t, f.Add(3, Readable))

	flags, ok := f.Registered(3)
	assert.True(t, ok)
	assert.Equal(t, Readable|Error, flags)

	require.NoError(t, f.Modify(3, Readable|Hangup))
	flags, _ = f.Registered(3)
	assert.Equal(t, Readable|Hangup, flags)

	require.NoError(t, f.Remove(3))
	_, ok = f.Registered(3)
	assert.False(t, ok)
	assert.Error(t, f.Remove(3))

	f.FailOps["add"] = true
	assert.Error(t, f.Add(4, Readable))
}

func TestFakeWait(t *testing.T) {
	f := NewFake()

	events, err := f.Wait(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events)

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Push(Event{FD: 5, Flags: Readable})
	}()
	events, err = f.Wait(-1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 5, events[0].FD)

	require.NoError(t, f.Close())
	_, err = f.Wait(-1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "none", Flags(0).String())
	assert.Equal(t, "readable|error|hangup|edge", (Readable | Error | Hangup | EdgeTriggered).String())
	assert.True(t, Event{Flags: Hangup}.Failed())
	assert.False(t, Event{Flags: Readable}.Failed())
}
