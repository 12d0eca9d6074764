package radio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopbackFlushDeliversToPeer(t *testing.T) {
	a := NewLoopback(1)
	b := NewLoopback(2)
	Connect(a, b)

	buf, ok := a.AllocateTransmitBuffer(5)
	require.True(t, ok)
	copy(buf.Mem, []byte{0x00, 0x03, 0xaa, 0xbb, 0xcc})
	a.CommitTransmitBuffer(buf)

	_, ok = b.NextReceived()
	require.False(t, ok, "nothing is visible on the peer before Flush runs")

	a.Flush()
	got, ok := b.NextReceived()
	require.True(t, ok)
	require.Equal(t, buf.Mem, got.Mem)
}

func TestLoopbackAllocateTransmitBufferRejectsOversize(t *testing.T) {
	r := NewLoopback(0)
	_, ok := r.AllocateTransmitBuffer(1000)
	require.False(t, ok)
}

func TestLoopbackFreeReceivedPopsOldestOnly(t *testing.T) {
	a := NewLoopback(1)
	b := NewLoopback(2)
	Connect(a, b)

	for _, payload := range [][]byte{{0x00, 0x00}, {0x00, 0x00}} {
		buf, ok := a.AllocateTransmitBuffer(len(payload))
		require.True(t, ok)
		copy(buf.Mem, payload)
		a.CommitTransmitBuffer(buf)
	}
	a.Flush()

	_, ok := b.NextReceived()
	require.True(t, ok)
	b.FreeReceived()
	_, ok = b.NextReceived()
	require.True(t, ok, "a second queued buffer remains after freeing the first")
	b.FreeReceived()
	_, ok = b.NextReceived()
	require.False(t, ok)
}

func TestLoopbackScheduleConnectionEventAdvancesClock(t *testing.T) {
	r := NewLoopback(0)
	require.Equal(t, time.Duration(0), r.LastScheduledAt())

	r.ScheduleConnectionEvent(0, 0, 0, time.Millisecond)
	first := r.LastScheduledAt()
	require.NotZero(t, first)

	time.Sleep(time.Millisecond)
	r.ScheduleConnectionEvent(0, 0, 0, time.Millisecond)
	require.Greater(t, r.LastScheduledAt(), first)
}

func TestLoopbackEncryptionStateToggles(t *testing.T) {
	r := NewLoopback(0)
	require.True(t, r.HardwareSupportsEncryption())

	r.StartReceiveEncrypted()
	r.StartTransmitEncrypted()
	require.True(t, r.encRX)
	require.True(t, r.encTX)

	r.StopReceiveEncrypted()
	r.StopTransmitEncrypted()
	require.False(t, r.encRX)
	require.False(t, r.encTX)
}
