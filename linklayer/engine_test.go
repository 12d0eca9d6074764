package linklayer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluetoe/bluetoe/radio"
	"github.com/bluetoe/bluetoe/securitymgr"
)

// fakeUpper is a minimal Upper for exercising the engine without
// pulling in the root package's ATT server, avoiding the import cycle
// Upper exists to break.
type fakeUpper struct {
	delivered [][]byte
	reply     []byte
	pending   [][]byte
	resets    []bool
}

func (u *fakeUpper) Deliver(payload []byte) []byte {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	u.delivered = append(u.delivered, cp)
	return u.reply
}

func (u *fakeUpper) Pending() []byte {
	if len(u.pending) == 0 {
		return nil
	}
	p := u.pending[0]
	u.pending = u.pending[1:]
	return p
}

func (u *fakeUpper) Reset(connected bool) { u.resets = append(u.resets, connected) }

func validConnectIndFields() ConnectIndFields {
	var chanMap [5]byte
	for i := range chanMap {
		chanMap[i] = 0xff
	}
	return ConnectIndFields{
		AccessAddress: 0x12345678,
		CRCInit:       0x00abcdef,
		WindowSize:    2500 * 1000, // 2.5ms in nanoseconds-as-Duration units below
		WindowOffset:  0,
		Interval:      30_000_000,  // 30ms
		SlaveLatency:  0,
		Timeout:       2_000_000_000, // 2s
		ChannelMap:    chanMap,
		HopIncrement:  8,
		SCA:           0,
	}
}

func TestEngineAcceptRejectsBadHopIncrement(t *testing.T) {
	r := radio.NewLoopback(1)
	u := &fakeUpper{}
	e := New(r, u, nil, [6]byte{})
	e.Start()

	f := validConnectIndFields()
	f.HopIncrement = 2 // below the mandated [5,16] range
	require.False(t, e.Accept(f))
	require.Equal(t, StateAdvertising, e.State())
}

func TestEngineConnectionEstablishment(t *testing.T) {
	peripheral := radio.NewLoopback(1)
	central := radio.NewLoopback(2)
	radio.Connect(peripheral, central)

	u := &fakeUpper{}
	e := New(peripheral, u, nil, [6]byte{0xaa})
	e.Start()
	require.Equal(t, StateAdvertising, e.State())

	require.True(t, e.Accept(validConnectIndFields()))
	require.Equal(t, StateConnecting, e.State())
	require.Equal(t, []bool{true}, u.resets)

	connected := false
	e.OnConnected = func() { connected = true }

	// Simulate the central's first empty data PDU arriving.
	sendEmptyPDU(t, central)
	e.HandleConnectionEvent()

	require.True(t, connected)
	require.Equal(t, StateConnected, e.State())
}

func TestEngineSupervisionTimeoutDuringConnecting(t *testing.T) {
	peripheral := radio.NewLoopback(1)
	// No peer connected: every receive window is empty.
	u := &fakeUpper{}
	e := New(peripheral, u, nil, [6]byte{})
	e.Start()
	require.True(t, e.Accept(validConnectIndFields()))

	var reason DisconnectReason
	disconnected := false
	e.OnDisconnected = func(r DisconnectReason) {
		disconnected = true
		reason = r
	}

	// Spec requires at least 5 empty receive windows before giving up
	// while still in the "connecting" state.
	for i := 0; i < 4; i++ {
		e.HandleConnectionEvent()
		require.False(t, disconnected, "must not time out before 5 empty events")
	}
	e.HandleConnectionEvent()

	require.True(t, disconnected)
	require.Equal(t, DisconnectSupervisionTimeout, reason)
	require.Equal(t, StateAdvertising, e.State())
	require.Equal(t, []bool{true, false}, u.resets)
}

func TestEngineEncryptionNegotiation(t *testing.T) {
	peripheral := radio.NewLoopback(1)
	central := radio.NewLoopback(2)
	radio.Connect(peripheral, central)

	store := securitymgr.NewStore()
	var ltk [16]byte
	for i := range ltk {
		ltk[i] = byte(i)
	}
	store.Add(securitymgr.Bond{
		EDiv:          0x1234,
		Rand:          0x1111111111111111,
		LTK:           ltk,
		Authenticated: true,
	})

	u := &fakeUpper{}
	e := New(peripheral, u, store, [6]byte{})
	e.Start()
	require.True(t, e.Accept(validConnectIndFields()))

	sendEmptyPDU(t, central)
	e.HandleConnectionEvent() // establish the connection first

	var changed []bool
	e.OnEncryptionChanged = func(enc bool) { changed = append(changed, enc) }

	body := make([]byte, 22)
	putLE64Test := func(b []byte, v uint64) {
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}
	putLE64Test(body[0:8], 0x1111111111111111) // rand
	body[8] = 0x34
	body[9] = 0x12 // ediv = 0x1234
	putLE64Test(body[10:18], 0xaaaaaaaaaaaaaaaa) // skdm
	body[18], body[19], body[20], body[21] = 0, 0, 0, 0 // ivm

	encReq := make([]byte, 23)
	encReq[0] = opEncReq
	copy(encReq[1:], body)
	sendRawPDU(t, central, llidLLControl, encReq)
	e.HandleConnectionEvent()

	require.True(t, e.enc.negotiating, "a known key must begin the encryption handshake")
	require.True(t, e.enc.awaitingPeerStartRsp, "peripheral starts receive encryption and awaits the peer's LL_START_ENC_RSP")
	require.True(t, e.enc.rxEnabled)
	require.False(t, e.enc.txEnabled, "transmit encryption only starts once the peer's LL_START_ENC_RSP arrives")
	require.Empty(t, changed, "encryption is not yet fully established in both directions")
}

// sendEmptyPDU commits a zero-length empty data PDU (LLID=1) from src
// and flushes it to its connected peer, simulating one side's
// "nothing to say yet" keepalive.
func sendEmptyPDU(t *testing.T, src *radio.Loopback) {
	t.Helper()
	buf, ok := src.AllocateTransmitBuffer(2)
	require.True(t, ok)
	buf.SetHeader(makeHeader(llidEmptyOrContinuation, false, false, false, 0))
	src.CommitTransmitBuffer(buf)
	src.Flush()
}

func sendRawPDU(t *testing.T, src *radio.Loopback, llid uint16, body []byte) {
	t.Helper()
	buf, ok := src.AllocateTransmitBuffer(2 + len(body))
	require.True(t, ok)
	buf.SetHeader(makeHeader(llid, false, false, false, len(body)))
	copy(buf.Payload(), body)
	src.CommitTransmitBuffer(buf)
	src.Flush()
}
