package bluetoe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMux(t *testing.T) (*l2capMux, *Conn, *int) {
	t.Helper()
	svc := &Service{uuid: UUID16(0x180d)}
	ch := svc.AddCharacteristic(UUID16(0x2a37))
	ch.props = PropRead | PropNotify
	ch.value = []byte{0x01}

	srv := &Server{NoGAPService: true}
	srv.services = []*Service{svc}
	srv.db = buildDatabase("", nil, srv.services, true)
	conn := newConn(srv, len(srv.db.cccdPriority), srv.db.cccdPriority)

	malformedCount := 0
	mux := newL2CAPMux(conn, srv.db, nil, func() { malformedCount++ })
	return mux, conn, &malformedCount
}

func TestL2CAPDeliverRoutesByChannel(t *testing.T) {
	mux, _, _ := newTestMux(t)

	// ATT channel: a Read By Group Type Request for primary services
	// over the whole handle range.
	att := []byte{attOpReadByGroupReq, 1, 0, 0xff, 0xff, 0x00, 0x28}
	framed := append([]byte{byte(len(att)), 0, byte(l2capChanATT), 0}, att...)
	resp := mux.Deliver(framed)
	require.NotNil(t, resp)
	// Response is itself L2CAP-framed back onto the same channel.
	require.Equal(t, byte(l2capChanATT), resp[2])
	require.Equal(t, byte(attOpReadByGroupResp), resp[4])
}

func TestL2CAPDeliverRejectsMalformedLength(t *testing.T) {
	mux, _, malformed := newTestMux(t)

	framed := []byte{0xff, 0xff, byte(l2capChanATT), 0, 0x01} // length field lies about payload size
	resp := mux.Deliver(framed)
	require.Nil(t, resp)
	require.Equal(t, 1, *malformed)
}

func TestL2CAPPendingDrainsNotificationBeforeSignaling(t *testing.T) {
	mux, conn, _ := newTestMux(t)
	conn.setCCCDValue(0, cccdNotifyBit)

	conn.Notify(0)
	mux.sig.RequestParameterUpdate(6, 12, 0, 200)

	first := mux.Pending()
	require.NotNil(t, first)
	require.Equal(t, byte(l2capChanATT), first[2], "notifications drain ahead of signaling output")
	require.Equal(t, byte(attOpHandleNotify), first[4])

	second := mux.Pending()
	require.NotNil(t, second)
	require.Equal(t, byte(l2capChanSignaling), second[2])
}

func TestL2CAPResetClosesConnOnDisconnect(t *testing.T) {
	mux, conn, _ := newTestMux(t)
	mux.Reset(false)
	require.True(t, conn.closed)
}
