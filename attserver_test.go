package bluetoe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestATTServer(t *testing.T, svc *Service) (*attServer, *Conn) {
	t.Helper()
	srv := &Server{NoGAPService: true}
	srv.services = []*Service{svc}
	srv.db = buildDatabase("", nil, srv.services, true)
	conn := newConn(srv, len(srv.db.cccdPriority), srv.db.cccdPriority)
	return newATTServer(srv.db, conn), conn
}

func TestFindInformationReportsServiceGroupType(t *testing.T) {
	svc := &Service{uuid: UUID16(0x180d)}
	s, _ := newTestATTServer(t, svc)

	// Handle 1 is the lone Primary Service declaration attribute; its
	// reported TYPE must be 0x2800, not the service's own UUID 0x180D.
	req := []byte{attOpFindInfoReq, 1, 0, 1, 0}
	resp := s.handle(req)
	require.Equal(t, byte(attOpFindInfoResp), resp[0])
	require.Equal(t, byte(0x01), resp[1], "16-bit UUID format")
	require.Equal(t, []byte{1, 0}, resp[2:4], "handle 1")
	require.Equal(t, []byte{0x00, 0x28}, resp[4:6], "attribute type must be Primary Service (0x2800)")
}

func TestFindByTypeValueDiscoversServiceByUUID(t *testing.T) {
	heartRate := UUID16(0x180d)
	svc := &Service{uuid: heartRate}
	s, _ := newTestATTServer(t, svc)

	req := []byte{attOpFindByTypeReq, 1, 0, 0xff, 0xff, 0x00, 0x28, 0x0d, 0x18}
	resp := s.handle(req)
	require.Equal(t, byte(attOpFindByTypeResp), resp[0])
	require.Equal(t, []byte{1, 0}, resp[1:3], "found handle")
}

func TestReadByGroupTypeEnumeratesServices(t *testing.T) {
	svc := &Service{uuid: UUID16(0x180d)}
	s, _ := newTestATTServer(t, svc)

	req := []byte{attOpReadByGroupReq, 1, 0, 0xff, 0xff, 0x00, 0x28}
	resp := s.handle(req)
	require.Equal(t, byte(attOpReadByGroupResp), resp[0])
	require.Equal(t, byte(6), resp[1], "2 handle + 2 end handle + 2 byte uuid")
	require.Equal(t, []byte{1, 0}, resp[2:4])
	require.Equal(t, []byte{0x0d, 0x18}, resp[6:8], "group value is the service's own UUID")
}

func TestReadAndWriteCharacteristicValue(t *testing.T) {
	svc := &Service{uuid: UUID16(0x180d)}
	ch := svc.AddCharacteristic(UUID16(0x2a37))
	ch.props = PropRead | PropWrite
	ch.value = []byte{0x42}
	ch.HandleWriteFunc(func(r Request, data []byte) AttributeAccessResult {
		ch.value = data
		return StatusSuccess
	})
	s, _ := newTestATTServer(t, svc)

	// Handle 1: service, handle 2: char decl, handle 3: char value.
	readReq := []byte{attOpReadReq, 3, 0}
	resp := s.handle(readReq)
	require.Equal(t, []byte{attOpReadResp, 0x42}, resp)

	writeReq := []byte{attOpWriteReq, 3, 0, 0x99}
	resp = s.handle(writeReq)
	require.Equal(t, []byte{attOpWriteResp}, resp)
	require.Equal(t, []byte{0x99}, ch.value)
}

func TestWriteToReadOnlyCharacteristicFails(t *testing.T) {
	svc := &Service{uuid: UUID16(0x180d)}
	ch := svc.AddCharacteristic(UUID16(0x2a37))
	ch.props = PropRead
	ch.value = []byte{0x01}
	s, _ := newTestATTServer(t, svc)

	resp := s.handle([]byte{attOpWriteReq, 3, 0, 0xff})
	require.Equal(t, byte(0x01), resp[0], "ATT error response opcode")
	require.Equal(t, StatusWriteNotPermitted, AttributeAccessResult(resp[4]))
}

func TestPrepareAndExecuteWriteAppliesInOrderStoppingAtFirstFailure(t *testing.T) {
	svc := &Service{uuid: UUID16(0x180d)}
	ch1 := svc.AddCharacteristic(UUID16(0x2a37))
	ch1.props = PropRead | PropWrite
	ch1.value = []byte{0}
	ch1.HandleWriteFunc(func(r Request, data []byte) AttributeAccessResult {
		ch1.value = data
		return StatusSuccess
	})
	ch2 := svc.AddCharacteristic(UUID16(0x2a38))
	ch2.props = PropRead | PropWrite
	ch2.value = []byte{0}
	ch2.RequireEncryption()
	ch2.HandleWriteFunc(func(r Request, data []byte) AttributeAccessResult {
		ch2.value = data
		return StatusSuccess
	})
	s, _ := newTestATTServer(t, svc)

	// Handles: 1 svc, 2 decl, 3 ch1 value, 4 decl, 5 ch2 value. ch1's
	// write is queued first and is otherwise perfectly valid; ch2's
	// write is queued second and requires encryption the connection
	// doesn't have. Execute Write applies entries in order and stops
	// at the first failure, so ch1's write stays applied and ch2's
	// does not; the error response reports ch2's handle.
	resp := s.handle([]byte{attOpPrepWriteReq, 3, 0, 0, 0, 0x11})
	require.Equal(t, byte(attOpPrepWriteResp), resp[0])
	resp = s.handle([]byte{attOpPrepWriteReq, 5, 0, 0, 0, 0x22})
	require.Equal(t, byte(attOpPrepWriteResp), resp[0])

	resp = s.handle([]byte{attOpExecWriteReq, 0x01})
	require.Equal(t, byte(0x01), resp[0], "execute must report the error response opcode")
	require.Equal(t, []byte{5, 0}, resp[2:4], "error response must name the failing entry's own handle")
	require.Equal(t, StatusInsufficientEncryption, AttributeAccessResult(resp[4]))
	require.Equal(t, []byte{0x11}, ch1.value, "an earlier entry that already succeeded must stay applied when a later entry fails")
	require.Equal(t, []byte{0}, ch2.value)
}

func TestPrepareWriteQueueFullIsReported(t *testing.T) {
	svc := &Service{uuid: UUID16(0x180d)}
	ch := svc.AddCharacteristic(UUID16(0x2a37))
	ch.props = PropRead | PropWrite
	ch.value = []byte{0}
	ch.HandleWriteFunc(func(r Request, data []byte) AttributeAccessResult { return StatusSuccess })
	srv := &Server{NoGAPService: true, PreparedWriteQueueSize: 1}
	srv.services = []*Service{svc}
	srv.db = buildDatabase("", nil, srv.services, true)
	conn := newConn(srv, len(srv.db.cccdPriority), srv.db.cccdPriority)
	s := newATTServer(srv.db, conn)

	resp := s.handle([]byte{attOpPrepWriteReq, 3, 0, 0, 0, 0x01})
	require.Equal(t, byte(attOpPrepWriteResp), resp[0])
	resp = s.handle([]byte{attOpPrepWriteReq, 3, 0, 0, 0, 0x02})
	require.Equal(t, AttributeAccessResult(resp[4]), StatusPrepareQueueFull)
}

func TestMTUExchangeClipsToServerMax(t *testing.T) {
	srv := &Server{NoGAPService: true, MaxMTU: 50}
	svc := &Service{uuid: UUID16(0x180d)}
	srv.services = []*Service{svc}
	srv.db = buildDatabase("", nil, srv.services, true)
	conn := newConn(srv, 0, nil)
	s := newATTServer(srv.db, conn)

	resp := s.handle([]byte{attOpMtuReq, 0xf7, 0x00}) // client proposes 247
	require.Equal(t, byte(attOpMtuResp), resp[0])
	got := int(resp[1]) | int(resp[2])<<8
	require.Equal(t, 50, got)
	require.Equal(t, 50, conn.MTU())
}
