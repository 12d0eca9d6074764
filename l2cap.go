package bluetoe

import "github.com/bluetoe/bluetoe/notifyqueue"

// L2CAP fixed channel identifiers used over an LE data channel, Core
// Spec Vol 3, Part A, 2.1.
const (
	l2capChanATT       = 0x0004
	l2capChanSignaling = 0x0005
	l2capChanSM        = 0x0006
)

// SecurityManagerForwarder is the narrow passthrough the core L2CAP
// multiplexer needs for the Security Manager channel: the SM protocol
// itself is an external collaborator (spec §1), so the mux only
// forwards bytes in and carries bytes back out.
type SecurityManagerForwarder interface {
	HandleSM(conn *Conn, payload []byte) []byte
}

// l2capMux demultiplexes data-channel PDUs by channel id into the ATT
// server, the L2CAP signaling channel, or a Security Manager
// forwarder, matching spec §4.4. It implements linklayer.Upper.
type l2capMux struct {
	conn *Conn
	att  *attServer
	sig  *signalingChannel
	sm   SecurityManagerForwarder

	pendingLen func() bool // true if conn has anything worth draining

	onMalformed func() // invoked when a PDU fails the length check; disconnects
}

func newL2CAPMux(conn *Conn, db *database, sm SecurityManagerForwarder, onMalformed func()) *l2capMux {
	return &l2capMux{
		conn:        conn,
		att:         newATTServer(db, conn),
		sig:         newSignalingChannel(),
		sm:          sm,
		onMalformed: onMalformed,
	}
}

// Deliver implements linklayer.Upper: it validates the L2CAP framing,
// then dispatches payload by channel id.
func (m *l2capMux) Deliver(pdu []byte) []byte {
	if len(pdu) < 4 {
		if m.onMalformed != nil {
			m.onMalformed()
		}
		return nil
	}
	length := le16(pdu[0:2])
	channel := le16(pdu[2:4])
	payload := pdu[4:]
	if int(length) != len(payload) {
		if m.onMalformed != nil {
			m.onMalformed()
		}
		return nil
	}

	var resp []byte
	switch channel {
	case l2capChanATT:
		resp = m.att.handle(payload)
	case l2capChanSignaling:
		resp = m.sig.handle(payload)
	case l2capChanSM:
		if m.sm != nil {
			resp = m.sm.HandleSM(m.conn, payload)
		}
	default:
		return nil
	}
	if resp == nil {
		return nil
	}
	return frameL2CAP(channel, resp)
}

// Pending implements linklayer.Upper: it drains the connection's
// notification/indication queue first (matching spec §4.1 step 4's
// notification priority), then any signaling channel output the
// connection parameter update procedures queued on their own
// initiative.
func (m *l2capMux) Pending() []byte {
	if kind, idx := m.conn.notifyq.Dequeue(); idx >= 0 {
		pdu := m.conn.buildNotifyPDU(kind, idx)
		if pdu != nil {
			if kind == notifyqueue.Indication {
				m.att.lastConfirmedIndex = idx
			}
			return frameL2CAP(l2capChanATT, pdu)
		}
	}
	if out := m.sig.pending(); out != nil {
		return frameL2CAP(l2capChanSignaling, out)
	}
	return nil
}

// Reset implements linklayer.Upper.
func (m *l2capMux) Reset(connected bool) {
	if !connected {
		m.conn.close()
	}
}

func frameL2CAP(channel uint16, payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	out[0] = byte(len(payload))
	out[1] = byte(len(payload) >> 8)
	out[2] = byte(channel)
	out[3] = byte(channel >> 8)
	copy(out[4:], payload)
	return out
}
