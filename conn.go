package bluetoe

import (
	"sync"

	"github.com/bluetoe/bluetoe/notifyqueue"
)

// Conn represents the single peripheral-role connection's GATT-level
// state. Bluetoe supports exactly one simultaneous connection (see
// Non-goals), so a Server owns exactly one Conn; its per-connection
// state is reset each time the link layer reports that the connection
// ended.
type Conn struct {
	mu sync.Mutex

	server *Server

	mtu    int // negotiated ATT_MTU, defaults to 23 until Exchange MTU
	maxMTU int // ceiling this connection will ever negotiate up to

	encrypted     bool
	authenticated bool

	// cccd holds the raw two-byte CCCD value per notify/indicate-
	// capable characteristic, indexed the same way as notifyq.
	cccd []uint16

	notifyq *notifyqueue.Queue

	prepared *preparedWriteQueue

	closed bool
}

func newConn(s *Server, cccdCount int, priorities []int) *Conn {
	maxMTU := s.MaxMTU
	if maxMTU <= 0 {
		maxMTU = maxSupportedATTMTU
	}
	return &Conn{
		server:   s,
		mtu:      defaultATTMTU,
		maxMTU:   maxMTU,
		cccd:     make([]uint16, cccdCount),
		notifyq:  notifyqueue.New(cccdCount, priorities),
		prepared: newPreparedWriteQueue(s.preparedWriteQueueSize()),
	}
}

// MTU returns the currently negotiated ATT_MTU.
func (c *Conn) MTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

func (c *Conn) setMTU(m int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mtu = m
}

// Encrypted reports whether the underlying link is currently encrypted.
func (c *Conn) Encrypted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encrypted
}

func (c *Conn) setEncrypted(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encrypted = v
}

// Authenticated reports whether the underlying link used authenticated pairing.
func (c *Conn) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Conn) setAuthenticated(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = v
}

func (c *Conn) cccdValue(idx int) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.cccd) {
		return 0
	}
	return c.cccd[idx]
}

func (c *Conn) setCCCDValue(idx int, v uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.cccd) {
		return
	}
	c.cccd[idx] = v
}

// Notify queues a notification for the characteristic at cccdIdx. It
// is a no-op if the central has not enabled notifications for it. The
// value sent is whatever the characteristic's read path returns at
// the moment the link layer drains the queue, not the state at the
// time Notify was called.
func (c *Conn) Notify(cccdIdx int) {
	if c.cccdValue(cccdIdx)&cccdNotifyBit == 0 {
		return
	}
	if c.notifyq.QueueNotification(cccdIdx) == notifyqueue.NewWork {
		c.server.wakeNotifyLoop()
	}
}

// Indicate queues an indication for the characteristic at cccdIdx. It
// is a no-op if the central has not enabled indications for it.
func (c *Conn) Indicate(cccdIdx int) {
	if c.cccdValue(cccdIdx)&cccdIndicateBit == 0 {
		return
	}
	if c.notifyq.QueueIndication(cccdIdx) == notifyqueue.NewWork {
		c.server.wakeNotifyLoop()
	}
}

// buildNotifyPDU reads the current value of the characteristic owning
// CCCD slot idx and wraps it as a Handle Value Notification/Indication
// ATT PDU, ready to frame and transmit.
func (c *Conn) buildNotifyPDU(kind notifyqueue.Kind, idx int) []byte {
	db := c.server.database()
	if db == nil || idx < 0 || idx >= len(db.cccdValueHandle) {
		return nil
	}
	handle := db.cccdValueHandle[idx]
	a, ok := db.attrs.at(handle)
	if !ok {
		return nil
	}
	out := newAttributeValueWriter(c.MTU() - 3)
	if status := a.access(&AccessRequest{Op: OpRead, Out: out, Conn: c}); status != StatusSuccess {
		return nil
	}
	opcode := byte(attOpHandleNotify)
	if kind == notifyqueue.Indication {
		opcode = attOpHandleIndicate
	}
	pdu := make([]byte, 3+len(out.Bytes()))
	pdu[0] = opcode
	pdu[1] = byte(handle)
	pdu[2] = byte(handle >> 8)
	copy(pdu[3:], out.Bytes())
	return pdu
}

func (c *Conn) close() {
	c.mu.Lock()
	c.closed = true
	c.mtu = defaultATTMTU
	c.encrypted = false
	c.authenticated = false
	for i := range c.cccd {
		c.cccd[i] = 0
	}
	c.mu.Unlock()
	c.notifyq.Reset()
	c.prepared.cancel()
}
