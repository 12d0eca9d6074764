package linklayer

// LLID values, Core Spec Vol 6, Part B, 2.3: the 2-bit PDU type on a
// data channel.
const (
	llidEmptyOrContinuation = 1
	llidL2CAPStart          = 2
	llidLLControl           = 3
)

// header bit layout within the 16-bit in-memory header word (matches
// the on-air LL data channel PDU header, Core Spec Vol 6, Part B, 2.3).
const (
	headerLLIDMask  = 0x0003
	headerNESNBit   = 0x0004
	headerSNBit     = 0x0008
	headerMDBit     = 0x0010
	headerLenShift  = 8
	headerLenMask   = 0xff00
)

func makeHeader(llid uint16, sn, nesn, md bool, length int) uint16 {
	h := llid & headerLLIDMask
	if sn {
		h |= headerSNBit
	}
	if nesn {
		h |= headerNESNBit
	}
	if md {
		h |= headerMDBit
	}
	h |= uint16(length) << headerLenShift & headerLenMask
	return h
}

func headerLLID(h uint16) uint16 { return h & headerLLIDMask }
func headerSN(h uint16) bool     { return h&headerSNBit != 0 }
func headerNESN(h uint16) bool   { return h&headerNESNBit != 0 }
func headerLen(h uint16) int     { return int(h&headerLenMask) >> headerLenShift }

// defaultDataSize is the maximum LL data payload restored on reset:
// 27 bytes, not counting the 2-byte header (29 bytes of PDU in all).
// It carries one default 23-byte ATT PDU plus its 4-byte L2CAP
// framing.
const defaultDataSize = 27

// txEntry is one transmit-ring slot: either empty, or holding a
// committed PDU payload awaiting transmission/retransmission.
type txEntry struct {
	llid      uint16
	payload   []byte
	committed bool
}

// TxRing is the transmit side of the data PDU buffer: a ring of
// compile-time-sized slots, with BLE's implicit SN/NESN
// acknowledgement layered on top.
type TxRing struct {
	entries []txEntry
	head    int // oldest committed, not-yet-acked entry
	count   int // number of committed entries

	maxSize int // current max_tx_size

	sn bool // our sequence number for the head entry
}

// NewTxRing creates a transmit ring with room for capacity pending PDUs.
func NewTxRing(capacity int) *TxRing {
	return &TxRing{entries: make([]txEntry, capacity), maxSize: defaultDataSize}
}

// SetMaxSize adjusts the maximum payload size accepted by Allocate,
// used when MTU negotiation changes max_tx_size.
func (r *TxRing) SetMaxSize(n int) { r.maxSize = n }

// Allocate reserves a slot for an LL-control or L2CAP PDU of the
// given LLID and payload size. It returns ok=false if the ring is
// full or size exceeds the current max payload size.
func (r *TxRing) Allocate(llid uint16, size int) (buf []byte, ok bool) {
	if size > r.maxSize || r.count >= len(r.entries) {
		return nil, false
	}
	idx := (r.head + r.count) % len(r.entries)
	r.entries[idx] = txEntry{llid: llid, payload: make([]byte, size)}
	return r.entries[idx].payload, true
}

// Commit finalizes the most recently allocated (uncommitted) slot.
// It is a no-op if nothing is pending commit.
func (r *TxRing) Commit() {
	if r.count >= len(r.entries) {
		return
	}
	idx := (r.head + r.count) % len(r.entries)
	if r.entries[idx].payload == nil {
		return
	}
	r.entries[idx].committed = true
	r.count++
}

// NextTransmit returns the header and payload bytes of the PDU to
// transmit this event: the oldest committed-and-unacked entry, or a
// synthesized empty PDU (LLID=1, len=0) when the ring holds nothing.
// nesn is this side's current NESN (next expected sequence number
// from the peer); md is set when More Data follows.
func (r *TxRing) NextTransmit(nesn bool) (header uint16, payload []byte) {
	if r.count == 0 {
		return makeHeader(llidEmptyOrContinuation, r.sn, nesn, false, 0), nil
	}
	idx := r.head % len(r.entries)
	e := r.entries[idx]
	md := r.count > 1
	return makeHeader(e.llid, r.sn, nesn, md, len(e.payload)), e.payload
}

// Ack processes the peer's NESN bit from a just-received PDU. If it
// differs from this side's current SN, the peer acknowledged the head
// entry: free it and toggle SN. Otherwise the head is retransmitted
// unchanged next event.
func (r *TxRing) Ack(peerNESN bool) {
	if r.count == 0 {
		return
	}
	if peerNESN == r.sn {
		return // not yet acked, same PDU goes out again
	}
	r.sn = !r.sn
	r.entries[r.head%len(r.entries)] = txEntry{}
	r.head = (r.head + 1) % len(r.entries)
	r.count--
}

// Pending reports whether there is a committed PDU awaiting transmission.
func (r *TxRing) Pending() bool { return r.count > 0 }

// rxEntry is one receive-ring slot: a completed, accepted PDU.
type rxEntry struct {
	llid    uint16
	payload []byte
}

// RxRing is the receive side of the data PDU buffer: a single-
// consumer FIFO of accepted PDUs, with duplicate/empty filtering and
// NESN bookkeeping.
type RxRing struct {
	entries []rxEntry
	head    int
	count   int

	maxSize int

	haveLast bool
	lastSN   bool
	nesn     bool // next expected SN from the peer

	// PacketCount increments once per accepted non-empty PDU; the
	// encryption integration uses it as the nonce/counter input.
	PacketCount uint64
}

// NewRxRing creates a receive ring with room for capacity accepted PDUs.
func NewRxRing(capacity int) *RxRing {
	return &RxRing{entries: make([]rxEntry, capacity), maxSize: defaultDataSize}
}

func (r *RxRing) SetMaxSize(n int) { r.maxSize = n }

// NESN returns the sequence number this side expects from the peer
// next; it is echoed in our own transmitted PDU headers.
func (r *RxRing) NESN() bool { return r.nesn }

// Received processes one arrived PDU. It returns true if the PDU was
// accepted (new, non-duplicate, and queued or otherwise consumed).
// Empty PDUs (LLID=1, len=0) and duplicates (unchanged SN versus the
// last accepted PDU) are silently dropped: they leave NESN and the
// packet counter unchanged and never reach NextReceived (the engine
// still applies their NESN bit to its transmit ring).
func (r *RxRing) Received(header uint16, payload []byte) (accepted bool) {
	sn := headerSN(header)
	llid := headerLLID(header)
	length := headerLen(header)

	if llid == llidEmptyOrContinuation && length == 0 {
		return false
	}
	if r.haveLast && sn == r.lastSN {
		return false // duplicate retransmission
	}
	r.haveLast = true
	r.lastSN = sn
	r.nesn = !r.nesn
	r.PacketCount++

	if r.count < len(r.entries) {
		idx := (r.head + r.count) % len(r.entries)
		buf := make([]byte, length)
		copy(buf, payload[:length])
		r.entries[idx] = rxEntry{llid: llid, payload: buf}
		r.count++
	}
	return true
}

// NextReceived returns the oldest accepted, not-yet-freed PDU.
func (r *RxRing) NextReceived() (llid uint16, payload []byte, ok bool) {
	if r.count == 0 {
		return 0, nil, false
	}
	e := r.entries[r.head%len(r.entries)]
	return e.llid, e.payload, true
}

// FreeReceived releases the PDU last returned by NextReceived.
func (r *RxRing) FreeReceived() {
	if r.count == 0 {
		return
	}
	r.entries[r.head%len(r.entries)] = rxEntry{}
	r.head = (r.head + 1) % len(r.entries)
	r.count--
}

// Reset restores both rings (and negotiated sizes) to their
// post-connection defaults, for reuse across connections.
func (r *TxRing) Reset() {
	for i := range r.entries {
		r.entries[i] = txEntry{}
	}
	r.head, r.count, r.sn = 0, 0, false
	r.maxSize = defaultDataSize
}

func (r *RxRing) Reset() {
	for i := range r.entries {
		r.entries[i] = rxEntry{}
	}
	r.head, r.count = 0, 0
	r.haveLast, r.lastSN, r.nesn = false, false, false
	r.PacketCount = 0
}
