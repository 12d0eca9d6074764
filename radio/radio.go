// Package radio defines the hardware contract bluetoe's link layer
// drives: a ScheduledRadio that schedules connection events and moves
// PDUs on and off the air, and the pluggable Layout that tells the
// protocol code how those PDUs are laid out in memory.
//
// Everything here is an external collaborator per the core design:
// bluetoe never talks to a radio chip directly, it talks to whatever
// ScheduledRadio the embedder supplies. Loopback, below, is an
// in-memory implementation used by tests and the cmd/bluetoed example;
// a real port backs this interface with DMA buffers and a hardware
// timer instead.
package radio

import "time"

// Layout describes the in-memory geometry of a data channel PDU,
// decoupled from its on-air geometry. A layout that adds a trailing
// MIC or DMA padding can still expose the same Header/Body contract
// to the link layer; the protocol code never assumes byte offsets.
type Layout interface {
	// Header decodes the 2-byte LL data channel PDU header from buf.
	Header(buf []byte) uint16
	// SetHeader encodes header into buf's first two bytes.
	SetHeader(buf []byte, header uint16)
	// Body returns the [begin,end) slice bounds of the PDU payload
	// within buf, after the header and before any trailing bytes
	// (MIC, padding) the hardware requires.
	Body(buf []byte) (begin, end int)
	// DataChannelPDUMemorySize returns how many bytes of memory a PDU
	// carrying payloadSize bytes needs, including header and any
	// hardware-mandated trailer.
	DataChannelPDUMemorySize(payloadSize int) int
}

// DefaultLayout is the plain layout with no MIC or padding: a 2-byte
// header immediately followed by the payload. Radios without
// link-layer encryption hardware (or that decrypt in a separate pass)
// use this.
type DefaultLayout struct{}

func (DefaultLayout) Header(buf []byte) uint16 {
	return uint16(buf[0]) | uint16(buf[1])<<8
}

func (DefaultLayout) SetHeader(buf []byte, header uint16) {
	buf[0] = byte(header)
	buf[1] = byte(header >> 8)
}

func (DefaultLayout) Body(buf []byte) (int, int) {
	return 2, len(buf)
}

func (DefaultLayout) DataChannelPDUMemorySize(payloadSize int) int {
	return 2 + payloadSize
}

// Buffer is a single PDU, in the memory geometry described by a
// Layout. It is a thin view, not an owning allocation: the
// ScheduledRadio that handed it out owns the backing array.
type Buffer struct {
	Mem    []byte
	Layout Layout
}

// Header returns the 2-bit LLID, the NESN/SN/MD bits and the payload
// length, decoded per the layout.
func (b Buffer) Header() uint16 { return b.Layout.Header(b.Mem) }

// SetHeader overwrites the PDU header in place.
func (b Buffer) SetHeader(h uint16) { b.Layout.SetHeader(b.Mem, h) }

// Payload returns the PDU body, excluding header and any trailer.
func (b Buffer) Payload() []byte {
	begin, end := b.Layout.Body(b.Mem)
	return b.Mem[begin:end]
}

// Valid reports whether the buffer refers to backing memory.
func (b Buffer) Valid() bool { return b.Mem != nil }

// ScheduledRadio is the hardware abstraction the link layer drives.
// Every method either runs cooperatively from the application's run()
// loop, or is explicitly documented as callable from ISR context.
type ScheduledRadio interface {
	// AllocateTransmitBuffer reserves size bytes of transmit memory.
	// Callable from ISR context; implementations guard their ring
	// with their own lock_guard equivalent.
	AllocateTransmitBuffer(size int) (Buffer, bool)
	// CommitTransmitBuffer finalizes a previously allocated buffer
	// for transmission on the next connection event.
	CommitTransmitBuffer(buf Buffer)

	// NextReceived returns the oldest completed receive buffer, if any.
	NextReceived() (Buffer, bool)
	// FreeReceived releases the buffer last returned by NextReceived.
	FreeReceived()
	// AllocateReceiveBuffer reserves a receive buffer sized to the
	// radio's configured max_rx_size.
	AllocateReceiveBuffer() (Buffer, bool)

	// ScheduleConnectionEvent arms the radio for the next connection
	// event on channel, opening its receive window at start and
	// closing at end (relative to now), with interval used to plan
	// any subsequent widening. It returns the time remaining until
	// the event actually starts.
	ScheduleConnectionEvent(channel uint8, start, end, interval time.Duration) time.Duration

	// SetAccessAddressAndCRCInit programs the connection's access
	// address and CRC seed once, at connection establishment.
	SetAccessAddressAndCRCInit(accessAddress, crcInit uint32)

	// SetupEncryption derives the session key material from ltk and
	// the two SKD halves, returning this side's (SKDs, IVs).
	SetupEncryption(ltk [16]byte, skdm, ivm uint64) (skds, ivs uint64)
	StartReceiveEncrypted()
	StartTransmitEncrypted()
	StopReceiveEncrypted()
	StopTransmitEncrypted()
	// HardwareSupportsEncryption is a static capability query, not
	// per-connection state.
	HardwareSupportsEncryption() bool

	// StaticRandomAddressSeed returns PRNG-quality entropy the link
	// layer uses to derive a static random device address.
	StaticRandomAddressSeed() uint32

	// SetMaxRxSize / SetMaxTxSize bound the payload size of future
	// allocate calls; used when the negotiated ATT_MTU changes.
	SetMaxRxSize(n int)
	SetMaxTxSize(n int)

	// PDULayout returns the radio's in-memory PDU geometry.
	PDULayout() Layout
}

// Callbacks are the three up-calls a ScheduledRadio delivers into the
// link layer. Implementations must not call application code directly
// from ISR context; they should latch state and let the next run()
// observe it, exactly as spec §5 requires.
type Callbacks interface {
	// AdvReceived is delivered when an advertising-channel PDU (most
	// importantly CONNECT_IND) arrives while advertising.
	AdvReceived(pdu []byte)
	// AdvTimeout is delivered when an advertising event's window closes.
	AdvTimeout()
	// EndEvent is delivered when a connection event completes normally.
	EndEvent()
	// Timeout is delivered when a connection event's receive window
	// closes without a valid PDU (supervision bookkeeping).
	Timeout()
}
