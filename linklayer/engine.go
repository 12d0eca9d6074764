// Package linklayer implements the Bluetooth Low Energy peripheral
// link layer connection engine: the state machine that takes a
// ScheduledRadio from advertising through a connection, drives
// periodic connection events, recognizes LL control procedures, and
// carries L2CAP PDUs up to an Upper layer (bluetoe's root package ATT
// server and L2CAP multiplexer).
package linklayer

import (
	"time"

	"github.com/bluetoe/bluetoe/radio"
	"github.com/bluetoe/bluetoe/securitymgr"
)

// State is one state of the connection state machine, spec §4.1.
type State int

const (
	StateInitial State = iota
	StateAdvertising
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateAdvertising:
		return "advertising"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// DisconnectReason explains why a connection ended, passed to
// OnDisconnected.
type DisconnectReason int

const (
	DisconnectLocal DisconnectReason = iota
	DisconnectPeerTerminated
	DisconnectSupervisionTimeout
)

// Upper is the collaborator the engine hands L2CAP data PDUs to, and
// pulls outbound L2CAP data from. bluetoe's root package L2CAP
// multiplexer implements this; it is the only way the engine talks to
// the ATT server, signaling channel, and security manager passthrough,
// keeping linklayer free of any import on the att/gatt layer.
type Upper interface {
	// Deliver hands one inbound L2CAP-framed PDU to the upper layer
	// and returns an immediate response PDU to transmit, or nil.
	Deliver(payload []byte) []byte
	// Pending returns the next L2CAP-framed PDU the upper layer has
	// queued on its own initiative (GATT notifications/indications,
	// outgoing signaling requests), or nil if there is none.
	Pending() []byte
	// Reset tells the upper layer a connection has begun (connected
	// true) or ended (connected false), so per-connection state
	// (CCCD bitmap, notify queue, prepared-write queue) can reset.
	Reset(connected bool)
}

// minRingCapacity is the number of in-flight PDUs each ring buffer
// holds; bluetoe is allocation-free at steady state; this is the
// entire compile-time budget for unacknowledged/undelivered PDUs.
const minRingCapacity = 4

// Engine is the link-layer connection engine: a single peripheral
// connection driven by one ScheduledRadio. It owns the radio, the PDU
// rings, and all per-connection protocol state; there is no global
// mutable state reachable outside of an Engine instance.
type Engine struct {
	radio    radio.ScheduledRadio
	security securitymgr.Manager
	upper    Upper

	localAddress [6]byte

	state State

	params  ConnectionParameters
	channel uint8

	eventCounter uint16

	tx *TxRing
	rx *RxRing

	pending                   *pendingControl
	awaitingConnParamRsp      bool
	paramReqUnsupportedByPeer bool
	sentVersionInd            bool
	usedFeatures              uint32

	enc           encState
	authenticated bool

	disconnecting     bool
	disconnectReason   DisconnectReason
	terminatePending   bool // we queued LL_TERMINATE_IND, awaiting one more event
	eventsWithoutRx    int  // during "connecting", counts initial receive windows
	lastRxAt           time.Time
	supervisionTimeout time.Duration

	// OnConnected fires once the first connection event succeeds.
	OnConnected func()
	// OnDisconnected fires once the connection has fully torn down.
	OnDisconnected func(reason DisconnectReason)
	// OnEncryptionChanged fires whenever encryption becomes fully
	// established (both directions) or drops.
	OnEncryptionChanged func(encrypted bool)
	// RequestL2CAPParamUpdate is invoked when the peer has signaled it
	// does not support LL_CONNECTION_PARAM_REQ, so the upper layer
	// should fall back to L2CAP signaling.
	RequestL2CAPParamUpdate func()
}

// New creates an Engine bound to r. security may be nil if the
// embedder never enables encryption (LL_ENC_REQ will then always be
// answered with a key-missing rejection).
func New(r radio.ScheduledRadio, upper Upper, security securitymgr.Manager, localAddress [6]byte) *Engine {
	return &Engine{
		radio:        r,
		upper:        upper,
		security:     security,
		localAddress: localAddress,
		state:        StateInitial,
		tx:           NewTxRing(minRingCapacity),
		rx:           NewRxRing(minRingCapacity),
	}
}

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

// Start transitions the engine from initial into advertising; the
// embedder is responsible for actually driving advertising PDUs
// (non-goal of this package; the embedder's own advertiser does it).
func (e *Engine) Start() {
	if e.state != StateInitial {
		return
	}
	e.state = StateAdvertising
}

// ConnectIndFields are the parsed fields of a CONNECT_IND PDU the
// advertiser hands the engine once it receives one addressed to us.
type ConnectIndFields struct {
	AccessAddress uint32
	CRCInit       uint32
	WindowSize    time.Duration
	WindowOffset  time.Duration
	Interval      time.Duration
	SlaveLatency  uint16
	Timeout       time.Duration
	ChannelMap    [5]byte
	HopIncrement  uint8
	SCA           uint8
}

// Accept validates a CONNECT_IND per spec §4.1's acceptance rules and,
// if valid, transitions advertising -> connecting and programs the
// radio for the first connection event. It returns false (leaving the
// engine in advertising) if any rule is violated.
func (e *Engine) Accept(f ConnectIndFields) bool {
	if e.state != StateAdvertising {
		return false
	}
	if f.HopIncrement < 5 || f.HopIncrement > 16 {
		return false
	}
	if channelMapChannelCount(f.ChannelMap) < 2 {
		return false
	}
	if err := ValidateTimingParameters(f.WindowSize, f.WindowOffset, f.Interval, f.Timeout, f.SlaveLatency); err != nil {
		return false
	}

	e.params = ConnectionParameters{
		AccessAddress: f.AccessAddress,
		CRCInit:       f.CRCInit,
		ChannelMap:    f.ChannelMap,
		HopIncrement:  f.HopIncrement,
		Interval:      f.Interval,
		SlaveLatency:  f.SlaveLatency,
		Timeout:       f.Timeout,
		peerSCAIndex:  f.SCA & 0x7,
	}
	e.supervisionTimeout = f.Timeout
	e.channel = NextChannel(0, f.HopIncrement, f.ChannelMap)
	e.eventCounter = 0
	e.eventsWithoutRx = 0

	e.radio.SetAccessAddressAndCRCInit(f.AccessAddress, f.CRCInit)

	ppm := e.params.cumulativePPM()
	windowStart := f.WindowOffset - scaleByPPM(f.WindowOffset, ppm)
	windowEnd := f.WindowOffset + f.WindowSize + scaleByPPM(f.WindowOffset+f.WindowSize, ppm)
	e.radio.ScheduleConnectionEvent(e.channel, windowStart, windowEnd, f.Interval)

	e.state = StateConnecting
	e.upper.Reset(true)
	return true
}

func scaleByPPM(d time.Duration, ppm int) time.Duration {
	return d * time.Duration(ppm) / 1_000_000
}

// HandleConnectionEvent runs one connection event's worth of protocol
// processing: it applies any pending LL control procedure whose
// instant has arrived (step 2), drains received PDUs (step 3), emits queued
// outbound PDUs (step 4), and advances the channel/event counter and
// reschedules the next event (steps 5-6). Exactly spec §4.1's
// per-event orchestration, in order.
func (e *Engine) HandleConnectionEvent() {
	if e.state != StateConnecting && e.state != StateConnected && e.state != StateDisconnecting {
		return
	}

	e.applyPendingAtInstant()

	receivedAny := e.drainReceived()

	if receivedAny {
		e.lastRxAt = time.Now()
		if e.state == StateConnecting {
			e.state = StateConnected
			if e.OnConnected != nil {
				e.OnConnected()
			}
		}
	} else if e.state == StateConnecting {
		e.eventsWithoutRx++
	}

	if e.checkSupervisionTimeout(receivedAny) {
		return
	}

	e.emitOutbound()

	e.advance()
}

// applyPendingAtInstant applies a deferred LL control procedure (spec
// §4.2's CONNECTION_UPDATE_REQ / CHANNEL_MAP_REQ) once the current
// event counter matches its instant. If the instant has already
// passed without being applied, the connection is torn down, matching
// the "disconnect if instant already past" rule.
func (e *Engine) applyPendingAtInstant() {
	if e.pending == nil {
		return
	}
	diff := int16(e.pending.instant - e.eventCounter)
	if diff == 0 {
		apply := e.pending.apply
		e.pending = nil
		apply()
		return
	}
	if diff < 0 {
		e.pending = nil
		e.beginDisconnect(DisconnectLocal)
	}
}

// drainReceived processes every PDU currently queued in the radio's
// receive path, classifying each as LL control or L2CAP per LLID and
// dispatching it, and acknowledges our transmit head against the
// peer's NESN bit carried in each PDU as it is taken off the radio.
func (e *Engine) drainReceived() (any bool) {
	for {
		buf, ok := e.radio.NextReceived()
		if !ok {
			break
		}
		header := buf.Header()
		payload := buf.Payload()
		if e.rx.Received(header, payload) {
			any = true
			e.tx.Ack(headerNESN(header))
			llid, body, ok := e.rx.NextReceived()
			if ok {
				switch llid {
				case llidLLControl:
					e.dispatchControl(body)
				case llidL2CAPStart:
					if resp := e.upper.Deliver(body); resp != nil {
						e.queueL2CAP(resp)
					}
				}
				e.rx.FreeReceived()
			}
		} else {
			// Even a dropped (empty/duplicate) PDU still carries a
			// valid NESN we must honor for retransmission bookkeeping.
			e.tx.Ack(headerNESN(header))
			any = true
		}
		e.radio.FreeReceived()
	}
	return any
}

// checkSupervisionTimeout enforces spec §4.1's supervision rule: no
// valid-CRC PDU within timeout_value x 10ms tears the connection down
// and returns to advertising. During the initial "connecting" state,
// at least 5 receive windows must elapse first.
func (e *Engine) checkSupervisionTimeout(receivedAny bool) bool {
	if receivedAny {
		return false
	}
	if e.state == StateConnecting {
		if e.eventsWithoutRx < 5 {
			return false
		}
		e.teardownToAdvertising(DisconnectSupervisionTimeout)
		return true
	}
	if !e.lastRxAt.IsZero() && time.Since(e.lastRxAt) >= e.supervisionTimeout {
		e.teardownToAdvertising(DisconnectSupervisionTimeout)
		return true
	}
	return false
}

// emitOutbound transmits this event's PDU in spec §4.1 step 4's
// priority order: (a) LL control responses already queued by
// dispatchControl during this event's drainReceived, (b)
// notifications/indications and other upper-layer output, pulled one
// PDU at a time as transmit ring space allows. LL control PDUs were
// already placed on e.tx by queueControl/queueRaw, ahead of anything
// queueL2CAP adds here, so ordering falls out of allocation order.
func (e *Engine) emitOutbound() {
	for e.tx.count < len(e.tx.entries) {
		pending := e.upper.Pending()
		if pending == nil {
			break
		}
		e.queueL2CAP(pending)
	}

	nesn := e.rx.NESN()
	header, payload := e.tx.NextTransmit(nesn)
	size := 2 + len(payload)
	buf, ok := e.radio.AllocateTransmitBuffer(size)
	if !ok {
		return
	}
	buf.SetHeader(header)
	copy(buf.Payload(), payload)
	e.radio.CommitTransmitBuffer(buf)

	if e.terminatePending {
		e.teardownToAdvertising(e.disconnectReason)
	}
}

// advance applies spec §4.1 steps 5-6: hop to the next data channel,
// increment (and wrap) the event counter, and reschedule the next
// connection event, widened by the connection's cumulative ppm.
func (e *Engine) advance() {
	if e.state != StateConnected && e.state != StateConnecting {
		return
	}
	e.channel = NextChannel(e.channel, e.params.HopIncrement, e.params.ChannelMap)
	e.eventCounter++

	interval := e.params.Interval
	ppm := e.params.cumulativePPM()
	widened := scaleByPPM(interval, ppm)
	e.radio.ScheduleConnectionEvent(e.channel, interval-widened, interval+widened, interval)
}

func (e *Engine) applyConnectionUpdate(windowSize, windowOffset, interval, latency, timeout uint16) {
	e.params.Interval = time.Duration(interval) * 1250 * time.Microsecond
	e.params.SlaveLatency = latency
	e.params.Timeout = time.Duration(timeout) * 10 * time.Millisecond
	e.supervisionTimeout = e.params.Timeout
}

// Disconnect begins a local disconnect: LL_TERMINATE_IND is queued for
// the current event, and the state machine returns to advertising
// after that PDU has been committed for transmission.
func (e *Engine) Disconnect() {
	if e.state != StateConnected && e.state != StateConnecting {
		return
	}
	e.beginDisconnect(DisconnectLocal)
}

func (e *Engine) beginDisconnect(reason DisconnectReason) {
	if e.state == StateDisconnecting {
		return
	}
	e.state = StateDisconnecting
	e.disconnectReason = reason
	if reason == DisconnectLocal {
		e.queueControl(opTerminateInd, []byte{0x13}) // remote user terminated connection
		e.terminatePending = true
		return
	}
	// Peer-initiated termination: no further ack is required, tear
	// down after this event commits whatever is already queued.
	e.terminatePending = true
}

func (e *Engine) teardownToAdvertising(reason DisconnectReason) {
	e.state = StateAdvertising
	e.tx.Reset()
	e.rx.Reset()
	e.pending = nil
	e.awaitingConnParamRsp = false
	e.paramReqUnsupportedByPeer = false
	e.sentVersionInd = false
	e.usedFeatures = 0
	e.enc.reset()
	e.authenticated = false
	e.terminatePending = false
	e.lastRxAt = time.Time{}
	e.upper.Reset(false)
	if e.OnDisconnected != nil {
		e.OnDisconnected(reason)
	}
}

// queueControl allocates and commits an LL control PDU consisting of
// opcode followed by body.
func (e *Engine) queueControl(opcode byte, body []byte) {
	e.queueRaw(append([]byte{opcode}, body...))
}

// queueRaw commits raw is an already-framed LL control PDU (opcode +
// body) onto the transmit ring.
func (e *Engine) queueRaw(raw []byte) {
	buf, ok := e.tx.Allocate(llidLLControl, len(raw))
	if !ok {
		return
	}
	copy(buf, raw)
	e.tx.Commit()
}

// queueL2CAP commits an already L2CAP-framed PDU (length+channel_id+
// payload, from the upper layer) onto the transmit ring.
func (e *Engine) queueL2CAP(framed []byte) {
	buf, ok := e.tx.Allocate(llidL2CAPStart, len(framed))
	if !ok {
		return
	}
	copy(buf, framed)
	e.tx.Commit()
}

// UsedFeatures returns the features bitmap negotiated with the peer
// via LL_FEATURE_REQ/RSP (0 until negotiated).
func (e *Engine) UsedFeatures() uint32 { return e.usedFeatures }

// Encrypted reports whether both directions of link layer encryption
// are currently enabled.
func (e *Engine) Encrypted() bool { return e.enc.established() }

// Authenticated reports whether the most recent encryption
// negotiation used an authenticated bond.
func (e *Engine) Authenticated() bool { return e.authenticated }
