package linklayer

// LL control PDU opcodes, Core Spec Vol 6, Part B, 2.4.
const (
	opConnectionUpdateReq  = 0x00
	opChannelMapReq        = 0x01
	opTerminateInd         = 0x02
	opEncReq               = 0x03
	opEncRsp               = 0x04
	opStartEncReq          = 0x05
	opStartEncRsp          = 0x06
	opUnknownRsp           = 0x07
	opFeatureReq           = 0x08
	opFeatureRsp           = 0x09
	opPauseEncReq          = 0x0a
	opPauseEncRsp          = 0x0b
	opVersionInd           = 0x0c
	opRejectInd            = 0x0d
	opConnParamReq         = 0x0f
	opConnParamRsp         = 0x10
	opRejectIndExt         = 0x11
	opPingReq              = 0x12
	opPingRsp              = 0x13
)

// Feature bits used by this stack, Core Spec Vol 6, Part B, 4.6.
const (
	featureEncryption                    = 1 << 0
	featureConnectionParametersRequest   = 1 << 1
	featureLEPing                        = 1 << 4
)

// localFeatures is bluetoe's own supported-features bitmap, reported
// in LL_FEATURE_RSP and used as the basis for used_features.
const localFeatures = featureEncryption | featureConnectionParametersRequest | featureLEPing

// localVersion is the version and company identifier sent in
// LL_VERSION_IND: Bluetooth 5.0 (core spec version 9), company ID
// 0x0269 is an unassigned placeholder used by the upstream bluetoe
// project for its own stack identification.
const (
	localVersionNumber  = 0x09 // Core 5.0
	localCompanyID      = 0x0269
	localSubVersion     = 0x0001
)

// dispatchControl handles one LL control PDU received during a
// connection event, per the opcode table in spec §4.2. It queues any
// response via queueControl/queueRaw; a peer-requested
// LL_TERMINATE_IND starts the teardown through beginDisconnect. The
// returned keepAlive is true for every opcode.
func (e *Engine) dispatchControl(body []byte) (keepAlive bool) {
	if len(body) == 0 {
		return true
	}
	opcode := body[0]
	payload := body[1:]

	switch opcode {
	case opConnectionUpdateReq:
		return e.handleConnectionUpdateReq(payload)
	case opChannelMapReq:
		return e.handleChannelMapReq(payload)
	case opTerminateInd:
		e.beginDisconnect(DisconnectPeerTerminated)
		return true
	case opEncReq:
		e.handleEncReq(payload)
		return true
	case opStartEncRsp:
		e.handleStartEncRsp()
		return true
	case opUnknownRsp:
		e.handleUnknownRsp(payload)
		return true
	case opFeatureReq:
		return e.handleFeatureReq(payload)
	case opPauseEncReq:
		e.handlePauseEncReq()
		return true
	case opPauseEncRsp:
		e.handlePauseEncRsp()
		return true
	case opVersionInd:
		return e.handleVersionInd(payload)
	case opRejectInd:
		e.handleRejectInd(payload[0])
		return true
	case opRejectIndExt:
		e.handleRejectInd(payload[1])
		return true
	case opConnParamReq:
		return e.handleConnParamReq(payload)
	case opPingReq:
		e.queueControl(opPingRsp, nil)
		return true
	default:
		e.queueControl(opUnknownRsp, []byte{opcode})
		return true
	}
}

func (e *Engine) handleConnectionUpdateReq(body []byte) bool {
	if len(body) != 11 {
		e.queueControl(opUnknownRsp, []byte{opConnectionUpdateReq})
		return true
	}
	instant := le16(body[9:11])
	e.pending = &pendingControl{
		instant: instant,
		apply: func() {
			windowSize := body[0]
			windowOffset := le16(body[1:3])
			interval := le16(body[3:5])
			latency := le16(body[5:7])
			timeout := le16(body[7:9])
			e.applyConnectionUpdate(windowSize, windowOffset, interval, latency, timeout)
		},
	}
	return true
}

func (e *Engine) handleChannelMapReq(body []byte) bool {
	if len(body) != 7 {
		e.queueControl(opUnknownRsp, []byte{opChannelMapReq})
		return true
	}
	var newMap [5]byte
	copy(newMap[:], body[0:5])
	instant := le16(body[5:7])
	e.pending = &pendingControl{
		instant: instant,
		apply: func() {
			e.params.ChannelMap = newMap
		},
	}
	return true
}

func (e *Engine) handleUnknownRsp(body []byte) {
	if len(body) < 1 {
		return
	}
	if body[0] == opConnParamReq {
		e.paramReqUnsupportedByPeer = true
		e.fallbackToL2CAPParamUpdate()
	}
}

func (e *Engine) handleRejectInd(errorCode byte) {
	if e.awaitingConnParamRsp {
		e.paramReqUnsupportedByPeer = true
		e.fallbackToL2CAPParamUpdate()
	}
}

func (e *Engine) handleFeatureReq(body []byte) bool {
	if len(body) != 8 {
		e.queueControl(opUnknownRsp, []byte{opFeatureReq})
		return true
	}
	var peerFeatures uint64
	for i := 0; i < 8; i++ {
		peerFeatures |= uint64(body[i]) << (8 * i)
	}
	e.usedFeatures = localFeatures & uint32(peerFeatures)
	rsp := make([]byte, 9)
	rsp[0] = opFeatureRsp
	for i := 0; i < 8; i++ {
		rsp[1+i] = byte(e.usedFeatures >> (8 * i))
	}
	e.queueRaw(rsp)
	return true
}

func (e *Engine) handleVersionInd(body []byte) bool {
	if len(body) != 5 {
		e.queueControl(opUnknownRsp, []byte{opVersionInd})
		return true
	}
	if e.sentVersionInd {
		// Per spec §9 open question: a repeated LL_VERSION_IND later
		// in the same connection is intentionally ignored.
		return true
	}
	e.sentVersionInd = true
	peerVersion := body[0]
	if peerVersion <= 0x06 { // Bluetooth 4.0 == core version 6; <=4.0 here means <=0x06
		e.usedFeatures &^= featureConnectionParametersRequest
	}
	rsp := make([]byte, 6)
	rsp[0] = opVersionInd
	rsp[1] = localVersionNumber
	rsp[2] = byte(localCompanyID)
	rsp[3] = byte(localCompanyID >> 8)
	rsp[4] = byte(localSubVersion)
	rsp[5] = byte(localSubVersion >> 8)
	e.queueRaw(rsp)
	return true
}

func (e *Engine) handleConnParamReq(body []byte) bool {
	if len(body) != 23 {
		e.queueControl(opUnknownRsp, []byte{opConnParamReq})
		return true
	}
	rsp := append([]byte{opConnParamRsp}, body...)
	e.queueRaw(rsp)
	return true
}

// fallbackToL2CAPParamUpdate is invoked when the peer signals (via
// LL_UNKNOWN_RSP, LL_REJECT_IND, or LL_REJECT_IND_EXT) that it does
// not support LL_CONNECTION_PARAM_REQ; per spec §4.2 the stack falls
// back to the L2CAP Connection Parameter Update signaling procedure.
func (e *Engine) fallbackToL2CAPParamUpdate() {
	if e.RequestL2CAPParamUpdate != nil {
		e.RequestL2CAPParamUpdate()
	}
}

// pendingControl is an LL control procedure deferred until its
// instant (a future connection event counter value) arrives. Only one
// may be outstanding at a time per spec §4.2.
type pendingControl struct {
	instant uint16
	apply   func()
}
