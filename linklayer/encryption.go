package linklayer

// encState tracks the LL_ENC_REQ / LL_START_ENC_REQ handshake from
// spec §4.6. Encryption is considered established (visible via the
// connection's encrypted callback) only once both directions are
// enabled.
type encState struct {
	negotiating bool
	rxEnabled   bool
	txEnabled   bool

	awaitingPeerStartRsp bool
	sentOwnStartRsp      bool

	ltk  [16]byte
	skdm uint64
	ivm  uint64
}

func (e *encState) established() bool { return e.rxEnabled && e.txEnabled }

func (e *encState) reset() {
	*e = encState{}
}

// handleEncReq implements step 1-4 of spec §4.6: look up the LTK,
// derive this side's SKDs/IVs from the radio, and queue LL_ENC_RSP
// plus either LL_START_ENC_REQ (key found) or LL_REJECT_IND (not
// found).
func (e *Engine) handleEncReq(body []byte) {
	if len(body) != 22 {
		e.queueControl(opUnknownRsp, []byte{opEncReq})
		return
	}
	e.enc.negotiating = true

	rnd := le64(body[0:8])
	ediv := le16(body[8:10])
	skdm := le64(body[10:18])
	ivm := le32(body[18:22])

	var ltk [16]byte
	var authenticated, found bool
	if e.security != nil {
		ltk, authenticated, found = e.security.FindKey(ediv, rnd)
	}
	e.enc.ltk = ltk
	e.enc.skdm = skdm
	e.enc.ivm = uint64(ivm)

	skds, ivs := e.radio.SetupEncryption(ltk, skdm, uint64(ivm))

	rsp := make([]byte, 13)
	rsp[0] = opEncRsp
	putLE64(rsp[1:9], skds)
	putLE32(rsp[9:13], uint32(ivs))
	e.queueRaw(rsp)

	if !found {
		e.queueControl(opRejectInd, []byte{0x06}) // pin or key missing
		return
	}
	if authenticated {
		e.authenticated = true
	}
	e.radio.StartReceiveEncrypted()
	e.enc.rxEnabled = true
	e.enc.awaitingPeerStartRsp = true
	e.queueControl(opStartEncReq, nil)
}

// handleStartEncRsp implements the remainder of §4.6: once the peer's
// LL_START_ENC_RSP arrives, enable transmit encryption and reply with
// our own LL_START_ENC_RSP.
func (e *Engine) handleStartEncRsp() {
	if e.enc.awaitingPeerStartRsp {
		e.enc.awaitingPeerStartRsp = false
		e.enc.negotiating = false
		e.radio.StartTransmitEncrypted()
		e.enc.txEnabled = true
		e.queueControl(opStartEncRsp, nil)
		e.notifyEncryptionChanged()
		return
	}
	// We are the peer that initiated and already sent our own
	// LL_START_ENC_REQ/RSP exchange completing; nothing further to do.
}

func (e *Engine) handlePauseEncReq() {
	e.radio.StopReceiveEncrypted()
	e.enc.rxEnabled = false
	e.queueControl(opPauseEncRsp, nil)
	e.notifyEncryptionChanged()
}

func (e *Engine) handlePauseEncRsp() {
	e.radio.StopTransmitEncrypted()
	e.enc.txEnabled = false
	e.notifyEncryptionChanged()
}

func (e *Engine) notifyEncryptionChanged() {
	if e.OnEncryptionChanged != nil {
		e.OnEncryptionChanged(e.enc.established())
	}
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
