package linklayer

import "time"

// ParseConnectIndFields decodes the timing- and topology-relevant
// fields of a CONNECT_IND advertising channel PDU's payload (AdvA and
// InitA already stripped by the advertiser), Core Spec Vol 6, Part B,
// 2.3.3.1. It performs no acceptance validation; call Engine.Accept
// with the result for that.
func ParseConnectIndFields(payload []byte) (ConnectIndFields, bool) {
	if len(payload) != 22 {
		return ConnectIndFields{}, false
	}
	aa := le32(payload[0:4])
	crcInit := uint32(payload[4]) | uint32(payload[5])<<8 | uint32(payload[6])<<16
	windowSize := time.Duration(payload[7]) * 1250 * time.Microsecond
	windowOffset := time.Duration(le16(payload[8:10])) * 1250 * time.Microsecond
	interval := time.Duration(le16(payload[10:12])) * 1250 * time.Microsecond
	latency := le16(payload[12:14])
	timeout := time.Duration(le16(payload[14:16])) * 10 * time.Millisecond

	var chanMap [5]byte
	copy(chanMap[:], payload[16:21])

	hopAndSCA := payload[21]
	hop := hopAndSCA & 0x1f
	sca := (hopAndSCA >> 5) & 0x07

	return ConnectIndFields{
		AccessAddress: aa,
		CRCInit:       crcInit,
		WindowSize:    windowSize,
		WindowOffset:  windowOffset,
		Interval:      interval,
		SlaveLatency:  latency,
		Timeout:       timeout,
		ChannelMap:    chanMap,
		HopIncrement:  hop,
		SCA:           sca,
	}, true
}
