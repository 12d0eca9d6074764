package linklayer

import (
	"errors"
	"time"
)

// scaPPM is the sleep-clock-accuracy table indexed by the 3-bit SCA
// field of CONNECT_IND, Core Spec Vol 6, Part B, 4.5.7.
var scaPPM = [8]int{500, 250, 150, 100, 75, 50, 30, 20}

// localSCAIndex is bluetoe's own advertised sleep clock accuracy; 50
// ppm (index 5) matches a typical crystal oscillator and the
// upstream's own default.
const localSCAIndex = 5

// ConnectionParameters holds the timing and topology parameters
// negotiated at connection setup and renegotiated by
// LL_CONNECTION_UPDATE_REQ / LL_CHANNEL_MAP_REQ.
type ConnectionParameters struct {
	AccessAddress uint32
	CRCInit       uint32

	ChannelMap     [5]byte // 37-bit channel map, bit i = channel i usable
	HopIncrement   uint8   // 5..16
	Interval       time.Duration
	SlaveLatency   uint16
	Timeout        time.Duration // supervision timeout

	peerSCAIndex uint8
}

// cumulativePPM sums local and peer sleep clock accuracy, used to
// widen receive windows per spec §4.1.
func (p ConnectionParameters) cumulativePPM() int {
	return scaPPM[localSCAIndex] + scaPPM[p.peerSCAIndex&0x7]
}

// ErrBadTimingParameters is returned by ValidateTimingParameters when
// a CONNECT_IND (or a later parameter update) violates the Core
// Specification's acceptance rules.
var ErrBadTimingParameters = errors.New("linklayer: timing parameters out of range")

// ValidateTimingParameters checks the inequalities
// check_timing_parameters() codifies in the upstream implementation:
// transmit window size bounded by both a hard 10ms ceiling and the
// interval itself, the offset bounded by the interval, supervision
// timeout within [100ms, 32s] and large enough to survive the
// negotiated slave latency, and slave latency itself capped at 499
// (the maximum a 16-bit connEventCounter can usefully tolerate).
func ValidateTimingParameters(windowSize, windowOffset, interval, timeout time.Duration, slaveLatency uint16) error {
	if windowSize > 10*time.Millisecond || windowSize > interval {
		return ErrBadTimingParameters
	}
	if windowOffset > interval {
		return ErrBadTimingParameters
	}
	if timeout < 100*time.Millisecond || timeout > 32*time.Second {
		return ErrBadTimingParameters
	}
	if slaveLatency > 499 {
		return ErrBadTimingParameters
	}
	if timeout < time.Duration(slaveLatency+1)*2*interval {
		return ErrBadTimingParameters
	}
	return nil
}

// NextChannel advances the data channel index by hop increment,
// modulo 37, then remaps it through the channel map per Core Spec Vol
// 6, Part B, 4.5.8.2.
func NextChannel(current, hopIncrement uint8, chanMap [5]byte) uint8 {
	unmapped := (current + hopIncrement) % 37
	if channelUsable(chanMap, unmapped) {
		return unmapped
	}
	usable := usableChannels(chanMap)
	if len(usable) == 0 {
		return unmapped
	}
	remapIndex := int(unmapped) % len(usable)
	return usable[remapIndex]
}

func channelUsable(chanMap [5]byte, ch uint8) bool {
	return chanMap[ch/8]&(1<<(ch%8)) != 0
}

func usableChannels(chanMap [5]byte) []uint8 {
	var out []uint8
	for ch := uint8(0); ch < 37; ch++ {
		if channelUsable(chanMap, ch) {
			out = append(out, ch)
		}
	}
	return out
}

// channelMapChannelCount reports how many of the 37 data channels a
// map marks usable; CONNECT_IND acceptance requires at least 2.
func channelMapChannelCount(chanMap [5]byte) int {
	return len(usableChannels(chanMap))
}
