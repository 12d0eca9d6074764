package linklayer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluetoe/bluetoe/radio"
)

func newTestEngine() *Engine {
	r := radio.NewLoopback(1)
	return New(r, &fakeUpper{}, nil, [6]byte{1, 2, 3, 4, 5, 6})
}

func TestHandleVersionIndClearsConnParamsFeatureForPreBluetooth41Peer(t *testing.T) {
	e := newTestEngine()
	e.usedFeatures = localFeatures

	// Bluetooth 4.0 reports core version 0x06; a peer at or below that
	// predates LL_CONNECTION_PARAM_REQ support (Core Spec 4.1), so the
	// feature must be cleared even for a peer reporting exactly 0x06.
	e.handleVersionInd([]byte{0x06, 0x00, 0x00, 0x00, 0x00})

	require.Zero(t, e.usedFeatures&featureConnectionParametersRequest, "a Bluetooth 4.0 peer (version 0x06) must not keep LL_CONNECTION_PARAM_REQ")
}

func TestHandleVersionIndKeepsConnParamsFeatureForNewerPeer(t *testing.T) {
	e := newTestEngine()
	e.usedFeatures = localFeatures

	e.handleVersionInd([]byte{0x07, 0x00, 0x00, 0x00, 0x00})

	require.NotZero(t, e.usedFeatures&featureConnectionParametersRequest, "a Bluetooth 4.1+ peer (version 0x07) keeps LL_CONNECTION_PARAM_REQ")
}

func TestHandleVersionIndIgnoresRepeat(t *testing.T) {
	e := newTestEngine()
	e.usedFeatures = localFeatures
	e.handleVersionInd([]byte{0x07, 0x00, 0x00, 0x00, 0x00})

	e.usedFeatures = localFeatures
	e.handleVersionInd([]byte{0x06, 0x00, 0x00, 0x00, 0x00})

	require.NotZero(t, e.usedFeatures&featureConnectionParametersRequest, "a second LL_VERSION_IND in the same connection is ignored")
}
