package bluetoe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotificationPriorityDefaultsToDeclarationOrder(t *testing.T) {
	svc := &Service{uuid: UUID16(0x180d)}
	first := svc.AddCharacteristic(UUID16(0x2a37))
	first.props = PropRead | PropNotify
	second := svc.AddCharacteristic(UUID16(0x2a38))
	second.props = PropRead | PropNotify

	srv := &Server{NoGAPService: true}
	srv.services = []*Service{svc}
	db := buildDatabase("", nil, srv.services, true)

	require.Equal(t, []int{0, 1}, db.cccdPriority, "characteristics that never call SetNotificationPriority each get their own, declaration-ordered bucket")
}

func TestNotificationPrioritySharedBucketDrainsFIFO(t *testing.T) {
	svc := &Service{uuid: UUID16(0x180d)}
	first := svc.AddCharacteristic(UUID16(0x2a37))
	first.props = PropRead | PropNotify
	first.SetNotificationPriority(5)
	second := svc.AddCharacteristic(UUID16(0x2a38))
	second.props = PropRead | PropNotify
	second.SetNotificationPriority(5)

	srv := &Server{NoGAPService: true}
	srv.services = []*Service{svc}
	srv.db = buildDatabase("", nil, srv.services, true)
	require.Equal(t, []int{5, 5}, srv.db.cccdPriority, "two characteristics given the same priority share a bucket instead of each getting a unique one")

	conn := newConn(srv, len(srv.db.cccdPriority), srv.db.cccdPriority)
	conn.setCCCDValue(1, cccdNotifyBit)
	conn.setCCCDValue(0, cccdNotifyBit)

	// Queue the second characteristic's notification before the
	// first's: with a shared priority bucket, arrival order must
	// decide, not declaration index.
	conn.Notify(1)
	conn.Notify(0)

	_, idx := conn.notifyq.Dequeue()
	require.Equal(t, 1, idx, "index 1 was queued first within the shared bucket")

	_, idx = conn.notifyq.Dequeue()
	require.Equal(t, 0, idx)
}
