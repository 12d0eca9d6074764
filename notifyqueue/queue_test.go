package notifyqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDequeuePicksHigherPriorityFirst(t *testing.T) {
	q := New(3, []int{2, 0, 1})
	q.QueueNotification(0)
	q.QueueNotification(1)
	q.QueueNotification(2)

	kind, idx := q.Dequeue()
	require.Equal(t, Notification, kind)
	require.Equal(t, 1, idx, "index 1 has priority 0, the lowest value, so it drains first")
}

func TestDequeueIsFIFOWithinEqualPriorityBucket(t *testing.T) {
	// Two characteristics sharing a priority bucket (as
	// Characteristic.SetNotificationPriority lets an embedder declare)
	// must drain in the order they were queued, not by index.
	q := New(3, []int{5, 5, 5})
	q.QueueNotification(2)
	q.QueueNotification(0)
	q.QueueNotification(1)

	kind, idx := q.Dequeue()
	require.Equal(t, Notification, kind)
	require.Equal(t, 2, idx, "index 2 was queued first among the equal-priority bucket")

	_, idx = q.Dequeue()
	require.Equal(t, 0, idx)

	_, idx = q.Dequeue()
	require.Equal(t, 1, idx)
}

func TestIndicationBlocksUntilConfirmed(t *testing.T) {
	q := New(1, nil)
	q.QueueIndication(0)

	kind, idx := q.Dequeue()
	require.Equal(t, Indication, kind)
	require.Equal(t, 0, idx)

	q.QueueIndication(0)
	emptyKind, emptyIdx := q.Dequeue()
	require.Equal(t, Empty, emptyKind)
	require.Equal(t, -1, emptyIdx, "a second indication on the same index stays blocked until confirmed")

	q.Confirmed(0)
	kind, idx = q.Dequeue()
	require.Equal(t, Indication, kind)
	require.Equal(t, 0, idx)
}

func TestQueueSameKindTwiceIsNoChange(t *testing.T) {
	q := New(1, nil)
	require.Equal(t, NewWork, q.QueueNotification(0))
	require.Equal(t, NoChange, q.QueueNotification(0))
}
