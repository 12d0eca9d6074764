package bluetoe

// preparedWriteQueue implements the ATT Prepare Write / Execute Write
// queue (opcodes 0x16/0x18). The queue is a single shared resource per
// connection: there is exactly one owner at a time. Execute Write
// applies queued entries strictly in order and stops at the first
// failure; it is not a transaction across the whole queue, so entries
// applied before a later failure stay applied.
type preparedWriteQueue struct {
	capacity int
	entries  []preparedEntry
}

type preparedEntry struct {
	handle uint16
	offset int
	value  []byte
}

func newPreparedWriteQueue(capacity int) *preparedWriteQueue {
	return &preparedWriteQueue{capacity: capacity}
}

// StatusPrepareQueueFull is returned when the queue has no room left;
// it maps directly to the ATT "Prepare Queue Full" error (0x09).
const StatusPrepareQueueFull AttributeAccessResult = 0x09

// push appends an entry, returning StatusPrepareQueueFull if the
// configured capacity is exceeded.
func (q *preparedWriteQueue) push(handle uint16, offset int, value []byte) AttributeAccessResult {
	if q.capacity > 0 && len(q.entries) >= q.capacity {
		return StatusPrepareQueueFull
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	q.entries = append(q.entries, preparedEntry{handle: handle, offset: offset, value: buf})
	return StatusSuccess
}

// cancel discards all queued entries without applying them (Execute
// Write flag 0x00).
func (q *preparedWriteQueue) cancel() {
	q.entries = q.entries[:0]
}

// execute applies every queued entry in order via apply, stopping at
// the first failure. Entries already applied before the failing one
// stay applied: Execute Write is not all-or-nothing across the whole
// queue, only strictly ordered (Core Spec Vol 3, Part F, 3.4.6.3 and
// 3.4.9 both describe execution stopping at the first error, not
// unwinding prior writes). On failure, execute returns the failing
// entry's handle alongside its status so the caller can build an
// accurate error response.
func (q *preparedWriteQueue) execute(apply func(handle uint16, offset int, value []byte) AttributeAccessResult) (uint16, AttributeAccessResult) {
	defer q.cancel()
	for _, e := range q.entries {
		if status := apply(e.handle, e.offset, e.value); status != StatusSuccess {
			return e.handle, status
		}
	}
	return 0, StatusSuccess
}

func (q *preparedWriteQueue) empty() bool { return len(q.entries) == 0 }
