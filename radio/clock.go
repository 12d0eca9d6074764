package radio

import (
	"time"

	"golang.org/x/sys/unix"
)

// monotonicNow reads CLOCK_MONOTONIC directly, the same primitive real
// radio hardware abstraction layers use to time connection events off
// of a free-running timer rather than wall-clock time, which can step
// backwards under NTP adjustment. Loopback uses it only to timestamp
// ScheduleConnectionEvent calls for diagnostics; it has no bearing on
// the simulated radio's actual scheduling, which is driven by the
// caller invoking Flush/HandleConnectionEvent directly.
func monotonicNow() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)
}
