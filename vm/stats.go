package vm

import "time"

// Clock accumulates elapsed time across Start/Stop intervals.
type Clock struct {
	started time.Time
	total   time.Duration
	running bool
}

// Start begins an interval. Starting a running clock does nothing.
func (c *Clock) Start() {
	if c.running {
		return
	}
	c.started = time.Now()
	c.running = true
}

// Stop ends the current interval.
func (c *Clock) Stop() {
	if !c.running {
		return
	}
	c.total += time.Since(c.started)
	c.running = false
}

// Elapsed returns the accumulated time, including a running interval.
func (c *Clock) Elapsed() time.Duration {
	if c.running {
		return c.total + time.Since(c.started)
	}
	return c.total
}

// Stats is a read-only snapshot of a machine's counters. Collecting them
// has no effect on execution.
type Stats struct {
	Instructions uint64
	CPUTime      time.Duration // spent inside instruction handlers
	UserTime     time.Duration // wall time spent in Run
	Pool         PoolStats

	Fibers      int
	Strings     int
	HeapSlots   int
	Allocations int
}
