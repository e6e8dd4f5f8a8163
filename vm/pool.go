package vm

// ---------------------------------------------------------------------------
// Pool: recycled Value boxes
// ---------------------------------------------------------------------------

// minPoolSize is the free-list size always allowed, regardless of live count.
const minPoolSize = 10

// Pool hands out *Value boxes for operand stacks and the heap and takes them
// back when they are discarded. With pooling disabled every Acquire
// allocates; the VM's observable behaviour is the same either way, only the
// counters differ.
//
// A Pool is owned by a single Machine and is not safe for concurrent use.
type Pool struct {
	enabled bool
	free    []*Value

	live    int
	maxLive int
	hits    uint64
	misses  uint64
}

// NewPool creates a pool. When enabled is false the pool always allocates.
func NewPool(enabled bool) *Pool {
	return &Pool{enabled: enabled}
}

// PoolStats is a snapshot of pool accounting.
type PoolStats struct {
	Hits      uint64
	Misses    uint64
	Live      int
	MaxLive   int
	Available int
}

// Enabled reports whether boxes are recycled.
func (p *Pool) Enabled() bool { return p.enabled }

// Acquire returns a box holding v. The box's fields are always freshly
// overwritten.
func (p *Pool) Acquire(v Value) *Value {
	var box *Value
	if n := len(p.free); p.enabled && n > 0 {
		box = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.hits++
	} else {
		box = new(Value)
		p.misses++
	}
	*box = v

	p.live++
	if p.live > p.maxLive {
		p.maxLive = p.live
	}
	return box
}

// Clone returns a fresh box with the same kind and payload as box.
func (p *Pool) Clone(box *Value) *Value {
	return p.Acquire(*box)
}

// Release hands a box back. The caller must not read it again. Releasing a
// box twice is an internal error and panics.
func (p *Pool) Release(box *Value) {
	if box == nil {
		return
	}
	if box.kind == kindReleased {
		panic("vm: value box released twice")
	}
	*box = Value{kind: kindReleased}
	p.live--

	if !p.enabled {
		return
	}
	if len(p.free) <= max(p.live*2, minPoolSize) {
		p.free = append(p.free, box)
	}
}

// ReleaseAll releases each box in boxes.
func (p *Pool) ReleaseAll(boxes []*Value) {
	for _, b := range boxes {
		p.Release(b)
	}
}

// Stats returns the current counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Hits:      p.hits,
		Misses:    p.misses,
		Live:      p.live,
		MaxLive:   p.maxLive,
		Available: len(p.free),
	}
}
