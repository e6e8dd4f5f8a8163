package vm

// ---------------------------------------------------------------------------
// Heap: manually managed linear memory
// ---------------------------------------------------------------------------

// Heap is a single growing array of value slots shared by every fiber, plus
// a record of live allocations keyed by base address. Freed slots are
// tombstoned and never handed out again; there is no compaction or reuse of
// holes.
type Heap struct {
	pool   *Pool
	memory []*Value    // nil slot = tombstoned or never live
	allocs map[int]int // base -> size
	slots  int         // live slots across all allocations
}

// NewHeap creates an empty heap drawing boxes from pool.
func NewHeap(pool *Pool) *Heap {
	return &Heap{
		pool:   pool,
		allocs: make(map[int]int),
	}
}

// Alloc reserves n contiguous Integer(0) slots and returns their base
// address. A zero-sized allocation still consumes one inert slot so that
// every base is distinct.
func (h *Heap) Alloc(n int) (int, error) {
	if n < 0 {
		return 0, &RuntimeError{Message: "alloc: negative size"}
	}
	base := len(h.memory)
	if n == 0 {
		h.memory = append(h.memory, nil)
	}
	for i := 0; i < n; i++ {
		h.memory = append(h.memory, h.pool.Acquire(FromInt(0)))
	}
	h.allocs[base] = n
	h.slots += n
	return base, nil
}

// Free releases the allocation starting at base. base must be the base of
// a live allocation.
func (h *Heap) Free(base int) error {
	size, ok := h.allocs[base]
	if !ok {
		return errorf(ErrInvalidFree, "trying to free unregistered address %d", base)
	}
	for i := base; i < base+size; i++ {
		h.pool.Release(h.memory[i])
		h.memory[i] = nil
	}
	delete(h.allocs, base)
	h.slots -= size
	return nil
}

// Load returns the box at addr. The box stays owned by the heap; callers
// that push it elsewhere must clone it.
func (h *Heap) Load(addr int) (*Value, error) {
	if !h.valid(addr) {
		return nil, errorf(ErrInvalidAddress, "trying to access invalid memory address %d", addr)
	}
	return h.memory[addr], nil
}

// Store places box at addr, taking ownership of it, and releases the box it
// replaces.
func (h *Heap) Store(addr int, box *Value) error {
	if !h.valid(addr) {
		return errorf(ErrInvalidAddress, "trying to mutate invalid memory address %d", addr)
	}
	h.pool.Release(h.memory[addr])
	h.memory[addr] = box
	return nil
}

// Size returns the size of the live allocation at base.
func (h *Heap) Size(base int) (int, bool) {
	n, ok := h.allocs[base]
	return n, ok
}

// Live returns the number of live allocations and live slots.
func (h *Heap) Live() (allocations, slots int) {
	return len(h.allocs), h.slots
}

// Len returns the total number of slots ever reserved, including tombstones.
func (h *Heap) Len() int { return len(h.memory) }

func (h *Heap) valid(addr int) bool {
	return addr >= 0 && addr < len(h.memory) && h.memory[addr] != nil
}
