package vm

import (
	"context"
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// Scheduler: cooperative fiber switching and asynchronous waits
// ---------------------------------------------------------------------------

// AsyncOp is work a fiber waits on, such as reading a line of input. It runs
// on its own goroutine and must not touch machine state; the Resume it
// returns runs later on the machine goroutine.
type AsyncOp func(ctx context.Context) (Resume, error)

// Resume produces the values pushed onto a waiting fiber before it is
// scheduled again. It runs on the machine goroutine.
type Resume func() ([]Value, error)

type completion struct {
	fiber  *Fiber
	resume Resume
	err    error
}

// WaitError reports an asynchronous operation that failed for a fiber.
type WaitError struct {
	Fiber *Fiber
	Err   error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("fiber %d: wait failed: %v", e.Fiber.ID, e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }

// Scheduler decides which fiber is current. A fiber is in at most one of
// {current, runnable queue, waiting set} at any instant.
//
// Only the machine goroutine calls Scheduler methods. The goroutines running
// AsyncOps communicate solely through the completion channel.
type Scheduler struct {
	pool *Pool

	current *Fiber
	queue   []*Fiber
	waiting map[*Fiber]struct{}
	fibers  map[int]*Fiber
	nextID  int

	done   chan completion
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler with no fibers. Boxes for resumed values
// and the stacks of killed fibers go through pool.
func NewScheduler(pool *Pool) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pool:    pool,
		waiting: make(map[*Fiber]struct{}),
		fibers:  make(map[int]*Fiber),
		done:    make(chan completion, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close abandons every outstanding wait.
func (s *Scheduler) Close() {
	s.cancel()
}

// Current returns the current fiber, or nil.
func (s *Scheduler) Current() *Fiber { return s.current }

// Lookup returns the live fiber with the given id.
func (s *Scheduler) Lookup(id int) (*Fiber, error) {
	f, ok := s.fibers[id]
	if !ok {
		return nil, errorf(ErrUnknownFiber, "no live fiber %d", id)
	}
	return f, nil
}

// Live returns the number of live fibers.
func (s *Scheduler) Live() int { return len(s.fibers) }

// Pending returns the number of fibers waiting on an asynchronous operation.
func (s *Scheduler) Pending() int { return len(s.waiting) }

// Queued returns the number of runnable fibers in the queue.
func (s *Scheduler) Queued() int { return len(s.queue) }

// Idle reports whether there is nothing left to run: no current fiber,
// nothing queued and nothing pending.
func (s *Scheduler) Idle() bool {
	return s.current == nil && len(s.queue) == 0 && len(s.waiting) == 0
}

// Status returns the guest-visible status of fiber id.
func (s *Scheduler) Status(id int) FiberStatus {
	f, ok := s.fibers[id]
	switch {
	case !ok:
		return StatusDead
	case f == s.current:
		return StatusRunning
	default:
		return StatusSleeping
	}
}

// Spawn creates a sleeping fiber that will start at codePointer. It does not
// run until something switches to it.
func (s *Scheduler) Spawn(codePointer int) *Fiber {
	f := newFiber(s.nextID, codePointer)
	s.nextID++
	s.fibers[f.ID] = f
	log.Debugf("spawn fiber %d at %d", f.ID, codePointer)
	return f
}

// Switch makes f the current fiber. The previous fiber stays live but
// sleeping.
func (s *Scheduler) Switch(f *Fiber) error {
	if err := s.checkSwitchable(f); err != nil {
		return err
	}
	s.makeCurrent(f)
	return nil
}

// Run is Switch plus recording the previous fiber as f's caller, so f can
// later yield back to it.
func (s *Scheduler) Run(f *Fiber) error {
	if f == s.current {
		return errorf(ErrFiberBusy, "fiber %d cannot run itself", f.ID)
	}
	if err := s.checkSwitchable(f); err != nil {
		return err
	}
	f.Caller = s.current
	s.makeCurrent(f)
	return nil
}

// Yield moves the top n operands of the current fiber, in order, onto its
// caller's stack and makes the caller current.
func (s *Scheduler) Yield(n int) error {
	f := s.current
	if f == nil || f.Caller == nil {
		return errorf(ErrNoCaller, "cannot yield on a fiber that was not called by another")
	}
	caller := f.Caller
	if err := s.checkSwitchable(caller); err != nil {
		return err
	}
	if n < 0 {
		return &RuntimeError{Message: fmt.Sprintf("cannot yield %d values", n)}
	}
	values, err := f.Operands.PopN(n)
	if err != nil {
		return err
	}
	for _, b := range values {
		caller.Push(b)
	}
	log.Debugf("fiber %d yields %d values to fiber %d", f.ID, n, caller.ID)
	s.makeCurrent(caller)
	return nil
}

// Suspend hands control to the next runnable fiber, or leaves no current
// fiber when the queue is empty.
func (s *Scheduler) Suspend() {
	if s.current != nil {
		s.current.state = FiberSleeping
		log.Debugf("suspend fiber %d", s.current.ID)
		s.current = nil
	}
	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.makeCurrent(next)
	}
}

// Enqueue appends a sleeping fiber to the runnable queue.
func (s *Scheduler) Enqueue(f *Fiber) {
	if f.state != FiberSleeping || f == s.current {
		panic(fmt.Sprintf("vm: enqueue of fiber %d in state %s", f.ID, f.state))
	}
	if slices.Contains(s.queue, f) {
		return
	}
	s.queue = append(s.queue, f)
}

// Wait registers f as waiting on op and starts op. f must be sleeping and
// must not already be waiting; violating either is a bug in the machine,
// not in the guest program, and panics.
func (s *Scheduler) Wait(f *Fiber, op AsyncOp) {
	if _, busy := s.waiting[f]; busy {
		panic(fmt.Sprintf("vm: fiber %d is already waiting", f.ID))
	}
	if f.state != FiberSleeping || f == s.current || slices.Contains(s.queue, f) {
		panic(fmt.Sprintf("vm: fiber %d cannot wait in state %s", f.ID, f.state))
	}
	s.waiting[f] = struct{}{}
	log.Debugf("fiber %d waiting", f.ID)

	ctx := s.ctx
	go func() {
		resume, err := op(ctx)
		select {
		case s.done <- completion{fiber: f, resume: resume, err: err}:
		case <-ctx.Done():
		}
	}()
}

// Poll resolves every completion that is already available without
// blocking.
func (s *Scheduler) Poll() error {
	for {
		select {
		case c := <-s.done:
			if err := s.complete(c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Await blocks until one outstanding wait resolves or ctx is done.
func (s *Scheduler) Await(ctx context.Context) error {
	select {
	case c := <-s.done:
		return s.complete(c)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next makes the head of the runnable queue current if there is no current
// fiber. It reports whether a fiber is current afterwards.
func (s *Scheduler) Next() bool {
	if s.current == nil && len(s.queue) > 0 {
		s.Suspend()
	}
	return s.current != nil
}

// Kill removes f from the live table. Its operands are released, a queued
// entry is dropped and an outstanding wait is forgotten: its eventual result
// is discarded.
func (s *Scheduler) Kill(f *Fiber) {
	if _, ok := s.fibers[f.ID]; !ok {
		return
	}
	delete(s.fibers, f.ID)
	delete(s.waiting, f)
	s.queue = slices.DeleteFunc(s.queue, func(q *Fiber) bool { return q == f })
	if s.current == f {
		s.current = nil
	}
	f.state = FiberFinished
	for f.Operands.Len() > 0 {
		b, _ := f.Operands.Pop()
		s.pool.Release(b)
	}
	log.Debugf("kill fiber %d", f.ID)
}

func (s *Scheduler) complete(c completion) error {
	if _, ok := s.waiting[c.fiber]; !ok {
		return nil
	}
	delete(s.waiting, c.fiber)
	if c.err != nil {
		return &WaitError{Fiber: c.fiber, Err: c.err}
	}
	if c.resume != nil {
		values, err := c.resume()
		if err != nil {
			return &WaitError{Fiber: c.fiber, Err: err}
		}
		for _, v := range values {
			c.fiber.Push(s.pool.Acquire(v))
		}
	}
	log.Debugf("fiber %d resumed", c.fiber.ID)
	s.Enqueue(c.fiber)
	return nil
}

func (s *Scheduler) checkSwitchable(f *Fiber) error {
	if _, ok := s.fibers[f.ID]; !ok || f.state == FiberFinished {
		return errorf(ErrUnknownFiber, "fiber %d is not alive", f.ID)
	}
	if _, busy := s.waiting[f]; busy {
		return errorf(ErrFiberBusy, "fiber %d is waiting on an external operation", f.ID)
	}
	return nil
}

func (s *Scheduler) makeCurrent(f *Fiber) {
	if s.current == f {
		return
	}
	if s.current != nil {
		s.current.state = FiberSleeping
	}
	s.queue = slices.DeleteFunc(s.queue, func(q *Fiber) bool { return q == f })
	f.state = FiberRunning
	s.current = f
	log.Debugf("current fiber %d", f.ID)
}
