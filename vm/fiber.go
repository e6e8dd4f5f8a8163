package vm

import "fmt"

// FiberState is the lifecycle state of a fiber.
type FiberState int

const (
	FiberSleeping FiberState = iota // live, not the scheduler's current fiber
	FiberRunning                    // the scheduler's current fiber
	FiberFinished                   // removed from the live table
)

func (s FiberState) String() string {
	switch s {
	case FiberSleeping:
		return "sleeping"
	case FiberRunning:
		return "running"
	case FiberFinished:
		return "finished"
	default:
		return fmt.Sprintf("FiberState(%d)", int(s))
	}
}

// FiberStatus is the tri-state reported to guest code by fiberst.
type FiberStatus int64

const (
	StatusDead     FiberStatus = 0
	StatusSleeping FiberStatus = 1
	StatusRunning  FiberStatus = 2
)

// Frame is a saved call-frame, pushed by call and popped by return.
type Frame struct {
	FramePointer int
	CodePointer  int
}

// Fiber is an independent execution context: its own operand stack, call
// frames and registers. The heap and string table are shared.
type Fiber struct {
	ID int

	// Caller is the fiber that ran this one, if any. yield and kill route
	// control and values back to it.
	Caller *Fiber

	Operands *Stack[*Value]
	Frames   *Stack[Frame]

	FramePointer  int
	GlobalPointer int
	CodePointer   int

	state FiberState
}

func newFiber(id, codePointer int) *Fiber {
	return &Fiber{
		ID:          id,
		Operands:    NewStack[*Value](64),
		Frames:      NewStack[Frame](16),
		CodePointer: codePointer,
		state:       FiberSleeping,
	}
}

// StackPointer is the operand stack length. It is derived, never stored.
func (f *Fiber) StackPointer() int { return f.Operands.Len() }

// State returns the fiber's lifecycle state.
func (f *Fiber) State() FiberState { return f.state }

// Push pushes a box onto the fiber's operand stack, taking ownership.
func (f *Fiber) Push(box *Value) { f.Operands.Push(box) }

// Pop pops the top box; ownership moves to the caller.
func (f *Fiber) Pop() (*Value, error) { return f.Operands.Pop() }

// Values returns a copy of the operand stack contents, bottom first.
func (f *Fiber) Values() []Value {
	items := f.Operands.Items()
	out := make([]Value, len(items))
	for i, b := range items {
		out[i] = *b
	}
	return out
}

func (f *Fiber) String() string {
	return fmt.Sprintf("fiber %d [%s cp=%d fp=%d gp=%d sp=%d]",
		f.ID, f.state, f.CodePointer, f.FramePointer, f.GlobalPointer, f.StackPointer())
}
