package vm

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Option configures a Machine.
type Option func(*Machine)

// WithMaxStack bounds every fiber's operand stack. Zero means unbounded.
func WithMaxStack(n int) Option {
	return func(m *Machine) { m.maxStack = max(0, n) }
}

// WithPooling turns value-box recycling on or off. It is on by default.
func WithPooling(enabled bool) Option {
	return func(m *Machine) { m.pooling = enabled }
}

// WithOutput sets the sink for writei, writef and writes.
func WithOutput(w io.Writer) Option {
	return func(m *Machine) { m.out = w }
}

// WithInput sets the line source for read.
func WithInput(r LineReader) Option {
	return func(m *Machine) { m.in = r }
}

// WithDebug sets the sink for the debug opcode.
func WithDebug(w io.Writer) Option {
	return func(m *Machine) { m.debugOut = w }
}

// WithTrace logs every dispatched instruction at debug level.
func WithTrace(enabled bool) Option {
	return func(m *Machine) { m.trace = enabled }
}

// WithTable replaces the opcode table, typically with one carrying
// registered extension opcodes.
func WithTable(t *Table) Option {
	return func(m *Machine) { m.table = t }
}

// Machine executes one Program. The heap, string table and pool are shared
// by all of its fibers. A Machine is driven from a single goroutine.
type Machine struct {
	program *Program
	table   *Table
	pool    *Pool
	heap    *Heap
	strings *Strings
	sched   *Scheduler

	maxStack int
	pooling  bool
	trace    bool
	out      io.Writer
	debugOut io.Writer
	in       LineReader

	booted bool
	done   bool
	main   *Fiber

	instructions uint64
	cpu          Clock
	user         Clock
}

// New creates a machine for program.
func New(program *Program, opts ...Option) *Machine {
	m := &Machine{
		program:  program,
		pooling:  true,
		out:      os.Stdout,
		debugOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.table == nil {
		m.table = NewTable()
	}
	m.pool = NewPool(m.pooling)
	m.heap = NewHeap(m.pool)
	m.strings = NewStrings()
	m.sched = NewScheduler(m.pool)
	return m
}

// Boot creates the main fiber at instruction 0 and makes it current. Step
// and Run boot the machine on first use.
func (m *Machine) Boot() {
	if m.booted {
		return
	}
	m.booted = true
	m.main = m.sched.Spawn(0)
	if err := m.sched.Switch(m.main); err != nil {
		panic(err)
	}
	log.Debugf("boot %s: %d instructions", m.program.Source, m.program.Len())
}

// Program returns the program being executed.
func (m *Machine) Program() *Program { return m.program }

// Table returns the opcode table.
func (m *Machine) Table() *Table { return m.table }

// Pool returns the value pool.
func (m *Machine) Pool() *Pool { return m.pool }

// Heap returns the shared heap.
func (m *Machine) Heap() *Heap { return m.heap }

// Strings returns the shared string table.
func (m *Machine) Strings() *Strings { return m.strings }

// Scheduler returns the fiber scheduler.
func (m *Machine) Scheduler() *Scheduler { return m.sched }

// Main returns the fiber created by Boot.
func (m *Machine) Main() *Fiber { return m.main }

// Current returns the current fiber, or nil.
func (m *Machine) Current() *Fiber { return m.sched.Current() }

// Done reports whether the run has ended, by halt, fault or exhaustion.
func (m *Machine) Done() bool { return m.done }

// MaxStack returns the configured stack limit; zero means unbounded.
func (m *Machine) MaxStack() int { return m.maxStack }

// Stats returns the current counters.
func (m *Machine) Stats() Stats {
	allocs, slots := m.heap.Live()
	return Stats{
		Instructions: m.instructions,
		CPUTime:      m.cpu.Elapsed(),
		UserTime:     m.user.Elapsed(),
		Pool:         m.pool.Stats(),
		Fibers:       m.sched.Live(),
		Strings:      m.strings.Len(),
		HeapSlots:    slots,
		Allocations:  allocs,
	}
}

// Close ends the run and abandons outstanding waits.
func (m *Machine) Close() {
	m.done = true
	m.sched.Close()
}

// DumpFiber renders a fiber's operands and registers the way the debug
// opcode prints them.
func (m *Machine) DumpFiber(f *Fiber) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fiber %d operands [", f.ID)
	for i, v := range f.Values() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(m.describe(v))
	}
	sb.WriteString("]\n")
	fmt.Fprintf(&sb, "registers code=%d frame=%d global=%d stack=%d\n",
		f.CodePointer, f.FramePointer, f.GlobalPointer, f.StackPointer())
	return sb.String()
}

// describe renders v, resolving string addresses to their contents.
func (m *Machine) describe(v Value) string {
	if v.Kind() == KindStringAddr {
		if s, err := m.strings.Load(v.Addr()); err == nil {
			return fmt.Sprintf("%s(%q)", v, s)
		}
	}
	return v.String()
}
