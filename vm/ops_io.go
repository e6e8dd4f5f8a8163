package vm

import (
	"context"
	"fmt"
	"io"
	"strconv"
)

// ---- I/O ----

func opWritei(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, IntegerOnly); err != nil {
		return err
	}
	return write(m.out, strconv.FormatInt(m.take(f).Int(), 10))
}

func opWritef(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, FloatOnly); err != nil {
		return err
	}
	return write(m.out, FormatFloat(m.take(f).Float()))
}

func opWrites(m *Machine, f *Fiber, _ []Value) error {
	s, err := peekString(m, f)
	if err != nil {
		return err
	}
	m.take(f)
	return write(m.out, s)
}

func write(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// opRead suspends the fiber until a line arrives. The line is interned on
// the machine goroutine and its address pushed before the fiber is
// scheduled again.
func opRead(m *Machine, f *Fiber, _ []Value) error {
	if m.in == nil {
		return &RuntimeError{Message: "read: no input source"}
	}
	in := m.in
	m.sched.Suspend()
	m.sched.Wait(f, func(ctx context.Context) (Resume, error) {
		line, err := in.ReadLine(ctx)
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		return func() ([]Value, error) {
			return []Value{FromAddress(KindStringAddr, m.strings.Store(trimLine(line)))}, nil
		}, nil
	})
	return nil
}

// ---- Debugging ----

func opDebug(m *Machine, f *Fiber, _ []Value) error {
	return write(m.debugOut, m.DumpFiber(f))
}
