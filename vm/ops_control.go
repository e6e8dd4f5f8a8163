package vm

// ---- Control ----

// Jumps set the code pointer one before the target; the engine increments
// it after every instruction.

func opJump(_ *Machine, f *Fiber, params []Value) error {
	f.CodePointer = params[0].Addr() - 1
	return nil
}

func opJz(m *Machine, f *Fiber, params []Value) error {
	if err := expect(f, 0, IntegerOnly); err != nil {
		return err
	}
	if m.take(f).Int() == 0 {
		f.CodePointer = params[0].Addr() - 1
	}
	return nil
}

func opCall(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, CodeAddr); err != nil {
		return err
	}
	target := m.take(f)
	f.Frames.Push(Frame{FramePointer: f.FramePointer, CodePointer: f.CodePointer})
	f.FramePointer = f.StackPointer()
	f.CodePointer = target.Addr() - 1
	return nil
}

func opReturn(m *Machine, f *Fiber, _ []Value) error {
	frame, err := f.Frames.Pop()
	if err != nil {
		return errorf(ErrStackUnderflow, "return without call")
	}
	for f.StackPointer() > f.FramePointer {
		box, _ := f.Pop()
		m.pool.Release(box)
	}
	f.FramePointer = frame.FramePointer
	f.CodePointer = frame.CodePointer
	return nil
}

func opNop(*Machine, *Fiber, []Value) error { return nil }

func opStop(*Machine, *Fiber, []Value) error { return ErrHalt }

func opErr(_ *Machine, _ *Fiber, params []Value) error {
	return &RuntimeError{Message: params[0].Text()}
}

// ---- Heap ----

func opAlloc(m *Machine, f *Fiber, params []Value) error {
	base, err := m.heap.Alloc(int(params[0].Int()))
	if err != nil {
		return err
	}
	m.push(f, FromAddress(KindHeapAddr, base))
	return nil
}

func opFree(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, Kinds(KindHeapAddr)); err != nil {
		return err
	}
	if err := m.heap.Free(peek(f, 0).Addr()); err != nil {
		return err
	}
	m.take(f)
	return nil
}

func opEqual(m *Machine, f *Fiber, _ []Value) error {
	if err := expectTop(f, AnyKind, AnyKind); err != nil {
		return err
	}
	b := m.take(f)
	a := m.take(f)
	m.push(f, boolInt(Equal(a, b)))
	return nil
}

func boolInt(b bool) Value {
	if b {
		return FromInt(1)
	}
	return FromInt(0)
}
