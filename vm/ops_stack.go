package vm

import "fmt"

// ---- Operand helpers ----

// expect checks that the operand depth places below the top has a kind in
// want, without popping it.
func expect(f *Fiber, depth int, want KindSet) error {
	box, err := f.Operands.Peek(depth)
	if err != nil {
		return err
	}
	if !want.Has(box.kind) {
		return &TypeMismatchError{Arg: -1, Expected: want, Got: box.kind}
	}
	return nil
}

// expectTop checks the top len(wants) operands; wants is listed bottom
// first, the way stack effects are written ("addr offset value").
func expectTop(f *Fiber, wants ...KindSet) error {
	for i, want := range wants {
		if err := expect(f, len(wants)-1-i, want); err != nil {
			return err
		}
	}
	return nil
}

// peek returns a copy of the operand depth places below the top. Callers
// have already checked it exists.
func peek(f *Fiber, depth int) Value {
	box, _ := f.Operands.Peek(depth)
	return *box
}

// take pops the top operand, releases its box and returns its value.
func (m *Machine) take(f *Fiber) Value {
	box, _ := f.Pop()
	v := *box
	m.pool.Release(box)
	return v
}

// push pushes v onto f in a freshly acquired box.
func (m *Machine) push(f *Fiber, v Value) {
	f.Push(m.pool.Acquire(v))
}

func count(op string, v Value) (int, error) {
	n := v.Int()
	if n < 0 {
		return 0, &RuntimeError{Message: fmt.Sprintf("%s: negative count %d", op, n)}
	}
	return int(n), nil
}

// ---- Stack shaping ----

func opPushLiteral(m *Machine, f *Fiber, params []Value) error {
	m.push(f, params[0])
	return nil
}

func opPushn(m *Machine, f *Fiber, params []Value) error {
	n, err := count("pushn", params[0])
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		m.push(f, FromInt(0))
	}
	return nil
}

func opPushf(m *Machine, f *Fiber, params []Value) error {
	v := params[0]
	if v.Kind() == KindInteger {
		v = FromFloat(float64(v.Int()))
	}
	m.push(f, v)
	return nil
}

func opPushs(m *Machine, f *Fiber, params []Value) error {
	addr := m.strings.Store(params[0].Text())
	m.push(f, FromAddress(KindStringAddr, addr))
	return nil
}

func opPushg(m *Machine, f *Fiber, params []Value) error {
	return pushCopy(m, f, f.GlobalPointer+int(params[0].Int()))
}

func opPushl(m *Machine, f *Fiber, params []Value) error {
	return pushCopy(m, f, f.FramePointer+int(params[0].Int()))
}

func pushCopy(m *Machine, f *Fiber, index int) error {
	box, err := f.Operands.Load(index)
	if err != nil {
		return err
	}
	f.Push(m.pool.Clone(box))
	return nil
}

func opPushsp(m *Machine, f *Fiber, _ []Value) error {
	m.push(f, FromAddress(KindStackAddr, f.StackPointer()))
	return nil
}

func opPushfp(m *Machine, f *Fiber, _ []Value) error {
	m.push(f, FromAddress(KindStackAddr, f.FramePointer))
	return nil
}

func opPushgp(m *Machine, f *Fiber, _ []Value) error {
	m.push(f, FromAddress(KindStackAddr, f.GlobalPointer))
	return nil
}

func opPop(m *Machine, f *Fiber, params []Value) error {
	n, err := count("pop", params[0])
	if err != nil {
		return err
	}
	boxes, err := f.Operands.PopN(n)
	if err != nil {
		return err
	}
	m.pool.ReleaseAll(boxes)
	return nil
}

func opDup(m *Machine, f *Fiber, params []Value) error {
	n, err := count("dup", params[0])
	if err != nil {
		return err
	}
	top, err := f.Operands.Top(n)
	if err != nil {
		return err
	}
	values := make([]Value, n)
	for i, b := range top {
		values[i] = *b
	}
	for _, v := range values {
		m.push(f, v)
	}
	return nil
}

func opSwap(_ *Machine, f *Fiber, _ []Value) error {
	if err := expectTop(f, AnyKind, AnyKind); err != nil {
		return err
	}
	a, _ := f.Pop()
	b, _ := f.Pop()
	f.Push(a)
	f.Push(b)
	return nil
}

// ---- Load / store ----

func opStorel(m *Machine, f *Fiber, params []Value) error {
	return storeStack(m, f, f.FramePointer+int(params[0].Int()))
}

func opStoreg(m *Machine, f *Fiber, params []Value) error {
	return storeStack(m, f, f.GlobalPointer+int(params[0].Int()))
}

// storeStack pops the top operand into slot index of the remaining stack.
func storeStack(m *Machine, f *Fiber, index int) error {
	if err := expect(f, 0, AnyKind); err != nil {
		return err
	}
	box, _ := f.Pop()
	old, err := f.Operands.Store(index, box)
	if err != nil {
		f.Push(box)
		return err
	}
	m.pool.Release(old)
	return nil
}

// opStore handles "addr value -> ": value is written to addr plus the
// offset parameter, in the heap or the operand stack depending on the
// address kind.
func opStore(m *Machine, f *Fiber, params []Value) error {
	if err := expectTop(f, MemoryAddr, AnyKind); err != nil {
		return err
	}
	offset := int(params[0].Int())
	box, _ := f.Pop()
	addrBox, _ := f.Pop()
	target := addrBox.Addr() + offset

	var err error
	switch addrBox.kind {
	case KindHeapAddr:
		err = m.heap.Store(target, box)
	case KindStackAddr:
		var old *Value
		if old, err = f.Operands.Store(target, box); err == nil {
			m.pool.Release(old)
		}
	}
	if err != nil {
		f.Push(addrBox)
		f.Push(box)
		return err
	}
	m.pool.Release(addrBox)
	return nil
}

// opStoren handles "addr offset value -> ". The offset sits beneath the
// value, so it is lifted out before delegating to store.
func opStoren(m *Machine, f *Fiber, _ []Value) error {
	if err := expectTop(f, MemoryAddr, IntegerOnly, AnyKind); err != nil {
		return err
	}
	box, _ := f.Pop()
	offsetBox, _ := f.Pop()
	f.Push(box)
	if err := opStore(m, f, []Value{*offsetBox}); err != nil {
		box, _ = f.Pop()
		f.Push(offsetBox)
		f.Push(box)
		return err
	}
	m.pool.Release(offsetBox)
	return nil
}

// opLoad handles "addr -> value": a copy of the value at addr plus the
// offset parameter replaces the address.
func opLoad(m *Machine, f *Fiber, params []Value) error {
	if err := expect(f, 0, MemoryAddr); err != nil {
		return err
	}
	addrBox, _ := f.Pop()
	target := addrBox.Addr() + int(params[0].Int())

	var (
		src *Value
		err error
	)
	switch addrBox.kind {
	case KindHeapAddr:
		src, err = m.heap.Load(target)
	case KindStackAddr:
		src, err = f.Operands.Load(target)
	}
	if err != nil {
		f.Push(addrBox)
		return err
	}
	f.Push(m.pool.Clone(src))
	m.pool.Release(addrBox)
	return nil
}

func opPadd(m *Machine, f *Fiber, _ []Value) error {
	if err := expectTop(f, AnyAddress, IntegerOnly); err != nil {
		return err
	}
	offset := m.take(f)
	addr := m.take(f)
	m.push(f, FromAddress(addr.Kind(), addr.Addr()+int(offset.Int())))
	return nil
}
