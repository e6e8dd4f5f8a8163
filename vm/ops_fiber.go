package vm

// ---- Fibers ----

func opSpawn(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, CodeAddr); err != nil {
		return err
	}
	target := m.take(f)
	spawned := m.sched.Spawn(target.Addr())
	m.push(f, FromInt(int64(spawned.ID)))
	return nil
}

// opSend handles "id value -> ": the value moves onto fiber id's stack
// without a switch.
func opSend(m *Machine, f *Fiber, _ []Value) error {
	if err := expectTop(f, IntegerOnly, AnyKind); err != nil {
		return err
	}
	target, err := m.sched.Lookup(int(peek(f, 1).Int()))
	if err != nil {
		return err
	}
	box, _ := f.Pop()
	m.take(f)
	target.Push(box)
	return nil
}

func opSwitch(m *Machine, f *Fiber, _ []Value) error {
	return transfer(m, f, m.sched.Switch)
}

func opRun(m *Machine, f *Fiber, _ []Value) error {
	return transfer(m, f, m.sched.Run)
}

// transfer pops a fiber id and hands control to that fiber with to. The id
// is only consumed once the scheduler accepts the transfer.
func transfer(m *Machine, f *Fiber, to func(*Fiber) error) error {
	if err := expect(f, 0, IntegerOnly); err != nil {
		return err
	}
	target, err := m.sched.Lookup(int(peek(f, 0).Int()))
	if err != nil {
		return err
	}
	if err := to(target); err != nil {
		return err
	}
	m.take(f)
	return nil
}

func opYield(m *Machine, _ *Fiber, params []Value) error {
	n, err := count("yield", params[0])
	if err != nil {
		return err
	}
	return m.sched.Yield(n)
}

func opSuspend(m *Machine, _ *Fiber, _ []Value) error {
	m.sched.Suspend()
	return nil
}

func opFiber(m *Machine, f *Fiber, _ []Value) error {
	m.push(f, FromInt(int64(f.ID)))
	return nil
}

func opFiberst(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, IntegerOnly); err != nil {
		return err
	}
	id := m.take(f).Int()
	m.push(f, FromInt(int64(m.sched.Status(int(id)))))
	return nil
}

// opKill yields to the caller and ends the fiber. A fiber nobody ran has
// nowhere to return to, so the whole machine halts.
func opKill(m *Machine, f *Fiber, params []Value) error {
	if f.Caller == nil {
		return ErrHalt
	}
	if err := opYield(m, f, params); err != nil {
		return err
	}
	m.sched.Kill(f)
	return nil
}
