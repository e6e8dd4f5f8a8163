package vm

import (
	"context"
	"errors"
)

// ---------------------------------------------------------------------------
// Engine: fetch, check, dispatch, advance
// ---------------------------------------------------------------------------

// ctxCheckInterval is how many instructions Run executes between context
// checks.
const ctxCheckInterval = 1024

// Run steps the machine until every fiber is finished and no wait is
// pending, the program halts, an instruction faults, or ctx is done. A halt
// is not an error.
func (m *Machine) Run(ctx context.Context) error {
	m.user.Start()
	defer m.user.Stop()

	for n := 0; ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		done, err := m.Step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Step executes exactly one instruction of the current fiber and reports
// whether the run has ended. When no fiber is current it first takes the
// next runnable one, blocking on an outstanding wait if that is all there
// is.
func (m *Machine) Step(ctx context.Context) (bool, error) {
	if m.done {
		return true, nil
	}
	m.Boot()

	if err := m.sched.Poll(); err != nil {
		return m.fail(m.waitFault(err))
	}
	for !m.sched.Next() {
		if m.sched.Pending() == 0 {
			log.Debugf("no runnable fibers, run finished")
			m.Close()
			return true, nil
		}
		if err := m.sched.Await(ctx); err != nil {
			if ctx.Err() != nil {
				return false, err
			}
			return m.fail(m.waitFault(err))
		}
	}
	return m.execute(m.sched.Current())
}

func (m *Machine) execute(f *Fiber) (bool, error) {
	cp := f.CodePointer
	if cp < 0 || cp >= m.program.Len() {
		return m.endFiber(f)
	}
	in := &m.program.Instructions[cp]

	if m.maxStack > 0 && f.StackPointer() > m.maxStack {
		return m.fail(m.overflow(f, in.Name, 0))
	}
	a, err := m.table.Resolve(in)
	if err != nil {
		return m.fail(&Fault{Fiber: f.ID, CodePointer: cp, Mnemonic: in.Name, Err: err})
	}
	if err := a.Check(in.Params); err != nil {
		return m.fail(&Fault{Fiber: f.ID, CodePointer: cp, Mnemonic: in.Name, Err: err})
	}
	if g := a.Info.growth(in.Params); m.maxStack > 0 && f.StackPointer()+g > m.maxStack {
		return m.fail(m.overflow(f, in.Name, g))
	}

	if m.trace {
		log.Debugf("fiber %d %4d  %s", f.ID, cp, in)
	}
	m.cpu.Start()
	err = a.Handler(m, f, in.Params)
	m.cpu.Stop()
	m.instructions++
	f.CodePointer++

	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrHalt):
		log.Debugf("fiber %d halted at %d", f.ID, cp)
		m.Close()
		return true, nil
	default:
		return m.fail(&Fault{Fiber: f.ID, CodePointer: cp, Mnemonic: in.Name, Err: err})
	}
}

// endFiber handles a fiber whose code pointer left the program: it ends as
// if it had executed kill 0.
func (m *Machine) endFiber(f *Fiber) (bool, error) {
	if f.Caller == nil {
		log.Debugf("fiber %d ran off the program, halting", f.ID)
		m.Close()
		return true, nil
	}
	if err := m.sched.Yield(0); err != nil {
		log.Debugf("fiber %d ran off the program: %v", f.ID, err)
	}
	m.sched.Kill(f)
	return false, nil
}

func (m *Machine) overflow(f *Fiber, mnemonic string, growth int) error {
	return &Fault{
		Fiber:       f.ID,
		CodePointer: f.CodePointer,
		Mnemonic:    mnemonic,
		Err: errorf(ErrStackOverflow, "stack size %d (+%d) exceeds maximum %d",
			f.StackPointer(), growth, m.maxStack),
	}
}

// waitFault attributes a failed wait to the instruction that started it.
func (m *Machine) waitFault(err error) error {
	var we *WaitError
	if !errors.As(err, &we) {
		return err
	}
	cp := we.Fiber.CodePointer - 1
	fault := &Fault{Fiber: we.Fiber.ID, CodePointer: cp, Err: we.Err}
	if cp >= 0 && cp < m.program.Len() {
		fault.Mnemonic = m.program.Instructions[cp].Name
	}
	return fault
}

func (m *Machine) fail(err error) (bool, error) {
	log.Debugf("run failed: %v", err)
	m.Close()
	return true, err
}
