package vm

import (
	"fmt"
	"math"
)

// Handler performs one opcode's effect on the executing fiber. params have
// already passed the action's parameter check. A handler must validate its
// stack operands before it pops any of them so that a failed check leaves
// the fiber untouched.
type Handler func(m *Machine, f *Fiber, params []Value) error

// Action binds an opcode to its contract and handler.
type Action struct {
	Opcode  Opcode
	Info    OpcodeInfo
	Handler Handler
}

// Check validates instruction parameters against the action's declared
// arity and kinds.
func (a *Action) Check(params []Value) error {
	if len(params) != len(a.Info.Params) {
		return &ArityError{Op: a.Info.Name, Want: len(a.Info.Params), Got: len(params)}
	}
	for i, want := range a.Info.Params {
		if !want.Has(params[i].Kind()) {
			return &TypeMismatchError{Op: a.Info.Name, Arg: i, Expected: want, Got: params[i].Kind()}
		}
	}
	return nil
}

// Table resolves mnemonics to actions. The built-ins are bound when the
// table is created; extension opcodes can be added with Register.
type Table struct {
	actions []*Action // indexed by Opcode
	byName  map[string]*Action
}

// NewTable creates a table holding every built-in opcode.
func NewTable() *Table {
	t := &Table{
		actions: make([]*Action, LastBuiltin+1),
		byName:  make(map[string]*Action, len(mnemonics)),
	}
	for op := OpInvalid + 1; op <= LastBuiltin; op++ {
		h := builtinHandlers[op]
		if h == nil {
			panic(fmt.Sprintf("vm: no handler for opcode %s", op))
		}
		t.actions[op] = &Action{Opcode: op, Info: opcodeInfoTable[op], Handler: h}
	}
	for name, op := range mnemonics {
		t.byName[name] = t.actions[op]
	}
	return t
}

// Register adds an extension opcode named name and returns its number.
// Built-in mnemonics and names already registered cannot be replaced.
func (t *Table) Register(name string, params []KindSet, growth int, h Handler) (Opcode, error) {
	if name == "" || h == nil {
		return OpInvalid, fmt.Errorf("register: name and handler are required")
	}
	if _, taken := t.byName[name]; taken {
		return OpInvalid, fmt.Errorf("register: opcode %q is already defined", name)
	}
	if growth < 0 {
		growth = 0
	}
	op := Opcode(len(t.actions))
	a := &Action{
		Opcode:  op,
		Info:    OpcodeInfo{Name: name, Params: params, Growth: growth},
		Handler: h,
	}
	t.actions = append(t.actions, a)
	t.byName[name] = a
	return op, nil
}

// Lookup returns the action for a mnemonic.
func (t *Table) Lookup(name string) (*Action, bool) {
	a, ok := t.byName[name]
	return a, ok
}

// Get returns the action for an opcode previously resolved by this table.
func (t *Table) Get(op Opcode) *Action {
	if int(op) <= 0 || int(op) >= len(t.actions) {
		return nil
	}
	return t.actions[op]
}

// Len returns the number of opcodes, built-in and registered.
func (t *Table) Len() int { return len(t.actions) - 1 }

// Resolve returns the action for an instruction, caching the opcode on
// the instruction after the first lookup.
func (t *Table) Resolve(in *Instruction) (*Action, error) {
	if in.op != OpInvalid {
		if a := t.Get(in.op); a != nil {
			return a, nil
		}
	}
	a, ok := t.byName[in.Name]
	if !ok {
		return nil, errorf(ErrUnknownOpcode, "no action named %q", in.Name)
	}
	in.op = a.Opcode
	return a, nil
}

// builtinHandlers is indexed by Opcode.
var builtinHandlers = [...]Handler{
	OpInvalid: nil,

	OpPushi:  opPushLiteral,
	OpPushn:  opPushn,
	OpPushf:  opPushf,
	OpPushs:  opPushs,
	OpPushg:  opPushg,
	OpPushl:  opPushl,
	OpPushsp: opPushsp,
	OpPushfp: opPushfp,
	OpPushgp: opPushgp,
	OpPop:    opPop,
	OpPopn:   withPoppedCount(opPop),
	OpDup:    opDup,
	OpDupn:   withPoppedCount(opDup),
	OpSwap:   opSwap,

	OpStorel: opStorel,
	OpStoreg: opStoreg,
	OpStore:  opStore,
	OpStoren: opStoren,
	OpLoad:   opLoad,
	OpLoadn:  withPoppedCount(opLoad),
	OpPadd:   opPadd,

	OpJump:   opJump,
	OpJz:     opJz,
	OpPusha:  opPushLiteral,
	OpCall:   opCall,
	OpReturn: opReturn,
	OpStart:  opNop,
	OpNop:    opNop,
	OpStop:   opStop,
	OpErr:    opErr,

	OpAlloc:  opAlloc,
	OpAllocn: withPoppedCount(opAlloc),
	OpFree:   opFree,
	OpEqual:  opEqual,

	OpAdd:   intBinary(func(a, b int64) (int64, error) { return a + b, nil }),
	OpSub:   intBinary(func(a, b int64) (int64, error) { return a - b, nil }),
	OpMul:   intBinary(func(a, b int64) (int64, error) { return a * b, nil }),
	OpDiv:   intBinary(floorDiv),
	OpMod:   intBinary(floorMod),
	OpInf:   intRelation(func(a, b int64) bool { return a < b }),
	OpInfeq: intRelation(func(a, b int64) bool { return a <= b }),
	OpSup:   intRelation(func(a, b int64) bool { return a > b }),
	OpSupeq: intRelation(func(a, b int64) bool { return a >= b }),
	OpNot:   opNot,

	OpFadd:   floatBinary(func(a, b float64) float64 { return a + b }),
	OpFsub:   floatBinary(func(a, b float64) float64 { return a - b }),
	OpFmul:   floatBinary(func(a, b float64) float64 { return a * b }),
	OpFdiv:   floatBinary(func(a, b float64) float64 { return a / b }),
	OpFinf:   floatRelation(func(a, b float64) bool { return a < b }),
	OpFinfeq: floatRelation(func(a, b float64) bool { return a <= b }),
	OpFsup:   floatRelation(func(a, b float64) bool { return a > b }),
	OpFsupeq: floatRelation(func(a, b float64) bool { return a >= b }),
	OpFcos:   floatUnary(math.Cos),
	OpFsin:   floatUnary(math.Sin),

	OpAtoi:   opAtoi,
	OpAtof:   opAtof,
	OpItof:   opItof,
	OpFtoi:   opFtoi,
	OpStri:   opStri,
	OpStrf:   opStrf,
	OpConcat: opConcat,

	OpSpawn:   opSpawn,
	OpSend:    opSend,
	OpSwitch:  opSwitch,
	OpRun:     opRun,
	OpYield:   opYield,
	OpYieldn:  withPoppedCount(opYield),
	OpSuspend: opSuspend,
	OpFiber:   opFiber,
	OpFiberst: opFiberst,
	OpKill:    opKill,
	OpKilln:   withPoppedCount(opKill),

	OpWritei: opWritei,
	OpWritef: opWritef,
	OpWrites: opWrites,
	OpRead:   opRead,
	OpDebug:  opDebug,
}

// withPoppedCount builds the N variant of a handler taking one Integer
// parameter: the count is popped from the stack and handed to base as that
// parameter. If base fails, the count is pushed back.
func withPoppedCount(base Handler) Handler {
	return func(m *Machine, f *Fiber, _ []Value) error {
		if err := expect(f, 0, IntegerOnly); err != nil {
			return err
		}
		box, _ := f.Pop()
		n := *box
		if err := base(m, f, []Value{n}); err != nil {
			f.Push(box)
			return err
		}
		m.pool.Release(box)
		return nil
	}
}
