package vm

import "fmt"

// Opcode identifies a built-in instruction. The set is closed; extension
// opcodes registered on a Table are numbered after LastBuiltin.
type Opcode uint16

const (
	OpInvalid Opcode = iota // zero value: not yet resolved

	// ========================================================================
	// Stack shaping
	// ========================================================================

	OpPushi  // push integer literal: pushi <int>
	OpPushn  // push k zero integers: pushn <k>
	OpPushf  // push float literal: pushf <float>
	OpPushs  // intern literal, push its string address: pushs <string>
	OpPushg  // push copy of operand at gp+i: pushg <i>
	OpPushl  // push copy of operand at fp+i: pushl <i>
	OpPushsp // push stack pointer as a stack address
	OpPushfp // push frame pointer as a stack address
	OpPushgp // push global pointer as a stack address
	OpPop    // discard top k: pop <k>
	OpPopn   // pop k, then discard top k
	OpDup    // duplicate top k in order: dup <k>
	OpDupn   // pop k, then duplicate top k
	OpSwap   // exchange top two

	// ========================================================================
	// Load / store
	// ========================================================================

	OpStorel // pop value into fp+i: storel <i>
	OpStoreg // pop value into gp+i: storeg <i>
	OpStore  // addr value -> ; write value at addr+i: store <i>
	OpStoren // addr i value -> ; store with popped offset
	OpLoad   // addr -> value at addr+i: load <i>
	OpLoadn  // addr i -> value at addr+i
	OpPadd   // addr i -> addr+i, same address kind

	// ========================================================================
	// Control
	// ========================================================================

	OpJump   // jump <label>
	OpJz     // pop integer, jump if zero: jz <label>
	OpPusha  // push code address: pusha <label>
	OpCall   // pop code address, push frame, jump
	OpReturn // pop frame, unwind operands to fp
	OpStart  // no-op
	OpNop    // no-op
	OpStop   // halt the machine
	OpErr    // raise a runtime error: err <message>

	// ========================================================================
	// Heap
	// ========================================================================

	OpAlloc  // reserve n Integer(0) slots, push heap address: alloc <n>
	OpAllocn // pop n, alloc n
	OpFree   // pop heap address, release its allocation
	OpEqual  // a b -> 1 if same kind and payload, else 0

	// ========================================================================
	// Integer arithmetic and relations
	// ========================================================================

	OpAdd
	OpSub
	OpMul
	OpDiv // floor division
	OpMod // remainder of floor division
	OpInf
	OpInfeq
	OpSup
	OpSupeq
	OpNot // 1 if zero, else 0

	// ========================================================================
	// Float arithmetic and relations
	// ========================================================================

	OpFadd
	OpFsub
	OpFmul
	OpFdiv
	OpFinf
	OpFinfeq
	OpFsup
	OpFsupeq
	OpFcos
	OpFsin

	// ========================================================================
	// Conversions and strings
	// ========================================================================

	OpAtoi // string address -> integer
	OpAtof // string address -> float
	OpItof // integer -> float
	OpFtoi // float -> integer, floored
	OpStri // integer -> string address
	OpStrf // float -> string address
	OpConcat

	// ========================================================================
	// Fibers
	// ========================================================================

	OpSpawn   // code address -> fiber id
	OpSend    // id value -> ; push value onto fiber id
	OpSwitch  // id -> ; make fiber id current
	OpRun     // id -> ; switch and record caller
	OpYield   // move top k to caller, resume caller: yield <k>
	OpYieldn  // pop k, yield k
	OpSuspend // hand control to the next runnable fiber
	OpFiber   // push current fiber id
	OpFiberst // id -> status
	OpKill    // yield k and end this fiber, or halt: kill <k>
	OpKilln   // pop k, kill k

	// ========================================================================
	// I/O and debugging
	// ========================================================================

	OpWritei
	OpWritef
	OpWrites
	OpRead // suspend until a line of input is interned and pushed
	OpDebug

	// LastBuiltin is the highest built-in opcode.
	LastBuiltin = OpDebug
)

// growsByParam marks an opcode whose stack growth is its first parameter.
const growsByParam = -1

// OpcodeInfo describes an opcode's mnemonic, its instruction-parameter
// contract and the most it can grow the operand stack.
type OpcodeInfo struct {
	Name   string    // mnemonic as written in source
	Params []KindSet // accepted kinds per instruction parameter
	Growth int       // maximum operand-stack growth; growsByParam = params[0]
}

var (
	noParams   = []KindSet{}
	intParam   = []KindSet{IntegerOnly}
	codeParam  = []KindSet{CodeAddr}
	textParam  = []KindSet{TextOnly}
	floatParam = []KindSet{Kinds(KindFloat, KindInteger)}
)

// opcodeInfoTable is indexed by Opcode.
var opcodeInfoTable = [...]OpcodeInfo{
	OpInvalid: {"<invalid>", noParams, 0},

	// Stack shaping
	OpPushi:  {"pushi", intParam, 1},
	OpPushn:  {"pushn", intParam, growsByParam},
	OpPushf:  {"pushf", floatParam, 1},
	OpPushs:  {"pushs", textParam, 1},
	OpPushg:  {"pushg", intParam, 1},
	OpPushl:  {"pushl", intParam, 1},
	OpPushsp: {"pushsp", noParams, 1},
	OpPushfp: {"pushfp", noParams, 1},
	OpPushgp: {"pushgp", noParams, 1},
	OpPop:    {"pop", intParam, 0},
	OpPopn:   {"popn", noParams, 0},
	OpDup:    {"dup", intParam, growsByParam},
	OpDupn:   {"dupn", noParams, 0},
	OpSwap:   {"swap", noParams, 0},

	// Load / store
	OpStorel: {"storel", intParam, 0},
	OpStoreg: {"storeg", intParam, 0},
	OpStore:  {"store", intParam, 0},
	OpStoren: {"storen", noParams, 0},
	OpLoad:   {"load", intParam, 0},
	OpLoadn:  {"loadn", noParams, 0},
	OpPadd:   {"padd", noParams, 0},

	// Control
	OpJump:   {"jump", codeParam, 0},
	OpJz:     {"jz", codeParam, 0},
	OpPusha:  {"pusha", codeParam, 1},
	OpCall:   {"call", noParams, 0},
	OpReturn: {"return", noParams, 0},
	OpStart:  {"start", noParams, 0},
	OpNop:    {"nop", noParams, 0},
	OpStop:   {"stop", noParams, 0},
	OpErr:    {"err", textParam, 0},

	// Heap
	OpAlloc:  {"alloc", intParam, 1},
	OpAllocn: {"allocn", noParams, 0},
	OpFree:   {"free", noParams, 0},
	OpEqual:  {"equal", noParams, 0},

	// Integer
	OpAdd:   {"add", noParams, 0},
	OpSub:   {"sub", noParams, 0},
	OpMul:   {"mul", noParams, 0},
	OpDiv:   {"div", noParams, 0},
	OpMod:   {"mod", noParams, 0},
	OpInf:   {"inf", noParams, 0},
	OpInfeq: {"infeq", noParams, 0},
	OpSup:   {"sup", noParams, 0},
	OpSupeq: {"supeq", noParams, 0},
	OpNot:   {"not", noParams, 0},

	// Float
	OpFadd:   {"fadd", noParams, 0},
	OpFsub:   {"fsub", noParams, 0},
	OpFmul:   {"fmul", noParams, 0},
	OpFdiv:   {"fdiv", noParams, 0},
	OpFinf:   {"finf", noParams, 0},
	OpFinfeq: {"finfeq", noParams, 0},
	OpFsup:   {"fsup", noParams, 0},
	OpFsupeq: {"fsupeq", noParams, 0},
	OpFcos:   {"fcos", noParams, 0},
	OpFsin:   {"fsin", noParams, 0},

	// Conversions and strings
	OpAtoi:   {"atoi", noParams, 0},
	OpAtof:   {"atof", noParams, 0},
	OpItof:   {"itof", noParams, 0},
	OpFtoi:   {"ftoi", noParams, 0},
	OpStri:   {"stri", noParams, 0},
	OpStrf:   {"strf", noParams, 0},
	OpConcat: {"concat", noParams, 0},

	// Fibers
	OpSpawn:   {"spawn", noParams, 0},
	OpSend:    {"send", noParams, 0},
	OpSwitch:  {"switch", noParams, 0},
	OpRun:     {"run", noParams, 0},
	OpYield:   {"yield", intParam, 0},
	OpYieldn:  {"yieldn", noParams, 0},
	OpSuspend: {"suspend", noParams, 0},
	OpFiber:   {"fiber", noParams, 1},
	OpFiberst: {"fiberst", noParams, 0},
	OpKill:    {"kill", intParam, 0},
	OpKilln:   {"killn", noParams, 0},

	// I/O and debugging
	OpWritei: {"writei", noParams, 0},
	OpWritef: {"writef", noParams, 0},
	OpWrites: {"writes", noParams, 0},
	OpRead:   {"read", noParams, 0},
	OpDebug:  {"debug", noParams, 0},
}

// aliases maps alternative spellings onto built-in mnemonics.
var aliases = map[string]Opcode{
	"itos": OpStri,
	"ftos": OpStrf,
}

// mnemonics maps every built-in name and alias to its opcode.
var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable)+len(aliases))
	for op := OpInvalid + 1; op <= LastBuiltin; op++ {
		m[opcodeInfoTable[op].Name] = op
	}
	for name, op := range aliases {
		m[name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for a built-in opcode.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if op > OpInvalid && op <= LastBuiltin {
		return opcodeInfoTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(%d)", uint16(op))}
}

// LookupOpcode returns the built-in opcode for a mnemonic or alias.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := mnemonics[name]
	return op, ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsBuiltin reports whether op is one of the closed set of opcodes.
func (op Opcode) IsBuiltin() bool {
	return op > OpInvalid && op <= LastBuiltin
}

// IsJump reports whether op repositions the code pointer itself.
func (op Opcode) IsJump() bool {
	switch op {
	case OpJump, OpJz, OpCall, OpReturn:
		return true
	}
	return false
}

// AllOpcodes returns every built-in opcode in declaration order.
func AllOpcodes() []Opcode {
	out := make([]Opcode, 0, int(LastBuiltin))
	for op := OpInvalid + 1; op <= LastBuiltin; op++ {
		out = append(out, op)
	}
	return out
}

// growth returns the most the operand stack can grow executing info with
// params. Parameters have already been checked.
func (info OpcodeInfo) growth(params []Value) int {
	if info.Growth != growsByParam {
		return info.Growth
	}
	if len(params) == 0 {
		return 0
	}
	return max(0, int(params[0].Int()))
}
