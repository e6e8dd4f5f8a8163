package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tags the payload of a Value. The payload's interpretation is
// determined solely by the kind, and the four address kinds are disjoint
// address spaces: a heap address is never accepted where a stack address is
// expected, and vice versa.
type Kind uint8

const (
	KindInteger    Kind = iota // int64 payload
	KindFloat                  // float64 payload
	KindText                   // string literal; only ever an instruction parameter
	KindHeapAddr               // index into the heap
	KindStringAddr             // index into the string table
	KindCodeAddr               // index into the instruction stream
	KindStackAddr              // index into the current fiber's operand stack

	// kindReleased marks a box that has been handed back to the pool.
	// It matches no KindSet, so reads through a stale handle fail type checks.
	kindReleased Kind = 0xFF
)

var kindNames = [...]string{
	KindInteger:    "integer",
	KindFloat:      "float",
	KindText:       "string",
	KindHeapAddr:   "heap-address",
	KindStringAddr: "string-address",
	KindCodeAddr:   "code-address",
	KindStackAddr:  "stack-address",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	if k == kindReleased {
		return "released"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsAddress reports whether k is one of the four address kinds.
func (k Kind) IsAddress() bool {
	return k >= KindHeapAddr && k <= KindStackAddr
}

// ---------------------------------------------------------------------------
// KindSet: type contracts for parameters and operands
// ---------------------------------------------------------------------------

// KindSet is a bit set of kinds accepted at one parameter or operand position.
type KindSet uint16

// Kinds builds a KindSet from the given kinds.
func Kinds(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// Common contracts.
var (
	AnyKind     = Kinds(KindInteger, KindFloat, KindHeapAddr, KindStringAddr, KindCodeAddr, KindStackAddr)
	AnyAddress  = Kinds(KindHeapAddr, KindStringAddr, KindCodeAddr, KindStackAddr)
	MemoryAddr  = Kinds(KindHeapAddr, KindStackAddr)
	IntegerOnly = Kinds(KindInteger)
	FloatOnly   = Kinds(KindFloat)
	TextOnly    = Kinds(KindText)
	StringAddr  = Kinds(KindStringAddr)
	CodeAddr    = Kinds(KindCodeAddr)
)

// Has reports whether k is a member of s.
func (s KindSet) Has(k Kind) bool {
	if k > 15 {
		return false
	}
	return s&(1<<k) != 0
}

// Members returns the kinds in s in declaration order.
func (s KindSet) Members() []Kind {
	var out []Kind
	for k := KindInteger; k <= KindStackAddr; k++ {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// String renders the set as "a or b or c".
func (s KindSet) String() string {
	members := s.Members()
	names := make([]string, len(members))
	for i, k := range members {
		names[i] = k.String()
	}
	return strings.Join(names, " or ")
}

// ---------------------------------------------------------------------------
// Value
// ---------------------------------------------------------------------------

// Value is one machine word. Operand stacks and the heap hold *Value boxes
// obtained from a Pool; instruction parameters hold Values directly.
type Value struct {
	kind Kind
	bits uint64
	text string // KindText only
}

// FromInt returns an Integer value.
func FromInt(n int64) Value {
	return Value{kind: KindInteger, bits: uint64(n)}
}

// FromFloat returns a Float value.
func FromFloat(f float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// FromText returns a string literal parameter.
func FromText(s string) Value {
	return Value{kind: KindText, text: s}
}

// FromAddress returns an address value of the given address kind.
func FromAddress(kind Kind, addr int) Value {
	if !kind.IsAddress() {
		panic(fmt.Sprintf("vm: FromAddress with non-address kind %s", kind))
	}
	return Value{kind: kind, bits: uint64(int64(addr))}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer payload.
func (v Value) Int() int64 { return int64(v.bits) }

// Float returns the float payload.
func (v Value) Float() float64 { return math.Float64frombits(v.bits) }

// Addr returns the address payload.
func (v Value) Addr() int { return int(int64(v.bits)) }

// Text returns the literal string payload.
func (v Value) Text() string { return v.text }

// Equal reports whether a and b have the same kind and the same payload.
// Floats compare numerically.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindFloat:
		return a.Float() == b.Float()
	case KindText:
		return a.text == b.text
	default:
		return a.bits == b.bits
	}
}

// String returns the textual form of the value.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.Int(), 10)
	case KindFloat:
		return FormatFloat(v.Float())
	case KindText:
		return strconv.Quote(v.text)
	case KindHeapAddr:
		return fmt.Sprintf("heap:%d", v.Addr())
	case KindStringAddr:
		return fmt.Sprintf("str:%d", v.Addr())
	case KindCodeAddr:
		return fmt.Sprintf("code:%d", v.Addr())
	case KindStackAddr:
		return fmt.Sprintf("stack:%d", v.Addr())
	default:
		return "<" + v.kind.String() + ">"
	}
}

// FormatFloat renders a float the way writef and strf do: the shortest
// representation that round-trips, in positional notation unless the
// magnitude is tiny or huge.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	}
	if a := math.Abs(f); a == 0 || (a >= 1e-6 && a < 1e21) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
