package vm_test

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/chazu/stackvm/asm"
	"github.com/chazu/stackvm/vm"
)

// runSource assembles and runs src, returning what it wrote.
func runSource(t *testing.T, src string, opts ...vm.Option) (string, *vm.Machine, error) {
	t.Helper()
	prog, err := asm.Parse("test.svm", src)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	var out strings.Builder
	opts = append([]vm.Option{vm.WithOutput(&out), vm.WithDebug(io.Discard)}, opts...)
	m := vm.New(prog, opts...)
	err = m.Run(context.Background())
	return out.String(), m, err
}

func mustRun(t *testing.T, src string, opts ...vm.Option) string {
	t.Helper()
	out, _, err := runSource(t, src, opts...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestScenarioAddAndWrite(t *testing.T) {
	out, m, err := runSource(t, "pushi 1\npushi 2\nadd\nwritei\nstop")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "3" {
		t.Errorf("output = %q, want %q", out, "3")
	}
	if !m.Done() {
		t.Error("machine not done after stop")
	}
	if n := m.Stats().Instructions; n != 5 {
		t.Errorf("Instructions = %d, want 5", n)
	}
}

const fibSource = `
    pushi 0          // result slot
    pushi 7          // argument
    pusha fib
    call
    pop 1
    writei
    stop

// fib(n): fp-2 holds the result, fp-1 holds n
fib:
    pushl -1
    pushi 2
    inf
    jz recurse
    pushl -1
    storel -2
    return
recurse:
    pushi 0
    pushl -1
    pushi 1
    sub
    pusha fib
    call
    pop 1
    pushi 0
    pushl -1
    pushi 2
    sub
    pusha fib
    call
    pop 1
    add
    storel -2
    return
`

func TestScenarioRecursiveFibonacci(t *testing.T) {
	for _, pooling := range []bool{true, false} {
		out, m, err := runSource(t, fibSource, vm.WithPooling(pooling))
		if err != nil {
			t.Fatalf("pooling=%v: Run: %v", pooling, err)
		}
		if out != "13" {
			t.Errorf("pooling=%v: output = %q, want 13", pooling, out)
		}
		s := m.Stats().Pool
		if pooling && s.Hits == 0 {
			t.Errorf("pooling enabled but no hits: %+v", s)
		}
		if !pooling && s.Hits != 0 {
			t.Errorf("pooling disabled but %d hits", s.Hits)
		}
	}
}

func TestScenarioSpawnSendSwitch(t *testing.T) {
	prog := asm.MustParse("", `
    pusha worker
    spawn
    dup 1
    pushi 42
    send
    switch
    stop
worker:
    writei
    stop
`)
	var out strings.Builder
	m := vm.New(prog, vm.WithOutput(&out))
	ctx := context.Background()

	// Run up to and including the switch.
	for i := 0; i < 6; i++ {
		if _, err := m.Step(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	cur := m.Current()
	if cur == nil || cur == m.Main() {
		t.Fatalf("current fiber after switch = %v", cur)
	}
	if vals := cur.Values(); len(vals) != 1 || !vm.Equal(vals[0], vm.FromInt(42)) {
		t.Fatalf("worker stack = %v, want [42]", vals)
	}
	if vals := m.Main().Values(); len(vals) != 0 {
		t.Errorf("main stack = %v, want empty", vals)
	}

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "42" {
		t.Errorf("output = %q, want 42", out.String())
	}
}

func TestScenarioStackOverflow(t *testing.T) {
	_, m, err := runSource(t, "pushi 1\npushi 2\npushi 3\npushi 4\nstop", vm.WithMaxStack(3))
	if !errors.Is(err, vm.ErrStackOverflow) {
		t.Fatalf("Run = %v, want ErrStackOverflow", err)
	}
	var fault *vm.Fault
	if !errors.As(err, &fault) || fault.CodePointer != 3 || fault.Mnemonic != "pushi" {
		t.Errorf("fault = %+v", fault)
	}
	main := m.Main()
	if main.CodePointer != 3 {
		t.Errorf("code pointer = %d, want 3", main.CodePointer)
	}
	vals := main.Values()
	if len(vals) != 3 || vals[2].Int() != 3 {
		t.Errorf("stack = %v, want [1 2 3]", vals)
	}
}

func TestStackOverflowFromGrowthParameter(t *testing.T) {
	_, m, err := runSource(t, "pushi 1\npushn 5", vm.WithMaxStack(4))
	if !errors.Is(err, vm.ErrStackOverflow) {
		t.Fatalf("Run = %v, want ErrStackOverflow", err)
	}
	if sp := m.Main().StackPointer(); sp != 1 {
		t.Errorf("stack pointer = %d, want 1", sp)
	}
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestCallReturnRestoresRegisters(t *testing.T) {
	prog := asm.MustParse("", `
    pushi 9
    pusha f
    call
    stop
f:
    pushi 1
    pushi 2
    return
`)
	m := vm.New(prog, vm.WithOutput(io.Discard))
	ctx := context.Background()
	step := func(n int) {
		for i := 0; i < n; i++ {
			if _, err := m.Step(ctx); err != nil {
				t.Fatalf("Step: %v", err)
			}
		}
	}

	step(2) // pushi, pusha
	main := m.Main()
	fp, cp := main.FramePointer, main.CodePointer

	step(1) // call
	if main.CodePointer != 4 || main.FramePointer != 1 {
		t.Fatalf("inside call: cp=%d fp=%d, want 4 and 1", main.CodePointer, main.FramePointer)
	}

	step(3) // pushi, pushi, return
	if main.FramePointer != fp || main.CodePointer != cp+1 {
		t.Errorf("after return: cp=%d fp=%d, want %d and %d", main.CodePointer, main.FramePointer, cp+1, fp)
	}
	if vals := main.Values(); len(vals) != 1 || vals[0].Int() != 9 {
		t.Errorf("stack after return = %v, want [9]", vals)
	}
	if live := m.Pool().Stats().Live; live != 1 {
		t.Errorf("pool live = %d, want 1: discarded operands not released", live)
	}
}

func TestReturnWithoutCall(t *testing.T) {
	_, _, err := runSource(t, "return")
	if !errors.Is(err, vm.ErrStackUnderflow) {
		t.Errorf("Run = %v, want ErrStackUnderflow", err)
	}
}

func TestYieldAndResume(t *testing.T) {
	out := mustRun(t, `
    pusha gen
    spawn
    dup 1
    run
    writei
    writei
    run
    writei
    pushi 1
    fiberst
    writei
    stop
gen:
    pushi 5
    pushi 10
    pushi 20
    yield 2
    writei
    pushi 7
    kill 1
`)
	if out != "2010570" {
		t.Errorf("output = %q, want %q", out, "2010570")
	}
}

func TestYieldWithoutCaller(t *testing.T) {
	_, _, err := runSource(t, "yield 0")
	if !errors.Is(err, vm.ErrNoCaller) {
		t.Errorf("Run = %v, want ErrNoCaller", err)
	}
}

func TestFiberOpcodes(t *testing.T) {
	out := mustRun(t, `
    fiber
    writei
    fiber
    fiberst
    writei
    pusha idle
    spawn
    fiberst
    writei
    pushi 9
    fiberst
    writei
    stop
idle:
    stop
`)
	// main is fiber 0; it is running; the spawned fiber sleeps; 9 is dead.
	if out != "0210" {
		t.Errorf("output = %q, want 0210", out)
	}
}

func TestSwitchToUnknownFiber(t *testing.T) {
	_, m, err := runSource(t, "pushi 5\nswitch")
	if !errors.Is(err, vm.ErrUnknownFiber) {
		t.Fatalf("Run = %v, want ErrUnknownFiber", err)
	}
	if vals := m.Main().Values(); len(vals) != 1 {
		t.Errorf("stack = %v, want the id left in place", vals)
	}
}

func TestSendToUnknownFiber(t *testing.T) {
	_, _, err := runSource(t, "pushi 3\npushi 1\nsend")
	if !errors.Is(err, vm.ErrUnknownFiber) {
		t.Errorf("Run = %v, want ErrUnknownFiber", err)
	}
}

func TestSuspendWithNothingQueuedEndsRun(t *testing.T) {
	out, m, err := runSource(t, "pushi 1\nwritei\nsuspend\npushi 2\nwritei")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "1" || !m.Done() {
		t.Errorf("output = %q done=%v", out, m.Done())
	}
}

func TestRunningOffTheEnd(t *testing.T) {
	out, m, err := runSource(t, `
    pusha child
    spawn
    run
    pushi 3
    writei
    stop
child:
    pushi 1
    writei
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "13" {
		t.Errorf("output = %q, want 13", out)
	}
	if n := m.Scheduler().Live(); n != 1 {
		t.Errorf("live fibers = %d, want 1", n)
	}
}

func TestKillWithoutCallerHalts(t *testing.T) {
	out := mustRun(t, "pushi 4\nwritei\nkill 0\npushi 5\nwritei")
	if out != "4" {
		t.Errorf("output = %q, want 4", out)
	}
}

func TestConversionRoundTrips(t *testing.T) {
	ints := []int64{0, 1, -1, 42, -123456789, 1<<62 + 7}
	for _, n := range ints {
		prog := vm.NewProgram(
			vm.NewInstruction("pushi", vm.FromInt(n)),
			vm.NewInstruction("stri"),
			vm.NewInstruction("atoi"),
			vm.NewInstruction("writei"),
		)
		var out strings.Builder
		m := vm.New(prog, vm.WithOutput(&out))
		if err := m.Run(context.Background()); err != nil {
			t.Fatalf("%d: Run: %v", n, err)
		}
		if want := strconv.FormatInt(n, 10); out.String() != want {
			t.Errorf("stri/atoi of %d wrote %q", n, out.String())
		}
	}

	floats := []float64{0, 1.5, -2.25, 1e-9, 3.141592653589793, 1e300}
	for _, f := range floats {
		prog := vm.NewProgram(
			vm.NewInstruction("pushf", vm.FromFloat(f)),
			vm.NewInstruction("strf"),
			vm.NewInstruction("atof"),
			vm.NewInstruction("writef"),
		)
		var out strings.Builder
		m := vm.New(prog, vm.WithOutput(&out))
		if err := m.Run(context.Background()); err != nil {
			t.Fatalf("%v: Run: %v", f, err)
		}
		if out.String() != vm.FormatFloat(f) {
			t.Errorf("strf/atof of %v wrote %q", f, out.String())
		}
	}
}

func TestIntRoundTripValues(t *testing.T) {
	for _, n := range []string{"0", "-7", "9223372036854775807"} {
		out := mustRun(t, "pushi "+n+"\nstri\natoi\nwritei")
		if out != n {
			t.Errorf("stri/atoi of %s wrote %q", n, out)
		}
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"pushi 7\npushi 2\ndiv\nwritei", "3"},
		{"pushi -7\npushi 2\ndiv\nwritei", "-4"},
		{"pushi -7\npushi 2\nmod\nwritei", "1"},
		{"pushi 3\npushi 4\nmul\npushi 5\nsub\nwritei", "7"},
		{"pushi 2\npushi 3\ninf\nwritei", "1"},
		{"pushi 3\npushi 3\ninfeq\nwritei", "1"},
		{"pushi 2\npushi 3\nsup\nwritei", "0"},
		{"pushi 3\npushi 3\nsupeq\nwritei", "1"},
		{"pushi 0\nnot\nwritei", "1"},
		{"pushi 5\nnot\nwritei", "0"},
		{"pushf 1.5\npushf 2.25\nfadd\nwritef", "3.75"},
		{"pushf 1\npushf 4\nfdiv\nwritef", "0.25"},
		{"pushf 1\npushf 2\nfinf\nwritei", "1"},
		{"pushf 0\nfcos\nwritef", "1"},
		{"pushf 0\nfsin\nwritef", "0"},
		{"pushf -1.5\nftoi\nwritei", "-2"},
		{"pushf 2.9\nftoi\nwritei", "2"},
		{"pushi 3\nitof\nwritef", "3"},
		{`pushs " 12 "` + "\natoi\nwritei", "12"},
		{"pushf 1\npushf 1\nequal\nwritei", "1"},
		{"pushi 1\npushf 1\nequal\nwritei", "0"},
		{`pushs "a"` + "\n" + `pushs "a"` + "\nequal\nwritei", "1"},
	}
	for _, tt := range tests {
		if got := mustRun(t, tt.src); got != tt.want {
			t.Errorf("%q wrote %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestStrings(t *testing.T) {
	out, m, err := runSource(t, `
    pushs "foo"
    pushs "bar"
    concat
    dup 1
    writes
    pushs "foobar"
    equal
    writei
    pushi 12
    itos
    pushf 0.5
    ftos
    concat
    writes
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "foobar1120.5" {
		t.Errorf("output = %q", out)
	}
	if n := m.Strings().Len(); n != 6 {
		t.Errorf("interned %d strings, want 6", n)
	}
}

func TestStackShaping(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"pushi 1\npushi 2\nswap\nwritei\nwritei", "12"},
		{"pushi 1\npushi 2\ndup 2\nwritei\nwritei\nwritei\nwritei", "2121"},
		{"pushi 1\npushi 2\npushi 2\ndupn\nwritei\nwritei\nwritei\nwritei", "2121"},
		{"pushi 1\npushi 2\npushi 3\npop 2\nwritei", "1"},
		{"pushi 1\npushi 2\npushi 3\npushi 2\npopn\nwritei", "1"},
		{"pushn 2\npushgp\npushi 5\nstore 1\npushg 1\nwritei", "5"},
		{"pushi 4\npushi 6\npushg 0\nwritei\npushl 1\nwritei", "46"},
		{"pushi 0\npushi 8\nstoreg 0\npushg 0\nwritei", "8"},
	}
	for _, tt := range tests {
		out, _, err := runSource(t, tt.src)
		if err != nil {
			t.Errorf("%q: %v", tt.src, err)
			continue
		}
		if out != tt.want {
			t.Errorf("%q wrote %q, want %q", tt.src, out, tt.want)
		}
	}
}

func TestStackAddressing(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		// padd keeps the address kind; load copies the slot.
		{"pushi 4\npushgp\npushi 0\npadd\nload 0\nwritei", "4"},
		// storen: addr offset value
		{"pushi 0\npushi 0\npushgp\npushi 1\npushi 9\nstoren\npushg 1\nwritei", "9"},
		// loadn: addr offset
		{"pushi 3\npushi 6\npushgp\npushi 1\nloadn\nwritei", "6"},
		// pushfp inside a call is the frame base
		{"pushi 2\npusha f\ncall\nstop\nf:\npushfp\nload -1\nwritei\nreturn", "2"},
	}
	for _, tt := range tests {
		if got := mustRun(t, tt.src); got != tt.want {
			t.Errorf("%q wrote %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestHeapProgram(t *testing.T) {
	out, m, err := runSource(t, `
    alloc 2
    dup 1
    pushi 5
    store 1
    dup 1
    load 1
    writei
    dup 1
    load 0
    writei
    pushi 3
    allocn
    free
    free
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "50" {
		t.Errorf("output = %q, want 50", out)
	}
	if allocs, _ := m.Heap().Live(); allocs != 0 {
		t.Errorf("live allocations = %d, want 0", allocs)
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name string
		src  string
		err  error
	}{
		{"type mismatch operand", "pushf 1.5\npushi 2\nadd", vm.ErrTypeMismatch},
		{"type mismatch param", "pushi 1.5", vm.ErrTypeMismatch},
		{"arity", "pushi", vm.ErrArityMismatch},
		{"unknown opcode", "frobnicate", vm.ErrUnknownOpcode},
		{"underflow", "add", vm.ErrStackUnderflow},
		{"division by zero", "pushi 1\npushi 0\ndiv", vm.ErrDivisionByZero},
		{"load after free", "alloc 1\ndup 1\nfree\nload 0", vm.ErrInvalidAddress},
		{"double free", "alloc 1\ndup 1\ndup 1\nfree\nfree", vm.ErrInvalidFree},
		{"free of stack address", "pushsp\nfree", vm.ErrTypeMismatch},
		{"heap address as stack", "alloc 1\nstoreg 5", vm.ErrInvalidAddress},
		{"stack slot out of range", "pushl 3", vm.ErrInvalidAddress},
		{"bad string address", "pushi 0\nwrites", vm.ErrTypeMismatch},
		{"bad numeric text", `pushs "x1"` + "\natoi", vm.ErrRuntime},
		{"guest error", `err "boom"`, vm.ErrRuntime},
		{"negative alloc", "alloc -1", vm.ErrRuntime},
		{"ftoi overflow", "pushf 1e300\nftoi", vm.ErrRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, m, err := runSource(t, tt.src)
			if !errors.Is(err, tt.err) {
				t.Fatalf("Run = %v, want %v", err, tt.err)
			}
			var fault *vm.Fault
			if !errors.As(err, &fault) {
				t.Fatalf("error %T is not a *vm.Fault", err)
			}
			if fault.Fiber != 0 {
				t.Errorf("fault fiber = %d", fault.Fiber)
			}
			if !m.Done() {
				t.Error("machine not done after fault")
			}
		})
	}
}

func TestGuestErrorMessage(t *testing.T) {
	_, _, err := runSource(t, `err "out of cheese"`)
	var rt *vm.RuntimeError
	if !errors.As(err, &rt) || rt.Message != "out of cheese" {
		t.Errorf("Run = %v, want RuntimeError(out of cheese)", err)
	}
}

func TestFailedOperandCheckLeavesState(t *testing.T) {
	_, m, err := runSource(t, "pushf 1.5\npushi 2\nadd")
	if !errors.Is(err, vm.ErrTypeMismatch) {
		t.Fatalf("Run = %v", err)
	}
	vals := m.Main().Values()
	if len(vals) != 2 || vals[0].Kind() != vm.KindFloat || vals[1].Int() != 2 {
		t.Errorf("stack = %v, want [1.5 2]", vals)
	}
	// Handler failures still advance past the faulting instruction.
	if cp := m.Main().CodePointer; cp != 3 {
		t.Errorf("code pointer = %d, want 3", cp)
	}
}

func TestFailedParameterCheckLeavesCodePointer(t *testing.T) {
	_, m, err := runSource(t, "nop\npushi 1.5")
	if !errors.Is(err, vm.ErrTypeMismatch) {
		t.Fatalf("Run = %v", err)
	}
	if cp := m.Main().CodePointer; cp != 1 {
		t.Errorf("code pointer = %d, want 1", cp)
	}
}

func TestStoreFailureRestoresOperands(t *testing.T) {
	_, m, err := runSource(t, "alloc 1\npushi 7\nstore 3")
	if !errors.Is(err, vm.ErrInvalidAddress) {
		t.Fatalf("Run = %v", err)
	}
	vals := m.Main().Values()
	if len(vals) != 2 || vals[0].Kind() != vm.KindHeapAddr || vals[1].Int() != 7 {
		t.Errorf("stack = %v, want [heap:0 7]", vals)
	}
}

func TestRead(t *testing.T) {
	input := vm.NewLineReader(strings.NewReader("17\nhello\r\n"))
	out := mustRun(t, "read\natoi\npushi 1\nadd\nwritei\nread\nwrites\nstop", vm.WithInput(input))
	if out != "18hello" {
		t.Errorf("output = %q, want 18hello", out)
	}
}

func TestReadInSpawnedFiber(t *testing.T) {
	input := vm.NewLineReader(strings.NewReader("ping\n"))
	out := mustRun(t, `
    pusha reader
    spawn
    run
    writes
    stop
reader:
    read
    kill 1
`, vm.WithInput(input))
	if out != "ping" {
		t.Errorf("output = %q, want ping", out)
	}
}

func TestReadAtEndOfInput(t *testing.T) {
	input := vm.NewLineReader(strings.NewReader(""))
	_, _, err := runSource(t, "nop\nread", vm.WithInput(input))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Run = %v, want io.EOF", err)
	}
	var fault *vm.Fault
	if !errors.As(err, &fault) || fault.CodePointer != 1 || fault.Mnemonic != "read" {
		t.Errorf("fault = %+v", fault)
	}
}

func TestReadWithoutInput(t *testing.T) {
	_, _, err := runSource(t, "read")
	if !errors.Is(err, vm.ErrRuntime) {
		t.Errorf("Run = %v, want ErrRuntime", err)
	}
}

func TestDebugOpcode(t *testing.T) {
	prog := asm.MustParse("", `pushi 3`+"\n"+`pushs "hi"`+"\ndebug\nstop")
	var dbg strings.Builder
	m := vm.New(prog, vm.WithOutput(io.Discard), vm.WithDebug(&dbg))
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{`fiber 0 operands [3 str:0("hi")]`, "registers code=2 frame=0 global=0 stack=2"} {
		if !strings.Contains(dbg.String(), want) {
			t.Errorf("debug output missing %q:\n%s", want, dbg.String())
		}
	}
}

func TestStepReportsDone(t *testing.T) {
	prog := asm.MustParse("", "nop\nnop")
	m := vm.New(prog)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		done, err := m.Step(ctx)
		if err != nil || done {
			t.Fatalf("step %d: done=%v err=%v", i, done, err)
		}
	}
	done, err := m.Step(ctx)
	if err != nil || !done {
		t.Errorf("final step: done=%v err=%v", done, err)
	}
	if done, _ := m.Step(ctx); !done {
		t.Error("Step after done did not report done")
	}
}

func TestRunHonoursContext(t *testing.T) {
	prog := asm.MustParse("", "top:\njump top")
	m := vm.New(prog)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want context.DeadlineExceeded", err)
	}
}

func TestExtensionOpcode(t *testing.T) {
	table := vm.NewTable()
	_, err := table.Register("square", nil, 0, func(m *vm.Machine, f *vm.Fiber, _ []vm.Value) error {
		box, err := f.Pop()
		if err != nil {
			return err
		}
		n := box.Int()
		m.Pool().Release(box)
		f.Push(m.Pool().Acquire(vm.FromInt(n * n)))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	out := mustRun(t, "pushi 9\nsquare\nwritei\nstop", vm.WithTable(table))
	if out != "81" {
		t.Errorf("output = %q, want 81", out)
	}
}

func TestStatsCounters(t *testing.T) {
	_, m, err := runSource(t, fibSource)
	if err != nil {
		t.Fatal(err)
	}
	s := m.Stats()
	if s.Instructions == 0 || s.Pool.MaxLive == 0 || s.Pool.Misses == 0 {
		t.Errorf("stats = %+v", s)
	}
	if s.UserTime < s.CPUTime {
		t.Errorf("user time %v below cpu time %v", s.UserTime, s.CPUTime)
	}
}
