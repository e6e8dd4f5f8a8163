package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/stackvm/vm"
)

var errQuit = errors.New("quit")

const stepHelp = `h      show this help message
q      quit program execution
s      show the current fiber's operand stack
k      keep going without prompting
empty  execute the next instruction
`

// stepper drives a machine one instruction at a time, prompting before
// each. It shares the program's input, so it does not prompt while a
// fiber is waiting for a line.
type stepper struct {
	m    *vm.Machine
	in   vm.LineReader
	out  io.Writer
	keep bool
}

func newStepper(m *vm.Machine, in vm.LineReader, out io.Writer) *stepper {
	return &stepper{m: m, in: in, out: out}
}

func (s *stepper) run(ctx context.Context) error {
	s.m.Boot()
	for !s.m.Done() {
		if !s.keep && s.m.Scheduler().Pending() == 0 {
			if f := s.m.Current(); f != nil {
				s.show(f)
			}
			if err := s.prompt(ctx); err != nil {
				return err
			}
		}
		if _, err := s.m.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *stepper) show(f *vm.Fiber) {
	prog := s.m.Program()
	ins := "<end of program>"
	if cp := f.CodePointer; cp >= 0 && cp < prog.Len() {
		ins = prog.Instructions[cp].String()
	}
	fmt.Fprintf(s.out, "\nins %s\n", ins)
	fmt.Fprintf(s.out, "REG fiber: %d CP: %d GP: %d FP: %d SP: %d\n",
		f.ID, f.CodePointer, f.GlobalPointer, f.FramePointer, f.StackPointer())
}

// prompt reads commands until one advances the machine.
func (s *stepper) prompt(ctx context.Context) error {
	for {
		fmt.Fprint(s.out, "> next action (h for help)? ")
		line, err := s.in.ReadLine(ctx)
		if errors.Is(err, io.EOF) {
			s.keep = true
			return nil
		}
		if err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			return nil
		case "k":
			s.keep = true
			return nil
		case "h":
			fmt.Fprint(s.out, stepHelp)
		case "s":
			if f := s.m.Current(); f != nil {
				fmt.Fprint(s.out, s.m.DumpFiber(f))
			}
		case "q":
			if f := s.m.Current(); f != nil {
				fmt.Fprint(s.out, s.m.DumpFiber(f))
			}
			return errQuit
		default:
			fmt.Fprintf(s.out, "unknown command %q, h for help\n", line)
		}
	}
}
