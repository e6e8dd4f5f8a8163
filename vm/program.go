package vm

import (
	"fmt"
	"strings"
)

// Instruction is one entry of the instruction stream. Code-address
// parameters are already resolved to absolute instruction indices.
type Instruction struct {
	Name   string
	Params []Value
	Line   int // source line, 0 when unknown

	op Opcode // cached by Table.Resolve
}

// NewInstruction builds an instruction.
func NewInstruction(name string, params ...Value) Instruction {
	return Instruction{Name: name, Params: params}
}

func (in Instruction) String() string {
	if len(in.Params) == 0 {
		return in.Name
	}
	var sb strings.Builder
	sb.WriteString(in.Name)
	for _, p := range in.Params {
		sb.WriteByte(' ')
		sb.WriteString(p.String())
	}
	return sb.String()
}

// Program is an assembled instruction stream.
type Program struct {
	Instructions []Instruction
	Labels       map[string]int // label -> instruction index
	Source       string         // file name, for diagnostics
}

// NewProgram wraps instructions in a Program with no labels.
func NewProgram(instructions ...Instruction) *Program {
	return &Program{Instructions: instructions, Labels: map[string]int{}}
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.Instructions) }

// Label returns the instruction index of a label.
func (p *Program) Label(name string) (int, error) {
	i, ok := p.Labels[name]
	if !ok {
		return 0, fmt.Errorf("undefined label %q", name)
	}
	return i, nil
}

// LabelAt returns the first label naming instruction i, if any.
func (p *Program) LabelAt(i int) (string, bool) {
	best := ""
	for name, at := range p.Labels {
		if at == i && (best == "" || name < best) {
			best = name
		}
	}
	return best, best != ""
}
