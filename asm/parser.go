package asm

import (
	"fmt"
	"os"
	"strconv"

	"github.com/chazu/stackvm/vm"
)

// Error is a syntax or resolution error in assembly source.
type Error struct {
	Source string
	Pos    Position
	Msg    string
}

func (e *Error) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s:%s: %s", e.Source, e.Pos, e.Msg)
}

// Parser turns assembly source into a vm.Program. Labels may be used before
// they are defined; every reference is resolved to an absolute instruction
// index once the whole source has been read.
type Parser struct {
	source string
	lexer  *Lexer
	tok    Token
	peek   Token

	instructions []vm.Instruction
	labels       map[string]int
	labelPos     map[string]Position
	refs         []labelRef
}

// labelRef is a parameter naming a label, patched after parsing.
type labelRef struct {
	instr int
	param int
	name  string
	pos   Position
}

// NewParser creates a parser for src. source names the input in errors.
func NewParser(source, src string) *Parser {
	p := &Parser{
		source:   source,
		lexer:    NewLexer(src),
		labels:   make(map[string]int),
		labelPos: make(map[string]Position),
	}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.tok = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) errorf(pos Position, format string, args ...any) error {
	return &Error{Source: p.source, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Parse reads the whole source.
func (p *Parser) Parse() (*vm.Program, error) {
	for p.tok.Type != TokenEOF {
		if err := p.parseLine(); err != nil {
			return nil, err
		}
	}
	if err := p.resolve(); err != nil {
		return nil, err
	}
	return &vm.Program{
		Instructions: p.instructions,
		Labels:       p.labels,
		Source:       p.source,
	}, nil
}

// parseLine reads any number of label definitions, at most one
// instruction, and the line break that ends them.
func (p *Parser) parseLine() error {
	for p.tok.Type == TokenLabel {
		if err := p.defineLabel(p.tok); err != nil {
			return err
		}
		p.next()
	}

	switch p.tok.Type {
	case TokenNewline:
		p.next()
		return nil
	case TokenEOF:
		return nil
	case TokenIdentifier:
		if err := p.parseInstruction(); err != nil {
			return err
		}
	case TokenError:
		return p.errorf(p.tok.Pos, "%s", p.tok.Literal)
	default:
		return p.errorf(p.tok.Pos, "expected instruction, got %s", p.tok)
	}

	switch p.tok.Type {
	case TokenNewline:
		p.next()
	case TokenEOF:
	case TokenLabel:
		return p.errorf(p.tok.Pos, "label %q must start a line", p.tok.Literal)
	default:
		return p.errorf(p.tok.Pos, "unexpected %s after instruction", p.tok)
	}
	return nil
}

func (p *Parser) defineLabel(tok Token) error {
	if prev, dup := p.labelPos[tok.Literal]; dup {
		return p.errorf(tok.Pos, "label %q already defined at %s", tok.Literal, prev)
	}
	p.labels[tok.Literal] = len(p.instructions)
	p.labelPos[tok.Literal] = tok.Pos
	return nil
}

func (p *Parser) parseInstruction() error {
	in := vm.Instruction{Name: p.tok.Literal, Line: p.tok.Pos.Line}
	index := len(p.instructions)
	p.next()

	for {
		tok := p.tok
		var v vm.Value
		switch tok.Type {
		case TokenInteger:
			n, err := strconv.ParseInt(tok.Literal, 10, 64)
			if err != nil {
				return p.errorf(tok.Pos, "integer %s out of range", tok.Literal)
			}
			v = vm.FromInt(n)
		case TokenFloat:
			f, err := strconv.ParseFloat(tok.Literal, 64)
			if err != nil {
				return p.errorf(tok.Pos, "malformed float %s", tok.Literal)
			}
			v = vm.FromFloat(f)
		case TokenString:
			v = vm.FromText(tok.Literal)
		case TokenIdentifier:
			p.refs = append(p.refs, labelRef{instr: index, param: len(in.Params), name: tok.Literal, pos: tok.Pos})
			v = vm.FromAddress(vm.KindCodeAddr, 0)
		case TokenError:
			return p.errorf(tok.Pos, "%s", tok.Literal)
		default:
			p.instructions = append(p.instructions, in)
			return nil
		}
		in.Params = append(in.Params, v)
		p.next()
	}
}

func (p *Parser) resolve() error {
	for _, ref := range p.refs {
		target, ok := p.labels[ref.name]
		if !ok {
			return p.errorf(ref.pos, "referencing label %q that does not exist", ref.name)
		}
		p.instructions[ref.instr].Params[ref.param] = vm.FromAddress(vm.KindCodeAddr, target)
	}
	return nil
}

// Parse assembles src. source names the input in errors and is recorded
// on the program.
func Parse(source, src string) (*vm.Program, error) {
	return NewParser(source, src).Parse()
}

// ParseFile assembles the file at path.
func ParseFile(path string) (*vm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(path, string(data))
}

// MustParse is Parse for sources known to be valid; it panics on error.
func MustParse(source, src string) *vm.Program {
	prog, err := Parse(source, src)
	if err != nil {
		panic(err)
	}
	return prog
}
