package asm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/stackvm/vm"
)

// Disassemble renders prog as source text. Code addresses are written as
// the label naming them, and instructions that are jump targets get a
// generated label when the program has none. Parsing the output yields an
// equivalent program.
func Disassemble(prog *vm.Program) string {
	names := labelNames(prog)

	var sb strings.Builder
	for i, in := range prog.Instructions {
		for _, name := range names[i] {
			fmt.Fprintf(&sb, "%s:\n", name)
		}
		fmt.Fprintf(&sb, "    %s", in.Name)
		for _, param := range in.Params {
			sb.WriteByte(' ')
			sb.WriteString(formatParam(param, names))
		}
		sb.WriteByte('\n')
	}
	if trailing := names[len(prog.Instructions)]; len(trailing) > 0 {
		for _, name := range trailing {
			fmt.Fprintf(&sb, "%s:\n", name)
		}
	}
	return sb.String()
}

// Listing renders prog with instruction indices, one per line, for the
// debugger and the -dis flag.
func Listing(prog *vm.Program) string {
	names := labelNames(prog)

	var sb strings.Builder
	for i, in := range prog.Instructions {
		for _, name := range names[i] {
			fmt.Fprintf(&sb, "      %s:\n", name)
		}
		fmt.Fprintf(&sb, "%4d    %s", i, in.Name)
		for _, param := range in.Params {
			sb.WriteByte(' ')
			sb.WriteString(formatParam(param, names))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatParam(v vm.Value, names map[int][]string) string {
	switch v.Kind() {
	case vm.KindInteger:
		return strconv.FormatInt(v.Int(), 10)
	case vm.KindFloat:
		s := strconv.FormatFloat(v.Float(), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return s
	case vm.KindText:
		return quote(v.Text())
	case vm.KindCodeAddr:
		if n := names[v.Addr()]; len(n) > 0 {
			return n[0]
		}
	}
	return v.String()
}

// labelNames maps instruction indices to the labels naming them, adding
// generated labels for unnamed code-address targets.
func labelNames(prog *vm.Program) map[int][]string {
	names := make(map[int][]string)
	for name, at := range prog.Labels {
		names[at] = append(names[at], name)
	}
	for at := range names {
		sort.Strings(names[at])
	}
	for _, in := range prog.Instructions {
		for _, param := range in.Params {
			if param.Kind() != vm.KindCodeAddr {
				continue
			}
			at := param.Addr()
			if len(names[at]) == 0 {
				name := fmt.Sprintf("L%d", at)
				for _, taken := prog.Labels[name]; taken; _, taken = prog.Labels[name] {
					name += "_"
				}
				names[at] = []string{name}
			}
		}
	}
	return names
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\r':
			sb.WriteString(`\r`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
