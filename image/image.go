// Package image stores assembled programs as CBOR so they can be run
// without reassembling. Images are encoded canonically: the same program
// and ID always produce the same bytes.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/stackvm/vm"
)

const (
	// Magic opens every image.
	Magic = "SVMI"
	// Version is the image format version written by this package.
	Version = 1
)

// ErrNotImage is returned when data does not start with an image header.
var ErrNotImage = errors.New("image: not a program image")

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Image is the serialized form of a vm.Program.
type Image struct {
	Magic   string         `cbor:"1,keyasint"`
	Version uint           `cbor:"2,keyasint"`
	ID      uuid.UUID      `cbor:"3,keyasint"`
	Source  string         `cbor:"4,keyasint,omitempty"`
	Labels  map[string]int `cbor:"5,keyasint,omitempty"`
	Code    []Instruction  `cbor:"6,keyasint"`
}

// Instruction is one serialized instruction.
type Instruction struct {
	Name   string  `cbor:"1,keyasint"`
	Params []Param `cbor:"2,keyasint,omitempty"`
	Line   int     `cbor:"3,keyasint,omitempty"`
}

// Param is a serialized parameter value. Bits carries the integer, the
// IEEE 754 bits of a float, or an address; Text carries a string literal.
type Param struct {
	Kind uint8  `cbor:"1,keyasint"`
	Bits uint64 `cbor:"2,keyasint,omitempty"`
	Text string `cbor:"3,keyasint,omitempty"`
}

// New captures prog in an image with a fresh ID.
func New(prog *vm.Program) *Image {
	img := &Image{
		Magic:   Magic,
		Version: Version,
		ID:      uuid.New(),
		Source:  prog.Source,
		Code:    make([]Instruction, len(prog.Instructions)),
	}
	if len(prog.Labels) > 0 {
		img.Labels = make(map[string]int, len(prog.Labels))
		for name, at := range prog.Labels {
			img.Labels[name] = at
		}
	}
	for i, in := range prog.Instructions {
		code := Instruction{Name: in.Name, Line: in.Line}
		if len(in.Params) > 0 {
			code.Params = make([]Param, len(in.Params))
			for j, v := range in.Params {
				code.Params[j] = encodeParam(v)
			}
		}
		img.Code[i] = code
	}
	return img
}

func encodeParam(v vm.Value) Param {
	p := Param{Kind: uint8(v.Kind())}
	switch v.Kind() {
	case vm.KindInteger:
		p.Bits = uint64(v.Int())
	case vm.KindFloat:
		p.Bits = math.Float64bits(v.Float())
	case vm.KindText:
		p.Text = v.Text()
	default:
		p.Bits = uint64(int64(v.Addr()))
	}
	return p
}

// Program rebuilds the program held by img. Every code address and label
// must fall inside the instruction stream, or at its end.
func (img *Image) Program() (*vm.Program, error) {
	if img.Magic != Magic {
		return nil, ErrNotImage
	}
	if img.Version != Version {
		return nil, fmt.Errorf("image: unsupported version %d", img.Version)
	}
	n := len(img.Code)
	prog := &vm.Program{
		Instructions: make([]vm.Instruction, n),
		Labels:       make(map[string]int, len(img.Labels)),
		Source:       img.Source,
	}
	for name, at := range img.Labels {
		if at < 0 || at > n {
			return nil, fmt.Errorf("image: label %q points outside the program (%d)", name, at)
		}
		prog.Labels[name] = at
	}
	for i, code := range img.Code {
		if code.Name == "" {
			return nil, fmt.Errorf("image: instruction %d has no name", i)
		}
		in := vm.NewInstruction(code.Name)
		in.Line = code.Line
		for j, p := range code.Params {
			v, err := decodeParam(p, n)
			if err != nil {
				return nil, fmt.Errorf("image: instruction %d parameter %d: %w", i, j, err)
			}
			in.Params = append(in.Params, v)
		}
		prog.Instructions[i] = in
	}
	return prog, nil
}

func decodeParam(p Param, codeLen int) (vm.Value, error) {
	kind := vm.Kind(p.Kind)
	switch kind {
	case vm.KindInteger:
		return vm.FromInt(int64(p.Bits)), nil
	case vm.KindFloat:
		return vm.FromFloat(math.Float64frombits(p.Bits)), nil
	case vm.KindText:
		return vm.FromText(p.Text), nil
	case vm.KindCodeAddr:
		addr := int(int64(p.Bits))
		if addr < 0 || addr > codeLen {
			return vm.Value{}, fmt.Errorf("code address %d outside the program", addr)
		}
		return vm.FromAddress(kind, addr), nil
	case vm.KindHeapAddr, vm.KindStringAddr, vm.KindStackAddr:
		return vm.FromAddress(kind, int(int64(p.Bits))), nil
	}
	return vm.Value{}, fmt.Errorf("unknown value kind %d", p.Kind)
}

// Marshal serializes img to canonical CBOR.
func Marshal(img *Image) ([]byte, error) {
	data, err := encMode.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("image: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal parses an image. It returns ErrNotImage when data decodes but
// carries the wrong magic.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Magic != Magic {
		return nil, ErrNotImage
	}
	return &img, nil
}

// Encode is New followed by Marshal.
func Encode(prog *vm.Program) ([]byte, uuid.UUID, error) {
	img := New(prog)
	data, err := Marshal(img)
	return data, img.ID, err
}

// Decode is Unmarshal followed by Program.
func Decode(data []byte) (*vm.Program, uuid.UUID, error) {
	img, err := Unmarshal(data)
	if err != nil {
		return nil, uuid.Nil, err
	}
	prog, err := img.Program()
	return prog, img.ID, err
}

// Sniff reports whether data looks like an image: a CBOR map whose first
// entry is the magic string.
func Sniff(data []byte) bool {
	// Canonical encoding puts key 1 first: map header, 0x01, then "SVMI".
	header := []byte{0x01, 0x64}
	header = append(header, Magic...)
	return len(data) > 1 && data[0]&0xe0 == 0xa0 && bytes.HasPrefix(data[1:], header)
}

// WriteFile encodes prog into path and returns the image ID.
func WriteFile(path string, prog *vm.Program) (uuid.UUID, error) {
	data, id, err := Encode(prog)
	if err != nil {
		return uuid.Nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return uuid.Nil, fmt.Errorf("image: cannot write %s: %w", path, err)
	}
	return id, nil
}

// ReadFile decodes the image at path.
func ReadFile(path string) (*vm.Program, uuid.UUID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("image: cannot read %s: %w", path, err)
	}
	prog, id, err := Decode(data)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, id, nil
}
