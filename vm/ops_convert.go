package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---- Conversions ----

func opAtoi(m *Machine, f *Fiber, _ []Value) error {
	s, err := peekString(m, f)
	if err != nil {
		return err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return &RuntimeError{Message: fmt.Sprintf("atoi: cannot convert %q to an integer", s)}
	}
	m.take(f)
	m.push(f, FromInt(n))
	return nil
}

func opAtof(m *Machine, f *Fiber, _ []Value) error {
	s, err := peekString(m, f)
	if err != nil {
		return err
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return &RuntimeError{Message: fmt.Sprintf("atof: cannot convert %q to a float", s)}
	}
	m.take(f)
	m.push(f, FromFloat(x))
	return nil
}

func opItof(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, IntegerOnly); err != nil {
		return err
	}
	m.push(f, FromFloat(float64(m.take(f).Int())))
	return nil
}

// opFtoi floors; values outside the integer range are an error.
func opFtoi(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, FloatOnly); err != nil {
		return err
	}
	x := math.Floor(peek(f, 0).Float())
	if math.IsNaN(x) || x < math.MinInt64 || x >= math.MaxInt64 {
		return &RuntimeError{Message: fmt.Sprintf("ftoi: %s is not representable as an integer", FormatFloat(x))}
	}
	m.take(f)
	m.push(f, FromInt(int64(x)))
	return nil
}

func opStri(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, IntegerOnly); err != nil {
		return err
	}
	s := strconv.FormatInt(m.take(f).Int(), 10)
	m.push(f, FromAddress(KindStringAddr, m.strings.Store(s)))
	return nil
}

func opStrf(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, FloatOnly); err != nil {
		return err
	}
	s := FormatFloat(m.take(f).Float())
	m.push(f, FromAddress(KindStringAddr, m.strings.Store(s)))
	return nil
}

// ---- Strings ----

func opConcat(m *Machine, f *Fiber, _ []Value) error {
	if err := expectTop(f, StringAddr, StringAddr); err != nil {
		return err
	}
	s1, err := m.strings.Load(peek(f, 1).Addr())
	if err != nil {
		return err
	}
	s2, err := m.strings.Load(peek(f, 0).Addr())
	if err != nil {
		return err
	}
	m.take(f)
	m.take(f)
	m.push(f, FromAddress(KindStringAddr, m.strings.Store(s1+s2)))
	return nil
}

// peekString resolves the string address on top of the stack without
// popping it.
func peekString(m *Machine, f *Fiber) (string, error) {
	if err := expect(f, 0, StringAddr); err != nil {
		return "", err
	}
	return m.strings.Load(peek(f, 0).Addr())
}
