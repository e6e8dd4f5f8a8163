package vm

// ---- Integer ----

func intBinary(fn func(a, b int64) (int64, error)) Handler {
	return func(m *Machine, f *Fiber, _ []Value) error {
		if err := expectTop(f, IntegerOnly, IntegerOnly); err != nil {
			return err
		}
		r, err := fn(peek(f, 1).Int(), peek(f, 0).Int())
		if err != nil {
			return err
		}
		m.take(f)
		m.take(f)
		m.push(f, FromInt(r))
		return nil
	}
}

func intRelation(fn func(a, b int64) bool) Handler {
	return intBinary(func(a, b int64) (int64, error) {
		return boolInt(fn(a, b)).Int(), nil
	})
}

// floorDiv rounds the quotient toward negative infinity.
func floorDiv(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errorf(ErrDivisionByZero, "%d div 0", a)
	}
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q, nil
}

// floorMod is the remainder of floorDiv: it takes the sign of b.
func floorMod(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errorf(ErrDivisionByZero, "%d mod 0", a)
	}
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r, nil
}

func opNot(m *Machine, f *Fiber, _ []Value) error {
	if err := expect(f, 0, IntegerOnly); err != nil {
		return err
	}
	m.push(f, boolInt(m.take(f).Int() == 0))
	return nil
}

// ---- Float ----

func floatBinary(fn func(a, b float64) float64) Handler {
	return func(m *Machine, f *Fiber, _ []Value) error {
		if err := expectTop(f, FloatOnly, FloatOnly); err != nil {
			return err
		}
		b := m.take(f)
		a := m.take(f)
		m.push(f, FromFloat(fn(a.Float(), b.Float())))
		return nil
	}
}

// Float relations push Integer results so they compose with jz.
func floatRelation(fn func(a, b float64) bool) Handler {
	return func(m *Machine, f *Fiber, _ []Value) error {
		if err := expectTop(f, FloatOnly, FloatOnly); err != nil {
			return err
		}
		b := m.take(f)
		a := m.take(f)
		m.push(f, boolInt(fn(a.Float(), b.Float())))
		return nil
	}
}

func floatUnary(fn func(float64) float64) Handler {
	return func(m *Machine, f *Fiber, _ []Value) error {
		if err := expect(f, 0, FloatOnly); err != nil {
			return err
		}
		m.push(f, FromFloat(fn(m.take(f).Float())))
		return nil
	}
}
