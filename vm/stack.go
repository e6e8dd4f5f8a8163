package vm

// Stack is a growable, index-addressable sequence that only grows and
// shrinks at the top. It backs both a fiber's operand stack and its call
// frames.
type Stack[T any] struct {
	items []T
}

// NewStack creates a stack with room for capacity items.
func NewStack[T any](capacity int) *Stack[T] {
	return &Stack[T]{items: make([]T, 0, capacity)}
}

// Len returns the number of items.
func (s *Stack[T]) Len() int { return len(s.items) }

// Push appends v at the top.
func (s *Stack[T]) Push(v T) {
	s.items = append(s.items, v)
}

// Pop removes and returns the top item.
func (s *Stack[T]) Pop() (T, error) {
	var zero T
	n := len(s.items)
	if n == 0 {
		return zero, errorf(ErrStackUnderflow, "cannot pop item out of an empty stack")
	}
	v := s.items[n-1]
	s.items[n-1] = zero
	s.items = s.items[:n-1]
	return v, nil
}

// Peek returns the item depth places below the top (0 is the top) without
// removing it.
func (s *Stack[T]) Peek(depth int) (T, error) {
	var zero T
	i := len(s.items) - 1 - depth
	if depth < 0 || i < 0 {
		return zero, errorf(ErrStackUnderflow, "stack holds %d items, cannot reach depth %d", len(s.items), depth)
	}
	return s.items[i], nil
}

// Load returns the item at absolute index i.
func (s *Stack[T]) Load(i int) (T, error) {
	var zero T
	if i < 0 || i >= len(s.items) {
		return zero, s.rangeError(i)
	}
	return s.items[i], nil
}

// Store replaces the item at absolute index i and returns the previous one.
func (s *Stack[T]) Store(i int, v T) (T, error) {
	var zero T
	if i < 0 || i >= len(s.items) {
		return zero, s.rangeError(i)
	}
	old := s.items[i]
	s.items[i] = v
	return old, nil
}

// Top returns the top n items in push order, without removing them.
func (s *Stack[T]) Top(n int) ([]T, error) {
	if n < 0 || n > len(s.items) {
		return nil, errorf(ErrStackUnderflow, "stack holds %d items, need %d", len(s.items), n)
	}
	return s.items[len(s.items)-n:], nil
}

// PopN removes the top n items and returns them in push order.
func (s *Stack[T]) PopN(n int) ([]T, error) {
	top, err := s.Top(n)
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	copy(out, top)
	s.Truncate(len(s.items) - n)
	return out, nil
}

// Truncate drops items above index n.
func (s *Stack[T]) Truncate(n int) {
	if n < 0 || n >= len(s.items) {
		return
	}
	var zero T
	for i := n; i < len(s.items); i++ {
		s.items[i] = zero
	}
	s.items = s.items[:n]
}

// Items returns the stack contents bottom first. The slice aliases the
// stack and must not be retained across mutations.
func (s *Stack[T]) Items() []T { return s.items }

func (s *Stack[T]) rangeError(i int) error {
	if i < 0 {
		return errorf(ErrInvalidAddress, "index %d must not be negative", i)
	}
	return errorf(ErrInvalidAddress, "index %d must be lesser than %d", i, len(s.items))
}
