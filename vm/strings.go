package vm

// ---------------------------------------------------------------------------
// Strings: interned string table
// ---------------------------------------------------------------------------

// Strings interns string contents to dense addresses assigned in
// first-insertion order. Addresses are never reused; strings are never
// collected.
//
// Strings is shared by every fiber of a machine and is not locked; the
// machine only touches it from its own goroutine.
type Strings struct {
	byText map[string]int
	byAddr []string
}

// NewStrings creates an empty table.
func NewStrings() *Strings {
	return &Strings{
		byText: make(map[string]int),
		byAddr: make([]string, 0, 64),
	}
}

// Store returns the address for s, interning it first if needed.
func (st *Strings) Store(s string) int {
	if addr, ok := st.byText[s]; ok {
		return addr
	}
	addr := len(st.byAddr)
	st.byText[s] = addr
	st.byAddr = append(st.byAddr, s)
	return addr
}

// Load returns the string at addr.
func (st *Strings) Load(addr int) (string, error) {
	if addr < 0 || addr >= len(st.byAddr) {
		return "", errorf(ErrInvalidAddress,
			"invalid string address out of bounds 0 <= %d <= %d", addr, len(st.byAddr)-1)
	}
	return st.byAddr[addr], nil
}

// Lookup returns the address of s without interning it.
func (st *Strings) Lookup(s string) (int, bool) {
	addr, ok := st.byText[s]
	return addr, ok
}

// Len returns the number of interned strings.
func (st *Strings) Len() int { return len(st.byAddr) }
