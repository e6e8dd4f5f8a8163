package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Value tests
// ---------------------------------------------------------------------------

func TestValueConstructors(t *testing.T) {
	if v := FromInt(-42); v.Kind() != KindInteger || v.Int() != -42 {
		t.Errorf("FromInt(-42) = %v (%s)", v, v.Kind())
	}
	if v := FromFloat(2.5); v.Kind() != KindFloat || v.Float() != 2.5 {
		t.Errorf("FromFloat(2.5) = %v (%s)", v, v.Kind())
	}
	if v := FromText("hi"); v.Kind() != KindText || v.Text() != "hi" {
		t.Errorf("FromText(hi) = %v (%s)", v, v.Kind())
	}
	for _, k := range []Kind{KindHeapAddr, KindStringAddr, KindCodeAddr, KindStackAddr} {
		v := FromAddress(k, 17)
		if v.Kind() != k || v.Addr() != 17 {
			t.Errorf("FromAddress(%s, 17) = %v (%s)", k, v, v.Kind())
		}
	}
}

func TestFromAddressRejectsNonAddress(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("FromAddress(KindInteger) did not panic")
		}
	}()
	FromAddress(KindInteger, 1)
}

func TestAddressKindsAreDisjoint(t *testing.T) {
	heap := FromAddress(KindHeapAddr, 3)
	stack := FromAddress(KindStackAddr, 3)
	if Equal(heap, stack) {
		t.Error("heap:3 equals stack:3")
	}
	if MemoryAddr.Has(KindStringAddr) || MemoryAddr.Has(KindCodeAddr) {
		t.Errorf("MemoryAddr = %s, want heap and stack only", MemoryAddr)
	}
	if Kinds(KindHeapAddr).Has(KindStackAddr) {
		t.Error("heap-address set accepts stack-address")
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{FromInt(1), FromInt(1), true},
		{FromInt(1), FromInt(2), false},
		{FromInt(1), FromFloat(1), false},
		{FromFloat(0), FromFloat(math.Copysign(0, -1)), true},
		{FromFloat(math.NaN()), FromFloat(math.NaN()), false},
		{FromAddress(KindStringAddr, 0), FromAddress(KindStringAddr, 0), true},
		{FromText("a"), FromText("a"), true},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{FromInt(-3), "-3"},
		{FromFloat(1.5), "1.5"},
		{FromFloat(3), "3"},
		{FromText("x"), `"x"`},
		{FromAddress(KindHeapAddr, 2), "heap:2"},
		{FromAddress(KindStringAddr, 0), "str:0"},
		{FromAddress(KindCodeAddr, 9), "code:9"},
		{FromAddress(KindStackAddr, 4), "stack:4"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		f    float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{-2.25, "-2.25"},
		{1e6, "1000000"},
		{0.1, "0.1"},
		{1e21, "1e+21"},
		{1e-7, "1e-07"},
		{math.Inf(1), "Infinity"},
		{math.Inf(-1), "-Infinity"},
		{math.NaN(), "NaN"},
	}
	for _, tt := range tests {
		if got := FormatFloat(tt.f); got != tt.want {
			t.Errorf("FormatFloat(%v) = %q, want %q", tt.f, got, tt.want)
		}
	}
}

func TestKindSetString(t *testing.T) {
	if got := Kinds(KindInteger, KindFloat).String(); got != "integer or float" {
		t.Errorf("String() = %q", got)
	}
	if got := MemoryAddr.String(); got != "heap-address or stack-address" {
		t.Errorf("String() = %q", got)
	}
	if AnyKind.Has(kindReleased) {
		t.Error("AnyKind accepts a released box")
	}
	if AnyKind.Has(KindText) {
		t.Error("AnyKind accepts a text literal")
	}
}
