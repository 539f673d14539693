package vm

import (
	"testing"
)

func TestEqualNumericPromotion(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{int64(1), int64(1), true},
		{int64(1), float64(1.0), true},
		{float64(2.5), float64(2.5), true},
		{true, int64(1), true},
		{false, int64(0), true},
		{int64(1), int64(2), false},
		{"a", "a", true},
		{"a", "b", false},
		{nil, nil, true},
		{nil, int64(0), false},
	}
	for _, c := range cases {
		if got := Equal(c.a, c.b); got != c.want {
			t.Errorf("Equal(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestEqualDeepContainers(t *testing.T) {
	a := NewList(int64(1), "x", NewList(int64(2)))
	b := NewList(int64(1), "x", NewList(int64(2)))
	if !Equal(a, b) {
		t.Error("equal lists compared unequal")
	}
	b.Items[2].(*List).Items[0] = int64(3)
	if Equal(a, b) {
		t.Error("different nested lists compared equal")
	}

	m1, m2 := NewMap(), NewMap()
	m1.Items["k"] = int64(1)
	m2.Items["k"] = float64(1.0)
	if !Equal(m1, m2) {
		t.Error("maps with numerically equal values compared unequal")
	}
	m2.Items["extra"] = nil
	if Equal(m1, m2) {
		t.Error("maps with different key sets compared equal")
	}
}

func TestCompare(t *testing.T) {
	if cmp, err := Compare(int64(1), float64(2.0)); err != nil || cmp >= 0 {
		t.Errorf("Compare(1, 2.0) = %d, %v", cmp, err)
	}
	if cmp, err := Compare("abc", "abd"); err != nil || cmp >= 0 {
		t.Errorf("Compare(abc, abd) = %d, %v", cmp, err)
	}
	if _, err := Compare(NewList(), int64(1)); err == nil {
		t.Error("comparing a list to an int should fail")
	}
}

func TestTruthy(t *testing.T) {
	falsy := []Value{nil, false, int64(0), float64(0), "", NewList(), NewMap(), NewSet()}
	for _, v := range falsy {
		if Truthy(v) {
			t.Errorf("Truthy(%#v) = true", v)
		}
	}
	truthy := []Value{true, int64(-1), float64(0.1), "x", NewList(int64(1))}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Errorf("Truthy(%#v) = false", v)
		}
	}
}

func TestFormat(t *testing.T) {
	m := NewMap()
	m.Items["b"] = int64(2)
	m.Items["a"] = int64(1)
	cases := []struct {
		in   Value
		want string
	}{
		{nil, "null"},
		{true, "true"},
		{int64(42), "42"},
		{float64(3.5), "3.5"},
		{"hi", "hi"},
		{NewList(int64(1), "x", nil), `[1, "x", null]`},
		{m, `{a: 1, b: 2}`},
	}
	for _, c := range cases {
		if got := Format(c.in); got != c.want {
			t.Errorf("Format(%#v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestHashableKey(t *testing.T) {
	if k, err := hashableKey(float64(3.0)); err != nil || k != int64(3) {
		t.Errorf("integral float key = %v, %v, want 3", k, err)
	}
	if k, err := hashableKey("s"); err != nil || k != "s" {
		t.Errorf("string key = %v, %v", k, err)
	}
	if _, err := hashableKey(NewList()); err == nil {
		t.Error("list key should be rejected")
	}
}

func TestLengthCountsRunes(t *testing.T) {
	if n, err := Length("héllo"); err != nil || n != 5 {
		t.Errorf("Length = %d, %v, want 5", n, err)
	}
	if _, err := Length(int64(1)); err == nil {
		t.Error("Length of an int should fail")
	}
}

func TestSortedKeysNumbersBeforeStrings(t *testing.T) {
	m := NewMap()
	m.Items["b"] = nil
	m.Items[int64(10)] = nil
	m.Items["a"] = nil
	m.Items[int64(2)] = nil
	keys := m.SortedKeys()
	want := []Value{int64(2), int64(10), "a", "b"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}
