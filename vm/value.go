package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is any runtime value: nil, int64, float64, string, bool, or one
// of the reference types *List, *Map, *Set, *Object, *Iterator, *Future
// and *Socket. Containers are shared by reference; copying a frame
// never copies a container.
type Value = any

// List is a mutable ordered sequence.
type List struct {
	Items []Value
}

// NewList builds a list owning the given backing slice.
func NewList(items ...Value) *List { return &List{Items: items} }

// Map is a mutable keyed collection. Keys are restricted to comparable
// scalars (int64, float64, string, bool).
type Map struct {
	Items map[Value]Value
}

func NewMap() *Map { return &Map{Items: make(map[Value]Value)} }

// SortedKeys returns the keys in a deterministic order: sorted by
// formatted text, numbers before strings.
func (m *Map) SortedKeys() []Value {
	keys := make([]Value, 0, len(m.Items))
	for k := range m.Items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, iNum := toFloat(keys[i])
		nj, jNum := toFloat(keys[j])
		if iNum && jNum {
			return ni < nj
		}
		if iNum != jNum {
			return iNum
		}
		return Format(keys[i]) < Format(keys[j])
	})
	return keys
}

// Set holds unique scalar members.
type Set struct {
	Items map[Value]struct{}
}

func NewSet() *Set { return &Set{Items: make(map[Value]struct{})} }

// SortedMembers returns members in the same deterministic order maps
// use for keys.
func (s *Set) SortedMembers() []Value {
	tmp := &Map{Items: make(map[Value]Value, len(s.Items))}
	for v := range s.Items {
		tmp.Items[v] = nil
	}
	return tmp.SortedKeys()
}

// hashableKey normalizes a value for use as a map key or set member.
// Integral floats collapse to int64 so 1 and 1.0 address one entry.
func hashableKey(v Value) (Value, error) {
	switch k := v.(type) {
	case nil, int64, string, bool:
		return v, nil
	case float64:
		if k == float64(int64(k)) {
			return int64(k), nil
		}
		return k, nil
	}
	return nil, Errorf("unhashable key of type %s", TypeName(v))
}

// TypeName names a value's runtime type for diagnostics.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "null"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case bool:
		return "bool"
	case *List:
		return "list"
	case *Map:
		return "map"
	case *Set:
		return "set"
	case *Object:
		return "object"
	case *Iterator:
		return "iter"
	case *Future:
		return "future"
	case *Socket:
		return "socket"
	}
	return fmt.Sprintf("%T", v)
}

// Truthy reports whether a value counts as true in a condition. False,
// zero, the empty string, empty containers and nil are falsy.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case *List:
		return len(x.Items) > 0
	case *Map:
		return len(x.Items) > 0
	case *Set:
		return len(x.Items) > 0
	}
	return true
}

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Equal is deep equality with numeric promotion: 1 == 1.0, lists and
// maps compare element-wise, objects and other reference types compare
// by identity.
func Equal(a, b Value) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *List:
		y, ok := b.(*List)
		if !ok || len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !Equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	case *Map:
		y, ok := b.(*Map)
		if !ok || len(x.Items) != len(y.Items) {
			return false
		}
		for k, v := range x.Items {
			w, present := y.Items[k]
			if !present || !Equal(v, w) {
				return false
			}
		}
		return true
	case *Set:
		y, ok := b.(*Set)
		if !ok || len(x.Items) != len(y.Items) {
			return false
		}
		for k := range x.Items {
			if _, present := y.Items[k]; !present {
				return false
			}
		}
		return true
	}
	return a == b
}

// Compare orders two values. Numbers order numerically across int and
// float, strings lexicographically. Anything else is an error.
func Compare(a, b Value) (int, error) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			}
			return 0, nil
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), nil
		}
	}
	return 0, Errorf("cannot compare %s and %s", TypeName(a), TypeName(b))
}

// Format renders a value the way PRINT and CONCAT stringify it.
func Format(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case *List:
		parts := make([]string, len(x.Items))
		for i, it := range x.Items {
			parts[i] = formatNested(it)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Map:
		keys := x.SortedKeys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = formatNested(k) + ": " + formatNested(x.Items[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Set:
		members := x.SortedMembers()
		parts := make([]string, len(members))
		for i, m := range members {
			parts[i] = formatNested(m)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Object:
		return "<" + x.Class + ">"
	case *Iterator:
		return "<iterator>"
	case *Future:
		return "<future>"
	case *Socket:
		return "<socket " + x.Addr + ">"
	}
	return fmt.Sprint(v)
}

// formatNested quotes strings inside containers so [a, b] and ["a, b"]
// stay distinguishable.
func formatNested(v Value) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return Format(v)
}

// Length implements LEN.
func Length(v Value) (int64, error) {
	switch x := v.(type) {
	case string:
		return int64(len([]rune(x))), nil
	case *List:
		return int64(len(x.Items)), nil
	case *Map:
		return int64(len(x.Items)), nil
	case *Set:
		return int64(len(x.Items)), nil
	}
	return 0, Errorf("LEN of %s", TypeName(v))
}
