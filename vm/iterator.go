package vm

// Iterator walks a snapshot of a sequence. ITER_HAS_NEXT pulls the next
// element into a one-slot buffer so a following ITER_NEXT returns the
// same element; the buffer lives on the handle itself.
type Iterator struct {
	items []Value
	pos   int
	buf   Value
	full  bool
}

// newIterator snapshots an iterable. Strings iterate per rune, maps
// iterate their keys and sets their members, both in sorted order so
// iteration is deterministic.
func newIterator(v Value) (*Iterator, error) {
	switch x := v.(type) {
	case *List:
		items := make([]Value, len(x.Items))
		copy(items, x.Items)
		return &Iterator{items: items}, nil
	case string:
		runes := []rune(x)
		items := make([]Value, len(runes))
		for i, r := range runes {
			items[i] = string(r)
		}
		return &Iterator{items: items}, nil
	case *Map:
		return &Iterator{items: x.SortedKeys()}, nil
	case *Set:
		return &Iterator{items: x.SortedMembers()}, nil
	case *Iterator:
		return x, nil
	}
	return nil, Errorf("%s is not iterable", TypeName(v))
}

// HasNext buffers and reports whether another element exists.
func (it *Iterator) HasNext() bool {
	if it.full {
		return true
	}
	if it.pos >= len(it.items) {
		return false
	}
	it.buf = it.items[it.pos]
	it.pos++
	it.full = true
	return true
}

// Next returns the buffered element if HasNext pulled one, otherwise
// advances. Past the end it returns nil.
func (it *Iterator) Next() Value {
	if it.full {
		it.full = false
		v := it.buf
		it.buf = nil
		return v
	}
	if it.pos >= len(it.items) {
		return nil
	}
	v := it.items[it.pos]
	it.pos++
	return v
}
