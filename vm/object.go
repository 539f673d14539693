package vm

import (
	"github.com/chazu/nlbc/pkg/bytecode"
)

// Object is a class instance: a class name plus mutable fields.
type Object struct {
	Class  string
	Fields map[string]Value
}

// classEntry is the runtime view of one class from the module table.
type classEntry struct {
	fields  []string // declared on this class only
	methods map[string]*funcEntry
	base    string // "" when the class has no base
}

// funcEntry is a resolved function or method body.
type funcEntry struct {
	params []string
	code   []byte
}

// classTable resolves inheritance for NEW and CALL_METHOD.
type classTable struct {
	classes map[string]*classEntry
}

func buildClassTable(m *bytecode.Module) *classTable {
	t := &classTable{classes: make(map[string]*classEntry, len(m.Classes))}
	for _, cls := range m.Classes {
		entry := &classEntry{methods: make(map[string]*funcEntry, len(cls.Methods))}
		if cls.BaseSym >= 0 {
			entry.base = m.SymbolName(cls.BaseSym)
		}
		for _, f := range cls.FieldSyms {
			entry.fields = append(entry.fields, m.SymbolName(f))
		}
		for i := range cls.Methods {
			meth := &cls.Methods[i]
			params := make([]string, len(meth.ParamSyms))
			for j, p := range meth.ParamSyms {
				params[j] = m.SymbolName(p)
			}
			entry.methods[m.SymbolName(meth.NameSym)] = &funcEntry{params: params, code: meth.Code}
		}
		t.classes[m.SymbolName(cls.NameSym)] = entry
	}
	return t
}

// instantiate allocates an instance with every inherited field present
// and nil. Fields are collected base-first so a derived redeclaration
// does not duplicate the slot. Unknown class names still produce an
// instance; they just have no declared fields.
func (t *classTable) instantiate(name string) *Object {
	obj := &Object{Class: name, Fields: make(map[string]Value)}
	for _, f := range t.collectFields(name) {
		obj.Fields[f] = nil
	}
	return obj
}

func (t *classTable) collectFields(name string) []string {
	var chain []*classEntry
	for cur := name; cur != ""; {
		entry, ok := t.classes[cur]
		if !ok {
			break
		}
		chain = append(chain, entry)
		cur = entry.base
	}
	var order []string
	seen := make(map[string]bool)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, f := range chain[i].fields {
			if !seen[f] {
				seen[f] = true
				order = append(order, f)
			}
		}
	}
	return order
}

// lookupMethod walks the inheritance chain from the instance's class
// toward the root and returns the first matching method.
func (t *classTable) lookupMethod(class, name string) (*funcEntry, bool) {
	for cur := class; cur != ""; {
		entry, ok := t.classes[cur]
		if !ok {
			return nil, false
		}
		if fn, ok := entry.methods[name]; ok {
			return fn, true
		}
		cur = entry.base
	}
	return nil, false
}
