package vm

// catchEntry is one installed handler. Entries are scoped to the frame
// that installed them; a throw never unwinds into a caller's handlers.
type catchEntry struct {
	target   int    // handler position in the frame's code blob
	typed    bool   // installed by SETUP_CATCH_T
	typeName string // accepted exception type for typed handlers
}

// catchStack is the per-frame handler stack. THROW consults the top
// entry only and leaves it installed, so a handler can observe repeated
// throws until END_TRY pops it.
type catchStack struct {
	entries []catchEntry
}

func (cs *catchStack) push(e catchEntry) {
	cs.entries = append(cs.entries, e)
}

func (cs *catchStack) pop() {
	if len(cs.entries) > 0 {
		cs.entries = cs.entries[:len(cs.entries)-1]
	}
}

func (cs *catchStack) top() (catchEntry, bool) {
	if len(cs.entries) == 0 {
		return catchEntry{}, false
	}
	return cs.entries[len(cs.entries)-1], true
}

// accepts reports whether the handler takes an exception of the named
// type. Untyped handlers take everything; a typed handler takes its own
// type, and "Exception" is the catch-all type name.
func (e catchEntry) accepts(typeName string) bool {
	if !e.typed {
		return true
	}
	return e.typeName == typeName || e.typeName == "Exception"
}
