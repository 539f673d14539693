package vm

// Env is a variable environment. Calls run the callee in a shallow copy
// of the caller's environment with parameters bound on top, so scalar
// writes in the callee stay local while container mutations remain
// visible everywhere the container is referenced.
type Env map[string]Value

// NewEnv returns an empty environment.
func NewEnv() Env { return make(Env) }

// Get returns the bound value, or nil for an unbound name.
func (e Env) Get(name string) Value { return e[name] }

// Set binds a name.
func (e Env) Set(name string, v Value) { e[name] = v }

// CallFrame builds the callee environment: a copy of the caller plus
// parameter bindings. Missing arguments bind to nil.
func (e Env) CallFrame(params []string, args []Value) Env {
	frame := make(Env, len(e)+len(params))
	for k, v := range e {
		frame[k] = v
	}
	for i, p := range params {
		if i < len(args) {
			frame[p] = args[i]
		} else {
			frame[p] = nil
		}
	}
	return frame
}
