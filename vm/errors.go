package vm

import "fmt"

// RuntimeError is a fault raised by an executing instruction: a missing
// function, a bad index, a gated network operation. Runtime errors are
// routed to the innermost active catch handler when one is installed.
type RuntimeError struct {
	Type string // exception type name, "Error" for untyped faults
	Msg  string
}

func (e *RuntimeError) Error() string {
	if e.Type != "" && e.Type != "Error" {
		return e.Type + ": " + e.Msg
	}
	return e.Msg
}

// Errorf builds an untyped runtime error.
func Errorf(format string, args ...any) *RuntimeError {
	return &RuntimeError{Type: "Error", Msg: fmt.Sprintf(format, args...)}
}

// ThrowError is an uncaught user throw escaping the program.
type ThrowError struct {
	Type string
	Msg  string
}

func (e *ThrowError) Error() string {
	if e.Type != "" && e.Type != "Error" {
		return fmt.Sprintf("uncaught %s: %s", e.Type, e.Msg)
	}
	return "uncaught error: " + e.Msg
}

// GuardError trips when a resource guard is exceeded. Guards exist to
// stop runaway programs, so a guard error is never catchable from
// bytecode and always aborts the run.
type GuardError struct {
	Guard string // "ops" or "time"
	Msg   string
}

func (e *GuardError) Error() string { return e.Msg }

func opLimitError(limit int64) *GuardError {
	return &GuardError{Guard: "ops", Msg: fmt.Sprintf("operation limit exceeded (%d)", limit)}
}

func timeLimitError() *GuardError {
	return &GuardError{Guard: "time", Msg: "time limit exceeded"}
}
