// Package vm executes verified NLBC modules on a stack interpreter.
//
// New decodes nothing itself: it takes a bytecode.Module, verifies it,
// optionally folds constants and prepares the function and class
// tables. Run executes the main blob and returns the surviving global
// environment together with execution metadata ("_op_counts",
// "_traces", "_annotations").
//
// # Semantics
//
// Values are dynamically typed: int64, float64, string, bool, nil and
// the reference types *List, *Map, *Set, *Object, *Iterator, *Future
// and *Socket. Function calls copy the caller's environment and bind
// parameters on top, so name bindings never leak back to the caller
// while container mutations remain visible through shared references.
//
// Exceptions are per-frame: SETUP_CATCH installs a handler, THROW and
// runtime faults transfer to the innermost one that accepts the fault
// type, binding "exception" and "exception_type". Resource guards (the
// instruction budget and the wall-clock deadline) abort execution and
// are never catchable.
//
// # Compiled Loops
//
// The interpreter profiles loop backedges. Once a loop is hot its body
// is classified against a whitelist of side-effect-free opcodes and,
// when eligible, subsequent iterations run outside the main dispatch
// loop: a region mini-interpreter at tier 1, a specialized counting
// runner at tier 2, and a closed-form backend (see vm/native) at tier
// 3. Compiled runs charge the same guard budget and produce the same
// environment, traces and faults as interpreted ones.
//
// # Host Access
//
// File opcodes always work. Network opcodes (HTTPGET, HTTPPOST,
// IMPORTURL, the async socket family) are gated behind
// Options.AllowNet and fail with a catchable error when disabled.
// IMPORTURL caches remote fetches on disk keyed by URL hash.
package vm
