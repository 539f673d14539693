package vm

import (
	"errors"
	"testing"

	"github.com/chazu/nlbc/pkg/bytecode"
)

// countModule builds `i = 0; while i < n { i = i + 1 }`.
func countModule(t *testing.T, n int64) *moduleBuilder {
	b := build(t)
	b.main(
		bytecode.Op1(bytecode.OpLoadConst, b.ci(0)),
		bytecode.Op1(bytecode.OpStoreName, b.sym("i")),
		bytecode.Mark("loop"),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(n)),
		bytecode.Op1(bytecode.OpLt),
		bytecode.JumpTo(bytecode.OpJumpIfFalse, "end"),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(1)),
		bytecode.Op1(bytecode.OpAdd),
		bytecode.Op1(bytecode.OpStoreName, b.sym("i")),
		bytecode.JumpTo(bytecode.OpJump, "loop"),
		bytecode.Mark("end"),
	)
	return b
}

// sumModule builds `i = 0; s = 0; while i < n { s = s + i; i = i + 1 }`,
// whose extra body keeps it off the counting fast path.
func sumModule(t *testing.T, n int64) *moduleBuilder {
	b := build(t)
	b.main(
		bytecode.Op1(bytecode.OpLoadConst, b.ci(0)),
		bytecode.Op1(bytecode.OpStoreName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(0)),
		bytecode.Op1(bytecode.OpStoreName, b.sym("s")),
		bytecode.Mark("loop"),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(n)),
		bytecode.Op1(bytecode.OpLt),
		bytecode.JumpTo(bytecode.OpJumpIfFalse, "end"),
		bytecode.Op1(bytecode.OpLoadName, b.sym("s")),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpAdd),
		bytecode.Op1(bytecode.OpStoreName, b.sym("s")),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(1)),
		bytecode.Op1(bytecode.OpAdd),
		bytecode.Op1(bytecode.OpStoreName, b.sym("i")),
		bytecode.JumpTo(bytecode.OpJump, "loop"),
		bytecode.Mark("end"),
	)
	return b
}

func TestColdLoopMatchesInterpreter(t *testing.T) {
	// Five backedges stay below the threshold, so the JIT never fires.
	with := countModule(t, 5).mustRun(Options{})
	without := countModule(t, 5).mustRun(Options{DisableJIT: true})
	if with["i"] != int64(5) || without["i"] != int64(5) {
		t.Errorf("i = %v / %v, want 5", with["i"], without["i"])
	}
}

func TestHotCountingLoop(t *testing.T) {
	with := countModule(t, 5000).mustRun(Options{JITThreshold: 4})
	without := countModule(t, 5000).mustRun(Options{DisableJIT: true})
	if with["i"] != without["i"] {
		t.Errorf("i = %v with JIT, %v without", with["i"], without["i"])
	}
	if with["i"] != int64(5000) {
		t.Errorf("i = %v, want 5000", with["i"])
	}
}

func TestHotLoopWithBody(t *testing.T) {
	with := sumModule(t, 2000).mustRun(Options{JITThreshold: 4})
	without := sumModule(t, 2000).mustRun(Options{DisableJIT: true})
	if with["s"] != without["s"] || with["i"] != without["i"] {
		t.Errorf("with = (i=%v s=%v), without = (i=%v s=%v)",
			with["i"], with["s"], without["i"], without["s"])
	}
	if with["s"] != int64(2000*1999/2) {
		t.Errorf("s = %v, want %d", with["s"], 2000*1999/2)
	}
}

func TestCompiledLoopChargesOpGuard(t *testing.T) {
	_, err := countModule(t, 10_000_000).run(Options{JITThreshold: 4, MaxOps: 50000})
	var ge *GuardError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %v, want guard error", err)
	}
	if ge.Guard != "ops" {
		t.Errorf("guard = %s, want ops", ge.Guard)
	}
}

func TestEffectfulLoopNotCompiled(t *testing.T) {
	// MOD is outside the compilable set; the loop must still finish
	// correctly through the interpreter.
	b := build(t)
	env := b.main(
		bytecode.Op1(bytecode.OpLoadConst, b.ci(0)),
		bytecode.Op1(bytecode.OpStoreName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(0)),
		bytecode.Op1(bytecode.OpStoreName, b.sym("odd")),
		bytecode.Mark("loop"),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(100)),
		bytecode.Op1(bytecode.OpLt),
		bytecode.JumpTo(bytecode.OpJumpIfFalse, "end"),
		bytecode.Op1(bytecode.OpLoadName, b.sym("odd")),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(2)),
		bytecode.Op1(bytecode.OpMod),
		bytecode.Op1(bytecode.OpAdd),
		bytecode.Op1(bytecode.OpStoreName, b.sym("odd")),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(1)),
		bytecode.Op1(bytecode.OpAdd),
		bytecode.Op1(bytecode.OpStoreName, b.sym("i")),
		bytecode.JumpTo(bytecode.OpJump, "loop"),
		bytecode.Mark("end"),
	).mustRun(Options{JITThreshold: 4})
	if env["odd"] != int64(50) {
		t.Errorf("odd = %v, want 50", env["odd"])
	}
	if env["i"] != int64(100) {
		t.Errorf("i = %v, want 100", env["i"])
	}
}

func TestListAppendLoopCompiles(t *testing.T) {
	b := build(t)
	env := b.main(
		bytecode.Op1(bytecode.OpLoadConst, b.ci(0)),
		bytecode.Op1(bytecode.OpStoreName, b.sym("i")),
		bytecode.Op1(bytecode.OpBuildList, 0),
		bytecode.Op1(bytecode.OpStoreName, b.sym("out")),
		bytecode.Mark("loop"),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(50)),
		bytecode.Op1(bytecode.OpLt),
		bytecode.JumpTo(bytecode.OpJumpIfFalse, "end"),
		bytecode.Op1(bytecode.OpLoadName, b.sym("out")),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpListAppend),
		bytecode.Op1(bytecode.OpStoreName, b.sym("out")),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(1)),
		bytecode.Op1(bytecode.OpAdd),
		bytecode.Op1(bytecode.OpStoreName, b.sym("i")),
		bytecode.JumpTo(bytecode.OpJump, "loop"),
		bytecode.Mark("end"),
	).mustRun(Options{JITThreshold: 4})
	out, ok := env["out"].(*List)
	if !ok || len(out.Items) != 50 {
		t.Fatalf("out = %v", Format(env["out"]))
	}
	if out.Items[0] != int64(0) || out.Items[49] != int64(49) {
		t.Errorf("out bounds = %v, %v", out.Items[0], out.Items[49])
	}
}

// stackCarriedModule keeps a list on the operand stack across the
// loop: the body's LIST_APPEND consumes a value pushed before the
// header, so the loop must stay interpreted.
func stackCarriedModule(t *testing.T) *moduleBuilder {
	b := build(t)
	b.main(
		bytecode.Op1(bytecode.OpBuildList, 0),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(0)),
		bytecode.Op1(bytecode.OpStoreName, b.sym("i")),
		bytecode.Mark("loop"),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(50)),
		bytecode.Op1(bytecode.OpLt),
		bytecode.JumpTo(bytecode.OpJumpIfFalse, "end"),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpListAppend),
		bytecode.Op1(bytecode.OpLoadName, b.sym("i")),
		bytecode.Op1(bytecode.OpLoadConst, b.ci(1)),
		bytecode.Op1(bytecode.OpAdd),
		bytecode.Op1(bytecode.OpStoreName, b.sym("i")),
		bytecode.JumpTo(bytecode.OpJump, "loop"),
		bytecode.Mark("end"),
		bytecode.Op1(bytecode.OpStoreName, b.sym("out")),
	)
	return b
}

func TestStackCarriedLoopStaysInterpreted(t *testing.T) {
	with := stackCarriedModule(t).mustRun(Options{JITThreshold: 4})
	without := stackCarriedModule(t).mustRun(Options{DisableJIT: true})

	out, ok := with["out"].(*List)
	if !ok || len(out.Items) != 50 {
		t.Fatalf("out = %v", Format(with["out"]))
	}
	if out.Items[0] != int64(0) || out.Items[49] != int64(49) {
		t.Errorf("out bounds = %v, %v", out.Items[0], out.Items[49])
	}
	if !Equal(with["out"], without["out"]) {
		t.Errorf("out = %v with JIT, %v without", Format(with["out"]), Format(without["out"]))
	}
}

func TestLoopStackSimulation(t *testing.T) {
	type in = bytecode.Decoded
	op := func(pc int, o bytecode.Opcode, a uint64) in {
		return in{PC: pc, Op: o, A: a, Next: pc + 2}
	}
	check := op(0, bytecode.OpLoadName, 0)
	limit := op(2, bytecode.OpLoadConst, 0)
	lt := op(4, bytecode.OpLt, 0)
	exitJump := in{PC: 5, Op: bytecode.OpJumpIfFalse, A: 20, Next: 7} // -> 27
	incLoad := op(7, bytecode.OpLoadName, 0)
	incOne := op(9, bytecode.OpLoadConst, 0)
	incAdd := op(11, bytecode.OpAdd, 0)
	incStore := op(13, bytecode.OpStoreName, 0)
	back := in{PC: 15, Op: bytecode.OpJumpBack, S: -17, Next: 17}

	balanced := []in{check, limit, lt, exitJump, incLoad, incOne, incAdd, incStore, back}
	if !stackBalanced(balanced, 27) {
		t.Error("canonical counting loop rejected")
	}

	// LIST_APPEND with only one region push underflows into the frame.
	underflow := []in{check, limit, lt, exitJump,
		op(7, bytecode.OpLoadName, 1), op(9, bytecode.OpListAppend, 0),
		op(11, bytecode.OpLoadName, 0), op(13, bytecode.OpLoadConst, 0),
		op(15, bytecode.OpAdd, 0), op(17, bytecode.OpStoreName, 0),
		in{PC: 19, Op: bytecode.OpJumpBack, S: -21, Next: 21}}
	if stackBalanced(underflow, 27) {
		t.Error("underflowing loop accepted")
	}

	// A stray push grows the stack every iteration.
	growing := []in{check, limit, lt, exitJump,
		op(7, bytecode.OpLoadName, 1),
		op(9, bytecode.OpLoadName, 0), op(11, bytecode.OpLoadConst, 0),
		op(13, bytecode.OpAdd, 0), op(15, bytecode.OpStoreName, 0),
		in{PC: 17, Op: bytecode.OpJumpBack, S: -19, Next: 19}}
	if stackBalanced(growing, 27) {
		t.Error("stack-growing loop accepted")
	}

	// Nonzero depth at the conditional exit leaks into the frame.
	leakyExit := []in{op(0, bytecode.OpLoadName, 1), op(2, bytecode.OpLoadName, 0),
		op(4, bytecode.OpLoadConst, 0), op(6, bytecode.OpLt, 0),
		in{PC: 7, Op: bytecode.OpJumpIfFalse, A: 18, Next: 9}, // -> 27, one value below
		op(9, bytecode.OpStoreName, 1),
		op(11, bytecode.OpLoadName, 0), op(13, bytecode.OpLoadConst, 0),
		op(15, bytecode.OpAdd, 0), op(17, bytecode.OpStoreName, 0),
		in{PC: 19, Op: bytecode.OpJumpBack, S: -21, Next: 21}}
	if stackBalanced(leakyExit, 27) {
		t.Error("loop with a stack-carrying exit accepted")
	}
}

func TestCompiledLoopOpAccountingMatchesInterpreter(t *testing.T) {
	fast := countModule(t, 3000).mustRun(Options{JITThreshold: 4})
	slow := countModule(t, 3000).mustRun(Options{DisableJIT: true})
	if fast["_op_counts"] != slow["_op_counts"] {
		t.Errorf("counting loop ops = %v with JIT, %v without", fast["_op_counts"], slow["_op_counts"])
	}

	fast = sumModule(t, 3000).mustRun(Options{JITThreshold: 4})
	slow = sumModule(t, 3000).mustRun(Options{DisableJIT: true})
	if fast["_op_counts"] != slow["_op_counts"] {
		t.Errorf("body loop ops = %v with JIT, %v without", fast["_op_counts"], slow["_op_counts"])
	}
}

type stubBackend struct {
	calls int
}

func (s *stubBackend) RunCountingLoop(start, limit, step int64, inclusive bool) (int64, int64, bool) {
	s.calls++
	if step <= 0 {
		return 0, 0, false
	}
	if inclusive {
		limit++
	}
	if start >= limit {
		return 0, start, true
	}
	n := (limit - start + step - 1) / step
	return n, start + n*step, true
}

func TestNativeBackendRunsHotCountingLoop(t *testing.T) {
	stub := &stubBackend{}
	RegisterNativeLoopBackend(stub)
	defer RegisterNativeLoopBackend(nil)

	env := countModule(t, 1000).mustRun(Options{JITThreshold: 4})
	if env["i"] != int64(1000) {
		t.Errorf("i = %v, want 1000", env["i"])
	}
	if stub.calls == 0 {
		t.Error("backend never invoked for a hot counting loop")
	}
}

func TestBackedgeProfiler(t *testing.T) {
	p := NewBackedgeProfiler(3)
	key := loopKey{Header: 10, Source: 30}
	if p.Hot(key) {
		t.Error("fresh loop reported hot")
	}
	p.Count(key)
	p.Count(key)
	if p.Hot(key) {
		t.Error("hot below threshold")
	}
	p.Count(key)
	if !p.Hot(key) {
		t.Error("not hot at threshold")
	}
	if p.CountOf(key) != 3 {
		t.Errorf("count = %d", p.CountOf(key))
	}
	if p.CountOf(loopKey{Header: 1, Source: 2}) != 0 {
		t.Errorf("unrelated loop count = %d", p.CountOf(loopKey{Header: 1, Source: 2}))
	}
}

func TestRunCountingInline(t *testing.T) {
	cases := []struct {
		cur, limit, step    int64
		inclusive           bool
		wantIter, wantFinal int64
	}{
		{0, 10, 1, false, 10, 10},
		{0, 10, 1, true, 11, 11},
		{0, 10, 3, false, 4, 12},
		{5, 5, 1, false, 0, 5},
		{7, 5, 1, true, 0, 7},
	}
	for _, c := range cases {
		iter, final := runCountingInline(c.cur, c.limit, c.step, c.inclusive)
		if iter != c.wantIter || final != c.wantFinal {
			t.Errorf("runCountingInline(%d, %d, %d, %v) = (%d, %d), want (%d, %d)",
				c.cur, c.limit, c.step, c.inclusive, iter, final, c.wantIter, c.wantFinal)
		}
	}
}
