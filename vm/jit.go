package vm

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/nlbc/pkg/bytecode"
)

var jitLog = commonlog.GetLogger("nlbc.jit")

// NativeLoopBackend evaluates a canonical counting loop in closed form.
// One can be registered by importing the vm/native package; without a
// backend, hot counting loops run on the tier-2 specialized runner.
type NativeLoopBackend interface {
	// RunCountingLoop advances i from start by step while i < limit
	// (or i <= limit when inclusive) and reports the iteration count
	// and final value of i. ok is false when the backend declines.
	RunCountingLoop(start, limit, step int64, inclusive bool) (iterations, final int64, ok bool)
}

var nativeBackend NativeLoopBackend

// RegisterNativeLoopBackend installs the tier-3 loop backend. Later
// registrations replace earlier ones.
func RegisterNativeLoopBackend(b NativeLoopBackend) {
	nativeBackend = b
}

// Compilation tiers.
const (
	tierBaseline = 1 // region mini-interpreter over whitelisted ops
	tierCounting = 2 // specialized runner for the canonical counting shape
	tierClosed   = 3 // native backend, closed form
)

// loopPlan is the cached verdict for one hot loop.
type loopPlan struct {
	rejected bool
	tier     int
	body     []bytecode.Decoded // region [header, exit)
	exit     int                // position just past the JUMP_BACK operand
	header   int
	counting *countingShape // set for tiers 2 and 3
}

// countingShape captures `while i < limit { ...; i = i + step }` where
// limit and step are names or constants. The operand instructions stay
// in loopPlan.body; resolution against the pool and environment happens
// on every compiled run.
type countingShape struct {
	inclusive bool // LE condition
	bodyLen   int  // instructions per iteration, for guard accounting
	pureCount bool // body is only the condition and the increment
}

type hotLoopJIT struct {
	profiler *BackedgeProfiler
	plans    map[loopKey]*loopPlan
}

func newHotLoopJIT(threshold int) *hotLoopJIT {
	return &hotLoopJIT{
		profiler: NewBackedgeProfiler(threshold),
		plans:    make(map[loopKey]*loopPlan),
	}
}

// onBackedge is called by the interpreter after every taken backedge,
// with ip already moved to the loop header. When it handles the loop it
// returns the position execution resumes at: the loop's exit, with the
// environment reflecting every completed iteration.
func (j *hotLoopJIT) onBackedge(in *Interpreter, code []byte, env Env, key loopKey) (int, bool, error) {
	j.profiler.Count(key)
	if !j.profiler.Hot(key) {
		return 0, false, nil
	}
	plan, ok := j.plans[key]
	if !ok {
		plan = j.analyze(code, key)
		j.plans[key] = plan
	}
	if plan.rejected {
		return 0, false, nil
	}

	switch plan.tier {
	case tierClosed, tierCounting:
		newIP, handled, err := j.runCounting(in, env, plan)
		if handled || err != nil {
			return newIP, handled, err
		}
		// Loop variables were not integers this time; run baseline.
		return j.runBaseline(in, env, plan)
	default:
		return j.runBaseline(in, env, plan)
	}
}

// analyze decodes the loop region and decides whether and how to
// compile it. The region must consist of whitelisted opcodes, contain
// at most one conditional jump, and every exit must land exactly on the
// loop's exit position so leaving compiled code is transparent.
func (j *hotLoopJIT) analyze(code []byte, key loopKey) *loopPlan {
	reject := &loopPlan{rejected: true}
	if key.Header < 0 || key.Header >= key.Source || key.Source > len(code) {
		return reject
	}
	var body []bytecode.Decoded
	condJumps := 0
	starts := map[int]bool{}
	pos := key.Header
	for pos < key.Source {
		d, err := bytecode.DecodeAt(code, pos)
		if err != nil {
			return reject
		}
		starts[d.PC] = true
		body = append(body, d)
		pos = d.Next
	}
	if pos != key.Source {
		return reject
	}
	if len(body) == 0 || body[len(body)-1].Op != bytecode.OpJumpBack {
		return reject
	}
	back := body[len(body)-1]
	if back.Next+int(back.S) != key.Header {
		return reject
	}

	for i, d := range body {
		switch d.Op {
		case bytecode.OpLoadConst, bytecode.OpLoadName, bytecode.OpStoreName,
			bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul,
			bytecode.OpLt, bytecode.OpLe, bytecode.OpGe,
			bytecode.OpListAppend, bytecode.OpGetAttr, bytecode.OpBuildList,
			bytecode.OpLen, bytecode.OpConcat:
			// benign
		case bytecode.OpJumpIfFalse:
			condJumps++
			if condJumps > 1 {
				return reject
			}
			if d.Next+int(d.A) != key.Source {
				return reject
			}
		case bytecode.OpJump:
			tgt := d.Next + int(d.A)
			if tgt != key.Source && !starts[tgt] {
				return reject
			}
		case bytecode.OpJumpBack:
			if i != len(body)-1 {
				return reject
			}
		default:
			return reject
		}
	}

	if !stackBalanced(body, key.Source) {
		return reject
	}

	plan := &loopPlan{
		tier:   tierBaseline,
		body:   body,
		exit:   key.Source,
		header: key.Header,
	}
	if shape, ok := j.matchCounting(body); ok {
		plan.counting = shape
		plan.tier = tierCounting
		if nativeBackend != nil && shape.pureCount {
			plan.tier = tierClosed
		}
	}
	jitLog.Debugf("compiled loop header=%d exit=%d tier=%d", key.Header, key.Source, plan.tier)
	return plan
}

// matchCounting recognizes the canonical shape
//
//	LOAD_NAME i; LOAD_NAME limit|LOAD_CONST; LT|LE; JUMP_IF_FALSE exit
//	...body...
//	LOAD_NAME i; LOAD_NAME step|LOAD_CONST; ADD; STORE_NAME i
//	JUMP_BACK header
func (j *hotLoopJIT) matchCounting(body []bytecode.Decoded) (*countingShape, bool) {
	if len(body) < 9 {
		return nil, false
	}
	head := body[:4]
	tail := body[len(body)-5 : len(body)-1]

	if head[0].Op != bytecode.OpLoadName {
		return nil, false
	}
	if head[1].Op != bytecode.OpLoadName && head[1].Op != bytecode.OpLoadConst {
		return nil, false
	}
	if head[2].Op != bytecode.OpLt && head[2].Op != bytecode.OpLe {
		return nil, false
	}
	if head[3].Op != bytecode.OpJumpIfFalse {
		return nil, false
	}
	if tail[0].Op != bytecode.OpLoadName ||
		(tail[1].Op != bytecode.OpLoadName && tail[1].Op != bytecode.OpLoadConst) ||
		tail[2].Op != bytecode.OpAdd ||
		tail[3].Op != bytecode.OpStoreName {
		return nil, false
	}
	if tail[0].A != head[0].A || tail[3].A != head[0].A {
		return nil, false
	}

	return &countingShape{
		inclusive: head[2].Op == bytecode.OpLe,
		bodyLen:   len(body),
		pureCount: len(body) == 9,
	}, true
}

// stackBalanced simulates the region's operand stack from depth zero.
// The verifier admits loops whose body consumes values the frame
// pushed before the header, or that leave values behind each
// iteration; neither can run against the region runner's private
// stack, so such loops stay interpreted. Depth must never go
// negative and must be exactly zero at every exit and at the
// backedge.
func stackBalanced(body []bytecode.Decoded, exit int) bool {
	expect := map[int]int{}
	depth := 0
	known := true
	for _, d := range body {
		if want, ok := expect[d.PC]; ok {
			if known && depth != want {
				return false
			}
			depth, known = want, true
		}
		if !known {
			return false
		}

		var pops, pushes int
		switch d.Op {
		case bytecode.OpLoadConst, bytecode.OpLoadName:
			pushes = 1
		case bytecode.OpStoreName, bytecode.OpJumpIfFalse:
			pops = 1
		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul,
			bytecode.OpLt, bytecode.OpLe, bytecode.OpGe,
			bytecode.OpConcat, bytecode.OpListAppend:
			pops, pushes = 2, 1
		case bytecode.OpGetAttr, bytecode.OpLen:
			pops, pushes = 1, 1
		case bytecode.OpBuildList:
			pops, pushes = int(d.A), 1
		}
		if depth < pops {
			return false
		}
		depth += pushes - pops

		switch d.Op {
		case bytecode.OpJumpIfFalse:
			if depth != 0 {
				return false
			}
		case bytecode.OpJump:
			tgt := d.Next + int(d.A)
			if tgt == exit {
				if depth != 0 {
					return false
				}
			} else {
				if tgt <= d.PC {
					return false
				}
				if want, ok := expect[tgt]; ok && want != depth {
					return false
				}
				expect[tgt] = depth
			}
			known = false
		case bytecode.OpJumpBack:
			if depth != 0 {
				return false
			}
		}
	}
	return true
}

// runCounting executes a canonical counting loop without dispatching
// its instructions, either in closed form on the native backend or in a
// tight specialized loop. It declines (handled=false) when the loop
// variables are not integers.
func (j *hotLoopJIT) runCounting(in *Interpreter, env Env, plan *loopPlan) (int, bool, error) {
	shape := plan.counting
	if !shape.pureCount {
		// Loops with extra body instructions still need the body run;
		// only the pure counter skips dispatch entirely.
		return 0, false, nil
	}
	syms := in.mod.Symbols
	consts := in.mod.Constants

	name := syms[plan.body[0].A]
	cur, ok := env.Get(name).(int64)
	if !ok {
		return 0, false, nil
	}
	limit, ok := j.resolveOperand(plan.body[1], env, syms, consts)
	if !ok {
		return 0, false, nil
	}
	step, ok := j.resolveOperand(plan.body[len(plan.body)-4], env, syms, consts)
	if !ok || step <= 0 {
		return 0, false, nil
	}

	var iterations, final int64
	if plan.tier == tierClosed {
		its, fin, ok := nativeBackend.RunCountingLoop(cur, limit, step, shape.inclusive)
		if !ok {
			return 0, false, nil
		}
		iterations, final = its, fin
	} else {
		iterations, final = runCountingInline(cur, limit, step, shape.inclusive)
	}

	// Every skipped iteration still pays its instructions to the op
	// guard, plus the four-instruction condition re-check that ends the
	// loop, so compiled and interpreted runs trip guards identically.
	if err := in.chargeOps(iterations*int64(shape.bodyLen) + 4); err != nil {
		return 0, false, err
	}
	env.Set(name, final)
	return plan.exit, true, nil
}

func runCountingInline(cur, limit, step int64, inclusive bool) (iterations, final int64) {
	if inclusive {
		if cur > limit {
			return 0, cur
		}
		n := (limit-cur)/step + 1
		return n, cur + n*step
	}
	if cur >= limit {
		return 0, cur
	}
	n := (limit - cur + step - 1) / step
	return n, cur + n*step
}

// resolveOperand reads the limit or step operand: a constant pool int
// or an integer binding.
func (j *hotLoopJIT) resolveOperand(d bytecode.Decoded, env Env, syms []string, consts []bytecode.Constant) (int64, bool) {
	if d.Op == bytecode.OpLoadConst {
		c := consts[d.A]
		if c.Kind != bytecode.ConstInt {
			return 0, false
		}
		return c.Int, true
	}
	v, ok := env.Get(syms[d.A]).(int64)
	return v, ok
}

// runBaseline interprets the loop region directly. It handles every
// whitelisted opcode, so the only ways out are the conditional exit,
// a guard trip, or a runtime fault surfaced to the caller.
func (j *hotLoopJIT) runBaseline(in *Interpreter, env Env, plan *loopPlan) (int, bool, error) {
	byPC := make(map[int]int, len(plan.body))
	for i, d := range plan.body {
		byPC[d.PC] = i
	}
	syms := in.mod.Symbols
	consts := in.mod.Constants

	var stack []Value
	push := func(v Value) { stack = append(stack, v) }
	pop := func() Value {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	idx := 0
	for {
		if idx < 0 || idx >= len(plan.body) {
			return 0, false, Errorf("compiled loop left its region")
		}
		d := plan.body[idx]
		if err := in.chargeOp(); err != nil {
			return 0, false, err
		}
		switch d.Op {
		case bytecode.OpLoadConst:
			c := consts[d.A]
			switch c.Kind {
			case bytecode.ConstInt:
				push(c.Int)
			case bytecode.ConstFloat:
				push(c.Float)
			default:
				push(c.Str)
			}
		case bytecode.OpLoadName:
			push(env.Get(syms[d.A]))
		case bytecode.OpStoreName:
			env.Set(syms[d.A], pop())
		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul:
			rhs, lhs := pop(), pop()
			v, err := arith(d.Op, lhs, rhs)
			if err != nil {
				return 0, false, err
			}
			push(v)
		case bytecode.OpLt, bytecode.OpLe, bytecode.OpGe:
			rhs, lhs := pop(), pop()
			cmp, err := Compare(lhs, rhs)
			if err != nil {
				return 0, false, err
			}
			switch d.Op {
			case bytecode.OpLt:
				push(cmp < 0)
			case bytecode.OpLe:
				push(cmp <= 0)
			default:
				push(cmp >= 0)
			}
		case bytecode.OpConcat:
			rhs, lhs := pop(), pop()
			push(Format(lhs) + Format(rhs))
		case bytecode.OpLen:
			n, err := Length(pop())
			if err != nil {
				return 0, false, err
			}
			push(n)
		case bytecode.OpGetAttr:
			name := syms[d.A]
			in.trace(Trace{Kind: "GET_ATTR", Name: name})
			v, err := getAttr(pop(), name)
			if err != nil {
				return 0, false, err
			}
			push(v)
		case bytecode.OpBuildList:
			n := int(d.A)
			items := make([]Value, n)
			for k := n - 1; k >= 0; k-- {
				items[k] = pop()
			}
			push(&List{Items: items})
		case bytecode.OpListAppend:
			v, lv := pop(), pop()
			lst, ok := lv.(*List)
			if !ok {
				lst = NewList()
			}
			lst.Items = append(lst.Items, v)
			push(lst)
		case bytecode.OpJumpIfFalse:
			if !Truthy(pop()) {
				// The classifier pinned this target to the exit.
				return plan.exit, true, nil
			}
		case bytecode.OpJump:
			tgt := d.Next + int(d.A)
			if tgt == plan.exit {
				return plan.exit, true, nil
			}
			next, ok := byPC[tgt]
			if !ok {
				return 0, false, Errorf("compiled loop jump left its region")
			}
			idx = next
			continue
		case bytecode.OpJumpBack:
			j.profiler.Count(loopKey{Header: plan.header, Source: plan.exit})
			idx = 0
			continue
		default:
			return 0, false, Errorf("unexpected opcode %s in compiled loop", d.Op)
		}
		idx++
	}
}
