package vm

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/nlbc/pkg/bytecode"
)

var log = commonlog.GetLogger("nlbc.vm")

// Options tunes one interpreter instance. The zero value gets safe
// defaults: guards on, network off, JIT on.
type Options struct {
	MaxOps       int64         // operation guard, 0 means DefaultMaxOps
	MaxDuration  time.Duration // wall-clock guard, 0 means DefaultMaxDuration
	MaxDepth     int           // call depth guard, 0 means DefaultMaxDepth
	AllowNet     bool          // gate for HTTPGET, HTTPPOST, sockets and remote imports
	Optimize     bool          // run the constant folder before execution
	DisableJIT   bool
	JITThreshold int    // backedges before a loop is hot, 0 means DefaultHotThreshold
	CacheDir     string // import cache location, "" means ~/.nlbc/cache
	Stdout       io.Writer
}

const (
	DefaultMaxOps      = 200000
	DefaultMaxDuration = 30 * time.Second
	DefaultMaxDepth    = 512
)

// Trace is one entry of the execution trace surfaced as "_traces".
type Trace struct {
	Kind  string // "PRINT", "CALL", "CALL_METHOD", "GET_ATTR"
	Name  string
	Class string // receiver class for CALL_METHOD
	Argc  int
	Value Value // printed value for PRINT
}

// Interpreter executes one verified module. It is not safe for
// concurrent use; run one interpreter per goroutine.
type Interpreter struct {
	opts    Options
	mod     *bytecode.Module
	funcs   map[string]*funcEntry
	classes *classTable
	host    *hostIO
	fetcher *fetcher
	stdout  io.Writer

	opCount     int64
	maxOps      int64
	deadline    time.Time
	traces      []Trace
	annotations map[string]*List
	tasks       taskQueue
	jit         *hotLoopJIT
}

// New verifies the module, optionally folds constants, and prepares an
// interpreter. A module that fails verification never executes.
func New(m *bytecode.Module, opts Options) (*Interpreter, error) {
	if err := bytecode.Verify(m); err != nil {
		return nil, err
	}
	if opts.Optimize {
		folded := bytecode.Optimize(m)
		if folded > 0 {
			log.Debugf("constant folder removed %d instruction triples", folded)
		}
	}
	if opts.MaxOps <= 0 {
		opts.MaxOps = DefaultMaxOps
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	in := &Interpreter{
		opts:        opts,
		mod:         m,
		funcs:       make(map[string]*funcEntry, len(m.Functions)),
		classes:     buildClassTable(m),
		host:        newHostIO(opts.AllowNet),
		stdout:      opts.Stdout,
		maxOps:      opts.MaxOps,
		annotations: make(map[string]*List),
	}
	in.fetcher = newFetcher(opts.CacheDir, in.host)
	for i := range m.Functions {
		fn := &m.Functions[i]
		params := make([]string, len(fn.ParamSyms))
		for j, p := range fn.ParamSyms {
			params[j] = m.SymbolName(p)
		}
		in.funcs[m.SymbolName(fn.NameSym)] = &funcEntry{params: params, code: fn.Code}
	}
	if !opts.DisableJIT {
		in.jit = newHotLoopJIT(opts.JITThreshold)
	}
	return in, nil
}

// Run executes main and returns the final environment. Internal keys
// (leading underscore) survive; user bindings holding class instances
// are dropped. The guard counters and traces are attached under
// "_op_counts", "_traces" and "_annotations".
func (in *Interpreter) Run() (Env, error) {
	in.deadline = time.Now().Add(in.opts.MaxDuration)
	env := NewEnv()
	if _, err := in.runCode(in.mod.Code, env, 0); err != nil {
		return nil, err
	}
	return in.finalize(env), nil
}

// Call invokes a module function from the host, against a fresh
// environment.
func (in *Interpreter) Call(name string, args []Value) (Value, error) {
	if in.deadline.IsZero() {
		in.deadline = time.Now().Add(in.opts.MaxDuration)
	}
	fn, ok := in.funcs[name]
	if !ok {
		return nil, Errorf("function %s not found", name)
	}
	frame := NewEnv().CallFrame(fn.params, args)
	return in.runCode(fn.code, frame, 1)
}

// OpCount returns the number of instructions executed so far.
func (in *Interpreter) OpCount() int64 { return in.opCount }

// Traces returns the accumulated execution trace.
func (in *Interpreter) Traces() []Trace { return in.traces }

func (in *Interpreter) finalize(env Env) Env {
	out := make(Env, len(env)+3)
	for k, v := range env {
		if len(k) > 0 && k[0] == '_' {
			out[k] = v
			continue
		}
		if _, isObj := v.(*Object); isObj {
			continue
		}
		out[k] = v
	}
	out["_op_counts"] = in.opCount
	out["_traces"] = in.traces
	annotations := NewMap()
	for name, anns := range in.annotations {
		annotations.Items[name] = anns
	}
	out["_annotations"] = annotations
	return out
}

// chargeOp advances the guard counters. Every dispatched instruction
// pays here, including instructions executed by compiled loops.
func (in *Interpreter) chargeOp() error {
	in.opCount++
	if in.opCount > in.maxOps {
		return opLimitError(in.maxOps)
	}
	if time.Now().After(in.deadline) {
		return timeLimitError()
	}
	return nil
}

// chargeOps pays for n instructions at once, for closed-form loop
// execution that skips per-instruction dispatch.
func (in *Interpreter) chargeOps(n int64) error {
	in.opCount += n
	if in.opCount > in.maxOps {
		return opLimitError(in.maxOps)
	}
	if time.Now().After(in.deadline) {
		return timeLimitError()
	}
	return nil
}

func (in *Interpreter) trace(t Trace) {
	in.traces = append(in.traces, t)
}

// runCode executes one code blob in the given environment and returns
// the value of RETURN, or nil when execution falls off the end.
func (in *Interpreter) runCode(code []byte, env Env, depth int) (Value, error) {
	var stack []Value
	var catches catchStack
	ip := 0
	syms := in.mod.Symbols
	consts := in.mod.Constants

	push := func(v Value) { stack = append(stack, v) }
	pop := func() Value {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	// raise routes a runtime fault to the innermost handler that takes
	// it, binding "exception" and "exception_type" in the current
	// frame. Without a fitting handler the fault aborts the frame.
	raise := func(exType string, exValue Value, fallback error) (bool, error) {
		entry, ok := catches.top()
		if !ok || !entry.accepts(exType) {
			return false, fallback
		}
		env["exception"] = exValue
		env["exception_type"] = exType
		ip = entry.target
		return true, nil
	}
	raiseRuntime := func(err error) (bool, error) {
		re, ok := err.(*RuntimeError)
		if !ok {
			return false, err // guard and internal errors are not catchable
		}
		return raise(re.Type, re.Msg, re)
	}

	for ip < len(code) {
		if err := in.chargeOp(); err != nil {
			return nil, err
		}
		op := bytecode.Opcode(code[ip])
		ip++

		var a, b uint64
		var sOff int64
		var err error
		switch bytecode.GetOpcodeInfo(op).Operands {
		case bytecode.OperandsU:
			a, ip, err = bytecode.ReadUleb(code, ip)
		case bytecode.OperandsUU:
			a, ip, err = bytecode.ReadUleb(code, ip)
			if err == nil {
				b, ip, err = bytecode.ReadUleb(code, ip)
			}
		case bytecode.OperandsS:
			sOff, ip, err = bytecode.ReadSleb(code, ip)
		}
		if err != nil {
			return nil, fmt.Errorf("corrupt operand at pc=%d: %w", ip, err)
		}

		switch op {
		case bytecode.OpLoadConst:
			c := consts[a]
			switch c.Kind {
			case bytecode.ConstInt:
				push(c.Int)
			case bytecode.ConstFloat:
				push(c.Float)
			default:
				push(c.Str)
			}
		case bytecode.OpLoadName:
			push(env.Get(syms[a]))
		case bytecode.OpStoreName:
			env.Set(syms[a], pop())

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			rhs, lhs := pop(), pop()
			v, err := arith(op, lhs, rhs)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(v)
		case bytecode.OpConcat:
			rhs, lhs := pop(), pop()
			push(Format(lhs) + Format(rhs))
		case bytecode.OpLt, bytecode.OpLe, bytecode.OpGe:
			rhs, lhs := pop(), pop()
			cmp, err := Compare(lhs, rhs)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			switch op {
			case bytecode.OpLt:
				push(cmp < 0)
			case bytecode.OpLe:
				push(cmp <= 0)
			default:
				push(cmp >= 0)
			}
		case bytecode.OpEq:
			rhs, lhs := pop(), pop()
			push(Equal(lhs, rhs))

		case bytecode.OpLen:
			n, err := Length(pop())
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(n)
		case bytecode.OpStrUpper:
			push(strings.ToUpper(Format(pop())))
		case bytecode.OpStrLower:
			push(strings.ToLower(Format(pop())))
		case bytecode.OpStrTrim:
			push(strings.TrimSpace(Format(pop())))

		case bytecode.OpPrint:
			v := pop()
			in.trace(Trace{Kind: "PRINT", Value: v})
			fmt.Fprintln(in.stdout, Format(v))

		case bytecode.OpBuildList:
			n := int(a)
			items := make([]Value, n)
			for j := n - 1; j >= 0; j-- {
				items[j] = pop()
			}
			push(&List{Items: items})
		case bytecode.OpBuildMap:
			m := NewMap()
			type kv struct{ k, v Value }
			pairs := make([]kv, int(a))
			for j := int(a) - 1; j >= 0; j-- {
				v := pop()
				k := pop()
				pairs[j] = kv{k, v}
			}
			var keyErr error
			for _, p := range pairs {
				key, err := hashableKey(p.k)
				if err != nil {
					keyErr = err
					break
				}
				m.Items[key] = p.v
			}
			if keyErr != nil {
				if caught, fatal := raiseRuntime(keyErr); !caught {
					return nil, fatal
				}
				continue
			}
			push(m)
		case bytecode.OpIndex:
			idx, seq := pop(), pop()
			v, err := index(seq, idx)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(v)
		case bytecode.OpGetAttr:
			obj := pop()
			name := syms[a]
			in.trace(Trace{Kind: "GET_ATTR", Name: name})
			v, err := getAttr(obj, name)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(v)

		case bytecode.OpListAppend:
			v, lv := pop(), pop()
			lst, ok := lv.(*List)
			if !ok {
				lst = NewList()
			}
			lst.Items = append(lst.Items, v)
			push(lst)
		case bytecode.OpListPop:
			lv := pop()
			lst, ok := lv.(*List)
			if !ok || len(lst.Items) == 0 {
				push(nil)
				continue
			}
			last := lst.Items[len(lst.Items)-1]
			lst.Items = lst.Items[:len(lst.Items)-1]
			push(last)
		case bytecode.OpMapPut:
			v, kv, mv := pop(), pop(), pop()
			m, ok := mv.(*Map)
			if !ok {
				m = NewMap()
			}
			key, err := hashableKey(kv)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			m.Items[key] = v
			push(m)
		case bytecode.OpMapGet:
			kv, mv := pop(), pop()
			m, ok := mv.(*Map)
			if !ok {
				push(int64(-1))
				continue
			}
			key, err := hashableKey(kv)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			if v, present := m.Items[key]; present {
				push(v)
			} else {
				push(int64(-1))
			}

		case bytecode.OpSetNew:
			push(NewSet())
		case bytecode.OpSetAdd:
			v, sv := pop(), pop()
			s, ok := sv.(*Set)
			if !ok {
				s = NewSet()
			}
			key, err := hashableKey(v)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			s.Items[key] = struct{}{}
			push(s)
		case bytecode.OpSetContains:
			v, sv := pop(), pop()
			s, ok := sv.(*Set)
			if !ok {
				push(false)
				continue
			}
			key, err := hashableKey(v)
			if err != nil {
				push(false)
				continue
			}
			_, present := s.Items[key]
			push(present)

		case bytecode.OpJump:
			ip += int(a)
		case bytecode.OpJumpIfFalse:
			if !Truthy(pop()) {
				ip += int(a)
			}
		case bytecode.OpJumpBack:
			source := ip
			target := ip + int(sOff)
			ip = target
			if in.jit != nil {
				newIP, handled, err := in.jit.onBackedge(in, code, env, loopKey{Header: target, Source: source})
				if err != nil {
					if caught, fatal := raiseRuntime(err); !caught {
						return nil, fatal
					}
					continue
				}
				if handled {
					ip = newIP
				}
			}

		case bytecode.OpCall:
			fname := syms[a]
			argc := int(b)
			args := make([]Value, argc)
			for j := argc - 1; j >= 0; j-- {
				args[j] = pop()
			}
			in.trace(Trace{Kind: "CALL", Name: fname, Argc: argc})
			ret, err := in.callFunction(fname, args, env, depth)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(ret)
		case bytecode.OpCallMethod:
			mname := syms[a]
			argc := int(b)
			args := make([]Value, argc)
			for j := argc - 1; j >= 0; j-- {
				args[j] = pop()
			}
			recv := pop()
			obj, ok := recv.(*Object)
			if !ok {
				err := Errorf("CALL_METHOD on %s", TypeName(recv))
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			in.trace(Trace{Kind: "CALL_METHOD", Name: mname, Class: obj.Class, Argc: argc})
			ret, err := in.callMethod(obj, mname, args, env, depth)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(ret)
		case bytecode.OpReturn:
			if len(stack) > 0 {
				return pop(), nil
			}
			return nil, nil

		case bytecode.OpNew:
			push(in.classes.instantiate(syms[a]))
		case bytecode.OpGetField:
			obj := pop()
			switch x := obj.(type) {
			case *Object:
				push(x.Fields[syms[a]])
			case *Map:
				push(x.Items[syms[a]])
			default:
				push(nil)
			}
		case bytecode.OpSetField:
			v, obj := pop(), pop()
			switch x := obj.(type) {
			case *Object:
				x.Fields[syms[a]] = v
			case *Map:
				x.Items[syms[a]] = v
			default:
				err := Errorf("SETFIELD on %s", TypeName(obj))
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
			}

		case bytecode.OpWriteFile:
			name, content := pop(), pop()
			if err := in.host.writeFile(Format(name), Format(content)); err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
			}
		case bytecode.OpReadFile:
			name := pop()
			content, err := in.host.readFile(Format(name))
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(content)
		case bytecode.OpAppendFile:
			name, content := pop(), pop()
			if err := in.host.appendFile(Format(name), Format(content)); err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
			}
		case bytecode.OpDeleteFile:
			if err := in.host.deleteFile(Format(pop())); err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
			}

		case bytecode.OpHTTPGet:
			url := Format(pop())
			body, err := in.host.httpGet(url)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(body)
		case bytecode.OpHTTPPost:
			url := Format(pop())
			payload := pop()
			body, err := in.host.httpPost(url, payload)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(body)
		case bytecode.OpImportURL:
			url := Format(pop())
			content, err := in.fetcher.fetch(url)
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(content)

		case bytecode.OpSetupCatch:
			catches.push(catchEntry{target: ip + int(a)})
		case bytecode.OpSetupCatchT:
			catches.push(catchEntry{target: ip + int(b), typed: true, typeName: syms[a]})
		case bytecode.OpEndTry:
			catches.pop()
		case bytecode.OpThrow:
			var msg Value = "Error"
			if len(stack) > 0 {
				msg = pop()
			}
			entry, ok := catches.top()
			if !ok {
				return nil, &ThrowError{Type: "Error", Msg: Format(msg)}
			}
			env["exception"] = msg
			ip = entry.target
		case bytecode.OpThrowT:
			var tname Value = "Error"
			if len(stack) > 0 {
				tname = pop()
			}
			var msg Value = ""
			if len(stack) > 0 {
				msg = pop()
			}
			typeName := Format(tname)
			if caught, fatal := raise(typeName, msg, &ThrowError{Type: typeName, Msg: Format(msg)}); !caught {
				return nil, fatal
			}

		case bytecode.OpAwait:
			v := pop()
			fut, ok := v.(*Future)
			if !ok {
				push(v)
				continue
			}
			result, err := fut.Force()
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(result)
		case bytecode.OpAsyncReadFile:
			name := Format(pop())
			push(NewFuture(func() (Value, error) {
				return in.host.readFile(name)
			}))
		case bytecode.OpAsyncHTTPGet:
			url := Format(pop())
			push(NewFuture(func() (Value, error) {
				return in.fetcher.fetch(url)
			}))
		case bytecode.OpSchedule:
			if fut, ok := pop().(*Future); ok {
				in.tasks.push(fut)
			}
		case bytecode.OpRunTasks:
			push(in.tasks.drain())
		case bytecode.OpAsyncSleep:
			ms := int64(a)
			push(NewFuture(func() (Value, error) {
				time.Sleep(time.Duration(ms) * time.Millisecond)
				return nil, nil
			}))
		case bytecode.OpAsyncConnect:
			host := syms[a]
			port := int(b)
			push(NewFuture(func() (Value, error) {
				return in.host.connect(host, port)
			}))
		case bytecode.OpAsyncSend:
			data, sv := pop(), pop()
			payload := Format(data)
			sock, ok := sv.(*Socket)
			push(NewFuture(func() (Value, error) {
				if !ok {
					return false, nil
				}
				return sock.send(payload), nil
			}))
		case bytecode.OpAsyncRecv:
			sv := pop()
			sock, ok := sv.(*Socket)
			push(NewFuture(func() (Value, error) {
				if !ok {
					return "", nil
				}
				return sock.recv(), nil
			}))

		case bytecode.OpCSVParse:
			rows, err := parseCSV(Format(pop()))
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(rows)
		case bytecode.OpCSVStringify:
			text, err := stringifyCSV(pop())
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(text)
		case bytecode.OpYAMLParse:
			doc, err := parseYAML(Format(pop()))
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(doc)
		case bytecode.OpYAMLStringify:
			text, err := stringifyYAML(pop())
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(text)

		case bytecode.OpIterNew:
			it, err := newIterator(pop())
			if err != nil {
				if caught, fatal := raiseRuntime(err); !caught {
					return nil, fatal
				}
				continue
			}
			push(it)
		case bytecode.OpIterHasNext:
			it, ok := pop().(*Iterator)
			if !ok {
				push(false)
				continue
			}
			push(it.HasNext())
		case bytecode.OpIterNext:
			it, ok := pop().(*Iterator)
			if !ok {
				push(nil)
				continue
			}
			push(it.Next())

		case bytecode.OpAnnotateFunc:
			argc := int(b)
			anns := make([]Value, argc)
			for j := argc - 1; j >= 0; j-- {
				anns[j] = pop()
			}
			in.annotations[syms[a]] = &List{Items: anns}

		default:
			return nil, fmt.Errorf("unknown opcode 0x%02X at pc=%d", byte(op), ip-1)
		}
	}
	return nil, nil
}

func (in *Interpreter) callFunction(name string, args []Value, env Env, depth int) (Value, error) {
	if depth+1 > in.opts.MaxDepth {
		return nil, Errorf("max call depth %d exceeded", in.opts.MaxDepth)
	}
	fn, ok := in.funcs[name]
	if !ok {
		return nil, Errorf("function %s not found", name)
	}
	frame := env.CallFrame(fn.params, args)
	return in.runCode(fn.code, frame, depth+1)
}

func (in *Interpreter) callMethod(obj *Object, name string, args []Value, env Env, depth int) (Value, error) {
	if depth+1 > in.opts.MaxDepth {
		return nil, Errorf("max call depth %d exceeded", in.opts.MaxDepth)
	}
	fn, ok := in.classes.lookupMethod(obj.Class, name)
	if !ok {
		return nil, Errorf("method %s not found on class %s", name, obj.Class)
	}
	frame := env.CallFrame(fn.params, args)
	frame["self"] = obj
	return in.runCode(fn.code, frame, depth+1)
}

// arith applies a binary arithmetic opcode. Integers stay integral
// except for DIV, which always yields a float.
func arith(op bytecode.Opcode, lhs, rhs Value) (Value, error) {
	li, lInt := lhs.(int64)
	ri, rInt := rhs.(int64)
	if lInt && rInt {
		switch op {
		case bytecode.OpAdd:
			return li + ri, nil
		case bytecode.OpSub:
			return li - ri, nil
		case bytecode.OpMul:
			return li * ri, nil
		case bytecode.OpDiv:
			if ri == 0 {
				return nil, Errorf("division by zero")
			}
			return float64(li) / float64(ri), nil
		case bytecode.OpMod:
			if ri == 0 {
				return nil, Errorf("modulo by zero")
			}
			r := li % ri
			if r != 0 && (r < 0) != (ri < 0) {
				r += ri
			}
			return r, nil
		}
	}
	lf, lNum := toFloat(lhs)
	rf, rNum := toFloat(rhs)
	if lNum && rNum {
		switch op {
		case bytecode.OpAdd:
			return lf + rf, nil
		case bytecode.OpSub:
			return lf - rf, nil
		case bytecode.OpMul:
			return lf * rf, nil
		case bytecode.OpDiv:
			if rf == 0 {
				return nil, Errorf("division by zero")
			}
			return lf / rf, nil
		case bytecode.OpMod:
			if rf == 0 {
				return nil, Errorf("modulo by zero")
			}
			r := math.Mod(lf, rf)
			if r != 0 && (r < 0) != (rf < 0) {
				r += rf
			}
			return r, nil
		}
	}
	// ADD doubles as concatenation for like sequences.
	if op == bytecode.OpAdd {
		if ls, ok := lhs.(string); ok {
			if rs, ok := rhs.(string); ok {
				return ls + rs, nil
			}
		}
		if ll, ok := lhs.(*List); ok {
			if rl, ok := rhs.(*List); ok {
				items := make([]Value, 0, len(ll.Items)+len(rl.Items))
				items = append(items, ll.Items...)
				items = append(items, rl.Items...)
				return &List{Items: items}, nil
			}
		}
	}
	return nil, Errorf("unsupported operands for %s: %s and %s",
		bytecode.GetOpcodeInfo(op).Name, TypeName(lhs), TypeName(rhs))
}

// index implements INDEX over lists, strings and maps. Negative indices
// count back from the end.
func index(seq, idx Value) (Value, error) {
	switch x := seq.(type) {
	case *List:
		i, ok := idx.(int64)
		if !ok {
			return nil, Errorf("list index is %s, want int", TypeName(idx))
		}
		n := int64(len(x.Items))
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, Errorf("list index %d out of range (len %d)", i, n)
		}
		return x.Items[i], nil
	case string:
		i, ok := idx.(int64)
		if !ok {
			return nil, Errorf("string index is %s, want int", TypeName(idx))
		}
		runes := []rune(x)
		n := int64(len(runes))
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, Errorf("string index %d out of range (len %d)", i, n)
		}
		return string(runes[i]), nil
	case *Map:
		key, err := hashableKey(idx)
		if err != nil {
			return nil, err
		}
		v, ok := x.Items[key]
		if !ok {
			return nil, Errorf("key %s not found", Format(idx))
		}
		return v, nil
	}
	return nil, Errorf("INDEX on %s", TypeName(seq))
}

// getAttr implements GET_ATTR: map entry or object field by name, nil
// when absent.
func getAttr(obj Value, name string) (Value, error) {
	switch x := obj.(type) {
	case *Map:
		return x.Items[name], nil
	case *Object:
		return x.Fields[name], nil
	}
	return nil, Errorf("GET_ATTR on %s", TypeName(obj))
}
