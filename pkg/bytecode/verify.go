package bytecode

import (
	"errors"
	"fmt"
)

var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrConstRange     = errors.New("constant index out of range")
	ErrSymbolRange    = errors.New("symbol index out of range")
	ErrJumpRange      = errors.New("jump target out of code bounds")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrTypeMismatch   = errors.New("type error")
)

// VerifyError pins a verification failure to a code blob and offset.
type VerifyError struct {
	Blob string // "main", "func add", "class Dog.speak"
	PC   int
	Err  error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify %s at pc=%d: %v", e.Blob, e.PC, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// Verify checks a whole module: symbol references in the function and
// class tables, then the stack-effect and type passes over main and
// every function and method body. It accepts code the interpreter can
// run without underflowing or referencing out-of-range pool entries.
func Verify(m *Module) error {
	if err := verifyBlob(m, "main", m.Code); err != nil {
		return err
	}
	for i, fn := range m.Functions {
		if err := checkFuncSyms(m, fn); err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		if err := verifyBlob(m, "func "+m.SymbolName(fn.NameSym), fn.Code); err != nil {
			return err
		}
	}
	for i, cls := range m.Classes {
		if cls.NameSym >= len(m.Symbols) {
			return fmt.Errorf("class %d: name: %w", i, ErrSymbolRange)
		}
		if cls.BaseSym >= len(m.Symbols) {
			return fmt.Errorf("class %d: base: %w", i, ErrSymbolRange)
		}
		for _, f := range cls.FieldSyms {
			if f >= len(m.Symbols) {
				return fmt.Errorf("class %d: field: %w", i, ErrSymbolRange)
			}
		}
		for _, meth := range cls.Methods {
			if err := checkFuncSyms(m, meth); err != nil {
				return fmt.Errorf("class %s: %w", m.SymbolName(cls.NameSym), err)
			}
			blob := fmt.Sprintf("class %s.%s", m.SymbolName(cls.NameSym), m.SymbolName(meth.NameSym))
			if err := verifyBlob(m, blob, meth.Code); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkFuncSyms(m *Module, fn Function) error {
	if fn.NameSym >= len(m.Symbols) {
		return fmt.Errorf("name: %w", ErrSymbolRange)
	}
	for _, p := range fn.ParamSyms {
		if p >= len(m.Symbols) {
			return fmt.Errorf("param: %w", ErrSymbolRange)
		}
	}
	return nil
}

func verifyBlob(m *Module, name string, code []byte) error {
	if err := verifyStack(m, code); err != nil {
		var ve *VerifyError
		if errors.As(err, &ve) {
			ve.Blob = name
			return ve
		}
		return err
	}
	if err := verifyTypes(m, code); err != nil {
		var ve *VerifyError
		if errors.As(err, &ve) {
			ve.Blob = name
			return ve
		}
		return err
	}
	return nil
}

// ========================================================================
// Pass 1: stack effect and operand ranges
// ========================================================================

// verifyStack walks the blob linearly tracking a conservative stack
// depth. RETURN ends the walk; trailing dead code is left unchecked,
// matching what the interpreter will never execute.
func verifyStack(m *Module, code []byte) error {
	n := len(code)
	pos := 0
	depth := 0
	fail := func(pc int, err error) error {
		return &VerifyError{PC: pc, Err: err}
	}
	need := func(pc, k int) error {
		if depth < k {
			return fail(pc, fmt.Errorf("%w: need %d, have %d", ErrStackUnderflow, k, depth))
		}
		return nil
	}
	for pos < n {
		pc := pos
		op := Opcode(code[pos])
		pos++
		info, known := opcodeInfoTable[op]
		if !known {
			return fail(pc, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(op)))
		}

		var a, b uint64
		var sOff int64
		var err error
		switch info.Operands {
		case OperandsU:
			a, pos, err = ReadUleb(code, pos)
		case OperandsUU:
			a, pos, err = ReadUleb(code, pos)
			if err == nil {
				b, pos, err = ReadUleb(code, pos)
			}
		case OperandsS:
			sOff, pos, err = ReadSleb(code, pos)
		}
		if err != nil {
			return fail(pc, err)
		}

		switch op {
		case OpLoadConst:
			if a >= uint64(len(m.Constants)) {
				return fail(pc, fmt.Errorf("%s %d: %w", info.Name, a, ErrConstRange))
			}
		case OpLoadName, OpStoreName, OpGetAttr, OpNew, OpGetField, OpSetField:
			if a >= uint64(len(m.Symbols)) {
				return fail(pc, fmt.Errorf("%s %d: %w", info.Name, a, ErrSymbolRange))
			}
		case OpCall, OpCallMethod, OpSetupCatchT, OpAsyncConnect, OpAnnotateFunc:
			if a >= uint64(len(m.Symbols)) {
				return fail(pc, fmt.Errorf("%s %d: %w", info.Name, a, ErrSymbolRange))
			}
		}

		switch op {
		case OpJump, OpJumpIfFalse, OpSetupCatch:
			if tgt := pos + int(a); tgt < 0 || tgt > n {
				return fail(pc, fmt.Errorf("%s to %d: %w", info.Name, tgt, ErrJumpRange))
			}
		case OpSetupCatchT:
			if tgt := pos + int(b); tgt < 0 || tgt > n {
				return fail(pc, fmt.Errorf("%s to %d: %w", info.Name, tgt, ErrJumpRange))
			}
		case OpJumpBack:
			if tgt := pos + int(sOff); tgt < 0 || tgt > n {
				return fail(pc, fmt.Errorf("%s to %d: %w", info.Name, tgt, ErrJumpRange))
			}
		}

		pop := info.StackPop
		if pop == VariablePop {
			switch op {
			case OpBuildList:
				pop = int(a)
			case OpBuildMap:
				pop = 2 * int(a)
			case OpCall, OpAnnotateFunc:
				pop = int(b)
			case OpCallMethod:
				pop = int(b) + 1
			}
		}
		if op == OpReturn {
			// Empty return is allowed; dead code after it is, too.
			if depth > 0 {
				depth--
			}
			return nil
		}
		if err := need(pc, pop); err != nil {
			return err
		}
		depth += info.StackPush - pop
	}
	return nil
}

// ========================================================================
// Pass 2: best-effort type inference
// ========================================================================

// Inferred value types. "unknown" always passes; only a concrete
// contradiction is fatal.
const (
	tInt     = "int"
	tFloat   = "float"
	tStr     = "str"
	tBool    = "bool"
	tList    = "list"
	tMap     = "map"
	tSet     = "set"
	tObject  = "object"
	tIter    = "iter"
	tUnknown = "unknown"
)

func constType(c Constant) string {
	switch c.Kind {
	case ConstInt:
		return tInt
	case ConstFloat:
		return tFloat
	case ConstString:
		return tStr
	}
	return tUnknown
}

func isNumeric(t string) bool { return t == tInt || t == tFloat }

// verifyTypes simulates the blob with a typed stack. The walk is
// linear: branch targets are not merged, so anything reached through a
// jump degrades to unknown on its own. Names keep the type last stored
// to them.
func verifyTypes(m *Module, code []byte) error {
	n := len(code)
	pos := 0
	var stack []string
	nameTypes := make(map[string]string)
	fail := func(pc int, err error) error {
		return &VerifyError{PC: pc, Err: err}
	}
	pop := func() string {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return t
	}
	popN := func(pc, k int) error {
		if len(stack) < k {
			return fail(pc, fmt.Errorf("type pass: %w: need %d, have %d", ErrStackUnderflow, k, len(stack)))
		}
		stack = stack[:len(stack)-k]
		return nil
	}
	push := func(t string) { stack = append(stack, t) }

	for pos < n {
		pc := pos
		op := Opcode(code[pos])
		pos++
		info := opcodeInfoTable[op]

		var a, b uint64
		var err error
		switch info.Operands {
		case OperandsU:
			a, pos, err = ReadUleb(code, pos)
		case OperandsUU:
			a, pos, err = ReadUleb(code, pos)
			if err == nil {
				b, pos, err = ReadUleb(code, pos)
			}
		case OperandsS:
			_, pos, err = ReadSleb(code, pos)
		}
		if err != nil {
			return fail(pc, err)
		}

		underflow := func(k int) error { return popN(pc, k) }

		switch op {
		case OpLoadConst:
			push(constType(m.Constants[a]))
		case OpLoadName:
			t, ok := nameTypes[m.Symbols[a]]
			if !ok {
				t = tUnknown
			}
			push(t)
		case OpStoreName:
			if len(stack) < 1 {
				return fail(pc, fmt.Errorf("type pass: %w", ErrStackUnderflow))
			}
			nameTypes[m.Symbols[a]] = pop()

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			if len(stack) < 2 {
				return fail(pc, fmt.Errorf("type pass: %w", ErrStackUnderflow))
			}
			rhs, lhs := pop(), pop()
			if lhs != tUnknown && rhs != tUnknown && !(isNumeric(lhs) && isNumeric(rhs)) {
				return fail(pc, fmt.Errorf("%w: %s on %s and %s", ErrTypeMismatch, info.Name, lhs, rhs))
			}
			switch {
			case op == OpDiv:
				push(tFloat)
			case lhs == tFloat || rhs == tFloat:
				push(tFloat)
			case lhs == tUnknown || rhs == tUnknown:
				push(tUnknown)
			default:
				push(tInt)
			}
		case OpLt, OpLe, OpGe, OpEq:
			if err := underflow(2); err != nil {
				return err
			}
			push(tBool)
		case OpConcat:
			if len(stack) < 2 {
				return fail(pc, fmt.Errorf("type pass: %w", ErrStackUnderflow))
			}
			rhs, lhs := pop(), pop()
			if lhs != tUnknown && rhs != tUnknown && !(lhs == tStr && rhs == tStr) {
				return fail(pc, fmt.Errorf("%w: CONCAT on %s and %s", ErrTypeMismatch, lhs, rhs))
			}
			push(tStr)
		case OpLen:
			if len(stack) < 1 {
				return fail(pc, fmt.Errorf("type pass: %w", ErrStackUnderflow))
			}
			t := pop()
			if t != tUnknown && t != tList && t != tStr && t != tMap && t != tSet {
				return fail(pc, fmt.Errorf("%w: LEN on %s", ErrTypeMismatch, t))
			}
			push(tInt)
		case OpStrUpper, OpStrLower, OpStrTrim:
			if len(stack) < 1 {
				return fail(pc, fmt.Errorf("type pass: %w", ErrStackUnderflow))
			}
			t := pop()
			if t != tUnknown && t != tStr {
				return fail(pc, fmt.Errorf("%w: %s on %s", ErrTypeMismatch, info.Name, t))
			}
			push(tStr)

		case OpBuildList:
			if err := underflow(int(a)); err != nil {
				return err
			}
			push(tList)
		case OpBuildMap:
			if err := underflow(2 * int(a)); err != nil {
				return err
			}
			push(tMap)
		case OpIndex:
			if len(stack) < 2 {
				return fail(pc, fmt.Errorf("type pass: %w", ErrStackUnderflow))
			}
			idx, seq := pop(), pop()
			if seq != tUnknown && seq != tList && seq != tStr && seq != tMap {
				return fail(pc, fmt.Errorf("%w: INDEX on %s", ErrTypeMismatch, seq))
			}
			if seq != tMap && idx != tUnknown && idx != tInt {
				return fail(pc, fmt.Errorf("%w: INDEX with %s index", ErrTypeMismatch, idx))
			}
			push(tUnknown)
		case OpGetAttr:
			if err := underflow(1); err != nil {
				return err
			}
			push(tUnknown)

		case OpSetNew:
			push(tSet)
		case OpSetAdd:
			if len(stack) < 2 {
				return fail(pc, fmt.Errorf("type pass: %w", ErrStackUnderflow))
			}
			_, s := pop(), pop()
			if s != tUnknown && s != tSet {
				return fail(pc, fmt.Errorf("%w: SET_ADD on %s", ErrTypeMismatch, s))
			}
			push(tSet)
		case OpSetContains:
			if len(stack) < 2 {
				return fail(pc, fmt.Errorf("type pass: %w", ErrStackUnderflow))
			}
			_, s := pop(), pop()
			if s != tUnknown && s != tSet {
				return fail(pc, fmt.Errorf("%w: SET_CONTAINS on %s", ErrTypeMismatch, s))
			}
			push(tBool)

		case OpListAppend:
			if err := underflow(2); err != nil {
				return err
			}
			push(tList)
		case OpListPop:
			if err := underflow(1); err != nil {
				return err
			}
			push(tUnknown)
		case OpMapPut:
			if err := underflow(3); err != nil {
				return err
			}
			push(tMap)
		case OpMapGet:
			if err := underflow(2); err != nil {
				return err
			}
			push(tUnknown)

		case OpCSVParse:
			if err := underflow(1); err != nil {
				return err
			}
			push(tList)
		case OpYAMLParse:
			if err := underflow(1); err != nil {
				return err
			}
			push(tUnknown)
		case OpCSVStringify, OpYAMLStringify:
			if err := underflow(1); err != nil {
				return err
			}
			push(tStr)

		case OpIterNew:
			if err := underflow(1); err != nil {
				return err
			}
			push(tIter)
		case OpIterHasNext:
			if err := underflow(1); err != nil {
				return err
			}
			push(tBool)
		case OpIterNext:
			if err := underflow(1); err != nil {
				return err
			}
			push(tUnknown)

		case OpReadFile, OpHTTPGet, OpImportURL:
			if err := underflow(1); err != nil {
				return err
			}
			push(tStr)
		case OpHTTPPost:
			if err := underflow(2); err != nil {
				return err
			}
			push(tStr)
		case OpWriteFile, OpAppendFile:
			if err := underflow(2); err != nil {
				return err
			}
		case OpDeleteFile, OpPrint, OpSchedule, OpThrow:
			if err := underflow(1); err != nil {
				return err
			}
		case OpThrowT:
			if err := underflow(2); err != nil {
				return err
			}

		case OpAsyncReadFile, OpAsyncHTTPGet, OpAsyncRecv:
			if err := underflow(1); err != nil {
				return err
			}
			push(tUnknown)
		case OpAsyncSend:
			if err := underflow(2); err != nil {
				return err
			}
			push(tUnknown)
		case OpAsyncSleep, OpAsyncConnect:
			push(tUnknown)
		case OpAwait:
			if err := underflow(1); err != nil {
				return err
			}
			push(tUnknown)
		case OpRunTasks:
			push(tList)

		case OpNew:
			push(tObject)
		case OpGetField:
			if err := underflow(1); err != nil {
				return err
			}
			push(tUnknown)
		case OpSetField:
			if err := underflow(2); err != nil {
				return err
			}
		case OpCall:
			if err := underflow(int(b)); err != nil {
				return err
			}
			push(tUnknown)
		case OpCallMethod:
			if err := underflow(int(b) + 1); err != nil {
				return err
			}
			push(tUnknown)
		case OpAnnotateFunc:
			if err := underflow(int(b)); err != nil {
				return err
			}

		case OpJumpIfFalse:
			if err := underflow(1); err != nil {
				return err
			}
		case OpJump, OpJumpBack, OpSetupCatch, OpSetupCatchT, OpEndTry:
			// Control flow only; the linear walk keeps going.
		case OpReturn:
			if len(stack) > 0 {
				pop()
			}
			return nil
		}
	}
	return nil
}
