package bytecode

// Peephole constant folding. LOAD_CONST, LOAD_CONST followed by a
// foldable binary opcode collapses to a single LOAD_CONST whose result
// entry is interned into the pool. Blobs containing any relative
// control transfer are left alone: folding shrinks the code and would
// silently retarget every offset that spans the folded window.

// Optimize folds constants in main and every function and method body.
// It reports how many instruction triples were folded.
func Optimize(m *Module) int {
	folded := 0
	m.Code, folded = foldCode(m, m.Code, folded)
	for i := range m.Functions {
		m.Functions[i].Code, folded = foldCode(m, m.Functions[i].Code, folded)
	}
	for i := range m.Classes {
		for j := range m.Classes[i].Methods {
			m.Classes[i].Methods[j].Code, folded = foldCode(m, m.Classes[i].Methods[j].Code, folded)
		}
	}
	return folded
}

func foldCode(m *Module, code []byte, folded int) ([]byte, int) {
	instrs, err := DecodeInstructions(code)
	if err != nil {
		// Not decodable, leave for the verifier to reject.
		return code, folded
	}
	for _, d := range instrs {
		if d.Op.IsJump() {
			return code, folded
		}
	}

	for {
		idx, result := findFold(m, instrs)
		if idx < 0 {
			break
		}
		pool := m.InternConst(result)
		replacement := Decoded{Op: OpLoadConst, A: uint64(pool)}
		instrs = append(instrs[:idx], append([]Decoded{replacement}, instrs[idx+3:]...)...)
		folded++
	}

	out := make([]byte, 0, len(code))
	for _, d := range instrs {
		out = append(out, byte(d.Op))
		info := GetOpcodeInfo(d.Op)
		switch info.Operands {
		case OperandsU:
			out = AppendUleb(out, d.A)
		case OperandsUU:
			out = AppendUleb(out, d.A)
			out = AppendUleb(out, d.B)
		case OperandsS:
			out = AppendSleb(out, d.S)
		}
	}
	return out, folded
}

func findFold(m *Module, instrs []Decoded) (int, Constant) {
	for i := 0; i+2 < len(instrs); i++ {
		if instrs[i].Op != OpLoadConst || instrs[i+1].Op != OpLoadConst {
			continue
		}
		if !instrs[i+2].Op.IsBinaryFoldable() {
			continue
		}
		lhs := m.Constants[instrs[i].A]
		rhs := m.Constants[instrs[i+1].A]
		result, ok := foldBinary(instrs[i+2].Op, lhs, rhs)
		if !ok {
			continue
		}
		return i, result
	}
	return -1, Constant{}
}

// foldBinary evaluates a binary opcode over two pool entries with the
// interpreter's arithmetic rules. Division and modulo by zero never
// fold so the fault stays a runtime event.
func foldBinary(op Opcode, lhs, rhs Constant) (Constant, bool) {
	if op == OpConcat {
		if lhs.Kind == ConstString && rhs.Kind == ConstString {
			return StringConst(lhs.Str + rhs.Str), true
		}
		return Constant{}, false
	}
	numeric := func(c Constant) (float64, bool) {
		switch c.Kind {
		case ConstInt:
			return float64(c.Int), true
		case ConstFloat:
			return c.Float, true
		}
		return 0, false
	}
	a, okA := numeric(lhs)
	b, okB := numeric(rhs)
	if !okA || !okB {
		return Constant{}, false
	}
	bothInt := lhs.Kind == ConstInt && rhs.Kind == ConstInt

	switch op {
	case OpAdd:
		if bothInt {
			return IntConst(lhs.Int + rhs.Int), true
		}
		return FloatConst(a + b), true
	case OpSub:
		if bothInt {
			return IntConst(lhs.Int - rhs.Int), true
		}
		return FloatConst(a - b), true
	case OpMul:
		if bothInt {
			return IntConst(lhs.Int * rhs.Int), true
		}
		return FloatConst(a * b), true
	case OpDiv:
		if b == 0 {
			return Constant{}, false
		}
		return FloatConst(a / b), true
	case OpMod:
		if !bothInt || rhs.Int == 0 {
			return Constant{}, false
		}
		return IntConst(pythonMod(lhs.Int, rhs.Int)), true
	}
	return Constant{}, false
}

// pythonMod matches the sign-of-divisor remainder the interpreter uses.
func pythonMod(a, b int64) int64 {
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}
