package bytecode

import (
	"errors"
	"fmt"
)

// Instruction is one assembler input line. Ordinary instructions carry
// numeric operands in Args. Jump instructions may instead name a label;
// the assembler resolves the label to a relative offset. LABEL
// pseudo-instructions mark a position and emit no bytes.
type Instruction struct {
	Op      Opcode
	Args    []uint64
	Target  string // label name for JUMP, JUMP_IF_FALSE, SETUP_CATCH, SETUP_CATCH_T
	isLabel bool
	name    string
}

// Op1 builds an instruction with numeric operands already resolved.
func Op1(op Opcode, args ...uint64) Instruction {
	return Instruction{Op: op, Args: args}
}

// JumpTo builds a label-targeted jump. JUMP targets behind the jump are
// rewritten to JUMP_BACK during assembly.
func JumpTo(op Opcode, label string) Instruction {
	return Instruction{Op: op, Target: label}
}

// CatchTo builds a typed catch whose handler position is a label.
func CatchTo(typeSym uint64, label string) Instruction {
	return Instruction{Op: OpSetupCatchT, Args: []uint64{typeSym}, Target: label}
}

// Mark builds a LABEL pseudo-instruction.
func Mark(name string) Instruction {
	return Instruction{isLabel: true, name: name}
}

var (
	ErrUnknownLabel     = errors.New("jump to undefined label")
	ErrDuplicateLabel   = errors.New("label defined twice")
	ErrNegativeForward  = errors.New("opcode cannot encode a backward offset")
	ErrLayoutDiverged   = errors.New("jump layout did not converge")
	ErrOperandCount     = errors.New("wrong operand count for opcode")
	ErrUnknownOpcodeAsm = errors.New("cannot assemble unknown opcode")
)

// Assemble encodes instructions to bytecode. Label-free input is a
// single pass. With labels the assembler starts from one-byte unsigned
// offsets and iterates the layout until every jump's encoded width and
// signedness are stable, since widening one varint can move every later
// label.
func Assemble(instrs []Instruction) ([]byte, error) {
	hasLabels := false
	for _, ins := range instrs {
		if ins.isLabel || ins.Target != "" {
			hasLabels = true
			break
		}
	}
	if !hasLabels {
		return assembleDirect(instrs)
	}
	return assembleWithLabels(instrs)
}

func assembleDirect(instrs []Instruction) ([]byte, error) {
	out := make([]byte, 0, len(instrs)*2)
	for i, ins := range instrs {
		if err := checkOperands(ins); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out = append(out, byte(ins.Op))
		if ins.Op == OpJumpBack {
			out = AppendSleb(out, int64(ins.Args[0]))
			continue
		}
		for _, a := range ins.Args {
			out = AppendUleb(out, a)
		}
	}
	return out, nil
}

func checkOperands(ins Instruction) error {
	info := GetOpcodeInfo(ins.Op)
	if !Known(ins.Op) {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcodeAsm, byte(ins.Op))
	}
	want := 0
	switch info.Operands {
	case OperandsU, OperandsS:
		want = 1
	case OperandsUU:
		want = 2
	}
	if ins.Target != "" {
		// The label stands in for the final offset operand.
		want--
	}
	if len(ins.Args) != want {
		return fmt.Errorf("%w: %s has %d, wants %d", ErrOperandCount, info.Name, len(ins.Args), want)
	}
	return nil
}

// jumpPlan tracks the assumed encoding of one label-targeted operand.
type jumpPlan struct {
	width  int
	signed bool
}

func assembleWithLabels(instrs []Instruction) ([]byte, error) {
	plans := make(map[int]*jumpPlan)
	for i, ins := range instrs {
		if ins.isLabel {
			continue
		}
		if err := checkOperands(ins); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		if ins.Target != "" {
			if !ins.Op.IsJump() {
				return nil, fmt.Errorf("instruction %d: %s cannot take a label", i, ins.Op)
			}
			plans[i] = &jumpPlan{width: 1}
		}
	}

	layout := func() (pcs map[int]int, labels map[string]int, err error) {
		pcs = make(map[int]int, len(instrs))
		labels = make(map[string]int)
		pc := 0
		for i, ins := range instrs {
			if ins.isLabel {
				if _, dup := labels[ins.name]; dup {
					return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateLabel, ins.name)
				}
				labels[ins.name] = pc
				continue
			}
			pcs[i] = pc
			pc++
			for _, a := range ins.Args {
				pc += UlebLen(a)
			}
			if plan, ok := plans[i]; ok {
				pc += plan.width
			}
		}
		return pcs, labels, nil
	}

	// Each pass can only widen or re-sign jumps, so convergence is
	// bounded; the cap guards against an encoding oscillation bug.
	maxPasses := len(plans)*4 + 8
	var pcs map[int]int
	var labels map[string]int
	for pass := 0; ; pass++ {
		if pass > maxPasses {
			return nil, ErrLayoutDiverged
		}
		var err error
		pcs, labels, err = layout()
		if err != nil {
			return nil, err
		}
		changed := false
		for i, plan := range plans {
			off, err := jumpOffset(instrs[i], pcs[i], plan, labels)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", i, err)
			}
			width, signed := offsetEncoding(instrs[i].Op, off)
			if width != plan.width || signed != plan.signed {
				plan.width = width
				plan.signed = signed
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	out := make([]byte, 0, len(instrs)*2)
	for i, ins := range instrs {
		if ins.isLabel {
			continue
		}
		plan, jumps := plans[i]
		if !jumps {
			out = append(out, byte(ins.Op))
			if ins.Op == OpJumpBack {
				out = AppendSleb(out, int64(ins.Args[0]))
				continue
			}
			for _, a := range ins.Args {
				out = AppendUleb(out, a)
			}
			continue
		}
		off, err := jumpOffset(ins, pcs[i], plan, labels)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		op := ins.Op
		if op == OpJump && off < 0 {
			op = OpJumpBack
		} else if off < 0 {
			return nil, fmt.Errorf("instruction %d: %s to %q: %w", i, ins.Op, ins.Target, ErrNegativeForward)
		}
		out = append(out, byte(op))
		for _, a := range ins.Args {
			out = AppendUleb(out, a)
		}
		if off < 0 {
			out = AppendSleb(out, int64(off))
		} else {
			out = AppendUleb(out, uint64(off))
		}
	}
	return out, nil
}

// jumpOffset computes the relative offset from the position just past
// the jump's operand bytes, under the current width assumption.
func jumpOffset(ins Instruction, origin int, plan *jumpPlan, labels map[string]int) (int, error) {
	target, ok := labels[ins.Target]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, ins.Target)
	}
	after := origin + 1
	for _, a := range ins.Args {
		after += UlebLen(a)
	}
	after += plan.width
	return target - after, nil
}

func offsetEncoding(op Opcode, off int) (width int, signed bool) {
	if off < 0 && op == OpJump {
		return SlebLen(int64(off)), true
	}
	if off < 0 {
		// Will be rejected at emit time; keep the layout stable.
		return SlebLen(int64(off)), true
	}
	return UlebLen(uint64(off)), false
}
