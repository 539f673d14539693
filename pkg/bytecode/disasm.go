package bytecode

import (
	"fmt"
	"strings"
)

// Decoded is one instruction lifted out of a code blob.
type Decoded struct {
	PC   int
	Op   Opcode
	A, B uint64 // unsigned operands, in wire order
	S    int64  // signed operand (JUMP_BACK)
	Next int    // position just past the operand bytes
}

// DecodeInstructions lifts a code blob into instructions. It fails on
// unknown opcodes and truncated operands.
func DecodeInstructions(code []byte) ([]Decoded, error) {
	var out []Decoded
	pos := 0
	for pos < len(code) {
		d, err := DecodeAt(code, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
		pos = d.Next
	}
	return out, nil
}

// DecodeAt lifts the single instruction at pos.
func DecodeAt(code []byte, pos int) (Decoded, error) {
	d := Decoded{PC: pos, Op: Opcode(code[pos])}
	info, ok := opcodeInfoTable[d.Op]
	if !ok {
		return d, fmt.Errorf("pc=%d: %w: 0x%02X", pos, ErrUnknownOpcode, code[pos])
	}
	pos++
	var err error
	switch info.Operands {
	case OperandsU:
		d.A, pos, err = ReadUleb(code, pos)
	case OperandsUU:
		d.A, pos, err = ReadUleb(code, pos)
		if err == nil {
			d.B, pos, err = ReadUleb(code, pos)
		}
	case OperandsS:
		d.S, pos, err = ReadSleb(code, pos)
	}
	if err != nil {
		return d, fmt.Errorf("pc=%d: %s: %w", d.PC, info.Name, err)
	}
	d.Next = pos
	return d, nil
}

// Disassemble renders a whole module as text, one instruction per
// line, with constant and symbol operands resolved inline.
func Disassemble(m *Module) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; NLBC %d.%d, flags=0x%02X\n", VersionMajor, VersionMinor, m.Flags)
	fmt.Fprintf(&sb, "; %d constants, %d symbols, %d functions, %d classes\n",
		len(m.Constants), len(m.Symbols), len(m.Functions), len(m.Classes))
	sb.WriteString("\nmain:\n")
	disasmCode(&sb, m, m.Code, debugLines(m, -1))
	for i, fn := range m.Functions {
		fmt.Fprintf(&sb, "\nfunc %s(%s):\n", m.SymbolName(fn.NameSym), paramList(m, fn.ParamSyms))
		disasmCode(&sb, m, fn.Code, debugLines(m, i))
	}
	for _, cls := range m.Classes {
		base := ""
		if cls.BaseSym >= 0 {
			base = " extends " + m.SymbolName(cls.BaseSym)
		}
		fmt.Fprintf(&sb, "\nclass %s%s:\n", m.SymbolName(cls.NameSym), base)
		for _, f := range cls.FieldSyms {
			fmt.Fprintf(&sb, "  field %s\n", m.SymbolName(f))
		}
		for _, meth := range cls.Methods {
			fmt.Fprintf(&sb, "  method %s(%s):\n", m.SymbolName(meth.NameSym), paramList(m, meth.ParamSyms))
			disasmCode(&sb, m, meth.Code, nil)
		}
	}
	return sb.String()
}

func paramList(m *Module, syms []int) string {
	names := make([]string, len(syms))
	for i, s := range syms {
		names[i] = m.SymbolName(s)
	}
	return strings.Join(names, ", ")
}

// debugLines returns the debug line map for main (fn = -1) or the
// function at index fn, or nil when the module carries no debug
// section for it.
func debugLines(m *Module, fn int) []int {
	if m.Debug == nil {
		return nil
	}
	if fn < 0 {
		return m.Debug.MainLines
	}
	if fn < len(m.Debug.FuncLines) {
		return m.Debug.FuncLines[fn]
	}
	return nil
}

func disasmCode(sb *strings.Builder, m *Module, code []byte, lines []int) {
	pos, ord := 0, 0
	for pos < len(code) {
		d, err := DecodeAt(code, pos)
		if err != nil {
			fmt.Fprintf(sb, "  %04d  ; %v\n", pos, err)
			return
		}
		if ord < len(lines) && lines[ord] > 0 {
			fmt.Fprintf(sb, "  %04d  %s  ; line %d\n", d.PC, formatDecoded(m, d), lines[ord])
		} else {
			fmt.Fprintf(sb, "  %04d  %s\n", d.PC, formatDecoded(m, d))
		}
		pos = d.Next
		ord++
	}
}

func formatDecoded(m *Module, d Decoded) string {
	info := GetOpcodeInfo(d.Op)
	switch d.Op {
	case OpLoadConst:
		if d.A < uint64(len(m.Constants)) {
			return fmt.Sprintf("%-14s %d  ; %s", info.Name, d.A, m.Constants[d.A])
		}
		return fmt.Sprintf("%-14s %d  ; out of range", info.Name, d.A)
	case OpLoadName, OpStoreName, OpGetAttr, OpNew, OpGetField, OpSetField:
		return fmt.Sprintf("%-14s %d  ; %s", info.Name, d.A, m.SymbolName(int(d.A)))
	case OpCall, OpCallMethod, OpAnnotateFunc:
		return fmt.Sprintf("%-14s %d, %d  ; %s/%d", info.Name, d.A, d.B, m.SymbolName(int(d.A)), d.B)
	case OpJump, OpJumpIfFalse, OpSetupCatch:
		return fmt.Sprintf("%-14s +%d  ; -> %04d", info.Name, d.A, d.Next+int(d.A))
	case OpSetupCatchT:
		return fmt.Sprintf("%-14s %s, +%d  ; -> %04d", info.Name, m.SymbolName(int(d.A)), d.B, d.Next+int(d.B))
	case OpJumpBack:
		return fmt.Sprintf("%-14s %d  ; -> %04d", info.Name, d.S, d.Next+int(d.S))
	case OpAsyncConnect:
		return fmt.Sprintf("%-14s %s, %d", info.Name, m.SymbolName(int(d.A)), d.B)
	case OpAsyncSleep, OpBuildList, OpBuildMap:
		return fmt.Sprintf("%-14s %d", info.Name, d.A)
	}
	return info.Name
}
