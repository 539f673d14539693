package bytecode

import (
	"bytes"
	"errors"
	"testing"
)

func TestAssembleDirect(t *testing.T) {
	code, err := Assemble([]Instruction{
		Op1(OpLoadConst, 0),
		Op1(OpLoadConst, 300),
		Op1(OpAdd),
		Op1(OpStoreName, 1),
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want := []byte{
		byte(OpLoadConst), 0x00,
		byte(OpLoadConst), 0xAC, 0x02,
		byte(OpAdd),
		byte(OpStoreName), 0x01,
	}
	if !bytes.Equal(code, want) {
		t.Errorf("code = %v, want %v", code, want)
	}
}

func TestAssembleForwardJump(t *testing.T) {
	code, err := Assemble([]Instruction{
		Op1(OpLoadName, 0),
		JumpTo(OpJumpIfFalse, "end"),
		Op1(OpLoadConst, 1),
		Op1(OpPrint),
		Mark("end"),
		Op1(OpLoadConst, 2),
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want := []byte{
		byte(OpLoadName), 0x00,
		byte(OpJumpIfFalse), 0x03, // skip LOAD_CONST 1, PRINT
		byte(OpLoadConst), 0x01,
		byte(OpPrint),
		byte(OpLoadConst), 0x02,
	}
	if !bytes.Equal(code, want) {
		t.Errorf("code = %v, want %v", code, want)
	}
}

func TestAssembleBackwardJumpBecomesJumpBack(t *testing.T) {
	code, err := Assemble([]Instruction{
		Mark("top"),
		Op1(OpLoadName, 0),
		Op1(OpPrint),
		JumpTo(OpJump, "top"),
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	// Offset is measured from past the operand: pc 5 back to 0 is -5,
	// encoded as one sleb byte.
	want := []byte{
		byte(OpLoadName), 0x00,
		byte(OpPrint),
		byte(OpJumpBack), 0x7B, // -5
	}
	if !bytes.Equal(code, want) {
		t.Errorf("code = %v, want %v", code, want)
	}
}

// A jump whose offset crosses the one-byte varint boundary forces a
// second layout pass.
func TestAssembleWideJumpConverges(t *testing.T) {
	instrs := []Instruction{JumpTo(OpJump, "end")}
	// 130 two-byte instructions of padding.
	for i := 0; i < 130; i++ {
		instrs = append(instrs, Op1(OpLoadConst, 0), Op1(OpPrint))
	}
	instrs = append(instrs, Mark("end"), Op1(OpReturn))

	code, err := Assemble(instrs)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	d, err := DecodeAt(code, 0)
	if err != nil {
		t.Fatalf("DecodeAt: %v", err)
	}
	if d.Op != OpJump {
		t.Fatalf("first op = %s, want JUMP", d.Op)
	}
	if d.Next != 3 {
		t.Errorf("jump operand is %d bytes, want 2", d.Next-1)
	}
	tgt := d.Next + int(d.A)
	if tgt != len(code)-1 {
		t.Errorf("jump lands at %d, want %d (the RETURN)", tgt, len(code)-1)
	}
}

func TestAssembleTypedCatchLabel(t *testing.T) {
	code, err := Assemble([]Instruction{
		CatchTo(4, "handler"),
		Op1(OpLoadConst, 0),
		Op1(OpThrow),
		Mark("handler"),
		Op1(OpReturn),
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want := []byte{
		byte(OpSetupCatchT), 0x04, 0x03,
		byte(OpLoadConst), 0x00,
		byte(OpThrow),
		byte(OpReturn),
	}
	if !bytes.Equal(code, want) {
		t.Errorf("code = %v, want %v", code, want)
	}
}

func TestAssembleUndefinedLabel(t *testing.T) {
	_, err := Assemble([]Instruction{JumpTo(OpJump, "nowhere")})
	if !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("err = %v, want ErrUnknownLabel", err)
	}
}

func TestAssembleDuplicateLabel(t *testing.T) {
	_, err := Assemble([]Instruction{Mark("a"), Mark("a"), JumpTo(OpJump, "a")})
	if !errors.Is(err, ErrDuplicateLabel) {
		t.Errorf("err = %v, want ErrDuplicateLabel", err)
	}
}

func TestAssembleBackwardConditionalRejected(t *testing.T) {
	_, err := Assemble([]Instruction{
		Mark("top"),
		Op1(OpLoadName, 0),
		JumpTo(OpJumpIfFalse, "top"),
	})
	if !errors.Is(err, ErrNegativeForward) {
		t.Errorf("err = %v, want ErrNegativeForward", err)
	}
}

func TestAssembleOperandCount(t *testing.T) {
	if _, err := Assemble([]Instruction{Op1(OpLoadConst)}); !errors.Is(err, ErrOperandCount) {
		t.Errorf("missing operand: err = %v", err)
	}
	if _, err := Assemble([]Instruction{Op1(OpAdd, 1)}); !errors.Is(err, ErrOperandCount) {
		t.Errorf("extra operand: err = %v", err)
	}
}

func TestAssembleRejectsReservedOpcode(t *testing.T) {
	if _, err := Assemble([]Instruction{Op1(OpWrapValue)}); !errors.Is(err, ErrUnknownOpcodeAsm) {
		t.Errorf("err = %v, want ErrUnknownOpcodeAsm", err)
	}
}
