// Package bytecode implements the NLBC binary module format and its
// static tooling: the varint codec, the container encoder/decoder, the
// label-resolving assembler, the bytecode verifier, a constant-folding
// optimizer and a disassembler.
//
// The wire format is designed for:
//   - Compact representation (LEB128 varints everywhere, typically
//     2-4 bytes per instruction)
//   - Forward compatibility (length-prefixed sections, unknown
//     section identifiers are skipped)
//   - Order independence (sections may appear in any order)
//
// # Module Layout
//
// A module is a 9-byte header (magic "NLBC", little-endian major and
// minor version, one flags byte) followed by sections. Each section is
// an identifier byte, a ULEB128 body length and the body:
//
//   - Constants: tagged pool entries (signed varint integers,
//     little-endian float64, length-prefixed UTF-8 strings)
//   - Symbols: names referenced by index from code
//   - Code: the main bytecode blob
//   - Functions: name, parameter symbols and a code blob each
//   - Classes: name, optional base, field symbols and methods
//   - Debug: instruction-ordinal to source-line maps
//
// # Control Flow
//
// Jumps are relative to the position just past the operand bytes.
// Forward jumps carry unsigned offsets; the dedicated JUMP_BACK opcode
// carries a signed offset for loop backedges. Because offsets are
// varints, the assembler resolves labels iteratively: widening one
// offset can move every later label, so it recomputes the layout until
// no encoding changes.
//
// # Verification
//
// Verify runs two passes per code blob. The first tracks stack depth
// and checks every constant, symbol and jump operand against the
// module tables. The second simulates instruction types best-effort;
// values of unknown type always pass, and only a concrete
// contradiction (arithmetic on strings, LEN of an int) is an error.
//
// Execution lives in the vm package; this package is purely static.
package bytecode
