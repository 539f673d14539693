package bytecode

import "fmt"

// Opcode represents a single NLBC bytecode instruction.
// The byte values are part of the wire format and must not be renumbered.
type Opcode byte

const (
	// ========================================================================
	// Core stack / arithmetic (0x01-0x17)
	// ========================================================================

	OpLoadConst   Opcode = 0x01 // Push constant: LOAD_CONST <pool idx:uleb>
	OpLoadName    Opcode = 0x02 // Push variable: LOAD_NAME <sym:uleb>
	OpStoreName   Opcode = 0x03 // Pop and bind: STORE_NAME <sym:uleb>
	OpAdd         Opcode = 0x04 // Pop two, push sum
	OpPrint       Opcode = 0x05 // Pop and print (also recorded in the trace)
	OpBuildList   Opcode = 0x06 // Pop n values, push list: BUILD_LIST <n:uleb>
	OpIndex       Opcode = 0x07 // Pop index and sequence, push element
	OpBuildMap    Opcode = 0x08 // Pop n key/value pairs, push map: BUILD_MAP <n:uleb>
	OpGetAttr     Opcode = 0x09 // Pop map, push entry: GET_ATTR <sym:uleb>
	OpJump        Opcode = 0x0A // Relative forward jump: JUMP <+off:uleb>
	OpJumpIfFalse Opcode = 0x0B // Pop cond, jump forward if falsy: JUMP_IF_FALSE <+off:uleb>
	OpCall        Opcode = 0x0C // Call function: CALL <name sym:uleb> <argc:uleb>
	OpReturn      Opcode = 0x0D // Return top of stack (or null)
	OpLt          Opcode = 0x0E // Pop two, push a < b
	OpSub         Opcode = 0x0F // Pop two, push difference
	OpMul         Opcode = 0x10 // Pop two, push product
	OpDiv         Opcode = 0x11 // Pop two, push quotient (always a float)
	OpConcat      Opcode = 0x12 // Pop two, push string concatenation
	OpLen         Opcode = 0x13 // Pop value, push its length
	OpEq          Opcode = 0x14 // Pop two, push a == b
	OpLe          Opcode = 0x15 // Pop two, push a <= b
	OpGe          Opcode = 0x16 // Pop two, push a >= b
	OpMod         Opcode = 0x17 // Pop two, push remainder

	// ========================================================================
	// File I/O (0x20-0x2F)
	// ========================================================================

	OpWriteFile  Opcode = 0x20 // Pop filename and content, write file
	OpReadFile   Opcode = 0x21 // Pop filename, push content
	OpAppendFile Opcode = 0x22 // Pop filename and content, append to file
	OpDeleteFile Opcode = 0x23 // Pop filename, delete (missing file is not an error)

	// ========================================================================
	// Objects (0x30-0x3F)
	// ========================================================================

	OpNew        Opcode = 0x30 // Allocate instance: NEW <class sym:uleb>
	OpGetField   Opcode = 0x31 // Pop instance, push field: GETFIELD <sym:uleb>
	OpSetField   Opcode = 0x32 // Pop instance and value: SETFIELD <sym:uleb>
	OpCallMethod Opcode = 0x33 // Call method: CALL_METHOD <sym:uleb> <argc:uleb>

	// ========================================================================
	// Network (0x40-0x5F, gated by the allow-network flag)
	// ========================================================================

	OpHTTPGet   Opcode = 0x40 // Pop URL, push response body
	OpHTTPPost  Opcode = 0x41 // Pop URL and payload, push response body
	OpImportURL Opcode = 0x50 // Pop URL or path, push fetched module text

	// ========================================================================
	// Exceptions (0x61-0x63, 0x75-0x76)
	// ========================================================================

	OpSetupCatch  Opcode = 0x61 // Install handler: SETUP_CATCH <+off:uleb>
	OpEndTry      Opcode = 0x62 // Pop the innermost handler
	OpThrow       Opcode = 0x63 // Pop message, transfer to handler or fail
	OpThrowT      Opcode = 0x75 // Pop type name and message, typed throw
	OpSetupCatchT Opcode = 0x76 // Typed handler: SETUP_CATCH_T <type sym:uleb> <+off:uleb>

	// ========================================================================
	// Futures (0x70-0x7B)
	// ========================================================================

	OpAwait         Opcode = 0x70 // Pop future, run it now, push result
	OpAsyncReadFile Opcode = 0x71 // Pop filename, push read future
	OpAsyncHTTPGet  Opcode = 0x72 // Pop URL, push fetch future
	OpSchedule      Opcode = 0x73 // Pop future, enqueue without running
	OpRunTasks      Opcode = 0x74 // Drain the task queue FIFO, push results list
	OpAsyncSleep    Opcode = 0x78 // Push sleep future: ASYNC_SLEEP <ms:uleb>
	OpAsyncConnect  Opcode = 0x79 // Push dial future: ASYNC_CONNECT <host sym:uleb> <port:uleb>
	OpAsyncSend     Opcode = 0x7A // Pop data and socket, push send future
	OpAsyncRecv     Opcode = 0x7B // Pop socket, push receive future

	// ========================================================================
	// Sets (0x80-0x82)
	// ========================================================================

	OpSetNew      Opcode = 0x80 // Push empty set
	OpSetAdd      Opcode = 0x81 // Pop value and set, push set
	OpSetContains Opcode = 0x82 // Pop value and set, push membership

	// ========================================================================
	// Structured data (0x90-0x93)
	// ========================================================================

	OpCSVParse      Opcode = 0x90 // Pop CSV text, push list of row lists
	OpYAMLParse     Opcode = 0x91 // Pop YAML text, push decoded value
	OpCSVStringify  Opcode = 0x92 // Pop list of rows, push CSV text
	OpYAMLStringify Opcode = 0x93 // Pop value, push YAML text

	// ========================================================================
	// Iterators, strings, collections (0xA0-0xAD)
	// ========================================================================

	OpIterNew     Opcode = 0xA0 // Pop sequence, push iterator handle
	OpIterNext    Opcode = 0xA1 // Pop iterator, push next element (or null)
	OpIterHasNext Opcode = 0xA2 // Pop iterator, pull-and-buffer, push bool
	OpStrUpper    Opcode = 0xA6 // Pop string, push upper-cased
	OpStrLower    Opcode = 0xA7 // Pop string, push lower-cased
	OpStrTrim     Opcode = 0xA8 // Pop string, push trimmed
	OpListAppend  Opcode = 0xA9 // Pop value and list, push list (in place)
	OpListPop     Opcode = 0xAA // Pop list, push removed last element
	OpMapPut      Opcode = 0xAB // Pop value, key, map; push map (in place)
	OpMapGet      Opcode = 0xAC // Pop key and map, push entry or -1
	OpJumpBack    Opcode = 0xAD // Backward jump: JUMP_BACK <-off:sleb>

	// ========================================================================
	// Metadata (0xB0)
	// ========================================================================

	OpAnnotateFunc Opcode = 0xB0 // Record annotations: ANNOTATE_FUNC <sym:uleb> <argc:uleb>
)

// OpWrapValue (0xA5) is reserved by the format but has no execution
// semantics; the verifier rejects it like any unknown opcode.
const OpWrapValue Opcode = 0xA5

// OperandKind describes the operand schema that follows an opcode byte.
type OperandKind uint8

const (
	// OperandsNone - no operand bytes.
	OperandsNone OperandKind = iota

	// OperandsU - one unsigned LEB128 operand.
	OperandsU

	// OperandsUU - two unsigned LEB128 operands.
	OperandsUU

	// OperandsS - one signed LEB128 operand (backward jumps only).
	OperandsS
)

// VariablePop marks an opcode whose pop count depends on an operand.
const VariablePop = -1

// OpcodeInfo provides metadata about each opcode for the verifier,
// disassembler and assembler.
type OpcodeInfo struct {
	Name      string      // Wire mnemonic
	StackPop  int         // Values popped (VariablePop = operand-dependent)
	StackPush int         // Values pushed
	Operands  OperandKind // Operand schema
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpLoadConst:   {"LOAD_CONST", 0, 1, OperandsU},
	OpLoadName:    {"LOAD_NAME", 0, 1, OperandsU},
	OpStoreName:   {"STORE_NAME", 1, 0, OperandsU},
	OpAdd:         {"ADD", 2, 1, OperandsNone},
	OpPrint:       {"PRINT", 1, 0, OperandsNone},
	OpBuildList:   {"BUILD_LIST", VariablePop, 1, OperandsU},
	OpIndex:       {"INDEX", 2, 1, OperandsNone},
	OpBuildMap:    {"BUILD_MAP", VariablePop, 1, OperandsU},
	OpGetAttr:     {"GET_ATTR", 1, 1, OperandsU},
	OpJump:        {"JUMP", 0, 0, OperandsU},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 1, 0, OperandsU},
	OpCall:        {"CALL", VariablePop, 1, OperandsUU},
	OpReturn:      {"RETURN", 0, 0, OperandsNone},
	OpLt:          {"LT", 2, 1, OperandsNone},
	OpSub:         {"SUB", 2, 1, OperandsNone},
	OpMul:         {"MUL", 2, 1, OperandsNone},
	OpDiv:         {"DIV", 2, 1, OperandsNone},
	OpConcat:      {"CONCAT", 2, 1, OperandsNone},
	OpLen:         {"LEN", 1, 1, OperandsNone},
	OpEq:          {"EQ", 2, 1, OperandsNone},
	OpLe:          {"LE", 2, 1, OperandsNone},
	OpGe:          {"GE", 2, 1, OperandsNone},
	OpMod:         {"MOD", 2, 1, OperandsNone},

	OpWriteFile:  {"WRITEFILE", 2, 0, OperandsNone},
	OpReadFile:   {"READFILE", 1, 1, OperandsNone},
	OpAppendFile: {"APPENDFILE", 2, 0, OperandsNone},
	OpDeleteFile: {"DELETEFILE", 1, 0, OperandsNone},

	OpNew:        {"NEW", 0, 1, OperandsU},
	OpGetField:   {"GETFIELD", 1, 1, OperandsU},
	OpSetField:   {"SETFIELD", 2, 0, OperandsU},
	OpCallMethod: {"CALL_METHOD", VariablePop, 1, OperandsUU},

	OpHTTPGet:   {"HTTPGET", 1, 1, OperandsNone},
	OpHTTPPost:  {"HTTPPOST", 2, 1, OperandsNone},
	OpImportURL: {"IMPORTURL", 1, 1, OperandsNone},

	OpSetupCatch:  {"SETUP_CATCH", 0, 0, OperandsU},
	OpEndTry:      {"END_TRY", 0, 0, OperandsNone},
	OpThrow:       {"THROW", 1, 0, OperandsNone},
	OpThrowT:      {"THROW_T", 2, 0, OperandsNone},
	OpSetupCatchT: {"SETUP_CATCH_T", 0, 0, OperandsUU},

	OpAwait:         {"AWAIT", 1, 1, OperandsNone},
	OpAsyncReadFile: {"ASYNC_READFILE", 1, 1, OperandsNone},
	OpAsyncHTTPGet:  {"ASYNC_HTTPGET", 1, 1, OperandsNone},
	OpSchedule:      {"SCHEDULE", 1, 0, OperandsNone},
	OpRunTasks:      {"RUN_TASKS", 0, 1, OperandsNone},
	OpAsyncSleep:    {"ASYNC_SLEEP", 0, 1, OperandsU},
	OpAsyncConnect:  {"ASYNC_CONNECT", 0, 1, OperandsUU},
	OpAsyncSend:     {"ASYNC_SEND", 2, 1, OperandsNone},
	OpAsyncRecv:     {"ASYNC_RECV", 1, 1, OperandsNone},

	OpSetNew:      {"SET_NEW", 0, 1, OperandsNone},
	OpSetAdd:      {"SET_ADD", 2, 1, OperandsNone},
	OpSetContains: {"SET_CONTAINS", 2, 1, OperandsNone},

	OpCSVParse:      {"CSV_PARSE", 1, 1, OperandsNone},
	OpYAMLParse:     {"YAML_PARSE", 1, 1, OperandsNone},
	OpCSVStringify:  {"CSV_STRINGIFY", 1, 1, OperandsNone},
	OpYAMLStringify: {"YAML_STRINGIFY", 1, 1, OperandsNone},

	OpIterNew:     {"ITER_NEW", 1, 1, OperandsNone},
	OpIterNext:    {"ITER_NEXT", 1, 1, OperandsNone},
	OpIterHasNext: {"ITER_HAS_NEXT", 1, 1, OperandsNone},
	OpStrUpper:    {"STRUPPER", 1, 1, OperandsNone},
	OpStrLower:    {"STRLOWER", 1, 1, OperandsNone},
	OpStrTrim:     {"STRTRIM", 1, 1, OperandsNone},
	OpListAppend:  {"LIST_APPEND", 2, 1, OperandsNone},
	OpListPop:     {"LIST_POP", 1, 1, OperandsNone},
	OpMapPut:      {"MAP_PUT", 3, 1, OperandsNone},
	OpMapGet:      {"MAP_GET", 2, 1, OperandsNone},
	OpJumpBack:    {"JUMP_BACK", 0, 0, OperandsS},

	OpAnnotateFunc: {"ANNOTATE_FUNC", VariablePop, 0, OperandsUU},
}

// mnemonicTable maps wire mnemonics back to opcodes, for the assembler.
var mnemonicTable = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode. Unknown opcodes get a
// placeholder name and an empty contract.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Known reports whether the opcode is part of the executable instruction set.
func Known(op Opcode) bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// ByMnemonic resolves a wire mnemonic such as "LOAD_CONST" to its opcode.
func ByMnemonic(name string) (Opcode, bool) {
	op, ok := mnemonicTable[name]
	return op, ok
}

// String returns the wire mnemonic of the opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsJump reports whether the opcode transfers control via a relative offset.
// Catch-setup opcodes count: their operand is a handler offset.
func (op Opcode) IsJump() bool {
	switch op {
	case OpJump, OpJumpBack, OpJumpIfFalse, OpSetupCatch, OpSetupCatchT:
		return true
	}
	return false
}

// IsBinaryFoldable reports whether the constant folder understands the opcode.
func (op Opcode) IsBinaryFoldable() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpConcat:
		return true
	}
	return false
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
