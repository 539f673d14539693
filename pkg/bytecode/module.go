package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Magic identifies an NLBC module file.
var Magic = [4]byte{'N', 'L', 'B', 'C'}

// Format version understood by this package.
const (
	VersionMajor = 1
	VersionMinor = 0
)

// Section identifiers. Decoders skip sections they do not recognize so
// the format can grow without breaking old readers.
const (
	SectionConstants byte = 1
	SectionSymbols   byte = 2
	SectionCode      byte = 3
	SectionFunctions byte = 4
	SectionClasses   byte = 5
	SectionDebug     byte = 6
)

// Constant pool entry tags.
const (
	ConstInt    byte = 0
	ConstFloat  byte = 1
	ConstString byte = 2
)

var (
	ErrBadMagic    = errors.New("bad magic, not an NLBC module")
	ErrBadVersion  = errors.New("unsupported NLBC version")
	ErrTruncated   = errors.New("truncated module")
	ErrBadConstant = errors.New("malformed constant pool entry")
)

// Constant is a single constant pool entry.
type Constant struct {
	Kind  byte
	Int   int64
	Float float64
	Str   string
}

// IntConst builds an integer pool entry.
func IntConst(n int64) Constant { return Constant{Kind: ConstInt, Int: n} }

// FloatConst builds a float pool entry.
func FloatConst(f float64) Constant { return Constant{Kind: ConstFloat, Float: f} }

// StringConst builds a string pool entry.
func StringConst(s string) Constant { return Constant{Kind: ConstString, Str: s} }

// Equal reports whether two pool entries are interchangeable. Floats
// compare by bit pattern so that NaN entries can be deduplicated.
func (c Constant) Equal(o Constant) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case ConstInt:
		return c.Int == o.Int
	case ConstFloat:
		return math.Float64bits(c.Float) == math.Float64bits(o.Float)
	case ConstString:
		return c.Str == o.Str
	}
	return false
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("int %d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("float %g", c.Float)
	case ConstString:
		return fmt.Sprintf("str %q", c.Str)
	}
	return fmt.Sprintf("const(tag=%d)", c.Kind)
}

// Function is a named code blob with parameter symbols.
type Function struct {
	NameSym   int
	ParamSyms []int
	Code      []byte
}

// Class describes a user-defined class. BaseSym is the symbol index of
// the base class name, or -1 when the class has no base. On the wire
// the base is shifted by one so that "no base" encodes as zero.
type Class struct {
	NameSym   int
	BaseSym   int
	FieldSyms []int
	Methods   []Function
}

// DebugInfo maps instruction ordinals to 1-based source lines. Zero
// means the line is unknown. FuncLines is indexed like the function
// table.
type DebugInfo struct {
	MainLines []int
	FuncLines [][]int
}

// Module is a fully decoded NLBC module.
type Module struct {
	Flags     byte
	Constants []Constant
	Symbols   []string
	Code      []byte
	Functions []Function
	Classes   []Class
	Debug     *DebugInfo
}

// InternConst returns the index of an equal pool entry, appending a new
// one if none exists.
func (m *Module) InternConst(c Constant) int {
	for i, existing := range m.Constants {
		if existing.Equal(c) {
			return i
		}
	}
	m.Constants = append(m.Constants, c)
	return len(m.Constants) - 1
}

// InternSymbol returns the index of a symbol, appending it if new.
func (m *Module) InternSymbol(name string) int {
	for i, s := range m.Symbols {
		if s == name {
			return i
		}
	}
	m.Symbols = append(m.Symbols, name)
	return len(m.Symbols) - 1
}

// SymbolName resolves a symbol index, tolerating out-of-range indices
// for diagnostic use.
func (m *Module) SymbolName(idx int) string {
	if idx >= 0 && idx < len(m.Symbols) {
		return m.Symbols[idx]
	}
	return fmt.Sprintf("<sym#%d>", idx)
}

// FunctionByName looks a function up by its resolved symbol name.
func (m *Module) FunctionByName(name string) (*Function, bool) {
	for i := range m.Functions {
		if m.SymbolName(m.Functions[i].NameSym) == name {
			return &m.Functions[i], true
		}
	}
	return nil, false
}

// ClassByName looks a class up by its resolved symbol name.
func (m *Module) ClassByName(name string) (*Class, bool) {
	for i := range m.Classes {
		if m.SymbolName(m.Classes[i].NameSym) == name {
			return &m.Classes[i], true
		}
	}
	return nil, false
}

// ========================================================================
// Encoding
// ========================================================================

// Encode serializes the module. Sections are written in identifier
// order; empty function, class and debug sections are omitted.
func (m *Module) Encode() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, Magic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, VersionMajor)
	buf = binary.LittleEndian.AppendUint16(buf, VersionMinor)
	buf = append(buf, m.Flags)

	buf = appendSection(buf, SectionConstants, m.encodeConstants())
	buf = appendSection(buf, SectionSymbols, m.encodeSymbols())
	buf = appendSection(buf, SectionCode, m.Code)
	if len(m.Functions) > 0 {
		buf = appendSection(buf, SectionFunctions, encodeFuncTable(m.Functions))
	}
	if len(m.Classes) > 0 {
		buf = appendSection(buf, SectionClasses, m.encodeClasses())
	}
	if m.Debug != nil {
		buf = appendSection(buf, SectionDebug, m.Debug.encode())
	}
	return buf
}

func appendSection(buf []byte, id byte, body []byte) []byte {
	buf = append(buf, id)
	buf = AppendUleb(buf, uint64(len(body)))
	return append(buf, body...)
}

func (m *Module) encodeConstants() []byte {
	body := AppendUleb(nil, uint64(len(m.Constants)))
	for _, c := range m.Constants {
		body = append(body, c.Kind)
		switch c.Kind {
		case ConstInt:
			body = AppendSleb(body, c.Int)
		case ConstFloat:
			body = binary.LittleEndian.AppendUint64(body, math.Float64bits(c.Float))
		case ConstString:
			body = AppendUleb(body, uint64(len(c.Str)))
			body = append(body, c.Str...)
		}
	}
	return body
}

func (m *Module) encodeSymbols() []byte {
	body := AppendUleb(nil, uint64(len(m.Symbols)))
	for _, s := range m.Symbols {
		body = AppendUleb(body, uint64(len(s)))
		body = append(body, s...)
	}
	return body
}

func encodeFuncTable(funcs []Function) []byte {
	body := AppendUleb(nil, uint64(len(funcs)))
	for _, fn := range funcs {
		body = appendFunc(body, fn)
	}
	return body
}

func appendFunc(body []byte, fn Function) []byte {
	body = AppendUleb(body, uint64(fn.NameSym))
	body = AppendUleb(body, uint64(len(fn.ParamSyms)))
	for _, p := range fn.ParamSyms {
		body = AppendUleb(body, uint64(p))
	}
	body = AppendUleb(body, uint64(len(fn.Code)))
	return append(body, fn.Code...)
}

func (m *Module) encodeClasses() []byte {
	body := AppendUleb(nil, uint64(len(m.Classes)))
	for _, cls := range m.Classes {
		body = AppendUleb(body, uint64(cls.NameSym))
		if cls.BaseSym < 0 {
			body = AppendUleb(body, 0)
		} else {
			body = AppendUleb(body, uint64(cls.BaseSym)+1)
		}
		body = AppendUleb(body, uint64(len(cls.FieldSyms)))
		for _, f := range cls.FieldSyms {
			body = AppendUleb(body, uint64(f))
		}
		body = AppendUleb(body, uint64(len(cls.Methods)))
		for _, meth := range cls.Methods {
			body = appendFunc(body, meth)
		}
	}
	return body
}

func (d *DebugInfo) encode() []byte {
	body := []byte{1}
	body = AppendUleb(body, uint64(len(d.MainLines)))
	for _, ln := range d.MainLines {
		if ln < 0 {
			ln = 0
		}
		body = AppendUleb(body, uint64(ln))
	}
	body = append(body, 2)
	body = AppendUleb(body, uint64(len(d.FuncLines)))
	for idx, fmap := range d.FuncLines {
		body = AppendUleb(body, uint64(idx))
		body = AppendUleb(body, uint64(len(fmap)))
		for _, ln := range fmap {
			if ln < 0 {
				ln = 0
			}
			body = AppendUleb(body, uint64(ln))
		}
	}
	return body
}

// ========================================================================
// Decoding
// ========================================================================

// Decode parses a serialized module. Sections may appear in any order;
// unrecognized section identifiers are skipped.
func Decode(data []byte) (*Module, error) {
	if len(data) < 9 {
		return nil, ErrTruncated
	}
	if [4]byte(data[:4]) != Magic {
		return nil, ErrBadMagic
	}
	major := binary.LittleEndian.Uint16(data[4:6])
	minor := binary.LittleEndian.Uint16(data[6:8])
	if major != VersionMajor {
		return nil, fmt.Errorf("%w: %d.%d", ErrBadVersion, major, minor)
	}
	m := &Module{Flags: data[8]}
	pos := 9
	for pos < len(data) {
		id := data[pos]
		pos++
		size, next, err := ReadUleb(data, pos)
		if err != nil {
			return nil, fmt.Errorf("section 0x%02X header: %w", id, err)
		}
		pos = next
		if size > uint64(len(data)-pos) {
			return nil, fmt.Errorf("section 0x%02X: %w", id, ErrTruncated)
		}
		body := data[pos : pos+int(size)]
		pos += int(size)

		switch id {
		case SectionConstants:
			if err := m.decodeConstants(body); err != nil {
				return nil, err
			}
		case SectionSymbols:
			if err := m.decodeSymbols(body); err != nil {
				return nil, err
			}
		case SectionCode:
			m.Code = append([]byte(nil), body...)
		case SectionFunctions:
			funcs, err := decodeFuncTable(body)
			if err != nil {
				return nil, err
			}
			m.Functions = funcs
		case SectionClasses:
			if err := m.decodeClasses(body); err != nil {
				return nil, err
			}
		case SectionDebug:
			dbg, err := decodeDebug(body)
			if err != nil {
				return nil, err
			}
			m.Debug = dbg
		default:
			// Unknown section, skip.
		}
	}
	return m, nil
}

func (m *Module) decodeConstants(body []byte) error {
	count, pos, err := ReadUleb(body, 0)
	if err != nil {
		return fmt.Errorf("constant pool: %w", err)
	}
	m.Constants = make([]Constant, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos >= len(body) {
			return fmt.Errorf("constant %d: %w", i, ErrTruncated)
		}
		tag := body[pos]
		pos++
		switch tag {
		case ConstInt:
			n, next, err := ReadSleb(body, pos)
			if err != nil {
				return fmt.Errorf("constant %d: %w", i, err)
			}
			pos = next
			m.Constants = append(m.Constants, IntConst(n))
		case ConstFloat:
			if pos+8 > len(body) {
				return fmt.Errorf("constant %d: %w", i, ErrTruncated)
			}
			bits := binary.LittleEndian.Uint64(body[pos : pos+8])
			pos += 8
			m.Constants = append(m.Constants, FloatConst(math.Float64frombits(bits)))
		case ConstString:
			s, next, err := readString(body, pos)
			if err != nil {
				return fmt.Errorf("constant %d: %w", i, err)
			}
			if !utf8.ValidString(s) {
				return fmt.Errorf("constant %d: invalid UTF-8: %w", i, ErrBadConstant)
			}
			pos = next
			m.Constants = append(m.Constants, StringConst(s))
		default:
			return fmt.Errorf("constant %d has tag %d: %w", i, tag, ErrBadConstant)
		}
	}
	return nil
}

func (m *Module) decodeSymbols(body []byte) error {
	count, pos, err := ReadUleb(body, 0)
	if err != nil {
		return fmt.Errorf("symbol table: %w", err)
	}
	m.Symbols = make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		s, next, err := readString(body, pos)
		if err != nil {
			return fmt.Errorf("symbol %d: %w", i, err)
		}
		pos = next
		m.Symbols = append(m.Symbols, s)
	}
	return nil
}

func readString(body []byte, pos int) (string, int, error) {
	size, next, err := ReadUleb(body, pos)
	if err != nil {
		return "", 0, err
	}
	if size > uint64(len(body)-next) {
		return "", 0, ErrTruncated
	}
	end := next + int(size)
	return string(body[next:end]), end, nil
}

func decodeFuncTable(body []byte) ([]Function, error) {
	count, pos, err := ReadUleb(body, 0)
	if err != nil {
		return nil, fmt.Errorf("function table: %w", err)
	}
	funcs := make([]Function, 0, count)
	for i := uint64(0); i < count; i++ {
		fn, next, err := readFunc(body, pos)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		pos = next
		funcs = append(funcs, fn)
	}
	return funcs, nil
}

func readFunc(body []byte, pos int) (Function, int, error) {
	var fn Function
	nameSym, pos, err := ReadUleb(body, pos)
	if err != nil {
		return fn, 0, err
	}
	fn.NameSym = int(nameSym)
	paramCount, pos, err := ReadUleb(body, pos)
	if err != nil {
		return fn, 0, err
	}
	fn.ParamSyms = make([]int, 0, paramCount)
	for j := uint64(0); j < paramCount; j++ {
		p, next, err := ReadUleb(body, pos)
		if err != nil {
			return fn, 0, err
		}
		pos = next
		fn.ParamSyms = append(fn.ParamSyms, int(p))
	}
	codeLen, pos, err := ReadUleb(body, pos)
	if err != nil {
		return fn, 0, err
	}
	if codeLen > uint64(len(body)-pos) {
		return fn, 0, ErrTruncated
	}
	fn.Code = append([]byte(nil), body[pos:pos+int(codeLen)]...)
	return fn, pos + int(codeLen), nil
}

func (m *Module) decodeClasses(body []byte) error {
	count, pos, err := ReadUleb(body, 0)
	if err != nil {
		return fmt.Errorf("class table: %w", err)
	}
	m.Classes = make([]Class, 0, count)
	for i := uint64(0); i < count; i++ {
		var cls Class
		nameSym, next, err := ReadUleb(body, pos)
		if err != nil {
			return fmt.Errorf("class %d: %w", i, err)
		}
		pos = next
		cls.NameSym = int(nameSym)
		base, next, err := ReadUleb(body, pos)
		if err != nil {
			return fmt.Errorf("class %d base: %w", i, err)
		}
		pos = next
		cls.BaseSym = int(base) - 1
		fieldCount, next, err := ReadUleb(body, pos)
		if err != nil {
			return fmt.Errorf("class %d fields: %w", i, err)
		}
		pos = next
		cls.FieldSyms = make([]int, 0, fieldCount)
		for j := uint64(0); j < fieldCount; j++ {
			f, next, err := ReadUleb(body, pos)
			if err != nil {
				return fmt.Errorf("class %d field %d: %w", i, j, err)
			}
			pos = next
			cls.FieldSyms = append(cls.FieldSyms, int(f))
		}
		methodCount, next, err := ReadUleb(body, pos)
		if err != nil {
			return fmt.Errorf("class %d methods: %w", i, err)
		}
		pos = next
		cls.Methods = make([]Function, 0, methodCount)
		for j := uint64(0); j < methodCount; j++ {
			meth, next, err := readFunc(body, pos)
			if err != nil {
				return fmt.Errorf("class %d method %d: %w", i, j, err)
			}
			pos = next
			cls.Methods = append(cls.Methods, meth)
		}
		m.Classes = append(m.Classes, cls)
	}
	return nil
}

func decodeDebug(body []byte) (*DebugInfo, error) {
	dbg := &DebugInfo{}
	pos := 0
	for pos < len(body) {
		tag := body[pos]
		pos++
		switch tag {
		case 1:
			count, next, err := ReadUleb(body, pos)
			if err != nil {
				return nil, fmt.Errorf("debug main map: %w", err)
			}
			pos = next
			dbg.MainLines = make([]int, 0, count)
			for i := uint64(0); i < count; i++ {
				ln, next, err := ReadUleb(body, pos)
				if err != nil {
					return nil, fmt.Errorf("debug main map entry %d: %w", i, err)
				}
				pos = next
				dbg.MainLines = append(dbg.MainLines, int(ln))
			}
		case 2:
			count, next, err := ReadUleb(body, pos)
			if err != nil {
				return nil, fmt.Errorf("debug func maps: %w", err)
			}
			pos = next
			dbg.FuncLines = make([][]int, count)
			for i := uint64(0); i < count; i++ {
				idx, next, err := ReadUleb(body, pos)
				if err != nil {
					return nil, fmt.Errorf("debug func map %d: %w", i, err)
				}
				pos = next
				entries, next, err := ReadUleb(body, pos)
				if err != nil {
					return nil, fmt.Errorf("debug func map %d: %w", i, err)
				}
				pos = next
				fmap := make([]int, 0, entries)
				for j := uint64(0); j < entries; j++ {
					ln, next, err := ReadUleb(body, pos)
					if err != nil {
						return nil, fmt.Errorf("debug func map %d entry %d: %w", i, j, err)
					}
					pos = next
					fmap = append(fmap, int(ln))
				}
				if idx < uint64(len(dbg.FuncLines)) {
					dbg.FuncLines[idx] = fmap
				}
			}
		default:
			// Unknown debug tag, stop parsing rather than misread.
			return dbg, nil
		}
	}
	return dbg, nil
}
