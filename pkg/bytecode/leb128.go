package bytecode

import "fmt"

// LEB128 variable-length integers are the only multi-byte integer encoding
// used inside NLBC section bodies and code streams. Unsigned values use the
// classic base-128 little-endian continuation scheme; signed values use the
// same framing with sign extension on the final byte.

// AppendUleb appends the ULEB128 encoding of n to buf and returns the
// extended buffer.
func AppendUleb(buf []byte, n uint64) []byte {
	for {
		b := byte(n & 0x7F)
		n >>= 7
		if n != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

// AppendSleb appends the SLEB128 encoding of n to buf and returns the
// extended buffer.
func AppendSleb(buf []byte, n int64) []byte {
	for {
		b := byte(n & 0x7F)
		n >>= 7
		sign := b & 0x40
		if (n == 0 && sign == 0) || (n == -1 && sign != 0) {
			buf = append(buf, b)
			return buf
		}
		buf = append(buf, b|0x80)
	}
}

// UlebLen returns the number of bytes AppendUleb would emit for n.
func UlebLen(n uint64) int {
	l := 1
	for n >>= 7; n != 0; n >>= 7 {
		l++
	}
	return l
}

// SlebLen returns the number of bytes AppendSleb would emit for n.
func SlebLen(n int64) int {
	l := 0
	for {
		b := byte(n & 0x7F)
		n >>= 7
		l++
		sign := b & 0x40
		if (n == 0 && sign == 0) || (n == -1 && sign != 0) {
			return l
		}
	}
}

// ReadUleb decodes a ULEB128 value starting at buf[pos]. It returns the
// value and the position of the first byte after the encoding. The encoding
// is self-delimiting, so no length prefix is needed.
func ReadUleb(buf []byte, pos int) (uint64, int, error) {
	var result uint64
	var shift uint
	for {
		if pos >= len(buf) {
			return 0, pos, fmt.Errorf("truncated uleb128 at offset %d", pos)
		}
		if shift >= 64 {
			return 0, pos, fmt.Errorf("uleb128 overflow at offset %d", pos)
		}
		b := buf[pos]
		pos++
		result |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, pos, nil
		}
		shift += 7
	}
}

// ReadSleb decodes an SLEB128 value starting at buf[pos]. The final byte's
// sign bit is extended when the accumulated shift is below 64 bits.
func ReadSleb(buf []byte, pos int) (int64, int, error) {
	var result int64
	var shift uint
	for {
		if pos >= len(buf) {
			return 0, pos, fmt.Errorf("truncated sleb128 at offset %d", pos)
		}
		if shift >= 64 {
			return 0, pos, fmt.Errorf("sleb128 overflow at offset %d", pos)
		}
		b := buf[pos]
		pos++
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, pos, nil
		}
	}
}
