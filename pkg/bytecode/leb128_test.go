package bytecode

import (
	"bytes"
	"testing"
)

func TestUlebRoundtrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 127, 128, 129, 255, 300, 16383, 16384, 1 << 32, 1<<64 - 1}
	for _, v := range values {
		buf := AppendUleb(nil, v)
		if len(buf) != UlebLen(v) {
			t.Errorf("UlebLen(%d) = %d, encoded %d bytes", v, UlebLen(v), len(buf))
		}
		got, next, err := ReadUleb(buf, 0)
		if err != nil {
			t.Fatalf("ReadUleb(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("roundtrip %d, got %d", v, got)
		}
		if next != len(buf) {
			t.Errorf("roundtrip %d consumed %d of %d bytes", v, next, len(buf))
		}
	}
}

func TestUlebKnownEncodings(t *testing.T) {
	if got := AppendUleb(nil, 127); !bytes.Equal(got, []byte{0x7F}) {
		t.Errorf("127 encoded as %v", got)
	}
	if got := AppendUleb(nil, 128); !bytes.Equal(got, []byte{0x80, 0x01}) {
		t.Errorf("128 encoded as %v", got)
	}
	if got := AppendUleb(nil, 300); !bytes.Equal(got, []byte{0xAC, 0x02}) {
		t.Errorf("300 encoded as %v", got)
	}
}

func TestSlebRoundtrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 64, -65, 127, -128, 8191, -8192, 1 << 40, -(1 << 40), 1<<63 - 1, -1 << 63}
	for _, v := range values {
		buf := AppendSleb(nil, v)
		if len(buf) != SlebLen(v) {
			t.Errorf("SlebLen(%d) = %d, encoded %d bytes", v, SlebLen(v), len(buf))
		}
		got, next, err := ReadSleb(buf, 0)
		if err != nil {
			t.Fatalf("ReadSleb(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("roundtrip %d, got %d", v, got)
		}
		if next != len(buf) {
			t.Errorf("roundtrip %d consumed %d of %d bytes", v, next, len(buf))
		}
	}
}

func TestSlebKnownEncodings(t *testing.T) {
	if got := AppendSleb(nil, -1); !bytes.Equal(got, []byte{0x7F}) {
		t.Errorf("-1 encoded as %v", got)
	}
	if got := AppendSleb(nil, -64); !bytes.Equal(got, []byte{0x40}) {
		t.Errorf("-64 encoded as %v", got)
	}
	if got := AppendSleb(nil, -65); !bytes.Equal(got, []byte{0xBF, 0x7F}) {
		t.Errorf("-65 encoded as %v", got)
	}
	if got := AppendSleb(nil, 64); !bytes.Equal(got, []byte{0xC0, 0x00}) {
		t.Errorf("64 encoded as %v", got)
	}
}

func TestReadUlebTruncated(t *testing.T) {
	if _, _, err := ReadUleb([]byte{0x80}, 0); err == nil {
		t.Error("truncated varint did not error")
	}
	if _, _, err := ReadUleb(nil, 0); err == nil {
		t.Error("empty buffer did not error")
	}
	if _, _, err := ReadSleb([]byte{0xFF, 0xFF}, 0); err == nil {
		t.Error("truncated signed varint did not error")
	}
}

func TestReadUlebMidBuffer(t *testing.T) {
	buf := []byte{0x00, 0xAC, 0x02, 0x05}
	v, next, err := ReadUleb(buf, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v != 300 || next != 3 {
		t.Errorf("got (%d, %d), want (300, 3)", v, next)
	}
}
