package util

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestParseString(t *testing.T) {
	bstr := bytes.NewBuffer([]byte{'h', 'i', 0x0, 0xFF, 0xCC})
	str, n, err := ParseString(bstr)
	if err != nil {
		t.Fatalf("Error parsing string: %v", err)
	}

	if str != "hi" {
		t.Fatalf("String was not parsed correctly %#v", str)
	}
	if n != 3 {
		t.Fatalf("Wrong length returned %d", n)
	}
}

func TestParseStringUnterminated(t *testing.T) {
	bstr := bytes.NewBuffer([]byte{'h', 'i'})
	if _, _, err := ParseString(bstr); err == nil {
		t.Fatal("Expected error parsing unterminated string")
	}
}

func TestReadWriteUint(t *testing.T) {
	for _, tc := range []struct {
		size int
		n    uint64
	}{
		{1, 0x12},
		{2, 0x1234},
		{4, 0x12345678},
		{8, 0x1234567890abcdef},
	} {
		for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
			var buf bytes.Buffer
			if err := WriteUint(&buf, order, tc.size, tc.n); err != nil {
				t.Fatalf("WriteUint size %d: %v", tc.size, err)
			}
			if buf.Len() != tc.size {
				t.Errorf("wrong encoded size %d, expected %d", buf.Len(), tc.size)
			}
			out, err := ReadUintRaw(&buf, order, tc.size)
			if err != nil {
				t.Fatalf("ReadUintRaw size %d: %v", tc.size, err)
			}
			if out != tc.n {
				t.Errorf("read %#x, expected %#x", out, tc.n)
			}
		}
	}
}

func TestReadUintBadSize(t *testing.T) {
	if _, err := ReadUintRaw(bytes.NewBuffer(nil), binary.LittleEndian, 3); err == nil {
		t.Fatal("Expected error for unsupported size")
	}
	if err := WriteUint(new(bytes.Buffer), binary.LittleEndian, 5, 0); err == nil {
		t.Fatal("Expected error for unsupported size")
	}
}
