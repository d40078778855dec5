package frame

import (
	"encoding/binary"
	"io"

	"github.com/go-unwind/unwind/pkg/dwarf/leb128"
)

// reader is a cursor over a window of a section. Offsets reported by
// Offset are always relative to the start of the whole section, even for
// sub-readers created by split, so that position dependent pointer
// encodings resolve correctly. Copying a reader gives an independent
// cursor over the same bytes.
type reader struct {
	data  []byte
	off   int
	end   int
	order binary.ByteOrder
}

func newReader(data []byte, order binary.ByteOrder) reader {
	return reader{data: data, off: 0, end: len(data), order: order}
}

// newReaderAt returns a cursor over the same section positioned at off.
func (r reader) newReaderAt(off uint64) (reader, error) {
	r2 := reader{data: r.data, off: 0, end: len(r.data), order: r.order}
	if off > uint64(len(r.data)) {
		return r2, &ErrUnexpectedEOF{Offset: off}
	}
	r2.off = int(off)
	return r2, nil
}

func (r *reader) Len() int {
	return r.end - r.off
}

// Offset returns the current position relative to the section start.
func (r *reader) Offset() uint64 {
	return uint64(r.off)
}

func (r *reader) eof() *ErrUnexpectedEOF {
	return &ErrUnexpectedEOF{Offset: r.Offset()}
}

func (r *reader) ReadByte() (byte, error) {
	if r.off >= r.end {
		return 0, r.eof()
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *reader) Read(p []byte) (int, error) {
	if r.off >= r.end && len(p) > 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:r.end])
	r.off += n
	return n, nil
}

// bytes reads the next n bytes, without copying.
func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, r.eof()
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) skip(n int) error {
	if n < 0 || r.Len() < n {
		return r.eof()
	}
	r.off += n
	return nil
}

// split consumes the next n bytes and returns a reader restricted to
// them. The returned reader keeps reporting section relative offsets.
func (r *reader) split(n uint64) (reader, error) {
	if n > uint64(r.Len()) {
		return reader{}, r.eof()
	}
	sub := reader{data: r.data, off: r.off, end: r.off + int(n), order: r.order}
	r.off += int(n)
	return sub, nil
}

func (r *reader) uint8() (uint8, error) {
	return r.ReadByte()
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return r.order.Uint64(b), nil
}

// uint reads an unsigned integer of the given size in bytes.
func (r *reader) uint(size uint8) (uint64, error) {
	switch size {
	case 1:
		n, err := r.uint8()
		return uint64(n), err
	case 2:
		n, err := r.uint16()
		return uint64(n), err
	case 4:
		n, err := r.uint32()
		return uint64(n), err
	case 8:
		return r.uint64()
	}
	return 0, &ErrUnsupportedAddressSize{Size: size}
}

func (r *reader) uleb() (uint64, error) {
	off := r.Offset()
	n, _, err := leb128.DecodeUnsigned(r)
	if err != nil {
		return 0, &ErrUnexpectedEOF{Offset: off}
	}
	return n, nil
}

func (r *reader) sleb() (int64, error) {
	off := r.Offset()
	n, _, err := leb128.DecodeSigned(r)
	if err != nil {
		return 0, &ErrUnexpectedEOF{Offset: off}
	}
	return n, nil
}

// readString reads a NUL terminated string.
func (r *reader) readString() (string, error) {
	for i := r.off; i < r.end; i++ {
		if r.data[i] == 0 {
			s := string(r.data[r.off:i])
			r.off = i + 1
			return s, nil
		}
	}
	return "", r.eof()
}

// initialLength reads a 4 byte length, escaping to a 8 byte one when the
// first word is 0xffffffff as described in DWARF v4 section 7.4.
func (r *reader) initialLength() (uint64, Format, error) {
	n, err := r.uint32()
	if err != nil {
		return 0, Dwarf32, err
	}
	if n != 0xffffffff {
		return uint64(n), Dwarf32, nil
	}
	length, err := r.uint64()
	if err != nil {
		return 0, Dwarf64, err
	}
	return length, Dwarf64, nil
}

// Format is the DWARF format of an entry, which decides the width of
// offsets and lengths after the initial length escape.
type Format uint8

const (
	Dwarf32 Format = 4
	Dwarf64 Format = 8
)

// wordSize returns the size in bytes of offsets in this format.
func (f Format) wordSize() int {
	return int(f)
}

func (f Format) String() string {
	switch f {
	case Dwarf32:
		return "dwarf32"
	case Dwarf64:
		return "dwarf64"
	}
	return "unknown"
}
