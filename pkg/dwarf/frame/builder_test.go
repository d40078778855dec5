package frame

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/go-unwind/unwind/pkg/dwarf/leb128"
	"github.com/go-unwind/unwind/pkg/dwarf/util"
)

// sectionBuilder assembles synthetic .debug_frame, .eh_frame and
// .eh_frame_hdr images for tests.
type sectionBuilder struct {
	buf   bytes.Buffer
	order binary.ByteOrder
}

func newSectionBuilder(order binary.ByteOrder) *sectionBuilder {
	return &sectionBuilder{order: order}
}

func (b *sectionBuilder) u8(v uint8) { b.buf.WriteByte(v) }

func (b *sectionBuilder) u16(v uint16) { util.WriteUint(&b.buf, b.order, 2, uint64(v)) }

func (b *sectionBuilder) u32(v uint32) { util.WriteUint(&b.buf, b.order, 4, uint64(v)) }

func (b *sectionBuilder) u64(v uint64) { util.WriteUint(&b.buf, b.order, 8, v) }

func (b *sectionBuilder) uint(size int, v uint64) { util.WriteUint(&b.buf, b.order, size, v) }

func (b *sectionBuilder) uleb(v uint64) { leb128.EncodeUnsigned(&b.buf, v) }

func (b *sectionBuilder) sleb(v int64) { leb128.EncodeSigned(&b.buf, v) }

func (b *sectionBuilder) str(s string) {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
}

func (b *sectionBuilder) raw(p []byte) { b.buf.Write(p) }

func (b *sectionBuilder) data() []byte { return b.buf.Bytes() }

func (b *sectionBuilder) offset() uint64 { return uint64(b.buf.Len()) }

// entry32 appends a 32-bit format entry: a 4 byte length followed by the
// payload (CIE id or CIE pointer included).
func (b *sectionBuilder) entry32(payload []byte) {
	b.u32(uint32(len(payload)))
	b.raw(payload)
}

// entry64 appends a 64-bit format entry using the 0xffffffff escape.
func (b *sectionBuilder) entry64(payload []byte) {
	b.u32(0xffffffff)
	b.u64(uint64(len(payload)))
	b.raw(payload)
}

// cieDebugFrame appends a 32-bit format .debug_frame CIE and returns its
// section offset. Version 4 entries get an 8 byte address size and no
// segment selector.
func (b *sectionBuilder) cieDebugFrame(version uint8, codeAlign uint64, dataAlign int64, retAddrReg uint64, instructions []byte) uint64 {
	off := b.offset()
	p := newSectionBuilder(b.order)
	p.u32(0xffffffff) // CIE id
	p.u8(version)
	p.str("") // augmentation
	if version == 4 {
		p.u8(8) // address size
		p.u8(0) // segment selector size
	}
	p.uleb(codeAlign)
	p.sleb(dataAlign)
	if version == 1 {
		p.u8(uint8(retAddrReg))
	} else {
		p.uleb(retAddrReg)
	}
	p.raw(instructions)
	b.entry32(p.data())
	return off
}

// fdeDebugFrame appends a 32-bit format .debug_frame FDE covering
// [begin, begin+size) with 8 byte addresses.
func (b *sectionBuilder) fdeDebugFrame(cieOff uint64, begin, size uint64, instructions []byte) uint64 {
	off := b.offset()
	p := newSectionBuilder(b.order)
	p.u32(uint32(cieOff))
	p.u64(begin)
	p.u64(size)
	p.raw(instructions)
	b.entry32(p.data())
	return off
}

// cieEhFrame appends a 32-bit format .eh_frame CIE. augData is the raw
// content of the augmentation data block, written only for 'z'
// augmentations.
func (b *sectionBuilder) cieEhFrame(version uint8, augmentation string, augData []byte, codeAlign uint64, dataAlign int64, retAddrReg uint64, instructions []byte) uint64 {
	off := b.offset()
	p := newSectionBuilder(b.order)
	p.u32(0) // CIE id
	p.u8(version)
	p.str(augmentation)
	p.uleb(codeAlign)
	p.sleb(dataAlign)
	if version == 1 {
		p.u8(uint8(retAddrReg))
	} else {
		p.uleb(retAddrReg)
	}
	if strings.HasPrefix(augmentation, "z") {
		p.uleb(uint64(len(augData)))
		p.raw(augData)
	}
	p.raw(instructions)
	b.entry32(p.data())
	return off
}

// fdeEhFrame appends a 32-bit format .eh_frame FDE. body holds
// everything after the CIE pointer: addresses, augmentation data block
// and instructions.
func (b *sectionBuilder) fdeEhFrame(cieOff uint64, body []byte) uint64 {
	off := b.offset()
	p := newSectionBuilder(b.order)
	p.u32(uint32(off + 4 - cieOff)) // distance from this field back to the CIE
	p.raw(body)
	b.entry32(p.data())
	return off
}

// terminator appends the zero terminator ending an .eh_frame section.
func (b *sectionBuilder) terminator() {
	b.u32(0)
}
