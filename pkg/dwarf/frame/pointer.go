package frame

import "strings"

// PtrEnc is a DW_EH_PE pointer encoding as used by .eh_frame and
// .eh_frame_hdr. The low nibble selects the value format, bits 4-6 the
// base the value is applied to, bit 7 marks the pointer as indirect.
type PtrEnc uint8

const (
	PtrEncAbs    PtrEnc = 0x00
	PtrEncOmit   PtrEnc = 0xff
	PtrEncUleb   PtrEnc = 0x01
	PtrEncUdata2 PtrEnc = 0x02
	PtrEncUdata4 PtrEnc = 0x03
	PtrEncUdata8 PtrEnc = 0x04
	PtrEncSigned PtrEnc = 0x08
	PtrEncSleb   PtrEnc = 0x09
	PtrEncSdata2 PtrEnc = 0x0a
	PtrEncSdata4 PtrEnc = 0x0b
	PtrEncSdata8 PtrEnc = 0x0c

	PtrEncPCRel   PtrEnc = 0x10
	PtrEncTextRel PtrEnc = 0x20
	PtrEncDataRel PtrEnc = 0x30
	PtrEncFuncRel PtrEnc = 0x40
	PtrEncAligned PtrEnc = 0x50

	PtrEncIndirect PtrEnc = 0x80
)

// Format returns the value format half of the encoding.
func (e PtrEnc) Format() PtrEnc {
	return e & 0x0f
}

// Application returns the base application half of the encoding.
func (e PtrEnc) Application() PtrEnc {
	return e & 0x70
}

// IsIndirect returns true if the decoded value is the address of the
// pointer rather than the pointer itself.
func (e PtrEnc) IsIndirect() bool {
	return e&PtrEncIndirect != 0
}

// Valid returns true if e names a known format and application pair.
// The omit encoding is valid, even though no pointer can be read with it.
func (e PtrEnc) Valid() bool {
	if e == PtrEncOmit {
		return true
	}
	switch e.Format() {
	case PtrEncAbs, PtrEncUleb, PtrEncUdata2, PtrEncUdata4, PtrEncUdata8,
		PtrEncSleb, PtrEncSdata2, PtrEncSdata4, PtrEncSdata8:
	default:
		return false
	}
	switch e.Application() {
	case PtrEncAbs, PtrEncPCRel, PtrEncTextRel, PtrEncDataRel, PtrEncFuncRel, PtrEncAligned:
	default:
		return false
	}
	return true
}

var ptrEncFormatNames = map[PtrEnc]string{
	PtrEncAbs:    "DW_EH_PE_absptr",
	PtrEncUleb:   "DW_EH_PE_uleb128",
	PtrEncUdata2: "DW_EH_PE_udata2",
	PtrEncUdata4: "DW_EH_PE_udata4",
	PtrEncUdata8: "DW_EH_PE_udata8",
	PtrEncSleb:   "DW_EH_PE_sleb128",
	PtrEncSdata2: "DW_EH_PE_sdata2",
	PtrEncSdata4: "DW_EH_PE_sdata4",
	PtrEncSdata8: "DW_EH_PE_sdata8",
}

var ptrEncApplicationNames = map[PtrEnc]string{
	PtrEncPCRel:   "DW_EH_PE_pcrel",
	PtrEncTextRel: "DW_EH_PE_textrel",
	PtrEncDataRel: "DW_EH_PE_datarel",
	PtrEncFuncRel: "DW_EH_PE_funcrel",
	PtrEncAligned: "DW_EH_PE_aligned",
}

func (e PtrEnc) String() string {
	if e == PtrEncOmit {
		return "DW_EH_PE_omit"
	}
	parts := make([]string, 0, 3)
	if name, ok := ptrEncFormatNames[e.Format()]; ok {
		parts = append(parts, name)
	} else {
		parts = append(parts, "invalid")
	}
	if name, ok := ptrEncApplicationNames[e.Application()]; ok {
		parts = append(parts, name)
	}
	if e.IsIndirect() {
		parts = append(parts, "DW_EH_PE_indirect")
	}
	return strings.Join(parts, "|")
}

// Pointer is a decoded pointer value. When Indirect is set Address is
// where the final pointer is stored in the program's memory, which this
// package cannot dereference.
type Pointer struct {
	Address  uint64
	Indirect bool
}

// Direct returns the pointer value, failing for indirect pointers.
func (p Pointer) Direct() (uint64, error) {
	if p.Indirect {
		return 0, ErrUnsupportedPointerEncoding
	}
	return p.Address, nil
}

func makePointer(enc PtrEnc, address uint64) Pointer {
	return Pointer{Address: address, Indirect: enc.IsIndirect()}
}

// SectionBaseAddresses holds the base addresses used to resolve relative
// pointer encodings found in one section. A nil entry means the base is
// not known, resolving a pointer that needs it fails.
type SectionBaseAddresses struct {
	Section *uint64
	Text    *uint64
	Data    *uint64
}

// BaseAddresses holds the section base addresses for the sections pointer
// values can be relative to.
type BaseAddresses struct {
	EhFrameHdr SectionBaseAddresses
	EhFrame    SectionBaseAddresses
}

// SetEhFrameHdr sets the address .eh_frame_hdr is loaded at. Data
// relative encodings inside .eh_frame_hdr are relative to its own start.
func (b BaseAddresses) SetEhFrameHdr(addr uint64) BaseAddresses {
	b.EhFrameHdr.Section = &addr
	b.EhFrameHdr.Data = &addr
	return b
}

// SetEhFrame sets the address .eh_frame is loaded at.
func (b BaseAddresses) SetEhFrame(addr uint64) BaseAddresses {
	b.EhFrame.Section = &addr
	return b
}

// SetText sets the address of the text segment.
func (b BaseAddresses) SetText(addr uint64) BaseAddresses {
	b.EhFrameHdr.Text = &addr
	b.EhFrame.Text = &addr
	return b
}

// SetGot sets the address of the global offset table, the base data
// relative encodings in .eh_frame are resolved against.
func (b BaseAddresses) SetGot(addr uint64) BaseAddresses {
	b.EhFrame.Data = &addr
	return b
}

// pointerParams carries everything needed to resolve one encoded pointer.
type pointerParams struct {
	bases       SectionBaseAddresses
	funcBase    *uint64
	addressSize uint8
}

func resolvePointer(enc PtrEnc, params pointerParams, r *reader) (Pointer, error) {
	if !enc.Valid() {
		return Pointer{}, &ErrUnknownPointerEncoding{Encoding: enc}
	}
	if enc == PtrEncOmit {
		return Pointer{}, ErrOmitPointerEncoding
	}

	var base uint64
	switch enc.Application() {
	case PtrEncAbs:
		base = 0
	case PtrEncPCRel:
		if params.bases.Section == nil {
			return Pointer{}, ErrSectionBaseUndefined
		}
		// The base is the position of the encoded value itself.
		base = *params.bases.Section + r.Offset()
	case PtrEncTextRel:
		if params.bases.Text == nil {
			return Pointer{}, ErrTextBaseUndefined
		}
		base = *params.bases.Text
	case PtrEncDataRel:
		if params.bases.Data == nil {
			return Pointer{}, ErrDataBaseUndefined
		}
		base = *params.bases.Data
	case PtrEncFuncRel:
		if params.funcBase == nil {
			return Pointer{}, ErrFuncBaseUndefined
		}
		base = *params.funcBase
	case PtrEncAligned:
		return Pointer{}, ErrUnsupportedPointerEncoding
	}

	var offset uint64
	var err error
	switch enc.Format() {
	case PtrEncAbs:
		offset, err = r.uint(params.addressSize)
	case PtrEncUleb:
		offset, err = r.uleb()
	case PtrEncUdata2:
		var n uint16
		n, err = r.uint16()
		offset = uint64(n)
	case PtrEncUdata4:
		var n uint32
		n, err = r.uint32()
		offset = uint64(n)
	case PtrEncUdata8:
		offset, err = r.uint64()
	case PtrEncSleb:
		var n int64
		n, err = r.sleb()
		offset = uint64(n)
	case PtrEncSdata2:
		var n uint16
		n, err = r.uint16()
		offset = uint64(int64(int16(n)))
	case PtrEncSdata4:
		var n uint32
		n, err = r.uint32()
		offset = uint64(int64(int32(n)))
	case PtrEncSdata8:
		offset, err = r.uint64()
	}
	if err != nil {
		return Pointer{}, err
	}

	return makePointer(enc, base+offset), nil
}
