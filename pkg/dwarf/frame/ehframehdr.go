package frame

import (
	"encoding/binary"
)

// EhFrameHdr is a parsed .eh_frame_hdr section: the address of the
// .eh_frame section plus, usually, a binary search table over its FDEs.
type EhFrameHdr struct {
	addressSize uint8

	ehFramePtr Pointer
	fdeCount   uint64
	tableEnc   PtrEnc
	table      reader
}

// ParseEhFrameHdr parses the contents of a .eh_frame_hdr section. bases
// is used to resolve the pointer encodings, addressSize is the size in
// bytes of a native address.
func ParseEhFrameHdr(data []byte, order binary.ByteOrder, addressSize uint8, bases *BaseAddresses) (*EhFrameHdr, error) {
	if bases == nil {
		bases = &BaseAddresses{}
	}
	r := newReader(data, order)

	version, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, &ErrUnknownVersion{Version: version}
	}

	ehFramePtrEnc, err := parsePointerEncoding(&r)
	if err != nil {
		return nil, err
	}
	fdeCountEnc, err := parsePointerEncoding(&r)
	if err != nil {
		return nil, err
	}
	tableEnc, err := parsePointerEncoding(&r)
	if err != nil {
		return nil, err
	}

	params := pointerParams{bases: bases.EhFrameHdr, addressSize: addressSize}

	// The section is useless without the .eh_frame address.
	if ehFramePtrEnc == PtrEncOmit {
		return nil, ErrOmitPointerEncoding
	}
	ehFramePtr, err := resolvePointer(ehFramePtrEnc, params, &r)
	if err != nil {
		return nil, err
	}

	var fdeCount uint64
	if fdeCountEnc != PtrEncOmit && tableEnc != PtrEncOmit {
		cnt, err := resolvePointer(fdeCountEnc, params, &r)
		if err != nil {
			return nil, err
		}
		fdeCount, err = cnt.Direct()
		if err != nil {
			return nil, err
		}
	}

	return &EhFrameHdr{
		addressSize: addressSize,
		ehFramePtr:  ehFramePtr,
		fdeCount:    fdeCount,
		tableEnc:    tableEnc,
		table:       r,
	}, nil
}

// EhFramePtr returns the address of the .eh_frame section.
func (hdr *EhFrameHdr) EhFramePtr() Pointer {
	return hdr.ehFramePtr
}

// FDECount returns the number of rows of the search table.
func (hdr *EhFrameHdr) FDECount() uint64 {
	return hdr.fdeCount
}

// TableEncoding returns the pointer encoding of the search table rows.
func (hdr *EhFrameHdr) TableEncoding() PtrEnc {
	return hdr.tableEnc
}

// Table returns the binary search table of the header, nil when the
// header does not carry one. An empty table is no table at all: there
// would be no row for a search to return.
func (hdr *EhFrameHdr) Table() *EhHdrTable {
	if hdr.fdeCount == 0 {
		return nil
	}
	return &EhHdrTable{hdr: hdr}
}

// EhHdrTable is the binary search table of a .eh_frame_hdr section. Each
// row maps the first address covered by an FDE to the location of that
// FDE inside .eh_frame.
type EhHdrTable struct {
	hdr *EhFrameHdr
}

// EhHdrTableEntry is one row of the search table.
type EhHdrTableEntry struct {
	Location Pointer
	FDE      Pointer
}

// EhHdrTableIter iterates over the rows of the search table in storage
// order.
type EhHdrTableIter struct {
	hdr    *EhFrameHdr
	bases  *BaseAddresses
	r      reader
	remain uint64
}

// Rows returns an iterator over the rows of the table.
func (t *EhHdrTable) Rows(bases *BaseAddresses) *EhHdrTableIter {
	if bases == nil {
		bases = &BaseAddresses{}
	}
	return &EhHdrTableIter{hdr: t.hdr, bases: bases, r: t.hdr.table, remain: t.hdr.fdeCount}
}

// Next returns the next row of the table, nil at the end. After an error
// the iterator is exhausted.
func (it *EhHdrTableIter) Next() (*EhHdrTableEntry, error) {
	if it.remain == 0 {
		return nil, nil
	}
	it.remain--

	params := pointerParams{bases: it.bases.EhFrameHdr, addressSize: it.hdr.addressSize}
	from, err := resolvePointer(it.hdr.tableEnc, params, &it.r)
	if err != nil {
		it.remain = 0
		return nil, err
	}
	to, err := resolvePointer(it.hdr.tableEnc, params, &it.r)
	if err != nil {
		it.remain = 0
		return nil, err
	}
	return &EhHdrTableEntry{Location: from, FDE: to}, nil
}

// rowValueSize returns the size in bytes of one encoded value of a table
// row. Binary search needs a constant row width, the variable length
// encodings cannot be searched.
func (t *EhHdrTable) rowValueSize() (uint64, error) {
	switch t.hdr.tableEnc.Format() {
	case PtrEncUleb, PtrEncSleb:
		return 0, ErrVariableLengthSearchTable
	case PtrEncUdata2, PtrEncSdata2:
		return 2, nil
	case PtrEncUdata4, PtrEncSdata4:
		return 4, nil
	case PtrEncUdata8, PtrEncSdata8:
		return 8, nil
	}
	return 0, &ErrUnknownPointerEncoding{Encoding: t.hdr.tableEnc}
}

// Lookup returns the FDE pointer of the row whose initial location is
// nearest to address without exceeding it. For an address below every
// row it still returns the first row: the caller must check that the FDE
// it finds actually covers the address.
func (t *EhHdrTable) Lookup(address uint64, bases *BaseAddresses) (Pointer, error) {
	if bases == nil {
		bases = &BaseAddresses{}
	}
	size, err := t.rowValueSize()
	if err != nil {
		return Pointer{}, err
	}
	rowSize := size * 2

	params := pointerParams{bases: bases.EhFrameHdr, addressSize: t.hdr.addressSize}

	r := t.hdr.table
	length := t.hdr.fdeCount

search:
	for length > 1 {
		head, err := r.split((length / 2) * rowSize)
		if err != nil {
			return Pointer{}, err
		}
		tail := r

		pivotPtr, err := resolvePointer(t.hdr.tableEnc, params, &r)
		if err != nil {
			return Pointer{}, err
		}
		pivot, err := pivotPtr.Direct()
		if err != nil {
			return Pointer{}, err
		}

		switch {
		case pivot == address:
			r = tail
			break search
		case pivot < address:
			r = tail
			length = length - length/2
		default:
			r = head
			length = length / 2
		}
	}

	if err := r.skip(int(size)); err != nil {
		return Pointer{}, err
	}
	return resolvePointer(t.hdr.tableEnc, params, &r)
}

// PointerToOffset converts an FDE pointer from the search table into an
// offset inside the .eh_frame section.
func (t *EhHdrTable) PointerToOffset(ptr Pointer) (uint64, error) {
	p, err := ptr.Direct()
	if err != nil {
		return 0, err
	}
	base, err := t.hdr.ehFramePtr.Direct()
	if err != nil {
		return 0, err
	}
	if p < base {
		return 0, ErrOffsetOutOfBounds
	}
	return p - base, nil
}

// FDEForAddress looks up address in the table and parses the FDE it
// finds, resolving its CIE through getCIE. section must be the .eh_frame
// section the header describes.
func (t *EhHdrTable) FDEForAddress(section *Section, bases *BaseAddresses, address uint64, getCIE func(uint64) (*CommonInformationEntry, error)) (*FrameDescriptionEntry, error) {
	ptr, err := t.Lookup(address, bases)
	if err != nil {
		return nil, err
	}
	offset, err := t.PointerToOffset(ptr)
	if err != nil {
		return nil, err
	}
	fde, err := section.FDEFromOffset(bases, offset, getCIE)
	if err != nil {
		return nil, err
	}
	if !fde.Cover(address) {
		return nil, ErrNoUnwindInfoForAddress
	}
	return fde, nil
}

// UnwindInfoForAddress looks up address in the table and evaluates the
// instruction program of the FDE it finds until the row covering address
// is produced. The returned row is shared with ctx, it is only valid
// until ctx is used again.
func (t *EhHdrTable) UnwindInfoForAddress(section *Section, bases *BaseAddresses, ctx *UnwindContext, address uint64, getCIE func(uint64) (*CommonInformationEntry, error)) (*UnwindTableRow, error) {
	fde, err := t.FDEForAddress(section, bases, address, getCIE)
	if err != nil {
		return nil, err
	}
	return fde.UnwindInfoForAddress(section, bases, ctx, address)
}
