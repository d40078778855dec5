// Package frame contains data structures and
// related functions for parsing and searching
// through Dwarf .debug_frame and .eh_frame data.
package frame

import (
	"encoding/binary"
)

// Vendor selects which vendor specific call frame instructions are
// accepted by the decoder.
type Vendor uint8

const (
	VendorDefault Vendor = iota
	VendorAArch64
)

type sectionKind uint8

const (
	debugFrameKind sectionKind = iota
	ehFrameKind
)

// Section is a .debug_frame or .eh_frame section. The two layouts differ
// only in a handful of policies: how the entry series terminates, how a
// CIE is told apart from an FDE, how wide the CIE offset field is and how
// its value resolves to a section offset.
type Section struct {
	kind        sectionKind
	data        []byte
	order       binary.ByteOrder
	addressSize uint8
	vendor      Vendor
}

// NewDebugFrame returns a view of data as a .debug_frame section.
func NewDebugFrame(data []byte, order binary.ByteOrder) *Section {
	return &Section{kind: debugFrameKind, data: data, order: order, addressSize: 8}
}

// NewEhFrame returns a view of data as a .eh_frame section.
func NewEhFrame(data []byte, order binary.ByteOrder) *Section {
	return &Section{kind: ehFrameKind, data: data, order: order, addressSize: 8}
}

// SetAddressSize sets the native address size in bytes for CIEs that do
// not carry one. Defaults to 8.
func (s *Section) SetAddressSize(size uint8) {
	s.addressSize = size
}

// SetVendor enables the vendor specific call frame instructions of v.
func (s *Section) SetVendor(v Vendor) {
	s.vendor = v
}

// IsEhFrame returns true if this section uses the .eh_frame layout.
func (s *Section) IsEhFrame() bool {
	return s.kind == ehFrameKind
}

func (s *Section) lengthIsEnd(length uint64) bool {
	return s.kind == ehFrameKind && length == 0
}

func (s *Section) isCIEID(format Format, id uint64) bool {
	if s.kind == ehFrameKind {
		return id == 0
	}
	if format == Dwarf64 {
		return id == 0xffffffffffffffff
	}
	return id == 0xffffffff
}

func (s *Section) cieOffsetSize(format Format) int {
	if s.kind == ehFrameKind {
		return 4
	}
	return format.wordSize()
}

// resolveCIEOffset converts the raw CIE offset field of an FDE into a
// section offset. In .eh_frame the field holds the distance back from its
// own position, in .debug_frame it holds the offset itself.
func (s *Section) resolveCIEOffset(fieldOffset, value uint64) (uint64, bool) {
	if s.kind == ehFrameKind {
		if value > fieldOffset {
			return 0, false
		}
		return fieldOffset - value, true
	}
	return value, true
}

func (s *Section) hasAddressSizes(version uint8) bool {
	return s.kind == debugFrameKind && version == 4
}

// Entry is one entry of a section: either a CIE or a not yet fully
// parsed FDE.
type Entry struct {
	CIE *CommonInformationEntry
	FDE *PartialFrameDescriptionEntry
}

// EntryIter iterates over all entries of a section in storage order.
type EntryIter struct {
	section *Section
	bases   *BaseAddresses
	r       reader
	done    bool
}

// Entries returns an iterator over the entries of the section. bases is
// used to resolve the pointer encodings found in CIEs.
func (s *Section) Entries(bases *BaseAddresses) *EntryIter {
	return &EntryIter{section: s, bases: bases, r: newReader(s.data, s.order)}
}

// Next returns the next entry of the section. At the end of the entry
// series it returns nil, nil. After an error the iterator is exhausted.
func (it *EntryIter) Next() (*Entry, error) {
	if it.done {
		return nil, nil
	}
	entry, err := it.section.parseEntry(it.bases, &it.r)
	if err != nil {
		it.done = true
		return nil, err
	}
	if entry == nil {
		it.done = true
	}
	return entry, nil
}

type parsefunc func(*parseContext) parsefunc

type parseContext struct {
	section *Section
	bases   *BaseAddresses
	r       *reader

	offset uint64
	length uint64
	format Format
	body   reader
	idBase uint64
	id     uint64

	cie *CommonInformationEntry
	fde *PartialFrameDescriptionEntry
	err error
}

// parseEntry reads one entry at the current position of r. It returns
// nil, nil when r is positioned at the end of the series, either the
// section end or the zero length terminator of .eh_frame.
func (s *Section) parseEntry(bases *BaseAddresses, r *reader) (*Entry, error) {
	if bases == nil {
		bases = &BaseAddresses{}
	}
	pctx := &parseContext{section: s, bases: bases, r: r}

	for fn := parselength; fn != nil; {
		fn = fn(pctx)
	}

	switch {
	case pctx.err != nil:
		return nil, pctx.err
	case pctx.cie != nil:
		return &Entry{CIE: pctx.cie}, nil
	case pctx.fde != nil:
		return &Entry{FDE: pctx.fde}, nil
	}
	return nil, nil
}

func parselength(ctx *parseContext) parsefunc {
	for {
		if ctx.r.Len() == 0 {
			// End of the section, or nothing but padding left.
			return nil
		}
		ctx.offset = ctx.r.Offset()
		length, format, err := ctx.r.initialLength()
		if err != nil {
			ctx.err = err
			return nil
		}
		if ctx.section.lengthIsEnd(length) {
			// ZERO terminator
			return nil
		}
		if length != 0 || format != Dwarf32 {
			ctx.length, ctx.format = length, format
			break
		}
		// Stray zero padding emitted by some linkers, skip it.
	}

	body, err := ctx.r.split(ctx.length)
	if err != nil {
		ctx.err = err
		return nil
	}
	ctx.body = body
	ctx.idBase = ctx.body.Offset()

	idSize := ctx.section.cieOffsetSize(ctx.format)
	var id uint64
	if idSize == 8 {
		id, err = ctx.body.uint64()
	} else {
		var id32 uint32
		id32, err = ctx.body.uint32()
		id = uint64(id32)
	}
	if err != nil {
		ctx.err = err
		return nil
	}
	ctx.id = id

	if ctx.section.isCIEID(ctx.format, id) {
		return parseCIE
	}
	return parseFDE
}

func parseCIE(ctx *parseContext) parsefunc {
	ctx.cie, ctx.err = parseCIEBody(ctx.section, ctx.bases, ctx.offset, ctx.length, ctx.format, &ctx.body)
	return nil
}

func parseFDE(ctx *parseContext) parsefunc {
	cieOffset, ok := ctx.section.resolveCIEOffset(ctx.idBase, ctx.id)
	if !ok {
		ctx.err = ErrOffsetOutOfBounds
		return nil
	}
	ctx.fde = &PartialFrameDescriptionEntry{
		Offset:    ctx.offset,
		Length:    ctx.length,
		Format:    ctx.format,
		CIEOffset: cieOffset,
		rest:      ctx.body,
		section:   ctx.section,
		bases:     ctx.bases,
	}
	return nil
}

func parseCIEBody(section *Section, bases *BaseAddresses, offset, length uint64, format Format, body *reader) (*CommonInformationEntry, error) {
	cie := &CommonInformationEntry{
		Offset:      offset,
		Length:      length,
		Format:      format,
		AddressSize: section.addressSize,
	}

	version, err := body.uint8()
	if err != nil {
		return nil, err
	}
	switch version {
	case 1, 3, 4:
		cie.Version = version
	default:
		return nil, &ErrUnknownVersion{Version: version}
	}

	cie.Augmentation, err = body.readString()
	if err != nil {
		return nil, err
	}

	if section.hasAddressSizes(version) {
		cie.AddressSize, err = body.uint8()
		if err != nil {
			return nil, err
		}
		cie.SegmentSize, err = body.uint8()
		if err != nil {
			return nil, err
		}
	}

	cie.CodeAlignmentFactor, err = body.uleb()
	if err != nil {
		return nil, err
	}
	cie.DataAlignmentFactor, err = body.sleb()
	if err != nil {
		return nil, err
	}

	if version == 1 {
		reg, err := body.uint8()
		if err != nil {
			return nil, err
		}
		cie.ReturnAddressRegister = uint64(reg)
	} else {
		cie.ReturnAddressRegister, err = body.uleb()
		if err != nil {
			return nil, err
		}
	}

	if cie.Augmentation != "" {
		cie.aug, err = parseAugmentation(cie.Augmentation, body, bases, cie.AddressSize)
		if err != nil {
			return nil, err
		}
	}

	cie.initialInstructionsOffset = body.Offset()
	cie.InitialInstructions, err = body.bytes(body.Len())
	if err != nil {
		return nil, err
	}
	return cie, nil
}

func parseFDERest(pfde *PartialFrameDescriptionEntry, getCIE func(uint64) (*CommonInformationEntry, error)) (*FrameDescriptionEntry, error) {
	cie, err := getCIE(pfde.CIEOffset)
	if err != nil {
		return nil, err
	}

	rest := pfde.rest
	fde := &FrameDescriptionEntry{
		Offset: pfde.Offset,
		Length: pfde.Length,
		Format: pfde.Format,
		CIE:    cie,
	}

	if cie.SegmentSize > 0 {
		fde.InitialSegment, err = rest.uint(cie.SegmentSize)
		if err != nil {
			return nil, err
		}
	}

	fde.begin, fde.size, err = parseFDEAddresses(&rest, cie, pfde.bases)
	if err != nil {
		return nil, err
	}

	if cie.aug != nil {
		augLen, err := rest.uleb()
		if err != nil {
			return nil, err
		}
		augData, err := rest.split(augLen)
		if err != nil {
			return nil, err
		}
		if enc, ok := cie.aug.LSDAEncoding(); ok {
			funcBase := fde.begin
			params := pointerParams{
				bases:       pfde.bases.EhFrame,
				funcBase:    &funcBase,
				addressSize: cie.AddressSize,
			}
			lsda, err := resolvePointer(enc, params, &augData)
			if err != nil {
				return nil, err
			}
			fde.lsda = &lsda
		}
	}

	fde.instructionsOffset = rest.Offset()
	fde.Instructions, err = rest.bytes(rest.Len())
	if err != nil {
		return nil, err
	}
	return fde, nil
}

func parseFDEAddresses(rest *reader, cie *CommonInformationEntry, bases *BaseAddresses) (uint64, uint64, error) {
	if cie.aug != nil {
		if enc, ok := cie.aug.FDEPointerEncoding(); ok {
			params := pointerParams{bases: bases.EhFrame, addressSize: cie.AddressSize}
			initial, err := resolvePointer(enc, params, rest)
			if err != nil {
				return 0, 0, err
			}
			// The range is an offset, only the value format of the
			// encoding applies to it.
			rng, err := resolvePointer(enc.Format(), params, rest)
			if err != nil {
				return 0, 0, err
			}
			return initial.Address, rng.Address, nil
		}
	}
	initial, err := rest.uint(cie.AddressSize)
	if err != nil {
		return 0, 0, err
	}
	rng, err := rest.uint(cie.AddressSize)
	if err != nil {
		return 0, 0, err
	}
	return initial, rng, nil
}

// EntryFromOffset parses the entry starting at the given section offset.
func (s *Section) EntryFromOffset(bases *BaseAddresses, offset uint64) (*Entry, error) {
	r, err := newReader(s.data, s.order).newReaderAt(offset)
	if err != nil {
		return nil, err
	}
	entry, err := s.parseEntry(bases, &r)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNoEntryAtOffset
	}
	return entry, nil
}

// CIEFromOffset parses the CIE starting at the given section offset.
func (s *Section) CIEFromOffset(bases *BaseAddresses, offset uint64) (*CommonInformationEntry, error) {
	entry, err := s.EntryFromOffset(bases, offset)
	if err != nil {
		return nil, err
	}
	if entry.CIE == nil {
		return nil, ErrNotCIE
	}
	return entry.CIE, nil
}

// FDEFromOffset parses the FDE starting at the given section offset,
// resolving its CIE through getCIE.
func (s *Section) FDEFromOffset(bases *BaseAddresses, offset uint64, getCIE func(uint64) (*CommonInformationEntry, error)) (*FrameDescriptionEntry, error) {
	entry, err := s.EntryFromOffset(bases, offset)
	if err != nil {
		return nil, err
	}
	if entry.FDE == nil {
		return nil, ErrNotFDE
	}
	return entry.FDE.Parse(getCIE)
}

// FDEForAddress scans the section for the FDE covering address. This is
// a linear scan, use an EhFrameHdr table when one is available.
func (s *Section) FDEForAddress(bases *BaseAddresses, address uint64, getCIE func(uint64) (*CommonInformationEntry, error)) (*FrameDescriptionEntry, error) {
	it := s.Entries(bases)
	for {
		entry, err := it.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, ErrNoUnwindInfoForAddress
		}
		if entry.FDE == nil {
			continue
		}
		fde, err := entry.FDE.Parse(getCIE)
		if err != nil {
			return nil, err
		}
		if fde.Cover(address) {
			return fde, nil
		}
	}
}

// ParseDebugFrame takes in data (a byte slice of a .debug_frame section)
// and returns FrameDescriptionEntries, which is a slice of
// FrameDescriptionEntry. Each FrameDescriptionEntry has a pointer to
// CommonInformationEntry.
func ParseDebugFrame(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int) (FrameDescriptionEntries, error) {
	sec := NewDebugFrame(data, order)
	sec.SetAddressSize(uint8(ptrSize))
	return parseSection(sec, &BaseAddresses{}, staticBase)
}

// ParseEhFrame is like ParseDebugFrame for a .eh_frame section loaded
// (or linked to be loaded) at sectionAddr.
func ParseEhFrame(data []byte, order binary.ByteOrder, sectionAddr uint64, staticBase uint64, ptrSize int) (FrameDescriptionEntries, error) {
	sec := NewEhFrame(data, order)
	sec.SetAddressSize(uint8(ptrSize))
	bases := BaseAddresses{}.SetEhFrame(sectionAddr)
	return parseSection(sec, &bases, staticBase)
}

func parseSection(sec *Section, bases *BaseAddresses, staticBase uint64) (FrameDescriptionEntries, error) {
	entries := newFrameIndex()
	cies := map[uint64]*CommonInformationEntry{}
	getCIE := func(off uint64) (*CommonInformationEntry, error) {
		if cie := cies[off]; cie != nil {
			return cie, nil
		}
		cie, err := sec.CIEFromOffset(bases, off)
		if err != nil {
			return nil, err
		}
		cies[off] = cie
		return cie, nil
	}

	it := sec.Entries(bases)
	for {
		entry, err := it.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		switch {
		case entry.CIE != nil:
			cies[entry.CIE.Offset] = entry.CIE
		case entry.FDE != nil:
			fde, err := entry.FDE.Parse(getCIE)
			if err != nil {
				return nil, err
			}
			fde.Translate(staticBase)
			entries = append(entries, fde)
		}
	}

	return entries.Append(nil), nil
}

// DwarfEndian determines the endianness of the DWARF by using the version number field in the debug_info section
// Trick borrowed from "debug/dwarf".New()
func DwarfEndian(infoSec []byte) binary.ByteOrder {
	if len(infoSec) < 6 {
		return binary.BigEndian
	}
	x, y := infoSec[4], infoSec[5]
	switch {
	case x == 0 && y == 0:
		return binary.BigEndian
	case x == 0:
		return binary.BigEndian
	case y == 0:
		return binary.LittleEndian
	default:
		return binary.BigEndian
	}
}
