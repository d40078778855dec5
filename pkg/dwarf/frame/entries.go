package frame

import (
	"fmt"
	"sort"
)

// CommonInformationEntry represents a CIE. Fields shared by every FDE
// that refers back to it.
type CommonInformationEntry struct {
	Offset                uint64
	Length                uint64
	Format                Format
	Version               uint8
	Augmentation          string
	AddressSize           uint8
	SegmentSize           uint8
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	InitialInstructions   []byte

	aug                       *Augmentation
	initialInstructionsOffset uint64
}

// AugmentationData returns the parsed augmentation of a .eh_frame CIE,
// nil when the CIE has no augmentation string.
func (cie *CommonInformationEntry) AugmentationData() *Augmentation {
	return cie.aug
}

// Augmentation is the parsed form of a CIE augmentation string and its
// augmentation data.
type Augmentation struct {
	lsdaEnc          *PtrEnc
	personalityEnc   PtrEnc
	personality      *Pointer
	fdeEnc           *PtrEnc
	signalTrampoline bool
}

// LSDAEncoding returns the encoding of LSDA pointers in the FDEs of this
// CIE, if the augmentation declares one.
func (a *Augmentation) LSDAEncoding() (PtrEnc, bool) {
	if a.lsdaEnc == nil {
		return 0, false
	}
	return *a.lsdaEnc, true
}

// Personality returns the encoding and address of the personality
// routine, if the augmentation declares one.
func (a *Augmentation) Personality() (PtrEnc, Pointer, bool) {
	if a.personality == nil {
		return 0, Pointer{}, false
	}
	return a.personalityEnc, *a.personality, true
}

// FDEPointerEncoding returns the encoding of the initial address and
// address range of the FDEs of this CIE, if the augmentation declares
// one.
func (a *Augmentation) FDEPointerEncoding() (PtrEnc, bool) {
	if a.fdeEnc == nil {
		return 0, false
	}
	return *a.fdeEnc, true
}

// IsSignalTrampoline returns true if functions of this CIE are signal
// handler trampolines.
func (a *Augmentation) IsSignalTrampoline() bool {
	return a.signalTrampoline
}

func (a *Augmentation) String() string {
	s := ""
	if enc, ok := a.LSDAEncoding(); ok {
		s += fmt.Sprintf(" lsda=%s", enc)
	}
	if enc, ptr, ok := a.Personality(); ok {
		s += fmt.Sprintf(" personality=%#x(%s)", ptr.Address, enc)
	}
	if enc, ok := a.FDEPointerEncoding(); ok {
		s += fmt.Sprintf(" fde=%s", enc)
	}
	if a.IsSignalTrampoline() {
		s += " signal-trampoline"
	}
	if s == "" {
		return "none"
	}
	return s[1:]
}

// parseAugmentation parses the augmentation string of a CIE together
// with its augmentation data block. r is positioned right after the
// return address register field.
func parseAugmentation(augStr string, r *reader, bases *BaseAddresses, addressSize uint8) (*Augmentation, error) {
	aug := new(Augmentation)
	var data reader
	haveData := false
	parsedFirst := false

	for _, ch := range augStr {
		switch ch {
		case 'z':
			if parsedFirst {
				return nil, &ErrUnknownAugmentation{Augmentation: augStr}
			}
			dataLen, err := r.uleb()
			if err != nil {
				return nil, err
			}
			data, err = r.split(dataLen)
			if err != nil {
				return nil, err
			}
			haveData = true

		case 'L':
			if !haveData {
				return nil, &ErrUnknownAugmentation{Augmentation: augStr}
			}
			enc, err := parsePointerEncoding(&data)
			if err != nil {
				return nil, err
			}
			aug.lsdaEnc = &enc

		case 'P':
			if !haveData {
				return nil, &ErrUnknownAugmentation{Augmentation: augStr}
			}
			enc, err := parsePointerEncoding(&data)
			if err != nil {
				return nil, err
			}
			params := pointerParams{bases: bases.EhFrame, addressSize: addressSize}
			personality, err := resolvePointer(enc, params, &data)
			if err != nil {
				return nil, err
			}
			aug.personalityEnc = enc
			aug.personality = &personality

		case 'R':
			if !haveData {
				return nil, &ErrUnknownAugmentation{Augmentation: augStr}
			}
			enc, err := parsePointerEncoding(&data)
			if err != nil {
				return nil, err
			}
			aug.fdeEnc = &enc

		case 'S':
			aug.signalTrampoline = true

		default:
			return nil, &ErrUnknownAugmentation{Augmentation: augStr}
		}
		parsedFirst = true
	}

	return aug, nil
}

func parsePointerEncoding(r *reader) (PtrEnc, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	enc := PtrEnc(b)
	if !enc.Valid() {
		return 0, &ErrUnknownPointerEncoding{Encoding: enc}
	}
	return enc, nil
}

// FrameDescriptionEntry represents a Frame Descriptor Entry in the
// Dwarf .debug_frame or .eh_frame section.
type FrameDescriptionEntry struct {
	Offset         uint64
	Length         uint64
	Format         Format
	CIE            *CommonInformationEntry
	InitialSegment uint64
	Instructions   []byte

	begin, size        uint64
	lsda               *Pointer
	instructionsOffset uint64
}

// Cover returns whether the given address is within the range of this
// frame.
func (fde *FrameDescriptionEntry) Cover(addr uint64) bool {
	return (addr - fde.begin) < fde.size
}

// Begin returns address of first location for this frame.
func (fde *FrameDescriptionEntry) Begin() uint64 {
	return fde.begin
}

// End returns address of last location for this frame.
func (fde *FrameDescriptionEntry) End() uint64 {
	return fde.begin + fde.size
}

// Translate moves the beginning of fde forward by delta.
func (fde *FrameDescriptionEntry) Translate(delta uint64) {
	fde.begin += delta
}

// LSDA returns the pointer to the language specific data area of this
// frame, if its CIE declared one.
func (fde *FrameDescriptionEntry) LSDA() (Pointer, bool) {
	if fde.lsda == nil {
		return Pointer{}, false
	}
	return *fde.lsda, true
}

// IsSignalTrampoline returns true if the function of this frame is a
// signal handler trampoline.
func (fde *FrameDescriptionEntry) IsSignalTrampoline() bool {
	return fde.CIE != nil && fde.CIE.aug != nil && fde.CIE.aug.signalTrampoline
}

// Personality returns the encoding and address of the personality
// routine of this frame, if its CIE declared one.
func (fde *FrameDescriptionEntry) Personality() (PtrEnc, Pointer, bool) {
	if fde.CIE == nil || fde.CIE.aug == nil {
		return 0, Pointer{}, false
	}
	return fde.CIE.aug.Personality()
}

// PartialFrameDescriptionEntry is an FDE for which only the header has
// been read. The CIE offset is already resolved to a section offset.
// Parse completes it.
type PartialFrameDescriptionEntry struct {
	Offset    uint64
	Length    uint64
	Format    Format
	CIEOffset uint64

	rest    reader
	section *Section
	bases   *BaseAddresses
}

// Parse finishes parsing the FDE body. getCIE is called with the section
// offset of the owning CIE and usually wraps Section.CIEFromOffset with a
// cache.
func (pfde *PartialFrameDescriptionEntry) Parse(getCIE func(uint64) (*CommonInformationEntry, error)) (*FrameDescriptionEntry, error) {
	return parseFDERest(pfde, getCIE)
}

// FrameDescriptionEntries is a sorted slice of parsed FDEs.
type FrameDescriptionEntries []*FrameDescriptionEntry

func newFrameIndex() FrameDescriptionEntries {
	return make(FrameDescriptionEntries, 0, 1000)
}

// FDEForPC returns the Frame Descriptor Entry that includes the given
// PC.
func (fdes FrameDescriptionEntries) FDEForPC(pc uint64) (*FrameDescriptionEntry, error) {
	idx := sort.Search(len(fdes), func(i int) bool {
		return fdes[i].Cover(pc) || fdes[i].Begin() >= pc
	})
	if idx == len(fdes) || !fdes[idx].Cover(pc) {
		return nil, &ErrNoFDEForPC{pc}
	}
	return fdes[idx], nil
}

// Append appends otherFDEs to fdes and returns the result sorted by
// begin address with duplicate entries removed.
func (fdes FrameDescriptionEntries) Append(otherFDEs FrameDescriptionEntries) FrameDescriptionEntries {
	r := append(fdes, otherFDEs...)
	sort.SliceStable(r, func(i, j int) bool {
		return r[i].Begin() < r[j].Begin()
	})
	// remove duplicate FDEs
	uniqFDEs := fdes[:0]
	for _, fde := range r {
		if len(uniqFDEs) > 0 {
			last := uniqFDEs[len(uniqFDEs)-1]
			if last.Begin() == fde.Begin() && last.End() == fde.End() {
				continue
			}
		}
		uniqFDEs = append(uniqFDEs, fde)
	}
	return uniqFDEs
}
