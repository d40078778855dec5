package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCIE is returned when the entry at the given offset is not a CIE.
	ErrNotCIE = errors.New("entry at offset is not a CIE")
	// ErrNotFDE is returned when the entry at the given offset is not an FDE.
	ErrNotFDE = errors.New("entry at offset is not an FDE")
	// ErrNoEntryAtOffset is returned when the given offset points at a
	// series terminator or past the end of the entries.
	ErrNoEntryAtOffset = errors.New("no entry at the given offset")
	// ErrOffsetOutOfBounds is returned when a CIE distance or an address
	// subtraction walks out of the section.
	ErrOffsetOutOfBounds = errors.New("offset out of bounds")
	// ErrOmitPointerEncoding is returned when a pointer must be read but
	// its encoding is DW_EH_PE_omit.
	ErrOmitPointerEncoding = errors.New("cannot parse a pointer with a DW_EH_PE_omit encoding")
	// ErrUnsupportedPointerEncoding is returned for valid encodings we do
	// not implement, such as DW_EH_PE_aligned, and for indirect pointers
	// used where only direct ones make sense.
	ErrUnsupportedPointerEncoding = errors.New("unsupported pointer encoding")
	// ErrVariableLengthSearchTable is returned when a .eh_frame_hdr lookup
	// table uses uleb128 or sleb128 encoded entries, which cannot be
	// binary searched.
	ErrVariableLengthSearchTable = errors.New("cannot binary search a variable length encoded lookup table")

	// ErrSectionBaseUndefined is returned when a pc relative pointer is
	// found but no section base address was supplied.
	ErrSectionBaseUndefined = errors.New("pc relative pointer but section base is undefined")
	// ErrTextBaseUndefined is returned when a text relative pointer is
	// found but no text base address was supplied.
	ErrTextBaseUndefined = errors.New("text relative pointer but text base is undefined")
	// ErrDataBaseUndefined is returned when a data relative pointer is
	// found but no data base address was supplied.
	ErrDataBaseUndefined = errors.New("data relative pointer but data base is undefined")
	// ErrFuncBaseUndefined is returned when a function relative pointer is
	// found in a context with no function base address, such as a CIE.
	ErrFuncBaseUndefined = errors.New("function relative pointer in a context with no function base")

	// ErrInvalidInstructionContext is returned when a call frame
	// instruction is used somewhere it cannot apply, for example
	// DW_CFA_restore inside the initial instructions of a CIE.
	ErrInvalidInstructionContext = errors.New("call frame instruction used in an invalid context")
	// ErrInvalidAddressRange is returned when DW_CFA_set_loc attempts to
	// move the current address backwards.
	ErrInvalidAddressRange = errors.New("invalid address range")
	// ErrStackFull is returned when DW_CFA_remember_state exceeds the
	// unwinding state stack capacity.
	ErrStackFull = errors.New("remembered state stack is full")
	// ErrPopEmptyStack is returned when DW_CFA_restore_state is executed
	// with no remembered state to restore.
	ErrPopEmptyStack = errors.New("restore_state without a remembered state")
	// ErrTooManyRegisterRules is returned when a row accumulates more
	// register rules than the unwinding context can hold.
	ErrTooManyRegisterRules = errors.New("too many register rules")
	// ErrNoUnwindInfoForAddress is returned when no row of unwind
	// information covers the given address.
	ErrNoUnwindInfoForAddress = errors.New("no unwind info for address")
)

// ErrUnexpectedEOF is returned when the data ends in the middle of an
// entry, a pointer or an instruction. Offset is the position in the
// section at which more data was expected.
type ErrUnexpectedEOF struct {
	Offset uint64
}

func (err *ErrUnexpectedEOF) Error() string {
	return fmt.Sprintf("unexpected end of data at offset %#x", err.Offset)
}

// ErrUnknownVersion is returned when a CIE or a .eh_frame_hdr carries a
// version number we do not know how to parse.
type ErrUnknownVersion struct {
	Version uint8
}

func (err *ErrUnknownVersion) Error() string {
	return fmt.Sprintf("unknown version %d", err.Version)
}

// ErrUnknownAugmentation is returned when a CIE augmentation string is
// not understood.
type ErrUnknownAugmentation struct {
	Augmentation string
}

func (err *ErrUnknownAugmentation) Error() string {
	return fmt.Sprintf("unknown augmentation %q", err.Augmentation)
}

// ErrUnknownPointerEncoding is returned when a DW_EH_PE encoding byte
// does not name a known format and application pair.
type ErrUnknownPointerEncoding struct {
	Encoding PtrEnc
}

func (err *ErrUnknownPointerEncoding) Error() string {
	return fmt.Sprintf("unknown pointer encoding %#x", uint8(err.Encoding))
}

// ErrUnknownInstruction is returned when an unknown call frame
// instruction opcode is found.
type ErrUnknownInstruction struct {
	Opcode byte
}

func (err *ErrUnknownInstruction) Error() string {
	return fmt.Sprintf("unknown call frame instruction %#x", err.Opcode)
}

// ErrUnsupportedAddressSize is returned when an address size other than
// 1, 2, 4 or 8 bytes is requested.
type ErrUnsupportedAddressSize struct {
	Size uint8
}

func (err *ErrUnsupportedAddressSize) Error() string {
	return fmt.Sprintf("unsupported address size %d", err.Size)
}

// ErrNoFDEForPC is returned when no FDE contains the given PC.
type ErrNoFDEForPC struct {
	PC uint64
}

func (err *ErrNoFDEForPC) Error() string {
	return fmt.Sprintf("could not find FDE for PC %#v", err.PC)
}
