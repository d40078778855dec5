package frame

import (
	"fmt"
)

// Instructions used to recreate the unwind table from the .debug_frame data.
const (
	DW_CFA_nop                = 0x0        // No ops
	DW_CFA_set_loc            = 0x01       // op1: address
	DW_CFA_advance_loc1       = iota       // op1: 1-bytes delta
	DW_CFA_advance_loc2                    // op1: 2-byte delta
	DW_CFA_advance_loc4                    // op1: 4-byte delta
	DW_CFA_offset_extended                 // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_restore_extended                // op1: ULEB128 register
	DW_CFA_undefined                       // op1: ULEB128 register
	DW_CFA_same_value                      // op1: ULEB128 register
	DW_CFA_register                        // op1: ULEB128 register, op2: ULEB128 register
	DW_CFA_remember_state                  // No ops
	DW_CFA_restore_state                   // No ops
	DW_CFA_def_cfa                         // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_def_cfa_register                // op1: ULEB128 register
	DW_CFA_def_cfa_offset                  // op1: ULEB128 offset
	DW_CFA_def_cfa_expression              // op1: BLOCK
	DW_CFA_expression                      // op1: ULEB128 register, op2: BLOCK
	DW_CFA_offset_extended_sf              // op1: ULEB128 register, op2: SLEB128 offset
	DW_CFA_def_cfa_sf                      // op1: ULEB128 register, op2: SLEB128 offset
	DW_CFA_def_cfa_offset_sf               // op1: SLEB128 offset
	DW_CFA_val_offset                      // op1: ULEB128, op2: ULEB128
	DW_CFA_val_offset_sf                   // op1: ULEB128, op2: SLEB128
	DW_CFA_val_expression                  // op1: ULEB128, op2: BLOCK
	DW_CFA_lo_user            = 0x1c       // op1: BLOCK
	DW_CFA_hi_user            = 0x3f       // op1: ULEB128 register, op2: BLOCK
	DW_CFA_advance_loc        = (0x1 << 6) // High 2 bits: 0x1, low 6: delta
	DW_CFA_offset             = (0x2 << 6) // High 2 bits: 0x2, low 6: register
	DW_CFA_restore            = (0x3 << 6) // High 2 bits: 0x3, low 6: register
)

// Vendor extensions in the DW_CFA_lo_user..DW_CFA_hi_user range.
const (
	DW_CFA_GNU_args_size           = 0x2e // op1: ULEB128 size
	DW_CFA_AARCH64_negate_ra_state = 0x2d // No ops
)

const low_6_offset = 0x3f

// CallFrameInstruction is one decoded call frame instruction.
type CallFrameInstruction interface {
	fmt.Stringer
	cfiInstruction()
}

// SetLoc moves the current row to address.
type SetLoc struct {
	Address uint64
}

// AdvanceLoc moves the current row forward by Delta code alignment
// units. The three packed and the three extended advance opcodes all
// decode to this.
type AdvanceLoc struct {
	Delta uint32
}

// DefCfa sets the CFA to the value of Register plus Offset.
type DefCfa struct {
	Register uint64
	Offset   uint64
}

// DefCfaSf is DefCfa with a factored signed offset.
type DefCfaSf struct {
	Register       uint64
	FactoredOffset int64
}

// DefCfaRegister changes the register of the current CFA rule.
type DefCfaRegister struct {
	Register uint64
}

// DefCfaOffset changes the offset of the current CFA rule.
type DefCfaOffset struct {
	Offset uint64
}

// DefCfaOffsetSf is DefCfaOffset with a factored signed offset.
type DefCfaOffsetSf struct {
	FactoredOffset int64
}

// DefCfaExpression sets the CFA to the value of a DWARF expression.
type DefCfaExpression struct {
	Expression []byte
}

// Undefined marks Register as not recoverable.
type Undefined struct {
	Register uint64
}

// SameValue marks Register as unchanged from the caller.
type SameValue struct {
	Register uint64
}

// Offset stores Register at CFA plus a factored offset.
type Offset struct {
	Register       uint64
	FactoredOffset uint64
}

// OffsetExtendedSf is Offset with a factored signed offset.
type OffsetExtendedSf struct {
	Register       uint64
	FactoredOffset int64
}

// ValOffset sets Register to CFA plus a factored offset.
type ValOffset struct {
	Register       uint64
	FactoredOffset uint64
}

// ValOffsetSf is ValOffset with a factored signed offset.
type ValOffsetSf struct {
	Register       uint64
	FactoredOffset int64
}

// Register sets DestRegister to the value SrcRegister had in the caller.
type Register struct {
	DestRegister uint64
	SrcRegister  uint64
}

// Expression stores Register at the address computed by a DWARF
// expression.
type Expression struct {
	Register   uint64
	Expression []byte
}

// ValExpression sets Register to the value of a DWARF expression.
type ValExpression struct {
	Register   uint64
	Expression []byte
}

// Restore resets the rule of Register to the one established by the
// initial instructions of the CIE.
type Restore struct {
	Register uint64
}

// RememberState pushes the current row state.
type RememberState struct{}

// RestoreState pops the row state pushed by the matching RememberState.
type RestoreState struct{}

// ArgsSize records the size of the arguments pushed on the stack.
type ArgsSize struct {
	Size uint64
}

// NegateRaState toggles the return address signature state of the
// aarch64 pointer authentication extension.
type NegateRaState struct{}

// Nop does nothing.
type Nop struct{}

func (SetLoc) cfiInstruction()           {}
func (AdvanceLoc) cfiInstruction()       {}
func (DefCfa) cfiInstruction()           {}
func (DefCfaSf) cfiInstruction()         {}
func (DefCfaRegister) cfiInstruction()   {}
func (DefCfaOffset) cfiInstruction()     {}
func (DefCfaOffsetSf) cfiInstruction()   {}
func (DefCfaExpression) cfiInstruction() {}
func (Undefined) cfiInstruction()        {}
func (SameValue) cfiInstruction()        {}
func (Offset) cfiInstruction()           {}
func (OffsetExtendedSf) cfiInstruction() {}
func (ValOffset) cfiInstruction()        {}
func (ValOffsetSf) cfiInstruction()      {}
func (Register) cfiInstruction()         {}
func (Expression) cfiInstruction()       {}
func (ValExpression) cfiInstruction()    {}
func (Restore) cfiInstruction()          {}
func (RememberState) cfiInstruction()    {}
func (RestoreState) cfiInstruction()     {}
func (ArgsSize) cfiInstruction()         {}
func (NegateRaState) cfiInstruction()    {}
func (Nop) cfiInstruction()              {}

func (i SetLoc) String() string { return fmt.Sprintf("DW_CFA_set_loc %#x", i.Address) }

func (i AdvanceLoc) String() string { return fmt.Sprintf("DW_CFA_advance_loc %d", i.Delta) }

func (i DefCfa) String() string { return fmt.Sprintf("DW_CFA_def_cfa %d, %d", i.Register, i.Offset) }

func (i DefCfaSf) String() string {
	return fmt.Sprintf("DW_CFA_def_cfa_sf %d, %d", i.Register, i.FactoredOffset)
}

func (i DefCfaRegister) String() string { return fmt.Sprintf("DW_CFA_def_cfa_register %d", i.Register) }

func (i DefCfaOffset) String() string { return fmt.Sprintf("DW_CFA_def_cfa_offset %d", i.Offset) }

func (i DefCfaOffsetSf) String() string {
	return fmt.Sprintf("DW_CFA_def_cfa_offset_sf %d", i.FactoredOffset)
}

func (i DefCfaExpression) String() string {
	return fmt.Sprintf("DW_CFA_def_cfa_expression [%d bytes]", len(i.Expression))
}

func (i Undefined) String() string { return fmt.Sprintf("DW_CFA_undefined %d", i.Register) }

func (i SameValue) String() string { return fmt.Sprintf("DW_CFA_same_value %d", i.Register) }

func (i Offset) String() string {
	return fmt.Sprintf("DW_CFA_offset %d, %d", i.Register, i.FactoredOffset)
}

func (i OffsetExtendedSf) String() string {
	return fmt.Sprintf("DW_CFA_offset_extended_sf %d, %d", i.Register, i.FactoredOffset)
}

func (i ValOffset) String() string {
	return fmt.Sprintf("DW_CFA_val_offset %d, %d", i.Register, i.FactoredOffset)
}

func (i ValOffsetSf) String() string {
	return fmt.Sprintf("DW_CFA_val_offset_sf %d, %d", i.Register, i.FactoredOffset)
}

func (i Register) String() string {
	return fmt.Sprintf("DW_CFA_register %d, %d", i.DestRegister, i.SrcRegister)
}

func (i Expression) String() string {
	return fmt.Sprintf("DW_CFA_expression %d, [%d bytes]", i.Register, len(i.Expression))
}

func (i ValExpression) String() string {
	return fmt.Sprintf("DW_CFA_val_expression %d, [%d bytes]", i.Register, len(i.Expression))
}

func (i Restore) String() string { return fmt.Sprintf("DW_CFA_restore %d", i.Register) }

func (i RememberState) String() string { return "DW_CFA_remember_state" }

func (i RestoreState) String() string { return "DW_CFA_restore_state" }

func (i ArgsSize) String() string { return fmt.Sprintf("DW_CFA_GNU_args_size %d", i.Size) }

func (i NegateRaState) String() string { return "DW_CFA_AARCH64_negate_ra_state" }

func (i Nop) String() string { return "DW_CFA_nop" }

// InstructionIter decodes a call frame instruction stream.
type InstructionIter struct {
	r               reader
	addressEncoding *PtrEnc
	params          pointerParams
	vendor          Vendor
}

// InstructionsIter returns an iterator over the initial instructions of
// the CIE. The CIE must have been parsed from section.
func (cie *CommonInformationEntry) InstructionsIter(section *Section, bases *BaseAddresses) (*InstructionIter, error) {
	return section.instructionIter(bases, cie.aug, cie.AddressSize, cie.initialInstructionsOffset, len(cie.InitialInstructions))
}

// InstructionsIter returns an iterator over the instructions of the FDE.
// The FDE must have been parsed from section.
func (fde *FrameDescriptionEntry) InstructionsIter(section *Section, bases *BaseAddresses) (*InstructionIter, error) {
	return section.instructionIter(bases, fde.CIE.aug, fde.CIE.AddressSize, fde.instructionsOffset, len(fde.Instructions))
}

func (s *Section) instructionIter(bases *BaseAddresses, aug *Augmentation, addressSize uint8, off uint64, length int) (*InstructionIter, error) {
	if bases == nil {
		bases = &BaseAddresses{}
	}
	r, err := newReader(s.data, s.order).newReaderAt(off)
	if err != nil {
		return nil, err
	}
	body, err := r.split(uint64(length))
	if err != nil {
		return nil, err
	}
	var addressEncoding *PtrEnc
	if aug != nil {
		addressEncoding = aug.fdeEnc
	}
	return &InstructionIter{
		r:               body,
		addressEncoding: addressEncoding,
		params:          pointerParams{bases: bases.EhFrame, addressSize: addressSize},
		vendor:          s.vendor,
	}, nil
}

// Next returns the next instruction of the stream, nil at the end. After
// an error the iterator is exhausted.
func (it *InstructionIter) Next() (CallFrameInstruction, error) {
	if it.r.Len() == 0 {
		return nil, nil
	}
	insn, err := parseCallFrameInstruction(&it.r, it.addressEncoding, it.params, it.vendor)
	if err != nil {
		it.r.skip(it.r.Len())
		return nil, err
	}
	return insn, nil
}

func parseCallFrameInstruction(r *reader, addressEncoding *PtrEnc, params pointerParams, vendor Vendor) (CallFrameInstruction, error) {
	opcode, err := r.uint8()
	if err != nil {
		return nil, err
	}

	const high_2_bits = 0xc0

	// The three opcodes with their argument packed in the opcode itself.
	switch opcode & high_2_bits {
	case DW_CFA_advance_loc:
		return AdvanceLoc{Delta: uint32(opcode & low_6_offset)}, nil
	case DW_CFA_offset:
		offset, err := r.uleb()
		if err != nil {
			return nil, err
		}
		return Offset{Register: uint64(opcode & low_6_offset), FactoredOffset: offset}, nil
	case DW_CFA_restore:
		return Restore{Register: uint64(opcode & low_6_offset)}, nil
	}

	switch opcode {
	case DW_CFA_nop:
		return Nop{}, nil

	case DW_CFA_set_loc:
		if addressEncoding != nil {
			ptr, err := resolvePointer(*addressEncoding, params, r)
			if err != nil {
				return nil, err
			}
			address, err := ptr.Direct()
			if err != nil {
				return nil, err
			}
			return SetLoc{Address: address}, nil
		}
		address, err := r.uint(params.addressSize)
		if err != nil {
			return nil, err
		}
		return SetLoc{Address: address}, nil

	case DW_CFA_advance_loc1:
		delta, err := r.uint8()
		if err != nil {
			return nil, err
		}
		return AdvanceLoc{Delta: uint32(delta)}, nil

	case DW_CFA_advance_loc2:
		delta, err := r.uint16()
		if err != nil {
			return nil, err
		}
		return AdvanceLoc{Delta: uint32(delta)}, nil

	case DW_CFA_advance_loc4:
		delta, err := r.uint32()
		if err != nil {
			return nil, err
		}
		return AdvanceLoc{Delta: delta}, nil

	case DW_CFA_offset_extended:
		reg, offset, err := ulebPair(r)
		if err != nil {
			return nil, err
		}
		return Offset{Register: reg, FactoredOffset: offset}, nil

	case DW_CFA_restore_extended:
		reg, err := r.uleb()
		if err != nil {
			return nil, err
		}
		return Restore{Register: reg}, nil

	case DW_CFA_undefined:
		reg, err := r.uleb()
		if err != nil {
			return nil, err
		}
		return Undefined{Register: reg}, nil

	case DW_CFA_same_value:
		reg, err := r.uleb()
		if err != nil {
			return nil, err
		}
		return SameValue{Register: reg}, nil

	case DW_CFA_register:
		dest, src, err := ulebPair(r)
		if err != nil {
			return nil, err
		}
		return Register{DestRegister: dest, SrcRegister: src}, nil

	case DW_CFA_remember_state:
		return RememberState{}, nil

	case DW_CFA_restore_state:
		return RestoreState{}, nil

	case DW_CFA_def_cfa:
		reg, offset, err := ulebPair(r)
		if err != nil {
			return nil, err
		}
		return DefCfa{Register: reg, Offset: offset}, nil

	case DW_CFA_def_cfa_register:
		reg, err := r.uleb()
		if err != nil {
			return nil, err
		}
		return DefCfaRegister{Register: reg}, nil

	case DW_CFA_def_cfa_offset:
		offset, err := r.uleb()
		if err != nil {
			return nil, err
		}
		return DefCfaOffset{Offset: offset}, nil

	case DW_CFA_def_cfa_expression:
		expr, err := readBlock(r)
		if err != nil {
			return nil, err
		}
		return DefCfaExpression{Expression: expr}, nil

	case DW_CFA_expression:
		reg, err := r.uleb()
		if err != nil {
			return nil, err
		}
		expr, err := readBlock(r)
		if err != nil {
			return nil, err
		}
		return Expression{Register: reg, Expression: expr}, nil

	case DW_CFA_offset_extended_sf:
		reg, offset, err := ulebSlebPair(r)
		if err != nil {
			return nil, err
		}
		return OffsetExtendedSf{Register: reg, FactoredOffset: offset}, nil

	case DW_CFA_def_cfa_sf:
		reg, offset, err := ulebSlebPair(r)
		if err != nil {
			return nil, err
		}
		return DefCfaSf{Register: reg, FactoredOffset: offset}, nil

	case DW_CFA_def_cfa_offset_sf:
		offset, err := r.sleb()
		if err != nil {
			return nil, err
		}
		return DefCfaOffsetSf{FactoredOffset: offset}, nil

	case DW_CFA_val_offset:
		reg, offset, err := ulebPair(r)
		if err != nil {
			return nil, err
		}
		return ValOffset{Register: reg, FactoredOffset: offset}, nil

	case DW_CFA_val_offset_sf:
		reg, offset, err := ulebSlebPair(r)
		if err != nil {
			return nil, err
		}
		return ValOffsetSf{Register: reg, FactoredOffset: offset}, nil

	case DW_CFA_val_expression:
		reg, err := r.uleb()
		if err != nil {
			return nil, err
		}
		expr, err := readBlock(r)
		if err != nil {
			return nil, err
		}
		return ValExpression{Register: reg, Expression: expr}, nil

	case DW_CFA_GNU_args_size:
		size, err := r.uleb()
		if err != nil {
			return nil, err
		}
		return ArgsSize{Size: size}, nil

	case DW_CFA_AARCH64_negate_ra_state:
		if vendor == VendorAArch64 {
			return NegateRaState{}, nil
		}
	}

	return nil, &ErrUnknownInstruction{Opcode: opcode}
}

func ulebPair(r *reader) (uint64, uint64, error) {
	a, err := r.uleb()
	if err != nil {
		return 0, 0, err
	}
	b, err := r.uleb()
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func ulebSlebPair(r *reader) (uint64, int64, error) {
	a, err := r.uleb()
	if err != nil {
		return 0, 0, err
	}
	b, err := r.sleb()
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func readBlock(r *reader) ([]byte, error) {
	length, err := r.uleb()
	if err != nil {
		return nil, err
	}
	block, err := r.split(length)
	if err != nil {
		return nil, err
	}
	return block.bytes(block.Len())
}
