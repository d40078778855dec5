package frame

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func collectInstructions(t *testing.T, it *InstructionIter) []CallFrameInstruction {
	t.Helper()
	var out []CallFrameInstruction
	for {
		insn, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if insn == nil {
			return out
		}
		out = append(out, insn)
	}
}

func TestParseInstructions(t *testing.T) {
	p := newSectionBuilder(binary.LittleEndian)
	p.u8(DW_CFA_advance_loc | 5)
	p.u8(DW_CFA_offset | 6)
	p.uleb(3)
	p.u8(DW_CFA_restore | 7)
	p.u8(DW_CFA_nop)
	p.u8(DW_CFA_set_loc)
	p.u64(0xcafe)
	p.u8(DW_CFA_advance_loc1)
	p.u8(200)
	p.u8(DW_CFA_advance_loc2)
	p.u16(0xbeef)
	p.u8(DW_CFA_advance_loc4)
	p.u32(0xdeadbeef)
	p.u8(DW_CFA_offset_extended)
	p.uleb(70)
	p.uleb(4)
	p.u8(DW_CFA_restore_extended)
	p.uleb(71)
	p.u8(DW_CFA_undefined)
	p.uleb(72)
	p.u8(DW_CFA_same_value)
	p.uleb(73)
	p.u8(DW_CFA_register)
	p.uleb(1)
	p.uleb(2)
	p.u8(DW_CFA_remember_state)
	p.u8(DW_CFA_restore_state)
	p.u8(DW_CFA_def_cfa)
	p.uleb(7)
	p.uleb(8)
	p.u8(DW_CFA_def_cfa_register)
	p.uleb(6)
	p.u8(DW_CFA_def_cfa_offset)
	p.uleb(16)
	p.u8(DW_CFA_def_cfa_expression)
	p.uleb(2)
	p.raw([]byte{0x11, 0x22})
	p.u8(DW_CFA_expression)
	p.uleb(12)
	p.uleb(1)
	p.raw([]byte{0x33})
	p.u8(DW_CFA_offset_extended_sf)
	p.uleb(13)
	p.sleb(-3)
	p.u8(DW_CFA_def_cfa_sf)
	p.uleb(30)
	p.sleb(-2)
	p.u8(DW_CFA_def_cfa_offset_sf)
	p.sleb(-4)
	p.u8(DW_CFA_val_offset)
	p.uleb(14)
	p.uleb(5)
	p.u8(DW_CFA_val_offset_sf)
	p.uleb(15)
	p.sleb(-6)
	p.u8(DW_CFA_val_expression)
	p.uleb(16)
	p.uleb(1)
	p.raw([]byte{0x44})
	p.u8(DW_CFA_GNU_args_size)
	p.uleb(32)

	want := []CallFrameInstruction{
		AdvanceLoc{Delta: 5},
		Offset{Register: 6, FactoredOffset: 3},
		Restore{Register: 7},
		Nop{},
		SetLoc{Address: 0xcafe},
		AdvanceLoc{Delta: 200},
		AdvanceLoc{Delta: 0xbeef},
		AdvanceLoc{Delta: 0xdeadbeef},
		Offset{Register: 70, FactoredOffset: 4},
		Restore{Register: 71},
		Undefined{Register: 72},
		SameValue{Register: 73},
		Register{DestRegister: 1, SrcRegister: 2},
		RememberState{},
		RestoreState{},
		DefCfa{Register: 7, Offset: 8},
		DefCfaRegister{Register: 6},
		DefCfaOffset{Offset: 16},
		DefCfaExpression{Expression: []byte{0x11, 0x22}},
		Expression{Register: 12, Expression: []byte{0x33}},
		OffsetExtendedSf{Register: 13, FactoredOffset: -3},
		DefCfaSf{Register: 30, FactoredOffset: -2},
		DefCfaOffsetSf{FactoredOffset: -4},
		ValOffset{Register: 14, FactoredOffset: 5},
		ValOffsetSf{Register: 15, FactoredOffset: -6},
		ValExpression{Register: 16, Expression: []byte{0x44}},
		ArgsSize{Size: 32},
	}

	b := newSectionBuilder(binary.LittleEndian)
	b.cieDebugFrame(3, 1, -8, 16, p.data())
	sec := NewDebugFrame(b.data(), binary.LittleEndian)
	cie, err := sec.CIEFromOffset(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	it, err := cie.InstructionsIter(sec, nil)
	if err != nil {
		t.Fatal(err)
	}

	got := collectInstructions(t, it)
	if len(got) != len(want) {
		t.Fatalf("Expected %d instructions, but get %d", len(want), len(got))
	}
	for i := range want {
		if !reflect.DeepEqual(got[i], want[i]) {
			t.Errorf("instruction %d: expected %v, but get %v", i, want[i], got[i])
		}
	}
}

func TestSetLocEncoded(t *testing.T) {
	b := newSectionBuilder(binary.LittleEndian)
	cieOff := b.cieEhFrame(1, "zR", []byte{byte(PtrEncUdata4)}, 1, -8, 16, nil)

	insns := newSectionBuilder(binary.LittleEndian)
	insns.u8(DW_CFA_set_loc)
	insns.u32(0xaabbccdd)

	body := newSectionBuilder(binary.LittleEndian)
	body.u32(0x100)
	body.u32(0x10)
	body.uleb(0)
	body.raw(insns.data())
	fdeOff := b.fdeEhFrame(cieOff, body.data())
	b.terminator()

	sec := NewEhFrame(b.data(), binary.LittleEndian)
	getCIE := func(off uint64) (*CommonInformationEntry, error) {
		return sec.CIEFromOffset(nil, off)
	}
	fde, err := sec.FDEFromOffset(nil, fdeOff, getCIE)
	if err != nil {
		t.Fatal(err)
	}
	it, err := fde.InstructionsIter(sec, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := collectInstructions(t, it)
	if len(got) != 1 {
		t.Fatalf("Expected 1 instruction, but get %d", len(got))
	}
	if got[0] != (SetLoc{Address: 0xaabbccdd}) {
		t.Fatalf("Expected DW_CFA_set_loc 0xaabbccdd, but get %v", got[0])
	}
}

func TestSetLocIndirect(t *testing.T) {
	b := newSectionBuilder(binary.LittleEndian)
	cieOff := b.cieEhFrame(1, "zR", []byte{byte(PtrEncIndirect | PtrEncUdata4)}, 1, -8, 16, nil)

	insns := newSectionBuilder(binary.LittleEndian)
	insns.u8(DW_CFA_set_loc)
	insns.u32(0x2000)

	body := newSectionBuilder(binary.LittleEndian)
	body.u32(0x100)
	body.u32(0x10)
	body.uleb(0)
	body.raw(insns.data())
	fdeOff := b.fdeEhFrame(cieOff, body.data())
	b.terminator()

	sec := NewEhFrame(b.data(), binary.LittleEndian)
	getCIE := func(off uint64) (*CommonInformationEntry, error) {
		return sec.CIEFromOffset(nil, off)
	}
	fde, err := sec.FDEFromOffset(nil, fdeOff, getCIE)
	if err != nil {
		t.Fatal(err)
	}
	it, err := fde.InstructionsIter(sec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := it.Next(); err != ErrUnsupportedPointerEncoding {
		t.Fatalf("Expected ErrUnsupportedPointerEncoding, but get %v", err)
	}
}

func TestNegateRaStateVendor(t *testing.T) {
	build := func() []byte {
		b := newSectionBuilder(binary.LittleEndian)
		b.cieDebugFrame(3, 1, -8, 30, []byte{DW_CFA_AARCH64_negate_ra_state})
		return b.data()
	}

	sec := NewDebugFrame(build(), binary.LittleEndian)
	sec.SetVendor(VendorAArch64)
	cie, err := sec.CIEFromOffset(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	it, err := cie.InstructionsIter(sec, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := collectInstructions(t, it)
	if len(got) != 1 {
		t.Fatalf("Expected 1 instruction, but get %d", len(got))
	}
	if _, ok := got[0].(NegateRaState); !ok {
		t.Fatalf("Expected DW_CFA_AARCH64_negate_ra_state, but get %v", got[0])
	}

	// Without the AArch64 vendor 0x2d is not a known opcode.
	sec = NewDebugFrame(build(), binary.LittleEndian)
	cie, err = sec.CIEFromOffset(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	it, err = cie.InstructionsIter(sec, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = it.Next()
	var unknown *ErrUnknownInstruction
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected an unknown instruction error, but get %v", err)
	}
	if unknown.Opcode != DW_CFA_AARCH64_negate_ra_state {
		t.Fatalf("Expected opcode %#x in the error, but get %#x", DW_CFA_AARCH64_negate_ra_state, unknown.Opcode)
	}
	insn, err := it.Next()
	if insn != nil || err != nil {
		t.Fatalf("Expected an exhausted iterator, but get %v, %v", insn, err)
	}
}

func TestUnknownInstruction(t *testing.T) {
	for _, opcode := range []byte{DW_CFA_lo_user, 0x3f} {
		b := newSectionBuilder(binary.LittleEndian)
		b.cieDebugFrame(3, 1, -8, 16, []byte{opcode})
		sec := NewDebugFrame(b.data(), binary.LittleEndian)
		cie, err := sec.CIEFromOffset(nil, 0)
		if err != nil {
			t.Fatal(err)
		}
		it, err := cie.InstructionsIter(sec, nil)
		if err != nil {
			t.Fatal(err)
		}
		_, err = it.Next()
		var unknown *ErrUnknownInstruction
		if !errors.As(err, &unknown) {
			t.Fatalf("Expected an unknown instruction error for %#x, but get %v", opcode, err)
		}
		if unknown.Opcode != opcode {
			t.Fatalf("Expected opcode %#x in the error, but get %#x", opcode, unknown.Opcode)
		}
	}
}

func TestInstructionStrings(t *testing.T) {
	for _, test := range []struct {
		insn CallFrameInstruction
		want string
	}{
		{SetLoc{Address: 0x1000}, "DW_CFA_set_loc 0x1000"},
		{AdvanceLoc{Delta: 4}, "DW_CFA_advance_loc 4"},
		{DefCfa{Register: 7, Offset: 8}, "DW_CFA_def_cfa 7, 8"},
		{DefCfaSf{Register: 7, FactoredOffset: -2}, "DW_CFA_def_cfa_sf 7, -2"},
		{Offset{Register: 16, FactoredOffset: 2}, "DW_CFA_offset 16, 2"},
		{Expression{Register: 12, Expression: []byte{0x11, 0x22}}, "DW_CFA_expression 12, [2 bytes]"},
		{RememberState{}, "DW_CFA_remember_state"},
		{NegateRaState{}, "DW_CFA_AARCH64_negate_ra_state"},
		{Nop{}, "DW_CFA_nop"},
	} {
		if got := test.insn.String(); got != test.want {
			t.Errorf("Expected %q, but get %q", test.want, got)
		}
	}
}
