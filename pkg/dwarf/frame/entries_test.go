package frame

import (
	"encoding/binary"
	"errors"
	"testing"
)

func parseTestAugmentation(augStr string, block []byte) (*Augmentation, error) {
	b := newSectionBuilder(binary.LittleEndian)
	b.uleb(uint64(len(block)))
	b.raw(block)
	r := newReader(b.data(), binary.LittleEndian)
	return parseAugmentation(augStr, &r, &BaseAddresses{}, 8)
}

func TestParseAugmentation(t *testing.T) {
	aug, err := parseTestAugmentation("zR", []byte{byte(PtrEncUdata4)})
	if err != nil {
		t.Fatal(err)
	}
	enc, ok := aug.FDEPointerEncoding()
	if !ok || enc != PtrEncUdata4 {
		t.Fatalf("Expected a udata4 FDE pointer encoding, but get %s, %v", enc, ok)
	}
	if _, ok := aug.LSDAEncoding(); ok {
		t.Fatal("Expected no LSDA encoding")
	}
	if _, _, ok := aug.Personality(); ok {
		t.Fatal("Expected no personality routine")
	}
	if aug.IsSignalTrampoline() {
		t.Fatal("Expected no signal trampoline flag")
	}

	aug, err = parseTestAugmentation("zLR", []byte{byte(PtrEncUdata2), byte(PtrEncSdata4)})
	if err != nil {
		t.Fatal(err)
	}
	if enc, ok := aug.LSDAEncoding(); !ok || enc != PtrEncUdata2 {
		t.Fatalf("Expected a udata2 LSDA encoding, but get %s, %v", enc, ok)
	}
	if enc, ok := aug.FDEPointerEncoding(); !ok || enc != PtrEncSdata4 {
		t.Fatalf("Expected a sdata4 FDE pointer encoding, but get %s, %v", enc, ok)
	}

	block := newSectionBuilder(binary.LittleEndian)
	block.u8(byte(PtrEncUdata4))
	block.u32(0x9000)
	block.u8(byte(PtrEncUdata4))
	aug, err = parseTestAugmentation("zPR", block.data())
	if err != nil {
		t.Fatal(err)
	}
	enc, personality, ok := aug.Personality()
	if !ok || enc != PtrEncUdata4 {
		t.Fatalf("Expected a udata4 personality encoding, but get %s, %v", enc, ok)
	}
	if personality.Address != 0x9000 {
		t.Fatalf("Expected the personality routine at 0x9000, but get %#x", personality.Address)
	}

	aug, err = parseTestAugmentation("S", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !aug.IsSignalTrampoline() {
		t.Fatal("Expected the signal trampoline flag")
	}

	aug, err = parseTestAugmentation("zRS", []byte{byte(PtrEncUdata8)})
	if err != nil {
		t.Fatal(err)
	}
	if !aug.IsSignalTrampoline() {
		t.Fatal("Expected the signal trampoline flag")
	}
	if enc, ok := aug.FDEPointerEncoding(); !ok || enc != PtrEncUdata8 {
		t.Fatalf("Expected a udata8 FDE pointer encoding, but get %s, %v", enc, ok)
	}
}

func TestParseAugmentationErrors(t *testing.T) {
	for _, test := range []struct {
		augStr string
		block  []byte
	}{
		{"Lz", []byte{byte(PtrEncUdata4)}}, // 'L' before the 'z' data block
		{"zz", nil},                        // 'z' must come first, once
		{"zX", nil},                        // unassigned character
		{"R", nil},                         // 'R' without a data block
	} {
		_, err := parseTestAugmentation(test.augStr, test.block)
		var unknown *ErrUnknownAugmentation
		if !errors.As(err, &unknown) {
			t.Fatalf("%q: expected an unknown augmentation error, but get %v", test.augStr, err)
		}
		if unknown.Augmentation != test.augStr {
			t.Fatalf("%q: expected the string in the error, but get %q", test.augStr, unknown.Augmentation)
		}
	}

	_, err := parseTestAugmentation("zR", []byte{0x05})
	var unknownEnc *ErrUnknownPointerEncoding
	if !errors.As(err, &unknownEnc) {
		t.Fatalf("Expected an unknown pointer encoding error, but get %v", err)
	}

	_, err = parseTestAugmentation("zL", nil)
	var eoferr *ErrUnexpectedEOF
	if !errors.As(err, &eoferr) {
		t.Fatalf("Expected an unexpected EOF error, but get %v", err)
	}
}

func TestAugmentationString(t *testing.T) {
	aug, err := parseTestAugmentation("zRS", []byte{byte(PtrEncUdata4)})
	if err != nil {
		t.Fatal(err)
	}
	want := "fde=DW_EH_PE_udata4 signal-trampoline"
	if got := aug.String(); got != want {
		t.Fatalf("Expected %q, but get %q", want, got)
	}
	if (&Augmentation{}).String() != "none" {
		t.Fatalf("Expected \"none\", but get %q", (&Augmentation{}).String())
	}
}

func TestFDECoverTranslate(t *testing.T) {
	fde := &FrameDescriptionEntry{begin: 0x1000, size: 0x100}
	if !fde.Cover(0x1000) || !fde.Cover(0x10ff) {
		t.Fatal("Expected the FDE to cover its range")
	}
	if fde.Cover(0xfff) || fde.Cover(0x1100) {
		t.Fatal("Expected the FDE not to cover addresses outside its range")
	}
	fde.Translate(0x400000)
	if fde.Begin() != 0x401000 || fde.End() != 0x401100 {
		t.Fatalf("Expected the range [0x401000, 0x401100), but get [%#x, %#x)", fde.Begin(), fde.End())
	}
}

func TestFDEAugmentationAccessors(t *testing.T) {
	fde := &FrameDescriptionEntry{begin: 0x1000, size: 0x100}
	if _, _, ok := fde.Personality(); ok {
		t.Fatal("Expected no personality routine without an augmentation")
	}
	if fde.IsSignalTrampoline() {
		t.Fatal("Expected no signal trampoline flag without an augmentation")
	}

	block := newSectionBuilder(binary.LittleEndian)
	block.u8(byte(PtrEncUdata4))
	block.u32(0x9000)
	block.u8(byte(PtrEncUdata4))
	aug, err := parseTestAugmentation("zPRS", block.data())
	if err != nil {
		t.Fatal(err)
	}
	fde.CIE = &CommonInformationEntry{Augmentation: "zPRS", aug: aug}
	enc, personality, ok := fde.Personality()
	if !ok || enc != PtrEncUdata4 {
		t.Fatalf("Expected a udata4 personality encoding, but get %s, %v", enc, ok)
	}
	if personality.Address != 0x9000 {
		t.Fatalf("Expected the personality routine at 0x9000, but get %#x", personality.Address)
	}
	if !fde.IsSignalTrampoline() {
		t.Fatal("Expected the signal trampoline flag")
	}
}

func TestFDEForPC(t *testing.T) {
	frames := newFrameIndex()
	frames = append(frames,
		&FrameDescriptionEntry{begin: 10, size: 40},
		&FrameDescriptionEntry{begin: 50, size: 50},
		&FrameDescriptionEntry{begin: 100, size: 100},
		&FrameDescriptionEntry{begin: 300, size: 10})

	for _, test := range []struct {
		pc  uint64
		fde *FrameDescriptionEntry
	}{
		{0, nil},
		{9, nil},
		{10, frames[0]},
		{35, frames[0]},
		{49, frames[0]},
		{50, frames[1]},
		{75, frames[1]},
		{100, frames[2]},
		{199, frames[2]},
		{200, nil},
		{299, nil},
		{300, frames[3]},
		{309, frames[3]},
		{310, nil},
		{400, nil}} {

		out, err := frames.FDEForPC(test.pc)
		if test.fde != nil {
			if err != nil {
				t.Fatal(err)
			}
			if out != test.fde {
				t.Errorf("[pc = %#x] got incorrect fde\noutput:\t%#v\nexpected:\t%#v", test.pc, out, test.fde)
			}
		} else {
			if err == nil {
				t.Errorf("[pc = %#x] expected error got fde %#v", test.pc, out)
			}
		}
	}
}

func TestAppendDeduplicates(t *testing.T) {
	a := FrameDescriptionEntries{
		&FrameDescriptionEntry{begin: 100, size: 10},
		&FrameDescriptionEntry{begin: 50, size: 10},
	}
	other := FrameDescriptionEntries{
		&FrameDescriptionEntry{begin: 100, size: 10},
		&FrameDescriptionEntry{begin: 200, size: 10},
	}
	all := a.Append(other)
	if len(all) != 3 {
		t.Fatalf("Expected 3 FDEs after deduplication, but get %d", len(all))
	}
	for i, want := range []uint64{50, 100, 200} {
		if all[i].Begin() != want {
			t.Errorf("Expected FDE %d at %d, but get %d", i, want, all[i].Begin())
		}
	}
}
