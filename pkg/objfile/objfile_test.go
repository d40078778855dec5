package objfile

import (
	"bytes"
	"compress/zlib"
	"debug/elf"
	"encoding/binary"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/derekparker/trie"
)

func TestDecompressMaybe(t *testing.T) {
	payload := bytes.Repeat([]byte("call frame information "), 40)

	var zbuf bytes.Buffer
	zbuf.WriteString("ZLIB")
	var dlen [8]byte
	binary.BigEndian.PutUint64(dlen[:], uint64(len(payload)))
	zbuf.Write(dlen[:])
	zw := zlib.NewWriter(&zbuf)
	zw.Write(payload)
	zw.Close()

	out, err := decompressMaybe(zbuf.Bytes())
	if err != nil {
		t.Fatalf("decompressMaybe: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Errorf("decompressed %d bytes, wanted %d", len(out), len(payload))
	}

	// Uncompressed section data passes through untouched.
	raw := []byte("\x01\x00\x00\x00plain section data")
	out, err = decompressMaybe(raw)
	if err != nil {
		t.Fatalf("decompressMaybe (raw): %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Errorf("raw data was modified")
	}

	// Too short to carry the ZLIB header.
	short := []byte("ZLI")
	out, err = decompressMaybe(short)
	if err != nil {
		t.Fatalf("decompressMaybe (short): %v", err)
	}
	if !bytes.Equal(out, short) {
		t.Errorf("short data was modified")
	}
}

func appendNote(buf []byte, order binary.ByteOrder, name string, typ uint32, desc []byte) []byte {
	nameb := append([]byte(name), 0)
	var w [4]byte
	order.PutUint32(w[:], uint32(len(nameb)))
	buf = append(buf, w[:]...)
	order.PutUint32(w[:], uint32(len(desc)))
	buf = append(buf, w[:]...)
	order.PutUint32(w[:], typ)
	buf = append(buf, w[:]...)
	buf = append(buf, nameb...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	buf = append(buf, desc...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func TestParseBuildIDNote(t *testing.T) {
	id := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a,
		0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14,
	}

	data := appendNote(nil, binary.LittleEndian, "GNU", ntGnuBuildID, id)
	got, err := parseBuildIDNote(data, binary.LittleEndian)
	if err != nil {
		t.Fatalf("parseBuildIDNote: %v", err)
	}
	if !bytes.Equal(got, id) {
		t.Errorf("got build id %x, wanted %x", got, id)
	}

	// The build id note does not have to be the first one.
	data = appendNote(nil, binary.BigEndian, "Go", 4, []byte("gobuildid"))
	data = appendNote(data, binary.BigEndian, "GNU", ntGnuBuildID, id)
	got, err = parseBuildIDNote(data, binary.BigEndian)
	if err != nil {
		t.Fatalf("parseBuildIDNote (second note): %v", err)
	}
	if !bytes.Equal(got, id) {
		t.Errorf("got build id %x, wanted %x", got, id)
	}

	// A section without a GNU build id note.
	data = appendNote(nil, binary.LittleEndian, "Go", 4, []byte("gobuildid"))
	if _, err := parseBuildIDNote(data, binary.LittleEndian); err == nil {
		t.Errorf("expected an error for a section without a build id")
	}

	// Sizes pointing past the end of the section.
	data = appendNote(nil, binary.LittleEndian, "GNU", ntGnuBuildID, id)
	if _, err := parseBuildIDNote(data[:20], binary.LittleEndian); err == nil {
		t.Errorf("expected an error for a truncated note")
	}
}

func TestFindSeparateDebugInfo(t *testing.T) {
	const id = "0123456789abcdef0123456789abcdef01234567"
	tmp := t.TempDir()

	bdir := filepath.Join(tmp, ".build-id")
	if err := os.MkdirAll(filepath.Join(bdir, id[:2]), 0755); err != nil {
		t.Fatal(err)
	}
	bpath := filepath.Join(bdir, id[:2], id[2:]+".debug")
	if err := ioutil.WriteFile(bpath, []byte{}, 0644); err != nil {
		t.Fatal(err)
	}

	pdir := filepath.Join(tmp, "debug")
	if err := os.MkdirAll(pdir, 0755); err != nil {
		t.Fatal(err)
	}
	ppath := filepath.Join(pdir, "prog.debug")
	if err := ioutil.WriteFile(ppath, []byte{}, 0644); err != nil {
		t.Fatal(err)
	}

	got, ok := findSeparateDebugInfo("/usr/bin/prog", id, []string{bdir})
	if !ok || got != bpath {
		t.Errorf("build-id layout: got %q, %v, wanted %q", got, ok, bpath)
	}

	// Without a build id the build-id directory is skipped and the
	// plain directory is keyed by the executable name.
	got, ok = findSeparateDebugInfo("/usr/bin/prog", "", []string{bdir, pdir})
	if !ok || got != ppath {
		t.Errorf("plain layout: got %q, %v, wanted %q", got, ok, ppath)
	}

	if _, ok := findSeparateDebugInfo("/usr/bin/other", "", []string{bdir, pdir}); ok {
		t.Errorf("found debug info for an executable without any")
	}
}

func testSymFile() *File {
	f := &File{}
	f.symOnce.Do(func() {})
	f.syms = []Sym{
		{Name: "read_entry", Addr: 0x1000, Size: 0x40},
		{Name: "parse_cie", Addr: 0x1040, Size: 0},
		{Name: "unwind_step", Addr: 0x2000, Size: 0x100},
	}
	f.symTrie = trie.New()
	for i := range f.syms {
		f.symTrie.Add(f.syms[i].Name, i)
	}
	return f
}

func TestFuncForPC(t *testing.T) {
	f := testSymFile()

	for _, tc := range []struct {
		pc   uint64
		name string
		ok   bool
	}{
		{0x0fff, "", false},
		{0x1000, "read_entry", true},
		{0x103f, "read_entry", true},
		{0x1040, "parse_cie", true},
		{0x1fff, "parse_cie", true}, // a zero size symbol extends to the next one
		{0x2000, "unwind_step", true},
		{0x20ff, "unwind_step", true},
		{0x2100, "", false},
	} {
		sym, ok := f.FuncForPC(tc.pc)
		if ok != tc.ok || (ok && sym.Name != tc.name) {
			t.Errorf("FuncForPC(%#x) = %q, %v, wanted %q, %v", tc.pc, sym.Name, ok, tc.name, tc.ok)
		}
	}
}

func TestFuncForName(t *testing.T) {
	f := testSymFile()

	sym, ok := f.FuncForName("unwind_step")
	if !ok || sym.Addr != 0x2000 {
		t.Errorf("FuncForName(unwind_step) = %#x, %v", sym.Addr, ok)
	}
	if _, ok := f.FuncForName("no_such_function"); ok {
		t.Errorf("found a function that does not exist")
	}

	names := f.FuncsWithPrefix("read")
	if len(names) != 1 || names[0] != "read_entry" {
		t.Errorf("FuncsWithPrefix(read) = %v", names)
	}
}

func TestArch(t *testing.T) {
	for _, tc := range []struct {
		machine elf.Machine
		order   binary.ByteOrder
		ptrSize int
		want    string
	}{
		{elf.EM_X86_64, binary.LittleEndian, 8, "amd64"},
		{elf.EM_AARCH64, binary.LittleEndian, 8, "arm64"},
		{elf.EM_386, binary.LittleEndian, 4, "386"},
		{elf.EM_RISCV, binary.LittleEndian, 8, "riscv64"},
		{elf.EM_RISCV, binary.LittleEndian, 4, ""},
		{elf.EM_PPC64, binary.LittleEndian, 8, "ppc64le"},
		{elf.EM_PPC64, binary.BigEndian, 8, ""},
		{elfMachineLoongArch, binary.LittleEndian, 8, "loong64"},
		{elf.EM_ARM, binary.LittleEndian, 4, ""},
	} {
		f := &File{machine: tc.machine, byteOrder: tc.order, ptrSize: tc.ptrSize}
		if got := f.Arch(); got != tc.want {
			t.Errorf("machine %v: expected %q, got %q", tc.machine, tc.want, got)
		}
	}
}
