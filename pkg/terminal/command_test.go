package terminal

import (
	"bytes"
	"encoding/binary"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-unwind/unwind/pkg/config"
	"github.com/go-unwind/unwind/pkg/dwarf/frame"
	"github.com/go-unwind/unwind/pkg/dwarf/leb128"
	"github.com/go-unwind/unwind/pkg/objfile"
)

// testFrameSection assembles a .debug_frame image with one version 4 CIE
// and two FDEs:
//
//	read_entry 0x401000-0x401020, which moves the CFA from rsp+8 to
//	rsp+16 after the first four bytes of the function
//	other_func 0x402000-0x402010, with no instructions of its own
func testFrameSection() []byte {
	var buf bytes.Buffer

	u32 := func(out *bytes.Buffer, v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		out.Write(b[:])
	}
	u64 := func(out *bytes.Buffer, v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		out.Write(b[:])
	}
	entry := func(payload []byte) {
		u32(&buf, uint32(len(payload)))
		buf.Write(payload)
	}

	var cie bytes.Buffer
	u32(&cie, 0xffffffff) // CIE id
	cie.WriteByte(4)      // version
	cie.WriteByte(0)      // augmentation
	cie.WriteByte(8)      // address size
	cie.WriteByte(0)      // segment selector size
	leb128.EncodeUnsigned(&cie, 1)  // code alignment factor
	leb128.EncodeSigned(&cie, -8)   // data alignment factor
	leb128.EncodeUnsigned(&cie, 16) // return address register
	cie.Write([]byte{
		frame.DW_CFA_def_cfa, 7, 8,
		frame.DW_CFA_offset | 16, 1,
	})
	entry(cie.Bytes())

	var fde1 bytes.Buffer
	u32(&fde1, 0) // CIE offset
	u64(&fde1, 0x401000)
	u64(&fde1, 0x20)
	fde1.Write([]byte{
		frame.DW_CFA_advance_loc | 4,
		frame.DW_CFA_def_cfa_offset, 16,
	})
	entry(fde1.Bytes())

	var fde2 bytes.Buffer
	u32(&fde2, 0) // CIE offset
	u64(&fde2, 0x402000)
	u64(&fde2, 0x10)
	entry(fde2.Bytes())

	return buf.Bytes()
}

// fakeTarget serves commands from a synthetic .debug_frame image,
// without an executable behind it.
type fakeTarget struct {
	sec   *frame.Section
	bases *frame.BaseAddresses
	fdes  frame.FrameDescriptionEntries
	syms  []objfile.Sym
}

func newFakeTarget(t *testing.T) *fakeTarget {
	t.Helper()
	data := testFrameSection()
	fdes, err := frame.ParseDebugFrame(data, binary.LittleEndian, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	sec := frame.NewDebugFrame(data, binary.LittleEndian)
	sec.SetAddressSize(8)
	return &fakeTarget{
		sec:   sec,
		bases: &frame.BaseAddresses{},
		fdes:  fdes,
		syms: []objfile.Sym{
			{Name: "read_entry", Addr: 0x401000, Size: 0x20},
			{Name: "other_func", Addr: 0x402000, Size: 0x10},
		},
	}
}

func (ft *fakeTarget) Section() (*frame.Section, string) { return ft.sec, "debug_frame" }

func (ft *fakeTarget) Bases() *frame.BaseAddresses { return ft.bases }

func (ft *fakeTarget) EhFrameHdr() *frame.EhFrameHdr { return nil }

func (ft *fakeTarget) FDEs() (frame.FrameDescriptionEntries, error) { return ft.fdes, nil }

func (ft *fakeTarget) FDEForPC(pc uint64) (*frame.FrameDescriptionEntry, error) {
	return ft.fdes.FDEForPC(pc)
}

func (ft *fakeTarget) RowForPC(ctx *frame.UnwindContext, pc uint64) (*frame.UnwindTableRow, error) {
	fde, err := ft.fdes.FDEForPC(pc)
	if err != nil {
		return nil, err
	}
	return fde.UnwindInfoForAddress(ft.sec, ft.bases, ctx, pc)
}

func (ft *fakeTarget) TableForFDE(ctx *frame.UnwindContext, fde *frame.FrameDescriptionEntry) (*frame.UnwindTable, error) {
	return frame.NewUnwindTable(ft.sec, ft.bases, ctx, fde)
}

func (ft *fakeTarget) Funcs() []objfile.Sym { return ft.syms }

func (ft *fakeTarget) FuncForName(name string) (objfile.Sym, bool) {
	for _, sym := range ft.syms {
		if sym.Name == name {
			return sym, true
		}
	}
	return objfile.Sym{}, false
}

func (ft *fakeTarget) FuncsWithPrefix(prefix string) []string {
	var names []string
	for _, sym := range ft.syms {
		if strings.HasPrefix(sym.Name, prefix) {
			names = append(names, sym.Name)
		}
	}
	return names
}

func (ft *fakeTarget) FuncForPC(pc uint64) (objfile.Sym, bool) {
	for _, sym := range ft.syms {
		if pc >= sym.Addr && pc < sym.Addr+sym.Size {
			return sym, true
		}
	}
	return objfile.Sym{}, false
}

func (ft *fakeTarget) Arch() string { return "amd64" }

func (ft *fakeTarget) PointerSize() int { return 8 }

func (ft *fakeTarget) ByteOrder() binary.ByteOrder { return binary.LittleEndian }

func (ft *fakeTarget) StaticBase() uint64 { return 0 }

func newTestTerm(t *testing.T) (*Term, *bytes.Buffer) {
	t.Helper()
	t.Setenv("TERM", "dumb")
	t.Setenv("CFDUMP_PAGER", "")
	buf := new(bytes.Buffer)
	term := &Term{
		target: newFakeTarget(t),
		conf:   &config.Config{TableLineColor: ansiBlue},
		prompt: "(cfdump) ",
		cmds:   DumpCommands(),
		dumb:   true,
		stdout: &transcriptWriter{pw: &pagingWriter{w: buf}},
		ctx:    frame.NewUnwindContext(),
	}
	return term, buf
}

func runCmd(t *testing.T, term *Term, buf *bytes.Buffer, cmdstr string) string {
	t.Helper()
	buf.Reset()
	err := term.cmds.Call(cmdstr, term)
	term.stdout.pw.Reset()
	term.stdout.Flush()
	if err != nil {
		t.Fatalf("error executing %q: %v", cmdstr, err)
	}
	return buf.String()
}

func runCmdErr(t *testing.T, term *Term, buf *bytes.Buffer, cmdstr string) error {
	t.Helper()
	buf.Reset()
	err := term.cmds.Call(cmdstr, term)
	term.stdout.pw.Reset()
	term.stdout.Flush()
	if err == nil {
		t.Fatalf("expected error executing %q", cmdstr)
	}
	return err
}

func assertContains(t *testing.T, out string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestCommandDispatch(t *testing.T) {
	term, _ := newTestTerm(t)

	if err := term.cmds.Call("", term); err != nil {
		t.Fatalf("<enter> should do nothing, got %v", err)
	}
	if err := term.cmds.Call("definitely-not-a-command", term); err != noCmdError {
		t.Fatalf("expected noCmdError, got %v", err)
	}
	err := term.cmds.Call("exit", term)
	if _, ok := err.(ExitRequestError); !ok {
		t.Fatalf("expected ExitRequestError, got %v", err)
	}
}

func TestMergeAliases(t *testing.T) {
	term, buf := newTestTerm(t)

	term.cmds.Merge(map[string][]string{"funcs": {"fn"}})
	out := runCmd(t, term, buf, "fn")
	assertContains(t, out, "read_entry")

	// Merging again drops aliases that are no longer configured.
	term.cmds.Merge(map[string][]string{})
	if err := term.cmds.Call("fn", term); err != noCmdError {
		t.Fatalf("expected noCmdError after removing the alias, got %v", err)
	}
}

func TestSectionsCommand(t *testing.T) {
	term, buf := newTestTerm(t)

	out := runCmd(t, term, buf, "sections")
	assertContains(t, out, "architecture amd64", ".debug_frame", "2 FDEs", "LittleEndian")
	if strings.Contains(out, "static base") {
		t.Errorf("static base should not be listed when it is zero, got:\n%s", out)
	}
	if strings.Contains(out, ".eh_frame_hdr") {
		t.Errorf(".eh_frame_hdr should not be listed without a header section, got:\n%s", out)
	}
}

func TestCiesCommand(t *testing.T) {
	term, buf := newTestTerm(t)

	out := runCmd(t, term, buf, "cies")
	want := "CIE 0x0: version 4, code align 1, data align -8, return address Rip\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestFdesCommand(t *testing.T) {
	term, buf := newTestTerm(t)

	out := runCmd(t, term, buf, "fdes")
	want := "0x14 0x401000-0x401020 cie 0x0 read_entry\n0x2f 0x402000-0x402010 cie 0x0 other_func\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}

	out = runCmd(t, term, buf, "fdes read_")
	if strings.Contains(out, "other_func") || !strings.Contains(out, "read_entry") {
		t.Fatalf("expected only read_entry with a filter, got:\n%s", out)
	}

	err := runCmdErr(t, term, buf, "fdes (")
	if !strings.Contains(err.Error(), "invalid filter argument") {
		t.Fatalf("expected an invalid filter error, got %v", err)
	}
}

func TestFuncsCommand(t *testing.T) {
	term, buf := newTestTerm(t)

	out := runCmd(t, term, buf, "funcs")
	want := "0x401000 read_entry\n0x402000 other_func\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}

	out = runCmd(t, term, buf, "funcs other")
	if strings.Contains(out, "read_entry") || !strings.Contains(out, "other_func") {
		t.Fatalf("expected only other_func with a filter, got:\n%s", out)
	}
}

func TestFdeCommand(t *testing.T) {
	term, buf := newTestTerm(t)

	want := `FDE 0x14: 0x401000-0x401020 <read_entry>
CIE 0x0: version 4, code align 1, data align -8, return address Rip
CIE instructions:
  DW_CFA_def_cfa 7, 8
  DW_CFA_offset 16, 1
FDE instructions:
  DW_CFA_advance_loc 4
  DW_CFA_def_cfa_offset 16
`
	out := runCmd(t, term, buf, "fde read_entry")
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}

	// An address in the middle of the function finds the same entry.
	out = runCmd(t, term, buf, "fde 0x401010")
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}

	err := runCmdErr(t, term, buf, "fde")
	if !strings.Contains(err.Error(), "not enough arguments") {
		t.Fatalf("expected a missing argument error, got %v", err)
	}
	err = runCmdErr(t, term, buf, "fde nosuchfunc")
	if !strings.Contains(err.Error(), `could not find function "nosuchfunc"`) {
		t.Fatalf("expected an unknown function error, got %v", err)
	}
}

func TestTableCommand(t *testing.T) {
	term, buf := newTestTerm(t)

	out := runCmd(t, term, buf, "table read_entry")
	assertContains(t, out, "> read_entry 0x401000-0x401020\n", "Rsp+8", "Rsp+16", "0x401004")
	if n := strings.Count(out, "Rip=[cfa-8]"); n != 2 {
		t.Fatalf("expected 2 rows with the return address rule, got %d:\n%s", n, out)
	}
}

func TestTableCommandMaxRows(t *testing.T) {
	term, buf := newTestTerm(t)

	runCmd(t, term, buf, "config max-rows 1")
	out := runCmd(t, term, buf, "table read_entry")
	assertContains(t, out, "(stopped after 1 rows)")
	if n := strings.Count(out, "Rip=[cfa-8]"); n != 1 {
		t.Fatalf("expected 1 row with max-rows 1, got %d:\n%s", n, out)
	}
}

func TestUnwindCommand(t *testing.T) {
	term, buf := newTestTerm(t)

	out := runCmd(t, term, buf, "unwind 0x401008")
	want := "pc 0x401008 <read_entry+8>\n  valid 0x401004-0x401020\n  cfa Rsp+16\n  Rip [cfa-8]\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}

	// The function entry point is still in the first row.
	out = runCmd(t, term, buf, "unwind read_entry")
	assertContains(t, out, "pc 0x401000 <read_entry+0>", "valid 0x401000-0x401004", "cfa Rsp+8")

	// Decimal addresses work too.
	out = runCmd(t, term, buf, "unwind 4198408")
	assertContains(t, out, "pc 0x401008")

	err := runCmdErr(t, term, buf, "unwind 0x500000")
	if !strings.Contains(err.Error(), "could not find FDE") {
		t.Fatalf("expected a missing FDE error, got %v", err)
	}
}

func TestEhFrameHdrCommand(t *testing.T) {
	term, buf := newTestTerm(t)

	err := runCmdErr(t, term, buf, "hdr")
	if !strings.Contains(err.Error(), "no usable .eh_frame_hdr") {
		t.Fatalf("expected a missing header error, got %v", err)
	}
}

func TestConfigCommand(t *testing.T) {
	term, buf := newTestTerm(t)

	err := runCmdErr(t, term, buf, "config")
	if !strings.Contains(err.Error(), "wrong number of arguments") {
		t.Fatalf("expected an argument error, got %v", err)
	}

	out := runCmd(t, term, buf, "config -list")
	assertContains(t, out, "max-rows\t<not defined>", "prefer-eh-frame\tfalse", "table-line-color\t34")

	runCmd(t, term, buf, "config max-rows 2")
	if term.conf.MaxRows == nil || *term.conf.MaxRows != 2 {
		t.Fatalf("expected max-rows 2, got %v", term.conf.MaxRows)
	}
	out = runCmd(t, term, buf, "config -list")
	assertContains(t, out, "max-rows\t2")

	runCmd(t, term, buf, "config max-rows default")
	if term.conf.MaxRows != nil {
		t.Fatalf("expected max-rows to be reset, got %v", *term.conf.MaxRows)
	}

	err = runCmdErr(t, term, buf, "config max-rows notanumber")
	if !strings.Contains(err.Error(), "must be a number") {
		t.Fatalf("expected a number error, got %v", err)
	}
	err = runCmdErr(t, term, buf, "config bogus 1")
	if !strings.Contains(err.Error(), `"bogus" is not a configuration parameter`) {
		t.Fatalf("expected an unknown parameter error, got %v", err)
	}
}

func TestConfigRegisterNaming(t *testing.T) {
	term, buf := newTestTerm(t)

	runCmd(t, term, buf, "config register-naming dwarf")
	out := runCmd(t, term, buf, "cies")
	assertContains(t, out, "return address reg16")

	runCmd(t, term, buf, "config register-naming arm64")
	out = runCmd(t, term, buf, "unwind 0x401008")
	assertContains(t, out, "cfa X7+16")
}

func TestConfigAlias(t *testing.T) {
	term, buf := newTestTerm(t)

	runCmd(t, term, buf, "config alias fdes fr")
	out := runCmd(t, term, buf, "fr")
	assertContains(t, out, "read_entry")

	runCmd(t, term, buf, "config alias fr")
	if err := term.cmds.Call("fr", term); err != noCmdError {
		t.Fatalf("expected the alias to be removed, got %v", err)
	}

	err := runCmdErr(t, term, buf, "config alias a b c")
	if !strings.Contains(err.Error(), "wrong number of arguments") {
		t.Fatalf("expected an argument error, got %v", err)
	}
}

func TestConfigStringSlice(t *testing.T) {
	term, buf := newTestTerm(t)

	runCmd(t, term, buf, `config debug-info-directories "/usr/lib/debug" "/tmp/di"`)
	dirs := term.conf.DebugInfoDirectories
	if len(dirs) != 2 || dirs[0] != "/usr/lib/debug" || dirs[1] != "/tmp/di" {
		t.Fatalf("expected two directories, got %v", dirs)
	}
}

func TestTranscript(t *testing.T) {
	term, buf := newTestTerm(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "transcript.out")
	out := runCmd(t, term, buf, "transcript "+path)
	assertContains(t, out, "Transcribing output to")
	runCmd(t, term, buf, "sections")
	runCmd(t, term, buf, "transcript -clear")
	data, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	assertContains(t, string(data), "architecture amd64")

	// With -x terminal output is suppressed.
	path2 := filepath.Join(dir, "transcript2.out")
	out = runCmd(t, term, buf, "transcript -x "+path2)
	if out != "" {
		t.Fatalf("expected no terminal output with -x, got %q", out)
	}
	out = runCmd(t, term, buf, "sections")
	if out != "" {
		t.Fatalf("expected no terminal output with -x, got %q", out)
	}
	runCmd(t, term, buf, "transcript -clear")
	data, err = ioutil.ReadFile(path2)
	if err != nil {
		t.Fatal(err)
	}
	assertContains(t, string(data), "architecture amd64")

	// With -t the file is truncated first.
	runCmd(t, term, buf, "transcript -t "+path)
	runCmd(t, term, buf, "funcs")
	runCmd(t, term, buf, "transcript -clear")
	data, err = ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "read_entry") || strings.Contains(string(data), "architecture") {
		t.Fatalf("expected the transcript to be truncated, got %q", string(data))
	}

	err = runCmdErr(t, term, buf, "transcript -clear")
	if !strings.Contains(err.Error(), "no transcript in progress") {
		t.Fatalf("expected a no transcript error, got %v", err)
	}
	err = runCmdErr(t, term, buf, "transcript")
	if !strings.Contains(err.Error(), "wrong number of arguments") {
		t.Fatalf("expected an argument error, got %v", err)
	}
	err = runCmdErr(t, term, buf, "transcript one two")
	if !strings.Contains(err.Error(), `unrecognized option "two"`) {
		t.Fatalf("expected an unrecognized option error, got %v", err)
	}
}

func TestSourceCommand(t *testing.T) {
	term, buf := newTestTerm(t)
	dir := t.TempDir()

	script := filepath.Join(dir, "script")
	err := ioutil.WriteFile(script, []byte("# comment\n\nfuncs\nnot-a-command\nsections\n"), 0640)
	if err != nil {
		t.Fatal(err)
	}
	// Unknown commands are reported but do not stop the script.
	out := runCmd(t, term, buf, "source "+script)
	assertContains(t, out, "read_entry", "architecture amd64")

	err = runCmdErr(t, term, buf, "source")
	if !strings.Contains(err.Error(), "source <filename>") {
		t.Fatalf("expected an argument error, got %v", err)
	}

	exitScript := filepath.Join(dir, "exitscript")
	err = ioutil.WriteFile(exitScript, []byte("funcs\nexit\nsections\n"), 0640)
	if err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	err = term.cmds.Call("source "+exitScript, term)
	if _, ok := err.(ExitRequestError); !ok {
		t.Fatalf("expected ExitRequestError, got %v", err)
	}
	if !strings.Contains(buf.String(), "read_entry") || strings.Contains(buf.String(), "architecture") {
		t.Fatalf("expected the script to stop at exit, got:\n%s", buf.String())
	}
}

func TestHelpCommand(t *testing.T) {
	term, buf := newTestTerm(t)

	out := runCmd(t, term, buf, "help")
	assertContains(t, out,
		"The following commands are available:",
		"Inspecting the call frame sections",
		"Evaluating unwind tables",
		"Other commands",
		"(alias: ",
		"Type help followed by a command for full documentation.")

	out = runCmd(t, term, buf, "help fdes")
	assertContains(t, out, "If regexp is specified")

	if err := runCmdErr(t, term, buf, "help notacmd"); err != noCmdError {
		t.Fatalf("expected noCmdError, got %v", err)
	}
}
