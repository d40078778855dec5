package objfile

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"

	"github.com/go-unwind/unwind/pkg/dwarf/frame"
	"github.com/go-unwind/unwind/pkg/logflags"
)

// cieCacheSize is the number of parsed CIEs kept per executable.
const cieCacheSize = 128

// ErrNoCFI is returned when an executable carries neither a debug_frame
// nor an eh_frame section.
var ErrNoCFI = errors.New("no debug_frame or eh_frame section")

// Options configures how an executable is loaded.
type Options struct {
	// PreferEhFrame reads call frame information from eh_frame even
	// when a debug_frame section is present.
	PreferEhFrame bool

	// DebugInfoDirectories is the list of directories searched for
	// separate debug info files when the executable is stripped.
	DebugInfoDirectories []string

	// StaticBase is the load address of a position independent
	// executable. It is added to every address read from the file.
	StaticBase uint64
}

// File gives access to the call frame information of an ELF executable.
type File struct {
	Path string

	elfFile *elf.File
	sepFile *elf.File // separate debug info found through the build id

	machine   elf.Machine
	byteOrder binary.ByteOrder
	ptrSize   int

	staticBase uint64

	debugFrame *frame.Section
	ehFrame    *frame.Section

	frameSection *frame.Section // the preferred one of the two above
	frameName    string

	ehFrameAddr uint64
	ehFrameHdr  *frame.EhFrameHdr
	bases       frame.BaseAddresses

	cieCache *lru.Cache

	fdeOnce sync.Once
	fdes    frame.FrameDescriptionEntries
	fdeErr  error

	symOnce sync.Once
	syms    []Sym
	symTrie *trie.Trie
}

// Open loads the call frame information of the executable at path.
func Open(path string, opts Options) (*File, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, err
	}

	f := &File{
		Path:       path,
		elfFile:    ef,
		machine:    ef.Machine,
		byteOrder:  ef.ByteOrder,
		staticBase: opts.StaticBase,
	}
	if err := f.load(opts); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (f *File) load(opts Options) error {
	log := logflags.ObjFileLogger()
	ef := f.elfFile

	f.ptrSize = 4
	if ef.Class == elf.ELFCLASS64 {
		f.ptrSize = 8
	}

	debugFrameData, err := debugSection(ef, "frame")
	if err != nil {
		log.Debugf("%s: %v", f.Path, err)
		if sep, sepPath, serr := f.openSeparateDebugInfo(opts.DebugInfoDirectories); serr == nil {
			log.Debugf("using separate debug info file %s", sepPath)
			f.sepFile = sep
			if data, derr := debugSection(sep, "frame"); derr == nil {
				debugFrameData = data
			}
		}
	}

	// The DWARF sections can be in the opposite byte order from a
	// wrong-endian cross build, debug_info says which.
	order := f.byteOrder
	if infoData, err := debugSectionEither(ef, f.sepFile, "info"); err == nil {
		order = frame.DwarfEndian(infoData)
	}

	if debugFrameData != nil {
		f.debugFrame = frame.NewDebugFrame(debugFrameData, order)
		f.debugFrame.SetAddressSize(uint8(f.ptrSize))
		f.debugFrame.SetVendor(f.vendor())
	}

	if sec := ef.Section(".eh_frame"); sec != nil {
		data, err := sec.Data()
		if err != nil {
			return fmt.Errorf("could not read .eh_frame section: %v", err)
		}
		f.ehFrameAddr = sec.Addr + f.staticBase
		f.ehFrame = frame.NewEhFrame(data, order)
		f.ehFrame.SetAddressSize(uint8(f.ptrSize))
		f.ehFrame.SetVendor(f.vendor())

		f.bases = f.bases.SetEhFrame(f.ehFrameAddr)
	}
	if sec := ef.Section(".text"); sec != nil {
		f.bases = f.bases.SetText(sec.Addr + f.staticBase)
	}
	if sec := ef.Section(".got"); sec != nil {
		f.bases = f.bases.SetGot(sec.Addr + f.staticBase)
	}

	if sec := ef.Section(".eh_frame_hdr"); sec != nil && f.ehFrame != nil {
		f.bases = f.bases.SetEhFrameHdr(sec.Addr + f.staticBase)
		data, err := sec.Data()
		if err == nil {
			hdr, err := frame.ParseEhFrameHdr(data, order, uint8(f.ptrSize), &f.bases)
			if err != nil {
				logflags.EhFrameHdrLogger().Debugf("could not parse .eh_frame_hdr: %v", err)
			} else {
				f.ehFrameHdr = hdr
			}
		}
	}

	switch {
	case f.debugFrame != nil && !opts.PreferEhFrame:
		f.frameSection, f.frameName = f.debugFrame, "debug_frame"
	case f.ehFrame != nil:
		f.frameSection, f.frameName = f.ehFrame, "eh_frame"
	case f.debugFrame != nil:
		f.frameSection, f.frameName = f.debugFrame, "debug_frame"
	default:
		return ErrNoCFI
	}

	f.cieCache, _ = lru.New(cieCacheSize)

	log.Debugf("%s: reading call frame information from %s", f.Path, f.frameName)
	return nil
}

// Close releases the underlying files.
func (f *File) Close() error {
	if f.sepFile != nil {
		f.sepFile.Close()
	}
	return f.elfFile.Close()
}

func (f *File) vendor() frame.Vendor {
	if f.machine == elf.EM_AARCH64 {
		return frame.VendorAArch64
	}
	return frame.VendorDefault
}

// EM_LOONGARCH is absent from debug/elf before go1.19.
const elfMachineLoongArch = elf.Machine(258)

// Arch returns the name of the executable's architecture, the empty
// string when it is not one register naming knows about.
func (f *File) Arch() string {
	switch f.machine {
	case elf.EM_X86_64:
		return "amd64"
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_386:
		return "386"
	case elf.EM_RISCV:
		if f.ptrSize == 8 {
			return "riscv64"
		}
	case elf.EM_PPC64:
		if f.byteOrder == binary.LittleEndian {
			return "ppc64le"
		}
	case elfMachineLoongArch:
		if f.ptrSize == 8 {
			return "loong64"
		}
	}
	return ""
}

// PointerSize returns the size in bytes of a native address.
func (f *File) PointerSize() int {
	return f.ptrSize
}

// ByteOrder returns the byte order of the executable.
func (f *File) ByteOrder() binary.ByteOrder {
	return f.byteOrder
}

// StaticBase returns the load address the executable addresses are
// biased by.
func (f *File) StaticBase() uint64 {
	return f.staticBase
}

// Section returns the call frame section the file reads from and its
// name, either "debug_frame" or "eh_frame".
func (f *File) Section() (*frame.Section, string) {
	return f.frameSection, f.frameName
}

// Bases returns the base addresses used to resolve encoded pointers.
func (f *File) Bases() *frame.BaseAddresses {
	return &f.bases
}

// EhFrameHdr returns the parsed .eh_frame_hdr section, nil when the
// executable does not have a usable one.
func (f *File) EhFrameHdr() *frame.EhFrameHdr {
	return f.ehFrameHdr
}

// EhFrameSection returns the .eh_frame section view, nil when the
// executable does not have one. The .eh_frame_hdr search table offsets
// point into it even when debug_frame is the preferred section.
func (f *File) EhFrameSection() *frame.Section {
	return f.ehFrame
}

// FDEs returns all frame description entries of the preferred call
// frame section, sorted by begin address.
func (f *File) FDEs() (frame.FrameDescriptionEntries, error) {
	f.fdeOnce.Do(f.buildFDEIndex)
	return f.fdes, f.fdeErr
}

func (f *File) buildFDEIndex() {
	log := logflags.FrameLogger()

	var fdes frame.FrameDescriptionEntries
	skipped := 0

	it := f.frameSection.Entries(&f.bases)
	for {
		entry, err := it.Next()
		if err != nil {
			f.fdeErr = err
			return
		}
		if entry == nil {
			break
		}
		switch {
		case entry.CIE != nil:
			f.cieCache.Add(entry.CIE.Offset, entry.CIE)
		case entry.FDE != nil:
			fde, err := entry.FDE.Parse(f.getCIE)
			if err != nil {
				// One bad entry does not invalidate the rest of the
				// section.
				skipped++
				log.Debugf("skipping FDE at offset %#x: %v", entry.FDE.Offset, err)
				continue
			}
			if f.frameName == "debug_frame" {
				// debug_frame holds raw link time addresses. The
				// eh_frame pointer encodings already resolve against
				// the biased base addresses.
				fde.Translate(f.staticBase)
			}
			fdes = append(fdes, fde)
		}
	}

	if skipped > 0 {
		log.Debugf("%s: skipped %d unparseable FDEs", f.Path, skipped)
	}
	f.fdes = fdes.Append(nil)
}

func (f *File) getCIE(off uint64) (*frame.CommonInformationEntry, error) {
	if cie, ok := f.cieCache.Get(off); ok {
		return cie.(*frame.CommonInformationEntry), nil
	}
	cie, err := f.frameSection.CIEFromOffset(&f.bases, off)
	if err != nil {
		return nil, err
	}
	f.cieCache.Add(off, cie)
	return cie, nil
}

// FDEForPC returns the frame description entry covering pc, going
// through the .eh_frame_hdr search table when one is available.
func (f *File) FDEForPC(pc uint64) (*frame.FrameDescriptionEntry, error) {
	if table := f.hdrTable(); table != nil {
		fde, err := table.FDEForAddress(f.frameSection, &f.bases, pc, f.getCIE)
		if err == nil {
			return fde, nil
		}
		logflags.EhFrameHdrLogger().Debugf("eh_frame_hdr lookup for %#x failed: %v", pc, err)
	}
	fdes, err := f.FDEs()
	if err != nil {
		return nil, err
	}
	return fdes.FDEForPC(pc)
}

// RowForPC returns the unwind table row in effect at pc. The returned
// row is shared with ctx, it is only valid until ctx is used again.
func (f *File) RowForPC(ctx *frame.UnwindContext, pc uint64) (*frame.UnwindTableRow, error) {
	fde, err := f.FDEForPC(pc)
	if err != nil {
		return nil, err
	}
	return fde.UnwindInfoForAddress(f.frameSection, &f.bases, ctx, pc)
}

// TableForFDE returns an unwind table evaluating the instruction
// program of fde.
func (f *File) TableForFDE(ctx *frame.UnwindContext, fde *frame.FrameDescriptionEntry) (*frame.UnwindTable, error) {
	return frame.NewUnwindTable(f.frameSection, &f.bases, ctx, fde)
}

func (f *File) hdrTable() *frame.EhHdrTable {
	if f.ehFrameHdr == nil || f.frameName != "eh_frame" {
		return nil
	}
	return f.ehFrameHdr.Table()
}
