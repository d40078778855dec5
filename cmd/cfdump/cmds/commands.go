package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-unwind/unwind/cmd/cfdump/cmds/helphelpers"
	"github.com/go-unwind/unwind/pkg/config"
	"github.com/go-unwind/unwind/pkg/dwarf/frame"
	"github.com/go-unwind/unwind/pkg/dwarf/regnum"
	"github.com/go-unwind/unwind/pkg/logflags"
	"github.com/go-unwind/unwind/pkg/objfile"
	"github.com/go-unwind/unwind/pkg/terminal"
	"github.com/go-unwind/unwind/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// ehFrame is whether to read .eh_frame even when the executable has a
	// .debug_frame section.
	ehFrame bool
	// staticBase is the load bias added to every address in the executable.
	staticBase uint64
	// debugInfoDirectories is the list of directories searched for separate
	// debug info files, overriding the configuration file.
	debugInfoDirectories []string
	// initFile is the path to a file with commands executed by browse
	// before the first prompt.
	initFile string
	// archName overrides the architecture used to name registers.
	archName string
	// nameRegs is whether registers are printed with their architecture
	// names instead of their DWARF numbers.
	nameRegs bool
	// lookupPC is an address to look up in the .eh_frame_hdr search table.
	lookupPC string
	// versionVerbose is whether version also prints the build environment.
	versionVerbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const cfdumpLongDesc = `cfdump reads the DWARF call frame information of an executable and
prints it in a readable form.

The call frame information describes, for every instruction of every
function, how an unwinder recovers the values the registers had in the
caller. It is stored in the .debug_frame or .eh_frame section of the
executable. By default cfdump reads .debug_frame when present and falls
back to .eh_frame, pass --eh-frame to always read .eh_frame.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main cfdump root command.
	rootCommand = &cobra.Command{
		Use:   "cfdump",
		Short: "cfdump inspects the call frame information of executables.",
		Long:  cfdumpLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'cfdump help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'cfdump help log').")
	rootCommand.PersistentFlags().BoolVarP(&ehFrame, "eh-frame", "", false, "Read .eh_frame even when the executable has a .debug_frame section.")
	rootCommand.PersistentFlags().Uint64Var(&staticBase, "static-base", 0, "Load bias added to every address in the executable.")
	rootCommand.PersistentFlags().StringArrayVar(&debugInfoDirectories, "debug-info-directories", nil, "Directories to search for separate debug info files.")

	// 'dump' subcommand.
	dumpCommand := &cobra.Command{
		Use:   "dump <executable>",
		Short: "Print all call frame entries of an executable.",
		Long: `Print all call frame entries of an executable.

The entries are printed in the order they appear in the section. Every
CIE is printed with its initial instruction program, every FDE with its
address range and instruction program.`,
		PersistentPreRunE: needsExecutable,
		Run:               dumpCmd,
	}
	rootCommand.AddCommand(dumpCommand)

	// 'unwind' subcommand.
	unwindCommand := &cobra.Command{
		Use:   "unwind <executable> <address>...",
		Short: "Print the unwind rules in effect at one or more addresses.",
		Long: `Print the unwind rules in effect at one or more addresses.

Every address can be a number or the name of a function in the symbol
table of the executable. The rules are printed in terms of the canonical
frame address of the row containing the address.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return errors.New("you must provide an executable and at least one address")
			}
			return nil
		},
		Run: unwindCmd,
	}
	unwindCommand.Flags().BoolVar(&nameRegs, "regs", true, "Print registers with their architecture names instead of their DWARF numbers.")
	unwindCommand.Flags().StringVar(&archName, "arch", "", "Architecture used to name registers. Autodetected from the executable when empty.")
	rootCommand.AddCommand(unwindCommand)

	// 'hdr' subcommand.
	hdrCommand := &cobra.Command{
		Use:   "hdr <executable>",
		Short: "Print the .eh_frame_hdr lookup table of an executable.",
		Long: `Print the .eh_frame_hdr lookup table of an executable.

With --lookup the search table is used to find the frame description
entry covering an address, the way a runtime unwinder would.`,
		PersistentPreRunE: needsExecutable,
		Run:               hdrCmd,
	}
	hdrCommand.Flags().StringVar(&lookupPC, "lookup", "", "Look up the entry covering this address in the search table.")
	rootCommand.AddCommand(hdrCommand)

	// 'browse' subcommand.
	browseCommand := &cobra.Command{
		Use:   "browse <executable>",
		Short: "Browse the call frame information interactively.",
		Long: `Browse the call frame information interactively.

Starts a terminal with commands to inspect sections, entries and unwind
tables. Type 'help' inside the terminal for the list of commands.`,
		PersistentPreRunE: needsExecutable,
		Run:               browseCmd,
	}
	browseCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed before the first prompt.")
	rootCommand.AddCommand(browseCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cfdump\n%s\n", version.UnwindVersion)
			if versionVerbose {
				fmt.Println(version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "Print the Go version and environment the program was built with.")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	frame		Log the .debug_frame/.eh_frame parser
	ehframehdr	Log the .eh_frame_hdr parser and search table
	objfile		Log executable and separate debug info loading
	terminal	Log the interactive browser

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	// Hide flags that do not apply to a subcommand from its help screen.
	helpForExistingCommand := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		helpForExistingCommand(cmd, args)
	})
	usageForExistingCommand := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		helphelpers.Prepare(cmd)
		return usageForExistingCommand(cmd)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func needsExecutable(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("you must provide a path to an executable")
	}
	return nil
}

// openTarget opens the executable combining the configuration file with
// the command line flags.
func openTarget(path string) (*objfile.File, error) {
	dirs := conf.DebugInfoDirectories
	if len(debugInfoDirectories) > 0 {
		dirs = debugInfoDirectories
	}
	return objfile.Open(path, objfile.Options{
		PreferEhFrame:        ehFrame || conf.PreferEhFrame,
		DebugInfoDirectories: dirs,
		StaticBase:           staticBase,
	})
}

func dumpCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		f, err := openTarget(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer f.Close()

		if err := dumpEntries(os.Stdout, f); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}()
	os.Exit(status)
}

// dumpTarget is the part of an executable dump reads.
// *objfile.File implements it.
type dumpTarget interface {
	Section() (*frame.Section, string)
	Bases() *frame.BaseAddresses
	Arch() string
	FuncForPC(pc uint64) (objfile.Sym, bool)
}

// dumpEntries prints every entry of the call frame section of f in
// storage order.
func dumpEntries(w io.Writer, f dumpTarget) error {
	sec, name := f.Section()
	bases := f.Bases()
	arch := f.Arch()

	fmt.Fprintf(w, "contents of the .%s section:\n\n", name)

	cies := map[uint64]*frame.CommonInformationEntry{}
	getCIE := func(off uint64) (*frame.CommonInformationEntry, error) {
		if cie, ok := cies[off]; ok {
			return cie, nil
		}
		cie, err := sec.CIEFromOffset(bases, off)
		if err == nil {
			cies[off] = cie
		}
		return cie, err
	}

	it := sec.Entries(bases)
	for {
		entry, err := it.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		switch {
		case entry.CIE != nil:
			cie := entry.CIE
			fmt.Fprintf(w, "CIE %#x: version %d", cie.Offset, cie.Version)
			if cie.Augmentation != "" {
				fmt.Fprintf(w, ", augmentation %q (%s)", cie.Augmentation, cie.AugmentationData())
			}
			fmt.Fprintf(w, ", code align %d, data align %d, return address %s\n",
				cie.CodeAlignmentFactor, cie.DataAlignmentFactor,
				regnum.ToName(arch, cie.ReturnAddressRegister))
			insns, err := cie.InstructionsIter(sec, bases)
			if err != nil {
				return err
			}
			if err := dumpInstructions(w, insns); err != nil {
				return err
			}

		case entry.FDE != nil:
			fde, err := entry.FDE.Parse(getCIE)
			if err != nil {
				// One bad entry does not invalidate the rest of the section.
				fmt.Fprintf(w, "FDE %#x: %v\n\n", entry.FDE.Offset, err)
				continue
			}
			fmt.Fprintf(w, "FDE %#x: %#x-%#x cie %#x", fde.Offset, fde.Begin(), fde.End(), fde.CIE.Offset)
			if sym, ok := f.FuncForPC(fde.Begin()); ok {
				fmt.Fprintf(w, " <%s>", sym.Name)
			}
			fmt.Fprintln(w)
			if ptr, ok := fde.LSDA(); ok {
				fmt.Fprintf(w, "  lsda %#x\n", ptr.Address)
			}
			if fde.IsSignalTrampoline() {
				fmt.Fprintln(w, "  signal trampoline")
			}
			insns, err := fde.InstructionsIter(sec, bases)
			if err != nil {
				return err
			}
			if err := dumpInstructions(w, insns); err != nil {
				return err
			}
		}
	}
}

func dumpInstructions(w io.Writer, it *frame.InstructionIter) error {
	for {
		insn, err := it.Next()
		if err != nil {
			return err
		}
		if insn == nil {
			fmt.Fprintln(w)
			return nil
		}
		fmt.Fprintf(w, "  %s\n", insn)
	}
}

func unwindCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if archName != "" && archName != "dwarf" && !regnum.Supported(archName) {
			fmt.Fprintf(os.Stderr, "unknown architecture %q, must be one of: %s\n",
				archName, strings.Join(regnum.Arches, ", "))
			return 1
		}

		f, err := openTarget(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer f.Close()

		if !nameRegs {
			conf.RegisterNaming = "dwarf"
		} else if archName != "" {
			conf.RegisterNaming = archName
		}

		cmds := terminal.DumpCommands()
		t := terminal.New(f, conf)
		defer t.Close()

		status := 0
		for _, arg := range args[1:] {
			if err := cmds.Call("unwind "+arg, t); err != nil {
				fmt.Fprintln(os.Stderr, err)
				status = 1
			}
		}
		return status
	}()
	os.Exit(status)
}

func hdrCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		f, err := openTarget(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer f.Close()

		if err := dumpHdr(os.Stdout, f, lookupPC); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}()
	os.Exit(status)
}

// hdrTarget is the part of an executable hdr reads.
// *objfile.File implements it.
type hdrTarget interface {
	EhFrameHdr() *frame.EhFrameHdr
	EhFrameSection() *frame.Section
	Bases() *frame.BaseAddresses
	FuncForName(name string) (objfile.Sym, bool)
}

// dumpHdr prints the .eh_frame_hdr search table of f, or looks up the
// entry covering one address.
func dumpHdr(w io.Writer, f hdrTarget, lookup string) error {
	hdr := f.EhFrameHdr()
	if hdr == nil {
		return errors.New("the executable has no usable .eh_frame_hdr section")
	}

	fmt.Fprintf(w, ".eh_frame at %#x, %d rows, table encoding %s\n",
		hdr.EhFramePtr().Address, hdr.FDECount(), hdr.TableEncoding())

	table := hdr.Table()
	if table == nil {
		return nil
	}
	// The table holds offsets into .eh_frame. The preferred frame
	// section may be .debug_frame, which has its own entry layout at
	// unrelated offsets.
	sec := f.EhFrameSection()
	bases := f.Bases()

	if lookup != "" {
		pc, err := strconv.ParseUint(lookup, 0, 64)
		if err != nil {
			sym, ok := f.FuncForName(lookup)
			if !ok {
				return fmt.Errorf("could not find function %q", lookup)
			}
			pc = sym.Addr
		}
		fde, err := table.FDEForAddress(sec, bases, pc, func(off uint64) (*frame.CommonInformationEntry, error) {
			return sec.CIEFromOffset(bases, off)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%#x is covered by FDE %#x: %#x-%#x\n", pc, fde.Offset, fde.Begin(), fde.End())
		return nil
	}

	it := table.Rows(bases)
	for {
		row, err := it.Next()
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		fmt.Fprintf(w, "%#x\t%#x\n", row.Location.Address, row.FDE.Address)
	}
}

func browseCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		f, err := openTarget(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer f.Close()

		t := terminal.New(f, conf)
		t.InitFile = initFile
		defer t.Close()

		status, err := t.Run()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return status
	}()
	os.Exit(status)
}
