// Package terminal implements the interactive browser for the call
// frame information of an executable.
package terminal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-delve/liner"

	"github.com/go-unwind/unwind/pkg/config"
	"github.com/go-unwind/unwind/pkg/dwarf/frame"
	"github.com/go-unwind/unwind/pkg/objfile"
)

const (
	historyFile                 string = ".cfdump_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack     = 30
	ansiRed       = 31
	ansiGreen     = 32
	ansiYellow    = 33
	ansiBlue      = 34
	ansiMagenta   = 35
	ansiCyan      = 36
	ansiWhite     = 37
	ansiBrBlack   = 90
	ansiBrRed     = 91
	ansiBrGreen   = 92
	ansiBrYellow  = 93
	ansiBrBlue    = 94
	ansiBrMagenta = 95
	ansiBrCyan    = 96
	ansiBrWhite   = 97
)

// Target is the view of an executable the terminal commands work on.
// *objfile.File implements it.
type Target interface {
	Section() (*frame.Section, string)
	Bases() *frame.BaseAddresses
	EhFrameHdr() *frame.EhFrameHdr
	FDEs() (frame.FrameDescriptionEntries, error)
	FDEForPC(pc uint64) (*frame.FrameDescriptionEntry, error)
	RowForPC(ctx *frame.UnwindContext, pc uint64) (*frame.UnwindTableRow, error)
	TableForFDE(ctx *frame.UnwindContext, fde *frame.FrameDescriptionEntry) (*frame.UnwindTable, error)
	Funcs() []objfile.Sym
	FuncForName(name string) (objfile.Sym, bool)
	FuncsWithPrefix(prefix string) []string
	FuncForPC(pc uint64) (objfile.Sym, bool)
	Arch() string
	PointerSize() int
	ByteOrder() binary.ByteOrder
	StaticBase() uint64
}

// Term represents the terminal running cfdump.
type Term struct {
	target Target
	conf   *config.Config
	prompt string
	line   *liner.State
	cmds   *Commands
	dumb   bool
	stdout *transcriptWriter
	ctx    *frame.UnwindContext

	// InitFile is a file with commands to run before the first prompt.
	InitFile string
}

// New returns a new Term.
func New(target Target, conf *config.Config) *Term {
	cmds := DumpCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	if (conf.TableLineColor > ansiWhite &&
		conf.TableLineColor < ansiBrBlack) ||
		conf.TableLineColor < ansiBlack ||
		conf.TableLineColor > ansiBrWhite {
		conf.TableLineColor = ansiBlue
	}

	return &Term{
		target: target,
		conf:   conf,
		prompt: "(cfdump) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: &transcriptWriter{pw: &pagingWriter{w: w}},
		ctx:    frame.NewUnwindContext(),
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.stdout.CloseTranscript()
	t.line.Close()
}

// Run begins reading and dispatching commands in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	t.line.SetCompleter(func(line string) (c []string) {
		if idx := strings.LastIndex(line, " "); idx >= 0 {
			// Complete function names for command arguments.
			prefix, partial := line[:idx+1], line[idx+1:]
			if partial == "" {
				return nil
			}
			for _, name := range t.target.FuncsWithPrefix(partial) {
				c = append(c, prefix+name)
			}
			return
		}
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					c = append(c, alias)
				}
			}
		}
		return
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}

		t.stdout.pw.Reset()
		t.stdout.Flush()
	}
}

// Println prints a line to the terminal with the prefix highlighted.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, t.conf.TableLineColor)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err == liner.ErrPromptAborted {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_CREATE, 0600); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	return 0, nil
}

// regnumArch returns the architecture name used to translate register
// numbers, honoring the register-naming configuration parameter.
func (t *Term) regnumArch() string {
	if t.conf != nil && t.conf.RegisterNaming != "" {
		if t.conf.RegisterNaming == "dwarf" {
			return ""
		}
		return t.conf.RegisterNaming
	}
	return t.target.Arch()
}
