package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/go-unwind/unwind/pkg/dwarf/frame"
	"github.com/go-unwind/unwind/pkg/dwarf/regnum"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the cfdump terminal.
type Commands struct {
	cmds []command
}

// DumpCommands returns a Commands struct with default commands defined.
func DumpCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"sections"}, group: infoCmds, cmdFn: sections, helpMsg: "Print the call frame sections of the executable."},
		{aliases: []string{"cies"}, group: infoCmds, cmdFn: cies, helpMsg: `Print all common information entries.

Every CIE is printed with its offset, version, augmentation, alignment factors and return address register.`},
		{aliases: []string{"fdes"}, group: infoCmds, cmdFn: fdes, helpMsg: `Print frame description entries.

	fdes [<regexp>]

If regexp is specified only the entries of functions matching it are printed.`},
		{aliases: []string{"funcs"}, group: infoCmds, cmdFn: funcs, helpMsg: `Print functions.

	funcs [<regexp>]`},
		{aliases: []string{"hdr"}, group: infoCmds, cmdFn: ehFrameHdrCmd, helpMsg: `Print the .eh_frame_hdr lookup table.

The number of rows printed can be limited with the max-rows configuration parameter.`},
		{aliases: []string{"fde"}, group: unwindCmds, cmdFn: fdeCmd, helpMsg: `Print the frame description entry covering an address.

	fde <address>
	fde <function>

The entry header and its instruction program are printed, together with the instruction program of the CIE it refers to.`},
		{aliases: []string{"table", "t"}, group: unwindCmds, cmdFn: tableCmd, helpMsg: `Print the unwind table of the frame description entry covering an address.

	table <address>
	table <function>

One row is printed for every range of addresses with distinct unwind rules.`},
		{aliases: []string{"unwind", "u"}, group: unwindCmds, cmdFn: unwindCmd, helpMsg: `Print the unwind rules in effect at an address.

	unwind <address>
	unwind <function>`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias of <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: sourceCommand, helpMsg: `Executes a file containing a list of commands.

	source <path>

Lines starting with # are ignored.`},
		{aliases: []string{"transcript"}, cmdFn: transcriptCmd, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -clear

Output of all commands after this one will be appended to the file. If '-t' is specified and the file exists it is truncated. If '-x' is specified output to the terminal is suppressed instead.

Using the -clear option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the program."},
	}

	return c
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	// If <enter> do nothing.
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return noCmdError
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	t.stdout.pw.PageMaybe(nil)

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func sections(t *Term, args string) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)

	arch := t.target.Arch()
	if arch == "" {
		arch = "unknown"
	}
	fmt.Fprintf(w, "architecture\t%s\n", arch)
	fmt.Fprintf(w, "pointer size\t%d\n", t.target.PointerSize())
	fmt.Fprintf(w, "byte order\t%v\n", t.target.ByteOrder())
	if sb := t.target.StaticBase(); sb != 0 {
		fmt.Fprintf(w, "static base\t%#x\n", sb)
	}
	_, name := t.target.Section()
	fmt.Fprintf(w, "reading from\t.%s\n", name)
	if hdr := t.target.EhFrameHdr(); hdr != nil {
		fmt.Fprintf(w, ".eh_frame_hdr\t%d search table rows (%s)\n", hdr.FDECount(), hdr.TableEncoding())
	}
	if fdes, err := t.target.FDEs(); err == nil {
		fmt.Fprintf(w, "entries\t%d FDEs\n", len(fdes))
	}
	return w.Flush()
}

func cies(t *Term, args string) error {
	sec, _ := t.target.Section()

	t.stdout.pw.PageMaybe(nil)

	it := sec.Entries(t.target.Bases())
	for {
		entry, err := it.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		if entry.CIE == nil {
			continue
		}
		cie := entry.CIE
		fmt.Fprintf(t.stdout, "CIE %#x: version %d", cie.Offset, cie.Version)
		if cie.Augmentation != "" {
			fmt.Fprintf(t.stdout, ", augmentation %q", cie.Augmentation)
		}
		fmt.Fprintf(t.stdout, ", code align %d, data align %d, return address %s\n",
			cie.CodeAlignmentFactor, cie.DataAlignmentFactor,
			regnum.ToName(t.regnumArch(), cie.ReturnAddressRegister))
	}
	return nil
}

func fdes(t *Term, args string) error {
	filter, err := compileFilter(args)
	if err != nil {
		return err
	}
	fdes, err := t.target.FDEs()
	if err != nil {
		return err
	}

	t.stdout.pw.PageMaybe(nil)

	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, fde := range fdes {
		name := ""
		if sym, ok := t.target.FuncForPC(fde.Begin()); ok {
			name = sym.Name
		}
		if filter != nil && !filter.MatchString(name) {
			continue
		}
		fmt.Fprintf(w, "%#x\t%#x-%#x\tcie %#x\t%s\n", fde.Offset, fde.Begin(), fde.End(), fde.CIE.Offset, name)
	}
	return w.Flush()
}

func funcs(t *Term, args string) error {
	filter, err := compileFilter(args)
	if err != nil {
		return err
	}

	t.stdout.pw.PageMaybe(nil)

	for _, sym := range t.target.Funcs() {
		if filter != nil && !filter.MatchString(sym.Name) {
			continue
		}
		fmt.Fprintf(t.stdout, "%#x %s\n", sym.Addr, sym.Name)
	}
	return nil
}

func compileFilter(args string) (*regexp.Regexp, error) {
	if args == "" {
		return nil, nil
	}
	filter, err := regexp.Compile(args)
	if err != nil {
		return nil, fmt.Errorf("invalid filter argument: %v", err)
	}
	return filter, nil
}

func ehFrameHdrCmd(t *Term, args string) error {
	hdr := t.target.EhFrameHdr()
	if hdr == nil {
		return errors.New("the executable has no usable .eh_frame_hdr section")
	}

	fmt.Fprintf(t.stdout, ".eh_frame at %#x, %d rows, table encoding %s\n",
		hdr.EhFramePtr().Address, hdr.FDECount(), hdr.TableEncoding())

	table := hdr.Table()
	if table == nil {
		return nil
	}

	t.stdout.pw.PageMaybe(nil)

	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	it := table.Rows(t.target.Bases())
	n := 0
	for {
		row, err := it.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		fmt.Fprintf(w, "%#x\t%#x\n", row.Location.Address, row.FDE.Address)
		n++
		if t.conf.MaxRows != nil && n >= *t.conf.MaxRows {
			fmt.Fprintf(w, "(stopped after %d rows)\n", n)
			break
		}
	}
	return w.Flush()
}

func fdeCmd(t *Term, args string) error {
	pc, err := t.parseAddr(args)
	if err != nil {
		return err
	}
	fde, err := t.target.FDEForPC(pc)
	if err != nil {
		return err
	}
	return printFDE(t, fde)
}

func printFDE(t *Term, fde *frame.FrameDescriptionEntry) error {
	sec, _ := t.target.Section()
	bases := t.target.Bases()

	t.stdout.pw.PageMaybe(nil)

	name := ""
	if sym, ok := t.target.FuncForPC(fde.Begin()); ok {
		name = " <" + sym.Name + ">"
	}
	fmt.Fprintf(t.stdout, "FDE %#x: %#x-%#x%s\n", fde.Offset, fde.Begin(), fde.End(), name)
	if ptr, ok := fde.LSDA(); ok {
		fmt.Fprintf(t.stdout, "  lsda %#x\n", ptr.Address)
	}
	if fde.IsSignalTrampoline() {
		fmt.Fprintln(t.stdout, "  signal trampoline")
	}

	cie := fde.CIE
	fmt.Fprintf(t.stdout, "CIE %#x: version %d", cie.Offset, cie.Version)
	if cie.Augmentation != "" {
		fmt.Fprintf(t.stdout, ", augmentation %q (%s)", cie.Augmentation, cie.AugmentationData())
	}
	fmt.Fprintf(t.stdout, ", code align %d, data align %d, return address %s\n",
		cie.CodeAlignmentFactor, cie.DataAlignmentFactor,
		regnum.ToName(t.regnumArch(), cie.ReturnAddressRegister))

	fmt.Fprintln(t.stdout, "CIE instructions:")
	it, err := cie.InstructionsIter(sec, bases)
	if err != nil {
		return err
	}
	if err := printInstructions(t, it); err != nil {
		return err
	}

	fmt.Fprintln(t.stdout, "FDE instructions:")
	it, err = fde.InstructionsIter(sec, bases)
	if err != nil {
		return err
	}
	return printInstructions(t, it)
}

func printInstructions(t *Term, it *frame.InstructionIter) error {
	for {
		insn, err := it.Next()
		if err != nil {
			return err
		}
		if insn == nil {
			return nil
		}
		fmt.Fprintf(t.stdout, "  %s\n", insn)
	}
}

func tableCmd(t *Term, args string) error {
	pc, err := t.parseAddr(args)
	if err != nil {
		return err
	}
	fde, err := t.target.FDEForPC(pc)
	if err != nil {
		return err
	}
	table, err := t.target.TableForFDE(t.ctx, fde)
	if err != nil {
		return err
	}

	t.stdout.pw.PageMaybe(nil)

	if sym, ok := t.target.FuncForPC(fde.Begin()); ok {
		t.Println("> ", fmt.Sprintf("%s %#x-%#x", sym.Name, fde.Begin(), fde.End()))
	}

	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "from\tto\tcfa\trules\n")
	n := 0
	for {
		row, err := table.NextRow()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		fmt.Fprintf(w, "%#x\t%#x\t%s\t%s\n", row.Begin(), row.End(), t.formatCFA(row.CFA()), t.formatRegisterRules(row))
		n++
		if t.conf.MaxRows != nil && n >= *t.conf.MaxRows {
			fmt.Fprintf(w, "(stopped after %d rows)\n", n)
			break
		}
	}
	return w.Flush()
}

func unwindCmd(t *Term, args string) error {
	pc, err := t.parseAddr(args)
	if err != nil {
		return err
	}
	row, err := t.target.RowForPC(t.ctx, pc)
	if err != nil {
		return err
	}

	fmt.Fprintf(t.stdout, "pc %#x", pc)
	if sym, ok := t.target.FuncForPC(pc); ok {
		fmt.Fprintf(t.stdout, " <%s+%d>", sym.Name, pc-sym.Addr)
	}
	fmt.Fprintln(t.stdout)
	fmt.Fprintf(t.stdout, "  valid %#x-%#x\n", row.Begin(), row.End())
	fmt.Fprintf(t.stdout, "  cfa %s\n", t.formatCFA(row.CFA()))
	if row.SavedArgsSize() > 0 {
		fmt.Fprintf(t.stdout, "  args size %d\n", row.SavedArgsSize())
	}

	arch := t.regnumArch()
	for _, r := range sortedRules(row) {
		fmt.Fprintf(t.stdout, "  %s %s\n", regnum.ToName(arch, r.reg), t.formatRule(r.rule))
	}
	return nil
}

type regRule struct {
	reg  uint64
	rule frame.DWRule
}

func sortedRules(row *frame.UnwindTableRow) []regRule {
	var rules []regRule
	row.Registers().ForEach(func(reg uint64, rule frame.DWRule) {
		rules = append(rules, regRule{reg, rule})
	})
	sort.Slice(rules, func(i, j int) bool { return rules[i].reg < rules[j].reg })
	return rules
}

// formatCFA renders the rule computing the canonical frame address of a
// row.
func (t *Term) formatCFA(rule frame.DWRule) string {
	switch rule.Rule {
	case frame.RuleCFA:
		return fmt.Sprintf("%s%+d", regnum.ToName(t.regnumArch(), rule.Reg), rule.Offset)
	case frame.RuleExpression:
		return t.formatExpression(rule.Expression)
	}
	return "undefined"
}

// formatRule renders the rule recovering the previous value of a
// register, in terms of the CFA of the row. Brackets mean the value is
// read from memory.
func (t *Term) formatRule(rule frame.DWRule) string {
	switch rule.Rule {
	case frame.RuleUndefined:
		return "undefined"
	case frame.RuleSameVal:
		return "same value"
	case frame.RuleOffset:
		return fmt.Sprintf("[cfa%+d]", rule.Offset)
	case frame.RuleValOffset:
		return fmt.Sprintf("cfa%+d", rule.Offset)
	case frame.RuleRegister:
		return regnum.ToName(t.regnumArch(), rule.Reg)
	case frame.RuleExpression:
		return "[" + t.formatExpression(rule.Expression) + "]"
	case frame.RuleValExpression:
		return t.formatExpression(rule.Expression)
	case frame.RuleConstant:
		return strconv.FormatUint(rule.Constant, 10)
	case frame.RuleCFA:
		return "cfa"
	}
	return "?"
}

func (t *Term) formatExpression(expression []byte) string {
	var buf strings.Builder
	frame.PrettyPrintExpression(&buf, expression)
	return strings.TrimSpace(buf.String())
}

func (t *Term) formatRegisterRules(row *frame.UnwindTableRow) string {
	arch := t.regnumArch()
	rules := sortedRules(row)
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = fmt.Sprintf("%s=%s", regnum.ToName(arch, r.reg), t.formatRule(r.rule))
	}
	return strings.Join(parts, " ")
}

// parseAddr interprets args either as an address literal or as the name
// of a function.
func (t *Term) parseAddr(args string) (uint64, error) {
	if args == "" {
		return 0, errors.New("not enough arguments")
	}
	if n, err := strconv.ParseUint(args, 0, 64); err == nil {
		return n, nil
	}
	if sym, ok := t.target.FuncForName(args); ok {
		return sym.Addr, nil
	}
	return 0, fmt.Errorf("could not find function %q", args)
}

func sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return errors.New("wrong number of arguments: source <filename>")
	}
	return t.cmds.executeFile(t, args)
}

func transcriptCmd(t *Term, args string) error {
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return err
	}
	var words []string
	if len(v) > 0 {
		words = v[0]
	}

	truncate := false
	fileOnly := false
	path := ""
	for _, w := range words {
		switch w {
		case "-clear":
			if t.stdout.file == nil {
				return errors.New("no transcript in progress")
			}
			return t.stdout.CloseTranscript()
		case "-t":
			truncate = true
		case "-x":
			fileOnly = true
		default:
			if path != "" {
				return fmt.Errorf("unrecognized option %q", w)
			}
			path = w
		}
	}

	if path == "" {
		return errors.New("wrong number of arguments: transcript [-t] [-x] <output file>")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags = os.O_TRUNC | os.O_WRONLY | os.O_CREATE
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}
	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}
	t.stdout.TranscribeTo(fh, fileOnly)
	fmt.Fprintf(t.stdout, "Transcribing output to %s\n", path)
	return nil
}

// ExitRequestError is returned when the user exits the terminal.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
