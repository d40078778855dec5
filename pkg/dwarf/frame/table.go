package frame

import (
	"bytes"

	"github.com/go-unwind/unwind/pkg/dwarf/regnum"
)

// Rule rule defined for register values.
type Rule byte

const (
	RuleUndefined Rule = iota
	RuleSameVal
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleExpression
	RuleValExpression
	RuleArchitectural
	RuleConstant
	RuleCFA // Value is rule.Reg + rule.Offset
)

// DWRule wrapper of rule defined for register values.
type DWRule struct {
	Rule       Rule
	Offset     int64
	Reg        uint64
	Expression []byte
	Constant   uint64
}

// Default storage limits of an UnwindContext. The register rule limit
// follows what libunwind preallocates for its largest targets.
const (
	maxUnwindStackDepth = 4
	maxRegisterRules    = 192
)

type registerRule struct {
	reg  uint64
	rule DWRule
}

// RegisterRuleMap holds the register rules of one unwind table row. The
// rules are stored as (register, rule) pairs, a register with no entry
// has the undefined rule, and an undefined rule is never stored.
type RegisterRuleMap struct {
	rules []registerRule
	limit int
}

func newRegisterRuleMap(limit int) RegisterRuleMap {
	m := RegisterRuleMap{limit: limit}
	if limit > 0 {
		m.rules = make([]registerRule, 0, limit)
	}
	return m
}

// Rule returns the rule of reg.
func (m *RegisterRuleMap) Rule(reg uint64) DWRule {
	for i := range m.rules {
		if m.rules[i].reg == reg {
			return m.rules[i].rule
		}
	}
	return DWRule{Rule: RuleUndefined}
}

// SetRule changes the rule of reg. Setting the undefined rule removes
// the entry of reg.
func (m *RegisterRuleMap) SetRule(reg uint64, rule DWRule) error {
	if rule.Rule == RuleUndefined {
		for i := range m.rules {
			if m.rules[i].reg == reg {
				last := len(m.rules) - 1
				m.rules[i] = m.rules[last]
				m.rules = m.rules[:last]
				break
			}
		}
		return nil
	}

	for i := range m.rules {
		if m.rules[i].reg == reg {
			m.rules[i].rule = rule
			return nil
		}
	}

	if m.limit > 0 && len(m.rules) >= m.limit {
		return ErrTooManyRegisterRules
	}
	m.rules = append(m.rules, registerRule{reg: reg, rule: rule})
	return nil
}

// Len returns the number of registers with a defined rule.
func (m *RegisterRuleMap) Len() int {
	return len(m.rules)
}

// ForEach calls f for every register with a defined rule, in storage
// order.
func (m *RegisterRuleMap) ForEach(f func(reg uint64, rule DWRule)) {
	for i := range m.rules {
		f(m.rules[i].reg, m.rules[i].rule)
	}
}

// Equal returns true if the two maps assign the same rule to every
// register.
func (m *RegisterRuleMap) Equal(other *RegisterRuleMap) bool {
	if len(m.rules) != len(other.rules) {
		return false
	}
	for i := range m.rules {
		if !rulesEqual(m.rules[i].rule, other.Rule(m.rules[i].reg)) {
			return false
		}
	}
	return true
}

func rulesEqual(a, b DWRule) bool {
	return a.Rule == b.Rule && a.Offset == b.Offset && a.Reg == b.Reg &&
		a.Constant == b.Constant && bytes.Equal(a.Expression, b.Expression)
}

func (m *RegisterRuleMap) clear() {
	m.rules = m.rules[:0]
}

func (m *RegisterRuleMap) copyFrom(other *RegisterRuleMap) {
	m.rules = append(m.rules[:0], other.rules...)
}

// UnwindTableRow describes how to recover the registers of the caller
// for the addresses in [Begin, End).
type UnwindTableRow struct {
	start, end    uint64
	savedArgsSize uint64
	cfa           DWRule
	registers     RegisterRuleMap
}

// Begin returns the first address the row applies to.
func (row *UnwindTableRow) Begin() uint64 {
	return row.start
}

// End returns the first address past the row.
func (row *UnwindTableRow) End() uint64 {
	return row.end
}

// Contains returns whether the row applies to addr.
func (row *UnwindTableRow) Contains(addr uint64) bool {
	return row.start <= addr && addr < row.end
}

// CFA returns the rule that computes the canonical frame address.
func (row *UnwindTableRow) CFA() DWRule {
	return row.cfa
}

// SavedArgsSize returns the argument size recorded by
// DW_CFA_GNU_args_size, zero if none was.
func (row *UnwindTableRow) SavedArgsSize() uint64 {
	return row.savedArgsSize
}

// Registers returns the register rules of the row.
func (row *UnwindTableRow) Registers() *RegisterRuleMap {
	return &row.registers
}

// Clone returns a copy of the row that stays valid after the unwind
// table moves past it.
func (row *UnwindTableRow) Clone() *UnwindTableRow {
	clone := &UnwindTableRow{
		start:         row.start,
		end:           row.end,
		savedArgsSize: row.savedArgsSize,
		cfa:           row.cfa,
	}
	clone.registers.limit = row.registers.limit
	clone.registers.rules = append([]registerRule(nil), row.registers.rules...)
	return clone
}

func resetRow(row *UnwindTableRow) {
	row.start = 0
	row.end = 0
	row.savedArgsSize = 0
	row.cfa = DWRule{Rule: RuleCFA}
	row.registers.clear()
}

type initialRule struct {
	reg  uint64
	rule DWRule
}

// UnwindContext holds the state of the call frame instruction
// interpreter. A context is created once and reused across many FDE
// evaluations, its row stack and rule storage are only allocated the
// first time they are needed.
type UnwindContext struct {
	// stack[:stackLen] are the live rows, the current row is the last
	// one. Slots past stackLen keep their storage for reuse.
	stack    []UnwindTableRow
	stackLen int

	stackDepth    int
	registerRules int

	// initialRule caches the register rules established by the initial
	// instructions of the CIE: nil before initialization and while the
	// CIE program runs, nil with stack[0] holding the full initial row
	// if more than one register deviated, otherwise the single
	// deviating rule (or a synthetic undefined rule for register 0).
	initialRule   *initialRule
	isInitialized bool
}

// NewUnwindContext returns a context with the default bounded storage:
// overflowing it is a hard error, advancing through rows never
// allocates.
func NewUnwindContext() *UnwindContext {
	return NewUnwindContextWithStorage(maxUnwindStackDepth, maxRegisterRules)
}

// NewUnwindContextWithStorage returns a context that holds at most
// stackDepth rows of registerRules rules each. A limit of 0 grows on
// demand instead of failing.
func NewUnwindContextWithStorage(stackDepth, registerRules int) *UnwindContext {
	ctx := &UnwindContext{stackDepth: stackDepth, registerRules: registerRules}
	if stackDepth > 0 {
		ctx.stack = make([]UnwindTableRow, stackDepth)
		for i := range ctx.stack {
			ctx.stack[i].registers = newRegisterRuleMap(registerRules)
		}
	}
	ctx.reset()
	return ctx
}

func (ctx *UnwindContext) reset() {
	if len(ctx.stack) == 0 {
		ctx.stack = append(ctx.stack, UnwindTableRow{registers: newRegisterRuleMap(ctx.registerRules)})
	}
	ctx.stackLen = 1
	resetRow(&ctx.stack[0])
	ctx.initialRule = nil
	ctx.isInitialized = false
}

func (ctx *UnwindContext) row() *UnwindTableRow {
	return &ctx.stack[ctx.stackLen-1]
}

func (ctx *UnwindContext) startAddress() uint64 {
	return ctx.row().start
}

// growRow makes one more row slot live and returns it reset.
func (ctx *UnwindContext) growRow() (*UnwindTableRow, error) {
	if ctx.stackDepth > 0 && ctx.stackLen >= ctx.stackDepth {
		return nil, ErrStackFull
	}
	if ctx.stackLen == len(ctx.stack) {
		ctx.stack = append(ctx.stack, UnwindTableRow{registers: newRegisterRuleMap(ctx.registerRules)})
	}
	ctx.stackLen++
	row := ctx.row()
	resetRow(row)
	return row, nil
}

func (ctx *UnwindContext) pushRow() error {
	row, err := ctx.growRow()
	if err != nil {
		return err
	}
	src := &ctx.stack[ctx.stackLen-2]
	row.start = src.start
	row.end = src.end
	row.savedArgsSize = src.savedArgsSize
	row.cfa = src.cfa
	row.registers.copyFrom(&src.registers)
	return nil
}

func (ctx *UnwindContext) popRow() error {
	minSize := 1
	if ctx.isInitialized && ctx.initialRule == nil {
		// stack[0] holds the initial row, it is never popped.
		minSize = 2
	}
	if ctx.stackLen <= minSize {
		return ErrPopEmptyStack
	}
	ctx.stackLen--
	return nil
}

func (ctx *UnwindContext) saveInitialRules() error {
	switch len(ctx.row().registers.rules) {
	case 0:
		// All rules are default. Synthesize an undefined rule so that
		// later restores find something to restore to.
		ctx.initialRule = &initialRule{reg: 0, rule: DWRule{Rule: RuleUndefined}}
	case 1:
		rr := ctx.row().registers.rules[0]
		ctx.initialRule = &initialRule{reg: rr.reg, rule: rr.rule}
	default:
		// Keep the whole row, inserted below the working row so pops
		// cannot remove it.
		if err := ctx.insertInitialRow(); err != nil {
			return err
		}
		ctx.initialRule = nil
	}
	ctx.isInitialized = true
	return nil
}

func (ctx *UnwindContext) insertInitialRow() error {
	if _, err := ctx.growRow(); err != nil {
		return err
	}
	n := ctx.stackLen - 1
	spare := ctx.stack[n]
	copy(ctx.stack[1:n+1], ctx.stack[0:n])
	ctx.stack[0] = spare
	src := &ctx.stack[n]
	dst := &ctx.stack[0]
	dst.start = src.start
	dst.end = src.end
	dst.savedArgsSize = src.savedArgsSize
	dst.cfa = src.cfa
	dst.registers.copyFrom(&src.registers)
	return nil
}

// getInitialRule returns the rule reg had after the initial instructions
// of the CIE. It returns false while those instructions are still being
// evaluated.
func (ctx *UnwindContext) getInitialRule(reg uint64) (DWRule, bool) {
	if !ctx.isInitialized {
		return DWRule{}, false
	}
	switch {
	case ctx.initialRule == nil:
		return ctx.stack[0].registers.Rule(reg), true
	case ctx.initialRule.reg == reg:
		return ctx.initialRule.rule, true
	}
	return DWRule{Rule: RuleUndefined}, true
}

// initialize runs the initial instructions of cie and caches the
// resulting register rules.
func (ctx *UnwindContext) initialize(section *Section, bases *BaseAddresses, cie *CommonInformationEntry) error {
	// Always reset, an earlier initialization failure leaves dirty state.
	ctx.reset()

	table, err := newUnwindTableForCIE(section, bases, ctx, cie)
	if err != nil {
		return err
	}
	for {
		row, err := table.NextRow()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
	}
	return ctx.saveInitialRules()
}

// UnwindTable evaluates the call frame instruction program of one FDE,
// yielding the rows of the unwind table one at a time.
type UnwindTable struct {
	codeAlignmentFactor uint64
	dataAlignmentFactor int64
	nextStartAddress    uint64
	lastEndAddress      uint64
	returnedLastRow     bool
	instructions        *InstructionIter
	ctx                 *UnwindContext
}

// NewUnwindTable initializes ctx with the CIE of fde and returns a table
// over the instruction program of fde. The FDE must have been parsed
// from section.
func NewUnwindTable(section *Section, bases *BaseAddresses, ctx *UnwindContext, fde *FrameDescriptionEntry) (*UnwindTable, error) {
	if err := ctx.initialize(section, bases, fde.CIE); err != nil {
		return nil, err
	}
	return newUnwindTableForFDE(section, bases, ctx, fde)
}

func newUnwindTableForFDE(section *Section, bases *BaseAddresses, ctx *UnwindContext, fde *FrameDescriptionEntry) (*UnwindTable, error) {
	instructions, err := fde.InstructionsIter(section, bases)
	if err != nil {
		return nil, err
	}
	return &UnwindTable{
		codeAlignmentFactor: fde.CIE.CodeAlignmentFactor,
		dataAlignmentFactor: fde.CIE.DataAlignmentFactor,
		nextStartAddress:    fde.Begin(),
		lastEndAddress:      fde.End(),
		instructions:        instructions,
		ctx:                 ctx,
	}, nil
}

func newUnwindTableForCIE(section *Section, bases *BaseAddresses, ctx *UnwindContext, cie *CommonInformationEntry) (*UnwindTable, error) {
	instructions, err := cie.InstructionsIter(section, bases)
	if err != nil {
		return nil, err
	}
	return &UnwindTable{
		codeAlignmentFactor: cie.CodeAlignmentFactor,
		dataAlignmentFactor: cie.DataAlignmentFactor,
		instructions:        instructions,
		ctx:                 ctx,
	}, nil
}

// NextRow evaluates instructions until the next row of the table is
// complete and returns it, nil after the last row. The returned row is
// shared with the context, it is only valid until the next call. Clone
// it to keep it.
func (t *UnwindTable) NextRow() (*UnwindTableRow, error) {
	t.ctx.row().start = t.nextStartAddress

	for {
		insn, err := t.instructions.Next()
		if err != nil {
			return nil, err
		}
		if insn == nil {
			if t.returnedLastRow {
				return nil, nil
			}
			row := t.ctx.row()
			row.end = t.lastEndAddress
			t.returnedLastRow = true
			return row, nil
		}
		rowDone, err := t.evaluate(insn)
		if err != nil {
			return nil, err
		}
		if rowDone {
			return t.ctx.row(), nil
		}
	}
}

// evaluate applies one instruction to the current row. It returns true
// if the instruction completed the row.
func (t *UnwindTable) evaluate(insn CallFrameInstruction) (bool, error) {
	ctx := t.ctx
	switch insn := insn.(type) {
	// Instructions that complete the current row and advance the
	// address for the next row.
	case SetLoc:
		if insn.Address < ctx.startAddress() {
			return false, ErrInvalidAddressRange
		}
		t.nextStartAddress = insn.Address
		ctx.row().end = t.nextStartAddress
		return true, nil

	case AdvanceLoc:
		// Address arithmetic wraps around on overflow.
		delta := uint64(insn.Delta) * t.codeAlignmentFactor
		t.nextStartAddress = ctx.startAddress() + delta
		ctx.row().end = t.nextStartAddress
		return true, nil

	// Instructions that modify the CFA.
	case DefCfa:
		ctx.row().cfa = DWRule{Rule: RuleCFA, Reg: insn.Register, Offset: int64(insn.Offset)}

	case DefCfaSf:
		ctx.row().cfa = DWRule{Rule: RuleCFA, Reg: insn.Register, Offset: insn.FactoredOffset * t.dataAlignmentFactor}

	case DefCfaRegister:
		cfa := &ctx.row().cfa
		if cfa.Rule != RuleCFA {
			return false, ErrInvalidInstructionContext
		}
		cfa.Reg = insn.Register

	case DefCfaOffset:
		cfa := &ctx.row().cfa
		if cfa.Rule != RuleCFA {
			return false, ErrInvalidInstructionContext
		}
		cfa.Offset = int64(insn.Offset)

	case DefCfaOffsetSf:
		cfa := &ctx.row().cfa
		if cfa.Rule != RuleCFA {
			return false, ErrInvalidInstructionContext
		}
		cfa.Offset = insn.FactoredOffset * t.dataAlignmentFactor

	case DefCfaExpression:
		ctx.row().cfa = DWRule{Rule: RuleExpression, Expression: insn.Expression}

	// Instructions that define register rules.
	case Undefined:
		if err := ctx.row().registers.SetRule(insn.Register, DWRule{Rule: RuleUndefined}); err != nil {
			return false, err
		}

	case SameValue:
		if err := ctx.row().registers.SetRule(insn.Register, DWRule{Rule: RuleSameVal}); err != nil {
			return false, err
		}

	case Offset:
		// Factored offsets wrap around on overflow.
		rule := DWRule{Rule: RuleOffset, Offset: int64(insn.FactoredOffset) * t.dataAlignmentFactor}
		if err := ctx.row().registers.SetRule(insn.Register, rule); err != nil {
			return false, err
		}

	case OffsetExtendedSf:
		rule := DWRule{Rule: RuleOffset, Offset: insn.FactoredOffset * t.dataAlignmentFactor}
		if err := ctx.row().registers.SetRule(insn.Register, rule); err != nil {
			return false, err
		}

	case ValOffset:
		rule := DWRule{Rule: RuleValOffset, Offset: int64(insn.FactoredOffset) * t.dataAlignmentFactor}
		if err := ctx.row().registers.SetRule(insn.Register, rule); err != nil {
			return false, err
		}

	case ValOffsetSf:
		rule := DWRule{Rule: RuleValOffset, Offset: insn.FactoredOffset * t.dataAlignmentFactor}
		if err := ctx.row().registers.SetRule(insn.Register, rule); err != nil {
			return false, err
		}

	case Register:
		rule := DWRule{Rule: RuleRegister, Reg: insn.SrcRegister}
		if err := ctx.row().registers.SetRule(insn.DestRegister, rule); err != nil {
			return false, err
		}

	case Expression:
		rule := DWRule{Rule: RuleExpression, Expression: insn.Expression}
		if err := ctx.row().registers.SetRule(insn.Register, rule); err != nil {
			return false, err
		}

	case ValExpression:
		rule := DWRule{Rule: RuleValExpression, Expression: insn.Expression}
		if err := ctx.row().registers.SetRule(insn.Register, rule); err != nil {
			return false, err
		}

	case Restore:
		rule, ok := ctx.getInitialRule(insn.Register)
		if !ok {
			// Cannot restore the initial rule while the initial
			// instructions are being evaluated.
			return false, ErrInvalidInstructionContext
		}
		if err := ctx.row().registers.SetRule(insn.Register, rule); err != nil {
			return false, err
		}

	// Row push and pop instructions.
	case RememberState:
		if err := ctx.pushRow(); err != nil {
			return false, err
		}

	case RestoreState:
		// Pop the rules but keep the current location.
		start := ctx.startAddress()
		if err := ctx.popRow(); err != nil {
			return false, err
		}
		ctx.row().start = start

	case ArgsSize:
		ctx.row().savedArgsSize = insn.Size

	case NegateRaState:
		rule := ctx.row().registers.Rule(regnum.ARM64_RASignState)
		var value uint64
		switch rule.Rule {
		case RuleUndefined:
			value = 0
		case RuleConstant:
			value = rule.Constant
		default:
			return false, ErrInvalidInstructionContext
		}
		rule = DWRule{Rule: RuleConstant, Constant: value ^ 1}
		if err := ctx.row().registers.SetRule(regnum.ARM64_RASignState, rule); err != nil {
			return false, err
		}

	case Nop:
	}

	return false, nil
}

// UnwindInfoForAddress evaluates the instruction program of fde until
// the row covering address is found. The returned row is shared with
// ctx, it is only valid until ctx is used again.
func (fde *FrameDescriptionEntry) UnwindInfoForAddress(section *Section, bases *BaseAddresses, ctx *UnwindContext, address uint64) (*UnwindTableRow, error) {
	table, err := NewUnwindTable(section, bases, ctx, fde)
	if err != nil {
		return nil, err
	}
	for {
		row, err := table.NextRow()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, ErrNoUnwindInfoForAddress
		}
		if row.Contains(address) {
			return row, nil
		}
	}
}

// UnwindInfoForAddress finds the FDE covering address with a linear scan
// of the section and returns its table row for that address.
func (s *Section) UnwindInfoForAddress(bases *BaseAddresses, ctx *UnwindContext, address uint64, getCIE func(uint64) (*CommonInformationEntry, error)) (*UnwindTableRow, error) {
	fde, err := s.FDEForAddress(bases, address, getCIE)
	if err != nil {
		return nil, err
	}
	return fde.UnwindInfoForAddress(s, bases, ctx, address)
}
