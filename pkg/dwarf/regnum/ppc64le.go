package regnum

import "fmt"

// The mapping between hardware registers and DWARF registers is specified
// in the 64-Bit ELF V2 ABI Specification of the Power Architecture in section
// 2.4 DWARF Definition
// https://openpowerfoundation.org/specifications/64bitelfabi/

const (
	// General purpose registers: from r0 to r31
	PPC64LE_FIRST_GPR = 0
	PPC64LE_LAST_GPR  = 31
	// Floating point registers: from f0 to f31
	PPC64LE_FIRST_FPR = 32
	PPC64LE_LAST_FPR  = 63
	// Vector (Altivec/VMX) registers: from v0 to v31
	PPC64LE_FIRST_VMX = 77
	PPC64LE_LAST_VMX  = 108

	// Special registers
	PPC64LE_SP = 1  // Stack frame pointer: Gpr[1]
	PPC64LE_PC = 12 // The documentation refers to this as the CIA (Current Instruction Address)
	PPC64LE_LR = 65 // Link register
)

func PPC64LEToName(num uint64) string {
	switch {
	case num == PPC64LE_SP:
		return "SP"
	case num == PPC64LE_PC:
		return "PC"
	case num == PPC64LE_LR:
		return "LR"
	case num <= PPC64LE_LAST_GPR:
		return fmt.Sprintf("r%d", num-PPC64LE_FIRST_GPR)
	case num >= PPC64LE_FIRST_FPR && num <= PPC64LE_LAST_FPR:
		return fmt.Sprintf("f%d", num-PPC64LE_FIRST_FPR)
	case num >= PPC64LE_FIRST_VMX && num <= PPC64LE_LAST_VMX:
		return fmt.Sprintf("v%d", num-PPC64LE_FIRST_VMX)
	default:
		return fmt.Sprintf("unknown%d", num)
	}
}
