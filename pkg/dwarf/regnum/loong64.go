package regnum

import "fmt"

// The mapping between hardware registers and DWARF registers, See
// https://loongson.github.io/LoongArch-Documentation/LoongArch-Vol1-EN.html
// https://loongson.github.io/LoongArch-Documentation/LoongArch-ELF-ABI-EN.html

const (
	LOONG64_R0  = 0
	LOONG64_LR  = 1 // ra: address for subroutine
	LOONG64_SP  = 3 // sp: stack pointer
	LOONG64_FP  = 22
	LOONG64_R31 = 31

	LOONG64_F0  = 32
	LOONG64_F31 = 63

	// Floating condition flag registers
	LOONG64_FCC0 = 64
	LOONG64_FCC7 = 71

	LOONG64_FCSR = 72

	// Extra, not defined in the ELF-ABI specification
	LOONG64_ERA  = 73
	LOONG64_BADV = 74

	// era : exception program counter
	LOONG64_PC = LOONG64_ERA
)

func LOONG64ToName(num uint64) string {
	switch {
	case num <= LOONG64_R31:
		return fmt.Sprintf("R%d", num)

	case num >= LOONG64_F0 && num <= LOONG64_F31:
		return fmt.Sprintf("F%d", num-LOONG64_F0)

	case num >= LOONG64_FCC0 && num <= LOONG64_FCC7:
		return fmt.Sprintf("FCC%d", num-LOONG64_FCC0)

	case num == LOONG64_FCSR:
		return "FCSR"

	case num == LOONG64_ERA:
		return "ERA"

	case num == LOONG64_BADV:
		return "BADV"

	default:
		return fmt.Sprintf("unknown%d", num)
	}
}
