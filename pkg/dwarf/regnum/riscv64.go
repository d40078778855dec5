package regnum

import "fmt"

// The mapping between hardware registers and DWARF registers, See
// https://github.com/riscv-non-isa/riscv-elf-psabi-doc/blob/master/riscv-dwarf.adoc

const (
	RISCV64_X0 = 0
	// Link Register
	RISCV64_LR = 1
	// Stack Pointer
	RISCV64_SP = 2
	// Frame Pointer, also s0
	RISCV64_FP  = 8
	RISCV64_X31 = 31

	RISCV64_F0  = 32
	RISCV64_F31 = 63

	// Not defined in the DWARF specification
	RISCV64_PC = 65
)

func RISCV64ToName(num uint64) string {
	switch {
	case num <= RISCV64_X31:
		return fmt.Sprintf("X%d", num)

	case num >= RISCV64_F0 && num <= RISCV64_F31:
		return fmt.Sprintf("F%d", num)

	case num == RISCV64_PC:
		return "PC"

	default:
		return fmt.Sprintf("unknown%d", num)
	}
}
