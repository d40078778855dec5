// Package regnum contains the DWARF register numbering for the
// architectures we can name registers for, as defined by the respective
// ABI supplements.
package regnum

import "fmt"

// Arches lists the architectures accepted by ToName.
var Arches = []string{"amd64", "arm64", "386", "loong64", "ppc64le", "riscv64"}

// ToName returns the name of the register with the given DWARF number on
// the given architecture.
func ToName(arch string, num uint64) string {
	switch arch {
	case "amd64":
		return AMD64ToName(num)
	case "arm64":
		return ARM64ToName(num)
	case "386":
		return I386ToName(num)
	case "loong64":
		return LOONG64ToName(num)
	case "ppc64le":
		return PPC64LEToName(num)
	case "riscv64":
		return RISCV64ToName(num)
	}
	return fmt.Sprintf("reg%d", num)
}

// Supported returns true if arch is an architecture ToName can name
// registers for.
func Supported(arch string) bool {
	for _, a := range Arches {
		if a == arch {
			return true
		}
	}
	return false
}
