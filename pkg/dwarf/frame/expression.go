package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-unwind/unwind/pkg/dwarf/leb128"
)

var dwOpName = map[byte]string{
	DW_OP_addr:                "DW_OP_addr",
	DW_OP_deref:               "DW_OP_deref",
	DW_OP_const1u:             "DW_OP_const1u",
	DW_OP_const1s:             "DW_OP_const1s",
	DW_OP_const2u:             "DW_OP_const2u",
	DW_OP_const2s:             "DW_OP_const2s",
	DW_OP_const4u:             "DW_OP_const4u",
	DW_OP_const4s:             "DW_OP_const4s",
	DW_OP_const8u:             "DW_OP_const8u",
	DW_OP_const8s:             "DW_OP_const8s",
	DW_OP_constu:              "DW_OP_constu",
	DW_OP_consts:              "DW_OP_consts",
	DW_OP_dup:                 "DW_OP_dup",
	DW_OP_drop:                "DW_OP_drop",
	DW_OP_over:                "DW_OP_over",
	DW_OP_pick:                "DW_OP_pick",
	DW_OP_swap:                "DW_OP_swap",
	DW_OP_rot:                 "DW_OP_rot",
	DW_OP_xderef:              "DW_OP_xderef",
	DW_OP_abs:                 "DW_OP_abs",
	DW_OP_and:                 "DW_OP_and",
	DW_OP_div:                 "DW_OP_div",
	DW_OP_minus:               "DW_OP_minus",
	DW_OP_mod:                 "DW_OP_mod",
	DW_OP_mul:                 "DW_OP_mul",
	DW_OP_neg:                 "DW_OP_neg",
	DW_OP_not:                 "DW_OP_not",
	DW_OP_or:                  "DW_OP_or",
	DW_OP_plus:                "DW_OP_plus",
	DW_OP_plus_uconst:         "DW_OP_plus_uconst",
	DW_OP_shl:                 "DW_OP_shl",
	DW_OP_shr:                 "DW_OP_shr",
	DW_OP_shra:                "DW_OP_shra",
	DW_OP_xor:                 "DW_OP_xor",
	DW_OP_skip:                "DW_OP_skip",
	DW_OP_bra:                 "DW_OP_bra",
	DW_OP_eq:                  "DW_OP_eq",
	DW_OP_ge:                  "DW_OP_ge",
	DW_OP_gt:                  "DW_OP_gt",
	DW_OP_le:                  "DW_OP_le",
	DW_OP_lt:                  "DW_OP_lt",
	DW_OP_ne:                  "DW_OP_ne",
	DW_OP_regx:                "DW_OP_regx",
	DW_OP_fbreg:               "DW_OP_fbreg",
	DW_OP_bregx:               "DW_OP_bregx",
	DW_OP_piece:               "DW_OP_piece",
	DW_OP_deref_size:          "DW_OP_deref_size",
	DW_OP_xderef_size:         "DW_OP_xderef_size",
	DW_OP_nop:                 "DW_OP_nop",
	DW_OP_push_object_address: "DW_OP_push_object_address",
	DW_OP_call2:               "DW_OP_call2",
	DW_OP_call4:               "DW_OP_call4",
	DW_OP_call_ref:            "DW_OP_call_ref",
	DW_OP_form_tls_address:    "DW_OP_form_tls_address",
	DW_OP_call_frame_cfa:      "DW_OP_call_frame_cfa",
	DW_OP_bit_piece:           "DW_OP_bit_piece",
}

// Operand shapes: 's'/'u' are sleb128/uleb128, digits are fixed widths.
var dwOpArgs = map[byte]string{
	DW_OP_addr:        "8",
	DW_OP_const1u:     "1",
	DW_OP_const1s:     "1",
	DW_OP_const2u:     "2",
	DW_OP_const2s:     "2",
	DW_OP_const4u:     "4",
	DW_OP_const4s:     "4",
	DW_OP_const8u:     "8",
	DW_OP_const8s:     "8",
	DW_OP_constu:      "u",
	DW_OP_consts:      "s",
	DW_OP_pick:        "1",
	DW_OP_plus_uconst: "u",
	DW_OP_skip:        "2",
	DW_OP_bra:         "2",
	DW_OP_regx:        "u",
	DW_OP_fbreg:       "s",
	DW_OP_bregx:       "us",
	DW_OP_piece:       "u",
	DW_OP_deref_size:  "1",
	DW_OP_xderef_size: "1",
	DW_OP_call2:       "2",
	DW_OP_call4:       "4",
	DW_OP_call_ref:    "4",
	DW_OP_bit_piece:   "uu",
}

func init() {
	for i := byte(0); i < 32; i++ {
		dwOpName[DW_OP_lit0+i] = fmt.Sprintf("DW_OP_lit%d", i)
		dwOpName[DW_OP_reg0+i] = fmt.Sprintf("DW_OP_reg%d", i)
		dwOpName[DW_OP_breg0+i] = fmt.Sprintf("DW_OP_breg%d", i)
		dwOpArgs[DW_OP_breg0+i] = "s"
	}
}

// PrettyPrintExpression writes a readable rendering of a DWARF
// expression program to out, one mnemonic per operation followed by its
// operands. Opcodes without a name are printed as raw bytes.
func PrettyPrintExpression(out io.Writer, expression []byte) {
	in := bytes.NewBuffer(expression)

	for {
		opcode, err := in.ReadByte()
		if err != nil {
			break
		}
		if name, ok := dwOpName[opcode]; ok {
			io.WriteString(out, name)
			out.Write([]byte{' '})
		} else {
			fmt.Fprintf(out, "%#x ", opcode)
		}
		for _, arg := range dwOpArgs[opcode] {
			switch arg {
			case 's':
				n, _, _ := leb128.DecodeSigned(in)
				fmt.Fprintf(out, "%d ", n)
			case 'u':
				n, _, _ := leb128.DecodeUnsigned(in)
				fmt.Fprintf(out, "%d ", n)
			case '1':
				var x uint8
				binary.Read(in, binary.LittleEndian, &x)
				fmt.Fprintf(out, "%#x ", x)
			case '2':
				var x uint16
				binary.Read(in, binary.LittleEndian, &x)
				fmt.Fprintf(out, "%#x ", x)
			case '4':
				var x uint32
				binary.Read(in, binary.LittleEndian, &x)
				fmt.Fprintf(out, "%#x ", x)
			case '8':
				var x uint64
				binary.Read(in, binary.LittleEndian, &x)
				fmt.Fprintf(out, "%#x ", x)
			}
		}
	}
}
