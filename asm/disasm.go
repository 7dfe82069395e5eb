package asm

import (
	"fmt"
	"strings"

	"github.com/pixelvm-project/pixelvm/isa"
)

// Disassemble decodes a ROM byte stream back into assembly text, one
// instruction per line prefixed with its byte offset as a label so the
// output reassembles to the same bytes (modulo label names).
func Disassemble(rom []byte) (string, error) {
	var b strings.Builder
	offset := 0

	for offset < len(rom) {
		def, ok := isa.Decode(isa.Opcode(rom[offset]))
		if !ok {
			return "", fmt.Errorf("asm: unknown opcode 0x%02X at offset %d", rom[offset], offset)
		}
		if offset+def.Size() > len(rom) {
			return "", fmt.Errorf("asm: truncated instruction %s at offset %d", def.Mnemonic, offset)
		}

		fmt.Fprintf(&b, "L%04X: %s", offset, def.Mnemonic)

		relative := make(map[int]bool, len(def.AddrRelative))
		for _, idx := range def.AddrRelative {
			relative[idx] = true
		}

		cursor := offset + 1
		for i, kind := range def.Operands {
			if i == 0 {
				b.WriteByte(' ')
			} else {
				b.WriteString(", ")
			}
			switch kind {
			case isa.KindReg:
				fmt.Fprintf(&b, "R%d", rom[cursor])
				cursor++
			case isa.KindAddr16:
				addr := uint16(rom[cursor]) | uint16(rom[cursor+1])<<8
				if relative[i] {
					// Branch/call targets are ROM-relative offsets that
					// land on another instruction's own L%04X label.
					fmt.Fprintf(&b, "L%04X", addr)
				} else {
					// LOAD/STR address the full memory space directly;
					// this is not necessarily an instruction boundary.
					fmt.Fprintf(&b, "0x%04X", addr)
				}
				cursor += 2
			case isa.KindImm16:
				imm := uint16(rom[cursor]) | uint16(rom[cursor+1])<<8
				fmt.Fprintf(&b, "%d", imm)
				cursor += 2
			case isa.KindImm32:
				imm := uint32(rom[cursor]) | uint32(rom[cursor+1])<<8 | uint32(rom[cursor+2])<<16 | uint32(rom[cursor+3])<<24
				fmt.Fprintf(&b, "%d", imm)
				cursor += 4
			}
		}
		b.WriteByte('\n')
		offset += def.Size()
	}

	return b.String(), nil
}
