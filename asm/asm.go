// Package asm is the pixelvm two-pass assembler: text in, ROM bytes out.
//
// Pass one walks every line, resolving each label to the byte offset it
// will occupy once assembled; pass two re-walks the same lines and emits
// the encoded instruction stream, resolving label operands against the
// pass-one table.
package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pixelvm-project/pixelvm/isa"
)

// Error reports an assembly failure with the source line it occurred on.
type Error struct {
	Line    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

var registerNames = func() map[string]int {
	m := make(map[string]int, isa.NumRegisters)
	for i := 0; i < isa.NumRegisters; i++ {
		m[fmt.Sprintf("R%d", i)] = i
	}
	return m
}()

type statement struct {
	line     int
	mnemonic string
	operands []string
	labels   []string // labels attached to this statement, in source order
}

// Assemble compiles source text into a flat ROM byte stream.
func Assemble(source string) ([]byte, error) {
	statements, trailingLabels, err := parseLines(source)
	if err != nil {
		return nil, err
	}

	labelOffsets, size, err := resolveLabels(statements, trailingLabels)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, size)
	for _, st := range statements {
		def, ok := isa.Lookup(st.mnemonic)
		if !ok {
			return nil, &Error{Line: st.line, Message: fmt.Sprintf("unknown mnemonic %q", st.mnemonic)}
		}
		if len(st.operands) != len(def.Operands) {
			return nil, &Error{Line: st.line, Message: fmt.Sprintf("%s expects %d operands, got %d", st.mnemonic, len(def.Operands), len(st.operands))}
		}

		encoded := []byte{byte(def.Opcode)}
		for i, kind := range def.Operands {
			operand := st.operands[i]
			switch kind {
			case isa.KindReg:
				reg, ok := registerNames[strings.ToUpper(operand)]
				if !ok {
					return nil, &Error{Line: st.line, Message: fmt.Sprintf("unknown register %q", operand)}
				}
				encoded = append(encoded, byte(reg))

			case isa.KindAddr16:
				addr, err := resolveAddr16(operand, labelOffsets, st.line)
				if err != nil {
					return nil, err
				}
				encoded = append(encoded, le16(addr)...)

			case isa.KindImm16:
				value, err := parseInt(operand, st.line)
				if err != nil {
					return nil, err
				}
				encoded = append(encoded, le16(uint16(value))...)

			case isa.KindImm32:
				value, err := parseInt(operand, st.line)
				if err != nil {
					return nil, err
				}
				encoded = append(encoded, le32(uint32(value))...)
			}
		}

		if len(encoded) != def.Size() {
			return nil, &Error{Line: st.line, Message: fmt.Sprintf("pass2 length mismatch for %s: wanted %d bytes, produced %d", st.mnemonic, def.Size(), len(encoded))}
		}
		out = append(out, encoded...)
	}

	if len(out) != size {
		return nil, fmt.Errorf("asm: pass1/pass2 length mismatch: pass1=%d pass2=%d", size, len(out))
	}
	return out, nil
}

// parseLines tokenizes source into statements, stripping comments and
// blank lines and attaching any "label:" prefixes to the next statement.
// A label on the final line with no following instruction is returned
// separately so resolveLabels can still point it at the ROM's end.
func parseLines(source string) ([]statement, []string, error) {
	var statements []statement
	var pendingLabels []string

	for lineNo, raw := range strings.Split(source, "\n") {
		line := stripComment(raw)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		for {
			colon := strings.Index(line, ":")
			if colon < 0 {
				break
			}
			label := strings.TrimSpace(line[:colon])
			if label == "" || strings.ContainsAny(label, " \t") {
				break
			}
			pendingLabels = append(pendingLabels, label)
			line = strings.TrimSpace(line[colon+1:])
			if line == "" {
				break
			}
		}
		if line == "" {
			continue
		}

		mnemonic := line
		rest := ""
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			mnemonic, rest = line[:i], strings.TrimSpace(line[i+1:])
		}
		mnemonic = strings.ToUpper(mnemonic)
		var operands []string
		if rest != "" {
			for _, op := range strings.Split(rest, ",") {
				operands = append(operands, strings.TrimSpace(op))
			}
		}

		statements = append(statements, statement{
			line:     lineNo + 1,
			mnemonic: mnemonic,
			operands: operands,
			labels:   pendingLabels,
		})
		pendingLabels = nil
	}

	return statements, pendingLabels, nil
}

func stripComment(line string) string {
	if i := strings.IndexAny(line, ";#"); i >= 0 {
		return line[:i]
	}
	return line
}

// resolveLabels runs pass one: walk the statements computing each
// instruction's byte offset and recording where every label lands.
func resolveLabels(statements []statement, trailingLabels []string) (map[string]uint16, int, error) {
	offsets := make(map[string]uint16)
	offset := 0

	for _, st := range statements {
		for _, label := range st.labels {
			if _, dup := offsets[label]; dup {
				return nil, 0, &Error{Line: st.line, Message: fmt.Sprintf("duplicate label %q", label)}
			}
			offsets[label] = uint16(offset)
		}

		def, ok := isa.Lookup(st.mnemonic)
		if !ok {
			return nil, 0, &Error{Line: st.line, Message: fmt.Sprintf("unknown mnemonic %q", st.mnemonic)}
		}
		offset += def.Size()
	}

	for _, label := range trailingLabels {
		if _, dup := offsets[label]; dup {
			return nil, 0, &Error{Message: fmt.Sprintf("duplicate label %q", label)}
		}
		offsets[label] = uint16(offset)
	}

	return offsets, offset, nil
}

// resolveAddr16 turns an address operand into its encoded 16-bit value: a
// bare label resolves through the pass-one table, anything else is parsed
// as a literal 16-bit value (a ROM-relative offset for branch and CALL
// targets, an absolute memory address for LOAD/STR).
func resolveAddr16(operand string, labels map[string]uint16, line int) (uint16, error) {
	if addr, ok := labels[operand]; ok {
		return addr, nil
	}
	value, err := parseInt(operand, line)
	if err != nil {
		return 0, &Error{Line: line, Message: fmt.Sprintf("undefined label or malformed address %q", operand)}
	}
	return uint16(value), nil
}

// parseInt accepts decimal, 0x-hex, 0o-octal and 0b-binary literals.
func parseInt(operand string, line int) (int64, error) {
	value, err := strconv.ParseInt(operand, 0, 64)
	if err != nil {
		return 0, &Error{Line: line, Message: fmt.Sprintf("malformed integer literal %q", operand)}
	}
	return value, nil
}

func le16(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
func le32(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }
