package asm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pixelvm-project/pixelvm/isa"
)

func assembleOK(t *testing.T, source string) []byte {
	t.Helper()
	rom, err := Assemble(source)
	if err != nil {
		t.Fatalf("Assemble(%q) = error %v", source, err)
	}
	return rom
}

func TestAssembleSimpleInstructions(t *testing.T) {
	rom := assembleOK(t, `
		MOV R0, 10
		MOV R1, 5
		ADD R0, R1
		HLT
	`)
	want := []byte{
		byte(isa.MOV), 0, 10, 0,
		byte(isa.MOV), 1, 5, 0,
		byte(isa.ADD), 0, 1,
		byte(isa.HLT),
	}
	if !bytes.Equal(rom, want) {
		t.Fatalf("got % X, want % X", rom, want)
	}
}

func TestAssembleResolvesForwardLabel(t *testing.T) {
	rom := assembleOK(t, `
		MOV R0, 0
		JZ R0, skip
		MOV R1, 1
	skip:
		HLT
	`)
	// JZ operand should point at the HLT instruction's offset (12: a 4-byte
	// MOV, a 4-byte JZ and another 4-byte MOV precede the HLT the label is
	// attached to).
	jzAddrLo := rom[6]
	jzAddrHi := rom[7]
	got := uint16(jzAddrLo) | uint16(jzAddrHi)<<8
	if got != 12 {
		t.Fatalf("JZ target = %d, want 12", got)
	}
}

func TestAssembleHexOctalBinaryLiterals(t *testing.T) {
	rom := assembleOK(t, `
		MOV R0, 0x0A
		MOV R1, 0b101
		MOV R2, 0o17
		HLT
	`)
	if rom[2] != 10 {
		t.Errorf("0x0A decoded to %d, want 10", rom[2])
	}
	if rom[6] != 5 {
		t.Errorf("0b101 decoded to %d, want 5", rom[6])
	}
	if rom[10] != 15 {
		t.Errorf("0o17 decoded to %d, want 15", rom[10])
	}
}

func TestAssembleUnknownMnemonic(t *testing.T) {
	_, err := Assemble("FOO R0, R1")
	if err == nil {
		t.Fatal("expected an error for unknown mnemonic")
	}
}

func TestAssembleUnknownRegister(t *testing.T) {
	_, err := Assemble("MOV R9, 1")
	if err == nil {
		t.Fatal("expected an error for out-of-range register")
	}
}

func TestAssembleUndefinedLabel(t *testing.T) {
	_, err := Assemble("JMP nowhere")
	if err == nil {
		t.Fatal("expected an error for an undefined label")
	}
}

func TestAssembleDisassembleRoundTrip(t *testing.T) {
	source := `
		MOV R0, 0
		MOV R1, 1
	loop:
		ADD R0, R1
		JNZ R1, loop
		RENDER
		HLT
	`
	rom := assembleOK(t, source)

	text, err := Disassemble(rom)
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}

	reassembled, err := Assemble(text)
	if err != nil {
		t.Fatalf("Assemble(disassembled text) failed: %v\n%s", err, text)
	}
	if !bytes.Equal(rom, reassembled) {
		t.Fatalf("round trip mismatch:\noriginal:     % X\nreassembled:  % X\ndisassembly:\n%s", rom, reassembled, text)
	}
}

func TestAssembleEmitsDeclaredSizeForEveryInstruction(t *testing.T) {
	for _, def := range isa.Defs() {
		var ops []string
		for _, kind := range def.Operands {
			switch kind {
			case isa.KindReg:
				ops = append(ops, "R1")
			case isa.KindAddr16:
				ops = append(ops, "0")
			case isa.KindImm16:
				ops = append(ops, "7")
			case isa.KindImm32:
				ops = append(ops, "99")
			}
		}
		source := def.Mnemonic
		if len(ops) > 0 {
			source += " " + strings.Join(ops, ", ")
		}
		rom, err := Assemble(source)
		if err != nil {
			t.Errorf("Assemble(%q): %v", source, err)
			continue
		}
		if len(rom) != def.Size() {
			t.Errorf("%s emitted %d bytes, table declares %d", def.Mnemonic, len(rom), def.Size())
		}
		if rom[0] != byte(def.Opcode) {
			t.Errorf("%s emitted opcode 0x%02X, want 0x%02X", def.Mnemonic, rom[0], byte(def.Opcode))
		}
	}
}

func TestAssembleTabSeparatedOperands(t *testing.T) {
	rom := assembleOK(t, "MOV\tR0,\t3\nHLT")
	want := []byte{byte(isa.MOV), 0, 3, 0, byte(isa.HLT)}
	if !bytes.Equal(rom, want) {
		t.Fatalf("got % X, want % X", rom, want)
	}
}

func TestAssembleLoadStoreAbsoluteAddress(t *testing.T) {
	rom := assembleOK(t, `
		LOAD R0, 0x0000
		STR 0x0001, R0
		HLT
	`)
	want := []byte{
		byte(isa.LOAD), 0, 0x00, 0x00,
		byte(isa.STR), 0x01, 0x00, 0,
		byte(isa.HLT),
	}
	if !bytes.Equal(rom, want) {
		t.Fatalf("got % X, want % X", rom, want)
	}
}
