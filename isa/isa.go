// Package isa is the master opcode table for the pixelvm instruction set.
//
// It describes how each instruction's operands are laid out in memory. The
// assembler and disassembler (package asm) encode and decode from this
// table. The VM (package vm) uses its opcode and layout constants, but its
// handlers fetch each instruction's operands by hand rather than from the
// table.
package isa

import (
	"fmt"
	"strings"
)

// Opcode identifies one instruction.
type Opcode byte

// Instruction opcodes. Values and operand shapes are normative; see the
// OperandKind sequence on each Def for the encoded layout.
const (
	NOP    Opcode = 0x00
	MOV    Opcode = 0x01
	ADD    Opcode = 0x02
	SUB    Opcode = 0x03
	LOAD   Opcode = 0x04
	STR    Opcode = 0x05
	JMP    Opcode = 0x06
	CALL   Opcode = 0x07
	RET    Opcode = 0x08
	PUSH   Opcode = 0x09
	POP    Opcode = 0x0A
	JZ     Opcode = 0x0B
	JNZ    Opcode = 0x0C
	JG     Opcode = 0x0D
	JL     Opcode = 0x0E
	JEQ    Opcode = 0x0F
	JNE    Opcode = 0x10
	DRW    Opcode = 0x11
	CLR    Opcode = 0x12
	RENDER Opcode = 0x13
	DIV    Opcode = 0x14
	MUL    Opcode = 0x15
	RECT   Opcode = 0x16
	RND    Opcode = 0x17
	SEED   Opcode = 0x18
	RNDMAP Opcode = 0x19
	HLT    Opcode = 0xFF
)

// OperandKind describes how to encode/decode one operand byte run.
type OperandKind int

const (
	// KindReg is a single byte holding a register index 0..7.
	KindReg OperandKind = iota
	// KindAddr16 is a little-endian 16-bit address: ROM-relative where the
	// Def lists it in AddrRelative, an absolute memory address otherwise
	// (LOAD/STR).
	KindAddr16
	// KindImm16 is a little-endian 16-bit immediate.
	KindImm16
	// KindImm32 is a little-endian 32-bit immediate (SEED only).
	KindImm32
)

// operandSize returns the encoded width, in bytes, of one operand kind.
func (k OperandKind) operandSize() int {
	switch k {
	case KindReg:
		return 1
	case KindAddr16, KindImm16:
		return 2
	case KindImm32:
		return 4
	default:
		panic(fmt.Sprintf("isa: unknown operand kind %d", k))
	}
}

// Def is the full description of one instruction: its mnemonic, its opcode
// byte, and the ordered operand layout that follows the opcode.
type Def struct {
	Mnemonic string
	Opcode   Opcode
	Operands []OperandKind
	// AddrRelative marks which operand indexes are ROM-relative addresses
	// that the VM must rebase by adding the ROM load base before use. The
	// assembler encodes these as bare byte offsets into the ROM and the
	// disassembler prints them as labels; the VM does not read this field,
	// its branch and CALL handlers add the base themselves.
	AddrRelative []int
}

// Size is the total encoded length of the instruction: one opcode byte plus
// the sum of its operands' widths.
func (d Def) Size() int {
	n := 1
	for _, k := range d.Operands {
		n += k.operandSize()
	}
	return n
}

// defs is the authoritative, ordered instruction table. The assembler and
// disassembler range over or look up into it and take every byte size from
// it; the VM's handlers do not consult it.
var defs = []Def{
	{Mnemonic: "NOP", Opcode: NOP},
	{Mnemonic: "MOV", Opcode: MOV, Operands: []OperandKind{KindReg, KindImm16}},
	{Mnemonic: "ADD", Opcode: ADD, Operands: []OperandKind{KindReg, KindReg}},
	{Mnemonic: "SUB", Opcode: SUB, Operands: []OperandKind{KindReg, KindReg}},
	{Mnemonic: "LOAD", Opcode: LOAD, Operands: []OperandKind{KindReg, KindAddr16}},
	{Mnemonic: "STR", Opcode: STR, Operands: []OperandKind{KindAddr16, KindReg}},
	{Mnemonic: "JMP", Opcode: JMP, Operands: []OperandKind{KindAddr16}, AddrRelative: []int{0}},
	{Mnemonic: "CALL", Opcode: CALL, Operands: []OperandKind{KindAddr16}, AddrRelative: []int{0}},
	{Mnemonic: "RET", Opcode: RET},
	{Mnemonic: "PUSH", Opcode: PUSH, Operands: []OperandKind{KindReg}},
	{Mnemonic: "POP", Opcode: POP, Operands: []OperandKind{KindReg}},
	{Mnemonic: "JZ", Opcode: JZ, Operands: []OperandKind{KindReg, KindAddr16}, AddrRelative: []int{1}},
	{Mnemonic: "JNZ", Opcode: JNZ, Operands: []OperandKind{KindReg, KindAddr16}, AddrRelative: []int{1}},
	{Mnemonic: "JG", Opcode: JG, Operands: []OperandKind{KindReg, KindAddr16}, AddrRelative: []int{1}},
	{Mnemonic: "JL", Opcode: JL, Operands: []OperandKind{KindReg, KindAddr16}, AddrRelative: []int{1}},
	{Mnemonic: "JEQ", Opcode: JEQ, Operands: []OperandKind{KindReg, KindReg, KindAddr16}, AddrRelative: []int{2}},
	{Mnemonic: "JNE", Opcode: JNE, Operands: []OperandKind{KindReg, KindReg, KindAddr16}, AddrRelative: []int{2}},
	{Mnemonic: "DRW", Opcode: DRW, Operands: []OperandKind{KindReg, KindReg, KindReg}},
	{Mnemonic: "CLR", Opcode: CLR},
	{Mnemonic: "RENDER", Opcode: RENDER},
	{Mnemonic: "DIV", Opcode: DIV, Operands: []OperandKind{KindReg, KindReg}},
	{Mnemonic: "MUL", Opcode: MUL, Operands: []OperandKind{KindReg, KindReg}},
	{Mnemonic: "RECT", Opcode: RECT, Operands: []OperandKind{KindReg, KindReg, KindReg, KindReg, KindReg}},
	{Mnemonic: "RND", Opcode: RND, Operands: []OperandKind{KindReg}},
	{Mnemonic: "SEED", Opcode: SEED, Operands: []OperandKind{KindImm32}},
	{Mnemonic: "RNDMAP", Opcode: RNDMAP, Operands: []OperandKind{KindReg, KindImm16, KindImm16}},
	{Mnemonic: "HLT", Opcode: HLT},
}

var (
	byMnemonic = make(map[string]Def, len(defs))
	byOpcode   = make(map[Opcode]Def, len(defs))
)

func init() {
	for _, d := range defs {
		byMnemonic[d.Mnemonic] = d
		byOpcode[d.Opcode] = d
	}
}

// Defs returns a copy of the full instruction table, in opcode order.
func Defs() []Def {
	out := make([]Def, len(defs))
	copy(out, defs)
	return out
}

// Lookup returns the Def for a case-insensitive mnemonic.
func Lookup(mnemonic string) (Def, bool) {
	d, ok := byMnemonic[strings.ToUpper(mnemonic)]
	return d, ok
}

// Decode returns the Def for an opcode byte.
func Decode(op Opcode) (Def, bool) {
	d, ok := byOpcode[op]
	return d, ok
}

// ROMBase is the fixed memory offset where ROM bytes are loaded and where
// execution begins.
const ROMBase = 0x1000

// MemorySize is the flat memory size in bytes.
const MemorySize = 8192

// DisplayWidth and DisplayHeight describe the square palette-indexed
// framebuffer.
const (
	DisplayWidth  = 256
	DisplayHeight = 256
)

// NumRegisters is the register file width (R0..R7).
const NumRegisters = 8

// MaxStackDepth caps the call stack; exceeding it is a fatal runtime error.
const MaxStackDepth = 1024
