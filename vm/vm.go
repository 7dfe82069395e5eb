// Package vm implements the pixelvm bytecode interpreter: memory, register
// file, call stack, program counter, PRNG state, double-buffered
// framebuffer and the decode/execute cycle loop.
//
// All mutable VM state is guarded by a single mutex (vm.mu) acquired once
// per cycle by the executor and once per exported accessor call by the debug
// control plane (package debugsrv). Each debug command makes one such call,
// except a multi-byte GET_MEMORY, which calls PeekMemory once per byte.
// This is option (i) from the concurrency design:
// a single lock around VM state, rather than fine-grained per-field locks.
package vm

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixelvm-project/pixelvm/isa"
)

// Sentinel errors for the fatal runtime conditions. Any of these halts the
// whole VM; no instruction is retried.
var (
	ErrOutOfBounds    = errors.New("memory access out of bounds")
	ErrPCExceedsROM   = errors.New("program counter exceeded rom size")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrDivisionByZero = errors.New("division by zero")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackOverflow  = errors.New("stack overflow")
)

// VM is one instance of the virtual machine: its memory, registers, call
// stack, program counter, PRNG state and framebuffer pair.
type VM struct {
	mu sync.Mutex

	memory    [isa.MemorySize]byte
	registers [isa.NumRegisters]int32
	stack     []int32
	pc        uint32
	romSize   int

	rngState uint32

	back  [isa.DisplayWidth * isa.DisplayHeight]byte
	front atomic.Pointer[[isa.DisplayWidth * isa.DisplayHeight]byte]

	halted        bool
	haltMessage   string
	haltFatal     bool
	paused        bool
	stopRequested bool

	instructionsExecuted uint64
	windowStart          time.Time

	ipsLimit float64 // instructions/sec cap; +Inf disables pacing

	// Diag receives IPS reports and traceback dumps. Defaults to
	// io.Discard if unset.
	Diag io.Writer
}

// New constructs a VM with ROM loaded at isa.ROMBase and the PRNG seeded to
// its default of 42.
func New(rom []byte, ipsLimit float64) (*VM, error) {
	if isa.ROMBase+len(rom) > isa.MemorySize {
		return nil, fmt.Errorf("rom of %d bytes does not fit at base 0x%04X", len(rom), isa.ROMBase)
	}

	v := &VM{
		pc:          isa.ROMBase,
		romSize:     len(rom),
		rngState:    42,
		windowStart: time.Now(),
		ipsLimit:    ipsLimit,
		Diag:        io.Discard,
	}
	copy(v.memory[isa.ROMBase:], rom)
	v.front.Store(&[isa.DisplayWidth * isa.DisplayHeight]byte{})
	return v, nil
}

// FrontBuffer returns the most recently published frame. Safe to call
// without holding any lock: RENDER publishes via atomic pointer swap, so a
// reader always observes either the pre- or post-RENDER buffer, never a
// torn frame.
func (v *VM) FrontBuffer() []byte {
	buf := v.front.Load()
	return buf[:]
}

// Halted reports whether the VM has stopped executing permanently.
func (v *VM) Halted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.halted
}

// Fatal reports whether the VM's halt was caused by a runtime fatal
// condition (out-of-bounds access, unknown opcode, division by zero, stack
// under/overflow, PC past the ROM) rather than the program's own HLT or a
// user-requested stop (debug HALT, Ctrl-C). The caller uses this to pick
// an exit status: non-zero on fatal halt, zero otherwise.
func (v *VM) Fatal() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.haltFatal
}

// StopRequested reports whether the owner has asked workers to shut down.
func (v *VM) StopRequested() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopRequested
}

// RequestStop sets stop_requested; the debug server checks it after each
// client connection ends or an accept fails. Cycle does not read it: the
// executor stops when the VM halts.
func (v *VM) RequestStop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopRequested = true
}

// peekMemory reads one byte; caller must hold v.mu.
func (v *VM) peekMemory(addr uint32) (byte, error) {
	if addr >= isa.MemorySize {
		return 0, fmt.Errorf("%w: addr=0x%04X", ErrOutOfBounds, addr)
	}
	return v.memory[addr], nil
}

// pokeMemory writes one byte; caller must hold v.mu.
func (v *VM) pokeMemory(addr uint32, value byte) error {
	if addr >= isa.MemorySize {
		return fmt.Errorf("%w: addr=0x%04X", ErrOutOfBounds, addr)
	}
	v.memory[addr] = value
	return nil
}

// PeekMemory reads one byte from an arbitrary address (debug plane GET_MEMORY).
func (v *VM) PeekMemory(addr uint32) (byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peekMemory(addr)
}

// PokeMemory writes bytes starting at addr (debug plane SET_MEMORY, which
// may carry either a single byte or a byte sequence).
func (v *VM) PokeMemory(addr uint32, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if int(addr)+len(data) > isa.MemorySize {
		return fmt.Errorf("%w: write of %d bytes at 0x%04X exceeds memory", ErrOutOfBounds, len(data), addr)
	}
	copy(v.memory[addr:], data)
	return nil
}

// Registers returns a snapshot of all eight registers.
func (v *VM) Registers() [isa.NumRegisters]int32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registers
}

// SetRegister mutates one register by index (0..7).
func (v *VM) SetRegister(index int, value int32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if index < 0 || index >= isa.NumRegisters {
		return fmt.Errorf("register index %d out of range", index)
	}
	v.registers[index] = value
	return nil
}

// Stack returns a copy of the call stack, bottom first (top is the last
// element).
func (v *VM) Stack() []int32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]int32, len(v.stack))
	copy(out, v.stack)
	return out
}

// SetStack mutates the stack slot `index` entries down from the top
// (index 0 == top).
func (v *VM) SetStack(index int, value int32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	pos := len(v.stack) - 1 - index
	if pos < 0 || pos >= len(v.stack) {
		return fmt.Errorf("%w: index %d", ErrOutOfBounds, index)
	}
	v.stack[pos] = value
	return nil
}

func (v *VM) pushStack(value int32) error {
	if len(v.stack) >= isa.MaxStackDepth {
		return ErrStackOverflow
	}
	v.stack = append(v.stack, value)
	return nil
}

func (v *VM) popStack() (int32, error) {
	if len(v.stack) == 0 {
		return 0, ErrStackUnderflow
	}
	top := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return top, nil
}

// PC returns the current program counter.
func (v *VM) PC() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pc
}

// SetPC mutates the program counter.
func (v *VM) SetPC(value uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pc = value
}

// Paused reports whether the VM is currently paused.
func (v *VM) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// Pause flips the paused flag on; it is idempotent.
func (v *VM) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = true
}

// Resume flips the paused flag off; it is idempotent.
func (v *VM) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = false
}

// Halt transitions the VM to the terminal halted state on a user-requested
// stop (debug plane HALT command, Ctrl-C), recording a traceback to Diag.
// halted/stop_requested are monotonic: once true, always true. This is
// never a "fatal" halt for exit-status purposes.
func (v *VM) Halt(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.halt(message, false)
}

// halt is the unlocked core of Halt; callers (including Cycle's handlers)
// must already hold v.mu. fatal marks a runtime-fatal condition as opposed
// to the program's own HLT or a user-requested stop.
func (v *VM) halt(message string, fatal bool) {
	if v.halted {
		return
	}
	v.halted = true
	v.haltMessage = message
	v.haltFatal = fatal
	v.stopRequested = true
	fmt.Fprint(v.Diag, v.formatTraceback(message))
}
