package vm

import (
	"fmt"
	"math"
	"time"

	"github.com/pixelvm-project/pixelvm/isa"
)

// Cycle executes at most one instruction. It returns immediately if the VM
// is halted or paused; the caller (the executor goroutine) decides what to
// do with idle time, typically a short sleep.
//
// The VM-state lock is held only for the fetch/decode/execute portion of
// the cycle; any IPS-cap pacing sleep happens after the lock is released so
// a paused debug command is never blocked behind a sleeping executor.
func (v *VM) Cycle() {
	v.mu.Lock()
	if v.halted || v.paused {
		v.mu.Unlock()
		return
	}
	if v.pc-isa.ROMBase >= uint32(v.romSize) {
		v.halt(fmt.Sprintf("%s: pc=0x%04X romSize=%d", ErrPCExceedsROM, v.pc, v.romSize), true)
		v.mu.Unlock()
		return
	}

	sleepFor := v.step()
	v.mu.Unlock()

	if sleepFor > 0 {
		time.Sleep(sleepFor)
	}
}

// step fetches, decodes and executes exactly one instruction and reports
// IPS diagnostics. Caller must hold v.mu. Returns a duration to sleep after
// the lock is released (zero if no pacing is needed).
func (v *VM) step() time.Duration {
	op, err := v.fetchByte()
	if err != nil {
		v.halt(err.Error(), true)
		return 0
	}

	if err := v.execute(isa.Opcode(op)); err != nil {
		if v.halted {
			// The handler (e.g. HLT) already halted with its own message.
			return 0
		}
		v.halt(err.Error(), true)
		return 0
	}
	if v.halted {
		return 0
	}

	v.instructionsExecuted++

	var sleepFor time.Duration
	elapsed := time.Since(v.windowStart)
	if !math.IsInf(v.ipsLimit, 1) && v.ipsLimit > 0 {
		expected := time.Duration(float64(v.instructionsExecuted) / v.ipsLimit * float64(time.Second))
		if elapsed < expected {
			sleepFor = expected - elapsed
		}
	}

	if elapsed >= time.Second {
		ips := float64(v.instructionsExecuted) / elapsed.Seconds()
		fmt.Fprintf(v.Diag, "Instructions Per Second: %.2f\n", ips)
		v.windowStart = time.Now()
		v.instructionsExecuted = 0
	}

	return sleepFor
}

// execute dispatches one decoded opcode. Caller must hold v.mu.
func (v *VM) execute(op isa.Opcode) error {
	switch op {
	case isa.NOP:
		return nil

	case isa.MOV:
		r, err := v.fetchReg()
		if err != nil {
			return err
		}
		imm, err := v.fetchImm16()
		if err != nil {
			return err
		}
		v.registers[r] = imm
		return nil

	case isa.ADD:
		r1, err := v.fetchReg()
		if err != nil {
			return err
		}
		r2, err := v.fetchReg()
		if err != nil {
			return err
		}
		v.registers[r1] += v.registers[r2]
		return nil

	case isa.SUB:
		r1, err := v.fetchReg()
		if err != nil {
			return err
		}
		r2, err := v.fetchReg()
		if err != nil {
			return err
		}
		v.registers[r1] -= v.registers[r2]
		return nil

	case isa.LOAD:
		r, err := v.fetchReg()
		if err != nil {
			return err
		}
		addr, err := v.fetchAddr16()
		if err != nil {
			return err
		}
		b, err := v.peekMemory(addr)
		if err != nil {
			return err
		}
		v.registers[r] = int32(b)
		return nil

	case isa.STR:
		addr, err := v.fetchAddr16()
		if err != nil {
			return err
		}
		r, err := v.fetchReg()
		if err != nil {
			return err
		}
		return v.pokeMemory(addr, byte(v.registers[r]))

	case isa.JMP:
		addr, err := v.fetchAddr16()
		if err != nil {
			return err
		}
		v.pc = isa.ROMBase + addr
		return nil

	case isa.CALL:
		addr, err := v.fetchAddr16()
		if err != nil {
			return err
		}
		// The return address is the PC as it stands after the address
		// operand has been consumed, i.e. the next instruction.
		if err := v.pushStack(int32(v.pc)); err != nil {
			return err
		}
		v.pc = isa.ROMBase + addr
		return nil

	case isa.RET:
		addr, err := v.popStack()
		if err != nil {
			return err
		}
		v.pc = uint32(addr)
		return nil

	case isa.PUSH:
		r, err := v.fetchReg()
		if err != nil {
			return err
		}
		return v.pushStack(v.registers[r])

	case isa.POP:
		r, err := v.fetchReg()
		if err != nil {
			return err
		}
		val, err := v.popStack()
		if err != nil {
			return err
		}
		v.registers[r] = val
		return nil

	case isa.JZ:
		return v.condBranch1(func(r int32) bool { return r == 0 })
	case isa.JNZ:
		return v.condBranch1(func(r int32) bool { return r != 0 })
	case isa.JG:
		return v.condBranch1(func(r int32) bool { return r > 0 })
	case isa.JL:
		return v.condBranch1(func(r int32) bool { return r < 0 })

	case isa.JEQ:
		return v.condBranch2(func(a, b int32) bool { return a == b })
	case isa.JNE:
		return v.condBranch2(func(a, b int32) bool { return a != b })

	case isa.DRW:
		rx, err := v.fetchReg()
		if err != nil {
			return err
		}
		ry, err := v.fetchReg()
		if err != nil {
			return err
		}
		rc, err := v.fetchReg()
		if err != nil {
			return err
		}
		v.drawPixel(v.registers[rx], v.registers[ry], v.registers[rc])
		return nil

	case isa.CLR:
		v.clearBack()
		return nil

	case isa.RENDER:
		v.render()
		return nil

	case isa.DIV:
		r1, err := v.fetchReg()
		if err != nil {
			return err
		}
		r2, err := v.fetchReg()
		if err != nil {
			return err
		}
		if v.registers[r2] == 0 {
			return ErrDivisionByZero
		}
		v.registers[r1] = v.registers[r1] / v.registers[r2]
		return nil

	case isa.MUL:
		r1, err := v.fetchReg()
		if err != nil {
			return err
		}
		r2, err := v.fetchReg()
		if err != nil {
			return err
		}
		v.registers[r1] *= v.registers[r2]
		return nil

	case isa.RECT:
		rx, err := v.fetchReg()
		if err != nil {
			return err
		}
		ry, err := v.fetchReg()
		if err != nil {
			return err
		}
		rw, err := v.fetchReg()
		if err != nil {
			return err
		}
		rh, err := v.fetchReg()
		if err != nil {
			return err
		}
		rc, err := v.fetchReg()
		if err != nil {
			return err
		}
		v.drawRect(v.registers[rx], v.registers[ry], v.registers[rw], v.registers[rh], v.registers[rc])
		return nil

	case isa.RND:
		r, err := v.fetchReg()
		if err != nil {
			return err
		}
		v.registers[r] = int32(v.stepRandom())
		return nil

	case isa.SEED:
		seed, err := v.fetchImm32()
		if err != nil {
			return err
		}
		v.seedRandom(seed)
		return nil

	case isa.RNDMAP:
		r, err := v.fetchReg()
		if err != nil {
			return err
		}
		// RNDMAP reads R as input before overwriting it.
		input := uint32(v.registers[r])
		min, err := v.fetchImm16()
		if err != nil {
			return err
		}
		max, err := v.fetchImm16()
		if err != nil {
			return err
		}
		v.registers[r] = mapToRange(input, min, max)
		return nil

	case isa.HLT:
		v.halt("HLT by program", false)
		return nil

	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(op))
	}
}

// condBranch1 implements the single-register conditional jumps (JZ/JNZ/JG/JL).
func (v *VM) condBranch1(take func(int32) bool) error {
	r, err := v.fetchReg()
	if err != nil {
		return err
	}
	addr, err := v.fetchAddr16()
	if err != nil {
		return err
	}
	if take(v.registers[r]) {
		v.pc = isa.ROMBase + addr
	}
	return nil
}

// condBranch2 implements the two-register conditional jumps (JEQ/JNE).
func (v *VM) condBranch2(take func(a, b int32) bool) error {
	r1, err := v.fetchReg()
	if err != nil {
		return err
	}
	r2, err := v.fetchReg()
	if err != nil {
		return err
	}
	addr, err := v.fetchAddr16()
	if err != nil {
		return err
	}
	if take(v.registers[r1], v.registers[r2]) {
		v.pc = isa.ROMBase + addr
	}
	return nil
}

// fetchByte reads the byte at pc and advances pc by one.
func (v *VM) fetchByte() (byte, error) {
	if int(v.pc) >= len(v.memory) {
		return 0, fmt.Errorf("%w: pc=0x%04X", ErrOutOfBounds, v.pc)
	}
	b := v.memory[v.pc]
	v.pc++
	return b, nil
}

// fetchBytes reads n bytes starting at pc and advances pc by n.
func (v *VM) fetchBytes(n int) ([]byte, error) {
	if int(v.pc)+n > len(v.memory) {
		return nil, fmt.Errorf("%w: read of %d bytes at pc=0x%04X", ErrOutOfBounds, n, v.pc)
	}
	b := v.memory[v.pc : int(v.pc)+n]
	v.pc += uint32(n)
	return b, nil
}

// fetchReg reads a register-index operand byte.
func (v *VM) fetchReg() (int, error) {
	b, err := v.fetchByte()
	if err != nil {
		return 0, err
	}
	if int(b) >= isa.NumRegisters {
		return 0, fmt.Errorf("invalid register index %d", b)
	}
	return int(b), nil
}

// fetchAddr16 reads a little-endian 16-bit address/offset operand.
func (v *VM) fetchAddr16() (uint32, error) {
	b, err := v.fetchBytes(2)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8, nil
}

// fetchImm16 reads a little-endian 16-bit immediate, zero-extended into a
// register word. Never sign-extended: a negative literal survives only as
// its unsigned bit pattern.
func (v *VM) fetchImm16() (int32, error) {
	b, err := v.fetchBytes(2)
	if err != nil {
		return 0, err
	}
	return int32(uint32(b[0]) | uint32(b[1])<<8), nil
}

// fetchImm32 reads a little-endian 32-bit immediate (SEED's operand).
func (v *VM) fetchImm32() (uint32, error) {
	b, err := v.fetchBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}
