// Copyright 2024 The gv6 Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hart

import (
	"context"
	"fmt"

	"gv6.dev/gv6/pkg/riscv"
)

// cancelCheckInterval is how many instructions run between checks of the
// caller's context.
const cancelCheckInterval = 4096

// Run executes user-mode instructions until a trap is delivered or ctx is
// cancelled. On a trap return the error is nil and the cause is in scause;
// the machine is in supervisor mode with the PC at stvec, exactly as the
// trap sequence leaves it. A cancelled context returns ctx.Err() with the
// machine still in user mode.
func (m *Machine) Run(ctx context.Context) error {
	if m.mode != riscv.ModeUser {
		panic(fmt.Sprintf("Run called in %v mode", m.mode))
	}
	for i := 0; ; i++ {
		if i%cancelCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		// Interrupts aimed at the supervisor are always taken from
		// user mode; sstatus.SIE gates them only while in S mode.
		if m.TimerPending() && m.sie&riscv.IntTimer != 0 {
			m.DeliverTrap(riscv.CauseSupervisorTimer, 0)
			return nil
		}
		m.step()
		if m.mode != riscv.ModeUser {
			return nil
		}
	}
}

// step attempts one instruction. On any exception the trap is delivered
// and the machine leaves user mode.
func (m *Machine) step() {
	m.cycle++

	pc := m.pc
	if pc&3 != 0 {
		m.DeliverTrap(riscv.CauseMisalignedFetch, pc)
		return
	}
	pa, f := m.Translate(pc, AccessFetch)
	if f != nil {
		m.DeliverTrap(f.Cause, f.Addr)
		return
	}
	insn, err := m.PhysReadUint32(pa)
	if err != nil {
		m.DeliverTrap(riscv.CauseFetchAccess, pc)
		return
	}
	m.execute(insn)
}

// Immediate decoders. Sign extension rides on the arithmetic shift of the
// value cast through int32.
func immI(insn uint32) int64 { return int64(int32(insn)) >> 20 }

func immS(insn uint32) int64 {
	return int64(int32(insn&0xfe000000))>>20 | int64(insn>>7&0x1f)
}

func immB(insn uint32) int64 {
	return int64(int32(insn&0x80000000))>>19 |
		int64(insn>>7&0x1)<<11 |
		int64(insn>>25&0x3f)<<5 |
		int64(insn>>8&0xf)<<1
}

func immU(insn uint32) int64 { return int64(int32(insn & 0xfffff000)) }

func immJ(insn uint32) int64 {
	return int64(int32(insn&0x80000000))>>11 |
		int64(insn&0xff000) |
		int64(insn>>20&0x1)<<11 |
		int64(insn>>21&0x3ff)<<1
}

// execute decodes and executes one instruction at m.pc. The PC is advanced
// here; control-transfer instructions set it directly.
func (m *Machine) execute(insn uint32) {
	opcode := insn & 0x7f
	rd := int(insn >> 7 & 0x1f)
	funct3 := insn >> 12 & 0x7
	rs1 := int(insn >> 15 & 0x1f)
	rs2 := int(insn >> 20 & 0x1f)
	funct7 := insn >> 25

	illegal := func() {
		m.DeliverTrap(riscv.CauseIllegalInstruction, uint64(insn))
	}
	// jump transfers control, faulting on a misaligned target.
	jump := func(target uint64) {
		if target&3 != 0 {
			m.DeliverTrap(riscv.CauseMisalignedFetch, target)
			return
		}
		m.pc = target
	}

	switch opcode {
	case 0x37: // lui
		m.SetReg(rd, uint64(immU(insn)))
		m.pc += 4

	case 0x17: // auipc
		m.SetReg(rd, m.pc+uint64(immU(insn)))
		m.pc += 4

	case 0x6f: // jal
		target := m.pc + uint64(immJ(insn))
		link := m.pc + 4
		jump(target)
		if m.mode == riscv.ModeUser {
			m.SetReg(rd, link)
		}

	case 0x67: // jalr
		if funct3 != 0 {
			illegal()
			return
		}
		target := (m.regs[rs1] + uint64(immI(insn))) &^ 1
		link := m.pc + 4
		jump(target)
		if m.mode == riscv.ModeUser {
			m.SetReg(rd, link)
		}

	case 0x63: // branches
		var taken bool
		a, b := m.regs[rs1], m.regs[rs2]
		switch funct3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int64(a) < int64(b)
		case 5:
			taken = int64(a) >= int64(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			illegal()
			return
		}
		if taken {
			jump(m.pc + uint64(immB(insn)))
		} else {
			m.pc += 4
		}

	case 0x03: // loads
		addr := m.regs[rs1] + uint64(immI(insn))
		var size uint64
		switch funct3 {
		case 0, 4:
			size = 1
		case 1, 5:
			size = 2
		case 2, 6:
			size = 4
		case 3:
			size = 8
		default:
			illegal()
			return
		}
		v, f := m.load(addr, size)
		if f != nil {
			m.DeliverTrap(f.Cause, f.Addr)
			return
		}
		switch funct3 {
		case 0: // lb
			v = uint64(int64(int8(v)))
		case 1: // lh
			v = uint64(int64(int16(v)))
		case 2: // lw
			v = uint64(int64(int32(v)))
		}
		m.SetReg(rd, v)
		m.pc += 4

	case 0x23: // stores
		addr := m.regs[rs1] + uint64(immS(insn))
		var size uint64
		switch funct3 {
		case 0:
			size = 1
		case 1:
			size = 2
		case 2:
			size = 4
		case 3:
			size = 8
		default:
			illegal()
			return
		}
		if f := m.store(addr, size, m.regs[rs2]); f != nil {
			m.DeliverTrap(f.Cause, f.Addr)
			return
		}
		m.pc += 4

	case 0x13: // op-imm
		imm := immI(insn)
		a := m.regs[rs1]
		var v uint64
		switch funct3 {
		case 0: // addi
			v = a + uint64(imm)
		case 1: // slli
			if funct7>>1 != 0 {
				illegal()
				return
			}
			v = a << (insn >> 20 & 0x3f)
		case 2: // slti
			if int64(a) < imm {
				v = 1
			}
		case 3: // sltiu
			if a < uint64(imm) {
				v = 1
			}
		case 4: // xori
			v = a ^ uint64(imm)
		case 5: // srli/srai
			shamt := insn >> 20 & 0x3f
			switch funct7 >> 1 {
			case 0x00:
				v = a >> shamt
			case 0x10:
				v = uint64(int64(a) >> shamt)
			default:
				illegal()
				return
			}
		case 6: // ori
			v = a | uint64(imm)
		case 7: // andi
			v = a & uint64(imm)
		}
		m.SetReg(rd, v)
		m.pc += 4

	case 0x1b: // op-imm-32
		a := m.regs[rs1]
		var v32 int32
		switch {
		case funct3 == 0: // addiw
			v32 = int32(a) + int32(immI(insn))
		case funct3 == 1 && funct7 == 0x00: // slliw
			v32 = int32(a) << (insn >> 20 & 0x1f)
		case funct3 == 5 && funct7 == 0x00: // srliw
			v32 = int32(uint32(a) >> (insn >> 20 & 0x1f))
		case funct3 == 5 && funct7 == 0x20: // sraiw
			v32 = int32(a) >> (insn >> 20 & 0x1f)
		default:
			illegal()
			return
		}
		m.SetReg(rd, uint64(int64(v32)))
		m.pc += 4

	case 0x33: // op
		a, b := m.regs[rs1], m.regs[rs2]
		var v uint64
		switch {
		case funct3 == 0 && funct7 == 0x00: // add
			v = a + b
		case funct3 == 0 && funct7 == 0x20: // sub
			v = a - b
		case funct3 == 1 && funct7 == 0x00: // sll
			v = a << (b & 0x3f)
		case funct3 == 2 && funct7 == 0x00: // slt
			if int64(a) < int64(b) {
				v = 1
			}
		case funct3 == 3 && funct7 == 0x00: // sltu
			if a < b {
				v = 1
			}
		case funct3 == 4 && funct7 == 0x00: // xor
			v = a ^ b
		case funct3 == 5 && funct7 == 0x00: // srl
			v = a >> (b & 0x3f)
		case funct3 == 5 && funct7 == 0x20: // sra
			v = uint64(int64(a) >> (b & 0x3f))
		case funct3 == 6 && funct7 == 0x00: // or
			v = a | b
		case funct3 == 7 && funct7 == 0x00: // and
			v = a & b
		default:
			illegal()
			return
		}
		m.SetReg(rd, v)
		m.pc += 4

	case 0x3b: // op-32
		a, b := m.regs[rs1], m.regs[rs2]
		var v32 int32
		switch {
		case funct3 == 0 && funct7 == 0x00: // addw
			v32 = int32(a) + int32(b)
		case funct3 == 0 && funct7 == 0x20: // subw
			v32 = int32(a) - int32(b)
		case funct3 == 1 && funct7 == 0x00: // sllw
			v32 = int32(a) << (b & 0x1f)
		case funct3 == 5 && funct7 == 0x00: // srlw
			v32 = int32(uint32(a) >> (b & 0x1f))
		case funct3 == 5 && funct7 == 0x20: // sraw
			v32 = int32(a) >> (b & 0x1f)
		default:
			illegal()
			return
		}
		m.SetReg(rd, uint64(int64(v32)))
		m.pc += 4

	case 0x0f: // fence
		// Memory ordering is trivially strong here.
		m.pc += 4

	case 0x73: // system
		switch insn {
		case 0x00000073: // ecall
			m.DeliverTrap(riscv.CauseUserECall, 0)
		case 0x00100073: // ebreak
			m.DeliverTrap(riscv.CauseBreakpoint, m.pc)
		default:
			// CSR instructions and sret are not available to
			// user code.
			illegal()
		}

	default:
		illegal()
	}
}

// load performs a user load of the given size through translation, with
// the misalignment check first, as the access exceptions are prioritized.
func (m *Machine) load(addr, size uint64) (uint64, *Fault) {
	if addr&(size-1) != 0 {
		return 0, &Fault{Cause: misalignedCause(AccessLoad), Addr: addr}
	}
	pa, f := m.Translate(addr, AccessLoad)
	if f != nil {
		return 0, f
	}
	var buf [8]byte
	if err := m.PhysRead(pa, buf[:size]); err != nil {
		return 0, &Fault{Cause: accessFaultCause(AccessLoad), Addr: addr}
	}
	var v uint64
	for i := uint64(0); i < size; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v, nil
}

// store performs a user store of the given size through translation.
func (m *Machine) store(addr, size, v uint64) *Fault {
	if addr&(size-1) != 0 {
		return &Fault{Cause: misalignedCause(AccessStore), Addr: addr}
	}
	pa, f := m.Translate(addr, AccessStore)
	if f != nil {
		return f
	}
	var buf [8]byte
	for i := uint64(0); i < size; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	if err := m.PhysWrite(pa, buf[:size]); err != nil {
		return &Fault{Cause: accessFaultCause(AccessStore), Addr: addr}
	}
	return nil
}
