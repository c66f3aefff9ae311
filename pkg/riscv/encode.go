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

package riscv

import "fmt"

// Instruction encoders for the RV64I subset the built-in user programs are
// assembled from. Immediate ranges are checked at encode time; the built-in
// images are constructed at init, so a bad operand panics rather than
// producing a silently wrong word.

func checkReg(r int) {
	if r < 0 || r >= NumRegs {
		panic(fmt.Sprintf("bad register x%d", r))
	}
}

func checkImm(imm int64, bits uint) {
	min := -(int64(1) << (bits - 1))
	max := int64(1)<<(bits-1) - 1
	if imm < min || imm > max {
		panic(fmt.Sprintf("immediate %d does not fit in %d bits", imm, bits))
	}
}

func encodeR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return opcode | rd<<7 | funct3<<12 | rs1<<15 | rs2<<20 | funct7<<25
}

func encodeI(opcode, rd, funct3, rs1 uint32, imm int64) uint32 {
	checkImm(imm, 12)
	return opcode | rd<<7 | funct3<<12 | rs1<<15 | uint32(imm&0xfff)<<20
}

func encodeS(opcode, funct3, rs1, rs2 uint32, imm int64) uint32 {
	checkImm(imm, 12)
	u := uint32(imm & 0xfff)
	return opcode | (u&0x1f)<<7 | funct3<<12 | rs1<<15 | rs2<<20 | (u>>5)<<25
}

func encodeB(opcode, funct3, rs1, rs2 uint32, off int64) uint32 {
	checkImm(off, 13)
	if off&1 != 0 {
		panic(fmt.Sprintf("branch offset %d is not even", off))
	}
	u := uint32(off & 0x1fff)
	return opcode | (u>>11&1)<<7 | (u>>1&0xf)<<8 | funct3<<12 |
		rs1<<15 | rs2<<20 | (u>>5&0x3f)<<25 | (u>>12&1)<<31
}

func encodeU(opcode, rd uint32, imm20 int64) uint32 {
	checkImm(imm20, 20)
	return opcode | rd<<7 | uint32(imm20&0xfffff)<<12
}

func encodeJ(opcode, rd uint32, off int64) uint32 {
	checkImm(off, 21)
	if off&1 != 0 {
		panic(fmt.Sprintf("jump offset %d is not even", off))
	}
	u := uint32(off & 0x1fffff)
	return opcode | rd<<7 | (u>>12&0xff)<<12 | (u>>11&1)<<20 |
		(u>>1&0x3ff)<<21 | (u>>20&1)<<31
}

func reg(r int) uint32 {
	checkReg(r)
	return uint32(r)
}

// Lui encodes lui rd, imm20.
func Lui(rd int, imm20 int64) uint32 { return encodeU(0x37, reg(rd), imm20) }

// Auipc encodes auipc rd, imm20.
func Auipc(rd int, imm20 int64) uint32 { return encodeU(0x17, reg(rd), imm20) }

// Jal encodes jal rd, off. off is relative to the jal itself.
func Jal(rd int, off int64) uint32 { return encodeJ(0x6f, reg(rd), off) }

// J encodes an unconditional jump (jal x0, off).
func J(off int64) uint32 { return Jal(RegZero, off) }

// Jalr encodes jalr rd, off(rs1).
func Jalr(rd, rs1 int, off int64) uint32 { return encodeI(0x67, reg(rd), 0, reg(rs1), off) }

// Branches, offset relative to the branch instruction.
func Beq(rs1, rs2 int, off int64) uint32  { return encodeB(0x63, 0, reg(rs1), reg(rs2), off) }
func Bne(rs1, rs2 int, off int64) uint32  { return encodeB(0x63, 1, reg(rs1), reg(rs2), off) }
func Blt(rs1, rs2 int, off int64) uint32  { return encodeB(0x63, 4, reg(rs1), reg(rs2), off) }
func Bge(rs1, rs2 int, off int64) uint32  { return encodeB(0x63, 5, reg(rs1), reg(rs2), off) }
func Bltu(rs1, rs2 int, off int64) uint32 { return encodeB(0x63, 6, reg(rs1), reg(rs2), off) }
func Bgeu(rs1, rs2 int, off int64) uint32 { return encodeB(0x63, 7, reg(rs1), reg(rs2), off) }

// Loads, rd <- [rs1+off].
func Lb(rd, rs1 int, off int64) uint32  { return encodeI(0x03, reg(rd), 0, reg(rs1), off) }
func Lh(rd, rs1 int, off int64) uint32  { return encodeI(0x03, reg(rd), 1, reg(rs1), off) }
func Lw(rd, rs1 int, off int64) uint32  { return encodeI(0x03, reg(rd), 2, reg(rs1), off) }
func Ld(rd, rs1 int, off int64) uint32  { return encodeI(0x03, reg(rd), 3, reg(rs1), off) }
func Lbu(rd, rs1 int, off int64) uint32 { return encodeI(0x03, reg(rd), 4, reg(rs1), off) }
func Lhu(rd, rs1 int, off int64) uint32 { return encodeI(0x03, reg(rd), 5, reg(rs1), off) }
func Lwu(rd, rs1 int, off int64) uint32 { return encodeI(0x03, reg(rd), 6, reg(rs1), off) }

// Stores, [rs1+off] <- rs2.
func Sb(rs2, rs1 int, off int64) uint32 { return encodeS(0x23, 0, reg(rs1), reg(rs2), off) }
func Sh(rs2, rs1 int, off int64) uint32 { return encodeS(0x23, 1, reg(rs1), reg(rs2), off) }
func Sw(rs2, rs1 int, off int64) uint32 { return encodeS(0x23, 2, reg(rs1), reg(rs2), off) }
func Sd(rs2, rs1 int, off int64) uint32 { return encodeS(0x23, 3, reg(rs1), reg(rs2), off) }

// Register-immediate ALU ops.
func Addi(rd, rs1 int, imm int64) uint32  { return encodeI(0x13, reg(rd), 0, reg(rs1), imm) }
func Slti(rd, rs1 int, imm int64) uint32  { return encodeI(0x13, reg(rd), 2, reg(rs1), imm) }
func Sltiu(rd, rs1 int, imm int64) uint32 { return encodeI(0x13, reg(rd), 3, reg(rs1), imm) }
func Xori(rd, rs1 int, imm int64) uint32  { return encodeI(0x13, reg(rd), 4, reg(rs1), imm) }
func Ori(rd, rs1 int, imm int64) uint32   { return encodeI(0x13, reg(rd), 6, reg(rs1), imm) }
func Andi(rd, rs1 int, imm int64) uint32  { return encodeI(0x13, reg(rd), 7, reg(rs1), imm) }

// Shifts by immediate; shamt is 6 bits on RV64.
func Slli(rd, rs1, shamt int) uint32 {
	if shamt < 0 || shamt > 63 {
		panic(fmt.Sprintf("bad shamt %d", shamt))
	}
	return encodeR(0x13, reg(rd), 1, reg(rs1), uint32(shamt)&0x1f, uint32(shamt)>>5)
}

func Srli(rd, rs1, shamt int) uint32 {
	if shamt < 0 || shamt > 63 {
		panic(fmt.Sprintf("bad shamt %d", shamt))
	}
	return encodeR(0x13, reg(rd), 5, reg(rs1), uint32(shamt)&0x1f, uint32(shamt)>>5)
}

func Srai(rd, rs1, shamt int) uint32 {
	if shamt < 0 || shamt > 63 {
		panic(fmt.Sprintf("bad shamt %d", shamt))
	}
	return encodeR(0x13, reg(rd), 5, reg(rs1), uint32(shamt)&0x1f, 0x20|uint32(shamt)>>5)
}

// Register-register ALU ops.
func Add(rd, rs1, rs2 int) uint32  { return encodeR(0x33, reg(rd), 0, reg(rs1), reg(rs2), 0) }
func Sub(rd, rs1, rs2 int) uint32  { return encodeR(0x33, reg(rd), 0, reg(rs1), reg(rs2), 0x20) }
func Sll(rd, rs1, rs2 int) uint32  { return encodeR(0x33, reg(rd), 1, reg(rs1), reg(rs2), 0) }
func Slt(rd, rs1, rs2 int) uint32  { return encodeR(0x33, reg(rd), 2, reg(rs1), reg(rs2), 0) }
func Sltu(rd, rs1, rs2 int) uint32 { return encodeR(0x33, reg(rd), 3, reg(rs1), reg(rs2), 0) }
func Xor(rd, rs1, rs2 int) uint32  { return encodeR(0x33, reg(rd), 4, reg(rs1), reg(rs2), 0) }
func Srl(rd, rs1, rs2 int) uint32  { return encodeR(0x33, reg(rd), 5, reg(rs1), reg(rs2), 0) }
func Sra(rd, rs1, rs2 int) uint32  { return encodeR(0x33, reg(rd), 5, reg(rs1), reg(rs2), 0x20) }
func Or(rd, rs1, rs2 int) uint32   { return encodeR(0x33, reg(rd), 6, reg(rs1), reg(rs2), 0) }
func And(rd, rs1, rs2 int) uint32  { return encodeR(0x33, reg(rd), 7, reg(rs1), reg(rs2), 0) }

// 32-bit (W-suffixed) forms.
func Addiw(rd, rs1 int, imm int64) uint32 { return encodeI(0x1b, reg(rd), 0, reg(rs1), imm) }

func Slliw(rd, rs1, shamt int) uint32 {
	if shamt < 0 || shamt > 31 {
		panic(fmt.Sprintf("bad shamt %d", shamt))
	}
	return encodeR(0x1b, reg(rd), 1, reg(rs1), uint32(shamt), 0)
}

func Srliw(rd, rs1, shamt int) uint32 {
	if shamt < 0 || shamt > 31 {
		panic(fmt.Sprintf("bad shamt %d", shamt))
	}
	return encodeR(0x1b, reg(rd), 5, reg(rs1), uint32(shamt), 0)
}

func Sraiw(rd, rs1, shamt int) uint32 {
	if shamt < 0 || shamt > 31 {
		panic(fmt.Sprintf("bad shamt %d", shamt))
	}
	return encodeR(0x1b, reg(rd), 5, reg(rs1), uint32(shamt), 0x20)
}

func Addw(rd, rs1, rs2 int) uint32 { return encodeR(0x3b, reg(rd), 0, reg(rs1), reg(rs2), 0) }
func Subw(rd, rs1, rs2 int) uint32 { return encodeR(0x3b, reg(rd), 0, reg(rs1), reg(rs2), 0x20) }
func Sllw(rd, rs1, rs2 int) uint32 { return encodeR(0x3b, reg(rd), 1, reg(rs1), reg(rs2), 0) }
func Srlw(rd, rs1, rs2 int) uint32 { return encodeR(0x3b, reg(rd), 5, reg(rs1), reg(rs2), 0) }
func Sraw(rd, rs1, rs2 int) uint32 { return encodeR(0x3b, reg(rd), 5, reg(rs1), reg(rs2), 0x20) }

// System instructions.
func Ecall() uint32  { return 0x00000073 }
func Ebreak() uint32 { return 0x00100073 }
func Fence() uint32  { return 0x0000000f }
func Nop() uint32    { return Addi(RegZero, RegZero, 0) }

// Supervisor instructions. These appear only in supervisor text such as
// the trampoline; user-mode execution of any of them is illegal.
func Sret() uint32      { return 0x10200073 }
func SfenceVMA() uint32 { return 0x12000073 } // sfence.vma zero, zero

// CSR instructions. csr is the 12-bit CSR address.
func Csrrw(rd int, csr uint16, rs1 int) uint32 {
	return 0x73 | reg(rd)<<7 | 1<<12 | reg(rs1)<<15 | uint32(csr)<<20
}

func Csrrs(rd int, csr uint16, rs1 int) uint32 {
	return 0x73 | reg(rd)<<7 | 2<<12 | reg(rs1)<<15 | uint32(csr)<<20
}

// Csrr encodes csrr rd, csr (csrrs rd, csr, zero).
func Csrr(rd int, csr uint16) uint32 { return Csrrs(rd, csr, RegZero) }

// Csrw encodes csrw csr, rs (csrrw zero, csr, rs).
func Csrw(csr uint16, rs int) uint32 { return Csrrw(RegZero, csr, rs) }

// Mv encodes the mv pseudo-instruction (addi rd, rs, 0).
func Mv(rd, rs int) uint32 { return Addi(rd, rs, 0) }

// Li expands the li pseudo-instruction for values representable in 32
// bits. Small values are a single addi; larger ones are lui+addiw with
// the usual carry adjustment for a negative low part.
func Li(rd int, val int64) []uint32 {
	if val >= -2048 && val <= 2047 {
		return []uint32{Addi(rd, RegZero, val)}
	}
	if val < -(1<<31) || val >= 1<<31 {
		panic(fmt.Sprintf("li value %#x does not fit in 32 bits", val))
	}
	hi, lo := split32(val)
	insns := []uint32{Lui(rd, hi)}
	if lo != 0 {
		insns = append(insns, Addiw(rd, rd, lo))
	}
	return insns
}

// split32 breaks a 32-bit value into lui/addiw halves, with the carry
// adjustment for a negative low part.
func split32(val int64) (hi, lo int64) {
	lo = val & 0xfff
	if lo >= 0x800 {
		lo -= 0x1000
	}
	hi = (val - lo) >> 12
	if hi >= 1<<19 {
		hi -= 1 << 20
	}
	return hi, lo
}
