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

import (
	"encoding/binary"
	"fmt"
)

// Program assembles a flat binary image: instruction words appended in
// order, with branch targets named by label and resolved at Assemble
// time. Misuse (an undefined or doubly defined label, an out-of-range
// branch) panics; programs are written by hand and short.
type Program struct {
	base   uint64
	insns  []uint32
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	label string
	apply func(target int)
}

// NewProgram returns an empty program that will be loaded at base.
func NewProgram(base uint64) *Program {
	return &Program{
		base:   base,
		labels: make(map[string]int),
	}
}

// I appends raw instruction words.
func (p *Program) I(insns ...uint32) {
	p.insns = append(p.insns, insns...)
}

// Li appends the li expansion for val.
func (p *Program) Li(rd int, val int64) {
	p.insns = append(p.insns, Li(rd, val)...)
}

// Label names the position of the next appended word. Each name may be
// defined once.
func (p *Program) Label(name string) {
	if _, ok := p.labels[name]; ok {
		panic(fmt.Sprintf("label %q defined twice", name))
	}
	p.labels[name] = len(p.insns)
}

// branch appends a placeholder word whose final encoding depends on the
// label's position.
func (p *Program) branch(label string, enc func(off int64) uint32) {
	idx := len(p.insns)
	p.insns = append(p.insns, 0)
	p.fixups = append(p.fixups, fixup{label: label, apply: func(target int) {
		p.insns[idx] = enc(int64(target-idx) * 4)
	}})
}

// Beq appends beq rs1, rs2, label.
func (p *Program) Beq(rs1, rs2 int, label string) {
	p.branch(label, func(off int64) uint32 { return Beq(rs1, rs2, off) })
}

// Bne appends bne rs1, rs2, label.
func (p *Program) Bne(rs1, rs2 int, label string) {
	p.branch(label, func(off int64) uint32 { return Bne(rs1, rs2, off) })
}

// Blt appends blt rs1, rs2, label.
func (p *Program) Blt(rs1, rs2 int, label string) {
	p.branch(label, func(off int64) uint32 { return Blt(rs1, rs2, off) })
}

// Bge appends bge rs1, rs2, label.
func (p *Program) Bge(rs1, rs2 int, label string) {
	p.branch(label, func(off int64) uint32 { return Bge(rs1, rs2, off) })
}

// Beqz appends beq rs, zero, label.
func (p *Program) Beqz(rs int, label string) {
	p.Beq(rs, RegZero, label)
}

// Bnez appends bne rs, zero, label.
func (p *Program) Bnez(rs int, label string) {
	p.Bne(rs, RegZero, label)
}

// J appends an unconditional jump to label.
func (p *Program) J(label string) {
	p.branch(label, func(off int64) uint32 { return J(off) })
}

// La loads the absolute address of label into rd. It always occupies two
// instruction words, so positions are fixed before labels resolve.
func (p *Program) La(rd int, label string) {
	idx := len(p.insns)
	p.insns = append(p.insns, 0, 0)
	p.fixups = append(p.fixups, fixup{label: label, apply: func(target int) {
		addr := int64(p.base) + int64(target)*4
		if addr < 0 || addr >= 1<<31 {
			panic(fmt.Sprintf("la address %#x does not fit in 32 bits", addr))
		}
		hi, lo := split32(addr)
		p.insns[idx] = Lui(rd, hi)
		p.insns[idx+1] = Addiw(rd, rd, lo)
	}})
}

// Ascii appends s as data words, zero-padded to a word boundary. Data
// belongs after the final exit; it is never executed.
func (p *Program) Ascii(s string) {
	b := []byte(s)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	for i := 0; i < len(b); i += 4 {
		p.insns = append(p.insns, binary.LittleEndian.Uint32(b[i:]))
	}
}

// Assemble resolves every fixup and returns the image bytes.
func (p *Program) Assemble() []byte {
	for _, f := range p.fixups {
		target, ok := p.labels[f.label]
		if !ok {
			panic(fmt.Sprintf("undefined label %q", f.label))
		}
		f.apply(target)
	}
	b := make([]byte, 4*len(p.insns))
	for i, insn := range p.insns {
		binary.LittleEndian.PutUint32(b[4*i:], insn)
	}
	return b
}
