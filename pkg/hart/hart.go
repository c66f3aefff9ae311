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

// Package hart models a single RV64 hardware thread: the general register
// file, the supervisor CSRs, physical memory, sv39 address translation with
// a TLB, and an interpreter for the user-mode RV64I subset.
//
// Only user mode is ever interpreted. Supervisor execution is the kernel
// itself, which manipulates the machine through this package's methods; a
// trap hands control back to the kernel by returning from Run with the
// cause in scause, exactly as hardware leaves it.
//
// The model is deterministic: the cycle counter advances once per
// instruction and the timer compares against it, so a given boot always
// traps at the same points.
package hart

import (
	"encoding/binary"
	"fmt"
	"time"

	"gv6.dev/gv6/pkg/log"
	"gv6.dev/gv6/pkg/riscv"
)

// RAMBase is the physical address of the first byte of RAM.
const RAMBase = 0x8000_0000

// DefaultMemSize is the default physical memory size.
const DefaultMemSize = 16 << 20

// maxMemSize bounds the physical memory a machine may be built with.
const maxMemSize = 1 << 30

// Machine is a modeled RV64 hart with its physical memory.
//
// Machine is not safe for concurrent use: it is owned by the kernel flow
// that drives it.
type Machine struct {
	// regs is the general register file. regs[0] is always zero.
	regs [riscv.NumRegs]uint64

	// pc is the current program counter.
	pc uint64

	// mode is the current privilege mode.
	mode riscv.Mode

	// Supervisor CSRs. sip is not stored; timer pending state is derived
	// from the cycle counter and timecmp.
	sstatus  uint64
	sie      uint64
	stvec    uint64
	sscratch uint64
	sepc     uint64
	scause   uint64
	stval    uint64
	satp     uint64

	// cycle counts attempted instructions and is the machine's notion of
	// time. timecmp is the armed timer deadline.
	cycle      uint64
	timecmp    uint64
	timerArmed bool

	// mem is physical memory, based at RAMBase.
	mem []byte

	// tlb caches successful translations by virtual page number. It is
	// not invalidated by satp writes; see FenceVMA.
	tlb       map[uint64]tlbEntry
	tlbHits   uint64
	tlbMisses uint64

	// csrLog rate-limits diagnostics about accesses to CSRs the model
	// does not implement.
	csrLog log.Logger
}

// New returns a machine with the given amount of physical memory, all
// registers zero, translation off and the PC at the base of RAM.
func New(memSize uint64) (*Machine, error) {
	if memSize == 0 || memSize%riscv.PageSize != 0 {
		return nil, fmt.Errorf("memory size %#x is not a positive multiple of the page size", memSize)
	}
	if memSize > maxMemSize {
		return nil, fmt.Errorf("memory size %#x exceeds the maximum %#x", memSize, uint64(maxMemSize))
	}
	return &Machine{
		mode:   riscv.ModeSupervisor,
		pc:     RAMBase,
		mem:    make([]byte, memSize),
		tlb:    make(map[uint64]tlbEntry),
		csrLog: log.BasicRateLimitedLogger(5 * time.Second),
	}, nil
}

// Reg returns the value of general register r.
func (m *Machine) Reg(r int) uint64 {
	return m.regs[r]
}

// SetReg sets general register r. Writes to x0 are discarded.
func (m *Machine) SetReg(r int, v uint64) {
	if r == riscv.RegZero {
		return
	}
	m.regs[r] = v
}

// PC returns the current program counter.
func (m *Machine) PC() uint64 {
	return m.pc
}

// SetPC sets the program counter.
func (m *Machine) SetPC(v uint64) {
	m.pc = v
}

// Mode returns the current privilege mode.
func (m *Machine) Mode() riscv.Mode {
	return m.mode
}

// Cycle returns the machine's cycle counter.
func (m *Machine) Cycle() uint64 {
	return m.cycle
}

// AdvanceTo moves the cycle counter forward to c. It is used when nothing
// is runnable and the next event is a timer deadline; moving backwards is
// not possible.
func (m *Machine) AdvanceTo(c uint64) {
	if c > m.cycle {
		m.cycle = c
	}
}

// SetTimer arms the timer comparator: a supervisor timer interrupt becomes
// pending once the cycle counter reaches deadline. Arming with a future
// deadline clears any currently pending timer, which is also how the
// interrupt is acknowledged.
func (m *Machine) SetTimer(deadline uint64) {
	m.timecmp = deadline
	m.timerArmed = true
}

// TimerPending returns whether a supervisor timer interrupt is pending.
func (m *Machine) TimerPending() bool {
	return m.timerArmed && m.cycle >= m.timecmp
}

// MemSize returns the physical memory size.
func (m *Machine) MemSize() uint64 {
	return uint64(len(m.mem))
}

// contains reports whether [pa, pa+n) lies within RAM.
func (m *Machine) contains(pa, n uint64) bool {
	if pa < RAMBase || n > uint64(len(m.mem)) {
		return false
	}
	off := pa - RAMBase
	return off <= uint64(len(m.mem))-n
}

// PhysRead copies len(b) bytes of physical memory at pa into b.
func (m *Machine) PhysRead(pa uint64, b []byte) error {
	if !m.contains(pa, uint64(len(b))) {
		return fmt.Errorf("physical read of [%#x, %#x) outside RAM", pa, pa+uint64(len(b)))
	}
	copy(b, m.mem[pa-RAMBase:])
	return nil
}

// PhysWrite copies b into physical memory at pa.
func (m *Machine) PhysWrite(pa uint64, b []byte) error {
	if !m.contains(pa, uint64(len(b))) {
		return fmt.Errorf("physical write of [%#x, %#x) outside RAM", pa, pa+uint64(len(b)))
	}
	copy(m.mem[pa-RAMBase:], b)
	return nil
}

// PhysReadUint32 reads a 32-bit little-endian word at pa.
func (m *Machine) PhysReadUint32(pa uint64) (uint32, error) {
	if !m.contains(pa, 4) {
		return 0, fmt.Errorf("physical read of %#x outside RAM", pa)
	}
	return binary.LittleEndian.Uint32(m.mem[pa-RAMBase:]), nil
}

// PhysReadUint64 reads a 64-bit little-endian word at pa.
func (m *Machine) PhysReadUint64(pa uint64) (uint64, error) {
	if !m.contains(pa, 8) {
		return 0, fmt.Errorf("physical read of %#x outside RAM", pa)
	}
	return binary.LittleEndian.Uint64(m.mem[pa-RAMBase:]), nil
}

// PhysWriteUint32 writes a 32-bit little-endian word at pa.
func (m *Machine) PhysWriteUint32(pa uint64, v uint32) error {
	if !m.contains(pa, 4) {
		return fmt.Errorf("physical write of %#x outside RAM", pa)
	}
	binary.LittleEndian.PutUint32(m.mem[pa-RAMBase:], v)
	return nil
}

// PhysWriteUint64 writes a 64-bit little-endian word at pa.
func (m *Machine) PhysWriteUint64(pa uint64, v uint64) error {
	if !m.contains(pa, 8) {
		return fmt.Errorf("physical write of %#x outside RAM", pa)
	}
	binary.LittleEndian.PutUint64(m.mem[pa-RAMBase:], v)
	return nil
}

// FrameBytes returns the physical frame with the given page number,
// aliased directly over machine memory.
func (m *Machine) FrameBytes(ppn uint64) ([]byte, error) {
	pa := ppn << riscv.PageShift
	if !m.contains(pa, riscv.PageSize) {
		return nil, fmt.Errorf("frame %#x outside RAM", ppn)
	}
	off := pa - RAMBase
	return m.mem[off : off+riscv.PageSize], nil
}

// CSR reads a supervisor CSR.
func (m *Machine) CSR(addr uint16) uint64 {
	switch addr {
	case riscv.CSRSstatus:
		return m.sstatus
	case riscv.CSRSie:
		return m.sie
	case riscv.CSRStvec:
		return m.stvec
	case riscv.CSRSscratch:
		return m.sscratch
	case riscv.CSRSepc:
		return m.sepc
	case riscv.CSRScause:
		return m.scause
	case riscv.CSRStval:
		return m.stval
	case riscv.CSRSip:
		if m.TimerPending() {
			return riscv.IntTimer
		}
		return 0
	case riscv.CSRSatp:
		return m.satp
	default:
		m.csrLog.Warningf("read of unimplemented CSR %#x returns zero", addr)
		return 0
	}
}

// SetCSR writes a supervisor CSR, applying the architectural write masks.
// Writing satp does not touch the TLB; stale entries from a previous
// address space remain until FenceVMA.
func (m *Machine) SetCSR(addr uint16, v uint64) {
	switch addr {
	case riscv.CSRSstatus:
		const writable = riscv.StatusSIE | riscv.StatusSPIE | riscv.StatusSPP | riscv.StatusSUM
		m.sstatus = (m.sstatus &^ writable) | (v & writable)
	case riscv.CSRSie:
		m.sie = v & (riscv.IntSoftware | riscv.IntTimer | riscv.IntExternal)
	case riscv.CSRStvec:
		// Only direct mode is supported.
		m.stvec = v &^ 3
	case riscv.CSRSscratch:
		m.sscratch = v
	case riscv.CSRSepc:
		m.sepc = v &^ 1
	case riscv.CSRScause:
		m.scause = v
	case riscv.CSRStval:
		m.stval = v
	case riscv.CSRSatp:
		if !riscv.SatpIsSv39(v) && v != riscv.SatpModeBare {
			// WARL: unsupported translation modes leave the
			// register unchanged.
			return
		}
		m.satp = v
	case riscv.CSRSip:
		// Timer pending state is owned by the comparator.
	default:
		m.csrLog.Warningf("write of %#x to unimplemented CSR %#x ignored", v, addr)
	}
}

// DeliverTrap performs the architectural trap sequence into supervisor
// mode: scause, sepc and stval are written, the sstatus interrupt stack is
// pushed, and execution moves to stvec.
func (m *Machine) DeliverTrap(cause, tval uint64) {
	m.scause = cause
	m.sepc = m.pc
	m.stval = tval
	if m.mode == riscv.ModeSupervisor {
		m.sstatus |= riscv.StatusSPP
	} else {
		m.sstatus &^= riscv.StatusSPP
	}
	if m.sstatus&riscv.StatusSIE != 0 {
		m.sstatus |= riscv.StatusSPIE
	} else {
		m.sstatus &^= riscv.StatusSPIE
	}
	m.sstatus &^= riscv.StatusSIE
	m.mode = riscv.ModeSupervisor
	m.pc = m.stvec
}

// ReturnFromTrap performs the sret sequence: the privilege mode and
// interrupt enable are popped from sstatus and execution moves to sepc.
func (m *Machine) ReturnFromTrap() {
	if m.mode != riscv.ModeSupervisor {
		panic(fmt.Sprintf("ReturnFromTrap in %v mode", m.mode))
	}
	if m.sstatus&riscv.StatusSPP != 0 {
		m.mode = riscv.ModeSupervisor
	} else {
		m.mode = riscv.ModeUser
	}
	if m.sstatus&riscv.StatusSPIE != 0 {
		m.sstatus |= riscv.StatusSIE
	} else {
		m.sstatus &^= riscv.StatusSIE
	}
	m.sstatus |= riscv.StatusSPIE
	m.sstatus &^= riscv.StatusSPP
	m.pc = m.sepc
}
