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

package trap

import (
	"fmt"

	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/mm"
	"gv6.dev/gv6/pkg/riscv"
)

// The gate runs with the *target* space's satp live, so every frame access
// below goes through translation. Its panics are kernel-fatal: a gate that
// cannot reach the frame or the trampoline has no way to reach user space
// or the kernel either.

// Enter performs the save half of the gate, from the instant the hart
// lands on the trampoline. It saves the interrupted register file into the
// trap frame sscratch points at, pivots to the kernel address space and
// stack, and returns the handler VA recorded in the frame.
//
// Preconditions: supervisor mode, PC at the trampoline, user satp live.
func Enter(m *hart.Machine) uint64 {
	if mode := m.Mode(); mode != riscv.ModeSupervisor {
		panic(fmt.Sprintf("gate entered in %v mode", mode))
	}
	if pc := m.PC(); pc != mm.TrampolineBase {
		panic(fmt.Sprintf("gate entered at %#x, not the trampoline", pc))
	}
	verifyTrampoline(m, "interrupted")

	// Swap sp with sscratch: sp now addresses the frame, the user sp
	// waits in sscratch.
	userSP := m.Reg(riscv.RegSP)
	frameVA := m.CSR(riscv.CSRSscratch)
	m.SetReg(riscv.RegSP, frameVA)
	m.SetCSR(riscv.CSRSscratch, userSP)

	// Save everything before touching anything: x1, x3..x31 by offset,
	// then the trap CSRs, then the user sp out of sscratch. The frame is
	// still reached through the interrupted space's tables.
	for n := 1; n < riscv.NumRegs; n++ {
		if n == riscv.RegSP {
			continue
		}
		storeWord(m, frameVA+RegOffset(n), m.Reg(n))
	}
	storeWord(m, frameVA+OffSstatus, m.CSR(riscv.CSRSstatus))
	storeWord(m, frameVA+OffSepc, m.CSR(riscv.CSRSepc))
	storeWord(m, frameVA+RegOffset(riscv.RegSP), m.CSR(riscv.CSRSscratch))

	kernelSATP := loadWord(m, frameVA+OffKernelSATP)
	kernelSP := loadWord(m, frameVA+OffKernelSP)
	handler := loadWord(m, frameVA+OffHandler)

	// Pivot. After the fence the frame is out of reach; everything it
	// had to say was read above.
	m.SetCSR(riscv.CSRSatp, kernelSATP)
	m.FenceVMA()
	verifyTrampoline(m, "kernel")
	m.SetReg(riscv.RegSP, kernelSP)
	return handler
}

// Exit performs the restore half of the gate: activate the target space,
// point sscratch back at the frame for the next trap, reload the register
// file, and return to user execution via the sret sequence.
//
// Precondition: supervisor mode.
func Exit(m *hart.Machine, frameVA, satp uint64) {
	if mode := m.Mode(); mode != riscv.ModeSupervisor {
		panic(fmt.Sprintf("gate exited in %v mode", mode))
	}
	m.SetCSR(riscv.CSRSatp, satp)
	m.FenceVMA()
	verifyTrampoline(m, "target")
	m.SetCSR(riscv.CSRSscratch, frameVA)

	// The restore half reads the frame through the struct codec rather
	// than the offset constants; the two layouts are kept in agreement
	// by frame_test.go.
	var buf [FrameSize]byte
	loadBytes(m, frameVA, buf[:])
	f := DecodeFrame(buf[:])

	m.SetCSR(riscv.CSRSstatus, f.Sstatus)
	m.SetCSR(riscv.CSRSepc, f.Sepc)
	for n := 1; n < riscv.NumRegs; n++ {
		if n == riscv.RegSP {
			continue
		}
		m.SetReg(n, f.X[n])
	}
	// The user sp comes last, as the frame stops being addressable
	// through it.
	m.SetReg(riscv.RegSP, f.X[riscv.RegSP])
	m.ReturnFromTrap()
}

// verifyTrampoline panics unless the trampoline is executable in the live
// address space.
func verifyTrampoline(m *hart.Machine, space string) {
	if _, f := m.Translate(mm.TrampolineBase, hart.AccessFetch); f != nil {
		panic(fmt.Sprintf("trampoline not executable in the %s address space: %v", space, f))
	}
}

func loadWord(m *hart.Machine, va uint64) uint64 {
	pa, f := m.Translate(va, hart.AccessLoad)
	if f != nil {
		panic(fmt.Sprintf("gate load from %#x: %v", va, f))
	}
	v, err := m.PhysReadUint64(pa)
	if err != nil {
		panic(fmt.Sprintf("gate load from %#x: %v", va, err))
	}
	return v
}

func storeWord(m *hart.Machine, va, v uint64) {
	pa, f := m.Translate(va, hart.AccessStore)
	if f != nil {
		panic(fmt.Sprintf("gate store to %#x: %v", va, f))
	}
	if err := m.PhysWriteUint64(pa, v); err != nil {
		panic(fmt.Sprintf("gate store to %#x: %v", va, err))
	}
}

func loadBytes(m *hart.Machine, va uint64, b []byte) {
	pa, f := m.Translate(va, hart.AccessLoad)
	if f != nil {
		panic(fmt.Sprintf("gate load from %#x: %v", va, f))
	}
	if err := m.PhysRead(pa, b); err != nil {
		panic(fmt.Sprintf("gate load from %#x: %v", va, err))
	}
}
