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
	"testing"

	"gv6.dev/gv6/pkg/riscv"
)

const testMemSize = 4 << 20

func newMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := New(testMemSize)
	if err != nil {
		t.Fatalf("New(%#x): %v", testMemSize, err)
	}
	// Direct traps somewhere recognizable.
	m.SetCSR(riscv.CSRStvec, RAMBase+0x100000)
	return m
}

// writeCode stores instruction words at the given physical address.
func writeCode(t *testing.T, m *Machine, pa uint64, insns ...uint32) {
	t.Helper()
	for i, insn := range insns {
		if err := m.PhysWriteUint32(pa+uint64(4*i), insn); err != nil {
			t.Fatalf("PhysWriteUint32(%#x): %v", pa+uint64(4*i), err)
		}
	}
}

// enterUser drops the machine into user mode at pc, the way the kernel
// does: by staging sepc and taking the sret path.
func enterUser(m *Machine, pc uint64) {
	m.SetCSR(riscv.CSRSepc, pc)
	m.ReturnFromTrap()
}

func run(t *testing.T, m *Machine) {
	t.Helper()
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestALU(t *testing.T) {
	m := newMachine(t)
	writeCode(t, m, RAMBase,
		riscv.Addi(riscv.RegT0, riscv.RegZero, 100),
		riscv.Addi(riscv.RegT1, riscv.RegT0, -42),
		riscv.Add(riscv.RegT2, riscv.RegT0, riscv.RegT1),
		riscv.Sub(riscv.RegT3, riscv.RegT1, riscv.RegT0),
		riscv.Slli(riscv.RegT4, riscv.RegT0, 3),
		riscv.Sltu(riscv.RegT5, riscv.RegT1, riscv.RegT0),
		riscv.Xor(riscv.RegT6, riscv.RegT0, riscv.RegT0),
		riscv.Ebreak(),
	)
	enterUser(m, RAMBase)
	run(t, m)

	for _, tc := range []struct {
		reg  int
		want uint64
	}{
		{riscv.RegT0, 100},
		{riscv.RegT1, 58},
		{riscv.RegT2, 158},
		{riscv.RegT3, ^uint64(41)}, // -42
		{riscv.RegT4, 800},
		{riscv.RegT5, 1},
		{riscv.RegT6, 0},
	} {
		if got := m.Reg(tc.reg); got != tc.want {
			t.Errorf("%s = %#x, want %#x", riscv.RegName(tc.reg), got, tc.want)
		}
	}
	if got := m.CSR(riscv.CSRScause); got != riscv.CauseBreakpoint {
		t.Errorf("scause = %#x, want breakpoint", got)
	}
}

func TestWordOps(t *testing.T) {
	m := newMachine(t)
	code := riscv.Li(riscv.RegT0, 0x7fffffff)
	code = append(code,
		riscv.Addiw(riscv.RegT1, riscv.RegT0, 1), // overflows to -2^31
		riscv.Srliw(riscv.RegT2, riscv.RegT1, 1),
		riscv.Sraiw(riscv.RegT3, riscv.RegT1, 1),
		riscv.Ebreak(),
	)
	writeCode(t, m, RAMBase, code...)
	enterUser(m, RAMBase)
	run(t, m)

	if got, want := m.Reg(riscv.RegT1), uint64(0xffffffff80000000); got != want {
		t.Errorf("addiw overflow = %#x, want %#x", got, want)
	}
	if got, want := m.Reg(riscv.RegT2), uint64(0x40000000); got != want {
		t.Errorf("srliw = %#x, want %#x", got, want)
	}
	if got, want := m.Reg(riscv.RegT3), uint64(0xffffffffc0000000); got != want {
		t.Errorf("sraiw = %#x, want %#x", got, want)
	}
}

func TestLoadStore(t *testing.T) {
	m := newMachine(t)
	data := uint64(RAMBase + 0x2000)
	// auipc reaches the scratch page PC-relatively; physical addresses do
	// not fit li's 32-bit range.
	code := []uint32{riscv.Auipc(riscv.RegS0, 2)}
	code = append(code, riscv.Li(riscv.RegT0, -2)...)
	code = append(code,
		riscv.Sd(riscv.RegT0, riscv.RegS0, 0),
		riscv.Ld(riscv.RegT1, riscv.RegS0, 0),
		riscv.Lw(riscv.RegT2, riscv.RegS0, 0),  // sign-extends
		riscv.Lwu(riscv.RegT3, riscv.RegS0, 0), // zero-extends
		riscv.Lbu(riscv.RegT4, riscv.RegS0, 0),
		riscv.Ebreak(),
	)
	writeCode(t, m, RAMBase, code...)
	enterUser(m, RAMBase)
	run(t, m)

	if got, want := m.Reg(riscv.RegT1), ^uint64(1); got != want {
		t.Errorf("ld = %#x, want %#x", got, want)
	}
	if got, want := m.Reg(riscv.RegT2), ^uint64(1); got != want {
		t.Errorf("lw = %#x, want %#x", got, want)
	}
	if got, want := m.Reg(riscv.RegT3), uint64(0xfffffffe); got != want {
		t.Errorf("lwu = %#x, want %#x", got, want)
	}
	if got, want := m.Reg(riscv.RegT4), uint64(0xfe); got != want {
		t.Errorf("lbu = %#x, want %#x", got, want)
	}
	if v, err := m.PhysReadUint64(data); err != nil || v != ^uint64(1) {
		t.Errorf("memory at %#x = %#x (%v), want %#x", data, v, err, ^uint64(1))
	}
}

func TestBranchLoop(t *testing.T) {
	m := newMachine(t)
	// Count t0 down from 5, accumulating into t1.
	writeCode(t, m, RAMBase,
		riscv.Addi(riscv.RegT0, riscv.RegZero, 5),
		riscv.Addi(riscv.RegT1, riscv.RegZero, 0),
		riscv.Add(riscv.RegT1, riscv.RegT1, riscv.RegT0), // loop:
		riscv.Addi(riscv.RegT0, riscv.RegT0, -1),
		riscv.Bne(riscv.RegT0, riscv.RegZero, -8),
		riscv.Ebreak(),
	)
	enterUser(m, RAMBase)
	run(t, m)

	if got := m.Reg(riscv.RegT1); got != 15 {
		t.Errorf("sum = %d, want 15", got)
	}
}

func TestEcallDelivery(t *testing.T) {
	m := newMachine(t)
	writeCode(t, m, RAMBase,
		riscv.Addi(riscv.RegA7, riscv.RegZero, 93),
		riscv.Ecall(),
	)
	enterUser(m, RAMBase)
	run(t, m)

	if got := m.Mode(); got != riscv.ModeSupervisor {
		t.Fatalf("mode = %v, want S", got)
	}
	if got := m.CSR(riscv.CSRScause); got != riscv.CauseUserECall {
		t.Errorf("scause = %#x, want ecall-from-U", got)
	}
	// sepc points at the ecall itself; resuming is the handler's job.
	if got, want := m.CSR(riscv.CSRSepc), uint64(RAMBase+4); got != want {
		t.Errorf("sepc = %#x, want %#x", got, want)
	}
	if got, want := m.PC(), m.CSR(riscv.CSRStvec); got != want {
		t.Errorf("pc = %#x, want stvec %#x", got, want)
	}
	if m.CSR(riscv.CSRSstatus)&riscv.StatusSPP != 0 {
		t.Errorf("sstatus.SPP set, trap did not come from user mode")
	}
	if got := m.Reg(riscv.RegA7); got != 93 {
		t.Errorf("a7 = %d, want 93", got)
	}
}

func TestIllegalInstruction(t *testing.T) {
	m := newMachine(t)
	writeCode(t, m, RAMBase, 0xffffffff)
	enterUser(m, RAMBase)
	run(t, m)

	if got := m.CSR(riscv.CSRScause); got != riscv.CauseIllegalInstruction {
		t.Errorf("scause = %#x, want illegal instruction", got)
	}
	if got := m.CSR(riscv.CSRStval); got != 0xffffffff {
		t.Errorf("stval = %#x, want the instruction word", got)
	}
}

func TestMisalignedLoad(t *testing.T) {
	m := newMachine(t)
	writeCode(t, m, RAMBase,
		riscv.Auipc(riscv.RegS0, 2),
		riscv.Addi(riscv.RegS0, riscv.RegS0, 1),
		riscv.Ld(riscv.RegT0, riscv.RegS0, 0),
		riscv.Ebreak(),
	)
	enterUser(m, RAMBase)
	run(t, m)

	if got := m.CSR(riscv.CSRScause); got != riscv.CauseMisalignedLoad {
		t.Errorf("scause = %#x, want misaligned load", got)
	}
	if got := m.CSR(riscv.CSRStval); got != RAMBase+0x2001 {
		t.Errorf("stval = %#x, want %#x", got, uint64(RAMBase+0x2001))
	}
}

// buildRoot hand-writes a three-level table mapping va to frame ppn with
// the given leaf flags, and returns the root PPN. Table frames are taken
// from the supplied list, first entry being the root.
func buildRoot(t *testing.T, m *Machine, frames []uint64, va, ppn, flags uint64) uint64 {
	t.Helper()
	root, l1, l0 := frames[0], frames[1], frames[2]
	v := va & (riscv.MaxVA - 1)
	vpn2 := v >> 30 & 0x1ff
	vpn1 := v >> 21 & 0x1ff
	vpn0 := v >> 12 & 0x1ff
	write := func(table, idx, pte uint64) {
		if err := m.PhysWriteUint64(table<<riscv.PageShift+idx*riscv.PTESize, pte); err != nil {
			t.Fatalf("PTE write: %v", err)
		}
	}
	write(root, vpn2, l1<<riscv.PTEPPNShift|riscv.PTEValid)
	write(l1, vpn1, l0<<riscv.PTEPPNShift|riscv.PTEValid)
	write(l0, vpn0, ppn<<riscv.PTEPPNShift|riscv.PTEValid|flags)
	return root
}

func TestSv39Execution(t *testing.T) {
	m := newMachine(t)
	const base = uint64(RAMBase >> riscv.PageShift)
	codePPN := base + 8
	userVA := uint64(0x10000)
	root := buildRoot(t, m, []uint64{base + 1, base + 2, base + 3}, userVA, codePPN,
		riscv.PTERead|riscv.PTEWrite|riscv.PTEExec|riscv.PTEUser|riscv.PTEAccessed|riscv.PTEDirty)

	// The program stores to and reloads from its own page, then traps.
	code := riscv.Li(riscv.RegS0, int64(userVA)+0x800)
	code = append(code, riscv.Li(riscv.RegT0, 0x1234)...)
	code = append(code,
		riscv.Sw(riscv.RegT0, riscv.RegS0, 0),
		riscv.Lw(riscv.RegT1, riscv.RegS0, 0),
		riscv.Ecall(),
	)
	writeCode(t, m, codePPN<<riscv.PageShift, code...)

	m.SetCSR(riscv.CSRSatp, riscv.SatpSv39(root))
	m.FenceVMA()
	enterUser(m, userVA)
	run(t, m)

	if got := m.CSR(riscv.CSRScause); got != riscv.CauseUserECall {
		t.Fatalf("scause = %#x (stval %#x), want ecall", got, m.CSR(riscv.CSRStval))
	}
	if got := m.Reg(riscv.RegT1); got != 0x1234 {
		t.Errorf("round-trip through mapped page = %#x, want 0x1234", got)
	}
}

func TestSv39StoreFault(t *testing.T) {
	m := newMachine(t)
	const base = uint64(RAMBase >> riscv.PageShift)
	codePPN := base + 8
	userVA := uint64(0x10000)
	root := buildRoot(t, m, []uint64{base + 1, base + 2, base + 3}, userVA, codePPN,
		riscv.PTERead|riscv.PTEExec|riscv.PTEUser)

	// Store to an unmapped page.
	badVA := int64(0x40000)
	code := riscv.Li(riscv.RegS0, badVA)
	code = append(code, riscv.Sw(riscv.RegZero, riscv.RegS0, 0), riscv.Ebreak())
	writeCode(t, m, codePPN<<riscv.PageShift, code...)

	m.SetCSR(riscv.CSRSatp, riscv.SatpSv39(root))
	m.FenceVMA()
	enterUser(m, userVA)
	run(t, m)

	if got := m.CSR(riscv.CSRScause); got != riscv.CauseStorePageFault {
		t.Errorf("scause = %#x, want store page fault", got)
	}
	if got := m.CSR(riscv.CSRStval); got != uint64(badVA) {
		t.Errorf("stval = %#x, want %#x", got, badVA)
	}
}

func TestWritePermissionFault(t *testing.T) {
	m := newMachine(t)
	const base = uint64(RAMBase >> riscv.PageShift)
	codePPN := base + 8
	userVA := uint64(0x10000)
	// Mapped, but read/execute only.
	root := buildRoot(t, m, []uint64{base + 1, base + 2, base + 3}, userVA, codePPN,
		riscv.PTERead|riscv.PTEExec|riscv.PTEUser)

	code := riscv.Li(riscv.RegS0, int64(userVA))
	code = append(code, riscv.Sw(riscv.RegZero, riscv.RegS0, 0), riscv.Ebreak())
	writeCode(t, m, codePPN<<riscv.PageShift, code...)

	m.SetCSR(riscv.CSRSatp, riscv.SatpSv39(root))
	m.FenceVMA()
	enterUser(m, userVA)
	run(t, m)

	if got := m.CSR(riscv.CSRScause); got != riscv.CauseStorePageFault {
		t.Errorf("scause = %#x, want store page fault", got)
	}
}

// TestTLBStaleAcrossSatpSwitch shows why the fence after a satp write is
// load-bearing: without it, the old space's translation is still served.
func TestTLBStaleAcrossSatpSwitch(t *testing.T) {
	m := newMachine(t)
	const base = uint64(RAMBase >> riscv.PageShift)
	va := uint64(0x2000)

	frameA, frameB := base+20, base+21
	rootA := buildRoot(t, m, []uint64{base + 1, base + 2, base + 3}, va, frameA, riscv.PTERead|riscv.PTEWrite)
	rootB := buildRoot(t, m, []uint64{base + 4, base + 5, base + 6}, va, frameB, riscv.PTERead|riscv.PTEWrite)

	m.SetCSR(riscv.CSRSatp, riscv.SatpSv39(rootA))
	m.FenceVMA()
	pa, f := m.Translate(va, AccessLoad)
	if f != nil {
		t.Fatalf("Translate under rootA: %v", f)
	}
	if want := frameA << riscv.PageShift; pa != want {
		t.Fatalf("pa = %#x, want %#x", pa, want)
	}

	// Switch address spaces without a fence: the stale entry wins.
	m.SetCSR(riscv.CSRSatp, riscv.SatpSv39(rootB))
	pa, f = m.Translate(va, AccessLoad)
	if f != nil {
		t.Fatalf("Translate under rootB (no fence): %v", f)
	}
	if want := frameA << riscv.PageShift; pa != want {
		t.Errorf("pa = %#x, want stale %#x", pa, want)
	}

	m.FenceVMA()
	pa, f = m.Translate(va, AccessLoad)
	if f != nil {
		t.Fatalf("Translate under rootB (fenced): %v", f)
	}
	if want := frameB << riscv.PageShift; pa != want {
		t.Errorf("pa = %#x, want %#x after fence", pa, want)
	}
}

func TestTimerInterrupt(t *testing.T) {
	m := newMachine(t)
	writeCode(t, m, RAMBase, riscv.J(0)) // spin
	m.SetCSR(riscv.CSRSie, riscv.IntTimer)
	m.SetTimer(m.Cycle() + 1000)
	enterUser(m, RAMBase)
	run(t, m)

	if got := m.CSR(riscv.CSRScause); got != riscv.CauseSupervisorTimer {
		t.Fatalf("scause = %#x, want supervisor timer", got)
	}
	if got := m.Cycle(); got < 1000 {
		t.Errorf("cycle = %d at delivery, want >= 1000", got)
	}
	if !m.TimerPending() {
		t.Errorf("timer not pending at delivery")
	}
	// Rearming with a future deadline acknowledges.
	m.SetTimer(m.Cycle() + 1000)
	if m.TimerPending() {
		t.Errorf("timer still pending after rearm")
	}
}

func TestTimerMaskedWithoutSIE(t *testing.T) {
	m := newMachine(t)
	// No sie.STIE: the spin must run until the breakpoint, not trap on
	// the timer.
	writeCode(t, m, RAMBase,
		riscv.Addi(riscv.RegT0, riscv.RegZero, 100),
		riscv.Addi(riscv.RegT0, riscv.RegT0, -1), // loop:
		riscv.Bne(riscv.RegT0, riscv.RegZero, -4),
		riscv.Ebreak(),
	)
	m.SetTimer(1) // immediately pending
	enterUser(m, RAMBase)
	run(t, m)

	if got := m.CSR(riscv.CSRScause); got != riscv.CauseBreakpoint {
		t.Errorf("scause = %#x, want breakpoint (timer masked)", got)
	}
}

func TestRunCancel(t *testing.T) {
	m := newMachine(t)
	writeCode(t, m, RAMBase, riscv.J(0))
	enterUser(m, RAMBase)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if got := m.Mode(); got != riscv.ModeUser {
		t.Errorf("mode = %v after cancel, want U", got)
	}
}

func TestDeterminism(t *testing.T) {
	boot := func() (uint64, uint64) {
		m, err := New(testMemSize)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		m.SetCSR(riscv.CSRStvec, RAMBase+0x100000)
		writeCode(t, m, RAMBase,
			riscv.Addi(riscv.RegT0, riscv.RegZero, 500),
			riscv.Addi(riscv.RegT0, riscv.RegT0, -1), // loop:
			riscv.Bne(riscv.RegT0, riscv.RegZero, -4),
			riscv.Ecall(),
		)
		m.SetCSR(riscv.CSRSie, riscv.IntTimer)
		m.SetTimer(600)
		enterUser(m, RAMBase)
		run(t, m)
		return m.Cycle(), m.CSR(riscv.CSRScause)
	}

	c1, cause1 := boot()
	c2, cause2 := boot()
	if c1 != c2 || cause1 != cause2 {
		t.Errorf("identical boots diverged: cycle %d/%d, cause %#x/%#x", c1, c2, cause1, cause2)
	}
	if cause1 != riscv.CauseSupervisorTimer {
		t.Errorf("cause = %#x, want timer preemption of the loop", cause1)
	}
}
