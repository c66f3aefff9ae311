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
	"context"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/mm"
	"gv6.dev/gv6/pkg/pagetables"
	"gv6.dev/gv6/pkg/riscv"
)

func TestTrampolineText(t *testing.T) {
	text := TrampolinePayload()
	if len(text) == 0 || len(text)%4 != 0 {
		t.Fatalf("trampoline text has %d bytes", len(text))
	}
	if len(text) > riscv.PageSize {
		t.Fatalf("trampoline text of %d bytes does not fit a page", len(text))
	}

	if got, want := binary.LittleEndian.Uint32(text), riscv.Csrrw(riscv.RegSP, riscv.CSRSscratch, riscv.RegSP); got != want {
		t.Errorf("save entry = %#08x, want csrrw sp, sscratch, sp (%#08x)", got, want)
	}
	ro := RestoreOffset()
	if ro == 0 || ro%4 != 0 || int(ro) >= len(text) {
		t.Fatalf("restore offset %d out of range", ro)
	}
	if got, want := binary.LittleEndian.Uint32(text[ro:]), riscv.Csrw(riscv.CSRSatp, riscv.RegA1); got != want {
		t.Errorf("restore entry = %#08x, want csrw satp, a1 (%#08x)", got, want)
	}
	if got, want := binary.LittleEndian.Uint32(text[len(text)-4:]), riscv.Sret(); got != want {
		t.Errorf("last word = %#08x, want sret (%#08x)", got, want)
	}
}

// gateEnv is a machine with a kernel space, one kernel stack, and a user
// space holding the given image, all sharing a trampoline frame.
type gateEnv struct {
	m         *hart.Machine
	kernel    *mm.AddressSpace
	user      *mm.AddressSpace
	kstackTop uint64
	userSP    uint64
	tfBytes   []byte // trap frame page, physical view
}

func newGateEnv(t *testing.T, image []byte) *gateEnv {
	t.Helper()
	m, err := hart.New(8 << 20)
	if err != nil {
		t.Fatalf("hart.New: %v", err)
	}
	alloc := mm.NewFrameAllocator(m)

	tramp, err := alloc.AllocFrame()
	if err != nil {
		t.Fatalf("AllocFrame: %v", err)
	}
	tb, err := m.FrameBytes(tramp)
	if err != nil {
		t.Fatalf("FrameBytes: %v", err)
	}
	copy(tb, TrampolinePayload())

	kernel, err := mm.NewKernel(m, alloc, tramp)
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	kstackTop, err := kernel.MapKernelStack(0)
	if err != nil {
		t.Fatalf("MapKernelStack: %v", err)
	}
	user, userSP, err := mm.NewUser(m, alloc, tramp, image)
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	tfPPN, _, ok := user.Translate(mm.TrapFrameBase)
	if !ok {
		t.Fatalf("trap frame not mapped")
	}
	tfBytes, err := m.FrameBytes(tfPPN)
	if err != nil {
		t.Fatalf("FrameBytes: %v", err)
	}

	m.SetCSR(riscv.CSRStvec, mm.TrampolineBase)
	return &gateEnv{m: m, kernel: kernel, user: user, kstackTop: kstackTop, userSP: userSP, tfBytes: tfBytes}
}

// TestGateRoundTrip drives two full crossings: frame -> user -> trap ->
// frame, resume, trap again. The saved frames must reflect exactly what
// user code did and nothing else.
func TestGateRoundTrip(t *testing.T) {
	base := mm.UserImageBase
	image := encodeWords(
		riscv.Addi(riscv.RegT0, riscv.RegT0, 1),
		riscv.Addi(riscv.RegA7, riscv.RegZero, 93),
		riscv.Ecall(), // base+8
		riscv.Addi(riscv.RegT1, riscv.RegZero, 7),
		riscv.Ecall(), // base+16
	)
	env := newGateEnv(t, image)
	m := env.m

	const handlerVA uint64 = 0xFFFFFFC000001000
	init := &Frame{
		Sepc:       base,
		KernelSATP: env.kernel.SATP(),
		KernelSP:   env.kstackTop,
		Handler:    handlerVA,
	}
	for n := 1; n < riscv.NumRegs; n++ {
		init.X[n] = 0xB00 + 16*uint64(n)
	}
	init.X[riscv.RegSP] = env.userSP
	init.Encode(env.tfBytes)

	// Launch.
	Exit(m, mm.TrapFrameBase, env.user.SATP())
	if got := m.Mode(); got != riscv.ModeUser {
		t.Fatalf("mode after Exit = %v, want U", got)
	}
	if got := m.PC(); got != base {
		t.Fatalf("pc after Exit = %#x, want %#x", got, base)
	}
	if got := m.Reg(riscv.RegT0); got != init.X[riscv.RegT0] {
		t.Fatalf("t0 after Exit = %#x, want %#x", got, init.X[riscv.RegT0])
	}

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := m.PC(); got != mm.TrampolineBase {
		t.Fatalf("pc after trap = %#x, want the trampoline", got)
	}
	if got := m.CSR(riscv.CSRScause); got != riscv.CauseUserECall {
		t.Fatalf("scause = %#x, want ecall", got)
	}

	// Cross into the kernel.
	if got := Enter(m); got != handlerVA {
		t.Errorf("Enter returned handler %#x, want %#x", got, handlerVA)
	}
	if got := m.CSR(riscv.CSRSatp); got != env.kernel.SATP() {
		t.Errorf("satp after Enter = %#x, want kernel", got)
	}
	if got := m.Reg(riscv.RegSP); got != env.kstackTop {
		t.Errorf("sp after Enter = %#x, want kernel stack %#x", got, env.kstackTop)
	}
	if got := m.CSR(riscv.CSRSscratch); got != env.userSP {
		t.Errorf("sscratch after Enter = %#x, want user sp %#x", got, env.userSP)
	}

	// The frame now holds the user state at the trap, read physically:
	// exactly the launch state plus what the three instructions did.
	want := *init
	want.X[riscv.RegT0]++
	want.X[riscv.RegA7] = 93
	want.Sepc = base + 8
	got := DecodeFrame(env.tfBytes)
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Fatalf("first trap frame mismatch (-want +got):\n%s", diff)
	}

	// Play dispatcher: complete the syscall with result 42 and resume
	// past the ecall.
	got.X[riscv.RegA0] = 42
	got.Sepc += 4
	got.Encode(env.tfBytes)
	Exit(m, mm.TrapFrameBase, env.user.SATP())
	if pc := m.PC(); pc != base+12 {
		t.Fatalf("pc after resume = %#x, want %#x", pc, base+12)
	}
	if a0 := m.Reg(riscv.RegA0); a0 != 42 {
		t.Fatalf("a0 after resume = %d, want 42", a0)
	}

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	Enter(m)

	// Second frame: the syscall result survived untouched, t1 was set,
	// and sepc advanced to the second ecall.
	want2 := want
	want2.X[riscv.RegA0] = 42
	want2.X[riscv.RegT1] = 7
	want2.Sepc = base + 16
	if diff := cmp.Diff(&want2, DecodeFrame(env.tfBytes)); diff != "" {
		t.Fatalf("second trap frame mismatch (-want +got):\n%s", diff)
	}
}

func encodeWords(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

func TestEnterOffTrampolinePanics(t *testing.T) {
	m, err := hart.New(1 << 20)
	if err != nil {
		t.Fatalf("hart.New: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Enter away from the trampoline did not panic")
		}
	}()
	Enter(m) // supervisor mode, but pc is at RAMBase
}

func TestExitWithoutTrampolinePanics(t *testing.T) {
	m, err := hart.New(1 << 20)
	if err != nil {
		t.Fatalf("hart.New: %v", err)
	}
	alloc := mm.NewFrameAllocator(m)
	pt, err := pagetables.New(m, alloc)
	if err != nil {
		t.Fatalf("pagetables.New: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Exit into a space without a trampoline did not panic")
		}
	}()
	Exit(m, mm.TrapFrameBase, pt.SATP())
}
