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

package kernel

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/riscv"
)

func testMachine(t *testing.T) *hart.Machine {
	t.Helper()
	m, err := hart.New(4 << 20)
	if err != nil {
		t.Fatalf("hart.New: %v", err)
	}
	return m
}

func TestSwitchRoundTrip(t *testing.T) {
	m := testMachine(t)
	m.SetReg(riscv.RegRA, 0x1000)
	m.SetReg(riscv.RegSP, 0x2000)
	for i, r := range sRegisters {
		m.SetReg(r, uint64(0x100+i))
	}

	var a TaskContext
	b := TaskContext{RA: 0x3000, SP: 0x4000}
	for i := range b.S {
		b.S[i] = uint64(0x200 + i)
	}

	Switch(m, &a, &b)
	if got, want := m.Reg(riscv.RegRA), uint64(0x3000); got != want {
		t.Errorf("ra = %#x, want %#x", got, want)
	}
	if got, want := m.Reg(riscv.RegSP), uint64(0x4000); got != want {
		t.Errorf("sp = %#x, want %#x", got, want)
	}
	for i, r := range sRegisters {
		if got, want := m.Reg(r), uint64(0x200+i); got != want {
			t.Errorf("%s = %#x, want %#x", riscv.RegName(r), got, want)
		}
	}
	wantA := TaskContext{RA: 0x1000, SP: 0x2000}
	for i := range wantA.S {
		wantA.S[i] = uint64(0x100 + i)
	}
	if diff := cmp.Diff(wantA, a); diff != "" {
		t.Errorf("saved context mismatch (-want +got):\n%s", diff)
	}

	// Switching back restores the original file bit for bit.
	Switch(m, &b, &a)
	if got, want := m.Reg(riscv.RegRA), uint64(0x1000); got != want {
		t.Errorf("after return: ra = %#x, want %#x", got, want)
	}
	if got, want := m.Reg(riscv.RegSP), uint64(0x2000); got != want {
		t.Errorf("after return: sp = %#x, want %#x", got, want)
	}
	for i, r := range sRegisters {
		if got, want := m.Reg(r), uint64(0x100+i); got != want {
			t.Errorf("after return: %s = %#x, want %#x", riscv.RegName(r), got, want)
		}
	}
}

func TestSwitchSelf(t *testing.T) {
	m := testMachine(t)
	m.SetReg(riscv.RegRA, 0xAA)
	m.SetReg(riscv.RegSP, 0xBB)
	m.SetReg(riscv.RegS3, 0xCC)

	var c TaskContext
	Switch(m, &c, &c)
	if got := m.Reg(riscv.RegRA); got != 0xAA {
		t.Errorf("self-switch changed ra: %#x", got)
	}
	if got := m.Reg(riscv.RegSP); got != 0xBB {
		t.Errorf("self-switch changed sp: %#x", got)
	}
	if got := m.Reg(riscv.RegS3); got != 0xCC {
		t.Errorf("self-switch changed s3: %#x", got)
	}
}

func TestKernelText(t *testing.T) {
	kt := newKernelText()
	var hits []string
	a := kt.bind("a", func(*Kernel) taskRunState { hits = append(hits, "a"); return nil })
	b := kt.bind("b", func(*Kernel) taskRunState { hits = append(hits, "b"); return nil })
	if a == b {
		t.Fatalf("bind handed out the same address twice: %#x", a)
	}
	if a < ktextBase || b < ktextBase {
		t.Errorf("text addresses %#x, %#x below the text base %#x", a, b, ktextBase)
	}
	kt.resolve(b)(nil)
	kt.resolve(a)(nil)
	if diff := cmp.Diff([]string{"b", "a"}, hits); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestKernelTextUnbound(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("resolving an unbound address did not panic")
		}
	}()
	newKernelText().resolve(ktextBase + 1)
}
