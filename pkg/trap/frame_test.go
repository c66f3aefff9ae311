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
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gv6.dev/gv6/pkg/riscv"
)

func testFrame() *Frame {
	f := &Frame{
		Sstatus:    0x120,
		Sepc:       0x10008,
		KernelSATP: riscv.SatpSv39(0x80123),
		KernelSP:   0xFFFFFFFFFFFFE000,
		Handler:    0xFFFFFFC000001000,
	}
	for n := 1; n < riscv.NumRegs; n++ {
		f.X[n] = 0xB00 + 16*uint64(n)
	}
	return f
}

// TestLayoutAgreement pins the offset constants against the struct codec:
// the save half writes by offset, the restore half decodes by field order,
// and the two must describe the same bytes.
func TestLayoutAgreement(t *testing.T) {
	f := testFrame()
	var buf [FrameSize]byte
	f.Encode(buf[:])

	for n := 0; n < riscv.NumRegs; n++ {
		if got := binary.LittleEndian.Uint64(buf[RegOffset(n):]); got != f.X[n] {
			t.Errorf("x%d at offset %d = %#x, want %#x", n, RegOffset(n), got, f.X[n])
		}
	}
	for _, tc := range []struct {
		name string
		off  int
		want uint64
	}{
		{"sstatus", OffSstatus, f.Sstatus},
		{"sepc", OffSepc, f.Sepc},
		{"kernelSATP", OffKernelSATP, f.KernelSATP},
		{"kernelSP", OffKernelSP, f.KernelSP},
		{"handler", OffHandler, f.Handler},
	} {
		if got := binary.LittleEndian.Uint64(buf[tc.off:]); got != tc.want {
			t.Errorf("%s at offset %d = %#x, want %#x", tc.name, tc.off, got, tc.want)
		}
	}

	// And the other direction: bytes written by offset decode to the
	// same frame.
	var raw [FrameSize]byte
	for n := 0; n < riscv.NumRegs; n++ {
		binary.LittleEndian.PutUint64(raw[RegOffset(n):], f.X[n])
	}
	binary.LittleEndian.PutUint64(raw[OffSstatus:], f.Sstatus)
	binary.LittleEndian.PutUint64(raw[OffSepc:], f.Sepc)
	binary.LittleEndian.PutUint64(raw[OffKernelSATP:], f.KernelSATP)
	binary.LittleEndian.PutUint64(raw[OffKernelSP:], f.KernelSP)
	binary.LittleEndian.PutUint64(raw[OffHandler:], f.Handler)

	if diff := cmp.Diff(f, DecodeFrame(raw[:])); diff != "" {
		t.Errorf("decoded frame mismatch (-want +got):\n%s", diff)
	}
}

func TestSyscallArgs(t *testing.T) {
	f := testFrame()
	f.X[riscv.RegA7] = 64
	for i := 0; i < 6; i++ {
		f.X[riscv.RegA0+i] = uint64(100 + i)
	}
	num, args := f.SyscallArgs()
	if num != 64 {
		t.Errorf("num = %d, want 64", num)
	}
	for i, a := range args {
		if want := uint64(100 + i); a != want {
			t.Errorf("args[%d] = %d, want %d", i, a, want)
		}
	}
	if got := f.A0(); got != 100 {
		t.Errorf("A0 = %d, want 100", got)
	}
}
