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

	"gv6.dev/gv6/pkg/riscv"
)

// The trampoline text. The gate halves in gate.go perform this sequence;
// the text itself backs the frame mapped at the top of every address
// space, so the executable-mapping invariant the gate checks is a check
// against real instructions.
//
// Layout: the save sequence starts at offset 0 (where stvec points), the
// restore sequence at RestoreOffset.

var (
	trampolineText []byte
	restoreOffset  uint64
)

func init() {
	save := assembleSave()
	restore := assembleRestore()
	restoreOffset = uint64(4 * len(save))

	trampolineText = make([]byte, 4*(len(save)+len(restore)))
	for i, w := range append(save, restore...) {
		binary.LittleEndian.PutUint32(trampolineText[4*i:], w)
	}
	if len(trampolineText) > riscv.PageSize {
		panic("trampoline text does not fit its page")
	}
}

// assembleSave builds the trap entry: stash the user registers in the
// frame sscratch points at, then pivot onto the kernel stack and address
// space and jump to the handler.
func assembleSave() []uint32 {
	w := []uint32{
		riscv.Csrrw(riscv.RegSP, riscv.CSRSscratch, riscv.RegSP),
	}
	// x1, x3..x31 first, while nothing is clobbered. The true user sp
	// sits in sscratch until t2 is free to fetch it.
	for n := 1; n < riscv.NumRegs; n++ {
		if n == riscv.RegSP {
			continue
		}
		w = append(w, riscv.Sd(n, riscv.RegSP, int64(RegOffset(n))))
	}
	w = append(w,
		riscv.Csrr(riscv.RegT0, riscv.CSRSstatus),
		riscv.Csrr(riscv.RegT1, riscv.CSRSepc),
		riscv.Sd(riscv.RegT0, riscv.RegSP, OffSstatus),
		riscv.Sd(riscv.RegT1, riscv.RegSP, OffSepc),
		riscv.Csrr(riscv.RegT2, riscv.CSRSscratch),
		riscv.Sd(riscv.RegT2, riscv.RegSP, int64(RegOffset(riscv.RegSP))),
		riscv.Ld(riscv.RegT0, riscv.RegSP, OffKernelSATP),
		riscv.Ld(riscv.RegT1, riscv.RegSP, OffHandler),
		riscv.Ld(riscv.RegSP, riscv.RegSP, OffKernelSP),
		riscv.Csrw(riscv.CSRSatp, riscv.RegT0),
		riscv.SfenceVMA(),
		riscv.Jalr(riscv.RegZero, riscv.RegT1, 0),
	)
	return w
}

// assembleRestore builds the trap return: a0 carries the frame VA, a1 the
// target satp.
func assembleRestore() []uint32 {
	w := []uint32{
		riscv.Csrw(riscv.CSRSatp, riscv.RegA1),
		riscv.SfenceVMA(),
		riscv.Csrw(riscv.CSRSscratch, riscv.RegA0),
		riscv.Mv(riscv.RegSP, riscv.RegA0),
		riscv.Ld(riscv.RegT0, riscv.RegSP, OffSstatus),
		riscv.Ld(riscv.RegT1, riscv.RegSP, OffSepc),
		riscv.Csrw(riscv.CSRSstatus, riscv.RegT0),
		riscv.Csrw(riscv.CSRSepc, riscv.RegT1),
	}
	for n := 1; n < riscv.NumRegs; n++ {
		if n == riscv.RegSP {
			continue
		}
		w = append(w, riscv.Ld(n, riscv.RegSP, int64(RegOffset(n))))
	}
	w = append(w,
		riscv.Ld(riscv.RegSP, riscv.RegSP, int64(RegOffset(riscv.RegSP))),
		riscv.Sret(),
	)
	return w
}

// TrampolinePayload returns the trampoline text, ready to copy into the
// frame every address space maps at its top page.
func TrampolinePayload() []byte {
	return trampolineText
}

// RestoreOffset returns the offset of the restore sequence within the
// trampoline.
func RestoreOffset() uint64 {
	return restoreOffset
}
