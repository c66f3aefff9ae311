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

// Package trap implements the user/kernel boundary: the trap frame layout
// and the two gate halves that cross it.
//
// The frame layout is a wire format. The save half writes fields by the
// offset constants below; the restore half decodes the whole frame through
// the Frame codec. The two are written independently and must agree, which
// frame_test.go checks field by field.
package trap

import (
	"encoding/binary"
	"fmt"

	"gv6.dev/gv6/pkg/riscv"
)

// Frame field offsets, in bytes. General register x[n] lives at 8*n; the
// kernel-side fields follow the register file.
const (
	OffSstatus    = 8 * 32
	OffSepc       = 8 * 33
	OffKernelSATP = 8 * 34
	OffKernelSP   = 8 * 35
	OffHandler    = 8 * 36

	// FrameSize is the total size of the frame.
	FrameSize = 8 * 37
)

// RegOffset returns the frame offset of general register x[n].
func RegOffset(n int) uint64 {
	if n < 0 || n >= riscv.NumRegs {
		panic(fmt.Sprintf("no frame slot for x%d", n))
	}
	return uint64(8 * n)
}

// Frame is the register-file image a task leaves at the trap boundary,
// plus the kernel-side fields the gate needs before it can switch address
// spaces: the kernel satp token, the task's kernel stack top, and the
// kernel VA of the trap dispatcher.
type Frame struct {
	// X holds the general registers. X[0] is kept for layout only.
	X [riscv.NumRegs]uint64

	Sstatus uint64
	Sepc    uint64

	KernelSATP uint64
	KernelSP   uint64
	Handler    uint64
}

// A0 returns the frame's x10 slot, the syscall return register.
func (f *Frame) A0() uint64 {
	return f.X[riscv.RegA0]
}

// SyscallArgs returns the syscall number (x17) and arguments (x10..x15)
// recorded in the frame.
func (f *Frame) SyscallArgs() (num uint64, args [6]uint64) {
	num = f.X[riscv.RegA7]
	for i := 0; i < 6; i++ {
		args[i] = f.X[riscv.RegA0+i]
	}
	return num, args
}

// Encode writes the frame into b, which must hold FrameSize bytes. Fields
// are written in declaration order, not via the offset constants.
func (f *Frame) Encode(b []byte) {
	if len(b) < FrameSize {
		panic(fmt.Sprintf("encoding a frame into %d bytes", len(b)))
	}
	off := 0
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(b[off:], v)
		off += 8
	}
	for _, r := range f.X {
		put(r)
	}
	put(f.Sstatus)
	put(f.Sepc)
	put(f.KernelSATP)
	put(f.KernelSP)
	put(f.Handler)
}

// DecodeFrame reads a frame from b, the inverse of Encode.
func DecodeFrame(b []byte) *Frame {
	if len(b) < FrameSize {
		panic(fmt.Sprintf("decoding a frame from %d bytes", len(b)))
	}
	var f Frame
	off := 0
	get := func() uint64 {
		v := binary.LittleEndian.Uint64(b[off:])
		off += 8
		return v
	}
	for i := range f.X {
		f.X[i] = get()
	}
	f.Sstatus = get()
	f.Sepc = get()
	f.KernelSATP = get()
	f.KernelSP = get()
	f.Handler = get()
	return &f
}
