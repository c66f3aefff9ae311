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

package mm

import "gv6.dev/gv6/pkg/riscv"

// Address-space geometry. The same trampoline page sits at the top of
// every address space, kernel and user alike, so that the pivot between
// them happens in text that is mapped on both sides of the satp switch.
const (
	// TrampolineBase is the highest sv39 page, sign-extended.
	TrampolineBase = uint64(0xFFFFFFFFFFFFF000)

	// TrapFrameBase is the page directly below the trampoline. In user
	// spaces it holds the task's trap frame, mapped without the U bit:
	// the gate reaches it, user code cannot.
	TrapFrameBase = TrampolineBase - riscv.PageSize
)

// Kernel stack geometry. Stack n occupies a fixed slot descending from the
// trampoline, with an unmapped guard page between consecutive slots so an
// overflow faults instead of silently entering the next stack.
const (
	// KernelStackPages is the mapped size of one kernel stack.
	KernelStackPages = 2

	kernelStackSlot = (KernelStackPages + 1) * riscv.PageSize
)

// KernelStackRange returns the [lo, hi) virtual range of kernel stack n.
// hi is the initial stack pointer.
func KernelStackRange(n uint64) (lo, hi uint64) {
	hi = TrampolineBase - n*kernelStackSlot
	lo = hi - KernelStackPages*riscv.PageSize
	return lo, hi
}

// User layout constants.
const (
	// UserImageBase is where flat user images are loaded; it is also
	// their entry point.
	UserImageBase = uint64(0x10000)

	// UserStackPages is the size of the user stack, placed one guard
	// page above the image.
	UserStackPages = 2
)
