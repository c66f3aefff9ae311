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

// Package mm manages physical frames and address spaces.
//
// An AddressSpace is a set of mapped areas over one page-table tree. The
// kernel space identity-maps RAM and stacks the per-task kernel stacks
// below the trampoline; user spaces hold a flat image, a stack, and the
// trap frame page. Every space maps the same trampoline frame at the top.
package mm

import (
	"fmt"

	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/pagetables"
	"gv6.dev/gv6/pkg/riscv"
)

// MaxImageBytes bounds a user image so a corrupt size cannot swallow RAM.
const MaxImageBytes = 1 << 20

// area is one contiguous mapped region of an address space.
type area struct {
	// start and end delimit the region; both are page-aligned.
	start, end uint64

	opts pagetables.MapOpts

	// identity marks a region whose pages map to the equal physical
	// addresses and are not owned by the space.
	identity bool

	// frames maps page VA to the owned backing PPN. nil for identity
	// regions.
	frames map[uint64]uint64
}

// AddressSpace is a page-table tree plus the frames backing its areas.
//
// AddressSpace is not safe for concurrent use.
type AddressSpace struct {
	m     *hart.Machine
	alloc *FrameAllocator
	pt    *pagetables.PageTables

	// trampoline is the shared trampoline frame, mapped at
	// TrampolineBase. It is not owned by any space.
	trampoline uint64

	areas []*area
}

func newAddressSpace(m *hart.Machine, alloc *FrameAllocator, trampoline uint64) (*AddressSpace, error) {
	pt, err := pagetables.New(m, alloc)
	if err != nil {
		return nil, err
	}
	as := &AddressSpace{m: m, alloc: alloc, pt: pt, trampoline: trampoline}
	if err := as.pt.Map(TrampolineBase, trampoline, pagetables.MapOpts{Read: true, Exec: true, Global: true}); err != nil {
		as.Release()
		return nil, err
	}
	return as, nil
}

// NewKernel builds the kernel address space: the trampoline and an
// identity map of all of RAM. Kernel stacks are added per task with
// MapKernelStack.
func NewKernel(m *hart.Machine, alloc *FrameAllocator, trampoline uint64) (*AddressSpace, error) {
	as, err := newAddressSpace(m, alloc, trampoline)
	if err != nil {
		return nil, err
	}
	if err := as.mapIdentity(hart.RAMBase, hart.RAMBase+m.MemSize(),
		pagetables.MapOpts{Read: true, Write: true, Global: true}); err != nil {
		as.Release()
		return nil, err
	}
	return as, nil
}

// NewUser builds a user address space around a flat image: the image
// mapped and loaded at UserImageBase, a guard page, the user stack, the
// trap frame page (supervisor-only) and the trampoline. It returns the
// space and the initial user stack pointer.
func NewUser(m *hart.Machine, alloc *FrameAllocator, trampoline uint64, image []byte) (*AddressSpace, uint64, error) {
	if len(image) == 0 {
		return nil, 0, fmt.Errorf("empty user image")
	}
	if len(image) > MaxImageBytes {
		return nil, 0, fmt.Errorf("user image of %d bytes exceeds the %d byte limit", len(image), MaxImageBytes)
	}
	as, err := newAddressSpace(m, alloc, trampoline)
	if err != nil {
		return nil, 0, err
	}

	imageEnd := UserImageBase + pageRoundUp(uint64(len(image)))
	if err := as.mapFramed(UserImageBase, imageEnd,
		pagetables.MapOpts{Read: true, Write: true, Exec: true, User: true}); err != nil {
		as.Release()
		return nil, 0, err
	}
	if err := as.CopyOut(UserImageBase, image); err != nil {
		as.Release()
		return nil, 0, err
	}

	stackLow := imageEnd + riscv.PageSize // guard page
	stackHigh := stackLow + UserStackPages*riscv.PageSize
	if err := as.mapFramed(stackLow, stackHigh,
		pagetables.MapOpts{Read: true, Write: true, User: true}); err != nil {
		as.Release()
		return nil, 0, err
	}

	if err := as.mapFramed(TrapFrameBase, TrampolineBase,
		pagetables.MapOpts{Read: true, Write: true}); err != nil {
		as.Release()
		return nil, 0, err
	}
	return as, stackHigh, nil
}

func pageRoundUp(n uint64) uint64 {
	return (n + riscv.PageSize - 1) &^ (riscv.PageSize - 1)
}

// mapFramed allocates frames for [start, end) and maps them with opts.
func (as *AddressSpace) mapFramed(start, end uint64, opts pagetables.MapOpts) error {
	a := &area{start: start, end: end, opts: opts, frames: make(map[uint64]uint64)}
	as.areas = append(as.areas, a)
	for va := start; va < end; va += riscv.PageSize {
		ppn, err := as.alloc.AllocFrame()
		if err != nil {
			return fmt.Errorf("mapping [%#x, %#x): %w", start, end, err)
		}
		a.frames[va] = ppn
		if err := as.pt.Map(va, ppn, opts); err != nil {
			return err
		}
	}
	return nil
}

// mapIdentity maps [startPA, endPA) at the equal virtual addresses.
func (as *AddressSpace) mapIdentity(startPA, endPA uint64, opts pagetables.MapOpts) error {
	a := &area{start: startPA, end: endPA, opts: opts, identity: true}
	as.areas = append(as.areas, a)
	for pa := startPA; pa < endPA; pa += riscv.PageSize {
		if err := as.pt.Map(pa, pa>>riscv.PageShift, opts); err != nil {
			return err
		}
	}
	return nil
}

// MapKernelStack maps kernel stack slot n and returns its initial stack
// pointer. The guard below the slot stays unmapped.
func (as *AddressSpace) MapKernelStack(n uint64) (uint64, error) {
	lo, hi := KernelStackRange(n)
	if err := as.mapFramed(lo, hi, pagetables.MapOpts{Read: true, Write: true, Global: true}); err != nil {
		return 0, err
	}
	return hi, nil
}

// UnmapKernelStack releases kernel stack slot n so the slot can be reused.
func (as *AddressSpace) UnmapKernelStack(n uint64) {
	lo, _ := KernelStackRange(n)
	as.RemoveArea(lo)
}

// RemoveArea unmaps the area starting at start and frees its frames.
// Removing an area that does not exist is an invariant violation.
func (as *AddressSpace) RemoveArea(start uint64) {
	for i, a := range as.areas {
		if a.start != start {
			continue
		}
		as.releaseArea(a)
		as.areas = append(as.areas[:i], as.areas[i+1:]...)
		return
	}
	panic(fmt.Sprintf("no area starts at %#x", start))
}

func (as *AddressSpace) releaseArea(a *area) {
	for va := a.start; va < a.end; va += riscv.PageSize {
		if a.identity {
			as.pt.Unmap(va)
			continue
		}
		ppn, ok := a.frames[va]
		if !ok {
			// Allocation failed mid-area; nothing mapped here.
			continue
		}
		as.pt.Unmap(va)
		as.alloc.FreeFrame(ppn)
	}
}

// SATP returns the satp value activating this space.
func (as *AddressSpace) SATP() uint64 {
	return as.pt.SATP()
}

// Translate returns the frame and options mapped at va.
func (as *AddressSpace) Translate(va uint64) (uint64, pagetables.MapOpts, bool) {
	return as.pt.Lookup(va)
}

// Clone builds a copy-by-value duplicate of a user space: same layout,
// fresh frames, contents copied page by page. The trampoline mapping is
// shared, not copied.
func (as *AddressSpace) Clone() (*AddressSpace, error) {
	clone, err := newAddressSpace(as.m, as.alloc, as.trampoline)
	if err != nil {
		return nil, err
	}
	for _, a := range as.areas {
		if a.identity {
			panic("cloning a space with identity areas")
		}
		if err := clone.mapFramed(a.start, a.end, a.opts); err != nil {
			clone.Release()
			return nil, err
		}
		dst := clone.areas[len(clone.areas)-1]
		for va := a.start; va < a.end; va += riscv.PageSize {
			src, err := as.m.FrameBytes(a.frames[va])
			if err != nil {
				panic(fmt.Sprintf("lost frame backing %#x: %v", va, err))
			}
			dstb, err := as.m.FrameBytes(dst.frames[va])
			if err != nil {
				panic(fmt.Sprintf("lost frame backing %#x: %v", va, err))
			}
			copy(dstb, src)
		}
	}
	return clone, nil
}

// Release unmaps nothing but returns every owned frame and the table tree
// to the allocator. The caller must not use the space afterwards, and must
// fence before reusing its satp value.
func (as *AddressSpace) Release() {
	for _, a := range as.areas {
		if a.identity {
			continue
		}
		for _, ppn := range a.frames {
			as.alloc.FreeFrame(ppn)
		}
	}
	as.areas = nil
	as.pt.Release()
}
