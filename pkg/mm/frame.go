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

import (
	"fmt"

	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/riscv"
	"gv6.dev/gv6/pkg/sync"
)

// ErrNoFrames is returned when physical memory is exhausted.
var ErrNoFrames = fmt.Errorf("out of physical frames")

// FrameAllocator hands out physical frames from the machine's RAM. Frames
// are allocated from a watermark and freed frames are recycled in LIFO
// order. Every frame returned is zeroed.
//
// FrameAllocator implements pagetables.Allocator.
type FrameAllocator struct {
	m *hart.Machine

	mu sync.Mutex

	// next is the first never-allocated PPN; end is one past the last
	// usable PPN.
	//
	// +checklocks:mu
	next uint64
	// +checklocks:mu
	end uint64

	// recycled holds freed PPNs available for reuse.
	//
	// +checklocks:mu
	recycled []uint64

	// allocated counts frames currently out.
	//
	// +checklocks:mu
	allocated uint64
}

// NewFrameAllocator returns an allocator covering all of the machine's RAM.
func NewFrameAllocator(m *hart.Machine) *FrameAllocator {
	return &FrameAllocator{
		m:    m,
		next: hart.RAMBase >> riscv.PageShift,
		end:  (hart.RAMBase + m.MemSize()) >> riscv.PageShift,
	}
}

// AllocFrame reserves a zeroed frame and returns its PPN.
func (a *FrameAllocator) AllocFrame() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ppn uint64
	if n := len(a.recycled); n > 0 {
		ppn = a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
	} else if a.next < a.end {
		ppn = a.next
		a.next++
	} else {
		return 0, ErrNoFrames
	}
	a.allocated++

	b, err := a.m.FrameBytes(ppn)
	if err != nil {
		panic(fmt.Sprintf("allocator handed out frame %#x outside RAM: %v", ppn, err))
	}
	clear(b)
	return ppn, nil
}

// FreeFrame returns a frame. Freeing a frame that was never allocated, or
// freeing one twice, is an invariant violation.
func (a *FrameAllocator) FreeFrame(ppn uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ppn >= a.next || ppn < hart.RAMBase>>riscv.PageShift {
		panic(fmt.Sprintf("freeing frame %#x that was never allocated", ppn))
	}
	for _, r := range a.recycled {
		if r == ppn {
			panic(fmt.Sprintf("double free of frame %#x", ppn))
		}
	}
	a.recycled = append(a.recycled, ppn)
	a.allocated--
}

// Allocated returns the number of frames currently out.
func (a *FrameAllocator) Allocated() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated
}

// Free returns the number of frames still available.
func (a *FrameAllocator) Free() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.end - a.next + uint64(len(a.recycled))
}
