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

// Package pagetables builds sv39 page tables in machine physical memory.
//
// The tables written here are the same tables the hart walks during
// translation; there is no shadow structure. PageTables owns the table
// node frames and returns them to its Allocator on Release, while leaf
// frames stay owned by the caller.
package pagetables

import (
	"fmt"

	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/riscv"
)

// MapOpts are the access options for a mapped page.
type MapOpts struct {
	// Read, Write and Exec are the leaf permissions.
	Read  bool
	Write bool
	Exec  bool

	// User marks the page accessible from user mode.
	User bool

	// Global marks the mapping as present in all address spaces.
	Global bool
}

// flags returns the PTE flag bits for the options. Accessed and Dirty are
// set at map time; the model does not manage them.
func (o MapOpts) flags() uint64 {
	f := riscv.PTEValid | riscv.PTEAccessed | riscv.PTEDirty
	if o.Read {
		f |= riscv.PTERead
	}
	if o.Write {
		f |= riscv.PTEWrite
	}
	if o.Exec {
		f |= riscv.PTEExec
	}
	if o.User {
		f |= riscv.PTEUser
	}
	if o.Global {
		f |= riscv.PTEGlobal
	}
	return f
}

// optsFromFlags recovers MapOpts from leaf PTE flag bits.
func optsFromFlags(f uint64) MapOpts {
	return MapOpts{
		Read:   f&riscv.PTERead != 0,
		Write:  f&riscv.PTEWrite != 0,
		Exec:   f&riscv.PTEExec != 0,
		User:   f&riscv.PTEUser != 0,
		Global: f&riscv.PTEGlobal != 0,
	}
}

// String implements fmt.Stringer.String.
func (o MapOpts) String() string {
	b := [5]byte{'-', '-', '-', '-', '-'}
	if o.Read {
		b[0] = 'r'
	}
	if o.Write {
		b[1] = 'w'
	}
	if o.Exec {
		b[2] = 'x'
	}
	if o.User {
		b[3] = 'u'
	}
	if o.Global {
		b[4] = 'g'
	}
	return string(b[:])
}

// PageTables is a three-level sv39 table rooted in a single frame.
//
// PageTables is not safe for concurrent use.
type PageTables struct {
	m     *hart.Machine
	alloc Allocator

	// root is the PPN of the root table frame.
	root uint64

	// tables records every table node frame allocated for this tree,
	// root included, so Release can return them.
	tables []uint64
}

// New returns an empty page table tree with a freshly allocated root.
func New(m *hart.Machine, alloc Allocator) (*PageTables, error) {
	root, err := alloc.AllocFrame()
	if err != nil {
		return nil, fmt.Errorf("allocating root table: %w", err)
	}
	return &PageTables{
		m:      m,
		alloc:  alloc,
		root:   root,
		tables: []uint64{root},
	}, nil
}

// Root returns the PPN of the root table frame.
func (p *PageTables) Root() uint64 {
	return p.root
}

// SATP returns the satp value that activates this tree.
func (p *PageTables) SATP() uint64 {
	return riscv.SatpSv39(p.root)
}

// pteIndex returns the table index for va at the given level.
func pteIndex(va uint64, level int) uint64 {
	return va >> (riscv.PageShift + level*riscv.VPNBits) & (1<<riscv.VPNBits - 1)
}

// readPTE reads the PTE at index idx of the table frame with PPN table.
// Table frames always lie in RAM, so failure is an invariant violation.
func (p *PageTables) readPTE(table, idx uint64) uint64 {
	pte, err := p.m.PhysReadUint64(table<<riscv.PageShift + idx*riscv.PTESize)
	if err != nil {
		panic(fmt.Sprintf("page-table frame %#x outside RAM: %v", table, err))
	}
	return pte
}

func (p *PageTables) writePTE(table, idx, pte uint64) {
	if err := p.m.PhysWriteUint64(table<<riscv.PageShift+idx*riscv.PTESize, pte); err != nil {
		panic(fmt.Sprintf("page-table frame %#x outside RAM: %v", table, err))
	}
}

// walk descends to the leaf level for va and returns the PPN of the level-0
// table holding its PTE. With create set, missing intermediate tables are
// allocated; without it, a missing table returns ok=false.
func (p *PageTables) walk(va uint64, create bool) (uint64, bool, error) {
	if riscv.Sv39Canonical(va) != va {
		// Nothing non-canonical is ever mapped. Trying to create such
		// a mapping is a kernel bug; merely asking about one is not.
		if create {
			panic(fmt.Sprintf("mapping non-canonical address %#x", va))
		}
		return 0, false, nil
	}
	v := va & (riscv.MaxVA - 1)
	table := p.root
	for level := 2; level > 0; level-- {
		idx := pteIndex(v, level)
		pte := p.readPTE(table, idx)
		if pte&riscv.PTEValid == 0 {
			if !create {
				return 0, false, nil
			}
			frame, err := p.alloc.AllocFrame()
			if err != nil {
				return 0, false, fmt.Errorf("allocating level-%d table for %#x: %w", level-1, va, err)
			}
			p.tables = append(p.tables, frame)
			p.writePTE(table, idx, frame<<riscv.PTEPPNShift|riscv.PTEValid)
			table = frame
			continue
		}
		if pte&(riscv.PTERead|riscv.PTEWrite|riscv.PTEExec) != 0 {
			panic(fmt.Sprintf("superpage leaf at level %d covers %#x", level, va))
		}
		table = pte >> riscv.PTEPPNShift & (uint64(1)<<44 - 1)
	}
	return table, true, nil
}

// Map installs a leaf mapping va -> ppn with the given options. The page
// must not already be mapped; remapping without an intervening Unmap is an
// invariant violation.
func (p *PageTables) Map(va, ppn uint64, opts MapOpts) error {
	if va%riscv.PageSize != 0 {
		panic(fmt.Sprintf("mapping unaligned address %#x", va))
	}
	table, _, err := p.walk(va, true)
	if err != nil {
		return err
	}
	idx := pteIndex(va&(riscv.MaxVA-1), 0)
	if old := p.readPTE(table, idx); old&riscv.PTEValid != 0 {
		panic(fmt.Sprintf("%#x is already mapped (pte %#x)", va, old))
	}
	p.writePTE(table, idx, ppn<<riscv.PTEPPNShift|opts.flags())
	return nil
}

// Unmap removes the leaf mapping for va and returns the PPN it pointed at.
// Unmapping a page that is not mapped is an invariant violation.
//
// The caller is responsible for fencing: the hart may still hold the old
// translation until an sfence.
func (p *PageTables) Unmap(va uint64) uint64 {
	if va%riscv.PageSize != 0 {
		panic(fmt.Sprintf("unmapping unaligned address %#x", va))
	}
	table, ok, err := p.walk(va, false)
	if err != nil || !ok {
		panic(fmt.Sprintf("%#x is not mapped", va))
	}
	idx := pteIndex(va&(riscv.MaxVA-1), 0)
	pte := p.readPTE(table, idx)
	if pte&riscv.PTEValid == 0 {
		panic(fmt.Sprintf("%#x is not mapped", va))
	}
	p.writePTE(table, idx, 0)
	return pte >> riscv.PTEPPNShift & (uint64(1)<<44 - 1)
}

// Lookup returns the physical page and options for va, or ok=false when va
// is not mapped.
func (p *PageTables) Lookup(va uint64) (uint64, MapOpts, bool) {
	table, ok, err := p.walk(va&^(riscv.PageSize-1), false)
	if err != nil || !ok {
		return 0, MapOpts{}, false
	}
	idx := pteIndex(va&(riscv.MaxVA-1), 0)
	pte := p.readPTE(table, idx)
	if pte&riscv.PTEValid == 0 {
		return 0, MapOpts{}, false
	}
	return pte >> riscv.PTEPPNShift & (uint64(1)<<44 - 1), optsFromFlags(pte & riscv.PTEFlagsMask), true
}

// Release returns every table node frame, root included, to the allocator.
// Leaf frames are untouched; the caller owns them. The tree must not be
// used afterwards.
func (p *PageTables) Release() {
	for _, f := range p.tables {
		p.alloc.FreeFrame(f)
	}
	p.tables = nil
}
