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
	"fmt"

	"gv6.dev/gv6/pkg/riscv"
)

// Access is the type of a memory access for translation purposes.
type Access uint8

// Access types.
const (
	AccessFetch Access = iota
	AccessLoad
	AccessStore
)

// String implements fmt.Stringer.String.
func (a Access) String() string {
	switch a {
	case AccessFetch:
		return "fetch"
	case AccessLoad:
		return "load"
	case AccessStore:
		return "store"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// pageFaultCause returns the page-fault scause value for an access type.
func pageFaultCause(acc Access) uint64 {
	switch acc {
	case AccessFetch:
		return riscv.CauseFetchPageFault
	case AccessLoad:
		return riscv.CauseLoadPageFault
	default:
		return riscv.CauseStorePageFault
	}
}

// accessFaultCause returns the access-fault scause value for an access type.
func accessFaultCause(acc Access) uint64 {
	switch acc {
	case AccessFetch:
		return riscv.CauseFetchAccess
	case AccessLoad:
		return riscv.CauseLoadAccess
	default:
		return riscv.CauseStoreAccess
	}
}

// misalignedCause returns the misalignment scause value for an access type.
func misalignedCause(acc Access) uint64 {
	switch acc {
	case AccessFetch:
		return riscv.CauseMisalignedFetch
	case AccessLoad:
		return riscv.CauseMisalignedLoad
	default:
		return riscv.CauseMisalignedStore
	}
}

// Fault describes a failed translation or memory access, in the terms the
// trap machinery reports them: an scause value and the faulting address
// for stval.
type Fault struct {
	// Cause is the scause value.
	Cause uint64

	// Addr is the faulting virtual address.
	Addr uint64
}

// Error implements error.Error.
func (f *Fault) Error() string {
	return fmt.Sprintf("%s at %#x", riscv.CauseString(f.Cause), f.Addr)
}

// ppnMask extracts the 44-bit physical page number from a PTE after
// shifting out the flag bits.
const ppnMask = uint64(1)<<44 - 1

// tlbEntry caches a successful walk for one virtual page.
type tlbEntry struct {
	ppn   uint64
	flags uint64
}

// FenceVMA discards all cached translations. This is the sfence.vma
// equivalent; it is the only operation that removes TLB entries, so any
// satp switch must be followed by a fence before translations can be
// trusted.
func (m *Machine) FenceVMA() {
	clear(m.tlb)
}

// TLBStats returns the number of TLB hits and misses so far.
func (m *Machine) TLBStats() (hits, misses uint64) {
	return m.tlbHits, m.tlbMisses
}

// Translate resolves a virtual address to a physical address for the given
// access type under the current satp and privilege mode. With translation
// off (bare mode) addresses map directly onto RAM.
//
// Cached TLB entries are used without consulting the page tables, so a
// stale entry is honored: after changing satp the caller must FenceVMA or
// translations from the previous address space will be served.
func (m *Machine) Translate(va uint64, acc Access) (uint64, *Fault) {
	if !riscv.SatpIsSv39(m.satp) {
		if !m.contains(va, 1) {
			return 0, &Fault{Cause: accessFaultCause(acc), Addr: va}
		}
		return va, nil
	}

	if riscv.Sv39Canonical(va) != va {
		return 0, &Fault{Cause: pageFaultCause(acc), Addr: va}
	}

	page := va >> riscv.PageShift
	e, ok := m.tlb[page]
	if ok {
		m.tlbHits++
	} else {
		m.tlbMisses++
		var f *Fault
		e, f = m.walk(va, acc)
		if f != nil {
			return 0, f
		}
		m.tlb[page] = e
	}

	if f := m.checkLeaf(e.flags, acc, va); f != nil {
		return 0, f
	}
	return e.ppn<<riscv.PageShift | va&(riscv.PageSize-1), nil
}

// walk performs the three-level sv39 table walk for va. It returns the
// translated page and the leaf PTE flags; permissions are checked by the
// caller so that cached entries take the same path.
func (m *Machine) walk(va uint64, acc Access) (tlbEntry, *Fault) {
	table := riscv.SatpPPN(m.satp) << riscv.PageShift
	v := va & (riscv.MaxVA - 1)

	for level := 2; level >= 0; level-- {
		shift := riscv.PageShift + level*riscv.VPNBits
		idx := v >> shift & (1<<riscv.VPNBits - 1)
		pte, err := m.PhysReadUint64(table + idx*riscv.PTESize)
		if err != nil {
			// The walk itself touched memory outside RAM.
			return tlbEntry{}, &Fault{Cause: accessFaultCause(acc), Addr: va}
		}
		if pte&riscv.PTEValid == 0 {
			return tlbEntry{}, &Fault{Cause: pageFaultCause(acc), Addr: va}
		}
		if pte&(riscv.PTERead|riscv.PTEExec) != 0 {
			// Leaf entry.
			ppn := pte >> riscv.PTEPPNShift & ppnMask
			if level > 0 {
				// A superpage leaf must be aligned to its size.
				span := uint64(1)<<(level*riscv.VPNBits) - 1
				if ppn&span != 0 {
					return tlbEntry{}, &Fault{Cause: pageFaultCause(acc), Addr: va}
				}
				ppn |= v >> riscv.PageShift & span
			}
			return tlbEntry{ppn: ppn, flags: pte & riscv.PTEFlagsMask}, nil
		}
		if pte&riscv.PTEWrite != 0 {
			// Write-without-read is reserved.
			return tlbEntry{}, &Fault{Cause: pageFaultCause(acc), Addr: va}
		}
		table = pte >> riscv.PTEPPNShift & ppnMask << riscv.PageShift
	}
	return tlbEntry{}, &Fault{Cause: pageFaultCause(acc), Addr: va}
}

// checkLeaf validates the leaf permissions for an access from the current
// privilege mode.
func (m *Machine) checkLeaf(flags uint64, acc Access, va uint64) *Fault {
	var need uint64
	switch acc {
	case AccessFetch:
		need = riscv.PTEExec
	case AccessLoad:
		need = riscv.PTERead
	default:
		need = riscv.PTEWrite
	}
	if flags&need == 0 {
		return &Fault{Cause: pageFaultCause(acc), Addr: va}
	}

	if m.mode == riscv.ModeUser {
		if flags&riscv.PTEUser == 0 {
			return &Fault{Cause: pageFaultCause(acc), Addr: va}
		}
		return nil
	}

	// Supervisor access to user pages: never executable, and data access
	// only with SUM set.
	if flags&riscv.PTEUser != 0 {
		if acc == AccessFetch || m.sstatus&riscv.StatusSUM == 0 {
			return &Fault{Cause: pageFaultCause(acc), Addr: va}
		}
	}
	return nil
}
