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

package pagetables

import (
	"testing"

	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/riscv"
)

// testAllocator hands out frames from a bump pointer. Frames on a fresh
// machine are already zero.
type testAllocator struct {
	next  uint64
	freed []uint64
}

func (a *testAllocator) AllocFrame() (uint64, error) {
	ppn := a.next
	a.next++
	return ppn, nil
}

func (a *testAllocator) FreeFrame(ppn uint64) {
	a.freed = append(a.freed, ppn)
}

func newTestTables(t *testing.T) (*hart.Machine, *PageTables, *testAllocator) {
	t.Helper()
	m, err := hart.New(4 << 20)
	if err != nil {
		t.Fatalf("hart.New: %v", err)
	}
	alloc := &testAllocator{next: hart.RAMBase>>riscv.PageShift + 16}
	pt, err := New(m, alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, pt, alloc
}

func TestMapLookup(t *testing.T) {
	_, pt, alloc := newTestTables(t)
	leaf := alloc.next + 256
	opts := MapOpts{Read: true, Write: true, User: true}

	if err := pt.Map(0x10000, leaf, opts); err != nil {
		t.Fatalf("Map: %v", err)
	}
	ppn, got, ok := pt.Lookup(0x10000)
	if !ok {
		t.Fatalf("Lookup(0x10000): not mapped")
	}
	if ppn != leaf || got != opts {
		t.Errorf("Lookup = %#x %v, want %#x %v", ppn, got, leaf, opts)
	}

	// Offsets within the page resolve to the same leaf.
	if ppn, _, ok := pt.Lookup(0x10abc); !ok || ppn != leaf {
		t.Errorf("Lookup(0x10abc) = %#x %v, want %#x true", ppn, ok, leaf)
	}
	if _, _, ok := pt.Lookup(0x20000); ok {
		t.Errorf("Lookup(0x20000): mapped, want unmapped")
	}
	// Non-canonical addresses are never mapped.
	if _, _, ok := pt.Lookup(uint64(1) << 38); ok {
		t.Errorf("Lookup(non-canonical): mapped, want unmapped")
	}
}

func TestTopOfAddressSpace(t *testing.T) {
	_, pt, alloc := newTestTables(t)
	leaf := alloc.next + 256
	const top = 0xFFFFFFFFFFFFF000 // last sv39 page, sign-extended

	if err := pt.Map(top, leaf, MapOpts{Read: true, Exec: true}); err != nil {
		t.Fatalf("Map(top): %v", err)
	}
	if ppn, _, ok := pt.Lookup(top); !ok || ppn != leaf {
		t.Errorf("Lookup(top) = %#x %v, want %#x true", ppn, ok, leaf)
	}
}

// TestHartAgreement maps pages here and translates them with the hart's
// own table walker, which reads the same physical memory.
func TestHartAgreement(t *testing.T) {
	m, pt, alloc := newTestTables(t)
	base := alloc.next + 256

	pages := []struct {
		va   uint64
		ppn  uint64
		opts MapOpts
	}{
		{0x10000, base, MapOpts{Read: true, Write: true}},
		{0x11000, base + 1, MapOpts{Read: true}},
		{0x200000, base + 2, MapOpts{Read: true, Write: true}},
		{0xFFFFFFFFFFFFF000, base + 3, MapOpts{Read: true, Exec: true}},
	}
	for _, pg := range pages {
		if err := pt.Map(pg.va, pg.ppn, pg.opts); err != nil {
			t.Fatalf("Map(%#x): %v", pg.va, err)
		}
	}
	m.SetCSR(riscv.CSRSatp, pt.SATP())
	m.FenceVMA()

	for _, pg := range pages {
		va := pg.va + 0x123
		pa, f := m.Translate(va, hart.AccessLoad)
		if f != nil {
			t.Errorf("Translate(%#x): %v", va, f)
			continue
		}
		if want := pg.ppn<<riscv.PageShift | 0x123; pa != want {
			t.Errorf("Translate(%#x) = %#x, want %#x", va, pa, want)
		}
	}

	// The read-only page refuses stores.
	if _, f := m.Translate(0x11000, hart.AccessStore); f == nil {
		t.Errorf("Translate(read-only, store): no fault")
	} else if f.Cause != riscv.CauseStorePageFault {
		t.Errorf("Translate(read-only, store) cause = %#x, want store page fault", f.Cause)
	}
	// Unmapped stays unmapped.
	if _, f := m.Translate(0x12000, hart.AccessLoad); f == nil {
		t.Errorf("Translate(unmapped): no fault")
	}
}

func TestUnmap(t *testing.T) {
	m, pt, alloc := newTestTables(t)
	leaf := alloc.next + 256

	if err := pt.Map(0x10000, leaf, MapOpts{Read: true}); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if got := pt.Unmap(0x10000); got != leaf {
		t.Errorf("Unmap returned %#x, want %#x", got, leaf)
	}
	if _, _, ok := pt.Lookup(0x10000); ok {
		t.Errorf("Lookup after Unmap: mapped")
	}

	m.SetCSR(riscv.CSRSatp, pt.SATP())
	m.FenceVMA()
	if _, f := m.Translate(0x10000, hart.AccessLoad); f == nil {
		t.Errorf("Translate after Unmap: no fault")
	}
}

func TestDoubleMapPanics(t *testing.T) {
	_, pt, alloc := newTestTables(t)
	leaf := alloc.next + 256
	if err := pt.Map(0x10000, leaf, MapOpts{Read: true}); err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("remapping a mapped page did not panic")
		}
	}()
	pt.Map(0x10000, leaf+1, MapOpts{Read: true})
}

func TestUnmapUnmappedPanics(t *testing.T) {
	_, pt, _ := newTestTables(t)
	defer func() {
		if recover() == nil {
			t.Errorf("unmapping an unmapped page did not panic")
		}
	}()
	pt.Unmap(0x10000)
}

func TestRelease(t *testing.T) {
	_, pt, alloc := newTestTables(t)
	leaf := alloc.next + 256

	// Two mappings far apart force distinct intermediate tables.
	if err := pt.Map(0x10000, leaf, MapOpts{Read: true}); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := pt.Map(0xFFFFFFFFFFFFF000, leaf+1, MapOpts{Read: true}); err != nil {
		t.Fatalf("Map: %v", err)
	}

	allocated := alloc.next - (hart.RAMBase>>riscv.PageShift + 16)
	pt.Release()
	if got := uint64(len(alloc.freed)); got != allocated {
		t.Errorf("Release freed %d frames, want %d", got, allocated)
	}
}

func TestMapOptsString(t *testing.T) {
	for _, tc := range []struct {
		opts MapOpts
		want string
	}{
		{MapOpts{Read: true, Write: true, User: true}, "rw-u-"},
		{MapOpts{Read: true, Exec: true, Global: true}, "r-x-g"},
		{MapOpts{}, "-----"},
	} {
		if got := tc.opts.String(); got != tc.want {
			t.Errorf("%+v.String() = %q, want %q", tc.opts, got, tc.want)
		}
	}
}
