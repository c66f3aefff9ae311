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

// Package riscv describes the RV64 architectural surface shared by the
// machine model, the memory subsystem and the kernel: register numbers,
// privilege modes, CSR addresses, trap causes and the satp/sv39 encodings.
//
// Nothing in this package holds state; it is the vocabulary the other
// packages agree on.
package riscv

import "fmt"

// PageSize is the sv39 base page size.
const (
	PageSize  = 4096
	PageShift = 12
)

// General-purpose register numbers, by ABI name. x0 reads as zero and
// ignores writes.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegT0   = 5
	RegT1   = 6
	RegT2   = 7
	RegS0   = 8
	RegS1   = 9
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17
	RegS2   = 18
	RegS3   = 19
	RegS4   = 20
	RegS5   = 21
	RegS6   = 22
	RegS7   = 23
	RegS8   = 24
	RegS9   = 25
	RegS10  = 26
	RegS11  = 27
	RegT3   = 28
	RegT4   = 29
	RegT5   = 30
	RegT6   = 31

	// NumRegs is the size of the general register file, including x0.
	NumRegs = 32
)

// regNames maps register numbers to ABI names for diagnostics.
var regNames = [NumRegs]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegName returns the ABI name of a general register.
func RegName(r int) string {
	if r < 0 || r >= NumRegs {
		return fmt.Sprintf("x?%d", r)
	}
	return regNames[r]
}

// Mode is a privilege mode. Machine mode is not modeled; the supervisor is
// the most privileged level here.
type Mode uint8

// Privilege modes.
const (
	ModeUser       Mode = 0
	ModeSupervisor Mode = 1
)

// String implements fmt.Stringer.String.
func (m Mode) String() string {
	switch m {
	case ModeUser:
		return "U"
	case ModeSupervisor:
		return "S"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Supervisor CSR addresses.
const (
	CSRSstatus  = 0x100
	CSRSie      = 0x104
	CSRStvec    = 0x105
	CSRSscratch = 0x140
	CSRSepc     = 0x141
	CSRScause   = 0x142
	CSRStval    = 0x143
	CSRSip      = 0x144
	CSRSatp     = 0x180
)

// sstatus bits.
const (
	StatusSIE  = uint64(1) << 1
	StatusSPIE = uint64(1) << 5
	StatusSPP  = uint64(1) << 8
	StatusSUM  = uint64(1) << 18
)

// sie/sip bits.
const (
	IntSoftware = uint64(1) << 1
	IntTimer    = uint64(1) << 5
	IntExternal = uint64(1) << 9
)

// InterruptBit is set in scause when the trap is an interrupt rather than
// an exception.
const InterruptBit = uint64(1) << 63

// Trap cause values, as written to scause.
const (
	CauseMisalignedFetch    = 0
	CauseFetchAccess        = 1
	CauseIllegalInstruction = 2
	CauseBreakpoint         = 3
	CauseMisalignedLoad     = 4
	CauseLoadAccess         = 5
	CauseMisalignedStore    = 6
	CauseStoreAccess        = 7
	CauseUserECall          = 8
	CauseSupervisorECall    = 9
	CauseFetchPageFault     = 12
	CauseLoadPageFault      = 13
	CauseStorePageFault     = 15

	CauseSupervisorSoftware = InterruptBit | 1
	CauseSupervisorTimer    = InterruptBit | 5
	CauseSupervisorExternal = InterruptBit | 9
)

// CauseString renders an scause value for logs.
func CauseString(cause uint64) string {
	if cause&InterruptBit != 0 {
		switch cause {
		case CauseSupervisorSoftware:
			return "supervisor software interrupt"
		case CauseSupervisorTimer:
			return "supervisor timer interrupt"
		case CauseSupervisorExternal:
			return "supervisor external interrupt"
		}
		return fmt.Sprintf("interrupt(%d)", cause&^InterruptBit)
	}
	switch cause {
	case CauseMisalignedFetch:
		return "instruction address misaligned"
	case CauseFetchAccess:
		return "instruction access fault"
	case CauseIllegalInstruction:
		return "illegal instruction"
	case CauseBreakpoint:
		return "breakpoint"
	case CauseMisalignedLoad:
		return "load address misaligned"
	case CauseLoadAccess:
		return "load access fault"
	case CauseMisalignedStore:
		return "store address misaligned"
	case CauseStoreAccess:
		return "store access fault"
	case CauseUserECall:
		return "environment call from U-mode"
	case CauseSupervisorECall:
		return "environment call from S-mode"
	case CauseFetchPageFault:
		return "instruction page fault"
	case CauseLoadPageFault:
		return "load page fault"
	case CauseStorePageFault:
		return "store page fault"
	}
	return fmt.Sprintf("exception(%d)", cause)
}

// IsMemoryFault returns true for the cause values that indicate a bad
// memory access (page faults, access faults, misalignment).
func IsMemoryFault(cause uint64) bool {
	switch cause {
	case CauseMisalignedFetch, CauseFetchAccess, CauseMisalignedLoad,
		CauseLoadAccess, CauseMisalignedStore, CauseStoreAccess,
		CauseFetchPageFault, CauseLoadPageFault, CauseStorePageFault:
		return true
	}
	return false
}

// satp encoding. Only the sv39 mode and the bare (translation off) mode
// are meaningful here; ASIDs are not used.
const (
	SatpModeBare = uint64(0)
	SatpModeSv39 = uint64(8) << 60

	satpPPNMask = (uint64(1) << 44) - 1
)

// SatpSv39 builds an sv39 satp value from a root page-table PPN.
func SatpSv39(rootPPN uint64) uint64 {
	return SatpModeSv39 | (rootPPN & satpPPNMask)
}

// SatpPPN extracts the root page-table PPN from a satp value.
func SatpPPN(satp uint64) uint64 {
	return satp & satpPPNMask
}

// SatpIsSv39 returns true if the satp value enables sv39 translation.
func SatpIsSv39(satp uint64) bool {
	return satp>>60 == 8
}

// Sv39 page-table entry bits. A PTE with any of R/W/X set is a leaf;
// otherwise it points at the next level of the table.
const (
	PTEValid    = uint64(1) << 0
	PTERead     = uint64(1) << 1
	PTEWrite    = uint64(1) << 2
	PTEExec     = uint64(1) << 3
	PTEUser     = uint64(1) << 4
	PTEGlobal   = uint64(1) << 5
	PTEAccessed = uint64(1) << 6
	PTEDirty    = uint64(1) << 7

	// PTEPPNShift positions the physical page number within a PTE.
	PTEPPNShift = 10

	// PTEFlagsMask covers the low flag bits of a PTE.
	PTEFlagsMask = uint64(0x3ff)

	// PTESize is the size of one entry; PTEsPerPage entries fill a
	// page-table page.
	PTESize     = 8
	PTEsPerPage = PageSize / PTESize

	// VPNBits is the width of one sv39 level index.
	VPNBits = 9
)

// Sv39 virtual addresses are 39 bits, sign-extended through bit 63. VAs in
// the upper half have bits 63..38 all set.
const (
	// VABits is the sv39 virtual address width.
	VABits = 39

	// MaxVA is one past the highest virtual address, before sign
	// extension is applied.
	MaxVA = uint64(1) << VABits
)

// Sv39Canonical sign-extends a 39-bit virtual address.
func Sv39Canonical(va uint64) uint64 {
	if va&(uint64(1)<<(VABits-1)) != 0 {
		return va | ^(MaxVA - 1)
	}
	return va &^ ^(MaxVA - 1)
}
