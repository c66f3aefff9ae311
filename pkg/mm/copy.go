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

	"gv6.dev/gv6/pkg/riscv"
)

// AccessError reports a user memory access that the task's own mappings
// do not permit. It is the software analogue of the page fault the hart
// would raise if user code touched the address itself.
type AccessError struct {
	// Addr is the first inaccessible virtual address.
	Addr uint64

	// Write is true for a failed store.
	Write bool
}

// Error implements error.Error.
func (e *AccessError) Error() string {
	kind := "readable"
	if e.Write {
		kind = "writable"
	}
	return fmt.Sprintf("user address %#x is not %s", e.Addr, kind)
}

// userFrame resolves the page holding va for a user access and returns its
// backing bytes. Access is granted only through mappings user code itself
// could use.
func (as *AddressSpace) userFrame(va uint64, write bool) ([]byte, error) {
	ppn, opts, ok := as.Translate(va &^ (riscv.PageSize - 1))
	if !ok || !opts.User || !opts.Read || (write && !opts.Write) {
		return nil, &AccessError{Addr: va, Write: write}
	}
	b, err := as.m.FrameBytes(ppn)
	if err != nil {
		panic(fmt.Sprintf("mapped frame %#x outside RAM: %v", ppn, err))
	}
	return b, nil
}

// CopyIn reads len(b) bytes of user memory at va into b.
func (as *AddressSpace) CopyIn(va uint64, b []byte) error {
	for len(b) > 0 {
		frame, err := as.userFrame(va, false)
		if err != nil {
			return err
		}
		off := va & (riscv.PageSize - 1)
		n := copy(b, frame[off:])
		va += uint64(n)
		b = b[n:]
	}
	return nil
}

// CopyOut writes b to user memory at va.
func (as *AddressSpace) CopyOut(va uint64, b []byte) error {
	for len(b) > 0 {
		frame, err := as.userFrame(va, true)
		if err != nil {
			return err
		}
		off := va & (riscv.PageSize - 1)
		n := copy(frame[off:], b)
		va += uint64(n)
		b = b[n:]
	}
	return nil
}
