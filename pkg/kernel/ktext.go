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

package kernel

import "fmt"

// Kernel continuations are addressable the way real kernel text is: each
// registered function is assigned a fixed virtual address in the high half
// of the sv39 space, and those addresses are what TaskContext.RA and the
// trap frame's handler slot carry. After every context switch the processor
// resolves the live ra back to a function and runs it.

const (
	// ktextBase is the first continuation address. It sits at the bottom
	// of the high half, far below the stack and trampoline region at the
	// top.
	ktextBase uint64 = 0xFFFFFFC000000000

	// ktextStride separates consecutive entries.
	ktextStride uint64 = 64
)

// kernelFunc is a continuation reachable through a kernel text address.
// It runs on the kernel flow identified by the modeled register file and
// returns the first state of that flow's run loop, or nil if it drove the
// flow itself.
type kernelFunc func(k *Kernel) taskRunState

type ktextEntry struct {
	name string
	fn   kernelFunc
}

// kernelText is the continuation table.
type kernelText struct {
	entries map[uint64]ktextEntry
	next    uint64
}

func newKernelText() *kernelText {
	return &kernelText{
		entries: make(map[uint64]ktextEntry),
		next:    ktextBase,
	}
}

// bind assigns the next free text address to fn and returns it.
func (kt *kernelText) bind(name string, fn kernelFunc) uint64 {
	va := kt.next
	kt.next += ktextStride
	kt.entries[va] = ktextEntry{name: name, fn: fn}
	return va
}

// resolve maps a text address back to its function. Failure to resolve
// means a switch or a trap frame delivered a continuation address that was
// never bound, which is unrecoverable.
func (kt *kernelText) resolve(va uint64) kernelFunc {
	e, ok := kt.entries[va]
	if !ok {
		panic(fmt.Sprintf("no kernel text bound at %#x", va))
	}
	return e.fn
}
