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

// SyscallFn implements one system call. It returns the value for the
// task's return slot and an optional control that alters the task's flow
// after the call completes.
type SyscallFn func(t *Task, args [6]uint64) (int64, *SyscallControl)

// Syscall binds a name to an implementation.
type Syscall struct {
	Name string
	Fn   SyscallFn
}

// SyscallTable maps raw syscall numbers to implementations. Numbers not
// in the table resolve to the negative sentinel, never to a fault.
type SyscallTable struct {
	table map[uint64]Syscall
}

// NewSyscallTable builds a table from its entries.
func NewSyscallTable(entries map[uint64]Syscall) *SyscallTable {
	table := make(map[uint64]Syscall, len(entries))
	for num, sc := range entries {
		table[num] = sc
	}
	return &SyscallTable{table: table}
}

// Lookup returns the entry for num.
func (st *SyscallTable) Lookup(num uint64) (Syscall, bool) {
	sc, ok := st.table[num]
	return sc, ok
}

// SyscallControl alters what happens to the task after its syscall
// returns to the dispatcher.
type SyscallControl struct {
	next taskRunState

	// noResult suppresses the return-slot write, for controls that roll
	// the task back to re-issue the call.
	noResult bool
}

// CtrlYield moves the task to the back of the ready queue.
var CtrlYield = &SyscallControl{next: (*runYield)(nil)}

// CtrlBlockInput parks the task until console input arrives, then
// re-issues the interrupted call.
var CtrlBlockInput = &SyscallControl{next: (*runWaitInput)(nil), noResult: true}

// CtrlExit ends the task with the given exit code.
func CtrlExit(code int32) *SyscallControl {
	return &SyscallControl{next: &runExit{code: code}, noResult: true}
}

// CtrlSleep parks the task until ms milliseconds of machine time pass.
func (t *Task) CtrlSleep(ms uint64) *SyscallControl {
	k := t.k
	return &SyscallControl{next: &runSleep{deadline: k.tk.deadlineAfter(k.m.Cycle(), ms)}}
}
