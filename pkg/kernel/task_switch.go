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

import (
	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/riscv"
)

// TaskContext is the register file of a suspended kernel flow: the return
// address, the stack pointer and the twelve callee-saved S registers
// (x8, x9, x18..x27). Everything else is caller-saved across a switch and
// does not need to survive.
//
// Only Switch and task creation write a TaskContext. A freshly created
// task's context holds the trap-return continuation in RA, the top of its
// kernel stack in SP and zeroed S registers.
type TaskContext struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// sRegisters lists the S register numbers in TaskContext.S order.
var sRegisters = [12]int{
	riscv.RegS0, riscv.RegS1,
	riscv.RegS2, riscv.RegS3, riscv.RegS4, riscv.RegS5,
	riscv.RegS6, riscv.RegS7, riscv.RegS8, riscv.RegS9,
	riscv.RegS10, riscv.RegS11,
}

// Switch suspends the running kernel flow into cur and resumes the one in
// next: it stores the hart's live ra, sp and S registers into cur, then
// loads next's values into the live registers. Control continues at
// next.RA, which the processor loop resolves through the kernel text
// table.
//
// Switch cannot fail. Switching a context to itself leaves every field
// unchanged.
func Switch(m *hart.Machine, cur, next *TaskContext) {
	cur.RA = m.Reg(riscv.RegRA)
	cur.SP = m.Reg(riscv.RegSP)
	for i, r := range sRegisters {
		cur.S[i] = m.Reg(r)
	}
	m.SetReg(riscv.RegRA, next.RA)
	m.SetReg(riscv.RegSP, next.SP)
	for i, r := range sRegisters {
		m.SetReg(r, next.S[i])
	}
}
