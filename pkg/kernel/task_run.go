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
	"fmt"
	"time"

	"gv6.dev/gv6/pkg/log"
	"gv6.dev/gv6/pkg/mm"
	"gv6.dev/gv6/pkg/riscv"
	"gv6.dev/gv6/pkg/trap"
)

// A taskRunState is a reified state of a task's run loop. execute does
// one step on behalf of t and returns the next state, or nil once the
// task has suspended (or died) and the flow belongs to someone else.
type taskRunState interface {
	execute(t *Task) taskRunState
}

// unknownSyscallReturn is the value placed in the return slot for
// numbers outside the syscall table.
const unknownSyscallReturn = -1

var unknownSyscallLog = log.BasicRateLimitedLogger(5 * time.Second)

// trapReturn is the continuation every suspended task resumes at. The
// handler chain has fully unwound by the time a task suspends, so
// returning to user mode is always the right next step.
func (k *Kernel) trapReturn() taskRunState {
	if k.current == nil {
		panic("trap return with no current task")
	}
	return (*runApp)(nil)
}

// handleTrap is the continuation named by trap frames; the gate hands
// its address back on every kernel entry.
func (k *Kernel) handleTrap() taskRunState {
	if k.current == nil {
		panic("trap taken with no current task")
	}
	return (*runTrap)(nil)
}

// runApp returns the task to user mode and takes its next trap.
type runApp struct{}

func (*runApp) execute(t *Task) taskRunState {
	k := t.k
	m := k.m
	m.SetTimer(m.Cycle() + k.quantum)
	trap.Exit(m, mm.TrapFrameBase, t.space.SATP())
	if err := m.Run(k.runCtx); err != nil {
		// Cancelled mid-user. Stop at this trap boundary; the task is
		// requeued so the shutdown report sees it as runnable.
		k.stop(err)
		k.requeueCurrent()
		return nil
	}
	handler := trap.Enter(m)
	// The gate re-established the kernel stack pointer; the kernel
	// continuation register must follow before anything can suspend us.
	m.SetReg(riscv.RegRA, k.vaTrapReturn)
	trapCount.Increment()
	return k.ktext.resolve(handler)(k)
}

// runTrap routes the trap cause recorded by the hart.
type runTrap struct{}

func (*runTrap) execute(t *Task) taskRunState {
	k := t.k
	m := k.m

	// Wakeups that came due while the task was in user mode.
	k.wakeSleepers(m.Cycle())
	k.serviceConsole()

	cause := m.CSR(riscv.CSRScause)
	switch cause {
	case riscv.CauseUserECall:
		// sepc holds the address of the ecall itself; resume after it.
		t.setFrameWord(trap.OffSepc, t.frameWord(trap.OffSepc)+4)
		var args [6]uint64
		for i := range args {
			args[i] = t.frameWord(trap.RegOffset(riscv.RegA0 + i))
		}
		return &runSyscall{
			num:  t.frameWord(trap.RegOffset(riscv.RegA7)),
			args: args,
		}

	case riscv.CauseSupervisorTimer:
		preemptCount.Increment()
		return (*runPreempt)(nil)

	case riscv.CauseIllegalInstruction:
		return t.fatalTrap(cause, -3)

	case riscv.CauseMisalignedFetch, riscv.CauseFetchAccess,
		riscv.CauseMisalignedLoad, riscv.CauseLoadAccess,
		riscv.CauseMisalignedStore, riscv.CauseStoreAccess,
		riscv.CauseFetchPageFault, riscv.CauseLoadPageFault,
		riscv.CauseStorePageFault:
		return t.fatalTrap(cause, -2)
	}

	panic(fmt.Sprintf("unhandled trap: scause=%#x sepc=%#x stval=%#x",
		cause, m.CSR(riscv.CSRSepc), m.CSR(riscv.CSRStval)))
}

// fatalTrap ends a task that faulted in user mode.
func (t *Task) fatalTrap(cause uint64, code int32) taskRunState {
	m := t.k.m
	faultCount.Increment()
	log.Warningf("task %d (%s): fatal trap %d at sepc=%#x stval=%#x, exiting with %d",
		t.tid, t.image, cause, m.CSR(riscv.CSRSepc), m.CSR(riscv.CSRStval), code)
	return &runExit{code: code}
}

// runSyscall dispatches one system call through the task's table.
type runSyscall struct {
	num  uint64
	args [6]uint64
}

func (s *runSyscall) execute(t *Task) taskRunState {
	syscallCount.Increment()
	sc, ok := t.table.Lookup(s.num)
	if !ok {
		unknownSyscallCount.Increment()
		unknownSyscallLog.Warningf("task %d (%s): unknown syscall %d", t.tid, t.image, s.num)
		t.setReturnSlot(unknownSyscallReturn)
		return (*runApp)(nil)
	}
	res, ctrl := sc.Fn(t, s.args)
	if ctrl == nil {
		t.setReturnSlot(res)
		return (*runApp)(nil)
	}
	if !ctrl.noResult {
		// The frame may have been replaced under the call (exec), so the
		// result write has to come after it.
		t.setReturnSlot(res)
	}
	return ctrl.next
}

// runYield and runPreempt requeue the task and give up the hart. They
// are distinct states only so the trap dispatcher's routing stays
// visible.
type runYield struct{}

func (*runYield) execute(t *Task) taskRunState {
	t.k.requeueCurrent()
	return nil
}

type runPreempt struct{}

func (*runPreempt) execute(t *Task) taskRunState {
	t.k.requeueCurrent()
	return nil
}

// runSleep parks the task in the timer queue.
type runSleep struct {
	deadline uint64
}

func (rs *runSleep) execute(t *Task) taskRunState {
	t.k.tk.addSleeper(t, rs.deadline)
	t.k.suspendCurrent(TaskBlocked)
	return nil
}

// runWaitInput rolls the task back over its ecall and parks it until
// console input arrives; waking re-issues the call.
type runWaitInput struct{}

func (*runWaitInput) execute(t *Task) taskRunState {
	t.setFrameWord(trap.OffSepc, t.frameWord(trap.OffSepc)-4)
	t.k.consoleWaiters.PushBack(t)
	t.k.suspendCurrent(TaskBlocked)
	return nil
}

// runExit ends the task for good.
type runExit struct {
	code int32
}

func (re *runExit) execute(t *Task) taskRunState {
	t.k.exitCurrent(re.code)
	return nil
}
