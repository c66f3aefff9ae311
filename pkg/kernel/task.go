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
	"encoding/binary"
	"fmt"

	"gv6.dev/gv6/pkg/mm"
	"gv6.dev/gv6/pkg/riscv"
	"gv6.dev/gv6/pkg/trap"
)

// TaskState is the scheduling state of a task.
type TaskState int32

const (
	// TaskReady means the task is runnable and sits in the ready queue.
	TaskReady TaskState = iota

	// TaskRunning means the task owns the hart. At most one task is
	// Running at a time.
	TaskRunning

	// TaskBlocked means the task is parked off the ready queue (timer
	// queue or console wait queue) until a wakeup.
	TaskBlocked

	// TaskZombie means the task has exited and holds only its exit code,
	// waiting for the parent to reap it.
	TaskZombie
)

// String implements fmt.Stringer.String.
func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "Ready"
	case TaskRunning:
		return "Running"
	case TaskBlocked:
		return "Blocked"
	case TaskZombie:
		return "Zombie"
	default:
		return fmt.Sprintf("TaskState(%d)", int32(s))
	}
}

// Task is a task control block: one user program with its own address
// space and kernel flow.
//
// All fields are owned by the kernel flow. Nothing here is safe for
// concurrent use.
type Task struct {
	k *Kernel

	tid ThreadID

	// image is the name of the program the task is executing, for
	// diagnostics only.
	image string

	parent   *Task
	children []*Task

	state    TaskState
	exitCode int32

	// space is the task's address space. nil once the task is reaped.
	space *mm.AddressSpace

	// tf aliases the physical frame behind the task's trap frame page.
	// It follows space across exec.
	tf []byte

	// stackID places the task's kernel stack in the kernel space;
	// kstackTop is the corresponding stack top address.
	stackID   uint64
	kstackTop uint64

	// ctx is the task's suspended kernel flow. ctx.RA always holds the
	// trap-return continuation.
	ctx TaskContext

	table *SyscallTable

	taskEntry taskEntry
}

// ThreadID returns the task's identifier.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// Name returns the name of the image the task is running.
func (t *Task) Name() string {
	return t.image
}

// State returns the task's scheduling state.
func (t *Task) State() TaskState {
	return t.state
}

// ExitCode returns the task's exit code. Meaningful only for zombies.
func (t *Task) ExitCode() int32 {
	return t.exitCode
}

// Kernel returns the owning kernel.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// refreshFrame repoints tf at the trap frame page of the current space.
func (t *Task) refreshFrame() {
	ppn, _, ok := t.space.Translate(mm.TrapFrameBase)
	if !ok {
		panic(fmt.Sprintf("task %d: address space has no trap frame page", t.tid))
	}
	b, err := t.k.m.FrameBytes(ppn)
	if err != nil {
		panic(fmt.Sprintf("task %d: trap frame outside physical memory: %v", t.tid, err))
	}
	t.tf = b
}

// frameWord reads one 64-bit slot of the task's trap frame.
func (t *Task) frameWord(off uint64) uint64 {
	return binary.LittleEndian.Uint64(t.tf[off:])
}

// setFrameWord writes one 64-bit slot of the task's trap frame.
func (t *Task) setFrameWord(off, v uint64) {
	binary.LittleEndian.PutUint64(t.tf[off:], v)
}

// setReturnSlot stores a syscall result in the frame's x10 slot.
func (t *Task) setReturnSlot(v int64) {
	t.setFrameWord(trap.RegOffset(riscv.RegA0), uint64(v))
}

// CopyIn reads len(b) bytes from the task's address space at va.
func (t *Task) CopyIn(va uint64, b []byte) error {
	return t.space.CopyIn(va, b)
}

// CopyOut writes b into the task's address space at va.
func (t *Task) CopyOut(va uint64, b []byte) error {
	return t.space.CopyOut(va, b)
}

// ConsoleWrite sends p to the kernel console.
func (t *Task) ConsoleWrite(p []byte) {
	t.k.console.write(p)
}

// ConsoleRead copies up to len(p) buffered console input bytes into p.
// ok reports whether the read can complete: (0, false) means no input is
// buffered yet and more may arrive, (0, true) means end of input.
func (t *Task) ConsoleRead(p []byte) (n int, ok bool) {
	b, closed := t.k.console.takeInput(len(p))
	if len(b) == 0 {
		return 0, closed
	}
	return copy(p, b), true
}

// NowMillis returns the machine time in milliseconds.
func (t *Task) NowMillis() int64 {
	return t.k.tk.millis(t.k.m.Cycle())
}
