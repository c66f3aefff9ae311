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

// Package kernel provides the multitasking core over a modeled RISC-V
// hart: tasks with isolated sv39 address spaces, a round-robin scheduler
// with timer preemption, and the trap/syscall dispatcher.
//
// The kernel runs as a single goroutine (the processor loop in Run).
// Suspended task flows are reified as TaskContext values on the modeled
// register file; Switch moves the hart between them, and the kernel text
// table maps the continuation addresses involved back to Go functions.
// All kernel state is owned by the processor goroutine; the only
// cross-goroutine edges are the console input queue and the metric
// counters.
package kernel

import (
	"context"
	"fmt"
	"io"

	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/log"
	"gv6.dev/gv6/pkg/metric"
	"gv6.dev/gv6/pkg/mm"
	"gv6.dev/gv6/pkg/riscv"
	"gv6.dev/gv6/pkg/trap"
)

const (
	// DefaultCPUHz is the modeled clock rate, in cycles per second.
	DefaultCPUHz = 12_500_000

	// DefaultTicksPerSec is the preemption timer frequency.
	DefaultTicksPerSec = 100
)

var (
	trapCount           = metric.NewUint64("/kernel/traps", "Number of user traps taken.")
	syscallCount        = metric.NewUint64("/kernel/syscalls", "Number of system calls dispatched.")
	unknownSyscallCount = metric.NewUint64("/kernel/syscalls_unknown", "Number of system calls with no table entry.")
	switchCount         = metric.NewUint64("/kernel/context_switches", "Number of switches onto a task context.")
	preemptCount        = metric.NewUint64("/kernel/preemptions", "Number of timer preemptions.")
	faultCount          = metric.NewUint64("/kernel/task_faults", "Number of task-fatal traps.")
	forkCount           = metric.NewUint64("/kernel/forks", "Number of tasks created by fork.")
	idleAdvances        = metric.NewUint64("/kernel/idle_advances", "Number of idle jumps to a timer deadline.")
)

// ImageSource resolves program names to flat binary images, for boot and
// exec.
type ImageSource interface {
	// Image returns the flat binary for name.
	Image(name string) ([]byte, error)
}

// InitKernelArgs holds the arguments to New.
type InitKernelArgs struct {
	// MemSize is the modeled physical memory size in bytes. Zero means
	// hart.DefaultMemSize.
	MemSize uint64

	// CPUHz is the modeled clock rate. Zero means DefaultCPUHz.
	CPUHz uint64

	// TicksPerSec is the preemption frequency. Zero means
	// DefaultTicksPerSec.
	TicksPerSec uint64

	// Images resolves image names. Required.
	Images ImageSource

	// SyscallTable is the table tasks dispatch through. Required.
	SyscallTable *SyscallTable

	// ConsoleOut receives console output. nil discards it.
	ConsoleOut io.Writer
}

// Kernel owns the machine and every task on it.
type Kernel struct {
	m     *hart.Machine
	alloc *mm.FrameAllocator

	kernelSpace   *mm.AddressSpace
	trampolinePPN uint64

	ktext        *kernelText
	vaSchedule   uint64
	vaTrapReturn uint64
	vaHandleTrap uint64

	ts      *TaskSet
	stacks  *idAllocator
	tk      *timeKeeper
	console *Console
	images  ImageSource
	table   *SyscallTable

	readyQueue     taskList
	consoleWaiters taskList
	current        *Task
	idleCtx        TaskContext

	// quantum is the preemption interval in cycles.
	quantum uint64

	runCtx     context.Context
	shutdown   bool
	runErr     error
	initStatus int32
}

// New builds a booted kernel: machine, physical allocator, the shared
// trampoline frame, the kernel address space and the continuation table.
// No tasks exist yet; see CreateProcess.
func New(args InitKernelArgs) (*Kernel, error) {
	if args.Images == nil {
		return nil, fmt.Errorf("no image source")
	}
	if args.SyscallTable == nil {
		return nil, fmt.Errorf("no syscall table")
	}
	memSize := args.MemSize
	if memSize == 0 {
		memSize = hart.DefaultMemSize
	}
	cpuHz := args.CPUHz
	if cpuHz == 0 {
		cpuHz = DefaultCPUHz
	}
	ticks := args.TicksPerSec
	if ticks == 0 {
		ticks = DefaultTicksPerSec
	}
	quantum := cpuHz / ticks
	if quantum == 0 {
		return nil, fmt.Errorf("ticks-per-sec %d exceeds cpu-hz %d", ticks, cpuHz)
	}

	m, err := hart.New(memSize)
	if err != nil {
		return nil, fmt.Errorf("creating machine: %w", err)
	}
	alloc := mm.NewFrameAllocator(m)

	// One trampoline frame for the whole system; every address space maps
	// it at the same top-page address.
	trampPPN, err := alloc.AllocFrame()
	if err != nil {
		return nil, fmt.Errorf("allocating trampoline frame: %w", err)
	}
	fb, err := m.FrameBytes(trampPPN)
	if err != nil {
		return nil, err
	}
	copy(fb, trap.TrampolinePayload())

	kernelSpace, err := mm.NewKernel(m, alloc, trampPPN)
	if err != nil {
		return nil, fmt.Errorf("building kernel address space: %w", err)
	}

	k := &Kernel{
		m:             m,
		alloc:         alloc,
		kernelSpace:   kernelSpace,
		trampolinePPN: trampPPN,
		ts:            newTaskSet(),
		stacks:        newIDAllocator(0, TasksLimit),
		tk:            newTimeKeeper(cpuHz),
		console:       NewConsole(args.ConsoleOut),
		images:        args.Images,
		table:         args.SyscallTable,
		quantum:       quantum,
	}

	k.ktext = newKernelText()
	k.vaSchedule = k.ktext.bind("schedule", func(k *Kernel) taskRunState {
		k.schedule()
		return nil
	})
	k.vaTrapReturn = k.ktext.bind("trapReturn", (*Kernel).trapReturn)
	k.vaHandleTrap = k.ktext.bind("handleTrap", (*Kernel).handleTrap)

	m.SetCSR(riscv.CSRStvec, mm.TrampolineBase)
	m.SetCSR(riscv.CSRSie, riscv.IntTimer)

	log.Infof("kernel: %d MiB memory, %d Hz clock, quantum %d cycles",
		memSize>>20, cpuHz, quantum)
	return k, nil
}

// CreateProcess builds a Ready task running the named image. The first
// process created is the init task.
func (k *Kernel) CreateProcess(image string) (*Task, error) {
	img, err := k.images.Image(image)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", image, err)
	}
	t, err := k.newTask(image)
	if err != nil {
		return nil, err
	}
	space, userSP, err := mm.NewUser(k.m, k.alloc, k.trampolinePPN, img)
	if err != nil {
		k.destroyPartial(t)
		return nil, fmt.Errorf("building address space for %q: %w", image, err)
	}
	t.space = space
	t.refreshFrame()
	k.seedFrame(t, mm.UserImageBase, userSP)
	k.ts.add(t)
	k.readyQueue.PushBack(t)
	log.Debugf("created task %d running %q", t.tid, image)
	return t, nil
}

// seedFrame writes a fresh trap frame: entry PC, user stack pointer, and
// the kernel half pointing at this task's stack and the trap dispatcher.
func (k *Kernel) seedFrame(t *Task, entry, userSP uint64) {
	var f trap.Frame
	f.Sepc = entry
	f.X[riscv.RegSP] = userSP
	f.KernelSATP = k.kernelSpace.SATP()
	f.KernelSP = t.kstackTop
	f.Handler = k.vaHandleTrap
	f.Encode(t.tf)
}

// Console returns the kernel console.
func (k *Kernel) Console() *Console {
	return k.console
}

// Machine returns the underlying hart.
func (k *Kernel) Machine() *hart.Machine {
	return k.m
}

// TaskSet returns the task table.
func (k *Kernel) TaskSet() *TaskSet {
	return k.ts
}

// stop makes the run loop exit at the next boundary.
func (k *Kernel) stop(err error) {
	if k.shutdown {
		return
	}
	k.shutdown = true
	k.runErr = err
}

// Run drives the machine until no live tasks remain or ctx is cancelled.
// It returns the init task's exit status.
//
// Run is the processor loop: it resolves the modeled ra to a kernel
// continuation, runs it, and drives the task run-state machine it
// returns. Every Switch lands back here with a new ra.
func (k *Kernel) Run(ctx context.Context) (int32, error) {
	if k.runCtx != nil {
		panic("kernel run started twice")
	}
	k.runCtx = ctx

	// The idle flow starts in the scheduler.
	k.m.SetReg(riscv.RegRA, k.vaSchedule)
	for !k.shutdown {
		fn := k.ktext.resolve(k.m.Reg(riscv.RegRA))
		state := fn(k)
		for state != nil {
			state = state.execute(k.current)
		}
	}
	if k.runErr != nil {
		return 0, k.runErr
	}
	log.Infof("kernel: shutdown after %d cycles, init exit status %d",
		k.m.Cycle(), k.initStatus)
	return k.initStatus, nil
}
