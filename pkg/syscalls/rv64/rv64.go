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

// Package rv64 provides the RISC-V 64-bit system call table: Linux
// numbers with classic teaching-kernel semantics. Results are plain
// values in the return slot; errors are negative values, never faults.
package rv64

import (
	"gv6.dev/gv6/pkg/kernel"
)

// System call numbers (Linux RV64 assignments).
const (
	SysRead       = 63
	SysWrite      = 64
	SysExit       = 93
	SysSleep      = 101
	SysSchedYield = 124
	SysGetTime    = 169
	SysGetPID     = 172
	SysFork       = 220
	SysExec       = 221
	SysWaitPID    = 260
)

const (
	// bufMax bounds a single read or write transfer. User spaces are
	// smaller than this, so larger requests can only be mistakes.
	bufMax = 1 << 20

	// execNameMax bounds the image-name argument of exec.
	execNameMax = 256
)

// Table returns the rv64 system call table.
func Table() *kernel.SyscallTable {
	return kernel.NewSyscallTable(map[uint64]kernel.Syscall{
		SysRead:       {Name: "read", Fn: Read},
		SysWrite:      {Name: "write", Fn: Write},
		SysExit:       {Name: "exit", Fn: Exit},
		SysSleep:      {Name: "sleep", Fn: Sleep},
		SysSchedYield: {Name: "sched_yield", Fn: SchedYield},
		SysGetTime:    {Name: "get_time", Fn: GetTime},
		SysGetPID:     {Name: "getpid", Fn: GetPID},
		SysFork:       {Name: "fork", Fn: Fork},
		SysExec:       {Name: "exec", Fn: Exec},
		SysWaitPID:    {Name: "waitpid", Fn: WaitPID},
	})
}

// Read implements syscall 63: read(fd, buf, len). Only fd 0 (console
// input) is readable. The task blocks until at least one byte is
// available; 0 means end of input.
func Read(t *kernel.Task, args [6]uint64) (int64, *kernel.SyscallControl) {
	fd, buf, n := args[0], args[1], args[2]
	if fd != 0 || n > bufMax {
		return -1, nil
	}
	if n == 0 {
		return 0, nil
	}
	b := make([]byte, n)
	got, ok := t.ConsoleRead(b)
	if !ok {
		return 0, kernel.CtrlBlockInput
	}
	if got == 0 {
		// End of input.
		return 0, nil
	}
	if err := t.CopyOut(buf, b[:got]); err != nil {
		return -1, nil
	}
	return int64(got), nil
}

// Write implements syscall 64: write(fd, buf, len). Only fds 1 and 2
// (both the kernel console) are writable.
func Write(t *kernel.Task, args [6]uint64) (int64, *kernel.SyscallControl) {
	fd, buf, n := args[0], args[1], args[2]
	if (fd != 1 && fd != 2) || n > bufMax {
		return -1, nil
	}
	if n == 0 {
		return 0, nil
	}
	b := make([]byte, n)
	if err := t.CopyIn(buf, b); err != nil {
		return -1, nil
	}
	t.ConsoleWrite(b)
	return int64(n), nil
}

// Exit implements syscall 93: exit(code). It does not return to the
// caller.
func Exit(t *kernel.Task, args [6]uint64) (int64, *kernel.SyscallControl) {
	return 0, kernel.CtrlExit(int32(args[0]))
}

// Sleep implements syscall 101: sleep(ms), blocking the task until the
// deadline passes on the machine clock.
func Sleep(t *kernel.Task, args [6]uint64) (int64, *kernel.SyscallControl) {
	return 0, t.CtrlSleep(args[0])
}

// SchedYield implements syscall 124: give up the hart, stay Ready.
func SchedYield(t *kernel.Task, args [6]uint64) (int64, *kernel.SyscallControl) {
	return 0, kernel.CtrlYield
}

// GetTime implements syscall 169: machine time in milliseconds.
func GetTime(t *kernel.Task, args [6]uint64) (int64, *kernel.SyscallControl) {
	return t.NowMillis(), nil
}

// GetPID implements syscall 172.
func GetPID(t *kernel.Task, args [6]uint64) (int64, *kernel.SyscallControl) {
	return int64(t.ThreadID()), nil
}

// Fork implements syscall 220: duplicate the calling task. The child
// reads 0 from the call; the parent gets the child's pid, or -1 if no
// task could be created.
func Fork(t *kernel.Task, args [6]uint64) (int64, *kernel.SyscallControl) {
	pid, err := t.Fork()
	if err != nil {
		return -1, nil
	}
	return int64(pid), nil
}

// Exec implements syscall 221: exec(name, len) replaces the task's image
// with the named one; -1 if the name is unreadable or unknown.
func Exec(t *kernel.Task, args [6]uint64) (int64, *kernel.SyscallControl) {
	nameVA, n := args[0], args[1]
	if n == 0 || n > execNameMax {
		return -1, nil
	}
	b := make([]byte, n)
	if err := t.CopyIn(nameVA, b); err != nil {
		return -1, nil
	}
	if err := t.Exec(string(b)); err != nil {
		return -1, nil
	}
	return 0, nil
}

// WaitPID implements syscall 260: waitpid(pid, *status) with pid -1
// meaning any child. -1 with no matching child, -2 with a matching child
// still running, else the reaped child's pid.
func WaitPID(t *kernel.Task, args [6]uint64) (int64, *kernel.SyscallControl) {
	return t.WaitPID(int64(args[0]), args[1]), nil
}
