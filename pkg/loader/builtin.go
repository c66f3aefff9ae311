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

package loader

import (
	"gv6.dev/gv6/pkg/mm"
	"gv6.dev/gv6/pkg/riscv"
	"gv6.dev/gv6/pkg/syscalls/rv64"
)

// The built-in programs. Each is assembled once at registry creation.
var builtins = []struct {
	name        string
	description string
	build       func() []byte
}{
	{"hello", "print a greeting and exit 0", hello},
	{"alternate-a", "print A five times, yielding after each", func() []byte { return alternate('A') }},
	{"alternate-b", "print B five times, yielding after each", func() []byte { return alternate('B') }},
	{"spin", "busy-loop forever; only preemption keeps it from starving others", spin},
	{"fault-store", "store to an unmapped address and die", faultStore},
	{"fault-jump", "jump into a kernel-only page and die", faultJump},
	{"badsys", "invoke syscall 999, check the -1 result, exit 0", badsys},
	{"forktree", "fork two children, wait for both, then report", forktree},
	{"sleeper", "sleep 30 ms and verify the clock advanced", sleeper},
	{"echo", "copy console input back out until end of input", echo},
}

func newProgram() *riscv.Program {
	return riscv.NewProgram(mm.UserImageBase)
}

// sys emits a system call: number into x17, then ecall.
func sys(p *riscv.Program, num int64) {
	p.Li(riscv.RegA7, num)
	p.I(riscv.Ecall())
}

// write emits write(1, label, n).
func write(p *riscv.Program, label string, n int64) {
	p.Li(riscv.RegA0, 1)
	p.La(riscv.RegA1, label)
	p.Li(riscv.RegA2, n)
	sys(p, rv64.SysWrite)
}

// exit emits exit(code).
func exit(p *riscv.Program, code int64) {
	p.Li(riscv.RegA0, code)
	sys(p, rv64.SysExit)
}

func hello() []byte {
	const msg = "Hello from gv6!\n"
	p := newProgram()
	write(p, "msg", int64(len(msg)))
	exit(p, 0)
	p.Label("msg")
	p.Ascii(msg)
	return p.Assemble()
}

func alternate(letter byte) []byte {
	p := newProgram()
	p.Li(riscv.RegS1, 5)
	p.Label("loop")
	write(p, "ch", 1)
	sys(p, rv64.SysSchedYield)
	p.I(riscv.Addi(riscv.RegS1, riscv.RegS1, -1))
	p.Bnez(riscv.RegS1, "loop")
	exit(p, 0)
	p.Label("ch")
	p.Ascii(string(letter))
	return p.Assemble()
}

func spin() []byte {
	p := newProgram()
	p.Label("loop")
	p.J("loop")
	return p.Assemble()
}

func faultStore() []byte {
	p := newProgram()
	p.Li(riscv.RegT0, 0x4000_0000)
	p.I(riscv.Sd(riscv.RegZero, riscv.RegT0, 0))
	// Not reached.
	exit(p, 0)
	return p.Assemble()
}

func faultJump() []byte {
	p := newProgram()
	// The page below the trampoline is mapped in every user space but
	// supervisor-only; -8192 sign-extends to its address.
	p.Li(riscv.RegT0, -8192)
	p.I(riscv.Jalr(riscv.RegZero, riscv.RegT0, 0))
	exit(p, 0)
	return p.Assemble()
}

func badsys() []byte {
	p := newProgram()
	sys(p, 999)
	p.Li(riscv.RegT0, -1)
	p.Bne(riscv.RegA0, riscv.RegT0, "bad")
	exit(p, 0)
	p.Label("bad")
	exit(p, 1)
	return p.Assemble()
}

func forktree() []byte {
	p := newProgram()
	sys(p, rv64.SysFork)
	p.Beqz(riscv.RegA0, "child")
	p.I(riscv.Mv(riscv.RegS2, riscv.RegA0))
	sys(p, rv64.SysFork)
	p.Beqz(riscv.RegA0, "child")
	p.I(riscv.Mv(riscv.RegS3, riscv.RegA0))

	// Wait for each child in turn; -2 means still running.
	p.Label("wait1")
	p.I(riscv.Mv(riscv.RegA0, riscv.RegS2))
	p.Li(riscv.RegA1, 0)
	sys(p, rv64.SysWaitPID)
	p.Bge(riscv.RegA0, riscv.RegZero, "wait2")
	sys(p, rv64.SysSchedYield)
	p.J("wait1")

	p.Label("wait2")
	p.I(riscv.Mv(riscv.RegA0, riscv.RegS3))
	p.Li(riscv.RegA1, 0)
	sys(p, rv64.SysWaitPID)
	p.Bge(riscv.RegA0, riscv.RegZero, "done")
	sys(p, rv64.SysSchedYield)
	p.J("wait2")

	p.Label("done")
	write(p, "pmsg", 1)
	exit(p, 0)

	p.Label("child")
	write(p, "cmsg", 1)
	exit(p, 3)

	p.Label("pmsg")
	p.Ascii("p")
	p.Label("cmsg")
	p.Ascii("c")
	return p.Assemble()
}

func sleeper() []byte {
	p := newProgram()
	sys(p, rv64.SysGetTime)
	p.I(riscv.Mv(riscv.RegS2, riscv.RegA0))
	p.Li(riscv.RegA0, 30)
	sys(p, rv64.SysSleep)
	sys(p, rv64.SysGetTime)
	p.I(riscv.Sub(riscv.RegT1, riscv.RegA0, riscv.RegS2))
	p.Li(riscv.RegT2, 30)
	p.Blt(riscv.RegT1, riscv.RegT2, "bad")
	write(p, "zmsg", 1)
	exit(p, 0)
	p.Label("bad")
	exit(p, 1)
	p.Label("zmsg")
	p.Ascii("z")
	return p.Assemble()
}

func echo() []byte {
	p := newProgram()
	p.Label("loop")
	p.Li(riscv.RegA0, 0)
	p.I(riscv.Addi(riscv.RegA1, riscv.RegSP, -256))
	p.Li(riscv.RegA2, 64)
	sys(p, rv64.SysRead)
	p.Beqz(riscv.RegA0, "done")
	p.I(riscv.Mv(riscv.RegA2, riscv.RegA0))
	p.Li(riscv.RegA0, 1)
	p.I(riscv.Addi(riscv.RegA1, riscv.RegSP, -256))
	sys(p, rv64.SysWrite)
	p.J("loop")
	p.Label("done")
	exit(p, 0)
	return p.Assemble()
}
