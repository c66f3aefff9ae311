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

	"gv6.dev/gv6/pkg/log"
)

// exitCurrent turns the running task into a zombie and gives up the hart
// for good. The zombie keeps its frames until the parent reaps it.
func (k *Kernel) exitCurrent(code int32) {
	t := k.current
	t.exitCode = code
	if t.tid == InitTID {
		k.initStatus = code
	}
	// Orphans go to the init task. If init itself is exiting, its
	// children stay with the zombie: unreapable, but they still run to
	// completion.
	if adopter := k.ts.Lookup(InitTID); adopter != nil && adopter != t && len(t.children) > 0 {
		for _, c := range t.children {
			c.parent = adopter
		}
		adopter.children = append(adopter.children, t.children...)
		t.children = nil
	}
	k.ts.live--
	log.Debugf("task %d (%s) exited with code %d", t.tid, t.image, code)
	k.suspendCurrent(TaskZombie)
}

// WaitPID implements the wait syscall over t's children. pid -1 matches
// any child. It returns -1 with no matching child, -2 with a matching
// child still running, and otherwise reaps one zombie child, stores its
// raw exit code through statusVA (if nonzero) and returns its id.
func (t *Task) WaitPID(pid int64, statusVA uint64) int64 {
	var zombie *Task
	matched := false
	for _, c := range t.children {
		if pid != -1 && int64(c.tid) != pid {
			continue
		}
		matched = true
		if c.state == TaskZombie {
			zombie = c
			break
		}
	}
	if !matched {
		return -1
	}
	if zombie == nil {
		return -2
	}
	if statusVA != 0 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(zombie.exitCode))
		if err := t.CopyOut(statusVA, b[:]); err != nil {
			// The child stays reapable.
			return -1
		}
	}
	t.k.reap(zombie)
	return int64(zombie.tid)
}

// reap releases everything a zombie still holds and forgets it.
//
// Preconditions: z.state == TaskZombie.
func (k *Kernel) reap(z *Task) {
	p := z.parent
	for i, c := range p.children {
		if c == z {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	z.space.Release()
	z.space = nil
	z.tf = nil
	k.kernelSpace.UnmapKernelStack(z.stackID)
	k.m.FenceVMA()
	k.stacks.free(int32(z.stackID))
	k.ts.remove(z)
	k.ts.ids.free(int32(z.tid))
	log.Debugf("task %d reaped", z.tid)
}
