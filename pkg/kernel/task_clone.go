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
	"gv6.dev/gv6/pkg/log"
	"gv6.dev/gv6/pkg/mm"
	"gv6.dev/gv6/pkg/trap"
)

// newTask allocates the pieces every task needs before it has an address
// space: an identifier, a kernel stack slot and its mapping, and a fresh
// context parked at the trap-return continuation.
func (k *Kernel) newTask(image string) (*Task, error) {
	id, err := k.ts.ids.alloc()
	if err != nil {
		return nil, err
	}
	slot, err := k.stacks.alloc()
	if err != nil {
		k.ts.ids.free(id)
		return nil, err
	}
	top, err := k.kernelSpace.MapKernelStack(uint64(slot))
	if err != nil {
		k.stacks.free(slot)
		k.ts.ids.free(id)
		return nil, err
	}
	return &Task{
		k:         k,
		tid:       ThreadID(id),
		image:     image,
		state:     TaskReady,
		stackID:   uint64(slot),
		kstackTop: top,
		table:     k.table,
		ctx:       TaskContext{RA: k.vaTrapReturn, SP: top},
	}, nil
}

// destroyPartial undoes newTask for a task that never got an address
// space.
func (k *Kernel) destroyPartial(t *Task) {
	k.kernelSpace.UnmapKernelStack(t.stackID)
	k.m.FenceVMA()
	k.stacks.free(int32(t.stackID))
	k.ts.ids.free(int32(t.tid))
}

// Fork clones the calling task: same image name, a copied address space
// and a copied trap frame. The child's return slot reads 0; the parent
// receives the child's id.
func (t *Task) Fork() (ThreadID, error) {
	k := t.k
	child, err := k.newTask(t.image)
	if err != nil {
		return 0, err
	}
	space, err := t.space.Clone()
	if err != nil {
		k.destroyPartial(child)
		return 0, err
	}
	child.space = space
	child.refreshFrame()
	child.parent = t

	// The copied frame is the parent's, already advanced past the ecall.
	// Repoint its kernel half at the child's stack and zero the return
	// slot.
	child.setFrameWord(trap.OffKernelSP, child.kstackTop)
	child.setReturnSlot(0)

	t.children = append(t.children, child)
	k.ts.add(child)
	k.readyQueue.PushBack(child)
	forkCount.Increment()
	log.Debugf("task %d forked task %d", t.tid, child.tid)
	return child.tid, nil
}

// Exec replaces the task's image with the named one from the image
// source. On success the task resumes at the new entry point with a
// fresh stack; nothing of the old image survives.
func (t *Task) Exec(name string) error {
	k := t.k
	img, err := k.images.Image(name)
	if err != nil {
		return err
	}
	space, userSP, err := mm.NewUser(k.m, k.alloc, k.trampolinePPN, img)
	if err != nil {
		return err
	}
	old := t.space
	t.space = space
	t.refreshFrame()
	k.seedFrame(t, mm.UserImageBase, userSP)
	old.Release()
	k.m.FenceVMA()
	t.image = name
	log.Debugf("task %d exec %q", t.tid, name)
	return nil
}
