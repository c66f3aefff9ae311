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
	"errors"
	"fmt"
	"sort"

	"github.com/google/btree"
)

// ThreadID is a task identifier.
type ThreadID int32

// InitTID is the identity of the first task. Orphaned tasks reparent to
// it.
const InitTID ThreadID = 1

// TasksLimit is the maximum number of tasks, and hence the upper bound on
// identifiers handed out by the allocator.
const TasksLimit = 1 << 16

// ErrTaskLimit is returned when no more task or stack identifiers are
// available.
var ErrTaskLimit = errors.New("task limit reached")

// idAllocator hands out dense integer ids, reusing freed ids lowest
// first.
type idAllocator struct {
	first int32
	limit int32

	// next is the lowest id never handed out.
	next int32

	// recycled holds freed ids in ascending order.
	recycled []int32
}

func newIDAllocator(first, limit int32) *idAllocator {
	return &idAllocator{first: first, limit: limit, next: first}
}

func (a *idAllocator) alloc() (int32, error) {
	if len(a.recycled) > 0 {
		id := a.recycled[0]
		a.recycled = a.recycled[1:]
		return id, nil
	}
	if a.next-a.first >= a.limit {
		return 0, ErrTaskLimit
	}
	id := a.next
	a.next++
	return id, nil
}

func (a *idAllocator) free(id int32) {
	if id < a.first || id >= a.next {
		panic(fmt.Sprintf("freeing id %d that was never allocated", id))
	}
	i := sort.Search(len(a.recycled), func(i int) bool { return a.recycled[i] >= id })
	if i < len(a.recycled) && a.recycled[i] == id {
		panic(fmt.Sprintf("id %d freed twice", id))
	}
	a.recycled = append(a.recycled, 0)
	copy(a.recycled[i+1:], a.recycled[i:])
	a.recycled[i] = id
}

// TaskSet tracks every task in the system, keyed and iterated by
// ThreadID.
type TaskSet struct {
	tasks *btree.BTreeG[*Task]
	ids   *idAllocator

	// live counts tasks that have not yet exited.
	live int
}

func newTaskSet() *TaskSet {
	return &TaskSet{
		tasks: btree.NewG(8, func(a, b *Task) bool { return a.tid < b.tid }),
		ids:   newIDAllocator(int32(InitTID), TasksLimit),
	}
}

// add registers a freshly created task.
func (ts *TaskSet) add(t *Task) {
	if _, present := ts.tasks.ReplaceOrInsert(t); present {
		panic(fmt.Sprintf("task %d registered twice", t.tid))
	}
	ts.live++
}

// remove unregisters a reaped task.
func (ts *TaskSet) remove(t *Task) {
	if _, found := ts.tasks.Delete(t); !found {
		panic(fmt.Sprintf("removing unknown task %d", t.tid))
	}
}

// Lookup returns the task with the given id, or nil.
func (ts *TaskSet) Lookup(tid ThreadID) *Task {
	t, ok := ts.tasks.Get(&Task{tid: tid})
	if !ok {
		return nil
	}
	return t
}

// ForEach calls fn for every task in ThreadID order.
func (ts *TaskSet) ForEach(fn func(t *Task)) {
	ts.tasks.Ascend(func(t *Task) bool {
		fn(t)
		return true
	})
}

// Len returns the number of registered tasks, including zombies.
func (ts *TaskSet) Len() int {
	return ts.tasks.Len()
}
