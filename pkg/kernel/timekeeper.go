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
	"github.com/google/btree"
)

// sleepEntry orders sleeping tasks by wake deadline, ties broken by id so
// wakeup order is total.
type sleepEntry struct {
	deadline uint64
	t        *Task
}

func sleepEntryLess(a, b sleepEntry) bool {
	if a.deadline != b.deadline {
		return a.deadline < b.deadline
	}
	return a.t.tid < b.t.tid
}

// timeKeeper owns the deadline queue and the conversion between machine
// cycles and wall milliseconds.
type timeKeeper struct {
	sleepers *btree.BTreeG[sleepEntry]
	cpuHz    uint64
}

func newTimeKeeper(cpuHz uint64) *timeKeeper {
	return &timeKeeper{
		sleepers: btree.NewG(8, sleepEntryLess),
		cpuHz:    cpuHz,
	}
}

// millis converts a cycle count to milliseconds.
func (tk *timeKeeper) millis(cycle uint64) int64 {
	return int64(cycle * 1000 / tk.cpuHz)
}

// deadlineAfter returns the cycle at which ms milliseconds from now have
// passed.
func (tk *timeKeeper) deadlineAfter(now, ms uint64) uint64 {
	return now + ms*tk.cpuHz/1000
}

// addSleeper parks t in the deadline queue.
func (tk *timeKeeper) addSleeper(t *Task, deadline uint64) {
	tk.sleepers.ReplaceOrInsert(sleepEntry{deadline: deadline, t: t})
}

// earliestDeadline returns the next wake deadline, if any.
func (tk *timeKeeper) earliestDeadline() (uint64, bool) {
	e, ok := tk.sleepers.Min()
	if !ok {
		return 0, false
	}
	return e.deadline, true
}

// popExpired removes and returns one sleeper whose deadline is <= now,
// or nil.
func (tk *timeKeeper) popExpired(now uint64) *Task {
	e, ok := tk.sleepers.Min()
	if !ok || e.deadline > now {
		return nil
	}
	tk.sleepers.DeleteMin()
	return e.t
}
