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

// taskList is an intrusive list of Tasks. Entries can be added to or
// removed from the list in O(1) time and with no additional memory
// allocations. A Task is on at most one taskList at a time; the ready
// queue and the console wait queue share the embedded entry because their
// membership is mutually exclusive.
//
// The zero value for taskList is an empty list ready to use.
//
// To iterate over a list (where q is a taskList):
//
//	for t := q.Front(); t != nil; t = t.taskEntry.next {
//		// do something with t.
//	}
type taskList struct {
	head *Task
	tail *Task
}

// taskEntry is embedded in Task to link it into a taskList.
type taskEntry struct {
	next *Task
	prev *Task
}

// Empty returns true iff the list is empty.
func (q *taskList) Empty() bool {
	return q.head == nil
}

// Front returns the first task of the list or nil.
func (q *taskList) Front() *Task {
	return q.head
}

// PushBack appends t to the back of the list.
//
// Preconditions: t is not on any list.
func (q *taskList) PushBack(t *Task) {
	t.taskEntry.prev = q.tail
	t.taskEntry.next = nil
	if q.tail != nil {
		q.tail.taskEntry.next = t
	} else {
		q.head = t
	}
	q.tail = t
}

// Remove unlinks t from the list.
//
// Preconditions: t is on this list.
func (q *taskList) Remove(t *Task) {
	prev, next := t.taskEntry.prev, t.taskEntry.next
	if prev != nil {
		prev.taskEntry.next = next
	} else {
		q.head = next
	}
	if next != nil {
		next.taskEntry.prev = prev
	} else {
		q.tail = prev
	}
	t.taskEntry = taskEntry{}
}
