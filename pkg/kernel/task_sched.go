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
)

// The scheduler is a round-robin over the intrusive ready queue. The
// idle (bootstrap) flow owns idleCtx: the first switch of a run leaves
// it, and every suspension switches back to it, so scheduling decisions
// always happen on the idle flow with no task current.

// switchToTask resumes t from the idle flow.
//
// Preconditions: t.state == TaskReady, t is not queued, k.current == nil.
func (k *Kernel) switchToTask(t *Task) {
	t.state = TaskRunning
	k.current = t
	switchCount.Increment()
	Switch(k.m, &k.idleCtx, &t.ctx)
}

// suspendCurrent parks the running task in state and resumes the idle
// flow. The caller has already queued the task wherever its wakeup will
// find it.
func (k *Kernel) suspendCurrent(state TaskState) {
	t := k.current
	t.state = state
	k.current = nil
	Switch(k.m, &t.ctx, &k.idleCtx)
}

// requeueCurrent moves the running task behind every other Ready task
// and suspends it.
func (k *Kernel) requeueCurrent() {
	t := k.current
	k.readyQueue.PushBack(t)
	k.suspendCurrent(TaskReady)
}

// pickNext pops the next Ready task, or nil if the queue is empty.
func (k *Kernel) pickNext() *Task {
	t := k.readyQueue.Front()
	if t == nil {
		return nil
	}
	k.readyQueue.Remove(t)
	if t.state != TaskReady {
		panic(fmt.Sprintf("%v task %d found in the ready queue", t.state, t.tid))
	}
	return t
}

// wake moves a Blocked task back to the ready queue.
func (k *Kernel) wake(t *Task) {
	if t.state != TaskBlocked {
		panic(fmt.Sprintf("waking task %d in state %v", t.tid, t.state))
	}
	t.state = TaskReady
	k.readyQueue.PushBack(t)
}

// wakeSleepers requeues every sleeper whose deadline has passed.
func (k *Kernel) wakeSleepers(now uint64) {
	for {
		t := k.tk.popExpired(now)
		if t == nil {
			return
		}
		k.wake(t)
	}
}

// serviceConsole wakes the input waiters once a read could make
// progress. All of them retry; those that lose the race block again.
func (k *Kernel) serviceConsole() {
	if k.consoleWaiters.Empty() || !k.console.hasInput() {
		return
	}
	for !k.consoleWaiters.Empty() {
		t := k.consoleWaiters.Front()
		k.consoleWaiters.Remove(t)
		k.wake(t)
	}
}

// schedule makes one scheduling decision on the idle flow: switch into
// the next Ready task, or idle.
//
// Idle policy: with sleepers pending, machine time advances straight to
// the earliest deadline; with readers blocked on input, the host
// goroutine sleeps until input (or cancellation); with no live tasks the
// run loop shuts down.
func (k *Kernel) schedule() {
	if err := k.runCtx.Err(); err != nil {
		k.stop(err)
		return
	}
	k.wakeSleepers(k.m.Cycle())
	k.serviceConsole()
	if t := k.pickNext(); t != nil {
		k.switchToTask(t)
		return
	}
	if deadline, ok := k.tk.earliestDeadline(); ok {
		if deadline > k.m.Cycle() {
			idleAdvances.Increment()
			k.m.AdvanceTo(deadline)
		}
		return
	}
	if !k.consoleWaiters.Empty() {
		select {
		case <-k.runCtx.Done():
			k.stop(k.runCtx.Err())
		case <-k.console.wait():
		}
		return
	}
	if k.ts.live == 0 {
		k.shutdown = true
		return
	}
	panic("scheduler: live tasks blocked with no wakeup source")
}
