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
	"io"

	"gv6.dev/gv6/pkg/log"
	"gv6.dev/gv6/pkg/sync"
)

// consoleInputMax bounds the input queue; bytes pushed beyond it are
// dropped.
const consoleInputMax = 1 << 16

// Console is the kernel byte console: an output sink plus a bounded input
// queue for read(0).
//
// PushInput and CloseInput may be called from any goroutine; everything
// else belongs to the kernel flow.
type Console struct {
	out io.Writer

	mu sync.Mutex

	// +checklocks:mu
	in []byte
	// +checklocks:mu
	closed bool

	// notify is signaled when input arrives or closes, so an idle kernel
	// can sleep on it.
	notify chan struct{}
}

// NewConsole returns a console writing output to out. A nil out discards
// output.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{
		out:    out,
		notify: make(chan struct{}, 1),
	}
}

// write sends task output to the sink. Sink errors are not the task's
// fault and are only logged.
func (c *Console) write(p []byte) {
	if _, err := c.out.Write(p); err != nil {
		log.Warningf("console: dropping %d output bytes: %v", len(p), err)
	}
}

// PushInput appends bytes to the input queue. Safe from any goroutine.
func (c *Console) PushInput(p []byte) {
	c.mu.Lock()
	if !c.closed {
		if room := consoleInputMax - len(c.in); len(p) > room {
			log.Warningf("console: input queue full, dropping %d bytes", len(p)-room)
			p = p[:room]
		}
		c.in = append(c.in, p...)
	}
	c.mu.Unlock()
	c.signal()
}

// CloseInput marks the end of input. Blocked reads return 0 once the
// queue drains. Safe from any goroutine.
func (c *Console) CloseInput() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()
}

func (c *Console) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// takeInput pops at most max bytes from the queue. An empty result means
// no input is buffered; eof then reports whether more can still arrive.
func (c *Console) takeInput(max int) (b []byte, eof bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 {
		return nil, c.closed
	}
	n := min(len(c.in), max)
	b = make([]byte, n)
	copy(b, c.in)
	c.in = c.in[:copy(c.in, c.in[n:])]
	return b, false
}

// hasInput reports whether a read could make progress right now.
func (c *Console) hasInput() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.in) > 0 || c.closed
}

// wait returns the channel signaled on input arrival.
func (c *Console) wait() <-chan struct{} {
	return c.notify
}
