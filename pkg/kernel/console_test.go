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
	"bytes"
	"testing"
)

func TestConsoleInput(t *testing.T) {
	c := NewConsole(nil)
	if c.hasInput() {
		t.Fatalf("fresh console reports input")
	}
	c.PushInput([]byte("abc"))
	if !c.hasInput() {
		t.Fatalf("pushed input not visible")
	}

	b, eof := c.takeInput(2)
	if string(b) != "ab" || eof {
		t.Errorf("takeInput(2) = %q, %t, want \"ab\", false", b, eof)
	}
	b, eof = c.takeInput(5)
	if string(b) != "c" || eof {
		t.Errorf("takeInput(5) = %q, %t, want \"c\", false", b, eof)
	}

	// Drained but still open: a read would block.
	b, eof = c.takeInput(5)
	if len(b) != 0 || eof {
		t.Errorf("takeInput on empty open queue = %q, %t, want empty, false", b, eof)
	}
	if c.hasInput() {
		t.Errorf("drained open console reports input")
	}

	c.CloseInput()
	b, eof = c.takeInput(5)
	if len(b) != 0 || !eof {
		t.Errorf("takeInput after close = %q, %t, want empty, true", b, eof)
	}
	// A closed console can always make progress: reads return 0.
	if !c.hasInput() {
		t.Errorf("closed console reports no progress")
	}
}

func TestConsolePushAfterClose(t *testing.T) {
	c := NewConsole(nil)
	c.CloseInput()
	c.PushInput([]byte("late"))
	if b, eof := c.takeInput(16); len(b) != 0 || !eof {
		t.Errorf("takeInput = %q, %t, want empty, true", b, eof)
	}
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.write([]byte("hi"))
	c.write([]byte(" there"))
	if got, want := buf.String(), "hi there"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestConsoleNotify(t *testing.T) {
	c := NewConsole(nil)
	select {
	case <-c.wait():
		t.Fatalf("notified before any input")
	default:
	}
	c.PushInput([]byte("x"))
	select {
	case <-c.wait():
	default:
		t.Fatalf("no notification after input")
	}
}

func TestConsoleOverflow(t *testing.T) {
	c := NewConsole(nil)
	c.PushInput(make([]byte, consoleInputMax))
	c.PushInput([]byte("overflow"))
	total := 0
	for {
		b, _ := c.takeInput(consoleInputMax)
		if len(b) == 0 {
			break
		}
		total += len(b)
	}
	if total != consoleInputMax {
		t.Errorf("queued %d bytes, want the %d byte cap", total, consoleInputMax)
	}
}
