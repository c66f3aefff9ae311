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

package riscv

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func words(b []byte) []uint32 {
	w := make([]uint32, len(b)/4)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return w
}

func TestProgramBranches(t *testing.T) {
	// A countdown loop: backward branch to "loop", forward jump over the
	// failure arm to "done".
	p := NewProgram(0)
	p.Li(RegT0, 3)
	p.Label("loop")
	p.I(Addi(RegT0, RegT0, -1))
	p.Bnez(RegT0, "loop")
	p.J("done")
	p.I(Ebreak())
	p.Label("done")
	p.I(Nop())

	want := []uint32{
		Addi(RegT0, RegZero, 3),
		Addi(RegT0, RegT0, -1),
		Bne(RegT0, RegZero, -4),
		J(8),
		Ebreak(),
		Nop(),
	}
	if diff := cmp.Diff(want, words(p.Assemble())); diff != "" {
		t.Errorf("assembled words mismatch (-want +got):\n%s", diff)
	}
}

func TestProgramLa(t *testing.T) {
	const base = 0x10000
	p := NewProgram(base)
	p.La(RegS0, "data")
	p.I(Ebreak())
	p.Label("data")
	p.Ascii("hi!")

	got := words(p.Assemble())
	// La is two words, ebreak one, so "data" sits at base+12.
	want := []uint32{
		Lui(RegS0, 0x10),
		Addiw(RegS0, RegS0, 12),
		Ebreak(),
		binary.LittleEndian.Uint32([]byte{'h', 'i', '!', 0}),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("assembled words mismatch (-want +got):\n%s", diff)
	}
}

func TestProgramAsciiPadding(t *testing.T) {
	p := NewProgram(0)
	p.Ascii("abcd")
	p.Ascii("e")
	got := p.Assemble()
	want := []byte{'a', 'b', 'c', 'd', 'e', 0, 0, 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestProgramUndefinedLabel(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Assemble with undefined label did not panic")
		}
	}()
	p := NewProgram(0)
	p.J("nowhere")
	p.Assemble()
}

func TestProgramDuplicateLabel(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("duplicate label did not panic")
		}
	}()
	p := NewProgram(0)
	p.Label("here")
	p.Label("here")
}
