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

package config

import (
	"flag"
	"slices"
	"strings"
	"testing"

	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/kernel"
)

func testFlags() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	testFlags := testFlags()
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if c.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", c.LogFormat, "text")
	}
	if c.MemSize != hart.DefaultMemSize {
		t.Errorf("MemSize = %d, want %d", c.MemSize, hart.DefaultMemSize)
	}
	if c.CPUHz != kernel.DefaultCPUHz {
		t.Errorf("CPUHz = %d, want %d", c.CPUHz, kernel.DefaultCPUHz)
	}
	if c.TicksPerSec != kernel.DefaultTicksPerSec {
		t.Errorf("TicksPerSec = %d, want %d", c.TicksPerSec, kernel.DefaultTicksPerSec)
	}
	if c.Debug || c.Interactive || c.Metrics {
		t.Errorf("boolean flags default on: %+v", c)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := testFlags()
	for name, value := range map[string]string{
		"log":        "/tmp/runrv.log",
		"log-format": "json",
		"debug":      "true",
		"cpu-hz":     "1000000",
		"ticks":      "50",
	} {
		if err := testFlags.Set(name, value); err != nil {
			t.Fatalf("Set(%q, %q): %v", name, value, err)
		}
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if c.LogFilename != "/tmp/runrv.log" {
		t.Errorf("LogFilename = %q", c.LogFilename)
	}
	if c.LogFormat != "json" {
		t.Errorf("LogFormat = %q", c.LogFormat)
	}
	if !c.Debug {
		t.Errorf("Debug = false, want true")
	}
	if c.CPUHz != 1_000_000 {
		t.Errorf("CPUHz = %d, want 1000000", c.CPUHz)
	}
	if c.TicksPerSec != 50 {
		t.Errorf("TicksPerSec = %d, want 50", c.TicksPerSec)
	}
}

func TestToFlags(t *testing.T) {
	testFlags := testFlags()
	if err := testFlags.Set("debug", "true"); err != nil {
		t.Fatal(err)
	}
	if err := testFlags.Set("ticks", "10"); err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	flags := c.ToFlags()
	for _, want := range []string{"--debug=true", "--ticks=10", "--log-format=text"} {
		if !slices.Contains(flags, want) {
			t.Errorf("ToFlags() = %v, missing %q", flags, want)
		}
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flag  string
		value string
		error string
	}{
		{
			name:  "bad log format",
			flag:  "log-format",
			value: "yaml",
			error: "invalid log format",
		},
		{
			name:  "unaligned mem size",
			flag:  "mem-size",
			value: "12345",
			error: "multiple of the page size",
		},
		{
			name:  "tiny mem size",
			flag:  "mem-size",
			value: "4096",
			error: "too small",
		},
		{
			name:  "ticks beyond clock",
			flag:  "ticks",
			value: "100000000",
			error: "must not exceed cpu-hz",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := testFlags()
			if err := testFlags.Set(tc.flag, tc.value); err != nil {
				t.Fatalf("Set(%q, %q): %v", tc.flag, tc.value, err)
			}
			if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() = %v, want error containing %q", err, tc.error)
			}
		})
	}
}

func TestZeroMeansDefault(t *testing.T) {
	testFlags := testFlags()
	for _, name := range []string{"mem-size", "cpu-hz", "ticks"} {
		if err := testFlags.Set(name, "0"); err != nil {
			t.Fatalf("Set(%q, 0): %v", name, err)
		}
	}
	if _, err := NewFromFlags(testFlags); err != nil {
		t.Errorf("NewFromFlags() with zeroed machine flags: %v", err)
	}
}
