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

// Package config provides the runrv configuration. Config fields map
// 1:1 to command-line flags via the `flag` struct tag: RegisterFlags
// declares the flags, NewFromFlags builds a Config from their values,
// and ToFlags converts a Config back to an argument list.
package config

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gv6.dev/gv6/pkg/kernel"
	"gv6.dev/gv6/pkg/log"
	"gv6.dev/gv6/pkg/riscv"
)

// Config holds configuration that is not part of the boot manifest. It
// is populated from flags only; fields without a `flag` tag would not
// survive a ToFlags round trip, so every field carries one.
type Config struct {
	// LogFilename is the path to a file where internal messages are
	// written. Empty means stderr.
	LogFilename string `flag:"log"`

	// LogFormat is the format of the log file.
	LogFormat string `flag:"log-format"`

	// Debug enables debug logging.
	Debug bool `flag:"debug"`

	// DebugLog is an additional location for logs. Paths ending in '/'
	// name a directory; %TIMESTAMP% and %COMMAND% expand in file names.
	DebugLog string `flag:"debug-log"`

	// Metrics dumps the event counters when the machine halts.
	Metrics bool `flag:"metrics"`

	// MemSize is the modeled physical memory size in bytes. Zero keeps
	// the machine default.
	MemSize uint64 `flag:"mem-size"`

	// CPUHz is the modeled clock rate. Zero keeps the kernel default.
	CPUHz uint64 `flag:"cpu-hz"`

	// TicksPerSec is the preemption timer frequency. Zero keeps the
	// kernel default.
	TicksPerSec uint64 `flag:"ticks"`

	// Interactive puts the host terminal in raw mode for the run, so
	// keystrokes reach the console byte by byte.
	Interactive bool `flag:"interactive"`
}

// NewFromFlags creates a new Config with values from the given FlagSet,
// which must have been populated by RegisterFlags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("flag %q not found, was RegisterFlags called?", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x.Convert(st.Field(i).Type))
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	var rv []string
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%v", name, obj.Field(i).Interface()))
	}
	return rv
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", c.LogFormat)
	}
	if c.MemSize%riscv.PageSize != 0 {
		return fmt.Errorf("mem-size %d is not a multiple of the page size (%d)", c.MemSize, riscv.PageSize)
	}
	if c.MemSize != 0 && c.MemSize < 1<<20 {
		return fmt.Errorf("mem-size %d is too small, need at least %d", c.MemSize, 1<<20)
	}
	// Zero means the kernel default; compare the effective rates.
	hz, ticks := c.CPUHz, c.TicksPerSec
	if hz == 0 {
		hz = kernel.DefaultCPUHz
	}
	if ticks == 0 {
		ticks = kernel.DefaultTicksPerSec
	}
	if ticks > hz {
		return fmt.Errorf("ticks (%d) must not exceed cpu-hz (%d)", ticks, hz)
	}
	return nil
}

// Log logs important aspects of the configuration.
func (c *Config) Log() {
	log.Infof("Configuration:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%-15s: %v", name, obj.Field(i).Interface())
	}
}

// DebugLogFile opens a debug log file for subcommand, expanding
// %TIMESTAMP% and %COMMAND% in pattern. A pattern ending in '/' names a
// directory and gets a default file name appended.
func DebugLogFile(pattern, subcommand string) (*os.File, error) {
	if strings.HasSuffix(pattern, "/") {
		pattern += "runrv.log.%TIMESTAMP%.%COMMAND%"
	}
	return log.OpenFile(pattern, os.O_WRONLY|os.O_CREATE|os.O_APPEND, debugLogOpts{subcommand})
}

type debugLogOpts struct {
	command string
}

// Build implements log.FileOpts.Build.
func (o debugLogOpts) Build(pattern string) string {
	timestamp := time.Now().Format("20060102-150405.000000")
	p := strings.ReplaceAll(pattern, "%TIMESTAMP%", timestamp)
	return strings.ReplaceAll(p, "%COMMAND%", o.command)
}
