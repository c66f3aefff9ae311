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

	"gv6.dev/gv6/pkg/hart"
	"gv6.dev/gv6/pkg/kernel"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, or json-k8s.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.Bool("metrics", false, "dump the event counters to the log when the machine halts.")

	// Flags that control the modeled machine.
	flagSet.Uint64("mem-size", hart.DefaultMemSize, "modeled physical memory size in bytes; must be a multiple of the page size.")
	flagSet.Uint64("cpu-hz", kernel.DefaultCPUHz, "modeled clock rate in cycles per second.")
	flagSet.Uint64("ticks", kernel.DefaultTicksPerSec, "preemption timer frequency in interrupts per second.")

	// Console flags.
	flagSet.Bool("interactive", false, "put the host terminal in raw mode so keystrokes reach the console immediately.")
}
