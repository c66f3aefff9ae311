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

// Package cmd holds implementations of the runrv commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/google/subcommands"

	"gv6.dev/gv6/pkg/log"
)

// Errorf logs the error to the debug log and stderr and returns
// ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return subcommands.ExitFailure
}

// Fatalf logs the error like Errorf and exits. The exit code is
// distinct from any machine status so scripts can tell them apart.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}
