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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"gv6.dev/gv6/pkg/log"
	"gv6.dev/gv6/runrv/boot"
	"gv6.dev/gv6/runrv/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	manifest string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot the machine and run images until every task exits"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <image>... - boot the machine and run images until every task exits.

Each argument names a built-in image (see "runrv images") or a file
holding a flat binary. The first image becomes the init task and its
exit code becomes the process exit code. With -manifest, tasks and
machine parameters come from a TOML file instead.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.manifest, "manifest", "", "TOML boot manifest; replaces positional images.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	initStatus := args[1].(*int32)

	var man *boot.Manifest
	switch {
	case r.manifest != "":
		if f.NArg() != 0 {
			return Errorf("-manifest and positional images are mutually exclusive")
		}
		var err error
		if man, err = boot.LoadManifest(r.manifest); err != nil {
			return Errorf("%v", err)
		}
	case f.NArg() == 0:
		f.Usage()
		return subcommands.ExitUsageError
	default:
		man = &boot.Manifest{}
		for _, arg := range f.Args() {
			// An argument naming an existing file is loaded from it;
			// anything else must be a built-in image.
			if fi, err := os.Stat(arg); err == nil && fi.Mode().IsRegular() {
				man.Tasks = append(man.Tasks, boot.TaskSpec{Path: arg})
			} else {
				man.Tasks = append(man.Tasks, boot.TaskSpec{Image: arg})
			}
		}
	}

	if conf.Interactive {
		restore, err := rawConsole()
		if err != nil {
			return Errorf("%v", err)
		}
		defer restore()
	}

	status, err := boot.Run(ctx, conf, man, os.Stdin, os.Stdout)
	if err != nil {
		return Errorf("machine stopped: %v", err)
	}
	log.Infof("machine halted, init exit code %d", status)
	*initStatus = status
	return subcommands.ExitSuccess
}

// rawConsole puts the terminal on stdin into raw mode, so keystrokes
// reach the console queue unbuffered and unechoed.
func rawConsole() (restore func(), err error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("-interactive requires a terminal on stdin")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("entering raw mode: %w", err)
	}
	// MakeRaw also turns off ISIG; put it back so ctrl-C still stops
	// the machine.
	if termios, terr := unix.IoctlGetTermios(fd, unix.TCGETS); terr == nil {
		termios.Lflag |= unix.ISIG
		if terr := unix.IoctlSetTermios(fd, unix.TCSETS, termios); terr != nil {
			log.Warningf("restoring ISIG: %v", terr)
		}
	}
	return func() {
		if err := term.Restore(fd, oldState); err != nil {
			log.Warningf("restoring terminal: %v", err)
		}
	}, nil
}
