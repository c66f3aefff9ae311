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

// Package cli is the main entrypoint for runrv.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"gv6.dev/gv6/pkg/log"
	"gv6.dev/gv6/runrv/cmd"
	"gv6.dev/gv6/runrv/config"
	"gv6.dev/gv6/runrv/version"
)

// versionFlagName is the name of a flag that triggers printing the
// version, for callers that expect `runrv --version` to work.
const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// Register version flag if it is not already defined.
	if flag.Lookup(versionFlagName) == nil {
		flag.Bool(versionFlagName, false, "show version and exit.")
	}

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Are we showing the version?
	if flag.Lookup(versionFlagName).Value.(flag.Getter).Get().(bool) {
		fmt.Fprintf(os.Stdout, "runrv version %s\n", version.Version())
		os.Exit(0)
	}

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	subcommand := flag.CommandLine.Arg(0)

	// Set up logging. Stdout is reserved for the console, so internal
	// messages go to stderr unless a log file is named.
	var emitters log.MultiEmitter
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	} else {
		emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr))
	}
	if conf.DebugLog != "" {
		f, err := config.DebugLogFile(conf.DebugLog, subcommand)
		if err != nil {
			cmd.Fatalf("error opening debug log file in %q: %v", conf.DebugLog, err)
		}
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	}
	switch len(emitters) {
	case 1:
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	const delimString = `**************** runrv ****************`
	log.Infof(delimString)
	log.Infof("Version %s, %s, %s, PID %d", version.Version(), runtime.Version(), runtime.GOARCH, os.Getpid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// The first signal stops the machine at the next trap boundary; a
	// second one gives up on the graceful path.
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warningf("Signal %v received, stopping the machine", sig)
		cancel()
		sig = <-sigCh
		log.Warningf("Signal %v received again, exiting immediately", sig)
		os.Exit(128 + int(sig.(unix.Signal)))
	}()

	// Call the subcommand and pass in the configuration.
	var initStatus int32
	subcmdCode := subcommands.Execute(ctx, conf, &initStatus)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %d", initStatus)
		if initStatus < 0 {
			// Fault exits resemble signal deaths; use the shell
			// convention for them.
			os.Exit(128 + int(-initStatus))
		}
		os.Exit(int(initStatus) & 0xff)
	}
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(128)
}

// forEachCmd invokes the passed callback for each command supported by
// runrv.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Run), "")
	cb(new(cmd.Images), "")
	cb(new(cmd.Version), "")
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	case "json-k8s":
		return log.K8sJSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", format)
	panic("unreachable")
}
