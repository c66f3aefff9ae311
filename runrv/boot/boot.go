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

package boot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"gv6.dev/gv6/pkg/kernel"
	"gv6.dev/gv6/pkg/loader"
	"gv6.dev/gv6/pkg/log"
	"gv6.dev/gv6/pkg/metric"
	"gv6.dev/gv6/pkg/syscalls/rv64"
	"gv6.dev/gv6/runrv/config"
)

// inputPollMillis is how often the input pump rechecks for cancellation
// while no host input is pending.
const inputPollMillis = 100

// Run boots a kernel per conf and the manifest, connects the console to
// stdin and stdout, and drives the machine until every task has exited
// or ctx is cancelled. It returns the init task's exit status.
func Run(ctx context.Context, conf *config.Config, man *Manifest, stdin io.Reader, stdout io.Writer) (int32, error) {
	reg := loader.NewRegistry()
	names := make([]string, 0, len(man.Tasks))
	added := map[string]string{}
	for _, ts := range man.Tasks {
		name := ts.Name()
		if ts.Path != "" {
			// The same file may back any number of tasks.
			if prev, ok := added[name]; ok {
				if prev != ts.Path {
					return 0, fmt.Errorf("image %q loaded from both %q and %q", name, prev, ts.Path)
				}
			} else {
				if err := reg.AddFile(name, ts.Path); err != nil {
					return 0, err
				}
				added[name] = ts.Path
			}
		}
		names = append(names, name)
	}

	// Manifest machine values, when set, win over the flags.
	memSize, cpuHz, ticks := conf.MemSize, conf.CPUHz, conf.TicksPerSec
	if man.Machine.MemSize != 0 {
		memSize = man.Machine.MemSize
	}
	if man.Machine.CPUHz != 0 {
		cpuHz = man.Machine.CPUHz
	}
	if man.Machine.Ticks != 0 {
		ticks = man.Machine.Ticks
	}

	k, err := kernel.New(kernel.InitKernelArgs{
		MemSize:      memSize,
		CPUHz:        cpuHz,
		TicksPerSec:  ticks,
		Images:       reg,
		SyscallTable: rv64.Table(),
		ConsoleOut:   stdout,
	})
	if err != nil {
		return 0, fmt.Errorf("creating kernel: %w", err)
	}
	for _, name := range names {
		t, err := k.CreateProcess(name)
		if err != nil {
			return 0, fmt.Errorf("creating task %q: %w", name, err)
		}
		log.Infof("created task %d (%s)", t.ThreadID(), name)
	}

	g, gctx := errgroup.WithContext(ctx)
	pumpCtx, pumpCancel := context.WithCancel(gctx)
	var status int32
	g.Go(func() error {
		defer pumpCancel()
		s, err := k.Run(gctx)
		status = s
		return err
	})
	g.Go(func() error {
		return pumpInput(pumpCtx, k.Console(), stdin)
	})
	runErr := g.Wait()

	// Shutdown report: what every remaining task looked like at halt.
	k.TaskSet().ForEach(func(t *kernel.Task) {
		log.Infof("task %d (%s): %v, exit code %d", t.ThreadID(), t.Name(), t.State(), t.ExitCode())
	})
	if conf.Metrics {
		emitMetrics()
	}
	if runErr != nil {
		return 0, runErr
	}
	return status, nil
}

// pumpInput copies host input into the console until in is exhausted or
// ctx is cancelled. File readers are polled so cancellation is honored
// while no input arrives; other readers only notice it between reads.
func pumpInput(ctx context.Context, c *kernel.Console, in io.Reader) error {
	defer c.CloseInput()
	if in == nil {
		return nil
	}
	f, isFile := in.(*os.File)
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if isFile {
			pfd := []unix.PollFd{{Fd: int32(f.Fd()), Events: unix.POLLIN}}
			n, err := unix.Poll(pfd, inputPollMillis)
			if err != nil && err != unix.EINTR {
				return fmt.Errorf("polling console input: %w", err)
			}
			if n == 0 {
				continue
			}
		}
		n, err := in.Read(buf)
		if n > 0 {
			c.PushInput(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			log.Warningf("console input: %v", err)
			return nil
		}
	}
}

func emitMetrics() {
	var buf bytes.Buffer
	if err := metric.EmitText(&buf); err != nil {
		log.Warningf("emitting metrics: %v", err)
		return
	}
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		log.Infof("%s", line)
	}
}
