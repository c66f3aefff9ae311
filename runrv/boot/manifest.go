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

// Package boot assembles a machine and kernel from a manifest and runs
// it to completion.
package boot

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Manifest describes one boot: the machine parameters and the tasks to
// create before the scheduler starts.
//
//	[machine]
//	cpu-hz = 1000000
//	ticks = 100
//
//	[[task]]
//	image = "hello"
//
//	[[task]]
//	path = "images/spinner.bin"
type Manifest struct {
	Machine Machine    `toml:"machine"`
	Tasks   []TaskSpec `toml:"task"`
}

// Machine overrides the modeled hardware parameters. Zero fields keep
// the configured (or default) values.
type Machine struct {
	// MemSize is the physical memory size in bytes.
	MemSize uint64 `toml:"mem-size"`

	// CPUHz is the clock rate in cycles per second.
	CPUHz uint64 `toml:"cpu-hz"`

	// Ticks is the preemption timer frequency.
	Ticks uint64 `toml:"ticks"`
}

// TaskSpec names one task to create at boot. With only Image set, the
// image must be a built-in. With Path set, the image bytes come from
// that file and are registered under Image, or under the file's base
// name if Image is empty.
type TaskSpec struct {
	Image string `toml:"image"`
	Path  string `toml:"path"`
}

// Name returns the image name the task runs under.
func (ts *TaskSpec) Name() string {
	if ts.Image != "" {
		return ts.Image
	}
	base := filepath.Base(ts.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadManifest reads and validates a TOML manifest.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	meta, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("decoding manifest %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("manifest %q: unknown key %q", path, undecoded[0].String())
	}
	// Relative image paths resolve against the manifest, not the CWD.
	dir := filepath.Dir(path)
	for i := range m.Tasks {
		if p := m.Tasks[i].Path; p != "" && !filepath.IsAbs(p) {
			m.Tasks[i].Path = filepath.Join(dir, p)
		}
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest %q: %w", path, err)
	}
	return &m, nil
}

// ManifestForImages builds a manifest that just starts the given
// built-in images in order.
func ManifestForImages(images ...string) *Manifest {
	m := &Manifest{}
	for _, image := range images {
		m.Tasks = append(m.Tasks, TaskSpec{Image: image})
	}
	return m
}

func (m *Manifest) validate() error {
	if len(m.Tasks) == 0 {
		return fmt.Errorf("no tasks to run")
	}
	for i, ts := range m.Tasks {
		if ts.Image == "" && ts.Path == "" {
			return fmt.Errorf("task %d names neither an image nor a path", i)
		}
	}
	return nil
}
