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

// Package loader resolves program names to flat binary images: a set of
// built-in, hand-assembled user programs, plus images loaded from files
// named in the boot manifest. Images are raw RV64I text, loaded and
// entered at the user image base.
package loader

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gv6.dev/gv6/pkg/mm"
)

// ErrNoImage is returned by Image for names the registry does not know.
var ErrNoImage = errors.New("no such image")

// Info describes one registry entry.
type Info struct {
	Name        string
	Description string
	Size        int
}

type entry struct {
	image       []byte
	description string
}

// Registry maps image names to their binaries. The zero value is not
// usable; NewRegistry seeds the built-in programs.
//
// Registry implements the kernel's image source. It is populated before
// boot and read-only afterwards.
type Registry struct {
	images map[string]entry
}

// NewRegistry returns a registry holding every built-in program.
func NewRegistry() *Registry {
	r := &Registry{images: make(map[string]entry)}
	for _, b := range builtins {
		r.add(b.name, b.build(), b.description)
	}
	return r
}

func (r *Registry) add(name string, image []byte, description string) {
	if _, ok := r.images[name]; ok {
		panic(fmt.Sprintf("image %q registered twice", name))
	}
	r.images[name] = entry{image: image, description: description}
}

// Image returns the binary registered under name.
func (r *Registry) Image(name string) ([]byte, error) {
	e, ok := r.images[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoImage, name)
	}
	return e.image, nil
}

// AddFile registers the contents of path under name. Built-in names
// cannot be shadowed.
func (r *Registry) AddFile(name, path string) error {
	if _, ok := r.images[name]; ok {
		return fmt.Errorf("image %q already registered", name)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading image %q: %w", name, err)
	}
	if len(b) == 0 {
		return fmt.Errorf("image %s is empty", path)
	}
	if len(b) > mm.MaxImageBytes {
		return fmt.Errorf("image %s is %d bytes, limit %d", path, len(b), mm.MaxImageBytes)
	}
	r.images[name] = entry{image: b, description: "loaded from " + path}
	return nil
}

// List returns every registered image, sorted by name.
func (r *Registry) List() []Info {
	infos := make([]Info, 0, len(r.images))
	for name, e := range r.images {
		infos = append(infos, Info{Name: name, Description: e.description, Size: len(e.image)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
