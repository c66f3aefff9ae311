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

// Package metric provides monotone counters for kernel events.
//
// Counters are registered once, conventionally from package init functions,
// and live for the life of the process. EmitText renders a snapshot of every
// registered counter in a stable order.
package metric

import (
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"gv6.dev/gv6/pkg/sync"
)

var (
	registryMu sync.Mutex

	// +checklocks:registryMu
	registry = map[string]*Uint64Metric{}
)

// Uint64Metric is a cumulative event counter.
type Uint64Metric struct {
	value atomic.Uint64

	name        string
	description string
}

// NewUint64 creates and registers a counter. The name must be globally
// unique; registering it twice is an invariant violation.
func NewUint64(name, description string) *Uint64Metric {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("metric %q is already registered", name))
	}
	m := &Uint64Metric{name: name, description: description}
	registry[name] = m
	return m
}

// Increment adds 1 to the counter.
func (m *Uint64Metric) Increment() {
	m.value.Add(1)
}

// IncrementBy adds v to the counter.
func (m *Uint64Metric) IncrementBy(v uint64) {
	m.value.Add(v)
}

// Value returns the current value.
func (m *Uint64Metric) Value() uint64 {
	return m.value.Load()
}

// EmitText writes every registered counter to w, sorted by name, one HELP
// line and one value line per counter.
func EmitText(w io.Writer) error {
	registryMu.Lock()
	metrics := make([]*Uint64Metric, 0, len(registry))
	for _, m := range registry {
		metrics = append(metrics, m)
	}
	registryMu.Unlock()

	sort.Slice(metrics, func(i, j int) bool { return metrics[i].name < metrics[j].name })
	for _, m := range metrics {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n%s %d\n", m.name, m.description, m.name, m.Value()); err != nil {
			return err
		}
	}
	return nil
}
