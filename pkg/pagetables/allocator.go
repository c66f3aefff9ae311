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

package pagetables

// Allocator is the source of physical frames for page-table nodes.
//
// Implementations return zeroed frames; a table node with stale contents
// would translate garbage.
type Allocator interface {
	// AllocFrame reserves a zeroed frame and returns its physical page
	// number. It returns an error when physical memory is exhausted.
	AllocFrame() (uint64, error)

	// FreeFrame returns a frame previously obtained from AllocFrame.
	FreeFrame(ppn uint64)
}
