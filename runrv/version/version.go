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

// Package version holds the build-stamped version of runrv.
package version

// version is stamped by the linker:
//
//	go build -ldflags "-X gv6.dev/gv6/runrv/version.version=$(git describe)"
var version = "unknown"

// Version returns the build version.
func Version() string {
	return version
}
