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
	"text/tabwriter"

	"github.com/google/subcommands"

	"gv6.dev/gv6/pkg/loader"
)

// Images implements subcommands.Command for the "images" command.
type Images struct{}

// Name implements subcommands.Command.Name.
func (*Images) Name() string {
	return "images"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Images) Synopsis() string {
	return "list the built-in images"
}

// Usage implements subcommands.Command.Usage.
func (*Images) Usage() string {
	return `images - list the built-in images.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Images) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Images) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tDESCRIPTION")
	for _, info := range loader.NewRegistry().List() {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Name, info.Size, info.Description)
	}
	if err := tw.Flush(); err != nil {
		return Errorf("writing image list: %v", err)
	}
	return subcommands.ExitSuccess
}
