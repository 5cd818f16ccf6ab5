// Copyright 2025 The sigcore Authors.
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

package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"sigcore.dev/sigcore/pkg/abi/posix"
)

// Raise implements subcommands.Command for the "raise" command.
type Raise struct {
	pid int
}

// Name implements subcommands.Command.Name.
func (*Raise) Name() string {
	return "raise"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Raise) Synopsis() string {
	return "send a signal to a process"
}

// Usage implements subcommands.Command.Usage.
func (*Raise) Usage() string {
	return `raise [-pid <pid>] <signal> - send a signal, named ("INT", "usr1")
or numeric ("10"), to a process. Defaults to the calling process, which is
useful for exercising an engine under a wrapper script.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Raise) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.pid, "pid", 0, "target process (default: self)")
}

// Execute implements subcommands.Command.Execute.
func (r *Raise) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	sig, err := posix.Parse(f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	pid := r.pid
	if pid == 0 {
		pid = os.Getpid()
	}
	if err := unix.Kill(pid, unix.Signal(sig)); err != nil {
		Fatalf("sending %v to %d: %v", sig, pid, err)
	}
	return subcommands.ExitSuccess
}
