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
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/subcommands"
)

// Report implements subcommands.Command for the "report" command.
type Report struct {
	dir string
}

// Name implements subcommands.Command.Name.
func (*Report) Name() string {
	return "report"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Report) Synopsis() string {
	return "list crash reports, or dump one"
}

// Usage implements subcommands.Command.Usage.
func (*Report) Usage() string {
	return `report [-dir <dir>] [<file>] - list crash reports in the crash
directory, or dump the named report.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Report) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.dir, "dir", "", "crash log directory (default $SIGCORE_CRASH_DIR, then the system temp dir)")
}

// Execute implements subcommands.Command.Execute.
func (r *Report) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	dir := crashDir(r.dir)

	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if f.NArg() == 1 {
		return r.dump(filepath.Join(dir, filepath.Base(f.Arg(0))))
	}

	logs, err := filepath.Glob(filepath.Join(dir, "crash-*.log"))
	if err != nil {
		Fatalf("listing %q: %v", dir, err)
	}
	if len(logs) == 0 {
		fmt.Printf("no crash reports in %s\n", dir)
		return subcommands.ExitSuccess
	}
	sort.Strings(logs)
	for _, path := range logs {
		fi, err := os.Stat(path)
		if err != nil {
			Fatalf("stat %q: %v", path, err)
		}
		fmt.Printf("%s\t%d bytes\t%s\n", filepath.Base(path), fi.Size(), fi.ModTime().Format("2006-01-02 15:04:05"))
	}
	return subcommands.ExitSuccess
}

func (r *Report) dump(path string) subcommands.ExitStatus {
	data, err := os.ReadFile(path)
	if err != nil {
		Fatalf("reading report: %v", err)
	}
	os.Stdout.Write(data)
	return subcommands.ExitSuccess
}
