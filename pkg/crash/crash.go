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

// Package crash writes diagnostics for fatal signals received outside any
// protected region, then re-delivers the signal with default disposition so
// the process terminates through the normal OS mechanism.
//
// The path is one-shot: a second fatal event while a report is being written
// escalates straight to termination without retrying diagnostics.
package crash

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"

	"sigcore.dev/sigcore/pkg/abi/posix"
	"sigcore.dev/sigcore/pkg/log"
)

// attachTimeout bounds the best-effort debugger invocation; a report must
// never hang the dying process.
const attachTimeout = 10 * time.Second

// Reporter writes one crash log per fatal event.
type Reporter struct {
	// dir is where crash logs are created. Files are never overwritten;
	// each report gets a unique name.
	dir string

	// debugger is the external debugger binary used for the best-effort
	// rich backtrace. Empty disables attaching.
	debugger string

	// reporting flips on the first fatal event and never resets.
	reporting atomic.Bool
}

// NewReporter returns a Reporter writing to dir (which is created if
// missing). debugger names the out-of-process backtrace helper, typically
// gdb; empty disables it.
func NewReporter(dir, debugger string) (*Reporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating crash dir %q: %w", dir, err)
	}
	return &Reporter{dir: dir, debugger: debugger}, nil
}

// Dir returns the crash log directory.
func (r *Reporter) Dir() string {
	return r.dir
}

// Report writes a crash log for sig and terminates the process by
// re-delivering sig with default disposition. It does not return.
func (r *Reporter) Report(sig posix.Signal) {
	if !r.reporting.CompareAndSwap(false, true) {
		// Already reporting another fatal event; don't recurse into
		// diagnostics.
		Die(sig)
	}
	if path, err := r.Write(sig); err != nil {
		log.Warningf("Failed to write crash report for %v: %v", sig, err)
	} else {
		log.Warningf("Fatal %v outside any protected region; crash report written to %s", sig, path)
	}
	Die(sig)
}

// Write creates the crash log for sig and returns its path. Fields in order:
// process id, signal name/number, ISO-8601 timestamp, backtrace block. The
// backtrace is the in-process one plus, best effort, an external debugger's.
func (r *Reporter) Write(sig posix.Signal) (string, error) {
	pid := os.Getpid()
	now := time.Now()
	path := filepath.Join(r.dir, fmt.Sprintf("crash-%d-%d.log", pid, now.UnixNano()))

	// O_EXCL: one file per crash, never overwritten.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fmt.Fprintf(f, "pid: %d\n", pid)
	fmt.Fprintf(f, "signal: %v (%d)\n", sig, int(sig))
	fmt.Fprintf(f, "time: %s\n", now.Format(time.RFC3339Nano))
	fmt.Fprintf(f, "backtrace:\n")
	f.Write(log.Stacks(true))

	if out := r.attach(pid); len(out) > 0 {
		fmt.Fprintf(f, "\ndebugger backtrace:\n")
		f.Write(out)
	}
	return path, nil
}

// attach runs the external debugger against pid to extract a richer
// backtrace than the in-process one. Attaching can transiently fail (ptrace
// contention), so it retries briefly; any failure is non-fatal.
func (r *Reporter) attach(pid int) []byte {
	if r.debugger == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), attachTimeout)
	defer cancel()

	var out []byte
	op := func() error {
		cmd := exec.CommandContext(ctx, r.debugger,
			"-batch", "-p", strconv.Itoa(pid),
			"-ex", "thread apply all bt")
		b, err := cmd.Output()
		if err != nil {
			return err
		}
		out = b
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 3), ctx)
	if err := backoff.Retry(op, b); err != nil {
		log.Infof("Debugger %q did not attach: %v", r.debugger, err)
		return nil
	}
	return out
}

// Die restores the default disposition for sig and re-delivers it to the
// process, so termination carries the OS record (core dump, exit status)
// for the signal. It does not return.
func Die(sig posix.Signal) {
	if err := restoreDefault(sig); err == nil {
		unix.Kill(os.Getpid(), unix.Signal(sig))
	}
	// Delivery may not be synchronous; give it a beat, then force the
	// conventional fatal-signal exit status rather than run on.
	time.Sleep(time.Second)
	os.Exit(128 + int(sig))
}
