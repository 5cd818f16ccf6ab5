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
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"sigcore.dev/sigcore/pkg/abi/posix"
	"sigcore.dev/sigcore/pkg/engine"
	"sigcore.dev/sigcore/pkg/policy"
	"sigcore.dev/sigcore/pkg/sigwait"
)

// Selftest implements subcommands.Command for the "selftest" command. It
// initializes a live engine in this process and verifies the observable
// properties end to end: interrupt catching, nesting, alarm delivery,
// cancellation, and the race-free descriptor wait.
type Selftest struct {
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Selftest) Name() string {
	return "selftest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Selftest) Synopsis() string {
	return "run live signal-engine checks in this process"
}

// Usage implements subcommands.Command.Usage.
func (*Selftest) Usage() string {
	return `selftest [-timeout <d>] - initialize the engine in this process and
run the live property checks. Exits non-zero on the first failure.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Selftest) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&s.timeout, "timeout", 30*time.Second, "overall deadline for the checks")
}

// Execute implements subcommands.Command.Execute.
func (s *Selftest) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	// Child reaping during the checks must not pollute the pending slot.
	pol := policy.Default()
	pol.Set(posix.SIGCHLD, policy.Ignore)

	e, err := engine.Init(engine.Config{
		Policy:     pol,
		NoDebugger: true,
	})
	if err != nil {
		Fatalf("initializing engine: %v", err)
	}
	defer e.Shutdown()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	// The signal checks share the designated thread and must run in
	// sequence; the descriptor-wait check is independent.
	g.Go(func() error { return s.signalChecks(ctx, e) })
	g.Go(func() error { return s.waitChecks(ctx, e) })

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Println("PASS")
	return subcommands.ExitSuccess
}

func (s *Selftest) signalChecks(ctx context.Context, e *engine.Engine) error {
	// A signal delivered inside a region must come back as a condition.
	err := e.Protect(ctx, func(ctx context.Context) error {
		if err := unix.Kill(os.Getpid(), unix.SIGUSR1); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	var interrupt engine.InterruptError
	if !errors.As(err, &interrupt) || interrupt.Signal != posix.SIGUSR1 {
		return fmt.Errorf("interrupt check: got %v, want InterruptError(SIGUSR1)", err)
	}

	// A signal raised in a nested region must consume the inner one only.
	err = e.Protect(ctx, func(ctx context.Context) error {
		inner := e.Protect(ctx, func(ctx context.Context) error {
			if err := unix.Kill(os.Getpid(), unix.SIGUSR1); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		})
		if !errors.As(inner, &interrupt) {
			return fmt.Errorf("inner region: got %v, want InterruptError", inner)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("nesting check: %v", err)
	}

	// An armed alarm must surface as AlarmError in the open region.
	alarm := e.NewAlarm()
	if err := alarm.Arm(50*time.Millisecond, false); err != nil {
		return fmt.Errorf("arming alarm: %v", err)
	}
	err = e.Protect(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	var fired engine.AlarmError
	if !errors.As(err, &fired) {
		return fmt.Errorf("alarm check: got %v, want AlarmError", err)
	}

	// A cancelled alarm must never be observed, even if it was mid-flight.
	if err := alarm.Arm(50*time.Millisecond, false); err != nil {
		return fmt.Errorf("re-arming alarm: %v", err)
	}
	if err := alarm.Cancel(); err != nil {
		return fmt.Errorf("cancelling alarm: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	err = e.Protect(ctx, func(ctx context.Context) error { return nil })
	if err != nil {
		return fmt.Errorf("cancel check: region saw %v after Cancel", err)
	}
	return nil
}

func (s *Selftest) waitChecks(_ context.Context, e *engine.Engine) error {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return fmt.Errorf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	// Nothing written yet: the wait must time out, not hang.
	res, _, err := sigwait.Wait(nil, []int{fds[0]}, nil, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("wait: %v", err)
	}
	if res != sigwait.TimedOut {
		return fmt.Errorf("empty pipe: got %v, want %v", res, sigwait.TimedOut)
	}

	if _, err := unix.Write(fds[1], []byte{1}); err != nil {
		return fmt.Errorf("write: %v", err)
	}
	res, ready, err := sigwait.Wait(nil, []int{fds[0]}, nil, time.Second)
	if err != nil {
		return fmt.Errorf("wait: %v", err)
	}
	if res != sigwait.Ready || len(ready.Read) != 1 || ready.Read[0] != fds[0] {
		return fmt.Errorf("written pipe: got %v %v, want read-ready %d", res, ready, fds[0])
	}
	return nil
}
