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

// Package engine ties the signal machinery together: it installs the
// alternate stack and the handler subscriptions once per process, routes
// deliveries to the designated thread, and exposes the protected-region
// protocol callers use to make code interruptible.
package engine

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"sigcore.dev/sigcore/pkg/abi/posix"
	"sigcore.dev/sigcore/pkg/altstack"
	"sigcore.dev/sigcore/pkg/crash"
	"sigcore.dev/sigcore/pkg/dispatch"
	"sigcore.dev/sigcore/pkg/log"
	"sigcore.dev/sigcore/pkg/policy"
	"sigcore.dev/sigcore/pkg/region"
	"sigcore.dev/sigcore/pkg/timeout"
)

// Environment variables read once at Init.
const (
	// CrashDirEnv overrides the crash log directory.
	CrashDirEnv = "SIGCORE_CRASH_DIR"

	// PolicyEnv names a TOML policy file.
	PolicyEnv = "SIGCORE_POLICY"

	// DebuggerEnv overrides the external debugger binary; empty disables
	// attaching.
	DebuggerEnv = "SIGCORE_DEBUGGER"
)

// ErrAlreadyInitialized is returned by Init when an engine is already
// running; the handler table and alternate stack are process-wide.
var ErrAlreadyInitialized = errors.New("engine: already initialized")

// Config controls Init. The zero value selects defaults.
type Config struct {
	// CrashDir is where crash logs are written. Defaults to CrashDirEnv,
	// then the system temporary directory.
	CrashDir string

	// Policy is the signal disposition table. Defaults to the file named
	// by PolicyEnv, then the built-in table.
	Policy *policy.Policy

	// Conditions maps signal identity to the condition raised to callers.
	// Unmapped signals fall back to InterruptError.
	Conditions ConditionMap

	// Debugger is the external backtrace helper. Defaults to DebuggerEnv,
	// then "gdb". Set NoDebugger to disable.
	Debugger   string
	NoDebugger bool

	// MaxDepth bounds region nesting; 0 selects the default.
	MaxDepth int

	// AltStackSize is the usable alternate stack size; 0 selects the
	// default.
	AltStackSize uintptr

	// SkipSignal reserves one signal for the process owner; the engine
	// will not subscribe to it.
	SkipSignal posix.Signal
}

// Engine is the process-wide signal engine. The handler table and alternate
// stack it installs are established once and treated as immutable until
// Shutdown.
type Engine struct {
	pol        *policy.Policy
	stack      *altstack.Stack
	reporter   *crash.Reporter
	conditions ConditionMap
	maxDepth   int

	designated atomic.Pointer[region.Thread]
	alarm      atomic.Pointer[timeout.Alarm]

	stop func()
}

// running guards the process-wide singleton.
var running atomic.Bool

// Init installs the engine: alternate stack, SA_ONSTACK on fault signals,
// and the dispatch subscriptions, in that order, then starts forwarding. It
// fails if an engine is already running or if the alternate stack cannot be
// installed (a fatal initialization error; no protected region may be
// entered without it).
func Init(cfg Config) (*Engine, error) {
	if !running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInitialized
	}
	e, err := initLocked(cfg)
	if err != nil {
		running.Store(false)
		return nil, err
	}
	return e, nil
}

func initLocked(cfg Config) (*Engine, error) {
	pol := cfg.Policy
	if pol == nil {
		if path := os.Getenv(PolicyEnv); path != "" {
			p, err := policy.Load(path)
			if err != nil {
				return nil, err
			}
			pol = p
		} else {
			pol = policy.Default()
		}
	}

	crashDir := cfg.CrashDir
	if crashDir == "" {
		crashDir = os.Getenv(CrashDirEnv)
	}
	if crashDir == "" {
		crashDir = os.TempDir()
	}
	debugger := ""
	if !cfg.NoDebugger {
		debugger = cfg.Debugger
		if debugger == "" {
			debugger = os.Getenv(DebuggerEnv)
		}
		if debugger == "" {
			debugger = "gdb"
		}
	}
	reporter, err := crash.NewReporter(crashDir, debugger)
	if err != nil {
		return nil, err
	}

	stack, err := altstack.New(cfg.AltStackSize)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	var onStackErr error
	posix.ForEachSignal(pol.Fatal(), func(sig posix.Signal) {
		if err := altstack.EnsureOnStack(sig); err != nil && onStackErr == nil {
			onStackErr = err
		}
	})
	if onStackErr != nil {
		stack.Release()
		return nil, fmt.Errorf("engine: %w", onStackErr)
	}

	e := &Engine{
		pol:        pol,
		stack:      stack,
		reporter:   reporter,
		conditions: cfg.Conditions,
		maxDepth:   cfg.MaxDepth,
	}
	e.designated.Store(region.NewThread(cfg.MaxDepth))

	start := dispatch.PrepareForwarding(pol, e, cfg.SkipSignal)
	e.stop = start()

	log.Infof("Signal engine initialized: crash dir %q", crashDir)
	return e, nil
}

// Shutdown stops forwarding (signals revert to default Go runtime behavior)
// and releases the alternate stack. After Shutdown a new engine may be
// initialized.
func (e *Engine) Shutdown() {
	e.stop()
	if err := e.stack.Release(); err != nil {
		log.Warningf("Failed to release alternate stack: %v", err)
	}
	running.Store(false)
}

// Thread returns the designated thread, the routing target for process-wide
// signals.
func (e *Engine) Thread() *region.Thread {
	return e.designated.Load()
}

// NewThread returns a fresh thread with the engine's configured nesting
// bound, for callers running protected code off the designated thread.
func (e *Engine) NewThread() *region.Thread {
	return region.NewThread(e.maxDepth)
}

// Designate routes subsequent process-wide signal deliveries to t.
func (e *Engine) Designate(t *region.Thread) {
	e.designated.Store(t)
}

// AltStack exposes the alternate-stack manager, e.g. to register additional
// guard bands for overflow classification.
func (e *Engine) AltStack() *altstack.Stack {
	return e.stack
}

// NewAlarm returns the timeout alarm raising through the designated thread.
// The engine gates deferred SIGALRM deliveries through it so cancellation
// can guarantee no late observation.
func (e *Engine) NewAlarm() *timeout.Alarm {
	a := timeout.New(e.Thread())
	e.alarm.Store(a)
	return a
}

// Condition resolves sig through the configured condition map.
func (e *Engine) Condition(sig posix.Signal) error {
	return e.conditions.condition(sig)
}

// Deliver implements dispatch.Sink.
func (e *Engine) Deliver(sig posix.Signal) bool {
	// SIGALRM routes through the alarm so the armed check and the region
	// consumption share one lock with Cancel; a cancelled timeout must
	// never be observed as fired, even when the firing was mid-flight.
	if sig == posix.SIGALRM {
		if a := e.alarm.Load(); a != nil {
			return a.DeliverFired()
		}
	}
	return e.designated.Load().Deliver(sig)
}

// Defer implements dispatch.Sink.
func (e *Engine) Defer(sig posix.Signal) {
	if sig == posix.SIGALRM {
		if a := e.alarm.Load(); a != nil {
			a.DeferFired()
			return
		}
	}
	e.designated.Load().SetPending(sig)
}

// Fatal implements dispatch.Sink. It does not return.
func (e *Engine) Fatal(sig posix.Signal) {
	e.reporter.Report(sig)
}
