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

// Package policy maps signal kinds to their unprotected-state disposition.
//
// While a protected region is open every routed signal jumps to it; policy
// only decides what happens when no region is open: defer the signal into
// the pending slot, escalate to crash reporting, or drop it. The mapping is
// configuration, not mechanism, and can be replaced from a TOML file.
package policy

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"sigcore.dev/sigcore/pkg/abi/posix"
)

// Disposition is the unprotected-state handling for one signal kind.
type Disposition int

const (
	// Ignore drops the signal.
	Ignore Disposition = iota

	// Defer coalesces the signal into the pending-event slot until a
	// compatible region opens.
	Defer

	// Fatal escalates to the crash reporter; the process terminates.
	Fatal
)

func (d Disposition) String() string {
	switch d {
	case Ignore:
		return "ignore"
	case Defer:
		return "defer"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("invalid disposition %d", int(d))
	}
}

func parseDisposition(s string) (Disposition, error) {
	switch s {
	case "ignore":
		return Ignore, nil
	case "defer":
		return Defer, nil
	case "fatal":
		return Fatal, nil
	default:
		return 0, fmt.Errorf("unknown disposition %q", s)
	}
}

// Policy is a per-signal disposition table with a fallback for unmapped
// kinds. The zero value is not useful; use Default or Load. Policies are
// immutable after construction, consistent with the init-once handler table.
type Policy struct {
	table    [posix.SignalMaximum + 1]Disposition
	explicit [posix.SignalMaximum + 1]bool
	fallback Disposition
}

// Default returns the built-in table: interrupt-ish signals defer,
// fault-ish signals are fatal, everything else falls back to Defer. SIGURG
// is ignored: the runtime uses it for async preemption, so it carries no
// caller-visible meaning.
func Default() *Policy {
	p := &Policy{fallback: Defer}
	p.Set(posix.SIGURG, Ignore)
	for _, sig := range []posix.Signal{
		posix.SIGHUP, posix.SIGINT, posix.SIGTERM, posix.SIGALRM,
		posix.SIGCHLD, posix.SIGUSR1, posix.SIGUSR2, posix.SIGWINCH,
	} {
		p.Set(sig, Defer)
	}
	for _, sig := range []posix.Signal{
		posix.SIGQUIT, posix.SIGILL, posix.SIGTRAP, posix.SIGABRT,
		posix.SIGBUS, posix.SIGFPE, posix.SIGSEGV, posix.SIGSYS,
		posix.SIGXCPU, posix.SIGXFSZ,
	} {
		p.Set(sig, Fatal)
	}
	return p
}

// Set overrides the disposition for one signal. Policies are installed as
// immutable; Set is for construction time only.
func (p *Policy) Set(sig posix.Signal, d Disposition) {
	p.table[sig] = d
	p.explicit[sig] = true
}

// Disposition returns the configured disposition for sig, or the fallback
// for unmapped kinds.
func (p *Policy) Disposition(sig posix.Signal) Disposition {
	if !sig.IsValid() {
		return Ignore
	}
	if p.explicit[sig] {
		return p.table[sig]
	}
	return p.fallback
}

// Relevant returns the set of signals the dispatcher should subscribe to:
// every explicitly mapped kind plus, when the fallback is not Ignore, all
// remaining standard signals.
func (p *Policy) Relevant() posix.SignalSet {
	var set posix.SignalSet
	for sig := posix.Signal(posix.FirstStdSignal); sig <= posix.LastStdSignal; sig++ {
		if p.Disposition(sig) != Ignore {
			set |= posix.SignalSetOf(sig)
		}
	}
	return set
}

// Fatal returns the set of signals with a Fatal disposition.
func (p *Policy) Fatal() posix.SignalSet {
	var set posix.SignalSet
	for sig := posix.Signal(posix.FirstStdSignal); sig <= posix.LastStdSignal; sig++ {
		if p.Disposition(sig) == Fatal {
			set |= posix.SignalSetOf(sig)
		}
	}
	return set
}

// file is the TOML shape of a policy:
//
//	fallback = "defer"
//
//	[signals]
//	int = "defer"
//	segv = "fatal"
//	winch = "ignore"
type file struct {
	Fallback string            `toml:"fallback"`
	Signals  map[string]string `toml:"signals"`
}

// Load reads a policy table from the TOML file at path, starting from the
// built-in defaults and overriding per signal.
func Load(path string) (*Policy, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decoding policy %q: %w", path, err)
	}

	p := Default()
	if f.Fallback != "" {
		d, err := parseDisposition(f.Fallback)
		if err != nil {
			return nil, fmt.Errorf("policy %q: fallback: %w", path, err)
		}
		p.fallback = d
	}
	for name, val := range f.Signals {
		sig, err := posix.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", path, err)
		}
		d, err := parseDisposition(val)
		if err != nil {
			return nil, fmt.Errorf("policy %q: signal %s: %w", path, sig, err)
		}
		p.Set(sig, d)
	}
	return p, nil
}
