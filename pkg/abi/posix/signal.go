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

// Package posix describes the POSIX signal numbering and mask model shared
// by the dispatch, policy and region packages.
package posix

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"sigcore.dev/sigcore/pkg/bits"
)

const (
	// SignalMaximum is the highest valid signal number.
	SignalMaximum = 64

	// FirstStdSignal is the lowest standard signal number.
	FirstStdSignal = 1

	// LastStdSignal is the highest standard signal number.
	LastStdSignal = 31

	// FirstRTSignal is the lowest real-time signal number.
	FirstRTSignal = 32

	// LastRTSignal is the highest real-time signal number.
	LastRTSignal = 64

	// NumStdSignals is the number of standard signals.
	NumStdSignals = LastStdSignal - FirstStdSignal + 1
)

// Signal is a signal number.
type Signal int

// IsValid returns true if s is a valid standard or realtime signal. (0 is not
// considered valid; interfaces special-casing signal number 0 should check for
// 0 first before asserting validity.)
func (s Signal) IsValid() bool {
	return s > 0 && s <= SignalMaximum
}

// IsStandard returns true if s is a standard signal.
//
// Preconditions: s.IsValid().
func (s Signal) IsStandard() bool {
	return s <= LastStdSignal
}

// IsRealtime returns true if s is a realtime signal.
//
// Preconditions: s.IsValid().
func (s Signal) IsRealtime() bool {
	return s >= FirstRTSignal
}

// Index returns the index for signal s into arrays of both standard and
// realtime signals (e.g. signal masks).
//
// Preconditions: s.IsValid().
func (s Signal) Index() int {
	return int(s - 1)
}

// String returns the conventional signal name ("SIGINT") for s, or a numeric
// form for signals without one.
func (s Signal) String() string {
	if name := unix.SignalName(unix.Signal(s)); name != "" {
		return name
	}
	return fmt.Sprintf("SIG %d", int(s))
}

// Parse interprets s as either a signal number or a conventional name, with
// or without the "SIG" prefix.
func Parse(s string) (Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		sig := Signal(n)
		if !sig.IsValid() {
			return 0, fmt.Errorf("signal %d out of range", n)
		}
		return sig, nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return Signal(sig), nil
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}

// Signals.
const (
	SIGABRT   = Signal(unix.SIGABRT)
	SIGALRM   = Signal(unix.SIGALRM)
	SIGBUS    = Signal(unix.SIGBUS)
	SIGCHLD   = Signal(unix.SIGCHLD)
	SIGCONT   = Signal(unix.SIGCONT)
	SIGFPE    = Signal(unix.SIGFPE)
	SIGHUP    = Signal(unix.SIGHUP)
	SIGILL    = Signal(unix.SIGILL)
	SIGINT    = Signal(unix.SIGINT)
	SIGKILL   = Signal(unix.SIGKILL)
	SIGPIPE   = Signal(unix.SIGPIPE)
	SIGQUIT   = Signal(unix.SIGQUIT)
	SIGSEGV   = Signal(unix.SIGSEGV)
	SIGSTOP   = Signal(unix.SIGSTOP)
	SIGSYS    = Signal(unix.SIGSYS)
	SIGTERM   = Signal(unix.SIGTERM)
	SIGTRAP   = Signal(unix.SIGTRAP)
	SIGTSTP   = Signal(unix.SIGTSTP)
	SIGTTIN   = Signal(unix.SIGTTIN)
	SIGTTOU   = Signal(unix.SIGTTOU)
	SIGURG    = Signal(unix.SIGURG)
	SIGUSR1   = Signal(unix.SIGUSR1)
	SIGUSR2   = Signal(unix.SIGUSR2)
	SIGVTALRM = Signal(unix.SIGVTALRM)
	SIGWINCH  = Signal(unix.SIGWINCH)
	SIGXCPU   = Signal(unix.SIGXCPU)
	SIGXFSZ   = Signal(unix.SIGXFSZ)
)

// SignalSet is a signal mask with a bit corresponding to each signal.
type SignalSet uint64

// SignalSetSize is the size in bytes of a SignalSet.
const SignalSetSize = 8

// MakeSignalSet returns SignalSet with the bit corresponding to each of the
// given signals set.
func MakeSignalSet(sigs ...Signal) SignalSet {
	indices := make([]int, len(sigs))
	for i, sig := range sigs {
		indices[i] = sig.Index()
	}
	return SignalSet(bits.Mask64(indices...))
}

// SignalSetOf returns a SignalSet with a single signal set.
func SignalSetOf(sig Signal) SignalSet {
	return SignalSet(bits.MaskOf64(sig.Index()))
}

// Contains returns true if sig is set in the mask.
func (s SignalSet) Contains(sig Signal) bool {
	return bits.IsOn64(uint64(s), bits.MaskOf64(sig.Index()))
}

// ForEachSignal invokes f for each signal set in the given mask.
func ForEachSignal(mask SignalSet, f func(sig Signal)) {
	bits.ForEachSetBit64(uint64(mask), func(i int) {
		f(Signal(i + 1))
	})
}
