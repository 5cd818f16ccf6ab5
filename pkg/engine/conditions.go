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

package engine

import (
	"fmt"

	"sigcore.dev/sigcore/pkg/abi/posix"
)

// InterruptError is the default condition raised when a signal consumes a
// protected region and no more specific mapping is configured.
type InterruptError struct {
	// Signal is the signal that caused the jump.
	Signal posix.Signal

	// Message is the region description supplied at entry, if any.
	Message string
}

// Error implements error.Error.
func (e InterruptError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("interrupted by %v during %s", e.Signal, e.Message)
	}
	return fmt.Sprintf("interrupted by %v", e.Signal)
}

// AlarmError is raised when a timeout fires inside a protected region.
type AlarmError struct{}

// Error implements error.Error.
func (e AlarmError) Error() string {
	return "alarm clock"
}

// SegvError is raised when a protected region faults with SIGSEGV.
type SegvError struct {
	// Addr is the address at which the SIGSEGV occurred.
	Addr uintptr
}

// Error implements error.Error.
func (e SegvError) Error() string {
	return fmt.Sprintf("SIGSEGV at %#x", e.Addr)
}

// BusError is raised when a protected region faults with SIGBUS.
type BusError struct {
	// Addr is the address at which the SIGBUS occurred.
	Addr uintptr
}

// Error implements error.Error.
func (e BusError) Error() string {
	return fmt.Sprintf("SIGBUS at %#x", e.Addr)
}

// StackOverflowError is raised when a fault address falls in a guard region
// just beyond a stack's bounds, distinguishing exhaustion from a generic
// memory fault.
type StackOverflowError struct {
	// Addr is the faulting address inside the guard region.
	Addr uintptr
}

// Error implements error.Error.
func (e StackOverflowError) Error() string {
	return fmt.Sprintf("stack overflow at %#x", e.Addr)
}

// ConditionMap translates signal identity into the condition raised to the
// caller. It is supplied externally (the calling layer knows its exception
// taxonomy); unmapped signals fall back to InterruptError.
type ConditionMap map[posix.Signal]func(sig posix.Signal) error

// condition resolves sig through m.
func (m ConditionMap) condition(sig posix.Signal) error {
	if m != nil {
		if f, ok := m[sig]; ok {
			return f(sig)
		}
	}
	if sig == posix.SIGALRM {
		return AlarmError{}
	}
	return InterruptError{Signal: sig}
}
