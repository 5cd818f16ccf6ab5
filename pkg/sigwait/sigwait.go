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

// Package sigwait provides a blocking descriptor wait that does not lose
// deferrable signals: the signal mask is widened atomically for the duration
// of the blocking syscall only (the classic race-free wait), and an event
// already pending at call entry short-circuits the wait entirely.
package sigwait

import (
	"time"

	"sigcore.dev/sigcore/pkg/region"
)

// Result is the outcome of a Wait.
type Result int

const (
	// Ready means at least one monitored descriptor is ready.
	Ready Result = iota

	// TimedOut means the timeout elapsed with no descriptor ready.
	TimedOut

	// Interrupted means a signal arrived before or during the wait.
	Interrupted
)

func (r Result) String() string {
	switch r {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed-out"
	case Interrupted:
		return "interrupted"
	default:
		return "invalid result"
	}
}

// ReadySet reports which monitored descriptors are ready.
type ReadySet struct {
	Read  []int
	Write []int
}

// Wait blocks until a descriptor in read or write becomes ready, the timeout
// elapses, or a signal interrupts the wait. A negative timeout blocks
// indefinitely.
//
// If a deferred event is already pending on t when Wait is called, it
// returns Interrupted immediately instead of blocking; the event stays
// pending for the next protected region to consume.
func Wait(t *region.Thread, read, write []int, timeout time.Duration) (Result, ReadySet, error) {
	if t != nil && t.PendingAny() {
		return Interrupted, ReadySet{}, nil
	}
	return wait(read, write, timeout)
}
