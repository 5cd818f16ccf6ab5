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

// Package timeout arms a real-time alarm that raises SIGALRM through the
// signal engine: inside a protected region the alarm jumps like any other
// signal, outside one it defers per policy.
//
// Cancellation guarantees no late delivery: a cancelled alarm is never
// observed as fired afterwards, even if it had already coalesced into the
// thread's pending slot.
package timeout

import (
	"errors"
	"sync"
	"time"

	"sigcore.dev/sigcore/pkg/abi/posix"
	"sigcore.dev/sigcore/pkg/region"
)

// ErrInvalidDuration is returned by Arm for non-positive durations, which
// would otherwise arm an ambiguous immediate-fire timer.
var ErrInvalidDuration = errors.New("timeout: duration must be positive")

// Alarm schedules SIGALRM deliveries for one thread. At most one alarm may
// be armed per process (the real-time timer is process-wide).
type Alarm struct {
	thread *region.Thread

	mu     sync.Mutex
	timer  itimer
	armed  bool
	repeat bool
}

// New returns an Alarm raising through t.
func New(t *region.Thread) *Alarm {
	return &Alarm{thread: t}
}

// Arm schedules SIGALRM after d, repeating every d if repeat is set. A
// non-positive d fails validation. Re-arming replaces the previous schedule.
func (a *Alarm) Arm(d time.Duration, repeat bool) error {
	if d <= 0 {
		return ErrInvalidDuration
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.timer.arm(d, repeat); err != nil {
		return err
	}
	a.armed = true
	a.repeat = repeat
	return nil
}

// DeliverFired routes a SIGALRM at the thread's open region, if any. The
// armed check, the one-shot disarm, and the region consumption all happen
// under the lock Cancel takes, so a firing either jumps before Cancel
// completes or is dropped; a cancelled alarm is never observed late.
//
// It returns false when no region is open and the alarm is live, leaving the
// caller to take the defer path (DeferFired).
func (a *Alarm) DeliverFired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.armed {
		// Stale in-flight firing from a cancelled or already-consumed
		// schedule; swallow it.
		return true
	}
	if !a.thread.Deliver(posix.SIGALRM) {
		return false
	}
	if !a.repeat {
		a.armed = false
	}
	return true
}

// DeferFired records a SIGALRM that arrived with no region open. The check
// against the armed state and the write to the pending slot happen under the
// same lock Cancel takes, so a firing either lands before Cancel clears the
// slot or is dropped; a cancelled alarm is never observed late.
func (a *Alarm) DeferFired() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.armed {
		return
	}
	a.thread.SetPending(posix.SIGALRM)
	if !a.repeat {
		a.armed = false
	}
}

// Cancel disarms the alarm and discards any SIGALRM already deferred into
// the thread's pending slot. After Cancel returns, the alarm is never
// observed as fired; the firing either completed before Cancel did or it
// never happens.
func (a *Alarm) Cancel() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.timer.disarm(); err != nil {
		return err
	}
	a.armed = false
	a.thread.ClearPending(posix.SIGALRM)
	return nil
}

// Armed returns whether the alarm is currently scheduled.
func (a *Alarm) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.armed
}
