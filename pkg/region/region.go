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

// Package region implements the protected-region stack: a strictly nested,
// per-thread sequence of jump points that signal dispatch consults to decide
// where an interrupt lands.
//
// A Thread is the unit of signal routing. It owns a fixed-capacity stack of
// jump points and a single coalescing pending-event slot per signal kind.
// Entering a region pushes a jump point; a delivered signal consumes the
// innermost jump point and wakes its entry site; exiting is a strict LIFO pop.
// Mismatched pops are programming errors and panic rather than being silently
// tolerated, since they indicate a dropped region.
package region

import (
	"fmt"
	"sync"
	"sync/atomic"

	"sigcore.dev/sigcore/pkg/abi/posix"
	"sigcore.dev/sigcore/pkg/bits"
)

// DefaultMaxDepth bounds region nesting unless overridden at thread creation.
// Depth is caller-controlled (runaway recursion), so the bound is enforced
// loudly rather than grown silently.
const DefaultMaxDepth = 64

// Token identifies one entered region. It is returned by Enter and must be
// passed back to exactly one Exit, on every path out of the region.
type Token struct {
	thread *Thread

	// index is the frame index this token occupies, which is also the
	// nesting depth at capture time.
	index int

	// consumed is set when a delivered signal jumped to this token,
	// popping it. A subsequent Exit is then a no-op.
	consumed atomic.Bool

	// cause records which event consumed the token. Written exactly once,
	// before consumed is set.
	cause posix.Signal

	// msg is optional caller context describing the region, surfaced
	// with any condition raised from it. Immutable after Enter.
	msg string

	// fired is closed when the token is consumed.
	fired chan struct{}
}

// frame is one slot of a Thread's region stack.
type frame struct {
	tok *Token
}

// Thread holds the per-thread interrupt state: the region stack and the
// pending-event slot. It is the Go rendition of the per-OS-thread state the
// engine keeps; callers own a Thread for the duration of their participation
// in protected code.
//
// Enter and Exit are called by the owning side; Deliver, SetPending and
// ClearPending are called by the signal dispatcher. mu serializes the two
// sides. It is never held across blocking operations.
type Thread struct {
	mu sync.Mutex

	// frames is a fixed-capacity arena; no stack growth happens after
	// creation.
	frames []frame

	// blocked counts nested Block calls. While non-zero, deliveries
	// defer into the pending slot instead of consuming the open region.
	blocked int

	// depth is the current nesting depth. It is written under mu but read
	// without it by diagnostics.
	depth atomic.Int32

	// pending is a bitset of deferred signals, one bit per kind. Repeats
	// of a kind coalesce into the single bit.
	pending atomic.Uint64
}

// NewThread returns a Thread with the given maximum nesting depth. A
// maxDepth of 0 selects DefaultMaxDepth.
func NewThread(maxDepth int) *Thread {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Thread{
		frames: make([]frame, maxDepth),
	}
}

// Depth returns the current nesting depth.
func (t *Thread) Depth() int {
	return int(t.depth.Load())
}

// Enter captures a jump point, pushes it and returns its token. If a deferred
// event is pending, the new region consumes it immediately: the returned
// token is already fired and the pending slot is cleared.
//
// Enter panics if the nesting bound is exceeded; that is a programming error
// (runaway recursion through protected regions), not a recoverable condition.
func (t *Thread) Enter() *Token {
	return t.EnterMsg("")
}

// EnterMsg is Enter with a message describing the region, carried on the
// token and surfaced with any condition raised from it.
func (t *Thread) EnterMsg(msg string) *Token {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := int(t.depth.Load())
	if d == len(t.frames) {
		panic(fmt.Sprintf("region: nesting depth exceeds bound %d; dropped Exit or runaway recursion", len(t.frames)))
	}

	tok := &Token{
		thread: t,
		index:  d,
		msg:    msg,
		fired:  make(chan struct{}),
	}
	t.frames[d].tok = tok
	t.depth.Store(int32(d + 1))

	// A new region is the first compatible consumer of anything deferred.
	// The first recorded kind wins; the rest coalesce away with the slot.
	if t.blocked == 0 {
		if sig, ok := t.TakePending(); ok {
			t.consumeTopLocked(sig)
		}
	}
	return tok
}

// Block suspends jumps on t: a signal delivered while blocked defers into
// the pending slot instead of consuming the open region. Blocks nest.
// Callers wrap short critical sections that must not be abandoned mid-flight
// (allocator calls, data-structure surgery).
func (t *Thread) Block() {
	t.mu.Lock()
	t.blocked++
	t.mu.Unlock()
}

// Unblock reverses one Block. When the last Block is released with a region
// open, a deferred event fires into it immediately. Unblock without a
// matching Block is a programming error and panics.
func (t *Thread) Unblock() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.blocked == 0 {
		panic("region: Unblock without matching Block")
	}
	t.blocked--
	if t.blocked == 0 && t.depth.Load() > 0 {
		if sig, ok := t.TakePending(); ok {
			t.consumeTopLocked(sig)
		}
	}
}

// TakePending atomically drains the pending set and returns the
// lowest-numbered deferred signal, if any. The remaining kinds coalesce away
// with the slot; nothing queues.
func (t *Thread) TakePending() (posix.Signal, bool) {
	p := t.pending.Swap(0)
	if p == 0 {
		return 0, false
	}
	return posix.Signal(bits.TrailingZeros64(p) + 1), true
}

// Deliver records sig as the cause of the innermost open region and consumes
// that region, waking its entry site. It returns false if no region is open,
// leaving the caller to apply its unprotected-state policy.
//
// Deliver never allocates and never blocks on caller code; it is the only
// region operation invoked from signal dispatch.
func (t *Thread) Deliver(sig posix.Signal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.depth.Load() == 0 {
		return false
	}
	if t.blocked > 0 {
		t.SetPending(sig)
		return true
	}
	t.consumeTopLocked(sig)
	return true
}

// consumeTopLocked pops the top frame, recording sig as its cause.
//
// Preconditions: t.mu is held; depth > 0.
func (t *Thread) consumeTopLocked(sig posix.Signal) {
	d := int(t.depth.Load())
	tok := t.frames[d-1].tok
	t.frames[d-1].tok = nil
	t.depth.Store(int32(d - 1))

	// Order matters: cause must be visible before fired is closed, and
	// consumed before the frame can be reused by a racing Enter (excluded
	// here by mu).
	tok.cause = sig
	tok.consumed.Store(true)
	close(tok.fired)
}

// SetPending records a deferred event of the given kind. Repeated events of
// one kind coalesce; nothing queues.
func (t *Thread) SetPending(sig posix.Signal) {
	for {
		old := t.pending.Load()
		if t.pending.CompareAndSwap(old, old|bits.MaskOf64(sig.Index())) {
			return
		}
	}
}

// ClearPending discards any pending event of the given kind. Used by
// consumers (e.g. timeout cancellation) that must guarantee an already
// deferred event is never observed later.
func (t *Thread) ClearPending(sig posix.Signal) {
	for {
		old := t.pending.Load()
		if t.pending.CompareAndSwap(old, old&^bits.MaskOf64(sig.Index())) {
			return
		}
	}
}

// PendingAny returns true if any deferred event is pending.
func (t *Thread) PendingAny() bool {
	return t.pending.Load() != 0
}

// Exit pops the region identified by tok. It must be called exactly once per
// Enter, on every exit path. If the region was already consumed by a
// delivered signal, Exit is a no-op. Exiting a token that is not the current
// top is a programming error and panics.
func (tok *Token) Exit() {
	if tok.consumed.Load() {
		return
	}

	t := tok.thread
	t.mu.Lock()
	defer t.mu.Unlock()

	// Re-check under the lock: a delivery may have consumed the token
	// between the fast-path check and here.
	if tok.consumed.Load() {
		return
	}

	d := int(t.depth.Load())
	if d == 0 || t.frames[d-1].tok != tok {
		panic(fmt.Sprintf("region: out-of-order exit of region %d at depth %d", tok.index, d))
	}
	t.frames[d-1].tok = nil
	t.depth.Store(int32(d - 1))
}

// Interrupted returns a channel that is closed when a delivered signal
// consumes this region.
func (tok *Token) Interrupted() <-chan struct{} {
	return tok.fired
}

// Cause returns the signal that consumed this region, if any.
func (tok *Token) Cause() (posix.Signal, bool) {
	if !tok.consumed.Load() {
		return 0, false
	}
	return tok.cause, true
}

// Depth returns the nesting depth at which this region was captured.
func (tok *Token) Depth() int {
	return tok.index
}

// Message returns the region description supplied at entry, if any.
func (tok *Token) Message() string {
	return tok.msg
}
