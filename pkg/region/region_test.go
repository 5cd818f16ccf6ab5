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

package region

import (
	"testing"

	"sigcore.dev/sigcore/pkg/abi/posix"
)

func TestWellNested(t *testing.T) {
	th := NewThread(0)
	var toks []*Token
	for i := 0; i < 10; i++ {
		tok := th.Enter()
		if got, want := tok.Depth(), i; got != want {
			t.Errorf("token depth got %d, want %d", got, want)
		}
		toks = append(toks, tok)
	}
	if got, want := th.Depth(), 10; got != want {
		t.Fatalf("depth got %d, want %d", got, want)
	}
	for i := len(toks) - 1; i >= 0; i-- {
		toks[i].Exit()
	}
	if got, want := th.Depth(), 0; got != want {
		t.Errorf("depth after unwinding got %d, want %d", got, want)
	}
	for _, tok := range toks {
		if _, ok := tok.Cause(); ok {
			t.Errorf("token %d has a cause after clean exit", tok.Depth())
		}
	}
}

func TestDeliverConsumesInnermost(t *testing.T) {
	const depth = 5
	th := NewThread(0)
	var toks []*Token
	for i := 0; i < depth; i++ {
		toks = append(toks, th.Enter())
	}

	if !th.Deliver(posix.SIGINT) {
		t.Fatalf("Deliver failed with %d regions open", depth)
	}
	if got, want := th.Depth(), depth-1; got != want {
		t.Errorf("depth after delivery got %d, want %d", got, want)
	}

	inner := toks[depth-1]
	select {
	case <-inner.Interrupted():
	default:
		t.Errorf("innermost region not fired")
	}
	if sig, ok := inner.Cause(); !ok || sig != posix.SIGINT {
		t.Errorf("cause got (%v, %v), want (SIGINT, true)", sig, ok)
	}
	for _, tok := range toks[:depth-1] {
		if _, ok := tok.Cause(); ok {
			t.Errorf("outer region %d fired", tok.Depth())
		}
	}

	// The consumed token's Exit must be a no-op; the rest unwind normally.
	for i := depth - 1; i >= 0; i-- {
		toks[i].Exit()
	}
	if got, want := th.Depth(), 0; got != want {
		t.Errorf("depth after unwinding got %d, want %d", got, want)
	}
}

func TestDeliverUnprotected(t *testing.T) {
	th := NewThread(0)
	if th.Deliver(posix.SIGINT) {
		t.Errorf("Deliver succeeded with no region open")
	}
}

func TestPendingCoalesces(t *testing.T) {
	th := NewThread(0)

	// The same kind twice must coalesce to a single delivery.
	th.SetPending(posix.SIGINT)
	th.SetPending(posix.SIGINT)

	tok := th.Enter()
	if sig, ok := tok.Cause(); !ok || sig != posix.SIGINT {
		t.Fatalf("cause got (%v, %v), want (SIGINT, true)", sig, ok)
	}
	tok.Exit()

	// The pending slot was consumed; a second region sees nothing.
	tok = th.Enter()
	if sig, ok := tok.Cause(); ok {
		t.Errorf("second region got stale cause %v", sig)
	}
	tok.Exit()
}

func TestPendingFirstKindWins(t *testing.T) {
	th := NewThread(0)
	th.SetPending(posix.SIGINT)
	th.SetPending(posix.SIGALRM)

	tok := th.Enter()
	sig, ok := tok.Cause()
	if !ok {
		t.Fatalf("no cause delivered")
	}
	if sig != posix.SIGINT {
		t.Errorf("cause got %v, want SIGINT", sig)
	}
	tok.Exit()

	// The losing kind was dropped, not queued.
	tok = th.Enter()
	if sig, ok := tok.Cause(); ok {
		t.Errorf("dropped kind resurfaced as %v", sig)
	}
	tok.Exit()
	if th.PendingAny() {
		t.Errorf("pending set non-empty after region entry")
	}
}

func TestTakePending(t *testing.T) {
	th := NewThread(0)
	th.SetPending(posix.SIGALRM)
	th.SetPending(posix.SIGINT)

	sig, ok := th.TakePending()
	if !ok || sig != posix.SIGINT {
		t.Errorf("TakePending got (%v, %v), want (SIGINT, true)", sig, ok)
	}
	// The whole slot drains: the losing kind does not queue.
	if sig, ok := th.TakePending(); ok {
		t.Errorf("second TakePending got %v, want empty", sig)
	}
}

func TestClearPending(t *testing.T) {
	th := NewThread(0)
	th.SetPending(posix.SIGALRM)
	th.ClearPending(posix.SIGALRM)

	tok := th.Enter()
	if sig, ok := tok.Cause(); ok {
		t.Errorf("cleared pending event delivered as %v", sig)
	}
	tok.Exit()
}

func TestOutOfOrderExitPanics(t *testing.T) {
	th := NewThread(0)
	outer := th.Enter()
	inner := th.Enter()

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("out-of-order Exit did not panic")
			}
		}()
		outer.Exit()
	}()

	inner.Exit()
	outer.Exit()
}

func TestDepthBoundPanics(t *testing.T) {
	th := NewThread(2)
	t1 := th.Enter()
	t2 := th.Enter()

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("Enter beyond bound did not panic")
			}
		}()
		th.Enter()
	}()

	t2.Exit()
	t1.Exit()
}

func TestEnterMsg(t *testing.T) {
	th := NewThread(0)
	tok := th.EnterMsg("inverting matrix")
	if got := tok.Message(); got != "inverting matrix" {
		t.Errorf("message got %q, want the entry description", got)
	}
	tok.Exit()

	tok = th.Enter()
	if got := tok.Message(); got != "" {
		t.Errorf("plain Enter carries message %q", got)
	}
	tok.Exit()
}

func TestBlockDefersDelivery(t *testing.T) {
	th := NewThread(0)
	tok := th.Enter()
	th.Block()

	if !th.Deliver(posix.SIGINT) {
		t.Fatalf("blocked delivery rejected with a region open")
	}
	if sig, ok := tok.Cause(); ok {
		t.Fatalf("region consumed while blocked (%v)", sig)
	}
	if got, want := th.Depth(), 1; got != want {
		t.Errorf("depth while blocked got %d, want %d", got, want)
	}

	// The deferred event fires the moment the block releases.
	th.Unblock()
	if sig, ok := tok.Cause(); !ok || sig != posix.SIGINT {
		t.Errorf("cause after Unblock got (%v, %v), want (SIGINT, true)", sig, ok)
	}
	if got, want := th.Depth(), 0; got != want {
		t.Errorf("depth after Unblock got %d, want %d", got, want)
	}
	tok.Exit()
}

func TestBlockNests(t *testing.T) {
	th := NewThread(0)
	tok := th.Enter()
	th.Block()
	th.Block()
	th.Deliver(posix.SIGINT)

	th.Unblock()
	if _, ok := tok.Cause(); ok {
		t.Fatalf("region consumed with one block still held")
	}
	th.Unblock()
	if sig, ok := tok.Cause(); !ok || sig != posix.SIGINT {
		t.Errorf("cause got (%v, %v), want (SIGINT, true)", sig, ok)
	}
	tok.Exit()
}

func TestUnblockUnmatchedPanics(t *testing.T) {
	th := NewThread(0)
	defer func() {
		if recover() == nil {
			t.Errorf("unmatched Unblock did not panic")
		}
	}()
	th.Unblock()
}

func TestExitAfterJumpIsNoOp(t *testing.T) {
	th := NewThread(0)
	tok := th.Enter()
	if !th.Deliver(posix.SIGALRM) {
		t.Fatalf("Deliver failed")
	}
	// Exit twice: both must be no-ops on a consumed token.
	tok.Exit()
	tok.Exit()
	if got, want := th.Depth(), 0; got != want {
		t.Errorf("depth got %d, want %d", got, want)
	}
}
