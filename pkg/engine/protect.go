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
	"context"
	"runtime"
	"runtime/debug"

	"sigcore.dev/sigcore/pkg/log"
	"sigcore.dev/sigcore/pkg/region"
)

// bodyResult carries the body's outcome across the goroutine boundary.
type bodyResult struct {
	err error

	// panicked is set for non-fault panics, which are re-raised at the
	// region boundary so they behave as if Protect were not there.
	panicked bool
	val      any
}

// addressableError is implemented by the runtime errors produced under
// debug.SetPanicOnFault for faults at a known address.
type addressableError interface {
	error
	Addr() uintptr
}

// Protect runs fn inside a protected region on the designated thread.
//
// A signal delivered while the region is open transfers control back here:
// fn's context is cancelled, the region is consumed, and the recorded cause
// is translated through the condition map and returned. Synchronous memory
// faults raised while fn runs are converted the same way (SegvError, or
// StackOverflowError when the faulting address falls in a registered guard
// region) and the process continues.
//
// The region is exited on every path out of Protect, including early return
// and an already-consumed region. Regions nest: a signal always lands in the
// innermost open one.
func (e *Engine) Protect(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.protect(ctx, e.Thread(), "", fn)
}

// ProtectMsg is Protect with a message describing the region, surfaced on
// any interrupt condition raised from it.
func (e *Engine) ProtectMsg(ctx context.Context, msg string, fn func(ctx context.Context) error) error {
	return e.protect(ctx, e.Thread(), msg, fn)
}

// ProtectOn is Protect for an explicit thread.
func (e *Engine) ProtectOn(ctx context.Context, t *region.Thread, fn func(ctx context.Context) error) error {
	return e.protect(ctx, t, "", fn)
}

func (e *Engine) protect(ctx context.Context, t *region.Thread, msg string, fn func(ctx context.Context) error) error {
	tok := t.EnterMsg(msg)
	defer tok.Exit()

	// A deferred event consumed on entry fires before fn ever runs.
	if _, ok := tok.Cause(); ok {
		return e.conditionFor(tok)
	}

	bodyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan bodyResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := e.classifyFault(r); ok {
					done <- bodyResult{err: err}
					return
				}
				done <- bodyResult{panicked: true, val: r}
			}
		}()
		// Convert faults in the body into recoverable panics. Scoped to
		// this goroutine; reset is unnecessary since it exits with fn.
		debug.SetPanicOnFault(true)
		done <- bodyResult{err: fn(bodyCtx)}
	}()

	select {
	case res := <-done:
		if res.panicked {
			// Not a signal condition; propagate as if unprotected.
			panic(res.val)
		}
		// An interrupt that raced completion still wins; it must never
		// be silently swallowed.
		if _, ok := tok.Cause(); ok {
			if res.err != nil {
				log.Infof("Dropping body error %v in favor of interrupt", res.err)
			}
			return e.conditionFor(tok)
		}
		return res.err
	case <-tok.Interrupted():
		cancel()
		// The body may still be running; if it ends in a non-fault
		// panic, crash the process the way an unprotected panic would
		// instead of letting it vanish into the buffer.
		go func() {
			if res := <-done; res.panicked {
				panic(res.val)
			}
		}()
		return e.conditionFor(tok)
	}
}

// conditionFor resolves the consumed token's cause, attaching the region
// message to the default interrupt condition.
func (e *Engine) conditionFor(tok *region.Token) error {
	sig, _ := tok.Cause()
	err := e.Condition(sig)
	if msg := tok.Message(); msg != "" {
		if intr, ok := err.(InterruptError); ok && intr.Message == "" {
			intr.Message = msg
			err = intr
		}
	}
	return err
}

// classifyFault maps a recovered panic value to a fault condition. Only
// runtime faults carrying an address are signal-level events; everything
// else (including nil dereferences, which are ordinary Go panics) is not
// ours to translate.
func (e *Engine) classifyFault(r any) (error, bool) {
	err, ok := r.(addressableError)
	if !ok {
		return nil, false
	}
	if _, isRuntime := r.(runtime.Error); !isRuntime {
		return nil, false
	}
	addr := err.Addr()
	if e.stack.IsStackOverflow(addr) {
		return StackOverflowError{Addr: addr}, true
	}
	return SegvError{Addr: addr}, true
}
