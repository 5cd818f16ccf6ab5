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

// Package dispatch receives the signals of interest and applies the
// protected/unprotected state machine to each delivery.
//
// One size-1 channel is registered per standard signal so that standard
// signals coalesce instead of being dropped, and a single forwarding
// goroutine drains them in OS delivery order. The forwarding loop performs
// no allocation per delivery and never reorders deliveries; per-signal
// serialization (a handler not being re-entered by its own signal) follows
// from the loop being a single goroutine.
package dispatch

import (
	"os"
	"os/signal"
	"reflect"

	"golang.org/x/sys/unix"

	"sigcore.dev/sigcore/pkg/abi/posix"
	"sigcore.dev/sigcore/pkg/crash"
	"sigcore.dev/sigcore/pkg/log"
	"sigcore.dev/sigcore/pkg/policy"
)

// Sink consumes classified deliveries.
//
// Deliver is attempted first for every routed signal; returning false means
// no region is open, and the unprotected-state disposition applies: Defer
// coalesces the event, Fatal escalates to crash reporting. Fatal is expected
// not to return.
type Sink interface {
	Deliver(sig posix.Signal) bool
	Defer(sig posix.Signal)
	Fatal(sig posix.Signal)
}

// forwardSignals drains the per-signal channels and applies the state
// machine for each delivery.
//
// It starts when the start channel is closed, stops when the stop channel
// is closed, and closes done once it will no longer forward deliveries.
func forwardSignals(pol *policy.Policy, sink Sink, sigchans []chan os.Signal, start, stop, done chan struct{}) {
	// Build a select case.
	sc := []reflect.SelectCase{{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(start)}}
	for _, sigchan := range sigchans {
		sc = append(sc, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sigchan)})
	}

	started := false
	for {
		// Wait for a notification.
		index, _, ok := reflect.Select(sc)

		// Was it the start / stop channel?
		if index == 0 {
			if !ok {
				if !started {
					// start channel; start forwarding and
					// swap this case for the stop channel
					// to select stop requests.
					started = true
					sc[0] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(stop)}
				} else {
					// stop channel; stop forwarding and
					// clear this case so it is never
					// selected again.
					started = false
					close(done)
					sc[0].Chan = reflect.Value{}
				}
			}
			continue
		}

		// How about a different close?
		if !ok {
			panic("signal channel closed unexpectedly")
		}

		// Otherwise, it was a signal on channel N. Index 0 represents the
		// start/stop channel, so index N represents the channel for signal N.
		sig := posix.Signal(index)

		if !started {
			// The engine cannot receive signals, either because it
			// is not ready yet or is shutting down.
			//
			// Die if this signal would have killed the process
			// before forwarding was prepared; otherwise ignore it.
			switch sig {
			case posix.SIGHUP, posix.SIGINT, posix.SIGTERM:
				crash.Die(sig)
			default:
				continue
			}
		}

		if sink.Deliver(sig) {
			continue
		}
		switch pol.Disposition(sig) {
		case policy.Defer:
			sink.Defer(sig)
		case policy.Fatal:
			sink.Fatal(sig)
			// Fatal should not return; if it does, fall through to
			// default disposition so the event is not lost silently.
			crash.Die(sig)
		default:
			if log.IsLogging(log.Debug) {
				log.Debugf("Dropping ignored signal %v", sig)
			}
		}
	}
}

// PrepareForwarding subscribes to every signal the policy marks relevant and
// returns a callback that starts forwarding to sink, which itself returns a
// callback that stops forwarding.
//
// skipSignal reserves one signal for the process owner; 0 reserves none.
// After the stop callback, signals revert to the default Go runtime
// behavior.
func PrepareForwarding(pol *policy.Policy, sink Sink, skipSignal posix.Signal) func() func() {
	start := make(chan struct{})
	stop := make(chan struct{})
	done := make(chan struct{})

	// Register individual channels. One channel per standard signal is
	// required as signal.Notify() is non-blocking and may drop signals. To
	// avoid this, standard signals have to be queued separately. Channel
	// size 1 is enough for standard signals as their semantics allow
	// de-duplication.
	//
	// External real-time signals are not supported. We rely on the
	// go-runtime for their handling.
	relevant := pol.Relevant()
	var sigchans []chan os.Signal
	for sig := posix.Signal(posix.FirstStdSignal); sig <= posix.LastStdSignal+1; sig++ {
		sigchan := make(chan os.Signal, 1)
		sigchans = append(sigchans, sigchan)

		if sig == skipSignal || sig > posix.LastStdSignal || !relevant.Contains(sig) {
			continue
		}
		// SIGKILL and SIGSTOP cannot be caught; Notify would complain.
		// SIGURG is reserved by the runtime for async preemption, and
		// subscribing to it would turn routine preemption into
		// deliveries.
		if sig == posix.SIGKILL || sig == posix.SIGSTOP || sig == posix.SIGURG {
			continue
		}
		signal.Notify(sigchan, unix.Signal(sig))
	}
	go forwardSignals(pol, sink, sigchans, start, stop, done)

	return func() func() {
		close(start)
		return func() {
			close(stop)
			<-done
			for _, sigchan := range sigchans {
				signal.Stop(sigchan)
			}
		}
	}
}
