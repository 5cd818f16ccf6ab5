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

package sigwait

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"sigcore.dev/sigcore/pkg/abi/posix"
	"sigcore.dev/sigcore/pkg/region"
)

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestTimedOut(t *testing.T) {
	r, _ := pipe(t)

	start := time.Now()
	res, ready, err := Wait(nil, []int{r}, nil, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res != TimedOut {
		t.Errorf("result got %v, want timed-out", res)
	}
	if len(ready.Read)+len(ready.Write) != 0 {
		t.Errorf("ready set not empty: %+v", ready)
	}
	// Bounded margin: well under a second for a 10ms timeout.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("10ms wait took %v", elapsed)
	}
}

func TestReady(t *testing.T) {
	r, w := pipe(t)
	if _, err := unix.Write(w, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, ready, err := Wait(nil, []int{r}, nil, time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res != Ready {
		t.Fatalf("result got %v, want ready", res)
	}
	if diff := cmp.Diff(ReadySet{Read: []int{r}}, ready); diff != "" {
		t.Errorf("ready set mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteReady(t *testing.T) {
	_, w := pipe(t)

	res, ready, err := Wait(nil, nil, []int{w}, time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res != Ready {
		t.Fatalf("result got %v, want ready", res)
	}
	if diff := cmp.Diff(ReadySet{Write: []int{w}}, ready); diff != "" {
		t.Errorf("ready set mismatch (-want +got):\n%s", diff)
	}
}

func TestPendingShortCircuits(t *testing.T) {
	r, _ := pipe(t)
	th := region.NewThread(0)
	th.SetPending(posix.SIGINT)

	start := time.Now()
	res, _, err := Wait(th, []int{r}, nil, time.Hour)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res != Interrupted {
		t.Errorf("result got %v, want interrupted", res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("pending short-circuit blocked for %v", elapsed)
	}
	// The event stays pending for the next region.
	if !th.PendingAny() {
		t.Errorf("pending event consumed by Wait")
	}
}
