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

//go:build unix && !linux

package timeout

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Degraded mode: no setitimer wrapper is exported here, so the alarm is a
// monotonic goroutine timer that raises a real SIGALRM at itself. Accuracy
// follows the Go timer granularity rather than the kernel's.
type itimer struct {
	stop chan struct{}
}

func (t *itimer) arm(d time.Duration, repeat bool) error {
	if err := t.disarm(); err != nil {
		return err
	}
	stop := make(chan struct{})
	t.stop = stop
	go func() {
		tick := time.NewTimer(d)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				unix.Kill(os.Getpid(), unix.SIGALRM)
				if !repeat {
					return
				}
				tick.Reset(d)
			}
		}
	}()
	return nil
}

func (t *itimer) disarm() error {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	return nil
}
