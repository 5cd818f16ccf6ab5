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

//go:build linux

package timeout

import (
	"time"

	"golang.org/x/sys/unix"
)

// itimer drives the kernel's ITIMER_REAL, which delivers a real SIGALRM to
// the process when it expires.
type itimer struct{}

func (itimer) arm(d time.Duration, repeat bool) error {
	it := unix.Itimerval{
		Value: unix.NsecToTimeval(d.Nanoseconds()),
	}
	if repeat {
		it.Interval = unix.NsecToTimeval(d.Nanoseconds())
	}
	_, err := unix.Setitimer(unix.ITIMER_REAL, it)
	return err
}

func (itimer) disarm() error {
	_, err := unix.Setitimer(unix.ITIMER_REAL, unix.Itimerval{})
	return err
}
