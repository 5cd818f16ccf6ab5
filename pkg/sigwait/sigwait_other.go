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

package sigwait

import (
	"time"

	"golang.org/x/sys/unix"
)

// Degraded mode: select(2) without an atomic mask swap. The pending
// short-circuit in Wait still holds; only the narrow arrive-just-before-
// blocking race is unclosed on these platforms.
func wait(read, write []int, timeout time.Duration) (Result, ReadySet, error) {
	var rset, wset unix.FdSet
	nfds := 0
	for _, fd := range read {
		rset.Set(fd)
		if fd >= nfds {
			nfds = fd + 1
		}
	}
	for _, fd := range write {
		wset.Set(fd)
		if fd >= nfds {
			nfds = fd + 1
		}
	}

	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	n, err := unix.Select(nfds, &rset, &wset, nil, tv)
	if err == unix.EINTR {
		return Interrupted, ReadySet{}, nil
	}
	if err != nil {
		return TimedOut, ReadySet{}, err
	}
	if n == 0 {
		return TimedOut, ReadySet{}, nil
	}

	var ready ReadySet
	for _, fd := range read {
		if rset.IsSet(fd) {
			ready.Read = append(ready.Read, fd)
		}
	}
	for _, fd := range write {
		if wset.IsSet(fd) {
			ready.Write = append(ready.Write, fd)
		}
	}
	return Ready, ready, nil
}
