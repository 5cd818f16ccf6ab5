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

package sigwait

import (
	"time"

	"golang.org/x/sys/unix"
)

// wait multiplexes with ppoll(2). The empty sigmask argument atomically
// unblocks all signals for the duration of the syscall, so a deferrable
// signal arriving at any point during the wait, including the instant just
// before blocking, wakes it with EINTR rather than being missed.
func wait(read, write []int, timeout time.Duration) (Result, ReadySet, error) {
	pfds := make([]unix.PollFd, 0, len(read)+len(write))
	for _, fd := range read {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	for _, fd := range write {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT})
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	var mask unix.Sigset_t

	n, err := ppoll(pfds, ts, &mask)
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
	for _, pfd := range pfds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 && pfd.Events&unix.POLLIN != 0 {
			ready.Read = append(ready.Read, int(pfd.Fd))
		}
		if pfd.Revents&(unix.POLLOUT|unix.POLLERR) != 0 && pfd.Events&unix.POLLOUT != 0 {
			ready.Write = append(ready.Write, int(pfd.Fd))
		}
	}
	return Ready, ready, nil
}
