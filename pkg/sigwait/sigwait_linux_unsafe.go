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
	"unsafe"

	"golang.org/x/sys/unix"
)

const sigsetSize = 8

// ppoll issues the syscall directly. The kernel rejects a non-NULL sigmask
// unless the true sigset size accompanies it, which the wrapped version does
// not pass.
func ppoll(pfds []unix.PollFd, ts *unix.Timespec, mask *unix.Sigset_t) (int, error) {
	var p unsafe.Pointer
	if len(pfds) > 0 {
		p = unsafe.Pointer(&pfds[0])
	}
	n, _, e := unix.Syscall6(
		unix.SYS_PPOLL,
		uintptr(p),
		uintptr(len(pfds)),
		uintptr(unsafe.Pointer(ts)),
		uintptr(unsafe.Pointer(mask)),
		sigsetSize,
		0)
	if e != 0 {
		return 0, e
	}
	return int(n), nil
}
