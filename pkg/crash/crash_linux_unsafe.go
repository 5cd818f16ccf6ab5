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

package crash

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"sigcore.dev/sigcore/pkg/abi/posix"
)

// sigaction layout for rt_sigaction(2) with an 8-byte mask. The zero value
// carries SIG_DFL.
type sigaction struct {
	Handler  uintptr
	Flags    uint64
	Restorer uintptr
	Mask     uint64
}

const sigsetSize = 8

// restoreDefault reinstates SIG_DFL for sig and unblocks it, bypassing the
// runtime's handler table so the next delivery takes the OS default action.
// signal.Reset is not enough: the runtime keeps its own handler installed
// and simply swallows the signal, so the process would survive its own
// re-raise.
func restoreDefault(sig posix.Signal) error {
	var sa sigaction
	if _, _, e := unix.RawSyscall6(unix.SYS_RT_SIGACTION, uintptr(sig), uintptr(unsafe.Pointer(&sa)), 0, sigsetSize, 0, 0); e != 0 {
		return e
	}
	mask := uint64(1) << (uint(sig) - 1)
	if _, _, e := unix.RawSyscall6(unix.SYS_RT_SIGPROCMASK, uintptr(unix.SIG_UNBLOCK), uintptr(unsafe.Pointer(&mask)), 0, sigsetSize, 0, 0); e != 0 {
		return e
	}
	return nil
}
