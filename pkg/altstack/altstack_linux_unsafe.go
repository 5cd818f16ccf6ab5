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

package altstack

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"sigcore.dev/sigcore/pkg/abi/posix"
)

// sigaction layout for rt_sigaction(2) with an 8-byte mask.
type sigaction struct {
	Handler  uintptr
	Flags    uint64
	Restorer uintptr
	Mask     uint64
}

const sigsetSize = 8

// SA_ONSTACK, from uapi/asm-generic/signal.h.
const saOnStack = 0x08000000

// EnsureOnStack sets the SA_ONSTACK flag on the installed handler for sig
// without replacing the handler itself, so the fault signal is delivered on
// the alternate stack even when the faulting thread's own stack is exhausted.
func EnsureOnStack(sig posix.Signal) error {
	var sa sigaction

	// Get the existing signal handler information, and set the flag.
	if _, _, e := unix.RawSyscall6(unix.SYS_RT_SIGACTION, uintptr(sig), 0, uintptr(unsafe.Pointer(&sa)), sigsetSize, 0, 0); e != 0 {
		return fmt.Errorf("reading sigaction for %v: %w", sig, e)
	}
	if sa.Flags&saOnStack != 0 {
		return nil
	}
	sa.Flags |= saOnStack
	if _, _, e := unix.RawSyscall6(unix.SYS_RT_SIGACTION, uintptr(sig), uintptr(unsafe.Pointer(&sa)), 0, sigsetSize, 0, 0); e != 0 {
		return fmt.Errorf("writing sigaction for %v: %w", sig, e)
	}
	return nil
}
