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

//go:build unix

// Package memutil provides utilities for working with memory mappings.
package memutil

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapAnon maps a private anonymous region of the given size and protection
// and returns its base address.
func MapAnon(size uintptr, prot int) (uintptr, error) {
	addr, _, errno := unix.RawSyscall6(
		unix.SYS_MMAP,
		0,
		size,
		uintptr(prot),
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
		^uintptr(0), // fd
		0)
	if errno != 0 {
		return 0, errno
	}
	return addr, nil
}

// MapSlice is like MapAnon, but returns a slice instead of a uintptr.
func MapSlice(size uintptr, prot int) ([]byte, error) {
	addr, err := MapAnon(size, prot)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size)), nil
}

// UnmapSlice unmaps a mapping returned by MapSlice.
func UnmapSlice(slice []byte) error {
	ptr := unsafe.SliceData(slice)
	_, _, errno := unix.RawSyscall6(unix.SYS_MUNMAP, uintptr(unsafe.Pointer(ptr)), uintptr(cap(slice)), 0, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Protect changes the protection of the pages covering slice.
func Protect(slice []byte, prot int) error {
	ptr := unsafe.SliceData(slice)
	_, _, errno := unix.RawSyscall6(unix.SYS_MPROTECT, uintptr(unsafe.Pointer(ptr)), uintptr(cap(slice)), uintptr(prot), 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Base returns the base address of slice.
func Base(slice []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(slice)))
}
