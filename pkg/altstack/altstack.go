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

// Package altstack manages alternate-stack signal delivery and the guard
// regions used to classify faulting addresses as stack overflow.
//
// The Go runtime installs a per-thread alternate signal stack on every OS
// thread it creates, so this package never re-registers one (replacing the
// runtime's gsignal stack corrupts ordinary signal delivery). Its job is the
// part the runtime does not do: ensuring fault-signal handlers carry
// SA_ONSTACK so they still run when a thread's stack is exhausted, and
// keeping a fixed anonymous mapping with a PROT_NONE guard page whose
// registered bands classify a faulting address as stack overflow rather
// than a generic memory fault. The mapping is allocated once at
// initialization, lives for the process lifetime, and is released only at
// teardown.
package altstack

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"sigcore.dev/sigcore/pkg/memutil"
)

// DefaultSize is the usable alternate stack size, sized generously beyond a
// single handler invocation's needs.
const DefaultSize = 64 << 10

// guard is one address band just beyond a stack's bounds. A fault landing in
// a guard band is classified as stack overflow rather than a generic memory
// fault.
type guard struct {
	lo, hi uintptr
}

// Stack is the guard arena consulted for overflow classification.
type Stack struct {
	// mem is the whole mapping, guard page included.
	mem []byte

	// guardPage is the PROT_NONE page at the low end of mem.
	guardPage []byte

	mu     sync.RWMutex
	guards []guard
}

// New maps the guard arena with the given usable size (0 selects
// DefaultSize). Failure here is a fatal initialization error for the engine;
// no protected region may be entered without it.
func New(size uintptr) (*Stack, error) {
	if size == 0 {
		size = DefaultSize
	}
	pageSize := uintptr(os.Getpagesize())
	size = (size + pageSize - 1) &^ (pageSize - 1)

	mem, err := memutil.MapSlice(size+pageSize, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return nil, fmt.Errorf("mapping alternate stack: %w", err)
	}
	s := &Stack{
		mem:       mem,
		guardPage: mem[:pageSize],
	}
	if err := memutil.Protect(s.guardPage, unix.PROT_NONE); err != nil {
		memutil.UnmapSlice(mem)
		return nil, fmt.Errorf("protecting alternate stack guard page: %w", err)
	}

	lo, hi := s.guardBounds()
	s.RegisterGuard(lo, hi)
	return s, nil
}

// Release unmaps the guard arena. Only called at process teardown; faults
// are no longer classified afterwards.
func (s *Stack) Release() error {
	mem := s.mem
	s.mem = nil
	s.guardPage = nil
	return memutil.UnmapSlice(mem)
}

// Bounds returns the usable stack region, guard page excluded.
func (s *Stack) Bounds() (lo, hi uintptr) {
	base := memutil.Base(s.mem)
	return base + uintptr(len(s.guardPage)), base + uintptr(len(s.mem))
}

// Size returns the usable stack size.
func (s *Stack) Size() uintptr {
	lo, hi := s.Bounds()
	return hi - lo
}

func (s *Stack) guardBounds() (lo, hi uintptr) {
	base := memutil.Base(s.mem)
	return base, base + uintptr(len(s.guardPage))
}

// RegisterGuard adds [lo, hi) to the set of guard bands consulted by
// IsStackOverflow. Callers register the bands flanking any stacks whose
// exhaustion they want distinguished from generic faults.
func (s *Stack) RegisterGuard(lo, hi uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guards = append(s.guards, guard{lo: lo, hi: hi})
}

// IsStackOverflow reports whether addr falls within a registered guard band.
func (s *Stack) IsStackOverflow(addr uintptr) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.guards {
		if addr >= g.lo && addr < g.hi {
			return true
		}
	}
	return false
}
