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

package crash

import (
	"os/signal"

	"golang.org/x/sys/unix"

	"sigcore.dev/sigcore/pkg/abi/posix"
)

// Degraded mode: no raw sigaction access here, so the runtime-level reset is
// the best available; Die's exit fallback covers a swallowed re-raise.
func restoreDefault(sig posix.Signal) error {
	signal.Reset(unix.Signal(sig))
	return nil
}
