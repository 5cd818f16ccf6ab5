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

package posix

import "testing"

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Signal
	}{
		{"SIGINT", SIGINT},
		{"INT", SIGINT},
		{"int", SIGINT},
		{"9", SIGKILL},
		{"usr1", SIGUSR1},
	} {
		got, err := Parse(tc.in)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}

	for _, in := range []string{"", "SIGNOPE", "0", "65", "-1"} {
		if got, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): got %v, want error", in, got)
		}
	}
}

func TestSignalSet(t *testing.T) {
	set := MakeSignalSet(SIGINT, SIGTERM)
	if !set.Contains(SIGINT) || !set.Contains(SIGTERM) {
		t.Errorf("set %x missing members", uint64(set))
	}
	if set.Contains(SIGHUP) {
		t.Errorf("set %x contains SIGHUP", uint64(set))
	}

	var got []Signal
	ForEachSignal(set, func(sig Signal) {
		got = append(got, sig)
	})
	if len(got) != 2 || got[0] != SIGINT || got[1] != SIGTERM {
		t.Errorf("ForEachSignal: got %v, want [SIGINT SIGTERM]", got)
	}
}
