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

package log

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, &testError{}
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

type testError struct{}

func (e *testError) Error() string {
	return "simulated write failure"
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if w.errors != 1 {
		t.Fatalf("expected 1 dropped message, got %d", w.errors)
	}
}

func TestLevels(t *testing.T) {
	tw := &testWriter{}
	logger := BasicLogger{Level: Info, Emitter: TextEmitter{&Writer{Next: tw}}}

	logger.Debugf("should be dropped")
	if len(tw.lines) != 0 {
		t.Errorf("debug line emitted at info level: %q", tw.lines)
	}

	logger.Infof("should be emitted")
	logger.Warningf("should be emitted")
	if len(tw.lines) != 2 {
		t.Errorf("got %d lines, want 2", len(tw.lines))
	}

	logger.SetLevel(Debug)
	logger.Debugf("should be emitted now")
	if len(tw.lines) != 3 {
		t.Errorf("got %d lines, want 3", len(tw.lines))
	}
}

func TestRateLimited(t *testing.T) {
	tw := &testWriter{}
	logger := RateLimitedLogger(&BasicLogger{Level: Info, Emitter: TextEmitter{&Writer{Next: tw}}}, time.Hour)

	for i := 0; i < 10; i++ {
		logger.Infof("line %d", i)
	}
	if len(tw.lines) != 1 {
		t.Errorf("got %d lines, want 1", len(tw.lines))
	}
}

func TestJSONEmit(t *testing.T) {
	tw := &testWriter{}
	logger := BasicLogger{Level: Info, Emitter: JSONEmitter{&Writer{Next: tw}}}
	logger.Infof("hello %s", "world")

	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(tw.lines))
	}
	var record jsonLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &record); err != nil {
		t.Fatalf("unmarshal %q: %v", tw.lines[0], err)
	}
	if !strings.Contains(record.Msg, "hello world") {
		t.Errorf("msg %q does not contain message", record.Msg)
	}
	if record.Level != Info {
		t.Errorf("got level %v, want %v", record.Level, Info)
	}
}
