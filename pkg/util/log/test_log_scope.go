// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"io"
)

// TB is the minimal subset of testing.TB needed by Scope. Using an interface
// here keeps the testing package out of non-test binaries.
type TB interface {
	Helper()
	Failed() bool
	Logf(format string, args ...interface{})
}

// TestLogScope captures the log output of a test. Log entries emitted while
// the scope is open are buffered instead of written to stderr; they are
// replayed through t.Logf if the test fails.
type TestLogScope struct {
	prev io.Writer
	buf  *bytes.Buffer
}

// Scope redirects log output to a buffer for the duration of a test. Use:
//
//	defer log.Scope(t).Close(t)
func Scope(t TB) *TestLogScope {
	t.Helper()
	s := &TestLogScope{buf: &bytes.Buffer{}}
	s.prev = setOutput(s.buf)
	return s
}

// Contents returns everything captured so far.
func (s *TestLogScope) Contents() string {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	return s.buf.String()
}

// Close restores the previous log output. If the test has failed, the
// captured output is attached to the test log.
func (s *TestLogScope) Close(t TB) {
	t.Helper()
	setOutput(s.prev)
	if t.Failed() && s.buf.Len() > 0 {
		t.Logf("captured log output:\n%s", s.buf.String())
	}
}
