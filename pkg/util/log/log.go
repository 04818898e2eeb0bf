// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log provides a small leveled, redaction-aware logging facility.
//
// Log entries carry a severity, a timestamp, the goroutine ID, the caller's
// file and line, and the logtags attached to the context. Output goes to
// stderr by default; tests route it through a TestLogScope.
package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/memtree/pkg/util/syncutil"
	"github.com/cockroachdb/memtree/pkg/util/timeutil"
	"github.com/cockroachdb/redact"
	"github.com/petermattis/goid"
)

type severity int32

const (
	severityInfo severity = iota
	severityWarning
	severityError
)

// char returns the single letter that identifies the severity in the
// entry header.
func (s severity) char() byte {
	switch s {
	case severityInfo:
		return 'I'
	case severityWarning:
		return 'W'
	case severityError:
		return 'E'
	}
	return '?'
}

// OrigStderr points to the process' original stderr stream.
var OrigStderr = os.Stderr

var logging struct {
	mu struct {
		syncutil.Mutex
		w io.Writer
	}
}

func init() {
	logging.mu.w = OrigStderr
}

// setOutput replaces the current output writer and returns the previous one.
// A nil writer resets output to the original stderr.
func setOutput(w io.Writer) (prev io.Writer) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev = logging.mu.w
	if w == nil {
		w = OrigStderr
	}
	logging.mu.w = w
	return prev
}

// Infof logs to the INFO level. Arguments are handled in the manner of
// redact.Sprintf; a newline is appended if missing.
func Infof(ctx context.Context, format string, args ...interface{}) {
	outputf(ctx, severityInfo, format, args...)
}

// Warningf logs to the WARNING level.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	outputf(ctx, severityWarning, format, args...)
}

// Errorf logs to the ERROR level.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	outputf(ctx, severityError, format, args...)
}

func outputf(ctx context.Context, sev severity, format string, args ...interface{}) {
	msg := redact.Sprintf(format, args...)
	file, line := caller(3)

	var buf bytes.Buffer
	logging.mu.Lock()
	defer logging.mu.Unlock()

	profile := stderrColorProfile
	if logging.mu.w != io.Writer(OrigStderr) {
		// Color codes would garble captured output.
		profile = nil
	}
	writeHeader(&buf, profile, sev, file, line)
	if tags := logtags.FromContext(ctx); tags != nil {
		fmt.Fprintf(&buf, "[%s] ", tags.String())
	} else {
		buf.WriteString("[-] ")
	}
	buf.WriteString(string(msg.StripMarkers()))
	if b := buf.Bytes(); len(b) == 0 || b[len(b)-1] != '\n' {
		buf.WriteByte('\n')
	}
	_, _ = logging.mu.w.Write(buf.Bytes())
}

// writeHeader renders "I250823 10:11:12.131415 42 file.go:123 " with
// optional terminal colors around the severity and time sections.
func writeHeader(buf *bytes.Buffer, profile *colorProfile, sev severity, file string, line int) {
	if profile != nil {
		switch sev {
		case severityInfo:
			buf.Write(profile.infoPrefix)
		case severityWarning:
			buf.Write(profile.warnPrefix)
		case severityError:
			buf.Write(profile.errorPrefix)
		}
	}
	buf.WriteByte(sev.char())
	if profile != nil {
		buf.Write(colorReset)
		buf.Write(profile.timePrefix)
	}
	buf.WriteString(timeutil.Now().Format("060102 15:04:05.000000"))
	if profile != nil {
		buf.Write(colorReset)
	}
	fmt.Fprintf(buf, " %d %s:%d ", goid.Get(), file, line)
}

// caller returns the file and line of the logging call site, with the file
// path trimmed to its last two components.
func caller(depth int) (string, int) {
	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		return "???", 1
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
			file = file[j+1:]
		}
	}
	return file, line
}
