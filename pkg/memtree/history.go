// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/memtree/pkg/util/syncutil"
	"github.com/cockroachdb/memtree/pkg/util/timeutil"
	"github.com/cockroachdb/redact"
	"github.com/petermattis/goid"
)

// historyCapacity bounds the number of recent events retained per log. The
// first event is kept separately, so a dump always shows how an object came
// to exist even after the window has wrapped.
const historyCapacity = 6

// A historyLog records the lifecycle events of a debug-mode object. It
// exists to make close-time and verification failures diagnosable without
// unbounded memory use.
type historyLog struct {
	name string

	mu struct {
		syncutil.Mutex
		first  *historyEvent
		recent []historyEvent
		// next is the slot the next event overwrites once recent is full,
		// which makes it the index of the oldest retained event.
		next int
	}
}

type historyEvent struct {
	note      string
	ts        time.Time
	goroutine int64
	file      string
	line      int
}

func newHistoryLog(format string, args ...interface{}) *historyLog {
	return &historyLog{name: fmt.Sprintf(format, args...)}
}

// record appends an event. depth is the number of stack frames between the
// call site to attribute the event to and record's caller: 0 attributes it
// to the caller itself. A nil receiver ignores the event, so callers do not
// need to check whether debug mode is on.
func (h *historyLog) record(depth int, format string, args ...interface{}) {
	if h == nil {
		return
	}
	ev := historyEvent{
		note:      fmt.Sprintf(format, args...),
		ts:        timeutil.Now(),
		goroutine: goid.Get(),
	}
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		ev.file, ev.line = shortFile(file), line
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mu.first == nil {
		first := ev
		h.mu.first = &first
		return
	}
	if len(h.mu.recent) < historyCapacity {
		h.mu.recent = append(h.mu.recent, ev)
		return
	}
	h.mu.recent[h.mu.next] = ev
	h.mu.next = (h.mu.next + 1) % historyCapacity
}

// writeTo renders the history, one event per line, indented by the given
// level. Every line is newline-terminated.
func (h *historyLog) writeTo(sb *redact.StringBuilder, indent int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	writeIndent(sb, indent)
	sb.Printf("event log for: %s\n", h.name)
	if h.mu.first == nil {
		return
	}
	writeEvent(sb, indent+1, *h.mu.first)
	if len(h.mu.recent) == historyCapacity {
		for i := 0; i < historyCapacity; i++ {
			writeEvent(sb, indent+1, h.mu.recent[(h.mu.next+i)%historyCapacity])
		}
	} else {
		for _, ev := range h.mu.recent {
			writeEvent(sb, indent+1, ev)
		}
	}
}

func writeEvent(sb *redact.StringBuilder, indent int, ev historyEvent) {
	writeIndent(sb, indent)
	sb.Printf("%s g%d %s:%d %s\n",
		redact.SafeString(ev.ts.Format("15:04:05.000000")), ev.goroutine, ev.file, ev.line, ev.note)
}

func writeIndent(sb *redact.StringBuilder, level int) {
	for i := 0; i < level; i++ {
		sb.SafeString("  ")
	}
}

// shortFile trims a source path down to its last two components.
func shortFile(file string) string {
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
			return file[j+1:]
		}
	}
	return file
}
