// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/memtree/pkg/util/buildutil"
	"github.com/cockroachdb/memtree/pkg/util/envutil"
	"github.com/cockroachdb/memtree/pkg/util/syncutil"
)

// debugAllocatorDefault is the default debug mode for new allocator trees.
// Test builds track everything; production trees opt in through the
// environment or WithDebug.
var debugAllocatorDefault = buildutil.CrdbTestBuild ||
	envutil.EnvOrDefaultBool("MEMTREE_DEBUG_ALLOCATOR", false)

// debugState carries the bookkeeping an allocator maintains only in debug
// mode: the ledgers and reservations currently associated with it, plus a
// bounded event history. A nil *debugState means debug mode is off for the
// tree.
//
// Lock ordering: debug.mu is a leaf. It is acquired with an
// AllocationManager's or Reservation's mutex already held, never the other
// way around.
type debugState struct {
	hist *historyLog

	mu struct {
		syncutil.Mutex
		ledgers      map[*ledger]struct{}
		reservations map[*Reservation]struct{}
	}
}

func newDebugState(name string) *debugState {
	d := &debugState{hist: newHistoryLog("allocator[%s]", name)}
	d.mu.ledgers = make(map[*ledger]struct{})
	d.mu.reservations = make(map[*Reservation]struct{})
	return d
}

// snapshot copies out the tracked ledgers and reservations so they can be
// examined without holding the mutex. Ledgers are ordered by chunk size to
// keep diagnostic dumps readable.
func (d *debugState) snapshot() (ledgers []*ledger, reservations []*Reservation) {
	d.mu.Lock()
	ledgers = make([]*ledger, 0, len(d.mu.ledgers))
	for l := range d.mu.ledgers {
		ledgers = append(ledgers, l)
	}
	reservations = make([]*Reservation, 0, len(d.mu.reservations))
	for r := range d.mu.reservations {
		reservations = append(reservations, r)
	}
	d.mu.Unlock()
	sort.Slice(ledgers, func(i, j int) bool { return ledgers[i].am.size < ledgers[j].am.size })
	return ledgers, reservations
}

func (a *Allocator) associateLedger(l *ledger) {
	if a.debug == nil {
		return
	}
	a.debug.mu.Lock()
	a.debug.mu.ledgers[l] = struct{}{}
	a.debug.mu.Unlock()
	a.debug.hist.record(1, "associated ledger[size=%d]", l.am.size)
}

func (a *Allocator) dissociateLedger(l *ledger) {
	if a.debug == nil {
		return
	}
	a.debug.mu.Lock()
	_, found := a.debug.mu.ledgers[l]
	delete(a.debug.mu.ledgers, l)
	a.debug.mu.Unlock()
	if !found {
		panic(errors.AssertionFailedf(
			"dissociating a ledger the allocator %q is not aware of", a.name))
	}
	a.debug.hist.record(1, "dissociated ledger[size=%d]", l.am.size)
}

func (a *Allocator) recordHistory(format string, args ...interface{}) {
	if a.debug != nil {
		a.debug.hist.record(1, format, args...)
	}
}
