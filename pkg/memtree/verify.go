// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/memtree/pkg/util/log"
	"github.com/cockroachdb/redact"
)

// Verify checks that the accounted total of this allocator, and of every
// allocator below it, is exactly explained by its owned buffers, unused
// reservations and children. An inconsistency means lost or double-counted
// bytes; Verify logs a diagnostic dump and panics. Outside debug mode it
// is a no-op.
//
// The walk never holds more than one lock at a time: each node's debug
// bookkeeping is snapshotted under its own mutex and reconciled against
// atomically read counters afterwards. Allocations may proceed
// concurrently; a node whose accounted total moves while it is being
// reconciled is skipped with a warning rather than reported as corrupt.
func (a *Allocator) Verify(ctx context.Context) {
	if a.debug == nil {
		return
	}
	// Tracks which allocator was seen owning each chunk, to catch a chunk
	// accounted twice in the tree.
	seen := make(map[*AllocationManager]*Allocator)
	a.verify(ctx, seen)
}

func (a *Allocator) verify(ctx context.Context, seen map[*AllocationManager]*Allocator) {
	allocated := a.acct.allocatedMemory()
	ledgers, reservations := a.debug.snapshot()
	children := a.ChildAllocators()

	var bufferTotal int64
	for _, l := range ledgers {
		if !l.isOwning() {
			continue
		}
		if other, ok := seen[l.am]; ok {
			panic(errors.AssertionFailedf(
				"buffer of size %d owned by allocator %q is already owned by allocator %q",
				l.am.size, a.name, other.name))
		}
		seen[l.am] = a
		bufferTotal += l.am.size
	}

	var reservedTotal int64
	for _, r := range reservations {
		r.mu.Lock()
		if !r.mu.used {
			reservedTotal += r.mu.nBytes
		}
		r.mu.Unlock()
	}

	// A child is accounted here for its reservation even while it uses
	// less than that.
	var childTotal int64
	for _, c := range children {
		childTotal += max(c.acct.allocatedMemory(), c.acct.reservation)
	}

	if bufferTotal+reservedTotal+childTotal != allocated {
		if again := a.acct.allocatedMemory(); again != allocated {
			log.Warningf(ctx, "allocator %s: accounting moved during verification (%d to %d), skipping",
				a.name, allocated, again)
		} else {
			a.verifyFailure(ctx, allocated, bufferTotal, reservedTotal, childTotal,
				ledgers, reservations, children)
		}
	}

	for _, c := range children {
		c.verify(ctx, seen)
	}
}

// verifyFailure logs everything known about the inconsistent allocator and
// panics.
func (a *Allocator) verifyFailure(
	ctx context.Context,
	allocated, bufferTotal, reservedTotal, childTotal int64,
	ledgers []*ledger,
	reservations []*Reservation,
	children []*Allocator,
) {
	var sb redact.StringBuilder
	sb.Printf("allocator[%s]: allocated %d, buffers %d + reservations %d + children %d = %d\n",
		a.name, allocated, bufferTotal, reservedTotal, childTotal,
		bufferTotal+reservedTotal+childTotal)
	for _, l := range ledgers {
		l.print(&sb, 1)
	}
	for _, r := range reservations {
		r.print(&sb, 1)
	}
	for _, c := range children {
		writeIndent(&sb, 1)
		sb.Printf("child allocator[%s] accounted here: %d\n",
			c.name, max(c.acct.allocatedMemory(), c.acct.reservation))
	}
	a.debug.hist.writeTo(&sb, 1)
	log.Errorf(ctx, "allocation accounting inconsistency:\n%s", sb.RedactableString())
	panic(errors.AssertionFailedf(
		"allocator %q: total accounted for (%d) does not match the allocator's total (%d)",
		a.name, bufferTotal+reservedTotal+childTotal, allocated))
}
