// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/memtree/pkg/util/syncutil"
	"github.com/cockroachdb/redact"
)

// A Reservation accumulates accounted memory ahead of use so that a later
// allocation cannot fail. Add reserves in rounded increments;
// AllocateBuffer converts the entire reserved amount into one buffer.
// Reservations are single-use: after AllocateBuffer the reservation cannot
// grow, and Close releases whatever was reserved but never allocated.
// Every reservation must be closed.
type Reservation struct {
	a *Allocator

	// hist is nil unless the tree runs in debug mode.
	hist *historyLog

	mu struct {
		syncutil.Mutex
		nBytes int64
		used   bool
		closed bool
	}
}

// NewReservation creates an empty reservation against this allocator.
func (a *Allocator) NewReservation() *Reservation {
	a.assertOpen()
	r := &Reservation{a: a}
	if a.debug != nil {
		r.hist = newHistoryLog("reservation[allocator=%s]", a.name)
		r.hist.record(1, "created")
		a.debug.mu.Lock()
		a.debug.mu.reservations[r] = struct{}{}
		a.debug.mu.Unlock()
	}
	return r
}

// Add grows the reservation by nBytes rounded up to the next power of two.
// Each addition is rounded individually. If the rounded amount cannot be
// accounted, Add returns false and the reservation is unchanged. Growing a
// used or closed reservation panics.
func (r *Reservation) Add(ctx context.Context, nBytes int64) bool {
	r.a.assertOpen()
	if nBytes < 0 {
		panic(errors.AssertionFailedf("the reserved size must be non-negative: %d", nBytes))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.closed {
		panic(errors.AssertionFailedf("attempt to increase a reservation after it has been closed"))
	}
	if r.mu.used {
		panic(errors.AssertionFailedf("attempt to increase a reservation after it has been used"))
	}
	rounded := NextPowerOfTwo(nBytes)
	if !r.reserveLocked(ctx, rounded) {
		return false
	}
	r.mu.nBytes += rounded
	return true
}

func (r *Reservation) reserveLocked(ctx context.Context, nBytes int64) bool {
	outcome := r.a.acct.allocateBytes(nBytes)
	r.hist.record(1, "reserve(%d) => %t", nBytes, outcome.Ok())
	if outcome.Ok() {
		r.a.maybeLogNoteworthy(ctx, nBytes)
		return true
	}
	if m := r.a.cfg.metrics; m != nil {
		m.Failures.Inc(1)
	}
	return false
}

// AllocateBuffer turns the reservation into a buffer of exactly the
// reserved size. The memory is already accounted, so this cannot fail for
// lack of memory. The reservation is marked used and must still be closed.
// Allocating twice, or from a closed reservation, panics.
func (r *Reservation) AllocateBuffer() *Buf {
	r.a.assertOpen()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.closed {
		panic(errors.AssertionFailedf("attempt to allocate after the reservation was closed"))
	}
	if r.mu.used {
		panic(errors.AssertionFailedf("attempt to allocate a reservation more than once"))
	}
	buf := r.allocateLocked(r.mu.nBytes)
	r.mu.used = true
	return buf
}

// allocateLocked creates the buffer for nBytes that are already accounted.
// On a panic out of the factory the accounting is handed back.
func (r *Reservation) allocateLocked(nBytes int64) *Buf {
	success := false
	defer func() {
		if !success {
			r.a.acct.releaseBytes(nBytes)
		}
	}()
	buf := r.a.bufferWithoutReservation(nBytes, nil)
	success = true
	r.a.cfg.listener.OnAllocation(nBytes)
	r.hist.record(1, "allocate() => buf[size=%d]", nBytes)
	return buf
}

// Close releases the reservation if it was never allocated. Closing twice
// is a no-op.
func (r *Reservation) Close() {
	r.a.assertOpen()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.closed {
		return
	}
	if r.a.debug != nil {
		r.a.debug.mu.Lock()
		_, found := r.a.debug.mu.reservations[r]
		delete(r.a.debug.mu.reservations, r)
		r.a.debug.mu.Unlock()
		if !found {
			panic(errors.AssertionFailedf(
				"closing a reservation the allocator %q is not aware of", r.a.name))
		}
	}
	r.mu.closed = true
	if !r.mu.used && r.mu.nBytes > 0 {
		r.a.acct.releaseBytes(r.mu.nBytes)
		r.hist.record(1, "releaseReservation(%d)", r.mu.nBytes)
	}
	r.hist.record(1, "closed")
}

// Size returns the reserved (rounded) byte total.
func (r *Reservation) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.nBytes
}

// IsUsed reports whether AllocateBuffer has been called.
func (r *Reservation) IsUsed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.used
}

// IsClosed reports whether the reservation has been closed.
func (r *Reservation) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.closed
}

func (r *Reservation) print(sb *redact.StringBuilder, indent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	writeIndent(sb, indent)
	sb.Printf("reservation[size=%d used=%t closed=%t]\n", r.mu.nBytes, r.mu.used, r.mu.closed)
}
