// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// An accountant tracks the accounted bytes of one allocator and enforces
// its limit. Accountants form the same tree as their allocators: bytes held
// locally beyond the accountant's reservation are also charged to the
// parent, recursively, so every ancestor's total covers its whole subtree.
//
// The counters are atomics and allocation takes no locks. An attempt first
// adds the requested size everywhere on the ancestor chain and only then
// checks the limits; a failed attempt is undone by walking the same chain
// back down. Concurrent allocations can therefore transiently observe each
// other's not-yet-rolled-back bytes and fail spuriously close to the limit,
// which is the intended trade against locking the whole chain.
type accountant struct {
	parent *accountant
	name   string

	// reservation is pre-accounted against the parent chain at
	// construction and held until close. Allocations within it never touch
	// the parent.
	reservation int64

	peakAllocation    atomic.Int64
	allocationLimit   atomic.Int64
	locallyHeldMemory atomic.Int64

	metrics *Metrics
}

// init establishes the accountant and pre-accounts its reservation against
// the parent chain. It returns an error only if the reservation could not
// be obtained; validation failures panic.
func (ac *accountant) init(
	parent *accountant, name string, reservation, maxAllocation int64, metrics *Metrics,
) error {
	if reservation < 0 {
		panic(errors.AssertionFailedf("the initial reservation size must be non-negative: %d", reservation))
	}
	if maxAllocation < 0 {
		panic(errors.AssertionFailedf("the maximum allocation limit must be non-negative: %d", maxAllocation))
	}
	if reservation > maxAllocation {
		panic(errors.AssertionFailedf(
			"the initial reservation size %d must be within the allocator limit %d",
			reservation, maxAllocation))
	}
	if reservation != 0 && parent == nil {
		panic(errors.AssertionFailedf("the root allocator cannot reserve memory"))
	}
	ac.parent = parent
	ac.name = name
	ac.reservation = reservation
	ac.allocationLimit.Store(maxAllocation)
	ac.metrics = metrics
	if reservation != 0 {
		outcome := parent.allocateBytes(reservation)
		if !outcome.Ok() {
			return errors.Wrapf(&OutOfMemoryError{
				Requested: reservation,
				Rounded:   reservation,
				Allocated: parent.allocatedMemory(),
				details:   outcome.details,
			}, "failed to pre-reserve %d bytes for allocator %q", reservation, name)
		}
	}
	return nil
}

// allocateBytes attempts to account size bytes against this accountant and
// its ancestors. A failed attempt leaves all counters as they were. The
// attempt is retried once with detail collection enabled so the caller can
// report which level refused; the retry can genuinely succeed if memory was
// released in between.
func (ac *accountant) allocateBytes(size int64) AllocationOutcome {
	status := ac.allocateBytesInternal(size, nil)
	if status.Ok() {
		return AllocationOutcome{status: status}
	}
	details := &OutcomeDetails{}
	status = ac.allocateBytesInternal(size, details)
	return AllocationOutcome{status: status, details: details}
}

func (ac *accountant) allocateBytesInternal(size int64, details *OutcomeDetails) AllocationStatus {
	status := ac.allocate(size, true /* incomingUpdatePeak */, false /* forceAllocation */, details)
	if !status.Ok() {
		// Undo the optimistic additions made on the way up.
		ac.releaseBytes(size)
	}
	return status
}

// forceAllocate accounts size bytes unconditionally. The return value
// reports whether the result still fits within every limit on the chain.
// Used when buffer ownership moves between allocators: the bytes must
// follow the buffer even into an allocator that is at its limit.
func (ac *accountant) forceAllocate(size int64) bool {
	return ac.allocate(size, true, true, nil) == StatusSuccess
}

// allocate adds size to the local count, charges the portion beyond the
// reservation to the parent, and then checks the limit. The caller must
// undo a failed attempt with releaseBytes. incomingUpdatePeak is cleared
// once a level has failed its limit so that peaks only ever reflect
// allocations that succeeded.
func (ac *accountant) allocate(
	size int64, incomingUpdatePeak, forceAllocation bool, details *OutcomeDetails,
) AllocationStatus {
	newLocal := ac.locallyHeldMemory.Add(size)
	if ac.metrics != nil {
		ac.metrics.CurBytes.Inc(size)
	}
	beyondReservation := newLocal - ac.reservation
	beyondLimit := newLocal > ac.allocationLimit.Load()
	updatePeak := forceAllocation || (incomingUpdatePeak && !beyondLimit)

	if details != nil {
		details.push(ac.name, ac.allocationLimit.Load(), newLocal-size, size,
			beyondLimit && !forceAllocation)
	}

	parentStatus := StatusSuccess
	if beyondReservation > 0 && ac.parent != nil {
		// The parent is only charged for the portion not already covered
		// by bytes held at this level before the request.
		parentRequest := min(beyondReservation, size)
		parentStatus = ac.parent.allocate(parentRequest, updatePeak, forceAllocation, details)
	}

	var status AllocationStatus
	switch {
	case beyondLimit && !forceAllocation:
		status = StatusFailedLocal
	case !parentStatus.Ok() && !forceAllocation:
		status = StatusFailedParent
	case beyondLimit || parentStatus == StatusForcedSuccess:
		status = StatusForcedSuccess
	default:
		status = StatusSuccess
	}
	if updatePeak {
		ac.updatePeak()
	}
	return status
}

// releaseBytes returns size bytes to this accountant and to the ancestors
// that were charged for them. The amounts released at each level mirror
// those taken by allocate.
func (ac *accountant) releaseBytes(size int64) {
	newSize := ac.locallyHeldMemory.Add(-size)
	if newSize < 0 {
		panic(errors.AssertionFailedf(
			"allocator %q accounted size went negative: released %d, now %d", ac.name, size, newSize))
	}
	if ac.metrics != nil {
		ac.metrics.CurBytes.Dec(size)
	}
	originalSize := newSize + size
	if originalSize > ac.reservation && ac.parent != nil {
		possibleToRelease := originalSize - ac.reservation
		ac.parent.releaseBytes(min(size, possibleToRelease))
	}
}

func (ac *accountant) updatePeak() {
	current := ac.locallyHeldMemory.Load()
	for {
		previous := ac.peakAllocation.Load()
		if current <= previous || ac.peakAllocation.CompareAndSwap(previous, current) {
			return
		}
	}
}

// close releases the reservation back to the parent. The caller is
// responsible for ensuring no other bytes remain accounted.
func (ac *accountant) close() {
	if ac.parent != nil && ac.reservation != 0 {
		ac.parent.releaseBytes(ac.reservation)
	}
}

func (ac *accountant) allocatedMemory() int64 {
	return ac.locallyHeldMemory.Load()
}

func (ac *accountant) peak() int64 {
	return ac.peakAllocation.Load()
}

func (ac *accountant) limit() int64 {
	return ac.allocationLimit.Load()
}

func (ac *accountant) setLimit(newLimit int64) {
	ac.allocationLimit.Store(newLimit)
}

// headroom returns the number of bytes that can still be allocated before
// some limit on the ancestor chain is hit. With concurrent activity the
// result is already stale when it returns.
func (ac *accountant) headroom() int64 {
	local := ac.limit() - ac.locallyHeldMemory.Load()
	if ac.parent == nil {
		return local
	}
	return min(local, ac.parent.headroom())
}
