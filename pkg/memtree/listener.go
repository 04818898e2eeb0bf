// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

// An AllocationListener is notified of the allocation activity of an
// allocator. Listeners are configured on the root and inherited by every
// child created below it; each allocator notifies its own listener, so a
// shared listener observes events from the whole tree.
//
// Implementations must be safe for concurrent use and must not call back
// into the allocator from OnPreAllocation or OnFailedAllocation.
type AllocationListener interface {
	// OnPreAllocation is called before an allocation is accounted. The size
	// is the rounded size that will be requested.
	OnPreAllocation(size int64)

	// OnAllocation is called after an allocation has been accounted and its
	// buffer created.
	OnAllocation(size int64)

	// OnFailedAllocation is called when an allocation attempt was refused
	// by a limit. Returning true asks the allocator to retry the attempt
	// once, giving the listener a chance to release memory held elsewhere
	// first.
	OnFailedAllocation(size int64, outcome AllocationOutcome) bool

	// OnChildAdded is called after a child allocator has been created.
	OnChildAdded(parent, child *Allocator)

	// OnChildRemoved is called when a child allocator is being closed.
	OnChildRemoved(parent, child *Allocator)
}

// NoopListener ignores all allocation events.
var NoopListener AllocationListener = noopListener{}

type noopListener struct{}

func (noopListener) OnPreAllocation(int64) {}

func (noopListener) OnAllocation(int64) {}

func (noopListener) OnFailedAllocation(int64, AllocationOutcome) bool { return false }

func (noopListener) OnChildAdded(*Allocator, *Allocator) {}

func (noopListener) OnChildRemoved(*Allocator, *Allocator) {}
