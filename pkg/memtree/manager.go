// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/memtree/pkg/util/syncutil"
	"github.com/cockroachdb/redact"
)

// alignment is the byte alignment of buffer backing memory. Columnar
// kernels assume it when they vectorize over buffer contents.
const alignment = 64

// A RawAllocator provides the backing memory for allocation managers.
// Implementations return slices with len == cap == size, aligned to
// alignment bytes.
type RawAllocator interface {
	Allocate(size int64) []byte
	Free(buf []byte)
}

// GoRawAllocator allocates backing memory on the Go heap.
type GoRawAllocator struct{}

var _ RawAllocator = GoRawAllocator{}

// Allocate returns a zeroed, 64-byte-aligned slice of the given length.
func (GoRawAllocator) Allocate(size int64) []byte {
	buf := make([]byte, size+alignment)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	if shift := int64(alignment - addr%alignment); shift != alignment {
		return buf[shift : size+shift : size+shift]
	}
	return buf[:size:size]
}

// Free lets the garbage collector reclaim the memory once all slices into
// it are gone. It exists so that pooling implementations have a hook.
func (GoRawAllocator) Free([]byte) {}

// An AllocationManagerFactory creates the AllocationManager backing each
// buffer allocation. Substituting a factory is how tests and embedders
// plug in pooled or foreign memory.
type AllocationManagerFactory interface {
	NewAllocationManager(owner *Allocator, size int64) *AllocationManager
}

// GoAllocationManagerFactory is the default factory; it obtains memory
// from GoRawAllocator.
var GoAllocationManagerFactory AllocationManagerFactory = goManagerFactory{}

type goManagerFactory struct{}

func (goManagerFactory) NewAllocationManager(owner *Allocator, size int64) *AllocationManager {
	return NewAllocationManager(owner, size, GoRawAllocator{})
}

// An AllocationManager owns one chunk of backing memory and tracks, per
// allocator, the references held on it. At any moment exactly one of the
// associated allocators is the owner and has the chunk accounted against
// it; when the owner's last reference goes away ownership moves to another
// associated allocator, and when the overall last reference goes away the
// chunk is freed and un-accounted.
type AllocationManager struct {
	root  *Allocator
	size  int64
	chunk []byte
	raw   RawAllocator

	mu struct {
		syncutil.Mutex
		ledgers map[*Allocator]*ledger
		owning  *ledger
	}
}

// NewAllocationManager allocates a chunk of the given size from raw, owned
// and accounted by owner. The caller must have accounted size bytes
// against owner already.
func NewAllocationManager(owner *Allocator, size int64, raw RawAllocator) *AllocationManager {
	if size < 0 {
		panic(errors.AssertionFailedf("the chunk size must be non-negative: %d", size))
	}
	am := &AllocationManager{root: owner.root, size: size, raw: raw}
	am.chunk = raw.Allocate(size)
	if int64(len(am.chunk)) != size {
		panic(errors.AssertionFailedf(
			"the raw allocator returned %d bytes instead of %d", len(am.chunk), size))
	}
	am.mu.ledgers = make(map[*Allocator]*ledger)
	// The owner's ledger starts with zero references; the first buffer
	// handle acquires one through associate.
	l := &ledger{am: am, owner: owner}
	am.mu.ledgers[owner] = l
	am.mu.owning = l
	owner.associateLedger(l)
	return am
}

// Size returns the chunk size in bytes.
func (am *AllocationManager) Size() int64 {
	return am.size
}

// associate returns a's ledger for this chunk, creating one if a had none,
// and acquires one reference on it. a must belong to the same tree as the
// chunk.
func (am *AllocationManager) associate(a *Allocator) *ledger {
	a.assertOpen()
	if a.root != am.root {
		panic(errors.AssertionFailedf(
			"a buffer can only be associated with allocators of the same tree"))
	}
	am.mu.Lock()
	defer am.mu.Unlock()
	l, ok := am.mu.ledgers[a]
	if !ok {
		l = &ledger{am: am, owner: a}
		am.mu.ledgers[a] = l
		a.associateLedger(l)
	}
	l.ref.Add(1)
	return l
}

// ledgerReleased runs after a ledger's reference count has reached zero. It
// detaches the ledger and, if it owned the chunk, hands the accounting to
// another associated allocator or frees the chunk.
func (am *AllocationManager) ledgerReleased(l *ledger) {
	am.mu.Lock()
	defer am.mu.Unlock()
	if l.ref.Load() != 0 {
		// Re-associated between the final release and this call; the
		// ledger is live again.
		return
	}
	delete(am.mu.ledgers, l.owner)
	l.owner.dissociateLedger(l)
	if am.mu.owning != l {
		return
	}
	for _, next := range am.mu.ledgers {
		am.transferBalanceLocked(next)
		return
	}
	am.mu.owning = nil
	l.owner.acct.releaseBytes(am.size)
	am.raw.Free(am.chunk)
	am.chunk = nil
}

// transferBalanceLocked moves the chunk's accounting from the current
// owning allocator to target's allocator. It returns true if the bytes fit
// within every limit on target's ancestor chain; the transfer happens
// regardless of fit.
func (am *AllocationManager) transferBalanceLocked(target *ledger) bool {
	am.mu.AssertHeld()
	from := am.mu.owning
	if from == target {
		return true
	}
	fit := target.owner.acct.forceAllocate(am.size)
	from.owner.acct.releaseBytes(am.size)
	am.mu.owning = target
	return fit
}

// A ledger tracks one allocator's references to one chunk. References
// count buffer handles; when the count drops to zero the association with
// the allocator is dropped.
type ledger struct {
	am    *AllocationManager
	owner *Allocator
	ref   atomic.Int64
}

func (l *ledger) retain() {
	if l.ref.Add(1) <= 1 {
		panic(errors.AssertionFailedf("retain of a buffer with no remaining references"))
	}
}

func (l *ledger) release() {
	n := l.ref.Add(-1)
	switch {
	case n < 0:
		panic(errors.AssertionFailedf("buffer released more times than it was retained"))
	case n == 0:
		l.am.ledgerReleased(l)
	}
}

func (l *ledger) refCount() int64 {
	return l.ref.Load()
}

// isOwning reports whether the chunk is currently accounted against this
// ledger's allocator.
func (l *ledger) isOwning() bool {
	l.am.mu.Lock()
	defer l.am.mu.Unlock()
	return l.am.mu.owning == l
}

// newBuf creates a buffer handle over the chunk, consuming one reference
// already held by the caller.
func (l *ledger) newBuf(size int64, bm BufferManager) *Buf {
	return &Buf{ledger: l, data: l.am.chunk[:size:size], bm: bm}
}

func (l *ledger) print(sb *redact.StringBuilder, indent int) {
	writeIndent(sb, indent)
	sb.Printf("ledger[size=%d refs=%d owning=%t]\n", l.am.size, l.refCount(), l.isOwning())
}
