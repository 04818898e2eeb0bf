// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

// A BufferManager is an opaque reference that callers can attach to a
// buffer at allocation time and read back from any handle on it. The
// allocator stores it and never looks inside.
type BufferManager interface{}

// A Buf is a reference-counted handle on an allocated buffer. Retain
// acquires an additional reference and Release drops one; when the last
// reference on the underlying chunk is gone the memory is freed and
// un-accounted. Handles obtained from TransferOwnership share the chunk
// and its count.
//
// The zero-sized buffer is a tree-wide singleton with no backing
// accounting; Retain and Release on it are no-ops.
type Buf struct {
	ledger *ledger
	data   []byte
	bm     BufferManager
}

// Cap returns the buffer's capacity in bytes. This is the rounded size,
// never smaller than what was requested.
func (b *Buf) Cap() int64 {
	return int64(len(b.data))
}

// Bytes returns the backing memory. The slice stays valid until the last
// reference on the buffer is released.
func (b *Buf) Bytes() []byte {
	return b.data
}

// Retain acquires an additional reference.
func (b *Buf) Retain() {
	if b.ledger != nil {
		b.ledger.retain()
	}
}

// Release drops one reference. Releasing more times than Retain was called
// panics.
func (b *Buf) Release() {
	if b.ledger != nil {
		b.ledger.release()
	}
}

// RefCount returns the number of references this handle's allocator holds
// on the chunk.
func (b *Buf) RefCount() int64 {
	if b.ledger == nil {
		return 1
	}
	return b.ledger.refCount()
}

// Allocator returns the allocator this handle draws on, or nil for the
// empty buffer.
func (b *Buf) Allocator() *Allocator {
	if b.ledger == nil {
		return nil
	}
	return b.ledger.owner
}

// Manager returns the BufferManager reference attached at allocation, or
// nil.
func (b *Buf) Manager() BufferManager {
	return b.bm
}

// A TransferResult is the outcome of TransferOwnership.
type TransferResult struct {
	// AllocationFit is false if the transferred bytes pushed the target
	// allocator, or one of its ancestors, past its limit.
	AllocationFit bool
	// Buf is a new handle on the same memory drawing on the target
	// allocator.
	Buf *Buf
}

// TransferOwnership moves the accounting for this buffer's memory to the
// target allocator, which must belong to the same tree. It returns a new
// handle for the target; the original handle remains valid, keeps sharing
// the memory and still must be released by its holder.
//
// A limit on the target never blocks a transfer: the bytes follow the
// buffer, and AllocationFit reports whether they fit. Transferring the
// empty buffer returns the same handle.
func (b *Buf) TransferOwnership(target *Allocator) TransferResult {
	if b.ledger == nil {
		return TransferResult{AllocationFit: true, Buf: b}
	}
	am := b.ledger.am
	l := am.associate(target)
	newBuf := &Buf{ledger: l, data: b.data, bm: b.bm}
	am.mu.Lock()
	fit := true
	if am.mu.owning == b.ledger {
		fit = am.transferBalanceLocked(l)
	}
	am.mu.Unlock()
	return TransferResult{AllocationFit: fit, Buf: newBuf}
}
