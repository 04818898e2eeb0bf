// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package memtree provides hierarchical accounting for the buffer memory of
// a columnar execution engine.
//
// Allocators form a tree. Every allocator carries a byte ceiling, a running
// total of accounted bytes and a peak; bytes accounted by a child beyond its
// pre-reserved share are also charged to its ancestors, so a limit anywhere
// on the chain bounds the whole subtree below it. Buffers are handed out as
// reference-counted handles whose backing memory is obtained from a
// pluggable raw allocator; handle ownership (and with it the accounting) can
// move between allocators in the same tree.
//
// Allocation requests are rounded, by default to the next power of two.
// Reservations allow a caller to pre-commit memory in several steps and
// later convert the total into a single buffer that cannot fail for lack of
// memory.
//
// Failed allocations are ordinary errors (see OutOfMemoryError); misuse,
// such as operating on a closed allocator or leaking memory past Close,
// is a programming error and panics.
//
// In debug mode (the default under the crdb_test build tag, or with
// MEMTREE_DEBUG_ALLOCATOR=true) every allocator additionally tracks its
// buffer ledgers, live reservations and a short event history, and Verify
// checks that the accounted total of every node is exactly explained by its
// owned buffers, unused reservations and children.
package memtree
