// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/memtree/pkg/util/humanizeutil"
	"github.com/cockroachdb/memtree/pkg/util/log"
	"github.com/cockroachdb/memtree/pkg/util/syncutil"
	"github.com/cockroachdb/redact"
)

// An Allocator hands out buffers and accounts them against a hierarchy of
// byte limits. Allocators are created as a tree: NewRootAllocator makes a
// root, NewChildAllocator hangs children below any node. A child's usage
// beyond its pre-reserved share counts against every ancestor, so the root
// limit bounds the tree as a whole.
//
// All methods are safe for concurrent use. An allocator must be closed
// when it is done, and closing asserts that everything it accounted has
// been returned.
type Allocator struct {
	name string

	parent *Allocator
	root   *Allocator

	cfg  config
	acct accountant

	// seq orders children for deterministic dumps; drawn from the root's
	// counter at creation.
	seq      uint64
	childSeq atomic.Uint64

	children syncutil.Set[*Allocator]

	// empty is the tree-wide zero-sized buffer.
	empty *Buf

	closed atomic.Bool

	// debug is nil unless debug-mode bookkeeping is enabled for the tree.
	debug *debugState
}

// NewRootAllocator creates the root of a new allocator tree. Without
// options the root is named "root", has no limit, rounds to powers of two
// and allocates on the Go heap.
func NewRootAllocator(opts ...Option) *Allocator {
	cfg := rootConfig()
	for _, o := range opts {
		o.apply(&cfg)
	}
	a := &Allocator{name: cfg.name, cfg: cfg}
	a.root = a
	debugEnabled := debugAllocatorDefault
	if cfg.debug != nil {
		debugEnabled = *cfg.debug
	}
	if debugEnabled {
		a.debug = newDebugState(cfg.name)
	}
	if err := a.acct.init(nil /* parent */, cfg.name, 0 /* reservation */, cfg.limit, cfg.metrics); err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "root accounting rejected a zero reservation"))
	}
	a.empty = &Buf{}
	a.recordHistory("created")
	return a
}

// NewChildAllocator creates a child of this allocator. initReservation
// bytes are accounted against this allocator and its ancestors immediately
// and stay accounted until the child closes; allocations within the
// reservation cannot be refused by the ancestors. maxAllocation caps the
// child's own accounted total. If the reservation cannot be obtained no
// child is created and the returned error wraps OutOfMemoryError.
//
// The child inherits the listener, rounding policy, factory and debug mode
// in effect here; options override the first three.
func (a *Allocator) NewChildAllocator(
	ctx context.Context, name string, initReservation, maxAllocation int64, opts ...Option,
) (*Allocator, error) {
	a.assertOpen()
	cfg := childConfig(a, name, maxAllocation)
	for _, o := range opts {
		o.apply(&cfg)
	}
	child := &Allocator{
		name:   cfg.name,
		cfg:    cfg,
		parent: a,
		root:   a.root,
		empty:  a.empty,
		seq:    a.root.childSeq.Add(1),
	}
	if a.debug != nil {
		child.debug = newDebugState(cfg.name)
	}
	if err := child.acct.init(&a.acct, cfg.name, initReservation, cfg.limit, cfg.metrics); err != nil {
		return nil, err
	}
	a.children.Add(child)
	a.recordHistory("created child allocator[%s]", cfg.name)
	child.recordHistory("created")
	a.cfg.listener.OnChildAdded(a, child)
	a.maybeLogNoteworthy(ctx, initReservation)
	return child, nil
}

// Buffer allocates a buffer of at least size bytes, accounted against this
// allocator. The buffer's capacity is the rounded size. A zero size
// returns the shared empty buffer. The returned error, if any, is an
// *OutOfMemoryError.
func (a *Allocator) Buffer(ctx context.Context, size int64) (*Buf, error) {
	return a.BufferWithManager(ctx, size, nil)
}

// BufferWithManager is Buffer with an opaque BufferManager reference
// attached to the resulting handle.
func (a *Allocator) BufferWithManager(
	ctx context.Context, size int64, bm BufferManager,
) (*Buf, error) {
	a.assertOpen()
	if size < 0 {
		panic(errors.AssertionFailedf("the requested size must be non-negative: %d", size))
	}
	if size == 0 {
		return a.empty, nil
	}
	rounded := a.cfg.policy.RoundedSize(size)
	a.cfg.listener.OnPreAllocation(rounded)
	outcome := a.acct.allocateBytes(rounded)
	if !outcome.Ok() && a.cfg.listener.OnFailedAllocation(rounded, outcome) {
		// The listener claims to have freed memory; try once more.
		outcome = a.acct.allocateBytes(rounded)
	}
	if !outcome.Ok() {
		if m := a.cfg.metrics; m != nil {
			m.Failures.Inc(1)
		}
		return nil, &OutOfMemoryError{
			Requested: size,
			Rounded:   rounded,
			Allocated: a.acct.allocatedMemory(),
			details:   outcome.details,
		}
	}
	success := false
	defer func() {
		if !success {
			a.acct.releaseBytes(rounded)
		}
	}()
	buf := a.bufferWithoutReservation(rounded, bm)
	success = true
	a.cfg.listener.OnAllocation(rounded)
	a.maybeLogNoteworthy(ctx, rounded)
	return buf, nil
}

// bufferWithoutReservation creates the handle for size bytes that the
// caller has already accounted against this allocator.
func (a *Allocator) bufferWithoutReservation(size int64, bm BufferManager) *Buf {
	a.assertOpen()
	am := a.cfg.factory.NewAllocationManager(a, size)
	l := am.associate(a)
	buf := l.newBuf(size, bm)
	if buf.Cap() != size {
		panic(errors.AssertionFailedf(
			"the allocated capacity %d does not match the accounted size %d", buf.Cap(), size))
	}
	return buf
}

// Empty returns the tree-wide zero-sized buffer.
func (a *Allocator) Empty() *Buf {
	return a.empty
}

// Name returns the allocator's name.
func (a *Allocator) Name() string {
	return a.name
}

// Parent returns the parent allocator, or nil for a root.
func (a *Allocator) Parent() *Allocator {
	return a.parent
}

// AllocatedMemory returns the number of bytes currently accounted against
// this allocator, including everything charged through from its subtree.
func (a *Allocator) AllocatedMemory() int64 {
	return a.acct.allocatedMemory()
}

// PeakMemoryAllocation returns the high-water mark of AllocatedMemory.
func (a *Allocator) PeakMemoryAllocation() int64 {
	return a.acct.peak()
}

// InitReservation returns the reservation made when the allocator was
// created.
func (a *Allocator) InitReservation() int64 {
	return a.acct.reservation
}

// Limit returns the allocator's byte ceiling.
func (a *Allocator) Limit() int64 {
	return a.acct.limit()
}

// SetLimit replaces the allocator's byte ceiling. Lowering it below the
// current usage does not reclaim anything; it makes further allocations
// fail until usage drops.
func (a *Allocator) SetLimit(limit int64) {
	a.assertOpen()
	if limit < 0 {
		panic(errors.AssertionFailedf("the allocation limit must be non-negative: %d", limit))
	}
	a.acct.setLimit(limit)
}

// Headroom returns the number of bytes that can still be allocated before
// some limit on the ancestor chain is hit. The value is advisory: with
// concurrent activity it is already stale when it returns.
func (a *Allocator) Headroom() int64 {
	return a.acct.headroom()
}

// ForceAllocate accounts size bytes unconditionally, ignoring limits. It
// returns true only if the result still fits within every limit on the
// ancestor chain. This is the low-level escape hatch for memory that
// changes hands outside the buffer machinery; the caller owes a matching
// ReleaseBytes, and the bytes are not visible to Verify.
func (a *Allocator) ForceAllocate(size int64) bool {
	a.assertOpen()
	if size < 0 {
		panic(errors.AssertionFailedf("the requested size must be non-negative: %d", size))
	}
	return a.acct.forceAllocate(size)
}

// ReleaseBytes returns size bytes accounted with ForceAllocate. Releasing
// more than is accounted panics.
func (a *Allocator) ReleaseBytes(size int64) {
	if size < 0 {
		panic(errors.AssertionFailedf("the released size must be non-negative: %d", size))
	}
	a.acct.releaseBytes(size)
}

// ChildAllocators returns the live children in creation order.
func (a *Allocator) ChildAllocators() []*Allocator {
	var children []*Allocator
	a.children.Range(func(c *Allocator) bool {
		children = append(children, c)
		return true
	})
	sort.Slice(children, func(i, j int) bool { return children[i].seq < children[j].seq })
	return children
}

func (a *Allocator) assertOpen() {
	if a.closed.Load() {
		panic(errors.AssertionFailedf("attempting operation on closed allocator %q", a.name))
	}
}

// Close closes the allocator and releases its reservation. Closing twice
// is a no-op. Anything still accounted at close is a programming error:
// Close repairs the parent's accounting as far as possible, logs a
// diagnostic dump and panics. In debug mode outstanding children, buffers
// and reservations are reported individually before the byte totals are
// even consulted.
func (a *Allocator) Close(ctx context.Context) {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	if a.debug != nil {
		a.Verify(ctx)
		if n := a.children.Len(); n != 0 {
			panic(a.closeFailure(ctx, "allocator closed with outstanding child allocators: %d", n))
		}
		a.debug.mu.Lock()
		nLedgers, nReservations := len(a.debug.mu.ledgers), len(a.debug.mu.reservations)
		a.debug.mu.Unlock()
		if nLedgers != 0 {
			panic(a.closeFailure(ctx, "allocator closed with outstanding buffers allocated: %d", nLedgers))
		}
		if nReservations != 0 {
			panic(a.closeFailure(ctx, "allocator closed with outstanding reservations: %d", nReservations))
		}
	}
	if allocated := a.acct.allocatedMemory(); allocated > 0 {
		// The reservation was charged to the parent in full but only the
		// leaked bytes remain real; return the difference before failing.
		if a.parent != nil && a.acct.reservation > allocated {
			a.parent.acct.releaseBytes(a.acct.reservation - allocated)
		}
		panic(a.closeFailure(ctx, "memory was leaked: %d bytes still accounted", allocated))
	}
	a.acct.close()
	if m := a.cfg.metrics; m != nil {
		m.MaxBytesHist.RecordValue(a.acct.peak())
	}
	if a.parent != nil {
		a.parent.childClosed(a)
	}
	a.recordHistory("closed")
}

// closeFailure logs a verbose dump of the allocator and builds the panic
// payload for a failed close.
func (a *Allocator) closeFailure(ctx context.Context, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	log.Errorf(ctx, "%s\n%s", msg, a.VerboseString())
	return errors.AssertionFailedf("allocator %q: %s", a.name, redact.Safe(msg))
}

func (a *Allocator) childClosed(child *Allocator) {
	a.assertOpen()
	a.cfg.listener.OnChildRemoved(a, child)
	if !a.children.Remove(child) {
		panic(errors.AssertionFailedf(
			"child allocator %q not found in parent allocator %q", child.name, a.name))
	}
	a.recordHistory("closed child allocator[%s]", child.name)
}

// maybeLogNoteworthy reports growth of the accounted total once it exceeds
// the configured threshold. To bound the log volume only increases that
// cross a power-of-two boundary are reported.
func (a *Allocator) maybeLogNoteworthy(ctx context.Context, added int64) {
	nw := a.cfg.noteworthy
	if nw <= 0 || added <= 0 {
		return
	}
	cur := a.acct.allocatedMemory()
	if cur > nw && NextPowerOfTwo(cur) != NextPowerOfTwo(cur-added) {
		log.Infof(ctx, "%s: bytes usage increases to %s (+%d)",
			a.name, humanizeutil.IBytes(cur), added)
	}
}

type verbosity int8

const (
	verbosityBasic verbosity = iota
	verbosityWithHistory
)

// String returns a one-line summary of the allocator's accounting state.
func (a *Allocator) String() string {
	var sb redact.StringBuilder
	a.printSummary(&sb, 0)
	return sb.RedactableString().StripMarkers()
}

// VerboseString returns a multi-line dump of the subtree: the accounting
// state of every node, and in debug mode the tracked ledgers, reservations
// and event histories.
func (a *Allocator) VerboseString() string {
	var sb redact.StringBuilder
	a.print(&sb, 0, verbosityWithHistory)
	return sb.RedactableString().StripMarkers()
}

func (a *Allocator) printSummary(sb *redact.StringBuilder, indent int) {
	writeIndent(sb, indent)
	sb.Printf("Allocator(%s) %d/%d/%d/%d (res/actual/peak/limit)",
		a.name, a.acct.reservation, a.acct.allocatedMemory(), a.acct.peak(), a.acct.limit())
}

func (a *Allocator) print(sb *redact.StringBuilder, indent int, v verbosity) {
	a.printSummary(sb, indent)
	sb.SafeRune('\n')
	children := a.ChildAllocators()
	writeIndent(sb, indent+1)
	sb.Printf("child allocators: %d\n", len(children))
	for _, c := range children {
		c.print(sb, indent+2, v)
	}
	if a.debug != nil {
		ledgers, reservations := a.debug.snapshot()
		writeIndent(sb, indent+1)
		sb.Printf("ledgers: %d\n", len(ledgers))
		for _, l := range ledgers {
			l.print(sb, indent+2)
		}
		writeIndent(sb, indent+1)
		sb.Printf("reservations: %d\n", len(reservations))
		for _, r := range reservations {
			r.print(sb, indent+2)
		}
		if v == verbosityWithHistory {
			a.debug.hist.writeTo(sb, indent+1)
		}
	}
}
