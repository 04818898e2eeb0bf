// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"context"
	"testing"

	"github.com/cockroachdb/memtree/pkg/util/leaktest"
	"github.com/cockroachdb/memtree/pkg/util/log"
	"github.com/cockroachdb/memtree/pkg/util/randutil"
	"github.com/stretchr/testify/require"
)

func TestVerifyCleanTree(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()

	root := NewRootAllocator(WithLimit(1<<20), WithDebug(true))
	c1, err := root.NewChildAllocator(ctx, "c1", 1024, 1<<19)
	require.NoError(t, err)
	c2, err := root.NewChildAllocator(ctx, "c2", 0, 1<<19)
	require.NoError(t, err)

	b1, err := c1.Buffer(ctx, 3000) // 4096
	require.NoError(t, err)
	b2, err := root.Buffer(ctx, 100) // 128
	require.NoError(t, err)
	r := c2.NewReservation()
	require.True(t, r.Add(ctx, 100)) // 128

	require.NotPanics(t, func() { root.Verify(ctx) })

	// Transfers keep the equation balanced at every node.
	tr := b1.TransferOwnership(c2)
	require.NotPanics(t, func() { root.Verify(ctx) })

	b1.Release()
	tr.Buf.Release()
	b2.Release()
	r.Close()
	require.NotPanics(t, func() { root.Verify(ctx) })

	c1.Close(ctx)
	c2.Close(ctx)
	root.Close(ctx)
}

func TestVerifyDetectsCorruption(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()

	root := NewRootAllocator(WithLimit(1<<20), WithDebug(true))
	b, err := root.Buffer(ctx, 64)
	require.NoError(t, err)

	// Simulate bytes the bookkeeping cannot explain.
	root.acct.locallyHeldMemory.Add(64)
	require.Panics(t, func() { root.Verify(ctx) })
	root.acct.locallyHeldMemory.Add(-64)
	require.NotPanics(t, func() { root.Verify(ctx) })

	b.Release()
	root.Close(ctx)
}

func TestVerifyDetectsDoubleOwnership(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()

	root := NewRootAllocator(WithLimit(1<<20), WithDebug(true))
	a, err := root.NewChildAllocator(ctx, "a", 0, 1<<19)
	require.NoError(t, err)
	b, err := root.NewChildAllocator(ctx, "b", 0, 1<<19)
	require.NoError(t, err)

	buf, err := a.Buffer(ctx, 512)
	require.NoError(t, err)

	// Register a's owning ledger with b as well, as if the same chunk were
	// accounted in two places.
	l := buf.ledger
	b.debug.mu.Lock()
	b.debug.mu.ledgers[l] = struct{}{}
	b.debug.mu.Unlock()
	require.Panics(t, func() { root.Verify(ctx) })

	b.debug.mu.Lock()
	delete(b.debug.mu.ledgers, l)
	b.debug.mu.Unlock()
	require.NotPanics(t, func() { root.Verify(ctx) })

	buf.Release()
	a.Close(ctx)
	b.Close(ctx)
	root.Close(ctx)
}

func TestVerifyNoopWithoutDebug(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()

	a := NewRootAllocator(WithDebug(false))
	b, err := a.Buffer(ctx, 64)
	require.NoError(t, err)
	a.acct.locallyHeldMemory.Add(64)
	require.NotPanics(t, func() { a.Verify(ctx) })
	a.acct.locallyHeldMemory.Add(-64)
	b.Release()
	a.Close(ctx)
}

// TestVerifyRandomized drives a small tree through random allocations,
// releases, reservations and ownership transfers, verifying the whole tree
// along the way.
func TestVerifyRandomized(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	rng, _ := randutil.NewTestRand()

	root := NewRootAllocator(WithLimit(1<<22), WithDebug(true))
	allocators := []*Allocator{root}
	for i, name := range []string{"c1", "c2", "c3"} {
		var reservation int64
		if i%2 == 0 {
			reservation = 1 << 12
		}
		c, err := root.NewChildAllocator(ctx, name, reservation, 1<<20)
		require.NoError(t, err)
		allocators = append(allocators, c)
	}

	var bufs []*Buf
	var reservations []*Reservation
	for op := 0; op < 500; op++ {
		a := allocators[rng.Intn(len(allocators))]
		switch rng.Intn(6) {
		case 0, 1: // allocate
			size := int64(rng.Intn(8192) + 1)
			if buf, err := a.Buffer(ctx, size); err == nil {
				bufs = append(bufs, buf)
			} else {
				require.True(t, IsOutOfMemory(err))
			}
		case 2: // release
			if len(bufs) > 0 {
				i := rng.Intn(len(bufs))
				bufs[i].Release()
				bufs = append(bufs[:i], bufs[i+1:]...)
			}
		case 3: // transfer
			if len(bufs) > 0 {
				i := rng.Intn(len(bufs))
				res := bufs[i].TransferOwnership(a)
				bufs = append(bufs, res.Buf)
			}
		case 4: // reservation activity
			if len(reservations) < 4 && rng.Intn(2) == 0 {
				reservations = append(reservations, a.NewReservation())
			} else if len(reservations) > 0 {
				i := rng.Intn(len(reservations))
				r := reservations[i]
				switch {
				case r.IsClosed():
					reservations = append(reservations[:i], reservations[i+1:]...)
				case r.IsUsed() || rng.Intn(4) == 0:
					r.Close()
					reservations = append(reservations[:i], reservations[i+1:]...)
				case rng.Intn(3) == 0:
					bufs = append(bufs, r.AllocateBuffer())
				default:
					_ = r.Add(ctx, int64(rng.Intn(4096)))
				}
			}
		case 5: // verify a random subtree
			a.Verify(ctx)
		}
		if op%100 == 0 {
			root.Verify(ctx)
		}
	}

	for _, r := range reservations {
		r.Close()
	}
	for _, b := range bufs {
		b.Release()
	}
	root.Verify(ctx)
	for _, a := range allocators[1:] {
		a.Close(ctx)
	}
	root.Close(ctx)
}
