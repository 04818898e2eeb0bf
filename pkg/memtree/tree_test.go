// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/memtree/pkg/util/leaktest"
	"github.com/cockroachdb/memtree/pkg/util/log"
	"github.com/cockroachdb/redact"
)

// TestAllocatorTree runs the datadriven scripts under testdata. Each script
// drives a tree of allocators, buffers and reservations by name:
//
//	new-root name=<name> [limit=<bytes>]
//	new-child parent=<name> name=<name> [reservation=<bytes>] [limit=<bytes>]
//	alloc allocator=<name> name=<buf> size=<bytes>
//	release buf=<buf>
//	transfer buf=<buf> target=<name> as=<buf>
//	reserve allocator=<name> name=<res>
//	reserve-add res=<res> size=<bytes>
//	reserve-alloc res=<res> as=<buf>
//	reserve-close res=<res>
//	force allocator=<name> size=<bytes>
//	release-bytes allocator=<name> size=<bytes>
//	stats allocator=<name>
//	headroom allocator=<name>
//	dump allocator=<name>
//	verify allocator=<name>
//	close allocator=<name>
func TestAllocatorTree(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()

	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		allocators := map[string]*Allocator{}
		buffers := map[string]*Buf{}
		reservations := map[string]*Reservation{}

		mustAllocator := func(t *testing.T, d *datadriven.TestData) *Allocator {
			var name string
			d.ScanArgs(t, "allocator", &name)
			a, ok := allocators[name]
			if !ok {
				d.Fatalf(t, "unknown allocator %q", name)
			}
			return a
		}

		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			switch d.Cmd {
			case "new-root":
				var name string
				d.ScanArgs(t, "name", &name)
				limit := int64(math.MaxInt64)
				if d.HasArg("limit") {
					d.ScanArgs(t, "limit", &limit)
				}
				allocators[name] = NewRootAllocator(
					WithName(name), WithLimit(limit), WithDebug(true))
				return "ok"

			case "new-child":
				var parent, name string
				d.ScanArgs(t, "parent", &parent)
				d.ScanArgs(t, "name", &name)
				var reservation int64
				if d.HasArg("reservation") {
					d.ScanArgs(t, "reservation", &reservation)
				}
				limit := int64(math.MaxInt64)
				if d.HasArg("limit") {
					d.ScanArgs(t, "limit", &limit)
				}
				child, err := allocators[parent].NewChildAllocator(ctx, name, reservation, limit)
				if err != nil {
					return fmt.Sprintf("error: %v", err)
				}
				allocators[name] = child
				return "ok"

			case "alloc":
				a := mustAllocator(t, d)
				var name string
				var size int64
				d.ScanArgs(t, "name", &name)
				d.ScanArgs(t, "size", &size)
				buf, err := a.Buffer(ctx, size)
				if err != nil {
					return fmt.Sprintf("error: %v", err)
				}
				buffers[name] = buf
				return fmt.Sprintf("cap=%d", buf.Cap())

			case "release":
				var name string
				d.ScanArgs(t, "buf", &name)
				buffers[name].Release()
				delete(buffers, name)
				return "ok"

			case "transfer":
				var name, target, as string
				d.ScanArgs(t, "buf", &name)
				d.ScanArgs(t, "target", &target)
				d.ScanArgs(t, "as", &as)
				res := buffers[name].TransferOwnership(allocators[target])
				buffers[as] = res.Buf
				return fmt.Sprintf("fit=%t", res.AllocationFit)

			case "reserve":
				a := mustAllocator(t, d)
				var name string
				d.ScanArgs(t, "name", &name)
				reservations[name] = a.NewReservation()
				return "ok"

			case "reserve-add":
				var name string
				var size int64
				d.ScanArgs(t, "res", &name)
				d.ScanArgs(t, "size", &size)
				if !reservations[name].Add(ctx, size) {
					return "refused"
				}
				return fmt.Sprintf("ok size=%d", reservations[name].Size())

			case "reserve-alloc":
				var name, as string
				d.ScanArgs(t, "res", &name)
				d.ScanArgs(t, "as", &as)
				buf := reservations[name].AllocateBuffer()
				buffers[as] = buf
				return fmt.Sprintf("cap=%d", buf.Cap())

			case "reserve-close":
				var name string
				d.ScanArgs(t, "res", &name)
				reservations[name].Close()
				delete(reservations, name)
				return "ok"

			case "force":
				a := mustAllocator(t, d)
				var size int64
				d.ScanArgs(t, "size", &size)
				return fmt.Sprintf("fit=%t", a.ForceAllocate(size))

			case "release-bytes":
				a := mustAllocator(t, d)
				var size int64
				d.ScanArgs(t, "size", &size)
				a.ReleaseBytes(size)
				return "ok"

			case "stats":
				return mustAllocator(t, d).String()

			case "headroom":
				return fmt.Sprintf("%d", mustAllocator(t, d).Headroom())

			case "dump":
				var sb redact.StringBuilder
				mustAllocator(t, d).print(&sb, 0, verbosityBasic)
				return sb.RedactableString().StripMarkers()

			case "verify":
				mustAllocator(t, d).Verify(ctx)
				return "ok"

			case "close":
				a := mustAllocator(t, d)
				a.Close(ctx)
				var name string
				d.ScanArgs(t, "allocator", &name)
				delete(allocators, name)
				return "ok"

			default:
				d.Fatalf(t, "unknown command: %s", d.Cmd)
				return ""
			}
		})
	})
}
