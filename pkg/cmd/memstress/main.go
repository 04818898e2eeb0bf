// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// memstress exercises a memtree allocator hierarchy under concurrent load:
// a shared root with a configurable byte limit, one child allocator per
// worker, and a randomized mix of allocations, releases and ownership
// transfers. It reports throughput, refusals, peak usage and allocation
// latency percentiles.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/memtree/pkg/memtree"
	"github.com/cockroachdb/memtree/pkg/util/humanizeutil"
	"github.com/cockroachdb/memtree/pkg/util/log"
	"github.com/cockroachdb/memtree/pkg/util/metric"
	"github.com/cockroachdb/memtree/pkg/util/randutil"
	"github.com/cockroachdb/memtree/pkg/util/sysmem"
	"github.com/cockroachdb/memtree/pkg/util/timeutil"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// maxLatency bounds the latency histogram; slower allocations are clamped.
const maxLatency = 10 * time.Second

var stressCtx = struct {
	workers     int
	duration    time.Duration
	limit       int64
	memFraction float64
	maxAlloc    int64
	reservation int64
	opsPerSec   int
	verifyEvery time.Duration
	debug       bool
	leak        bool
}{
	maxAlloc:    1 << 20,
	reservation: 64 << 10,
}

var memstressCmd = &cobra.Command{
	Use:   "memstress",
	Short: "exercise an allocator hierarchy under concurrent load",
	Long: `
Runs a configurable number of workers against a shared memory root for a
fixed duration. Each worker owns a child allocator and performs a random
mix of buffer allocations, releases and ownership transfers; refusals by
the root limit are part of normal operation and are counted rather than
fatal.
`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runStress,
}

func init() {
	f := memstressCmd.Flags()
	f.IntVar(&stressCtx.workers, "workers", 4,
		"number of concurrent allocating workers")
	f.DurationVar(&stressCtx.duration, "duration", 10*time.Second,
		"how long to run")
	f.Var(humanizeutil.NewBytesValue(&stressCtx.limit), "limit",
		"root allocator limit; 0 derives it from --mem-fraction")
	f.Float64Var(&stressCtx.memFraction, "mem-fraction", 0.25,
		"fraction of system memory used as the root limit when --limit is 0")
	f.Var(humanizeutil.NewBytesValue(&stressCtx.maxAlloc), "max-alloc",
		"largest single buffer a worker requests")
	f.Var(humanizeutil.NewBytesValue(&stressCtx.reservation), "reservation",
		"memory pre-reserved by each worker's child allocator")
	f.IntVar(&stressCtx.opsPerSec, "rate", 0,
		"aggregate operations per second; 0 means unlimited")
	f.DurationVar(&stressCtx.verifyEvery, "verify-every", 0,
		"interval between accounting verifications; 0 disables them (requires --debug)")
	f.BoolVar(&stressCtx.debug, "debug", false,
		"track individual buffers and reservations for verification and dumps")
	f.BoolVar(&stressCtx.leak, "leak", false,
		"leak one buffer at exit to demonstrate the close-time diagnostics")
}

func runStress(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if stressCtx.workers <= 0 {
		return errors.Newf("--workers must be positive: %d", stressCtx.workers)
	}
	if stressCtx.maxAlloc <= 0 {
		return errors.Newf("--max-alloc must be positive: %d", stressCtx.maxAlloc)
	}
	if stressCtx.verifyEvery > 0 && !stressCtx.debug {
		return errors.New("--verify-every requires --debug")
	}
	limit := stressCtx.limit
	if limit == 0 {
		total, err := sysmem.TotalMemory(ctx)
		if err != nil {
			return errors.Wrap(err, "detecting system memory")
		}
		limit = int64(float64(total) * stressCtx.memFraction)
	}

	registry := metric.NewRegistry()
	metrics := memtree.MakeMetrics("stress")
	registry.AddMetricStruct(&metrics)
	latency := metric.NewHistogram(metric.Metadata{
		Name:        "memstress.alloc-latency",
		Help:        "Latency of successful buffer allocations",
		Measurement: "Latency",
		Unit:        metric.UnitNanoseconds,
	}, 2*stressCtx.duration, maxLatency.Nanoseconds(), 3)
	registry.AddMetric(latency)

	root := memtree.NewRootAllocator(
		memtree.WithName("stress"),
		memtree.WithLimit(limit),
		memtree.WithMetrics(&metrics),
		memtree.WithNoteworthy(limit/2),
		memtree.WithDebug(stressCtx.debug),
	)

	log.Infof(ctx, "stressing a %s root with %d workers for %s",
		humanizeutil.IBytes(limit), stressCtx.workers, stressCtx.duration)

	var limiter *rate.Limiter
	if stressCtx.opsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(stressCtx.opsPerSec), stressCtx.opsPerSec)
	}

	start := timeutil.Now()
	runCtx, cancel := context.WithTimeout(ctx, stressCtx.duration)
	defer cancel()
	g, gCtx := errgroup.WithContext(runCtx)
	opCounts := make([]int64, stressCtx.workers)
	for i := 0; i < stressCtx.workers; i++ {
		i := i
		g.Go(func() error {
			return stressWorker(gCtx, i, root, limiter, latency, &opCounts[i])
		})
	}
	g.Go(func() error {
		return monitor(gCtx, root, &metrics)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := timeutil.Since(start)

	if stressCtx.debug {
		root.Verify(ctx)
	}

	var totalOps int64
	for _, n := range opCounts {
		totalOps += n
	}
	cur := latency.Current()
	log.Infof(ctx, "%s ops in %s (%.0f/sec), %s refused",
		humanizeutil.Count(uint64(totalOps)), elapsed.Round(time.Millisecond),
		float64(totalOps)/elapsed.Seconds(),
		humanizeutil.Count(uint64(metrics.Failures.Count())))
	log.Infof(ctx, "peak usage %s of %s limit",
		humanizeutil.IBytes(root.PeakMemoryAllocation()), humanizeutil.IBytes(limit))
	log.Infof(ctx, "allocation latency p50=%s p95=%s p99=%s max=%s",
		humanizeutil.Duration(time.Duration(cur.ValueAtQuantile(50))),
		humanizeutil.Duration(time.Duration(cur.ValueAtQuantile(95))),
		humanizeutil.Duration(time.Duration(cur.ValueAtQuantile(99))),
		humanizeutil.Duration(time.Duration(cur.Max())))
	registry.Each(func(name string, v interface{}) {
		switch m := v.(type) {
		case *metric.Gauge:
			log.Infof(ctx, "%s: %d", name, m.Value())
		case *metric.Counter:
			log.Infof(ctx, "%s: %d", name, m.Count())
		}
	})

	if stressCtx.leak {
		if _, err := root.Buffer(ctx, 64<<10); err != nil {
			return err
		}
		return closeExpectingFailure(ctx, root)
	}
	root.Close(ctx)
	return nil
}

// stressWorker runs the allocation mix on its own child allocator until ctx
// expires. Held buffers are tracked so that a refusal can free room and so
// that everything is released at exit.
func stressWorker(
	ctx context.Context,
	id int,
	root *memtree.Allocator,
	limiter *rate.Limiter,
	latency *metric.Histogram,
	ops *int64,
) error {
	// Teardown happens after ctx has expired.
	cleanupCtx := context.Background()
	child, err := root.NewChildAllocator(
		cleanupCtx, fmt.Sprintf("worker-%d", id), stressCtx.reservation, math.MaxInt64)
	if err != nil {
		return err
	}
	rng, _ := randutil.NewPseudoRand()
	var bufs []*memtree.Buf
	defer func() {
		for _, b := range bufs {
			b.Release()
		}
		child.Close(cleanupCtx)
	}()

	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}
		*ops++
		switch r := rng.Intn(10); {
		case r < 6:
			size := 1 + rng.Int63n(stressCtx.maxAlloc)
			begin := timeutil.Now()
			buf, err := child.Buffer(ctx, size)
			if err != nil {
				if !memtree.IsOutOfMemory(err) {
					return err
				}
				// Refused by a limit; free half of what we hold.
				n := len(bufs) / 2
				for _, b := range bufs[n:] {
					b.Release()
				}
				bufs = bufs[:n]
				continue
			}
			latency.RecordValue(timeutil.Since(begin).Nanoseconds())
			data := buf.Bytes()
			data[rng.Intn(len(data))] = byte(id)
			bufs = append(bufs, buf)
		case r < 9:
			if len(bufs) == 0 {
				continue
			}
			i := rng.Intn(len(bufs))
			bufs[i].Release()
			bufs[i] = bufs[len(bufs)-1]
			bufs = bufs[:len(bufs)-1]
		default:
			// Hand a buffer off to the shared root, as a consumer of a
			// worker's output would.
			if len(bufs) == 0 {
				continue
			}
			i := rng.Intn(len(bufs))
			res := bufs[i].TransferOwnership(root)
			bufs[i].Release()
			bufs[i] = res.Buf
		}
	}
}

// monitor logs progress once a second and, if configured, verifies the
// tree's accounting at the requested interval.
func monitor(ctx context.Context, root *memtree.Allocator, metrics *memtree.Metrics) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var verifyTick <-chan time.Time
	if stressCtx.debug && stressCtx.verifyEvery > 0 {
		vt := time.NewTicker(stressCtx.verifyEvery)
		defer vt.Stop()
		verifyTick = vt.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			log.Infof(ctx, "in use %s, peak %s, refused %s",
				humanizeutil.IBytes(root.AllocatedMemory()),
				humanizeutil.IBytes(root.PeakMemoryAllocation()),
				humanizeutil.Count(uint64(metrics.Failures.Count())))
		case <-verifyTick:
			root.Verify(ctx)
		}
	}
}

// closeExpectingFailure closes an allocator that is known to still hold
// memory, converting the diagnostic panic into the command's error.
func closeExpectingFailure(ctx context.Context, a *memtree.Allocator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = errors.Newf("%v", r)
		}
	}()
	a.Close(ctx)
	return errors.New("close unexpectedly succeeded")
}

func main() {
	if err := memstressCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "memstress: %v\n", err)
		os.Exit(1)
	}
}
