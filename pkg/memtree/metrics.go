// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"fmt"
	"time"

	"github.com/cockroachdb/memtree/pkg/util/metric"
)

const (
	// maxBytesHistWindow is the rotation interval of the peak-usage
	// histogram's samples.
	maxBytesHistWindow = 10 * time.Minute
	// maxBytesHistMaxValue caps recordable peaks at 64 GiB; larger peaks
	// are clamped.
	maxBytesHistMaxValue = 64 << 30
	// maxBytesHistSigFigs is the histogram precision.
	maxBytesHistSigFigs = 3
)

// Metrics tracks the accounting activity of one allocator, typically a
// root. CurBytes mirrors the allocator's accounted total, which includes
// everything charged through from its subtree.
type Metrics struct {
	// CurBytes is the number of bytes currently accounted.
	CurBytes *metric.Gauge
	// MaxBytesHist records the peak accounted bytes of allocators as they
	// close.
	MaxBytesHist *metric.Histogram
	// Failures counts allocation attempts refused by a limit.
	Failures *metric.Counter
}

// MetricStruct indicates that Metrics is a metric container.
func (Metrics) MetricStruct() {}

// MakeMetrics builds the metrics bundle for an allocator. The name appears
// in the metric names, so it should be a stable identifier rather than a
// per-instance one.
func MakeMetrics(name string) Metrics {
	return Metrics{
		CurBytes: metric.NewGauge(metric.Metadata{
			Name:        fmt.Sprintf("memtree.%s.current-bytes", name),
			Help:        "Number of bytes currently accounted by the allocator",
			Measurement: "Memory",
			Unit:        metric.UnitBytes,
		}),
		MaxBytesHist: metric.NewHistogram(metric.Metadata{
			Name:        fmt.Sprintf("memtree.%s.max-bytes", name),
			Help:        "Peak accounted bytes, recorded as allocators close",
			Measurement: "Memory",
			Unit:        metric.UnitBytes,
		}, maxBytesHistWindow, maxBytesHistMaxValue, maxBytesHistSigFigs),
		Failures: metric.NewCounter(metric.Metadata{
			Name:        fmt.Sprintf("memtree.%s.failures", name),
			Help:        "Number of allocation attempts refused by a memory limit",
			Measurement: "Allocations",
			Unit:        metric.UnitCount,
		}),
	}
}
