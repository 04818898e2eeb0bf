// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package metric provides in-process metrics (gauges, counters and
// histograms) with prometheus-compatible export via the client_model
// protobufs.
package metric

import (
	"sync/atomic"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/gogo/protobuf/proto"
	prometheusgo "github.com/prometheus/client_model/go"

	"github.com/cockroachdb/memtree/pkg/util/syncutil"
	"github.com/cockroachdb/memtree/pkg/util/timeutil"
)

// Unit classifies the value carried by a metric.
type Unit int8

const (
	// UnitCount is a unitless quantity of items.
	UnitCount Unit = iota
	// UnitBytes is a quantity of bytes.
	UnitBytes
	// UnitNanoseconds is a duration in nanoseconds.
	UnitNanoseconds
)

// Metadata holds metadata about a metric. It must be embedded in each metric
// object. It's used to export information about the metric to monitoring
// systems.
type Metadata struct {
	Name        string
	Help        string
	Measurement string
	Unit        Unit
}

// GetName returns the metric's name.
func (m *Metadata) GetName() string { return m.Name }

// GetHelp returns the metric's help string.
func (m *Metadata) GetHelp() string { return m.Help }

// GetMeasurement returns the thing the metric measures.
func (m *Metadata) GetMeasurement() string { return m.Measurement }

// GetUnit returns the metric's unit.
func (m *Metadata) GetUnit() Unit { return m.Unit }

// Iterable provides a method for synchronized access to interior objects.
type Iterable interface {
	// GetName returns the fully-qualified name of the metric.
	GetName() string
	// GetHelp returns the help text for the metric.
	GetHelp() string
	// GetMeasurement returns the label for the metric, which describes the
	// entity it measures.
	GetMeasurement() string
	// GetUnit returns the unit that should be used to display the metric.
	GetUnit() Unit
	// Inspect calls the given closure with the empty string and itself.
	Inspect(func(interface{}))
}

// PrometheusExportable is implemented by metrics which can be exported in the
// prometheus client_model format.
type PrometheusExportable interface {
	GetName() string
	GetHelp() string
	// GetType returns the prometheus type enum for this metric.
	GetType() *prometheusgo.MetricType
	// ToPrometheusMetric returns a filled-in prometheus metric of the
	// right type for the given metric. It does not fill in labels.
	ToPrometheusMetric() *prometheusgo.Metric
}

// A Gauge atomically stores a single integer value.
type Gauge struct {
	Metadata
	value atomic.Int64
}

// NewGauge creates a Gauge.
func NewGauge(metadata Metadata) *Gauge {
	return &Gauge{Metadata: metadata}
}

// Update updates the gauge's value.
func (g *Gauge) Update(v int64) { g.value.Store(v) }

// Inc increments the gauge's value.
func (g *Gauge) Inc(i int64) { g.value.Add(i) }

// Dec decrements the gauge's value.
func (g *Gauge) Dec(i int64) { g.value.Add(-i) }

// Value returns the gauge's current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Inspect implements Iterable.
func (g *Gauge) Inspect(f func(interface{})) { f(g) }

// GetType implements PrometheusExportable.
func (g *Gauge) GetType() *prometheusgo.MetricType {
	return prometheusgo.MetricType_GAUGE.Enum()
}

// ToPrometheusMetric implements PrometheusExportable.
func (g *Gauge) ToPrometheusMetric() *prometheusgo.Metric {
	return &prometheusgo.Metric{
		Gauge: &prometheusgo.Gauge{Value: proto.Float64(float64(g.Value()))},
	}
}

// A Counter holds a single monotonically increasing mutable atomic value.
type Counter struct {
	Metadata
	count atomic.Int64
}

// NewCounter creates a Counter.
func NewCounter(metadata Metadata) *Counter {
	return &Counter{Metadata: metadata}
}

// Inc increments the counter.
func (c *Counter) Inc(i int64) { c.count.Add(i) }

// Count returns the current value of the counter.
func (c *Counter) Count() int64 { return c.count.Load() }

// Inspect implements Iterable.
func (c *Counter) Inspect(f func(interface{})) { f(c) }

// GetType implements PrometheusExportable.
func (c *Counter) GetType() *prometheusgo.MetricType {
	return prometheusgo.MetricType_COUNTER.Enum()
}

// ToPrometheusMetric implements PrometheusExportable.
func (c *Counter) ToPrometheusMetric() *prometheusgo.Metric {
	return &prometheusgo.Metric{
		Counter: &prometheusgo.Counter{Value: proto.Float64(float64(c.Count()))},
	}
}

// histWrapNum is the number of histograms to keep in the sliding window.
const histWrapNum = 2

// A Histogram collects observed values by keeping bucketed counts. Recorded
// values are kept in a sliding window of approximately the configured
// duration, implemented over HDR histograms.
type Histogram struct {
	Metadata
	maxVal   int64
	duration time.Duration

	mu struct {
		syncutil.Mutex
		windowed *hdrhistogram.WindowedHistogram
		nextT    time.Time
	}
}

// NewHistogram creates a new windowed HDRHistogram with the given parameters.
// Data is kept in the active window for approximately the given duration.
func NewHistogram(metadata Metadata, duration time.Duration, maxVal int64, sigFigs int) *Histogram {
	h := &Histogram{
		Metadata: metadata,
		maxVal:   maxVal,
		duration: duration,
	}
	h.mu.windowed = hdrhistogram.NewWindowed(histWrapNum, 0, maxVal, sigFigs)
	h.mu.nextT = timeutil.Now()
	return h
}

func (h *Histogram) tickLocked() {
	h.mu.nextT = h.mu.nextT.Add(h.duration / histWrapNum)
	h.mu.windowed.Rotate()
}

func (h *Histogram) maybeTickLocked() {
	for h.mu.nextT.Before(timeutil.Now()) {
		h.tickLocked()
	}
}

// RecordValue adds the given value to the histogram. Recording a value in
// excess of the configured maximum value for that histogram results in
// recording the maximum value instead.
func (h *Histogram) RecordValue(v int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maybeTickLocked()
	if h.mu.windowed.Current.RecordValue(v) != nil {
		_ = h.mu.windowed.Current.RecordValue(h.maxVal)
	}
}

// Current returns a copy of the data currently in the window.
func (h *Histogram) Current() *hdrhistogram.Histogram {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maybeTickLocked()
	return hdrhistogram.Import(h.mu.windowed.Merge().Export())
}

// Inspect implements Iterable.
func (h *Histogram) Inspect(f func(interface{})) {
	h.mu.Lock()
	h.maybeTickLocked()
	h.mu.Unlock()
	f(h)
}

// GetType implements PrometheusExportable.
func (h *Histogram) GetType() *prometheusgo.MetricType {
	return prometheusgo.MetricType_HISTOGRAM.Enum()
}

// ToPrometheusMetric implements PrometheusExportable.
func (h *Histogram) ToPrometheusMetric() *prometheusgo.Metric {
	hist := &prometheusgo.Histogram{}

	h.mu.Lock()
	h.maybeTickLocked()
	bars := h.mu.windowed.Merge().Distribution()
	hist.Bucket = make([]*prometheusgo.Bucket, 0, len(bars))

	var cumCount uint64
	var sum float64
	for _, bar := range bars {
		if bar.Count == 0 {
			// No need to expose empty buckets.
			continue
		}
		upperBound := float64(bar.To)
		sum += upperBound * float64(bar.Count)
		cumCount += uint64(bar.Count)
		hist.Bucket = append(hist.Bucket, &prometheusgo.Bucket{
			CumulativeCount: proto.Uint64(cumCount),
			UpperBound:      proto.Float64(upperBound),
		})
	}
	hist.SampleCount = proto.Uint64(cumCount)
	hist.SampleSum = proto.Float64(sum)
	h.mu.Unlock()

	return &prometheusgo.Metric{Histogram: hist}
}
