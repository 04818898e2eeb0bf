// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package metric

import (
	"testing"
	"time"

	prometheusgo "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestGauge(t *testing.T) {
	g := NewGauge(Metadata{Name: "test.gauge", Unit: UnitBytes})
	g.Update(10)
	require.Equal(t, int64(10), g.Value())
	g.Inc(5)
	g.Dec(2)
	require.Equal(t, int64(13), g.Value())
	require.Equal(t, prometheusgo.MetricType_GAUGE, *g.GetType())
	require.Equal(t, float64(13), g.ToPrometheusMetric().Gauge.GetValue())
}

func TestCounter(t *testing.T) {
	c := NewCounter(Metadata{Name: "test.counter"})
	c.Inc(90)
	c.Inc(10)
	require.Equal(t, int64(100), c.Count())
	require.Equal(t, float64(100), c.ToPrometheusMetric().Counter.GetValue())
}

func TestHistogram(t *testing.T) {
	h := NewHistogram(Metadata{Name: "test.hist"}, time.Hour, 1000, 3)
	for i := int64(1); i <= 100; i++ {
		h.RecordValue(i)
	}
	// Values beyond maxVal are clamped.
	h.RecordValue(5000)

	cur := h.Current()
	require.Equal(t, int64(101), cur.TotalCount())
	require.Equal(t, int64(1000), cur.Max())
	require.InDelta(t, 50, cur.ValueAtQuantile(50), 1)

	m := h.ToPrometheusMetric()
	require.Equal(t, uint64(101), m.Histogram.GetSampleCount())
	require.NotEmpty(t, m.Histogram.Bucket)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	g := NewGauge(Metadata{Name: "reg.gauge"})
	c := NewCounter(Metadata{Name: "reg.counter"})
	r.AddMetric(g)
	r.AddMetricStruct(struct {
		Counter *Counter
		Skipped *Counter // nil pointers are ignored
	}{Counter: c})

	seen := make(map[string]interface{})
	r.Each(func(name string, v interface{}) {
		seen[name] = v
	})
	require.Len(t, seen, 2)
	require.Same(t, g, seen["reg.gauge"])
	require.Same(t, c, seen["reg.counter"])
}
