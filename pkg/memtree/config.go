// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import "math"

// Option configures an allocator at construction.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(cfg *config) { f(cfg) }

type config struct {
	name       string
	limit      int64
	listener   AllocationListener
	policy     RoundingPolicy
	factory    AllocationManagerFactory
	metrics    *Metrics
	noteworthy int64
	debug      *bool
}

// rootConfig returns the defaults for a root allocator: no limit, no-op
// listener, power-of-two rounding, buffers on the Go heap.
func rootConfig() config {
	return config{
		name:     "root",
		limit:    math.MaxInt64,
		listener: NoopListener,
		policy:   DefaultRoundingPolicy,
		factory:  GoAllocationManagerFactory,
	}
}

// childConfig returns the defaults a child inherits from its parent.
func childConfig(parent *Allocator, name string, limit int64) config {
	return config{
		name:     name,
		limit:    limit,
		listener: parent.cfg.listener,
		policy:   parent.cfg.policy,
		factory:  parent.cfg.factory,
	}
}

// WithName sets a root allocator's name, which appears in errors, logs and
// diagnostic dumps. Children are always named at creation.
func WithName(name string) Option {
	return optionFunc(func(cfg *config) { cfg.name = name })
}

// WithLimit sets a root allocator's byte ceiling. Roots default to no
// limit; children state their limit at creation.
func WithLimit(limit int64) Option {
	return optionFunc(func(cfg *config) { cfg.limit = limit })
}

// WithListener sets the AllocationListener. Children inherit the listener
// in effect on their parent unless they install their own.
func WithListener(l AllocationListener) Option {
	return optionFunc(func(cfg *config) { cfg.listener = l })
}

// WithRoundingPolicy sets the RoundingPolicy used to size buffer
// allocations. Children inherit their parent's policy unless they install
// their own.
func WithRoundingPolicy(p RoundingPolicy) Option {
	return optionFunc(func(cfg *config) { cfg.policy = p })
}

// WithAllocationManagerFactory sets the factory used to obtain backing
// memory for buffers. Children inherit their parent's factory unless they
// install their own.
func WithAllocationManagerFactory(f AllocationManagerFactory) Option {
	return optionFunc(func(cfg *config) { cfg.factory = f })
}

// WithMetrics attaches a metrics bundle updated with this allocator's
// activity. Metrics are per-allocator and not inherited.
func WithMetrics(m *Metrics) Option {
	return optionFunc(func(cfg *config) { cfg.metrics = m })
}

// WithNoteworthy sets the usage threshold above which increases in the
// allocator's accounted bytes are logged. Once usage exceeds the threshold,
// a message is emitted every time usage doubles. Zero, the default,
// disables the logging.
func WithNoteworthy(n int64) Option {
	return optionFunc(func(cfg *config) { cfg.noteworthy = n })
}

// WithDebug overrides the tree's debug mode, which otherwise defaults to on
// in test builds and to the MEMTREE_DEBUG_ALLOCATOR environment variable
// elsewhere. Meaningful on roots only; children always run in their root's
// mode.
func WithDebug(enabled bool) Option {
	return optionFunc(func(cfg *config) { cfg.debug = &enabled })
}
