// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import "github.com/cockroachdb/redact"

// AllocationStatus describes the result of an allocation attempt at one
// accounting level.
type AllocationStatus uint8

const (
	// StatusSuccess means the allocation fit within every limit.
	StatusSuccess AllocationStatus = iota

	// StatusForcedSuccess means the allocation was forced through even
	// though it exceeded a limit somewhere along the ancestor chain.
	StatusForcedSuccess

	// StatusFailedLocal means the allocation exceeded the allocator's own
	// limit.
	StatusFailedLocal

	// StatusFailedParent means an ancestor refused the allocation.
	StatusFailedParent
)

// Ok returns true if the attempt obtained the memory.
func (s AllocationStatus) Ok() bool {
	return s == StatusSuccess || s == StatusForcedSuccess
}

// String implements fmt.Stringer.
func (s AllocationStatus) String() string {
	return redact.StringWithoutMarkers(s)
}

// SafeFormat implements redact.SafeFormatter.
func (s AllocationStatus) SafeFormat(p redact.SafePrinter, _ rune) {
	switch s {
	case StatusSuccess:
		p.SafeString("success")
	case StatusForcedSuccess:
		p.SafeString("forced-success")
	case StatusFailedLocal:
		p.SafeString("failed-local")
	case StatusFailedParent:
		p.SafeString("failed-parent")
	default:
		p.Printf("unknown(%d)", uint8(s))
	}
}

// An AllocationOutcome is the result of an allocation attempt. For failed
// attempts it can carry the accounting state observed at each level of the
// tree, which ends up in the returned error.
type AllocationOutcome struct {
	status  AllocationStatus
	details *OutcomeDetails
}

// Ok returns true if the attempt obtained the memory.
func (o AllocationOutcome) Ok() bool {
	return o.status.Ok()
}

// Status returns the overall status of the attempt.
func (o AllocationOutcome) Status() AllocationStatus {
	return o.status
}

// Details returns the per-level accounting detail collected for a failed
// attempt, or nil if none was collected.
func (o AllocationOutcome) Details() *OutcomeDetails {
	return o.details
}

// OutcomeDetails records, for each accounting level visited by a failed
// allocation attempt, the state the accountant was in and whether that
// level refused the request. Levels appear in visiting order, from the
// allocator the request was made on up towards the root.
type OutcomeDetails struct {
	entries []outcomeEntry
}

type outcomeEntry struct {
	name      string
	limit     int64
	used      int64
	requested int64
	failed    bool
}

func (d *OutcomeDetails) push(name string, limit, used, requested int64, failed bool) {
	d.entries = append(d.entries, outcomeEntry{
		name:      name,
		limit:     limit,
		used:      used,
		requested: requested,
		failed:    failed,
	})
}

// String implements fmt.Stringer.
func (d *OutcomeDetails) String() string {
	return redact.StringWithoutMarkers(d)
}

// SafeFormat implements redact.SafeFormatter.
func (d *OutcomeDetails) SafeFormat(p redact.SafePrinter, _ rune) {
	p.SafeString("allocation outcome details:")
	for _, e := range d.entries {
		p.Printf("\n  allocator[%s] limit[%d] used[%d] requested[%d] failed[%t]",
			e.name, e.limit, e.used, e.requested, e.failed)
	}
}
