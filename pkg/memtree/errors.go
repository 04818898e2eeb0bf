// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// An OutOfMemoryError is returned when an allocation would exceed a limit
// somewhere on the allocator's ancestor chain. It is an ordinary, expected
// error: callers are supposed to handle it, typically by spilling or by
// failing the operation that needed the memory.
type OutOfMemoryError struct {
	// Requested is the size the caller asked for.
	Requested int64
	// Rounded is the size after rounding, i.e. what was requested from the
	// accounting tree.
	Rounded int64
	// Allocated is the number of bytes the allocator had accounted when the
	// attempt failed.
	Allocated int64

	details *OutcomeDetails
}

var _ error = (*OutOfMemoryError)(nil)

// Error implements error.
func (e *OutOfMemoryError) Error() string {
	var sb strings.Builder
	if e.Rounded != e.Requested {
		fmt.Fprintf(&sb, "unable to allocate buffer of size %d (rounded from %d) due to memory limit; current allocation: %d",
			e.Rounded, e.Requested, e.Allocated)
	} else {
		fmt.Fprintf(&sb, "unable to allocate buffer of size %d due to memory limit; current allocation: %d",
			e.Rounded, e.Allocated)
	}
	if e.details != nil {
		fmt.Fprintf(&sb, "\n%s", e.details)
	}
	return sb.String()
}

// Details returns the per-level accounting detail captured when the
// allocation failed, or nil.
func (e *OutOfMemoryError) Details() *OutcomeDetails {
	return e.details
}

// IsOutOfMemory returns true if err is, or wraps, an OutOfMemoryError.
func IsOutOfMemory(err error) bool {
	return errors.HasType(err, (*OutOfMemoryError)(nil))
}
