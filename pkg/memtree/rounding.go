// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memtree

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
)

// RoundingPolicy determines how many bytes are actually allocated for a
// buffer request. Rounding up trades some internal fragmentation for buffer
// reuse: requests of similar size land on the same allocation size.
type RoundingPolicy interface {
	// RoundedSize returns the number of bytes to allocate for a request of
	// the given size. The result is never smaller than requested.
	RoundedSize(requested int64) int64
}

// DefaultRoundingPolicy rounds every request up to the next power of two.
var DefaultRoundingPolicy RoundingPolicy = powerOfTwoRoundingPolicy{}

type powerOfTwoRoundingPolicy struct{}

func (powerOfTwoRoundingPolicy) RoundedSize(requested int64) int64 {
	return NextPowerOfTwo(requested)
}

// MinSegmentSize is the smallest segment size accepted by
// NewSegmentRoundingPolicy.
const MinSegmentSize = 1024

// SegmentRoundingPolicy rounds every request up to a multiple of a fixed
// power-of-two segment size. Compared to power-of-two rounding it wastes at
// most one segment per buffer, at the cost of more distinct buffer sizes.
type SegmentRoundingPolicy struct {
	segmentSize int64
}

var _ RoundingPolicy = (*SegmentRoundingPolicy)(nil)

// NewSegmentRoundingPolicy creates a SegmentRoundingPolicy with the given
// segment size, which must be a power of two no smaller than MinSegmentSize.
func NewSegmentRoundingPolicy(segmentSize int64) (*SegmentRoundingPolicy, error) {
	if segmentSize < MinSegmentSize {
		return nil, errors.Newf(
			"the segment size %d is smaller than the minimum %d", segmentSize, int64(MinSegmentSize))
	}
	if segmentSize&(segmentSize-1) != 0 {
		return nil, errors.Newf("the segment size %d is not a power of two", segmentSize)
	}
	return &SegmentRoundingPolicy{segmentSize: segmentSize}, nil
}

// SegmentSize returns the configured segment size.
func (p *SegmentRoundingPolicy) SegmentSize() int64 {
	return p.segmentSize
}

// RoundedSize implements RoundingPolicy.
func (p *SegmentRoundingPolicy) RoundedSize(requested int64) int64 {
	if requested > math.MaxInt64-p.segmentSize+1 {
		return math.MaxInt64 &^ (p.segmentSize - 1)
	}
	return (requested + p.segmentSize - 1) &^ (p.segmentSize - 1)
}

// NextPowerOfTwo returns the power of two at or above v, so 8 stays 8 and 9
// becomes 16. As special cases, 0 rounds to 1 and 1 rounds to 2. Values
// above 1<<62 are clamped to MaxInt64. Negative sizes panic.
func NextPowerOfTwo(v int64) int64 {
	if v < 0 {
		panic(errors.AssertionFailedf("the size must be non-negative: %d", v))
	}
	if v <= 1 {
		return v + 1
	}
	if v&(v-1) == 0 {
		return v
	}
	if v > 1<<62 {
		return math.MaxInt64
	}
	return 1 << (64 - uint(bits.LeadingZeros64(uint64(v))))
}
