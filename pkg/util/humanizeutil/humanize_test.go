// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package humanizeutil

import (
	"math"
	"testing"

	"github.com/cockroachdb/redact"
	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	testCases := []struct {
		value    int64
		expected redact.SafeString
	}{
		{0, "0 B"},
		{1024, "1.0 KiB"},
		{1024 << 10, "1.0 MiB"},
		{1024 << 20, "1.0 GiB"},
		{-1024, "-1.0 KiB"},
		{math.MaxInt64, "8.0 EiB"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, IBytes(tc.value))
	}
}

func TestParseBytes(t *testing.T) {
	testCases := []struct {
		s        string
		expected int64
		err      string
	}{
		{s: "1 KiB", expected: 1024},
		{s: "-1 KiB", expected: -1024},
		{s: "5kb", expected: 5000},
		{s: "0", expected: 0},
		{s: "", err: `parsing "": invalid syntax`},
		{s: "10 EiB", err: "too large: 10 EiB"},
	}
	for _, tc := range testCases {
		v, err := ParseBytes(tc.s)
		if tc.err != "" {
			require.EqualError(t, err, tc.err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tc.expected, v)
	}
}

func TestBytesValue(t *testing.T) {
	var n int64
	v := NewBytesValue(&n)
	require.Equal(t, "0 B", v.String())
	require.False(t, v.IsSet())
	require.NoError(t, v.Set("128MiB"))
	require.True(t, v.IsSet())
	require.Equal(t, int64(128<<20), n)
	require.Equal(t, "128 MiB", v.String())
	require.Error(t, v.Set("banana"))
}
