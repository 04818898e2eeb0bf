// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package envutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvOrDefault(t *testing.T) {
	const def = 123
	require.Equal(t, int64(def), EnvOrDefaultInt64("MEMTREE_TEST_VAR", def))
	require.True(t, EnvOrDefaultBool("MEMTREE_TEST_VAR", true))

	t.Setenv("MEMTREE_TEST_VAR", "0")
	require.Equal(t, int64(0), EnvOrDefaultInt64("MEMTREE_TEST_VAR", def))
	require.False(t, EnvOrDefaultBool("MEMTREE_TEST_VAR", true))

	t.Setenv("MEMTREE_TEST_VAR", "xyz")
	require.Panics(t, func() { EnvOrDefaultInt64("MEMTREE_TEST_VAR", def) })
	require.Panics(t, func() { EnvOrDefaultBool("MEMTREE_TEST_VAR", true) })
}

func TestCheckVarName(t *testing.T) {
	require.Panics(t, func() { EnvString("UNPREFIXED") })
	require.Panics(t, func() { EnvString("MEMTREE_lowercase") })
}
