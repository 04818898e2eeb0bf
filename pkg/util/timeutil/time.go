// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package timeutil

import "time"

// Now returns the current UTC time.
//
// All timestamps in this codebase are UTC. Converting here, at the source,
// means no caller has to remember to do it.
func Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t. It is shorthand for Now().Sub(t).
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// Until returns the duration until t. It is shorthand for t.Sub(Now()).
func Until(t time.Time) time.Duration {
	return t.Sub(Now())
}
