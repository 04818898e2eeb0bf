// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package envutil

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// All environment variables consulted by this library carry the MEMTREE_
// prefix so that a glance at the environment reveals every knob in use.
const prefix = "MEMTREE_"

func checkVarName(name string) {
	if !strings.HasPrefix(name, prefix) {
		panic(errors.AssertionFailedf("env var %q is missing the %q prefix", name, prefix))
	}
	for _, c := range name {
		if c != '_' && !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			panic(errors.AssertionFailedf("env var %q has an invalid name", name))
		}
	}
}

// EnvString returns the value set by the specified environment variable. The
// variable must be prefixed with MEMTREE_. Returns false if the variable is
// not set.
func EnvString(name string) (string, bool) {
	checkVarName(name)
	return os.LookupEnv(name)
}

// EnvOrDefaultBool returns the value set by the specified environment
// variable, if any, otherwise the specified default value. Malformed values
// panic: these variables gate startup behavior and a typo should not be
// silently ignored.
func EnvOrDefaultBool(name string, def bool) bool {
	if str, ok := EnvString(name); ok {
		v, err := strconv.ParseBool(str)
		if err != nil {
			panic(errors.Wrapf(err, "error parsing %s", name))
		}
		return v
	}
	return def
}

// EnvOrDefaultInt64 returns the value set by the specified environment
// variable, if any, otherwise the specified default value.
func EnvOrDefaultInt64(name string, def int64) int64 {
	if str, ok := EnvString(name); ok {
		v, err := strconv.ParseInt(str, 0, 64)
		if err != nil {
			panic(errors.Wrapf(err, "error parsing %s", name))
		}
		return v
	}
	return def
}
