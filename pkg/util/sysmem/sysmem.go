// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package sysmem infers the amount of memory available to the process.
package sysmem

import (
	"context"
	"math"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/memtree/pkg/util/cgroups"
	"github.com/cockroachdb/memtree/pkg/util/humanizeutil"
	"github.com/cockroachdb/memtree/pkg/util/log"
	"github.com/dustin/go-humanize"
	"github.com/elastic/gosigar"
)

// TotalMemory returns either the total system memory (in bytes) or, if
// detectable and smaller, the memory limit imposed by the process' cgroup.
func TotalMemory(ctx context.Context) (int64, error) {
	totalMem, err := func() (int64, error) {
		mem := gosigar.Mem{}
		if err := mem.Get(); err != nil {
			return 0, err
		}
		if mem.Total > math.MaxInt64 {
			return 0, errors.Newf("inferred memory size %s exceeds maximum supported memory size %s",
				humanize.IBytes(mem.Total), humanize.IBytes(math.MaxInt64))
		}
		return int64(mem.Total), nil
	}()
	if err != nil {
		return 0, err
	}
	checkTotal := func(x int64) (int64, error) {
		if x <= 0 {
			// gosigar can report nonsense on some platforms.
			return 0, errors.Newf("inferred memory size %d is suspicious, considering invalid", x)
		}
		return x, nil
	}
	if runtime.GOOS != "linux" {
		return checkTotal(totalMem)
	}

	cgAvlMem, warning, err := cgroups.GetCgroupMemoryLimit()
	if err != nil {
		log.Infof(ctx, "can't detect available memory from cgroups (%s), using system memory %s instead",
			err, humanizeutil.IBytes(totalMem))
		return checkTotal(totalMem)
	}
	if warning != "" {
		log.Infof(ctx, "%s", warning)
	}
	if cgAvlMem == 0 || (totalMem > 0 && cgAvlMem > totalMem) {
		log.Infof(ctx, "available memory from cgroups (%s) exceeds system memory %s, using system memory",
			humanizeutil.IBytes(cgAvlMem), humanizeutil.IBytes(totalMem))
		return checkTotal(totalMem)
	}
	log.Infof(ctx, "available memory from cgroups is %s", humanizeutil.IBytes(cgAvlMem))
	return checkTotal(cgAvlMem)
}
