// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cgroups retrieves the memory limit imposed on the current process
// by a cgroup (v1 or v2), if any.
package cgroups

import (
	"bufio"
	"bytes"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	defaultCGroupRootPath    = "/sys/fs/cgroup"
	cgroupV1MemorySubsystem  = "memory"
	cgroupV1MemLimitFilename = "memory.limit_in_bytes"
	cgroupV2MemLimitFilename = "memory.max"
)

// GetCgroupMemoryLimit attempts to retrieve the memory limit for the current
// process in bytes. The limit is the tightest one found between the process'
// cgroup and the root of the hierarchy. Cgroups are assumed to be mounted at
// the conventional /sys/fs/cgroup path.
func GetCgroupMemoryLimit() (limit int64, warnings string, err error) {
	return getCgroupMem("/")
}

// treeRoot is set to "/" in production code and exists only for testing.
func getCgroupMem(treeRoot string) (limit int64, warnings string, err error) {
	procCgroupFile := filepath.Join(treeRoot, "proc", strconv.Itoa(os.Getpid()), "cgroup")
	cgroupPath, isV2, err := parseMemoryPathFromProcCgroupFile(procCgroupFile)
	if err != nil {
		return 0, "", errors.Wrap(err, "failed to read memory cgroup from cgroups file")
	}
	cgroupRoot := filepath.Join(treeRoot, defaultCGroupRootPath)
	memoryLimitFile := cgroupV2MemLimitFilename
	if !isV2 {
		cgroupRoot = filepath.Join(cgroupRoot, cgroupV1MemorySubsystem)
		memoryLimitFile = cgroupV1MemLimitFilename
	}

	// Limits apply at every level of the hierarchy; walk up from the
	// process' cgroup and keep the tightest one.
	limit = math.MinInt64
	var parseErrors []error
	for p := cgroupPath; true; p = filepath.Dir(p) {
		limitFilePath := filepath.Join(cgroupRoot, p, memoryLimitFile)
		if read, err := parseCgroupLimitFile(limitFilePath); err != nil {
			if pe := new(os.PathError); !errors.As(err, &pe) {
				parseErrors = append(parseErrors, err)
			}
		} else if limit == math.MinInt64 || read < limit {
			limit = read
		}
		if p == "/" || p == "." {
			break
		}
	}
	if limit == math.MinInt64 {
		if len(parseErrors) == 0 {
			return 0, "", errors.New("failed to find cgroup memory limit")
		}
		return 0, "", parseErrors[0]
	}
	return limit, joinErrorsForWarning(parseErrors), nil
}

// parseMemoryPathFromProcCgroupFile determines the path for the cgroup which
// contains the memory subsystem from the provided path to a cgroup file.
//
// From man 7 cgroups, each line of /proc/[pid]/cgroup holds three
// colon-separated fields:
//
//	hierarchy-ID:controller-list:cgroup-path
//
// For cgroups version 1 hierarchies the first field is a unique hierarchy ID
// and the second a comma-separated list of bound controllers. For the cgroups
// version 2 hierarchy the first field is 0 and the second is empty. The third
// field is the pathname of the control group, relative to the hierarchy's
// mount point.
func parseMemoryPathFromProcCgroupFile(
	procCgroupFilePath string,
) (memoryCgroupPath string, isUnified bool, err error) {
	f, err := os.Open(procCgroupFilePath)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = f.Close() }()
	scanner := bufio.NewScanner(f) // scan lines
	var unifiedPath string
	for scanner.Scan() {
		row := scanner.Bytes()
		matches := rowRegexp.FindSubmatchIndex(row)
		if matches == nil {
			continue
		}
		if string(row[matches[2]:matches[3]]) == "0" {
			unifiedPath = string(row[matches[6]:matches[7]])
			continue
		}
		if !hasMemoryController(string(row[matches[4]:matches[5]])) {
			continue
		}
		return string(row[matches[6]:matches[7]]), false, nil
	}
	if unifiedPath != "" {
		return unifiedPath, true, nil
	}
	return "", false, errors.New("failed to find memory cgroup, must not be in one")
}

// see parseMemoryPathFromProcCgroupFile.
var rowRegexp = regexp.MustCompile(`(\d+):(.*):(.*)`)

// hasMemoryController reports whether the comma-separated controller list
// names the memory controller.
func hasMemoryController(controllers string) bool {
	for _, c := range strings.Split(controllers, ",") {
		if c == cgroupV1MemorySubsystem {
			return true
		}
	}
	return false
}

func joinErrorsForWarning(errs []error) string {
	var buf strings.Builder
	for _, err := range errs {
		if buf.Len() == 0 {
			buf.WriteString("failed to read some cgroup files: ")
		} else {
			buf.WriteString("; ")
		}
		buf.WriteString(err.Error())
	}
	return buf.String()
}

// parseCgroupLimitFile reads and parses a decimal integer from the provided
// file path. The value "max" stands for no limit.
func parseCgroupLimitFile(limitFilePath string) (limit int64, err error) {
	var buf []byte
	if buf, err = os.ReadFile(limitFilePath); err != nil {
		return 0, errors.Wrapf(err, "can't read available memory from cgroup at %s", limitFilePath)
	}
	trimmed := string(bytes.TrimSpace(buf))
	if trimmed == "max" {
		return math.MaxInt64, nil
	}
	limit, err = strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "can't read available memory from cgroup at %s", limitFilePath)
	}
	return limit, nil
}
