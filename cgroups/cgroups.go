// Package cgroups holds the statistics records filled in by the per-resource
// handlers and the discovery of where each cgroup hierarchy is mounted.
package cgroups

import (
	"os"
	"path/filepath"

	"github.com/prometheus/procfs"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/status"
)

// ThrottlingData reports CPU bandwidth throttling.
type ThrottlingData struct {
	Periods          uint64 `json:"periods"`
	ThrottledPeriods uint64 `json:"throttled_periods"`
	ThrottledTime    uint64 `json:"throttled_time"`
}

type CpuStats struct {
	ThrottlingData ThrottlingData `json:"throttling_data"`
}

type MemoryStats struct {
	// Usage and MaxUsage are in bytes.
	Usage    uint64 `json:"usage"`
	MaxUsage uint64 `json:"max_usage"`
	Failcnt  uint64 `json:"failcnt"`
	Limit    uint64 `json:"limit"`

	// Detail holds the full memory.stat contents. Only filled for full
	// stats queries, it costs an extra kernel read.
	Detail map[string]uint64 `json:"detail,omitempty"`
}

type BlkioStats struct {
	ServicedBytes uint64 `json:"serviced_bytes"`
	ServicedOps   uint64 `json:"serviced_ops"`
}

type NetworkStats struct {
	ClassId uint64 `json:"class_id"`
}

// AccountingStats is cpuacct usage reported by the monitoring handler.
type AccountingStats struct {
	TotalUsage  uint64   `json:"total_usage"`
	PerCpuUsage []uint64 `json:"per_cpu_usage,omitempty"`
}

// FreezerState is the contents of freezer.state.
type FreezerState string

const (
	Frozen FreezerState = "FROZEN"
	Thawed FreezerState = "THAWED"
)

// FindMountpoint returns the mount root of the hierarchy carrying the given
// subsystem, per /proc/self/mountinfo.
func FindMountpoint(subsystem string) (string, error) {
	self, err := procfs.Self()
	if err != nil {
		return "", status.Errorf(codes.Internal, "open /proc/self: %v", err)
	}
	mounts, err := self.MountInfo()
	if err != nil {
		return "", status.Errorf(codes.Internal, "read mountinfo: %v", err)
	}
	for _, m := range mounts {
		if m.FSType != "cgroup" {
			continue
		}
		if _, ok := m.SuperOptions[subsystem]; ok {
			return m.MountPoint, nil
		}
	}
	return "", status.Errorf(codes.NotFound, "cgroup subsystem %q not mounted", subsystem)
}

// AbsPath maps a container name onto a path inside the given hierarchy root.
// Container names are absolute, so "/" is the hierarchy root itself.
func AbsPath(root, name string) string {
	return filepath.Join(root, filepath.FromSlash(name))
}

// PathExists reports whether a container's directory exists in a hierarchy.
func PathExists(root, name string) bool {
	_, err := os.Stat(AbsPath(root, name))
	return err == nil
}
