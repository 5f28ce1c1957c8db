package fs

import (
	"strconv"

	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
)

// Kernel defaults, written on replace when the spec leaves a field unset.
const (
	defaultCpuShares = 1024
	defaultCpuPeriod = 100000
	defaultCpuQuota  = -1
)

type CpuGroup struct{}

func (g *CpuGroup) Set(dir string, spec *specs.CpuSpec, replace bool) error {
	if spec.Shares != nil {
		if err := writeFileInt(dir, "cpu.shares", *spec.Shares); err != nil {
			return err
		}
	} else if replace {
		if err := writeFileInt(dir, "cpu.shares", defaultCpuShares); err != nil {
			return err
		}
	}
	if spec.Period != nil {
		if err := writeFileInt(dir, "cpu.cfs_period_us", *spec.Period); err != nil {
			return err
		}
	} else if replace {
		if err := writeFileInt(dir, "cpu.cfs_period_us", defaultCpuPeriod); err != nil {
			return err
		}
	}
	if spec.Quota != nil {
		if err := writeFileInt(dir, "cpu.cfs_quota_us", *spec.Quota); err != nil {
			return err
		}
	} else if replace {
		if err := writeFileInt(dir, "cpu.cfs_quota_us", defaultCpuQuota); err != nil {
			return err
		}
	}
	return nil
}

// Spec reconstructs the live cpu configuration from the control files.
func (g *CpuGroup) Spec(dir string) (*specs.CpuSpec, error) {
	shares, err := readFileUint(dir, "cpu.shares")
	if err != nil {
		return nil, err
	}
	period, err := readFileUint(dir, "cpu.cfs_period_us")
	if err != nil {
		return nil, err
	}
	quotaRaw, err := readFileString(dir, "cpu.cfs_quota_us")
	if err != nil {
		return nil, err
	}
	// quota can be -1, so it cannot go through readFileUint
	quota, err := strconv.ParseInt(quotaRaw, 10, 64)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "parse cpu.cfs_quota_us %q: %v", quotaRaw, err)
	}

	s, p := int64(shares), int64(period)
	return &specs.CpuSpec{Shares: &s, Period: &p, Quota: &quota}, nil
}

func (g *CpuGroup) GetStats(dir string, stats *cgroups.CpuStats) error {
	return forEachStatLine(dir, "cpu.stat", func(k string, v uint64) {
		switch k {
		case "nr_periods":
			stats.ThrottlingData.Periods = v
		case "nr_throttled":
			stats.ThrottlingData.ThrottledPeriods = v
		case "throttled_time":
			stats.ThrottlingData.ThrottledTime = v
		}
	})
}
