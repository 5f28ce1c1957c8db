package fs

import (
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/status"
)

// CpuacctGroup backs the monitoring handler: it only accounts, there is
// nothing to configure.
type CpuacctGroup struct{}

func (g *CpuacctGroup) GetStats(dir string, stats *cgroups.AccountingStats, full bool) error {
	usage, err := readFileUint(dir, "cpuacct.usage")
	if err != nil {
		return err
	}
	stats.TotalUsage = usage
	if !full {
		return nil
	}

	raw, err := readFileString(dir, "cpuacct.usage_percpu")
	if err != nil {
		return err
	}
	for _, field := range strings.Fields(raw) {
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return status.Errorf(codes.Internal, "parse cpuacct.usage_percpu %q: %v", field, err)
		}
		stats.PerCpuUsage = append(stats.PerCpuUsage, v)
	}
	return nil
}
