/*
Tests run against a mock of the cgroup filesystem built in a temp dir for
the duration of the test.
*/
package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
)

func int64p(v int64) *int64 { return &v }

// mockCgroup creates a fake cgroup dir pre-populated with control files.
func mockCgroup(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0700))
	}
	return dir
}

func contents(t *testing.T, dir, file string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, file))
	require.NoError(t, err)
	return string(raw)
}

func TestCpuSetDiffLeavesAbsentFields(t *testing.T) {
	dir := mockCgroup(t, map[string]string{
		"cpu.shares":        "1024",
		"cpu.cfs_period_us": "100000",
		"cpu.cfs_quota_us":  "-1",
	})

	g := &CpuGroup{}
	require.NoError(t, g.Set(dir, &specs.CpuSpec{Shares: int64p(512)}, false))

	assert.Equal(t, "512", contents(t, dir, "cpu.shares"))
	assert.Equal(t, "100000", contents(t, dir, "cpu.cfs_period_us"))
	assert.Equal(t, "-1", contents(t, dir, "cpu.cfs_quota_us"))
}

func TestCpuSetReplaceResetsAbsentFields(t *testing.T) {
	dir := mockCgroup(t, map[string]string{
		"cpu.shares":        "512",
		"cpu.cfs_period_us": "50000",
		"cpu.cfs_quota_us":  "25000",
	})

	g := &CpuGroup{}
	require.NoError(t, g.Set(dir, &specs.CpuSpec{Shares: int64p(2048)}, true))

	assert.Equal(t, "2048", contents(t, dir, "cpu.shares"))
	assert.Equal(t, "100000", contents(t, dir, "cpu.cfs_period_us"))
	assert.Equal(t, "-1", contents(t, dir, "cpu.cfs_quota_us"))
}

func TestCpuSpecRoundTrip(t *testing.T) {
	dir := mockCgroup(t, map[string]string{
		"cpu.shares":        "1024",
		"cpu.cfs_period_us": "100000",
		"cpu.cfs_quota_us":  "-1",
	})

	g := &CpuGroup{}
	require.NoError(t, g.Set(dir, &specs.CpuSpec{Shares: int64p(768), Quota: int64p(40000)}, false))

	spec, err := g.Spec(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(768), *spec.Shares)
	assert.Equal(t, int64(40000), *spec.Quota)
	assert.Equal(t, int64(100000), *spec.Period)
}

func TestCpuStats(t *testing.T) {
	dir := mockCgroup(t, map[string]string{
		"cpu.stat": "nr_periods 100\nnr_throttled 3\nthrottled_time 500000\n",
	})

	var stats cgroups.CpuStats
	require.NoError(t, (&CpuGroup{}).GetStats(dir, &stats))
	assert.Equal(t, uint64(100), stats.ThrottlingData.Periods)
	assert.Equal(t, uint64(3), stats.ThrottlingData.ThrottledPeriods)
	assert.Equal(t, uint64(500000), stats.ThrottlingData.ThrottledTime)
}

func TestMemoryStatsSummaryVsFull(t *testing.T) {
	dir := mockCgroup(t, map[string]string{
		"memory.usage_in_bytes":     "1000",
		"memory.max_usage_in_bytes": "2000",
		"memory.failcnt":            "1",
		"memory.limit_in_bytes":     "4096",
		"memory.stat":               "cache 100\nrss 900\n",
	})

	g := &MemoryGroup{}

	var summary cgroups.MemoryStats
	require.NoError(t, g.GetStats(dir, &summary, false))
	assert.Equal(t, uint64(1000), summary.Usage)
	assert.Nil(t, summary.Detail)

	var full cgroups.MemoryStats
	require.NoError(t, g.GetStats(dir, &full, true))
	assert.Equal(t, uint64(900), full.Detail["rss"])
	assert.Equal(t, uint64(100), full.Detail["cache"])
}

func TestBlkioWeightValidation(t *testing.T) {
	dir := mockCgroup(t, map[string]string{"blkio.weight": "500"})

	err := (&BlkioGroup{}).Set(dir, &specs.BlockIoSpec{Weight: int64p(5)}, false)
	assert.True(t, status.IsCode(err, codes.InvalidArgument))
}

func TestBlkioTotals(t *testing.T) {
	dir := mockCgroup(t, map[string]string{
		"blkio.throttle.io_service_bytes": "8:0 Read 4096\n8:0 Write 8192\nTotal 12288\n",
		"blkio.throttle.io_serviced":      "8:0 Read 1\n8:0 Write 2\nTotal 3\n",
	})

	var stats cgroups.BlkioStats
	require.NoError(t, (&BlkioGroup{}).GetStats(dir, &stats))
	assert.Equal(t, uint64(12288), stats.ServicedBytes)
	assert.Equal(t, uint64(3), stats.ServicedOps)
}

func TestDeviceRules(t *testing.T) {
	dir := mockCgroup(t, map[string]string{
		"devices.deny":  "",
		"devices.allow": "",
		"devices.list":  "c 1:3 rwm\nc 1:5 rwm\n",
	})

	deny := true
	spec := &specs.DeviceSpec{
		DenyAll: &deny,
		Allow:   []specs.DeviceRule{{Type: "c", Major: 1, Minor: 3, Access: "rwm"}},
	}
	require.NoError(t, (&DevicesGroup{}).Set(dir, spec, false))
	assert.Equal(t, "a", contents(t, dir, "devices.deny"))
	assert.Equal(t, "c 1:3 rwm", contents(t, dir, "devices.allow"))

	got, err := (&DevicesGroup{}).Spec(dir)
	require.NoError(t, err)
	require.Len(t, got.Allow, 2)
	assert.Equal(t, int64(5), got.Allow[1].Minor)
	require.NotNil(t, got.DenyAll)
	assert.True(t, *got.DenyAll)
}

func TestDeviceRuleValidation(t *testing.T) {
	dir := mockCgroup(t, nil)
	err := (&DevicesGroup{}).Set(dir, &specs.DeviceSpec{
		Allow: []specs.DeviceRule{{Type: "x", Major: 1, Minor: 1, Access: "rw"}},
	}, false)
	assert.True(t, status.IsCode(err, codes.InvalidArgument))
}

func TestReadPidsSorted(t *testing.T) {
	dir := mockCgroup(t, map[string]string{"cgroup.procs": "30\n10\n20\n"})

	pids, err := ReadPids(dir, "cgroup.procs")
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30}, pids)
}

func TestReadPidsMissingCgroup(t *testing.T) {
	_, err := ReadPids(filepath.Join(t.TempDir(), "gone"), "cgroup.procs")
	assert.True(t, status.IsCode(err, codes.NotFound))
}

func TestFreezerReachesState(t *testing.T) {
	dir := mockCgroup(t, map[string]string{"freezer.state": "THAWED"})

	// the mock fs reports whatever was written, so Freeze converges on the
	// first poll
	require.NoError(t, (&FreezerGroup{}).Freeze(dir, cgroups.Frozen))

	state, err := (&FreezerGroup{}).State(dir)
	require.NoError(t, err)
	assert.Equal(t, cgroups.Frozen, state)
}

func TestCpuacctStats(t *testing.T) {
	dir := mockCgroup(t, map[string]string{
		"cpuacct.usage":        "12345",
		"cpuacct.usage_percpu": "100 200 300",
	})

	var stats cgroups.AccountingStats
	require.NoError(t, (&CpuacctGroup{}).GetStats(dir, &stats, true))
	assert.Equal(t, uint64(12345), stats.TotalUsage)
	assert.Equal(t, []uint64{100, 200, 300}, stats.PerCpuUsage)
}
