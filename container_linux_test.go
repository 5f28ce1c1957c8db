package libjail

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
	"github.com/mcontainer/libjail/tasks"
)

type mockHandler struct {
	rtype      ResourceType
	updates    []UpdatePolicy
	updateErr  error
	destroyErr error
	destroyed  bool
	statsFill  func(*ContainerStats)
	specFill   func(*specs.ContainerSpec)

	// events makes RegisterNotification claim every spec
	events       bool
	lastEventId  NotificationId
	unregistered []NotificationId
}

func (m *mockHandler) Type() ResourceType    { return m.rtype }
func (m *mockHandler) ContainerName() string { return "/test" }

func (m *mockHandler) CreateResource(spec *specs.ContainerSpec) error { return nil }

func (m *mockHandler) Update(spec *specs.ContainerSpec, policy UpdatePolicy) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates = append(m.updates, policy)
	return nil
}

func (m *mockHandler) Stats(kind StatsType, output *ContainerStats) error {
	if m.statsFill != nil {
		m.statsFill(output)
	}
	return nil
}

func (m *mockHandler) Spec(output *specs.ContainerSpec) error {
	if m.specFill != nil {
		m.specFill(output)
	}
	return nil
}

func (m *mockHandler) Destroy() error {
	if m.destroyErr != nil {
		return m.destroyErr
	}
	m.destroyed = true
	return nil
}

func (m *mockHandler) Delegate(uid, gid int) error { return nil }

func (m *mockHandler) RegisterNotification(spec *specs.EventSpec, callback EventCallback) (NotificationId, error) {
	if !m.events {
		return 0, status.Errorf(codes.NotFound, "no events here")
	}
	m.lastEventId++
	return m.lastEventId, nil
}

func (m *mockHandler) UnregisterNotification(id NotificationId) error {
	m.unregistered = append(m.unregistered, id)
	return nil
}

type mockVhostHandler struct {
	mockHandler
	runPid    int
	different bool
	execed    [][]string
}

func (m *mockVhostHandler) Run(argv []string, spec *specs.RunSpec) (int, error) {
	return m.runPid, nil
}

func (m *mockVhostHandler) Exec(argv []string) error {
	m.execed = append(m.execed, argv)
	return nil
}

func (m *mockVhostHandler) IsDifferentVirtualHost(tids []int) (bool, error) {
	return m.different, nil
}

type fakeKernel struct {
	killed []int
	exists map[int]bool
}

func (k *fakeKernel) Execvp(name string, argv, env []string) error {
	return status.Errorf(codes.Unimplemented, "no exec in tests")
}

func (k *fakeKernel) Setns(fd uintptr, nstype int) error { return nil }

func (k *fakeKernel) Kill(pid int, sig unix.Signal) error {
	k.killed = append(k.killed, pid)
	return nil
}

func (k *fakeKernel) SetITimerReal(d time.Duration) error { return nil }

func (k *fakeKernel) ProcessExists(pid int) bool { return k.exists[pid] }

// drainingTasksHandler serves one canned recursive listing per call.
type drainingTasksHandler struct {
	fakeTasksHandler
	lists [][]int
}

func (h *drainingTasksHandler) ListProcesses(policy tasks.ListPolicy) ([]int, error) {
	if len(h.lists) == 0 {
		return nil, nil
	}
	head := h.lists[0]
	h.lists = h.lists[1:]
	return head, nil
}

func testContainer(t *testing.T, handlers ...ResourceHandler) (*jailContainer, *fakeTasksHandler) {
	t.Helper()
	hm := make(map[ResourceType]ResourceHandler)
	for _, h := range handlers {
		hm[h.Type()] = h
	}
	th := &fakeTasksHandler{}
	root := t.TempDir()
	dir := filepath.Join(root, "test")
	require.NoError(t, os.MkdirAll(dir, 0755))
	c := newJailContainer("/test", hm, th, dir, dir, root)
	return c, th
}

func TestUpdateDiffRejectsUnisolatedResource(t *testing.T) {
	c, _ := testContainer(t, &mockHandler{rtype: ResourceCpu})
	err := c.Update(&specs.ContainerSpec{Memory: &specs.MemorySpec{}}, UpdateDiff)
	assert.True(t, status.IsCode(err, codes.InvalidArgument))
}

func TestUpdateReplaceRequiresEveryIsolatedResource(t *testing.T) {
	cpu := &mockHandler{rtype: ResourceCpu}
	mem := &mockHandler{rtype: ResourceMemory}
	c, _ := testContainer(t, cpu, mem)

	err := c.Update(&specs.ContainerSpec{Cpu: &specs.CpuSpec{}}, UpdateReplace)
	assert.True(t, status.IsCode(err, codes.InvalidArgument))
	assert.Empty(t, cpu.updates, "a rejected update touches nothing")

	spec := &specs.ContainerSpec{Cpu: &specs.CpuSpec{}, Memory: &specs.MemorySpec{}}
	require.NoError(t, c.Update(spec, UpdateReplace))
	assert.Equal(t, []UpdatePolicy{UpdateReplace}, cpu.updates)
	assert.Equal(t, []UpdatePolicy{UpdateReplace}, mem.updates)
}

func TestUpdatePartialFailureLeavesEarlierApplied(t *testing.T) {
	cpu := &mockHandler{rtype: ResourceCpu}
	mem := &mockHandler{rtype: ResourceMemory, updateErr: status.Errorf(codes.Internal, "boom")}
	c, _ := testContainer(t, cpu, mem)

	spec := &specs.ContainerSpec{Cpu: &specs.CpuSpec{}, Memory: &specs.MemorySpec{}}
	err := c.Update(spec, UpdateDiff)
	assert.True(t, status.IsCode(err, codes.Internal))
	assert.Len(t, cpu.updates, 1, "cpu comes before memory and stays updated")
}

func TestStatsAndSpecFanOut(t *testing.T) {
	cpu := &mockHandler{
		rtype:     ResourceCpu,
		statsFill: func(s *ContainerStats) { s.Cpu = &cgroups.CpuStats{} },
		specFill:  func(s *specs.ContainerSpec) { s.Cpu = &specs.CpuSpec{} },
	}
	mem := &mockHandler{
		rtype:     ResourceMemory,
		statsFill: func(s *ContainerStats) { s.Memory = &cgroups.MemoryStats{} },
		specFill:  func(s *specs.ContainerSpec) { s.Memory = &specs.MemorySpec{} },
	}
	c, _ := testContainer(t, cpu, mem)

	stats, err := c.Stats(StatsSummary)
	require.NoError(t, err)
	assert.NotNil(t, stats.Cpu)
	assert.NotNil(t, stats.Memory)
	assert.Nil(t, stats.BlockIo, "unisolated sections stay empty")

	spec, err := c.Spec()
	require.NoError(t, err)
	assert.NotNil(t, spec.Cpu)
	assert.NotNil(t, spec.Memory)
	assert.Nil(t, spec.Network)
}

func TestEnter(t *testing.T) {
	c, th := testContainer(t)
	assert.True(t, status.IsCode(c.Enter(nil), codes.InvalidArgument))

	require.NoError(t, c.Enter([]int{42, 43}))
	assert.Equal(t, [][]int{{42, 43}}, th.entered)
}

func TestEnterRejectsForeignVirtualHostThreads(t *testing.T) {
	vh := &mockVhostHandler{mockHandler: mockHandler{rtype: ResourceVirtualHost}, different: true}
	c, th := testContainer(t, vh)
	err := c.Enter([]int{42})
	assert.True(t, status.IsCode(err, codes.InvalidArgument))
	assert.Empty(t, th.entered)
}

func TestRunEmptyCommand(t *testing.T) {
	c, _ := testContainer(t)
	_, err := c.Run(nil, &specs.RunSpec{})
	assert.True(t, status.IsCode(err, codes.InvalidArgument))
}

func TestRunInVirtualHostTracksPid(t *testing.T) {
	vh := &mockVhostHandler{mockHandler: mockHandler{rtype: ResourceVirtualHost}, runPid: 777}
	c, th := testContainer(t, vh)

	pid, err := c.Run([]string{"/bin/true"}, &specs.RunSpec{FdPolicy: specs.FdInherit})
	require.NoError(t, err)
	assert.Equal(t, 777, pid)
	assert.Equal(t, [][]int{{777}}, th.entered)
}

func TestExecInVirtualHostEntersFirst(t *testing.T) {
	vh := &mockVhostHandler{mockHandler: mockHandler{rtype: ResourceVirtualHost}}
	c, th := testContainer(t, vh)

	assert.True(t, status.IsCode(c.Exec(nil), codes.InvalidArgument))

	require.NoError(t, c.Exec([]string{"/bin/sh"}))
	assert.Equal(t, [][]int{{0}}, th.entered, "the caller moves in before exec")
	assert.Equal(t, [][]string{{"/bin/sh"}}, vh.execed)
}

func TestPauseAndResume(t *testing.T) {
	c, _ := testContainer(t)
	require.NoError(t, c.Pause())
	raw, err := os.ReadFile(filepath.Join(c.freezerDir, "freezer.state"))
	require.NoError(t, err)
	assert.Equal(t, string(cgroups.Frozen), string(raw))

	require.NoError(t, c.Resume())
	raw, err = os.ReadFile(filepath.Join(c.freezerDir, "freezer.state"))
	require.NoError(t, err)
	assert.Equal(t, string(cgroups.Thawed), string(raw))
}

func TestKillAllConverges(t *testing.T) {
	c, _ := testContainer(t)
	th := &drainingTasksHandler{lists: [][]int{{10, 11}, {11}, nil}}
	c.tasks = th
	kernel := &fakeKernel{}
	c.kernel = kernel

	require.NoError(t, c.KillAll())
	assert.Equal(t, []int{10, 11, 11}, kernel.killed)

	raw, err := os.ReadFile(filepath.Join(c.freezerDir, "freezer.state"))
	require.NoError(t, err)
	assert.Equal(t, string(cgroups.Thawed), string(raw), "the cgroup ends thawed")
}

func TestListSubcontainers(t *testing.T) {
	c, _ := testContainer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(c.trackingDir, "b", "d"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(c.trackingDir, "a"), 0755))

	names, err := c.ListSubcontainers(tasks.ListSelf)
	require.NoError(t, err)
	assert.Equal(t, []string{"/test/a", "/test/b"}, names)

	names, err = c.ListSubcontainers(tasks.ListRecursive)
	require.NoError(t, err)
	assert.Equal(t, []string{"/test/a", "/test/b", "/test/b/d"}, names)
}

func TestNotificationRegistry(t *testing.T) {
	mem := &mockHandler{rtype: ResourceMemory, events: true}
	cpu := &mockHandler{rtype: ResourceCpu}
	c, _ := testContainer(t, cpu, mem)

	cb := func(string, *specs.EventSpec) {}
	id1, err := c.RegisterNotification(&specs.EventSpec{Oom: &specs.OomEvent{}}, cb)
	require.NoError(t, err)
	id2, err := c.RegisterNotification(&specs.EventSpec{Oom: &specs.OomEvent{}}, cb)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2, "ids are unique")

	require.NoError(t, c.UnregisterNotification(id1))
	assert.True(t, status.IsCode(c.UnregisterNotification(id1), codes.NotFound))
	assert.True(t, status.IsCode(c.UnregisterNotification(9999), codes.NotFound))
}

func TestNotificationUnclaimed(t *testing.T) {
	c, _ := testContainer(t, &mockHandler{rtype: ResourceCpu})
	_, err := c.RegisterNotification(&specs.EventSpec{}, func(string, *specs.EventSpec) {})
	assert.True(t, status.IsCode(err, codes.NotFound))
}

func TestDestroyTombstonesContainer(t *testing.T) {
	cpu := &mockHandler{rtype: ResourceCpu}
	c, _ := testContainer(t, cpu)
	require.NoError(t, c.destroy())
	assert.True(t, cpu.destroyed)

	assert.True(t, status.IsCode(c.destroy(), codes.NotFound))
	assert.True(t, status.IsCode(c.Update(&specs.ContainerSpec{}, UpdateDiff), codes.NotFound))
	_, err := c.Stats(StatsSummary)
	assert.True(t, status.IsCode(err, codes.NotFound))
	_, err = c.Spec()
	assert.True(t, status.IsCode(err, codes.NotFound))
	assert.True(t, status.IsCode(c.Enter([]int{1}), codes.NotFound))
	_, err = c.Run([]string{"/bin/true"}, nil)
	assert.True(t, status.IsCode(err, codes.NotFound))
	assert.True(t, status.IsCode(c.Pause(), codes.NotFound))
	assert.True(t, status.IsCode(c.Resume(), codes.NotFound))
	assert.True(t, status.IsCode(c.KillAll(), codes.NotFound))
	_, err = c.ListProcesses(tasks.ListSelf)
	assert.True(t, status.IsCode(err, codes.NotFound))
	_, err = c.RegisterNotification(&specs.EventSpec{}, func(string, *specs.EventSpec) {})
	assert.True(t, status.IsCode(err, codes.NotFound))
}

func TestDestroyFailureLeavesContainerUsable(t *testing.T) {
	cpu := &mockHandler{rtype: ResourceCpu, destroyErr: status.Errorf(codes.Internal, "busy")}
	c, _ := testContainer(t, cpu)

	err := c.destroy()
	assert.True(t, status.IsCode(err, codes.Internal))
	assert.NoError(t, c.alive(), "a failed destroy does not tombstone")

	cpu.destroyErr = nil
	require.NoError(t, c.destroy())
	assert.True(t, status.IsCode(c.alive(), codes.NotFound))
}

func TestDestroyDropsNotifications(t *testing.T) {
	mem := &mockHandler{rtype: ResourceMemory, events: true}
	c, _ := testContainer(t, mem)
	_, err := c.RegisterNotification(&specs.EventSpec{Oom: &specs.OomEvent{}}, func(string, *specs.EventSpec) {})
	require.NoError(t, err)

	require.NoError(t, c.destroy())
	assert.Len(t, mem.unregistered, 1)
}

func TestContainerNameValid(t *testing.T) {
	for _, name := range []string{"/", "/a", "/a/b", "/a-b_c.d/e42"} {
		assert.True(t, containerNameValid(name), name)
	}
	for _, name := range []string{"", "a", "/a/", "//", "/a//b", "/.", "/..", "/a b", "/a+b"} {
		assert.False(t, containerNameValid(name), name)
	}
}
