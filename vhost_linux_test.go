package libjail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/namespaces"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
	"github.com/mcontainer/libjail/tasks"
)

// fakeProcs is a fixed process tree for the crawl.
type fakeProcs struct {
	parents map[int]int
	ns      map[int]string
	gone    map[int]bool
}

func (f *fakeProcs) ParentPid(pid int) (int, error) {
	if f.gone[pid] {
		return 0, status.Errorf(codes.NotFound, "process %d is gone", pid)
	}
	parent, ok := f.parents[pid]
	if !ok {
		return 0, status.Errorf(codes.NotFound, "process %d is gone", pid)
	}
	return parent, nil
}

func (f *fakeProcs) NamespaceID(pid int) (string, error) {
	if f.gone[pid] {
		return "", status.Errorf(codes.NotFound, "process %d is gone", pid)
	}
	id, ok := f.ns[pid]
	if !ok {
		return "", status.Errorf(codes.NotFound, "process %d is gone", pid)
	}
	return id, nil
}

type fakeTasksHandler struct {
	self      []int
	recursive []int
	entered   [][]int
}

func (h *fakeTasksHandler) ListProcesses(policy tasks.ListPolicy) ([]int, error) {
	if policy == tasks.ListSelf {
		return h.self, nil
	}
	return h.recursive, nil
}

func (h *fakeTasksHandler) ListThreads(policy tasks.ListPolicy) ([]int, error) {
	return h.ListProcesses(policy)
}

func (h *fakeTasksHandler) Enter(tids []int) error {
	if len(tids) == 0 {
		return status.Errorf(codes.InvalidArgument, "no tids")
	}
	h.entered = append(h.entered, tids)
	return nil
}

type fakeTasksFactory struct {
	handlers map[string]*fakeTasksHandler
	owner    map[int]string
}

func (f *fakeTasksFactory) Get(name string) (tasks.Handler, error) {
	h, ok := f.handlers[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "container %q does not exist", name)
	}
	return h, nil
}

func (f *fakeTasksFactory) Exists(name string) bool {
	_, ok := f.handlers[name]
	return ok
}

func (f *fakeTasksFactory) Detect(pid int) (string, error) {
	name, ok := f.owner[pid]
	if !ok {
		return "", status.Errorf(codes.NotFound, "pid %d is in no container", pid)
	}
	return name, nil
}

func testVhostFactory(procs *fakeProcs, tf *fakeTasksFactory) *virtualHostFactory {
	f := newVirtualHostFactory(nil, tf)
	f.procs = procs
	return f
}

func TestIsVirtualHostRoot(t *testing.T) {
	f := testVhostFactory(&fakeProcs{}, &fakeTasksFactory{})
	isVh, err := f.isVirtualHost("/")
	require.NoError(t, err)
	assert.False(t, isVh)
}

func TestIsVirtualHostNested(t *testing.T) {
	f := testVhostFactory(&fakeProcs{}, &fakeTasksFactory{})
	_, err := f.isVirtualHost("/a/b")
	assert.True(t, status.IsCode(err, codes.Unimplemented))
}

func TestIsVirtualHostByNamespace(t *testing.T) {
	procs := &fakeProcs{ns: map[int]string{0: "ns0", 100: "ns1", 200: "ns0"}}
	tf := &fakeTasksFactory{handlers: map[string]*fakeTasksHandler{
		"/isolated": {self: []int{100}},
		"/plain":    {self: []int{200}},
	}}
	f := testVhostFactory(procs, tf)

	isVh, err := f.isVirtualHost("/isolated")
	require.NoError(t, err)
	assert.True(t, isVh)

	isVh, err = f.isVirtualHost("/plain")
	require.NoError(t, err)
	assert.False(t, isVh)
}

func TestIsVirtualHostEmptyContainer(t *testing.T) {
	tf := &fakeTasksFactory{handlers: map[string]*fakeTasksHandler{"/empty": {}}}
	f := testVhostFactory(&fakeProcs{ns: map[int]string{0: "ns0"}}, tf)
	isVh, err := f.isVirtualHost("/empty")
	require.NoError(t, err)
	assert.False(t, isVh)
}

func TestIsVirtualHostSelfListFallsBackToRecursive(t *testing.T) {
	procs := &fakeProcs{ns: map[int]string{0: "ns0", 300: "ns1"}}
	tf := &fakeTasksFactory{handlers: map[string]*fakeTasksHandler{
		"/deep": {recursive: []int{300}},
	}}
	f := testVhostFactory(procs, tf)
	isVh, err := f.isVirtualHost("/deep")
	require.NoError(t, err)
	assert.True(t, isVh)
}

func TestDetectInitRoot(t *testing.T) {
	f := testVhostFactory(&fakeProcs{}, &fakeTasksFactory{})
	pid, err := f.detectInit("/")
	require.NoError(t, err)
	assert.Equal(t, 1, pid)
}

func TestDetectInitDirectChild(t *testing.T) {
	// 100 is init: its own namespace is foreign, its parent's is ours
	procs := &fakeProcs{
		parents: map[int]int{100: 50},
		ns:      map[int]string{0: "ns0", 50: "ns0", 100: "ns1"},
	}
	tf := &fakeTasksFactory{
		handlers: map[string]*fakeTasksHandler{"/test": {self: []int{100}}},
		owner:    map[int]string{100: "/test"},
	}
	pid, err := testVhostFactory(procs, tf).detectInit("/test")
	require.NoError(t, err)
	assert.Equal(t, 100, pid)
}

func TestDetectInitCrawlsToAncestor(t *testing.T) {
	// the listing only shows a grandchild; the crawl walks parents until
	// it finds the namespace boundary at 100
	procs := &fakeProcs{
		parents: map[int]int{300: 200, 200: 100, 100: 50},
		ns:      map[int]string{0: "ns0", 50: "ns0", 100: "ns1", 200: "ns1", 300: "ns1"},
	}
	tf := &fakeTasksFactory{
		handlers: map[string]*fakeTasksHandler{"/test": {self: []int{300}}},
		owner:    map[int]string{100: "/test", 200: "/test", 300: "/test"},
	}
	pid, err := testVhostFactory(procs, tf).detectInit("/test")
	require.NoError(t, err)
	assert.Equal(t, 100, pid)
}

func TestDetectInitNoProcesses(t *testing.T) {
	tf := &fakeTasksFactory{handlers: map[string]*fakeTasksHandler{"/test": {}}}
	_, err := testVhostFactory(&fakeProcs{ns: map[int]string{0: "ns0"}}, tf).detectInit("/test")
	assert.True(t, status.IsCode(err, codes.InvalidArgument))
}

func TestDetectInitRetryBudgetExhausted(t *testing.T) {
	// every listed pid is already gone, every snapshot comes up empty
	procs := &fakeProcs{
		ns:   map[int]string{0: "ns0"},
		gone: map[int]bool{200: true},
	}
	tf := &fakeTasksFactory{handlers: map[string]*fakeTasksHandler{"/test": {self: []int{200}}}}
	_, err := testVhostFactory(procs, tf).detectInit("/test")
	assert.True(t, status.IsCode(err, codes.Unavailable))
}

func TestDetectInitFencesMovedCandidate(t *testing.T) {
	// 100 looks like init but the membership check says it belongs to a
	// different container, so the search never accepts it
	procs := &fakeProcs{
		parents: map[int]int{100: 50},
		ns:      map[int]string{0: "ns0", 50: "ns0", 100: "ns1"},
	}
	tf := &fakeTasksFactory{
		handlers: map[string]*fakeTasksHandler{"/test": {self: []int{100}}},
		owner:    map[int]string{100: "/other"},
	}
	_, err := testVhostFactory(procs, tf).detectInit("/test")
	assert.True(t, status.IsCode(err, codes.Unavailable))
}

func TestDetectInitSystemInitLookupFatal(t *testing.T) {
	// parent is pid 1 and pid 1's namespace cannot be read; that is
	// never a transient condition
	procs := &fakeProcs{
		parents: map[int]int{100: 1},
		ns:      map[int]string{0: "ns0", 100: "ns1"},
		gone:    map[int]bool{1: true},
	}
	tf := &fakeTasksFactory{handlers: map[string]*fakeTasksHandler{"/test": {self: []int{100}}}}
	_, err := testVhostFactory(procs, tf).detectInit("/test")
	require.Error(t, err)
	assert.False(t, status.IsCode(err, codes.Unavailable))
}

func TestCrawlStepSkipsOwnNamespace(t *testing.T) {
	procs := &fakeProcs{
		parents: map[int]int{40: 30},
		ns:      map[int]string{30: "ns0", 40: "ns0"},
	}
	init, next, err := crawlStep([]int{40}, "ns0", procs)
	require.NoError(t, err)
	assert.Zero(t, init)
	assert.Empty(t, next)
}

func TestCrawlStepDeduplicatesParents(t *testing.T) {
	procs := &fakeProcs{
		parents: map[int]int{201: 100, 202: 100, 100: 50},
		ns:      map[int]string{50: "ns0", 100: "ns1", 201: "ns1", 202: "ns1"},
	}
	init, next, err := crawlStep([]int{201, 202}, "ns0", procs)
	require.NoError(t, err)
	assert.Zero(t, init)
	assert.Equal(t, []int{100}, next)
}

// fakeNsFactory serves namespace identity lookups for handler tests.
type fakeNsFactory struct {
	ns map[int]string
}

func (f *fakeNsFactory) Create(spec *specs.NamespaceSpec, initArgv []string) (namespaces.Controller, error) {
	return nil, status.Errorf(codes.Unimplemented, "not in this test")
}

func (f *fakeNsFactory) Get(pid int) (namespaces.Controller, error) {
	return nil, status.Errorf(codes.Unimplemented, "not in this test")
}

func (f *fakeNsFactory) GetFromHandle(handle string) (namespaces.Controller, error) {
	return nil, status.Errorf(codes.Unimplemented, "not in this test")
}

func (f *fakeNsFactory) NamespaceID(pid int, ns namespaces.Type) (string, error) {
	id, ok := f.ns[pid]
	if !ok {
		return "", status.Errorf(codes.NotFound, "process %d is gone", pid)
	}
	return id, nil
}

type fakeController struct {
	pid       int
	destroyed bool
	ran       [][]string
}

func (c *fakeController) Pid() int       { return c.pid }
func (c *fakeController) Handle() string { return "" }

func (c *fakeController) Run(argv []string, spec *specs.RunSpec) (int, error) {
	c.ran = append(c.ran, argv)
	return c.pid + 1, nil
}

func (c *fakeController) Exec(argv []string) error { return nil }

func (c *fakeController) Update(spec *specs.NamespaceSpec) error { return nil }

func (c *fakeController) Destroy() error {
	c.destroyed = true
	return nil
}

func (c *fakeController) IsValid() bool { return !c.destroyed }

func TestIsDifferentVirtualHost(t *testing.T) {
	nsf := &fakeNsFactory{ns: map[int]string{100: "ns1", 101: "ns1", 102: "ns0"}}
	h := &virtualHostHandler{
		name:       "/test",
		controller: &fakeController{pid: 100},
		nsFactory:  nsf,
	}

	different, err := h.IsDifferentVirtualHost(nil)
	require.NoError(t, err)
	assert.False(t, different, "empty tid list is vacuously false")

	different, err = h.IsDifferentVirtualHost([]int{101})
	require.NoError(t, err)
	assert.False(t, different)

	different, err = h.IsDifferentVirtualHost([]int{101, 102, 101})
	require.NoError(t, err)
	assert.True(t, different)

	_, err = h.IsDifferentVirtualHost([]int{999})
	assert.True(t, status.IsCode(err, codes.NotFound), "lookup failures surface, not skipped")
}

func TestVirtualHostHandlerUpdate(t *testing.T) {
	h := &virtualHostHandler{name: "/test", controller: &fakeController{pid: 100}}

	err := h.Update(&specs.ContainerSpec{VirtualHost: &specs.VirtualHostSpec{}}, UpdateDiff)
	assert.True(t, status.IsCode(err, codes.Unimplemented))

	assert.NoError(t, h.Update(&specs.ContainerSpec{Cpu: &specs.CpuSpec{}}, UpdateDiff))
}

func TestVirtualHostHandlerNotifications(t *testing.T) {
	h := &virtualHostHandler{name: "/test"}
	_, err := h.RegisterNotification(&specs.EventSpec{}, func(string, *specs.EventSpec) {})
	assert.True(t, status.IsCode(err, codes.NotFound))
	assert.True(t, status.IsCode(h.UnregisterNotification(7), codes.NotFound))
}

func TestVirtualHostFactoryCreateValidation(t *testing.T) {
	f := testVhostFactory(&fakeProcs{}, &fakeTasksFactory{})

	_, err := f.Create("/test", &specs.ContainerSpec{})
	assert.True(t, status.IsCode(err, codes.InvalidArgument), "virtual_host sub-spec is required")

	_, err = f.Create("/", &specs.ContainerSpec{VirtualHost: &specs.VirtualHostSpec{}})
	assert.True(t, status.IsCode(err, codes.InvalidArgument))

	_, err = f.Create("/a/b", &specs.ContainerSpec{VirtualHost: &specs.VirtualHostSpec{}})
	assert.True(t, status.IsCode(err, codes.Unimplemented))
}

func TestIsTopLevel(t *testing.T) {
	assert.True(t, isTopLevel("/test"))
	assert.False(t, isTopLevel("/"))
	assert.False(t, isTopLevel("/a/b"))
	assert.False(t, isTopLevel("test"))
}
