package libjail

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/namespaces"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
	"github.com/mcontainer/libjail/system"
	"github.com/mcontainer/libjail/tasks"
)

const (
	// detectInit re-takes its process snapshot at most this many times
	// while the tree keeps changing under it.
	detectInitRetryBudget = 10

	// backoff between snapshots so a dying tree is not busy-looped.
	detectInitBackoff = 10 * time.Millisecond
)

// procSource is the snapshot the init-detection crawl walks over. The real
// source reads /proc; tests substitute a fixed tree.
type procSource interface {
	// ParentPid reads a process's parent.
	//
	// Errors:
	// NotFound - the process is already gone (transient, retryable)
	// Internal - malformed process metadata
	ParentPid(pid int) (int, error)

	// NamespaceID returns pid's pid-namespace identity. pid 0 means the
	// calling process.
	//
	// Errors:
	// NotFound - the process is already gone
	NamespaceID(pid int) (string, error)
}

// virtualHostFactory builds and re-attaches the virtual-host resource
// handlers. It owns no jail itself; controllers come from nsFactory.
type virtualHostFactory struct {
	nsFactory    namespaces.Factory
	tasksFactory tasks.Factory
	procs        procSource
	log          *logrus.Entry
}

func newVirtualHostFactory(nsFactory namespaces.Factory, tasksFactory tasks.Factory) *virtualHostFactory {
	return &virtualHostFactory{
		nsFactory:    nsFactory,
		tasksFactory: tasksFactory,
		procs:        &realProcSource{ns: nsFactory},
		log:          logrus.WithField("subsystem", "virtualhost"),
	}
}

func (f *virtualHostFactory) Type() ResourceType { return ResourceVirtualHost }

// Create builds the namespace jail for a new virtual host. Only top-level
// containers can be virtual hosts; pid, ipc and mnt namespaces are always
// allocated, fs isolation when a rootfs is configured, net and user only
// when explicitly requested.
func (f *virtualHostFactory) Create(name string, spec *specs.ContainerSpec) (ResourceHandler, error) {
	if spec == nil || spec.VirtualHost == nil {
		return nil, status.Errorf(codes.InvalidArgument, "virtual_host spec required for %q", name)
	}
	if name == "/" {
		return nil, status.Errorf(codes.InvalidArgument, "the root container cannot become a virtual host")
	}
	if !isTopLevel(name) {
		return nil, status.Errorf(codes.Unimplemented, "hierarchical virtual hosts are not supported")
	}
	vh := spec.VirtualHost

	nsSpec := &specs.NamespaceSpec{
		Pid:     &specs.PidNamespaceSpec{},
		Ipc:     &specs.IpcNamespaceSpec{},
		Mnt:     &specs.MntNamespaceSpec{},
		Console: vh.Console,
	}
	if spec.Filesystem != nil {
		nsSpec.Mnt.Mounts = spec.Filesystem.Mounts
		if spec.Filesystem.Rootfs != nil {
			nsSpec.Fs = &specs.FsNamespaceSpec{Rootfs: *spec.Filesystem.Rootfs}
		}
	}
	if vh.Network != nil {
		nsSpec.Net = &specs.NetNamespaceSpec{Interfaces: vh.Network.Interfaces}
	}
	if vh.UserMap != nil {
		nsSpec.User = &specs.UserNamespaceSpec{UidMap: vh.UserMap.UidMap, GidMap: vh.UserMap.GidMap}
	}

	ctrl, err := f.nsFactory.Create(nsSpec, vh.InitArgv)
	if err != nil {
		return nil, status.Annotate(err, "create virtual host %q", name)
	}
	f.log.WithFields(logrus.Fields{"name": name, "init": ctrl.Pid()}).Debug("virtual host created")
	return &virtualHostHandler{name: name, controller: ctrl, nsFactory: f.nsFactory}, nil
}

// Get re-attaches to a running virtual host by locating its init. The root
// container binds to the system init directly.
func (f *virtualHostFactory) Get(name string) (ResourceHandler, error) {
	if name == "/" {
		ctrl, err := f.nsFactory.Get(1)
		if err != nil {
			return nil, err
		}
		return &virtualHostHandler{name: name, controller: ctrl, nsFactory: f.nsFactory}, nil
	}

	isVh, err := f.isVirtualHost(name)
	if err != nil {
		return nil, err
	}
	if !isVh {
		return nil, status.Errorf(codes.NotFound, "container %q is not isolated in a virtual host", name)
	}
	initPid, err := f.detectInit(name)
	if err != nil {
		return nil, err
	}
	ctrl, err := f.nsFactory.Get(initPid)
	if err != nil {
		return nil, err
	}
	return &virtualHostHandler{name: name, controller: ctrl, nsFactory: f.nsFactory}, nil
}

func (f *virtualHostFactory) Exists(name string) bool {
	if name == "/" {
		return true
	}
	isVh, err := f.isVirtualHost(name)
	return err == nil && isVh
}

// isVirtualHost reports whether the container's own pid namespace differs
// from the caller's. The root container is the system default and never a
// virtual host; deeper nesting is outside what the factory supports.
func (f *virtualHostFactory) isVirtualHost(name string) (bool, error) {
	if name == "/" {
		return false, nil
	}
	if !isTopLevel(name) {
		return false, status.Errorf(codes.Unimplemented, "hierarchical virtual hosts are not supported")
	}

	handler, err := f.tasksFactory.Get(name)
	if err != nil {
		return false, err
	}
	pids, err := handler.ListProcesses(tasks.ListSelf)
	if err != nil {
		return false, err
	}
	if len(pids) == 0 {
		if pids, err = handler.ListProcesses(tasks.ListRecursive); err != nil {
			return false, err
		}
	}
	// no processes means no evidence of isolation
	if len(pids) == 0 {
		return false, nil
	}

	selfNs, err := f.selfNamespace()
	if err != nil {
		return false, err
	}
	pidNs, err := f.procs.NamespaceID(pids[0])
	if err != nil {
		// surfaced as-is: the caller decides how to treat a process
		// that died mid-check
		return false, err
	}
	return pidNs != selfNs, nil
}

// detectInit finds the PID that is init of the container's virtual host:
// the process inside the container's pid namespace whose parent is outside
// it. The walk runs over snapshots of a tree that can change underneath,
// so each round re-lists and the whole search is bounded.
func (f *virtualHostFactory) detectInit(name string) (int, error) {
	if name == "/" {
		return 1, nil
	}
	selfNs, err := f.selfNamespace()
	if err != nil {
		return 0, err
	}
	handler, err := f.tasksFactory.Get(name)
	if err != nil {
		return 0, err
	}

	for attempt := 0; attempt < detectInitRetryBudget; attempt++ {
		if attempt > 0 {
			time.Sleep(detectInitBackoff)
		}

		frontier, err := listCrawlFrontier(handler)
		if err != nil {
			return 0, err
		}
		if len(frontier) == 0 {
			return 0, status.Errorf(codes.InvalidArgument, "container %q has no processes", name)
		}

		for len(frontier) > 0 {
			init, next, err := crawlStep(frontier, selfNs, f.procs)
			if err != nil {
				return 0, err
			}
			if init == 0 {
				frontier = next
				continue
			}

			// fencing: the candidate may have moved containers
			// between listing and now; require it still belongs to
			// the container being queried
			owner, err := f.tasksFactory.Detect(init)
			if err == nil && owner == name {
				return init, nil
			}
			f.log.WithFields(logrus.Fields{"name": name, "candidate": init}).
				Debug("init candidate moved during crawl, restarting")
			break
		}
	}
	return 0, status.Errorf(codes.Unavailable,
		"namespace identification of %q exceeded %d retries", name, detectInitRetryBudget)
}

// crawlStep is one pure pass over a frontier of candidate PIDs. It returns
// the init boundary if one is found (init's own namespace differs from the
// caller's while its parent's matches), otherwise the next frontier: the
// discovered parents still inside the foreign namespace. PIDs that vanish
// mid-step are dropped, to be retried from a fresh snapshot; failures on
// pid 0 or pid 1 are fatal.
func crawlStep(frontier []int, selfNs string, procs procSource) (init int, next []int, err error) {
	seen := make(map[int]bool)
	for _, pid := range frontier {
		parent, err := procs.ParentPid(pid)
		if err != nil {
			if transientCrawlError(pid, err) {
				continue
			}
			return 0, nil, err
		}
		pidNs, err := procs.NamespaceID(pid)
		if err != nil {
			if transientCrawlError(pid, err) {
				continue
			}
			return 0, nil, err
		}
		if pidNs == selfNs {
			// not inside a foreign namespace, cannot be its init
			continue
		}
		parentNs, err := procs.NamespaceID(parent)
		if err != nil {
			if transientCrawlError(parent, err) {
				continue
			}
			return 0, nil, err
		}
		if parentNs == selfNs {
			return pid, nil, nil
		}
		if !seen[parent] {
			seen[parent] = true
			next = append(next, parent)
		}
	}
	return 0, next, nil
}

// transientCrawlError reports whether a lookup failure for pid may be
// retried. A process reaped between listing and inspection is transient;
// pid 0 (self) and pid 1 (system init) failing is never tolerable.
func transientCrawlError(pid int, err error) bool {
	return pid > 1 && status.IsCode(err, codes.NotFound)
}

// listCrawlFrontier prefers the container's own cheap process list and
// falls back to the recursive one.
func listCrawlFrontier(handler tasks.Handler) ([]int, error) {
	pids, err := handler.ListProcesses(tasks.ListSelf)
	if err != nil {
		return nil, err
	}
	if len(pids) > 0 {
		return pids, nil
	}
	return handler.ListProcesses(tasks.ListRecursive)
}

func (f *virtualHostFactory) selfNamespace() (string, error) {
	selfNs, err := f.procs.NamespaceID(0)
	if err != nil {
		return "", status.Annotate(err, "read own pid namespace")
	}
	return selfNs, nil
}

func isTopLevel(name string) bool {
	return name != "/" && strings.Count(name, "/") == 1 && strings.HasPrefix(name, "/")
}

// realProcSource reads parent and namespace identity out of /proc.
type realProcSource struct {
	ns namespaces.Factory
}

func (s *realProcSource) NamespaceID(pid int) (string, error) {
	return s.ns.NamespaceID(pid, namespaces.TypePid)
}

// ParentPid distinguishes a vanished process (NotFound, retryable) from
// malformed process metadata (Internal, fatal for the crawl).
func (s *realProcSource) ParentPid(pid int) (int, error) {
	return system.ParentPid(pid)
}

// virtualHostHandler is the resource handler over one namespace jail. Most
// operations delegate to the controller; namespaces have no statistics and
// no events.
type virtualHostHandler struct {
	name       string
	controller namespaces.Controller

	// nsFactory is borrowed from the owning factory for namespace
	// identity lookups.
	nsFactory namespaces.Factory
}

func (h *virtualHostHandler) Type() ResourceType    { return ResourceVirtualHost }
func (h *virtualHostHandler) ContainerName() string { return h.name }

func (h *virtualHostHandler) CreateResource(spec *specs.ContainerSpec) error {
	// the jail was created together with the handler
	return nil
}

func (h *virtualHostHandler) Update(spec *specs.ContainerSpec, policy UpdatePolicy) error {
	// virtual-host-ness cannot change after creation, so any update that
	// re-specifies it is unsupported; an update not naming it has
	// nothing to do here
	if spec != nil && spec.VirtualHost != nil {
		return status.Errorf(codes.Unimplemented, "virtual host configuration cannot change after creation")
	}
	return nil
}

func (h *virtualHostHandler) Stats(kind StatsType, output *ContainerStats) error {
	return nil
}

func (h *virtualHostHandler) Spec(output *specs.ContainerSpec) error {
	output.VirtualHost = &specs.VirtualHostSpec{}
	return nil
}

func (h *virtualHostHandler) Destroy() error {
	return h.controller.Destroy()
}

func (h *virtualHostHandler) Delegate(uid, gid int) error {
	// nothing delegatable about a namespace jail
	return nil
}

func (h *virtualHostHandler) RegisterNotification(spec *specs.EventSpec, callback EventCallback) (NotificationId, error) {
	return 0, status.Errorf(codes.NotFound, "namespaces have no events")
}

func (h *virtualHostHandler) UnregisterNotification(id NotificationId) error {
	return status.Errorf(codes.NotFound, "unknown notification %d", id)
}

// Run spawns argv inside the jail's namespaces.
func (h *virtualHostHandler) Run(argv []string, spec *specs.RunSpec) (int, error) {
	return h.controller.Run(argv, spec)
}

// Exec replaces the calling process with argv inside the jail. On success
// it does not return.
func (h *virtualHostHandler) Exec(argv []string) error {
	return h.controller.Exec(argv)
}

// IsDifferentVirtualHost reports whether any of the tids lives in a pid
// namespace other than this virtual host's. An empty tid list is vacuously
// false; individual lookup failures are surfaced, never skipped.
func (h *virtualHostHandler) IsDifferentVirtualHost(tids []int) (bool, error) {
	if len(tids) == 0 {
		return false, nil
	}
	ownNs, err := h.nsFactory.NamespaceID(h.controller.Pid(), namespaces.TypePid)
	if err != nil {
		return false, err
	}
	for _, tid := range tids {
		tidNs, err := h.nsFactory.NamespaceID(tid, namespaces.TypePid)
		if err != nil {
			return false, err
		}
		if tidNs != ownNs {
			return true, nil
		}
	}
	return false, nil
}
