package libjail

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/cgroups/fs"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
	"github.com/mcontainer/libjail/subprocess"
	"github.com/mcontainer/libjail/system"
	"github.com/mcontainer/libjail/tasks"
)

// killAllAttempts bounds the freeze/kill/thaw cycles of KillAll. Each
// cycle can only fail to converge if tasks keep entering the container.
const killAllAttempts = 20

// vhostRunner is the extra surface of the virtual-host handler that the
// container needs for spawning inside the jail. Discovered by assertion so
// non-isolated containers carry no namespace machinery.
type vhostRunner interface {
	Run(argv []string, spec *specs.RunSpec) (int, error)
	Exec(argv []string) error
	IsDifferentVirtualHost(tids []int) (bool, error)
}

// jailContainer is the Container implementation. Resource state lives in
// the kernel; the only in-process state is the notification registry and
// the destroyed tombstone, both guarded by mu.
type jailContainer struct {
	name     string
	handlers map[ResourceType]ResourceHandler
	tasks    tasks.Handler
	subproc  subprocess.Factory
	kernel   system.KernelApi
	log      *logrus.Entry

	freezer    *fs.FreezerGroup
	freezerDir string

	// trackingDir is this container's directory in the tracking
	// hierarchy; trackingRoot its mountpoint, for turning child
	// directories back into container names.
	trackingDir  string
	trackingRoot string

	mu        sync.Mutex
	destroyed bool
	notifs    map[NotificationId]notifBinding
}

func newJailContainer(name string, handlers map[ResourceType]ResourceHandler, taskHandler tasks.Handler, freezerDir, trackingDir, trackingRoot string) *jailContainer {
	return &jailContainer{
		name:         name,
		handlers:     handlers,
		tasks:        taskHandler,
		subproc:      subprocess.NewFactory(),
		kernel:       system.Default,
		log:          logrus.WithField("container", name),
		freezer:      &fs.FreezerGroup{},
		freezerDir:   freezerDir,
		trackingDir:  trackingDir,
		trackingRoot: trackingRoot,
		notifs:       make(map[NotificationId]notifBinding),
	}
}

func (c *jailContainer) Name() string { return c.name }

func (c *jailContainer) alive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return status.Errorf(codes.NotFound, "container %q was destroyed", c.name)
	}
	return nil
}

// handlerTypes returns the isolated resource types in ascending order,
// which puts the virtual host first.
func (c *jailContainer) handlerTypes() []ResourceType {
	types := make([]ResourceType, 0, len(c.handlers))
	for t := range c.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// specResources lists the resource types a spec names, by sub-spec
// presence.
func specResources(spec *specs.ContainerSpec) map[ResourceType]bool {
	present := make(map[ResourceType]bool)
	if spec.VirtualHost != nil {
		present[ResourceVirtualHost] = true
	}
	if spec.Cpu != nil {
		present[ResourceCpu] = true
	}
	if spec.Memory != nil {
		present[ResourceMemory] = true
	}
	if spec.BlockIo != nil {
		present[ResourceBlockIo] = true
	}
	if spec.Network != nil {
		present[ResourceNetwork] = true
	}
	if spec.Monitoring != nil {
		present[ResourceMonitoring] = true
	}
	if spec.Filesystem != nil {
		present[ResourceFilesystem] = true
	}
	if spec.Device != nil {
		present[ResourceDevice] = true
	}
	return present
}

func (c *jailContainer) Update(spec *specs.ContainerSpec, policy UpdatePolicy) error {
	if err := c.alive(); err != nil {
		return err
	}
	if spec == nil {
		return status.Errorf(codes.InvalidArgument, "nil spec")
	}

	present := specResources(spec)
	for t := range present {
		if _, ok := c.handlers[t]; !ok {
			return status.Errorf(codes.InvalidArgument,
				"update names resource %v which %q does not isolate", t, c.name)
		}
	}
	if policy == UpdateReplace {
		for _, t := range c.handlerTypes() {
			if !present[t] {
				return status.Errorf(codes.InvalidArgument,
					"replace update omits isolated resource %v of %q", t, c.name)
			}
		}
	}

	// a mid-way failure leaves earlier handlers updated
	for _, t := range c.handlerTypes() {
		if !present[t] {
			continue
		}
		if err := c.handlers[t].Update(spec, policy); err != nil {
			return status.Annotate(err, "update %v of %q", t, c.name)
		}
	}
	return nil
}

func (c *jailContainer) Stats(kind StatsType) (*ContainerStats, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	stats := &ContainerStats{}
	for _, t := range c.handlerTypes() {
		if err := c.handlers[t].Stats(kind, stats); err != nil {
			return nil, status.Annotate(err, "stats of %v of %q", t, c.name)
		}
	}
	return stats, nil
}

func (c *jailContainer) Spec() (*specs.ContainerSpec, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	spec := &specs.ContainerSpec{}
	for _, t := range c.handlerTypes() {
		if err := c.handlers[t].Spec(spec); err != nil {
			return nil, status.Annotate(err, "spec of %v of %q", t, c.name)
		}
	}
	return spec, nil
}

func (c *jailContainer) Enter(tids []int) error {
	if err := c.alive(); err != nil {
		return err
	}
	if len(tids) == 0 {
		return status.Errorf(codes.InvalidArgument, "no tids to enter into %q", c.name)
	}
	// entering cgroups does not move a task between pid namespaces, so
	// threads from another virtual host would end up half inside
	if vh, ok := c.handlers[ResourceVirtualHost].(vhostRunner); ok {
		different, err := vh.IsDifferentVirtualHost(tids)
		if err != nil {
			return err
		}
		if different {
			return status.Errorf(codes.InvalidArgument,
				"tids are in a different virtual host than %q", c.name)
		}
	}
	return c.tasks.Enter(tids)
}

func (c *jailContainer) Run(command []string, spec *specs.RunSpec) (int, error) {
	if err := c.alive(); err != nil {
		return 0, err
	}
	if len(command) == 0 {
		return 0, status.Errorf(codes.InvalidArgument, "empty command")
	}

	if vh, ok := c.handlers[ResourceVirtualHost].(vhostRunner); ok {
		pid, err := vh.Run(command, spec)
		if err != nil {
			return 0, err
		}
		if err := c.tasks.Enter([]int{pid}); err != nil {
			return pid, status.Annotate(err, "track pid %d in %q", pid, c.name)
		}
		c.log.WithField("pid", pid).Debug("spawned in virtual host")
		return pid, nil
	}

	proc, err := c.subproc.New(command, spec)
	if err != nil {
		return 0, err
	}
	if err := proc.Start(); err != nil {
		return 0, err
	}
	pid := proc.Pid()
	if err := c.tasks.Enter([]int{pid}); err != nil {
		return pid, status.Annotate(err, "track pid %d in %q", pid, c.name)
	}
	c.log.WithField("pid", pid).Debug("spawned")
	return pid, nil
}

func (c *jailContainer) Exec(command []string) error {
	if err := c.alive(); err != nil {
		return err
	}
	if len(command) == 0 {
		return status.Errorf(codes.InvalidArgument, "empty command")
	}
	// move ourselves in first so the exec'd image is already tracked
	if err := c.tasks.Enter([]int{0}); err != nil {
		return err
	}
	if vh, ok := c.handlers[ResourceVirtualHost].(vhostRunner); ok {
		return vh.Exec(command)
	}
	return c.kernel.Execvp(command[0], command, os.Environ())
}

func (c *jailContainer) Pause() error {
	if err := c.alive(); err != nil {
		return err
	}
	if err := c.freezer.Freeze(c.freezerDir, cgroups.Frozen); err != nil {
		return err
	}
	// a task that raced in through Enter lands in a frozen cgroup but
	// needs one more convergence pass to be observed frozen
	return c.freezer.Freeze(c.freezerDir, cgroups.Frozen)
}

func (c *jailContainer) Resume() error {
	if err := c.alive(); err != nil {
		return err
	}
	return c.freezer.Freeze(c.freezerDir, cgroups.Thawed)
}

// KillAll freezes the container so nothing can fork or escape, SIGKILLs
// everything it sees, thaws so the signals deliver, and repeats until the
// container is observed empty.
func (c *jailContainer) KillAll() error {
	if err := c.alive(); err != nil {
		return err
	}
	for i := 0; i < killAllAttempts; i++ {
		if err := c.freezer.Freeze(c.freezerDir, cgroups.Frozen); err != nil {
			return err
		}
		pids, err := c.tasks.ListProcesses(tasks.ListRecursive)
		if err != nil {
			c.freezer.Freeze(c.freezerDir, cgroups.Thawed)
			return err
		}
		for _, pid := range pids {
			if err := c.kernel.Kill(pid, unix.SIGKILL); err != nil && !status.IsCode(err, codes.NotFound) {
				c.freezer.Freeze(c.freezerDir, cgroups.Thawed)
				return err
			}
		}
		// frozen tasks take the SIGKILL on thaw
		if err := c.freezer.Freeze(c.freezerDir, cgroups.Thawed); err != nil {
			return err
		}
		if len(pids) == 0 {
			return nil
		}
	}
	return status.Errorf(codes.Internal, "processes in %q survived %d kill attempts", c.name, killAllAttempts)
}

func (c *jailContainer) ListSubcontainers(policy tasks.ListPolicy) ([]string, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	var names []string
	add := func(dir string) error {
		if dir == c.trackingDir {
			return nil
		}
		rel, err := filepath.Rel(c.trackingRoot, dir)
		if err != nil {
			return status.Errorf(codes.Internal, "container name of %s: %v", dir, err)
		}
		names = append(names, "/"+filepath.ToSlash(rel))
		return nil
	}

	switch policy {
	case tasks.ListSelf:
		children, err := fs.ListChildren(c.trackingDir)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if err := add(filepath.Join(c.trackingDir, child)); err != nil {
				return nil, err
			}
		}
	case tasks.ListRecursive:
		if err := fs.WalkChildren(c.trackingDir, add); err != nil {
			return nil, err
		}
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown list policy %d", policy)
	}
	sort.Strings(names)
	return names, nil
}

func (c *jailContainer) ListProcesses(policy tasks.ListPolicy) ([]int, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	return c.tasks.ListProcesses(policy)
}

func (c *jailContainer) ListThreads(policy tasks.ListPolicy) ([]int, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	return c.tasks.ListThreads(policy)
}

// RegisterNotification offers spec to each handler in ascending type order
// and binds to the first one that claims it.
func (c *jailContainer) RegisterNotification(spec *specs.EventSpec, callback EventCallback) (NotificationId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return 0, status.Errorf(codes.NotFound, "container %q was destroyed", c.name)
	}
	if spec == nil {
		return 0, status.Errorf(codes.InvalidArgument, "nil event spec")
	}
	for _, t := range c.handlerTypes() {
		handler := c.handlers[t]
		handlerId, err := handler.RegisterNotification(spec, callback)
		if err != nil {
			if status.IsCode(err, codes.NotFound) {
				continue
			}
			return 0, err
		}
		id := nextNotificationId()
		c.notifs[id] = notifBinding{handler: handler, handlerId: handlerId}
		return id, nil
	}
	return 0, status.Errorf(codes.NotFound, "no resource of %q understands the event", c.name)
}

func (c *jailContainer) UnregisterNotification(id NotificationId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return status.Errorf(codes.NotFound, "container %q was destroyed", c.name)
	}
	binding, ok := c.notifs[id]
	if !ok {
		return status.Errorf(codes.NotFound, "unknown notification %d on %q", id, c.name)
	}
	delete(c.notifs, id)
	return binding.handler.UnregisterNotification(binding.handlerId)
}

// destroy tears down every handler; the virtual host goes first so the
// process tree is gone before its resource state. Handler destroys are
// idempotent, so on failure the container stays usable and Destroy can be
// retried; the tombstone is only set once everything succeeded.
func (c *jailContainer) destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return status.Errorf(codes.NotFound, "container %q was destroyed", c.name)
	}

	for id, binding := range c.notifs {
		if err := binding.handler.UnregisterNotification(binding.handlerId); err != nil {
			c.log.WithField("notification", id).WithError(err).Warn("unregister during destroy")
		}
		delete(c.notifs, id)
	}

	var firstErr error
	for _, t := range c.handlerTypes() {
		if err := c.handlers[t].Destroy(); err != nil {
			c.log.WithField("resource", t.String()).WithError(err).Error("destroy failed")
			if firstErr == nil {
				firstErr = status.Annotate(err, "destroy %v of %q", t, c.name)
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	c.destroyed = true
	return nil
}

// containerNameValid enforces the naming grammar: absolute, slash
// delimited, component characters limited to word characters, dot and
// dash, no empty or dot-only components.
func containerNameValid(name string) bool {
	if name == "/" {
		return true
	}
	if !strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name[1:], "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
		for _, r := range part {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			case r == '_' || r == '-' || r == '.':
			default:
				return false
			}
		}
	}
	return true
}
