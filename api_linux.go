package libjail

import (
	"sort"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/cgroups/fs"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
)

type jailApi struct {
	m   *machine
	log *logrus.Entry
}

func newJailApi(m *machine) *jailApi {
	return &jailApi{m: m, log: logrus.WithField("subsystem", "api")}
}

func (a *jailApi) trackingDir(name string) string {
	return cgroups.AbsPath(a.m.trackingRoot, name)
}

func (a *jailApi) freezerDir(name string) string {
	return cgroups.AbsPath(a.m.roots["freezer"], name)
}

func (a *jailApi) Create(name string, spec *specs.ContainerSpec) (Container, error) {
	if !containerNameValid(name) {
		return nil, status.Errorf(codes.InvalidArgument, "invalid container name %q", name)
	}
	if name == "/" {
		return nil, status.Errorf(codes.InvalidArgument, "the root container always exists")
	}
	if spec == nil {
		return nil, status.Errorf(codes.InvalidArgument, "nil spec")
	}
	if a.m.tasksFactory.Exists(name) {
		return nil, status.Errorf(codes.InvalidArgument, "container %q already exists", name)
	}

	present := specResources(spec)
	order := make([]ResourceType, 0, len(present))
	for t := range present {
		if _, ok := a.m.factories[t]; !ok {
			return nil, status.Errorf(codes.InvalidArgument,
				"resource %v is unavailable on this machine", t)
		}
		order = append(order, t)
	}
	// virtual host first so later handlers can see the jail init
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	if err := fs.Create(a.trackingDir(name)); err != nil {
		return nil, err
	}
	if err := fs.Create(a.freezerDir(name)); err != nil {
		fs.Remove(a.trackingDir(name))
		return nil, err
	}

	handlers := make(map[ResourceType]ResourceHandler, len(order))
	rollback := func() {
		types := make([]ResourceType, 0, len(handlers))
		for t := range handlers {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] > types[j] })
		for _, t := range types {
			if err := handlers[t].Destroy(); err != nil {
				a.log.WithField("resource", t.String()).WithError(err).Warn("rollback destroy")
			}
		}
		fs.Remove(a.freezerDir(name))
		fs.Remove(a.trackingDir(name))
	}

	for _, t := range order {
		handler, err := a.m.factories[t].Create(name, spec)
		if err != nil {
			rollback()
			return nil, status.Annotate(err, "create %v of %q", t, name)
		}
		handlers[t] = handler
	}

	taskHandler, err := a.m.tasksFactory.Get(name)
	if err != nil {
		rollback()
		return nil, err
	}
	a.log.WithField("container", name).Info("created")
	return newJailContainer(name, handlers, taskHandler, a.freezerDir(name), a.trackingDir(name), a.m.trackingRoot), nil
}

func (a *jailApi) Get(name string) (Container, error) {
	if !containerNameValid(name) {
		return nil, status.Errorf(codes.InvalidArgument, "invalid container name %q", name)
	}
	if name != "/" && !a.m.tasksFactory.Exists(name) {
		return nil, status.Errorf(codes.NotFound, "container %q does not exist", name)
	}

	handlers := make(map[ResourceType]ResourceHandler)
	for t, factory := range a.m.factories {
		// the root container is the system default, never a jail
		if t == ResourceVirtualHost && name == "/" {
			continue
		}
		if !factory.Exists(name) {
			continue
		}
		handler, err := factory.Get(name)
		if err != nil {
			if status.IsCode(err, codes.NotFound) {
				continue
			}
			return nil, err
		}
		handlers[t] = handler
	}

	taskHandler, err := a.m.tasksFactory.Get(name)
	if err != nil {
		return nil, err
	}
	return newJailContainer(name, handlers, taskHandler, a.freezerDir(name), a.trackingDir(name), a.m.trackingRoot), nil
}

func (a *jailApi) Destroy(container Container) error {
	c, ok := container.(*jailContainer)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "foreign container implementation")
	}
	if c.name == "/" {
		return status.Errorf(codes.InvalidArgument, "the root container cannot be destroyed")
	}

	if err := c.destroy(); err != nil {
		return err
	}
	// bookkeeping dirs go last; the handlers already released their state
	if err := fs.Remove(a.freezerDir(c.name)); err != nil {
		return err
	}
	if err := fs.Remove(a.trackingDir(c.name)); err != nil {
		return err
	}
	a.log.WithField("container", c.name).Info("destroyed")
	return nil
}

func (a *jailApi) Detect(pid int) (string, error) {
	return a.m.tasksFactory.Detect(pid)
}

func (a *jailApi) Exists(name string) bool {
	if !containerNameValid(name) {
		return false
	}
	return name == "/" || a.m.tasksFactory.Exists(name)
}
