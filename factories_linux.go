package libjail

import (
	"os"
	"path/filepath"

	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
)

// cgroupHandlerFactory builds the handlers of one cgroup-backed resource
// kind out of that resource's hierarchy root.
type cgroupHandlerFactory struct {
	rtype ResourceType
	root  string

	// cpusetRoot is only set for the cpu factory, when the cpuset
	// hierarchy is mounted.
	cpusetRoot string
}

func (f *cgroupHandlerFactory) Type() ResourceType { return f.rtype }

func (f *cgroupHandlerFactory) Create(name string, spec *specs.ContainerSpec) (ResourceHandler, error) {
	h := f.newHandler(name)
	if err := h.CreateResource(spec); err != nil {
		return nil, err
	}
	if err := h.Update(spec, UpdateDiff); err != nil {
		h.Destroy()
		return nil, err
	}
	return h, nil
}

func (f *cgroupHandlerFactory) Get(name string) (ResourceHandler, error) {
	if !f.Exists(name) {
		return nil, status.Errorf(codes.NotFound, "container %q does not isolate %s", name, f.rtype)
	}
	return f.newHandler(name), nil
}

func (f *cgroupHandlerFactory) Exists(name string) bool {
	return cgroups.PathExists(f.root, name)
}

func (f *cgroupHandlerFactory) newHandler(name string) ResourceHandler {
	base := cgroupBase{name: name, rtype: f.rtype, dir: cgroups.AbsPath(f.root, name)}
	switch f.rtype {
	case ResourceCpu:
		h := &cpuHandler{cgroupBase: base}
		if f.cpusetRoot != "" {
			h.cpusetDir = cgroups.AbsPath(f.cpusetRoot, name)
		}
		return h
	case ResourceMemory:
		return &memoryHandler{cgroupBase: base}
	case ResourceBlockIo:
		return &blockIoHandler{cgroupBase: base}
	case ResourceNetwork:
		return &networkHandler{cgroupBase: base}
	case ResourceMonitoring:
		return &monitoringHandler{cgroupBase: base}
	case ResourceDevice:
		return &deviceHandler{cgroupBase: base}
	}
	panic("no cgroup handler for resource " + f.rtype.String())
}

// filesystemHandlerFactory keeps per-container filesystem state under one
// state root.
type filesystemHandlerFactory struct {
	stateRoot string
}

func (f *filesystemHandlerFactory) Type() ResourceType { return ResourceFilesystem }

func (f *filesystemHandlerFactory) Create(name string, spec *specs.ContainerSpec) (ResourceHandler, error) {
	h := f.newHandler(name)
	if err := h.CreateResource(spec); err != nil {
		return nil, err
	}
	if err := h.Update(spec, UpdateDiff); err != nil {
		h.Destroy()
		return nil, err
	}
	return h, nil
}

func (f *filesystemHandlerFactory) Get(name string) (ResourceHandler, error) {
	if !f.Exists(name) {
		return nil, status.Errorf(codes.NotFound, "container %q does not isolate filesystem", name)
	}
	return f.newHandler(name), nil
}

func (f *filesystemHandlerFactory) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(f.stateDir(name), fsStateFile))
	return err == nil
}

func (f *filesystemHandlerFactory) newHandler(name string) *filesystemHandler {
	return &filesystemHandler{name: name, stateDir: f.stateDir(name)}
}

func (f *filesystemHandlerFactory) stateDir(name string) string {
	return filepath.Join(f.stateRoot, filepath.FromSlash(name))
}
