package libjail

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"

	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/cgroups/fs"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
)

// cgroupBase carries what every cgroup-backed handler shares: the container
// name and the handler's directory inside its hierarchy.
type cgroupBase struct {
	name  string
	rtype ResourceType
	dir   string
}

func (b *cgroupBase) Type() ResourceType    { return b.rtype }
func (b *cgroupBase) ContainerName() string { return b.name }

func (b *cgroupBase) CreateResource(spec *specs.ContainerSpec) error {
	return fs.Create(b.dir)
}

func (b *cgroupBase) Destroy() error {
	return fs.Remove(b.dir)
}

func (b *cgroupBase) Delegate(uid, gid int) error {
	return fs.Delegate(b.dir, uid, gid)
}

func (b *cgroupBase) RegisterNotification(spec *specs.EventSpec, callback EventCallback) (NotificationId, error) {
	return 0, status.Errorf(codes.NotFound, "%s resource has no events", b.rtype)
}

func (b *cgroupBase) UnregisterNotification(id NotificationId) error {
	return status.Errorf(codes.NotFound, "unknown notification %d", id)
}

// cpuHandler drives the cpu hierarchy, plus cpuset when a mask is used.
type cpuHandler struct {
	cgroupBase
	group     fs.CpuGroup
	cpusetDir string // empty when the cpuset hierarchy is unavailable
}

func (h *cpuHandler) CreateResource(spec *specs.ContainerSpec) error {
	if err := fs.Create(h.dir); err != nil {
		return err
	}
	if h.cpusetDir != "" {
		if err := fs.Create(h.cpusetDir); err != nil {
			return err
		}
		if err := (&fs.CpusetGroup{}).Create(h.cpusetDir, filepath.Dir(h.cpusetDir)); err != nil {
			return err
		}
	}
	return nil
}

func (h *cpuHandler) Update(spec *specs.ContainerSpec, policy UpdatePolicy) error {
	cpu := spec.Cpu
	if cpu == nil {
		cpu = &specs.CpuSpec{}
	}
	if cpu.Mask != nil {
		if h.cpusetDir == "" {
			return status.Errorf(codes.InvalidArgument, "cpu mask requested but cpuset hierarchy is not mounted")
		}
		if err := (&fs.CpusetGroup{}).Set(h.cpusetDir, cpu, policy == UpdateReplace); err != nil {
			return err
		}
	}
	return h.group.Set(h.dir, cpu, policy == UpdateReplace)
}

func (h *cpuHandler) Stats(kind StatsType, output *ContainerStats) error {
	output.Cpu = &cgroups.CpuStats{}
	return h.group.GetStats(h.dir, output.Cpu)
}

func (h *cpuHandler) Spec(output *specs.ContainerSpec) error {
	spec, err := h.group.Spec(h.dir)
	if err != nil {
		return err
	}
	if h.cpusetDir != "" {
		mask, err := (&fs.CpusetGroup{}).Mask(h.cpusetDir)
		if err != nil {
			return err
		}
		if mask != "" {
			spec.Mask = &mask
		}
	}
	output.Cpu = spec
	return nil
}

func (h *cpuHandler) Destroy() error {
	if h.cpusetDir != "" {
		if err := fs.Remove(h.cpusetDir); err != nil {
			return err
		}
	}
	return fs.Remove(h.dir)
}

// memoryHandler drives the memory hierarchy and is the one cgroup handler
// with real events (oom, usage thresholds).
type memoryHandler struct {
	cgroupBase
	group fs.MemoryGroup

	mu     sync.Mutex
	events map[NotificationId]func()
}

func (h *memoryHandler) Update(spec *specs.ContainerSpec, policy UpdatePolicy) error {
	mem := spec.Memory
	if mem == nil {
		mem = &specs.MemorySpec{}
	}
	return h.group.Set(h.dir, mem, policy == UpdateReplace)
}

func (h *memoryHandler) Stats(kind StatsType, output *ContainerStats) error {
	output.Memory = &cgroups.MemoryStats{}
	return h.group.GetStats(h.dir, output.Memory, kind == StatsFull)
}

func (h *memoryHandler) Spec(output *specs.ContainerSpec) error {
	spec, err := h.group.Spec(h.dir)
	if err != nil {
		return err
	}
	output.Memory = spec
	return nil
}

func (h *memoryHandler) RegisterNotification(spec *specs.EventSpec, callback EventCallback) (NotificationId, error) {
	var target, args string
	switch {
	case spec == nil:
		return 0, status.Errorf(codes.InvalidArgument, "nil event spec")
	case spec.Oom != nil:
		target = "memory.oom_control"
	case spec.MemoryThreshold != nil:
		if spec.MemoryThreshold.Usage <= 0 {
			return 0, status.Errorf(codes.InvalidArgument, "bad memory threshold %d", spec.MemoryThreshold.Usage)
		}
		target = "memory.usage_in_bytes"
		args = strconv.FormatInt(spec.MemoryThreshold.Usage, 10)
	default:
		return 0, status.Errorf(codes.NotFound, "memory resource does not understand this event")
	}

	ch, stop, err := h.group.RegisterEvent(h.dir, target, args)
	if err != nil {
		return 0, err
	}
	id := nextNotificationId()

	h.mu.Lock()
	if h.events == nil {
		h.events = make(map[NotificationId]func())
	}
	h.events[id] = stop
	h.mu.Unlock()

	go func() {
		// multi-fire: the channel closes only when stop is called or
		// the cgroup goes away
		for range ch {
			callback(h.name, spec)
		}
	}()
	return id, nil
}

func (h *memoryHandler) UnregisterNotification(id NotificationId) error {
	h.mu.Lock()
	stop, ok := h.events[id]
	delete(h.events, id)
	h.mu.Unlock()
	if !ok {
		return status.Errorf(codes.NotFound, "unknown notification %d", id)
	}
	stop()
	return nil
}

func (h *memoryHandler) Destroy() error {
	h.mu.Lock()
	for id, stop := range h.events {
		stop()
		delete(h.events, id)
	}
	h.mu.Unlock()
	return fs.Remove(h.dir)
}

type blockIoHandler struct {
	cgroupBase
	group fs.BlkioGroup
}

func (h *blockIoHandler) Update(spec *specs.ContainerSpec, policy UpdatePolicy) error {
	blockio := spec.BlockIo
	if blockio == nil {
		blockio = &specs.BlockIoSpec{}
	}
	return h.group.Set(h.dir, blockio, policy == UpdateReplace)
}

func (h *blockIoHandler) Stats(kind StatsType, output *ContainerStats) error {
	output.BlockIo = &cgroups.BlkioStats{}
	return h.group.GetStats(h.dir, output.BlockIo)
}

func (h *blockIoHandler) Spec(output *specs.ContainerSpec) error {
	spec, err := h.group.Spec(h.dir)
	if err != nil {
		return err
	}
	output.BlockIo = spec
	return nil
}

type networkHandler struct {
	cgroupBase
	group fs.NetClsGroup
}

func (h *networkHandler) Update(spec *specs.ContainerSpec, policy UpdatePolicy) error {
	network := spec.Network
	if network == nil {
		network = &specs.NetworkSpec{}
	}
	return h.group.Set(h.dir, network, policy == UpdateReplace)
}

func (h *networkHandler) Stats(kind StatsType, output *ContainerStats) error {
	output.Network = &cgroups.NetworkStats{}
	return h.group.GetStats(h.dir, output.Network)
}

func (h *networkHandler) Spec(output *specs.ContainerSpec) error {
	spec, err := h.group.Spec(h.dir)
	if err != nil {
		return err
	}
	output.Network = spec
	return nil
}

// monitoringHandler only accounts; there is nothing to configure beyond
// creating the accounting cgroup.
type monitoringHandler struct {
	cgroupBase
	group fs.CpuacctGroup
}

func (h *monitoringHandler) Update(spec *specs.ContainerSpec, policy UpdatePolicy) error {
	return nil
}

func (h *monitoringHandler) Stats(kind StatsType, output *ContainerStats) error {
	output.Monitoring = &cgroups.AccountingStats{}
	return h.group.GetStats(h.dir, output.Monitoring, kind == StatsFull)
}

func (h *monitoringHandler) Spec(output *specs.ContainerSpec) error {
	enable := true
	output.Monitoring = &specs.MonitoringSpec{Enable: &enable}
	return nil
}

type deviceHandler struct {
	cgroupBase
	group fs.DevicesGroup
}

func (h *deviceHandler) Update(spec *specs.ContainerSpec, policy UpdatePolicy) error {
	device := spec.Device
	if device == nil {
		device = &specs.DeviceSpec{}
	}
	return h.group.Set(h.dir, device, policy == UpdateReplace)
}

func (h *deviceHandler) Stats(kind StatsType, output *ContainerStats) error {
	return nil
}

func (h *deviceHandler) Spec(output *specs.ContainerSpec) error {
	spec, err := h.group.Spec(h.dir)
	if err != nil {
		return err
	}
	output.Device = spec
	return nil
}

// filesystemHandler has no cgroup surface. Rootfs and mounts are consumed
// by the virtual-host jail at creation; what remains is remembered in a
// state file so Spec can reconstruct it.
type filesystemHandler struct {
	name     string
	stateDir string
}

const fsStateFile = "filesystem.json"

func (h *filesystemHandler) Type() ResourceType    { return ResourceFilesystem }
func (h *filesystemHandler) ContainerName() string { return h.name }

func (h *filesystemHandler) CreateResource(spec *specs.ContainerSpec) error {
	if err := os.MkdirAll(h.stateDir, 0700); err != nil {
		return status.Errorf(codes.Internal, "create state dir %s: %v", h.stateDir, err)
	}
	return h.writeState(spec.Filesystem)
}

func (h *filesystemHandler) Update(spec *specs.ContainerSpec, policy UpdatePolicy) error {
	filesystem := spec.Filesystem
	if filesystem == nil {
		filesystem = &specs.FilesystemSpec{}
	}
	current, err := h.readState()
	if err != nil {
		return err
	}
	// the mount layout is fixed once the jail exists; re-stating the
	// current layout is a no-op, anything else cannot be expressed
	if filesystem.Rootfs != nil && (current.Rootfs == nil || *filesystem.Rootfs != *current.Rootfs) {
		return status.Errorf(codes.Unimplemented, "rootfs cannot change after creation")
	}
	if policy == UpdateReplace && filesystem.Rootfs == nil && current.Rootfs != nil {
		return status.Errorf(codes.Unimplemented, "rootfs cannot be reset after creation")
	}
	if len(filesystem.Mounts) > 0 && !reflect.DeepEqual(filesystem.Mounts, current.Mounts) {
		return status.Errorf(codes.Unimplemented, "mounts cannot change after creation")
	}
	if filesystem.FdLimit != nil || policy == UpdateReplace {
		current.FdLimit = filesystem.FdLimit
		return h.writeState(current)
	}
	return nil
}

func (h *filesystemHandler) Stats(kind StatsType, output *ContainerStats) error {
	return nil
}

func (h *filesystemHandler) Spec(output *specs.ContainerSpec) error {
	state, err := h.readState()
	if err != nil {
		return err
	}
	output.Filesystem = state
	return nil
}

func (h *filesystemHandler) Destroy() error {
	if err := os.RemoveAll(h.stateDir); err != nil {
		return status.Errorf(codes.Internal, "remove state dir %s: %v", h.stateDir, err)
	}
	return nil
}

func (h *filesystemHandler) Delegate(uid, gid int) error {
	return nil
}

func (h *filesystemHandler) RegisterNotification(spec *specs.EventSpec, callback EventCallback) (NotificationId, error) {
	return 0, status.Errorf(codes.NotFound, "filesystem resource has no events")
}

func (h *filesystemHandler) UnregisterNotification(id NotificationId) error {
	return status.Errorf(codes.NotFound, "unknown notification %d", id)
}

func (h *filesystemHandler) writeState(spec *specs.FilesystemSpec) error {
	if spec == nil {
		spec = &specs.FilesystemSpec{}
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return status.Errorf(codes.Internal, "encode filesystem state: %v", err)
	}
	if err := os.WriteFile(filepath.Join(h.stateDir, fsStateFile), raw, 0600); err != nil {
		return status.Errorf(codes.Internal, "write filesystem state: %v", err)
	}
	return nil
}

func (h *filesystemHandler) readState() (*specs.FilesystemSpec, error) {
	raw, err := os.ReadFile(filepath.Join(h.stateDir, fsStateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.Errorf(codes.NotFound, "container %q does not isolate filesystem", h.name)
		}
		return nil, status.Errorf(codes.Internal, "read filesystem state: %v", err)
	}
	var spec specs.FilesystemSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, status.Errorf(codes.Internal, "decode filesystem state: %v", err)
	}
	return &spec, nil
}
