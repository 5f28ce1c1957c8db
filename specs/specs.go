// Package specs defines the configuration records exchanged with the libjail
// API. Sub-messages are pointers: a present sub-message means "isolate this
// resource" or "touch this field", a nil one means "inherit" or "leave alone".
package specs

// ContainerSpec configures one container. Each sub-spec that is present
// selects the corresponding resource for isolation.
type ContainerSpec struct {
	Cpu         *CpuSpec         `json:"cpu,omitempty"`
	Memory      *MemorySpec      `json:"memory,omitempty"`
	BlockIo     *BlockIoSpec     `json:"blockio,omitempty"`
	Network     *NetworkSpec     `json:"network,omitempty"`
	Monitoring  *MonitoringSpec  `json:"monitoring,omitempty"`
	Filesystem  *FilesystemSpec  `json:"filesystem,omitempty"`
	Device      *DeviceSpec      `json:"device,omitempty"`
	VirtualHost *VirtualHostSpec `json:"virtual_host,omitempty"`
}

type CpuSpec struct {
	// Shares is the relative weight of this container on a contended CPU.
	Shares *int64 `json:"shares,omitempty"`

	// Period and Quota bound the container's CPU bandwidth, in microseconds
	// per period.
	Period *int64 `json:"period,omitempty"`
	Quota  *int64 `json:"quota,omitempty"`

	// Mask restricts the container to a set of CPUs, in cpuset list format.
	Mask *string `json:"mask,omitempty"`
}

type MemorySpec struct {
	// Limit is the hard memory limit in bytes.
	Limit *int64 `json:"limit,omitempty"`

	// SwapLimit bounds memory+swap in bytes.
	SwapLimit *int64 `json:"swap_limit,omitempty"`

	// Reservation is the soft limit applied under global memory pressure.
	Reservation *int64 `json:"reservation,omitempty"`
}

type BlockIoSpec struct {
	// Weight is the proportional block IO weight, 10-1000.
	Weight *int64 `json:"weight,omitempty"`
}

type NetworkSpec struct {
	// ClassId tags packets from this container for traffic control.
	ClassId *int64 `json:"class_id,omitempty"`

	// Interfaces are host interfaces to hand to the container's network
	// namespace, if it has one.
	Interfaces []string `json:"interfaces,omitempty"`
}

type MonitoringSpec struct {
	// Enable turns on per-container usage accounting.
	Enable *bool `json:"enable,omitempty"`
}

type FilesystemSpec struct {
	// Rootfs is the path that becomes / for a virtual host.
	Rootfs *string `json:"rootfs,omitempty"`

	// Mounts are set up inside the virtual host's mount namespace.
	Mounts []Mount `json:"mounts,omitempty"`

	// FdLimit bounds the number of open files per process.
	FdLimit *int64 `json:"fd_limit,omitempty"`
}

type Mount struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type,omitempty"`
	Data   string `json:"data,omitempty"`
}

type DeviceSpec struct {
	// DenyAll revokes access to every device not explicitly allowed.
	DenyAll *bool `json:"deny_all,omitempty"`

	// Allow lists device access rules applied after DenyAll.
	Allow []DeviceRule `json:"allow,omitempty"`
}

// DeviceRule is one cgroup device rule: type is "a", "b" or "c", major or
// minor of -1 means "any", access is a subset of "rwm".
type DeviceRule struct {
	Type   string `json:"type"`
	Major  int64  `json:"major"`
	Minor  int64  `json:"minor"`
	Access string `json:"access"`
}

type VirtualHostSpec struct {
	// InitArgv is the command run as the virtual host's init. Empty means
	// the built-in init, which only reaps children.
	InitArgv []string `json:"init_argv,omitempty"`

	// Console configures the init's stdio.
	Console *ConsoleSpec `json:"console,omitempty"`

	// Network requests a network namespace for the virtual host.
	Network *VirtualHostNetwork `json:"network,omitempty"`

	// UserMap requests a user namespace with the given mappings.
	UserMap *UserMapSpec `json:"user_map,omitempty"`
}

type ConsoleSpec struct {
	// SlavePty attaches init's stdio to an existing pty slave path.
	SlavePty *string `json:"slave_pty,omitempty"`
}

type VirtualHostNetwork struct {
	// Interfaces are host interfaces moved into the new network namespace.
	Interfaces []string `json:"interfaces,omitempty"`
}

type UserMapSpec struct {
	UidMap []IdMap `json:"uid_map,omitempty"`
	GidMap []IdMap `json:"gid_map,omitempty"`
}

type IdMap struct {
	Inside  int64 `json:"inside"`
	Outside int64 `json:"outside"`
	Count   int64 `json:"count"`
}

// FdPolicy controls how a spawned process inherits file descriptors.
type FdPolicy int

const (
	// FdUnknown is the unset policy and is rejected.
	FdUnknown FdPolicy = iota

	// FdInherit duplicates the parent's stdio and inherits higher fds.
	FdInherit

	// FdDetached starts a new session with stdio on /dev/null.
	FdDetached
)

func (p FdPolicy) String() string {
	switch p {
	case FdInherit:
		return "inherit"
	case FdDetached:
		return "detached"
	}
	return "unknown"
}

// RunSpec configures process execution inside a container.
type RunSpec struct {
	FdPolicy FdPolicy `json:"fd_policy,omitempty"`
}

// EventSpec names one event to be notified about. Exactly one sub-message
// should be present.
type EventSpec struct {
	// Oom fires when the kernel OOM killer acts inside the container.
	Oom *OomEvent `json:"oom,omitempty"`

	// MemoryThreshold fires when usage crosses the given number of bytes.
	MemoryThreshold *MemoryThresholdEvent `json:"memory_threshold,omitempty"`
}

type OomEvent struct{}

type MemoryThresholdEvent struct {
	Usage int64 `json:"usage"`
}

// MachineSpec configures machine bootstrap.
type MachineSpec struct {
	// CgroupRoot overrides the mount root under which per-resource
	// hierarchies are found. Defaults to the mounts in /proc/self/mountinfo.
	CgroupRoot *string `json:"cgroup_root,omitempty"`

	// StateRoot is where per-container bookkeeping that has no kernel
	// representation is kept. Defaults to /var/lib/libjail.
	StateRoot *string `json:"state_root,omitempty"`
}

// NamespaceSpec selects the namespaces of a jail and their setup. A present
// sub-message allocates that namespace type; absent means share the parent's.
type NamespaceSpec struct {
	Pid  *PidNamespaceSpec  `json:"pid,omitempty"`
	Ipc  *IpcNamespaceSpec  `json:"ipc,omitempty"`
	Mnt  *MntNamespaceSpec  `json:"mnt,omitempty"`
	Net  *NetNamespaceSpec  `json:"net,omitempty"`
	User *UserNamespaceSpec `json:"user,omitempty"`
	Fs   *FsNamespaceSpec   `json:"fs,omitempty"`

	// Console configures the jail init's stdio.
	Console *ConsoleSpec `json:"console,omitempty"`
}

type PidNamespaceSpec struct{}

type IpcNamespaceSpec struct{}

type MntNamespaceSpec struct {
	Mounts []Mount `json:"mounts,omitempty"`
}

type NetNamespaceSpec struct {
	// Interfaces are host interfaces moved into the namespace after the
	// init process exists.
	Interfaces []string `json:"interfaces,omitempty"`
}

type UserNamespaceSpec struct {
	UidMap []IdMap `json:"uid_map,omitempty"`
	GidMap []IdMap `json:"gid_map,omitempty"`
}

type FsNamespaceSpec struct {
	// Rootfs becomes / inside the jail.
	Rootfs string `json:"rootfs,omitempty"`
}
