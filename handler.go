package libjail

import (
	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/specs"
)

// ResourceType tags the resource kinds a container can isolate. One
// ResourceHandler exists per (container, type) pair.
type ResourceType int

const (
	ResourceVirtualHost ResourceType = iota
	ResourceCpu
	ResourceMemory
	ResourceBlockIo
	ResourceNetwork
	ResourceMonitoring
	ResourceFilesystem
	ResourceDevice
)

func (t ResourceType) String() string {
	switch t {
	case ResourceVirtualHost:
		return "virtual_host"
	case ResourceCpu:
		return "cpu"
	case ResourceMemory:
		return "memory"
	case ResourceBlockIo:
		return "blockio"
	case ResourceNetwork:
		return "network"
	case ResourceMonitoring:
		return "monitoring"
	case ResourceFilesystem:
		return "filesystem"
	case ResourceDevice:
		return "device"
	}
	return "unknown"
}

// UpdatePolicy selects how an Update merges into live state.
type UpdatePolicy int

const (
	// UpdateDiff applies only the fields present in the spec and leaves
	// everything else untouched.
	UpdateDiff UpdatePolicy = iota

	// UpdateReplace makes the live state exactly equal the spec; fields
	// the spec leaves unset revert to their defaults.
	UpdateReplace
)

// StatsType selects how much a Stats call reads.
type StatsType int

const (
	// StatsSummary is the cheap, commonly-needed counters.
	StatsSummary StatsType = iota

	// StatsFull is exhaustive and implies extra kernel I/O.
	StatsFull
)

// ContainerStats aggregates statistics across resource handlers. Each
// handler fills only its own section, so one value can be shared by a
// fan-out without coordination.
type ContainerStats struct {
	Cpu        *cgroups.CpuStats        `json:"cpu,omitempty"`
	Memory     *cgroups.MemoryStats     `json:"memory,omitempty"`
	BlockIo    *cgroups.BlkioStats      `json:"blockio,omitempty"`
	Network    *cgroups.NetworkStats    `json:"network,omitempty"`
	Monitoring *cgroups.AccountingStats `json:"monitoring,omitempty"`
}

// NotificationId is a process-scoped unique handle for one registered
// notification.
type NotificationId uint64

// EventCallback receives event deliveries. It may be invoked repeatedly
// until the notification is unregistered, and must not call back into the
// libjail API.
type EventCallback func(containerName string, spec *specs.EventSpec)

// ResourceHandler isolates one resource kind for one container. Handlers
// are owned by their Container and are never constructed by users.
type ResourceHandler interface {
	// Type is the resource kind this handler owns.
	Type() ResourceType

	// ContainerName is the absolute name of the owning container.
	ContainerName() string

	// CreateResource performs the one-time setup when the container is
	// first created. It is called exactly once, immediately followed by
	// an Update with the same spec.
	//
	// Errors:
	// Internal - kernel I/O failure
	CreateResource(spec *specs.ContainerSpec) error

	// Update applies this handler's portion of spec under the given
	// policy.
	//
	// Errors:
	// InvalidArgument - malformed spec fields
	// Internal - kernel I/O failure
	Update(spec *specs.ContainerSpec, policy UpdatePolicy) error

	// Stats writes this handler's section of output. Other handlers
	// write disjoint sections of the same value.
	//
	// Errors:
	// Internal - kernel I/O failure
	Stats(kind StatsType, output *ContainerStats) error

	// Spec reconstructs this resource's portion of a ContainerSpec from
	// live kernel state, not from the create-time spec. May cost as much
	// as a full stats read.
	//
	// Errors:
	// Internal - kernel I/O failure
	Spec(output *specs.ContainerSpec) error

	// Destroy releases the kernel state behind this handler. The handler
	// must not be used afterward.
	//
	// Errors:
	// Internal - kernel I/O failure
	Destroy() error

	// Delegate hands the resource's control surface to uid/gid so they
	// can manage child resources unprivileged. A no-op for resources
	// with nothing delegatable.
	//
	// Errors:
	// Internal - kernel I/O failure
	Delegate(uid, gid int) error

	// RegisterNotification arranges for callback to be invoked, possibly
	// repeatedly, whenever the event named by spec fires.
	//
	// Errors:
	// NotFound - this handler understands no event in spec
	// InvalidArgument - malformed event arguments
	RegisterNotification(spec *specs.EventSpec, callback EventCallback) (NotificationId, error)

	// UnregisterNotification stops deliveries for id.
	//
	// Errors:
	// NotFound - unknown id
	UnregisterNotification(id NotificationId) error
}

// ResourceHandlerFactory builds the handlers of one resource kind.
type ResourceHandlerFactory interface {
	// Type is the resource kind this factory builds handlers for.
	Type() ResourceType

	// Create sets up isolation for a new container and returns its
	// handler. The returned handler has had CreateResource and an
	// initial diff Update applied.
	//
	// Errors:
	// InvalidArgument - spec is malformed for this resource
	// Internal - kernel I/O failure
	Create(name string, spec *specs.ContainerSpec) (ResourceHandler, error)

	// Get attaches a handler to existing isolation state.
	//
	// Errors:
	// NotFound - the container does not isolate this resource
	Get(name string) (ResourceHandler, error)

	// Exists reports whether the named container isolates this resource.
	Exists(name string) bool
}
