// Package libjail creates, inspects, updates and destroys machine-level
// containers built from pluggable resource handlers and an OS-namespace
// isolation layer, and runs processes inside them.
package libjail

import (
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/tasks"
)

// ContainerApi is the entry point of the runtime. InitMachine must have
// succeeded in this process before New.
//
// Administrative operations (Create, Destroy, and a Container's Update,
// Pause, Resume, KillAll) on one container name must be externally
// serialized by the owner; this library provides no cross-object or
// cross-process lock for them. Concurrent Creates of one name race at the
// kernel and the loser receives the kernel's error.
type ContainerApi interface {
	// Create builds a container and one resource handler per sub-spec
	// present in spec. The virtual-host handler, when requested, is
	// created first since later handlers may need the jail init to
	// exist. On partial failure every handler already created is
	// destroyed before the error returns.
	//
	// Errors:
	// InvalidArgument - bad name, nil spec, or malformed sub-spec
	// Unimplemented - spec nests a virtual host under another
	// Internal - kernel I/O failure
	Create(name string, spec *specs.ContainerSpec) (Container, error)

	// Get attaches to an existing container.
	//
	// Errors:
	// InvalidArgument - bad name
	// NotFound - no such container
	Get(name string) (Container, error)

	// Destroy tears the container down: all outstanding notifications
	// are unregistered, then the virtual-host handler (if any) is
	// destroyed first so the process tree is gone before the remaining
	// handlers are destroyed in ascending resource-type order. On
	// success ownership of container transfers to Destroy; every later
	// call through the stale reference returns NotFound.
	//
	// Errors:
	// InvalidArgument - container is the root container "/"
	// Internal - a handler failed; the container remains usable
	Destroy(container Container) error

	// Detect resolves which container's task set holds pid. pid 0 means
	// the calling process.
	//
	// Errors:
	// NotFound - the pid is in no known container
	Detect(pid int) (string, error)

	// Exists reports whether the named container exists.
	Exists(name string) bool
}

// Container is one handle onto an underlying OS-level container. Multiple
// Container values, possibly in different processes, may reference the same
// underlying container; state is synchronized at the kernel, not by
// in-process locking.
type Container interface {
	// Name is the container's absolute, slash-delimited name.
	Name() string

	// Update reconfigures isolated resources. Under UpdateDiff the spec
	// may only name resources already isolated; under UpdateReplace it
	// must name every isolated resource. The set of isolated resource
	// types cannot change through Update.
	//
	// A failing handler aborts the remaining fan-out: earlier handlers
	// stay updated, which is a documented weak guarantee, not a
	// transaction.
	//
	// Errors:
	// InvalidArgument - spec adds or drops an isolated resource type
	// NotFound - the container was destroyed
	Update(spec *specs.ContainerSpec, policy UpdatePolicy) error

	// Stats aggregates statistics from every handler into one result.
	//
	// Errors:
	// NotFound - the container was destroyed
	// Internal - kernel I/O failure
	Stats(kind StatsType) (*ContainerStats, error)

	// Spec reconstructs the container's spec from live kernel state.
	//
	// Errors:
	// NotFound - the container was destroyed
	// Internal - kernel I/O failure
	Spec() (*specs.ContainerSpec, error)

	// Enter moves tids into the container. The move is per-tid at the
	// kernel: a mid-way failure leaves earlier tids moved, a documented
	// risk.
	//
	// Errors:
	// InvalidArgument - empty tid list
	// NotFound - the container was destroyed
	Enter(tids []int) error

	// Run spawns command in the container and returns its PID. With a
	// virtual-host resource the command starts inside the jail's
	// namespaces. Blocks until the child is spawned, not until it
	// exits; reaping is the caller's concern.
	//
	// Errors:
	// InvalidArgument - empty command or unknown fd policy
	// NotFound - the container was destroyed
	// FailedPrecondition - the child failed to start
	Run(command []string, spec *specs.RunSpec) (int, error)

	// Exec replaces the calling process with command inside the
	// container. On success it does not return.
	//
	// Errors:
	// InvalidArgument - empty command
	// NotFound - the container was destroyed
	Exec(command []string) error

	// Pause freezes every process in the container. It re-checks for
	// late entrants after the freeze so no task racing Enter escapes,
	// and may block for seconds.
	//
	// Errors:
	// NotFound - the container was destroyed
	// Internal - the freezer did not converge
	Pause() error

	// Resume thaws a paused container.
	//
	// Errors:
	// NotFound - the container was destroyed
	Resume() error

	// KillAll SIGKILLs every process in the container, freezing first so
	// nothing can fork or enter mid-kill. May block for seconds.
	//
	// Errors:
	// NotFound - the container was destroyed
	// Internal - processes survived the kill budget
	KillAll() error

	// ListSubcontainers returns sorted absolute names of children.
	// Best-effort snapshot.
	//
	// Errors:
	// NotFound - the container was destroyed
	ListSubcontainers(policy tasks.ListPolicy) ([]string, error)

	// ListProcesses returns the sorted PIDs in the container.
	// Best-effort snapshot.
	//
	// Errors:
	// NotFound - the container was destroyed
	ListProcesses(policy tasks.ListPolicy) ([]int, error)

	// ListThreads returns the sorted TIDs in the container.
	// Best-effort snapshot.
	//
	// Errors:
	// NotFound - the container was destroyed
	ListThreads(policy tasks.ListPolicy) ([]int, error)

	// RegisterNotification hands spec to the one handler that
	// understands it and returns a process-unique id. The callback may
	// fire repeatedly until UnregisterNotification.
	//
	// Errors:
	// NotFound - no handler claims the event, or container destroyed
	RegisterNotification(spec *specs.EventSpec, callback EventCallback) (NotificationId, error)

	// UnregisterNotification stops deliveries for id.
	//
	// Errors:
	// NotFound - unknown id, or container destroyed
	UnregisterNotification(id NotificationId) error
}
