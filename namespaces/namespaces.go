// Package namespaces manages namespace jails: the set of OS namespaces
// created together for one virtual host, identified by its init process.
package namespaces

import (
	"github.com/mcontainer/libjail/specs"
)

// Type names one kernel namespace kind, matching /proc/<pid>/ns entries.
type Type string

const (
	TypePid  Type = "pid"
	TypeIpc  Type = "ipc"
	TypeMnt  Type = "mnt"
	TypeNet  Type = "net"
	TypeUser Type = "user"
)

// Controller drives one namespace jail.
//
// State machine: Created -> Valid -> Destroyed. After Destroy succeeds, or
// after the init process dies externally, IsValid reports false and every
// other operation fails.
type Controller interface {
	// Pid is the jail init's PID in the caller's namespace.
	Pid() int

	// Handle serializes enough identity (init PID plus the
	// device:inode of its pid namespace) to re-find this jail even if
	// the PID is later reused.
	Handle() string

	// Run spawns argv inside the jail's namespaces and returns its PID.
	// It blocks until the child is spawned, not until it exits.
	//
	// Errors:
	// InvalidArgument - empty argv or bad fd policy
	// NotFound - the jail is gone
	// FailedPrecondition - the child failed to start
	Run(argv []string, spec *specs.RunSpec) (int, error)

	// Exec replaces the calling process with argv inside the jail's
	// namespaces. On success it does not return.
	//
	// Errors:
	// InvalidArgument - empty argv
	// NotFound - the jail is gone
	// Internal - joining a namespace failed
	Exec(argv []string) error

	// Update reconfigures the jail. The set of active namespace types is
	// fixed at creation: a spec that re-specifies pid, ipc, mnt, user or
	// fs fails with Unimplemented, while updatable fields such as
	// network interface assignment are applied.
	//
	// Errors:
	// Unimplemented - spec names a namespace fixed at creation
	// NotFound - the jail is gone
	// Internal - applying an updatable field failed
	Update(spec *specs.NamespaceSpec) error

	// Destroy SIGKILLs init and waits for the process tree to drain.
	// On error the jail is in unknown state: it may be partially
	// destroyed, and the caller must not assume either way.
	Destroy() error

	// IsValid probes liveness: false after Destroy or external init
	// death.
	IsValid() bool
}

// Factory creates and re-attaches Controllers.
type Factory interface {
	// Create spawns an init process inside newly allocated namespaces.
	// The namespace set is selected by which sub-specs are present. An
	// empty initArgv runs the built-in init, which only reaps children.
	// On partial failure everything already created is torn down before
	// the error returns.
	//
	// Errors:
	// InvalidArgument - no namespace requested, or fs without mnt
	// Internal - spawn or namespace setup failure
	Create(spec *specs.NamespaceSpec, initArgv []string) (Controller, error)

	// Get re-attaches to the jail whose init is pid. The target must
	// actually be a jail init: its pid namespace boundary sits between
	// it and its parent.
	//
	// Errors:
	// NotFound - no such process, or not a jail init
	Get(pid int) (Controller, error)

	// GetFromHandle re-attaches via a string previously returned by
	// Controller.Handle, rejecting a reused PID.
	//
	// Errors:
	// InvalidArgument - malformed handle
	// NotFound - the jail behind the handle is gone
	GetFromHandle(handle string) (Controller, error)

	// NamespaceID returns an opaque identifier of pid's namespace of the
	// given type, usable only for equality: equal ids mean the same
	// namespace. pid 0 means the calling process.
	//
	// Errors:
	// NotFound - the process is gone
	NamespaceID(pid int, ns Type) (string, error)
}
