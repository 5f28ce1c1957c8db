// Package tasks tracks which processes and threads belong to which
// container, backed by one cgroup hierarchy's membership files.
package tasks

// ListPolicy selects how deep a listing goes.
type ListPolicy int

const (
	// ListSelf lists only the container's own tasks, not subcontainers'.
	ListSelf ListPolicy = iota

	// ListRecursive includes every subcontainer.
	ListRecursive
)

// Handler tracks the tasks of one container.
//
// Listings are best-effort snapshots: returned ids may already be dead by
// the time the caller inspects them.
type Handler interface {
	// ListProcesses returns the sorted PIDs in the container.
	//
	// Errors:
	// NotFound - the container no longer exists
	// Internal - kernel I/O failure
	ListProcesses(policy ListPolicy) ([]int, error)

	// ListThreads returns the sorted TIDs in the container.
	//
	// Errors:
	// NotFound - the container no longer exists
	// Internal - kernel I/O failure
	ListThreads(policy ListPolicy) ([]int, error)

	// Enter moves the given TIDs into the container. The move is applied
	// id by id; a mid-way failure leaves earlier ids moved.
	//
	// Errors:
	// InvalidArgument - empty tid list
	// Internal - kernel rejected a move
	Enter(tids []int) error
}

// Factory hands out Handlers and resolves pid membership.
type Factory interface {
	// Get binds a Handler to the named container.
	//
	// Errors:
	// NotFound - no such container
	Get(name string) (Handler, error)

	// Exists reports whether the named container is known.
	Exists(name string) bool

	// Detect returns the name of the container whose task set contains
	// pid. pid 0 means the calling process.
	//
	// Errors:
	// NotFound - the pid is in no known container
	// Internal - kernel I/O failure
	Detect(pid int) (string, error)
}
