// Package system wraps the raw process-control primitives the runtime needs.
// Everything is reachable through the KernelApi interface so callers can be
// tested without touching the kernel.
package system

import (
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/status"
)

// KernelApi is the set of kernel primitives used by the bare execution path.
type KernelApi interface {
	// Execvp replaces the current process image. On success it does not
	// return.
	Execvp(name string, argv []string, env []string) error

	// Setns joins the namespace behind the open file fd.
	Setns(fd uintptr, nstype int) error

	// Kill sends sig to pid.
	Kill(pid int, sig unix.Signal) error

	// SetITimerReal arms the real-time interval timer of the calling
	// process; zero disarms it.
	SetITimerReal(d time.Duration) error

	// ProcessExists reports whether pid is alive.
	ProcessExists(pid int) bool
}

// Default is the real kernel.
var Default KernelApi = &linuxKernel{}

type linuxKernel struct{}

func (k *linuxKernel) Execvp(name string, argv []string, env []string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "no such executable %q", name)
	}
	if err := unix.Exec(path, argv, env); err != nil {
		return status.Errorf(codes.Internal, "exec %q: %v", path, err)
	}
	return nil
}

func (k *linuxKernel) Setns(fd uintptr, nstype int) error {
	if err := unix.Setns(int(fd), nstype); err != nil {
		return status.Errorf(codes.Internal, "setns: %v", err)
	}
	return nil
}

func (k *linuxKernel) Kill(pid int, sig unix.Signal) error {
	if err := unix.Kill(pid, sig); err != nil {
		if err == unix.ESRCH {
			return status.Errorf(codes.NotFound, "process %d not found", pid)
		}
		return status.Errorf(codes.Internal, "kill %d: %v", pid, err)
	}
	return nil
}

func (k *linuxKernel) SetITimerReal(d time.Duration) error {
	it := unix.Itimerval{Value: unix.NsecToTimeval(d.Nanoseconds())}
	if _, err := unix.Setitimer(unix.ITIMER_REAL, it); err != nil {
		return status.Errorf(codes.Internal, "setitimer: %v", err)
	}
	return nil
}

func (k *linuxKernel) ProcessExists(pid int) bool {
	// signal 0 checks existence without delivering anything
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// NamespaceFd opens /proc/<pid>/ns/<name> for Setns.
func NamespaceFd(pid int, name string) (*os.File, error) {
	f, err := os.Open(NamespacePath(pid, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.Errorf(codes.NotFound, "process %d has no %s namespace", pid, name)
		}
		return nil, status.Errorf(codes.Internal, "open namespace of %d: %v", pid, err)
	}
	return f, nil
}

// NamespacePath is the proc path of one namespace file. pid 0 means self.
func NamespacePath(pid int, name string) string {
	if pid == 0 {
		return "/proc/self/ns/" + name
	}
	return "/proc/" + strconv.Itoa(pid) + "/ns/" + name
}

// ParentPid reads a process's parent out of its stat record.
//
// Errors:
// NotFound - the process is already gone
// Internal - malformed process metadata
func ParentPid(pid int) (int, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return 0, status.Errorf(codes.NotFound, "process %d is gone", pid)
	}
	stat, err := proc.Stat()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, status.Errorf(codes.NotFound, "process %d is gone", pid)
		}
		return 0, status.Errorf(codes.Internal, "read stat of %d: %v", pid, err)
	}
	return stat.PPID, nil
}
