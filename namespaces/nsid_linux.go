package namespaces

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
	"github.com/mcontainer/libjail/system"
)

// namespaceID stats /proc/<pid>/ns/<type> and renders device:inode. The
// pair survives PID reuse, which a bare inode would not on systems with
// several nsfs instances.
func namespaceID(pid int, ns Type) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(system.NamespacePath(pid, string(ns)), &st); err != nil {
		if err == unix.ENOENT || err == unix.ESRCH {
			return "", status.Errorf(codes.NotFound, "process %d is gone", pid)
		}
		return "", status.Errorf(codes.Internal, "stat %s namespace of %d: %v", ns, pid, err)
	}
	return fmt.Sprintf("%d:%d", st.Dev, st.Ino), nil
}

// Handles look like "pid=42;pidns=4:4026532197".
func encodeHandle(pid int, pidNsId string) string {
	return fmt.Sprintf("pid=%d;pidns=%s", pid, pidNsId)
}

func decodeHandle(handle string) (pid int, pidNsId string, err error) {
	parts := strings.Split(handle, ";")
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "pid=") || !strings.HasPrefix(parts[1], "pidns=") {
		return 0, "", status.Errorf(codes.InvalidArgument, "malformed jail handle %q", handle)
	}
	pid, err = strconv.Atoi(strings.TrimPrefix(parts[0], "pid="))
	if err != nil || pid <= 0 {
		return 0, "", status.Errorf(codes.InvalidArgument, "malformed jail handle %q", handle)
	}
	return pid, strings.TrimPrefix(parts[1], "pidns="), nil
}

// cloneFlags maps the requested namespace set onto clone(2) flags.
func cloneFlags(spec *specs.NamespaceSpec) uintptr {
	var flags uintptr
	if spec.Pid != nil {
		flags |= syscall.CLONE_NEWPID
	}
	if spec.Ipc != nil {
		flags |= syscall.CLONE_NEWIPC
	}
	if spec.Mnt != nil {
		flags |= syscall.CLONE_NEWNS
	}
	if spec.Net != nil {
		flags |= syscall.CLONE_NEWNET
	}
	if spec.User != nil {
		flags |= syscall.CLONE_NEWUSER
	}
	return flags
}

// activeTypes lists the kernel namespace kinds the spec requests, in the
// order they should be joined on entry (user first so the rest are joined
// with the mapped credentials).
func activeTypes(spec *specs.NamespaceSpec) []Type {
	var types []Type
	if spec.User != nil {
		types = append(types, TypeUser)
	}
	if spec.Ipc != nil {
		types = append(types, TypeIpc)
	}
	if spec.Mnt != nil {
		types = append(types, TypeMnt)
	}
	if spec.Net != nil {
		types = append(types, TypeNet)
	}
	if spec.Pid != nil {
		types = append(types, TypePid)
	}
	return types
}

// allTypes is the join order when entering an existing jail whose creation
// spec is unknown: every namespace kind that exists for the target.
var allTypes = []Type{TypeUser, TypeIpc, TypeMnt, TypeNet, TypePid}

var nsCloneFlag = map[Type]int{
	TypePid:  syscall.CLONE_NEWPID,
	TypeIpc:  syscall.CLONE_NEWIPC,
	TypeMnt:  syscall.CLONE_NEWNS,
	TypeNet:  syscall.CLONE_NEWNET,
	TypeUser: syscall.CLONE_NEWUSER,
}
