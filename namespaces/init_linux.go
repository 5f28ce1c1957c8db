package namespaces

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
	"github.com/mcontainer/libjail/system"
)

// initConfig travels from Create to the reexeced jail init.
type initConfig struct {
	Spec     *specs.NamespaceSpec `json:"spec"`
	InitArgv []string             `json:"init_argv,omitempty"`
}

// Initialize is the jail-init entrypoint. It runs as PID 1 of the new
// namespaces: it finishes setup the parent cannot do from outside (mounts,
// rootfs) and then execs the configured init, or becomes the built-in
// reaping init. On success it does not return.
func Initialize() (err error) {
	pipe := &syncPipe{child: os.NewFile(3, "initpipe")}
	defer func() {
		// the parent is blocked on this pipe; a setup failure must
		// reach it before we die
		if err != nil {
			pipe.ReportChildError(err)
		}
	}()

	var config initConfig
	if err := pipe.ReadConfig(&config); err != nil {
		return err
	}
	spec := config.Spec
	if spec == nil {
		return status.Errorf(codes.InvalidArgument, "jail init received no spec")
	}

	if spec.Mnt != nil {
		if err := setupMounts(spec); err != nil {
			return err
		}
	}
	if spec.Fs != nil {
		if err := pivotRootfs(spec.Fs.Rootfs); err != nil {
			return err
		}
	}

	if len(config.InitArgv) > 0 {
		// exec closes the CLOEXEC pipe, which is the success signal
		return system.Default.Execvp(config.InitArgv[0], config.InitArgv, os.Environ())
	}

	pipe.CloseChild()
	runBuiltinInit()
	return nil
}

// setupMounts gives the new mount namespace a private view, a fresh /proc
// when pid isolation is on, and the configured bind mounts.
func setupMounts(spec *specs.NamespaceSpec) error {
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return status.Errorf(codes.Internal, "make / private: %v", err)
	}
	if spec.Pid != nil {
		root := "/"
		if spec.Fs != nil {
			root = spec.Fs.Rootfs
		}
		procDir := filepath.Join(root, "proc")
		if err := os.MkdirAll(procDir, 0755); err != nil {
			return status.Errorf(codes.Internal, "mkdir %s: %v", procDir, err)
		}
		if err := unix.Mount("proc", procDir, "proc", 0, ""); err != nil {
			return status.Errorf(codes.Internal, "mount proc: %v", err)
		}
	}
	for _, m := range spec.Mnt.Mounts {
		target := m.Target
		if spec.Fs != nil {
			target = filepath.Join(spec.Fs.Rootfs, m.Target)
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			return status.Errorf(codes.Internal, "mkdir %s: %v", target, err)
		}
		fstype := m.Type
		var flags uintptr
		if fstype == "" || fstype == "bind" {
			fstype = ""
			flags = unix.MS_BIND | unix.MS_REC
		}
		if err := unix.Mount(m.Source, target, fstype, flags, m.Data); err != nil {
			return status.Errorf(codes.Internal, "mount %s on %s: %v", m.Source, target, err)
		}
	}
	return nil
}

// pivotRootfs makes rootfs the root of the mount namespace and drops the
// old root.
func pivotRootfs(rootfs string) error {
	rootfs, err := filepath.Abs(rootfs)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "bad rootfs %q: %v", rootfs, err)
	}
	// pivot_root needs the new root to be a mount point
	if err := unix.Mount(rootfs, rootfs, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return status.Errorf(codes.Internal, "bind rootfs %q: %v", rootfs, err)
	}
	oldRoot := filepath.Join(rootfs, ".oldroot")
	if err := os.MkdirAll(oldRoot, 0700); err != nil {
		return status.Errorf(codes.Internal, "mkdir %s: %v", oldRoot, err)
	}
	if err := unix.PivotRoot(rootfs, oldRoot); err != nil {
		return status.Errorf(codes.Internal, "pivot_root into %q: %v", rootfs, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return status.Errorf(codes.Internal, "chdir /: %v", err)
	}
	if err := unix.Unmount("/.oldroot", unix.MNT_DETACH); err != nil {
		return status.Errorf(codes.Internal, "unmount old root: %v", err)
	}
	if err := os.Remove("/.oldroot"); err != nil && !os.IsNotExist(err) {
		return status.Errorf(codes.Internal, "remove old root: %v", err)
	}
	return nil
}

// runBuiltinInit is the default init of a virtual host: it reaps whatever
// children get reparented to it and otherwise sleeps. It never returns; the
// jail ends when this process is killed.
func runBuiltinInit() {
	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(-1, &ws, 0, nil)
		if err == unix.ECHILD {
			// nothing to reap until a signal or a new child arrives
			unix.Pause()
		}
	}
}
