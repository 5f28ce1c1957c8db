package namespaces

import (
	"runtime"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
	"github.com/mcontainer/libjail/subprocess"
	"github.com/mcontainer/libjail/system"
)

const (
	destroyPollInterval = 10 * time.Millisecond
	destroyTimeout      = 10 * time.Second
)

type linuxController struct {
	pid       int
	pidNsId   string
	enterArgs []string
	kernel    system.KernelApi
	log       *logrus.Entry
	destroyed bool
}

func (c *linuxController) Pid() int {
	return c.pid
}

func (c *linuxController) Handle() string {
	return encodeHandle(c.pid, c.pidNsId)
}

func (c *linuxController) Run(argv []string, spec *specs.RunSpec) (int, error) {
	if len(argv) == 0 {
		return 0, status.Errorf(codes.InvalidArgument, "empty command")
	}
	if !c.IsValid() {
		return 0, status.Errorf(codes.NotFound, "jail %d is gone", c.pid)
	}

	// the enter helper joins the jail's namespaces and execs argv in
	// place, so the spawned pid is the final process
	helper := append([]string{}, c.enterArgs...)
	helper = append(helper, strconv.Itoa(c.pid), "--")
	helper = append(helper, argv...)

	proc, err := subprocess.NewFactory().New(helper, spec)
	if err != nil {
		return 0, err
	}
	if err := proc.Start(); err != nil {
		return 0, err
	}
	c.log.WithField("child", proc.Pid()).Debug("spawned in jail")
	return proc.Pid(), nil
}

func (c *linuxController) Exec(argv []string) error {
	if len(argv) == 0 {
		return status.Errorf(codes.InvalidArgument, "empty command")
	}
	if !c.IsValid() {
		return status.Errorf(codes.NotFound, "jail %d is gone", c.pid)
	}
	return Enter(c.pid, argv, c.kernel)
}

// Enter joins every namespace of the target that differs from the caller's
// and execs argv in place. Exported for the jail-enter reexec entrypoint.
// On success it does not return.
func Enter(pid int, argv []string, kernel system.KernelApi) error {
	if len(argv) == 0 {
		return status.Errorf(codes.InvalidArgument, "empty command")
	}
	if kernel == nil {
		kernel = system.Default
	}

	// setns binds the calling thread
	runtime.LockOSThread()

	for _, ns := range allTypes {
		target, err := namespaceID(pid, ns)
		if err != nil {
			return status.Annotate(err, "enter jail %d", pid)
		}
		own, err := namespaceID(0, ns)
		if err != nil {
			return err
		}
		// joining a namespace we are already in is an error for the
		// user namespace and a no-op for the rest
		if target == own {
			continue
		}
		fd, err := system.NamespaceFd(pid, string(ns))
		if err != nil {
			return err
		}
		err = kernel.Setns(fd.Fd(), nsCloneFlag[ns])
		fd.Close()
		if err != nil {
			return status.Annotate(err, "join %s namespace of %d", ns, pid)
		}
	}
	return kernel.Execvp(argv[0], argv, nil)
}

func (c *linuxController) Update(spec *specs.NamespaceSpec) error {
	if spec == nil {
		return status.Errorf(codes.InvalidArgument, "nil namespace spec")
	}
	if !c.IsValid() {
		return status.Errorf(codes.NotFound, "jail %d is gone", c.pid)
	}
	// the namespace set is fixed at creation
	if spec.Pid != nil || spec.Ipc != nil || spec.Mnt != nil || spec.User != nil || spec.Fs != nil {
		return status.Errorf(codes.Unimplemented, "active namespaces cannot change after creation")
	}
	if spec.Net != nil {
		if err := moveInterfaces(spec.Net.Interfaces, c.pid); err != nil {
			return err
		}
	}
	return nil
}

func (c *linuxController) Destroy() error {
	if c.destroyed {
		return nil
	}
	if err := c.kernel.Kill(c.pid, unix.SIGKILL); err != nil && !status.IsCode(err, codes.NotFound) {
		return status.Annotate(err, "jail %d left in unknown state", c.pid)
	}

	// reap if init is our child; ECHILD means some other process owns it
	// and we fall back to polling for disappearance
	var ws unix.WaitStatus
	_, waitErr := unix.Wait4(c.pid, &ws, 0, nil)
	if waitErr != nil && waitErr != unix.ECHILD {
		c.log.WithError(waitErr).Warn("reaping jail init")
	}

	deadline := time.Now().Add(destroyTimeout)
	for c.kernel.ProcessExists(c.pid) {
		if time.Now().After(deadline) {
			return status.Errorf(codes.Internal,
				"jail init %d did not exit after SIGKILL, jail left in unknown state", c.pid)
		}
		time.Sleep(destroyPollInterval)
	}
	c.destroyed = true
	c.log.Debug("jail destroyed")
	return nil
}

func (c *linuxController) IsValid() bool {
	if c.destroyed {
		return false
	}
	if !c.kernel.ProcessExists(c.pid) {
		return false
	}
	// guard against pid reuse
	nsid, err := namespaceID(c.pid, TypePid)
	return err == nil && nsid == c.pidNsId
}
