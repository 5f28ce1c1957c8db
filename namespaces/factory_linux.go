package namespaces

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
	"github.com/mcontainer/libjail/system"
)

// initPipeEnv tells the reexeced jail init where its sync pipe fd is.
const initPipeEnv = "_LIBJAIL_INITPIPE=3"

type linuxFactory struct {
	// initArgs reexecs the embedding binary into the jail-init
	// entrypoint, which must call Initialize.
	initArgs []string

	// enterArgs reexecs into the jail-enter entrypoint, which must call
	// Enter with the pid and argv appended here.
	enterArgs []string

	kernel system.KernelApi
	log    *logrus.Entry
}

// New returns the clone-based Factory. initArgs and enterArgs are the
// reexec argv prefixes for the two entrypoints the embedding binary routes
// to Initialize and Enter; nil selects "/proc/self/exe jail-init" and
// "/proc/self/exe jail-enter".
func New(initArgs, enterArgs []string) Factory {
	if len(initArgs) == 0 {
		initArgs = []string{"/proc/self/exe", "jail-init"}
	}
	if len(enterArgs) == 0 {
		enterArgs = []string{"/proc/self/exe", "jail-enter"}
	}
	return &linuxFactory{
		initArgs:  initArgs,
		enterArgs: enterArgs,
		kernel:    system.Default,
		log:       logrus.WithField("subsystem", "namespaces"),
	}
}

func (f *linuxFactory) Create(spec *specs.NamespaceSpec, initArgv []string) (Controller, error) {
	if spec == nil || len(activeTypes(spec)) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "no namespace requested")
	}
	if spec.Fs != nil && spec.Mnt == nil {
		return nil, status.Errorf(codes.InvalidArgument, "fs isolation requires a mount namespace")
	}

	pipe, err := newSyncPipe()
	if err != nil {
		return nil, err
	}
	defer pipe.Close()

	cmd := exec.Command(f.initArgs[0], f.initArgs[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags(spec),
		Setsid:     true,
	}
	if spec.User != nil {
		applyIdMaps(cmd.SysProcAttr, spec.User)
	}
	if err := wireConsole(cmd, spec.Console); err != nil {
		return nil, err
	}
	cmd.ExtraFiles = []*os.File{pipe.child}
	cmd.Env = append(os.Environ(), initPipeEnv)

	if err := cmd.Start(); err != nil {
		return nil, status.Errorf(codes.Internal, "spawn jail init: %v", err)
	}
	pid := cmd.Process.Pid
	f.log.WithField("pid", pid).Debug("jail init spawned")

	// from here on nothing may leak: kill and reap the init on any
	// failure before returning
	fail := func(err error) (Controller, error) {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}

	pipe.CloseChild()
	if err := pipe.SendConfig(&initConfig{Spec: spec, InitArgv: initArgv}); err != nil {
		return fail(err)
	}

	// interface handover needs the init to exist but not to have finished
	// setup
	if spec.Net != nil {
		if err := moveInterfaces(spec.Net.Interfaces, pid); err != nil {
			return fail(err)
		}
	}

	if err := pipe.WaitForChild(); err != nil {
		return fail(err)
	}

	nsid, err := namespaceID(pid, TypePid)
	if err != nil {
		return fail(status.Annotate(err, "jail init died during setup"))
	}
	f.log.WithFields(logrus.Fields{"pid": pid, "pidns": nsid}).Debug("jail created")

	return f.newController(pid, nsid), nil
}

func (f *linuxFactory) Get(pid int) (Controller, error) {
	if pid <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "bad jail init pid %d", pid)
	}
	if !f.kernel.ProcessExists(pid) {
		return nil, status.Errorf(codes.NotFound, "process %d not found", pid)
	}
	nsid, err := namespaceID(pid, TypePid)
	if err != nil {
		return nil, err
	}

	// the system init is the root jail; everything else must sit on a pid
	// namespace boundary to count as a jail init
	if pid != 1 {
		parent, err := system.ParentPid(pid)
		if err != nil {
			return nil, err
		}
		parentNs, err := namespaceID(parent, TypePid)
		if err != nil {
			return nil, err
		}
		if parentNs == nsid {
			return nil, status.Errorf(codes.NotFound, "process %d is not a jail init", pid)
		}
	}
	return f.newController(pid, nsid), nil
}

func (f *linuxFactory) GetFromHandle(handle string) (Controller, error) {
	pid, wantNs, err := decodeHandle(handle)
	if err != nil {
		return nil, err
	}
	ctrl, err := f.Get(pid)
	if err != nil {
		return nil, err
	}
	if ctrl.Handle() != encodeHandle(pid, wantNs) {
		return nil, status.Errorf(codes.NotFound, "jail handle %q is stale, pid %d was reused", handle, pid)
	}
	return ctrl, nil
}

func (f *linuxFactory) NamespaceID(pid int, ns Type) (string, error) {
	return namespaceID(pid, ns)
}

func (f *linuxFactory) newController(pid int, pidNsId string) *linuxController {
	return &linuxController{
		pid:       pid,
		pidNsId:   pidNsId,
		enterArgs: f.enterArgs,
		kernel:    f.kernel,
		log:       f.log.WithField("pid", pid),
	}
}

func applyIdMaps(attr *syscall.SysProcAttr, user *specs.UserNamespaceSpec) {
	for _, m := range user.UidMap {
		attr.UidMappings = append(attr.UidMappings, syscall.SysProcIDMap{
			ContainerID: int(m.Inside), HostID: int(m.Outside), Size: int(m.Count),
		})
	}
	for _, m := range user.GidMap {
		attr.GidMappings = append(attr.GidMappings, syscall.SysProcIDMap{
			ContainerID: int(m.Inside), HostID: int(m.Outside), Size: int(m.Count),
		})
	}
	attr.GidMappingsEnableSetgroups = false
}

// wireConsole attaches the init's stdio to the configured pty slave, or to
// /dev/null when the jail has no console.
func wireConsole(cmd *exec.Cmd, console *specs.ConsoleSpec) error {
	if console != nil && console.SlavePty != nil {
		pty, err := os.OpenFile(*console.SlavePty, os.O_RDWR, 0)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "open console %q: %v", *console.SlavePty, err)
		}
		cmd.Stdin = pty
		cmd.Stdout = pty
		cmd.Stderr = pty
		return nil
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return status.Errorf(codes.Internal, "open %s: %v", os.DevNull, err)
	}
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	return nil
}

func moveInterfaces(names []string, pid int) error {
	for _, name := range names {
		link, err := netlink.LinkByName(name)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "no such interface %q: %v", name, err)
		}
		if err := netlink.LinkSetNsPid(link, pid); err != nil {
			return status.Errorf(codes.Internal, "move interface %q into %d: %v", name, pid, err)
		}
	}
	return nil
}
