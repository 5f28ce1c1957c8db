package tasks

import (
	"os"
	"path"
	"sort"
	"strings"

	"github.com/prometheus/procfs"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/cgroups/fs"
	"github.com/mcontainer/libjail/status"
)

// trackingSubsystem is the hierarchy whose membership defines "in the
// container" for listing and detection.
const trackingSubsystem = "cpu"

type cgroupFactory struct {
	root string
}

// NewFactory returns the default cgroupfs-backed Factory. root is the mount
// point of the tracking hierarchy; empty means discover it from mountinfo.
func NewFactory(root string) (Factory, error) {
	if root == "" {
		discovered, err := cgroups.FindMountpoint(trackingSubsystem)
		if err != nil {
			return nil, err
		}
		root = discovered
	}
	return &cgroupFactory{root: root}, nil
}

func (f *cgroupFactory) Get(name string) (Handler, error) {
	dir := cgroups.AbsPath(f.root, name)
	if _, err := os.Stat(dir); err != nil {
		return nil, status.Errorf(codes.NotFound, "container %q not found", name)
	}
	return &cgroupHandler{name: name, dir: dir}, nil
}

func (f *cgroupFactory) Exists(name string) bool {
	return cgroups.PathExists(f.root, name)
}

func (f *cgroupFactory) Detect(pid int) (string, error) {
	var (
		proc procfs.Proc
		err  error
	)
	if pid == 0 {
		proc, err = procfs.Self()
	} else {
		proc, err = procfs.NewProc(pid)
	}
	if err != nil {
		return "", status.Errorf(codes.NotFound, "process %d not found", pid)
	}

	groups, err := proc.Cgroups()
	if err != nil {
		return "", status.Errorf(codes.Internal, "read cgroup membership of %d: %v", pid, err)
	}
	for _, g := range groups {
		for _, controller := range g.Controllers {
			if controller == trackingSubsystem {
				return path.Clean("/" + strings.TrimPrefix(g.Path, "/")), nil
			}
		}
	}
	return "", status.Errorf(codes.NotFound, "process %d is in no known container", pid)
}

type cgroupHandler struct {
	name string
	dir  string
}

func (h *cgroupHandler) ListProcesses(policy ListPolicy) ([]int, error) {
	return h.list(policy, "cgroup.procs")
}

func (h *cgroupHandler) ListThreads(policy ListPolicy) ([]int, error) {
	return h.list(policy, "tasks")
}

func (h *cgroupHandler) list(policy ListPolicy, file string) ([]int, error) {
	if policy == ListSelf {
		return fs.ReadPids(h.dir, file)
	}

	var all []int
	err := fs.WalkChildren(h.dir, func(dir string) error {
		pids, err := fs.ReadPids(dir, file)
		if err != nil {
			// a subcontainer can vanish between walk and read
			if status.IsCode(err, codes.NotFound) && dir != h.dir {
				return nil
			}
			return err
		}
		all = append(all, pids...)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.Errorf(codes.NotFound, "container %q not found", h.name)
		}
		return nil, err
	}
	sort.Ints(all)
	return dedupe(all), nil
}

func (h *cgroupHandler) Enter(tids []int) error {
	if len(tids) == 0 {
		return status.Errorf(codes.InvalidArgument, "no tids to enter %q", h.name)
	}
	return fs.EnterPids(h.dir, "tasks", tids)
}

func dedupe(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || sorted[i-1] != v {
			out = append(out, v)
		}
	}
	return out
}
