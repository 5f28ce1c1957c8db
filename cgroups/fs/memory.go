package fs

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"

	"github.com/mcontainer/libjail/cgroups"
	"github.com/mcontainer/libjail/specs"
	"github.com/mcontainer/libjail/status"
)

// -1 in a memory limit file means unlimited.
const memoryUnlimited = -1

type MemoryGroup struct{}

func (g *MemoryGroup) Set(dir string, spec *specs.MemorySpec, replace bool) error {
	if spec.Limit != nil {
		if err := writeFileInt(dir, "memory.limit_in_bytes", *spec.Limit); err != nil {
			return err
		}
	} else if replace {
		if err := writeFileInt(dir, "memory.limit_in_bytes", memoryUnlimited); err != nil {
			return err
		}
	}
	if spec.SwapLimit != nil {
		if err := writeFileInt(dir, "memory.memsw.limit_in_bytes", *spec.SwapLimit); err != nil {
			return err
		}
	} else if replace {
		if err := writeFileInt(dir, "memory.memsw.limit_in_bytes", memoryUnlimited); err != nil {
			return err
		}
	}
	if spec.Reservation != nil {
		if err := writeFileInt(dir, "memory.soft_limit_in_bytes", *spec.Reservation); err != nil {
			return err
		}
	} else if replace {
		if err := writeFileInt(dir, "memory.soft_limit_in_bytes", memoryUnlimited); err != nil {
			return err
		}
	}
	return nil
}

func (g *MemoryGroup) Spec(dir string) (*specs.MemorySpec, error) {
	limit, err := readFileUint(dir, "memory.limit_in_bytes")
	if err != nil {
		return nil, err
	}
	reservation, err := readFileUint(dir, "memory.soft_limit_in_bytes")
	if err != nil {
		return nil, err
	}

	spec := &specs.MemorySpec{}
	l, r := int64(limit), int64(reservation)
	spec.Limit = &l
	spec.Reservation = &r

	// memsw is only present with swap accounting enabled
	if swap, err := readFileUint(dir, "memory.memsw.limit_in_bytes"); err == nil {
		s := int64(swap)
		spec.SwapLimit = &s
	}
	return spec, nil
}

// GetStats fills the summary counters. full additionally parses memory.stat,
// which is the expensive part.
func (g *MemoryGroup) GetStats(dir string, stats *cgroups.MemoryStats, full bool) error {
	var err error
	if stats.Usage, err = readFileUint(dir, "memory.usage_in_bytes"); err != nil {
		return err
	}
	if stats.MaxUsage, err = readFileUint(dir, "memory.max_usage_in_bytes"); err != nil {
		return err
	}
	if stats.Failcnt, err = readFileUint(dir, "memory.failcnt"); err != nil {
		return err
	}
	if stats.Limit, err = readFileUint(dir, "memory.limit_in_bytes"); err != nil {
		return err
	}
	if !full {
		return nil
	}
	stats.Detail = make(map[string]uint64)
	return forEachStatLine(dir, "memory.stat", func(k string, v uint64) {
		stats.Detail[k] = v
	})
}

// RegisterEvent arms a cgroup event via eventfd and cgroup.event_control.
// target is the control file watched ("memory.oom_control" or
// "memory.usage_in_bytes"), args its threshold arguments. The returned
// channel receives once per event until stop is called.
func (g *MemoryGroup) RegisterEvent(dir, target, args string) (events <-chan struct{}, stop func(), err error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, nil, status.Errorf(codes.Internal, "eventfd: %v", err)
	}
	eventFile := os.NewFile(uintptr(efd), "eventfd")

	watched, err := os.Open(filepath.Join(dir, target))
	if err != nil {
		eventFile.Close()
		return nil, nil, status.Errorf(codes.Internal, "open %s: %v", target, err)
	}

	line := fmt.Sprintf("%d %d", efd, watched.Fd())
	if args != "" {
		line += " " + args
	}
	if err := writeFile(dir, "cgroup.event_control", line); err != nil {
		eventFile.Close()
		watched.Close()
		return nil, nil, err
	}

	ch := make(chan struct{})
	go func() {
		defer close(ch)
		buf := make([]byte, 8)
		for {
			if _, err := eventFile.Read(buf); err != nil {
				return
			}
			ch <- struct{}{}
		}
	}()

	stop = func() {
		eventFile.Close()
		watched.Close()
	}
	return ch, stop, nil
}
